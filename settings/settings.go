// Package settings owns the persistent process-wide configuration document:
// global scalar settings plus per-track preferences. One writer mutates the
// document; reads get copies. Overlay order for reads is environment >
// URL query (UI keys only) > stored value > code default.
package settings

import (
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"os"
	"strings"
	"sync"

	"github.com/google/renameio/v2"
	"github.com/spf13/viper"

	"github.com/lyrebird-fm/lyrebird/models"
)

// uiKeys are the dotted paths a browser may override per-request via query
// parameters. Everything else ignores the query overlay.
var uiKeys = map[string]bool{
	"ui.update_interval_ms": true,
	"ui.blur_strength_px":   true,
	"ui.overlay_opacity":    true,
	"ui.visual_mode":        true,
}

// envAliases are the documented variable names for keys whose derived
// name (dots to underscores) differs from the one users are told to set.
var envAliases = map[string]string{
	"ui.update_interval_ms":     "UPDATE_INTERVAL_MS",
	"ui.blur_strength_px":       "BLUR_STRENGTH_PX",
	"ui.overlay_opacity":        "OVERLAY_OPACITY",
	"fanarttv.api_key":          "FANART_TV_API_KEY",
	"musicassistant.url":        "MUSIC_ASSISTANT_URL",
	"musicassistant.latency_ms": "MUSIC_ASSISTANT_LATENCY_MS",
}

type document struct {
	Settings map[string]any                              `json:"settings"`
	Tracks   map[models.TrackKey]models.TrackPreferences `json:"tracks"`
}

// Store is the single settings document, loaded on start and rewritten
// atomically on every mutation.
type Store struct {
	path   string
	logger *log.Logger

	mu  sync.RWMutex
	doc document

	notifyMu sync.Mutex
	subs     []chan struct{}
}

// Load reads the settings document at path, quarantining a corrupt file and
// starting from defaults in that case.
func Load(path string) (*Store, error) {
	s := &Store{
		path:   path,
		logger: log.New(os.Stdout, "settings: ", log.LstdFlags|log.Lmsgprefix),
		doc: document{
			Settings: make(map[string]any),
			Tracks:   make(map[models.TrackKey]models.TrackPreferences),
		},
	}

	blob, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading settings: %w", err)
	}

	var doc document
	if err := json.Unmarshal(blob, &doc); err != nil {
		s.logger.Printf("settings file corrupt, quarantining: %v", err)
		if renameErr := os.Rename(path, path+".corrupt"); renameErr != nil {
			return nil, fmt.Errorf("quarantining corrupt settings: %w", renameErr)
		}
		return s, nil
	}
	if doc.Settings == nil {
		doc.Settings = make(map[string]any)
	}
	if doc.Tracks == nil {
		doc.Tracks = make(map[models.TrackKey]models.TrackPreferences)
	}
	s.doc = doc
	return s, nil
}

// Get resolves a dotted path with the full overlay: environment variables
// beat the query, the query (UI keys only) beats the stored document, and
// the stored document beats the viper default.
func (s *Store) Get(key string, query url.Values) any {
	if alias, ok := envAliases[key]; ok {
		if v, ok := os.LookupEnv(alias); ok {
			return v
		}
	}
	env := strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
	if v, ok := os.LookupEnv(env); ok {
		return v
	}
	if uiKeys[key] && query != nil {
		short := key[strings.LastIndex(key, ".")+1:]
		if v := query.Get(short); v != "" {
			return v
		}
	}
	s.mu.RLock()
	v, ok := s.doc.Settings[key]
	s.mu.RUnlock()
	if ok {
		return v
	}
	return viper.Get(key)
}

// Set stores a value at a dotted path and persists the document before
// returning.
func (s *Store) Set(key string, value any) error {
	s.mu.Lock()
	s.doc.Settings[key] = value
	err := s.persistLocked()
	s.mu.Unlock()
	if err != nil {
		return err
	}
	s.notify()
	return nil
}

// Preferences returns a copy of the per-track preferences for key.
func (s *Store) Preferences(key models.TrackKey) models.TrackPreferences {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doc.Tracks[key]
}

// UpdatePreferences mutates one track's preferences under the writer lock
// and persists before returning.
func (s *Store) UpdatePreferences(key models.TrackKey, mutate func(*models.TrackPreferences)) error {
	if key.IsZero() {
		return fmt.Errorf("no track to store preferences for")
	}
	s.mu.Lock()
	prefs := s.doc.Tracks[key]
	mutate(&prefs)
	s.doc.Tracks[key] = prefs
	err := s.persistLocked()
	s.mu.Unlock()
	if err != nil {
		return err
	}
	s.notify()
	return nil
}

// Subscribe returns a channel that receives a tick after every mutation,
// and a function releasing the subscription. Slow subscribers miss
// intermediate ticks, never block the writer.
func (s *Store) Subscribe() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	s.notifyMu.Lock()
	s.subs = append(s.subs, ch)
	s.notifyMu.Unlock()

	cancel := func() {
		s.notifyMu.Lock()
		defer s.notifyMu.Unlock()
		for i, c := range s.subs {
			if c == ch {
				s.subs = append(s.subs[:i], s.subs[i+1:]...)
				return
			}
		}
	}
	return ch, cancel
}

func (s *Store) notify() {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// persistLocked writes the document with write-temp-then-rename. Callers
// hold the writer lock; the marshalled copy means readers never see a
// half-written file.
func (s *Store) persistLocked() error {
	blob, err := json.MarshalIndent(s.doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding settings: %w", err)
	}
	if err := renameio.WriteFile(s.path, blob, 0o644); err != nil {
		return fmt.Errorf("writing settings: %w", err)
	}
	return nil
}
