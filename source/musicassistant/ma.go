// Package musicassistant polls a Music Assistant server for one player's
// state. Positions are corrected by a configurable output latency so the
// lyric highlight lands on what the speakers are actually playing.
package musicassistant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/lyrebird-fm/lyrebird/metadata"
	"github.com/lyrebird-fm/lyrebird/models"
	"github.com/lyrebird-fm/lyrebird/source"
)

// SourceName identifies this source in the registry.
const SourceName = models.SourceID("musicassistant")

// Source reads one player from a Music Assistant server over its HTTP API.
type Source struct {
	logger    *log.Logger
	client    *http.Client
	baseURL   string
	playerID  string
	latencyMs int64
}

func New(baseURL, playerID string, latencyMs int64) *Source {
	return &Source{
		logger:    log.New(os.Stdout, "musicassistant: ", log.LstdFlags|log.Lmsgprefix),
		client:    &http.Client{Timeout: 10 * time.Second},
		baseURL:   strings.TrimRight(baseURL, "/"),
		playerID:  playerID,
		latencyMs: latencyMs,
	}
}

func (s *Source) Name() models.SourceID { return SourceName }

func (s *Source) Start(ctx context.Context) error { return nil }

func (s *Source) Stop() error { return nil }

type playerResponse struct {
	State       string   `json:"state"` // "playing", "paused", "idle"
	VolumeLevel *int     `json:"volume_level"`
	VolumeMuted bool     `json:"volume_muted"`
	Elapsed     *float64 `json:"elapsed_time"` // seconds
	ElapsedAt   *float64 `json:"elapsed_time_last_updated"`
	Media       *struct {
		URI      string   `json:"uri"`
		Title    string   `json:"title"`
		Artist   string   `json:"artist"`
		Album    string   `json:"album"`
		ImageURL string   `json:"image_url"`
		Duration *float64 `json:"duration"` // seconds
	} `json:"current_media"`
}

func (s *Source) Snapshot(ctx context.Context) (*models.PlaybackSnapshot, error) {
	endpoint := fmt.Sprintf("%s/api/players/%s", s.baseURL, url.PathEscape(s.playerID))
	req, err := http.NewRequestWithContext(ctx, "GET", endpoint, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching player: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("player status %d", resp.StatusCode)
	}

	var payload playerResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decoding player: %w", err)
	}
	if payload.Media == nil || payload.Media.Title == "" || payload.State == "idle" {
		return nil, nil
	}

	now := time.Now()
	playing := payload.State == "playing"

	var pos *int64
	if payload.Elapsed != nil {
		ms := int64(*payload.Elapsed * 1000)
		// elapsed_time is a snapshot from last_updated; advance it by the
		// wall clock while playing, then shift by the output latency.
		if playing && payload.ElapsedAt != nil {
			since := now.UnixMilli() - int64(*payload.ElapsedAt*1000)
			if since > 0 {
				ms += since
			}
		}
		ms -= s.latencyMs
		if ms < 0 {
			ms = 0
		}
		pos = &ms
	}

	var dur *int64
	if payload.Media.Duration != nil {
		d := int64(*payload.Media.Duration * 1000)
		dur = &d
		if pos != nil && *pos > d {
			pos = &d
		}
	}

	snap := &models.PlaybackSnapshot{
		SourceID:    SourceName,
		SampledAt:   now,
		TrackKey:    metadata.DeriveTrackKey("", payload.Media.Artist, payload.Media.Title),
		Title:       payload.Media.Title,
		Artist:      payload.Media.Artist,
		Artists:     []string{payload.Media.Artist},
		Album:       payload.Media.Album,
		AlbumArtURI: payload.Media.ImageURL,
		DurationMs:  dur,
		PositionMs:  pos,
		IsPlaying:   playing,
		Volume:      payload.VolumeLevel,
		Provenance:  map[string]string{"app_id": "musicassistant", "media_uri": payload.Media.URI},
	}
	return snap, nil
}

func (s *Source) Capabilities() []source.Capability {
	return []source.Capability{
		source.CapPlayPause, source.CapNext, source.CapPrevious,
		source.CapSeek, source.CapVolume,
	}
}

func (s *Source) Control(ctx context.Context, cmd source.Command) error {
	switch cmd.Action {
	case source.ActionPlay:
		return s.command(ctx, "play", nil)
	case source.ActionPause:
		return s.command(ctx, "pause", nil)
	case source.ActionTogglePlay:
		return s.command(ctx, "play_pause", nil)
	case source.ActionNext:
		return s.command(ctx, "next", nil)
	case source.ActionPrevious:
		return s.command(ctx, "previous", nil)
	case source.ActionSeek:
		return s.command(ctx, "seek", map[string]any{"position": cmd.Ms / 1000})
	case source.ActionSetVolume:
		return s.command(ctx, "volume_set", map[string]any{"volume_level": cmd.Level})
	default:
		return fmt.Errorf("musicassistant: unsupported action %q", cmd.Action)
	}
}

func (s *Source) command(ctx context.Context, name string, args map[string]any) error {
	endpoint := fmt.Sprintf("%s/api/players/%s/commands/%s", s.baseURL, url.PathEscape(s.playerID), name)

	var body io.Reader
	if args != nil {
		raw, err := json.Marshal(args)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, "POST", endpoint, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("command %s status %d", name, resp.StatusCode)
	}
	return nil
}
