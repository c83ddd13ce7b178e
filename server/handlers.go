package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/lyrebird-fm/lyrebird/config"
	"github.com/lyrebird-fm/lyrebird/lyrics"
	"github.com/lyrebird-fm/lyrebird/models"
)

// jsonResponse returns a JSON response
func jsonResponse(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// controlResult is the uniform body of every control endpoint. Control
// failures are reported in the body, not as HTTP errors, so the overlay
// never has to branch on status codes.
type controlResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

func controlOK(w http.ResponseWriter) {
	jsonResponse(w, http.StatusOK, controlResult{Success: true})
}

func controlFailed(w http.ResponseWriter, err error) {
	jsonResponse(w, http.StatusOK, controlResult{Success: false, Error: err.Error()})
}

func (s *Server) handleCurrentTrack(w http.ResponseWriter, r *http.Request) {
	np := s.fuser.Current()
	if np.IsIdle() {
		jsonResponse(w, http.StatusOK, np)
		return
	}

	// The art URL carries a bust token so the browser re-fetches only
	// when the selection changes.
	if np.AlbumArtURL == "" {
		if c, ok := s.art.Current(r.Context(), artQuery(np)); ok {
			np.AlbumArtURL = c.URL
		}
	}
	jsonResponse(w, http.StatusOK, np)
}

// handleLyrics serves the current track's lyrics. It always answers 200
// with a document; resolution failures degrade to not_found so the
// overlay renders an empty state instead of an error page.
func (s *Server) handleLyrics(w http.ResponseWriter, r *http.Request) {
	np := s.fuser.Current()
	if np.IsIdle() {
		jsonResponse(w, http.StatusOK, lyricsView{Kind: models.LyricsNotFound})
		return
	}

	doc, alts, err := s.lyrics.Resolve(r.Context(), lyricsQuery(np))
	if err != nil {
		s.logger.Printf("resolving lyrics for %s: %v", np.TrackKey, err)
		jsonResponse(w, http.StatusOK, lyricsView{Kind: models.LyricsNotFound, TrackKey: np.TrackKey})
		return
	}

	jsonResponse(w, http.StatusOK, lyricsView{
		TrackKey:   np.TrackKey,
		Kind:       doc.Kind,
		Lines:      doc.Lines,
		Provider:   doc.ProviderID,
		Alternates: alts,
	})
}

// lyricsView is the /lyrics wire shape.
type lyricsView struct {
	TrackKey   models.TrackKey    `json:"trackKey,omitempty"`
	Kind       models.LyricsKind  `json:"kind"`
	Lines      []models.LyricLine `json:"lines,omitempty"`
	Provider   models.ProviderID  `json:"provider,omitempty"`
	Alternates []lyrics.Alternate `json:"alternates,omitempty"`
}

// handleConfig is the diagnostics surface: sources, providers, uptime,
// effective UI settings.
func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	np := s.fuser.Current()

	jsonResponse(w, http.StatusOK, map[string]any{
		"version":       s.version,
		"uptimeSeconds": int(time.Since(s.startedAt).Seconds()),
		"sources":       s.registry.Diagnostics(),
		"bridge": map[string]any{
			"connected": s.hub.Connected(),
		},
		"lyricsProviders": s.lyrics.Diagnostics(),
		"nowPlaying": map[string]any{
			"trackKey": np.TrackKey,
			"source":   np.SourceID,
			"idle":     np.IsIdle(),
		},
		"ui": map[string]any{
			"updateIntervalMs": s.settings.Get("ui.update_interval_ms", r.URL.Query()),
			"blurStrengthPx":   s.settings.Get("ui.blur_strength_px", r.URL.Query()),
			"overlayOpacity":   s.settings.Get("ui.overlay_opacity", r.URL.Query()),
			"visualMode":       s.settings.Get("ui.visual_mode", r.URL.Query()),
		},
		"dataRoot": s.dataRoot,
		"debug":    config.Debug(),
	})
}

func (s *Server) handleGetSetting(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("key")
	if key == "" {
		jsonResponse(w, http.StatusBadRequest, map[string]string{"error": "missing key"})
		return
	}
	jsonResponse(w, http.StatusOK, map[string]any{
		"key":   key,
		"value": s.settings.Get(key, r.URL.Query()),
	})
}

func (s *Server) handleSetSetting(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Key   string `json:"key"`
		Value any    `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Key == "" {
		jsonResponse(w, http.StatusBadRequest, map[string]string{"error": "bad request body"})
		return
	}
	if err := s.settings.Set(body.Key, body.Value); err != nil {
		controlFailed(w, err)
		return
	}
	controlOK(w)
}

func (s *Server) handleProvidersAvailable(w http.ResponseWriter, r *http.Request) {
	np := s.fuser.Current()
	if np.IsIdle() {
		jsonResponse(w, http.StatusOK, []lyrics.ProviderStatus{})
		return
	}

	current := models.ProviderID("")
	if np.Provider != nil {
		current = *np.Provider
	} else if doc, _, err := s.lyrics.Resolve(r.Context(), lyricsQuery(np)); err == nil {
		current = doc.ProviderID
	}
	jsonResponse(w, http.StatusOK, s.lyrics.Available(np.TrackKey, current))
}

func (s *Server) handleSetLyricsPreference(w http.ResponseWriter, r *http.Request) {
	np := s.fuser.Current()
	if np.IsIdle() {
		controlFailed(w, errNothingPlaying)
		return
	}

	var body struct {
		Provider models.ProviderID `json:"provider"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Provider == "" {
		jsonResponse(w, http.StatusBadRequest, map[string]string{"error": "missing provider"})
		return
	}

	if err := s.settings.UpdatePreferences(np.TrackKey, func(p *models.TrackPreferences) {
		provider := body.Provider
		p.PreferredLyricsProvider = &provider
		p.LastVerifiedAt = time.Now()
	}); err != nil {
		controlFailed(w, err)
		return
	}

	// Answer with the newly effective lyrics so the overlay can swap
	// without a second round trip.
	s.handleLyrics(w, r)
}

func (s *Server) handleClearLyricsPreference(w http.ResponseWriter, r *http.Request) {
	np := s.fuser.Current()
	if np.IsIdle() {
		controlFailed(w, errNothingPlaying)
		return
	}
	if err := s.settings.UpdatePreferences(np.TrackKey, func(p *models.TrackPreferences) {
		p.PreferredLyricsProvider = nil
	}); err != nil {
		controlFailed(w, err)
		return
	}
	controlOK(w)
}
