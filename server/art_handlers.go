package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"

	"github.com/lyrebird-fm/lyrebird/art"
	"github.com/lyrebird-fm/lyrebird/models"
)

func (s *Server) handleArtOptions(w http.ResponseWriter, r *http.Request) {
	np := s.fuser.Current()
	if np.IsIdle() {
		jsonResponse(w, http.StatusOK, []art.Candidate{})
		return
	}
	jsonResponse(w, http.StatusOK, s.art.Options(r.Context(), artQuery(np)))
}

func (s *Server) handleSetArtPreference(w http.ResponseWriter, r *http.Request) {
	np := s.fuser.Current()
	if np.IsIdle() {
		controlFailed(w, errNothingPlaying)
		return
	}

	var body struct {
		Provider models.ProviderID `json:"provider"`
		URL      string            `json:"url,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Provider == "" {
		jsonResponse(w, http.StatusBadRequest, map[string]string{"error": "missing provider"})
		return
	}

	if err := s.settings.UpdatePreferences(np.TrackKey, func(p *models.TrackPreferences) {
		provider := body.Provider
		p.PreferredArtProvider = &provider
	}); err != nil {
		controlFailed(w, err)
		return
	}

	// An explicit choice is the one moment art is persisted to disk.
	q := artQuery(np)
	if c, ok := s.art.Current(r.Context(), q); ok && c.ProviderID == body.Provider {
		if body.URL != "" {
			c.URL = body.URL
		}
		if _, err := s.art.Persist(r.Context(), q, c); err != nil {
			s.logger.Printf("persisting chosen art: %v", err)
		}
	}
	s.art.Bump(np.TrackKey)

	artURL := fmt.Sprintf("/cover-art?v=%d", s.art.BustToken(np.TrackKey))
	s.fuser.Enrich(np.TrackKey, func(cur *models.NowPlaying) {
		cur.AlbumArtURL = artURL
	})
	jsonResponse(w, http.StatusOK, map[string]any{"success": true, "albumArtUrl": artURL})
}

func (s *Server) handleSetBackgroundStyle(w http.ResponseWriter, r *http.Request) {
	np := s.fuser.Current()
	if np.IsIdle() {
		controlFailed(w, errNothingPlaying)
		return
	}

	var body struct {
		Style models.BackgroundStyle `json:"style"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || !models.ValidBackgroundStyle(body.Style) {
		jsonResponse(w, http.StatusBadRequest, map[string]string{"error": "invalid style"})
		return
	}

	if err := s.settings.UpdatePreferences(np.TrackKey, func(p *models.TrackPreferences) {
		p.BackgroundStyle = body.Style
	}); err != nil {
		controlFailed(w, err)
		return
	}
	s.fuser.Enrich(np.TrackKey, func(cur *models.NowPlaying) {
		cur.BackgroundStyle = body.Style
	})
	controlOK(w)
}

// handleCoverArt serves the current track's art: persisted bytes when a
// choice was made, otherwise a redirect to the resolved remote URL.
func (s *Server) handleCoverArt(w http.ResponseWriter, r *http.Request) {
	np := s.fuser.Current()
	if np.IsIdle() {
		http.NotFound(w, r)
		return
	}

	if entry, ok := s.art.StoredArt(np.TrackKey); ok {
		w.Header().Set("Cache-Control", "public, max-age=86400")
		http.ServeFile(w, r, entry.StoredPath)
		return
	}

	c, ok := s.art.Current(r.Context(), artQuery(np))
	if !ok || c.URL == "" {
		http.NotFound(w, r)
		return
	}
	http.Redirect(w, r, c.URL, http.StatusFound)
}

func (s *Server) handleSlideshow(w http.ResponseWriter, r *http.Request) {
	n := 6
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 && v <= 50 {
			n = v
		}
	}

	entries, err := s.art.RandomImages(n)
	if err != nil {
		controlFailed(w, err)
		return
	}

	urls := make([]string, 0, len(entries))
	for _, e := range entries {
		urls = append(urls, "/artist-images/"+filepath.Base(e.StoredPath))
	}
	jsonResponse(w, http.StatusOK, map[string]any{"images": urls})
}
