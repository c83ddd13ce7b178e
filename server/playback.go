package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/lyrebird-fm/lyrebird/models"
	"github.com/lyrebird-fm/lyrebird/source"
)

var errNothingPlaying = errors.New("nothing is playing")

// handlePlayback builds a control handler for one fixed action, routed to
// whichever source currently owns playback.
func (s *Server) handlePlayback(action source.Action) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		np := s.fuser.Current()
		if np.IsIdle() {
			controlFailed(w, errNothingPlaying)
			return
		}
		if err := s.registry.Control(r.Context(), np.SourceID, source.Command{Action: action}); err != nil {
			controlFailed(w, err)
			return
		}
		controlOK(w)
	}
}

func (s *Server) handleLiked(w http.ResponseWriter, r *http.Request) {
	np := s.fuser.Current()
	if np.IsIdle() {
		controlFailed(w, errNothingPlaying)
		return
	}

	var body struct {
		Liked *bool `json:"liked"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Liked == nil {
		jsonResponse(w, http.StatusBadRequest, map[string]string{"error": "missing liked flag"})
		return
	}

	cmd := source.Command{Action: source.ActionSetHeart, Flag: *body.Liked, TrackID: serviceID(np)}
	if err := s.registry.Control(r.Context(), np.SourceID, cmd); err != nil {
		controlFailed(w, err)
		return
	}

	// Reflect the change immediately; the next poll confirms it.
	liked := *body.Liked
	s.fuser.Enrich(np.TrackKey, func(cur *models.NowPlaying) {
		cur.Liked = &liked
	})
	controlOK(w)
}

// handleGetLiked reports the current track's liked flag. Null when the
// source has not said either way.
func (s *Server) handleGetLiked(w http.ResponseWriter, r *http.Request) {
	np := s.fuser.Current()
	if np.IsIdle() {
		controlFailed(w, errNothingPlaying)
		return
	}
	jsonResponse(w, http.StatusOK, map[string]any{"liked": np.Liked})
}

func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	np := s.fuser.Current()
	if np.IsIdle() {
		jsonResponse(w, http.StatusOK, []source.QueueItem{})
		return
	}

	items, err := s.registry.Queue(r.Context(), np.SourceID)
	if err != nil {
		if errors.Is(err, source.ErrUnsupported) {
			jsonResponse(w, http.StatusOK, []source.QueueItem{})
			return
		}
		controlFailed(w, err)
		return
	}
	jsonResponse(w, http.StatusOK, items)
}
