package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cast"
)

var eventsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// handleEvents streams NowPlaying to an overlay over websocket: a full
// state frame on every fused change, interleaved with ticks at the UI
// update interval so position animation stays smooth between changes.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	ws, err := eventsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Printf("upgrading events connection: %v", err)
		return
	}
	defer ws.Close()

	interval := time.Duration(cast.ToInt(s.settings.Get("ui.update_interval_ms", r.URL.Query()))) * time.Millisecond
	if interval <= 0 {
		interval = 200 * time.Millisecond
	}

	updates, unsubscribe := s.fuser.Subscribe()
	defer unsubscribe()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Reads are discarded; the socket is push-only. The read loop exists
	// to notice the peer going away.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	write := func(typ string, data any) bool {
		raw, err := json.Marshal(event{Type: typ, Data: data})
		if err != nil {
			return false
		}
		ws.SetWriteDeadline(time.Now().Add(5 * time.Second))
		return ws.WriteMessage(websocket.TextMessage, raw) == nil
	}

	for {
		select {
		case np, ok := <-updates:
			if !ok {
				return
			}
			if !write("state", np) {
				return
			}
		case <-ticker.C:
			if !write("tick", s.fuser.Current()) {
				return
			}
		case <-done:
			return
		case <-r.Context().Done():
			return
		}
	}
}
