package musicassistant

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/lyrebird-fm/lyrebird/source"
)

func playerBody(state string, elapsed float64, updatedAt time.Time) string {
	return fmt.Sprintf(`{
		"state": %q,
		"volume_level": 40,
		"elapsed_time": %f,
		"elapsed_time_last_updated": %f,
		"current_media": {
			"uri": "library://track/9",
			"title": "Song",
			"artist": "Artist",
			"album": "Album",
			"image_url": "http://ma/art.jpg",
			"duration": 180
		}
	}`, state, elapsed, float64(updatedAt.UnixMilli())/1000)
}

func newTestSource(t *testing.T, handler http.Handler, latencyMs int64) *Source {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(srv.URL, "office", latencyMs)
}

func TestSnapshotAdvancesElapsedWhilePlaying(t *testing.T) {
	updated := time.Now().Add(-2 * time.Second)
	mux := http.NewServeMux()
	mux.HandleFunc("/api/players/office", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(playerBody("playing", 30, updated)))
	})
	s := newTestSource(t, mux, 0)

	snap, err := s.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap == nil {
		t.Fatal("no snapshot")
	}
	if snap.PositionMs == nil || *snap.PositionMs < 31_500 || *snap.PositionMs > 33_000 {
		t.Errorf("position = %v, want ~32000 (30s sample + 2s wall clock)", snap.PositionMs)
	}
	if !snap.IsPlaying {
		t.Error("not playing")
	}
	if snap.Provenance["app_id"] != "musicassistant" {
		t.Errorf("provenance = %v", snap.Provenance)
	}
}

func TestSnapshotAppliesLatencyOffset(t *testing.T) {
	updated := time.Now()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/players/office", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(playerBody("paused", 30, updated)))
	})
	s := newTestSource(t, mux, 1500)

	snap, err := s.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.PositionMs == nil || *snap.PositionMs != 28_500 {
		t.Errorf("position = %v, want 28500 after 1500ms latency shift", snap.PositionMs)
	}
}

func TestSnapshotIdlePlayerReportsNothing(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/players/office", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"state": "idle"}`))
	})
	s := newTestSource(t, mux, 0)

	snap, err := s.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap != nil {
		t.Fatalf("snapshot = %+v, want nil for idle player", snap)
	}
}

func TestControlPostsCommands(t *testing.T) {
	var gotPath string
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
	})
	s := newTestSource(t, mux, 0)

	if err := s.Control(context.Background(), source.Command{Action: source.ActionNext}); err != nil {
		t.Fatalf("control: %v", err)
	}
	if gotPath != "/api/players/office/commands/next" {
		t.Errorf("path = %s", gotPath)
	}

	if err := s.Control(context.Background(), source.Command{Action: source.ActionSetShuffle}); err == nil {
		t.Fatal("expected unsupported-action error")
	}
}
