package spotifysrc

import (
	"context"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"golang.org/x/oauth2"

	"github.com/lyrebird-fm/lyrebird/source"
)

func newTestSource(t *testing.T, handler http.Handler) *Source {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	tok := &oauth2.Token{AccessToken: "test-token"}
	return &Source{
		logger:    log.New(os.Stdout, "spotify: ", log.LstdFlags|log.Lmsgprefix),
		baseURL:   srv.URL,
		client:    srv.Client(),
		tokens:    oauth2.StaticTokenSource(tok),
		tokenPath: t.TempDir() + "/token.json",
	}
}

func TestNewKeepsTokenUnderDataRoot(t *testing.T) {
	dir := t.TempDir()
	s, err := New("id", "secret", "refresh", dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if want := dir + "/token.json"; s.tokenPath != want {
		t.Fatalf("tokenPath = %s, want %s", s.tokenPath, want)
	}
}

const playerStateBody = `{
	"is_playing": true,
	"progress_ms": 42000,
	"shuffle_state": true,
	"repeat_state": "track",
	"device": {"volume_percent": 80},
	"item": {
		"id": "track123",
		"name": "Song Title",
		"duration_ms": 180000,
		"artists": [{"name": "First Artist"}, {"name": "Second Artist"}],
		"album": {
			"name": "The Album",
			"images": [
				{"url": "http://img/64.jpg", "width": 64, "height": 64},
				{"url": "http://img/640.jpg", "width": 640, "height": 640}
			]
		}
	}
}`

func TestSnapshotParsesPlayerState(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/me/player", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(playerStateBody))
	})
	mux.HandleFunc("/me/tracks/contains", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[true]`))
	})
	s := newTestSource(t, mux)

	snap, err := s.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap == nil {
		t.Fatal("no snapshot")
	}
	if string(snap.TrackKey) != "svc:track123" {
		t.Errorf("track key = %s", snap.TrackKey)
	}
	if snap.Title != "Song Title" || snap.Artist != "First Artist" {
		t.Errorf("title/artist = %q/%q", snap.Title, snap.Artist)
	}
	if len(snap.Artists) != 2 {
		t.Errorf("artists = %v", snap.Artists)
	}
	if snap.AlbumArtURI != "http://img/640.jpg" {
		t.Errorf("art uri = %s, want the largest image", snap.AlbumArtURI)
	}
	if snap.PositionMs == nil || *snap.PositionMs != 42000 {
		t.Errorf("position = %v", snap.PositionMs)
	}
	if snap.DurationMs == nil || *snap.DurationMs != 180000 {
		t.Errorf("duration = %v", snap.DurationMs)
	}
	if snap.Liked == nil || !*snap.Liked {
		t.Errorf("liked = %v", snap.Liked)
	}
	if snap.Repeat == nil || *snap.Repeat != 2 {
		t.Errorf("repeat = %v", snap.Repeat)
	}
	if snap.Volume == nil || *snap.Volume != 80 {
		t.Errorf("volume = %v", snap.Volume)
	}
}

func TestSnapshotNoActiveDevice(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/me/player", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	s := newTestSource(t, mux)

	snap, err := s.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap != nil {
		t.Fatalf("snapshot = %+v, want nil for idle device", snap)
	}
}

func TestControlRoutesToPlayerEndpoints(t *testing.T) {
	var gotMethod, gotPath, gotQuery string
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		gotMethod, gotPath, gotQuery = r.Method, r.URL.Path, r.URL.RawQuery
		w.WriteHeader(http.StatusNoContent)
	})
	s := newTestSource(t, mux)

	tests := []struct {
		name       string
		cmd        source.Command
		wantMethod string
		wantPath   string
		wantQuery  string
	}{
		{"next", source.Command{Action: "skip_next"}, "POST", "/me/player/next", ""},
		{"seek", source.Command{Action: "seek", Ms: 95000}, "PUT", "/me/player/seek", "position_ms=95000"},
		{"volume", source.Command{Action: "set_volume", Level: 55}, "PUT", "/me/player/volume", "volume_percent=55"},
		{"shuffle", source.Command{Action: "set_shuffle", Flag: true}, "PUT", "/me/player/shuffle", "state=true"},
		{"repeat", source.Command{Action: "set_repeat", Mode: 1}, "PUT", "/me/player/repeat", "state=context"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if err := s.Control(context.Background(), tc.cmd); err != nil {
				t.Fatalf("control: %v", err)
			}
			if gotMethod != tc.wantMethod || gotPath != tc.wantPath || gotQuery != tc.wantQuery {
				t.Errorf("got %s %s?%s, want %s %s?%s",
					gotMethod, gotPath, gotQuery, tc.wantMethod, tc.wantPath, tc.wantQuery)
			}
		})
	}
}

func TestControlUnsupportedAction(t *testing.T) {
	s := newTestSource(t, http.NewServeMux())
	if err := s.Control(context.Background(), source.Command{Action: "frobnicate"}); err == nil {
		t.Fatal("expected error for unknown action")
	}
}

func TestQueueParsesUpcomingTracks(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/me/player/queue", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"queue": [
			{"name": "Next Song", "uri": "spotify:track:1", "artists": [{"name": "A"}]},
			{"name": "After That", "uri": "spotify:track:2", "artists": [{"name": "B"}]}
		]}`))
	})
	s := newTestSource(t, mux)

	items, err := s.Queue(context.Background())
	if err != nil {
		t.Fatalf("queue: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("got %d items, want 2", len(items))
	}
	if items[0].Title != "Next Song" || items[0].Artist != "A" {
		t.Errorf("first item = %+v", items[0])
	}
}
