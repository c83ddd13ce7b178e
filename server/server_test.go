package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/thejerf/suture/v4"

	"fmt"

	"github.com/lyrebird-fm/lyrebird/art"
	"github.com/lyrebird-fm/lyrebird/bridge"
	"github.com/lyrebird-fm/lyrebird/db"
	"github.com/lyrebird-fm/lyrebird/fuser"
	"github.com/lyrebird-fm/lyrebird/lyrics"
	"github.com/lyrebird-fm/lyrebird/models"
	"github.com/lyrebird-fm/lyrebird/settings"
	"github.com/lyrebird-fm/lyrebird/source"
)

type fakeSource struct {
	mu       sync.Mutex
	snap     *models.PlaybackSnapshot
	commands []source.Command
	ctrlErr  error
}

func (f *fakeSource) Name() models.SourceID             { return "fake" }
func (f *fakeSource) Start(ctx context.Context) error   { return nil }
func (f *fakeSource) Stop() error                       { return nil }
func (f *fakeSource) Capabilities() []source.Capability {
	return []source.Capability{source.CapPlayPause, source.CapNext, source.CapPrevious, source.CapLike}
}

func (f *fakeSource) Snapshot(ctx context.Context) (*models.PlaybackSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap, nil
}

func (f *fakeSource) Control(ctx context.Context, cmd source.Command) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ctrlErr != nil {
		return f.ctrlErr
	}
	f.commands = append(f.commands, cmd)
	return nil
}

type stubLyricsProvider struct {
	doc *models.LyricsDoc
	err error
}

func (p *stubLyricsProvider) ID() models.ProviderID { return "stub" }

func (p *stubLyricsProvider) Fetch(ctx context.Context, q lyrics.Query) (*models.LyricsDoc, error) {
	if p.err != nil {
		return nil, p.err
	}
	cp := *p.doc
	cp.ProviderID = "stub"
	return &cp, nil
}

type testEnv struct {
	srv      *httptest.Server
	api      *Server
	fakeSrc  *fakeSource
	registry *source.Registry
	fuser    *fuser.Fuser
	store    *settings.Store
	artStore *art.Store
}

func newTestEnv(t *testing.T, provider lyrics.Provider) *testEnv {
	t.Helper()
	dir := t.TempDir()

	database, err := db.New(filepath.Join(dir, "index.db"))
	if err != nil {
		t.Fatalf("opening db: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := database.Initialize(); err != nil {
		t.Fatalf("initializing db: %v", err)
	}

	store, err := settings.Load(filepath.Join(dir, "settings.json"))
	if err != nil {
		t.Fatalf("loading settings: %v", err)
	}

	lr, err := lyrics.NewResolver(dir, store)
	if err != nil {
		t.Fatalf("building lyrics resolver: %v", err)
	}
	if provider != nil {
		lr.AddProvider(provider, 1, 0)
	}

	artStore, err := art.NewStore(dir, database)
	if err != nil {
		t.Fatalf("building art store: %v", err)
	}
	ar, err := art.NewResolver(dir, artStore, database, store)
	if err != nil {
		t.Fatalf("building art resolver: %v", err)
	}

	registry := source.NewRegistry()
	fakeSrc := &fakeSource{}
	registry.Register(fakeSrc, source.Config{Priority: 10, PollInterval: 20 * time.Millisecond})

	f := fuser.New(registry.Snapshots(), registry.Configs())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go registry.Serve(ctx)
	go f.Serve(ctx)

	hub := bridge.New(0)
	s := New(f, registry, lr, ar, store, hub, dir, "test")
	srv := httptest.NewServer(s.routes())
	t.Cleanup(srv.Close)

	return &testEnv{srv: srv, api: s, fakeSrc: fakeSrc, registry: registry, fuser: f, store: store, artStore: artStore}
}

func (e *testEnv) play(t *testing.T, title string) {
	t.Helper()
	pos, dur := int64(10_000), int64(180_000)
	e.fakeSrc.mu.Lock()
	e.fakeSrc.snap = &models.PlaybackSnapshot{
		SourceID:   "fake",
		SampledAt:  time.Now(),
		TrackKey:   models.TrackKey("artist – " + title),
		Title:      title,
		Artist:     "artist",
		Album:      "album",
		DurationMs: &dur,
		PositionMs: &pos,
		IsPlaying:  true,
	}
	e.fakeSrc.mu.Unlock()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if np := e.fuser.Current(); !np.IsIdle() && np.Title == title {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("fuser never picked up %q", title)
}

func getJSON(t *testing.T, url string, out any) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decoding %s: %v", url, err)
		}
	}
	return resp
}

func postJSON(t *testing.T, url, body string, out any) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decoding %s: %v", url, err)
		}
	}
	return resp
}

func TestCurrentTrackIdle(t *testing.T) {
	env := newTestEnv(t, nil)

	var np models.NowPlaying
	resp := getJSON(t, env.srv.URL+"/current-track", &np)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if !np.IsIdle() {
		t.Fatalf("expected idle state, got %+v", np)
	}
}

func TestCurrentTrackPlaying(t *testing.T) {
	env := newTestEnv(t, nil)
	env.play(t, "song one")

	var np models.NowPlaying
	getJSON(t, env.srv.URL+"/current-track", &np)
	if np.Title != "song one" || !np.IsPlaying {
		t.Fatalf("now playing = %+v", np)
	}
}

func TestLyricsNeverHTTPError(t *testing.T) {
	env := newTestEnv(t, &stubLyricsProvider{err: errors.New("provider exploded")})
	env.play(t, "song one")

	var view struct {
		Kind models.LyricsKind `json:"kind"`
	}
	resp := getJSON(t, env.srv.URL+"/lyrics", &view)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, lyrics must never be an HTTP error", resp.StatusCode)
	}
	if view.Kind != models.LyricsNotFound {
		t.Fatalf("kind = %s, want not_found on failure", view.Kind)
	}
}

func TestLyricsServed(t *testing.T) {
	env := newTestEnv(t, &stubLyricsProvider{doc: &models.LyricsDoc{
		Kind:  models.LyricsSynced,
		Lines: []models.LyricLine{{TimeMs: 1000, Text: "hello"}},
	}})
	env.play(t, "song one")

	var view struct {
		Kind     models.LyricsKind  `json:"kind"`
		Lines    []models.LyricLine `json:"lines"`
		Provider models.ProviderID  `json:"provider"`
	}
	getJSON(t, env.srv.URL+"/lyrics", &view)
	if view.Kind != models.LyricsSynced || len(view.Lines) != 1 {
		t.Fatalf("lyrics view = %+v", view)
	}
	if view.Provider != "stub" {
		t.Errorf("provider = %s", view.Provider)
	}
}

func TestPlaybackControlDispatch(t *testing.T) {
	env := newTestEnv(t, nil)
	env.play(t, "song one")

	var res controlResult
	postJSON(t, env.srv.URL+"/api/playback/play-pause", "", &res)
	if !res.Success {
		t.Fatalf("control failed: %s", res.Error)
	}

	env.fakeSrc.mu.Lock()
	defer env.fakeSrc.mu.Unlock()
	if len(env.fakeSrc.commands) != 1 || env.fakeSrc.commands[0].Action != source.ActionTogglePlay {
		t.Fatalf("commands = %+v", env.fakeSrc.commands)
	}
}

func TestPlaybackControlIdleFailsInBody(t *testing.T) {
	env := newTestEnv(t, nil)

	var res controlResult
	resp := postJSON(t, env.srv.URL+"/api/playback/next", "", &res)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, control failures stay 200", resp.StatusCode)
	}
	if res.Success || res.Error == "" {
		t.Fatalf("result = %+v, want success=false with reason", res)
	}
}

func TestControlFailureReportedInBody(t *testing.T) {
	env := newTestEnv(t, nil)
	env.play(t, "song one")
	env.fakeSrc.mu.Lock()
	env.fakeSrc.ctrlErr = errors.New("device unreachable")
	env.fakeSrc.mu.Unlock()

	var res controlResult
	resp := postJSON(t, env.srv.URL+"/api/playback/next", "", &res)
	if resp.StatusCode != http.StatusOK || res.Success {
		t.Fatalf("status=%d result=%+v", resp.StatusCode, res)
	}
	if !strings.Contains(res.Error, "device unreachable") {
		t.Errorf("error = %q", res.Error)
	}
}

func TestProviderPreferenceRoundTrip(t *testing.T) {
	env := newTestEnv(t, &stubLyricsProvider{doc: &models.LyricsDoc{
		Kind:  models.LyricsSynced,
		Lines: []models.LyricLine{{TimeMs: 0, Text: "x"}},
	}})
	env.play(t, "song one")

	// Resolve once so the stub's document is cached.
	getJSON(t, env.srv.URL+"/lyrics", nil)

	var view struct {
		Kind     models.LyricsKind `json:"kind"`
		Provider models.ProviderID `json:"provider"`
	}
	resp := postJSON(t, env.srv.URL+"/api/providers/preference", `{"provider":"stub"}`, &view)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if view.Provider != "stub" {
		t.Fatalf("preference response = %+v, want the new lyrics", view)
	}

	// Setting the same preference twice is idempotent.
	resp = postJSON(t, env.srv.URL+"/api/providers/preference", `{"provider":"stub"}`, &view)
	if resp.StatusCode != http.StatusOK || view.Provider != "stub" {
		t.Fatalf("repeat preference: status=%d view=%+v", resp.StatusCode, view)
	}

	prefs := env.store.Preferences(env.fuser.Current().TrackKey)
	if prefs.PreferredLyricsProvider == nil || *prefs.PreferredLyricsProvider != "stub" {
		t.Fatalf("stored preference = %+v", prefs)
	}
}

func TestSettingsEndpoint(t *testing.T) {
	env := newTestEnv(t, nil)

	var res controlResult
	postJSON(t, env.srv.URL+"/api/settings", `{"key":"ui.visual_mode","value":"dark"}`, &res)
	if !res.Success {
		t.Fatalf("set failed: %s", res.Error)
	}

	var got struct {
		Value any `json:"value"`
	}
	getJSON(t, env.srv.URL+"/api/settings?key=ui.visual_mode", &got)
	if got.Value != "dark" {
		t.Fatalf("value = %v", got.Value)
	}
}

func TestConfigDiagnostics(t *testing.T) {
	env := newTestEnv(t, nil)
	env.play(t, "song one")

	var cfg map[string]any
	getJSON(t, env.srv.URL+"/config", &cfg)
	if cfg["version"] != "test" {
		t.Errorf("version = %v", cfg["version"])
	}
	if _, ok := cfg["sources"]; !ok {
		t.Error("config missing sources diagnostics")
	}
	npInfo, ok := cfg["nowPlaying"].(map[string]any)
	if !ok || npInfo["idle"] != false {
		t.Errorf("nowPlaying = %v", cfg["nowPlaying"])
	}
}

func TestLikedReadBack(t *testing.T) {
	env := newTestEnv(t, nil)
	env.play(t, "song one")

	var res controlResult
	postJSON(t, env.srv.URL+"/api/playback/liked", `{"liked":true}`, &res)
	if !res.Success {
		t.Fatalf("setting liked failed: %s", res.Error)
	}

	var got struct {
		Liked *bool `json:"liked"`
	}
	resp := getJSON(t, env.srv.URL+"/api/playback/liked", &got)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if got.Liked == nil || !*got.Liked {
		t.Fatalf("liked = %v, want true", got.Liked)
	}
}

func TestSlideshowHonorsLimit(t *testing.T) {
	env := newTestEnv(t, nil)
	for i, name := range []string{"a.png", "b.png", "c.png"} {
		st := art.Stored{Path: "/img/" + name, ContentHash: fmt.Sprintf("hash-%d", i), ResolutionPx: 100}
		if err := env.artStore.Index(db.KindArtistImage, st, "", "artist", "fanart"); err != nil {
			t.Fatalf("indexing image: %v", err)
		}
	}

	var out struct {
		Images []string `json:"images"`
	}
	getJSON(t, env.srv.URL+"/api/slideshow/random-images?limit=1", &out)
	if len(out.Images) != 1 {
		t.Fatalf("images = %v, want exactly 1 with limit=1", out.Images)
	}
}

func TestServeHeldPortIsTerminal(t *testing.T) {
	env := newTestEnv(t, nil)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("holding port: %v", err)
	}
	defer ln.Close()
	host, port, err := net.SplitHostPort(ln.Addr().String())
	if err != nil {
		t.Fatalf("splitting addr: %v", err)
	}
	viper.Set("server.host", host)
	viper.Set("server.port", port)
	t.Cleanup(func() {
		viper.Set("server.host", nil)
		viper.Set("server.port", nil)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err = env.api.Serve(ctx)
	if !errors.Is(err, ErrBind) {
		t.Fatalf("err = %v, want a bind failure", err)
	}
	if !errors.Is(err, suture.ErrTerminateSupervisorTree) {
		t.Errorf("err = %v, a held port must stop the whole tree instead of restarting", err)
	}
}

func TestQueueUnsupportedIsEmpty(t *testing.T) {
	env := newTestEnv(t, nil)
	env.play(t, "song one")

	var items []source.QueueItem
	resp := getJSON(t, env.srv.URL+"/api/playback/queue", &items)
	if resp.StatusCode != http.StatusOK || len(items) != 0 {
		t.Fatalf("status=%d items=%v", resp.StatusCode, items)
	}
}
