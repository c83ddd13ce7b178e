package settings

import (
	"net/url"
	"os"
	"path/filepath"
	"testing"

	"github.com/lyrebird-fm/lyrebird/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Load(filepath.Join(t.TempDir(), "settings.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return s
}

func TestSetPersistsAcrossReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	s, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := s.Set("ui.blur_strength_px", float64(12)); err != nil {
		t.Fatalf("Set: %v", err)
	}

	reloaded, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got := reloaded.Get("ui.blur_strength_px", nil); got != float64(12) {
		t.Fatalf("got %v, want 12", got)
	}
}

func TestOverlayOrder(t *testing.T) {
	s := newTestStore(t)
	if err := s.Set("ui.overlay_opacity", 0.5); err != nil {
		t.Fatal(err)
	}

	// Stored value beats default.
	if got := s.Get("ui.overlay_opacity", nil); got != 0.5 {
		t.Fatalf("stored overlay: got %v", got)
	}

	// Query beats stored value for UI keys.
	q := url.Values{"overlay_opacity": []string{"0.9"}}
	if got := s.Get("ui.overlay_opacity", q); got != "0.9" {
		t.Fatalf("query overlay: got %v", got)
	}

	// Environment beats everything.
	t.Setenv("UI_OVERLAY_OPACITY", "0.1")
	if got := s.Get("ui.overlay_opacity", q); got != "0.1" {
		t.Fatalf("env overlay: got %v", got)
	}
}

func TestQueryOverlayOnlyForUIKeys(t *testing.T) {
	s := newTestStore(t)
	if err := s.Set("fuser.paused_timeout_ms", float64(10000)); err != nil {
		t.Fatal(err)
	}
	q := url.Values{"paused_timeout_ms": []string{"1"}}
	if got := s.Get("fuser.paused_timeout_ms", q); got != float64(10000) {
		t.Fatalf("non-UI key honored the query overlay: got %v", got)
	}
}

func TestPreferencesRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	s, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	key := models.TrackKey("eagles – hotel california")
	provider := models.ProviderID("lrclib")
	if err := s.UpdatePreferences(key, func(p *models.TrackPreferences) {
		p.PreferredLyricsProvider = &provider
		p.BackgroundStyle = models.BackgroundBlur
	}); err != nil {
		t.Fatalf("UpdatePreferences: %v", err)
	}

	reloaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	prefs := reloaded.Preferences(key)
	if prefs.PreferredLyricsProvider == nil || *prefs.PreferredLyricsProvider != provider {
		t.Fatalf("preferred provider lost: %+v", prefs)
	}
	if prefs.BackgroundStyle != models.BackgroundBlur {
		t.Fatalf("background style lost: %+v", prefs)
	}
}

func TestUpdatePreferencesRejectsEmptyKey(t *testing.T) {
	s := newTestStore(t)
	if err := s.UpdatePreferences("", func(p *models.TrackPreferences) {}); err == nil {
		t.Fatal("expected error for empty track key")
	}
}

func TestCorruptFileQuarantined(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.json")
	if err := os.WriteFile(path, []byte("{broken"), 0o644); err != nil {
		t.Fatal(err)
	}

	s, err := Load(path)
	if err != nil {
		t.Fatalf("Load over corrupt file: %v", err)
	}
	if _, err := os.Stat(path + ".corrupt"); err != nil {
		t.Fatalf("corrupt settings not quarantined: %v", err)
	}
	// Store is usable with defaults afterwards.
	if err := s.Set("ui.visual_mode", "karaoke"); err != nil {
		t.Fatalf("Set after quarantine: %v", err)
	}
}

func TestSubscribeNotifies(t *testing.T) {
	s := newTestStore(t)
	ch, unsubscribe := s.Subscribe()
	defer unsubscribe()
	if err := s.Set("ui.visual_mode", "plain"); err != nil {
		t.Fatal(err)
	}
	select {
	case <-ch:
	default:
		t.Fatal("no notification after Set")
	}
}

func TestUnsubscribeStopsNotifications(t *testing.T) {
	s := newTestStore(t)
	ch, unsubscribe := s.Subscribe()
	unsubscribe()
	if err := s.Set("ui.visual_mode", "plain"); err != nil {
		t.Fatal(err)
	}
	select {
	case <-ch:
		t.Fatal("notified after unsubscribe")
	default:
	}
	// Releasing twice is harmless.
	unsubscribe()
}

func TestGetHonorsDocumentedEnvName(t *testing.T) {
	s := newTestStore(t)
	t.Setenv("UPDATE_INTERVAL_MS", "125")
	if got := s.Get("ui.update_interval_ms", nil); got != "125" {
		t.Fatalf("Get = %v, want the UPDATE_INTERVAL_MS override", got)
	}
}
