package config

import (
	"testing"

	"github.com/spf13/viper"
)

func TestLoadBindsDocumentedEnvNames(t *testing.T) {
	t.Setenv("DATA_ROOT", t.TempDir())
	t.Setenv("FANART_TV_API_KEY", "fkey")
	t.Setenv("MUSIC_ASSISTANT_URL", "http://ma.local:8095")
	t.Setenv("MUSIC_ASSISTANT_LATENCY_MS", "150")
	t.Setenv("UPDATE_INTERVAL_MS", "100")

	if err := Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}

	if !FanartEnabled() {
		t.Error("FANART_TV_API_KEY did not enable the fanart provider")
	}
	if !MusicAssistantEnabled() {
		t.Error("MUSIC_ASSISTANT_URL did not enable the MA source")
	}
	if got := viper.GetInt64("musicassistant.latency_ms"); got != 150 {
		t.Errorf("latency_ms = %d, want 150", got)
	}
	if got := viper.GetInt("ui.update_interval_ms"); got != 100 {
		t.Errorf("update_interval_ms = %d, want 100", got)
	}
}

func TestLoadKeepsDerivedEnvNames(t *testing.T) {
	t.Setenv("DATA_ROOT", t.TempDir())
	t.Setenv("MUSICASSISTANT_URL", "http://ma.local:8095")

	if err := Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !MusicAssistantEnabled() {
		t.Error("derived MUSICASSISTANT_URL name no longer binds")
	}
}
