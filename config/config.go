package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Load initializes the configuration with viper. Defaults first, then an
// optional config.yaml, then environment variables on top
// (SERVER_PORT -> server.port and so on).
func Load() error {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found or error loading it. Using default values and environment variables.")
	}

	viper.SetDefault("server.host", "127.0.0.1")
	viper.SetDefault("server.port", "9012")
	viper.SetDefault("server.https_port", "9013")

	viper.SetDefault("data.root", defaultDataRoot())

	viper.SetDefault("spotify.auth_url", "https://accounts.spotify.com/authorize")
	viper.SetDefault("spotify.token_url", "https://accounts.spotify.com/api/token")
	viper.SetDefault("spotify.redirect_uri", "http://127.0.0.1:9012/callback/spotify")
	viper.SetDefault("spotify.poll_interval_ms", 1000)

	viper.SetDefault("musicassistant.latency_ms", 0)
	viper.SetDefault("musicassistant.poll_interval_ms", 1000)

	// Fuser timings.
	viper.SetDefault("fuser.paused_timeout_ms", 10000)
	viper.SetDefault("fuser.tick_ms", 250)
	viper.SetDefault("fuser.republish_ms", 1000)

	// Provider deadlines and rate limits.
	viper.SetDefault("lyrics.deadline_ms", 8000)
	viper.SetDefault("lyrics.provider_rate", 5)
	viper.SetDefault("art.download_deadline_ms", 15000)
	viper.SetDefault("art.metadata_deadline_ms", 5000)

	// UI runtime hints surfaced on /config.
	viper.SetDefault("ui.update_interval_ms", 200)
	viper.SetDefault("ui.blur_strength_px", 24)
	viper.SetDefault("ui.overlay_opacity", 0.85)

	viper.SetDefault("log.level", "info")

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Documented variable names the key replacer cannot derive from the
	// dotted keys. The derived name stays bound as a fallback.
	for key, name := range map[string]string{
		"fanarttv.api_key":          "FANART_TV_API_KEY",
		"musicassistant.url":        "MUSIC_ASSISTANT_URL",
		"musicassistant.player_id":  "MUSIC_ASSISTANT_PLAYER_ID",
		"musicassistant.latency_ms": "MUSIC_ASSISTANT_LATENCY_MS",
		"ui.update_interval_ms":     "UPDATE_INTERVAL_MS",
		"ui.blur_strength_px":       "BLUR_STRENGTH_PX",
		"ui.overlay_opacity":        "OVERLAY_OPACITY",
	} {
		derived := strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		viper.BindEnv(key, name, derived)
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./config")
	viper.AddConfigPath(".")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
		log.Println("Config file not found, using default values and environment variables")
	} else {
		log.Println("Using config file:", viper.ConfigFileUsed())
	}

	if err := os.MkdirAll(viper.GetString("data.root"), 0o755); err != nil {
		return fmt.Errorf("creating data root: %w", err)
	}

	return nil
}

// SpotifyEnabled reports whether the streaming-service source and its
// lyrics/art providers can run at all. Validated at startup, not first use.
func SpotifyEnabled() bool {
	return viper.GetString("spotify.client_id") != "" &&
		viper.GetString("spotify.client_secret") != ""
}

// MusicAssistantEnabled reports whether the MA source is configured.
func MusicAssistantEnabled() bool {
	return viper.GetString("musicassistant.url") != ""
}

// FanartEnabled reports whether the fanart.tv artist-image provider has a key.
func FanartEnabled() bool {
	return viper.GetString("fanarttv.api_key") != ""
}

// LastFMEnabled reports whether the Last.fm artist-image provider has a key.
func LastFMEnabled() bool {
	return viper.GetString("lastfm.api_key") != ""
}

// DataRoot returns the on-disk root under which all state lives.
func DataRoot() string {
	return viper.GetString("data.root")
}

// Debug reports whether debug logging is enabled.
func Debug() bool {
	return strings.EqualFold(viper.GetString("log.level"), "debug")
}

func defaultDataRoot() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "./data"
	}
	return filepath.Join(dir, "lyrebird")
}
