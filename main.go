package main

import (
	"errors"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/lyrebird-fm/lyrebird/art"
	"github.com/lyrebird-fm/lyrebird/bridge"
	"github.com/lyrebird-fm/lyrebird/config"
	"github.com/lyrebird-fm/lyrebird/db"
	"github.com/lyrebird-fm/lyrebird/fuser"
	"github.com/lyrebird-fm/lyrebird/lifecycle"
	"github.com/lyrebird-fm/lyrebird/lyrics"
	"github.com/lyrebird-fm/lyrebird/server"
	"github.com/lyrebird-fm/lyrebird/settings"
	"github.com/lyrebird-fm/lyrebird/source"
	"github.com/lyrebird-fm/lyrebird/source/musicassistant"
	"github.com/lyrebird-fm/lyrebird/source/spotifysrc"
)

const version = "1.0.0"

func main() {
	os.Exit(run())
}

func run() int {
	if err := config.Load(); err != nil {
		log.Printf("Error loading configuration: %v", err)
		return lifecycle.ExitFatal
	}
	dataRoot := config.DataRoot()

	database, err := db.New(filepath.Join(dataRoot, "lyrebird.db"))
	if err != nil {
		log.Printf("Error connecting to database: %v", err)
		return lifecycle.ExitFatal
	}
	defer database.Close()

	if err := database.Initialize(); err != nil {
		log.Printf("Error initializing database: %v", err)
		return lifecycle.ExitFatal
	}

	store, err := settings.Load(filepath.Join(dataRoot, "settings.json"))
	if err != nil {
		log.Printf("Error loading settings: %v", err)
		return lifecycle.ExitFatal
	}

	lyricsResolver, err := lyrics.NewResolver(dataRoot, store)
	if err != nil {
		log.Printf("Error building lyrics resolver: %v", err)
		return lifecycle.ExitFatal
	}

	artStore, err := art.NewStore(dataRoot, database)
	if err != nil {
		log.Printf("Error building art store: %v", err)
		return lifecycle.ExitFatal
	}
	artResolver, err := art.NewResolver(dataRoot, artStore, database, store)
	if err != nil {
		log.Printf("Error building art resolver: %v", err)
		return lifecycle.ExitFatal
	}

	registry := source.NewRegistry()
	hub := bridge.New(time.Duration(viper.GetInt("fuser.paused_timeout_ms")) * time.Millisecond)

	registerSources(registry, hub, dataRoot, lyricsResolver, artResolver)

	f := fuser.New(registry.Snapshots(), registry.Configs())
	enricher := lifecycle.NewEnricher(f, lyricsResolver, artResolver, store)
	maintenance := lifecycle.NewMaintenance(dataRoot, artStore)
	srv := server.New(f, registry, lyricsResolver, artResolver, store, hub, dataRoot, version)

	app, err := lifecycle.NewApp(dataRoot, registry, f, enricher, maintenance, srv)
	if err != nil {
		if errors.Is(err, lifecycle.ErrAlreadyRunning) {
			log.Printf("%v", err)
			return lifecycle.ExitAlreadyRunning
		}
		log.Printf("Error starting: %v", err)
		return lifecycle.ExitFatal
	}

	if err := app.Run(); err != nil {
		log.Printf("Fatal: %v", err)
		if errors.Is(err, server.ErrBind) {
			return lifecycle.ExitPortBind
		}
		return lifecycle.ExitFatal
	}
	return lifecycle.ExitOK
}

// registerSources wires every enabled playback source and the lyric and
// art providers that piggyback on their credentials.
func registerSources(registry *source.Registry, hub *bridge.Hub, dataRoot string,
	lyricsResolver *lyrics.Resolver, artResolver *art.Resolver) {

	pausedTimeout := time.Duration(viper.GetInt("fuser.paused_timeout_ms")) * time.Millisecond
	blocklist := viper.GetStringSlice("sources.blocklist")

	// The bridge is the most precise source when the desktop client runs
	// the extension, so it carries the highest priority.
	registry.Register(hub, source.Config{
		Priority:      30,
		PausedTimeout: pausedTimeout,
		PollInterval:  250 * time.Millisecond,
		Blocklist:     blocklist,
	})

	var spotifyToken lyrics.TokenFunc
	if config.SpotifyEnabled() {
		sp, err := spotifysrc.New(
			viper.GetString("spotify.client_id"),
			viper.GetString("spotify.client_secret"),
			viper.GetString("spotify.refresh_token"),
			dataRoot,
		)
		if err != nil {
			log.Printf("Warning: spotify source disabled: %v", err)
		} else {
			registry.Register(sp, source.Config{
				Priority:      20,
				PausedTimeout: pausedTimeout,
				PollInterval:  time.Second,
				Blocklist:     blocklist,
			})
			spotifyToken = sp.Token
		}
	}

	if config.MusicAssistantEnabled() {
		ma := musicassistant.New(
			viper.GetString("musicassistant.url"),
			viper.GetString("musicassistant.player_id"),
			viper.GetInt64("musicassistant.latency_ms"),
		)
		registry.Register(ma, source.Config{
			Priority:      10,
			PausedTimeout: 0, // sticky: Music Assistant players drop out between tracks
			PollInterval:  time.Second,
			Blocklist:     blocklist,
		})
	}

	// Lyrics providers, ordered by priority. LRCLIB needs no account and
	// serves most of the catalog.
	rate := viper.GetInt("lyrics.provider_rate")
	lyricsResolver.AddProvider(lyrics.NewLRCLibProvider(), 50, rate)
	if spotifyToken != nil {
		lyricsResolver.AddProvider(lyrics.NewSpotifyProvider(spotifyToken), 40, rate)
	}
	lyricsResolver.AddProvider(lyrics.NewNetEaseProvider(), 30, rate)
	lyricsResolver.AddProvider(lyrics.NewQQProvider(), 20, rate)
	lyricsResolver.AddProvider(lyrics.NewKugouProvider(), 10, rate)

	// Album art providers.
	artResolver.AddAlbumProvider(art.NewITunesProvider(), 30)
	artResolver.AddAlbumProvider(art.NewCoverArtProvider(), 20)
	if spotifyToken != nil {
		artResolver.AddAlbumProvider(art.NewSpotifyArtProvider(art.TokenFunc(spotifyToken)), 25)
	}
	if config.LastFMEnabled() {
		lfm := art.NewLastFMProvider(viper.GetString("lastfm.api_key"))
		artResolver.AddAlbumProvider(lfm, 10)
		artResolver.AddArtistProvider(lfm)
	}
	if config.FanartEnabled() {
		artResolver.AddArtistProvider(art.NewFanartProvider(viper.GetString("fanarttv.api_key")))
	}
}
