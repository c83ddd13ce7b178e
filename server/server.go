// Package server is the HTTP gateway: the JSON surface the overlay UI
// polls, the control endpoints, the websocket feeds, and the image
// file serving.
package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/justinas/alice"
	"github.com/spf13/viper"
	"github.com/thejerf/suture/v4"

	"github.com/lyrebird-fm/lyrebird/art"
	"github.com/lyrebird-fm/lyrebird/bridge"
	"github.com/lyrebird-fm/lyrebird/fuser"
	"github.com/lyrebird-fm/lyrebird/lyrics"
	"github.com/lyrebird-fm/lyrebird/models"
	"github.com/lyrebird-fm/lyrebird/settings"
	"github.com/lyrebird-fm/lyrebird/source"
)

// Server wires every subsystem behind the HTTP mux.
type Server struct {
	logger   *log.Logger
	fuser    *fuser.Fuser
	registry *source.Registry
	lyrics   *lyrics.Resolver
	art      *art.Resolver
	settings *settings.Store
	hub      *bridge.Hub
	dataRoot string

	startedAt time.Time
	version   string
}

func New(f *fuser.Fuser, reg *source.Registry, lr *lyrics.Resolver, ar *art.Resolver,
	st *settings.Store, hub *bridge.Hub, dataRoot, version string) *Server {
	return &Server{
		logger:    log.New(os.Stdout, "server: ", log.LstdFlags|log.Lmsgprefix),
		fuser:     f,
		registry:  reg,
		lyrics:    lr,
		art:       ar,
		settings:  st,
		hub:       hub,
		dataRoot:  dataRoot,
		startedAt: time.Now(),
		version:   version,
	}
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /current-track", s.handleCurrentTrack)
	mux.HandleFunc("GET /lyrics", s.handleLyrics)
	mux.HandleFunc("GET /config", s.handleConfig)

	mux.HandleFunc("GET /api/settings", s.handleGetSetting)
	mux.HandleFunc("POST /api/settings", s.handleSetSetting)

	mux.HandleFunc("GET /api/providers/available", s.handleProvidersAvailable)
	mux.HandleFunc("POST /api/providers/preference", s.handleSetLyricsPreference)
	mux.HandleFunc("DELETE /api/providers/preference", s.handleClearLyricsPreference)

	mux.HandleFunc("GET /api/album-art/options", s.handleArtOptions)
	mux.HandleFunc("POST /api/album-art/preference", s.handleSetArtPreference)
	mux.HandleFunc("POST /api/album-art/background-style", s.handleSetBackgroundStyle)

	mux.HandleFunc("POST /api/playback/play-pause", s.handlePlayback(source.ActionTogglePlay))
	mux.HandleFunc("POST /api/playback/next", s.handlePlayback(source.ActionNext))
	mux.HandleFunc("POST /api/playback/previous", s.handlePlayback(source.ActionPrevious))
	mux.HandleFunc("POST /api/playback/liked", s.handleLiked)
	mux.HandleFunc("GET /api/playback/liked", s.handleGetLiked)
	mux.HandleFunc("GET /api/playback/queue", s.handleQueue)

	mux.HandleFunc("GET /api/slideshow/random-images", s.handleSlideshow)

	mux.HandleFunc("GET /cover-art", s.handleCoverArt)
	mux.Handle("GET /artist-images/", http.StripPrefix("/artist-images/",
		http.FileServer(http.Dir(filepath.Join(s.dataRoot, "images")))))

	mux.HandleFunc("GET /ws/spicetify", s.hub.ServeWS)
	mux.HandleFunc("GET /events", s.handleEvents)

	standard := alice.New(s.recoverPanic, s.logRequest, commonHeaders)
	return standard.Then(mux)
}

// ErrBind reports that a listen address could not be claimed. A held port
// is fatal for the whole process, never a restartable hiccup.
var ErrBind = errors.New("server: listen failed")

// Serve runs the HTTP listener, and an HTTPS one when a certificate pair
// sits under the data root. It blocks until ctx is cancelled. Listeners
// are claimed before serving so a held port surfaces as a terminal error
// instead of a restart loop.
func (s *Server) Serve(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%s", viper.GetString("server.host"), viper.GetString("server.port"))
	handler := s.routes()

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Join(fmt.Errorf("%w: %s: %v", ErrBind, addr, err), suture.ErrTerminateSupervisorTree)
	}

	srv := &http.Server{
		Handler:      handler,
		IdleTimeout:  time.Minute,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 0, // websocket endpoints hold their connections open
	}

	errc := make(chan error, 2)
	go func() {
		s.logger.Printf("listening on http://%s", addr)
		errc <- srv.Serve(ln)
	}()

	var tlsSrv *http.Server
	cert := filepath.Join(s.dataRoot, "cert.pem")
	key := filepath.Join(s.dataRoot, "key.pem")
	if fileExists(cert) && fileExists(key) {
		tlsAddr := fmt.Sprintf("%s:%s", viper.GetString("server.host"), viper.GetString("server.https_port"))
		tlsLn, err := net.Listen("tcp", tlsAddr)
		if err != nil {
			srv.Close()
			return errors.Join(fmt.Errorf("%w: %s: %v", ErrBind, tlsAddr, err), suture.ErrTerminateSupervisorTree)
		}
		tlsSrv = &http.Server{
			Handler:      handler,
			IdleTimeout:  time.Minute,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 0,
		}
		go func() {
			s.logger.Printf("listening on https://%s", tlsAddr)
			errc <- tlsSrv.ServeTLS(tlsLn, cert, key)
		}()
	}

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
		if tlsSrv != nil {
			tlsSrv.Shutdown(shutdownCtx)
		}
		return nil
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// serviceID extracts the streaming service's native track id from a
// NowPlaying, when the source knows one.
func serviceID(np models.NowPlaying) string {
	if id, ok := np.Provenance["track_id"]; ok {
		return id
	}
	if k := string(np.TrackKey); strings.HasPrefix(k, "svc:") {
		return strings.TrimPrefix(k, "svc:")
	}
	return ""
}

func lyricsQuery(np models.NowPlaying) lyrics.Query {
	return lyrics.Query{
		TrackKey:   np.TrackKey,
		Title:      np.Title,
		Artist:     np.Artist,
		Album:      np.Album,
		DurationMs: np.DurationMs,
		ServiceID:  serviceID(np),
	}
}

func artQuery(np models.NowPlaying) art.Query {
	return art.Query{
		TrackKey:     np.TrackKey,
		Title:        np.Title,
		Artist:       np.Artist,
		Album:        np.Album,
		SourceArtURI: np.AlbumArtURI,
	}
}
