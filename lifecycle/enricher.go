package lifecycle

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/lyrebird-fm/lyrebird/art"
	"github.com/lyrebird-fm/lyrebird/fuser"
	"github.com/lyrebird-fm/lyrebird/lyrics"
	"github.com/lyrebird-fm/lyrebird/models"
	"github.com/lyrebird-fm/lyrebird/settings"
)

// Enricher watches the fused state and fills in everything the sources
// cannot know: lyrics availability, resolved art, artist images, and the
// per-track background style. It runs under the root supervisor.
type Enricher struct {
	logger *log.Logger
	fuser  *fuser.Fuser
	lyrics *lyrics.Resolver
	art    *art.Resolver
	prefs  *settings.Store
}

func NewEnricher(f *fuser.Fuser, lr *lyrics.Resolver, ar *art.Resolver, prefs *settings.Store) *Enricher {
	return &Enricher{
		logger: log.New(os.Stdout, "enricher: ", log.LstdFlags|log.Lmsgprefix),
		fuser:  f,
		lyrics: lr,
		art:    ar,
		prefs:  prefs,
	}
}

// Serve implements suture.Service.
func (e *Enricher) Serve(ctx context.Context) error {
	updates, unsubscribe := e.fuser.Subscribe()
	defer unsubscribe()
	var lastKey models.TrackKey

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case np, ok := <-updates:
			if !ok {
				return nil
			}
			if np.IsIdle() || np.TrackKey == lastKey {
				continue
			}
			lastKey = np.TrackKey
			go e.enrichTrack(np)
		}
	}
}

// enrichTrack runs the lyric and art pipelines for one track. The track
// context cancels the work the moment playback moves on.
func (e *Enricher) enrichTrack(np models.NowPlaying) {
	key, trackCtx := e.fuser.TrackContext()
	if key != np.TrackKey {
		return // already on the next track
	}

	prefs := e.prefs.Preferences(np.TrackKey)
	if prefs.BackgroundStyle != "" {
		e.fuser.Enrich(np.TrackKey, func(cur *models.NowPlaying) {
			cur.BackgroundStyle = prefs.BackgroundStyle
		})
	}

	e.enrichLyrics(trackCtx, np)
	e.enrichArt(trackCtx, np)
	e.enrichArtistImages(trackCtx, np)
}

func (e *Enricher) enrichLyrics(ctx context.Context, np models.NowPlaying) {
	doc, _, err := e.lyrics.Resolve(ctx, lyrics.Query{
		TrackKey:   np.TrackKey,
		Title:      np.Title,
		Artist:     np.Artist,
		Album:      np.Album,
		DurationMs: np.DurationMs,
		ServiceID:  serviceIDFrom(np),
	})
	if err != nil {
		e.logger.Printf("lyrics for %s: %v", np.TrackKey, err)
		return
	}

	hasLyrics := doc.Kind != models.LyricsNotFound && doc.Kind != models.LyricsInstrumental
	instrumental := doc.Kind == models.LyricsInstrumental
	provider := doc.ProviderID
	e.fuser.Enrich(np.TrackKey, func(cur *models.NowPlaying) {
		cur.HasLyrics = &hasLyrics
		cur.IsInstrumental = &instrumental
		if provider != "" {
			cur.Provider = &provider
		}
	})
}

func (e *Enricher) enrichArt(ctx context.Context, np models.NowPlaying) {
	q := art.Query{
		TrackKey:     np.TrackKey,
		Title:        np.Title,
		Artist:       np.Artist,
		Album:        np.Album,
		SourceArtURI: np.AlbumArtURI,
	}

	var url string
	if _, ok := e.art.StoredArt(np.TrackKey); ok {
		url = fmt.Sprintf("/cover-art?v=%d", e.art.BustToken(np.TrackKey))
	} else if c, ok := e.art.Current(ctx, q); ok {
		url = c.URL
	}
	if url == "" {
		return
	}
	e.fuser.Enrich(np.TrackKey, func(cur *models.NowPlaying) {
		cur.AlbumArtURL = url
	})
}

func (e *Enricher) enrichArtistImages(ctx context.Context, np models.NowPlaying) {
	if np.Artist == "" {
		return
	}
	entries, err := e.art.EnsureArtistImages(ctx, np.Artist)
	if err != nil {
		e.logger.Printf("artist images for %s: %v", np.Artist, err)
		return
	}
	if len(entries) == 0 {
		return
	}

	urls := make([]string, 0, len(entries))
	for _, entry := range entries {
		urls = append(urls, "/artist-images/"+filepath.Base(entry.StoredPath))
	}
	e.fuser.Enrich(np.TrackKey, func(cur *models.NowPlaying) {
		cur.ArtistImageURLs = urls
	})
}

func serviceIDFrom(np models.NowPlaying) string {
	if id, ok := np.Provenance["track_id"]; ok {
		return id
	}
	if k := string(np.TrackKey); len(k) > 4 && k[:4] == "svc:" {
		return k[4:]
	}
	return ""
}
