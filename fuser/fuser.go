// Package fuser merges candidate snapshots from every source into the one
// authoritative NowPlaying. All selection runs on a single goroutine;
// subscribers get immutable copies over lossy latest-wins channels.
package fuser

import (
	"context"
	"log"
	"os"
	"sync"
	"time"

	"github.com/lyrebird-fm/lyrebird/models"
	"github.com/lyrebird-fm/lyrebird/source"
)

const (
	defaultPausedTimeout = 10 * time.Second
	defaultTick          = 250 * time.Millisecond
	defaultRepublish     = time.Second

	// positionEpsilonMs gates publication: position drift below this does
	// not count as an observable change on its own.
	positionEpsilonMs = 250
)

// Fuser owns the sole NowPlaying.
type Fuser struct {
	logger *log.Logger

	in      <-chan models.PlaybackSnapshot
	configs map[models.SourceID]source.Config

	tick      time.Duration
	republish time.Duration

	mu          sync.RWMutex
	candidates  map[models.SourceID]models.PlaybackSnapshot
	current     models.NowPlaying
	trackCtx    context.Context
	trackCancel context.CancelFunc

	subsMu sync.Mutex
	subs   []chan models.NowPlaying

	lastPublish time.Time
}

// New builds a fuser over the registry's snapshot channel. configs supplies
// per-source priority and paused-timeout overrides.
func New(in <-chan models.PlaybackSnapshot, configs map[models.SourceID]source.Config) *Fuser {
	ctx, cancel := context.WithCancel(context.Background())
	return &Fuser{
		logger:      log.New(os.Stdout, "fuser: ", log.LstdFlags|log.Lmsgprefix),
		in:          in,
		configs:     configs,
		tick:        defaultTick,
		republish:   defaultRepublish,
		candidates:  make(map[models.SourceID]models.PlaybackSnapshot),
		current:     models.Idle(time.Now()),
		trackCtx:    ctx,
		trackCancel: cancel,
	}
}

// Serve runs the selection loop until ctx is cancelled. Implements
// suture.Service.
func (f *Fuser) Serve(ctx context.Context) error {
	ticker := time.NewTicker(f.tick)
	defer ticker.Stop()
	defer f.trackCancel()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case snap := <-f.in:
			f.mu.Lock()
			f.candidates[snap.SourceID] = snap
			f.mu.Unlock()
			f.reevaluate(time.Now())
		case now := <-ticker.C:
			f.reevaluate(now)
		}
	}
}

// Current returns a copy of the latest published NowPlaying.
func (f *Fuser) Current() models.NowPlaying {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.current
}

// TrackContext returns the current track key and a context that is
// cancelled the moment the key changes. Per-track work (lyrics, art) hangs
// off this context so a track change cancels it promptly.
func (f *Fuser) TrackContext() (models.TrackKey, context.Context) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.current.TrackKey, f.trackCtx
}

// Subscribe returns a latest-wins channel of NowPlaying publications and a
// function releasing the subscription. A slow subscriber sees only the
// newest state, never a backlog.
func (f *Fuser) Subscribe() (<-chan models.NowPlaying, func()) {
	ch := make(chan models.NowPlaying, 1)
	f.subsMu.Lock()
	f.subs = append(f.subs, ch)
	f.subsMu.Unlock()

	// Late subscribers start from the current state.
	ch <- f.Current()

	cancel := func() {
		f.subsMu.Lock()
		defer f.subsMu.Unlock()
		for i, c := range f.subs {
			if c == ch {
				f.subs = append(f.subs[:i], f.subs[i+1:]...)
				return
			}
		}
	}
	return ch, cancel
}

func (f *Fuser) reevaluate(now time.Time) {
	f.mu.Lock()

	f.pruneLocked(now)
	next := f.selectLocked(now)

	keyChanged := next.TrackKey != f.current.TrackKey
	changed := keyChanged || observableChange(f.current, next)
	due := now.Sub(f.lastPublish) >= f.republish

	if !changed && !due {
		f.mu.Unlock()
		return
	}

	// Carry enrichment forward while the track stays the same; it belongs
	// to the key, not to the publication.
	if !keyChanged {
		next.AlbumArtURL = f.current.AlbumArtURL
		next.ArtistImageURLs = f.current.ArtistImageURLs
		next.BackgroundStyle = f.current.BackgroundStyle
		next.IsInstrumental = f.current.IsInstrumental
		next.HasLyrics = f.current.HasLyrics
		next.Provider = f.current.Provider
		// An optimistic liked flag holds until the source states one.
		if next.Liked == nil {
			next.Liked = f.current.Liked
		}
	}

	f.current = next
	f.lastPublish = now

	if keyChanged {
		f.trackCancel()
		f.trackCtx, f.trackCancel = context.WithCancel(context.Background())
	}
	f.mu.Unlock()

	f.broadcast(next)
}

// Enrich merges lyric/art results into the current state, but only when the
// result still belongs to the current track. A stale key is a no-op so a
// cancelled fetch can never corrupt the new track's state.
func (f *Fuser) Enrich(key models.TrackKey, apply func(*models.NowPlaying)) bool {
	f.mu.Lock()
	if f.current.TrackKey != key {
		f.mu.Unlock()
		return false
	}
	apply(&f.current)
	f.current.UpdatedAt = time.Now()
	np := f.current
	f.mu.Unlock()

	f.broadcast(np)
	return true
}

func (f *Fuser) pruneLocked(now time.Time) {
	for id, snap := range f.candidates {
		timeout := defaultPausedTimeout
		if cfg, ok := f.configs[id]; ok {
			timeout = cfg.PausedTimeout
			if timeout == 0 {
				// Sticky source: reports persist until replaced.
				continue
			}
		}
		if snap.Age(now) > timeout {
			delete(f.candidates, id)
		}
	}
}

func (f *Fuser) selectLocked(now time.Time) models.NowPlaying {
	var winner *models.PlaybackSnapshot
	for id := range f.candidates {
		snap := f.candidates[id]
		if winner == nil || f.beats(snap, *winner) {
			w := snap
			winner = &w
		}
	}
	if winner == nil {
		return models.Idle(now)
	}

	next := models.FromSnapshot(*winner, now)
	f.enrichFromLosersLocked(&next, *winner)
	return next
}

// beats reports whether a should win over b: playing beats paused, then
// higher priority, then the most recent sample.
func (f *Fuser) beats(a, b models.PlaybackSnapshot) bool {
	if a.IsPlaying != b.IsPlaying {
		return a.IsPlaying
	}
	pa, pb := f.priority(a.SourceID), f.priority(b.SourceID)
	if pa != pb {
		return pa > pb
	}
	return a.SampledAt.After(b.SampledAt)
}

func (f *Fuser) priority(id models.SourceID) int {
	if cfg, ok := f.configs[id]; ok {
		return cfg.Priority
	}
	return 0
}

// enrichFromLosersLocked performs hybrid enrichment: a non-winning
// candidate reporting the same track may carry richer metadata. Position
// and the playing flag stay the winner's.
func (f *Fuser) enrichFromLosersLocked(next *models.NowPlaying, winner models.PlaybackSnapshot) {
	for id, other := range f.candidates {
		if id == winner.SourceID || other.TrackKey != winner.TrackKey {
			continue
		}
		if next.AlbumArtURI == "" && other.AlbumArtURI != "" {
			next.AlbumArtURI = other.AlbumArtURI
		}
		if next.Album == "" && other.Album != "" {
			next.Album = other.Album
		}
		if len(next.Artists) == 0 && len(other.Artists) > 0 {
			next.Artists = other.Artists
		}
		if next.DurationMs == nil && other.DurationMs != nil {
			next.DurationMs = other.DurationMs
		} else if next.DurationMs != nil && other.DurationMs != nil && *next.DurationMs != *other.DurationMs {
			// First non-null duration wins; divergence is logged, not guessed at.
			f.logger.Printf("duration divergence for %s: %s says %d, %s says %d",
				winner.TrackKey, winner.SourceID, *next.DurationMs, id, *other.DurationMs)
		}
		if next.Liked == nil && other.Liked != nil {
			next.Liked = other.Liked
		}
		for k, v := range other.Provenance {
			if next.Provenance == nil {
				next.Provenance = map[string]string{}
			}
			if _, exists := next.Provenance[k]; !exists {
				next.Provenance[k] = v
			}
		}
	}
}

func (f *Fuser) broadcast(np models.NowPlaying) {
	f.subsMu.Lock()
	defer f.subsMu.Unlock()
	for _, ch := range f.subs {
		select {
		case ch <- np:
		default:
			// Slow subscriber: replace the stale state with the newest.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- np:
			default:
			}
		}
	}
}

func observableChange(a, b models.NowPlaying) bool {
	if a.SourceID != b.SourceID || a.IsPlaying != b.IsPlaying ||
		a.Title != b.Title || a.Artist != b.Artist || a.Album != b.Album {
		return true
	}
	if !int64PtrEq(a.DurationMs, b.DurationMs) {
		return true
	}
	if !boolPtrEq(a.Liked, b.Liked) || !boolPtrEq(a.Shuffle, b.Shuffle) {
		return true
	}
	if !intPtrEq(a.Repeat, b.Repeat) || !intPtrEq(a.Volume, b.Volume) {
		return true
	}
	switch {
	case a.PositionMs == nil && b.PositionMs == nil:
	case a.PositionMs == nil || b.PositionMs == nil:
		return true
	default:
		delta := *a.PositionMs - *b.PositionMs
		if delta < 0 {
			delta = -delta
		}
		if delta > positionEpsilonMs {
			return true
		}
	}
	return false
}

func int64PtrEq(a, b *int64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func boolPtrEq(a, b *bool) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func intPtrEq(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
