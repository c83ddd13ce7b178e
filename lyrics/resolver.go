package lyrics

import (
	"context"
	"errors"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/lyrebird-fm/lyrebird/cache"
	"github.com/lyrebird-fm/lyrebird/models"
	"github.com/lyrebird-fm/lyrebird/settings"
)

const (
	defaultDeadline = 8 * time.Second
	notFoundTTL     = 24 * time.Hour
)

// ErrAllFailed is returned only when every provider errored; a single
// provider failing is a diagnostic, not a resolution failure.
var ErrAllFailed = errors.New("lyrics: all providers failed")

// Alternate is a cached non-winning document offered for manual selection.
type Alternate struct {
	ProviderID models.ProviderID `json:"provider"`
	Kind       models.LyricsKind `json:"kind"`
}

// ProviderStatus is one row of /api/providers/available.
type ProviderStatus struct {
	ProviderID models.ProviderID `json:"provider"`
	Priority   int               `json:"priority"`
	Cached     bool              `json:"cached"`
	IsCurrent  bool              `json:"isCurrent"`
}

// Resolver races the configured providers for a track and caches every
// non-error reply so the user can switch providers without re-fetching.
type Resolver struct {
	logger    *log.Logger
	providers []registered
	store     *cache.Cache[models.LyricsDoc]
	prefs     *settings.Store
	deadline  time.Duration

	diagMu      sync.Mutex
	diagnostics map[models.ProviderID]string
}

// NewResolver builds a resolver persisting under dataRoot/lyrics.
func NewResolver(dataRoot string, prefs *settings.Store) (*Resolver, error) {
	r := &Resolver{
		logger:      log.New(os.Stdout, "lyrics: ", log.LstdFlags|log.Lmsgprefix),
		prefs:       prefs,
		deadline:    defaultDeadline,
		diagnostics: make(map[models.ProviderID]string),
	}

	store, err := cache.New[models.LyricsDoc](
		cache.JSONCodec[models.LyricsDoc]{},
		cache.Options[models.LyricsDoc]{
			Dir: filepath.Join(dataRoot, "lyrics"),
			TTLFor: func(d models.LyricsDoc) time.Duration {
				if d.Kind == models.LyricsNotFound {
					return notFoundTTL
				}
				return 0
			},
		},
	)
	if err != nil {
		return nil, err
	}
	r.store = store
	return r, nil
}

// AddProvider registers a provider with its priority and rate limit.
func (r *Resolver) AddProvider(p Provider, priority, perSecond int) {
	r.providers = append(r.providers, newRegistered(p, priority, perSecond))
}

func winnerCacheKey(key models.TrackKey) string {
	return string(key)
}

func providerCacheKey(key models.TrackKey, p models.ProviderID) string {
	return string(key) + "|" + string(p)
}

// Resolve returns the best lyrics for the query, plus up to two cached
// alternates for the manual-selection UI. Concurrent callers for the same
// track share one provider race.
func (r *Resolver) Resolve(ctx context.Context, q Query) (models.LyricsDoc, []Alternate, error) {
	// User override wins unconditionally when its document is cached.
	prefs := r.prefs.Preferences(q.TrackKey)
	if p := prefs.PreferredLyricsProvider; p != nil {
		if doc, err := r.store.Get(providerCacheKey(q.TrackKey, *p)); err == nil && doc.Kind != models.LyricsNotFound {
			return doc, r.alternates(q.TrackKey, *p), nil
		}
	}

	if doc, err := r.store.Get(winnerCacheKey(q.TrackKey)); err == nil {
		return doc, r.alternates(q.TrackKey, doc.ProviderID), nil
	}

	// The closure carries the query into the single-flight fetch, which may
	// outlive this call if the caller cancels.
	doc, err := r.store.GetOrFetch(ctx, winnerCacheKey(q.TrackKey),
		func(ctx context.Context, _ string) (models.LyricsDoc, error) {
			return r.race(ctx, q)
		})
	if err != nil {
		return models.LyricsDoc{}, nil, err
	}
	return doc, r.alternates(q.TrackKey, doc.ProviderID), nil
}

// CachedFor returns the cached document from one specific provider.
func (r *Resolver) CachedFor(key models.TrackKey, p models.ProviderID) (models.LyricsDoc, error) {
	return r.store.Get(providerCacheKey(key, p))
}

// Available lists every configured provider with its cache state for the
// current track. current marks the provider whose document is being served.
func (r *Resolver) Available(key models.TrackKey, current models.ProviderID) []ProviderStatus {
	out := make([]ProviderStatus, 0, len(r.providers))
	for _, reg := range r.providers {
		id := reg.provider.ID()
		_, err := r.store.Get(providerCacheKey(key, id))
		out = append(out, ProviderStatus{
			ProviderID: id,
			Priority:   reg.priority,
			Cached:     err == nil,
			IsCurrent:  id == current,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority > out[j].Priority })
	return out
}

// Diagnostics reports the last error per provider for the /config surface.
func (r *Resolver) Diagnostics() map[models.ProviderID]string {
	r.diagMu.Lock()
	defer r.diagMu.Unlock()
	out := make(map[models.ProviderID]string, len(r.diagnostics))
	for k, v := range r.diagnostics {
		out[k] = v
	}
	return out
}

func (r *Resolver) alternates(key models.TrackKey, current models.ProviderID) []Alternate {
	var out []Alternate
	for _, reg := range r.providers {
		id := reg.provider.ID()
		if id == current {
			continue
		}
		doc, err := r.store.Get(providerCacheKey(key, id))
		if err != nil || doc.Kind == models.LyricsNotFound {
			continue
		}
		out = append(out, Alternate{ProviderID: id, Kind: doc.Kind})
		if len(out) == 2 {
			break
		}
	}
	return out
}

type reply struct {
	doc     models.LyricsDoc
	reg     registered
	arrival int
}

// race is the single-flight fetch body: it races every provider and returns
// the winner. Side replies are cached under their provider keys as they
// arrive.
func (r *Resolver) race(ctx context.Context, q Query) (models.LyricsDoc, error) {
	ctx, cancel := context.WithTimeout(ctx, r.deadline)
	defer cancel()

	var (
		mu      sync.Mutex
		replies []reply
		errs    int
		seq     int
	)

	var wg sync.WaitGroup
	for _, reg := range r.providers {
		wg.Add(1)
		go func(reg registered) {
			defer wg.Done()

			if err := reg.limiter.Wait(ctx); err != nil {
				return
			}
			doc, err := reg.provider.Fetch(ctx, q)
			if err != nil {
				if !errors.Is(err, ErrNotFound) {
					r.recordDiagnostic(reg.provider.ID(), err)
					mu.Lock()
					errs++
					mu.Unlock()
				}
				return
			}

			doc.DemoteIfOverrun(q.DurationMs)

			// Every non-error reply is cached for manual switching.
			if err := r.store.Put(providerCacheKey(q.TrackKey, reg.provider.ID()), *doc); err != nil {
				r.logger.Printf("caching %s reply: %v", reg.provider.ID(), err)
			}

			mu.Lock()
			replies = append(replies, reply{doc: *doc, reg: reg, arrival: seq})
			seq++
			mu.Unlock()
		}(reg)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		// Deadline expiry: score whatever arrived in time.
	}

	mu.Lock()
	defer mu.Unlock()

	if len(replies) == 0 {
		if errs > 0 && errs == len(r.providers) {
			return models.LyricsDoc{}, ErrAllFailed
		}
		// Authoritative not-found, negatively cached with a short TTL.
		return models.LyricsDoc{Kind: models.LyricsNotFound, FetchedAt: time.Now()}, nil
	}

	best := replies[0]
	for _, rep := range replies[1:] {
		if betterReply(rep, best) {
			best = rep
		}
	}
	return best.doc, nil
}

// betterReply orders the race: tier first, then configured priority, then
// earliest arrival.
func betterReply(a, b reply) bool {
	at, bt := a.doc.Kind.Tier(), b.doc.Kind.Tier()
	if at != bt {
		return at > bt
	}
	if a.reg.priority != b.reg.priority {
		return a.reg.priority > b.reg.priority
	}
	return a.arrival < b.arrival
}

func (r *Resolver) recordDiagnostic(id models.ProviderID, err error) {
	r.logger.Printf("provider %s: %v", id, err)
	r.diagMu.Lock()
	r.diagnostics[id] = err.Error()
	r.diagMu.Unlock()
}
