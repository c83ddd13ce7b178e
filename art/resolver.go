package art

import (
	"context"
	"log"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lyrebird-fm/lyrebird/cache"
	"github.com/lyrebird-fm/lyrebird/db"
	"github.com/lyrebird-fm/lyrebird/metadata"
	"github.com/lyrebird-fm/lyrebird/models"
	"github.com/lyrebird-fm/lyrebird/settings"
)

const (
	// SourceProvider labels the art URI reported by the playback source
	// itself.
	SourceProvider = models.ProviderID("source")

	// sourcePriority ranks the source's own art above every provider when
	// resolutions tie.
	sourcePriority = 100

	defaultMetaDeadline = 5 * time.Second
	candidateTTL        = 24 * time.Hour
)

type registeredAlbum struct {
	provider AlbumArtProvider
	priority int
}

// Resolver picks album art for the current track and maintains the artist
// image pool. Candidate lists are cached per (track, provider); the image
// bytes themselves are only persisted when a choice is made.
type Resolver struct {
	logger       *log.Logger
	store        *Store
	db           *db.DB
	prefs        *settings.Store
	albums       []registeredAlbum
	artists      []ArtistImageProvider
	candidates   *cache.Cache[[]Candidate]
	metaDeadline time.Duration

	mu     sync.Mutex
	tokens map[models.TrackKey]int
}

func NewResolver(dataRoot string, store *Store, database *db.DB, prefs *settings.Store) (*Resolver, error) {
	r := &Resolver{
		logger:       log.New(os.Stdout, "art: ", log.LstdFlags|log.Lmsgprefix),
		store:        store,
		db:           database,
		prefs:        prefs,
		metaDeadline: defaultMetaDeadline,
		tokens:       make(map[models.TrackKey]int),
	}

	cands, err := cache.New[[]Candidate](
		cache.JSONCodec[[]Candidate]{},
		cache.Options[[]Candidate]{
			Dir: filepath.Join(dataRoot, "art-candidates"),
			TTL: candidateTTL,
		},
	)
	if err != nil {
		return nil, err
	}
	r.candidates = cands
	return r, nil
}

// AddAlbumProvider registers an album art source with its priority.
func (r *Resolver) AddAlbumProvider(p AlbumArtProvider, priority int) {
	r.albums = append(r.albums, registeredAlbum{provider: p, priority: priority})
}

// AddArtistProvider registers an artist image source.
func (r *Resolver) AddArtistProvider(p ArtistImageProvider) {
	r.artists = append(r.artists, p)
}

func candidateKey(key models.TrackKey, p models.ProviderID) string {
	return string(key) + "|" + string(p)
}

// Options lists every known art candidate for a track: the source's own
// art first, then each provider's findings. Provider lookups run in
// parallel under the metadata deadline; a slow provider costs its own
// entries, not the response.
func (r *Resolver) Options(ctx context.Context, q Query) []Candidate {
	var out []Candidate
	if q.SourceArtURI != "" {
		out = append(out, Candidate{ProviderID: SourceProvider, URL: q.SourceArtURI})
	}

	ctx, cancel := context.WithTimeout(ctx, r.metaDeadline)
	defer cancel()

	results := make([][]Candidate, len(r.albums))
	g, gctx := errgroup.WithContext(ctx)
	for i, reg := range r.albums {
		i, reg := i, reg
		g.Go(func() error {
			key := candidateKey(q.TrackKey, reg.provider.ID())
			cands, err := r.candidates.GetOrFetch(gctx, key, albumFetcher(q, reg.provider))
			if err != nil {
				r.logger.Printf("candidates from %s: %v", reg.provider.ID(), err)
				return nil
			}
			results[i] = cands
			return nil
		})
	}
	g.Wait()

	for _, cands := range results {
		out = append(out, cands...)
	}
	return out
}

// albumFetcher builds the single-flight fetch closure for one provider.
// The closure carries the query so a flight that outlives its caller can
// still run it.
func albumFetcher(q Query, p AlbumArtProvider) cache.Fetcher[[]Candidate] {
	return func(ctx context.Context, _ string) ([]Candidate, error) {
		cands, err := p.AlbumArt(ctx, q)
		if err != nil {
			return nil, err
		}
		if cands == nil {
			cands = []Candidate{}
		}
		return cands, nil
	}
}

// Current resolves the art to serve for a track: the user's choice first,
// otherwise the largest candidate by resolution, ties broken by provider
// priority with the source's own art ranked above every provider.
// Candidates without a reported resolution are measured by downloading
// them once through the content store, and every downloaded candidate is
// indexed so /cover-art serves local bytes.
func (r *Resolver) Current(ctx context.Context, q Query) (Candidate, bool) {
	prefs := r.prefs.Preferences(q.TrackKey)
	if p := prefs.PreferredArtProvider; p != nil {
		if *p == SourceProvider && q.SourceArtURI != "" {
			return Candidate{ProviderID: SourceProvider, URL: q.SourceArtURI}, true
		}
		if cands, err := r.candidates.Get(candidateKey(q.TrackKey, *p)); err == nil && len(cands) > 0 {
			return cands[0], true
		}
		// Preference set but candidates not cached yet: fetch just that
		// provider rather than falling back silently.
		for _, reg := range r.albums {
			if reg.provider.ID() != *p {
				continue
			}
			if cands := r.providerCandidates(ctx, q, reg.provider); len(cands) > 0 {
				return cands[0], true
			}
		}
	}

	best, ok := Candidate{}, false
	for _, c := range r.Options(ctx, q) {
		c = r.measured(ctx, q, c)
		if !ok || c.ResolutionPx > best.ResolutionPx ||
			(c.ResolutionPx == best.ResolutionPx &&
				r.priorityOf(c.ProviderID) > r.priorityOf(best.ProviderID)) {
			best, ok = c, true
		}
	}
	if !ok {
		return Candidate{}, false
	}

	// The winner is downloaded and indexed even when its resolution came
	// from provider metadata. Fetch memoizes by URL, Index upserts, so a
	// repeat visit costs nothing.
	if st, err := r.store.Fetch(ctx, best.URL); err == nil {
		if st.ResolutionPx == 0 {
			st.ResolutionPx = best.ResolutionPx
		}
		if err := r.store.Index(db.KindAlbumArt, st, q.TrackKey, "", best.ProviderID); err != nil {
			r.logger.Printf("indexing album art: %v", err)
		}
	} else {
		r.logger.Printf("downloading album art from %s: %v", best.ProviderID, err)
	}
	return best, true
}

// measured fills in a candidate's resolution by downloading it when the
// provider reported none, indexing what it fetched.
func (r *Resolver) measured(ctx context.Context, q Query, c Candidate) Candidate {
	if c.ResolutionPx > 0 {
		return c
	}
	st, err := r.store.Fetch(ctx, c.URL)
	if err != nil {
		r.logger.Printf("measuring candidate from %s: %v", c.ProviderID, err)
		return c
	}
	if err := r.store.Index(db.KindAlbumArt, st, q.TrackKey, "", c.ProviderID); err != nil {
		r.logger.Printf("indexing album art: %v", err)
	}
	c.ResolutionPx = st.ResolutionPx
	return c
}

// priorityOf is the tie-break rank for a provider's candidates.
func (r *Resolver) priorityOf(p models.ProviderID) int {
	if p == SourceProvider {
		return sourcePriority
	}
	for _, reg := range r.albums {
		if reg.provider.ID() == p {
			return reg.priority
		}
	}
	return 0
}

func (r *Resolver) providerCandidates(ctx context.Context, q Query, p AlbumArtProvider) []Candidate {
	ctx, cancel := context.WithTimeout(ctx, r.metaDeadline)
	defer cancel()

	key := candidateKey(q.TrackKey, p.ID())
	cands, err := r.candidates.GetOrFetch(ctx, key, albumFetcher(q, p))
	if err != nil {
		r.logger.Printf("candidates from %s: %v", p.ID(), err)
		return nil
	}
	return cands
}

// Persist downloads a chosen candidate into the content store and records
// it in the artifact index. Called on explicit selection, never during
// passive playback.
func (r *Resolver) Persist(ctx context.Context, q Query, c Candidate) (Stored, error) {
	st, err := r.store.Fetch(ctx, c.URL)
	if err != nil {
		return Stored{}, err
	}
	if st.ResolutionPx == 0 {
		st.ResolutionPx = c.ResolutionPx
	}
	if err := r.store.Index(db.KindAlbumArt, st, q.TrackKey, "", c.ProviderID); err != nil {
		return Stored{}, err
	}
	r.bump(q.TrackKey)
	return st, nil
}

// StoredArt returns the persisted album art to serve for a track: the
// preferred provider's entry when one is chosen, otherwise the largest.
func (r *Resolver) StoredArt(key models.TrackKey) (models.ArtifactEntry, bool) {
	entries, err := r.db.AlbumArts(key)
	if err != nil || len(entries) == 0 {
		return models.ArtifactEntry{}, false
	}
	if p := r.prefs.Preferences(key).PreferredArtProvider; p != nil {
		for _, e := range entries {
			if e.ProviderID == *p {
				return e, true
			}
		}
	}
	return entries[0], true
}

// BustToken returns the cache-bust token for a track's art URL. It changes
// whenever the selection changes, so browsers re-fetch on preference
// updates but cache otherwise.
func (r *Resolver) BustToken(key models.TrackKey) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tokens[key]
}

func (r *Resolver) bump(key models.TrackKey) {
	r.mu.Lock()
	r.tokens[key]++
	r.mu.Unlock()
}

// Bump invalidates the served art URL for a track. The settings layer
// calls this when the art preference changes.
func (r *Resolver) Bump(key models.TrackKey) { r.bump(key) }

// EnsureArtistImages downloads and indexes photos for an artist unless
// some are already stored. Returns the stored entries.
func (r *Resolver) EnsureArtistImages(ctx context.Context, artist string) ([]models.ArtifactEntry, error) {
	artistKey := metadata.ArtistKey(artist)
	existing, err := r.db.ArtistImages(artistKey)
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		return existing, nil
	}

	for _, p := range r.artists {
		urls, err := p.ArtistImages(ctx, artist)
		if err != nil {
			r.logger.Printf("artist images from %s: %v", p.ID(), err)
			continue
		}
		for _, u := range urls {
			st, err := r.store.Fetch(ctx, u)
			if err != nil {
				r.logger.Printf("downloading artist image: %v", err)
				continue
			}
			if err := r.store.Index(db.KindArtistImage, st, "", artistKey, p.ID()); err != nil {
				r.logger.Printf("indexing artist image: %v", err)
			}
		}
		if len(urls) > 0 {
			break // first provider with results wins; others stay in reserve
		}
	}
	return r.db.ArtistImages(artistKey)
}

// RandomImages returns up to n stored artist images for the idle
// slideshow, shuffled.
func (r *Resolver) RandomImages(n int) ([]models.ArtifactEntry, error) {
	all, err := r.db.AllArtistImages()
	if err != nil {
		return nil, err
	}
	rand.Shuffle(len(all), func(i, j int) { all[i], all[j] = all[j], all[i] })
	if len(all) > n {
		all = all[:n]
	}
	return all, nil
}
