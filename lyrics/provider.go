// Package lyrics resolves time-aligned lyrics for a track by racing a
// fixed set of HTTP providers, with caching and manual override.
package lyrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/lyrebird-fm/lyrebird/models"
)

// ErrNotFound means a provider responded authoritatively that it has no
// lyrics for the query. It is not a failure.
var ErrNotFound = errors.New("lyrics: not found")

// Query is what a provider gets to work with.
type Query struct {
	TrackKey   models.TrackKey
	Title      string
	Artist     string
	Album      string
	DurationMs *int64
	// ServiceID is the streaming service's native track id, when known.
	ServiceID string
}

// Provider fetches lyrics from one upstream. Implementations are
// side-effect-free; rate limiting and caching live in the resolver.
type Provider interface {
	ID() models.ProviderID
	Fetch(ctx context.Context, q Query) (*models.LyricsDoc, error)
}

// registered pairs a provider with its resolver-level configuration.
type registered struct {
	provider Provider
	priority int
	limiter  *rate.Limiter
}

// defaultRate is the per-provider token bucket: 5 requests per second.
const defaultRate = 5

func newRegistered(p Provider, priority int, perSecond int) registered {
	if perSecond <= 0 {
		perSecond = defaultRate
	}
	return registered{
		provider: p,
		priority: priority,
		limiter:  rate.NewLimiter(rate.Limit(perSecond), perSecond),
	}
}

// httpClient is shared by the bundled providers. Individual calls carry
// their own deadline via context.
var httpClient = &http.Client{Timeout: 30 * time.Second}
