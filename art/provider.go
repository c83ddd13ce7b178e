package art

import (
	"context"
	"net/http"
	"time"

	"github.com/lyrebird-fm/lyrebird/models"
)

// Query identifies the track whose album art is wanted.
type Query struct {
	TrackKey models.TrackKey
	Title    string
	Artist   string
	Album    string
	// SourceArtURI is the art the playback source itself reported, if any.
	SourceArtURI string
}

// Candidate is one album art option, as offered to the picker UI.
type Candidate struct {
	ProviderID   models.ProviderID `json:"provider"`
	URL          string            `json:"url"`
	ResolutionPx int               `json:"resolutionPx"`
}

// AlbumArtProvider finds album art candidates for a track.
type AlbumArtProvider interface {
	ID() models.ProviderID
	AlbumArt(ctx context.Context, q Query) ([]Candidate, error)
}

// ArtistImageProvider finds photos of an artist for backgrounds and the
// idle slideshow.
type ArtistImageProvider interface {
	ID() models.ProviderID
	ArtistImages(ctx context.Context, artist string) ([]string, error)
}

var metaClient = &http.Client{Timeout: 15 * time.Second}

const userAgent = "lyrebird/1.0 (+https://github.com/lyrebird-fm/lyrebird)"
