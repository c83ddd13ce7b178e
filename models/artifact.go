package models

import "time"

// ArtifactEntry records one cached external artifact: an album art or an
// artist image downloaded from a provider. Bytes live under the content
// root at StoredPath; the entry itself lives in the sqlite index.
type ArtifactEntry struct {
	TrackKey     TrackKey   `json:"trackKey,omitempty"`
	ArtistKey    string     `json:"artistKey,omitempty"`
	ProviderID   ProviderID `json:"providerId"`
	ResolutionPx int        `json:"resolutionPx"`
	ContentHash  string     `json:"contentHash"`
	StoredPath   string     `json:"storedPath"`
	FetchedAt    time.Time  `json:"fetchedAt"`
}
