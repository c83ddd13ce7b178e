package models

import "time"

// BackgroundStyle is the per-track background rendering preference.
type BackgroundStyle string

const (
	BackgroundBlur  BackgroundStyle = "blur"
	BackgroundSoft  BackgroundStyle = "soft"
	BackgroundSharp BackgroundStyle = "sharp"
	BackgroundNone  BackgroundStyle = "none"
)

// ValidBackgroundStyle reports whether s is one of the accepted styles.
func ValidBackgroundStyle(s BackgroundStyle) bool {
	switch s {
	case BackgroundBlur, BackgroundSoft, BackgroundSharp, BackgroundNone:
		return true
	}
	return false
}

// NowPlaying is the single fused playback state the server exposes. It is
// produced only by the fuser; everything else reads immutable copies.
type NowPlaying struct {
	SourceID  SourceID  `json:"sourceId"`
	TrackKey  TrackKey  `json:"trackKey"`
	UpdatedAt time.Time `json:"updatedAt"`

	Title       string   `json:"title"`
	Artist      string   `json:"artist"`
	Artists     []string `json:"artists,omitempty"`
	Album       string   `json:"album,omitempty"`
	AlbumArtURI string   `json:"-"`

	DurationMs *int64 `json:"durationMs,omitempty"`
	PositionMs *int64 `json:"positionMs,omitempty"`
	IsPlaying  bool   `json:"isPlaying"`

	Liked   *bool `json:"liked,omitempty"`
	Shuffle *bool `json:"shuffle,omitempty"`
	Repeat  *int  `json:"repeat,omitempty"`
	Volume  *int  `json:"volume,omitempty"`

	Provenance map[string]string `json:"provenance,omitempty"`
	// Extra carries opaque source enrichment, e.g. dominant colors
	// reported by the browser bridge.
	Extra map[string]any `json:"extra,omitempty"`

	// Enrichment filled in by the art and lyrics pipelines.
	AlbumArtURL     string          `json:"albumArtUrl,omitempty"`
	ArtistImageURLs []string        `json:"artistImageUrls,omitempty"`
	BackgroundStyle BackgroundStyle `json:"backgroundStyle,omitempty"`
	IsInstrumental  *bool           `json:"isInstrumental,omitempty"`
	HasLyrics       *bool           `json:"hasLyrics,omitempty"`
	Provider        *ProviderID     `json:"provider,omitempty"`
}

// Idle is the NowPlaying published when no source reports anything.
func Idle(now time.Time) NowPlaying {
	return NowPlaying{UpdatedAt: now}
}

// IsIdle reports whether nothing is playing.
func (np *NowPlaying) IsIdle() bool { return np.TrackKey.IsZero() }

// FromSnapshot builds the base NowPlaying for a winning snapshot.
func FromSnapshot(s PlaybackSnapshot, now time.Time) NowPlaying {
	return NowPlaying{
		SourceID:    s.SourceID,
		TrackKey:    s.TrackKey,
		UpdatedAt:   now,
		Title:       s.Title,
		Artist:      s.Artist,
		Artists:     s.Artists,
		Album:       s.Album,
		AlbumArtURI: s.AlbumArtURI,
		DurationMs:  s.DurationMs,
		PositionMs:  s.PositionMs,
		IsPlaying:   s.IsPlaying,
		Liked:       s.Liked,
		Shuffle:     s.Shuffle,
		Repeat:      s.Repeat,
		Volume:      s.Volume,
		Provenance:  s.Provenance,
		Extra:       s.Extra,
	}
}
