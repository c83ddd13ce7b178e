package models

import (
	"fmt"
	"time"
)

// PlaybackSnapshot is one sample emitted by a source. Snapshots are
// transient: built by the source registry, consumed by the fuser, never
// stored.
type PlaybackSnapshot struct {
	SourceID  SourceID  `json:"sourceId"`
	SampledAt time.Time `json:"sampledAt"`
	TrackKey  TrackKey  `json:"trackKey"`

	Title       string   `json:"title"`
	Artist      string   `json:"artist"`
	Artists     []string `json:"artists,omitempty"`
	Album       string   `json:"album,omitempty"`
	AlbumArtURI string   `json:"albumArtUri,omitempty"`

	DurationMs *int64 `json:"durationMs,omitempty"`
	PositionMs *int64 `json:"positionMs,omitempty"`
	IsPlaying  bool   `json:"isPlaying"`

	Liked   *bool `json:"liked,omitempty"`
	Shuffle *bool `json:"shuffle,omitempty"`
	Repeat  *int  `json:"repeat,omitempty"`
	Volume  *int  `json:"volume,omitempty"`

	// Provenance holds source-native identifiers, e.g. a Spotify track id.
	Provenance map[string]string `json:"provenance,omitempty"`
	// Extra carries opaque source-specific enrichment (audio analysis,
	// colors from the browser bridge, ...).
	Extra map[string]any `json:"extra,omitempty"`
}

// Validate rejects snapshots that can never become a usable NowPlaying.
func (s *PlaybackSnapshot) Validate() error {
	if s.Title == "" {
		return fmt.Errorf("snapshot from %q has empty title", s.SourceID)
	}
	if s.TrackKey.IsZero() {
		return fmt.Errorf("snapshot from %q has no track key", s.SourceID)
	}
	return nil
}

// Clamp enforces 0 <= position <= duration in place.
func (s *PlaybackSnapshot) Clamp() {
	if s.PositionMs == nil {
		return
	}
	if *s.PositionMs < 0 {
		*s.PositionMs = 0
	}
	if s.DurationMs != nil && *s.PositionMs > *s.DurationMs {
		*s.PositionMs = *s.DurationMs
	}
}

// Age reports how old the snapshot is at now.
func (s *PlaybackSnapshot) Age(now time.Time) time.Duration {
	return now.Sub(s.SampledAt)
}
