package models

import "time"

// TrackPreferences are the per-track user choices, keyed by TrackKey in the
// settings store. Zero values mean "no explicit choice".
type TrackPreferences struct {
	PreferredLyricsProvider *ProviderID     `json:"preferredLyricsProvider,omitempty"`
	PreferredArtProvider    *ProviderID     `json:"preferredArtProvider,omitempty"`
	BackgroundStyle         BackgroundStyle `json:"backgroundStyle,omitempty"`
	LastVerifiedAt          time.Time       `json:"lastVerifiedAt,omitempty"`
}
