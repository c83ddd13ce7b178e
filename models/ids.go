package models

// Opaque identifier types. Keeping these distinct stops a provider id from
// ending up where a source id belongs at a call site.

// TrackKey is the canonical identity of a track, used for caching and
// deduplication. Derived in the metadata package; either "svc:<id>" when a
// stable service-native id exists, or the normalized "<artist> – <title>".
type TrackKey string

// ProviderID names a lyrics or art provider ("lrclib", "spotify", ...).
type ProviderID string

// SourceID names a playback source ("spotify", "musicassistant", "spicetify").
type SourceID string

func (k TrackKey) String() string   { return string(k) }
func (p ProviderID) String() string { return string(p) }
func (s SourceID) String() string   { return string(s) }

// IsZero reports whether the key is empty, i.e. nothing is playing.
func (k TrackKey) IsZero() bool { return k == "" }
