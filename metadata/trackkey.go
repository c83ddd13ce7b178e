package metadata

import (
	"strings"
	"unicode"

	"github.com/lyrebird-fm/lyrebird/models"
)

var defaultCleaner = NewCleaner()

// DeriveTrackKey produces the canonical identity for a track. A stable
// service-native id wins; otherwise the key is the normalized
// "<artist> – <title>". The same inputs always yield the same key.
func DeriveTrackKey(serviceID, artist, title string) models.TrackKey {
	if serviceID != "" {
		return models.TrackKey("svc:" + serviceID)
	}
	return models.TrackKey(Normalize(artist) + " – " + Normalize(title))
}

// ArtistKey is the canonical identity for an artist image store entry.
func ArtistKey(artist string) string {
	return Normalize(artist)
}

// Normalize lowercases, strips variant guff and folds punctuation so that
// cosmetically different spellings of the same track or artist collapse.
func Normalize(text string) string {
	cleaned, _ := defaultCleaner.CleanTitle(text)
	cleaned = strings.ToLower(cleaned)

	var b strings.Builder
	b.Grow(len(cleaned))
	lastSpace := false
	for _, r := range cleaned {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastSpace = false
		case unicode.IsSpace(r) || unicode.IsPunct(r) || unicode.IsSymbol(r):
			if !lastSpace && b.Len() > 0 {
				b.WriteRune(' ')
				lastSpace = true
			}
		}
	}
	return strings.TrimSpace(b.String())
}
