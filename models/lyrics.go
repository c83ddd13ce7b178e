package models

import (
	"sort"
	"time"
)

// LyricsKind discriminates the LyricsDoc variants.
type LyricsKind string

const (
	LyricsWordSynced   LyricsKind = "word_synced"
	LyricsSynced       LyricsKind = "synced"
	LyricsUnsynced     LyricsKind = "unsynced"
	LyricsInstrumental LyricsKind = "instrumental"
	LyricsNotFound     LyricsKind = "not_found"
)

// Tier orders kinds by desirability for the resolver race. Higher wins.
func (k LyricsKind) Tier() int {
	switch k {
	case LyricsWordSynced:
		return 4
	case LyricsSynced:
		return 3
	case LyricsUnsynced:
		return 2
	case LyricsInstrumental:
		return 1
	default:
		return 0
	}
}

// LyricWord is one word of a word-synced line.
type LyricWord struct {
	TimeMs int64  `json:"tMs"`
	Word   string `json:"word"`
}

// LyricLine is one line of lyrics. TimeMs is zero for unsynced documents.
// Words is non-nil only for word-synced documents; an empty word list is
// preserved through JSON round trips.
type LyricLine struct {
	TimeMs int64       `json:"tMs"`
	Text   string      `json:"text"`
	Words  []LyricWord `json:"words"`
}

// LyricsDoc is one track's lyrics as fetched from a provider.
type LyricsDoc struct {
	Kind       LyricsKind  `json:"kind"`
	Lines      []LyricLine `json:"lines"`
	ProviderID ProviderID  `json:"providerId"`
	FetchedAt  time.Time   `json:"fetchedAt"`
	SourceURL  *string     `json:"sourceUrl,omitempty"`
}

// HasText reports whether the document carries lyric text at all.
func (d *LyricsDoc) HasText() bool {
	return d.Kind == LyricsWordSynced || d.Kind == LyricsSynced || d.Kind == LyricsUnsynced
}

// SortLines orders synced lines by timestamp, preserving relative order of
// equal timestamps so repeated lines stay stable.
func (d *LyricsDoc) SortLines() {
	if d.Kind != LyricsSynced && d.Kind != LyricsWordSynced {
		return
	}
	sort.SliceStable(d.Lines, func(i, j int) bool {
		return d.Lines[i].TimeMs < d.Lines[j].TimeMs
	})
}

// MaxTimeMs returns the largest line timestamp, or zero when unsynced/empty.
func (d *LyricsDoc) MaxTimeMs() int64 {
	var max int64
	for _, l := range d.Lines {
		if l.TimeMs > max {
			max = l.TimeMs
		}
		for _, w := range l.Words {
			if w.TimeMs > max {
				max = w.TimeMs
			}
		}
	}
	return max
}

// overrunSlackMs is how far a synced document's last timestamp may exceed
// the track duration before the timings are considered untrustworthy.
const overrunSlackMs = 5000

// DemoteIfOverrun converts a synced document to unsynced when its largest
// timestamp exceeds the known duration by more than 5 seconds. Word timing
// is dropped along with line timing.
func (d *LyricsDoc) DemoteIfOverrun(durationMs *int64) {
	if durationMs == nil || !d.HasText() || d.Kind == LyricsUnsynced {
		return
	}
	if d.MaxTimeMs() <= *durationMs+overrunSlackMs {
		return
	}
	lines := make([]LyricLine, len(d.Lines))
	for i, l := range d.Lines {
		lines[i] = LyricLine{Text: l.Text}
	}
	d.Kind = LyricsUnsynced
	d.Lines = lines
}
