package models

import (
	"encoding/json"
	"reflect"
	"testing"
)

func TestLyricsKindTierOrdering(t *testing.T) {
	order := []LyricsKind{LyricsNotFound, LyricsInstrumental, LyricsUnsynced, LyricsSynced, LyricsWordSynced}
	for i := 1; i < len(order); i++ {
		if order[i].Tier() <= order[i-1].Tier() {
			t.Errorf("%s (tier %d) should beat %s (tier %d)",
				order[i], order[i].Tier(), order[i-1], order[i-1].Tier())
		}
	}
}

func TestLyricsDocRoundTripPreservesEmptyWordList(t *testing.T) {
	doc := LyricsDoc{
		Kind: LyricsWordSynced,
		Lines: []LyricLine{
			{TimeMs: 1000, Text: "with words", Words: []LyricWord{{TimeMs: 1000, Word: "with"}, {TimeMs: 1400, Word: "words"}}},
			{TimeMs: 3000, Text: "", Words: []LyricWord{}}, // musical break marker
		},
		ProviderID: "test",
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var back LyricsDoc
	if err := json.Unmarshal(raw, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if !reflect.DeepEqual(doc.Lines, back.Lines) {
		t.Fatalf("lines diverged:\n got %+v\nwant %+v", back.Lines, doc.Lines)
	}
	if back.Lines[1].Words == nil {
		t.Fatal("empty word list became nil through JSON")
	}
}

func TestSortLinesStableForRepeats(t *testing.T) {
	doc := LyricsDoc{
		Kind: LyricsSynced,
		Lines: []LyricLine{
			{TimeMs: 5000, Text: "later"},
			{TimeMs: 1000, Text: "first occurrence"},
			{TimeMs: 1000, Text: "second occurrence"},
		},
	}
	doc.SortLines()
	if doc.Lines[0].TimeMs != 1000 || doc.Lines[1].Text != "second occurrence" {
		t.Fatalf("lines = %+v", doc.Lines)
	}
}

func TestDemoteIfOverrun(t *testing.T) {
	dur := int64(60_000)

	tests := []struct {
		name     string
		doc      LyricsDoc
		duration *int64
		wantKind LyricsKind
	}{
		{
			name: "within duration stays synced",
			doc: LyricsDoc{Kind: LyricsSynced, Lines: []LyricLine{
				{TimeMs: 59_000, Text: "fine"},
			}},
			duration: &dur,
			wantKind: LyricsSynced,
		},
		{
			name: "inside the slack stays synced",
			doc: LyricsDoc{Kind: LyricsSynced, Lines: []LyricLine{
				{TimeMs: 64_000, Text: "barely"},
			}},
			duration: &dur,
			wantKind: LyricsSynced,
		},
		{
			name: "past the slack demotes",
			doc: LyricsDoc{Kind: LyricsSynced, Lines: []LyricLine{
				{TimeMs: 66_000, Text: "way out"},
			}},
			duration: &dur,
			wantKind: LyricsUnsynced,
		},
		{
			name: "word timing counts too",
			doc: LyricsDoc{Kind: LyricsWordSynced, Lines: []LyricLine{
				{TimeMs: 1000, Text: "word", Words: []LyricWord{{TimeMs: 90_000, Word: "word"}}},
			}},
			duration: &dur,
			wantKind: LyricsUnsynced,
		},
		{
			name: "unknown duration never demotes",
			doc: LyricsDoc{Kind: LyricsSynced, Lines: []LyricLine{
				{TimeMs: 500_000, Text: "who knows"},
			}},
			duration: nil,
			wantKind: LyricsSynced,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tc.doc.DemoteIfOverrun(tc.duration)
			if tc.doc.Kind != tc.wantKind {
				t.Fatalf("kind = %s, want %s", tc.doc.Kind, tc.wantKind)
			}
			if tc.wantKind == LyricsUnsynced {
				for _, l := range tc.doc.Lines {
					if l.TimeMs != 0 || l.Words != nil {
						t.Errorf("demoted line kept timing: %+v", l)
					}
				}
			}
		})
	}
}
