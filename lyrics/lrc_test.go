package lyrics

import (
	"testing"

	"github.com/lyrebird-fm/lyrebird/models"
)

func TestParseLRCLineSynced(t *testing.T) {
	body := "[ar:Somebody]\n" +
		"[00:12.00]First line\n" +
		"[00:15.30]Second line\n" +
		"[01:02.5]Third line\n"

	doc := ParseLRC(body, "test")
	if doc.Kind != models.LyricsSynced {
		t.Fatalf("kind = %s, want %s", doc.Kind, models.LyricsSynced)
	}
	if len(doc.Lines) != 3 {
		t.Fatalf("got %d lines, want 3", len(doc.Lines))
	}
	if doc.Lines[0].TimeMs != 12000 {
		t.Errorf("first line at %dms, want 12000", doc.Lines[0].TimeMs)
	}
	if doc.Lines[1].TimeMs != 15300 {
		t.Errorf("second line at %dms, want 15300", doc.Lines[1].TimeMs)
	}
	// Single fraction digit means tenths.
	if doc.Lines[2].TimeMs != 62500 {
		t.Errorf("third line at %dms, want 62500", doc.Lines[2].TimeMs)
	}
	if doc.Lines[0].Text != "First line" {
		t.Errorf("text = %q", doc.Lines[0].Text)
	}
}

func TestParseLRCMultiTagLine(t *testing.T) {
	doc := ParseLRC("[00:10.00][00:40.00]Chorus\n[00:20.00]Verse\n", "test")
	if len(doc.Lines) != 3 {
		t.Fatalf("got %d lines, want 3 (repeated chorus)", len(doc.Lines))
	}
	// Output must come back sorted by time.
	var last int64 = -1
	for _, l := range doc.Lines {
		if l.TimeMs < last {
			t.Fatalf("lines out of order: %dms after %dms", l.TimeMs, last)
		}
		last = l.TimeMs
	}
	if doc.Lines[2].Text != "Chorus" {
		t.Errorf("repeated line text = %q, want Chorus", doc.Lines[2].Text)
	}
}

func TestParseLRCEnhancedWordTags(t *testing.T) {
	body := "[00:10.00]<00:10.00>Hello <00:10.50>world\n"

	doc := ParseLRC(body, "test")
	if doc.Kind != models.LyricsWordSynced {
		t.Fatalf("kind = %s, want %s", doc.Kind, models.LyricsWordSynced)
	}
	line := doc.Lines[0]
	if len(line.Words) != 2 {
		t.Fatalf("got %d words, want 2", len(line.Words))
	}
	if line.Words[0].TimeMs != 10000 || line.Words[1].TimeMs != 10500 {
		t.Errorf("word times = %d, %d", line.Words[0].TimeMs, line.Words[1].TimeMs)
	}
	// Line text keeps the plain words, no angle tags.
	if line.Text != "Hello world" {
		t.Errorf("line text = %q, want %q", line.Text, "Hello world")
	}
}

func TestParseLRCEmptyBody(t *testing.T) {
	doc := ParseLRC("[ti:Title only]\n\n", "test")
	if doc.HasText() {
		t.Fatal("meta-only body should have no text")
	}
}

func TestParsePlain(t *testing.T) {
	doc := ParsePlain("line one\n\n\nline two\n\n", "test")
	if doc.Kind != models.LyricsUnsynced {
		t.Fatalf("kind = %s, want %s", doc.Kind, models.LyricsUnsynced)
	}
	// Stanza break collapses to one empty line; trailing blanks are trimmed.
	if len(doc.Lines) != 3 {
		t.Fatalf("got %d lines, want 3", len(doc.Lines))
	}
	if doc.Lines[1].Text != "" {
		t.Errorf("middle line = %q, want stanza break", doc.Lines[1].Text)
	}
	for _, l := range doc.Lines {
		if l.TimeMs != 0 {
			t.Errorf("plain line carries time %dms", l.TimeMs)
		}
	}
}
