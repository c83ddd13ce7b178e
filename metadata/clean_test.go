package metadata

import "testing"

func TestCleanTitle(t *testing.T) {
	c := NewCleaner()

	tests := []struct {
		in          string
		want        string
		wantChanged bool
	}{
		{"Bohemian Rhapsody (Remastered 2011)", "Bohemian Rhapsody", true},
		{"One More Time [Radio Edit]", "One More Time", true},
		{"Crazy in Love (feat. Jay-Z)", "Crazy in Love", true},
		{"Crazy in Love ft. Jay-Z", "Crazy in Love", true},
		{"Smells Like Teen Spirit - Live", "Smells Like Teen Spirit", true},
		// Parenthetical that is part of the title proper.
		{"(What's the Story) Morning Glory?", "(What's the Story) Morning Glory?", false},
		// Unbalanced brackets are left alone.
		{"Broken (title", "Broken (title", false},
		{"Plain Title", "Plain Title", false},
	}
	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			got, changed := c.CleanTitle(tc.in)
			if got != tc.want || changed != tc.wantChanged {
				t.Fatalf("CleanTitle(%q) = (%q, %v), want (%q, %v)",
					tc.in, got, changed, tc.want, tc.wantChanged)
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Daft Punk", "daft punk"},
		{"AC/DC", "ac dc"},
		{"Sigur Rós", "sigur rós"},
		{"  Spaced   Out!  ", "spaced out"},
		{"Song Title (Remastered 2009)", "song title"},
	}
	for _, tc := range tests {
		if got := Normalize(tc.in); got != tc.want {
			t.Errorf("Normalize(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestDeriveTrackKey(t *testing.T) {
	if key := DeriveTrackKey("4uLU6hMC", "Rick Astley", "Never Gonna Give You Up"); key != "svc:4uLU6hMC" {
		t.Fatalf("service id key = %q", key)
	}

	key := DeriveTrackKey("", "Daft Punk", "One More Time (Radio Edit)")
	if key != "daft punk – one more time" {
		t.Fatalf("derived key = %q", key)
	}

	// Cosmetic variants collapse to the same key.
	other := DeriveTrackKey("", "DAFT PUNK", "One More Time [Remastered 2001]")
	if key != other {
		t.Fatalf("variant keys diverged: %q vs %q", key, other)
	}
}

func TestArtistKey(t *testing.T) {
	if ArtistKey("The Beatles") != ArtistKey("the beatles") {
		t.Fatal("artist keys should be case-insensitive")
	}
}
