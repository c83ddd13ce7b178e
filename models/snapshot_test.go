package models

import (
	"testing"
	"time"
)

func int64p(v int64) *int64 { return &v }

func TestSnapshotValidate(t *testing.T) {
	valid := PlaybackSnapshot{
		SourceID: "spotify",
		TrackKey: "svc:abc123",
		Title:    "Song",
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("valid snapshot rejected: %v", err)
	}

	noTitle := valid
	noTitle.Title = ""
	if err := noTitle.Validate(); err == nil {
		t.Fatal("snapshot with empty title accepted")
	}

	noKey := valid
	noKey.TrackKey = ""
	if err := noKey.Validate(); err == nil {
		t.Fatal("snapshot with empty track key accepted")
	}
}

func TestSnapshotClamp(t *testing.T) {
	tests := []struct {
		name     string
		pos, dur *int64
		want     *int64
	}{
		{"nil position untouched", nil, int64p(200_000), nil},
		{"negative floors at zero", int64p(-500), int64p(200_000), int64p(0)},
		{"past duration ceils", int64p(250_000), int64p(200_000), int64p(200_000)},
		{"in range untouched", int64p(90_000), int64p(200_000), int64p(90_000)},
		{"no duration only floors", int64p(999_999), nil, int64p(999_999)},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := PlaybackSnapshot{PositionMs: tc.pos, DurationMs: tc.dur}
			s.Clamp()
			switch {
			case tc.want == nil:
				if s.PositionMs != nil {
					t.Fatalf("position = %d, want nil", *s.PositionMs)
				}
			case s.PositionMs == nil:
				t.Fatalf("position = nil, want %d", *tc.want)
			case *s.PositionMs != *tc.want:
				t.Fatalf("position = %d, want %d", *s.PositionMs, *tc.want)
			}
		})
	}
}

func TestSnapshotAge(t *testing.T) {
	now := time.Now()
	s := PlaybackSnapshot{SampledAt: now.Add(-2 * time.Second)}
	if age := s.Age(now); age != 2*time.Second {
		t.Fatalf("age = %v", age)
	}
}
