package timeparsing

import (
	"testing"
	"time"
)

func TestParseCompactDuration(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		input   string
		want    time.Time
		wantErr bool
	}{
		{"+6h", time.Date(2025, 6, 15, 18, 0, 0, 0, time.UTC), false},
		{"+1d", time.Date(2025, 6, 16, 12, 0, 0, 0, time.UTC), false},
		{"-2w", time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC), false},
		{"3m", time.Date(2025, 9, 15, 12, 0, 0, 0, time.UTC), false},
		{"-1y", time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC), false},
		{"10d", time.Date(2025, 6, 25, 12, 0, 0, 0, time.UTC), false},
		{"6x", time.Time{}, true},
		{"h", time.Time{}, true},
		{"", time.Time{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseCompactDuration(tt.input, now)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseCompactDuration(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if !tt.wantErr && !got.Equal(tt.want) {
				t.Errorf("ParseCompactDuration(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestParseSince(t *testing.T) {
	// Wednesday, January 15, 2025, 10:00
	now := time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		input string
		want  time.Time
	}{
		{"unsigned duration counts back", "2w", time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)},
		{"explicit past", "-6h", time.Date(2025, 1, 15, 4, 0, 0, 0, time.UTC)},
		{"date", "2024-12-24", time.Date(2024, 12, 24, 0, 0, 0, 0, time.UTC)},
		{"rfc3339", "2024-12-24T08:30:00Z", time.Date(2024, 12, 24, 8, 30, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseSince(tt.input, now)
			if err != nil {
				t.Fatalf("ParseSince(%q): %v", tt.input, err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("ParseSince(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}

	t.Run("natural language", func(t *testing.T) {
		got, err := ParseSince("yesterday", now)
		if err != nil {
			t.Fatalf("ParseSince(yesterday): %v", err)
		}
		if got.Year() != 2025 || got.Month() != time.January || got.Day() != 14 {
			t.Errorf("ParseSince(yesterday) = %v", got)
		}
		got, err = ParseSince("3 days ago", now)
		if err != nil {
			t.Fatalf("ParseSince(3 days ago): %v", err)
		}
		if got.Day() != 12 {
			t.Errorf("ParseSince(3 days ago) = %v", got)
		}
	})

	for _, bad := range []string{"", "   ", "whenever"} {
		if _, err := ParseSince(bad, now); err == nil {
			t.Errorf("ParseSince(%q) should fail", bad)
		}
	}
}
