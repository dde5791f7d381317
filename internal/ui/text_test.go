package ui

import (
	"strings"
	"testing"

	"github.com/charmbracelet/x/ansi"
)

func TestFitLine(t *testing.T) {
	tests := []struct {
		name  string
		line  string
		width int
		want  string
	}{
		{"fits", "host: unknown", 20, "host: unknown"},
		{"clipped", "storage.path is required", 12, "storage.pat…"},
		{"wide runes", "日本語テキスト", 7, "日本語…"},
		{"no width", "anything goes", 0, "anything goes"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FitLine(tt.line, tt.width); got != tt.want {
				t.Errorf("FitLine(%q, %d) = %q, want %q", tt.line, tt.width, got, tt.want)
			}
		})
	}
}

func TestFitLineKeepsStyling(t *testing.T) {
	styled := "\x1b[31m-\x1b[0m webhook.secret must be set in cloud mode"
	got := FitLine(styled, 16)

	if !strings.HasPrefix(got, "\x1b[31m-") {
		t.Errorf("styling lost: %q", got)
	}
	if plain := ansi.Strip(got); plain != "- webhook.secre…" {
		t.Errorf("visible text = %q", plain)
	}
	if w := ansi.StringWidth(got); w != 16 {
		t.Errorf("width = %d, want 16", w)
	}
}
