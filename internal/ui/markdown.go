package ui

import (
	"strings"

	"github.com/charmbracelet/glamour"
)

// RenderYAML renders a YAML document as a highlighted code block. The text is
// returned unchanged when colors are disabled or rendering fails.
func RenderYAML(doc string) string {
	if !ShouldUseColor() || strings.TrimSpace(doc) == "" {
		return doc
	}
	const maxReadableWidth = 100
	width := TerminalWidth(80)
	if width > maxReadableWidth {
		width = maxReadableWidth
	}
	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return doc
	}
	rendered, err := renderer.Render("```yaml\n" + strings.TrimRight(doc, "\n") + "\n```\n")
	if err != nil {
		return doc
	}
	return rendered
}
