package ui

import "github.com/charmbracelet/x/ansi"

// Ellipsis marks text cut by FitLine.
const Ellipsis = "…"

// FitLine clips a rendered line to width terminal cells. Styling escapes are
// kept and wide runes count as two cells. A width below one leaves line alone.
func FitLine(line string, width int) string {
	if width < 1 || ansi.StringWidth(line) <= width {
		return line
	}
	return ansi.Truncate(line, width, Ellipsis)
}
