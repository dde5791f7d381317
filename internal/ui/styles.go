// Package ui provides terminal styling for psync CLI output.
// Uses the Ayu color theme with adaptive light/dark mode support.
package ui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Ayu theme color palette
// Dark: https://terminalcolors.com/themes/ayu/dark/
// Light: https://terminalcolors.com/themes/ayu/light/
var (
	ColorPass = lipgloss.AdaptiveColor{
		Light: "#86b300",
		Dark:  "#c2d94c",
	}
	ColorWarn = lipgloss.AdaptiveColor{
		Light: "#f2ae49",
		Dark:  "#ffb454",
	}
	ColorFail = lipgloss.AdaptiveColor{
		Light: "#f07171",
		Dark:  "#f07178",
	}
	ColorMuted = lipgloss.AdaptiveColor{
		Light: "#828c99",
		Dark:  "#6c7680",
	}
	ColorAccent = lipgloss.AdaptiveColor{
		Light: "#399ee6",
		Dark:  "#59c2ff",
	}
)

var (
	PassStyle   = lipgloss.NewStyle().Foreground(ColorPass)
	WarnStyle   = lipgloss.NewStyle().Foreground(ColorWarn)
	FailStyle   = lipgloss.NewStyle().Foreground(ColorFail)
	MutedStyle  = lipgloss.NewStyle().Foreground(ColorMuted)
	AccentStyle = lipgloss.NewStyle().Foreground(ColorAccent)

	// CategoryStyle for section headers
	CategoryStyle = lipgloss.NewStyle().Bold(true).Foreground(ColorAccent)
)

// Status icons
const (
	IconPass = "✓"
	IconWarn = "⚠"
	IconFail = "✗"
)

// Arrow joins the two sides of a link.
const Arrow = "⇄"

func render(style lipgloss.Style, s string) string {
	if !ShouldUseColor() {
		return s
	}
	return style.Render(s)
}

// RenderPass renders text with pass (green) styling
func RenderPass(s string) string { return render(PassStyle, s) }

// RenderWarn renders text with warning (yellow) styling
func RenderWarn(s string) string { return render(WarnStyle, s) }

// RenderFail renders text with fail (red) styling
func RenderFail(s string) string { return render(FailStyle, s) }

// RenderMuted renders text with muted (gray) styling
func RenderMuted(s string) string { return render(MutedStyle, s) }

// RenderAccent renders text with accent (blue) styling
func RenderAccent(s string) string { return render(AccentStyle, s) }

// RenderCategory renders a category header in uppercase with accent color
func RenderCategory(s string) string {
	return render(CategoryStyle, strings.ToUpper(s))
}

// RenderPassIcon renders the pass icon with styling
func RenderPassIcon() string { return RenderPass(IconPass) }

// RenderWarnIcon renders the warning icon with styling
func RenderWarnIcon() string { return RenderWarn(IconWarn) }

// RenderFailIcon renders the fail icon with styling
func RenderFailIcon() string { return RenderFail(IconFail) }
