// Package ui holds the lipgloss styles used by the status screen.
package ui

import (
	"sort"

	"github.com/charmbracelet/lipgloss"
)

// Theme is the set of styles the status screen draws with.
type Theme struct {
	Name    string
	Accent  lipgloss.Style
	Dim     lipgloss.Style
	Text    lipgloss.Style
	Title   lipgloss.Style
	Error   lipgloss.Style
	Success lipgloss.Style
	Warning lipgloss.Style
	Border  lipgloss.Style
	// Box frames the now-playing and diagnostics panels.
	Box lipgloss.Style
}

const DefaultTheme = "rainbow"

type palette struct {
	accent, dim, text, title, err, ok, warn, border string
}

var palettes = map[string]palette{
	"rainbow": {"#FF6FF7", "#6C6F93", "#E6E6FA", "#8EEBFF", "#FF5F56", "#5CFF5C", "#FFD166", "#7C7CFF"},
	"mono":    {"#FFFFFF", "#666666", "#CCCCCC", "#FFFFFF", "#FFFFFF", "#CCCCCC", "#AAAAAA", "#888888"},
	"green":   {"#00FF00", "#005500", "#00CC00", "#00FF00", "#00FF00", "#00FF00", "#00CC00", "#008800"},
	"dracula": {"#FF79C6", "#6272A4", "#F8F8F2", "#BD93F9", "#FF5555", "#50FA7B", "#FFB86C", "#6272A4"},
	"nord":    {"#88C0D0", "#4C566A", "#D8DEE9", "#81A1C1", "#BF616A", "#A3BE8C", "#EBCB8B", "#4C566A"},
	"gruvbox": {"#FE8019", "#928374", "#EBDBB2", "#FABD2F", "#FB4934", "#B8BB26", "#FABD2F", "#8EC07C"},
}

// ThemeNames returns the available theme names, sorted, including "nocolor".
func ThemeNames() []string {
	names := make([]string, 0, len(palettes)+1)
	for name := range palettes {
		names = append(names, name)
	}
	names = append(names, "nocolor")
	sort.Strings(names)
	return names
}

// ValidTheme reports whether name is a known theme.
func ValidTheme(name string) bool {
	if name == "nocolor" {
		return true
	}
	_, ok := palettes[name]
	return ok
}

// GetTheme returns a theme by name, falling back to rainbow. noColor (the
// NO_COLOR environment variable or ui.no_color) wins over the name.
func GetTheme(name string, noColor bool) Theme {
	if noColor || name == "nocolor" {
		return NoColor()
	}
	p, ok := palettes[name]
	if !ok {
		name, p = DefaultTheme, palettes[DefaultTheme]
	}
	fg := func(c string) lipgloss.Style { return lipgloss.NewStyle().Foreground(lipgloss.Color(c)) }
	return Theme{
		Name:    name,
		Accent:  fg(p.accent).Bold(true),
		Dim:     fg(p.dim),
		Text:    fg(p.text),
		Title:   fg(p.title).Bold(true),
		Error:   fg(p.err).Bold(true),
		Success: fg(p.ok).Bold(true),
		Warning: fg(p.warn).Bold(true),
		Border:  fg(p.border),
		Box: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color(p.border)).
			Padding(0, 1),
	}
}

// NoColor uses only bold and reverse.
func NoColor() Theme {
	reset := lipgloss.NewStyle()
	return Theme{
		Name:    "nocolor",
		Accent:  reset.Bold(true),
		Dim:     reset,
		Text:    reset,
		Title:   reset.Bold(true),
		Error:   reset.Bold(true).Reverse(true),
		Success: reset.Bold(true),
		Warning: reset.Bold(true),
		Border:  reset,
		Box:     reset.Border(lipgloss.NormalBorder()).Padding(0, 1),
	}
}
