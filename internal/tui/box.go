package tui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Box draws a box around text
func Box(title, content string) string {
	lines := strings.Split(content, "\n")
	width := lipgloss.Width(title)
	for _, line := range lines {
		if w := lipgloss.Width(line); w > width {
			width = w
		}
	}

	var sb strings.Builder

	// Top border
	sb.WriteString("┌─ ")
	sb.WriteString(title)
	sb.WriteString(" ")
	sb.WriteString(strings.Repeat("─", width-lipgloss.Width(title)+1))
	sb.WriteString("┐\n")

	// Content
	for _, line := range lines {
		sb.WriteString("│  ")
		sb.WriteString(line)
		sb.WriteString(strings.Repeat(" ", width-lipgloss.Width(line)))
		sb.WriteString("  │\n")
	}

	// Bottom border
	sb.WriteString("└")
	sb.WriteString(strings.Repeat("─", width+4))
	sb.WriteString("┘\n")

	return sb.String()
}

// Wrap breaks s into lines of at most width bytes. Sigils are ASCII
// without spaces, so the split is purely positional.
func Wrap(s string, width int) string {
	if width <= 0 || len(s) <= width {
		return s
	}

	var lines []string
	for len(s) > width {
		lines = append(lines, s[:width])
		s = s[width:]
	}
	if s != "" {
		lines = append(lines, s)
	}
	return strings.Join(lines, "\n")
}
