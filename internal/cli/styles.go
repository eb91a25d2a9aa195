package cli

import (
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"

	"pier2pier.dev/go/pier2pier/internal/store"
)

var (
	dimStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	titleStyle    = lipgloss.NewStyle().Bold(true)
	sentStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("6")).Bold(true)
	receivedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("5")).Bold(true)
	okStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	warnStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	errStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
)

func messageTime(m store.Message) time.Time {
	return time.UnixMilli(m.Timestamp)
}

// formatMessage renders one message line: time, author and content.
func formatMessage(m store.Message, self string) string {
	author := receivedStyle.Render(m.Peer)
	if m.Sent {
		author = sentStyle.Render(self)
	}
	return fmt.Sprintf("%s %s %s", dimStyle.Render(messageTime(m).Format("15:04:05")), author, m.Content)
}

func formatLastSeen(ms int64) string {
	if ms == 0 {
		return "never"
	}
	d := time.Since(time.UnixMilli(ms))
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return time.UnixMilli(ms).Format("2006-01-02")
	}
}
