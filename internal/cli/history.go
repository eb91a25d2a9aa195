package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"pier2pier.dev/go/pier2pier/internal/store"
	"pier2pier.dev/go/pier2pier/internal/tui"
)

var historyCmd = &cobra.Command{
	Use:   "history <peer>",
	Short: "Browse the messages of a conversation",
	Long: `Browse the stored messages of a conversation.

In interactive mode, use arrow keys to scroll, / to search,
d to cycle the direction filter, and q to quit.

Examples:
  pier2pier history alice:bob
  pier2pier history alice:bob --since 24h
  pier2pier history alice:bob --direction received --format table
  pier2pier history alice:bob --format json`,
	Args: cobra.ExactArgs(1),
	RunE: runHistory,
}

func init() {
	historyCmd.Flags().String("since", "", "show messages since (e.g., 5m, 1h, 24h, 2025-01-15)")
	historyCmd.Flags().String("until", "", "show messages until")
	historyCmd.Flags().String("direction", "", "filter by direction (sent, received)")
	historyCmd.Flags().String("search", "", "search text")
	historyCmd.Flags().String("format", "tui", "output format (tui, table, json)")
	historyCmd.Flags().Int("limit", 0, "show at most this many of the latest messages")
	rootCmd.AddCommand(historyCmd)
}

// historyFilter selects messages of one conversation.
type historyFilter struct {
	Since     *time.Time
	Until     *time.Time
	Direction string
	Search    string
	Limit     int
}

func runHistory(cmd *cobra.Command, args []string) error {
	filter, err := buildHistoryFilter(cmd)
	if err != nil {
		return err
	}
	format, _ := cmd.Flags().GetString("format")

	ctx, e, err := setup(cmd)
	if err != nil {
		return err
	}
	defer e.close()

	conv, err := e.store.Messages(ctx, args[0])
	if err != nil {
		return err
	}

	switch format {
	case "json":
		return outputHistoryJSON(conv, filter)
	case "table":
		return outputHistoryTable(conv, filter)
	case "tui":
		if !tui.IsStdoutTerminal() {
			return outputHistoryTable(conv, filter)
		}
		return runHistoryTUI(ctx, e.store, conv.Peer, e.userID, filter)
	default:
		return errors.Errorf("unknown format: %s", format)
	}
}

func buildHistoryFilter(cmd *cobra.Command) (historyFilter, error) {
	var f historyFilter

	if since, _ := cmd.Flags().GetString("since"); since != "" {
		t, err := parseTimeArg(since, time.Now())
		if err != nil {
			return f, err
		}
		f.Since = &t
	}
	if until, _ := cmd.Flags().GetString("until"); until != "" {
		t, err := parseTimeArg(until, time.Now())
		if err != nil {
			return f, err
		}
		f.Until = &t
	}

	f.Direction, _ = cmd.Flags().GetString("direction")
	switch f.Direction {
	case "", store.DirectionSent, store.DirectionReceived:
	default:
		return f, errors.Errorf("invalid direction %q (use sent or received)", f.Direction)
	}

	f.Search, _ = cmd.Flags().GetString("search")
	f.Limit, _ = cmd.Flags().GetInt("limit")
	return f, nil
}

// parseTimeArg accepts a duration back from now or an absolute date.
func parseTimeArg(s string, now time.Time) (time.Time, error) {
	if d, err := time.ParseDuration(s); err == nil {
		return now.Add(-d), nil
	}

	formats := []string{
		time.RFC3339,
		"2006-01-02T15:04:05",
		"2006-01-02",
	}
	for _, f := range formats {
		if t, err := time.ParseInLocation(f, s, time.Local); err == nil {
			return t, nil
		}
	}

	return time.Time{}, errors.Errorf("invalid time format: %s", s)
}

// apply returns the matching messages in conversation order. Limit keeps
// the latest ones.
func (f historyFilter) apply(msgs []store.Message) []store.Message {
	search := strings.ToLower(f.Search)
	out := make([]store.Message, 0, len(msgs))
	for _, m := range msgs {
		ts := messageTime(m)
		if f.Since != nil && ts.Before(*f.Since) {
			continue
		}
		if f.Until != nil && ts.After(*f.Until) {
			continue
		}
		if f.Direction != "" && m.Direction() != f.Direction {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(m.Content), search) {
			continue
		}
		out = append(out, m)
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[len(out)-f.Limit:]
	}
	return out
}

// --- TUI Model ---

type historyModel struct {
	ctx         context.Context
	st          *store.Gateway
	peer        store.Peer
	self        string
	messages    []store.Message
	viewport    viewport.Model
	searchInput textinput.Model
	filter      historyFilter
	width       int
	height      int
	searching   bool
	ready       bool
	err         error
}

func newHistoryModel(ctx context.Context, st *store.Gateway, peer store.Peer, self string, filter historyFilter) historyModel {
	ti := textinput.New()
	ti.Placeholder = "Search..."
	ti.Width = 30

	return historyModel{
		ctx:         ctx,
		st:          st,
		peer:        peer,
		self:        self,
		filter:      filter,
		searchInput: ti,
	}
}

type historyLoadedMsg struct {
	messages []store.Message
	err      error
}

func (m historyModel) Init() tea.Cmd {
	return m.load
}

func (m historyModel) load() tea.Msg {
	conv, err := m.st.Messages(m.ctx, m.peer.Address)
	if err != nil {
		return historyLoadedMsg{err: err}
	}
	return historyLoadedMsg{messages: m.filter.apply(conv.Messages)}
}

func (m historyModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		headerHeight := 2
		footerHeight := 2
		m.viewport = viewport.New(msg.Width, msg.Height-headerHeight-footerHeight)
		m.viewport.SetContent(m.renderMessages())
		m.viewport.GotoBottom()
		m.ready = true
		return m, nil

	case tea.KeyMsg:
		if m.searching {
			switch msg.String() {
			case "enter":
				m.filter.Search = m.searchInput.Value()
				m.searching = false
				return m, m.load
			case "esc":
				m.searching = false
				m.searchInput.SetValue("")
				return m, nil
			}
			var cmd tea.Cmd
			m.searchInput, cmd = m.searchInput.Update(msg)
			return m, cmd
		}

		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "/":
			m.searching = true
			m.searchInput.Focus()
			return m, nil
		case "d":
			m.filter.Direction = nextDirection(m.filter.Direction)
			return m, m.load
		case "r":
			return m, m.load
		case "esc":
			m.filter.Direction = ""
			m.filter.Search = ""
			m.searchInput.SetValue("")
			return m, m.load
		case "home", "g":
			m.viewport.GotoTop()
			return m, nil
		case "end", "G":
			m.viewport.GotoBottom()
			return m, nil
		}

	case historyLoadedMsg:
		m.messages = msg.messages
		m.err = msg.err
		if m.ready {
			m.viewport.SetContent(m.renderMessages())
			m.viewport.GotoBottom()
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

func nextDirection(current string) string {
	switch current {
	case "":
		return store.DirectionSent
	case store.DirectionSent:
		return store.DirectionReceived
	default:
		return ""
	}
}

func (m historyModel) View() string {
	if !m.ready {
		return "Loading..."
	}

	var b strings.Builder
	b.WriteString(m.renderHeader())
	b.WriteString("\n")
	b.WriteString(dimStyle.Render(strings.Repeat("─", m.width)))
	b.WriteString("\n")
	b.WriteString(m.viewport.View())
	b.WriteString("\n")
	b.WriteString(dimStyle.Render(strings.Repeat("─", m.width)))
	b.WriteString("\n")

	if m.searching {
		b.WriteString("Search: ")
		b.WriteString(m.searchInput.View())
	} else {
		b.WriteString(dimStyle.Render("[↑↓] Scroll  [/] Search  [d] Direction  [esc] Clear  [r] Refresh  [q] Quit"))
	}
	return b.String()
}

func (m historyModel) renderHeader() string {
	filterStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
	countStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("3"))

	direction := "ALL"
	if m.filter.Direction != "" {
		direction = strings.ToUpper(m.filter.Direction)
	}

	header := titleStyle.Render(m.peer.Address) + "  "
	header += filterStyle.Render(fmt.Sprintf("Direction: [%s]", direction))
	if m.filter.Search != "" {
		header += filterStyle.Render(fmt.Sprintf("  Search: [%s]", m.filter.Search))
	}
	header += "  " + countStyle.Render(fmt.Sprintf("(%d messages)", len(m.messages)))
	return header
}

func (m historyModel) renderMessages() string {
	if m.err != nil {
		return errStyle.Render("Loading messages failed: " + m.err.Error())
	}
	if len(m.messages) == 0 {
		return dimStyle.Italic(true).Render("No messages found matching the current filters.")
	}

	var b strings.Builder
	var day string
	for _, msg := range m.messages {
		if d := messageTime(msg).Format("Monday, 2 January 2006"); d != day {
			day = d
			b.WriteString(dimStyle.Render("── " + day + " ──"))
			b.WriteString("\n")
		}
		line := formatMessage(msg, m.self)
		if m.width > 0 {
			line = lipgloss.NewStyle().Width(m.width).Render(line)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
	return b.String()
}

func runHistoryTUI(ctx context.Context, st *store.Gateway, peer store.Peer, self string, filter historyFilter) error {
	p := tea.NewProgram(newHistoryModel(ctx, st, peer, self, filter), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	return errors.WithStack(err)
}

// --- JSON Output ---

func outputHistoryJSON(conv store.Conversation, filter historyFilter) error {
	conv.Messages = filter.apply(conv.Messages)

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(conv)
}

// --- Table Output ---

func outputHistoryTable(conv store.Conversation, filter historyFilter) error {
	fmt.Printf("%-19s %-8s %s\n", "TIME", "DIR", "CONTENT")
	fmt.Println(strings.Repeat("-", 80))

	for _, m := range filter.apply(conv.Messages) {
		fmt.Printf("%-19s %-8s %s\n", messageTime(m).Format("2006-01-02 15:04:05"), m.Direction(), m.Content)
	}
	return nil
}
