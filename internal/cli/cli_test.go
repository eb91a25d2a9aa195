package cli

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/outofforest/qa"
	"github.com/stretchr/testify/require"

	"pier2pier.dev/go/pier2pier/internal/config"
	"pier2pier.dev/go/pier2pier/internal/fault"
	"pier2pier.dev/go/pier2pier/internal/store"
)

func runCLI(t *testing.T, args ...string) error {
	t.Helper()
	cfgFile, userFlag, verboseLog = "", "", false
	initName, initAdvertiseHost, initForce = "", "", false
	whoamiPeer = ""
	rootCmd.SetArgs(args)
	return rootCmd.ExecuteContext(qa.NewContext(t))
}

func TestParseParam(t *testing.T) {
	requireT := require.New(t)

	requireT.Nil(parseParam("null"))
	requireT.Nil(parseParam("NULL"))
	requireT.Equal(int64(42), parseParam("42"))
	requireT.Equal(int64(-7), parseParam("-7"))
	requireT.Equal(1.5, parseParam("1.5"))
	requireT.Equal("alice:bob", parseParam("alice:bob"))
	requireT.Equal("", parseParam(""))
}

func TestParseTimeArg(t *testing.T) {
	requireT := require.New(t)
	now := time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC)

	ts, err := parseTimeArg("1h", now)
	requireT.NoError(err)
	requireT.Equal(now.Add(-time.Hour), ts)

	ts, err = parseTimeArg("2025-01-10T08:30:00Z", now)
	requireT.NoError(err)
	requireT.True(ts.Equal(time.Date(2025, 1, 10, 8, 30, 0, 0, time.UTC)))

	ts, err = parseTimeArg("2025-01-10", now)
	requireT.NoError(err)
	requireT.Equal(10, ts.Day())

	_, err = parseTimeArg("yesterday", now)
	requireT.Error(err)
}

func testMessages() []store.Message {
	base := time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC).UnixMilli()
	return []store.Message{
		{ID: "1", Peer: "alice:bob", Content: "Hello Bob", Timestamp: base, Sent: true},
		{ID: "2", Peer: "alice:bob", Content: "hi alice", Timestamp: base + 1000},
		{ID: "3", Peer: "alice:bob", Content: "how are you?", Timestamp: base + 2000, Sent: true},
		{ID: "4", Peer: "alice:bob", Content: "fine, HELLO again", Timestamp: base + 3000},
	}
}

func ids(msgs []store.Message) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.ID)
	}
	return out
}

func TestHistoryFilter(t *testing.T) {
	msgs := testMessages()
	since := time.UnixMilli(msgs[1].Timestamp)
	until := time.UnixMilli(msgs[2].Timestamp)

	tests := []struct {
		name   string
		filter historyFilter
		want   []string
	}{
		{name: "all", filter: historyFilter{}, want: []string{"1", "2", "3", "4"}},
		{name: "sent", filter: historyFilter{Direction: store.DirectionSent}, want: []string{"1", "3"}},
		{name: "received", filter: historyFilter{Direction: store.DirectionReceived}, want: []string{"2", "4"}},
		{name: "search ignores case", filter: historyFilter{Search: "hello"}, want: []string{"1", "4"}},
		{name: "since", filter: historyFilter{Since: &since}, want: []string{"2", "3", "4"}},
		{name: "until", filter: historyFilter{Until: &until}, want: []string{"1", "2", "3"}},
		{name: "limit keeps latest", filter: historyFilter{Limit: 2}, want: []string{"3", "4"}},
		{name: "combined", filter: historyFilter{Direction: store.DirectionReceived, Limit: 1}, want: []string{"4"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, ids(tt.filter.apply(msgs)))
		})
	}
}

func TestNextDirectionCycles(t *testing.T) {
	requireT := require.New(t)

	d := nextDirection("")
	requireT.Equal(store.DirectionSent, d)
	d = nextDirection(d)
	requireT.Equal(store.DirectionReceived, d)
	requireT.Equal("", nextDirection(d))
}

func TestHistoryModel(t *testing.T) {
	requireT := require.New(t)

	m := newHistoryModel(qa.NewContext(t), nil, store.Peer{Address: "alice:bob"}, "alice", historyFilter{})
	requireT.Equal("Loading...", m.View())

	model, _ := m.Update(tea.WindowSizeMsg{Width: 80, Height: 20})
	model, _ = model.Update(historyLoadedMsg{messages: testMessages()})
	m = model.(historyModel)
	requireT.True(m.ready)
	requireT.Len(m.messages, 4)

	view := m.View()
	requireT.Contains(view, "alice:bob")
	requireT.Contains(view, "(4 messages)")
	requireT.Contains(view, "Direction: [ALL]")

	model, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("d")})
	m = model.(historyModel)
	requireT.Equal(store.DirectionSent, m.filter.Direction)
	requireT.NotNil(cmd)

	model, _ = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("/")})
	m = model.(historyModel)
	requireT.True(m.searching)
	requireT.Contains(m.View(), "Search: ")

	model, _ = m.Update(tea.KeyMsg{Type: tea.KeyEsc})
	m = model.(historyModel)
	requireT.False(m.searching)

	model, _ = m.Update(historyLoadedMsg{})
	m = model.(historyModel)
	requireT.Contains(m.View(), "No messages found")
}

func TestFormatLastSeen(t *testing.T) {
	requireT := require.New(t)

	requireT.Equal("never", formatLastSeen(0))
	requireT.Equal("just now", formatLastSeen(time.Now().UnixMilli()))
	requireT.Equal("5m ago", formatLastSeen(time.Now().Add(-5*time.Minute-time.Second).UnixMilli()))
	requireT.Equal("3h ago", formatLastSeen(time.Now().Add(-3*time.Hour-time.Second).UnixMilli()))

	old := time.Date(2020, 2, 3, 12, 0, 0, 0, time.Local)
	requireT.Equal("2020-02-03", formatLastSeen(old.UnixMilli()))
}

func TestFormatCell(t *testing.T) {
	requireT := require.New(t)

	requireT.Equal("NULL", formatCell(nil))
	requireT.Equal("42", formatCell(int64(42)))
	requireT.Equal(`a\nb c`, formatCell("a\nb\tc"))
}

func TestFormatMessage(t *testing.T) {
	requireT := require.New(t)

	msgs := testMessages()
	sent := formatMessage(msgs[0], "alice")
	requireT.Contains(sent, "alice")
	requireT.Contains(sent, "Hello Bob")

	received := formatMessage(msgs[1], "alice")
	requireT.Contains(received, "alice:bob")
	requireT.Contains(received, "hi alice")
}

func TestCommandsManageConversations(t *testing.T) {
	requireT := require.New(t)
	dir := t.TempDir()
	t.Setenv(config.EnvConfigDir, dir)

	requireT.NoError(runCLI(t, "open", "alice:bob"))
	requireT.NoError(runCLI(t, "open", "alice:carol"))
	requireT.NoError(runCLI(t, "query", "UPDATE peers SET name = ? WHERE address = ?", "Bob", "alice:bob"))
	requireT.NoError(runCLI(t, "delete", "--yes", "alice:carol"))
	requireT.NoError(runCLI(t, "conversations"))
	requireT.NoError(runCLI(t, "inspect"))

	ctx := qa.NewContext(t)
	gw := store.New(filepath.Join(dir, "data"))
	requireT.NoError(gw.Open(ctx, ""))
	defer gw.Close()

	peers, err := gw.Peers(ctx)
	requireT.NoError(err)
	requireT.Len(peers, 1)
	requireT.Equal("alice:bob", peers[0].Address)
	requireT.Equal("Bob", peers[0].Name)
}

func TestCommandsUseSelectedIdentity(t *testing.T) {
	requireT := require.New(t)
	dir := t.TempDir()
	t.Setenv(config.EnvConfigDir, dir)

	requireT.NoError(runCLI(t, "--user", "bob", "open", "bob:default"))

	ctx := qa.NewContext(t)
	gw := store.New(filepath.Join(dir, "data"))
	requireT.NoError(gw.Open(ctx, "bob"))
	defer gw.Close()

	peers, err := gw.Peers(ctx)
	requireT.NoError(err)
	requireT.Len(peers, 1)

	requireT.NoError(gw.Open(ctx, ""))
	peers, err = gw.Peers(ctx)
	requireT.NoError(err)
	requireT.Empty(peers)
}

func TestQueryRejectsInjection(t *testing.T) {
	requireT := require.New(t)
	t.Setenv(config.EnvConfigDir, t.TempDir())

	err := runCLI(t, "query", "SELECT * FROM peers; DROP TABLE peers")
	requireT.ErrorIs(err, fault.ErrValidation)

	err = runCLI(t, "query", "PRAGMA table_info(peers)")
	requireT.ErrorIs(err, fault.ErrValidation)
}

func TestInvalidIdentityStopsCommand(t *testing.T) {
	t.Setenv(config.EnvConfigDir, t.TempDir())

	err := runCLI(t, "--user", "../escape", "conversations")
	require.Error(t, err)
	require.True(t, strings.Contains(err.Error(), "identity"))
}

func TestSigilDecodeRejectsGarbage(t *testing.T) {
	err := runCLI(t, "sigil", "decode", "not-a-sigil")
	require.ErrorIs(t, err, fault.ErrValidation)
}

func TestInitWritesConfig(t *testing.T) {
	requireT := require.New(t)
	dir := t.TempDir()
	t.Setenv(config.EnvConfigDir, dir)

	requireT.NoError(runCLI(t, "init", "--name", "alice", "--advertise-host", "alice.lan"))

	paths := config.PathsIn(dir)
	cfg, err := config.LoadFrom(paths.ConfigFile)
	requireT.NoError(err)
	requireT.Equal("alice", cfg.Identity.User)
	requireT.Equal("alice.lan", cfg.Transport.AdvertiseHost)

	requireT.Error(runCLI(t, "init", "--name", "bob"))
	requireT.NoError(runCLI(t, "init", "--name", "bob", "--force"))

	cfg, err = config.LoadFrom(paths.ConfigFile)
	requireT.NoError(err)
	requireT.Equal("bob", cfg.Identity.User)

	requireT.ErrorIs(runCLI(t, "init", "--name", "no", "--force"), fault.ErrValidation)
}

func TestConfiguredIdentityIsDefault(t *testing.T) {
	requireT := require.New(t)
	dir := t.TempDir()
	t.Setenv(config.EnvConfigDir, dir)

	requireT.NoError(runCLI(t, "init", "--name", "carol"))
	requireT.NoError(runCLI(t, "open", "carol:dave"))
	requireT.NoError(runCLI(t, "whoami", "--peer", "dave"))

	ctx := qa.NewContext(t)
	gw := store.New(filepath.Join(dir, "data"))
	requireT.NoError(gw.Open(ctx, "carol"))
	defer gw.Close()

	peers, err := gw.Peers(ctx)
	requireT.NoError(err)
	requireT.Len(peers, 1)
	requireT.Equal("carol:dave", peers[0].Address)
}
