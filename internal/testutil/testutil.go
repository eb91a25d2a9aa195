// Package testutil provides helpers for pier2pier integration tests
package testutil

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"pier2pier.dev/go/pier2pier/internal/chat"
	"pier2pier.dev/go/pier2pier/internal/link"
	"pier2pier.dev/go/pier2pier/internal/store"
	"pier2pier.dev/go/pier2pier/internal/transport/direct"
)

// DefaultTimeout bounds waits in integration tests.
const DefaultTimeout = 10 * time.Second

// TestPeer is one participant with its own store, link manager and
// synchronizer, all rooted in a temporary directory.
type TestPeer struct {
	User    string
	DataDir string
	Store   *store.Gateway
	Manager *link.Manager
	Sync    *chat.Synchronizer
	Session *link.Session

	// Bound receives conversation keys, Received inbound messages.
	Bound    chan string
	Received chan store.Message

	t *testing.T
}

// NewTestPeer creates a peer for user and opens its store. Component
// loggers are silent; the synchronizer logs through the context given to
// Create. The peer is torn down when the test ends.
func NewTestPeer(ctx context.Context, t *testing.T, user string) *TestPeer {
	t.Helper()

	log := zap.NewNop()
	dataDir := t.TempDir()

	gw := store.New(dataDir, store.WithLogger(log))
	if err := gw.Open(ctx, user); err != nil {
		t.Fatalf("open store for %q: %v", user, err)
	}

	capability := direct.New(direct.Config{
		ListenAddr:     "127.0.0.1:0",
		AdvertiseHost:  "127.0.0.1",
		ConnectTimeout: DefaultTimeout,
	}, log)

	p := &TestPeer{
		User:     user,
		DataDir:  dataDir,
		Store:    gw,
		Manager:  link.NewManager(capability, log),
		Bound:    make(chan string, 8),
		Received: make(chan store.Message, 64),
		t:        t,
	}

	sync, err := chat.New(gw, user,
		chat.OnBound(func(key string) {
			select {
			case p.Bound <- key:
			default:
			}
		}),
		chat.OnMessage(func(m store.Message) {
			select {
			case p.Received <- m:
			default:
				t.Errorf("peer %q: received channel full", user)
			}
		}),
	)
	if err != nil {
		t.Fatalf("create synchronizer for %q: %v", user, err)
	}
	p.Sync = sync

	t.Cleanup(func() {
		p.Manager.Destroy()
		_ = gw.Close()
	})
	return p
}

// Create starts a session and attaches the synchronizer to it.
func (p *TestPeer) Create(ctx context.Context, initiator bool) *link.Session {
	p.t.Helper()

	s, err := p.Manager.Create(ctx, initiator)
	if err != nil {
		p.t.Fatalf("create session for %q: %v", p.User, err)
	}
	p.Sync.Attach(ctx, s)
	p.Session = s
	return s
}

// Connect runs the sigil exchange between initiator and responder and
// waits until both links are connected and bound to a conversation.
func Connect(ctx context.Context, t *testing.T, initiator, responder *TestPeer) {
	t.Helper()

	a := initiator.Create(ctx, true)
	b := responder.Create(ctx, false)

	_, offer, ok := a.LocalDescriptor()
	if !ok {
		t.Fatalf("initiator has no offer")
	}
	if err := b.IngestRemoteDescriptor(ctx, offer); err != nil {
		t.Fatalf("responder ingest offer: %v", err)
	}

	var answer string
	WaitFor(t, DefaultTimeout, func() bool {
		_, answer, ok = b.LocalDescriptor()
		return ok
	}, "responder answer")

	if err := a.IngestRemoteDescriptor(ctx, answer); err != nil {
		t.Fatalf("initiator ingest answer: %v", err)
	}

	WaitFor(t, DefaultTimeout, func() bool {
		return a.State() == link.Connected && b.State() == link.Connected
	}, "both links connected")
	WaitFor(t, DefaultTimeout, func() bool {
		return initiator.Sync.ConversationKey() != "" && responder.Sync.ConversationKey() != ""
	}, "both conversations bound")
}

// WaitFor waits for a condition to be true
func WaitFor(t *testing.T, timeout time.Duration, condition func() bool, msg string) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	for {
		if condition() {
			return
		}
		select {
		case <-ctx.Done():
			t.Fatalf("timeout waiting for: %s", msg)
		case <-ticker.C:
		}
	}
}
