package chat

import (
	"context"
	"strings"
	"testing"

	"github.com/outofforest/qa"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"pier2pier.dev/go/pier2pier/internal/fault"
	"pier2pier.dev/go/pier2pier/internal/link"
	"pier2pier.dev/go/pier2pier/internal/protocol"
	"pier2pier.dev/go/pier2pier/internal/sigil"
	"pier2pier.dev/go/pier2pier/internal/store"
	"pier2pier.dev/go/pier2pier/internal/transport"
)

func newTestSynchronizer(t *testing.T, user string, opts ...Option) (context.Context, *Synchronizer, *store.Gateway) {
	t.Helper()
	requireT := require.New(t)

	ctx := qa.NewContext(t)
	gw := store.New(t.TempDir())
	requireT.NoError(gw.Open(ctx, user))
	t.Cleanup(func() { _ = gw.Close() })

	s, err := New(gw, user, opts...)
	requireT.NoError(err)
	s.ctx = ctx
	return ctx, s, gw
}

func encode(t *testing.T, p protocol.Payload) []byte {
	t.Helper()
	data, err := protocol.Encode(p)
	require.NoError(t, err)
	return data
}

func TestNewNormalizesLocalUser(t *testing.T) {
	requireT := require.New(t)

	s, err := New(nil, "")
	requireT.NoError(err)
	requireT.Equal("default", s.LocalUser())

	_, err = New(nil, "ab")
	requireT.ErrorIs(err, fault.ErrValidation)
}

func TestIdentityBindsConversation(t *testing.T) {
	requireT := require.New(t)

	var bound []string
	_, s, _ := newTestSynchronizer(t, "", OnBound(func(key string) { bound = append(bound, key) }))

	s.receive(encode(t, protocol.Identity{Username: "bob"}))
	requireT.Equal("bob", s.RemoteUser())
	requireT.Equal("bob:default", s.ConversationKey())
	requireT.Equal([]string{"bob:default"}, bound)
}

func TestEmptyRemoteIdentityIsDefault(t *testing.T) {
	requireT := require.New(t)
	_, s, _ := newTestSynchronizer(t, "bob")

	s.receive(encode(t, protocol.Identity{Username: ""}))
	requireT.Equal("default", s.RemoteUser())
	requireT.Equal("bob:default", s.ConversationKey())
}

func TestInvalidRemoteIdentityIsDropped(t *testing.T) {
	requireT := require.New(t)
	_, s, _ := newTestSynchronizer(t, "bob")

	s.receive(encode(t, protocol.Identity{Username: "../x"}))
	requireT.Empty(s.ConversationKey())
	requireT.EqualValues(1, s.Stats().Dropped)
}

func TestChatBeforeIdentityIsDropped(t *testing.T) {
	requireT := require.New(t)
	ctx, s, gw := newTestSynchronizer(t, "bob")

	s.receive(encode(t, protocol.Chat{Content: "too early"}))
	requireT.EqualValues(1, s.Stats().Dropped)
	requireT.Zero(s.Stats().Received)

	peers, err := gw.Peers(ctx)
	requireT.NoError(err)
	requireT.Empty(peers)
}

func TestInboundChatIsStored(t *testing.T) {
	requireT := require.New(t)

	var got []store.Message
	ctx, s, gw := newTestSynchronizer(t, "bob", OnMessage(func(m store.Message) { got = append(got, m) }))

	s.receive(encode(t, protocol.Identity{Username: ""}))
	s.receive(encode(t, protocol.Chat{Content: "hello"}))
	s.receive(encode(t, protocol.Chat{Content: "again"}))

	requireT.Len(got, 2)
	requireT.Equal("hello", got[0].Content)
	requireT.False(got[0].Sent)
	requireT.Equal("bob:default", got[0].Peer)

	conv, err := s.Conversation(ctx)
	requireT.NoError(err)
	requireT.Equal(got, conv.Messages)

	conv2, err := gw.Messages(ctx, "bob:default")
	requireT.NoError(err)
	requireT.Equal(conv, conv2)
	requireT.EqualValues(2, s.Stats().Received)
}

func TestMalformedPayloadsAreDropped(t *testing.T) {
	requireT := require.New(t)
	_, s, _ := newTestSynchronizer(t, "bob")

	s.receive(encode(t, protocol.Identity{Username: "alice"}))
	for _, data := range []string{`garbage`, `{"type":"typing"}`, `{"type":"chat","content":""}`} {
		s.receive([]byte(data))
	}
	requireT.EqualValues(3, s.Stats().Dropped)
	requireT.Equal("alice:bob", s.ConversationKey())
}

func TestOversizedPayloadIsDropped(t *testing.T) {
	requireT := require.New(t)
	config := DefaultRateLimitConfig()
	config.MaxPayloadSize = 64
	_, s, _ := newTestSynchronizer(t, "bob", WithRateLimit(config))

	s.receive(encode(t, protocol.Identity{Username: "alice"}))
	s.receive(encode(t, protocol.Chat{Content: strings.Repeat("x", 100)}))
	requireT.EqualValues(1, s.Stats().Dropped)
	requireT.Zero(s.Stats().Received)
}

func TestInboundChatIsRateLimited(t *testing.T) {
	requireT := require.New(t)
	config := DefaultRateLimitConfig()
	config.MessagesPerSecond = 0.001
	config.Burst = 2
	ctx, s, _ := newTestSynchronizer(t, "bob", WithRateLimit(config))

	s.receive(encode(t, protocol.Identity{Username: "alice"}))
	for range 5 {
		s.receive(encode(t, protocol.Chat{Content: "spam"}))
	}

	stats := s.Stats()
	requireT.EqualValues(2, stats.Received)
	requireT.EqualValues(3, stats.Dropped)

	conv, err := s.Conversation(ctx)
	requireT.NoError(err)
	requireT.Len(conv.Messages, 2)
}

func TestSendRequiresBinding(t *testing.T) {
	requireT := require.New(t)
	ctx, s, _ := newTestSynchronizer(t, "bob")

	_, err := s.Send(ctx, "hello")
	requireT.ErrorIs(err, ErrUnbound)
	requireT.ErrorIs(err, fault.ErrTransport)

	_, err = s.Conversation(ctx)
	requireT.ErrorIs(err, ErrUnbound)
}

type idleTransport struct {
	events chan transport.Event
}

func (t *idleTransport) Signal(context.Context, sigil.Descriptor) error { return nil }
func (t *idleTransport) Send([]byte) error                              { return nil }
func (t *idleTransport) Events() <-chan transport.Event                 { return t.events }
func (t *idleTransport) Close() error                                   { return nil }

func TestSendPersistsBeforeTransmit(t *testing.T) {
	requireT := require.New(t)
	ctx, s, gw := newTestSynchronizer(t, "bob")

	manager := link.NewManager(transport.CapabilityFunc(
		func(context.Context, bool) (transport.Transport, error) {
			return &idleTransport{events: make(chan transport.Event)}, nil
		}), zap.NewNop())
	t.Cleanup(manager.Destroy)

	session, err := manager.Create(ctx, false)
	requireT.NoError(err)
	s.Attach(ctx, session)
	requireT.Equal(4, session.Subscriptions())

	s.receive(encode(t, protocol.Identity{Username: "alice"}))

	// The link never connected, so the transmit fails after the message
	// was stored.
	msg, err := s.Send(ctx, "hello")
	requireT.ErrorIs(err, fault.ErrTransport)
	requireT.Equal("hello", msg.Content)
	requireT.True(msg.Sent)

	conv, err := gw.Messages(ctx, "alice:bob")
	requireT.NoError(err)
	requireT.Equal([]store.Message{msg}, conv.Messages)
	requireT.Zero(s.Stats().Sent)

	s.Detach()
	requireT.Zero(session.Subscriptions())
}
