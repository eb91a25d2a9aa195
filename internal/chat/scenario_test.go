package chat_test

import (
	"testing"

	"github.com/outofforest/qa"
	"github.com/stretchr/testify/require"

	"pier2pier.dev/go/pier2pier/internal/chat"
	"pier2pier.dev/go/pier2pier/internal/link"
	"pier2pier.dev/go/pier2pier/internal/store"
	"pier2pier.dev/go/pier2pier/internal/testutil"
)

func TestAliceAndBobExchangeMessage(t *testing.T) {
	requireT := require.New(t)
	ctx := qa.NewContext(t)

	alice := testutil.NewTestPeer(ctx, t, "")
	bob := testutil.NewTestPeer(ctx, t, "bob")
	requireT.Equal("default", alice.Store.UserID())

	testutil.Connect(ctx, t, alice, bob)

	requireT.Equal("bob:default", alice.Sync.ConversationKey())
	requireT.Equal("bob:default", bob.Sync.ConversationKey())
	requireT.Equal("bob", alice.Sync.RemoteUser())
	requireT.Equal("default", bob.Sync.RemoteUser())
	requireT.Equal("bob:default", <-alice.Bound)
	requireT.Equal("bob:default", <-bob.Bound)

	sent, err := alice.Sync.Send(ctx, "hello")
	requireT.NoError(err)
	requireT.True(sent.Sent)

	var received store.Message
	select {
	case received = <-bob.Received:
	case <-ctx.Done():
		t.Fatal("context ended before bob received the message")
	}
	requireT.Equal("hello", received.Content)
	requireT.False(received.Sent)

	bobConv, err := bob.Store.Messages(ctx, "bob:default")
	requireT.NoError(err)
	requireT.Len(bobConv.Messages, 1)
	requireT.Equal("hello", bobConv.Messages[0].Content)
	requireT.False(bobConv.Messages[0].Sent)

	aliceConv, err := alice.Store.Messages(ctx, "bob:default")
	requireT.NoError(err)
	requireT.Len(aliceConv.Messages, 1)
	requireT.Equal("hello", aliceConv.Messages[0].Content)
	requireT.True(aliceConv.Messages[0].Sent)

	requireT.EqualValues(1, alice.Sync.Stats().Sent)
	requireT.EqualValues(1, bob.Sync.Stats().Received)
	requireT.Zero(bob.Sync.Stats().Dropped)
}

func TestConversationOrderAcrossBothDirections(t *testing.T) {
	requireT := require.New(t)
	ctx := qa.NewContext(t)

	alice := testutil.NewTestPeer(ctx, t, "alice")
	bob := testutil.NewTestPeer(ctx, t, "bob")
	testutil.Connect(ctx, t, bob, alice)

	_, err := alice.Sync.Send(ctx, "one")
	requireT.NoError(err)
	<-bob.Received
	_, err = bob.Sync.Send(ctx, "two")
	requireT.NoError(err)
	<-alice.Received
	_, err = alice.Sync.Send(ctx, "three")
	requireT.NoError(err)
	<-bob.Received

	for _, p := range []*testutil.TestPeer{alice, bob} {
		conv, err := p.Sync.Conversation(ctx)
		requireT.NoError(err)
		requireT.Equal("alice:bob", conv.Peer.Address)
		requireT.Len(conv.Messages, 3)
		for i, content := range []string{"one", "two", "three"} {
			requireT.Equal(content, conv.Messages[i].Content)
		}
	}
}

func TestSendAfterRemoteCloseFails(t *testing.T) {
	requireT := require.New(t)
	ctx := qa.NewContext(t)

	alice := testutil.NewTestPeer(ctx, t, "alice")
	bob := testutil.NewTestPeer(ctx, t, "bob")
	testutil.Connect(ctx, t, alice, bob)

	bob.Manager.Destroy()
	testutil.WaitFor(t, testutil.DefaultTimeout, func() bool {
		return alice.Session.State().Terminal() && alice.Session.Subscriptions() == 0
	}, "alice link torn down")

	_, err := alice.Sync.Send(ctx, "anyone there?")
	requireT.ErrorIs(err, chat.ErrUnbound)

	// The conversation stays readable after the link ended.
	conv, err := alice.Sync.Conversation(ctx)
	requireT.NoError(err)
	requireT.Empty(conv.Messages)
}

func TestRecreateSessionKeepsOneLive(t *testing.T) {
	requireT := require.New(t)
	ctx := qa.NewContext(t)

	alice := testutil.NewTestPeer(ctx, t, "alice")
	first := alice.Create(ctx, true)
	second := alice.Create(ctx, true)

	requireT.Equal(link.Idle, first.State())
	requireT.Zero(first.Subscriptions())
	requireT.Equal(link.AwaitingRemoteDescriptor, second.State())
	requireT.Same(second, alice.Manager.Current())
}
