package chat

import (
	"testing"

	"github.com/stretchr/testify/require"

	"pier2pier.dev/go/pier2pier/internal/protocol"
)

func TestRateLimiterBurst(t *testing.T) {
	requireT := require.New(t)

	rl := NewRateLimiter(RateLimitConfig{
		MessagesPerSecond: 0.001,
		Burst:             3,
		IdentityPerMinute: 1,
		IdentityBurst:     1,
	})

	for range 3 {
		requireT.NoError(rl.Allow(protocol.TypeChat))
	}
	requireT.ErrorIs(rl.Allow(protocol.TypeChat), ErrRateLimited)

	requireT.NoError(rl.Allow(protocol.TypeIdentity))
	requireT.ErrorIs(rl.Allow(protocol.TypeIdentity), ErrRateLimited)

	stats := rl.Stats()
	requireT.EqualValues(2, stats.TotalDropped)
	requireT.EqualValues(1, stats.DroppedByType[protocol.TypeChat])
	requireT.EqualValues(1, stats.DroppedByType[protocol.TypeIdentity])
}

func TestRateLimiterSize(t *testing.T) {
	requireT := require.New(t)

	rl := NewRateLimiter(RateLimitConfig{MaxPayloadSize: 10})
	requireT.NoError(rl.AllowSize(10))
	requireT.ErrorIs(rl.AllowSize(11), ErrRateLimited)
	requireT.EqualValues(1, rl.Stats().TotalDropped)
	requireT.Empty(rl.Stats().DroppedByType)
}

func TestRateLimiterUnknownTypeIsUnlimited(t *testing.T) {
	rl := NewRateLimiter(DefaultRateLimitConfig())
	require.NoError(t, rl.Allow(protocol.Type("other")))
}
