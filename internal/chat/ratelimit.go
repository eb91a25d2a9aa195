package chat

import (
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/time/rate"

	"pier2pier.dev/go/pier2pier/internal/protocol"
)

// ErrRateLimited is returned by RateLimiter.Allow when a payload exceeds
// its budget.
var ErrRateLimited = errors.New("rate limit exceeded")

// RateLimitConfig defines inbound payload limits for one link.
type RateLimitConfig struct {
	// MessagesPerSecond and Burst bound inbound chat payloads.
	MessagesPerSecond float64
	Burst             int

	// IdentityPerMinute and IdentityBurst bound identity payloads.
	IdentityPerMinute int
	IdentityBurst     int

	// MaxPayloadSize bounds every inbound payload in bytes.
	MaxPayloadSize int
}

// DefaultRateLimitConfig returns the limits used when none are configured.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		MessagesPerSecond: 20,
		Burst:             40,
		IdentityPerMinute: 6,
		IdentityBurst:     3,
		MaxPayloadSize:    32 * 1024,
	}
}

// RateLimiter applies per-type limits to inbound payloads and counts drops.
type RateLimiter struct {
	config   RateLimitConfig
	limiters map[protocol.Type]*rate.Limiter

	mu            sync.RWMutex
	droppedByType map[protocol.Type]int64
	dropped       int64
}

// NewRateLimiter creates a rate limiter.
func NewRateLimiter(config RateLimitConfig) *RateLimiter {
	return &RateLimiter{
		config: config,
		limiters: map[protocol.Type]*rate.Limiter{
			protocol.TypeChat: rate.NewLimiter(rate.Limit(config.MessagesPerSecond), config.Burst),
			protocol.TypeIdentity: rate.NewLimiter(
				rate.Limit(float64(config.IdentityPerMinute)/60.0), config.IdentityBurst),
		},
		droppedByType: map[protocol.Type]int64{},
	}
}

// AllowSize checks a raw payload against the size limit before decoding.
func (rl *RateLimiter) AllowSize(size int) error {
	if rl.config.MaxPayloadSize > 0 && size > rl.config.MaxPayloadSize {
		rl.recordDrop("")
		return errors.Wrapf(ErrRateLimited, "payload size %d exceeds limit %d", size, rl.config.MaxPayloadSize)
	}
	return nil
}

// Allow checks whether a decoded payload of type t fits its budget.
func (rl *RateLimiter) Allow(t protocol.Type) error {
	limiter, ok := rl.limiters[t]
	if !ok {
		return nil
	}
	if !limiter.Allow() {
		rl.recordDrop(t)
		return errors.Wrapf(ErrRateLimited, "%s payloads", t)
	}
	return nil
}

// RecordDrop counts a payload dropped for a reason other than its rate.
func (rl *RateLimiter) RecordDrop(t protocol.Type) {
	rl.recordDrop(t)
}

func (rl *RateLimiter) recordDrop(t protocol.Type) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.dropped++
	if t != "" {
		rl.droppedByType[t]++
	}
}

// Stats returns drop counters.
func (rl *RateLimiter) Stats() RateLimitStats {
	rl.mu.RLock()
	defer rl.mu.RUnlock()

	stats := RateLimitStats{
		TotalDropped:  rl.dropped,
		DroppedByType: make(map[protocol.Type]int64, len(rl.droppedByType)),
	}
	for k, v := range rl.droppedByType {
		stats.DroppedByType[k] = v
	}
	return stats
}

// RateLimitStats holds drop counters.
type RateLimitStats struct {
	TotalDropped  int64
	DroppedByType map[protocol.Type]int64
}
