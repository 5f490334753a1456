// Package ratelimit tracks the last accepted bid per bidder so the ledger can
// reject rapid-fire bidding inside a fixed window.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Limiter answers how long a bidder must still wait before the next bid is
// accepted, and records the moment a bid commits. Only accepted bids count
// against the window; rejected attempts never do.
type Limiter interface {
	// Remaining returns the wait left in the window, or zero if the bidder
	// may bid now.
	Remaining(ctx context.Context, bidderID string) (time.Duration, error)
	// MarkAccepted records that the bidder just placed an accepted bid.
	MarkAccepted(ctx context.Context, bidderID string) error
}

// MemoryLimiter keeps the last-accepted-bid times in a process-local map.
// It has no cross-process visibility; a multi-instance deployment uses
// RedisLimiter instead.
type MemoryLimiter struct {
	window time.Duration
	clock  clockwork.Clock

	mu       sync.Mutex
	lastBids map[string]time.Time
}

// NewMemoryLimiter creates an in-process limiter with the given window.
func NewMemoryLimiter(window time.Duration, clock clockwork.Clock) *MemoryLimiter {
	return &MemoryLimiter{
		window:   window,
		clock:    clock,
		lastBids: make(map[string]time.Time),
	}
}

func (l *MemoryLimiter) Remaining(_ context.Context, bidderID string) (time.Duration, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	last, ok := l.lastBids[bidderID]
	if !ok {
		return 0, nil
	}

	elapsed := l.clock.Since(last)
	if elapsed >= l.window {
		// Stale entry, drop it so the map does not grow without bound.
		delete(l.lastBids, bidderID)
		return 0, nil
	}
	return l.window - elapsed, nil
}

func (l *MemoryLimiter) MarkAccepted(_ context.Context, bidderID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lastBids[bidderID] = l.clock.Now()
	return nil
}
