// ratelimit.go implements transport-level token-bucket throttling shared by
// every exchange adapter.
//
// This is distinct from the engine's cycle-level rate-limit controller
// (internal/ratelimit): that package decides whether to run/skip/pause a
// tick after the venue has already signalled backoff; this one keeps an
// adapter's own REST calls under the venue's per-category request caps in
// the first place, refilling continuously rather than bursting in fixed
// windows.
package exchange

import (
	"context"
	"sync"
	"time"
)

// TokenBucket implements a token-bucket rate limiter with continuous
// refill. Callers block in Wait() until a token is available or the
// context is cancelled.
type TokenBucket struct {
	mu       sync.Mutex
	tokens   float64
	capacity float64
	rate     float64
	lastTime time.Time
}

// NewTokenBucket creates a rate limiter with the given capacity and refill
// rate.
func NewTokenBucket(capacity, ratePerSecond float64) *TokenBucket {
	return &TokenBucket{
		tokens:   capacity,
		capacity: capacity,
		rate:     ratePerSecond,
		lastTime: time.Now(),
	}
}

// Wait blocks until a token is available or ctx is cancelled.
func (tb *TokenBucket) Wait(ctx context.Context) error {
	for {
		tb.mu.Lock()
		now := time.Now()
		elapsed := now.Sub(tb.lastTime).Seconds()
		tb.tokens += elapsed * tb.rate
		if tb.tokens > tb.capacity {
			tb.tokens = tb.capacity
		}
		tb.lastTime = now

		if tb.tokens >= 1 {
			tb.tokens--
			tb.mu.Unlock()
			return nil
		}

		wait := time.Duration((1 - tb.tokens) / tb.rate * float64(time.Second))
		tb.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// RateLimiter groups token buckets by adapter REST endpoint category. Each
// adapter operation calls the appropriate bucket's Wait() before issuing
// the HTTP request.
type RateLimiter struct {
	Order  *TokenBucket // order placement
	Cancel *TokenBucket // order cancellation
	Book   *TokenBucket // order-book / account reads
}

// NewRateLimiter creates rate limiters at the given capacities (10-second
// burst allowance) with a 1/10th refill rate for smooth throttling.
func NewRateLimiter(orderCap, cancelCap, bookCap float64) *RateLimiter {
	return &RateLimiter{
		Order:  NewTokenBucket(orderCap, orderCap/10),
		Cancel: NewTokenBucket(cancelCap, cancelCap/10),
		Book:   NewTokenBucket(bookCap, bookCap/10),
	}
}
