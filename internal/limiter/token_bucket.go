package limiter

import (
	"time"

	"github.com/SmitUplenchwar2687/ratekit/internal/clock"
)

// TokenBucket implements the token bucket algorithm with discrete refills.
//
// The bucket starts full. Every whole refill interval adds refillRate tokens,
// capped at capacity. Each admitted unit consumes one token. The refill
// boundary advances by whole intervals only, so partial intervals are never
// lost, and a rejected call still applies any refill that is due.
type TokenBucket struct {
	capacity       uint64
	refillRate     uint64
	refillInterval time.Duration
	clock          clock.Clock

	g          guard
	tokens     uint64
	lastRefill time.Time
}

// NewTokenBucket creates a token bucket limiter.
//   - capacity: max tokens the bucket holds (burst)
//   - refillRate: tokens added per refill interval
//   - opts: WithInterval (refill interval, default 1s), WithClock
func NewTokenBucket(capacity, refillRate uint64, opts ...Option) (*TokenBucket, error) {
	if capacity == 0 {
		return nil, invalidf("token bucket capacity must be positive")
	}
	if refillRate == 0 {
		return nil, invalidf("token bucket refill rate must be positive")
	}
	o, err := buildOptions(opts)
	if err != nil {
		return nil, err
	}

	return &TokenBucket{
		capacity:       capacity,
		refillRate:     refillRate,
		refillInterval: o.interval,
		clock:          o.clock,
		tokens:         capacity,
		lastRefill:     o.clock.Now(),
	}, nil
}

// Allow consumes one token.
func (tb *TokenBucket) Allow() bool {
	return tb.AllowN(1)
}

// AllowN consumes n tokens if at least n are available.
func (tb *TokenBucket) AllowN(n uint64) bool {
	tb.g.lock()
	defer tb.g.unlock()

	tb.advance(tb.clock.Now())

	if n > tb.tokens {
		return false
	}
	tb.tokens -= n
	return true
}

// Tokens returns the tokens available now.
func (tb *TokenBucket) Tokens() uint64 {
	tb.g.lock()
	defer tb.g.unlock()

	tb.advance(tb.clock.Now())
	return tb.tokens
}

// Size returns the bucket capacity.
func (tb *TokenBucket) Size() uint64 {
	return tb.capacity
}

// advance applies every whole refill interval elapsed since lastRefill.
// Caller must hold the guard.
func (tb *TokenBucket) advance(now time.Time) {
	k := intervalsPassed(now.Sub(tb.lastRefill), tb.refillInterval)
	if k == 0 {
		return
	}

	tb.tokens = min(tb.capacity, saturatingAdd(tb.tokens, saturatingMul(k, tb.refillRate)))
	tb.lastRefill = tb.lastRefill.Add(mulDuration(k, tb.refillInterval))
}
