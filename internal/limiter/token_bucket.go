package limiter

import (
	"context"
	"time"

	"go-ratecache/internal/apperror"
	"go-ratecache/internal/backend"
	"go-ratecache/internal/clock"
)

// TokenBucket admits bursts up to Capacity, refilling at FillRate tokens
// per second. State is (tokens, lastFill), read-modify-written under CAS.
type TokenBucket struct {
	b            backend.Backend
	clock        clock.Clock
	capacity     float64
	fillRate     float64
	cacheTimeout time.Duration
}

// NewTokenBucket constructs a TokenBucket limiter.
func NewTokenBucket(b backend.Backend, clk clock.Clock, capacity, fillRate float64, cacheTimeout time.Duration) (*TokenBucket, error) {
	if capacity <= 0 {
		return nil, apperror.Config("token bucket: capacity must be > 0, got %v", capacity)
	}
	if fillRate <= 0 {
		return nil, apperror.Config("token bucket: fill_rate must be > 0, got %v", fillRate)
	}
	if clk == nil {
		clk = clock.System
	}
	return &TokenBucket{b: b, clock: clk, capacity: capacity, fillRate: fillRate, cacheTimeout: cacheTimeout}, nil
}

// TryAcquire implements Limiter.
func (tb *TokenBucket) TryAcquire(ctx context.Context, key string) (Decision, error) {
	ttl := stateTTL(time.Duration(tb.capacity/tb.fillRate*float64(time.Second)), tb.cacheTimeout)

	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		now := tb.clock.Now()

		raw, ok, err := tb.b.Get(ctx, key)
		if err != nil {
			return Decision{}, apperror.Backend("token_bucket.get", err)
		}

		var tokens, last float64
		if ok {
			if vals, valid := decodeFloats(raw, 2); valid {
				tokens, last = vals[0], vals[1]
			}
		} else {
			tokens, last = tb.capacity, now
		}

		tokens += (now - last) * tb.fillRate
		if tokens > tb.capacity {
			tokens = tb.capacity
		}
		last = now

		if tokens >= 1 {
			newState := encodeFloats(tokens-1, last)
			var expected []byte
			if ok {
				expected = raw
			}
			swapped, err := tb.b.CAS(ctx, key, expected, newState, ttl)
			if err != nil {
				return Decision{}, apperror.Backend("token_bucket.cas", err)
			}
			if swapped {
				return Decision{Outcome: Admitted}, nil
			}
			continue
		}

		wait := (1 - tokens) / tb.fillRate
		return Decision{Outcome: Retry, Wait: clampWait(wait)}, nil
	}

	return Decision{Outcome: Retry, Wait: waitFloor}, nil
}
