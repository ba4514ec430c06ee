package limiter

import (
	"context"
	"time"

	"go-ratecache/internal/apperror"
	"go-ratecache/internal/backend"
	"go-ratecache/internal/clock"
)

// FixedWindow admits at most Limit requests per aligned Window, resetting
// the count whenever the window has elapsed. State is (windowStart,
// count), read-modify-written under the backend's CAS so concurrent
// callers sharing one key never double-admit across the reset boundary.
type FixedWindow struct {
	b            backend.Backend
	clock        clock.Clock
	limit        int64
	window       time.Duration
	cacheTimeout time.Duration
}

// NewFixedWindow constructs a FixedWindow limiter.
func NewFixedWindow(b backend.Backend, clk clock.Clock, limit int, window, cacheTimeout time.Duration) (*FixedWindow, error) {
	if limit <= 0 {
		return nil, apperror.Config("fixed window: limit must be > 0, got %d", limit)
	}
	if window <= 0 {
		return nil, apperror.Config("fixed window: window must be > 0, got %s", window)
	}
	if clk == nil {
		clk = clock.System
	}
	return &FixedWindow{b: b, clock: clk, limit: int64(limit), window: window, cacheTimeout: cacheTimeout}, nil
}

// TryAcquire implements Limiter.
func (f *FixedWindow) TryAcquire(ctx context.Context, key string) (Decision, error) {
	windowSecs := f.window.Seconds()
	ttl := stateTTL(f.window, f.cacheTimeout)

	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		now := f.clock.Now()

		raw, ok, err := f.b.Get(ctx, key)
		if err != nil {
			return Decision{}, apperror.Backend("fixed_window.get", err)
		}

		var windowStart float64
		var count int64
		if ok {
			vals, valid := decodeFloats(raw, 2)
			if valid {
				windowStart, count = vals[0], int64(vals[1])
			}
		}
		if !ok || now-windowStart >= windowSecs {
			windowStart, count = now, 0
		}

		if count < f.limit {
			newState := encodeFloats(windowStart, float64(count+1))
			var expected []byte
			if ok {
				expected = raw
			}
			swapped, err := f.b.CAS(ctx, key, expected, newState, ttl)
			if err != nil {
				return Decision{}, apperror.Backend("fixed_window.cas", err)
			}
			if swapped {
				return Decision{Outcome: Admitted}, nil
			}
			continue // lost the race; reread and retry
		}

		return Decision{Outcome: Retry, Wait: clampWait((windowStart + windowSecs) - now)}, nil
	}

	return Decision{Outcome: Retry, Wait: waitFloor}, nil
}
