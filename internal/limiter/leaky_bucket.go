package limiter

import (
	"context"
	"time"

	"go-ratecache/internal/apperror"
	"go-ratecache/internal/backend"
	"go-ratecache/internal/clock"
)

// LeakyBucket admits work at a steady LeakRate, queueing burstiness into a
// bucket of Capacity that drains continuously between attempts. State is
// (level, lastLeak), read-modify-written under CAS.
type LeakyBucket struct {
	b            backend.Backend
	clock        clock.Clock
	capacity     float64
	leakRate     float64
	cacheTimeout time.Duration
}

// NewLeakyBucket constructs a LeakyBucket limiter.
func NewLeakyBucket(b backend.Backend, clk clock.Clock, capacity, leakRate float64, cacheTimeout time.Duration) (*LeakyBucket, error) {
	if capacity <= 0 {
		return nil, apperror.Config("leaky bucket: capacity must be > 0, got %v", capacity)
	}
	if leakRate <= 0 {
		return nil, apperror.Config("leaky bucket: leak_rate must be > 0, got %v", leakRate)
	}
	if clk == nil {
		clk = clock.System
	}
	return &LeakyBucket{b: b, clock: clk, capacity: capacity, leakRate: leakRate, cacheTimeout: cacheTimeout}, nil
}

// TryAcquire implements Limiter.
func (l *LeakyBucket) TryAcquire(ctx context.Context, key string) (Decision, error) {
	ttl := stateTTL(time.Duration(l.capacity/l.leakRate*float64(time.Second)), l.cacheTimeout)

	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		now := l.clock.Now()

		raw, ok, err := l.b.Get(ctx, key)
		if err != nil {
			return Decision{}, apperror.Backend("leaky_bucket.get", err)
		}

		var level, last float64
		if ok {
			if vals, valid := decodeFloats(raw, 2); valid {
				level, last = vals[0], vals[1]
			}
		} else {
			last = now
		}

		level -= (now - last) * l.leakRate
		if level < 0 {
			level = 0
		}
		last = now

		if level+1 <= l.capacity {
			newState := encodeFloats(level+1, last)
			var expected []byte
			if ok {
				expected = raw
			}
			swapped, err := l.b.CAS(ctx, key, expected, newState, ttl)
			if err != nil {
				return Decision{}, apperror.Backend("leaky_bucket.cas", err)
			}
			if swapped {
				return Decision{Outcome: Admitted}, nil
			}
			continue
		}

		wait := (level + 1 - l.capacity) / l.leakRate
		return Decision{Outcome: Retry, Wait: clampWait(wait)}, nil
	}

	return Decision{Outcome: Retry, Wait: waitFloor}, nil
}
