package limiter

import (
	"context"
	"time"

	"go-ratecache/internal/apperror"
	"go-ratecache/internal/backend"
	"go-ratecache/internal/clock"
)

// GCRA is the Generic Cell Rate Algorithm: admits at a steady rate of one
// request per Period, tolerating bursts up to Limit requests before
// imposing a wait. State is a single float, the theoretical arrival time
// (TAT), read-modify-written under CAS.
type GCRA struct {
	b                backend.Backend
	clock            clock.Clock
	emissionInterval float64 // seconds
	delayTolerance   float64 // seconds
	cacheTimeout     time.Duration
}

// NewGCRA constructs a GCRA limiter. period is the emission interval
// (seconds between admissions at the steady-state rate); limit is the
// burst size tolerated before the delay kicks in.
func NewGCRA(b backend.Backend, clk clock.Clock, period time.Duration, limit int, cacheTimeout time.Duration) (*GCRA, error) {
	if period <= 0 {
		return nil, apperror.Config("gcra: period must be > 0, got %s", period)
	}
	if limit <= 0 {
		return nil, apperror.Config("gcra: limit must be > 0, got %d", limit)
	}
	if clk == nil {
		clk = clock.System
	}
	emission := period.Seconds()
	return &GCRA{
		b:                b,
		clock:            clk,
		emissionInterval: emission,
		delayTolerance:   emission * float64(limit),
		cacheTimeout:     cacheTimeout,
	}, nil
}

// TryAcquire implements Limiter.
func (g *GCRA) TryAcquire(ctx context.Context, key string) (Decision, error) {
	ttl := stateTTL(time.Duration(g.delayTolerance*float64(time.Second)), g.cacheTimeout)

	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		now := g.clock.Now()

		raw, ok, err := g.b.Get(ctx, key)
		if err != nil {
			return Decision{}, apperror.Backend("gcra.get", err)
		}

		tat := now
		if ok {
			if vals, valid := decodeFloats(raw, 1); valid && vals[0] > tat {
				tat = vals[0]
			}
		}

		newTAT := tat + g.emissionInterval
		if newTAT-now <= g.delayTolerance {
			newState := encodeFloats(newTAT)
			var expected []byte
			if ok {
				expected = raw
			}
			swapped, err := g.b.CAS(ctx, key, expected, newState, ttl)
			if err != nil {
				return Decision{}, apperror.Backend("gcra.cas", err)
			}
			if swapped {
				return Decision{Outcome: Admitted}, nil
			}
			continue
		}

		wait := newTAT - now - g.delayTolerance
		return Decision{Outcome: Retry, Wait: clampWait(wait)}, nil
	}

	return Decision{Outcome: Retry, Wait: waitFloor}, nil
}
