package limiter

import (
	"context"
	"time"
)

// Scope identifies which of the three key spaces (global, host, endpoint)
// a ScopedEngine attempt is evaluating.
type Scope string

const (
	ScopeGlobal   Scope = "global"
	ScopeHost     Scope = "host"
	ScopeEndpoint Scope = "endpoint"
)

// ScopedEngine combines the global/host/endpoint scope expansion described
// in spec.md §4.3 on top of a single underlying Limiter. One Limiter
// instance (one algorithm, one set of params, one Backend) is reused
// across all three scopes — TryAcquire already takes the key as a
// parameter, so "per scope" is just "called with a different key", not a
// separate limiter per scope.
type ScopedEngine struct {
	limiter       Limiter
	perHost       bool
	perEndpoint   bool
	raiseErrors   bool
	sleepDuration time.Duration
}

// NewScopedEngine constructs a ScopedEngine. sleepDuration is carried
// through for callers (the dispatch admission phase) that need it to
// compute how long to actually sleep on a Retry; ScopedEngine itself never
// sleeps.
func NewScopedEngine(l Limiter, perHost, perEndpoint, raiseErrors bool, sleepDuration time.Duration) *ScopedEngine {
	return &ScopedEngine{
		limiter:       l,
		perHost:       perHost,
		perEndpoint:   perEndpoint,
		raiseErrors:   raiseErrors,
		sleepDuration: sleepDuration,
	}
}

// SleepDuration returns the configured polling granularity for Retry
// waits, per spec.md §6's sleep_duration option.
func (e *ScopedEngine) SleepDuration() time.Duration {
	return e.sleepDuration
}

// TryAcquire evaluates the configured scopes in fixed order — global, then
// host (if enabled), then endpoint (if enabled) — short-circuiting on the
// first non-Admitted outcome. Because every algorithm only mutates its
// state on an Admitted outcome (never on Retry), short-circuiting
// satisfies spec.md §4.3's "without consuming capacity on later scopes"
// for free: a scope that is never evaluated can never commit. It also
// means at most one Retry wait is ever produced per attempt, which is
// trivially "the maximum of the Retry waits" required by the spec.
//
// hostKey and endpointKey are ignored (and may be empty) when the
// corresponding scope is disabled.
func (e *ScopedEngine) TryAcquire(ctx context.Context, globalKey, hostKey, endpointKey string) (Decision, error) {
	keys := make([]string, 0, 3)
	keys = append(keys, globalKey)
	if e.perHost {
		keys = append(keys, hostKey)
	}
	if e.perEndpoint {
		keys = append(keys, endpointKey)
	}

	for _, key := range keys {
		d, err := e.limiter.TryAcquire(ctx, key)
		if err != nil {
			return Decision{}, err
		}
		if d.Outcome != Admitted {
			if e.raiseErrors {
				return Decision{Outcome: Rejected}, nil
			}
			return d, nil
		}
	}
	return Decision{Outcome: Admitted}, nil
}
