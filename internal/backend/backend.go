// Package backend defines the uniform persistence surface shared by the
// cache engine and every rate-limit algorithm. Three implementations
// (memory, kv, sqlstore) satisfy this contract so the engines above are
// written exactly once and behave identically regardless of which one is
// plugged in.
package backend

import (
	"context"
	"time"
)

// ScoredMember is one (score, member) pair of a sorted set.
type ScoredMember struct {
	Score  float64
	Member string
}

// Backend is the atomic, TTL-aware storage contract. Every method must be
// atomic with respect to concurrent callers within the same process; the
// KV and SQL implementations additionally offer best-effort atomicity
// across processes via their own native primitives.
type Backend interface {
	// Get returns the current value for k, or ok=false if missing or
	// expired. A read of an expired key must behave as if it were absent,
	// even if the background sweeper has not yet removed it.
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)

	// Set stores v under key with the given ttl, overwriting any prior
	// value. ttl <= 0 means "no expiry".
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes key. It is idempotent: deleting a missing key is not
	// an error.
	Delete(ctx context.Context, key string) error

	// Incr atomically adds delta to the numeric value stored at key,
	// creating it with the given ttl (applied only on creation) if
	// absent, and returns the new value.
	Incr(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error)

	// ZAdd inserts (score, member) into the sorted set at key, replacing
	// any existing entry for the same member.
	ZAdd(ctx context.Context, key string, score float64, member string) error

	// ZRemRangeByScore removes all members of the sorted set at key whose
	// score is in [lo, hi] and returns the number removed.
	ZRemRangeByScore(ctx context.Context, key string, lo, hi float64) (int64, error)

	// ZCount returns the number of members of the sorted set at key whose
	// score is in [lo, hi].
	ZCount(ctx context.Context, key string, lo, hi float64) (int64, error)

	// ZRangeByScoreWithScores returns up to limit members of the sorted
	// set at key whose score is in [lo, hi], ordered by ascending score.
	// limit <= 0 means "no limit". It is used by the sliding-window
	// algorithm to find the oldest remaining timestamp when computing a
	// Retry wait.
	ZRangeByScoreWithScores(ctx context.Context, key string, lo, hi float64, limit int) ([]ScoredMember, error)

	// CAS atomically replaces the value at key with newValue, with the
	// given ttl, if and only if the current value equals expected
	// (byte-for-byte; a missing key is only "expected" if expected is
	// nil). It returns true if the swap happened.
	CAS(ctx context.Context, key string, expected, newValue []byte, ttl time.Duration) (bool, error)

	// Touch sets (or refreshes) the expiry of an existing key — string,
	// counter, or sorted set — without altering its value. ttl <= 0
	// persists the key (removes any expiry). It is a no-op if the key
	// does not exist. Rate-limit algorithms use this to apply spec.md
	// §4.3's "each limiter state key is stored with TTL equal to
	// max(natural_horizon, cache_timeout)" uniformly across the string
	// (counter/bucket) and sorted-set (sliding window) state shapes,
	// since ZAdd itself carries no ttl parameter.
	Touch(ctx context.Context, key string, ttl time.Duration) error

	// Clear removes every key under prefix.
	Clear(ctx context.Context, prefix string) error

	// Close releases any resources (connections, spawned servers, open
	// files) owned by the backend.
	Close() error
}
