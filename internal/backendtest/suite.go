// Package backendtest provides a conformance test suite run against every
// backend.Backend implementation (memory, kv, sqlstore), so cross-backend
// equivalence (spec.md §8: "running an identical request sequence against
// each of the three backends yields the same admission decisions and same
// cache contents") is a property checked once per backend rather than
// three times by hand.
package backendtest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-ratecache/internal/backend"
)

// Suite exercises the full backend.Backend contract against b. Callers
// construct a fresh, empty backend per call (the suite does not assume
// isolation between runs).
func Suite(t *testing.T, b backend.Backend) {
	t.Helper()
	ctx := context.Background()

	t.Run("GetMissing", func(t *testing.T) {
		_, ok, err := b.Get(ctx, "missing-key")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("SetGet", func(t *testing.T) {
		require.NoError(t, b.Set(ctx, "k1", []byte("hello"), time.Minute))
		v, ok, err := b.Get(ctx, "k1")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, []byte("hello"), v)
	})

	t.Run("SetOverwrites", func(t *testing.T) {
		require.NoError(t, b.Set(ctx, "k2", []byte("a"), time.Minute))
		require.NoError(t, b.Set(ctx, "k2", []byte("b"), time.Minute))
		v, ok, err := b.Get(ctx, "k2")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, []byte("b"), v)
	})

	t.Run("SetTTLExpires", func(t *testing.T) {
		require.NoError(t, b.Set(ctx, "k3", []byte("soon"), 10*time.Millisecond))
		time.Sleep(30 * time.Millisecond)
		_, ok, err := b.Get(ctx, "k3")
		require.NoError(t, err)
		assert.False(t, ok, "expired key must read as absent")
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, b.Set(ctx, "k4", []byte("x"), time.Minute))
		require.NoError(t, b.Delete(ctx, "k4"))
		_, ok, err := b.Get(ctx, "k4")
		require.NoError(t, err)
		assert.False(t, ok)
		// idempotent
		require.NoError(t, b.Delete(ctx, "k4"))
	})

	t.Run("Incr", func(t *testing.T) {
		v, err := b.Incr(ctx, "counter1", 1, time.Minute)
		require.NoError(t, err)
		assert.Equal(t, int64(1), v)
		v, err = b.Incr(ctx, "counter1", 5, time.Minute)
		require.NoError(t, err)
		assert.Equal(t, int64(6), v)
	})

	t.Run("IncrNegative", func(t *testing.T) {
		_, err := b.Incr(ctx, "counter2", 10, time.Minute)
		require.NoError(t, err)
		v, err := b.Incr(ctx, "counter2", -3, time.Minute)
		require.NoError(t, err)
		assert.Equal(t, int64(7), v)
	})

	t.Run("ZAddZCountZRemRangeByScore", func(t *testing.T) {
		key := "zset1"
		require.NoError(t, b.ZAdd(ctx, key, 1, "a"))
		require.NoError(t, b.ZAdd(ctx, key, 2, "b"))
		require.NoError(t, b.ZAdd(ctx, key, 3, "c"))

		count, err := b.ZCount(ctx, key, 0, 10)
		require.NoError(t, err)
		assert.Equal(t, int64(3), count)

		count, err = b.ZCount(ctx, key, 2, 2)
		require.NoError(t, err)
		assert.Equal(t, int64(1), count)

		removed, err := b.ZRemRangeByScore(ctx, key, 0, 1)
		require.NoError(t, err)
		assert.Equal(t, int64(1), removed)

		count, err = b.ZCount(ctx, key, 0, 10)
		require.NoError(t, err)
		assert.Equal(t, int64(2), count)
	})

	t.Run("ZAddUpdatesExistingMember", func(t *testing.T) {
		key := "zset2"
		require.NoError(t, b.ZAdd(ctx, key, 1, "m"))
		require.NoError(t, b.ZAdd(ctx, key, 9, "m"))
		members, err := b.ZRangeByScoreWithScores(ctx, key, 0, 100, 0)
		require.NoError(t, err)
		require.Len(t, members, 1)
		assert.Equal(t, float64(9), members[0].Score)
	})

	t.Run("ZRangeByScoreWithScoresOrderedAndLimited", func(t *testing.T) {
		key := "zset3"
		require.NoError(t, b.ZAdd(ctx, key, 3, "c"))
		require.NoError(t, b.ZAdd(ctx, key, 1, "a"))
		require.NoError(t, b.ZAdd(ctx, key, 2, "b"))

		all, err := b.ZRangeByScoreWithScores(ctx, key, 0, 100, 0)
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.Equal(t, "a", all[0].Member)
		assert.Equal(t, "b", all[1].Member)
		assert.Equal(t, "c", all[2].Member)

		limited, err := b.ZRangeByScoreWithScores(ctx, key, 0, 100, 1)
		require.NoError(t, err)
		require.Len(t, limited, 1)
		assert.Equal(t, "a", limited[0].Member)
	})

	t.Run("CASSucceedsOnMatchAndFailsOnMismatch", func(t *testing.T) {
		key := "cas1"
		ok, err := b.CAS(ctx, key, nil, []byte("v1"), time.Minute)
		require.NoError(t, err)
		assert.True(t, ok, "CAS against absent key with nil expected must succeed")

		ok, err = b.CAS(ctx, key, []byte("wrong"), []byte("v2"), time.Minute)
		require.NoError(t, err)
		assert.False(t, ok)

		v, _, err := b.Get(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, []byte("v1"), v, "failed CAS must not mutate the value")

		ok, err = b.CAS(ctx, key, []byte("v1"), []byte("v2"), time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)
		v, _, err = b.Get(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, []byte("v2"), v)
	})

	t.Run("TouchRefreshesStringTTL", func(t *testing.T) {
		key := "touch1"
		require.NoError(t, b.Set(ctx, key, []byte("v"), 10*time.Millisecond))
		require.NoError(t, b.Touch(ctx, key, time.Minute))
		time.Sleep(30 * time.Millisecond)
		_, ok, err := b.Get(ctx, key)
		require.NoError(t, err)
		assert.True(t, ok, "Touch must refresh the TTL of a string key past its original expiry")
	})

	t.Run("TouchPreservesZsetMembership", func(t *testing.T) {
		key := "touch2"
		require.NoError(t, b.ZAdd(ctx, key, 1, "m"))
		require.NoError(t, b.Touch(ctx, key, time.Minute))
		count, err := b.ZCount(ctx, key, 0, 10)
		require.NoError(t, err)
		assert.Equal(t, int64(1), count, "Touch must not alter sorted-set membership")
	})

	t.Run("TouchOnMissingKeyIsNoop", func(t *testing.T) {
		require.NoError(t, b.Touch(ctx, "touch-missing", time.Minute))
		_, ok, err := b.Get(ctx, "touch-missing")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("Clear", func(t *testing.T) {
		require.NoError(t, b.Set(ctx, "prefix:a", []byte("1"), time.Minute))
		require.NoError(t, b.Set(ctx, "prefix:b", []byte("2"), time.Minute))
		require.NoError(t, b.Set(ctx, "other:c", []byte("3"), time.Minute))

		require.NoError(t, b.Clear(ctx, "prefix:"))

		_, ok, _ := b.Get(ctx, "prefix:a")
		assert.False(t, ok)
		_, ok, _ = b.Get(ctx, "prefix:b")
		assert.False(t, ok)
		_, ok, _ = b.Get(ctx, "other:c")
		assert.True(t, ok, "Clear must not touch keys outside the prefix")
	})
}
