package limiter

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-ratecache/internal/backend/memory"
	"go-ratecache/internal/clock"
)

func TestLeakyBucketAdmitsUpToCapacityThenDrains(t *testing.T) {
	clk := clock.NewFake(0)
	b := memory.New(memory.Options{Clock: clk, SweepInterval: time.Hour})
	defer b.Close()
	lb, err := NewLeakyBucket(b, clk, 2, 1, 0) // capacity 2, leak 1/s
	require.NoError(t, err)
	ctx := context.Background()

	d, err := lb.TryAcquire(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, Admitted, d.Outcome)
	d, err = lb.TryAcquire(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, Admitted, d.Outcome)

	d, err = lb.TryAcquire(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, Retry, d.Outcome)
	assert.Greater(t, d.Wait, time.Duration(0))

	clk.Advance(1.0)
	d, err = lb.TryAcquire(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, Admitted, d.Outcome, "leaking for 1s at rate 1 must free capacity")
}
