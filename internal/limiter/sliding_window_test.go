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

func TestSlidingWindowAdmitsUpToLimitThenRetries(t *testing.T) {
	clk := clock.NewFake(0)
	b := memory.New(memory.Options{Clock: clk, SweepInterval: time.Hour})
	defer b.Close()
	sw, err := NewSlidingWindow(b, clk, 3, time.Second, 0)
	require.NoError(t, err)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		d, err := sw.TryAcquire(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, Admitted, d.Outcome)
	}

	d, err := sw.TryAcquire(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, Retry, d.Outcome)
	assert.InDelta(t, time.Second, d.Wait, float64(5*time.Millisecond))
}

func TestSlidingWindowAdmitsAgainAfterWindowElapses(t *testing.T) {
	clk := clock.NewFake(0)
	b := memory.New(memory.Options{Clock: clk, SweepInterval: time.Hour})
	defer b.Close()
	sw, err := NewSlidingWindow(b, clk, 1, time.Second, 0)
	require.NoError(t, err)
	ctx := context.Background()

	d, err := sw.TryAcquire(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, Admitted, d.Outcome)

	d, err = sw.TryAcquire(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, Retry, d.Outcome)

	clk.Advance(1.001)
	d, err = sw.TryAcquire(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, Admitted, d.Outcome)
}

func TestSlidingWindowRejectsInvalidParams(t *testing.T) {
	b := memory.New(memory.Options{SweepInterval: time.Hour})
	defer b.Close()
	_, err := NewSlidingWindow(b, nil, 0, time.Second, 0)
	assert.Error(t, err)
	_, err = NewSlidingWindow(b, nil, 1, 0, 0)
	assert.Error(t, err)
}
