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

func TestGCRAAllowsBurstUpToLimitThenSpacesAdmissions(t *testing.T) {
	clk := clock.NewFake(0)
	b := memory.New(memory.Options{Clock: clk, SweepInterval: time.Hour})
	defer b.Close()
	g, err := NewGCRA(b, clk, 500*time.Millisecond, 3, 0) // period .5s, burst 3
	require.NoError(t, err)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		d, err := g.TryAcquire(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, Admitted, d.Outcome, "burst %d must be admitted", i)
	}

	d, err := g.TryAcquire(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, Retry, d.Outcome)
	assert.Greater(t, d.Wait, time.Duration(0))

	clk.Advance(d.Wait.Seconds() + 0.001)
	d, err = g.TryAcquire(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, Admitted, d.Outcome)
}
