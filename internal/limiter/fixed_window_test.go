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

func TestFixedWindowAdmitsUpToLimitThenResetsOnNextWindow(t *testing.T) {
	clk := clock.NewFake(0)
	b := memory.New(memory.Options{Clock: clk, SweepInterval: time.Hour})
	defer b.Close()
	fw, err := NewFixedWindow(b, clk, 2, time.Second, 0)
	require.NoError(t, err)
	ctx := context.Background()

	d, err := fw.TryAcquire(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, Admitted, d.Outcome)
	d, err = fw.TryAcquire(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, Admitted, d.Outcome)

	d, err = fw.TryAcquire(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, Retry, d.Outcome)

	clk.Advance(1.0)
	d, err = fw.TryAcquire(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, Admitted, d.Outcome, "a new window must reset the count")
}
