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

func TestScopedEngineShortCircuitsOnFirstRetryWithoutConsumingLaterScopes(t *testing.T) {
	clk := clock.NewFake(0)
	b := memory.New(memory.Options{Clock: clk, SweepInterval: time.Hour})
	defer b.Close()
	// global limit of 1, shared by every scope via the same Limiter/key space.
	sw, err := NewSlidingWindow(b, clk, 1, time.Second, 0)
	require.NoError(t, err)
	engine := NewScopedEngine(sw, true, true, false, 100*time.Millisecond)
	ctx := context.Background()

	d, err := engine.TryAcquire(ctx, "global", "host:a", "endpoint:x")
	require.NoError(t, err)
	require.Equal(t, Admitted, d.Outcome)

	// Global is now saturated; host/endpoint keys must never be touched.
	d, err = engine.TryAcquire(ctx, "global", "host:a", "endpoint:x")
	require.NoError(t, err)
	assert.Equal(t, Retry, d.Outcome)

	hostCount, err := b.ZCount(ctx, "host:a", 0, 1e18)
	require.NoError(t, err)
	assert.Equal(t, int64(1), hostCount, "host scope must hold only the first attempt's admission, untouched by the short-circuited attempt")
}

func TestScopedEngineRaiseErrorsConvertsRetryToRejected(t *testing.T) {
	clk := clock.NewFake(0)
	b := memory.New(memory.Options{Clock: clk, SweepInterval: time.Hour})
	defer b.Close()
	sw, err := NewSlidingWindow(b, clk, 1, time.Second, 0)
	require.NoError(t, err)
	engine := NewScopedEngine(sw, false, false, true, 100*time.Millisecond)
	ctx := context.Background()

	_, err = engine.TryAcquire(ctx, "g", "", "")
	require.NoError(t, err)

	d, err := engine.TryAcquire(ctx, "g", "", "")
	require.NoError(t, err)
	assert.Equal(t, Rejected, d.Outcome)
}

func TestScopedEngineOnlyEvaluatesEnabledScopes(t *testing.T) {
	clk := clock.NewFake(0)
	b := memory.New(memory.Options{Clock: clk, SweepInterval: time.Hour})
	defer b.Close()
	sw, err := NewSlidingWindow(b, clk, 5, time.Second, 0)
	require.NoError(t, err)
	engine := NewScopedEngine(sw, false, false, false, 0)
	ctx := context.Background()

	d, err := engine.TryAcquire(ctx, "g", "unused-host", "unused-endpoint")
	require.NoError(t, err)
	assert.Equal(t, Admitted, d.Outcome)

	count, err := b.ZCount(ctx, "unused-host", 0, 1e18)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count, "disabled scopes must never be acquired")
}
