package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-ratecache/internal/backendtest"
	"go-ratecache/internal/clock"
)

func TestMemoryBackendConformance(t *testing.T) {
	b := New(Options{SweepInterval: time.Hour})
	defer b.Close()
	backendtest.Suite(t, b)
}

func TestSweeperRemovesExpiredKeysFromShardMap(t *testing.T) {
	fake := clock.NewFake(0)
	b := New(Options{Clock: fake, SweepInterval: time.Millisecond})
	defer b.Close()

	ctx := context.Background()
	require.NoError(t, b.Set(ctx, "k", []byte("v"), time.Second))
	fake.Advance(2) // now well past expiry

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		s := b.shardFor("k")
		s.mu.Lock()
		_, present := s.data["k"]
		s.mu.Unlock()
		if !present {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("sweeper did not remove expired key in time")
}

func TestReadOfExpiredKeyIsAbsentEvenBeforeSweep(t *testing.T) {
	fake := clock.NewFake(0)
	b := New(Options{Clock: fake, SweepInterval: time.Hour})
	defer b.Close()

	ctx := context.Background()
	require.NoError(t, b.Set(ctx, "k", []byte("v"), time.Second))
	fake.Advance(2)

	_, ok, err := b.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}
