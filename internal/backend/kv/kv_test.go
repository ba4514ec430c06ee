package kv

import (
	"testing"

	"github.com/stretchr/testify/require"

	"go-ratecache/internal/backendtest"
)

func newTestBackend(t *testing.T) *Backend {
	t.Helper()
	b, err := New(Config{}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })
	return b
}

func TestKVBackendConformance(t *testing.T) {
	b := newTestBackend(t)
	backendtest.Suite(t, b)
}

func TestKVBackendSpawnsEmbeddedServerWhenNoAddrGiven(t *testing.T) {
	b := newTestBackend(t)
	require.NotNil(t, b.embedded, "empty Addr must spawn an embedded kv server")
	require.NotEmpty(t, b.embedded.Addr())
}
