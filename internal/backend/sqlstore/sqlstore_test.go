package sqlstore

import (
	"context"
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

func TestSQLBackendConformance(t *testing.T) {
	b := newTestBackend(t)
	backendtest.Suite(t, b)
}

func TestSQLBackendAdoptsExternalConn(t *testing.T) {
	owned := newTestBackend(t)
	adopted, err := New(Config{Conn: owned.db}, nil)
	require.NoError(t, err)
	// Close on the adopted wrapper must not close the shared connection.
	require.NoError(t, adopted.Close())

	require.NoError(t, owned.Set(context.Background(), "k", []byte("v"), 0))
}
