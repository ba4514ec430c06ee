package ratecache

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionDispatchesAndCachesResponses(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("hello"))
	}))
	defer srv.Close()

	sess, err := New(Config{
		Backend:      BackendMemory,
		CacheEnabled: true,
		CacheTimeout: time.Minute,
		KeyPrefix:    "t",
	})
	require.NoError(t, err)
	defer sess.Close(context.Background())

	req := Request{Method: http.MethodGet, URL: srv.URL}
	results, err := sess.Do(context.Background(), []Request{req, req})
	require.NoError(t, err)
	require.Len(t, results, 2)

	for _, r := range results {
		require.NoError(t, r.Err)
		assert.Equal(t, http.StatusOK, r.Response.Status)
		assert.Equal(t, "hello", string(r.Response.Body))
	}
	assert.Equal(t, 1, hits, "the second identical request must be served from cache")
}

func TestSessionCacheGetReadsWithoutDispatching(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("hello"))
	}))
	defer srv.Close()

	sess, err := New(Config{
		Backend:      BackendMemory,
		CacheEnabled: true,
		CacheTimeout: time.Minute,
		KeyPrefix:    "t3",
	})
	require.NoError(t, err)
	defer sess.Close(context.Background())

	req := Request{Method: http.MethodGet, URL: srv.URL}

	_, ok := sess.CacheGet(context.Background(), req)
	assert.False(t, ok, "nothing dispatched yet, so the cache must still miss")

	_, err = sess.Do(context.Background(), []Request{req})
	require.NoError(t, err)
	assert.Equal(t, 1, hits)

	resp, ok := sess.CacheGet(context.Background(), req)
	require.True(t, ok)
	assert.Equal(t, http.StatusOK, resp.Status)
	assert.Equal(t, "hello", string(resp.Body))
	assert.Equal(t, 1, hits, "CacheGet must not hit the transport")
}

func TestSessionEnforcesRateLimitWithRaiseErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sess, err := New(Config{
		Backend:     BackendMemory,
		KeyPrefix:   "t2",
		RaiseErrors: true,
		Algorithm: AlgorithmConfig{
			Type:     AlgorithmTokenBucket,
			Capacity: 1,
			Rate:     0.001,
		},
	})
	require.NoError(t, err)
	defer sess.Close(context.Background())

	req := Request{Method: http.MethodGet, URL: srv.URL}
	results, err := sess.Do(context.Background(), []Request{req, req})
	require.NoError(t, err)
	require.Len(t, results, 2)

	admitted, rejected := 0, 0
	for _, r := range results {
		if r.Err == nil {
			admitted++
		} else {
			rejected++
		}
	}
	assert.Equal(t, 1, admitted)
	assert.Equal(t, 1, rejected)
}

func TestSessionCollectsCallbackResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	var observed []int
	sess, err := New(Config{
		Backend:         BackendMemory,
		ReturnCallbacks: true,
	}, WithCallbacks(func(r *Response) (any, error) {
		observed = append(observed, r.Status)
		return r.Status, nil
	}))
	require.NoError(t, err)
	defer sess.Close(context.Background())

	results, err := sess.Do(context.Background(), []Request{{Method: http.MethodGet, URL: srv.URL}})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.NoError(t, results[0].Err)
	require.Len(t, results[0].Response.Callbacks, 1)
	assert.Equal(t, http.StatusCreated, results[0].Response.Callbacks[0])
	assert.Equal(t, []int{http.StatusCreated}, observed)
}

func TestDiagnosticsHandlerServesHealthzAndMetrics(t *testing.T) {
	sess, err := New(Config{Backend: BackendMemory})
	require.NoError(t, err)
	defer sess.Close(context.Background())

	h := sess.DiagnosticsHandler()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
