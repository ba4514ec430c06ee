package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPSendRoundTrips(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "bar", r.Header.Get("X-Foo"))
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte("hello"))
	}))
	defer srv.Close()

	tr := NewHTTP(nil)
	resp, err := tr.Send(context.Background(), Request{
		Method: http.MethodGet,
		URL:    srv.URL,
		Header: map[string][]string{"X-Foo": {"bar"}},
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.Status)
	assert.Equal(t, []byte("hello"), resp.Body)
	require.Contains(t, resp.Header, "Content-Type")
	assert.Equal(t, "text/plain", resp.Header["Content-Type"][0])
}

func TestHTTPSendPropagatesTimeoutAsTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(50 * time.Millisecond)
	}))
	defer srv.Close()

	tr := NewHTTP(nil)
	_, err := tr.Send(context.Background(), Request{
		Method:  http.MethodGet,
		URL:     srv.URL,
		Timeout: 5 * time.Millisecond,
	})
	require.Error(t, err)
}
