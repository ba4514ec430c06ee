// Package transport defines the pluggable HTTP collaborator consumed by
// the dispatch loop (spec.md §6: "send(request) -> response (sync) or
// suspending equivalent") and ships a default net/http-based
// implementation, grounded on the teacher's own provider clients (e.g.
// internal/providers/tongyi.go's *http.Client with a configured Timeout).
package transport

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"

	"go-ratecache/internal/apperror"
)

// Request is the wire-level shape a Transport sends. It is a separate
// type from the dispatch package's Request (aliased by the root package);
// the dispatch loop copies the fields across in its transport phase.
type Request struct {
	Method  string
	URL     string
	Body    []byte
	Header  map[string][]string
	Timeout time.Duration
}

// Response is the wire-level shape a Transport returns.
type Response struct {
	Status int
	Header map[string][]string
	Body   []byte
}

// Transport is the collaborator the dispatch loop calls during the
// transport phase (spec.md §4.5 step 3). A context-aware single method
// serves both the blocking-parallel and cooperative-concurrent dispatch
// modes, since Go has no separate sync/async method split.
type Transport interface {
	Send(ctx context.Context, req Request) (Response, error)
}

// HTTP is the default Transport, backed by net/http.Client.
type HTTP struct {
	client *http.Client
}

// NewHTTP constructs an HTTP transport. A zero Client{} is used if client
// is nil; per-request Timeout (if set) is applied as a context deadline in
// addition to the client's own Timeout (whichever expires first ends the
// request), so one *http.Client can be shared across requests with
// different timeouts.
func NewHTTP(client *http.Client) *HTTP {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTP{client: client}
}

// Send implements Transport.
func (h *HTTP) Send(ctx context.Context, req Request) (Response, error) {
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return Response{}, apperror.Transport(err)
	}
	for name, values := range req.Header {
		for _, v := range values {
			httpReq.Header.Add(name, v)
		}
	}

	resp, err := h.client.Do(httpReq)
	if err != nil {
		return Response{}, apperror.Transport(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{}, apperror.Transport(err)
	}

	return Response{
		Status: resp.StatusCode,
		Header: map[string][]string(resp.Header),
		Body:   respBody,
	}, nil
}
