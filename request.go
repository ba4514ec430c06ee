package ratecache

import "go-ratecache/internal/dispatch"

// Request is one HTTP request to dispatch: method, URL, optional body,
// headers, and a per-request timeout. It is aliased from internal/dispatch
// so the dispatch loop and the public API share exactly one type — the
// dispatch package owns it to avoid an import cycle (dispatch depends on
// nothing in this package; this package depends on dispatch).
type Request = dispatch.Request

// Response is one dispatched response: status, headers, body bytes, the
// originating Request, and the lazily-decoded JSON payload via JSON().
type Response = dispatch.Response

// Result is one slot of a dispatched batch, in input order: either a
// Response or the error that occurred trying to produce one.
type Result = dispatch.Result
