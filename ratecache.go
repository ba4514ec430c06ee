// Package ratecache is an HTTP client library that wraps a transport with
// two orthogonal, composable concerns: rate limiting (five algorithms over
// three interchangeable backends) and response caching. Session is the
// thin façade assembling the backend, cache engine, rate-limit engine, and
// dispatch loop behind one configuration record — grounded on the teacher
// gateway's own top-level wiring (main.go building router + middleware +
// backends from one Config), generalized from "build an HTTP gateway
// process" to "build an in-process client session."
package ratecache

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"go-ratecache/internal/apperror"
	"go-ratecache/internal/backend"
	"go-ratecache/internal/backend/kv"
	"go-ratecache/internal/backend/memory"
	"go-ratecache/internal/backend/sqlstore"
	"go-ratecache/internal/cacheengine"
	"go-ratecache/internal/callback"
	"go-ratecache/internal/clock"
	"go-ratecache/internal/diagserver"
	"go-ratecache/internal/dispatch"
	"go-ratecache/internal/keyderive"
	"go-ratecache/internal/limiter"
	"go-ratecache/internal/logging"
	"go-ratecache/internal/metrics"
	"go-ratecache/internal/progress"
	"go-ratecache/internal/transport"
)

// CallbackFunc observes a dispatched Response and optionally returns a
// value to collect into Response.Callbacks (when Config.ReturnCallbacks is
// set).
type CallbackFunc func(*Response) (any, error)

// Option customizes a Session beyond what Config exposes: collaborators a
// caller supplies directly instead of through a serializable config field
// (a logger, a transport double for tests, callbacks).
type Option func(*options)

type options struct {
	logger    *logrus.Logger
	transport transport.Transport
	progress  progress.Reporter
	callbacks []CallbackFunc
}

// WithLogger overrides the session's default logger.
func WithLogger(logger *logrus.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithTransport overrides the default net/http-based Transport — the seam
// tests use to substitute a fake collaborator.
func WithTransport(t transport.Transport) Option {
	return func(o *options) { o.transport = t }
}

// WithProgress installs a progress.Reporter; the default is progress.Noop.
func WithProgress(r progress.Reporter) Option {
	return func(o *options) { o.progress = r }
}

// WithCallbacks installs the callback pipeline run over every dispatched
// response, in the given order.
func WithCallbacks(fns ...CallbackFunc) Option {
	return func(o *options) { o.callbacks = append(o.callbacks, fns...) }
}

// Session is one assembled client: one Backend, one Cache Engine, one
// Rate-Limit Engine, and one Dispatch Loop, sharing one Transport,
// Progress sink, and Metrics registry.
type Session struct {
	cfg     Config
	logger  *logrus.Logger
	b       backend.Backend
	loop    *dispatch.Loop
	metrics *metrics.Metrics
}

// New assembles a Session from cfg. The returned Session owns its Backend
// (and any resources it spawned, such as an embedded KV server or an
// ephemeral in-memory SQL database) until Close is called.
func New(cfg Config, opts ...Option) (*Session, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = logging.Default()
	}

	b, err := buildBackend(cfg, o.logger)
	if err != nil {
		return nil, err
	}

	var cache *cacheengine.Engine
	if cfg.CacheEnabled {
		cache = cacheengine.New(b, cfg.keyPrefix())
	}

	m := metrics.New()

	var scoped *limiter.ScopedEngine
	algorithmName := ""
	if cfg.Algorithm.Type != AlgorithmNone {
		lim, err := buildLimiter(b, clock.System, cfg.Algorithm, cfg.CacheTimeout)
		if err != nil {
			_ = b.Close()
			return nil, err
		}
		scoped = limiter.NewScopedEngine(lim, cfg.PerHost, cfg.PerEndpoint, cfg.RaiseErrors, cfg.sleepDuration())
		algorithmName = algorithmNames[cfg.Algorithm.Type]
	}

	tr := o.transport
	if tr == nil {
		tr = transport.NewHTTP(nil)
	}

	var cbPipeline *callback.Pipeline[*Response]
	if len(o.callbacks) > 0 {
		fns := make([]callback.Func[*Response], len(o.callbacks))
		for i, fn := range o.callbacks {
			fns[i] = callback.Func[*Response](fn)
		}
		cbPipeline = callback.New(fns...)
	}

	reporter := o.progress
	if reporter == nil {
		reporter = progress.Noop{}
	}

	loop := &dispatch.Loop{
		Cache:           cache,
		Limiter:         scoped,
		PerHost:         cfg.PerHost,
		PerEndpoint:     cfg.PerEndpoint,
		Transport:       tr,
		Callbacks:       cbPipeline,
		Progress:        reporter,
		Metrics:         m,
		KeyPrefix:       cfg.keyPrefix(),
		CacheTimeout:    cfg.CacheTimeout,
		ReturnCallbacks: cfg.ReturnCallbacks,
		PoolSize:        cfg.poolSize(),
		Algorithm:       algorithmName,
	}

	o.logger.WithFields(logrus.Fields{
		"backend":   cfg.Backend,
		"algorithm": algorithmName,
	}).Info("ratecache session constructed")

	return &Session{cfg: cfg, logger: o.logger, b: b, loop: loop, metrics: m}, nil
}

var algorithmNames = map[Algorithm]string{
	AlgorithmSlidingWindow: "sliding_window",
	AlgorithmFixedWindow:   "fixed_window",
	AlgorithmLeakyBucket:   "leaky_bucket",
	AlgorithmTokenBucket:   "token_bucket",
	AlgorithmGCRA:          "gcra",
}

func buildBackend(cfg Config, logger *logrus.Logger) (backend.Backend, error) {
	switch cfg.Backend {
	case BackendMemory:
		return memory.New(memory.Options{SweepInterval: cfg.CheckFrequency}), nil
	case BackendKV:
		return kv.New(kv.Config{
			Addr:            cfg.KV.Addr,
			Username:        cfg.KV.Username,
			Password:        cfg.KV.Password,
			DB:              cfg.KV.DB,
			Protocol:        cfg.KV.Protocol,
			PoolSize:        cfg.KV.PoolSize,
			DialTimeout:     cfg.KV.DialTimeout,
			ReadTimeout:     cfg.KV.ReadTimeout,
			WriteTimeout:    cfg.KV.WriteTimeout,
			MaxMemory:       cfg.KV.MaxMemory,
			MaxMemoryPolicy: cfg.KV.MaxMemoryPolicy,
		}, logger)
	case BackendSQL:
		return sqlstore.New(sqlstore.Config{Path: cfg.SQL.Path, Conn: cfg.SQL.Conn}, clock.System)
	default:
		return nil, apperror.Config("unknown backend kind %v", cfg.Backend)
	}
}

func buildLimiter(b backend.Backend, clk clock.Clock, ac AlgorithmConfig, cacheTimeout time.Duration) (limiter.Limiter, error) {
	switch ac.Type {
	case AlgorithmSlidingWindow:
		return limiter.NewSlidingWindow(b, clk, ac.Limit, ac.Window, cacheTimeout)
	case AlgorithmFixedWindow:
		return limiter.NewFixedWindow(b, clk, ac.Limit, ac.Window, cacheTimeout)
	case AlgorithmLeakyBucket:
		return limiter.NewLeakyBucket(b, clk, ac.Capacity, ac.Rate, cacheTimeout)
	case AlgorithmTokenBucket:
		return limiter.NewTokenBucket(b, clk, ac.Capacity, ac.Rate, cacheTimeout)
	case AlgorithmGCRA:
		return limiter.NewGCRA(b, clk, ac.Period, ac.GCRALimit, cacheTimeout)
	default:
		return nil, apperror.Config("unknown algorithm type %v", ac.Type)
	}
}

// Do dispatches requests and returns one Result per request, in input
// order, regardless of completion order or execution mode. It never
// returns a non-nil error for per-request failures — those are captured in
// each Result — only for a condition that prevents dispatching at all.
func (s *Session) Do(ctx context.Context, requests []Request) ([]Result, error) {
	if len(requests) == 0 {
		return nil, nil
	}
	if s.cfg.Concurrency.Mode == ConcurrencyCooperative {
		return s.loop.RunCooperative(ctx, requests)
	}
	return s.loop.RunBlocking(ctx, requests)
}

// Close releases the Session's Backend (closing any spawned embedded
// server or ephemeral in-memory SQL database).
func (s *Session) Close(_ context.Context) error {
	if err := s.b.Close(); err != nil {
		return fmt.Errorf("ratecache: close backend: %w", err)
	}
	s.logger.Debug("ratecache session closed")
	return nil
}

// CacheGet is the index-style cache read spec.md §4.2 exposes alongside
// Do's own dispatch-time lookup: it reports the Response already cached
// for req, without admission or a transport round trip. ok is false when
// caching is disabled or req was never cached.
func (s *Session) CacheGet(ctx context.Context, req Request) (resp *Response, ok bool) {
	if s.loop.Cache == nil {
		return nil, false
	}
	fp, err := keyderive.ComputeFingerprint(req.Method, req.URL, req.Body)
	if err != nil {
		return nil, false
	}
	entry := s.loop.Cache.Get(ctx, fp)
	if entry == nil {
		return nil, false
	}
	return &Response{Status: entry.Status, Header: entry.Header, Body: entry.Body, Request: req}, true
}

// DiagnosticsHandler returns the optional /healthz + /metrics HTTP
// surface. The caller decides whether and where to mount it; Session
// never calls ListenAndServe itself.
func (s *Session) DiagnosticsHandler() http.Handler {
	return diagserver.New(s.metrics.Registry, s.b)
}
