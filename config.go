package ratecache

import (
	"database/sql"
	"time"
)

// BackendKind selects which Backend implementation a Session is built on.
type BackendKind int

const (
	// BackendMemory is the default: a zero-setup, in-process backend.
	BackendMemory BackendKind = iota
	// BackendKV is the Redis-protocol backend (external or embedded).
	BackendKV
	// BackendSQL is the embedded SQLite backend (external file or ephemeral).
	BackendSQL
)

// Algorithm selects which rate-limiting strategy a Session enforces.
type Algorithm int

const (
	// AlgorithmNone disables rate limiting entirely.
	AlgorithmNone Algorithm = iota
	AlgorithmSlidingWindow
	AlgorithmFixedWindow
	AlgorithmLeakyBucket
	AlgorithmTokenBucket
	AlgorithmGCRA
)

// AlgorithmConfig selects an Algorithm and carries its parameters. Only
// the fields relevant to the selected Algorithm are read.
type AlgorithmConfig struct {
	Type Algorithm

	// Limit and Window apply to AlgorithmSlidingWindow/AlgorithmFixedWindow.
	Limit  int
	Window time.Duration

	// Capacity and Rate apply to AlgorithmLeakyBucket (leak rate/sec) and
	// AlgorithmTokenBucket (fill rate/sec).
	Capacity float64
	Rate     float64

	// Period and GCRALimit apply to AlgorithmGCRA: EmissionInterval =
	// Period, DelayTolerance = Period * GCRALimit.
	Period    time.Duration
	GCRALimit int
}

// KVConfig configures the KV (Redis-protocol) backend.
type KVConfig struct {
	Addr             string // empty spawns an embedded in-process server
	Username         string
	Password         string
	DB               int
	Protocol         int
	PoolSize         int
	DialTimeout      time.Duration
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	MaxMemory        string
	MaxMemoryPolicy  string
}

// SQLConfig configures the SQL (embedded SQLite) backend.
type SQLConfig struct {
	Path string  // ":memory:" or "" opens an ephemeral database
	Conn *sql.DB // overrides Path if set; Session will not close it
}

// ConcurrencyMode selects how Session.Do schedules a batch of requests.
type ConcurrencyMode int

const (
	// ConcurrencyBlocking runs requests over a fixed-size worker pool.
	ConcurrencyBlocking ConcurrencyMode = iota
	// ConcurrencyCooperative runs one goroutine per request.
	ConcurrencyCooperative
)

// ConcurrencyConfig selects Session.Do's execution mode.
type ConcurrencyConfig struct {
	Mode     ConcurrencyMode
	PoolSize int // ConcurrencyBlocking only; <= 0 defaults to 8
}

// Config is the full, explicit configuration of a Session — no
// package-level mutable state. Every field has a documented zero-value
// behavior so a caller can build the minimal Config that fits their use
// case and let the rest default.
type Config struct {
	Backend BackendKind

	// Cache. CacheEnabled false disables the cache phase entirely.
	CacheEnabled bool
	CacheTimeout time.Duration

	// CheckFrequency is the memory backend's sweep cadence; ignored by
	// the KV and SQL backends, which enforce TTL on read.
	CheckFrequency time.Duration

	KeyPrefix string

	// Rate limiting.
	PerHost       bool
	PerEndpoint   bool
	SleepDuration time.Duration
	RaiseErrors   bool
	Algorithm     AlgorithmConfig

	ReturnCallbacks bool

	KV          KVConfig
	SQL         SQLConfig
	Concurrency ConcurrencyConfig
}

func (c Config) keyPrefix() string {
	if c.KeyPrefix != "" {
		return c.KeyPrefix
	}
	return "ratecache"
}

func (c Config) sleepDuration() time.Duration {
	if c.SleepDuration > 0 {
		return c.SleepDuration
	}
	return 50 * time.Millisecond
}

func (c Config) poolSize() int {
	if c.Concurrency.PoolSize > 0 {
		return c.Concurrency.PoolSize
	}
	return 8
}
