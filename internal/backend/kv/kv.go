// Package kv implements backend.Backend over an embedded key-value store
// server, using the same Redis client library the teacher gateway already
// depends on (github.com/redis/go-redis/v9) for its own rate-limiting
// middleware. When no external Addr is configured, an in-process
// Redis-protocol server (github.com/alicebob/miniredis/v2) is spawned on
// Open and torn down on Close, giving callers a zero-infrastructure
// "embedded KV backend" exactly like the SQL backend gives them a
// zero-infrastructure embedded SQL store.
package kv

import (
	"context"
	"fmt"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"go-ratecache/internal/backend"
)

// Config mirrors the subset of the teacher's redis.Config relevant to a
// rate-limit/cache backend; MaxMemory/MaxMemoryPolicy are accepted for
// configuration-surface parity with spec.md §6 but are not applied to
// either an external or the embedded server.
type Config struct {
	Addr             string // external endpoint; empty spawns an embedded server
	Username         string
	Password         string
	DB               int
	Protocol         int // RESP protocol version, 2 or 3; 0 defaults to 3
	PoolSize         int
	DialTimeout      time.Duration
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	MaxMemory        string
	MaxMemoryPolicy  string
}

// Backend is the Redis-protocol implementation of backend.Backend.
type Backend struct {
	client    *redis.Client
	embedded  *miniredis.Miniredis
	logger    *logrus.Logger
}

// New opens a Backend. When cfg.Addr is empty it spawns an embedded
// miniredis server and connects to it; otherwise it dials the external
// endpoint.
func New(cfg Config, logger *logrus.Logger) (*Backend, error) {
	if logger == nil {
		logger = logrus.New()
	}

	var embedded *miniredis.Miniredis
	addr := cfg.Addr
	if addr == "" {
		srv := miniredis.NewMiniRedis()
		if err := srv.Start(); err != nil {
			return nil, fmt.Errorf("spawn embedded kv server: %w", err)
		}
		embedded = srv
		addr = srv.Addr()
		logger.WithField("addr", addr).Info("spawned embedded kv backend server")
	}

	protocol := cfg.Protocol
	if protocol == 0 {
		protocol = 3
	}

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		Protocol:     protocol,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		if embedded != nil {
			embedded.Close()
		}
		return nil, fmt.Errorf("connect to kv backend at %s: %w", addr, err)
	}

	// MaxMemory/MaxMemoryPolicy are accepted on Config for configuration-
	// surface parity with spec.md §6 but the embedded server does not
	// enforce eviction policies itself; TTL expiry (enforced by every
	// Backend method per the cross-backend contract) is what bounds
	// memory in practice.

	logger.WithField("addr", addr).Info("kv backend connected")
	return &Backend{client: client, embedded: embedded, logger: logger}, nil
}

// Close shuts down the client and, if this Backend spawned it, the
// embedded server.
func (b *Backend) Close() error {
	err := b.client.Close()
	if b.embedded != nil {
		b.embedded.Close()
	}
	return err
}

// Get implements backend.Backend.
func (b *Backend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	v, err := b.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

// Set implements backend.Backend.
func (b *Backend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return b.client.Set(ctx, key, value, ttl).Err()
}

// Delete implements backend.Backend.
func (b *Backend) Delete(ctx context.Context, key string) error {
	return b.client.Del(ctx, key).Err()
}

// incrScript increments key by delta, stamping a TTL (milliseconds, 0 =
// none) only on the creating call, and returns the new value. Doing this
// as one script keeps "increment" and "set TTL if newly created" atomic,
// matching the memory and SQL backends' behavior.
var incrScript = redis.NewScript(`
local existed = redis.call('EXISTS', KEYS[1])
local v = redis.call('INCRBY', KEYS[1], ARGV[1])
if existed == 0 and ARGV[2] ~= '' then
  redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return v
`)

// Incr implements backend.Backend.
func (b *Backend) Incr(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error) {
	ttlArg := ""
	if ttl > 0 {
		ttlArg = fmt.Sprintf("%d", ttl.Milliseconds())
	}
	res, err := incrScript.Run(ctx, b.client, []string{key}, delta, ttlArg).Result()
	if err != nil {
		return 0, err
	}
	v, _ := res.(int64)
	return v, nil
}

// ZAdd implements backend.Backend.
func (b *Backend) ZAdd(ctx context.Context, key string, score float64, member string) error {
	return b.client.ZAdd(ctx, key, redis.Z{Score: score, Member: member}).Err()
}

// ZRemRangeByScore implements backend.Backend.
func (b *Backend) ZRemRangeByScore(ctx context.Context, key string, lo, hi float64) (int64, error) {
	return b.client.ZRemRangeByScore(ctx, key, fmt.Sprintf("%f", lo), fmt.Sprintf("%f", hi)).Result()
}

// ZCount implements backend.Backend.
func (b *Backend) ZCount(ctx context.Context, key string, lo, hi float64) (int64, error) {
	return b.client.ZCount(ctx, key, fmt.Sprintf("%f", lo), fmt.Sprintf("%f", hi)).Result()
}

// ZRangeByScoreWithScores implements backend.Backend.
func (b *Backend) ZRangeByScoreWithScores(ctx context.Context, key string, lo, hi float64, limit int) ([]backend.ScoredMember, error) {
	opt := &redis.ZRangeBy{Min: fmt.Sprintf("%f", lo), Max: fmt.Sprintf("%f", hi)}
	if limit > 0 {
		opt.Count = int64(limit)
	}
	res, err := b.client.ZRangeByScoreWithScores(ctx, key, opt).Result()
	if err != nil {
		return nil, err
	}
	out := make([]backend.ScoredMember, 0, len(res))
	for _, z := range res {
		member, _ := z.Member.(string)
		out = append(out, backend.ScoredMember{Score: z.Score, Member: member})
	}
	return out, nil
}

// casScript performs a compare-and-swap: it writes newValue with an
// expiry (in milliseconds, 0 = none) only if the current value equals
// expected (both given as empty string to mean "must be absent").
var casScript = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if cur == false then cur = '' end
if cur ~= ARGV[1] then
  return 0
end
if ARGV[3] == '' then
  redis.call('SET', KEYS[1], ARGV[2])
else
  redis.call('SET', KEYS[1], ARGV[2], 'PX', ARGV[3])
end
return 1
`)

// CAS implements backend.Backend using a Lua script so the read-compare-write
// sequence is atomic on the server.
func (b *Backend) CAS(ctx context.Context, key string, expected, newValue []byte, ttl time.Duration) (bool, error) {
	ttlArg := ""
	if ttl > 0 {
		ttlArg = fmt.Sprintf("%d", ttl.Milliseconds())
	}
	res, err := casScript.Run(ctx, b.client, []string{key}, string(expected), string(newValue), ttlArg).Result()
	if err != nil {
		return false, err
	}
	n, _ := res.(int64)
	return n == 1, nil
}

// Touch implements backend.Backend. Redis's EXPIRE/PERSIST apply uniformly
// to strings and sorted sets, so unlike the memory and SQL backends this
// needs no key-shape branching; it is a no-op if key does not exist.
func (b *Backend) Touch(ctx context.Context, key string, ttl time.Duration) error {
	if ttl <= 0 {
		return b.client.Persist(ctx, key).Err()
	}
	return b.client.Expire(ctx, key, ttl).Err()
}

// Clear implements backend.Backend by scanning for prefix* and deleting in
// batches, avoiding the O(N) blocking KEYS command on large keyspaces.
func (b *Backend) Clear(ctx context.Context, prefix string) error {
	var cursor uint64
	pattern := prefix + "*"
	for {
		keys, next, err := b.client.Scan(ctx, cursor, pattern, 500).Result()
		if err != nil {
			return err
		}
		if len(keys) > 0 {
			if err := b.client.Del(ctx, keys...).Err(); err != nil {
				return err
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return nil
}
