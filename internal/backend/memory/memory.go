// Package memory implements backend.Backend over an in-process, sharded
// hash map. It never talks to the network or disk, so every operation is
// bounded purely by lock contention; a background sweeper trims expired
// keys on a configurable cadence so memory does not grow unbounded from
// idle keys that nobody reads again.
package memory

import (
	"context"
	"hash/fnv"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"go-ratecache/internal/backend"
	"go-ratecache/internal/clock"
)

const shardCount = 16

type entry struct {
	value     []byte
	expiresAt float64 // 0 means no expiry
}

func (e *entry) expired(now float64) bool {
	return e.expiresAt > 0 && e.expiresAt <= now
}

type zmember struct {
	member string
	score  float64
}

type shard struct {
	mu         sync.Mutex
	data       map[string]*entry
	sets       map[string][]zmember // kept sorted by score ascending
	setExpiry  map[string]float64   // 0 or absent means no expiry
}

// Backend is the in-memory implementation of backend.Backend.
type Backend struct {
	shards        [shardCount]*shard
	clock         clock.Clock
	sweepInterval time.Duration

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// Options configures a Backend.
type Options struct {
	Clock         clock.Clock   // defaults to clock.System
	SweepInterval time.Duration // 0 defaults to 30s; < 0 disables the sweeper
}

// New constructs a memory Backend and starts its background sweeper unless
// SweepInterval is < 0.
func New(opts Options) *Backend {
	if opts.Clock == nil {
		opts.Clock = clock.System
	}
	if opts.SweepInterval == 0 {
		opts.SweepInterval = 30 * time.Second
	}
	b := &Backend{
		clock:         opts.Clock,
		sweepInterval: opts.SweepInterval,
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
	}
	for i := range b.shards {
		b.shards[i] = &shard{
			data:      make(map[string]*entry),
			sets:      make(map[string][]zmember),
			setExpiry: make(map[string]float64),
		}
	}
	if b.sweepInterval > 0 {
		go b.sweepLoop()
	} else {
		close(b.doneCh)
	}
	return b
}

func (b *Backend) shardFor(key string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return b.shards[h.Sum32()%shardCount]
}

func (b *Backend) sweepLoop() {
	defer close(b.doneCh)
	ticker := time.NewTicker(b.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-b.stopCh:
			return
		case <-ticker.C:
			b.sweep()
		}
	}
}

func (b *Backend) sweep() {
	now := b.clock.Now()
	for _, s := range b.shards {
		s.mu.Lock()
		for k, e := range s.data {
			if e.expired(now) {
				delete(s.data, k)
			}
		}
		for k, exp := range s.setExpiry {
			if exp > 0 && exp <= now {
				delete(s.sets, k)
				delete(s.setExpiry, k)
			}
		}
		s.mu.Unlock()
	}
}

// setExpired reports whether the sorted set at key has an expiry that has
// passed. Caller must hold s.mu.
func (s *shard) setExpired(key string, now float64) bool {
	exp, ok := s.setExpiry[key]
	return ok && exp > 0 && exp <= now
}

// Close stops the background sweeper and releases no other resources.
func (b *Backend) Close() error {
	b.stopOnce.Do(func() {
		close(b.stopCh)
	})
	<-b.doneCh
	return nil
}

func (b *Backend) ttlDeadline(ttl time.Duration) float64 {
	if ttl <= 0 {
		return 0
	}
	return b.clock.Now() + ttl.Seconds()
}

// Get implements backend.Backend.
func (b *Backend) Get(_ context.Context, key string) ([]byte, bool, error) {
	s := b.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.data[key]
	if !ok || e.expired(b.clock.Now()) {
		return nil, false, nil
	}
	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, true, nil
}

// Set implements backend.Backend.
func (b *Backend) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s := b.shardFor(key)
	cp := make([]byte, len(value))
	copy(cp, value)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = &entry{value: cp, expiresAt: b.ttlDeadline(ttl)}
	return nil
}

// Delete implements backend.Backend.
func (b *Backend) Delete(_ context.Context, key string) error {
	s := b.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	delete(s.sets, key)
	delete(s.setExpiry, key)
	return nil
}

// Incr implements backend.Backend.
func (b *Backend) Incr(_ context.Context, key string, delta int64, ttl time.Duration) (int64, error) {
	s := b.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	now := b.clock.Now()
	e, ok := s.data[key]
	var cur int64
	if ok && !e.expired(now) {
		cur = decodeInt64(e.value)
	} else {
		e = &entry{expiresAt: b.ttlDeadline(ttl)}
		s.data[key] = e
	}
	cur += delta
	e.value = encodeInt64(cur)
	return cur, nil
}

// ZAdd implements backend.Backend.
func (b *Backend) ZAdd(_ context.Context, key string, score float64, member string) error {
	s := b.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.setExpired(key, b.clock.Now()) {
		delete(s.sets, key)
		delete(s.setExpiry, key)
	}
	set := s.sets[key]
	for i, m := range set {
		if m.member == member {
			set[i].score = score
			resort(set)
			s.sets[key] = set
			return nil
		}
	}
	set = append(set, zmember{member: member, score: score})
	resort(set)
	s.sets[key] = set
	return nil
}

func resort(set []zmember) {
	sort.Slice(set, func(i, j int) bool { return set[i].score < set[j].score })
}

// ZRemRangeByScore implements backend.Backend.
func (b *Backend) ZRemRangeByScore(_ context.Context, key string, lo, hi float64) (int64, error) {
	s := b.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.setExpired(key, b.clock.Now()) {
		delete(s.sets, key)
		delete(s.setExpiry, key)
		return 0, nil
	}
	set := s.sets[key]
	kept := set[:0]
	var removed int64
	for _, m := range set {
		if m.score >= lo && m.score <= hi {
			removed++
			continue
		}
		kept = append(kept, m)
	}
	s.sets[key] = kept
	return removed, nil
}

// ZCount implements backend.Backend.
func (b *Backend) ZCount(_ context.Context, key string, lo, hi float64) (int64, error) {
	s := b.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.setExpired(key, b.clock.Now()) {
		delete(s.sets, key)
		delete(s.setExpiry, key)
		return 0, nil
	}
	var count int64
	for _, m := range s.sets[key] {
		if m.score >= lo && m.score <= hi {
			count++
		}
	}
	return count, nil
}

// ZRangeByScoreWithScores implements backend.Backend.
func (b *Backend) ZRangeByScoreWithScores(_ context.Context, key string, lo, hi float64, limit int) ([]backend.ScoredMember, error) {
	s := b.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.setExpired(key, b.clock.Now()) {
		delete(s.sets, key)
		delete(s.setExpiry, key)
		return nil, nil
	}
	var out []backend.ScoredMember
	for _, m := range s.sets[key] {
		if m.score >= lo && m.score <= hi {
			out = append(out, backend.ScoredMember{Score: m.score, Member: m.member})
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

// CAS implements backend.Backend.
func (b *Backend) CAS(_ context.Context, key string, expected, newValue []byte, ttl time.Duration) (bool, error) {
	s := b.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	now := b.clock.Now()
	e, ok := s.data[key]
	var cur []byte
	if ok && !e.expired(now) {
		cur = e.value
	}
	if !bytesEqual(cur, expected) {
		return false, nil
	}
	cp := make([]byte, len(newValue))
	copy(cp, newValue)
	s.data[key] = &entry{value: cp, expiresAt: b.ttlDeadline(ttl)}
	return true, nil
}

// Touch implements backend.Backend.
func (b *Backend) Touch(_ context.Context, key string, ttl time.Duration) error {
	s := b.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	now := b.clock.Now()
	deadline := b.ttlDeadline(ttl)

	if e, ok := s.data[key]; ok && !e.expired(now) {
		e.expiresAt = deadline
	}
	if _, ok := s.sets[key]; ok && !s.setExpired(key, now) {
		s.setExpiry[key] = deadline
	}
	return nil
}

// Clear implements backend.Backend.
func (b *Backend) Clear(_ context.Context, prefix string) error {
	for _, s := range b.shards {
		s.mu.Lock()
		for k := range s.data {
			if strings.HasPrefix(k, prefix) {
				delete(s.data, k)
			}
		}
		for k := range s.sets {
			if strings.HasPrefix(k, prefix) {
				delete(s.sets, k)
				delete(s.setExpiry, k)
			}
		}
		s.mu.Unlock()
	}
	return nil
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func encodeInt64(v int64) []byte {
	return []byte(strconv.FormatInt(v, 10))
}

func decodeInt64(b []byte) int64 {
	v, _ := strconv.ParseInt(string(b), 10, 64)
	return v
}
