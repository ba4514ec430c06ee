package limiter

import (
	"context"
	"time"

	"github.com/google/uuid"

	"go-ratecache/internal/apperror"
	"go-ratecache/internal/backend"
	"go-ratecache/internal/clock"
)

// SlidingWindow admits at most Limit requests in any trailing Window,
// grounded on the teacher's own Redis sliding-window limiter
// (internal/middleware/sliding_window_limiter.go): a sorted set of request
// timestamps per key, pruned on every attempt. This reimplementation
// drives that same ZREMRANGEBYSCORE/ZCOUNT/ZADD sequence through
// backend.Backend instead of a raw *redis.Client, so it runs unchanged
// over the memory and SQL backends too.
type SlidingWindow struct {
	b            backend.Backend
	clock        clock.Clock
	limit        int64
	window       time.Duration
	cacheTimeout time.Duration
}

// NewSlidingWindow constructs a SlidingWindow limiter. cacheTimeout is the
// session's cache TTL, used only as the floor for §4.3's state-TTL rule.
func NewSlidingWindow(b backend.Backend, clk clock.Clock, limit int, window, cacheTimeout time.Duration) (*SlidingWindow, error) {
	if limit <= 0 {
		return nil, apperror.Config("sliding window: limit must be > 0, got %d", limit)
	}
	if window <= 0 {
		return nil, apperror.Config("sliding window: window must be > 0, got %s", window)
	}
	if clk == nil {
		clk = clock.System
	}
	return &SlidingWindow{b: b, clock: clk, limit: int64(limit), window: window, cacheTimeout: cacheTimeout}, nil
}

// TryAcquire implements Limiter.
func (s *SlidingWindow) TryAcquire(ctx context.Context, key string) (Decision, error) {
	now := s.clock.Now()
	windowSecs := s.window.Seconds()
	horizon := now - windowSecs

	if _, err := s.b.ZRemRangeByScore(ctx, key, 0, horizon); err != nil {
		return Decision{}, apperror.Backend("sliding_window.zremrangebyscore", err)
	}

	count, err := s.b.ZCount(ctx, key, horizon, now)
	if err != nil {
		return Decision{}, apperror.Backend("sliding_window.zcount", err)
	}

	if count < s.limit {
		if err := s.b.ZAdd(ctx, key, now, uuid.NewString()); err != nil {
			return Decision{}, apperror.Backend("sliding_window.zadd", err)
		}
		if err := s.b.Touch(ctx, key, stateTTL(s.window, s.cacheTimeout)); err != nil {
			return Decision{}, apperror.Backend("sliding_window.touch", err)
		}
		return Decision{Outcome: Admitted}, nil
	}

	oldest, err := s.b.ZRangeByScoreWithScores(ctx, key, horizon, now, 1)
	if err != nil {
		return Decision{}, apperror.Backend("sliding_window.zrange", err)
	}
	if len(oldest) == 0 {
		// Every member expired between the ZCount and this read; the slot
		// has freed up, so the caller's immediate re-attempt will succeed.
		return Decision{Outcome: Retry, Wait: 0}, nil
	}
	wait := (oldest[0].Score + windowSecs) - now
	return Decision{Outcome: Retry, Wait: clampWait(wait)}, nil
}
