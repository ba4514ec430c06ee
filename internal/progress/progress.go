// Package progress provides the pluggable progress-reporting sink
// consumed by the dispatch loop (spec.md §4.5/§6: "tick(completed,
// total)" / "close()").
package progress

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Reporter is the two-method sink the dispatch loop drives once per
// completed request and once at the end of a batch.
type Reporter interface {
	Tick(completed, total int)
	Close()
}

// Noop discards every tick; it is the default when no reporter is
// configured, matching spec.md's "a pluggable reporter sink; the core
// only defines and drives the interface."
type Noop struct{}

func (Noop) Tick(int, int) {}
func (Noop) Close()        {}

// Logging emits one structured log line per tick via the shared logger,
// grounded on the teacher's logrus.WithFields idiom. Ticks are throttled
// to at most one log line per throttle interval (plus always the final
// tick) so a large batch does not flood the log.
type Logging struct {
	logger   *logrus.Logger
	throttle time.Duration
	mu       sync.Mutex
	lastEmit time.Time
}

// NewLogging constructs a Logging reporter. throttle <= 0 disables
// throttling (every tick is logged).
func NewLogging(logger *logrus.Logger, throttle time.Duration) *Logging {
	return &Logging{logger: logger, throttle: throttle}
}

// Tick implements Reporter.
func (l *Logging) Tick(completed, total int) {
	now := time.Now()
	final := completed >= total

	l.mu.Lock()
	due := final || l.throttle <= 0 || now.Sub(l.lastEmit) >= l.throttle
	if due {
		l.lastEmit = now
	}
	l.mu.Unlock()

	if !due {
		return
	}
	l.logger.WithFields(logrus.Fields{
		"completed": completed,
		"total":     total,
	}).Info("dispatch progress")
}

// Close implements Reporter.
func (l *Logging) Close() {
	l.logger.WithField("component", "progress").Debug("progress reporter closed")
}
