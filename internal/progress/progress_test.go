package progress

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
)

func TestNoopDoesNothing(t *testing.T) {
	var r Reporter = Noop{}
	r.Tick(1, 10)
	r.Close()
}

func TestLoggingEmitsOnEveryTickWhenUnthrottled(t *testing.T) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	r := NewLogging(logger, 0)

	r.Tick(1, 3)
	r.Tick(2, 3)
	r.Tick(3, 3)

	assert.Len(t, hook.Entries, 3)
}

func TestLoggingThrottlesIntermediateTicksButAlwaysEmitsFinal(t *testing.T) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	r := NewLogging(logger, time.Hour)

	r.Tick(1, 2) // first tick always logs
	r.Tick(2, 2) // final tick always logs regardless of throttle

	assert.Len(t, hook.Entries, 2)
}
