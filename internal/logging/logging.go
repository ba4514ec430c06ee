// Package logging constructs the shared logrus logger used across the
// session. It mirrors the teacher gateway's setupLogging: a level, a
// format (json or text), and stdout output, except it returns an
// independent *logrus.Logger instance rather than mutating the global
// logrus singleton, so a process embedding multiple sessions does not
// have one session's log level stomp another's.
package logging

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Config controls logger construction.
type Config struct {
	Level  string // debug, info, warn, error; defaults to info on parse failure
	Format string // "json" or "text"; defaults to text
	Output io.Writer
}

// New builds a *logrus.Logger from cfg.
func New(cfg Config) *logrus.Logger {
	logger := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if cfg.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	if cfg.Output != nil {
		logger.SetOutput(cfg.Output)
	} else {
		logger.SetOutput(os.Stdout)
	}
	return logger
}

// Default returns an info-level, text-formatted logger writing to stdout,
// used when a session is constructed without an explicit logger.
func Default() *logrus.Logger {
	return New(Config{Level: "info", Format: "text"})
}

// Noop returns a logger that discards everything, useful for tests that
// don't want to assert on log output.
func Noop() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}
