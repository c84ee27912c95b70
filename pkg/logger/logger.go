// Package logger provides the structured logging wrapper used across the
// control plane.
package logger

import (
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Logger wraps logrus.Logger so call sites depend on a single local type
// rather than the third-party package directly.
type Logger struct {
	*logrus.Logger
}

// Config controls logger construction.
type Config struct {
	Level  string
	Format string
}

// New creates a Logger from Config, defaulting to info/json on bad input.
func New(cfg Config) *Logger {
	l := logrus.New()

	level, err := logrus.ParseLevel(strings.TrimSpace(cfg.Level))
	if err != nil {
		level = logrus.InfoLevel
	}
	l.SetLevel(level)

	if strings.EqualFold(strings.TrimSpace(cfg.Format), "text") {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		l.SetFormatter(&logrus.JSONFormatter{})
	}
	l.SetOutput(os.Stdout)

	return &Logger{Logger: l}
}

// NewDefault builds a logger at info/json, honoring LOG_LEVEL and
// LOG_FORMAT environment variables if set. The component argument is not
// attached to the returned logger's output.
func NewDefault(component string) *Logger {
	level := strings.TrimSpace(os.Getenv("LOG_LEVEL"))
	if level == "" {
		level = "info"
	}
	format := strings.TrimSpace(os.Getenv("LOG_FORMAT"))
	if format == "" {
		format = "json"
	}
	l := New(Config{Level: level, Format: format})
	return &Logger{Logger: l.Logger}
}

// With returns a logger entry scoped to a named component.
func (l *Logger) With(component string) *logrus.Entry {
	return l.WithField("component", component)
}
