// Package logging provides the injected logger interface used across the
// pipeline components, matching the teacher's plain-log.Logger idiom rather
// than pulling in a structured-logging library the corpus never reaches for.
package logging

import (
	"log"
	"os"
)

// Logger is the minimal logging capability every component depends on.
// Components take a Logger, never a concrete *log.Logger, so tests can
// inject a no-op or recording implementation.
type Logger interface {
	Info(format string, args ...interface{})
	Warn(format string, args ...interface{})
	Error(format string, args ...interface{})
	Debug(format string, args ...interface{})
}

// StdLogger wraps the standard library logger with leveled prefixes.
type StdLogger struct {
	l *log.Logger
}

// New builds a StdLogger writing to stdout with the given component prefix,
// e.g. New("manager") logs lines prefixed "[manager] ".
func New(component string) *StdLogger {
	return &StdLogger{l: log.New(os.Stdout, "["+component+"] ", log.LstdFlags)}
}

func (s *StdLogger) Info(format string, args ...interface{}) {
	s.l.Printf("[INFO] "+format, args...)
}

func (s *StdLogger) Warn(format string, args ...interface{}) {
	s.l.Printf("[WARN] "+format, args...)
}

func (s *StdLogger) Error(format string, args ...interface{}) {
	s.l.Printf("[ERROR] "+format, args...)
}

func (s *StdLogger) Debug(format string, args ...interface{}) {
	s.l.Printf("[DEBUG] "+format, args...)
}

// Noop discards everything; useful in tests that don't care about log output.
type Noop struct{}

func (Noop) Info(string, ...interface{})  {}
func (Noop) Warn(string, ...interface{})  {}
func (Noop) Error(string, ...interface{}) {}
func (Noop) Debug(string, ...interface{}) {}
