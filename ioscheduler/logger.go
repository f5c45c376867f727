package ioscheduler

import "log"

// Logger is the minimal logging surface this package writes to:
// Debug/Info/Warn/Error with a message and loosely-typed fields, rather
// than a structured-logging library. This core's log volume (lifecycle
// events and driver faults) doesn't warrant pulling in zap/zerolog/logrus.
type Logger interface {
	Debug(msg string, fields ...any)
	Info(msg string, fields ...any)
	Warn(msg string, fields ...any)
	Error(msg string, fields ...any)
}

// NoopLogger discards everything. It is the Config default.
type NoopLogger struct{}

func (NoopLogger) Debug(string, ...any) {}
func (NoopLogger) Info(string, ...any)  {}
func (NoopLogger) Warn(string, ...any)  {}
func (NoopLogger) Error(string, ...any) {}

// StdLogger adapts the stdlib log package to Logger, for embedders who want
// something on stderr without pulling in a third-party logger.
type StdLogger struct {
	*log.Logger
}

func (l StdLogger) Debug(msg string, fields ...any) { l.logf("DEBUG", msg, fields...) }
func (l StdLogger) Info(msg string, fields ...any)  { l.logf("INFO", msg, fields...) }
func (l StdLogger) Warn(msg string, fields ...any)  { l.logf("WARN", msg, fields...) }
func (l StdLogger) Error(msg string, fields ...any) { l.logf("ERROR", msg, fields...) }

func (l StdLogger) logf(level, msg string, fields ...any) {
	if l.Logger == nil {
		log.Println(level, msg, fields)
		return
	}
	l.Logger.Println(level, msg, fields)
}
