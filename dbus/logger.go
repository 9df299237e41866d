package dbus

import "github.com/sirupsen/logrus"

// Logger is the narrow sink the orchestrator (C6) and request/reply API
// (C7) accept for trace/debug/error events (spec §6: "logger: optional
// sink for trace/debug/error events, opaque to the core"). C1–C5 never
// log; only Conn takes a Logger, through Config.Logger.
type Logger interface {
	Debugf(format string, args ...any)
	Errorf(format string, args ...any)
}

// nopLogger discards everything. It is the default when Config.Logger is
// left nil.
type nopLogger struct{}

func (nopLogger) Debugf(string, ...any) {}
func (nopLogger) Errorf(string, ...any) {}

// LogrusLogger adapts a *logrus.Entry to Logger. logrus is already in the
// teacher's dependency graph (go.mod's github.com/sirupsen/logrus,
// pulled in indirectly through its Bluetooth stack); it is promoted here
// to a direct, actually-imported dependency for structured logging.
type LogrusLogger struct {
	Entry *logrus.Entry
}

// NewLogrusLogger wraps l in an entry carrying a "component=dbus" field.
// A nil l means logrus's standard logger.
func NewLogrusLogger(l *logrus.Logger) LogrusLogger {
	if l == nil {
		l = logrus.StandardLogger()
	}
	return LogrusLogger{Entry: l.WithField("component", "dbus")}
}

func (g LogrusLogger) Debugf(format string, args ...any) {
	g.Entry.Debugf(format, args...)
}

func (g LogrusLogger) Errorf(format string, args ...any) {
	g.Entry.Errorf(format, args...)
}
