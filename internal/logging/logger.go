// Package logging wraps github.com/sirupsen/logrus the way the teacher's
// logger package wraps it: a small Logger interface around a *logrus.Logger,
// level control, structured fields, and a single entry point used by every
// other package instead of importing logrus directly. Keeping one seam here
// means the masking rules in internal/logging/mask apply uniformly.
package logging

import (
	"context"
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Logger is the structured logging surface used across TrakBridge. It is
// deliberately small: one method per level plus a With escape hatch,
// matching the density of calls the worker/manager/connection code actually
// needs rather than the teacher's full Entry/Access/GORM-hook surface.
type Logger interface {
	Debug(msg string, fields Fields)
	Info(msg string, fields Fields)
	Warn(msg string, fields Fields)
	Error(msg string, fields Fields)

	// With returns a derived Logger that always includes the given fields,
	// the way the teacher's Fields.Clone().Add(...) builds request-scoped
	// loggers without mutating the parent.
	With(fields Fields) Logger

	// SetLevel adjusts the minimum level of emitted entries.
	SetLevel(level string)

	// Output returns the underlying writer, for libraries (gin, gorm) that
	// want an io.Writer rather than a structured sink.
	Output() io.Writer
}

// Fields is a structured key/value attachment for one log entry.
type Fields map[string]interface{}

type logger struct {
	base *logrus.Entry
}

// New creates a root Logger writing JSON-formatted entries to stdout. The
// caller's context is accepted for parity with the teacher's context-scoped
// constructors even though the stdlib logrus.Logger itself carries no
// cancellation semantics.
func New(_ context.Context) Logger {
	l := logrus.New()
	l.SetOutput(os.Stdout)
	l.SetFormatter(&logrus.JSONFormatter{TimestampFormat: "2006-01-02T15:04:05.000Z07:00"})
	l.SetLevel(logrus.InfoLevel)
	return &logger{base: logrus.NewEntry(l)}
}

func (l *logger) Debug(msg string, fields Fields) { l.entry(fields).Debug(msg) }
func (l *logger) Info(msg string, fields Fields)  { l.entry(fields).Info(msg) }
func (l *logger) Warn(msg string, fields Fields)  { l.entry(fields).Warn(msg) }
func (l *logger) Error(msg string, fields Fields) { l.entry(fields).Error(msg) }

func (l *logger) entry(fields Fields) *logrus.Entry {
	if len(fields) == 0 {
		return l.base
	}
	return l.base.WithFields(logrus.Fields(Mask(fields)))
}

func (l *logger) With(fields Fields) Logger {
	return &logger{base: l.entry(fields)}
}

func (l *logger) SetLevel(level string) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	l.base.Logger.SetLevel(lvl)
}

func (l *logger) Output() io.Writer {
	return l.base.Logger.Out
}
