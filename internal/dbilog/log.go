// Package dbilog provides the leveled, printf-style logging collaborator the
// translation core reports to (DEBUG, WARN, ERROR), backed by logrus.
//
// The core never imports logrus directly: every package that wants to log
// takes a dbilog.Logger, so swapping the backend later touches one file.
package dbilog

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Logger is the printf-style logging contract consumed by the translation
// core. Implementations must be safe for concurrent use; the core itself is
// single-threaded per VM, but one process may run many VMs.
type Logger interface {
	Debugf(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// logrusLogger adapts *logrus.Logger to Logger.
type logrusLogger struct {
	entry *logrus.Entry
}

// New returns a Logger that writes to w at the given level, formatted the way
// logrus formats everything else in the pack this module draws its ambient
// stack from.
func New(w io.Writer, level logrus.Level) Logger {
	l := logrus.New()
	l.SetOutput(w)
	l.SetLevel(level)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return &logrusLogger{entry: logrus.NewEntry(l)}
}

// NewDefault returns the default Logger: WARN level to stderr. Most
// translation-path logging is DEBUG and stays silent unless a caller opts in
// via Config.WithLogger.
func NewDefault() Logger {
	return New(os.Stderr, logrus.WarnLevel)
}

// With returns a Logger carrying additional structured fields, e.g.
// component names ("execblockmanager", "execbroker") tagging the emitting
// subsystem on each message.
func With(l Logger, component string) Logger {
	ll, ok := l.(*logrusLogger)
	if !ok {
		return l
	}
	return &logrusLogger{entry: ll.entry.WithField("component", component)}
}

func (l *logrusLogger) Debugf(format string, args ...interface{}) { l.entry.Debugf(format, args...) }
func (l *logrusLogger) Warnf(format string, args ...interface{})  { l.entry.Warnf(format, args...) }
func (l *logrusLogger) Errorf(format string, args ...interface{}) { l.entry.Errorf(format, args...) }

// Noop discards everything; useful for tests and for drivers that don't want
// translation-path logging at all.
var Noop Logger = noopLogger{}

type noopLogger struct{}

func (noopLogger) Debugf(string, ...interface{}) {}
func (noopLogger) Warnf(string, ...interface{})  {}
func (noopLogger) Errorf(string, ...interface{}) {}
