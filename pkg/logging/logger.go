package logging

import (
	"context"

	"github.com/sirupsen/logrus"
)

// Fields are structured key/value pairs attached to log entries.
type Fields map[string]interface{}

// Logger is the structured logger passed through the store. Entries are
// immutable: every With* call returns a new Logger.
type Logger interface {
	WithContext(ctx context.Context) Logger
	WithField(key string, value interface{}) Logger
	WithFields(fields Fields) Logger
	WithError(err error) Logger

	Trace(args ...interface{})
	Debug(args ...interface{})
	Info(args ...interface{})
	Warn(args ...interface{})
	Error(args ...interface{})
	Fatal(args ...interface{})

	Tracef(format string, args ...interface{})
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})

	IsTracing() bool
	IsDebugging() bool
}

type entry struct {
	*logrus.Entry
}

func wrap(e *logrus.Entry) Logger { return entry{Entry: e} }

func (l entry) WithContext(ctx context.Context) Logger {
	e := l.Entry.WithContext(ctx)
	if fields := contextFields(ctx); len(fields) > 0 {
		e = e.WithFields(logrus.Fields(fields))
	}
	return wrap(e)
}

func (l entry) WithField(key string, value interface{}) Logger {
	return wrap(l.Entry.WithField(key, value))
}

func (l entry) WithFields(fields Fields) Logger {
	return wrap(l.Entry.WithFields(logrus.Fields(fields)))
}

func (l entry) WithError(err error) Logger {
	return wrap(l.Entry.WithError(err))
}

func (l entry) IsTracing() bool   { return l.Logger.IsLevelEnabled(logrus.TraceLevel) }
func (l entry) IsDebugging() bool { return l.Logger.IsLevelEnabled(logrus.DebugLevel) }

// Default returns a Logger writing through the process-wide logrus instance.
func Default() Logger {
	reportCallerOnce.Do(func() {
		defaultLogger.SetReportCaller(true)
		defaultLogger.SetFormatter(callerFormatter{next: defaultLogger.Formatter})
	})
	return wrap(logrus.NewEntry(defaultLogger))
}

// FromLogrus wraps l, bypassing the default logger setup.
func FromLogrus(l *logrus.Logger) Logger {
	return wrap(logrus.NewEntry(l))
}
