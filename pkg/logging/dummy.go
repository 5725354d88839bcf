package logging

import "context"

// DummyLogger drops every entry.
type DummyLogger struct{}

func Dummy() Logger {
	return DummyLogger{}
}

func (d DummyLogger) WithContext(context.Context) Logger   { return d }
func (d DummyLogger) WithField(string, interface{}) Logger { return d }
func (d DummyLogger) WithFields(Fields) Logger             { return d }
func (d DummyLogger) WithError(error) Logger               { return d }
func (DummyLogger) Trace(...interface{})                   {}
func (DummyLogger) Debug(...interface{})                   {}
func (DummyLogger) Info(...interface{})                    {}
func (DummyLogger) Warn(...interface{})                    {}
func (DummyLogger) Error(...interface{})                   {}
func (DummyLogger) Fatal(...interface{})                   {}
func (DummyLogger) Tracef(string, ...interface{})          {}
func (DummyLogger) Debugf(string, ...interface{})          {}
func (DummyLogger) Infof(string, ...interface{})           {}
func (DummyLogger) Warnf(string, ...interface{})           {}
func (DummyLogger) Errorf(string, ...interface{})          {}
func (DummyLogger) IsTracing() bool                        { return false }
func (DummyLogger) IsDebugging() bool                      { return false }
