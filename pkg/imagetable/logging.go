package imagetable

import "github.com/sirupsen/logrus"

// logrusLogger adapts a *logrus.Logger to the Logger interface. Grounded on
// the structured-logging idiom used throughout dragonflyoss/nydus's
// contrib/nydusify converter and checker packages.
type logrusLogger struct {
	entry *logrus.Entry
}

// NewLogrusLogger wraps l, tagging every message with the table's format
// name so multiplexed tables are distinguishable in shared log output.
func NewLogrusLogger(l *logrus.Logger, formatName string) Logger {
	if l == nil {
		l = logrus.StandardLogger()
	}

	return &logrusLogger{entry: l.WithField("format", formatName)}
}

func (l *logrusLogger) Debugf(format string, args ...interface{}) { l.entry.Debugf(format, args...) }
func (l *logrusLogger) Infof(format string, args ...interface{})  { l.entry.Infof(format, args...) }
func (l *logrusLogger) Warnf(format string, args ...interface{})  { l.entry.Warnf(format, args...) }
func (l *logrusLogger) Errorf(format string, args ...interface{}) { l.entry.Errorf(format, args...) }

// nopLogger discards everything. Used as the default when a Host does not
// care to observe non-fatal conditions.
type nopLogger struct{}

func (nopLogger) Debugf(string, ...interface{}) {}
func (nopLogger) Infof(string, ...interface{})  {}
func (nopLogger) Warnf(string, ...interface{})  {}
func (nopLogger) Errorf(string, ...interface{}) {}

// NopLogger returns a Logger that discards all messages.
func NopLogger() Logger { return nopLogger{} }
