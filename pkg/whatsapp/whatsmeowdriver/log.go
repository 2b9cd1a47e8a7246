package whatsmeowdriver

import (
	"github.com/sirupsen/logrus"
	waLog "go.mau.fi/whatsmeow/util/log"
)

// logger routes whatsmeow's module logs into the session's logrus entry.
type logger struct {
	entry *logrus.Entry
}

var _ waLog.Logger = (*logger)(nil)

func newLogger(entry *logrus.Entry) waLog.Logger {
	if entry == nil {
		entry = logrus.NewEntry(logrus.StandardLogger())
	}
	return &logger{entry: entry}
}

func (l *logger) Debugf(msg string, args ...interface{}) { l.entry.Debugf(msg, args...) }
func (l *logger) Infof(msg string, args ...interface{})  { l.entry.Infof(msg, args...) }
func (l *logger) Warnf(msg string, args ...interface{})  { l.entry.Warnf(msg, args...) }
func (l *logger) Errorf(msg string, args ...interface{}) { l.entry.Errorf(msg, args...) }

func (l *logger) Sub(module string) waLog.Logger {
	if parent, ok := l.entry.Data["module"].(string); ok {
		module = parent + "/" + module
	}
	return &logger{entry: l.entry.WithField("module", module)}
}
