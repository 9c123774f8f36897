// Package logrus adapts a logrus logger to the hilok
// logging interface.
package logrus

import (
	logrus "github.com/sirupsen/logrus"

	"github.com/AtakamaLLC/hilok/log"
)

type Logrus struct {
	Logger *logrus.Logger
	Enable log.Topics
}

func (l *Logrus) Enabled(topics log.Topics) bool {
	return (l.Enable & topics) != 0
}

func (l *Logrus) Log(topics log.Topics, msg string) {
	if !l.Enabled(topics) {
		return
	}
	l.Logger.Debug(msg)
}

func (l *Logrus) Logf(topics log.Topics, msg string, args ...any) {
	if !l.Enabled(topics) {
		return
	}
	l.Logger.Debugf(msg, args...)
}

var _ log.Log = (*Logrus)(nil)

func Default() *Logrus {
	return &Logrus{
		Logger: logrus.New(),
		Enable: log.AllTopics,
	}
}
