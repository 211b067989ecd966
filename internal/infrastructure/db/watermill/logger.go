package watermilldb

import (
	"github.com/ThreeDotsLabs/watermill"
	log "github.com/sirupsen/logrus"
)

type logrusAdapter struct {
	entry *log.Entry
}

// NewLogger returns a watermill logger writing to the standard logrus logger.
func NewLogger() watermill.LoggerAdapter {
	return logrusAdapter{log.WithField("component", "watermill")}
}

func (l logrusAdapter) Error(msg string, err error, fields watermill.LogFields) {
	l.entry.WithFields(log.Fields(fields)).WithError(err).Error(msg)
}

func (l logrusAdapter) Info(msg string, fields watermill.LogFields) {
	l.entry.WithFields(log.Fields(fields)).Info(msg)
}

// Watermill is chatty at info level, demote it.
func (l logrusAdapter) Debug(msg string, fields watermill.LogFields) {
	l.entry.WithFields(log.Fields(fields)).Trace(msg)
}

func (l logrusAdapter) Trace(msg string, fields watermill.LogFields) {
	l.entry.WithFields(log.Fields(fields)).Trace(msg)
}

func (l logrusAdapter) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return logrusAdapter{l.entry.WithFields(log.Fields(fields))}
}
