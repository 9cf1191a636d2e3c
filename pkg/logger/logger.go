// Package logger configures the process-wide structured logger.
package logger

import (
	"os"

	"github.com/sirupsen/logrus"
)

// New returns a logrus logger writing structured text to stderr. Level is
// parsed from the given string ("debug", "info", "warn", "error"); invalid
// values fall back to info.
func New(level string) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stderr)
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
	})

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	log.SetLevel(lvl)
	return log
}

// Component returns an entry tagged with the given component name, so log
// lines read `component=pricing msg="..."` across all services.
func Component(log *logrus.Logger, name string) *logrus.Entry {
	return log.WithField("component", name)
}
