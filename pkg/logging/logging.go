// Package logging is the logrus logger used by Kino's command-line tools
// (the HTTP service itself logs through internal/logger).
package logging

import (
	"os"

	"github.com/sirupsen/logrus"
)

// New creates a logrus entry pre-configured for a named tool. Output is
// JSON to stdout; level comes from LOG_LEVEL (default info). The tool
// name is embedded in every line.
func New(tool string) *logrus.Entry {
	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
	})
	log.SetOutput(os.Stdout)

	level, err := logrus.ParseLevel(os.Getenv("LOG_LEVEL"))
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)

	return log.WithField("tool", tool)
}
