// Package logging provides structured logging for rdosync, backed by logrus.
package logging

import (
	"io"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	global *logrus.Logger
	once   sync.Once
)

// Init configures the global logger. Safe to call more than once; only the
// first call wins.
func Init(out io.Writer, level string, jsonFormat bool) {
	once.Do(func() {
		l := logrus.New()
		l.SetOutput(out)
		if jsonFormat {
			l.SetFormatter(&logrus.JSONFormatter{})
		} else {
			l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
		}
		if lvl, err := logrus.ParseLevel(level); err == nil {
			l.SetLevel(lvl)
		}
		global = l
	})
}

// Get returns the global logger, initializing it with defaults when needed.
func Get() *logrus.Logger {
	if global == nil {
		Init(os.Stdout, "info", true)
	}
	return global
}

// Fields is re-exported so callers don't import logrus directly.
type Fields = logrus.Fields

// Debug logs a debug message with optional structured fields.
func Debug(message string, fields Fields) {
	Get().WithFields(fields).Debug(message)
}

// Info logs an info message with optional structured fields.
func Info(message string, fields Fields) {
	Get().WithFields(fields).Info(message)
}

// Warn logs a warning message with optional structured fields.
func Warn(message string, fields Fields) {
	Get().WithFields(fields).Warn(message)
}

// Error logs an error message with the error attached.
func Error(message string, err error, fields Fields) {
	entry := Get().WithFields(fields)
	if err != nil {
		entry = entry.WithError(err)
	}
	entry.Error(message)
}
