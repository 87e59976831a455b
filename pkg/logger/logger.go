package logger

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Logger represents a simple logger interface
type Logger interface {
	Debug(msg string, keyvals ...interface{})
	Info(msg string, keyvals ...interface{})
	Warn(msg string, keyvals ...interface{})
	Error(msg string, keyvals ...interface{})
}

type logrusLogger struct {
	entry *logrus.Logger
}

// NewLogger creates a new logger with the specified level
func NewLogger(level string) Logger {
	return NewLoggerWithOutput(level, os.Stdout)
}

// NewLoggerWithOutput creates a logger writing to out, mostly for tests
func NewLoggerWithOutput(level string, out io.Writer) Logger {
	l := logrus.New()
	l.SetOutput(out)
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	l.SetLevel(parseLevel(level))

	return &logrusLogger{entry: l}
}

// NewNop returns a logger that discards everything
func NewNop() Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)

	return &logrusLogger{entry: l}
}

func parseLevel(level string) logrus.Level {
	switch strings.ToLower(level) {
	case "debug":
		return logrus.DebugLevel
	case "info":
		return logrus.InfoLevel
	case "warn", "warning":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

func (l *logrusLogger) Debug(msg string, keyvals ...interface{}) {
	l.entry.WithFields(toFields(keyvals...)).Debug(msg)
}

func (l *logrusLogger) Info(msg string, keyvals ...interface{}) {
	l.entry.WithFields(toFields(keyvals...)).Info(msg)
}

func (l *logrusLogger) Warn(msg string, keyvals ...interface{}) {
	l.entry.WithFields(toFields(keyvals...)).Warn(msg)
}

func (l *logrusLogger) Error(msg string, keyvals ...interface{}) {
	l.entry.WithFields(toFields(keyvals...)).Error(msg)
}

// toFields turns alternating key/value pairs into logrus fields.
// A trailing key without a value is recorded as "missing".
func toFields(keyvals ...interface{}) logrus.Fields {
	fields := make(logrus.Fields, len(keyvals)/2)

	for i := 0; i < len(keyvals); i += 2 {
		key, ok := keyvals[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", keyvals[i])
		}

		if i+1 < len(keyvals) {
			fields[key] = keyvals[i+1]
		} else {
			fields[key] = "missing"
		}
	}

	return fields
}
