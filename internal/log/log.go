// Package log provides a structured logging wrapper around logrus.
package log

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Recognised verbosity levels, from most to least verbose.
const (
	LevelDebug = "DEBUG"
	LevelInfo  = "INFO"
	LevelError = "ERROR"
	LevelOff   = "OFF"
)

// Logger wraps logrus.Logger per dependency injection.
// It is constructed explicitly and handed to every component that logs;
// there is no package-level instance.
type Logger struct {
	log *logrus.Logger
	out io.Writer
	off bool
}

// New creates a logger writing to stdout at the given level.
func New(level string) *Logger {
	return NewWithOutput(os.Stdout, level)
}

// NewWithOutput creates a logger writing to w at the given level.
func NewWithOutput(w io.Writer, level string) *Logger {
	l := logrus.New()
	l.SetOutput(w)
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
		ForceColors:     true,
	})

	logger := &Logger{log: l, out: w}
	logger.SetLevel(level)
	return logger
}

// Discard returns a logger that drops everything. Handy in tests.
func Discard() *Logger {
	return NewWithOutput(io.Discard, LevelOff)
}

// SetLevel changes the verbosity. Unknown values fall back to INFO.
func (l *Logger) SetLevel(level string) {
	if strings.EqualFold(level, LevelOff) {
		l.off = true
		l.log.SetOutput(io.Discard)
		l.log.SetLevel(logrus.PanicLevel)
		return
	}

	if l.off {
		l.off = false
		l.log.SetOutput(l.out)
	}

	switch strings.ToLower(level) {
	case "trace":
		l.log.SetLevel(logrus.TraceLevel)
	case "debug":
		l.log.SetLevel(logrus.DebugLevel)
	case "info":
		l.log.SetLevel(logrus.InfoLevel)
	case "warn", "warning":
		l.log.SetLevel(logrus.WarnLevel)
	case "error":
		l.log.SetLevel(logrus.ErrorLevel)
	default:
		l.log.SetLevel(logrus.InfoLevel)
	}
}

// Level returns the current level name in the upper-case form used by
// configuration.
func (l *Logger) Level() string {
	if l.off {
		return LevelOff
	}
	return strings.ToUpper(l.log.GetLevel().String())
}

// ValidLevel reports whether level is one of the recognised level names.
func ValidLevel(level string) bool {
	switch strings.ToLower(level) {
	case "trace", "debug", "info", "warn", "warning", "error", "off":
		return true
	}
	return false
}

// GetLogrus returns the underlying logrus instance
func (l *Logger) GetLogrus() *logrus.Logger {
	return l.log
}

// Trace logs trace-level messages
func (l *Logger) Trace(format string, v ...interface{}) {
	l.log.Tracef(format, v...)
}

// Debug logs debug messages
func (l *Logger) Debug(format string, v ...interface{}) {
	l.log.Debugf(format, v...)
}

// DebugWithFields logs a debug message with structured fields
func (l *Logger) DebugWithFields(fields logrus.Fields, format string, v ...interface{}) {
	l.log.WithFields(fields).Debugf(format, v...)
}

// Info logs informational messages
func (l *Logger) Info(format string, v ...interface{}) {
	l.log.Infof(format, v...)
}

// InfoWithFields logs an info message with structured fields
func (l *Logger) InfoWithFields(fields logrus.Fields, format string, v ...interface{}) {
	l.log.WithFields(fields).Infof(format, v...)
}

// Warn logs warning messages
func (l *Logger) Warn(format string, v ...interface{}) {
	l.log.Warnf(format, v...)
}

// WarnWithFields logs a warning with structured fields
func (l *Logger) WarnWithFields(fields logrus.Fields, format string, v ...interface{}) {
	l.log.WithFields(fields).Warnf(format, v...)
}

// Error logs error messages
func (l *Logger) Error(format string, v ...interface{}) {
	l.log.Errorf(format, v...)
}

// ErrorWithFields logs an error message with structured fields
func (l *Logger) ErrorWithFields(fields logrus.Fields, format string, v ...interface{}) {
	l.log.WithFields(fields).Errorf(format, v...)
}

// Fatal logs an error message and exits
func (l *Logger) Fatal(format string, v ...interface{}) {
	l.log.Fatalf(format, v...)
}

// WithField creates an entry with one structured field
func (l *Logger) WithField(key string, value interface{}) *logrus.Entry {
	return l.log.WithField(key, value)
}

// WithFields creates an entry with structured fields
func (l *Logger) WithFields(fields logrus.Fields) *logrus.Entry {
	return l.log.WithFields(fields)
}
