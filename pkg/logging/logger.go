package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
)

// Level represents log level
type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
	FATAL
)

func (l Level) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	case FATAL:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

func (l Level) logrus() logrus.Level {
	switch l {
	case DEBUG:
		return logrus.DebugLevel
	case WARN:
		return logrus.WarnLevel
	case ERROR:
		return logrus.ErrorLevel
	case FATAL:
		return logrus.FatalLevel
	default:
		return logrus.InfoLevel
	}
}

// Logger is a structured logger with optional file output
type Logger struct {
	base      *logrus.Logger
	entry     *logrus.Entry
	logFile   *os.File
	component string
}

func newBase(level Level, jsonFormat bool, out io.Writer) *logrus.Logger {
	base := logrus.New()
	base.SetOutput(out)
	base.SetLevel(level.logrus())
	if jsonFormat {
		base.SetFormatter(&logrus.JSONFormatter{})
	} else {
		base.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
		})
	}
	return base
}

// NewLogger creates a logger writing to stderr
func NewLogger(level Level, jsonFormat bool) *Logger {
	base := newBase(level, jsonFormat, os.Stderr)
	return &Logger{base: base, entry: logrus.NewEntry(base)}
}

// NewWriterLogger creates a logger writing to w
func NewWriterLogger(w io.Writer, level Level, jsonFormat bool) *Logger {
	base := newBase(level, jsonFormat, w)
	return &Logger{base: base, entry: logrus.NewEntry(base)}
}

// NewFileLogger creates a logger that appends to path. When tee is set
// entries are also written to stderr.
func NewFileLogger(path, component string, level Level, jsonFormat, tee bool) (*Logger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory %s: %w", filepath.Dir(path), err)
	}

	logFile, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file %s: %w", path, err)
	}

	var out io.Writer = logFile
	if tee {
		out = io.MultiWriter(logFile, os.Stderr)
	}

	base := newBase(level, jsonFormat, out)
	logger := &Logger{
		base:      base,
		entry:     logrus.NewEntry(base).WithField("component", component),
		logFile:   logFile,
		component: component,
	}
	logger.Debug(fmt.Sprintf("Logger initialized: %s -> %s", component, path))
	return logger, nil
}

// SetOutput sets the output writer
func (l *Logger) SetOutput(w io.Writer) {
	l.base.SetOutput(w)
}

func first(fields []map[string]interface{}) logrus.Fields {
	if len(fields) == 0 || fields[0] == nil {
		return nil
	}
	return logrus.Fields(fields[0])
}

// Debug logs a debug message
func (l *Logger) Debug(message string, fields ...map[string]interface{}) {
	l.entry.WithFields(first(fields)).Debug(message)
}

// Info logs an info message
func (l *Logger) Info(message string, fields ...map[string]interface{}) {
	l.entry.WithFields(first(fields)).Info(message)
}

// Warn logs a warning message
func (l *Logger) Warn(message string, fields ...map[string]interface{}) {
	l.entry.WithFields(first(fields)).Warn(message)
}

// Error logs an error message
func (l *Logger) Error(message string, fields ...map[string]interface{}) {
	l.entry.WithFields(first(fields)).Error(message)
}

// Fatal logs a fatal message and exits
func (l *Logger) Fatal(message string, fields ...map[string]interface{}) {
	l.entry.WithFields(first(fields)).Fatal(message)
}

// WithField returns a logger carrying an extra field
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return &Logger{
		base:      l.base,
		entry:     l.entry.WithField(key, value),
		component: l.component,
	}
}

// ParseLevel parses a log level string
func ParseLevel(level string) Level {
	switch strings.ToLower(level) {
	case "debug":
		return DEBUG
	case "info":
		return INFO
	case "warn", "warning":
		return WARN
	case "error":
		return ERROR
	case "fatal":
		return FATAL
	default:
		return INFO
	}
}

// Close closes the log file if opened
func (l *Logger) Close() error {
	if l.logFile != nil {
		return l.logFile.Close()
	}
	return nil
}

// Discard returns a logger that drops everything, for tests and quiet commands
func Discard() *Logger {
	return NewWriterLogger(io.Discard, FATAL, false)
}
