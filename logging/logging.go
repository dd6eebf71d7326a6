// Package logging provides the leveled, component-scoped console/file logger
// used by every drainkit package.
//
// Lines use a traditional format:
//
//	LEVEL TIMESTAMP [component] message key=value ...
//
// Output defaults to stdout. NewRotatingOutput returns a size-rotated file
// writer for long-running services.
package logging

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Level represents log severity.
type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
	LevelFatal Level = "FATAL"
)

var levelPriority = map[Level]int{
	LevelDebug: 0,
	LevelInfo:  1,
	LevelWarn:  2,
	LevelError: 3,
	LevelFatal: 4,
}

// ParseLevel converts a level string to a Level (case-insensitive).
// Returns LevelInfo for unrecognized strings.
func ParseLevel(s string) Level {
	l := Level(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := levelPriority[l]; ok {
		return l
	}
	if l == "WARNING" {
		return LevelWarn
	}
	return LevelInfo
}

// Fields is a set of structured key/value pairs attached to a line.
type Fields map[string]interface{}

// Logger provides structured logging to an io.Writer.
type Logger struct {
	mu        *sync.Mutex
	output    io.Writer
	minLevel  Level
	component string
	instance  string
	fields    Fields
}

// New creates a new Logger writing to stdout at INFO.
func New() *Logger {
	return &Logger{
		mu:       &sync.Mutex{},
		output:   os.Stdout,
		minLevel: LevelInfo,
	}
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	l := New()
	l.output = io.Discard
	return l
}

func (l *Logger) clone() *Logger {
	c := *l
	if len(l.fields) > 0 {
		c.fields = make(Fields, len(l.fields))
		for k, v := range l.fields {
			c.fields[k] = v
		}
	}
	return &c
}

// WithComponent returns a new logger with the given component name.
func (l *Logger) WithComponent(component string) *Logger {
	c := l.clone()
	c.component = component
	return c
}

// WithInstance returns a new logger that stamps every line with the
// service instance ID.
func (l *Logger) WithInstance(id string) *Logger {
	c := l.clone()
	c.instance = id
	return c
}

// With returns a new logger carrying the given fields on every line.
func (l *Logger) With(fields Fields) *Logger {
	c := l.clone()
	if c.fields == nil {
		c.fields = make(Fields, len(fields))
	}
	for k, v := range fields {
		c.fields[k] = v
	}
	return c
}

// SetLevel sets the minimum log level.
func (l *Logger) SetLevel(level Level) {
	l.minLevel = level
}

// Level returns the minimum log level.
func (l *Logger) Level() Level {
	return l.minLevel
}

// SetOutput sets the output writer (default: stdout).
func (l *Logger) SetOutput(w io.Writer) {
	l.output = w
}

// Enabled reports whether lines at level would be written.
func (l *Logger) Enabled(level Level) bool {
	return levelPriority[level] >= levelPriority[l.minLevel]
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string, fields ...Fields) {
	l.log(LevelDebug, msg, fields...)
}

// Info logs an info message.
func (l *Logger) Info(msg string, fields ...Fields) {
	l.log(LevelInfo, msg, fields...)
}

// Warn logs a warning message.
func (l *Logger) Warn(msg string, fields ...Fields) {
	l.log(LevelWarn, msg, fields...)
}

// Error logs an error message.
func (l *Logger) Error(msg string, fields ...Fields) {
	l.log(LevelError, msg, fields...)
}

// Fatal logs at the highest severity. It does not exit; callers decide
// the exit code.
func (l *Logger) Fatal(msg string, fields ...Fields) {
	l.log(LevelFatal, msg, fields...)
}

func formatFields(fields Fields) string {
	if len(fields) == 0 {
		return ""
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, fields[k])
	}
	return b.String()
}

func (l *Logger) log(level Level, msg string, fields ...Fields) {
	if !l.Enabled(level) {
		return
	}

	timestamp := time.Now().UTC().Format("2006-01-02T15:04:05.000Z")

	merged := make(Fields, len(l.fields)+1)
	for k, v := range l.fields {
		merged[k] = v
	}
	if l.instance != "" {
		merged["instance"] = l.instance
	}
	for _, f := range fields {
		for k, v := range f {
			merged[k] = v
		}
	}
	fieldStr := formatFields(merged)

	var line string
	if l.component != "" {
		line = fmt.Sprintf("%-5s %s [%s] %s%s\n", level, timestamp, l.component, msg, fieldStr)
	} else {
		line = fmt.Sprintf("%-5s %s %s%s\n", level, timestamp, msg, fieldStr)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.output.Write([]byte(line))
}

// RotationConfig controls file rotation for NewRotatingOutput.
type RotationConfig struct {
	// Path of the active log file.
	Path string

	// MaxSizeMB is the size at which the file is rotated.
	// Default: 10
	MaxSizeMB int

	// MaxBackups is how many rotated files are kept.
	// Default: 3
	MaxBackups int

	// MaxAgeDays bounds how long rotated files are kept.
	// Default: 28
	MaxAgeDays int
}

// NewRotatingOutput returns a writer that rotates the file at cfg.Path.
// Close it on shutdown to release the file handle.
func NewRotatingOutput(cfg RotationConfig) io.WriteCloser {
	if cfg.MaxSizeMB <= 0 {
		cfg.MaxSizeMB = 10
	}
	if cfg.MaxBackups <= 0 {
		cfg.MaxBackups = 3
	}
	if cfg.MaxAgeDays <= 0 {
		cfg.MaxAgeDays = 28
	}
	return &lumberjack.Logger{
		Filename:   cfg.Path,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
	}
}
