package utils

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"
)

// Logger wraps standard log with level-based output
type Logger struct {
	info  *log.Logger
	warn  *log.Logger
	error *log.Logger
	debug *log.Logger

	tag       string
	debugMode bool
}

// NewLogger creates a new levelled logger writing to stdout/stderr
func NewLogger() *Logger {
	return NewLoggerTo(os.Stdout, os.Stderr)
}

// NewLoggerTo creates a logger with explicit destinations (tests pass io.Discard)
func NewLoggerTo(out, errOut io.Writer) *Logger {
	flags := log.Lmsgprefix
	return &Logger{
		info:  log.New(out, "[INFO]  ", flags),
		warn:  log.New(out, "[WARN]  ", flags),
		error: log.New(errOut, "[ERROR] ", flags),
		debug: log.New(out, "[DEBUG] ", flags),
	}
}

// Discard returns a logger that drops everything
func Discard() *Logger {
	return NewLoggerTo(io.Discard, io.Discard)
}

// SetLevel enables debug output when level is "debug"
func (l *Logger) SetLevel(level string) {
	l.debugMode = strings.EqualFold(level, "debug")
}

// With returns a child logger whose lines are tagged, e.g. "[collector]"
func (l *Logger) With(tag string) *Logger {
	child := *l
	if child.tag != "" {
		child.tag = child.tag + " " + tag
	} else {
		child.tag = tag
	}
	return &child
}

func (l *Logger) prefix() string {
	if l.tag != "" {
		return fmt.Sprintf(" %s [%s] ", time.Now().Format("15:04:05"), l.tag)
	}
	return fmt.Sprintf(" %s ", time.Now().Format("15:04:05"))
}

func (l *Logger) Info(msg string, args ...interface{}) {
	l.info.Printf(l.prefix()+msg, args...)
}

func (l *Logger) Warn(msg string, args ...interface{}) {
	l.warn.Printf(l.prefix()+msg, args...)
}

func (l *Logger) Error(msg string, args ...interface{}) {
	l.error.Printf(l.prefix()+msg, args...)
}

func (l *Logger) Debug(msg string, args ...interface{}) {
	if !l.debugMode {
		return
	}
	l.debug.Printf(l.prefix()+msg, args...)
}
