// Package logger provides a thread-safe, levelled logger backed by the
// standard library's log package.
package logger

import (
	"fmt"
	"log"
	"os"
	"sync"
)

// Level represents a logging verbosity level.
type Level int

const (
	// LevelDebug emits all messages.
	LevelDebug Level = iota
	// LevelInfo emits INFO, WARN and ERROR messages.
	LevelInfo
	// LevelWarn emits WARN and ERROR messages.
	LevelWarn
	// LevelError emits only ERROR messages.
	LevelError
)

// Logger is a levelled logger with an optional component prefix so that log
// lines from the engine, the session registry, and the API server can be told
// apart at a glance.
//
// Thread-safety: log.Logger serialises writes to the underlying io.Writer
// with its own mutex.  The wrapper adds a second mutex only for the level
// field so SetLevel may be called concurrently with logging methods.
type Logger struct {
	debugLog  *log.Logger
	infoLog   *log.Logger
	warnLog   *log.Logger
	errorLog  *log.Logger
	component string
	mu        sync.RWMutex
	level     Level
}

// New creates a Logger that writes to stderr at the given minimum level.
// Millisecond-resolution timestamps are enough to diagnose latency problems
// under concurrent load.
func New(level Level) *Logger {
	flags := log.Ldate | log.Ltime | log.Lmicroseconds
	return &Logger{
		debugLog: log.New(os.Stderr, "DEBUG ", flags),
		infoLog:  log.New(os.Stderr, "INFO  ", flags),
		warnLog:  log.New(os.Stderr, "WARN  ", flags),
		errorLog: log.New(os.Stderr, "ERROR ", flags),
		level:    level,
	}
}

// WithComponent returns a logger that prefixes every message with
// "[component]".  The returned logger shares the receiver's level and output
// streams; SetLevel on either affects only that instance.
func (l *Logger) WithComponent(component string) *Logger {
	l.mu.RLock()
	lvl := l.level
	l.mu.RUnlock()
	return &Logger{
		debugLog:  l.debugLog,
		infoLog:   l.infoLog,
		warnLog:   l.warnLog,
		errorLog:  l.errorLog,
		component: component,
		level:     lvl,
	}
}

// SetLevel changes the minimum log level at runtime.  Safe for concurrent use.
func (l *Logger) SetLevel(level Level) {
	l.mu.Lock()
	l.level = level
	l.mu.Unlock()
}

func (l *Logger) emit(target *log.Logger, min Level, msg string) {
	l.mu.RLock()
	lvl := l.level
	l.mu.RUnlock()
	if lvl > min {
		return
	}
	if l.component != "" {
		msg = "[" + l.component + "] " + msg
	}
	target.Output(3, msg) //nolint:errcheck
}

// Debug logs a message at DEBUG level.
func (l *Logger) Debug(msg string) { l.emit(l.debugLog, LevelDebug, msg) }

// Debugf logs a formatted message at DEBUG level.
func (l *Logger) Debugf(format string, args ...interface{}) {
	l.Debug(fmt.Sprintf(format, args...))
}

// Info logs a message at INFO level.
func (l *Logger) Info(msg string) { l.emit(l.infoLog, LevelInfo, msg) }

// Infof logs a formatted message at INFO level.
func (l *Logger) Infof(format string, args ...interface{}) {
	l.Info(fmt.Sprintf(format, args...))
}

// Warn logs a message at WARN level.
func (l *Logger) Warn(msg string) { l.emit(l.warnLog, LevelWarn, msg) }

// Warnf logs a formatted message at WARN level.
func (l *Logger) Warnf(format string, args ...interface{}) {
	l.Warn(fmt.Sprintf(format, args...))
}

// Error logs a message at ERROR level.
func (l *Logger) Error(msg string) { l.emit(l.errorLog, LevelError, msg) }

// Errorf logs a formatted message at ERROR level.
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.Error(fmt.Sprintf(format, args...))
}
