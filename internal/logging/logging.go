// Package logging provides a per-component logger wrapping the standard
// library's log.Logger, mirroring the node/utils/logger.get_logger(name)
// convention: every component asks for a logger named after itself and
// gets consistent prefixing, nothing more.
package logging

import (
	"log"
	"os"
	"strings"
	"sync/atomic"
)

// debugEnabled gates Debugf output process-wide; set once at bootstrap
// via SetLevel.
var debugEnabled atomic.Bool

// SetLevel applies the configured log level: "debug" (case-insensitive)
// enables Debugf output, anything else suppresses it. Warnf and Errorf
// always print.
func SetLevel(level string) {
	debugEnabled.Store(strings.EqualFold(level, "debug"))
}

// Logger is a thin prefix wrapper around *log.Logger.
type Logger struct {
	*log.Logger
	name string
}

// New returns a logger that prefixes every line with "[name] ".
func New(name string) *Logger {
	return &Logger{
		Logger: log.New(os.Stderr, "["+name+"] ", log.LstdFlags),
		name:   name,
	}
}

// Name returns the component name this logger was created for.
func (l *Logger) Name() string { return l.name }

// Warnf logs a warning-level line. The standard logger has no level
// concept, so the level is a naming convention at call sites.
func (l *Logger) Warnf(format string, args ...any) {
	l.Printf("WARN: "+format, args...)
}

// Errorf logs an error-level line.
func (l *Logger) Errorf(format string, args ...any) {
	l.Printf("ERROR: "+format, args...)
}

// Debugf logs a debug-level line, suppressed unless SetLevel enabled
// debug output.
func (l *Logger) Debugf(format string, args ...any) {
	if !debugEnabled.Load() {
		return
	}
	l.Printf("DEBUG: "+format, args...)
}
