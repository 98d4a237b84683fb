// Package logger is the process-wide leveled logger used by every package in
// the chat core.
//
// It is a thin facade over a jwalterweatherman notepad so that call sites only
// depend on Tracef/Debugf/Infof/Warnf/Errorf and the backend can be swapped or
// reconfigured (level, writer, flags) at runtime.
package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"

	jww "github.com/spf13/jwalterweatherman"
)

// Level is the verbosity threshold used by the logger.
//
// Lower values are more verbose.
type Level int

const (
	// LevelTrace enables extremely verbose logs (wire frames, reducer inputs).
	LevelTrace Level = iota
	// LevelDebug enables verbose logs intended for debugging.
	LevelDebug
	// LevelInfo enables informational logs (default).
	LevelInfo
	// LevelWarn enables only warnings and errors.
	LevelWarn
	// LevelError enables only error logs.
	LevelError
)

var (
	mu     sync.RWMutex
	level  = LevelInfo
	out    io.Writer = os.Stderr
	flags  = log.LstdFlags
	prefix = "syncre "
	pad    = newNotepad()
)

// newNotepad builds a notepad for the current settings. Callers hold mu.
func newNotepad() *jww.Notepad {
	return jww.NewNotepad(threshold(level), jww.LevelFatal, out, io.Discard, prefix, flags)
}

func threshold(l Level) jww.Threshold {
	switch l {
	case LevelTrace:
		return jww.LevelTrace
	case LevelDebug:
		return jww.LevelDebug
	case LevelInfo:
		return jww.LevelInfo
	case LevelWarn:
		return jww.LevelWarn
	default:
		return jww.LevelError
	}
}

// String returns the canonical name of the level.
func (l Level) String() string {
	switch l {
	case LevelTrace:
		return "trace"
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return fmt.Sprintf("level(%d)", int(l))
	}
}

// ParseLevel parses a log level string into a Level.
func ParseLevel(raw string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "trace":
		return LevelTrace, nil
	case "debug":
		return LevelDebug, nil
	case "", "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return LevelInfo, fmt.Errorf("unknown log level %q", raw)
	}
}

// SetOutput replaces the writer used by the global logger.
func SetOutput(w io.Writer) {
	if w == nil {
		w = io.Discard
	}
	mu.Lock()
	defer mu.Unlock()
	out = w
	pad = newNotepad()
}

// SetFlags sets the underlying log flags used for all output.
func SetFlags(f int) {
	mu.Lock()
	defer mu.Unlock()
	flags = f
	pad = newNotepad()
}

// SetLevel sets the global log level threshold.
func SetLevel(l Level) {
	mu.Lock()
	defer mu.Unlock()
	level = l
	pad = newNotepad()
}

// CurrentLevel returns the active threshold.
func CurrentLevel() Level {
	mu.RLock()
	defer mu.RUnlock()
	return level
}

// Enabled reports whether a level would be emitted by the current configuration.
func Enabled(l Level) bool {
	return l >= CurrentLevel()
}

func current() *jww.Notepad {
	mu.RLock()
	defer mu.RUnlock()
	return pad
}

// Tracef logs at TRACE level.
func Tracef(format string, args ...any) {
	current().TRACE.Printf(format, args...)
}

// Debugf logs at DEBUG level.
func Debugf(format string, args ...any) {
	current().DEBUG.Printf(format, args...)
}

// Infof logs at INFO level.
func Infof(format string, args ...any) {
	current().INFO.Printf(format, args...)
}

// Warnf logs at WARN level.
func Warnf(format string, args ...any) {
	current().WARN.Printf(format, args...)
}

// Errorf logs at ERROR level.
func Errorf(format string, args ...any) {
	current().ERROR.Printf(format, args...)
}
