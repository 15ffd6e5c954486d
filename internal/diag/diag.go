// Package diag provides the ambient leveled logging used across the
// directory engine. It wraps the standard log package with colog so the
// "info: "/"warn: "/"error: " line-prefix convention already used by
// callers in this codebase is treated as a real log level instead of a
// bare string, and exposes a small Logger interface for components that
// want a scoped, field-carrying logger (e.g. per-partition diagnostics).
package diag

import (
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/comail/colog"
)

var registerOnce sync.Once

// Init registers colog as the backend for the standard log package. It is
// idempotent and safe to call from multiple partitions/tests; only the
// first call's minimum level takes effect.
func Init(minLevel Level) {
	registerOnce.Do(func() {
		colog.SetDefaultLevel(colog.LInfo)
		colog.SetMinLevel(toColog(minLevel))
		colog.Register()
	})
}

// Level mirrors the four levels the engine's components log at. It is
// intentionally narrower than colog's own level set (which also has
// Trace/Alert) because nothing in the core engine needs those.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func toColog(l Level) colog.Level {
	switch l {
	case LevelDebug:
		return colog.LDebug
	case LevelWarn:
		return colog.LWarning
	case LevelError:
		return colog.LError
	default:
		return colog.LInfo
	}
}

func (l Level) prefix() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return "info"
	}
}

// Logger is a scoped, field-carrying logger. Components that need to tag
// every line with a fixed context (a partition name, a schema name) hold
// one of these instead of calling the package-level functions directly.
type Logger struct {
	fields string
}

// New returns a Logger that appends the given key=value fields to every
// message, in the teacher's "info: message key=value" line shape.
func New(keysAndValues ...interface{}) Logger {
	return Logger{fields: formatFields(keysAndValues)}
}

// With returns a copy of l with additional fields appended.
func (l Logger) With(keysAndValues ...interface{}) Logger {
	extra := formatFields(keysAndValues)
	if extra == "" {
		return l
	}
	if l.fields == "" {
		return Logger{fields: extra}
	}
	return Logger{fields: l.fields + " " + extra}
}

func (l Logger) Debugf(format string, args ...interface{}) { l.logf(LevelDebug, format, args...) }
func (l Logger) Infof(format string, args ...interface{})  { l.logf(LevelInfo, format, args...) }
func (l Logger) Warnf(format string, args ...interface{})  { l.logf(LevelWarn, format, args...) }
func (l Logger) Errorf(format string, args ...interface{}) { l.logf(LevelError, format, args...) }

func (l Logger) logf(level Level, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	if l.fields != "" {
		msg = msg + " " + l.fields
	}
	log.Printf("%s: %s", level.prefix(), msg)
}

func formatFields(keysAndValues []interface{}) string {
	if len(keysAndValues) == 0 {
		return ""
	}
	var b strings.Builder
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		if i > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%v=%v", keysAndValues[i], keysAndValues[i+1])
	}
	return b.String()
}

// Debugf logs at debug level using the package-wide (unscoped) logger.
func Debugf(format string, args ...interface{}) { log.Printf("debug: "+format, args...) }

// Infof logs at info level using the package-wide (unscoped) logger.
func Infof(format string, args ...interface{}) { log.Printf("info: "+format, args...) }

// Warnf logs at warn level using the package-wide (unscoped) logger.
func Warnf(format string, args ...interface{}) { log.Printf("warn: "+format, args...) }

// Errorf logs at error level using the package-wide (unscoped) logger.
func Errorf(format string, args ...interface{}) { log.Printf("error: "+format, args...) }
