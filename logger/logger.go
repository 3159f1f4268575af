// Package logger provides the structured logger handed to every service.
// It wraps zerolog behind the narrow contract the kernel promises: six
// severities, optional structured fields, printf-style args, and a context
// tag identifying the owning "<module>:<service>" pair.
package logger

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// Fields carries optional structured key/value pairs for a single log call.
type Fields map[string]any

// Config controls how a root logger is built.
type Config struct {
	// Level is the minimum severity emitted: trace, debug, info, warn,
	// error or fatal. Unknown values fall back to info.
	Level string
	// Pretty enables the human-readable console writer instead of JSON.
	Pretty bool
	// Output overrides the destination. Defaults to stderr.
	Output io.Writer
}

// Logger is the kernel logging facade. The zero value is unusable; build
// instances with New or derive them with With.
type Logger struct {
	zl zerolog.Logger
}

// New builds a root logger from the given config.
func New(cfg Config) Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	if cfg.Pretty {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05.000"}
	}
	zl := zerolog.New(out).Level(ParseLevel(cfg.Level)).With().Timestamp().Logger()
	return Logger{zl: zl}
}

// ParseLevel maps a level name onto a zerolog level. Unknown names map to
// info rather than failing, the logger must never be the reason a boot dies.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}

// SetGlobalLevel applies a minimum severity across every logger in the
// process. The kernel calls it once the LOG_LEVEL config resolves and on
// every later change to it.
func SetGlobalLevel(level string) {
	zerolog.SetGlobalLevel(ParseLevel(level))
}

// With returns a child logger tagged with the given context string. The tag
// shows up as the "context" field on every line the child emits.
func (l Logger) With(context string) Logger {
	return Logger{zl: l.zl.With().Str("context", context).Logger()}
}

// Level returns a copy of the logger with a different minimum severity.
func (l Logger) Level(level string) Logger {
	return Logger{zl: l.zl.Level(ParseLevel(level))}
}

// Trace logs at trace severity.
func (l Logger) Trace(fields Fields, msg string, args ...any) {
	l.emit(l.zl.Trace(), fields, msg, args...)
}

// Debug logs at debug severity.
func (l Logger) Debug(fields Fields, msg string, args ...any) {
	l.emit(l.zl.Debug(), fields, msg, args...)
}

// Info logs at info severity.
func (l Logger) Info(fields Fields, msg string, args ...any) {
	l.emit(l.zl.Info(), fields, msg, args...)
}

// Warn logs at warn severity.
func (l Logger) Warn(fields Fields, msg string, args ...any) {
	l.emit(l.zl.Warn(), fields, msg, args...)
}

// Error logs at error severity.
func (l Logger) Error(fields Fields, msg string, args ...any) {
	l.emit(l.zl.Error(), fields, msg, args...)
}

// Fatal logs at fatal severity. Unlike zerolog's Fatal it does not exit the
// process; whether a fatal condition ends the process is the caller's call.
func (l Logger) Fatal(fields Fields, msg string, args ...any) {
	l.emit(l.zl.WithLevel(zerolog.FatalLevel), fields, msg, args...)
}

func (l Logger) emit(ev *zerolog.Event, fields Fields, msg string, args ...any) {
	if len(fields) > 0 {
		ev = ev.Fields(map[string]any(fields))
	}
	if len(args) > 0 {
		ev.Msgf(msg, args...)
		return
	}
	ev.Msg(msg)
}
