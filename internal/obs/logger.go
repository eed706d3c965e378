// Package obs provides the logging and metrics instrumentation shared by
// every wallet component. There is no package-level global logger: every
// component that wants to log takes a *Logger via its constructor, the
// way the teacher repo threads its own *config.Logger through.
package obs

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// Level mirrors the three-tier verbosity the teacher repo exposes
// (off/error/debug), rendered onto zerolog's finer-grained levels.
type Level int

// Verbosity levels.
const (
	LevelOff Level = iota
	LevelError
	LevelDebug
)

func (l Level) zerolog() zerolog.Level {
	switch l {
	case LevelOff:
		return zerolog.Disabled
	case LevelError:
		return zerolog.ErrorLevel
	case LevelDebug:
		return zerolog.DebugLevel
	default:
		return zerolog.InfoLevel
	}
}

// Logger wraps a zerolog.Logger with the component-scoped, constructor-
// injected shape used throughout this module.
type Logger struct {
	z zerolog.Logger
}

// New creates a Logger writing to w at the given level. JSON output is
// always used: every caller of this module is expected to be another
// service, not a human terminal.
func New(w io.Writer, level Level) *Logger {
	if w == nil {
		w = os.Stderr
	}
	z := zerolog.New(w).Level(level.zerolog()).With().Timestamp().Logger()
	return &Logger{z: z}
}

// Null returns a Logger that discards everything, for use in tests and
// callers that haven't configured logging.
func Null() *Logger {
	return &Logger{z: zerolog.Nop()}
}

// With returns a child Logger scoped to a named component, e.g.
// log.With("component", "walletsvc").
func (l *Logger) With(key, value string) *Logger {
	return &Logger{z: l.z.With().Str(key, value).Logger()}
}

// Debug logs a debug-level message with structured fields.
func (l *Logger) Debug(msg string, fields map[string]any) {
	event := l.z.Debug()
	for k, v := range fields {
		event = event.Interface(k, v)
	}
	event.Msg(msg)
}

// Error logs an error-level message, optionally wrapping err.
func (l *Logger) Error(msg string, err error, fields map[string]any) {
	event := l.z.Error()
	if err != nil {
		event = event.Err(err)
	}
	for k, v := range fields {
		event = event.Interface(k, v)
	}
	event.Msg(msg)
}

// Raw exposes the underlying zerolog.Logger for callers that need finer
// control than the Debug/Error helpers provide.
func (l *Logger) Raw() zerolog.Logger {
	return l.z
}
