// Package logging provides the controller's structured logging facade.
// It wraps zerolog rather than hand-rolling output streams, configured
// from the logging.standard / logging.debug config keys: each stream is
// independently "s" (stdout) or "n" (none).
package logging

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// Logger wraps two independent zerolog sinks: a standard (info/warn/error)
// stream and a debug stream. Either may be silenced without affecting the
// other, matching the logging.standard / logging.debug config keys.
type Logger struct {
	standard zerolog.Logger
	debug    zerolog.Logger
	debugOn  bool
}

// Mode is a config value: "s" for stdout, "n" for none.
type Mode string

const (
	ModeStdout Mode = "s"
	ModeNone   Mode = "n"
)

// New builds a Logger for the given component name from standard/debug
// mode strings. Unrecognized modes behave as ModeNone.
func New(component string, standard, debug Mode) *Logger {
	stdWriter := sinkFor(standard)
	dbgWriter := sinkFor(debug)

	l := &Logger{
		standard: zerolog.New(stdWriter).With().Timestamp().Str("component", component).Logger(),
		debug:    zerolog.New(dbgWriter).With().Timestamp().Str("component", component).Logger(),
		debugOn:  debug == ModeStdout,
	}
	return l
}

func sinkFor(m Mode) io.Writer {
	if m == ModeStdout {
		return os.Stdout
	}
	return io.Discard
}

// Named returns a child logger tagged with an additional component suffix,
// sharing the same sinks.
func (l *Logger) Named(component string) *Logger {
	return &Logger{
		standard: l.standard.With().Str("subcomponent", component).Logger(),
		debug:    l.debug.With().Str("subcomponent", component).Logger(),
		debugOn:  l.debugOn,
	}
}

func (l *Logger) Info(msg string, kv ...interface{}) {
	withFields(l.standard.Info(), kv).Msg(msg)
}

func (l *Logger) Warn(msg string, kv ...interface{}) {
	withFields(l.standard.Warn(), kv).Msg(msg)
}

func (l *Logger) Error(err error, msg string, kv ...interface{}) {
	withFields(l.standard.Error().Err(err), kv).Msg(msg)
}

func (l *Logger) Debug(msg string, kv ...interface{}) {
	if !l.debugOn {
		return
	}
	withFields(l.debug.Debug(), kv).Msg(msg)
}

// withFields applies alternating key/value pairs to an in-flight event.
// Non-string keys and dangling trailing values are ignored.
func withFields(e *zerolog.Event, kv []interface{}) *zerolog.Event {
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		e = e.Interface(key, kv[i+1])
	}
	return e
}
