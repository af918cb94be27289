// Package logger provides component-scoped structured logging for picobridge.
// Every entry carries a "component" field so bridge, channel and store logs
// can be filtered independently. Output is JSON on stdout via zerolog.
package logger

import (
	"io"
	"os"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Level mirrors zerolog levels for the subset picobridge uses.
type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
)

var base atomic.Pointer[zerolog.Logger]

func init() {
	zerolog.TimeFieldFormat = time.RFC3339
	l := zerolog.New(os.Stdout).Level(zerolog.InfoLevel).With().Timestamp().Logger()
	base.Store(&l)
}

// SetLevel sets the global minimum log level.
func SetLevel(level Level) {
	var zl zerolog.Level
	switch level {
	case DEBUG:
		zl = zerolog.DebugLevel
	case WARN:
		zl = zerolog.WarnLevel
	case ERROR:
		zl = zerolog.ErrorLevel
	default:
		zl = zerolog.InfoLevel
	}
	l := base.Load().Level(zl)
	base.Store(&l)
}

// SetOutput redirects log output, keeping the current level; used by tests.
func SetOutput(w io.Writer) {
	l := zerolog.New(w).Level(base.Load().GetLevel()).With().Timestamp().Logger()
	base.Store(&l)
}

func event(ev *zerolog.Event, component, msg string, fields map[string]any) {
	ev = ev.Str("component", component)
	for k, v := range fields {
		ev = ev.Interface(k, v)
	}
	ev.Msg(msg)
}

// DebugC logs a debug message for a component.
func DebugC(component, msg string) { DebugCF(component, msg, nil) }

// DebugCF logs a debug message with fields.
func DebugCF(component, msg string, fields map[string]any) {
	event(base.Load().Debug(), component, msg, fields)
}

// InfoC logs an info message for a component.
func InfoC(component, msg string) { InfoCF(component, msg, nil) }

// InfoCF logs an info message with fields.
func InfoCF(component, msg string, fields map[string]any) {
	event(base.Load().Info(), component, msg, fields)
}

// WarnC logs a warning for a component.
func WarnC(component, msg string) { WarnCF(component, msg, nil) }

// WarnCF logs a warning with fields.
func WarnCF(component, msg string, fields map[string]any) {
	event(base.Load().Warn(), component, msg, fields)
}

// ErrorC logs an error message for a component.
func ErrorC(component, msg string) { ErrorCF(component, msg, nil) }

// ErrorCF logs an error message with fields.
func ErrorCF(component, msg string, fields map[string]any) {
	event(base.Load().Error(), component, msg, fields)
}
