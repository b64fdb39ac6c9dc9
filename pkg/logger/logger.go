// Package logger wraps zerolog behind the component/message/fields call
// shape used throughout the codebase (InfoCF/DebugCF/WarnCF/ErrorCF), so
// every package logs a consistent "component=X msg=Y ...fields" line
// regardless of which concrete sink backs it.
package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the process-wide structured logger.
type Logger struct {
	z zerolog.Logger
}

// New builds a Logger writing to w at the given level expression ("debug",
// "info", "warn", "error"; unrecognized values fall back to "info").
func New(w io.Writer, levelExpr string) *Logger {
	if w == nil {
		w = os.Stderr
	}
	level := parseLevel(levelExpr)
	z := zerolog.New(w).Level(level).With().Timestamp().Logger()
	return &Logger{z: z}
}

// NewConsole builds a Logger with zerolog's human-readable console writer,
// used for the Cli platform and local development.
func NewConsole(levelExpr string) *Logger {
	cw := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}
	return New(cw, levelExpr)
}

func parseLevel(expr string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(expr)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "":
		return zerolog.InfoLevel
	default:
		return zerolog.InfoLevel
	}
}

func (l *Logger) event(e *zerolog.Event, component, message string, fields map[string]interface{}) {
	e = e.Str("component", component)
	for k, v := range fields {
		e = e.Interface(k, v)
	}
	e.Msg(message)
}

// DebugCF logs a debug-level, component-tagged message with fields.
func (l *Logger) DebugCF(component, message string, fields map[string]interface{}) {
	l.event(l.z.Debug(), component, message, fields)
}

// InfoCF logs an info-level, component-tagged message with fields.
func (l *Logger) InfoCF(component, message string, fields map[string]interface{}) {
	l.event(l.z.Info(), component, message, fields)
}

// WarnCF logs a warn-level, component-tagged message with fields.
func (l *Logger) WarnCF(component, message string, fields map[string]interface{}) {
	l.event(l.z.Warn(), component, message, fields)
}

// ErrorCF logs an error-level, component-tagged message with fields. Pass
// the error under the "error" key by convention.
func (l *Logger) ErrorCF(component, message string, fields map[string]interface{}) {
	l.event(l.z.Error(), component, message, fields)
}

// Sub returns a Logger that forwards to the same sink; kept as a cheap no-op
// today but gives call sites a stable seam for per-component loggers later.
func (l *Logger) Sub() *Logger {
	return &Logger{z: l.z}
}
