// SPDX-License-Identifier: Apache-2.0

// Package dblog provides the structured logger the closure engine and its
// collaborators use, adapted from pgroll's migration logger: a small
// interface with Debug/Info/Warn/Error levels, a pterm-backed
// implementation, and a no-op implementation for tests.
package dblog

import (
	"fmt"
	"strings"

	"github.com/pterm/pterm"
)

// Logger is the logging interface used throughout the closure engine.
// Each level takes a message plus an optional set of key/value pairs,
// mirroring the structured-logging convention pgroll's Logger follows.
type Logger interface {
	Debug(msg string, kv ...interface{})
	Info(msg string, kv ...interface{})
	Warn(msg string, kv ...interface{})
	Error(msg string, kv ...interface{})
}

// Level controls which messages PtermLogger emits.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// ParseLevel parses the LOG_LEVEL environment variable's value. Unknown
// values default to LevelInfo.
func ParseLevel(s string) Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return LevelDebug
	case "WARN", "WARNING":
		return LevelWarn
	case "ERROR":
		return LevelError
	default:
		return LevelInfo
	}
}

// PtermLogger logs through pterm's styled printers, the same family of
// printers pgroll's CLI uses for user-facing output.
type PtermLogger struct {
	Level Level
}

// NewPtermLogger constructs a PtermLogger at the given level.
func NewPtermLogger(level Level) *PtermLogger {
	return &PtermLogger{Level: level}
}

func (l *PtermLogger) Debug(msg string, kv ...interface{}) {
	if l.Level > LevelDebug {
		return
	}
	pterm.Debug.Println(format(msg, kv))
}

func (l *PtermLogger) Info(msg string, kv ...interface{}) {
	if l.Level > LevelInfo {
		return
	}
	pterm.Info.Println(format(msg, kv))
}

func (l *PtermLogger) Warn(msg string, kv ...interface{}) {
	if l.Level > LevelWarn {
		return
	}
	pterm.Warning.Println(format(msg, kv))
}

func (l *PtermLogger) Error(msg string, kv ...interface{}) {
	pterm.Error.Println(format(msg, kv))
}

func format(msg string, kv []interface{}) string {
	if len(kv) == 0 {
		return msg
	}

	var sb strings.Builder
	sb.WriteString(msg)
	for i := 0; i+1 < len(kv); i += 2 {
		sb.WriteString(fmt.Sprintf(" %v=%v", kv[i], kv[i+1]))
	}
	return sb.String()
}

// NoopLogger discards every message. Used in unit tests that don't care
// about log output.
type NoopLogger struct{}

func (NoopLogger) Debug(msg string, kv ...interface{}) {}
func (NoopLogger) Info(msg string, kv ...interface{})  {}
func (NoopLogger) Warn(msg string, kv ...interface{})  {}
func (NoopLogger) Error(msg string, kv ...interface{}) {}
