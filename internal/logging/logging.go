// Package logging provides structured, leveled, categorized logging for
// the coordinator, built over github.com/rs/zerolog. A headless server
// writes its log to a configured io.Writer (stdout by default) via
// zerolog directly.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Category groups related log messages by subsystem.
type Category string

const (
	CatSupervisor Category = "supervisor"
	CatSpawnCtl   Category = "spawnctl"
	CatWorkflow   Category = "workflow"
	CatBlackboard Category = "blackboard"
	CatMail       Category = "mail"
	CatCheckpoint Category = "checkpoint"
	CatEventBus   Category = "eventbus"
	CatStore      Category = "store"
	CatConfig     Category = "config"
)

// Logger wraps a zerolog.Logger scoped to a Category.
type Logger struct {
	z zerolog.Logger
}

// New creates a root Logger writing to w at the given minimum level.
// Pass os.Stdout for production use; tests typically pass io.Discard.
func New(w io.Writer, level zerolog.Level) *Logger {
	z := zerolog.New(w).Level(level).With().Timestamp().Logger()
	return &Logger{z: z}
}

// Default returns a Logger writing human-readable output to stdout at
// info level, suitable as a zero-config default.
func Default() *Logger {
	return New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}, zerolog.InfoLevel)
}

// With returns a child Logger scoped to cat; all subsequent log lines from
// it carry a "component" field.
func (l *Logger) With(cat Category) *Logger {
	return &Logger{z: l.z.With().Str("component", string(cat)).Logger()}
}

func (l *Logger) Debug(msg string, fields ...any) { logFields(l.z.Debug(), msg, fields) }
func (l *Logger) Info(msg string, fields ...any)  { logFields(l.z.Info(), msg, fields) }
func (l *Logger) Warn(msg string, fields ...any)  { logFields(l.z.Warn(), msg, fields) }
func (l *Logger) Error(msg string, fields ...any) { logFields(l.z.Error(), msg, fields) }

// ErrorErr logs an error at error level with the error value attached.
func (l *Logger) ErrorErr(msg string, err error, fields ...any) {
	ev := l.z.Error().Err(err)
	logEvent(ev, msg, fields)
}

func logFields(ev *zerolog.Event, msg string, fields []any) {
	logEvent(ev, msg, fields)
}

func logEvent(ev *zerolog.Event, msg string, fields []any) {
	for i := 0; i+1 < len(fields); i += 2 {
		key, _ := fields[i].(string)
		if key == "" {
			key = "field"
		}
		ev = ev.Interface(key, fields[i+1])
	}
	ev.Msg(msg)
}
