package logx

import (
	"path/filepath"
	"runtime"
	"strconv"

	"github.com/rs/zerolog"
)

type Level = zerolog.Level

const (
	LevelDebug = zerolog.DebugLevel
	LevelInfo  = zerolog.InfoLevel
)

const consoleTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// callerSkip is the frame of whoever called Info, Warn and friends.
const callerSkip = 2

// Logger is a small structured logger. The zero value discards everything;
// loggers obtained from a Service stay live across Service.Apply.
type Logger struct {
	svc *Service

	// fixed sink for loggers built without a Service
	static    zerolog.Logger
	hasStatic bool

	fields []Field
}

// Nop returns a logger that never writes.
func Nop() Logger { return Logger{static: zerolog.Nop(), hasStatic: true} }

func (l Logger) IsZero() bool { return l.svc == nil && !l.hasStatic && len(l.fields) == 0 }

func (l Logger) sink() zerolog.Logger {
	switch {
	case l.svc != nil:
		return l.svc.current()
	case l.hasStatic:
		return l.static
	default:
		return zerolog.Nop()
	}
}

// Enabled reports whether a message at level would be written.
func (l Logger) Enabled(level Level) bool { return level >= l.sink().GetLevel() }

// With returns a child logger that adds fields to every message.
func (l Logger) With(fields ...Field) Logger {
	if len(fields) == 0 {
		return l
	}
	child := l
	child.fields = make([]Field, 0, len(l.fields)+len(fields))
	child.fields = append(append(child.fields, l.fields...), fields...)
	return child
}

func (l Logger) Debug(msg string, fields ...Field) { l.write(zerolog.DebugLevel, msg, fields) }
func (l Logger) Info(msg string, fields ...Field)  { l.write(zerolog.InfoLevel, msg, fields) }
func (l Logger) Warn(msg string, fields ...Field)  { l.write(zerolog.WarnLevel, msg, fields) }
func (l Logger) Error(msg string, fields ...Field) { l.write(zerolog.ErrorLevel, msg, fields) }

func (l Logger) write(level zerolog.Level, msg string, fields []Field) {
	zl := l.sink()
	e := zl.WithLevel(level)
	if e == nil {
		return
	}
	if _, file, line, ok := runtime.Caller(callerSkip); ok && file != "" {
		e.Str(zerolog.CallerFieldName, filepath.Base(file)+":"+strconv.Itoa(line))
	}
	apply(e, l.fields)
	apply(e, fields)
	e.Msg(msg)
}

func apply(e *zerolog.Event, fields []Field) {
	for _, f := range fields {
		if f != nil {
			f(e)
		}
	}
}

// ParseLevel maps a level name to a zerolog level, returning def for
// unknown input.
func ParseLevel(s string, def zerolog.Level) zerolog.Level {
	lvl, err := zerolog.ParseLevel(normalizeLevel(s))
	if err != nil || lvl == zerolog.NoLevel {
		return def
	}
	return lvl
}
