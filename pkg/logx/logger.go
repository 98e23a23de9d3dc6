package logx

import (
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

type Level = zerolog.Level

const (
	LevelTrace = zerolog.TraceLevel
	LevelDebug = zerolog.DebugLevel
	LevelInfo  = zerolog.InfoLevel
	LevelWarn  = zerolog.WarnLevel
	LevelError = zerolog.ErrorLevel
)

const timeFormat = "2006-01-02T15:04:05.000Z07:00"

func init() {
	zerolog.TimeFieldFormat = timeFormat
	zerolog.ErrorFieldName = "err"
}

// sink yields the zerolog root a Logger writes through. A Service is a sink
// whose root changes on Apply.
type sink interface {
	current() zerolog.Logger
}

type fixedSink struct{ zl zerolog.Logger }

func (f fixedSink) current() zerolog.Logger { return f.zl }

// Logger is cheap to copy. The zero value discards everything.
type Logger struct {
	sink   sink
	fields []Field
}

// Nop returns a logger that never writes.
func Nop() Logger { return Logger{sink: fixedSink{zerolog.Nop()}} }

// NewConsole returns a standalone console logger for use before the
// Service exists.
func NewConsole(level string) Logger {
	zl := zerolog.New(consoleWriter(os.Stdout)).Level(levelOr(level, LevelInfo)).With().Timestamp().Logger()
	return Logger{sink: fixedSink{zl}}
}

// NewWriter returns a JSON logger writing to w.
func NewWriter(w io.Writer, level string) Logger {
	zl := zerolog.New(w).Level(levelOr(level, LevelDebug)).With().Timestamp().Logger()
	return Logger{sink: fixedSink{zl}}
}

func (l Logger) IsZero() bool { return l.sink == nil && len(l.fields) == 0 }

func (l Logger) zl() zerolog.Logger {
	if l.sink == nil {
		return zerolog.Nop()
	}
	return l.sink.current()
}

// Enabled reports whether level would be written.
func (l Logger) Enabled(level Level) bool {
	return level >= l.zl().GetLevel()
}

// With returns a logger that adds fields to every line.
func (l Logger) With(fields ...Field) Logger {
	if len(fields) == 0 {
		return l
	}
	l.fields = append(l.fields[:len(l.fields):len(l.fields)], fields...)
	return l
}

func (l Logger) Trace(msg string, fields ...Field) { l.write(LevelTrace, msg, fields) }
func (l Logger) Debug(msg string, fields ...Field) { l.write(LevelDebug, msg, fields) }
func (l Logger) Info(msg string, fields ...Field)  { l.write(LevelInfo, msg, fields) }
func (l Logger) Warn(msg string, fields ...Field)  { l.write(LevelWarn, msg, fields) }
func (l Logger) Error(msg string, fields ...Field) { l.write(LevelError, msg, fields) }

func (l Logger) write(level Level, msg string, fields []Field) {
	zl := l.zl()
	e := zl.WithLevel(level)
	if e == nil {
		return
	}
	// write <- Info <- caller
	if _, file, line, ok := runtime.Caller(2); ok {
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

func consoleWriter(w io.Writer) io.Writer {
	return zerolog.ConsoleWriter{
		Out:        w,
		TimeFormat: timeFormat,
		FormatCaller: func(i any) string {
			s, _ := i.(string)
			return s
		},
	}
}

// parseLevel accepts zerolog level names plus "warning".
func parseLevel(s string) (Level, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "warning" {
		s = "warn"
	}
	switch lvl, err := zerolog.ParseLevel(s); {
	case err != nil, s == "", lvl > LevelError:
		return zerolog.NoLevel, false
	default:
		return lvl, true
	}
}

func levelOr(s string, def Level) Level {
	if lvl, ok := parseLevel(s); ok {
		return lvl
	}
	return def
}

// ValidLevel reports whether s names a level. Empty means the default and
// is accepted.
func ValidLevel(s string) bool {
	if strings.TrimSpace(s) == "" {
		return true
	}
	_, ok := parseLevel(s)
	return ok
}
