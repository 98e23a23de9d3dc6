package logx

import (
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Field adds one key to an event. A later field with the same key wins in
// the console output.
type Field func(e *zerolog.Event)

func String(k, v string) Field {
	return func(e *zerolog.Event) { e.Str(k, v) }
}

func Strings(k string, v []string) Field {
	return func(e *zerolog.Event) { e.Strs(k, v) }
}

func Int(k string, v int) Field {
	return func(e *zerolog.Event) { e.Int(k, v) }
}

func Int64(k string, v int64) Field {
	return func(e *zerolog.Event) { e.Int64(k, v) }
}

func Uint64(k string, v uint64) Field {
	return func(e *zerolog.Event) { e.Uint64(k, v) }
}

func Bool(k string, v bool) Field {
	return func(e *zerolog.Event) { e.Bool(k, v) }
}

func Duration(k string, v time.Duration) Field {
	return func(e *zerolog.Event) { e.Dur(k, v) }
}

func Time(k string, v time.Time) Field {
	return func(e *zerolog.Event) { e.Time(k, v) }
}

func Any(k string, v any) Field {
	return func(e *zerolog.Event) { e.Interface(k, v) }
}

// Folio and Owner keep the two keys every folibot component logs consistent.
func Folio(id string) Field {
	return String("folio", id)
}

func Owner(id int64) Field {
	return Int64("owner", id)
}

// Err is a no-op for a nil error.
func Err(err error) Field {
	return func(e *zerolog.Event) {
		if err != nil {
			e.Err(err)
		}
	}
}

func Stack(stack string) Field {
	return func(e *zerolog.Event) {
		if strings.TrimSpace(stack) != "" {
			e.Str("stack", stack)
		}
	}
}
