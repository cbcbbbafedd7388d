package log

import (
	"fmt"
	"log/slog"
)

type lazyValue struct{ fn func() any }

func (v lazyValue) LogValue() slog.Value {
	switch cv := v.fn().(type) {
	case slog.Value:
		return cv
	default:
		return slog.AnyValue(cv)
	}
}

// Lazy returns a value logger that computes its value with fn
// only when the record is handled.
func Lazy(fn func() any) slog.LogValuer { return lazyValue{fn} }

// Redacted returns a value logger that hides s, keeping only its length.
func Redacted(s string) slog.LogValuer {
	return Lazy(func() any { return fmt.Sprintf("<redacted:%d>", len(s)) })
}
