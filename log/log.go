// Package log provides the slog loggers used across the module.
package log

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync/atomic"
	"time"

	"github.com/golang-cz/devslog"
	"github.com/phsym/console-slog"
	slogformatter "github.com/samber/slog-formatter"
)

// Attribute keys attached to session loggers.
const (
	ComponentKey  = "component"
	InvocationKey = "invocation"
)

var newHandler = slogformatter.NewFormatterHandler(
	slogformatter.ErrorFormatter("error"),
	slogformatter.FormatByType(func(c net.PacketConn) slog.Value {
		return slog.GroupValue(
			slog.String("type", fmt.Sprintf("%T", c)),
			slog.Any("local_addr", c.LocalAddr()),
		)
	}),
	slogformatter.FormatByType(func(ls net.Listener) slog.Value {
		return slog.GroupValue(
			slog.String("type", fmt.Sprintf("%T", ls)),
			slog.Any("local_addr", ls.Addr()),
		)
	}),
)

// Options configure a logger created by [New].
type Options struct {
	// Level is the minimum level. If nil, [slog.LevelDebug] is used.
	Level slog.Leveler
	// Dev switches to the developer friendly handler.
	Dev bool
	// AddSource adds the source position to records.
	AddSource bool
}

func (o *Options) level() slog.Leveler {
	if o == nil || o.Level == nil {
		return slog.LevelDebug
	}
	return o.Level
}

func (o *Options) dev() bool { return o != nil && o.Dev }

func (o *Options) addSource() bool { return o != nil && o.AddSource }

// New creates a new logger writing to w.
func New(w io.Writer, opts *Options) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}
	if opts.dev() {
		return slog.New(newHandler(
			devslog.NewHandler(w, &devslog.Options{
				HandlerOptions: &slog.HandlerOptions{
					AddSource: opts.addSource(),
					Level:     opts.level(),
				},
				SortKeys:   true,
				TimeFormat: time.RFC3339Nano,
			}),
		))
	}
	return slog.New(newHandler(
		console.NewHandler(w, &console.HandlerOptions{
			AddSource:  opts.addSource(),
			Level:      opts.level(),
			TimeFormat: time.RFC3339Nano,
		}),
	))
}

var def atomic.Pointer[slog.Logger]

func init() {
	def.Store(New(os.Stderr, &Options{Level: slog.LevelInfo}))
}

// Default returns the package default logger.
func Default() *slog.Logger { return def.Load() }

// SetDefault replaces the package default logger.
// Nil resets it to [Noop].
func SetDefault(l *slog.Logger) {
	if l == nil {
		l = Noop
	}
	def.Store(l)
}

type noopHandler struct{}

func (noopHandler) Enabled(context.Context, slog.Level) bool { return false }

func (noopHandler) Handle(context.Context, slog.Record) error { return nil }

func (h noopHandler) WithAttrs([]slog.Attr) slog.Handler { return h }

func (h noopHandler) WithGroup(string) slog.Handler { return h }

// Noop is a noop logger.
var Noop = slog.New(noopHandler{})

type levelHandler struct {
	slog.Handler
	min slog.Leveler
}

func (h *levelHandler) Enabled(ctx context.Context, lvl slog.Level) bool {
	return lvl >= h.min.Level() && h.Handler.Enabled(ctx, lvl)
}

func (h *levelHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &levelHandler{h.Handler.WithAttrs(attrs), h.min}
}

func (h *levelHandler) WithGroup(name string) slog.Handler {
	return &levelHandler{h.Handler.WithGroup(name), h.min}
}

// WithLevel returns a logger that drops records below min
// in addition to the filtering done by l itself.
func WithLevel(l *slog.Logger, min slog.Leveler) *slog.Logger {
	if l == nil {
		l = Default()
	}
	h := l.Handler()
	if lh, ok := h.(*levelHandler); ok {
		h = lh.Handler
	}
	return slog.New(&levelHandler{h, min})
}

// Preference levels stored under the "debugenable_preference" key.
const (
	PrefDebug   = 1
	PrefTrace   = 2
	PrefMessage = 4
	PrefWarning = 8
	PrefError   = 16
	PrefFatal   = 32
)

// LevelFromPreference maps a stored debug preference to a slog level.
// Values outside [PrefDebug, PrefError) disable everything below errors.
func LevelFromPreference(v int) slog.Level {
	switch {
	case v >= PrefDebug && v < PrefMessage:
		return slog.LevelDebug
	case v >= PrefMessage && v < PrefWarning:
		return slog.LevelInfo
	case v >= PrefWarning && v < PrefError:
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}

// WithComponent tags the logger with the name of the component
// that owns it, so records of concurrent actors can be told apart.
func WithComponent(l *slog.Logger, name string) *slog.Logger {
	if l == nil {
		l = Default()
	}
	return l.With(slog.String(ComponentKey, name))
}
