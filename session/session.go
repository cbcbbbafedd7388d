// Package session implements the bounded-lifetime session core.
//
// A [Core] hands out at most one live [Session] at a time. Each session
// owns a fresh [Invocation] whose latches are fed by engine callbacks.
// The callbacks only run inside [Session.Iterate] (directly or through
// [Session.WaitFor]), so all session state is confined to the caller's
// goroutine and the only suspension point is the sleep between wait ticks.
package session

//go:generate go tool errtrace -w .
//go:generate go tool mockgen -destination=../internal/testutil/enginemock/engine.go -package=enginemock . Engine

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"

	"braces.dev/errtrace"

	"github.com/ghettovoice/sipnotify/config"
	"github.com/ghettovoice/sipnotify/engine"
	"github.com/ghettovoice/sipnotify/internal/errorutil"
	"github.com/ghettovoice/sipnotify/log"
)

// Error is a session error.
type Error = errorutil.Error

const (
	// ErrAlreadyStopping is returned by [Core.Start] when another actor
	// drove the engine to shutdown before it reached On.
	ErrAlreadyStopping Error = "session already stopping"
	// ErrConfigUnavailable is returned by [Core.Start] when the shared
	// configuration store cannot be read or holds no usable account.
	ErrConfigUnavailable Error = "shared configuration unavailable"
	// ErrEngineFailed is returned by [Core.Start] when the engine entered
	// Failed or did not reach On within the startup policy.
	ErrEngineFailed Error = "engine failed to start"
	// ErrSessionActive is returned by [Core.Start] while another session
	// of the same core is live.
	ErrSessionActive Error = "session already active"
)

// Engine is the embedded SIP engine driven by a session.
//
// Callbacks registered with On* methods must only fire from Start,
// Iterate or StopAsync, on the goroutine calling them.
type Engine interface {
	Start(ctx context.Context) error
	Iterate(ctx context.Context)
	StopAsync(ctx context.Context) error
	GlobalState() engine.GlobalState
	Close() error

	OnGlobalStateChanged(fn engine.GlobalStateHandler) (cancel func())
	OnRegistrationStateChanged(fn engine.RegistrationStateHandler) (cancel func())
	OnMessageReceived(fn engine.MessageHandler) (cancel func())
	OnMessageStateChanged(fn engine.MessageStateHandler) (cancel func())

	FindChatRoom(ctx context.Context, peer, local string) (engine.ChatRoom, error)
	BadgeCount(ctx context.Context) (int, error)
}

// EngineFactory creates the engine of a session.
type EngineFactory func(ctx context.Context, st *config.Store, c config.Container, component string, logger *slog.Logger) (Engine, error)

// NewUserAgent is the default [EngineFactory].
func NewUserAgent(ctx context.Context, st *config.Store, c config.Container, component string, logger *slog.Logger) (Engine, error) {
	ua, err := engine.NewFromConfig(ctx, st, c, component, logger)
	if err != nil {
		return nil, errtrace.Wrap(err)
	}
	return ua, nil
}

// Options configure [NewCore].
type Options struct {
	// Container locates the shared files. Zero value means [config.DefaultContainer].
	Container config.Container
	// ConfigPath overrides the settings file path inside Container.
	ConfigPath string
	// NewEngine creates session engines. Defaults to [NewUserAgent].
	NewEngine EngineFactory
	// Policies override the wait policies read from the store.
	Policies *Policies
	// Sleep overrides the pause between wait ticks.
	Sleep SleepFunc
	// Log is the base logger. If nil, [log.Default] is used.
	Log *slog.Logger
}

func (o *Options) container() config.Container {
	if o == nil || o.Container == (config.Container{}) {
		return config.DefaultContainer()
	}
	return o.Container
}

func (o *Options) configPath(c config.Container) string {
	if o == nil || o.ConfigPath == "" {
		return c.PreferenceFile(config.DefaultFileName)
	}
	return o.ConfigPath
}

func (o *Options) newEngine() EngineFactory {
	if o == nil || o.NewEngine == nil {
		return NewUserAgent
	}
	return o.NewEngine
}

func (o *Options) policies(st *config.Store) Policies {
	if o == nil || o.Policies == nil {
		return PoliciesFromStore(st)
	}
	return *o.Policies
}

func (o *Options) sleep() SleepFunc {
	if o == nil || o.Sleep == nil {
		return Sleep
	}
	return o.Sleep
}

func (o *Options) log() *slog.Logger {
	if o == nil || o.Log == nil {
		return log.Default()
	}
	return o.Log
}

// Core starts sessions. Only one session per core is live at a time.
type Core struct {
	container  config.Container
	configPath string
	newEngine  EngineFactory
	opts       *Options
	sleep      SleepFunc
	log        *slog.Logger

	active atomic.Bool
}

// NewCore creates a session core.
func NewCore(opts *Options) *Core {
	c := opts.container()
	return &Core{
		container:  c,
		configPath: opts.configPath(c),
		newEngine:  opts.newEngine(),
		opts:       opts,
		sleep:      opts.sleep(),
		log:        opts.log(),
	}
}

// Container returns the shared container of the core.
func (c *Core) Container() config.Container { return c.container }

// StartOptions configure a single [Core.Start] call.
type StartOptions struct {
	// Component names the invoking extension in logs and in the shared record.
	Component string
	// Await is the event kind the invocation is interested in.
	Await Await
}

// Start reads the shared store, creates the engine with fresh latches
// and waits until it is On.
//
// On any error the engine is torn down before Start returns.
func (c *Core) Start(ctx context.Context, opts StartOptions) (*Session, error) {
	if !c.active.CompareAndSwap(false, true) {
		return nil, errtrace.Wrap(ErrSessionActive)
	}

	st, err := config.Open(c.configPath)
	if err != nil {
		c.active.Store(false)
		return nil, errtrace.Wrap(errorutil.NewWrapperError(ErrConfigUnavailable, err))
	}

	inv := newInvocation(opts.Component, opts.Await, st.ShowMessageInNotification())
	inv.log = log.WithComponent(
		log.WithLevel(c.log, log.LevelFromPreference(st.DebugPreference(log.PrefDebug))),
		opts.Component,
	).With(slog.String(log.InvocationKey, inv.id))

	eng, err := c.newEngine(ctx, st, c.container, opts.Component, inv.log)
	if err != nil {
		c.active.Store(false)
		if errors.Is(err, config.ErrInvalidConfig) || errors.Is(err, config.ErrUnavailable) {
			err = errorutil.NewWrapperError(ErrConfigUnavailable, err)
		} else {
			err = errorutil.NewWrapperError(ErrEngineFailed, err)
		}
		return nil, errtrace.Wrap(err)
	}

	s := &Session{
		core:     c,
		eng:      eng,
		inv:      inv,
		policies: c.opts.policies(st),
		log:      inv.log,
	}
	s.unsubscribe = inv.subscribe(eng)

	inv.log.LogAttrs(ctx, slog.LevelDebug, "starting session",
		slog.Any("await", opts.Await),
		slog.Bool("show_content", inv.showContent),
	)

	if err := eng.Start(ctx); err != nil {
		s.StopAndWait(ctx)
		return nil, errtrace.Wrap(errorutil.NewWrapperError(ErrEngineFailed, err))
	}

	out := s.WaitFor(ctx, func() bool {
		st := eng.GlobalState()
		return st == engine.GlobalStateOn || st == engine.GlobalStateFailed
	}, s.policies.Startup)
	switch {
	case out == Aborted && inv.stopRequested:
		s.StopAndWait(ctx)
		return nil, errtrace.Wrap(ErrAlreadyStopping)
	case out == Aborted:
		s.StopAndWait(ctx)
		return nil, errtrace.Wrap(errorutil.NewWrapperError(ErrEngineFailed, ctx.Err()))
	case out == TimedOut:
		s.StopAndWait(ctx)
		return nil, errtrace.Wrap(errorutil.NewWrapperError(ErrEngineFailed, "not started within %s", s.policies.Startup.MaxDuration()))
	case eng.GlobalState() == engine.GlobalStateFailed:
		s.StopAndWait(ctx)
		return nil, errtrace.Wrap(errorutil.NewWrapperError(ErrEngineFailed, "engine entered failed state"))
	}

	inv.log.LogAttrs(ctx, slog.LevelInfo, "session started")
	return s, nil
}

// Session is a live engine session. It is not safe for concurrent use.
type Session struct {
	core        *Core
	eng         Engine
	inv         *Invocation
	policies    Policies
	log         *slog.Logger
	unsubscribe func()
	closed      bool
}

// Invocation returns the invocation state of the session.
func (s *Session) Invocation() *Invocation { return s.inv }

// Engine returns the session engine.
func (s *Session) Engine() Engine { return s.eng }

// Policies returns the wait policies in effect.
func (s *Session) Policies() Policies { return s.policies }

// Log returns the session logger.
func (s *Session) Log() *slog.Logger { return s.log }

// Closed reports whether the session was torn down.
func (s *Session) Closed() bool { return s.closed }

// Iterate delivers queued engine events to the subscriber. It never blocks.
func (s *Session) Iterate(ctx context.Context) {
	if s.closed {
		return
	}
	s.eng.Iterate(ctx)
}

// Stop asks the engine to shut down. Shutdown transitions caused by it
// do not set the stop-requested latch.
func (s *Session) Stop(ctx context.Context) error {
	if s.closed {
		return nil
	}
	s.inv.stopping = true
	return errtrace.Wrap(s.eng.StopAsync(ctx))
}

// WaitFor waits for pred with policy p, aborting as soon as a stop
// requested by another actor is observed.
func (s *Session) WaitFor(ctx context.Context, pred func() bool, p Policy) Outcome {
	w := Waiter{
		Iterate: s.Iterate,
		Aborted: s.inv.StopRequested,
		Sleep:   s.core.sleep,
	}
	return w.WaitFor(ctx, pred, p)
}

// StopAndWait tears the session down: it requests the engine stop, runs
// at least one iteration, then waits for Off with the drain policy.
// Exhausting the policy is logged and not treated as an error.
// The engine is closed and the core released in every case.
// Calling it on a torn down session returns Satisfied immediately.
func (s *Session) StopAndWait(ctx context.Context) Outcome {
	if s.closed {
		return Satisfied
	}
	// teardown stays bounded by the drain policy even if ctx is done
	ctx = context.WithoutCancel(ctx)

	if err := s.Stop(ctx); err != nil {
		s.log.LogAttrs(ctx, slog.LevelWarn, "failed to request engine stop", slog.Any("error", err))
	}
	s.eng.Iterate(ctx)

	out := Satisfied
	if s.eng.GlobalState() != engine.GlobalStateOff {
		w := Waiter{Iterate: s.eng.Iterate, Sleep: s.core.sleep}
		out = w.WaitFor(ctx, func() bool {
			return s.eng.GlobalState() == engine.GlobalStateOff
		}, s.policies.Drain)
	}
	if out != Satisfied {
		s.log.LogAttrs(ctx, slog.LevelWarn, "engine did not stop in time",
			slog.Any("state", s.eng.GlobalState()),
			slog.Any("outcome", out),
			slog.Duration("max_duration", s.policies.Drain.MaxDuration()),
		)
	}

	s.unsubscribe()
	if err := s.eng.Close(); err != nil {
		s.log.LogAttrs(ctx, slog.LevelWarn, "failed to close engine", slog.Any("error", err))
	}
	s.closed = true
	s.core.active.Store(false)

	s.log.LogAttrs(ctx, slog.LevelInfo, "session stopped", slog.Any("invocation", s.inv))
	return out
}
