package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"braces.dev/errtrace"
	"github.com/google/uuid"
	"github.com/qmuntal/stateless"
	"golang.org/x/sync/errgroup"

	"github.com/ghettovoice/sipnotify/config"
	"github.com/ghettovoice/sipnotify/dns"
	"github.com/ghettovoice/sipnotify/internal/chatdb"
	"github.com/ghettovoice/sipnotify/internal/errorutil"
	"github.com/ghettovoice/sipnotify/internal/sharedstate"
	"github.com/ghettovoice/sipnotify/internal/types"
	"github.com/ghettovoice/sipnotify/log"
)

// Data files kept in the shared container.
const (
	ChatDBFileName      = "chat.db"
	SharedStateFileName = "session.json"
)

// Options configure [New].
type Options struct {
	// Account is the SIP identity.
	Account config.Account
	// DB is the chat store. If nil, DBPath is opened and owned by the user agent.
	DB     *chatdb.DB
	DBPath string
	// SharedState is the cross-process lifecycle record.
	// If nil, the user agent does not coordinate with other processes.
	SharedState *sharedstate.File
	// Actor names this process in the shared record.
	Actor string
	// Signaling overrides the default sipgo signaling.
	Signaling Signaling
	// Resolver is used by the default signaling.
	Resolver *dns.Resolver
	// Log is the logger. If nil, [log.Default] is used.
	Log *slog.Logger
	// EventQueueSize bounds the queue of events waiting for [UserAgent.Iterate].
	EventQueueSize int
	// RequestTimeout bounds background network requests. Defaults to 5 seconds.
	RequestTimeout time.Duration
}

func (o *Options) log() *slog.Logger {
	if o == nil || o.Log == nil {
		return log.Default()
	}
	return o.Log
}

func (o *Options) eventQueueSize() int {
	if o == nil || o.EventQueueSize <= 0 {
		return 64
	}
	return o.EventQueueSize
}

func (o *Options) requestTimeout() time.Duration {
	if o == nil || o.RequestTimeout <= 0 {
		return 5 * time.Second
	}
	return o.RequestTimeout
}

func (o *Options) actor() string {
	if o == nil || o.Actor == "" {
		return "sipnotify"
	}
	return o.Actor
}

const (
	trigStart   = "start"
	trigStarted = "started"
	trigFail    = "fail"
	trigStop    = "stop"
	trigStopped = "stopped"
)

// maxEventsPerIterate bounds the work done by one [UserAgent.Iterate] call.
const maxEventsPerIterate = 32

// UserAgent is the embedded SIP engine.
//
// Start, Iterate and StopAsync must be called from a single goroutine,
// the one that receives all callbacks.
type UserAgent struct {
	acc     config.Account
	actor   string
	log     *slog.Logger
	db      *chatdb.DB
	ownDB   bool
	shared  *sharedstate.File
	sig     Signaling
	reqTout time.Duration

	fsm      *stateless.StateMachine
	state    atomic.Value // GlobalState
	stateMsg string
	regState atomic.Value // RegistrationState

	events     chan func(context.Context)
	remoteStop atomic.Bool
	drained    atomic.Bool
	registered atomic.Bool
	// regDone is closed when the pending REGISTER completes.
	// Nil when no registration was attempted.
	regDone chan struct{}

	bgCtx     context.Context
	bgCancel  context.CancelFunc
	serveStop context.CancelFunc
	stopWatch func()

	goMu   sync.Mutex
	closed bool
	eg     errgroup.Group

	onGlobalState  types.CallbackManager[GlobalStateHandler]
	onRegState     types.CallbackManager[RegistrationStateHandler]
	onMessage      types.CallbackManager[MessageHandler]
	onMessageState types.CallbackManager[MessageStateHandler]

	closeOnce sync.Once
	closeErr  error
}

// New creates a user agent in [GlobalStateOff].
func New(ctx context.Context, opts *Options) (*UserAgent, error) {
	if opts == nil {
		return nil, errtrace.Wrap(errorutil.NewInvalidArgumentError("nil options"))
	}

	ua := &UserAgent{
		acc:     opts.Account,
		actor:   opts.actor(),
		log:     opts.log(),
		db:      opts.DB,
		shared:  opts.SharedState,
		sig:     opts.Signaling,
		reqTout: opts.requestTimeout(),
		events:  make(chan func(context.Context), opts.eventQueueSize()),
	}
	ua.state.Store(GlobalStateOff)
	ua.regState.Store(RegistrationStateNone)

	if ua.sig == nil {
		sig, err := NewSIPSignaling(opts.Account, &SIPSignalingOptions{Resolver: opts.Resolver, Log: ua.log})
		if err != nil {
			return nil, errtrace.Wrap(err)
		}
		ua.sig = sig
	}
	if ua.db == nil {
		if opts.DBPath == "" {
			return nil, errtrace.Wrap(errorutil.NewInvalidArgumentError("no chat store"))
		}
		db, err := chatdb.Open(ctx, opts.DBPath, nil)
		if err != nil {
			return nil, errtrace.Wrap(err)
		}
		ua.db, ua.ownDB = db, true
	}

	ua.bgCtx, ua.bgCancel = context.WithCancel(context.WithoutCancel(ctx))
	ua.initFSM()
	return ua, nil
}

// NewFromConfig creates a user agent for the account stored in st,
// keeping its data files in the container.
func NewFromConfig(ctx context.Context, st *config.Store, c config.Container, actor string, logger *slog.Logger) (*UserAgent, error) {
	acc, err := st.Account()
	if err != nil {
		return nil, errtrace.Wrap(err)
	}
	shared, err := sharedstate.Open(c.DataFile(SharedStateFileName))
	if err != nil {
		return nil, errtrace.Wrap(err)
	}
	return errtrace.Wrap2(New(ctx, &Options{
		Account:     acc,
		DBPath:      c.DataFile(ChatDBFileName),
		SharedState: shared,
		Actor:       actor,
		Log:         logger,
	}))
}

func (ua *UserAgent) initFSM() {
	ua.fsm = stateless.NewStateMachine(GlobalStateOff)
	ua.fsm.OnTransitioned(ua.onTransitioned)

	ua.fsm.Configure(GlobalStateOff).
		Permit(trigStart, GlobalStateStartup).
		Ignore(trigStop).
		Ignore(trigStopped)

	ua.fsm.Configure(GlobalStateStartup).
		Permit(trigStarted, GlobalStateOn).
		Permit(trigFail, GlobalStateFailed).
		Permit(trigStop, GlobalStateShutdown)

	ua.fsm.Configure(GlobalStateOn).
		Permit(trigStop, GlobalStateShutdown)

	ua.fsm.Configure(GlobalStateFailed).
		Permit(trigStop, GlobalStateShutdown)

	ua.fsm.Configure(GlobalStateShutdown).
		OnEntry(ua.actShutdown).
		Permit(trigStopped, GlobalStateOff).
		Ignore(trigStop)
}

func (ua *UserAgent) onTransitioned(ctx context.Context, t stateless.Transition) {
	dst, _ := t.Destination.(GlobalState)
	ua.state.Store(dst)

	ua.log.LogAttrs(ctx, slog.LevelInfo, "global state changed",
		slog.Any("from", t.Source),
		slog.Any("to", dst),
		slog.Any("trigger", t.Trigger),
	)

	msg := ua.stateMsg
	ua.stateMsg = ""
	for cb := range ua.onGlobalState.All() {
		cb(ctx, dst, msg)
	}
}

func (ua *UserAgent) fire(ctx context.Context, trigger, msg string) error {
	ua.stateMsg = msg
	return errtrace.Wrap(ua.fsm.FireCtx(ctx, trigger))
}

// GlobalState returns the current lifecycle state.
func (ua *UserAgent) GlobalState() GlobalState {
	return ua.state.Load().(GlobalState) //nolint:forcetypeassert
}

// RegistrationState returns the current registration state.
func (ua *UserAgent) RegistrationState() RegistrationState {
	return ua.regState.Load().(RegistrationState) //nolint:forcetypeassert
}

// Identity returns the SIP identity.
func (ua *UserAgent) Identity() string { return ua.acc.Identity }

// OnGlobalStateChanged registers a handler. The returned func removes it.
func (ua *UserAgent) OnGlobalStateChanged(fn GlobalStateHandler) (cancel func()) {
	return ua.onGlobalState.Add(fn)
}

// OnRegistrationStateChanged registers a handler. The returned func removes it.
func (ua *UserAgent) OnRegistrationStateChanged(fn RegistrationStateHandler) (cancel func()) {
	return ua.onRegState.Add(fn)
}

// OnMessageReceived registers a handler. The returned func removes it.
func (ua *UserAgent) OnMessageReceived(fn MessageHandler) (cancel func()) {
	return ua.onMessage.Add(fn)
}

// OnMessageStateChanged registers a handler. The returned func removes it.
func (ua *UserAgent) OnMessageStateChanged(fn MessageStateHandler) (cancel func()) {
	return ua.onMessageState.Add(fn)
}

// Start moves the user agent through Startup to On.
//
// If another actor holds the shared identity and requested a stop,
// the user agent goes straight to Shutdown without opening transports
// and Start returns nil. Transport errors move it to Failed.
func (ua *UserAgent) Start(ctx context.Context) error {
	if st := ua.GlobalState(); st != GlobalStateOff {
		return errtrace.Wrap(errorutil.NewWrapperError(ErrInvalidState, "start in state %s", st))
	}
	if ua.bgCtx.Err() != nil {
		return errtrace.Wrap(ErrClosed)
	}

	ua.drained.Store(false)
	ua.remoteStop.Store(false)
	ua.regDone = nil
	if err := ua.fire(ctx, trigStart, ""); err != nil {
		return errtrace.Wrap(err)
	}

	if ua.shared != nil {
		rec, err := ua.shared.SetActorState(ctx, ua.actor, string(GlobalStateStartup))
		if err != nil {
			ua.log.LogAttrs(ctx, slog.LevelWarn, "failed to update shared state", slog.Any("error", err))
		} else if rec.ShutdownRequested(ua.actor) {
			ua.log.LogAttrs(ctx, slog.LevelInfo, "shared identity is being shut down by another actor",
				slog.String("main_actor", rec.MainActor),
			)
			return errtrace.Wrap(ua.fire(ctx, trigStop, "stop requested by "+rec.MainActor))
		}

		stop, err := ua.shared.Watch(ua.bgCtx, func(rec sharedstate.Record) {
			if rec.ShutdownRequested(ua.actor) {
				ua.remoteStop.Store(true)
			}
		}, func(err error) {
			ua.log.LogAttrs(ua.bgCtx, slog.LevelWarn, "shared state watch failed", slog.Any("error", err))
		})
		if err != nil {
			ua.log.LogAttrs(ctx, slog.LevelWarn, "failed to watch shared state", slog.Any("error", err))
		} else {
			ua.stopWatch = stop
		}
	}

	serveCtx, serveStop := context.WithCancel(ua.bgCtx)
	if err := ua.sig.Start(serveCtx, InboundHandlers{Message: ua.handleInbound, Call: ua.handleCall}); err != nil {
		serveStop()
		err = errorutil.NewWrapperError(ErrStartFailed, err)
		if ferr := ua.fire(ctx, trigFail, err.Error()); ferr != nil {
			err = errorutil.Join(err, ferr)
		}
		return errtrace.Wrap(err)
	}
	ua.serveStop = serveStop

	if ua.acc.Register {
		ua.setRegState(ctx, RegistrationStateProgress, "")
		done := make(chan struct{})
		ua.regDone = done
		if !ua.spawn(func() error {
			defer close(done)

			rctx, cancel := context.WithTimeout(ua.bgCtx, ua.reqTout)
			defer cancel()

			if err := ua.sig.Register(rctx, ua.acc.Expires); err != nil {
				ua.log.LogAttrs(rctx, slog.LevelWarn, "registration failed", slog.Any("error", err))
				ua.enqueue(func(ctx context.Context) { ua.setRegState(ctx, RegistrationStateFailed, err.Error()) })
				return nil
			}
			ua.registered.Store(true)
			ua.enqueue(func(ctx context.Context) { ua.setRegState(ctx, RegistrationStateOk, "") })
			return nil
		}) {
			ua.regDone = nil
		}
	}

	if err := ua.fire(ctx, trigStarted, ""); err != nil {
		return errtrace.Wrap(err)
	}
	if ua.shared != nil && ua.GlobalState() == GlobalStateOn {
		if _, err := ua.shared.SetActorState(ctx, ua.actor, string(GlobalStateOn)); err != nil {
			ua.log.LogAttrs(ctx, slog.LevelWarn, "failed to update shared state", slog.Any("error", err))
		}
	}
	return nil
}

// Iterate delivers queued events to the handlers. It never blocks.
func (ua *UserAgent) Iterate(ctx context.Context) {
	if ua.remoteStop.Swap(false) {
		if err := ua.fire(ctx, trigStop, "stop requested by another actor"); err != nil {
			ua.log.LogAttrs(ctx, slog.LevelWarn, "failed to stop", slog.Any("error", err))
		}
	}

	// Sampled before the queue so events enqueued by the drain are delivered first.
	drained := ua.GlobalState() == GlobalStateShutdown && ua.drained.Load()

drain:
	for range maxEventsPerIterate {
		select {
		case fn := <-ua.events:
			fn(ctx)
		default:
			break drain
		}
	}

	if drained && len(ua.events) == 0 {
		if err := ua.fire(ctx, trigStopped, ""); err != nil {
			ua.log.LogAttrs(ctx, slog.LevelWarn, "failed to complete shutdown", slog.Any("error", err))
		}
	}
}

// StopAsync requests shutdown. The transports are released in background
// and a later [UserAgent.Iterate] moves the user agent to Off.
func (ua *UserAgent) StopAsync(ctx context.Context) error {
	return errtrace.Wrap(ua.fire(ctx, trigStop, ""))
}

func (ua *UserAgent) actShutdown(ctx context.Context, _ ...any) error {
	ua.drained.Store(false)
	regDone := ua.regDone
	ua.regDone = nil
	ok := ua.spawn(func() error {
		defer ua.drained.Store(true)

		dctx, cancel := context.WithTimeout(ua.bgCtx, ua.reqTout)
		defer cancel()

		// A REGISTER still in flight may already have created a binding.
		if regDone != nil {
			select {
			case <-regDone:
			case <-dctx.Done():
			}
			registered := ua.registered.Swap(false)
			uctx, ucancel := context.WithTimeout(ua.bgCtx, ua.reqTout)
			if err := ua.sig.Register(uctx, 0); err != nil {
				ua.log.LogAttrs(uctx, slog.LevelDebug, "unregister failed", slog.Any("error", err))
			} else {
				registered = true
			}
			ucancel()
			if registered {
				ua.enqueue(func(ctx context.Context) { ua.setRegState(ctx, RegistrationStateCleared, "") })
			}
		}
		if ua.serveStop != nil {
			ua.serveStop()
		}
		if err := ua.sig.Close(); err != nil {
			ua.log.LogAttrs(dctx, slog.LevelDebug, "failed to close signaling", slog.Any("error", err))
		}
		if ua.shared != nil {
			if _, err := ua.shared.RemoveActor(dctx, ua.actor); err != nil {
				ua.log.LogAttrs(dctx, slog.LevelDebug, "failed to update shared state", slog.Any("error", err))
			}
		}
		return nil
	})
	if !ok {
		ua.drained.Store(true)
	}
	ua.log.LogAttrs(ctx, slog.LevelDebug, "shutdown drain started")
	return nil
}

func (ua *UserAgent) setRegState(ctx context.Context, state RegistrationState, msg string) {
	ua.regState.Store(state)
	ua.log.LogAttrs(ctx, slog.LevelInfo, "registration state changed",
		slog.String("identity", ua.acc.Identity),
		slog.Any("state", state),
	)
	for cb := range ua.onRegState.All() {
		cb(ctx, ua.acc.Identity, state, msg)
	}
}

// spawn runs fn in background unless the user agent is closed.
func (ua *UserAgent) spawn(fn func() error) bool {
	ua.goMu.Lock()
	defer ua.goMu.Unlock()

	if ua.closed {
		return false
	}
	ua.eg.Go(fn)
	return true
}

// enqueue hands fn over to the next Iterate call.
func (ua *UserAgent) enqueue(fn func(context.Context)) {
	select {
	case ua.events <- fn:
	case <-ua.bgCtx.Done():
	}
}

func (ua *UserAgent) handleInbound(ctx context.Context, in *InboundMessage) error {
	peer, local := NormalizeAddress(in.From), NormalizeAddress(in.To)
	room, err := ua.db.GetOrCreateRoom(ctx, peer, local, in.Subject)
	if err != nil {
		return errtrace.Wrap(err)
	}

	msg := &ChatMessage{
		ID:          uuid.NewString(),
		RoomID:      room.ID,
		CallID:      in.CallID,
		From:        peer,
		FromUser:    AddressUser(peer),
		To:          local,
		ContentType: in.ContentType,
		Body:        in.Body,
		Direction:   DirectionIncoming,
		State:       MessageStateDelivered,
		Time:        time.Now(),
	}
	if err := ua.db.AddMessage(ctx, &chatdb.Message{
		ID:          msg.ID,
		RoomID:      msg.RoomID,
		CallID:      msg.CallID,
		Direction:   chatdb.DirectionIncoming,
		From:        msg.From,
		ContentType: msg.ContentType,
		Body:        msg.Body,
		State:       string(msg.State),
		CreatedAt:   msg.Time,
	}); err != nil {
		return errtrace.Wrap(err)
	}

	ua.log.LogAttrs(ctx, slog.LevelDebug, "message received", slog.Any("message", msg))

	cr := ua.newChatRoom(room)
	ua.enqueue(func(ctx context.Context) {
		for cb := range ua.onMessage.All() {
			cb(ctx, cr, msg)
		}
	})
	return nil
}

func (ua *UserAgent) handleCall(ctx context.Context, in *InboundCall) error {
	peer := NormalizeAddress(in.From)
	if err := ua.db.AddCall(ctx, peer, chatdb.CallMissed); err != nil {
		return errtrace.Wrap(err)
	}
	ua.log.LogAttrs(ctx, slog.LevelDebug, "missed call logged",
		slog.String("call_id", in.CallID),
		slog.String("from", peer),
	)
	return nil
}

func (ua *UserAgent) sendMessage(ctx context.Context, room *chatRoom, text string) (*ChatMessage, error) {
	if st := ua.GlobalState(); st != GlobalStateOn {
		return nil, errtrace.Wrap(errorutil.NewWrapperError(ErrInvalidState, "send in state %s", st))
	}

	msg := &ChatMessage{
		ID:          uuid.NewString(),
		RoomID:      room.id,
		From:        room.local,
		FromUser:    AddressUser(room.local),
		To:          room.peer,
		ContentType: "text/plain",
		Body:        []byte(text),
		Direction:   DirectionOutgoing,
		State:       MessageStateInProgress,
		Time:        time.Now(),
	}
	if err := ua.db.AddMessage(ctx, &chatdb.Message{
		ID:          msg.ID,
		RoomID:      msg.RoomID,
		Direction:   chatdb.DirectionOutgoing,
		From:        msg.From,
		ContentType: msg.ContentType,
		Body:        msg.Body,
		State:       string(msg.State),
		CreatedAt:   msg.Time,
	}); err != nil {
		return nil, errtrace.Wrap(err)
	}

	out := &OutboundMessage{
		ID:          msg.ID,
		From:        msg.From,
		To:          msg.To,
		ContentType: msg.ContentType,
		Body:        msg.Body,
	}
	if !ua.spawn(func() error {
		sctx, cancel := context.WithTimeout(ua.bgCtx, ua.reqTout)
		defer cancel()

		state := MessageStateDelivered
		if err := ua.sig.Send(sctx, out); err != nil {
			ua.log.LogAttrs(sctx, slog.LevelWarn, "message not delivered",
				slog.String("id", out.ID),
				slog.Any("error", err),
			)
			state = MessageStateNotDelivered
		}
		if err := ua.db.SetMessageState(ua.bgCtx, out.ID, string(state)); err != nil && !errors.Is(err, context.Canceled) {
			ua.log.LogAttrs(ua.bgCtx, slog.LevelWarn, "failed to store message state", slog.Any("error", err))
		}

		upd := *msg
		upd.State = state
		ua.enqueue(func(ctx context.Context) {
			for cb := range ua.onMessageState.All() {
				cb(ctx, &upd, state)
			}
		})
		return nil
	}) {
		return nil, errtrace.Wrap(ErrClosed)
	}

	ua.log.LogAttrs(ctx, slog.LevelDebug, "message queued", slog.Any("message", msg))
	return msg, nil
}

// FindChatRoom returns the room of the (peer, local) address pair.
func (ua *UserAgent) FindChatRoom(ctx context.Context, peer, local string) (ChatRoom, error) {
	room, err := ua.db.FindRoom(ctx, NormalizeAddress(peer), NormalizeAddress(local))
	if err != nil {
		if errors.Is(err, chatdb.ErrRoomNotFound) {
			return nil, errtrace.Wrap(errorutil.NewWrapperError(ErrChatRoomNotFound, "peer %q local %q", peer, local))
		}
		return nil, errtrace.Wrap(err)
	}
	return ua.newChatRoom(room), nil
}

// BadgeCount returns unread messages plus missed calls.
func (ua *UserAgent) BadgeCount(ctx context.Context) (int, error) {
	unread, err := ua.db.UnreadCount(ctx)
	if err != nil {
		return 0, errtrace.Wrap(err)
	}
	missed, err := ua.db.MissedCallsCount(ctx)
	if err != nil {
		return 0, errtrace.Wrap(err)
	}
	return unread + missed, nil
}

// Close releases all resources. Pending callbacks are dropped.
// It is safe to call multiple times.
func (ua *UserAgent) Close() error {
	ua.closeOnce.Do(func() {
		ua.goMu.Lock()
		ua.closed = true
		ua.goMu.Unlock()

		ua.bgCancel()
		if ua.stopWatch != nil {
			ua.stopWatch()
		}

		var errs []error
		errs = append(errs, ua.eg.Wait())
		errs = append(errs, ua.sig.Close())
		if ua.ownDB {
			errs = append(errs, ua.db.Close())
		}
		ua.closeErr = errorutil.JoinPrefix("close user agent", errs...)
		ua.onGlobalState.Clear()
		ua.onRegState.Clear()
		ua.onMessage.Clear()
		ua.onMessageState.Clear()
	})
	return errtrace.Wrap(ua.closeErr)
}
