package session

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/ghettovoice/sipnotify/engine"
	"github.com/ghettovoice/sipnotify/log"
)

// Await is the event an invocation waits for.
type Await int

const (
	// AwaitNone waits for no event.
	AwaitNone Await = iota
	// AwaitMessage waits for a received message.
	AwaitMessage
	// AwaitDelivery waits for the delivery of a tracked outgoing message.
	AwaitDelivery
)

func (a Await) String() string {
	switch a {
	case AwaitMessage:
		return "message"
	case AwaitDelivery:
		return "delivery"
	default:
		return "none"
	}
}

// Invocation is the state owned by one run from trigger to teardown.
// A fresh Invocation is created by every [Core.Start], so latches
// never leak from one run into the next.
//
// It is updated by engine callbacks, which run on the loop goroutine,
// and must only be read from that goroutine.
type Invocation struct {
	id          string
	component   string
	await       Await
	showContent bool
	log         *slog.Logger

	// stopping is set once the session asks the engine to stop itself.
	stopping bool

	eventObserved bool
	stopRequested bool

	globalState engine.GlobalState
	regState    engine.RegistrationState
	staged      *MessageSummary
	outgoing    map[string]struct{}
	delivery    engine.MessageState
}

func newInvocation(component string, await Await, showContent bool) *Invocation {
	return &Invocation{
		id:          uuid.NewString(),
		component:   component,
		await:       await,
		showContent: showContent,
		log:         log.Noop,
		globalState: engine.GlobalStateOff,
		regState:    engine.RegistrationStateNone,
		outgoing:    make(map[string]struct{}),
	}
}

// ID returns the invocation id.
func (inv *Invocation) ID() string { return inv.id }

// Component returns the name of the invoking component.
func (inv *Invocation) Component() string { return inv.component }

// Await returns the awaited event kind.
func (inv *Invocation) Await() Await { return inv.await }

// ShowContent reports whether message content may be surfaced.
func (inv *Invocation) ShowContent() bool { return inv.showContent }

// EventObserved reports whether the awaited event happened.
func (inv *Invocation) EventObserved() bool { return inv.eventObserved }

// StopRequested reports whether the engine was driven to shutdown
// by someone other than this invocation.
func (inv *Invocation) StopRequested() bool { return inv.stopRequested }

// GlobalState returns the last observed engine global state.
func (inv *Invocation) GlobalState() engine.GlobalState { return inv.globalState }

// RegistrationState returns the last observed registration state.
func (inv *Invocation) RegistrationState() engine.RegistrationState { return inv.regState }

// Staged returns the staged received message or nil.
func (inv *Invocation) Staged() *MessageSummary { return inv.staged }

// DeliveryState returns the last observed state of a tracked outgoing message.
func (inv *Invocation) DeliveryState() engine.MessageState { return inv.delivery }

// TrackOutgoing makes the delivery of the message with id observable.
func (inv *Invocation) TrackOutgoing(id string) {
	inv.outgoing[id] = struct{}{}
}

func (inv *Invocation) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("id", inv.id),
		slog.String("component", inv.component),
		slog.Any("await", inv.await),
		slog.Bool("event_observed", inv.eventObserved),
		slog.Bool("stop_requested", inv.stopRequested),
		slog.Any("global_state", inv.globalState),
	)
}

// subscribe installs the invocation handlers. The returned func removes them.
func (inv *Invocation) subscribe(eng Engine) (cancel func()) {
	cancels := []func(){
		eng.OnGlobalStateChanged(inv.onGlobalState),
		eng.OnRegistrationStateChanged(inv.onRegistrationState),
		eng.OnMessageReceived(inv.onMessage),
		eng.OnMessageStateChanged(inv.onMessageState),
	}
	return func() {
		for _, c := range cancels {
			c()
		}
	}
}

func (inv *Invocation) onGlobalState(ctx context.Context, st engine.GlobalState, msg string) {
	prev := inv.globalState
	inv.globalState = st

	switch st {
	case engine.GlobalStateShutdown, engine.GlobalStateOff:
		if !inv.stopping {
			inv.stopRequested = true
		}
	}

	inv.log.LogAttrs(ctx, slog.LevelInfo, "global state changed",
		slog.Any("from", prev),
		slog.Any("to", st),
		slog.String("message", msg),
		slog.Bool("stop_requested", inv.stopRequested),
	)
}

func (inv *Invocation) onRegistrationState(ctx context.Context, identity string, st engine.RegistrationState, msg string) {
	inv.regState = st
	inv.log.LogAttrs(ctx, slog.LevelInfo, "registration state changed",
		slog.String("identity", identity),
		slog.Any("state", st),
		slog.String("message", msg),
	)
}

func (inv *Invocation) onMessage(ctx context.Context, room engine.ChatRoom, msg *engine.ChatMessage) {
	if !AllowedContentType(msg.ContentType) {
		inv.log.LogAttrs(ctx, slog.LevelDebug, "message content type ignored", slog.Any("message", msg))
		return
	}
	if inv.await != AwaitMessage || inv.staged != nil {
		return
	}

	sender := msg.FromUser
	if sender == "" {
		sender = msg.From
	}
	inv.staged = &MessageSummary{
		Summary: Summarize(SummaryInput{
			Subject: room.Subject(),
			Sender:  sender,
			Content: msg.Text(),
			IsText:  msg.IsText(),
		}, inv.showContent),
		From:        sender,
		CallID:      msg.CallID,
		PeerAddr:    room.PeerAddress(),
		LocalAddr:   room.LocalAddress(),
		ContentType: engine.MediaType(msg.ContentType),
	}
	inv.eventObserved = true

	inv.log.LogAttrs(ctx, slog.LevelDebug, "message staged", slog.Any("summary", inv.staged))
}

func (inv *Invocation) onMessageState(ctx context.Context, msg *engine.ChatMessage, st engine.MessageState) {
	if _, ok := inv.outgoing[msg.ID]; !ok {
		return
	}
	inv.delivery = st

	inv.log.LogAttrs(ctx, slog.LevelDebug, "message state changed",
		slog.String("id", msg.ID),
		slog.Any("state", st),
	)

	if inv.await != AwaitDelivery {
		return
	}
	switch st {
	case engine.MessageStateDelivered, engine.MessageStateDeliveredToUser, engine.MessageStateDisplayed:
		inv.eventObserved = true
	}
}
