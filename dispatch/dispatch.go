// Package dispatch maps host triggers to session units of work.
//
// Every trigger gets a result: on failure the result is a generic fallback
// (for pushes) or a dismissal (for user actions), and the error only tells
// the caller what went wrong.
package dispatch

//go:generate go tool errtrace -w .

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"braces.dev/errtrace"

	"github.com/ghettovoice/sipnotify/engine"
	"github.com/ghettovoice/sipnotify/internal/errorutil"
	"github.com/ghettovoice/sipnotify/log"
	"github.com/ghettovoice/sipnotify/session"
)

// Error is a dispatch error.
type Error = errorutil.Error

const (
	// ErrNoMessage is returned when no message arrived within the inbound policy.
	ErrNoMessage Error = "no message received"
	// ErrUnknownConversation is returned when no room matches the trigger context.
	ErrUnknownConversation Error = "unknown conversation"
	// ErrTimeout is returned when the reply delivery was not confirmed in time.
	ErrTimeout Error = "delivery not confirmed in time"
	// ErrAborted is returned when another actor stopped the shared session.
	ErrAborted Error = "stopped by another actor"
	// ErrDeliveryFailed is returned when the reply could not be delivered.
	ErrDeliveryFailed Error = "delivery failed"
)

// Trigger kinds.
const (
	KindInboundPush  = "inbound_push"
	KindUserReply    = "user_reply"
	KindUserMarkSeen = "user_mark_seen"
)

// Trigger is one of [InboundPush], [UserReply], [UserMarkSeen].
type Trigger interface {
	Kind() string
	trigger()
}

// Context identifies a conversation by its address pair.
type Context struct {
	PeerAddress  string
	LocalAddress string
}

// IsZero reports whether any address is missing.
func (c Context) IsZero() bool { return c.PeerAddress == "" || c.LocalAddress == "" }

// Metadata keys carrying the conversation addresses.
const (
	MetadataPeerAddr  = "peer_addr"
	MetadataLocalAddr = "local_addr"
)

// ContextFromMetadata extracts the conversation context from the metadata
// of the notification a user action originates from.
func ContextFromMetadata(md map[string]any) (Context, error) {
	peer, _ := md[MetadataPeerAddr].(string)
	local, _ := md[MetadataLocalAddr].(string)
	c := Context{PeerAddress: peer, LocalAddress: local}
	if c.IsZero() {
		return c, errtrace.Wrap(errorutil.NewWrapperError(ErrUnknownConversation, "metadata lacks %s or %s", MetadataPeerAddr, MetadataLocalAddr))
	}
	return c, nil
}

// InboundPush is an incoming push announcing a message.
type InboundPush struct {
	Payload map[string]any
}

func (InboundPush) Kind() string { return KindInboundPush }
func (InboundPush) trigger()     {}

// CallID returns the call id announced by the payload, if any.
func (p InboundPush) CallID() string {
	for _, k := range []string{"call-id", "call_id", "CallId"} {
		if v, ok := p.Payload[k].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

// UserReply is a text reply typed by the user on a message notification.
type UserReply struct {
	Text    string
	Context Context
}

func (UserReply) Kind() string { return KindUserReply }
func (UserReply) trigger()     {}

// UserMarkSeen is the mark-as-seen action on a message notification.
type UserMarkSeen struct {
	Context Context
}

func (UserMarkSeen) Kind() string { return KindUserMarkSeen }
func (UserMarkSeen) trigger()     {}

// Default component names.
const (
	DefaultServiceComponent = "notification-service"
	DefaultContentComponent = "notification-content"
)

// Options configure a [Dispatcher].
type Options struct {
	// ServiceComponent names the component handling pushes.
	ServiceComponent string
	// ContentComponent names the component handling user actions.
	ContentComponent string
	// Metrics records outcomes. Nil disables metrics.
	Metrics *Metrics
	// Log is the logger. If nil, [log.Default] is used.
	Log *slog.Logger
}

func (o *Options) serviceComponent() string {
	if o == nil || o.ServiceComponent == "" {
		return DefaultServiceComponent
	}
	return o.ServiceComponent
}

func (o *Options) contentComponent() string {
	if o == nil || o.ContentComponent == "" {
		return DefaultContentComponent
	}
	return o.ContentComponent
}

func (o *Options) metrics() *Metrics {
	if o == nil {
		return nil
	}
	return o.Metrics
}

func (o *Options) log() *slog.Logger {
	if o == nil || o.Log == nil {
		return log.Default()
	}
	return o.Log
}

// Dispatcher runs one unit of work per trigger.
type Dispatcher struct {
	core             *session.Core
	serviceComponent string
	contentComponent string
	metrics          *Metrics
	log              *slog.Logger
}

// New creates a dispatcher starting sessions with core.
func New(core *session.Core, opts *Options) *Dispatcher {
	return &Dispatcher{
		core:             core,
		serviceComponent: opts.serviceComponent(),
		contentComponent: opts.contentComponent(),
		metrics:          opts.metrics(),
		log:              opts.log(),
	}
}

// Dispatch runs the unit of work of trg. The result is never nil,
// even when an error is returned.
func (d *Dispatcher) Dispatch(ctx context.Context, trg Trigger) (*Result, error) {
	start := time.Now()

	var (
		res *Result
		err error
	)
	switch t := trg.(type) {
	case InboundPush:
		res, err = d.inbound(ctx, t)
	case UserReply:
		res, err = d.reply(ctx, t)
	case UserMarkSeen:
		res, err = d.markSeen(ctx, t)
	default:
		res, err = Fallback(), errorutil.NewInvalidArgumentError("unsupported trigger %T", trg)
	}
	if res == nil {
		res = Fallback()
	}

	kind := "unknown"
	if trg != nil {
		kind = trg.Kind()
	}
	outcome := outcomeOf(err)
	elapsed := time.Since(start)
	d.metrics.observe(kind, outcome, elapsed)

	lvl := slog.LevelInfo
	if err != nil && !errors.Is(err, ErrUnknownConversation) {
		lvl = slog.LevelWarn
	}
	d.log.LogAttrs(ctx, lvl, "trigger dispatched",
		slog.String("trigger", kind),
		slog.String("outcome", outcome),
		slog.Duration("elapsed", elapsed),
		slog.Any("result", res),
		slog.Any("error", err),
	)
	return res, errtrace.Wrap(err)
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNoMessage):
		return "no_message"
	case errors.Is(err, ErrUnknownConversation):
		return "unknown_conversation"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrAborted), errors.Is(err, session.ErrAlreadyStopping):
		return "aborted"
	case errors.Is(err, ErrDeliveryFailed):
		return "delivery_failed"
	case errors.Is(err, session.ErrConfigUnavailable):
		return "config_unavailable"
	case errors.Is(err, session.ErrEngineFailed), errors.Is(err, session.ErrSessionActive):
		return "start_failed"
	default:
		return "error"
	}
}

func (d *Dispatcher) inbound(ctx context.Context, t InboundPush) (*Result, error) {
	s, err := d.core.Start(ctx, session.StartOptions{Component: d.serviceComponent, Await: session.AwaitMessage})
	if err != nil {
		return Fallback(), errtrace.Wrap(err)
	}

	inv := s.Invocation()
	out := s.WaitFor(ctx, inv.EventObserved, s.Policies().Inbound)

	var res *Result
	switch out {
	case session.Satisfied:
		res = d.messageResult(ctx, s, inv.Staged(), t.CallID())
	case session.Aborted:
		err = ErrAborted
	default:
		err = errorutil.NewWrapperError(ErrNoMessage, "nothing received within %s", s.Policies().Inbound.MaxDuration())
	}
	s.StopAndWait(ctx)

	if res == nil {
		res = Fallback()
	}
	return res, errtrace.Wrap(err)
}

func (d *Dispatcher) messageResult(ctx context.Context, s *session.Session, msg *session.MessageSummary, pushCallID string) *Result {
	res := &Result{
		Title:    TitleMessageReceived,
		Subtitle: msg.Subtitle,
		Body:     msg.Body,
		Sound:    SoundMessage,
		Category: CategoryMessage,
		Metadata: Metadata{
			CallID:    msg.CallID,
			From:      msg.From,
			PeerAddr:  msg.PeerAddr,
			LocalAddr: msg.LocalAddr,
		},
	}
	if res.Metadata.CallID == "" {
		res.Metadata.CallID = pushCallID
	}

	badge, err := s.Engine().BadgeCount(ctx)
	if err != nil {
		s.Log().LogAttrs(ctx, slog.LevelWarn, "failed to count badge", slog.Any("error", err))
	} else {
		res.Badge = badge
	}
	return res
}

// findRoom resolves the conversation of a user action.
func findRoom(ctx context.Context, s *session.Session, c Context) (engine.ChatRoom, error) {
	room, err := s.Engine().FindChatRoom(ctx, c.PeerAddress, c.LocalAddress)
	if err != nil {
		if errors.Is(err, engine.ErrChatRoomNotFound) {
			s.Log().LogAttrs(ctx, slog.LevelInfo, "conversation not found, action dropped",
				slog.String("peer", c.PeerAddress),
				slog.String("local", c.LocalAddress),
			)
			return nil, errtrace.Wrap(errorutil.NewWrapperError(ErrUnknownConversation, err))
		}
		return nil, errtrace.Wrap(err)
	}
	return room, nil
}

func (d *Dispatcher) reply(ctx context.Context, t UserReply) (*Result, error) {
	if t.Context.IsZero() {
		return actionResult(ResponseDismiss), errtrace.Wrap(errorutil.NewWrapperError(ErrUnknownConversation, "missing conversation addresses"))
	}

	s, err := d.core.Start(ctx, session.StartOptions{Component: d.contentComponent, Await: session.AwaitDelivery})
	if err != nil {
		return actionResult(ResponseDismissAndForward), errtrace.Wrap(err)
	}

	room, err := findRoom(ctx, s, t.Context)
	if err != nil {
		s.StopAndWait(ctx)
		return actionResult(ResponseDismiss), errtrace.Wrap(err)
	}

	inv := s.Invocation()
	msg, err := room.SendMessage(ctx, t.Text)
	if err != nil {
		s.StopAndWait(ctx)
		return actionResult(ResponseDismissAndForward), errtrace.Wrap(errorutil.NewWrapperError(ErrDeliveryFailed, err))
	}
	inv.TrackOutgoing(msg.ID)

	if err := room.MarkAsRead(ctx); err != nil {
		s.Log().LogAttrs(ctx, slog.LevelWarn, "failed to mark conversation as read", slog.Any("error", err))
	}

	out := s.WaitFor(ctx, func() bool {
		return inv.EventObserved() || inv.DeliveryState() == engine.MessageStateNotDelivered
	}, s.Policies().Reply)
	s.StopAndWait(ctx)

	switch {
	case out == session.Aborted:
		return actionResult(ResponseDismissAndForward), errtrace.Wrap(ErrAborted)
	case out == session.TimedOut:
		// the message stays queued in the chat store, the reply is not retried here
		return actionResult(ResponseDismiss), errtrace.Wrap(errorutil.NewWrapperError(ErrTimeout, "no delivery report within %s", s.Policies().Reply.MaxDuration()))
	case !inv.EventObserved():
		return actionResult(ResponseDismissAndForward), errtrace.Wrap(errorutil.NewWrapperError(ErrDeliveryFailed, "message %s not delivered", msg.ID))
	}
	return actionResult(ResponseDismiss), nil
}

func (d *Dispatcher) markSeen(ctx context.Context, t UserMarkSeen) (*Result, error) {
	if t.Context.IsZero() {
		return actionResult(ResponseDismiss), errtrace.Wrap(errorutil.NewWrapperError(ErrUnknownConversation, "missing conversation addresses"))
	}

	s, err := d.core.Start(ctx, session.StartOptions{Component: d.contentComponent, Await: session.AwaitNone})
	if err != nil {
		return actionResult(ResponseDismissAndForward), errtrace.Wrap(err)
	}

	room, err := findRoom(ctx, s, t.Context)
	if err != nil {
		s.StopAndWait(ctx)
		return actionResult(ResponseDismiss), errtrace.Wrap(err)
	}

	if err := room.MarkAsRead(ctx); err != nil {
		s.Log().LogAttrs(ctx, slog.LevelWarn, "failed to mark conversation as read", slog.Any("error", err))
	}
	s.Iterate(ctx)
	stopRequested := s.Invocation().StopRequested()
	s.StopAndWait(ctx)

	if stopRequested {
		return actionResult(ResponseDismissAndForward), errtrace.Wrap(ErrAborted)
	}
	return actionResult(ResponseDismiss), nil
}
