// Package engine implements the embedded SIP user agent used by sessions.
//
// The user agent owns the SIP transport, the chat store and the global
// lifecycle state machine. Network work happens on background goroutines,
// but every callback is delivered on the goroutine that calls
// [UserAgent.Start], [UserAgent.Iterate] or [UserAgent.StopAsync].
package engine

//go:generate go tool errtrace -w .
//go:generate go tool mockgen -destination=../internal/testutil/enginemock/chatroom.go -package=enginemock . ChatRoom

import (
	"context"
	"log/slog"
	"mime"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/emiago/sipgo/sip"

	"github.com/ghettovoice/sipnotify/internal/errorutil"
)

// Error is an engine error.
type Error = errorutil.Error

const (
	// ErrChatRoomNotFound is returned when no chat room matches the address pair.
	ErrChatRoomNotFound Error = "chat room not found"
	// ErrInvalidState is returned when an operation is not allowed in the current global state.
	ErrInvalidState Error = "invalid global state"
	// ErrStartFailed is returned when the user agent fails to open its transports.
	ErrStartFailed Error = "start failed"
	// ErrClosed is returned on use of a closed user agent.
	ErrClosed Error = "user agent closed"
	// ErrRequestFailed is returned when a request gets a non-2xx final response.
	ErrRequestFailed Error = "request failed"
)

// GlobalState is the lifecycle state of the user agent.
type GlobalState string

const (
	GlobalStateOff      GlobalState = "Off"
	GlobalStateStartup  GlobalState = "Startup"
	GlobalStateOn       GlobalState = "On"
	GlobalStateShutdown GlobalState = "Shutdown"
	GlobalStateFailed   GlobalState = "Failed"
)

func (s GlobalState) String() string { return string(s) }

// RegistrationState is the registration state of the SIP identity.
type RegistrationState string

const (
	RegistrationStateNone     RegistrationState = "None"
	RegistrationStateProgress RegistrationState = "Progress"
	RegistrationStateOk       RegistrationState = "Ok"
	RegistrationStateCleared  RegistrationState = "Cleared"
	RegistrationStateFailed   RegistrationState = "Failed"
)

func (s RegistrationState) String() string { return string(s) }

// MessageState is the delivery state of a chat message.
type MessageState string

const (
	MessageStateIdle            MessageState = "Idle"
	MessageStateInProgress      MessageState = "InProgress"
	MessageStateDelivered       MessageState = "Delivered"
	MessageStateNotDelivered    MessageState = "NotDelivered"
	MessageStateDeliveredToUser MessageState = "DeliveredToUser"
	MessageStateDisplayed       MessageState = "Displayed"
)

func (s MessageState) String() string { return string(s) }

// Direction of a chat message.
type Direction string

const (
	DirectionIncoming Direction = "in"
	DirectionOutgoing Direction = "out"
)

// Handlers of user agent events.
type (
	GlobalStateHandler       func(ctx context.Context, state GlobalState, msg string)
	RegistrationStateHandler func(ctx context.Context, identity string, state RegistrationState, msg string)
	MessageHandler           func(ctx context.Context, room ChatRoom, msg *ChatMessage)
	MessageStateHandler      func(ctx context.Context, msg *ChatMessage, state MessageState)
)

// ChatMessage is a chat message.
type ChatMessage struct {
	ID     string
	RoomID int64
	// CallID is the Call-ID of the SIP request that carried the message.
	CallID string
	// From is the normalized sender address.
	From string
	// FromUser is the sender user name.
	FromUser    string
	To          string
	ContentType string
	Body        []byte
	Direction   Direction
	State       MessageState
	Time        time.Time
}

// IsText reports whether the message carries plain text.
func (m *ChatMessage) IsText() bool {
	return m != nil && MediaType(m.ContentType) == "text/plain"
}

// Text returns the message text or an empty string for non-text messages.
func (m *ChatMessage) Text() string {
	if !m.IsText() || !utf8.Valid(m.Body) {
		return ""
	}
	return string(m.Body)
}

func (m *ChatMessage) LogValue() slog.Value {
	if m == nil {
		return slog.AnyValue(nil)
	}
	return slog.GroupValue(
		slog.String("id", m.ID),
		slog.String("call_id", m.CallID),
		slog.String("from", m.From),
		slog.String("to", m.To),
		slog.String("content_type", m.ContentType),
		slog.Int("size", len(m.Body)),
		slog.Any("direction", m.Direction),
		slog.Any("state", m.State),
	)
}

// ChatRoom is a conversation identified by a (peer, local) address pair.
type ChatRoom interface {
	ID() int64
	PeerAddress() string
	LocalAddress() string
	Subject() string
	// SendMessage queues a text message. Delivery is reported
	// by the message state handlers.
	SendMessage(ctx context.Context, text string) (*ChatMessage, error)
	// MarkAsRead resets the unread counter of the room.
	MarkAsRead(ctx context.Context) error
}

// MediaType returns the lower-cased media type of a Content-Type value
// without parameters.
func MediaType(contentType string) string {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mt, _, _ = strings.Cut(contentType, ";")
	}
	return strings.ToLower(strings.TrimSpace(mt))
}

// NormalizeAddress reduces a SIP name-addr or addr-spec to "sip[s]:user@host[:port]",
// dropping the display name, parameters and headers.
// Values that do not parse are returned trimmed.
func NormalizeAddress(addr string) string {
	s := strings.TrimSpace(addr)

	var uri sip.Uri
	if _, err := sip.ParseAddressValue(s, &uri, sip.NewParams()); err != nil || uri.Host == "" {
		return s
	}
	scheme := strings.ToLower(uri.Scheme)
	if scheme != "sip" && scheme != "sips" {
		return s
	}

	var sb strings.Builder
	sb.WriteString(scheme)
	sb.WriteByte(':')
	if uri.User != "" {
		sb.WriteString(uri.User)
		sb.WriteByte('@')
	}
	sb.WriteString(strings.ToLower(uri.Host))
	if uri.Port > 0 {
		sb.WriteByte(':')
		sb.WriteString(strconv.Itoa(uri.Port))
	}
	return sb.String()
}

// AddressUser returns the user part of a SIP address.
func AddressUser(addr string) string {
	norm := NormalizeAddress(addr)
	var uri sip.Uri
	if err := sip.ParseUri(norm, &uri); err != nil {
		return ""
	}
	return uri.User
}
