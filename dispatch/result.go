package dispatch

import (
	"log/slog"
)

// Notification content constants.
const (
	TitleMessageReceived = "Message received"
	BodyGeneric          = "You have received a message."
	SoundMessage         = "msg.caf"
	CategoryMessage      = "msg_cat"
	CategoryAppActive    = "app_active"
)

// Response tells the host what to do with the notification after a user action.
type Response string

const (
	// ResponseDismiss dismisses the notification.
	ResponseDismiss Response = "dismiss"
	// ResponseDismissAndForward dismisses the notification and hands the
	// action over to the foreground application.
	ResponseDismissAndForward Response = "dismiss_and_forward"
)

// Metadata is passed through verbatim so a later user action
// can resolve the same conversation.
type Metadata struct {
	CallID    string `json:"CallId,omitempty"`
	From      string `json:"from,omitempty"`
	PeerAddr  string `json:"peer_addr,omitempty"`
	LocalAddr string `json:"local_addr,omitempty"`
}

// Context returns the conversation addressed by the metadata.
func (md Metadata) Context() Context {
	return Context{PeerAddress: md.PeerAddr, LocalAddress: md.LocalAddr}
}

// Result is the unit-of-work result handed to the presentation layer.
// It is never modified after [Dispatcher.Dispatch] returns it.
type Result struct {
	Title    string   `json:"title,omitempty"`
	Subtitle string   `json:"subtitle,omitempty"`
	Body     string   `json:"body,omitempty"`
	Sound    string   `json:"sound,omitempty"`
	Category string   `json:"category,omitempty"`
	Badge    int      `json:"badge,omitempty"`
	Metadata Metadata `json:"metadata,omitzero"`
	Response Response `json:"response,omitempty"`
	// Degraded is set when the result is a generic fallback.
	Degraded bool `json:"degraded,omitempty"`
}

// Fallback returns the generic content that never reveals a message.
func Fallback() *Result {
	return &Result{
		Title:    TitleMessageReceived,
		Body:     BodyGeneric,
		Category: CategoryAppActive,
		Degraded: true,
	}
}

func actionResult(resp Response) *Result {
	return &Result{Response: resp}
}

func (r *Result) LogValue() slog.Value {
	if r == nil {
		return slog.AnyValue(nil)
	}
	return slog.GroupValue(
		slog.String("category", r.Category),
		slog.Int("badge", r.Badge),
		slog.String("call_id", r.Metadata.CallID),
		slog.String("response", string(r.Response)),
		slog.Bool("degraded", r.Degraded),
	)
}
