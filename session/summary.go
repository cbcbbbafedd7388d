package session

import (
	"log/slog"

	"github.com/ghettovoice/sipnotify/engine"
)

// NonTextPlaceholder stands for the content of non-text messages.
const NonTextPlaceholder = "🗻"

// AllowedContentType reports whether a message of this content type
// may be surfaced to the user.
func AllowedContentType(contentType string) bool {
	switch engine.MediaType(contentType) {
	case "text/plain", "image/jpeg":
		return true
	default:
		return false
	}
}

// SummaryInput is the message data a summary is built from.
type SummaryInput struct {
	Subject string
	Sender  string
	Content string
	IsText  bool
}

// Summary is the user-facing rendering of a message.
type Summary struct {
	Subtitle string
	Body     string
}

// Summarize renders a message.
//
// With showContent the subtitle is the room subject (or the sender when the
// room has none) and the body carries the content. Without it the subtitle
// is empty and the body names the subject and the sender only.
func Summarize(in SummaryInput, showContent bool) Summary {
	content := in.Content
	if !in.IsText {
		content = NonTextPlaceholder
	}

	if showContent {
		if in.Subject != "" {
			return Summary{Subtitle: in.Subject, Body: in.Sender + " : " + content}
		}
		return Summary{Subtitle: in.Sender, Body: content}
	}
	if in.Subject != "" {
		return Summary{Body: in.Subject + " : " + in.Sender}
	}
	return Summary{Body: in.Sender}
}

// MessageSummary is a received message staged by the subscriber.
type MessageSummary struct {
	Summary

	From        string
	CallID      string
	PeerAddr    string
	LocalAddr   string
	ContentType string
}

func (s *MessageSummary) LogValue() slog.Value {
	if s == nil {
		return slog.AnyValue(nil)
	}
	return slog.GroupValue(
		slog.String("from", s.From),
		slog.String("call_id", s.CallID),
		slog.String("peer_addr", s.PeerAddr),
		slog.String("local_addr", s.LocalAddr),
		slog.String("content_type", s.ContentType),
	)
}
