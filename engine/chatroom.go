package engine

import (
	"context"
	"log/slog"

	"braces.dev/errtrace"

	"github.com/ghettovoice/sipnotify/internal/chatdb"
)

type chatRoom struct {
	ua      *UserAgent
	id      int64
	peer    string
	local   string
	subject string
}

func (ua *UserAgent) newChatRoom(r *chatdb.Room) *chatRoom {
	return &chatRoom{
		ua:      ua,
		id:      r.ID,
		peer:    r.PeerAddr,
		local:   r.LocalAddr,
		subject: r.Subject,
	}
}

func (r *chatRoom) ID() int64 { return r.id }

func (r *chatRoom) PeerAddress() string { return r.peer }

func (r *chatRoom) LocalAddress() string { return r.local }

func (r *chatRoom) Subject() string { return r.subject }

func (r *chatRoom) SendMessage(ctx context.Context, text string) (*ChatMessage, error) {
	return errtrace.Wrap2(r.ua.sendMessage(ctx, r, text))
}

func (r *chatRoom) MarkAsRead(ctx context.Context) error {
	return errtrace.Wrap(r.ua.db.MarkRead(ctx, r.id))
}

func (r *chatRoom) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int64("id", r.id),
		slog.String("peer", r.peer),
		slog.String("local", r.local),
	)
}
