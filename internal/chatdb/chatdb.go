// Package chatdb stores chat rooms, messages and call history in SQLite.
//
// The database lives in the shared container and may be opened by several
// processes at once, so it runs in WAL mode with a busy timeout.
package chatdb

//go:generate go tool errtrace -w .

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"braces.dev/errtrace"
	_ "modernc.org/sqlite" // pure Go driver

	"github.com/ghettovoice/sipnotify/internal/errorutil"
)

// Error is a chat store error.
type Error = errorutil.Error

const (
	// ErrRoomNotFound is returned when no room matches the lookup.
	ErrRoomNotFound Error = "chat room not found"
	// ErrMessageNotFound is returned when no message matches the lookup.
	ErrMessageNotFound Error = "chat message not found"
)

// Directions of stored messages.
const (
	DirectionIncoming = "in"
	DirectionOutgoing = "out"
)

// Call statuses.
const (
	CallMissed   = "missed"
	CallAnswered = "answered"
	CallOutgoing = "outgoing"
)

// Room is a stored chat room.
type Room struct {
	ID        int64
	PeerAddr  string
	LocalAddr string
	Subject   string
	Unread    int
	UpdatedAt time.Time
}

// Message is a stored chat message.
type Message struct {
	ID          string
	RoomID      int64
	CallID      string
	Direction   string
	From        string
	ContentType string
	Body        []byte
	State       string
	CreatedAt   time.Time
}

// Options configure [Open].
type Options struct {
	// BusyTimeout is how long a connection waits for a lock held by another
	// connection or process. Defaults to 5 seconds.
	BusyTimeout time.Duration
	// MaxOpenConns limits the pool size. Defaults to 4.
	MaxOpenConns int
}

func (o *Options) busyTimeout() time.Duration {
	if o == nil || o.BusyTimeout <= 0 {
		return 5 * time.Second
	}
	return o.BusyTimeout
}

func (o *Options) maxOpenConns() int {
	if o == nil || o.MaxOpenConns <= 0 {
		return 4
	}
	return o.MaxOpenConns
}

// DB is the chat store.
type DB struct {
	db *sql.DB
}

// Open opens the database at path and migrates its schema.
func Open(ctx context.Context, path string, opts *Options) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, errtrace.Wrap(err)
	}

	sqldb, err := sql.Open("sqlite", dsn(path, opts.busyTimeout()))
	if err != nil {
		return nil, errtrace.Wrap(err)
	}
	sqldb.SetMaxOpenConns(opts.maxOpenConns())
	sqldb.SetMaxIdleConns(opts.maxOpenConns())
	sqldb.SetConnMaxLifetime(time.Hour)

	if err := sqldb.PingContext(ctx); err != nil {
		_ = sqldb.Close()
		return nil, errtrace.Wrap(err)
	}

	db := &DB{db: sqldb}
	if err := db.migrate(ctx); err != nil {
		_ = sqldb.Close()
		return nil, errtrace.Wrap(err)
	}
	return db, nil
}

// dsn returns the URI filename of path. The path is escaped so that
// '?' and '#' in a directory name stay part of the file name.
func dsn(path string, busyTimeout time.Duration) string {
	q := url.Values{"_pragma": {
		"journal_mode(WAL)",
		fmt.Sprintf("busy_timeout(%d)", busyTimeout.Milliseconds()),
		"synchronous(NORMAL)",
		"foreign_keys(ON)",
	}}
	u := &url.URL{Scheme: "file", OmitHost: true, Path: filepath.ToSlash(path), RawQuery: q.Encode()}
	return u.String()
}

// Close closes the database.
func (db *DB) Close() error {
	return errtrace.Wrap(db.db.Close())
}

func (db *DB) migrate(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS rooms (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		peer_addr TEXT NOT NULL,
		local_addr TEXT NOT NULL,
		subject TEXT NOT NULL DEFAULT '',
		unread INTEGER NOT NULL DEFAULT 0,
		updated_at INTEGER NOT NULL,
		UNIQUE (peer_addr, local_addr)
	);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		room_id INTEGER NOT NULL REFERENCES rooms(id) ON DELETE CASCADE,
		call_id TEXT NOT NULL DEFAULT '',
		direction TEXT NOT NULL CHECK(direction IN ('in', 'out')),
		from_addr TEXT NOT NULL,
		content_type TEXT NOT NULL,
		body BLOB,
		state TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_messages_room ON messages(room_id, created_at);

	CREATE TABLE IF NOT EXISTS calls (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		peer_addr TEXT NOT NULL,
		status TEXT NOT NULL CHECK(status IN ('missed', 'answered', 'outgoing')),
		seen INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL
	);
	`
	_, err := db.db.ExecContext(ctx, schema)
	return errtrace.Wrap(err)
}

func scanRoom(row interface{ Scan(...any) error }) (*Room, error) {
	var (
		r  Room
		ts int64
	)
	if err := row.Scan(&r.ID, &r.PeerAddr, &r.LocalAddr, &r.Subject, &r.Unread, &ts); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errtrace.Wrap(ErrRoomNotFound)
		}
		return nil, errtrace.Wrap(err)
	}
	r.UpdatedAt = time.UnixMilli(ts).UTC()
	return &r, nil
}

const roomColumns = `id, peer_addr, local_addr, subject, unread, updated_at`

// FindRoom returns the room of the (peer, local) pair.
func (db *DB) FindRoom(ctx context.Context, peer, local string) (*Room, error) {
	row := db.db.QueryRowContext(ctx,
		`SELECT `+roomColumns+` FROM rooms WHERE peer_addr = ? AND local_addr = ?`, peer, local)
	return errtrace.Wrap2(scanRoom(row))
}

// Room returns the room by id.
func (db *DB) Room(ctx context.Context, id int64) (*Room, error) {
	row := db.db.QueryRowContext(ctx, `SELECT `+roomColumns+` FROM rooms WHERE id = ?`, id)
	return errtrace.Wrap2(scanRoom(row))
}

// GetOrCreateRoom returns the room of the (peer, local) pair creating it when missing.
// A non-empty subject replaces the stored one.
func (db *DB) GetOrCreateRoom(ctx context.Context, peer, local, subject string) (*Room, error) {
	_, err := db.db.ExecContext(ctx, `
	INSERT INTO rooms (peer_addr, local_addr, subject, updated_at)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(peer_addr, local_addr) DO UPDATE SET
		subject = CASE WHEN excluded.subject != '' THEN excluded.subject ELSE rooms.subject END
	`, peer, local, subject, time.Now().UnixMilli())
	if err != nil {
		return nil, errtrace.Wrap(err)
	}
	return errtrace.Wrap2(db.FindRoom(ctx, peer, local))
}

// SetSubject sets the room subject.
func (db *DB) SetSubject(ctx context.Context, roomID int64, subject string) error {
	res, err := db.db.ExecContext(ctx, `UPDATE rooms SET subject = ? WHERE id = ?`, subject, roomID)
	if err != nil {
		return errtrace.Wrap(err)
	}
	return errtrace.Wrap(expectAffected(res, ErrRoomNotFound))
}

// AddMessage stores the message. Incoming messages increment the room unread counter.
func (db *DB) AddMessage(ctx context.Context, m *Message) error {
	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return errtrace.Wrap(err)
	}
	defer tx.Rollback() //nolint:errcheck

	created := m.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	if _, err := tx.ExecContext(ctx, `
	INSERT INTO messages (id, room_id, call_id, direction, from_addr, content_type, body, state, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, m.ID, m.RoomID, m.CallID, m.Direction, m.From, m.ContentType, m.Body, m.State, created.UnixMilli()); err != nil {
		return errtrace.Wrap(err)
	}

	unread := 0
	if m.Direction == DirectionIncoming {
		unread = 1
	}
	res, err := tx.ExecContext(ctx,
		`UPDATE rooms SET unread = unread + ?, updated_at = ? WHERE id = ?`, unread, created.UnixMilli(), m.RoomID)
	if err != nil {
		return errtrace.Wrap(err)
	}
	if err := expectAffected(res, ErrRoomNotFound); err != nil {
		return errtrace.Wrap(err)
	}
	return errtrace.Wrap(tx.Commit())
}

// Message returns the message by id.
func (db *DB) Message(ctx context.Context, id string) (*Message, error) {
	var (
		m  Message
		ts int64
	)
	err := db.db.QueryRowContext(ctx, `
	SELECT id, room_id, call_id, direction, from_addr, content_type, body, state, created_at
	FROM messages WHERE id = ?
	`, id).Scan(&m.ID, &m.RoomID, &m.CallID, &m.Direction, &m.From, &m.ContentType, &m.Body, &m.State, &ts)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errtrace.Wrap(ErrMessageNotFound)
		}
		return nil, errtrace.Wrap(err)
	}
	m.CreatedAt = time.UnixMilli(ts).UTC()
	return &m, nil
}

// SetMessageState updates the message state.
func (db *DB) SetMessageState(ctx context.Context, id, state string) error {
	res, err := db.db.ExecContext(ctx, `UPDATE messages SET state = ? WHERE id = ?`, state, id)
	if err != nil {
		return errtrace.Wrap(err)
	}
	return errtrace.Wrap(expectAffected(res, ErrMessageNotFound))
}

// MarkRead resets the room unread counter.
func (db *DB) MarkRead(ctx context.Context, roomID int64) error {
	res, err := db.db.ExecContext(ctx, `UPDATE rooms SET unread = 0 WHERE id = ?`, roomID)
	if err != nil {
		return errtrace.Wrap(err)
	}
	return errtrace.Wrap(expectAffected(res, ErrRoomNotFound))
}

// UnreadCount returns the number of unread messages in all rooms.
func (db *DB) UnreadCount(ctx context.Context) (int, error) {
	var n int
	err := db.db.QueryRowContext(ctx, `SELECT COALESCE(SUM(unread), 0) FROM rooms`).Scan(&n)
	return n, errtrace.Wrap(err)
}

// AddCall stores a call log entry.
func (db *DB) AddCall(ctx context.Context, peer, status string) error {
	_, err := db.db.ExecContext(ctx,
		`INSERT INTO calls (peer_addr, status, created_at) VALUES (?, ?, ?)`, peer, status, time.Now().UnixMilli())
	return errtrace.Wrap(err)
}

// MissedCallsCount returns the number of missed calls not seen yet.
func (db *DB) MissedCallsCount(ctx context.Context) (int, error) {
	var n int
	err := db.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM calls WHERE status = ? AND seen = 0`, CallMissed).Scan(&n)
	return n, errtrace.Wrap(err)
}

// MarkCallsSeen marks all missed calls as seen.
func (db *DB) MarkCallsSeen(ctx context.Context) error {
	_, err := db.db.ExecContext(ctx, `UPDATE calls SET seen = 1 WHERE seen = 0`)
	return errtrace.Wrap(err)
}

func expectAffected(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return errtrace.Wrap(err)
	}
	if n == 0 {
		return errtrace.Wrap(notFound)
	}
	return nil
}
