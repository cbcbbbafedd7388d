package session_test

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ghettovoice/sipnotify/config"
	"github.com/ghettovoice/sipnotify/engine"
	"github.com/ghettovoice/sipnotify/internal/types"
	"github.com/ghettovoice/sipnotify/log"
	"github.com/ghettovoice/sipnotify/session"
)

// stubEngine is an in-memory engine. Queued events reach the handlers
// only inside Iterate, the way the real user agent delivers them.
type stubEngine struct {
	state    engine.GlobalState
	startErr error
	// startTo is entered by the first Iterate after Start.
	// Empty means On is entered inside Start.
	startTo engine.GlobalState
	// drainTicks is the number of Iterate calls spent in Shutdown before Off.
	// Negative means the engine never reaches Off.
	drainTicks int

	pending    []func(ctx context.Context)
	iterations int
	stops      int
	closed     int
	badge      int
	rooms      map[[2]string]*stubRoom

	onGlobal types.CallbackManager[engine.GlobalStateHandler]
	onReg    types.CallbackManager[engine.RegistrationStateHandler]
	onMsg    types.CallbackManager[engine.MessageHandler]
	onMsgSt  types.CallbackManager[engine.MessageStateHandler]
}

func newStubEngine() *stubEngine {
	return &stubEngine{
		state: engine.GlobalStateOff,
		rooms: make(map[[2]string]*stubRoom),
	}
}

func (e *stubEngine) setState(ctx context.Context, st engine.GlobalState, msg string) {
	e.state = st
	for cb := range e.onGlobal.All() {
		cb(ctx, st, msg)
	}
}

func (e *stubEngine) queue(fn func(ctx context.Context)) {
	e.pending = append(e.pending, fn)
}

func (e *stubEngine) Start(ctx context.Context) error {
	e.setState(ctx, engine.GlobalStateStartup, "")
	if e.startErr != nil {
		e.setState(ctx, engine.GlobalStateFailed, e.startErr.Error())
		return e.startErr
	}
	if e.startTo == "" {
		e.setState(ctx, engine.GlobalStateOn, "")
		return nil
	}
	st := e.startTo
	e.queue(func(ctx context.Context) { e.setState(ctx, st, "") })
	return nil
}

func (e *stubEngine) Iterate(ctx context.Context) {
	e.iterations++
	pending := e.pending
	e.pending = nil
	for _, fn := range pending {
		fn(ctx)
	}
	if e.state == engine.GlobalStateShutdown && e.drainTicks >= 0 {
		if e.drainTicks == 0 {
			e.setState(ctx, engine.GlobalStateOff, "")
		} else {
			e.drainTicks--
		}
	}
}

func (e *stubEngine) StopAsync(ctx context.Context) error {
	e.stops++
	switch e.state {
	case engine.GlobalStateOff, engine.GlobalStateShutdown:
		return nil
	}
	e.setState(ctx, engine.GlobalStateShutdown, "")
	return nil
}

func (e *stubEngine) GlobalState() engine.GlobalState { return e.state }

func (e *stubEngine) Close() error {
	e.closed++
	return nil
}

func (e *stubEngine) OnGlobalStateChanged(fn engine.GlobalStateHandler) func() {
	return e.onGlobal.Add(fn)
}

func (e *stubEngine) OnRegistrationStateChanged(fn engine.RegistrationStateHandler) func() {
	return e.onReg.Add(fn)
}

func (e *stubEngine) OnMessageReceived(fn engine.MessageHandler) func() {
	return e.onMsg.Add(fn)
}

func (e *stubEngine) OnMessageStateChanged(fn engine.MessageStateHandler) func() {
	return e.onMsgSt.Add(fn)
}

func (e *stubEngine) FindChatRoom(_ context.Context, peer, local string) (engine.ChatRoom, error) {
	if r, ok := e.rooms[[2]string{peer, local}]; ok {
		return r, nil
	}
	return nil, engine.ErrChatRoomNotFound
}

func (e *stubEngine) BadgeCount(context.Context) (int, error) { return e.badge, nil }

func (e *stubEngine) handlers() int {
	return e.onGlobal.Len() + e.onReg.Len() + e.onMsg.Len() + e.onMsgSt.Len()
}

// receive queues a received message.
func (e *stubEngine) receive(room *stubRoom, msg *engine.ChatMessage) {
	e.queue(func(ctx context.Context) {
		for cb := range e.onMsg.All() {
			cb(ctx, room, msg)
		}
	})
}

// remoteStop queues a shutdown driven by another actor.
func (e *stubEngine) remoteStop() {
	e.queue(func(ctx context.Context) {
		if e.state != engine.GlobalStateShutdown && e.state != engine.GlobalStateOff {
			e.setState(ctx, engine.GlobalStateShutdown, "stop requested by another actor")
		}
	})
}

func (e *stubEngine) deliver(id string, st engine.MessageState) {
	e.queue(func(ctx context.Context) {
		for cb := range e.onMsgSt.All() {
			cb(ctx, &engine.ChatMessage{ID: id, Direction: engine.DirectionOutgoing}, st)
		}
	})
}

type stubRoom struct {
	id           int64
	peer, local  string
	subject      string
	sent         []string
	markedAsRead int
	onSend       func(msg *engine.ChatMessage)
}

func (r *stubRoom) ID() int64            { return r.id }
func (r *stubRoom) PeerAddress() string  { return r.peer }
func (r *stubRoom) LocalAddress() string { return r.local }
func (r *stubRoom) Subject() string      { return r.subject }

func (r *stubRoom) SendMessage(_ context.Context, text string) (*engine.ChatMessage, error) {
	r.sent = append(r.sent, text)
	msg := &engine.ChatMessage{
		ID:          "out-" + text,
		RoomID:      r.id,
		To:          r.peer,
		ContentType: "text/plain",
		Body:        []byte(text),
		Direction:   engine.DirectionOutgoing,
		State:       engine.MessageStateInProgress,
	}
	if r.onSend != nil {
		r.onSend(msg)
	}
	return msg, nil
}

func (r *stubRoom) MarkAsRead(context.Context) error {
	r.markedAsRead++
	return nil
}

// sleepRecorder replaces real sleeping in waits.
type sleepRecorder struct {
	calls []time.Duration
}

func (s *sleepRecorder) Sleep(ctx context.Context, d time.Duration) error {
	s.calls = append(s.calls, d)
	return ctx.Err()
}

func (s *sleepRecorder) total() time.Duration {
	var sum time.Duration
	for _, d := range s.calls {
		sum += d
	}
	return sum
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), config.DefaultFileName)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const testConfig = `
[app]
debugenable_preference = 1
show_msg_in_notification = true

[sip]
identity = sip:alice@example.com
`

var testPolicies = session.Policies{
	Startup: session.Policy{Attempts: 5, Interval: 10 * time.Millisecond},
	Inbound: session.Policy{Attempts: 10, Interval: 100 * time.Millisecond},
	Reply:   session.Policy{Attempts: 5, Interval: 10 * time.Millisecond},
	Drain:   session.Policy{Attempts: 10, Interval: 10 * time.Millisecond},
}

type coreFixture struct {
	core    *session.Core
	sleep   *sleepRecorder
	engines []*stubEngine
	// prepare configures every new engine.
	prepare func(e *stubEngine)
}

func newCoreFixture(t *testing.T, cfg string) *coreFixture {
	t.Helper()

	f := &coreFixture{sleep: &sleepRecorder{}}
	policies := testPolicies
	f.core = session.NewCore(&session.Options{
		ConfigPath: writeConfig(t, cfg),
		NewEngine: func(context.Context, *config.Store, config.Container, string, *slog.Logger) (session.Engine, error) {
			e := newStubEngine()
			if f.prepare != nil {
				f.prepare(e)
			}
			f.engines = append(f.engines, e)
			return e, nil
		},
		Policies: &policies,
		Sleep:    f.sleep.Sleep,
		Log:      log.Noop,
	})
	return f
}

func (f *coreFixture) last() *stubEngine {
	if len(f.engines) == 0 {
		return nil
	}
	return f.engines[len(f.engines)-1]
}
