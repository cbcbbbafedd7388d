package engine

import (
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"
	"github.com/google/go-cmp/cmp"

	"github.com/ghettovoice/sipnotify/config"
	"github.com/ghettovoice/sipnotify/log"
)

type registrarRequest struct {
	Method      sip.RequestMethod
	To          string
	Expires     string
	Auth        string
	ContentType string
	Body        string
}

// stubRegistrar is a loopback UDP registrar and message relay.
type stubRegistrar struct {
	addr      string
	challenge bool

	mu   sync.Mutex
	reqs []registrarRequest
}

func newStubRegistrar(t *testing.T, challenge bool) *stubRegistrar {
	t.Helper()

	ua, err := sipgo.NewUA()
	if err != nil {
		t.Fatalf("sipgo.NewUA() error = %v, want nil", err)
	}
	srv, err := sipgo.NewServer(ua)
	if err != nil {
		ua.Close()
		t.Fatalf("sipgo.NewServer() error = %v, want nil", err)
	}
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		ua.Close()
		t.Fatalf("net.ListenPacket() error = %v, want nil", err)
	}

	r := &stubRegistrar{addr: pc.LocalAddr().String(), challenge: challenge}
	srv.OnRegister(r.handle)
	srv.OnMessage(r.handle)

	served := make(chan struct{})
	go func() {
		defer close(served)
		_ = srv.ServeUDP(pc)
	}()
	t.Cleanup(func() {
		pc.Close()
		ua.Close()
		<-served
	})
	return r
}

func (r *stubRegistrar) handle(req *sip.Request, tx sip.ServerTransaction) {
	rec := registrarRequest{Method: req.Method, Body: string(req.Body())}
	if to := req.To(); to != nil {
		rec.To = to.Address.User
	}
	if h := req.GetHeader("Expires"); h != nil {
		rec.Expires = h.Value()
	}
	if h := req.GetHeader("Authorization"); h != nil {
		rec.Auth = h.Value()
	}
	if h := req.ContentType(); h != nil {
		rec.ContentType = h.Value()
	}

	if r.challenge && rec.Auth == "" {
		res := sip.NewResponseFromRequest(req, 401, "Unauthorized", nil)
		res.AppendHeader(sip.NewHeader("WWW-Authenticate", `Digest realm="example.com", nonce="n0nce", algorithm=MD5`))
		_ = tx.Respond(res)
		return
	}

	r.mu.Lock()
	r.reqs = append(r.reqs, rec)
	r.mu.Unlock()
	_ = tx.Respond(sip.NewResponseFromRequest(req, 200, "OK", nil))
}

func (r *stubRegistrar) requests() []registrarRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]registrarRequest(nil), r.reqs...)
}

func newTestSignaling(t *testing.T, proxy string, h InboundHandlers) *SIPSignaling {
	t.Helper()

	s, err := NewSIPSignaling(config.Account{
		Identity:  "sip:alice@example.com",
		Username:  "alice",
		Password:  "secret",
		Proxy:     proxy,
		Transport: "udp",
		Listen:    "127.0.0.1:0",
		UserAgent: "sipnotify-test",
	}, &SIPSignalingOptions{Log: log.Noop})
	if err != nil {
		t.Fatalf("NewSIPSignaling() error = %v, want nil", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	if err := s.Start(ctx, h); err != nil {
		cancel()
		t.Fatalf("s.Start() error = %v, want nil", err)
	}
	t.Cleanup(func() {
		cancel()
		s.Close()
	})
	return s
}

func reqCtx(t *testing.T) context.Context {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestSIPSignaling_RegisterAndSend(t *testing.T) {
	t.Parallel()

	reg := newStubRegistrar(t, false)
	s := newTestSignaling(t, reg.addr, InboundHandlers{})
	ctx := reqCtx(t)

	if err := s.Register(ctx, time.Hour); err != nil {
		t.Fatalf("s.Register(1h) error = %v, want nil", err)
	}
	if err := s.Send(ctx, &OutboundMessage{
		To:          "sip:bob@example.com",
		ContentType: "text/plain",
		Body:        []byte("see you soon"),
	}); err != nil {
		t.Fatalf("s.Send() error = %v, want nil", err)
	}
	if err := s.Register(ctx, 0); err != nil {
		t.Fatalf("s.Register(0) error = %v, want nil", err)
	}

	want := []registrarRequest{
		{Method: sip.REGISTER, To: "alice", Expires: "3600"},
		{Method: sip.MESSAGE, To: "bob", ContentType: "text/plain", Body: "see you soon"},
		{Method: sip.REGISTER, To: "alice", Expires: "0"},
	}
	if diff := cmp.Diff(reg.requests(), want); diff != "" {
		t.Errorf("registrar requests mismatch (-got +want):\n%s", diff)
	}
}

func TestSIPSignaling_DigestChallenge(t *testing.T) {
	t.Parallel()

	reg := newStubRegistrar(t, true)
	s := newTestSignaling(t, reg.addr, InboundHandlers{})

	if err := s.Register(reqCtx(t), time.Hour); err != nil {
		t.Fatalf("s.Register() error = %v, want nil", err)
	}

	reqs := reg.requests()
	if len(reqs) != 1 {
		t.Fatalf("authorized requests = %d, want 1", len(reqs))
	}
	for _, part := range []string{"Digest ", `username="alice"`, `realm="example.com"`, `nonce="n0nce"`} {
		if !strings.Contains(reqs[0].Auth, part) {
			t.Errorf("Authorization = %q, want it to contain %q", reqs[0].Auth, part)
		}
	}
}

func TestSIPSignaling_NotStarted(t *testing.T) {
	t.Parallel()

	s, err := NewSIPSignaling(config.Account{Identity: "sip:alice@example.com", Transport: "udp"}, nil)
	if err != nil {
		t.Fatalf("NewSIPSignaling() error = %v, want nil", err)
	}
	if err := s.Register(context.Background(), time.Hour); err == nil {
		t.Error("s.Register() before start error = nil, want non-nil")
	}
	if err := s.Close(); err != nil {
		t.Errorf("s.Close() error = %v, want nil", err)
	}
	if err := s.Send(context.Background(), &OutboundMessage{To: "sip:bob@example.com"}); !errors.Is(err, ErrClosed) {
		t.Errorf("s.Send() after close error = %v, want %v", err, ErrClosed)
	}
}

func newTestClient(t *testing.T) *sipgo.Client {
	t.Helper()

	ua, err := sipgo.NewUA()
	if err != nil {
		t.Fatalf("sipgo.NewUA() error = %v, want nil", err)
	}
	cli, err := sipgo.NewClient(ua, sipgo.WithClientHostname("127.0.0.1"))
	if err != nil {
		ua.Close()
		t.Fatalf("sipgo.NewClient() error = %v, want nil", err)
	}
	t.Cleanup(func() {
		cli.Close()
		ua.Close()
	})
	return cli
}

func inboundRequest(s *SIPSignaling, method sip.RequestMethod) *sip.Request {
	s.mu.Lock()
	contact := s.contact
	s.mu.Unlock()

	recipient := sip.Uri{Scheme: "sip", User: "alice", Host: contact.Host, Port: contact.Port}
	req := sip.NewRequest(method, recipient)
	from := &sip.FromHeader{
		Address: sip.Uri{Scheme: "sip", User: "bob", Host: "example.com"},
		Params:  sip.NewParams(),
	}
	from.Params.Add("tag", sip.GenerateTagN(16))
	req.AppendHeader(from)
	req.AppendHeader(&sip.ToHeader{Address: sip.Uri{Scheme: "sip", User: "alice", Host: "example.com"}, Params: sip.NewParams()})
	req.SetTransport("UDP")
	return req
}

func TestSIPSignaling_InboundMessage(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name       string
		handlerErr error
		wantCode   int
	}{
		{"accepted", nil, 200},
		{"handler error", errors.New("disk full"), 500},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()

			got := make(chan *InboundMessage, 1)
			s := newTestSignaling(t, "127.0.0.1:9", InboundHandlers{
				Message: func(_ context.Context, msg *InboundMessage) error {
					got <- msg
					return c.handlerErr
				},
			})
			cli := newTestClient(t)

			req := inboundRequest(s, sip.MESSAGE)
			req.AppendHeader(sip.NewHeader("Content-Type", "text/plain"))
			req.AppendHeader(sip.NewHeader("Subject", "Trip"))
			req.SetBody([]byte("see you soon"))

			res, err := cli.Do(reqCtx(t), req)
			if err != nil {
				t.Fatalf("cli.Do(MESSAGE) error = %v, want nil", err)
			}
			if int(res.StatusCode) != c.wantCode {
				t.Errorf("MESSAGE status = %d, want %d", res.StatusCode, c.wantCode)
			}

			var msg *InboundMessage
			select {
			case msg = <-got:
			default:
				t.Fatal("message handler was not called")
			}
			if got, want := NormalizeAddress(msg.From), "sip:bob@example.com"; got != want {
				t.Errorf("msg.From = %q, want %q", got, want)
			}
			if got, want := msg.Subject, "Trip"; got != want {
				t.Errorf("msg.Subject = %q, want %q", got, want)
			}
			if got, want := msg.ContentType, "text/plain"; got != want {
				t.Errorf("msg.ContentType = %q, want %q", got, want)
			}
			if got, want := string(msg.Body), "see you soon"; got != want {
				t.Errorf("msg.Body = %q, want %q", got, want)
			}
			if msg.CallID == "" {
				t.Error("msg.CallID is empty")
			}
		})
	}
}

func TestSIPSignaling_InboundCall(t *testing.T) {
	t.Parallel()

	got := make(chan *InboundCall, 1)
	s := newTestSignaling(t, "127.0.0.1:9", InboundHandlers{
		Call: func(_ context.Context, call *InboundCall) error {
			got <- call
			return nil
		},
	})
	cli := newTestClient(t)

	res, err := cli.Do(reqCtx(t), inboundRequest(s, sip.INVITE))
	if err != nil {
		t.Fatalf("cli.Do(INVITE) error = %v, want nil", err)
	}
	if got, want := int(res.StatusCode), 480; got != want {
		t.Errorf("INVITE status = %d, want %d", got, want)
	}

	select {
	case call := <-got:
		if got, want := NormalizeAddress(call.From), "sip:bob@example.com"; got != want {
			t.Errorf("call.From = %q, want %q", got, want)
		}
	default:
		t.Fatal("call handler was not called")
	}
}
