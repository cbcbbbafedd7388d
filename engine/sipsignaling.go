package engine

import (
	"context"
	"io"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"braces.dev/errtrace"
	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"

	"github.com/ghettovoice/sipnotify/config"
	"github.com/ghettovoice/sipnotify/dns"
	"github.com/ghettovoice/sipnotify/internal/errorutil"
	"github.com/ghettovoice/sipnotify/log"
)

// SIPSignalingOptions configure [NewSIPSignaling].
type SIPSignalingOptions struct {
	// Resolver locates the registrar when no proxy is configured.
	// If nil, [dns.DefaultResolver] is used.
	Resolver *dns.Resolver
	// Log is the logger. If nil, [log.Default] is used.
	Log *slog.Logger
}

func (o *SIPSignalingOptions) resolver() *dns.Resolver {
	if o == nil || o.Resolver == nil {
		return dns.DefaultResolver()
	}
	return o.Resolver
}

func (o *SIPSignalingOptions) log() *slog.Logger {
	if o == nil || o.Log == nil {
		return log.Default()
	}
	return o.Log
}

// SIPSignaling is the [Signaling] implementation over UDP or TCP.
type SIPSignaling struct {
	acc      config.Account
	identity sip.Uri
	resolver *dns.Resolver
	log      *slog.Logger

	mu      sync.Mutex
	ua      *sipgo.UserAgent
	cli     *sipgo.Client
	srv     *sipgo.Server
	ln      io.Closer
	contact sip.Uri
	target  string
	served  chan struct{}
	closed  bool
}

// NewSIPSignaling creates signaling for the account.
func NewSIPSignaling(acc config.Account, opts *SIPSignalingOptions) (*SIPSignaling, error) {
	var identity sip.Uri
	if err := sip.ParseUri(acc.Identity, &identity); err != nil {
		return nil, errtrace.Wrap(errorutil.NewInvalidArgumentError(err))
	}
	return &SIPSignaling{
		acc:      acc,
		identity: identity,
		resolver: opts.resolver(),
		log:      opts.log(),
	}, nil
}

// Start binds the listen address and serves inbound MESSAGE requests in background.
func (s *SIPSignaling) Start(ctx context.Context, h InboundHandlers) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errtrace.Wrap(ErrClosed)
	}
	if s.ua != nil {
		return errtrace.Wrap(errorutil.Errorf("signaling already started"))
	}

	target := s.acc.Proxy
	if target == "" {
		var err error
		if target, err = s.resolver.ResolveTarget(ctx, s.identity.Host, s.acc.Transport); err != nil {
			return errtrace.Wrap(err)
		}
	}

	ua, err := sipgo.NewUA(sipgo.WithUserAgent(s.acc.UserAgent))
	if err != nil {
		return errtrace.Wrap(err)
	}
	srv, err := sipgo.NewServer(ua)
	if err != nil {
		ua.Close()
		return errtrace.Wrap(err)
	}

	srv.OnMessage(func(req *sip.Request, tx sip.ServerTransaction) {
		s.handleMessage(ctx, h.Message, req, tx)
	})
	srv.OnInvite(func(req *sip.Request, tx sip.ServerTransaction) {
		s.handleInvite(ctx, h.Call, req, tx)
	})

	var (
		laddr net.Addr
		serve func() error
	)
	switch s.acc.Transport {
	case "tcp":
		ln, err := net.Listen("tcp", s.acc.Listen)
		if err != nil {
			ua.Close()
			return errtrace.Wrap(err)
		}
		s.ln, laddr = ln, ln.Addr()
		serve = func() error { return srv.ServeTCP(ln) }
	default:
		pc, err := net.ListenPacket("udp", s.acc.Listen)
		if err != nil {
			ua.Close()
			return errtrace.Wrap(err)
		}
		s.ln, laddr = pc, pc.LocalAddr()
		serve = func() error { return srv.ServeUDP(pc) }
	}

	host, portStr, _ := net.SplitHostPort(laddr.String())
	port, _ := strconv.Atoi(portStr)
	if ip := net.ParseIP(host); ip == nil || ip.IsUnspecified() {
		host = outboundIP(target)
	}

	cli, err := sipgo.NewClient(ua, sipgo.WithClientHostname(host))
	if err != nil {
		s.ln.Close()
		ua.Close()
		return errtrace.Wrap(err)
	}

	s.ua, s.cli, s.srv = ua, cli, srv
	s.target = target
	s.contact = sip.Uri{Scheme: "sip", User: s.identity.User, Host: host, Port: port}
	s.served = make(chan struct{})

	s.log.LogAttrs(ctx, slog.LevelDebug, "signaling started",
		slog.Any("listener", s.ln),
		slog.String("target", target),
		slog.Any("account", s.acc),
	)

	go func() {
		defer close(s.served)
		if err := serve(); err != nil && ctx.Err() == nil {
			s.log.LogAttrs(ctx, slog.LevelDebug, "signaling serve stopped", slog.Any("error", err))
		}
	}()
	go func() {
		select {
		case <-ctx.Done():
			s.Close()
		case <-s.served:
		}
	}()
	return nil
}

func outboundIP(target string) string {
	conn, err := net.Dial("udp", target)
	if err != nil {
		return "127.0.0.1"
	}
	defer conn.Close()
	host, _, _ := net.SplitHostPort(conn.LocalAddr().String())
	return host
}

func (s *SIPSignaling) handleMessage(
	ctx context.Context,
	h func(context.Context, *InboundMessage) error,
	req *sip.Request,
	tx sip.ServerTransaction,
) {
	s.log.LogAttrs(ctx, slog.LevelDebug, "inbound message",
		slog.Any("request", log.Lazy(func() any { return req.String() })),
	)

	in := &InboundMessage{Body: req.Body()}
	if from := req.From(); from != nil {
		in.From = from.Address.String()
	}
	if to := req.To(); to != nil {
		in.To = to.Address.String()
	}
	if hdr := req.CallID(); hdr != nil {
		in.CallID = hdr.Value()
	}
	if hdr := req.ContentType(); hdr != nil {
		in.ContentType = hdr.Value()
	}
	if hdr := req.GetHeader("Subject"); hdr != nil {
		in.Subject = hdr.Value()
	}

	code, reason := 200, "OK"
	if h == nil {
		code, reason = 405, "Method Not Allowed"
	} else if err := h(ctx, in); err != nil {
		s.log.LogAttrs(ctx, slog.LevelWarn, "failed to handle inbound message",
			slog.String("call_id", in.CallID),
			slog.Any("error", err),
		)
		code, reason = 500, "Server Internal Error"
	}
	if err := tx.Respond(sip.NewResponseFromRequest(req, code, reason, nil)); err != nil {
		s.log.LogAttrs(ctx, slog.LevelWarn, "failed to respond", slog.Any("error", err))
	}
}

func (s *SIPSignaling) handleInvite(
	ctx context.Context,
	h func(context.Context, *InboundCall) error,
	req *sip.Request,
	tx sip.ServerTransaction,
) {
	call := new(InboundCall)
	if from := req.From(); from != nil {
		call.From = from.Address.String()
	}
	if to := req.To(); to != nil {
		call.To = to.Address.String()
	}
	if hdr := req.CallID(); hdr != nil {
		call.CallID = hdr.Value()
	}
	if h != nil {
		if err := h(ctx, call); err != nil {
			s.log.LogAttrs(ctx, slog.LevelWarn, "failed to handle inbound call",
				slog.String("call_id", call.CallID),
				slog.Any("error", err),
			)
		}
	}
	if err := tx.Respond(sip.NewResponseFromRequest(req, 480, "Temporarily Unavailable", nil)); err != nil {
		s.log.LogAttrs(ctx, slog.LevelWarn, "failed to respond", slog.Any("error", err))
	}
}

func (s *SIPSignaling) client() (*sipgo.Client, string, sip.Uri, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, "", sip.Uri{}, errtrace.Wrap(ErrClosed)
	}
	if s.cli == nil {
		return nil, "", sip.Uri{}, errtrace.Wrap(errorutil.Errorf("signaling not started"))
	}
	return s.cli, s.target, s.contact, nil
}

func (s *SIPSignaling) newRequest(method sip.RequestMethod, recipient sip.Uri, target string) *sip.Request {
	req := sip.NewRequest(method, recipient)
	from := &sip.FromHeader{Address: s.identity, Params: sip.NewParams()}
	from.Params.Add("tag", sip.GenerateTagN(16))
	req.AppendHeader(from)
	req.SetTransport(strings.ToUpper(s.acc.Transport))
	req.SetDestination(target)
	return req
}

func (s *SIPSignaling) do(ctx context.Context, cli *sipgo.Client, req *sip.Request) error {
	res, err := cli.Do(ctx, req)
	if err != nil {
		return errtrace.Wrap(err)
	}
	if res.StatusCode == 401 || res.StatusCode == 407 {
		res, err = cli.DoDigestAuth(ctx, req, res, sipgo.DigestAuth{
			Username: s.acc.Username,
			Password: s.acc.Password,
		})
		if err != nil {
			return errtrace.Wrap(err)
		}
	}
	if !res.IsSuccess() {
		return errtrace.Wrap(errorutil.NewWrapperError(ErrRequestFailed, "%s %d %s", req.Method, res.StatusCode, res.Reason))
	}
	return nil
}

// Register sends REGISTER for the identity. Zero expires removes the binding.
func (s *SIPSignaling) Register(ctx context.Context, expires time.Duration) error {
	cli, target, contact, err := s.client()
	if err != nil {
		return errtrace.Wrap(err)
	}

	registrar := sip.Uri{Scheme: "sip", Host: s.identity.Host, Port: s.identity.Port}
	req := s.newRequest(sip.REGISTER, registrar, target)
	req.AppendHeader(&sip.ToHeader{Address: s.identity, Params: sip.NewParams()})
	req.AppendHeader(&sip.ContactHeader{Address: contact})
	req.AppendHeader(sip.NewHeader("Expires", strconv.Itoa(int(expires/time.Second))))
	return errtrace.Wrap(s.do(ctx, cli, req))
}

// Send sends a MESSAGE request.
func (s *SIPSignaling) Send(ctx context.Context, msg *OutboundMessage) error {
	cli, target, _, err := s.client()
	if err != nil {
		return errtrace.Wrap(err)
	}

	var recipient sip.Uri
	if err := sip.ParseUri(msg.To, &recipient); err != nil {
		return errtrace.Wrap(errorutil.NewInvalidArgumentError(err))
	}
	req := s.newRequest(sip.MESSAGE, recipient, target)
	req.AppendHeader(&sip.ToHeader{Address: recipient, Params: sip.NewParams()})
	req.AppendHeader(sip.NewHeader("Content-Type", msg.ContentType))
	req.SetBody(msg.Body)
	return errtrace.Wrap(s.do(ctx, cli, req))
}

// Close stops serving and releases the transports.
func (s *SIPSignaling) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	ln, cli, ua, served := s.ln, s.cli, s.ua, s.served
	s.mu.Unlock()

	var errs []error
	if ln != nil {
		errs = append(errs, ln.Close())
	}
	if cli != nil {
		errs = append(errs, cli.Close())
	}
	if ua != nil {
		errs = append(errs, ua.Close())
	}
	if served != nil {
		<-served
	}
	return errtrace.Wrap(errorutil.JoinPrefix("close signaling", errs...))
}
