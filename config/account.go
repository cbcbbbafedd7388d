package config

import (
	"log/slog"
	"strings"
	"time"

	"braces.dev/errtrace"
	"github.com/emiago/sipgo/sip"

	"github.com/ghettovoice/sipnotify/internal/errorutil"
	"github.com/ghettovoice/sipnotify/log"
)

// Account holds the SIP identity settings.
type Account struct {
	// Identity is the address of record, e.g. "sip:alice@example.com".
	Identity string
	// Username used for digest authentication. Defaults to the identity user part.
	Username string
	// Password used for digest authentication.
	Password string
	// Proxy is an optional outbound proxy "host[:port]".
	// When empty the identity domain is resolved.
	Proxy string
	// Transport is "udp" or "tcp".
	Transport string
	// Listen is the local listen address.
	Listen string
	// Register enables registration on start.
	Register bool
	// Expires is the registration lifetime.
	Expires time.Duration
	// UserAgent is the User-Agent header value.
	UserAgent string
}

// Account defaults.
const (
	DefaultTransport = "udp"
	DefaultListen    = "0.0.0.0:0"
	DefaultExpires   = time.Hour
	DefaultUserAgent = "sipnotify"
)

// Account reads the SIP account from the sip section.
func (s *Store) Account() (Account, error) {
	acc := Account{
		Identity:  strings.TrimSpace(s.String(SectionSIP, "identity", "")),
		Username:  s.String(SectionSIP, "username", ""),
		Password:  s.String(SectionSIP, "password", ""),
		Proxy:     s.String(SectionSIP, "proxy", ""),
		Transport: strings.ToLower(s.String(SectionSIP, "transport", DefaultTransport)),
		Listen:    s.String(SectionSIP, "listen", DefaultListen),
		Register:  s.Bool(SectionSIP, "register", false),
		Expires:   s.Duration(SectionSIP, "expires", DefaultExpires),
		UserAgent: s.String(SectionSIP, "user_agent", DefaultUserAgent),
	}
	if acc.Identity == "" {
		return Account{}, errtrace.Wrap(errorutil.NewWrapperError(ErrInvalidConfig, "missing sip identity"))
	}

	var uri sip.Uri
	if err := sip.ParseUri(acc.Identity, &uri); err != nil {
		return Account{}, errtrace.Wrap(errorutil.NewWrapperError(ErrInvalidConfig, "identity %q: %v", acc.Identity, err))
	}
	if uri.User == "" || uri.Host == "" {
		return Account{}, errtrace.Wrap(errorutil.NewWrapperError(ErrInvalidConfig, "identity %q has no user or host", acc.Identity))
	}
	if acc.Username == "" {
		acc.Username = uri.User
	}

	switch acc.Transport {
	case "udp", "tcp":
	default:
		return Account{}, errtrace.Wrap(errorutil.NewWrapperError(ErrInvalidConfig, "unsupported transport %q", acc.Transport))
	}
	if acc.Expires <= 0 {
		acc.Expires = DefaultExpires
	}
	return acc, nil
}

// Domain returns the identity host part.
func (a Account) Domain() string {
	var uri sip.Uri
	if err := sip.ParseUri(a.Identity, &uri); err != nil {
		return ""
	}
	return uri.Host
}

// User returns the identity user part.
func (a Account) User() string {
	var uri sip.Uri
	if err := sip.ParseUri(a.Identity, &uri); err != nil {
		return ""
	}
	return uri.User
}

func (a Account) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("identity", a.Identity),
		slog.String("username", a.Username),
		slog.Any("password", log.Redacted(a.Password)),
		slog.String("proxy", a.Proxy),
		slog.String("transport", a.Transport),
		slog.Bool("register", a.Register),
	)
}
