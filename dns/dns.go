// Package dns locates SIP servers of a domain (RFC 3263).
package dns

//go:generate go tool errtrace -w .

import (
	"cmp"
	"context"
	"net"
	"slices"
	"strconv"
	"strings"
	"time"

	"braces.dev/errtrace"
	"github.com/miekg/dns"
)

// DefaultPort is the SIP port used when the domain publishes no SRV records.
const DefaultPort = 5060

// Resolver queries a DNS server directly.
type Resolver struct {
	// NameServer specifies the DNS server address (e.g., "8.8.8.8:53").
	// If empty, the first server of /etc/resolv.conf is used.
	NameServer string
	// Timeout specifies the timeout for DNS queries.
	// If zero, defaults to 5 seconds.
	Timeout time.Duration
}

// SRV is a service record.
type SRV struct {
	Target   string
	Port     uint16
	Priority uint16
	Weight   uint16
}

// NAPTR represents a NAPTR DNS record as defined in RFC 3403.
type NAPTR struct {
	// Order specifies the order in which NAPTR records must be processed.
	Order uint16
	// Preference specifies the preference for records with equal Order values.
	Preference uint16
	// Flags, "s" means the replacement points to an SRV record.
	Flags string
	// Service, e.g. "SIP+D2U" (UDP), "SIP+D2T" (TCP).
	Service string
	// Regexp is usually empty when Replacement is used.
	Regexp string
	// Replacement is the next domain name to query.
	Replacement string
}

// LookupSRV queries "_service._proto.host" SRV records.
// Records are sorted by priority (ascending), then by weight (descending).
func (r *Resolver) LookupSRV(ctx context.Context, service, proto, host string) ([]*SRV, error) {
	name := host
	if service != "" || proto != "" {
		name = "_" + service + "._" + proto + "." + host
	}
	resp, err := r.exchange(ctx, name, dns.TypeSRV)
	if err != nil {
		return nil, errtrace.Wrap(err)
	}

	recs := make([]*SRV, 0, len(resp.Answer))
	for _, ans := range resp.Answer {
		if rr, ok := ans.(*dns.SRV); ok {
			recs = append(recs, &SRV{
				Target:   strings.TrimSuffix(rr.Target, "."),
				Port:     rr.Port,
				Priority: rr.Priority,
				Weight:   rr.Weight,
			})
		}
	}
	slices.SortStableFunc(recs, func(a, b *SRV) int {
		if c := cmp.Compare(a.Priority, b.Priority); c != 0 {
			return c
		}
		return cmp.Compare(b.Weight, a.Weight)
	})
	return recs, nil
}

// LookupNAPTR queries NAPTR records for the given host.
// Returns records sorted by Order (ascending), then by Preference (ascending).
func (r *Resolver) LookupNAPTR(ctx context.Context, host string) ([]*NAPTR, error) {
	resp, err := r.exchange(ctx, host, dns.TypeNAPTR)
	if err != nil {
		return nil, errtrace.Wrap(err)
	}

	recs := make([]*NAPTR, 0, len(resp.Answer))
	for _, ans := range resp.Answer {
		if rr, ok := ans.(*dns.NAPTR); ok {
			recs = append(recs, &NAPTR{
				Order:       rr.Order,
				Preference:  rr.Preference,
				Flags:       rr.Flags,
				Service:     rr.Service,
				Regexp:      rr.Regexp,
				Replacement: strings.TrimSuffix(rr.Replacement, "."),
			})
		}
	}
	slices.SortStableFunc(recs, func(a, b *NAPTR) int {
		if c := cmp.Compare(a.Order, b.Order); c != 0 {
			return c
		}
		return cmp.Compare(a.Preference, b.Preference)
	})
	return recs, nil
}

// ResolveTarget returns the "host:port" to send requests for domain over transport.
//
// An explicit port or an IP literal is returned as is (with the default port added).
// Otherwise NAPTR records matching the transport are followed, then
// "_sip._<transport>.<domain>" SRV records are tried, and finally
// the domain with the default port is returned.
func (r *Resolver) ResolveTarget(ctx context.Context, domain, transport string) (string, error) {
	if domain == "" {
		return "", errtrace.Wrap(&net.DNSError{Err: "empty domain", IsNotFound: true})
	}
	if _, _, err := net.SplitHostPort(domain); err == nil {
		return domain, nil
	}
	if net.ParseIP(strings.Trim(domain, "[]")) != nil {
		return net.JoinHostPort(strings.Trim(domain, "[]"), strconv.Itoa(DefaultPort)), nil
	}

	transport = strings.ToLower(transport)
	if naptrs, err := r.LookupNAPTR(ctx, domain); err == nil {
		svc := naptrService(transport)
		for _, n := range naptrs {
			if !strings.EqualFold(n.Service, svc) || !strings.EqualFold(n.Flags, "s") {
				continue
			}
			if srvs, err := r.LookupSRV(ctx, "", "", n.Replacement); err == nil && len(srvs) > 0 {
				return net.JoinHostPort(srvs[0].Target, strconv.Itoa(int(srvs[0].Port))), nil
			}
		}
	} else if ctx.Err() != nil {
		return "", errtrace.Wrap(ctx.Err())
	}

	if srvs, err := r.LookupSRV(ctx, "sip", transport, domain); err == nil && len(srvs) > 0 {
		return net.JoinHostPort(srvs[0].Target, strconv.Itoa(int(srvs[0].Port))), nil
	} else if ctx.Err() != nil {
		return "", errtrace.Wrap(ctx.Err())
	}
	return net.JoinHostPort(domain, strconv.Itoa(DefaultPort)), nil
}

func naptrService(transport string) string {
	if transport == "tcp" {
		return "SIP+D2T"
	}
	return "SIP+D2U"
}

func (r *Resolver) exchange(ctx context.Context, name string, qtype uint16) (*dns.Msg, error) {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(name), qtype)
	m.RecursionDesired = true

	nameserver, err := r.nameserver()
	if err != nil {
		return nil, errtrace.Wrap(err)
	}

	client := &dns.Client{Timeout: r.timeout()}
	resp, _, err := client.ExchangeContext(ctx, m, nameserver)
	if err != nil {
		return nil, errtrace.Wrap(err)
	}
	if resp.Rcode != dns.RcodeSuccess {
		return nil, errtrace.Wrap(&net.DNSError{
			Err:        dns.RcodeToString[resp.Rcode],
			Name:       name,
			IsNotFound: resp.Rcode == dns.RcodeNameError,
		})
	}
	return resp, nil
}

func (r *Resolver) timeout() time.Duration {
	if r != nil && r.Timeout > 0 {
		return r.Timeout
	}
	return 5 * time.Second
}

func (r *Resolver) nameserver() (string, error) {
	if r != nil && r.NameServer != "" {
		if _, _, err := net.SplitHostPort(r.NameServer); err != nil {
			return net.JoinHostPort(r.NameServer, "53"), nil //nolint:nilerr
		}
		return r.NameServer, nil
	}

	conf, err := dns.ClientConfigFromFile("/etc/resolv.conf")
	if err != nil {
		return "", errtrace.Wrap(err)
	}
	if len(conf.Servers) == 0 {
		return "", errtrace.Wrap(&net.DNSError{
			Err:  "no DNS servers configured",
			Name: "resolv.conf",
		})
	}
	return net.JoinHostPort(conf.Servers[0], conf.Port), nil
}

var defResolver = &Resolver{}

// DefaultResolver returns the resolver using the system name server.
func DefaultResolver() *Resolver { return defResolver }
