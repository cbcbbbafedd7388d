package dns_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/miekg/dns"

	sipdns "github.com/ghettovoice/sipnotify/dns"
)

func startServer(t *testing.T, zone map[string][]dns.RR) string {
	t.Helper()

	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.ListenPacket() error = %v", err)
	}

	started := make(chan struct{})
	srv := &dns.Server{
		PacketConn:        pc,
		NotifyStartedFunc: func() { close(started) },
		Handler: dns.HandlerFunc(func(w dns.ResponseWriter, req *dns.Msg) {
			resp := new(dns.Msg)
			resp.SetReply(req)
			q := req.Question[0]
			rrs, ok := zone[q.Name]
			if !ok {
				resp.Rcode = dns.RcodeNameError
			}
			for _, rr := range rrs {
				if rr.Header().Rrtype == q.Qtype {
					resp.Answer = append(resp.Answer, rr)
				}
			}
			w.WriteMsg(resp) //nolint:errcheck
		}),
	}
	go srv.ActivateAndServe() //nolint:errcheck
	<-started
	t.Cleanup(func() { srv.Shutdown() }) //nolint:errcheck

	return pc.LocalAddr().String()
}

func mustRR(t *testing.T, s string) dns.RR {
	t.Helper()

	rr, err := dns.NewRR(s)
	if err != nil {
		t.Fatalf("dns.NewRR(%q) error = %v", s, err)
	}
	return rr
}

func TestResolver_LookupSRV(t *testing.T) {
	t.Parallel()

	addr := startServer(t, map[string][]dns.RR{
		"_sip._udp.example.com.": {
			mustRR(t, "_sip._udp.example.com. 60 IN SRV 20 10 5060 backup.example.com."),
			mustRR(t, "_sip._udp.example.com. 60 IN SRV 10 5 5062 light.example.com."),
			mustRR(t, "_sip._udp.example.com. 60 IN SRV 10 50 5061 heavy.example.com."),
		},
	})
	r := &sipdns.Resolver{NameServer: addr, Timeout: time.Second}

	got, err := r.LookupSRV(context.Background(), "sip", "udp", "example.com")
	if err != nil {
		t.Fatalf("r.LookupSRV() error = %v, want nil", err)
	}
	want := []*sipdns.SRV{
		{Target: "heavy.example.com", Port: 5061, Priority: 10, Weight: 50},
		{Target: "light.example.com", Port: 5062, Priority: 10, Weight: 5},
		{Target: "backup.example.com", Port: 5060, Priority: 20, Weight: 10},
	}
	if diff := cmp.Diff(got, want); diff != "" {
		t.Errorf("r.LookupSRV() mismatch (-got +want):\n%s", diff)
	}
}

func TestResolver_ResolveTarget(t *testing.T) {
	t.Parallel()

	addr := startServer(t, map[string][]dns.RR{
		"naptr.example.": {
			mustRR(t, `naptr.example. 60 IN NAPTR 10 10 "s" "SIP+D2T" "" _sip._tcp.naptr.example.`),
			mustRR(t, `naptr.example. 60 IN NAPTR 20 10 "s" "SIP+D2U" "" _sip._udp.naptr.example.`),
		},
		"_sip._udp.naptr.example.": {
			mustRR(t, "_sip._udp.naptr.example. 60 IN SRV 0 0 5070 udp.naptr.example."),
		},
		"_sip._udp.srv.example.": {
			mustRR(t, "_sip._udp.srv.example. 60 IN SRV 0 0 5080 sip.srv.example."),
		},
	})
	r := &sipdns.Resolver{NameServer: addr, Timeout: time.Second}

	cases := []struct {
		domain, transport, want string
	}{
		{"naptr.example", "udp", "udp.naptr.example:5070"},
		{"srv.example", "udp", "sip.srv.example:5080"},
		{"plain.example", "udp", "plain.example:5060"},
		{"plain.example:5090", "udp", "plain.example:5090"},
		{"127.0.0.1", "tcp", "127.0.0.1:5060"},
	}
	for _, c := range cases {
		got, err := r.ResolveTarget(context.Background(), c.domain, c.transport)
		if err != nil {
			t.Errorf("r.ResolveTarget(%q, %q) error = %v, want nil", c.domain, c.transport, err)
			continue
		}
		if got != c.want {
			t.Errorf("r.ResolveTarget(%q, %q) = %q, want %q", c.domain, c.transport, got, c.want)
		}
	}
}

func TestResolver_ResolveTarget_Empty(t *testing.T) {
	t.Parallel()

	if _, err := (&sipdns.Resolver{}).ResolveTarget(context.Background(), "", "udp"); err == nil {
		t.Error("r.ResolveTarget(\"\") error = nil, want error")
	}
}
