package engine_test

import (
	"testing"

	"github.com/ghettovoice/sipnotify/engine"
)

func TestNormalizeAddress(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in, want string
	}{
		{"sip:alice@example.com", "sip:alice@example.com"},
		{`"Alice" <sip:alice@Example.COM:5060;transport=udp>;tag=123`, "sip:alice@example.com:5060"},
		{"<sips:bob@example.com>", "sips:bob@example.com"},
		{"Bob <sip:bob@example.com>;tag=1", "sip:bob@example.com"},
		{"  sip:bob@example.com;user=phone  ", "sip:bob@example.com"},
		{"tel:+123456", "tel:+123456"},
		{"garbage", "garbage"},
	}
	for _, c := range cases {
		if got := engine.NormalizeAddress(c.in); got != c.want {
			t.Errorf("engine.NormalizeAddress(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestAddressUser(t *testing.T) {
	t.Parallel()

	if got, want := engine.AddressUser(`"Bob" <sip:bob@example.com>`), "bob"; got != want {
		t.Errorf("engine.AddressUser() = %q, want %q", got, want)
	}
}

func TestMediaType(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in, want string
	}{
		{"text/plain", "text/plain"},
		{"Text/Plain; charset=UTF-8", "text/plain"},
		{"image/jpeg", "image/jpeg"},
		{"", ""},
		{"bogus;;", "bogus"},
	}
	for _, c := range cases {
		if got := engine.MediaType(c.in); got != c.want {
			t.Errorf("engine.MediaType(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestChatMessage_Text(t *testing.T) {
	t.Parallel()

	msg := &engine.ChatMessage{ContentType: "image/jpeg", Body: []byte{0xff, 0xd8}}
	if msg.IsText() || msg.Text() != "" {
		t.Errorf("image message IsText/Text = (%v, %q), want (false, \"\")", msg.IsText(), msg.Text())
	}

	msg = &engine.ChatMessage{ContentType: "text/plain;charset=utf-8", Body: []byte("hi")}
	if !msg.IsText() || msg.Text() != "hi" {
		t.Errorf("text message IsText/Text = (%v, %q), want (true, %q)", msg.IsText(), msg.Text(), "hi")
	}

	var nilMsg *engine.ChatMessage
	if nilMsg.IsText() {
		t.Error("nil message IsText() = true, want false")
	}
}
