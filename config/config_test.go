package config_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/ghettovoice/sipnotify/config"
)

func writeFile(t *testing.T, data string) string {
	t.Helper()

	p := filepath.Join(t.TempDir(), config.DefaultFileName)
	if err := os.WriteFile(p, []byte(data), 0o600); err != nil {
		t.Fatalf("os.WriteFile(%q) error = %v", p, err)
	}
	return p
}

func TestContainer(t *testing.T) {
	t.Parallel()

	c := config.Container{Root: "/shared", GroupID: "group.test"}
	if got, want := c.PreferenceFile("sipnotifyrc"), filepath.FromSlash("/shared/group.test/Library/Preferences/sipnotify/sipnotifyrc"); got != want {
		t.Errorf("c.PreferenceFile() = %q, want %q", got, want)
	}
	if got, want := c.DataFile("chat.db"), filepath.FromSlash("/shared/group.test/Library/Application Support/sipnotify/chat.db"); got != want {
		t.Errorf("c.DataFile() = %q, want %q", got, want)
	}

	c.GroupID = ""
	if got, want := c.Dir(), filepath.Join("/shared", config.DefaultGroupID); got != want {
		t.Errorf("c.Dir() = %q, want %q", got, want)
	}
}

func TestOpen_Unavailable(t *testing.T) {
	t.Parallel()

	_, err := config.Open(filepath.Join(t.TempDir(), "missing"))
	if !errors.Is(err, config.ErrUnavailable) {
		t.Fatalf("config.Open(missing) error = %v, want %v", err, config.ErrUnavailable)
	}
}

func TestStore_Accessors(t *testing.T) {
	t.Parallel()

	p := writeFile(t, `
[app]
debugenable_preference = 8
show_msg_in_notification = 0

[wait]
inbound_attempts = 7
inbound_interval = 20ms
reply_attempts = -1
reply_interval = nonsense
drain_attempts = 0
drain_interval = 0s
`)
	st, err := config.Open(p)
	if err != nil {
		t.Fatalf("config.Open() error = %v, want nil", err)
	}

	if got, want := st.DebugPreference(1), 8; got != want {
		t.Errorf("st.DebugPreference() = %d, want %d", got, want)
	}
	if st.ShowMessageInNotification() {
		t.Error("st.ShowMessageInNotification() = true, want false")
	}
	if got, want := st.String("app", "missing", "def"), "def"; got != want {
		t.Errorf("st.String(missing) = %q, want %q", got, want)
	}
	if st.Has("sip", "identity") {
		t.Error("st.Has(sip, identity) = true, want false")
	}

	attempts, interval := st.WaitPolicy("inbound", 100, 100*time.Millisecond)
	if attempts != 7 || interval != 20*time.Millisecond {
		t.Errorf("st.WaitPolicy(inbound) = (%d, %v), want (7, 20ms)", attempts, interval)
	}
	attempts, interval = st.WaitPolicy("reply", 50, 10*time.Millisecond)
	if attempts != 50 || interval != 10*time.Millisecond {
		t.Errorf("st.WaitPolicy(reply) = (%d, %v), want (50, 10ms)", attempts, interval)
	}
	attempts, interval = st.WaitPolicy("drain", 100, 10*time.Millisecond)
	if attempts != 100 || interval != 10*time.Millisecond {
		t.Errorf("st.WaitPolicy(drain) = (%d, %v), want (100, 10ms)", attempts, interval)
	}
}

func TestStore_ShowMessageDefault(t *testing.T) {
	t.Parallel()

	st, err := config.Open(writeFile(t, "[app]\n"))
	if err != nil {
		t.Fatalf("config.Open() error = %v, want nil", err)
	}
	if !st.ShowMessageInNotification() {
		t.Error("st.ShowMessageInNotification() = false, want true")
	}
}

func TestStore_Save(t *testing.T) {
	t.Parallel()

	p := filepath.Join(t.TempDir(), "nested", config.DefaultFileName)
	st := config.New(p)
	st.Set("app", "show_msg_in_notification", "false")
	st.Set("sip", "identity", "sip:alice@example.com")
	if err := st.Save(context.Background()); err != nil {
		t.Fatalf("st.Save() error = %v, want nil", err)
	}

	reopened, err := config.Open(p)
	if err != nil {
		t.Fatalf("config.Open() error = %v, want nil", err)
	}
	if reopened.ShowMessageInNotification() {
		t.Error("reopened.ShowMessageInNotification() = true, want false")
	}
	if got, want := reopened.String("sip", "identity", ""), "sip:alice@example.com"; got != want {
		t.Errorf("reopened.String(sip, identity) = %q, want %q", got, want)
	}
}

func TestStore_Account(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		data    string
		want    config.Account
		wantErr error
	}{
		{
			name:    "missing identity",
			data:    "[sip]\n",
			wantErr: config.ErrInvalidConfig,
		},
		{
			name:    "bad transport",
			data:    "[sip]\nidentity = sip:alice@example.com\ntransport = sctp\n",
			wantErr: config.ErrInvalidConfig,
		},
		{
			name: "defaults",
			data: "[sip]\nidentity = sip:alice@example.com\npassword = secret\n",
			want: config.Account{
				Identity:  "sip:alice@example.com",
				Username:  "alice",
				Password:  "secret",
				Transport: config.DefaultTransport,
				Listen:    config.DefaultListen,
				Expires:   config.DefaultExpires,
				UserAgent: config.DefaultUserAgent,
			},
		},
		{
			name: "full",
			data: `[sip]
identity = sip:alice@example.com
username = alice1
proxy = proxy.example.com:5080
transport = TCP
listen = 127.0.0.1:5070
register = true
expires = 10m
user_agent = test
`,
			want: config.Account{
				Identity:  "sip:alice@example.com",
				Username:  "alice1",
				Proxy:     "proxy.example.com:5080",
				Transport: "tcp",
				Listen:    "127.0.0.1:5070",
				Register:  true,
				Expires:   10 * time.Minute,
				UserAgent: "test",
			},
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()

			st, err := config.Open(writeFile(t, c.data))
			if err != nil {
				t.Fatalf("config.Open() error = %v, want nil", err)
			}
			got, err := st.Account()
			if diff := cmp.Diff(err, c.wantErr, cmpopts.EquateErrors()); diff != "" {
				t.Fatalf("st.Account() error = %v, want %v\ndiff (-got +want):\n%v", err, c.wantErr, diff)
			}
			if diff := cmp.Diff(got, c.want); diff != "" {
				t.Errorf("st.Account() = %+v, want %+v\ndiff (-got +want):\n%v", got, c.want, diff)
			}
		})
	}
}

func TestAccount_Parts(t *testing.T) {
	t.Parallel()

	acc := config.Account{Identity: "sip:alice@example.com:5080"}
	if got, want := acc.User(), "alice"; got != want {
		t.Errorf("acc.User() = %q, want %q", got, want)
	}
	if got, want := acc.Domain(), "example.com"; got != want {
		t.Errorf("acc.Domain() = %q, want %q", got, want)
	}
}
