// Package config implements the shared configuration store.
//
// The store is an INI file kept in a container directory shared by all
// cooperating processes (the foreground application and its extensions).
// Session code only reads it; writes go through [Store.Save], which takes an
// exclusive file lock and atomically replaces the file so readers in other
// processes never observe a partially written file.
package config

//go:generate go tool errtrace -w .

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"braces.dev/errtrace"
	"github.com/gofrs/flock"
	"github.com/google/renameio/v2"
	"gopkg.in/ini.v1"

	"github.com/ghettovoice/sipnotify/internal/errorutil"
)

// Error is a config error.
type Error = errorutil.Error

const (
	// ErrUnavailable is returned when the settings file cannot be read or parsed.
	ErrUnavailable Error = "configuration unavailable"
	// ErrInvalidConfig is returned when settings are present but not usable.
	ErrInvalidConfig Error = "invalid configuration"
)

// Sections and keys recognized by the module.
const (
	SectionApp  = "app"
	SectionSIP  = "sip"
	SectionWait = "wait"

	KeyDebugPreference = "debugenable_preference"
	KeyShowMessage     = "show_msg_in_notification"
)

// DefaultGroupID is the container group shared by all cooperating processes.
const DefaultGroupID = "group.org.sipnotify.msgNotification"

// DefaultFileName is the name of the settings file inside the container.
const DefaultFileName = "sipnotifyrc"

// RootEnv overrides the container root directory.
const RootEnv = "SIPNOTIFY_SHARED_ROOT"

const appDirName = "sipnotify"

// Container locates files shared by cooperating processes.
type Container struct {
	// Root is the directory holding group containers.
	Root string
	// GroupID identifies the group container.
	GroupID string
}

// DefaultContainer returns the container rooted at $SIPNOTIFY_SHARED_ROOT
// or at the user config directory.
func DefaultContainer() Container {
	root := os.Getenv(RootEnv)
	if root == "" {
		if dir, err := os.UserConfigDir(); err == nil {
			root = dir
		} else {
			root = os.TempDir()
		}
	}
	return Container{Root: root, GroupID: DefaultGroupID}
}

// Dir returns the group container directory.
func (c Container) Dir() string {
	gid := c.GroupID
	if gid == "" {
		gid = DefaultGroupID
	}
	return filepath.Join(c.Root, gid)
}

// PreferenceFile returns the path of a settings file in the container.
func (c Container) PreferenceFile(name string) string {
	return filepath.Join(c.Dir(), "Library", "Preferences", appDirName, name)
}

// DataFile returns the path of a data file in the container.
func (c Container) DataFile(name string) string {
	return filepath.Join(c.Dir(), "Library", "Application Support", appDirName, name)
}

// Store is the shared configuration store.
// It is safe for concurrent use.
type Store struct {
	path string

	mu   sync.RWMutex
	file *ini.File
}

// Open loads the settings file at path.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errtrace.Wrap(errorutil.NewInvalidArgumentError("empty config path"))
	}

	f, err := ini.LoadSources(ini.LoadOptions{
		IgnoreInlineComment:     true,
		SkipUnrecognizableLines: true,
	}, path)
	if err != nil {
		return nil, errtrace.Wrap(errorutil.NewWrapperError(ErrUnavailable, err))
	}
	return &Store{path: path, file: f}, nil
}

// New returns an empty in-memory store that will be saved to path.
func New(path string) *Store {
	return &Store{path: path, file: ini.Empty()}
}

// Path returns the settings file path.
func (s *Store) Path() string { return s.path }

func (s *Store) key(section, key string) (*ini.Key, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sec, err := s.file.GetSection(section)
	if err != nil {
		return nil, false
	}
	if !sec.HasKey(key) {
		return nil, false
	}
	return sec.Key(key), true
}

// Has reports whether the key is set.
func (s *Store) Has(section, key string) bool {
	_, ok := s.key(section, key)
	return ok
}

// String returns the string value of the key or def.
func (s *Store) String(section, key, def string) string {
	k, ok := s.key(section, key)
	if !ok {
		return def
	}
	return k.String()
}

// Int returns the int value of the key or def when missing or malformed.
func (s *Store) Int(section, key string, def int) int {
	k, ok := s.key(section, key)
	if !ok {
		return def
	}
	return k.MustInt(def)
}

// Bool returns the bool value of the key or def when missing or malformed.
// Besides "true"/"false" the values "1"/"0", "yes"/"no" and "on"/"off" are accepted.
func (s *Store) Bool(section, key string, def bool) bool {
	k, ok := s.key(section, key)
	if !ok {
		return def
	}
	return k.MustBool(def)
}

// Duration returns the duration value of the key or def when missing or malformed.
// Values use [time.ParseDuration] syntax.
func (s *Store) Duration(section, key string, def time.Duration) time.Duration {
	k, ok := s.key(section, key)
	if !ok {
		return def
	}
	return k.MustDuration(def)
}

// Set sets the key value in memory. Use [Store.Save] to persist it.
func (s *Store) Set(section, key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.file.Section(section).Key(key).SetValue(value)
}

// Save persists the store.
// It holds an exclusive lock on "<path>.lock" while replacing the file.
func (s *Store) Save(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return errtrace.Wrap(err)
	}

	fl := flock.New(s.path + ".lock")
	if ok, err := fl.TryLockContext(ctx, 10*time.Millisecond); err != nil {
		return errtrace.Wrap(err)
	} else if !ok {
		return errtrace.Wrap(ctx.Err())
	}
	defer fl.Unlock() //nolint:errcheck

	pf, err := renameio.NewPendingFile(s.path, renameio.WithPermissions(0o600))
	if err != nil {
		return errtrace.Wrap(err)
	}
	defer pf.Cleanup() //nolint:errcheck

	s.mu.RLock()
	_, err = s.file.WriteTo(pf)
	s.mu.RUnlock()
	if err != nil {
		return errtrace.Wrap(err)
	}
	return errtrace.Wrap(pf.CloseAtomicallyReplace())
}

// ShowMessageInNotification reports whether message content may be exposed
// in notifications.
func (s *Store) ShowMessageInNotification() bool {
	return s.Bool(SectionApp, KeyShowMessage, true)
}

// DebugPreference returns the stored log level preference.
func (s *Store) DebugPreference(def int) int {
	return s.Int(SectionApp, KeyDebugPreference, def)
}

// WaitPolicy returns the attempts and interval configured for the named wait policy
// under keys "<name>_attempts" and "<name>_interval" of the wait section.
func (s *Store) WaitPolicy(name string, defAttempts int, defInterval time.Duration) (int, time.Duration) {
	attempts := s.Int(SectionWait, name+"_attempts", defAttempts)
	if attempts <= 0 {
		attempts = defAttempts
	}
	interval := s.Duration(SectionWait, name+"_interval", defInterval)
	if interval <= 0 {
		interval = defInterval
	}
	return attempts, interval
}
