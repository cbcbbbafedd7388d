// Package sharedstate keeps the lifecycle record shared by cooperating processes
// that use the same SIP identity.
//
// The record is a small JSON file in the shared container. Writers hold an
// exclusive lock on "<path>.lock" and replace the file atomically, readers
// never lock.
package sharedstate

//go:generate go tool errtrace -w .

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"braces.dev/errtrace"
	"github.com/gofrs/flock"
	"github.com/google/renameio/v2"
)

// Actor is a process registered in the record.
type Actor struct {
	PID       int       `json:"pid"`
	State     string    `json:"state"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Record is the shared lifecycle record.
type Record struct {
	// MainActor is the actor owning the identity (usually the foreground app).
	MainActor string `json:"main_actor,omitempty"`
	// StopRequested asks every other actor to shut its session down.
	StopRequested bool             `json:"stop_requested,omitempty"`
	Actors        map[string]Actor `json:"actors,omitempty"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

// ShutdownRequested reports whether actor self must not keep a session open.
func (r Record) ShutdownRequested(self string) bool {
	if r.MainActor == "" || r.MainActor == self {
		return false
	}
	return r.StopRequested
}

// File is the shared lifecycle record file.
type File struct {
	path    string
	lockTry time.Duration
}

// Open returns the record file at path, creating its directory.
func Open(path string) (*File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, errtrace.Wrap(err)
	}
	return &File{path: path, lockTry: 5 * time.Millisecond}, nil
}

// Path returns the record file path.
func (f *File) Path() string { return f.path }

// Load reads the record. A missing file yields an empty record.
func (f *File) Load() (Record, error) {
	var rec Record
	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return rec, nil
		}
		return rec, errtrace.Wrap(err)
	}
	if len(data) == 0 {
		return rec, nil
	}
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, errtrace.Wrap(err)
	}
	return rec, nil
}

// Update applies fn to the current record and stores the result
// while holding the exclusive lock.
func (f *File) Update(ctx context.Context, fn func(*Record) error) (Record, error) {
	fl := flock.New(f.path + ".lock")
	ok, err := fl.TryLockContext(ctx, f.lockTry)
	if err != nil {
		return Record{}, errtrace.Wrap(err)
	}
	if !ok {
		return Record{}, errtrace.Wrap(ctx.Err())
	}
	defer fl.Unlock() //nolint:errcheck

	rec, err := f.Load()
	if err != nil {
		// corrupted record is replaced
		rec = Record{}
	}
	if err := fn(&rec); err != nil {
		return Record{}, errtrace.Wrap(err)
	}
	rec.UpdatedAt = time.Now().UTC()

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return Record{}, errtrace.Wrap(err)
	}
	if err := renameio.WriteFile(f.path, data, 0o600); err != nil {
		return Record{}, errtrace.Wrap(err)
	}
	return rec, nil
}

// SetActorState stores the lifecycle state of actor.
func (f *File) SetActorState(ctx context.Context, actor, state string) (Record, error) {
	return errtrace.Wrap2(f.Update(ctx, func(r *Record) error {
		if r.Actors == nil {
			r.Actors = make(map[string]Actor)
		}
		r.Actors[actor] = Actor{
			PID:       os.Getpid(),
			State:     state,
			UpdatedAt: time.Now().UTC(),
		}
		return nil
	}))
}

// RemoveActor drops actor from the record.
func (f *File) RemoveActor(ctx context.Context, actor string) (Record, error) {
	return errtrace.Wrap2(f.Update(ctx, func(r *Record) error {
		delete(r.Actors, actor)
		return nil
	}))
}

// AcquireMain makes actor the main actor and asks the other actors to stop.
func (f *File) AcquireMain(ctx context.Context, actor string) (Record, error) {
	return errtrace.Wrap2(f.Update(ctx, func(r *Record) error {
		r.MainActor = actor
		r.StopRequested = true
		return nil
	}))
}

// ReleaseMain clears the main actor if it is actor.
func (f *File) ReleaseMain(ctx context.Context, actor string) (Record, error) {
	return errtrace.Wrap2(f.Update(ctx, func(r *Record) error {
		if r.MainActor == actor {
			r.MainActor = ""
			r.StopRequested = false
		}
		return nil
	}))
}
