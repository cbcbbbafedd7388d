package sharedstate_test

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/ghettovoice/sipnotify/internal/sharedstate"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func openFile(t *testing.T) *sharedstate.File {
	t.Helper()

	f, err := sharedstate.Open(filepath.Join(t.TempDir(), "state", "session.json"))
	if err != nil {
		t.Fatalf("sharedstate.Open() error = %v, want nil", err)
	}
	return f
}

func TestFile_LoadMissing(t *testing.T) {
	t.Parallel()

	rec, err := openFile(t).Load()
	if err != nil {
		t.Fatalf("f.Load() error = %v, want nil", err)
	}
	if rec.MainActor != "" || rec.StopRequested || len(rec.Actors) != 0 {
		t.Errorf("f.Load() = %+v, want empty record", rec)
	}
}

func TestFile_Actors(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := openFile(t)

	if _, err := f.SetActorState(ctx, "service", "On"); err != nil {
		t.Fatalf("f.SetActorState() error = %v, want nil", err)
	}
	if _, err := f.SetActorState(ctx, "content", "Startup"); err != nil {
		t.Fatalf("f.SetActorState() error = %v, want nil", err)
	}
	rec, err := f.Load()
	if err != nil {
		t.Fatalf("f.Load() error = %v, want nil", err)
	}
	if got, want := rec.Actors["service"].State, "On"; got != want {
		t.Errorf("rec.Actors[service].State = %q, want %q", got, want)
	}
	if rec.Actors["content"].PID == 0 {
		t.Error("rec.Actors[content].PID = 0, want current pid")
	}

	rec, err = f.RemoveActor(ctx, "service")
	if err != nil {
		t.Fatalf("f.RemoveActor() error = %v, want nil", err)
	}
	if _, ok := rec.Actors["service"]; ok {
		t.Error("rec.Actors[service] still present after remove")
	}
}

func TestFile_MainActor(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := openFile(t)

	rec, err := f.AcquireMain(ctx, "app")
	if err != nil {
		t.Fatalf("f.AcquireMain() error = %v, want nil", err)
	}
	if !rec.ShutdownRequested("service") {
		t.Error("rec.ShutdownRequested(service) = false, want true")
	}
	if rec.ShutdownRequested("app") {
		t.Error("rec.ShutdownRequested(app) = true, want false")
	}

	if _, err := f.ReleaseMain(ctx, "other"); err != nil {
		t.Fatalf("f.ReleaseMain(other) error = %v, want nil", err)
	}
	if rec, _ = f.Load(); rec.MainActor != "app" {
		t.Errorf("rec.MainActor = %q after foreign release, want %q", rec.MainActor, "app")
	}

	rec, err = f.ReleaseMain(ctx, "app")
	if err != nil {
		t.Fatalf("f.ReleaseMain(app) error = %v, want nil", err)
	}
	if rec.ShutdownRequested("service") {
		t.Error("rec.ShutdownRequested(service) = true after release, want false")
	}
}

func TestFile_ConcurrentUpdates(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := openFile(t)

	var wg sync.WaitGroup
	for _, name := range []string{"a", "b", "c", "d", "e", "f"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.SetActorState(ctx, name, "On"); err != nil {
				t.Errorf("f.SetActorState(%q) error = %v, want nil", name, err)
			}
		}()
	}
	wg.Wait()

	rec, err := f.Load()
	if err != nil {
		t.Fatalf("f.Load() error = %v, want nil", err)
	}
	if got, want := len(rec.Actors), 6; got != want {
		t.Errorf("len(rec.Actors) = %d, want %d", got, want)
	}
}

func TestFile_Watch(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := openFile(t)

	got := make(chan sharedstate.Record, 8)
	stop, err := f.Watch(ctx, func(r sharedstate.Record) { got <- r }, nil)
	if err != nil {
		t.Fatalf("f.Watch() error = %v, want nil", err)
	}
	defer stop()

	if _, err := f.AcquireMain(ctx, "app"); err != nil {
		t.Fatalf("f.AcquireMain() error = %v, want nil", err)
	}

	timeout := time.After(5 * time.Second)
	for {
		select {
		case rec := <-got:
			if rec.ShutdownRequested("service") {
				return
			}
		case <-timeout:
			t.Fatal("watcher did not observe the main actor change")
		}
	}
}
