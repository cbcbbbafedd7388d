package sharedstate

import (
	"context"
	"path/filepath"
	"sync"

	"braces.dev/errtrace"
	"github.com/fsnotify/fsnotify"
)

// Watch calls fn with the reloaded record on every change of the file
// until ctx is done or the returned stop func is called.
// fn is called from the watcher goroutine.
func (f *File) Watch(ctx context.Context, fn func(Record), onErr func(error)) (stop func(), err error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errtrace.Wrap(err)
	}
	// renameio replaces the file, so the directory is watched
	if err := w.Add(filepath.Dir(f.path)); err != nil {
		w.Close()
		return nil, errtrace.Wrap(err)
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer w.Close()

		name := filepath.Clean(f.path)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != name || !ev.Has(fsnotify.Create|fsnotify.Write) {
					continue
				}
				rec, err := f.Load()
				if err != nil {
					if onErr != nil {
						onErr(err)
					}
					continue
				}
				fn(rec)
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				if onErr != nil {
					onErr(err)
				}
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			<-done
		})
	}, nil
}
