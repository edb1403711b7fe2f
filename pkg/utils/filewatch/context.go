package filewatch

import (
	"context"
	"fmt"

	"github.com/fsnotify/fsnotify"
)

// UntilModifyContext returns a context that is canceled
// when one of the watched files is written, created, removed or renamed.
//
// The cause of the cancel (context.Cause) tells which file is modified.
//
// # Returns
//
// - context.Context: the watching context.
//
// - func(): stops watching and cancels the context.
//
// - error: when watching could not start. Then the others are nil.
func UntilModifyContext(ctx context.Context, paths ...string) (context.Context, func(), error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, nil, err
	}
	for _, p := range paths {
		if err := w.Add(p); err != nil {
			w.Close()
			return nil, nil, err
		}
	}

	cctx, cancel := context.WithCancelCause(ctx)
	go func() {
		defer w.Close()
		for {
			select {
			case <-cctx.Done():
				return
			case event, ok := <-w.Events:
				if !ok {
					return
				}
				if event.Op == fsnotify.Chmod {
					continue
				}
				cancel(fmt.Errorf("%s is modified (%s)", event.Name, event.Op))
				return
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				cancel(fmt.Errorf("watching files: %w", err))
				return
			}
		}
	}()

	return cctx, func() { cancel(nil) }, nil
}
