// Package watcher detects external edits to the lab file and its
// annotations sidecar.
package watcher

import (
	"context"
	"log"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher watches the lab file and sidecar for out-of-band changes.
// Directories are watched rather than the files themselves so editor
// rename-and-replace saves are still observed.
type Watcher struct {
	paths    []string
	onChange func(path string)
	debounce time.Duration
	logger   *log.Logger
}

// New creates a watcher over the given files.
func New(onChange func(path string), paths ...string) *Watcher {
	return &Watcher{
		paths:    paths,
		onChange: onChange,
		debounce: 500 * time.Millisecond,
		logger:   log.Default(),
	}
}

// WithDebounce sets the debounce duration.
func (w *Watcher) WithDebounce(d time.Duration) *Watcher {
	if d > 0 {
		w.debounce = d
	}
	return w
}

// WithLogger sets the logger.
func (w *Watcher) WithLogger(l *log.Logger) *Watcher {
	if l != nil {
		w.logger = l
	}
	return w
}

// Watch blocks until the context is cancelled, invoking onChange with a
// debounce after each burst of events on a watched file.
func (w *Watcher) Watch(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fsw.Close()

	files := make(map[string]bool, len(w.paths))
	dirs := make(map[string]bool)
	for _, path := range w.paths {
		abs, err := filepath.Abs(path)
		if err != nil {
			w.logger.Printf("Cannot resolve %s: %v", path, err)
			continue
		}
		files[abs] = true
		dir := filepath.Dir(abs)
		if !dirs[dir] {
			if err := fsw.Add(dir); err != nil {
				w.logger.Printf("Cannot watch %s: %v", dir, err)
				continue
			}
			dirs[dir] = true
		}
		w.logger.Printf("Watching %s for changes", abs)
	}

	timers := make(map[string]*time.Timer)
	defer func() {
		for _, t := range timers {
			t.Stop()
		}
	}()

	for {
		select {
		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			abs, err := filepath.Abs(event.Name)
			if err != nil || !files[abs] {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if t, ok := timers[abs]; ok {
				t.Stop()
			}
			path := abs
			timers[abs] = time.AfterFunc(w.debounce, func() {
				w.logger.Printf("File changed: %s", path)
				w.onChange(path)
			})

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Printf("Watcher error: %v", err)

		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
