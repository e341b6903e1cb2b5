// Package watcher observes tool root directories and reports when the
// installed set may have changed outside the manager, so stale config
// is rescanned before the next switch.
package watcher

import (
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"toolvm/internal/system"
)

// Watcher maps filesystem events under tool roots to stale marks.
type Watcher struct {
	fs      *fsnotify.Watcher
	onStale func(tool string)

	mu    sync.Mutex
	roots map[string]string // root path -> tool name
	done  chan struct{}
}

// New starts a watcher that calls onStale with a tool name whenever
// entries under its root are created, removed or renamed.
func New(onStale func(tool string)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		fs:      fsw,
		onStale: onStale,
		roots:   map[string]string{},
		done:    make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

// Watch registers a tool's root directory. A missing directory is not
// an error; it is simply not watched until recreated and re-added.
func (w *Watcher) Watch(tool, root string) error {
	if root == "" {
		return nil
	}
	root = filepath.Clean(root)
	w.mu.Lock()
	w.roots[root] = tool
	w.mu.Unlock()
	if err := w.fs.Add(root); err != nil {
		system.Logger.Debug("watch add failed", "tool", tool, "root", root, "err", err)
	}
	return nil
}

// Unwatch drops a tool's root.
func (w *Watcher) Unwatch(tool string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for root, name := range w.roots {
		if name == tool {
			delete(w.roots, root)
			_ = w.fs.Remove(root)
		}
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	close(w.done)
	return w.fs.Close()
}

func (w *Watcher) loop() {
	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Remove|fsnotify.Rename|fsnotify.Create) == 0 {
				continue
			}
			if tool := w.toolFor(ev.Name); tool != "" {
				system.Logger.Debug("tool root changed", "tool", tool, "event", ev.Op.String(), "path", ev.Name)
				w.onStale(tool)
			}
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			system.Logger.Debug("watcher error", "err", err)
		}
	}
}

func (w *Watcher) toolFor(path string) string {
	dir := filepath.Dir(filepath.Clean(path))
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.roots[dir]
}
