package deobfuscator

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is how long a file must stay quiet before it is processed again.
const DefaultDebounce = 200 * time.Millisecond

// Watcher re-runs a session on PHP files as they are written.
type Watcher struct {
	session  *Session
	watcher  *fsnotify.Watcher
	debounce time.Duration
	root     string

	mu      sync.Mutex
	pending map[string]*time.Timer
}

// NewWatcher creates a watcher for s. Close releases it.
func NewWatcher(s *Session, debounce time.Duration) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Watcher{session: s, watcher: w, debounce: debounce, pending: make(map[string]*time.Timer)}, nil
}

// Close stops watching.
func (w *Watcher) Close() error {
	w.mu.Lock()
	for _, t := range w.pending {
		t.Stop()
	}
	w.mu.Unlock()
	return w.watcher.Close()
}

// Watch blocks until ctx is done, calling onReport for every PHP file under path
// (a file or a directory tree) after it is created or written. Calls to onReport
// are serialized.
func (w *Watcher) Watch(ctx context.Context, path string, onReport func(path string, rep *Report)) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("failed to watch path: %w", err)
	}
	w.root = path
	if !info.IsDir() {
		w.root = filepath.Dir(path)
	}
	if err := w.addPath(path); err != nil {
		return fmt.Errorf("failed to watch path: %w", err)
	}
	w.session.logger.Info("File watcher started", "path", path, "debounce_ms", w.debounce.Milliseconds())

	var deliver sync.Mutex
	run := func(name string) {
		rep, err := w.session.RunFile(ctx, name)
		if err != nil {
			w.session.logger.Warn("Cannot process file", "path", name, "error", err)
			return
		}
		deliver.Lock()
		defer deliver.Unlock()
		onReport(name, rep)
	}

	for {
		select {
		case <-ctx.Done():
			w.session.logger.Info("File watcher stopped (context cancelled)")
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return fmt.Errorf("watcher events channel closed")
			}
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := w.addPath(event.Name); err != nil {
						w.session.logger.Warn("Cannot watch new directory", "path", event.Name, "error", err)
					}
					continue
				}
			}
			if !w.shouldProcessEvent(event) {
				continue
			}
			w.session.logger.Debug("File event detected", "path", event.Name, "op", event.Op.String())
			w.schedule(event.Name, run)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return fmt.Errorf("watcher errors channel closed")
			}
			w.session.logger.Warn("File watcher error", "error", err)
		}
	}
}

// schedule runs fn for name once no event for name arrived for the debounce interval.
func (w *Watcher) schedule(name string, fn func(string)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[name]; ok {
		t.Stop()
	}
	w.pending[name] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.pending, name)
		w.mu.Unlock()
		fn(name)
	})
}

func (w *Watcher) shouldProcessEvent(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
		return false
	}
	if !w.session.cfg.IsPHPFile(event.Name) {
		return false
	}
	return !w.skipped(event.Name)
}

// skipped matches the skip list against name relative to the watched root and
// against each of its parent directories.
func (w *Watcher) skipped(name string) bool {
	rel, err := filepath.Rel(w.root, name)
	if err != nil || strings.HasPrefix(rel, "..") {
		rel = name
	}
	for p := rel; p != "."; {
		if ShouldSkipPath(p, w.session.cfg.SkipPaths) {
			return true
		}
		parent := filepath.Dir(p)
		if parent == p {
			break
		}
		p = parent
	}
	return false
}

func (w *Watcher) addPath(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return w.watcher.Add(path)
	}
	return filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if p != path {
			if rel, relErr := filepath.Rel(path, p); relErr == nil && ShouldSkipPath(rel, w.session.cfg.SkipPaths) {
				return filepath.SkipDir
			}
		}
		if err := w.watcher.Add(p); err != nil {
			return fmt.Errorf("failed to watch directory %q: %w", p, err)
		}
		w.session.logger.Debug("Watching directory", "path", p)
		return nil
	})
}
