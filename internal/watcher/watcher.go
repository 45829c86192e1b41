// Package watcher reports changes to corpus files with fsnotify. Events are
// debounced per path and filtered by the ingest pattern.
package watcher

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
	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/loader"
)

// DefaultDebounce is used when no debounce interval is configured.
const DefaultDebounce = 400 * time.Millisecond

// Op is the kind of change reported for a corpus file.
type Op string

const (
	OpWrite  Op = "write"
	OpRemove Op = "remove"
)

// Change is one debounced corpus file change.
type Change struct {
	Path string
	Op   Op
}

// Watcher watches a corpus directory and calls onChange for matching files.
type Watcher struct {
	root      string
	pattern   string
	recursive bool
	debounce  time.Duration
	onChange  func(Change)
	logger    *zap.Logger // optional

	watcher  *fsnotify.Watcher
	mu       sync.Mutex
	pending  map[string]*time.Timer
	done     chan struct{}
	started  bool
	stopOnce sync.Once
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithLogger sets a logger for debug output.
func WithLogger(l *zap.Logger) Option {
	return func(w *Watcher) { w.logger = l }
}

// WithDebounce sets how long a path must be quiet before it is reported.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithRecursive controls whether subdirectories are watched. Default true.
func WithRecursive(r bool) Option {
	return func(w *Watcher) { w.recursive = r }
}

// New creates a watcher for files under root matching pattern, using the
// same matching rules as the loader.
func New(root, pattern string, onChange func(Change), opts ...Option) (*Watcher, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve corpus directory: %w", err)
	}
	if _, err := filepath.Match(pattern, ""); err != nil {
		return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
	}
	w := &Watcher{
		root:      abs,
		pattern:   pattern,
		recursive: true,
		debounce:  DefaultDebounce,
		onChange:  onChange,
		pending:   make(map[string]*time.Timer),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Root returns the absolute corpus directory.
func (w *Watcher) Root() string { return w.root }

// Start begins watching. It runs until ctx is cancelled or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return nil
	}
	info, err := os.Stat(w.root)
	if err != nil {
		return fmt.Errorf("failed to stat corpus directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("not a directory: %s", w.root)
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	w.watcher = fw
	if err := w.addTree(w.root); err != nil {
		_ = fw.Close()
		w.watcher = nil
		return err
	}
	w.started = true
	if w.logger != nil {
		w.logger.Debug("watcher starting", zap.String("root", w.root), zap.String("pattern", w.pattern), zap.Bool("recursive", w.recursive))
	}
	go w.run(ctx, fw)
	return nil
}

// addTree watches dir and, when recursive, every directory below it.
func (w *Watcher) addTree(dir string) error {
	if !w.recursive {
		return w.watcher.Add(dir)
	}
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if err := w.watcher.Add(path); err != nil {
			return fmt.Errorf("failed to watch %s: %w", path, err)
		}
		return nil
	})
}

func (w *Watcher) run(ctx context.Context, fw *fsnotify.Watcher) {
	for {
		select {
		case <-ctx.Done():
			w.Stop()
			return
		case <-w.done:
			return
		case ev, ok := <-fw.Events:
			if !ok {
				return
			}
			w.handleEvent(ev)
		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			if err != nil && w.logger != nil {
				w.logger.Debug("watcher error", zap.Error(err))
			}
		}
	}
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	path := filepath.Clean(ev.Name)
	if !inDir(w.root, path) {
		return
	}
	if w.logger != nil {
		w.logger.Debug("watcher event", zap.String("op", ev.Op.String()), zap.String("path", path))
	}
	switch {
	case ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write):
		info, err := os.Stat(path)
		if err == nil && info.IsDir() {
			w.handleNewDirectory(path)
			return
		}
		if loader.Match(w.root, path, w.pattern) {
			w.schedule(Change{Path: path, Op: OpWrite})
		}
	case ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename):
		if loader.Match(w.root, path, w.pattern) {
			w.schedule(Change{Path: path, Op: OpRemove})
		}
	}
}

// handleNewDirectory watches a directory created or moved under the root and
// reports the matching files already inside it.
func (w *Watcher) handleNewDirectory(dir string) {
	if !w.recursive {
		return
	}
	w.mu.Lock()
	if w.watcher == nil {
		w.mu.Unlock()
		return
	}
	err := w.addTree(dir)
	w.mu.Unlock()
	if err != nil && w.logger != nil {
		w.logger.Debug("watcher failed to add directory", zap.String("path", dir), zap.Error(err))
	}
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if loader.Match(w.root, path, w.pattern) {
			w.schedule(Change{Path: path, Op: OpWrite})
		}
		return nil
	})
}

// schedule reports c after the debounce interval. A later event for the same
// path replaces it.
func (w *Watcher) schedule(c Change) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[c.Path]; ok {
		t.Stop()
	}
	w.pending[c.Path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.pending, c.Path)
		w.mu.Unlock()
		if w.onChange != nil {
			w.onChange(c)
		}
	})
}

// Stop stops watching and drops pending changes.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		w.mu.Lock()
		defer w.mu.Unlock()
		for path, t := range w.pending {
			t.Stop()
			delete(w.pending, path)
		}
		if w.watcher != nil {
			_ = w.watcher.Close()
			w.watcher = nil
		}
		if w.logger != nil {
			w.logger.Debug("watcher stopped", zap.String("root", w.root))
		}
	})
}

func inDir(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil || rel == "." {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
