// Package watch drives continuous reindexing: it watches a repository root
// for filesystem changes and triggers Orchestrator.Index once activity
// settles. Since Index already recomputes the full add/modify/delete set
// itself from a fresh traversal, this watcher only needs to know "the tree
// moved" — events are coalesced into a single debounced trigger rather than
// routed as a per-path operation log.
package watch

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/osgrep/osgrep-core/internal/ignore"
)

// DefaultDebounce is the default event-coalescing window.
const DefaultDebounce = 500 * time.Millisecond

// Watcher watches root and calls reindex after the debounce window elapses
// with no further events. Hidden paths and anything .osgrepignore excludes
// are never watched, mirroring the traversal's own ignore precedence.
type Watcher struct {
	root     string
	debounce time.Duration
	ignore   *ignore.Matcher
	reindex  func(ctx context.Context, root string)

	fsw *fsnotify.Watcher

	mu      sync.Mutex
	timer   *time.Timer
	stopped bool
	stopCh  chan struct{}
}

// New creates a Watcher over root. reindex is called (from a background
// goroutine) after each settled burst of filesystem activity.
func New(root string, customPatterns []string, debounce time.Duration, reindex func(ctx context.Context, root string)) (*Watcher, error) {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	m := ignore.New()
	for _, p := range customPatterns {
		m.AddPattern(p)
	}
	ignoreFile := filepath.Join(absRoot, ".osgrepignore")
	if _, statErr := os.Stat(ignoreFile); statErr == nil {
		_ = m.AddFromFile(ignoreFile, "")
	}

	w := &Watcher{
		root:     absRoot,
		debounce: debounce,
		ignore:   m,
		reindex:  reindex,
		fsw:      fsw,
		stopCh:   make(chan struct{}),
	}
	return w, nil
}

// Start begins watching and blocks until ctx is cancelled or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.addRecursive(w.root); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return w.Stop()
		case <-w.stopCh:
			return nil
		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			w.handleEvent(ctx, event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			slog.Warn("watcher error", slog.Any("err", err))
		}
	}
}

// Stop tears down the underlying fsnotify watcher. Safe to call once.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return nil
	}
	w.stopped = true
	close(w.stopCh)
	w.mu.Unlock()
	return w.fsw.Close()
}

func (w *Watcher) addRecursive(dir string) error {
	return filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil // permission/broken entry: skip, matches traversal's own policy
		}
		if !d.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(w.root, path)
		if relErr == nil && rel != "." && (strings.HasPrefix(d.Name(), ".") || w.ignore.Match(filepath.ToSlash(rel), true)) {
			return filepath.SkipDir
		}
		if addErr := w.fsw.Add(path); addErr != nil {
			slog.Warn("failed to watch directory", slog.String("path", path), slog.Any("err", addErr))
		}
		return nil
	})
}

func (w *Watcher) handleEvent(ctx context.Context, event fsnotify.Event) {
	rel, err := filepath.Rel(w.root, event.Name)
	if err != nil {
		rel = event.Name
	}
	info, statErr := os.Stat(event.Name)
	isDir := statErr == nil && info.IsDir()

	if rel != "." && (strings.HasPrefix(filepath.Base(event.Name), ".") || w.ignore.Match(filepath.ToSlash(rel), isDir)) {
		return
	}

	if event.Op&fsnotify.Create != 0 && isDir {
		if err := w.fsw.Add(event.Name); err != nil {
			slog.Warn("failed to watch new directory", slog.String("path", event.Name), slog.Any("err", err))
		}
	}

	w.scheduleReindex(ctx)
}

// scheduleReindex (de)bounces bursts of events into a single reindex call,
// using a single reset timer since Index recomputes the full change set
// itself.
func (w *Watcher) scheduleReindex(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped {
		return
	}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() {
		w.reindex(ctx, w.root)
	})
}
