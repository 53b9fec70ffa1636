package watch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/fatih/color"
	"github.com/fsnotify/fsnotify"

	"github.com/driftline/vestige/pkg/config"
	"github.com/driftline/vestige/pkg/parser"
)

// Watcher monitors a source tree and reports Python file changes to a
// callback after a debounce window. Content fingerprints filter events
// whose bytes did not actually change; editors and formatters rewrite
// files in place constantly.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	config    *config.Config
	root      string
	debounce  time.Duration
	callback  func(path string, removed bool)

	mu           sync.Mutex
	pending      map[string]pendingChange
	fingerprints map[string]uint64
}

type pendingChange struct {
	at      time.Time
	removed bool
}

type flush struct {
	path    string
	removed bool
}

// NewWatcher creates a file watcher rooted at the given directory.
// A debounce of zero or less falls back to 500ms.
func NewWatcher(root string, cfg *config.Config, debounce time.Duration) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		fsWatcher:    fsw,
		config:       cfg,
		root:         root,
		debounce:     debounce,
		pending:      make(map[string]pendingChange),
		fingerprints: make(map[string]uint64),
	}
	if w.debounce <= 0 {
		w.debounce = 500 * time.Millisecond
	}
	return w, nil
}

// SetCallback sets the function to call when a file changes or disappears.
func (w *Watcher) SetCallback(cb func(path string, removed bool)) {
	w.callback = cb
}

// Start begins watching for file changes. It blocks until the context is
// cancelled or the underlying watcher is closed.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.watchTree(w.root); err != nil {
		return err
	}

	color.Cyan("Watching %s for changes...", w.root)
	color.Cyan("Press Ctrl+C to stop")
	fmt.Println()

	go w.flushLoop(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return nil
			}
			color.Red("Watch error: %v", err)

		case ev, ok := <-w.fsWatcher.Events:
			if !ok {
				return nil
			}
			w.handleEvent(ev)
		}
	}
}

// watchTree adds every non-excluded directory under root to the watcher and
// fingerprints the Python files already there, so the first real edit is
// distinguishable from a no-op rewrite.
func (w *Watcher) watchTree(root string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // unreadable entries are not fatal
		}

		if info.IsDir() {
			if w.config.ShouldExclude(path) {
				return filepath.SkipDir
			}
			return w.fsWatcher.Add(path)
		}

		if parser.DetectLanguage(path) == parser.LangPython && !w.config.ShouldExclude(path) {
			if sum, err := fingerprintFile(path); err == nil {
				w.mu.Lock()
				w.fingerprints[path] = sum
				w.mu.Unlock()
			}
		}
		return nil
	})
}

// handleEvent records a filesystem event for debounced processing.
func (w *Watcher) handleEvent(event fsnotify.Event) {
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}
	path := event.Name

	// A created directory needs its own watch; packages appear mid-session.
	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			w.watchTree(path)
			return
		}
	}

	if w.config.ShouldExclude(path) || parser.DetectLanguage(path) != parser.LangPython {
		return
	}

	// Remove and Rename leave nothing at the old path. A later Create for
	// the same path overwrites the entry, so the last event wins.
	removed := event.Op&(fsnotify.Remove|fsnotify.Rename) != 0 &&
		event.Op&(fsnotify.Write|fsnotify.Create) == 0

	w.mu.Lock()
	w.pending[path] = pendingChange{at: time.Now(), removed: removed}
	w.mu.Unlock()
}

// flushLoop drives processPending until the context is cancelled.
func (w *Watcher) flushLoop(ctx context.Context) {
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()

	for {
		select {
		case <-tick.C:
			w.processPending()
		case <-ctx.Done():
			return
		}
	}
}

// processPending flushes files that have been stable for the debounce
// period. Changes whose content fingerprint is unchanged are dropped.
func (w *Watcher) processPending() {
	w.mu.Lock()

	now := time.Now()
	var batch []flush

	for path, c := range w.pending {
		if now.Sub(c.at) < w.debounce {
			continue
		}
		delete(w.pending, path)

		removed := c.removed
		if removed {
			if _, err := os.Stat(path); err == nil {
				removed = false // recreated before the flush
			}
		}
		if removed {
			delete(w.fingerprints, path)
			batch = append(batch, flush{path: path, removed: true})
			continue
		}

		sum, err := fingerprintFile(path)
		if err != nil {
			// Vanished between the event and the flush.
			if _, known := w.fingerprints[path]; known {
				delete(w.fingerprints, path)
				batch = append(batch, flush{path: path, removed: true})
			}
			continue
		}
		if prev, ok := w.fingerprints[path]; ok && prev == sum {
			continue
		}
		w.fingerprints[path] = sum
		batch = append(batch, flush{path: path})
	}

	w.mu.Unlock()

	if len(batch) == 0 || w.callback == nil {
		return
	}

	sort.Slice(batch, func(i, j int) bool { return batch[i].path < batch[j].path })
	go w.runBatch(batch)
}

// runBatch executes the callback for each flushed change in path order.
func (w *Watcher) runBatch(batch []flush) {
	for _, f := range batch {
		relPath, err := filepath.Rel(w.root, f.path)
		if err != nil {
			relPath = f.path
		}

		if f.removed {
			color.Yellow("\nFile removed: %s", relPath)
		} else {
			color.Yellow("\nFile changed: %s", relPath)
		}
		fmt.Println(strings.Repeat("-", 40))

		w.callback(f.path, f.removed)

		fmt.Println()
	}
}

// Stop closes the underlying fsnotify watcher.
func (w *Watcher) Stop() error {
	return w.fsWatcher.Close()
}

// WatchedFiles returns the directories currently being watched.
func (w *Watcher) WatchedFiles() []string {
	return w.fsWatcher.WatchList()
}

func fingerprintFile(path string) (uint64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return xxhash.Sum64(data), nil
}
