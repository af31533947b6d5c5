// Package watcher ingests text files dropped into a directory and removes
// their chunks again when the files go away.
package watcher

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"ragcore/internal/logging"
)

// Target receives the watcher's ingestions and deletions. The retrieval actor
// handle satisfies it.
type Target interface {
	Ingest(ctx context.Context, content, metadata string) (string, error)
	Delete(ctx context.Context, metadata string) (int64, error)
}

// Stats tracks watcher activity.
type Stats struct {
	FilesIngested int
	FilesRemoved  int
	Errors        int
	LastEventTime time.Time
	LastEventPath string
	LastEventType string
}

// Watcher watches one directory (not recursively) for files with the
// configured extensions. Each file is indexed under the metadata tag
// "file:<name>"; a changed file is re-indexed after a quiet period. HTML
// files are indexed by their visible text.
type Watcher struct {
	mu          sync.RWMutex
	watcher     *fsnotify.Watcher
	target      Target
	dir         string
	extensions  []string
	debounceMap map[string]time.Time
	debounceDur time.Duration
	stopCh      chan struct{}
	doneCh      chan struct{}
	running     bool

	stats Stats
}

// MetadataFor returns the tag chunks of the file at path are stored under.
func MetadataFor(path string) string {
	return "file:" + filepath.Base(path)
}

// New creates a watcher for dir. Empty extensions default to .txt and .md.
func New(dir string, extensions []string, debounce time.Duration, target Target) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if len(extensions) == 0 {
		extensions = []string{".txt", ".md"}
	}
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	return &Watcher{
		watcher:     w,
		target:      target,
		dir:         dir,
		extensions:  extensions,
		debounceMap: make(map[string]time.Time),
		debounceDur: debounce,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}, nil
}

// Start begins watching. It is non-blocking.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	if err := os.MkdirAll(w.dir, 0755); err != nil {
		logging.Get(logging.CategoryWatcher).Warn("Failed to create watch dir %s: %v", w.dir, err)
	}
	if err := w.watcher.Add(w.dir); err != nil {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
		return err
	}
	logging.Watcher("Watching %s for %v", w.dir, w.extensions)

	go w.run(ctx)
	return nil
}

// Stop stops the watcher and waits for the event loop to exit.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		w.watcher.Close()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh

	if err := w.watcher.Close(); err != nil {
		logging.Get(logging.CategoryWatcher).Error("Error closing watcher: %v", err)
	}
	logging.Watcher("Watcher stopped")
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	tick := w.debounceDur / 5
	if tick < 10*time.Millisecond {
		tick = 10 * time.Millisecond
	}
	debounceTicker := time.NewTicker(tick)
	defer debounceTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logging.Get(logging.CategoryWatcher).Error("Watcher error: %v", err)
			w.mu.Lock()
			w.stats.Errors++
			w.mu.Unlock()
		case <-debounceTicker.C:
			w.processDebouncedEvents(ctx)
		}
	}
}

func (w *Watcher) watched(path string) bool {
	return slices.Contains(w.extensions, strings.ToLower(filepath.Ext(path)))
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if !w.watched(event.Name) {
		return
	}

	var eventType string
	switch {
	case event.Op&fsnotify.Create != 0:
		eventType = "create"
	case event.Op&fsnotify.Write != 0:
		eventType = "modify"
	case event.Op&fsnotify.Remove != 0:
		eventType = "delete"
	case event.Op&fsnotify.Rename != 0:
		eventType = "rename"
	default:
		return
	}
	logging.WatcherDebug("%s event for %s", eventType, event.Name)

	w.mu.Lock()
	w.stats.LastEventTime = time.Now()
	w.stats.LastEventPath = event.Name
	w.stats.LastEventType = eventType
	w.debounceMap[event.Name] = time.Now()
	w.mu.Unlock()
}

func (w *Watcher) processDebouncedEvents(ctx context.Context) {
	w.mu.Lock()
	now := time.Now()
	var settled []string
	for path, at := range w.debounceMap {
		if now.Sub(at) >= w.debounceDur {
			settled = append(settled, path)
			delete(w.debounceMap, path)
		}
	}
	w.mu.Unlock()

	for _, path := range settled {
		w.sync(ctx, path)
	}
}

// sync brings the index in line with the file at path: its old chunks are
// removed and, if the file still exists, its current content is ingested.
func (w *Watcher) sync(ctx context.Context, path string) {
	metadata := MetadataFor(path)

	removed, err := w.target.Delete(ctx, metadata)
	if err != nil {
		w.fail("Failed to remove chunks for %s: %v", path, err)
		return
	}

	content, err := LoadDocument(path)
	if err != nil {
		if os.IsNotExist(err) {
			logging.Watcher("Removed %d chunks for deleted file %s", removed, filepath.Base(path))
			w.mu.Lock()
			w.stats.FilesRemoved++
			w.mu.Unlock()
			return
		}
		w.fail("Failed to read %s: %v", path, err)
		return
	}

	confirmation, err := w.target.Ingest(ctx, content, metadata)
	if err != nil {
		w.fail("Failed to ingest %s: %v", path, err)
		return
	}
	logging.Watcher("%s: %s", filepath.Base(path), confirmation)
	w.mu.Lock()
	w.stats.FilesIngested++
	w.mu.Unlock()
}

func (w *Watcher) fail(format string, args ...interface{}) {
	logging.Get(logging.CategoryWatcher).Error(format, args...)
	w.mu.Lock()
	w.stats.Errors++
	w.mu.Unlock()
}

// Scan indexes every matching file already in the directory.
func (w *Watcher) Scan(ctx context.Context) error {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() || !w.watched(entry.Name()) {
			continue
		}
		w.sync(ctx, filepath.Join(w.dir, entry.Name()))
	}
	return nil
}

// GetStats returns a snapshot of the watcher statistics.
func (w *Watcher) GetStats() Stats {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.stats
}

// IsWatching reports whether the event loop is running.
func (w *Watcher) IsWatching() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.running
}
