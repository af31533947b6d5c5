// Package usage accounts prompt and completion tokens per session, backend and
// operation, persisting the totals to a JSON file.
package usage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"ragcore/internal/logging"
)

const autoSaveDelay = 5 * time.Second

// Tracker manages token usage recording and persistence. A Tracker with an
// empty path only keeps counts in memory.
type Tracker struct {
	mu       sync.Mutex
	data     Data
	filePath string
	dirty    bool
	timer    *time.Timer
}

// NewTracker loads the usage file at path, creating its directory. A missing
// file starts empty; a corrupt one is logged and replaced on the next save.
func NewTracker(path string) (*Tracker, error) {
	t := &Tracker{
		filePath: path,
		data:     Data{Version: "1.0", Aggregate: newAggregate()},
	}
	if path == "" {
		return t, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create usage dir: %w", err)
	}
	if err := t.load(); err != nil {
		logging.Get(logging.CategoryOrchestrator).Warn("Ignoring unreadable usage file %s: %v", path, err)
	}
	return t, nil
}

func (t *Tracker) load() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	data, err := os.ReadFile(t.filePath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	var loaded Data
	if err := json.Unmarshal(data, &loaded); err != nil {
		return err
	}
	agg := newAggregate()
	agg.Total = loaded.Aggregate.Total
	for k, v := range loaded.Aggregate.ByBackend {
		agg.ByBackend[k] = v
	}
	for k, v := range loaded.Aggregate.ByOperation {
		agg.ByOperation[k] = v
	}
	for k, v := range loaded.Aggregate.BySession {
		agg.BySession[k] = v
	}
	loaded.Aggregate = agg
	t.data = loaded
	return nil
}

// Save writes the usage data to disk.
func (t *Tracker) Save() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.saveLocked()
}

func (t *Tracker) saveLocked() error {
	t.dirty = false
	if t.filePath == "" {
		return nil
	}
	data, err := json.MarshalIndent(t.data, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(t.filePath, data, 0644)
}

// Track records one completion. Saving is debounced.
func (t *Tracker) Track(sessionID, backend, operation string, prompt, completion int) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if sessionID == "" {
		sessionID = "none"
	}
	t.data.UpdatedAt = time.Now()
	t.data.Aggregate.Total.Add(prompt, completion)
	addTo(t.data.Aggregate.ByBackend, backend, prompt, completion)
	addTo(t.data.Aggregate.ByOperation, operation, prompt, completion)
	addTo(t.data.Aggregate.BySession, sessionID, prompt, completion)

	if t.filePath != "" && !t.dirty {
		t.dirty = true
		t.timer = time.AfterFunc(autoSaveDelay, func() {
			if err := t.Save(); err != nil {
				logging.Get(logging.CategoryOrchestrator).Warn("Failed to save usage: %v", err)
			}
		})
	}
}

// Stats returns a copy of the aggregated counts.
func (t *Tracker) Stats() Aggregate {
	t.mu.Lock()
	defer t.mu.Unlock()
	stats := t.data.Aggregate
	stats.ByBackend = copyCounts(stats.ByBackend)
	stats.ByOperation = copyCounts(stats.ByOperation)
	stats.BySession = copyCounts(stats.BySession)
	return stats
}

// Close cancels a pending auto-save and flushes unsaved counts.
func (t *Tracker) Close() error {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	if !t.dirty {
		return nil
	}
	return t.saveLocked()
}

func copyCounts(src map[string]TokenCounts) map[string]TokenCounts {
	dst := make(map[string]TokenCounts, len(src))
	for key, counts := range src {
		dst[key] = counts
	}
	return dst
}

func addTo(m map[string]TokenCounts, key string, prompt, completion int) {
	entry := m[key]
	entry.Add(prompt, completion)
	m[key] = entry
}
