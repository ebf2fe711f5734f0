// Copyright 2025 The Lumen Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package ingest

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/lumensearch/lumen/pkg/config"
	"github.com/lumensearch/lumen/pkg/faults"
	"github.com/lumensearch/lumen/pkg/logger"
)

// pendingRename remembers a removed indexed file briefly so a create
// with the same base name can be recognized as a move and keep its
// document identity.
type pendingRename struct {
	docID string
	base  string
	at    time.Time
}

// Watcher feeds filesystem events through a per-path debouncer into
// the pipeline. Create/write re-index, removes delete, and a
// remove+create pair within the window is treated as a move.
type Watcher struct {
	pipeline *Pipeline
	cfg      *config.WatcherConfig
	debounce time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	fsw     *fsnotify.Watcher
	paths   map[string]bool
	timers  map[string]*time.Timer
	renames []pendingRename
	enabled bool
	cancel  context.CancelFunc
}

// WatcherStatus is the reportable state.
type WatcherStatus struct {
	Enabled bool     `json:"enabled"`
	Paths   []string `json:"paths"`
	Pending int      `json:"pending"`
}

func NewWatcher(pipeline *Pipeline, cfg *config.WatcherConfig) *Watcher {
	return &Watcher{
		pipeline: pipeline,
		cfg:      cfg,
		debounce: time.Duration(cfg.DebounceMs) * time.Millisecond,
		logger:   logger.GetLogger(),
		paths:    make(map[string]bool),
		timers:   make(map[string]*time.Timer),
	}
}

// Enable starts watching all registered paths.
func (w *Watcher) Enable(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.enabled {
		return nil
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return faults.New(faults.KindInternal, "watcher", "Enable", "fsnotify init failed", err)
	}
	for path := range w.paths {
		if err := fsw.Add(path); err != nil {
			w.logger.Warn("watch path unavailable", "path", path, "error", err)
		}
	}
	w.fsw = fsw
	w.enabled = true

	loopCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	go w.loop(loopCtx, fsw)
	return nil
}

// Disable stops event delivery and flushes nothing: pending debounce
// timers are dropped.
func (w *Watcher) Disable() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.enabled {
		return
	}
	w.enabled = false
	w.cancel()
	w.fsw.Close()
	w.fsw = nil
	for path, t := range w.timers {
		t.Stop()
		delete(w.timers, path)
	}
}

func (w *Watcher) AddPath(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return faults.New(faults.KindInputInvalid, "watcher", "AddPath", "bad path", err)
	}
	if _, err := os.Stat(abs); err != nil {
		return faults.New(faults.KindNotFound, "watcher", "AddPath", "path not accessible", err)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.paths[abs] = true
	if w.enabled {
		if err := w.fsw.Add(abs); err != nil {
			return faults.New(faults.KindInternal, "watcher", "AddPath", "watch failed", err)
		}
	}
	return nil
}

func (w *Watcher) RemovePath(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return faults.New(faults.KindInputInvalid, "watcher", "RemovePath", "bad path", err)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.paths, abs)
	if w.enabled {
		w.fsw.Remove(abs)
	}
	return nil
}

func (w *Watcher) Status() WatcherStatus {
	w.mu.Lock()
	defer w.mu.Unlock()
	paths := make([]string, 0, len(w.paths))
	for p := range w.paths {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return WatcherStatus{Enabled: w.enabled, Paths: paths, Pending: len(w.timers)}
}

func (w *Watcher) loop(ctx context.Context, fsw *fsnotify.Watcher) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(ctx, event)
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watcher error", "error", err)
		}
	}
}

func (w *Watcher) handleEvent(ctx context.Context, event fsnotify.Event) {
	switch {
	case event.Op.Has(fsnotify.Remove) || event.Op.Has(fsnotify.Rename):
		w.noteRemoval(ctx, event.Name)
	case event.Op.Has(fsnotify.Create) || event.Op.Has(fsnotify.Write):
		w.scheduleReindex(ctx, event.Name)
	}
}

// noteRemoval deletes after the debounce window unless a matching
// create shows up first, which turns the pair into a move.
func (w *Watcher) noteRemoval(ctx context.Context, path string) {
	docID := DocumentID(path)
	w.mu.Lock()
	w.renames = append(w.renames, pendingRename{
		docID: docID,
		base:  filepath.Base(path),
		at:    time.Now(),
	})
	w.resetTimerLocked(path, func() {
		w.finishRemoval(ctx, path, docID)
	})
	w.mu.Unlock()
}

func (w *Watcher) finishRemoval(ctx context.Context, path, docID string) {
	w.mu.Lock()
	stillPending := false
	for i, r := range w.renames {
		if r.docID == docID {
			stillPending = true
			w.renames = append(w.renames[:i], w.renames[i+1:]...)
			break
		}
	}
	w.pruneRenamesLocked()
	w.mu.Unlock()
	if !stillPending {
		// A create consumed the rename entry: the file moved.
		return
	}
	if err := w.pipeline.Delete(ctx, path); err != nil {
		w.logger.Warn("delete on removal failed", "path", path, "error", err)
	} else {
		w.logger.Info("document removed", "path", path)
	}
}

// scheduleReindex collapses all events for a path within the debounce
// window into one action.
func (w *Watcher) scheduleReindex(ctx context.Context, path string) {
	w.mu.Lock()
	moved := w.claimRenameLocked(filepath.Base(path))
	w.resetTimerLocked(path, func() {
		if moved != "" {
			w.finishMove(ctx, moved, path)
		} else {
			w.finishReindex(ctx, path)
		}
	})
	w.mu.Unlock()
}

func (w *Watcher) resetTimerLocked(path string, fn func()) {
	if t, ok := w.timers[path]; ok {
		t.Stop()
	}
	w.timers[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.timers, path)
		w.mu.Unlock()
		fn()
	})
}

// claimRenameLocked consumes a pending removal with the same base name.
func (w *Watcher) claimRenameLocked(base string) string {
	w.pruneRenamesLocked()
	for i, r := range w.renames {
		if r.base == base {
			w.renames = append(w.renames[:i], w.renames[i+1:]...)
			return r.docID
		}
	}
	return ""
}

func (w *Watcher) pruneRenamesLocked() {
	cutoff := time.Now().Add(-2 * w.debounce)
	kept := w.renames[:0]
	for _, r := range w.renames {
		if r.at.After(cutoff) {
			kept = append(kept, r)
		}
	}
	w.renames = kept
}

func (w *Watcher) finishReindex(ctx context.Context, path string) {
	res := w.pipeline.IndexFile(ctx, path)
	w.logger.Info("watcher reindex", "path", path, "status", string(res.Status), "reason", res.Reason)
}

// finishMove keeps the old document identity: the record's file_path
// and file_name are updated in place and the graph node is renamed.
func (w *Watcher) finishMove(ctx context.Context, docID, newPath string) {
	existing, err := w.pipeline.db.Get(ctx, w.pipeline.collection, docID)
	if err != nil {
		// Nothing stored under the old identity; index fresh.
		w.finishReindex(ctx, newPath)
		return
	}

	abs, err := filepath.Abs(newPath)
	if err != nil {
		abs = newPath
	}
	existing.Metadata["file_path"] = abs
	existing.Metadata["file_name"] = filepath.Base(newPath)
	existing.Metadata["updated_at"] = time.Now().UTC().Format(time.RFC3339Nano)

	if err := w.pipeline.db.Upsert(ctx, w.pipeline.collection, docID, existing.Vector, existing.Content, existing.Metadata); err != nil {
		w.logger.Warn("move update failed", "path", newPath, "error", err)
		return
	}
	if w.pipeline.graph != nil {
		w.pipeline.graph.RenameDocument(docID, filepath.Base(newPath))
	}
	w.logger.Info("document moved", "doc_id", docID, "path", newPath)
}
