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
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumensearch/lumen/pkg/config"
)

func testWatcher(t *testing.T, db *countingDB) (*Watcher, *Pipeline) {
	t.Helper()
	p, err := NewPipeline(db, &staticEmbedder{dim: 4}, nil, nil, testIngestConfig(t), "docs")
	require.NoError(t, err)
	w := NewWatcher(p, &config.WatcherConfig{DebounceMs: 200})
	return w, p
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(25 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestWatcherDebouncesBurstsIntoOneReindex(t *testing.T) {
	dir := t.TempDir()
	db := &countingDB{DatabaseProvider: testStore(t)}
	w, _ := testWatcher(t, db)

	require.NoError(t, w.AddPath(dir))
	require.NoError(t, w.Enable(context.Background()))
	defer w.Disable()

	// A burst of writes within the window collapses to one index action.
	path := filepath.Join(dir, "burst.txt")
	for i := 0; i < 3; i++ {
		require.NoError(t, os.WriteFile(path, []byte("revision content"), 0o644))
		time.Sleep(30 * time.Millisecond)
	}

	waitFor(t, 3*time.Second, func() bool { return db.upserts.Load() >= 1 })
	time.Sleep(400 * time.Millisecond)
	assert.EqualValues(t, 1, db.upserts.Load(), "burst collapsed into a single reindex")
}

func TestWatcherDeleteRemovesDocument(t *testing.T) {
	dir := t.TempDir()
	db := &countingDB{DatabaseProvider: testStore(t)}
	w, p := testWatcher(t, db)
	ctx := context.Background()

	path := writeFile(t, dir, "doomed.txt", "short lived document")
	res := p.IndexFile(ctx, path)
	require.Equal(t, StatusSuccess, res.Status)

	require.NoError(t, w.AddPath(dir))
	require.NoError(t, w.Enable(ctx))
	defer w.Disable()

	require.NoError(t, os.Remove(path))

	waitFor(t, 3*time.Second, func() bool {
		_, err := db.Get(ctx, "docs", res.DocID)
		return err != nil
	})
}

func TestWatcherMoveKeepsDocumentID(t *testing.T) {
	dirA := t.TempDir()
	dirB := t.TempDir()
	db := &countingDB{DatabaseProvider: testStore(t)}
	w, p := testWatcher(t, db)
	ctx := context.Background()

	oldPath := writeFile(t, dirA, "moved.txt", "document that moves between folders")
	res := p.IndexFile(ctx, oldPath)
	require.Equal(t, StatusSuccess, res.Status)

	require.NoError(t, w.AddPath(dirA))
	require.NoError(t, w.AddPath(dirB))
	require.NoError(t, w.Enable(ctx))
	defer w.Disable()

	newPath := filepath.Join(dirB, "moved.txt")
	require.NoError(t, os.Rename(oldPath, newPath))

	waitFor(t, 3*time.Second, func() bool {
		stored, err := db.Get(ctx, "docs", res.DocID)
		if err != nil {
			return false
		}
		got, _ := stored.Metadata["file_path"].(string)
		return got == newPath
	})

	// The old identity survived the move; no second document exists.
	_, err := db.Get(ctx, "docs", DocumentID(newPath))
	assert.Error(t, err)
}

func TestWatcherStatus(t *testing.T) {
	dir := t.TempDir()
	db := &countingDB{DatabaseProvider: testStore(t)}
	w, _ := testWatcher(t, db)

	st := w.Status()
	assert.False(t, st.Enabled)
	assert.Empty(t, st.Paths)

	require.NoError(t, w.AddPath(dir))
	require.NoError(t, w.Enable(context.Background()))
	st = w.Status()
	assert.True(t, st.Enabled)
	require.Len(t, st.Paths, 1)

	w.Disable()
	assert.False(t, w.Status().Enabled)

	require.NoError(t, w.RemovePath(dir))
	assert.Empty(t, w.Status().Paths)
}
