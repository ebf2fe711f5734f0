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
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/lumensearch/lumen/pkg/databases"
	"github.com/lumensearch/lumen/pkg/faults"
	"github.com/lumensearch/lumen/pkg/logger"
)

// queuedUpsert is one processed document waiting for the store to
// come back.
type queuedUpsert struct {
	Collection string                 `json:"collection"`
	DocID      string                 `json:"doc_id"`
	Vector     []float32              `json:"vector"`
	Content    string                 `json:"content"`
	Metadata   map[string]interface{} `json:"metadata"`
	QueuedAt   time.Time              `json:"queued_at"`
}

// Queue is a durable on-disk retry buffer: one JSON file per pending
// upsert, written atomically, drained on an interval.
type Queue struct {
	dir string
}

func NewQueue(dir string) (*Queue, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, faults.New(faults.KindInternal, "ingest", "NewQueue", "queue dir not writable", err)
	}
	return &Queue{dir: dir}, nil
}

func (q *Queue) Enqueue(item *queuedUpsert) error {
	item.QueuedAt = time.Now().UTC()
	raw, err := json.Marshal(item)
	if err != nil {
		return faults.New(faults.KindInternal, "ingest", "Enqueue", "marshal failed", err)
	}
	name := fmt.Sprintf("%d-%s.json", item.QueuedAt.UnixNano(), item.DocID[:12])
	tmp := filepath.Join(q.dir, name+".tmp")
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return faults.New(faults.KindInternal, "ingest", "Enqueue", "write failed", err)
	}
	if err := os.Rename(tmp, filepath.Join(q.dir, name)); err != nil {
		return faults.New(faults.KindInternal, "ingest", "Enqueue", "rename failed", err)
	}
	return nil
}

// Len counts pending entries.
func (q *Queue) Len() int {
	entries, err := os.ReadDir(q.dir)
	if err != nil {
		return 0
	}
	n := 0
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".json" {
			n++
		}
	}
	return n
}

// Drain retries every pending upsert in queue order, removing entries
// that succeed. It stops early when the store is still unavailable.
func (q *Queue) Drain(ctx context.Context, db databases.DatabaseProvider) (flushed int, err error) {
	entries, err := os.ReadDir(q.dir)
	if err != nil {
		return 0, faults.New(faults.KindInternal, "ingest", "Drain", "queue dir unreadable", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".json" {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		path := filepath.Join(q.dir, name)
		raw, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var item queuedUpsert
		if err := json.Unmarshal(raw, &item); err != nil {
			// Unparseable entry; drop it rather than wedge the queue.
			os.Remove(path)
			continue
		}
		err = db.Upsert(ctx, item.Collection, item.DocID, item.Vector, item.Content, item.Metadata)
		if err != nil {
			if faults.Retriable(err) {
				return flushed, err
			}
			os.Remove(path)
			continue
		}
		os.Remove(path)
		flushed++
	}
	return flushed, nil
}

// StartDrain retries the queue on the interval until ctx ends.
func (q *Queue) StartDrain(ctx context.Context, db databases.DatabaseProvider, interval time.Duration) {
	go func() {
		log := logger.GetLogger()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if q.Len() == 0 {
					continue
				}
				flushed, err := q.Drain(ctx, db)
				if flushed > 0 {
					log.Info("retry queue drained", "flushed", flushed)
				}
				if err != nil {
					log.Warn("retry queue drain incomplete", "error", err)
				}
			}
		}
	}()
}
