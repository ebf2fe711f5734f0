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

package runtime

import (
	"context"
	"fmt"
	"time"

	"github.com/lumensearch/lumen/pkg/databases"
	"github.com/lumensearch/lumen/pkg/faults"
	"github.com/lumensearch/lumen/pkg/memory"
)

// Health is the per-port reachability report.
type Health struct {
	Status string            `json:"status"`
	Ports  map[string]string `json:"ports"`
}

const healthProbeTimeout = 3 * time.Second

// CheckHealth probes the stores and reports the configured model ports.
// Model endpoints are not called; an unreachable model surfaces on first
// use through the circuit breaker instead.
func (s *Services) CheckHealth(ctx context.Context) Health {
	ctx, cancel := context.WithTimeout(ctx, healthProbeTimeout)
	defer cancel()

	ports := map[string]string{}
	degraded := false

	if _, err := s.DB.Get(ctx, s.Config.Vector.Collection, "health-probe"); err != nil && faults.KindOf(err) != faults.KindNotFound {
		ports["vector"] = err.Error()
		degraded = true
	} else {
		ports["vector"] = "ok"
	}

	if s.Relational == nil {
		ports["relational"] = "unavailable"
		degraded = true
	} else if err := s.Relational.Ping(ctx); err != nil {
		ports["relational"] = err.Error()
		degraded = true
	} else {
		ports["relational"] = "ok"
	}

	entities, relationships := s.Graph.Stats()
	ports["graph"] = fmt.Sprintf("ok (%d entities, %d relationships)", entities, relationships)

	ports["llm"] = "configured: " + s.LLM.ModelName()
	ports["embedder"] = "configured: " + s.Embedder.ModelName()

	if s.Watcher.Status().Enabled {
		ports["watcher"] = "enabled"
	} else {
		ports["watcher"] = "disabled"
	}
	ports["queue"] = fmt.Sprintf("%d pending", s.Ingest.Queue().Len())

	status := "ok"
	if degraded {
		status = "degraded"
	}
	return Health{Status: status, Ports: ports}
}

// GetDocument fetches one indexed document and records the access for
// the user's interest profile.
func (s *Services) GetDocument(ctx context.Context, userID, docID string) (*databases.SearchResult, error) {
	doc, err := s.DB.Get(ctx, s.Config.Vector.Collection, docID)
	if err != nil {
		return nil, err
	}
	if s.Memory != nil && userID != "" {
		if err := s.Memory.RecordAccess(ctx, userID, docID); err != nil {
			s.logger.Warn("access recording failed", "doc_id", docID, "error", err)
		}
	}
	return doc, nil
}

// ListDocuments returns indexed documents matching the metadata filter.
func (s *Services) ListDocuments(ctx context.Context, filter map[string]interface{}) ([]databases.SearchResult, error) {
	return s.DB.List(ctx, s.Config.Vector.Collection, filter)
}

// DeleteDocument removes a document by id, withdrawing its graph
// contributions.
func (s *Services) DeleteDocument(ctx context.Context, docID string) error {
	if err := s.DB.Delete(ctx, s.Config.Vector.Collection, docID); err != nil {
		return err
	}
	if err := s.Graph.RemoveDocument(docID); err != nil {
		s.logger.Warn("graph removal failed", "doc_id", docID, "error", err)
	}
	return nil
}

// GetSession returns the short-term conversation window.
func (s *Services) GetSession(ctx context.Context, sessionID string) (*memory.Session, error) {
	if s.Memory == nil {
		return nil, faults.New(faults.KindUnavailable, "runtime", "GetSession", "memory tiers disabled", nil)
	}
	return s.Memory.Session(ctx, sessionID)
}

// ClearSession drops the short-term window.
func (s *Services) ClearSession(ctx context.Context, sessionID string) error {
	if s.Memory == nil {
		return faults.New(faults.KindUnavailable, "runtime", "ClearSession", "memory tiers disabled", nil)
	}
	return s.Memory.ClearSession(ctx, sessionID)
}

// Feedback applies a -1/0/+1 rating to a stored episode.
func (s *Services) Feedback(ctx context.Context, episodeID int64, rating int) error {
	if rating < -1 || rating > 1 {
		return faults.New(faults.KindInputInvalid, "runtime", "Feedback", "rating must be -1, 0, or 1", nil)
	}
	if s.Memory == nil {
		return faults.New(faults.KindUnavailable, "runtime", "Feedback", "memory tiers disabled", nil)
	}
	return s.Memory.ApplyFeedback(ctx, episodeID, rating)
}
