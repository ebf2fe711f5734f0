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

package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/lumensearch/lumen/pkg/faults"
	"github.com/lumensearch/lumen/pkg/ingest"
	"github.com/lumensearch/lumen/pkg/memory"
	"github.com/lumensearch/lumen/pkg/workflow"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := s.services.CheckHealth(r.Context())
	status := http.StatusOK
	if health.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, health)
}

type searchRequest struct {
	Query             string                 `json:"query"`
	TopK              *int                   `json:"top_k,omitempty"`
	UseHybrid         *bool                  `json:"use_hybrid,omitempty"`
	SessionID         string                 `json:"session_id,omitempty"`
	UserID            string                 `json:"user_id,omitempty"`
	AttachedDocuments []string               `json:"attached_documents,omitempty"`
	Filters           map[string]interface{} `json:"filters,omitempty"`
}

const maxTopK = 50

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, faults.New(faults.KindInputInvalid, "server", "search", "malformed request body", err))
		return
	}
	topK := 0
	if req.TopK != nil {
		// The engine treats zero as "use the default", so an explicit
		// zero is rejected at this boundary.
		if *req.TopK < 1 || *req.TopK > maxTopK {
			writeError(w, faults.New(faults.KindInputInvalid, "server", "search", "top_k must be in 1..50", nil))
			return
		}
		topK = *req.TopK
	}

	events, err := s.services.Engine.Process(r.Context(), &workflow.Request{
		Query:             req.Query,
		UserID:            req.UserID,
		SessionID:         req.SessionID,
		AttachedDocuments: req.AttachedDocuments,
		TopK:              topK,
		Filters:           req.Filters,
		UseHybrid:         req.UseHybrid,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	stream, ok := newSSEWriter(w)
	if !ok {
		return
	}
	started := time.Now()
	for event := range events {
		stream.send(string(event.Type), event.Data)
		switch event.Type {
		case workflow.EventComplete:
			if final, ok := event.Data.(*workflow.FinalResult); ok {
				s.services.Metrics.RecordSearch(string(final.Intent), time.Since(started), nil)
			}
		case workflow.EventError:
			s.services.Metrics.RecordSearch("unknown", time.Since(started), errStream)
		}
	}
}

type indexRequest struct {
	Directory string `json:"directory"`
	WatchMode bool   `json:"watch_mode,omitempty"`
}

func (s *Server) handleIndexDirectory(w http.ResponseWriter, r *http.Request) {
	var req indexRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Directory == "" {
		writeError(w, faults.New(faults.KindInputInvalid, "server", "index", "directory is required", err))
		return
	}

	stream, ok := newSSEWriter(w)
	if !ok {
		return
	}

	// Progress arrives from worker goroutines; funnel through a channel
	// so SSE writes stay single-threaded.
	progress := make(chan ingest.Progress, 16)
	done := make(chan struct{})
	var report *ingest.Report
	var runErr error
	go func() {
		defer close(progress)
		report, runErr = s.services.Ingest.IndexDirectory(r.Context(), req.Directory, func(p ingest.Progress) {
			select {
			case progress <- p:
			case <-done:
			}
		})
	}()
	defer close(done)

	for p := range progress {
		stream.send("progress", p)
		s.services.Metrics.RecordIngestFile(p.Status)
	}
	s.services.Metrics.SetQueueDepth(s.services.Ingest.Queue().Len())

	if runErr != nil {
		stream.send("error", map[string]string{
			"kind":    string(faults.KindOf(runErr)),
			"message": runErr.Error(),
		})
		return
	}
	stream.send("complete", report)

	if req.WatchMode {
		if err := s.services.Watcher.AddPath(req.Directory); err == nil {
			if err := s.services.Watcher.Enable(context.Background()); err != nil {
				s.logger.Warn("watch mode enable failed", "error", err)
			}
		}
	}
}

func (s *Server) handleIndexFile(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Path string `json:"path"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Path == "" {
		writeError(w, faults.New(faults.KindInputInvalid, "server", "index file", "path is required", err))
		return
	}
	res := s.services.Ingest.IndexFile(r.Context(), req.Path)
	s.services.Metrics.RecordIngestFile(string(res.Status))
	writeJSON(w, http.StatusOK, res)
}

// listFilterKeys are the metadata fields accepted as query parameters.
var listFilterKeys = []string{"document_type", "file_type", "author"}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	filter := map[string]interface{}{}
	for _, key := range listFilterKeys {
		if v := r.URL.Query().Get(key); v != "" {
			filter[key] = v
		}
	}
	docs, err := s.services.ListDocuments(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"documents": docs, "count": len(docs)})
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := s.services.GetDocument(r.Context(), r.URL.Query().Get("user_id"), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	if err := s.services.DeleteDocument(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	session, err := s.services.GetSession(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (s *Server) handleClearSession(w http.ResponseWriter, r *http.Request) {
	if err := s.services.ClearSession(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	var req struct {
		EpisodeID int64  `json:"episode_id"`
		Rating    int    `json:"rating"`
		Comment   string `json:"comment,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, faults.New(faults.KindInputInvalid, "server", "feedback", "malformed request body", err))
		return
	}
	if err := s.services.Feedback(r.Context(), req.EpisodeID, req.Rating); err != nil {
		writeError(w, err)
		return
	}
	if req.Comment != "" {
		s.logger.Debug("feedback comment", "episode_id", req.EpisodeID, "comment", req.Comment)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAttachmentAnswer(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Query         string   `json:"query"`
		AttachmentIDs []string `json:"attachment_ids"`
		SessionID     string   `json:"session_id,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, faults.New(faults.KindInputInvalid, "server", "attachments", "malformed request body", err))
		return
	}
	history := s.historyForSession(r.Context(), req.SessionID)
	res, err := s.services.Attach.Answer(r.Context(), req.Query, req.AttachmentIDs, history)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleWatcherStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.services.Watcher.Status())
}

func (s *Server) handleWatcherEnable(w http.ResponseWriter, r *http.Request) {
	// The watcher loop must outlive this request.
	if err := s.services.Watcher.Enable(context.Background()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.services.Watcher.Status())
}

func (s *Server) handleWatcherDisable(w http.ResponseWriter, r *http.Request) {
	s.services.Watcher.Disable()
	writeJSON(w, http.StatusOK, s.services.Watcher.Status())
}

func (s *Server) handleWatcherAddPath(w http.ResponseWriter, r *http.Request) {
	path, ok := decodePath(w, r)
	if !ok {
		return
	}
	if err := s.services.Watcher.AddPath(path); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.services.Watcher.Status())
}

func (s *Server) handleWatcherRemovePath(w http.ResponseWriter, r *http.Request) {
	path, ok := decodePath(w, r)
	if !ok {
		return
	}
	if err := s.services.Watcher.RemovePath(path); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.services.Watcher.Status())
}

func decodePath(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req struct {
		Path string `json:"path"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Path == "" {
		writeError(w, faults.New(faults.KindInputInvalid, "server", "watcher", "path is required", err))
		return "", false
	}
	return req.Path, true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, err error) {
	kind := faults.KindOf(err)
	writeJSON(w, statusForKind(kind), map[string]string{
		"kind":    string(kind),
		"message": err.Error(),
	})
}

func statusForKind(kind faults.Kind) int {
	switch kind {
	case faults.KindInputInvalid:
		return http.StatusBadRequest
	case faults.KindNotFound:
		return http.StatusNotFound
	case faults.KindUnavailable, faults.KindRetriable:
		return http.StatusServiceUnavailable
	case faults.KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// historyForSession loads recent turns for attachment answering.
// Best-effort: a missing session or disabled memory yields no history.
func (s *Server) historyForSession(ctx context.Context, sessionID string) []memory.Turn {
	if sessionID == "" || s.services.Memory == nil {
		return nil
	}
	session, err := s.services.Memory.Session(ctx, sessionID)
	if err != nil {
		return nil
	}
	return session.Turns
}
