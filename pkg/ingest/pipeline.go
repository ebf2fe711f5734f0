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
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lumensearch/lumen/pkg/config"
	"github.com/lumensearch/lumen/pkg/databases"
	"github.com/lumensearch/lumen/pkg/embedders"
	"github.com/lumensearch/lumen/pkg/faults"
	"github.com/lumensearch/lumen/pkg/graph"
	"github.com/lumensearch/lumen/pkg/llms"
	"github.com/lumensearch/lumen/pkg/logger"
)

type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
)

// FileResult is the outcome for one file.
type FileResult struct {
	Path   string `json:"path"`
	DocID  string `json:"doc_id,omitempty"`
	Status Status `json:"status"`
	Reason string `json:"reason,omitempty"`
}

// Report aggregates a run. Per-file errors never abort the run.
type Report struct {
	Success  int           `json:"success"`
	Failed   int           `json:"failed"`
	Skipped  int           `json:"skipped"`
	Results  []FileResult  `json:"results"`
	Duration time.Duration `json:"duration"`
}

// Progress is one streamed ingestion event.
type Progress struct {
	Status      string `json:"status"`
	CurrentFile string `json:"current_file"`
	Position    string `json:"position"`
	Stage       string `json:"stage"`
	Error       string `json:"error,omitempty"`
}

// Pipeline transforms files into indexed documents and graph updates.
// Extraction parallelism is CPU-bound; LLM stages share a smaller
// semaphore because the model endpoint is a scarce resource.
type Pipeline struct {
	db         databases.DatabaseProvider
	embedder   embedders.EmbedderProvider
	llm        llms.LLMProvider
	graph      *graph.Store
	cfg        *config.IngestConfig
	collection string
	queue      *Queue
	llmSem     chan struct{}
	logger     *slog.Logger
}

func NewPipeline(
	db databases.DatabaseProvider,
	embedder embedders.EmbedderProvider,
	llm llms.LLMProvider,
	graphStore *graph.Store,
	cfg *config.IngestConfig,
	collection string,
) (*Pipeline, error) {
	queue, err := NewQueue(cfg.QueueDir)
	if err != nil {
		return nil, err
	}
	return &Pipeline{
		db:         db,
		embedder:   embedder,
		llm:        llm,
		graph:      graphStore,
		cfg:        cfg,
		collection: collection,
		queue:      queue,
		llmSem:     make(chan struct{}, cfg.Workers.LLM),
		logger:     logger.GetLogger(),
	}, nil
}

func (p *Pipeline) acquireLLM() { p.llmSem <- struct{}{} }
func (p *Pipeline) releaseLLM() { <-p.llmSem }

// Queue exposes the durable retry buffer for the drain job.
func (p *Pipeline) Queue() *Queue { return p.queue }

// IndexDirectory walks root and processes every accepted file with
// bounded parallelism. onProgress may be nil.
func (p *Pipeline) IndexDirectory(ctx context.Context, root string, onProgress func(Progress)) (*Report, error) {
	started := time.Now()
	candidates, err := Discover(root, p.cfg)
	if err != nil {
		return nil, err
	}

	total := len(candidates)
	var processed atomic.Int64
	var mu sync.Mutex
	report := &Report{}

	record := func(res FileResult, stage string) {
		mu.Lock()
		report.Results = append(report.Results, res)
		switch res.Status {
		case StatusSuccess:
			report.Success++
		case StatusFailed:
			report.Failed++
		case StatusSkipped:
			report.Skipped++
		}
		mu.Unlock()
		if onProgress != nil {
			k := processed.Add(1)
			onProgress(Progress{
				Status:      string(res.Status),
				CurrentFile: res.Path,
				Position:    position(k, total),
				Stage:       stage,
				Error:       res.Reason,
			})
		} else {
			processed.Add(1)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Workers.Extract)
	for _, cand := range candidates {
		cand := cand
		if cand.SkipReason != "" {
			record(FileResult{Path: cand.Path, Status: StatusSkipped, Reason: cand.SkipReason}, "discover")
			continue
		}
		g.Go(func() error {
			res := p.processFile(gctx, cand)
			record(res, "index")
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if ctx.Err() != nil {
		return nil, faults.New(faults.KindCancelled, "ingest", "IndexDirectory", "run cancelled", ctx.Err())
	}

	report.Duration = time.Since(started)
	return report, nil
}

func position(k int64, total int) string {
	return fmt.Sprintf("%d/%d", k, total)
}

// IndexFile processes a single path through the same checks and stages.
func (p *Pipeline) IndexFile(ctx context.Context, path string) FileResult {
	info, err := os.Stat(path)
	if err != nil {
		return FileResult{Path: path, Status: StatusFailed, Reason: "not accessible"}
	}
	cand := classify(path, info.Size(), p.cfg)
	if cand.SkipReason != "" {
		return FileResult{Path: path, Status: StatusSkipped, Reason: cand.SkipReason}
	}
	return p.processFile(ctx, cand)
}

func (p *Pipeline) processFile(ctx context.Context, cand Candidate) FileResult {
	path := cand.Path
	docID := DocumentID(path)
	res := FileResult{Path: path, DocID: docID}

	info, err := os.Stat(path)
	if err != nil {
		res.Status, res.Reason = StatusFailed, "not accessible"
		return res
	}

	createdAt := time.Now().UTC().Format(time.RFC3339Nano)
	if existing, err := p.db.Get(ctx, p.collection, docID); err == nil {
		if prev, ok := existing.Metadata["updated_at"].(string); ok {
			if ts, err := time.Parse(time.RFC3339Nano, prev); err == nil && !ts.Before(info.ModTime()) {
				res.Status, res.Reason = StatusSkipped, ReasonUnchanged
				return res
			}
		}
		if prev, ok := existing.Metadata["created_at"].(string); ok {
			createdAt = prev
		}
	}

	extraction, err := p.extract(ctx, path, info.Size())
	if err != nil {
		p.logger.Warn("extraction failed", "file", path, "error", err)
		res.Status, res.Reason = StatusFailed, "extraction_failed"
		return res
	}

	text := extraction.Text
	if extraction.FileType == "pdf" && len(strings.TrimSpace(text)) < p.cfg.OCRMinChars {
		if ocr, err := p.visionText(ctx, path); err == nil && strings.TrimSpace(ocr) != "" {
			text = ocr
		}
	}
	normalized := Normalize(text, p.cfg.MaxContentChars)
	if normalized == "" {
		res.Status, res.Reason = StatusFailed, ReasonEmptyText
		return res
	}

	filename := filepath.Base(path)
	summary := p.summarize(ctx, filename, normalized)

	vector, err := embedders.EmbedNormalized(ctx, p.embedder, summary.Summary, p.embedder.Dimension())
	if err != nil {
		p.logger.Warn("embedding failed", "file", path, "error", err)
		res.Status, res.Reason = StatusFailed, "embedding_failed"
		return res
	}

	if p.graph != nil {
		ents := make([]graph.ExtractedEntity, 0, len(summary.Entities))
		for _, e := range summary.Entities {
			ents = append(ents, graph.ExtractedEntity{Name: e.Name, Type: e.Type})
		}
		rels := make([]graph.ExtractedRelation, 0, len(summary.Relationships))
		for _, r := range summary.Relationships {
			rels = append(rels, graph.ExtractedRelation{
				Source: r.Source, Target: r.Target, Type: r.Type, Weight: r.Weight,
			})
		}
		if err := p.graph.IngestDocument(docID, filename, ents, rels); err != nil {
			p.logger.Warn("graph update failed", "file", path, "error", err)
		}
	}

	metadata := p.buildMetadata(path, filename, createdAt, info, extraction, summary)
	if err := p.db.Upsert(ctx, p.collection, docID, vector, normalized, metadata); err != nil {
		if faults.Retriable(err) {
			if qerr := p.queue.Enqueue(&queuedUpsert{
				Collection: p.collection,
				DocID:      docID,
				Vector:     vector,
				Content:    normalized,
				Metadata:   metadata,
			}); qerr == nil {
				res.Status, res.Reason = StatusFailed, ReasonQueuedRetry
				return res
			}
		}
		p.logger.Warn("upsert failed", "file", path, "error", err)
		res.Status, res.Reason = StatusFailed, "store_rejected"
		return res
	}

	res.Status = StatusSuccess
	return res
}

func (p *Pipeline) buildMetadata(path, filename, createdAt string, info os.FileInfo, extraction *Extraction, summary *Summary) map[string]interface{} {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	metadata := map[string]interface{}{
		"file_name":     filename,
		"file_path":     abs,
		"file_type":     extraction.FileType,
		"document_type": summary.DocumentType,
		"summary":       summary.Summary,
		"file_size":     info.Size(),
		"created_at":    createdAt,
		"updated_at":    time.Now().UTC().Format(time.RFC3339Nano),
	}
	if summary.DetailedSummary != "" {
		metadata["detailed_summary"] = summary.DetailedSummary
	}
	// Kept as a slice: the lexical index boosts the keywords field and
	// only accepts []string.
	if len(summary.Keywords) > 0 {
		metadata["keywords"] = summary.Keywords
	}
	if len(summary.Topics) > 0 {
		metadata["topics"] = strings.Join(summary.Topics, " ")
	}
	if len(summary.Entities) > 0 {
		names := make([]string, 0, len(summary.Entities))
		for _, e := range summary.Entities {
			names = append(names, e.Name)
		}
		metadata["entities"] = strings.Join(names, " ")
	}
	if extraction.PageCount > 0 {
		metadata["page_count"] = extraction.PageCount
	}
	if extraction.Author != "" {
		metadata["author"] = extraction.Author
	}
	if summary.Partial {
		metadata["partial_index"] = true
	}
	return metadata
}

// Delete removes a document from the store and withdraws its graph
// contributions.
func (p *Pipeline) Delete(ctx context.Context, path string) error {
	docID := DocumentID(path)
	if err := p.db.Delete(ctx, p.collection, docID); err != nil && faults.KindOf(err) != faults.KindNotFound {
		return err
	}
	if p.graph != nil {
		if err := p.graph.RemoveDocument(docID); err != nil {
			p.logger.Warn("graph removal failed", "doc_id", docID, "error", err)
		}
	}
	return nil
}
