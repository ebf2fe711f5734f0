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

package reranker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/lumensearch/lumen/pkg/config"
	"github.com/lumensearch/lumen/pkg/faults"
	"github.com/lumensearch/lumen/pkg/httpclient"
)

// Document is a rerank candidate. Text should be the best available
// representation of the document, not necessarily its full body.
type Document struct {
	ID   string
	Text string
}

// Score is a cross-encoder relevance score in [0, 1].
type Score struct {
	ID    string
	Score float64
}

// Reranker orders candidates by query relevance.
type Reranker interface {
	Rerank(ctx context.Context, query string, docs []Document) ([]Score, error)
}

// HTTPReranker calls a text-embeddings-inference style /rerank endpoint.
// Raw cross-encoder logits are squashed through a sigmoid so scores are
// comparable with the rest of the pipeline.
type HTTPReranker struct {
	config *config.RerankerConfig
	client *httpclient.Client
}

func NewHTTPReranker(cfg *config.RerankerConfig) *HTTPReranker {
	return &HTTPReranker{
		config: cfg,
		client: httpclient.New(
			httpclient.WithHTTPClient(&http.Client{Timeout: 30 * time.Second}),
			httpclient.WithMaxRetries(1),
		),
	}
}

type rerankRequest struct {
	Query string   `json:"query"`
	Texts []string `json:"texts"`
}

type rerankEntry struct {
	Index int     `json:"index"`
	Score float64 `json:"score"`
}

func (r *HTTPReranker) Rerank(ctx context.Context, query string, docs []Document) ([]Score, error) {
	if len(docs) > r.config.MaxCandidates {
		docs = docs[:r.config.MaxCandidates]
	}

	scores := make([]Score, 0, len(docs))
	for start := 0; start < len(docs); start += r.config.BatchSize {
		end := start + r.config.BatchSize
		if end > len(docs) {
			end = len(docs)
		}
		batch := docs[start:end]

		entries, err := r.rerankBatch(ctx, query, batch)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			if e.Index < 0 || e.Index >= len(batch) {
				continue
			}
			scores = append(scores, Score{
				ID:    batch[e.Index].ID,
				Score: sigmoid(e.Score),
			})
		}
	}
	return scores, nil
}

func (r *HTTPReranker) rerankBatch(ctx context.Context, query string, batch []Document) ([]rerankEntry, error) {
	texts := make([]string, len(batch))
	for i, d := range batch {
		texts[i] = d.Text
	}
	payload, err := json.Marshal(rerankRequest{Query: query, Texts: texts})
	if err != nil {
		return nil, faults.New(faults.KindInternal, "reranker", "Rerank", "failed to marshal request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.config.Endpoint+"/rerank", bytes.NewReader(payload))
	if err != nil {
		return nil, faults.New(faults.KindInternal, "reranker", "Rerank", "failed to build request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, faults.New(faults.KindUnavailable, "reranker", "Rerank", "scorer unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, faults.New(faults.KindUnavailable, "reranker", "Rerank",
			fmt.Sprintf("scorer returned status %d: %s", resp.StatusCode, string(body)), nil)
	}

	var entries []rerankEntry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return nil, faults.New(faults.KindRetriable, "reranker", "Rerank", "failed to decode response", err)
	}
	return entries, nil
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

// Noop passes candidates through unscored. Used when reranking is
// disabled or the scorer is down.
type Noop struct{}

func (Noop) Rerank(ctx context.Context, query string, docs []Document) ([]Score, error) {
	scores := make([]Score, len(docs))
	for i, d := range docs {
		scores[i] = Score{ID: d.ID}
	}
	return scores, nil
}

// NewFromConfig returns the HTTP reranker when enabled, otherwise Noop.
func NewFromConfig(cfg *config.RerankerConfig) Reranker {
	if cfg.IsEnabled() {
		return NewHTTPReranker(cfg)
	}
	return Noop{}
}

// DocumentText picks the best scoring text for a document: the detailed
// summary when present, otherwise the leading slice of the body.
func DocumentText(metadata map[string]interface{}, content string) string {
	if s, ok := metadata["detailed_summary"].(string); ok && s != "" {
		return s
	}
	if s, ok := metadata["summary"].(string); ok && s != "" {
		return s
	}
	if len(content) > 2000 {
		return content[:2000]
	}
	return content
}
