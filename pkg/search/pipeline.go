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

package search

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lumensearch/lumen/pkg/config"
	"github.com/lumensearch/lumen/pkg/databases"
	"github.com/lumensearch/lumen/pkg/embedders"
	"github.com/lumensearch/lumen/pkg/faults"
	"github.com/lumensearch/lumen/pkg/graph"
	"github.com/lumensearch/lumen/pkg/logger"
	"github.com/lumensearch/lumen/pkg/reranker"
)

// Result is one retrieved document.
type Result struct {
	ID              string                 `json:"id"`
	Filename        string                 `json:"filename"`
	FilePath        string                 `json:"file_path"`
	Score           float64                `json:"score"`
	Summary         string                 `json:"summary,omitempty"`
	DetailedSummary string                 `json:"detailed_summary,omitempty"`
	Keywords        []string               `json:"keywords,omitempty"`
	Highlights      []string               `json:"highlights,omitempty"`
	Content         string                 `json:"-"`
	Embedding       []float32              `json:"-"`
	Metadata        map[string]interface{} `json:"-"`
}

// RawScore exposes per-stage scores for inspection.
type RawScore struct {
	ID          string  `json:"id"`
	VectorRank  int     `json:"vector_rank,omitempty"`
	LexicalRank int     `json:"lexical_rank,omitempty"`
	Fused       float64 `json:"fused"`
	GraphBoost  float64 `json:"graph_boost,omitempty"`
	TimeBoost   float64 `json:"time_boost,omitempty"`
	Rerank      float64 `json:"rerank,omitempty"`
}

// Request is one retrieval invocation.
type Request struct {
	Query   string
	Filters map[string]interface{}
	TopK    int

	// Strategy forces a posture; empty selects from query features.
	Strategy Strategy

	// Entities are resolved entity names used for graph augmentation.
	Entities []string

	// DisableRerank skips the cross-encoder, e.g. when procedural
	// memory has learned it hurts this user's queries.
	DisableRerank bool

	// Weight overrides from procedural memory; both zero means none.
	VectorWeight  float64
	LexicalWeight float64
}

// Response is the retrieval outcome.
type Response struct {
	Results    []Result      `json:"results"`
	RawScores  []RawScore    `json:"raw_scores"`
	Strategy   Strategy      `json:"strategy"`
	SearchTime time.Duration `json:"search_time"`
	Degraded   bool          `json:"degraded,omitempty"`
	Warnings   []string      `json:"warnings,omitempty"`
}

// Filter keys pushed down to the store. Anything else is rejected.
var allowedFilterKeys = map[string]bool{
	"document_type": true,
	"file_type":     true,
	"author":        true,
	"source":        true,
	"partial_index": true,
}

// Pipeline runs hybrid retrieval: parallel vector and lexical recall,
// RRF fusion, optional graph augmentation, cross-encoder reranking,
// and MMR diversification.
type Pipeline struct {
	db         databases.DatabaseProvider
	embedder   embedders.EmbedderProvider
	reranker   reranker.Reranker
	graph      *graph.Store
	config     *config.SearchConfig
	rerankCfg  *config.RerankerConfig
	collection string
}

func NewPipeline(
	db databases.DatabaseProvider,
	embedder embedders.EmbedderProvider,
	rr reranker.Reranker,
	graphStore *graph.Store,
	cfg *config.SearchConfig,
	rerankCfg *config.RerankerConfig,
	collection string,
) *Pipeline {
	return &Pipeline{
		db:         db,
		embedder:   embedder,
		reranker:   rr,
		graph:      graphStore,
		config:     cfg,
		rerankCfg:  rerankCfg,
		collection: collection,
	}
}

func (p *Pipeline) Retrieve(ctx context.Context, req *Request) (*Response, error) {
	started := time.Now()

	for key := range req.Filters {
		if !allowedFilterKeys[key] {
			return nil, faults.New(faults.KindInputInvalid, "search", "Retrieve",
				fmt.Sprintf("unknown filter key %q", key), nil)
		}
	}

	topK := req.TopK
	if topK <= 0 {
		topK = p.config.RerankTopK
	}
	if topK > 50 {
		topK = 50
	}

	strategy := req.Strategy
	if strategy == "" {
		strategy = SelectStrategy(req.Query, len(req.Entities))
	}
	params := ParamsFor(strategy, p.config)
	if req.VectorWeight > 0 || req.LexicalWeight > 0 {
		params.VectorWeight = req.VectorWeight
		params.LexicalWeight = req.LexicalWeight
	}

	ctx, cancel := context.WithTimeout(ctx, time.Duration(p.config.TimeoutSeconds)*time.Second)
	defer cancel()

	response := &Response{Strategy: strategy}

	candidates, raw, err := p.recall(ctx, req, params, response)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		response.Warnings = append(response.Warnings, "no candidates matched the query")
		response.SearchTime = time.Since(started)
		return response, nil
	}

	p.augmentFromGraph(ctx, req, params, candidates, raw)
	p.applyTimeBias(params, candidates, raw)
	normalizeScores(candidates)

	ordered := make([]*Result, 0, len(candidates))
	for _, c := range candidates {
		ordered = append(ordered, c)
	}
	sortResults(ordered)

	reranked := p.rerank(ctx, req, ordered, raw, response)
	if reranked {
		sortResults(ordered)
	}

	// Score floor, then diversify into the final top-k.
	kept := make([]Result, 0, len(ordered))
	for _, c := range ordered {
		if c.Score >= params.MinScore {
			kept = append(kept, *c)
		}
	}
	lambda := p.rerankCfg.DiversityWeight
	final := diversify(kept, lambda, topK)

	for i := range final {
		final[i].Highlights = highlights(final[i].Content, req.Query, 2)
	}

	response.Results = final
	for _, r := range raw {
		response.RawScores = append(response.RawScores, *r)
	}
	sort.Slice(response.RawScores, func(i, j int) bool { return response.RawScores[i].Fused > response.RawScores[j].Fused })
	response.SearchTime = time.Since(started)
	return response, nil
}

// recall runs the two retrieval legs in parallel and fuses them. One
// failed leg degrades the response; both failing is an error.
func (p *Pipeline) recall(ctx context.Context, req *Request, params Params, response *Response) (map[string]*Result, map[string]*RawScore, error) {
	embedding, embedErr := embedders.EmbedNormalized(ctx, p.embedder, req.Query, p.embedder.Dimension())
	if embedErr != nil && faults.KindOf(embedErr) == faults.KindInputInvalid {
		return nil, nil, embedErr
	}

	var vectorHits, lexicalHits []databases.SearchResult
	var vectorErr, lexicalErr error

	g, gctx := errgroup.WithContext(ctx)
	if params.VectorWeight > 0 {
		if embedErr != nil {
			vectorErr = embedErr
		} else {
			g.Go(func() error {
				vectorHits, vectorErr = p.db.Search(gctx, p.collection, embedding, p.config.RecallTopK, req.Filters)
				return nil
			})
		}
	}
	if params.LexicalWeight > 0 {
		g.Go(func() error {
			lexicalHits, lexicalErr = p.db.KeywordSearch(gctx, p.collection, req.Query, p.config.RecallTopK, req.Filters)
			return nil
		})
	}
	g.Wait() //nolint:errcheck

	if params.VectorWeight > 0 && vectorErr != nil {
		if params.LexicalWeight == 0 || lexicalErr != nil {
			return nil, nil, faults.New(faults.KindUnavailable, "search", "recall", "all retrieval legs failed", vectorErr)
		}
		logger.GetLogger().Warn("vector leg failed, continuing lexical-only", "error", vectorErr)
		response.Degraded = true
		response.Warnings = append(response.Warnings, "vector search unavailable, lexical-only results")
	}
	if params.LexicalWeight > 0 && lexicalErr != nil {
		if params.VectorWeight == 0 || vectorErr != nil {
			return nil, nil, faults.New(faults.KindUnavailable, "search", "recall", "all retrieval legs failed", lexicalErr)
		}
		logger.GetLogger().Warn("lexical leg failed, continuing vector-only", "error", lexicalErr)
		response.Degraded = true
		response.Warnings = append(response.Warnings, "lexical search unavailable, vector-only results")
	}

	candidates := make(map[string]*Result)
	raw := make(map[string]*RawScore)

	vectorIDs := make([]string, 0, len(vectorHits))
	for i, hit := range vectorHits {
		vectorIDs = append(vectorIDs, hit.ID)
		p.admit(candidates, raw, hit)
		raw[hit.ID].VectorRank = i + 1
	}
	lexicalIDs := make([]string, 0, len(lexicalHits))
	for i, hit := range lexicalHits {
		lexicalIDs = append(lexicalIDs, hit.ID)
		p.admit(candidates, raw, hit)
		raw[hit.ID].LexicalRank = i + 1
	}

	var lists []rankedList
	if vectorErr == nil && params.VectorWeight > 0 {
		lists = append(lists, rankedList{ids: vectorIDs, weight: params.VectorWeight})
	}
	if lexicalErr == nil && params.LexicalWeight > 0 {
		lists = append(lists, rankedList{ids: lexicalIDs, weight: params.LexicalWeight})
	}
	for _, fused := range fuseRRF(p.config.RRFK, lists...) {
		candidates[fused.ID].Score = fused.Score
		raw[fused.ID].Fused = fused.Score
	}
	return candidates, raw, nil
}

func (p *Pipeline) admit(candidates map[string]*Result, raw map[string]*RawScore, hit databases.SearchResult) {
	if _, ok := candidates[hit.ID]; ok {
		return
	}
	candidates[hit.ID] = resultFromHit(hit)
	raw[hit.ID] = &RawScore{ID: hit.ID}
}

// augmentFromGraph adds graph_weight/(1+hop) for documents reachable
// from the query's entities, pulling unseen documents into the pool.
func (p *Pipeline) augmentFromGraph(ctx context.Context, req *Request, params Params, candidates map[string]*Result, raw map[string]*RawScore) {
	if params.GraphWeight == 0 || p.graph == nil || len(req.Entities) == 0 {
		return
	}

	expansion := p.graph.Expand(req.Entities, params.GraphHops)

	docHops := make(map[string]int)
	for _, e := range expansion.Original {
		for _, docID := range e.DocumentIDs {
			docHops[docID] = 0
		}
	}
	for i, e := range expansion.Expanded {
		hop := len(expansion.Paths[i])
		for _, docID := range e.DocumentIDs {
			if existing, ok := docHops[docID]; !ok || hop < existing {
				docHops[docID] = hop
			}
		}
	}

	for docID, hop := range docHops {
		boost := params.GraphWeight / float64(1+hop)
		if _, ok := candidates[docID]; !ok {
			stored, err := p.db.Get(ctx, p.collection, docID)
			if err != nil {
				continue
			}
			candidates[docID] = resultFromHit(*stored)
			raw[docID] = &RawScore{ID: docID}
		}
		candidates[docID].Score += boost
		raw[docID].GraphBoost = boost
	}
}

// applyTimeBias adds time_weight scaled by recency for TEMPORAL
// retrieval. Documents updated within a month get most of the boost.
func (p *Pipeline) applyTimeBias(params Params, candidates map[string]*Result, raw map[string]*RawScore) {
	if !params.PreferRecent || params.TimeWeight == 0 {
		return
	}
	now := time.Now().UTC()
	for id, c := range candidates {
		updated, ok := c.Metadata["updated_at"].(string)
		if !ok {
			continue
		}
		ts, err := time.Parse(time.RFC3339Nano, updated)
		if err != nil {
			continue
		}
		ageDays := now.Sub(ts).Hours() / 24
		if ageDays < 0 {
			ageDays = 0
		}
		boost := params.TimeWeight / (1 + ageDays/30)
		c.Score += boost
		raw[id].TimeBoost = boost
	}
}

// rerank scores the leading candidates with the cross-encoder. An
// unavailable scorer degrades to fused ordering instead of failing.
func (p *Pipeline) rerank(ctx context.Context, req *Request, ordered []*Result, raw map[string]*RawScore, response *Response) bool {
	if !p.rerankCfg.IsEnabled() || req.DisableRerank {
		return false
	}

	limit := p.rerankCfg.MaxCandidates
	if limit > len(ordered) {
		limit = len(ordered)
	}
	docs := make([]reranker.Document, limit)
	for i := 0; i < limit; i++ {
		docs[i] = reranker.Document{
			ID:   ordered[i].ID,
			Text: reranker.DocumentText(ordered[i].Metadata, ordered[i].Content),
		}
	}

	scores, err := p.reranker.Rerank(ctx, req.Query, docs)
	if err != nil {
		logger.GetLogger().Warn("reranker unavailable, keeping fused order", "error", err)
		response.Degraded = true
		response.Warnings = append(response.Warnings, "reranker unavailable")
		return false
	}

	byID := make(map[string]float64, len(scores))
	for _, s := range scores {
		byID[s.ID] = s.Score
	}
	for _, c := range ordered {
		if score, ok := byID[c.ID]; ok {
			c.Score = score
			raw[c.ID].Rerank = score
		}
	}
	return true
}

func resultFromHit(hit databases.SearchResult) *Result {
	metadata := hit.Metadata
	if metadata == nil {
		metadata = map[string]interface{}{}
	}
	r := &Result{
		ID:        hit.ID,
		Content:   hit.Content,
		Embedding: hit.Vector,
		Metadata:  metadata,
	}
	r.Filename, _ = metadata["file_name"].(string)
	r.FilePath, _ = metadata["file_path"].(string)
	r.Summary, _ = metadata["summary"].(string)
	r.DetailedSummary, _ = metadata["detailed_summary"].(string)
	r.Keywords = stringList(metadata["keywords"])
	return r
}

func stringList(v interface{}) []string {
	switch s := v.(type) {
	case []string:
		return s
	case []interface{}:
		out := make([]string, 0, len(s))
		for _, item := range s {
			if str, ok := item.(string); ok {
				out = append(out, str)
			}
		}
		return out
	}
	return nil
}

// normalizeScores maps scores into [0,1] by dividing by the maximum,
// so the min_score floor is meaningful across strategies.
func normalizeScores(candidates map[string]*Result) {
	max := 0.0
	for _, c := range candidates {
		if c.Score > max {
			max = c.Score
		}
	}
	if max == 0 {
		return
	}
	for _, c := range candidates {
		c.Score /= max
	}
}

func sortResults(results []*Result) {
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})
}

// highlights extracts up to n short snippets around query-token
// matches in the document body.
func highlights(content, query string, n int) []string {
	if content == "" {
		return nil
	}
	lower := strings.ToLower(content)
	var snippets []string
	seen := make(map[int]bool)
	for _, token := range strings.Fields(strings.ToLower(query)) {
		if len(token) < 3 {
			continue
		}
		idx := strings.Index(lower, token)
		if idx < 0 {
			continue
		}
		start := idx - 60
		if start < 0 {
			start = 0
		}
		end := idx + len(token) + 60
		if end > len(content) {
			end = len(content)
		}
		if seen[start] {
			continue
		}
		seen[start] = true
		snippet := strings.TrimSpace(content[start:end])
		snippets = append(snippets, snippet)
		if len(snippets) == n {
			break
		}
	}
	return snippets
}
