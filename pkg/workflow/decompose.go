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

package workflow

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/lumensearch/lumen/pkg/llms"
	"github.com/lumensearch/lumen/pkg/search"
)

// Cue phrases that signal a multi-part question.
var complexityCues = []string{
	"and then", "as well as", "in addition", "along with",
	"relationship between", "impact of", "first", "also",
}

const complexityThreshold = 3

// complexityScore counts structural hints that a query asks for more
// than one thing: cue phrases, question marks, and conjunctions.
func complexityScore(query string) int {
	q := strings.ToLower(query)
	score := 0
	for _, cue := range complexityCues {
		score += strings.Count(q, cue)
	}
	score += strings.Count(q, "?")
	score += strings.Count(q, " and ")
	return score
}

// SubQuery is one decomposed retrieval unit.
type SubQuery struct {
	ID           int    `json:"id" jsonschema:"required"`
	Query        string `json:"query" jsonschema:"required"`
	Purpose      string `json:"purpose,omitempty"`
	Priority     int    `json:"priority"`
	Dependencies []int  `json:"dependencies,omitempty"`
}

type decomposition struct {
	SubQueries []SubQuery `json:"sub_queries" jsonschema:"required"`
}

const decomposePrompt = `Decompose a complex search query into at most %d focused sub-queries.
Each sub-query retrieves one aspect. Assign priority (1 = first) and list
dependencies by id when one sub-query needs another's results.
Respond with JSON only.`

func (e *Engine) decompose(ctx context.Context, query string) ([]SubQuery, error) {
	var out decomposition
	err := llms.GenerateJSON(ctx, e.llm,
		llms.SystemAndUser(
			fmt.Sprintf(decomposePrompt, e.cfg.MaxSubQueries),
			fmt.Sprintf("Query: %s", query),
		),
		llms.GenerateOptions{Temperature: 0.2, MaxTokens: 600, JSONSchema: llms.SchemaFor(&decomposition{})},
		&out,
	)
	if err != nil {
		return nil, err
	}
	if len(out.SubQueries) == 0 {
		return nil, fmt.Errorf("decomposition produced no sub-queries")
	}
	if len(out.SubQueries) > e.cfg.MaxSubQueries {
		out.SubQueries = out.SubQueries[:e.cfg.MaxSubQueries]
	}
	return out.SubQueries, nil
}

// retrieveDecomposed runs sub-queries in dependency layers: within a
// layer, independents run in parallel; layers are ordered by priority.
// Results merge by document ID keeping the best score.
func (e *Engine) retrieveDecomposed(ctx context.Context, st *State, subs []SubQuery) (*search.Response, error) {
	done := make(map[int]bool)
	merged := make(map[string]search.Result)
	var strategy search.Strategy
	degraded := false
	var warnings []string

	for len(done) < len(subs) {
		layer := readyLayer(subs, done)
		if len(layer) == 0 {
			// Unsatisfiable dependencies; run the remainder anyway.
			for _, sq := range subs {
				if !done[sq.ID] {
					layer = append(layer, sq)
				}
			}
		}

		var mu sync.Mutex
		g, gctx := errgroup.WithContext(ctx)
		for _, sq := range layer {
			sq := sq
			g.Go(func() error {
				resp, err := e.doRetrieve(gctx, e.searchRequest(st, sq.Query))
				if err != nil {
					return err
				}
				mu.Lock()
				defer mu.Unlock()
				strategy = resp.Strategy
				degraded = degraded || resp.Degraded
				warnings = append(warnings, resp.Warnings...)
				for _, r := range resp.Results {
					if r.Metadata == nil {
						r.Metadata = map[string]interface{}{}
					}
					r.Metadata["sub_query"] = sq.ID
					if prev, ok := merged[r.ID]; !ok || r.Score > prev.Score {
						merged[r.ID] = r
					}
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
		for _, sq := range layer {
			done[sq.ID] = true
		}
	}

	results := make([]search.Result, 0, len(merged))
	for _, r := range merged {
		results = append(results, r)
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})
	if limit := st.effectiveTopK(); len(results) > limit {
		results = results[:limit]
	}
	return &search.Response{
		Results:  results,
		Strategy: strategy,
		Degraded: degraded,
		Warnings: warnings,
	}, nil
}

// readyLayer returns undone sub-queries whose dependencies are all done,
// ordered by priority then id.
func readyLayer(subs []SubQuery, done map[int]bool) []SubQuery {
	var layer []SubQuery
	for _, sq := range subs {
		if done[sq.ID] {
			continue
		}
		ready := true
		for _, dep := range sq.Dependencies {
			if !done[dep] {
				ready = false
				break
			}
		}
		if ready {
			layer = append(layer, sq)
		}
	}
	sort.Slice(layer, func(i, j int) bool {
		if layer[i].Priority != layer[j].Priority {
			return layer[i].Priority < layer[j].Priority
		}
		return layer[i].ID < layer[j].ID
	})
	return layer
}
