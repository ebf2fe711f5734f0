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

package config

import (
	"fmt"
	"math"
)

// SearchConfig tunes the hybrid retrieval pipeline.
type SearchConfig struct {
	// RecallTopK is the candidate pool size fetched from each leg (default 50).
	RecallTopK int `yaml:"recall_top_k"`

	// RerankTopK is the final result size (default 5).
	RerankTopK int `yaml:"rerank_top_k"`

	// Hybrid fusion weights; must sum to 1.
	Hybrid HybridWeights `yaml:"hybrid"`

	// MinScore is the score floor applied after fusion and reranking.
	MinScore float64 `yaml:"min_score"`

	// RRFK is the Reciprocal Rank Fusion constant (default 60).
	RRFK int `yaml:"rrf_k"`

	// GraphWeight scales the graph-augmentation contribution.
	GraphWeight float64 `yaml:"graph_weight"`

	// GraphHops bounds BFS during EXPLORATORY retrieval.
	GraphHops int `yaml:"graph_hops"`

	// TimeWeight scales recency bias for TEMPORAL retrieval.
	TimeWeight float64 `yaml:"time_weight"`

	// TimeoutSeconds bounds the whole retrieval stage.
	TimeoutSeconds int `yaml:"timeout_seconds"`
}

// HybridWeights are the vector/lexical fusion weights.
type HybridWeights struct {
	VectorWeight float64 `yaml:"vector_weight"`
	BM25Weight   float64 `yaml:"bm25_weight"`
}

func (c *SearchConfig) SetDefaults() {
	if c.RecallTopK == 0 {
		c.RecallTopK = 50
	}
	if c.RerankTopK == 0 {
		c.RerankTopK = 5
	}
	if c.Hybrid.VectorWeight == 0 && c.Hybrid.BM25Weight == 0 {
		c.Hybrid.VectorWeight = 0.7
		c.Hybrid.BM25Weight = 0.3
	}
	if c.MinScore == 0 {
		c.MinScore = 0.3
	}
	if c.RRFK == 0 {
		c.RRFK = 60
	}
	if c.GraphWeight == 0 {
		c.GraphWeight = 0.3
	}
	if c.GraphHops == 0 {
		c.GraphHops = 2
	}
	if c.TimeWeight == 0 {
		c.TimeWeight = 0.2
	}
	if c.TimeoutSeconds == 0 {
		c.TimeoutSeconds = 10
	}
}

func (c *SearchConfig) Validate() error {
	if c.RecallTopK < 1 {
		return fmt.Errorf("recall_top_k must be positive")
	}
	if c.RerankTopK < 1 || c.RerankTopK > 50 {
		return fmt.Errorf("rerank_top_k must be in 1..50")
	}
	sum := c.Hybrid.VectorWeight + c.Hybrid.BM25Weight
	if math.Abs(sum-1.0) > 1e-9 {
		return fmt.Errorf("hybrid weights must sum to 1, got %.3f", sum)
	}
	if c.MinScore < 0 || c.MinScore > 1 {
		return fmt.Errorf("min_score must be in [0,1]")
	}
	return nil
}
