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
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumensearch/lumen/pkg/config"
)

func boolPtr(b bool) *bool { return &b }

func TestHTTPRerankerBatchesAndNormalizes(t *testing.T) {
	var batchSizes []int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rerankRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		batchSizes = append(batchSizes, len(req.Texts))

		entries := make([]rerankEntry, len(req.Texts))
		for i := range req.Texts {
			entries[i] = rerankEntry{Index: i, Score: float64(i)}
		}
		json.NewEncoder(w).Encode(entries)
	}))
	defer server.Close()

	cfg := &config.RerankerConfig{Enabled: boolPtr(true), Endpoint: server.URL, BatchSize: 2, MaxCandidates: 50}
	r := NewHTTPReranker(cfg)

	docs := []Document{{ID: "a", Text: "1"}, {ID: "b", Text: "2"}, {ID: "c", Text: "3"}}
	scores, err := r.Rerank(context.Background(), "query", docs)
	require.NoError(t, err)
	require.Len(t, scores, 3)
	assert.Equal(t, []int{2, 1}, batchSizes)

	for _, s := range scores {
		assert.GreaterOrEqual(t, s.Score, 0.0)
		assert.LessOrEqual(t, s.Score, 1.0)
	}
	// Logit 0 squashes to 0.5.
	assert.InDelta(t, 0.5, scores[0].Score, 1e-9)
}

func TestHTTPRerankerCapsCandidates(t *testing.T) {
	var total int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rerankRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		total += len(req.Texts)
		json.NewEncoder(w).Encode([]rerankEntry{})
	}))
	defer server.Close()

	cfg := &config.RerankerConfig{Enabled: boolPtr(true), Endpoint: server.URL, BatchSize: 10, MaxCandidates: 5}
	r := NewHTTPReranker(cfg)

	docs := make([]Document, 20)
	for i := range docs {
		docs[i] = Document{ID: string(rune('a' + i))}
	}
	_, err := r.Rerank(context.Background(), "q", docs)
	require.NoError(t, err)
	assert.Equal(t, 5, total)
}

func TestNoopPreservesOrder(t *testing.T) {
	scores, err := Noop{}.Rerank(context.Background(), "q", []Document{{ID: "x"}, {ID: "y"}})
	require.NoError(t, err)
	assert.Equal(t, "x", scores[0].ID)
	assert.Equal(t, "y", scores[1].ID)
	assert.Zero(t, scores[0].Score)
}

func TestDocumentText(t *testing.T) {
	assert.Equal(t, "detailed", DocumentText(map[string]interface{}{"detailed_summary": "detailed", "summary": "short"}, "body"))
	assert.Equal(t, "short", DocumentText(map[string]interface{}{"summary": "short"}, "body"))

	long := make([]byte, 3000)
	for i := range long {
		long[i] = 'x'
	}
	assert.Len(t, DocumentText(nil, string(long)), 2000)
}
