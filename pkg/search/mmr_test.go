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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiversifyPrefersNovelty(t *testing.T) {
	e1 := []float32{1, 0, 0}
	e2 := []float32{0, 1, 0}

	candidates := []Result{
		{ID: "a", Score: 1.0, Embedding: e1},
		{ID: "b", Score: 0.95, Embedding: e1}, // near-duplicate of a
		{ID: "c", Score: 0.9, Embedding: e2},
	}

	picked := diversify(candidates, 0.5, 2)
	require.Len(t, picked, 2)
	assert.Equal(t, "a", picked[0].ID)
	assert.Equal(t, "c", picked[1].ID, "duplicate is skipped for the novel document")
}

func TestDiversifyZeroLambdaTruncates(t *testing.T) {
	candidates := []Result{
		{ID: "a", Score: 1.0},
		{ID: "b", Score: 0.9},
		{ID: "c", Score: 0.8},
	}
	picked := diversify(candidates, 0, 2)
	require.Len(t, picked, 2)
	assert.Equal(t, "a", picked[0].ID)
	assert.Equal(t, "b", picked[1].ID)
}
