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

import "github.com/lumensearch/lumen/pkg/embedders"

// diversify applies maximal marginal relevance: greedily pick the
// candidate maximizing (1-lambda)*relevance - lambda*maxSimToSelected.
// Candidates without embeddings contribute zero pair similarity and are
// ranked by relevance alone.
func diversify(candidates []Result, lambda float64, limit int) []Result {
	if lambda <= 0 || len(candidates) <= 1 {
		if len(candidates) > limit {
			return candidates[:limit]
		}
		return candidates
	}

	remaining := append([]Result(nil), candidates...)
	selected := make([]Result, 0, limit)

	for len(selected) < limit && len(remaining) > 0 {
		bestIdx := 0
		bestValue := mmrValue(remaining[0], selected, lambda)
		for i := 1; i < len(remaining); i++ {
			if v := mmrValue(remaining[i], selected, lambda); v > bestValue {
				bestIdx, bestValue = i, v
			}
		}
		selected = append(selected, remaining[bestIdx])
		remaining = append(remaining[:bestIdx], remaining[bestIdx+1:]...)
	}
	return selected
}

func mmrValue(candidate Result, selected []Result, lambda float64) float64 {
	maxSim := 0.0
	for _, s := range selected {
		if len(candidate.Embedding) == 0 || len(s.Embedding) != len(candidate.Embedding) {
			continue
		}
		if sim := float64(embedders.Cosine(candidate.Embedding, s.Embedding)); sim > maxSim {
			maxSim = sim
		}
	}
	return (1-lambda)*candidate.Score - lambda*maxSim
}
