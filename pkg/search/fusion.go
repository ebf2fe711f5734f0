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

import "sort"

// rankedList is one retrieval leg's ordered candidate IDs with a
// relative weight.
type rankedList struct {
	ids    []string
	weight float64
}

// fuseRRF combines ranked lists by weighted Reciprocal Rank Fusion:
// score(d) = sum over lists of weight * 1/(k + rank), rank 1-based.
// Absent ranks contribute nothing. The union is returned sorted
// descending, ties broken by ID for determinism.
func fuseRRF(k int, lists ...rankedList) []scoredID {
	if k <= 0 {
		k = 60
	}
	scores := make(map[string]float64)
	for _, list := range lists {
		for i, id := range list.ids {
			scores[id] += list.weight / float64(k+i+1)
		}
	}

	fused := make([]scoredID, 0, len(scores))
	for id, score := range scores {
		fused = append(fused, scoredID{ID: id, Score: score})
	}
	sort.Slice(fused, func(i, j int) bool {
		if fused[i].Score != fused[j].Score {
			return fused[i].Score > fused[j].Score
		}
		return fused[i].ID < fused[j].ID
	})
	return fused
}

type scoredID struct {
	ID    string
	Score float64
}
