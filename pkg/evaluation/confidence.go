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

// Package evaluation scores generated answers for UI display and
// procedural learning.
package evaluation

import "strings"

// Default marker lists. Overridable for callers that tune phrasing per
// model.
var (
	DefaultCertaintyPhrases = []string{
		"according to",
		"the document states",
		"as shown in",
		"specifically",
		"clearly",
		"confirmed",
	}
	DefaultUncertaintyPhrases = []string{
		"i'm not sure",
		"i am not sure",
		"it's unclear",
		"it is unclear",
		"possibly",
		"might be",
		"may be",
		"perhaps",
		"i don't know",
		"i do not know",
		"cannot determine",
		"no relevant information",
	}
)

// Input carries everything the confidence formula consumes.
type Input struct {
	Answer         string
	SourceCount    int
	TopSourceScore float64
	// CriticScore is an externally supplied retrieval-quality score.
	// Negative means absent.
	CriticScore float64
}

// Scorer computes answer confidence. The zero value is not usable;
// construct with NewScorer.
type Scorer struct {
	certainty   []string
	uncertainty []string
}

func NewScorer() *Scorer {
	return &Scorer{
		certainty:   DefaultCertaintyPhrases,
		uncertainty: DefaultUncertaintyPhrases,
	}
}

// Score combines a 0.5 prior with capped contributions from source
// count, top source quality, answer length, retrieval quality, and
// hedge-phrase analysis. Result is clamped to [0, 1].
func (s *Scorer) Score(in Input) float64 {
	confidence := 0.5

	sources := float64(in.SourceCount) / 5
	if sources > 1 {
		sources = 1
	}
	confidence += sources * 0.2

	confidence += clamp(in.TopSourceScore, 0, 1) * 0.2

	length := len(in.Answer)
	if length >= 50 && length <= 2000 {
		confidence += 0.15
	} else {
		confidence += 0.10
	}

	critic := in.CriticScore
	if critic < 0 {
		critic = 0.5
	}
	confidence += clamp(critic, 0, 1) * 0.2

	confidence += s.certaintyAdjustment(in.Answer)

	return clamp(confidence, 0, 1)
}

// certaintyAdjustment counts marker phrases from the closed lists,
// normalizes each count against its list size, and returns the combined
// adjustment clamped to [-0.2, 0.2].
func (s *Scorer) certaintyAdjustment(answer string) float64 {
	lower := strings.ToLower(answer)

	certain := countPhrases(lower, s.certainty)
	uncertain := countPhrases(lower, s.uncertainty)

	c := float64(certain) / float64(len(s.certainty))
	u := float64(uncertain) / float64(len(s.uncertainty))
	if c > 1 {
		c = 1
	}
	if u > 1 {
		u = 1
	}
	return clamp(0.2*c-0.2*u, -0.2, 0.2)
}

func countPhrases(text string, phrases []string) int {
	n := 0
	for _, p := range phrases {
		n += strings.Count(text, p)
	}
	return n
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
