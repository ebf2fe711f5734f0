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

package evaluation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScoreBaseline(t *testing.T) {
	s := NewScorer()

	// No sources, short answer, absent critic: 0.5 + 0 + 0 + 0.10 + 0.1 + 0.
	got := s.Score(Input{Answer: "short", CriticScore: -1})
	assert.InDelta(t, 0.70, got, 1e-9)
}

func TestScoreWellGrounded(t *testing.T) {
	s := NewScorer()

	answer := "According to the quarterly report, revenue grew 12%. " +
		strings.Repeat("Additional detail. ", 10)
	got := s.Score(Input{
		Answer:         answer,
		SourceCount:    5,
		TopSourceScore: 0.9,
		CriticScore:    0.8,
	})
	// 0.5 + 0.2 + 0.18 + 0.15 + 0.16 + certainty bonus.
	assert.Greater(t, got, 0.9)
	assert.LessOrEqual(t, got, 1.0)
}

func TestScoreHedgedAnswer(t *testing.T) {
	s := NewScorer()

	confident := s.Score(Input{Answer: "According to the document, the answer is clearly stated as 42 and confirmed by the appendix.", SourceCount: 3, TopSourceScore: 0.8, CriticScore: -1})
	hedged := s.Score(Input{Answer: "I'm not sure, but it might be 42. Perhaps the appendix is unclear about this value entirely.", SourceCount: 3, TopSourceScore: 0.8, CriticScore: -1})

	assert.Greater(t, confident, hedged)
}

func TestScoreClamped(t *testing.T) {
	s := NewScorer()

	got := s.Score(Input{
		Answer:         "According to the document, specifically, clearly, confirmed, as shown in the document states " + strings.Repeat("x", 100),
		SourceCount:    100,
		TopSourceScore: 5.0,
		CriticScore:    5.0,
	})
	assert.LessOrEqual(t, got, 1.0)

	low := s.Score(Input{Answer: "", SourceCount: 0, TopSourceScore: 0, CriticScore: 0})
	assert.GreaterOrEqual(t, low, 0.0)
}

func TestCertaintyAdjustmentBounds(t *testing.T) {
	s := NewScorer()

	many := strings.Repeat("possibly might be perhaps ", 20)
	adj := s.certaintyAdjustment(many)
	assert.GreaterOrEqual(t, adj, -0.2)
	assert.LessOrEqual(t, adj, 0.2)
}
