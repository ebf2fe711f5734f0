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

// Package memory implements the three memory tiers: short-term session
// state, durable episodic records, and learned procedural preferences.
// The coordinator composes them into per-query context loading and
// per-response persistence.
package memory

import "time"

// Turn is one utterance in a session window.
type Turn struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Intent    string    `json:"intent,omitempty"`
	ResultIDs []string  `json:"result_ids,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Session is the short-term conversation state.
type Session struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id,omitempty"`
	Turns        []Turn    `json:"turns"`
	LastIntent   string    `json:"last_intent,omitempty"`
	LastResults  []string  `json:"last_results,omitempty"`
	LastActivity time.Time `json:"last_activity"`
}

// Episode is a durable record of one query+response exchange.
type Episode struct {
	ID             int64
	UserID         string
	Query          string
	QueryEmbedding []float32
	Response       string
	ResultIDs      []string
	Confidence     float64
	Feedback       int
	Strategy       string
	Reranked       bool
	CreatedAt      time.Time
	AccessCount    int
	DecayFactor    float64
}

// ScoredEpisode carries recall scores alongside the episode.
type ScoredEpisode struct {
	Episode
	Similarity    float64
	AdjustedScore float64
}

// Pattern type names for procedural learning.
const (
	PatternStrategy = "preferred_strategy"
	PatternRerank   = "should_rerank"
	PatternWeights  = "hybrid_weights"
)

// Pattern is one learned (user, type, key) preference with its
// observation counters.
type Pattern struct {
	UserID       string
	PatternType  string
	DataKey      string
	SuccessCount int
	FailureCount int
}

func (p Pattern) Samples() int {
	return p.SuccessCount + p.FailureCount
}

func (p Pattern) Confidence() float64 {
	total := p.Samples()
	if total == 0 {
		return 0
	}
	return float64(p.SuccessCount) / float64(total)
}

// Preferences are the procedural patterns that cleared the confidence
// and sample-size gates.
type Preferences struct {
	PreferredStrategy string
	ShouldRerank      *bool
	VectorWeight      float64
	LexicalWeight     float64
}

// TopicInterest is an accumulated per-user topic score.
type TopicInterest struct {
	Topic string
	Score float64
}

// Context is everything the coordinator loads for one query.
type Context struct {
	Session        *Session
	Episodes       []ScoredEpisode
	Preferences    Preferences
	TopicInterests []TopicInterest
	Degraded       bool
}

// Interaction is what the coordinator persists after one response.
type Interaction struct {
	Query          string
	QueryEmbedding []float32
	Response       string
	ResultIDs      []string
	Confidence     float64
	Intent         string
	Strategy       string
	Reranked       bool
	Topics         []string
	Success        bool
}
