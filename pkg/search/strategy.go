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
	"regexp"
	"strings"

	"github.com/lumensearch/lumen/pkg/config"
)

// Strategy names the retrieval posture chosen from query features.
type Strategy string

const (
	StrategyPrecise     Strategy = "PRECISE"
	StrategySemantic    Strategy = "SEMANTIC"
	StrategyHybrid      Strategy = "HYBRID"
	StrategyExploratory Strategy = "EXPLORATORY"
	StrategyTemporal    Strategy = "TEMPORAL"
)

// Params are the per-strategy retrieval knobs.
type Params struct {
	VectorWeight  float64
	LexicalWeight float64
	MinScore      float64
	GraphWeight   float64
	GraphHops     int
	TimeWeight    float64
	PreferRecent  bool
}

// preciseFloor is the minimum score floor for exact-match retrieval.
const preciseFloor = 0.5

// ParamsFor resolves the parameter set for a strategy from the
// configured weights. Strategies diverge from the hybrid baseline only
// where their posture demands it.
func ParamsFor(strategy Strategy, cfg *config.SearchConfig) Params {
	params := Params{
		VectorWeight:  cfg.Hybrid.VectorWeight,
		LexicalWeight: cfg.Hybrid.BM25Weight,
		MinScore:      cfg.MinScore,
	}
	switch strategy {
	case StrategyPrecise:
		params.VectorWeight, params.LexicalWeight = 0.0, 1.0
		if params.MinScore < preciseFloor {
			params.MinScore = preciseFloor
		}
	case StrategyExploratory:
		params.GraphWeight = cfg.GraphWeight
		params.GraphHops = cfg.GraphHops
	case StrategyTemporal:
		params.TimeWeight = cfg.TimeWeight
		params.PreferRecent = true
	}
	return params
}

var (
	fileCuePattern = regexp.MustCompile(`(?i)\.\b(pdf|docx?|xlsx?|txt|md|csv|png|jpe?g)\b|"[^"]+"`)
	yearPattern    = regexp.MustCompile(`\b(19|20)\d{2}\b`)
)

var temporalCues = []string{
	"yesterday", "today", "last week", "last month", "last year",
	"recent", "recently", "latest", "newest", "this week", "this month",
}

var exploratoryCues = []string{
	"related to", "connected to", "relationship between", "linked to",
	"associated with", "everything about",
}

// SelectStrategy picks a retrieval posture from query features. Rules
// are ordered; the first match wins, so the choice is deterministic.
func SelectStrategy(query string, entityCount int) Strategy {
	lower := strings.ToLower(query)
	tokens := strings.Fields(lower)

	if fileCuePattern.MatchString(query) {
		return StrategyPrecise
	}
	if yearPattern.MatchString(query) || containsAny(lower, temporalCues) {
		return StrategyTemporal
	}
	if entityCount >= 2 || containsAny(lower, exploratoryCues) {
		return StrategyExploratory
	}
	if len(tokens) >= 8 {
		return StrategySemantic
	}
	return StrategyHybrid
}

func containsAny(text string, cues []string) bool {
	for _, cue := range cues {
		if strings.Contains(text, cue) {
			return true
		}
	}
	return false
}
