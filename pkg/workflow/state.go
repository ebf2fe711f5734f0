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
	"time"

	"github.com/lumensearch/lumen/pkg/faults"
	"github.com/lumensearch/lumen/pkg/graph"
	"github.com/lumensearch/lumen/pkg/memory"
	"github.com/lumensearch/lumen/pkg/search"
)

// Intent is the classified purpose of a query.
type Intent string

const (
	IntentDocumentSearch   Intent = "DOCUMENT_SEARCH"
	IntentGeneralKnowledge Intent = "GENERAL_KNOWLEDGE"
	IntentSystemMeta       Intent = "SYSTEM_META"
	IntentComparison       Intent = "COMPARISON"
	IntentSummarization    Intent = "SUMMARIZATION"
	IntentAnalysis         Intent = "ANALYSIS"
	IntentClarification    Intent = "CLARIFICATION_NEEDED"
)

// ParseIntent maps a model-emitted tag onto a known intent,
// defaulting to DOCUMENT_SEARCH.
func ParseIntent(s string) Intent {
	switch Intent(s) {
	case IntentDocumentSearch, IntentGeneralKnowledge, IntentSystemMeta,
		IntentComparison, IntentSummarization, IntentAnalysis, IntentClarification:
		return Intent(s)
	}
	return IntentDocumentSearch
}

// nodeName identifies a state machine node.
type nodeName string

const (
	nodeLoadContext    nodeName = "load_context"
	nodeClassify       nodeName = "classify"
	nodeRetrieve       nodeName = "retrieve"
	nodeExplain        nodeName = "explain"
	nodeQualityCheck   nodeName = "quality_check"
	nodeSynthesize     nodeName = "answer_synthesize"
	nodeDirectAnswer   nodeName = "direct_answer"
	nodeClarify        nodeName = "clarify"
	nodeAnalyze        nodeName = "analyze_or_summarize"
	nodeDocumentAttach nodeName = "document_attach"
	nodePersist        nodeName = "persist"
	nodeEnd            nodeName = "end"
)

// Request starts one workflow run.
type Request struct {
	Query             string                 `json:"query"`
	UserID            string                 `json:"user_id,omitempty"`
	SessionID         string                 `json:"session_id,omitempty"`
	AttachedDocuments []string               `json:"attached_documents,omitempty"`
	TopK              int                    `json:"top_k,omitempty"`
	Filters           map[string]interface{} `json:"filters,omitempty"`

	// UseHybrid, when explicitly false, pins retrieval to the semantic
	// posture instead of letting query features pick one.
	UseHybrid *bool `json:"use_hybrid,omitempty"`
}

const maxQueryLength = 1000

func (r *Request) validate() error {
	if r.Query == "" {
		return faults.New(faults.KindInputInvalid, "workflow", "Process", "query must not be empty", nil)
	}
	if len(r.Query) > maxQueryLength {
		return faults.New(faults.KindInputInvalid, "workflow", "Process", "query exceeds 1000 characters", nil)
	}
	if r.TopK < 0 {
		return faults.New(faults.KindInputInvalid, "workflow", "Process", "top_k must be positive", nil)
	}
	return nil
}

// State is the mutable per-request workflow state. It is owned
// exclusively by the driver goroutine; no cross-request sharing.
type State struct {
	Query                    string
	Intent                   Intent
	ClassificationConfidence float64
	ExtractedFilters         map[string]interface{}
	ExtractedEntities        []string
	AttachedDocuments        []string
	SessionContext           *memory.Context
	UserPreferences          memory.Preferences
	SearchResults            []search.Result
	GraphContext             *graph.Expansion
	Response                 string
	Confidence               float64
	Err                      error
	Steps                    []Step
	NextAction               nodeName

	userID      string
	sessionID   string
	topK        int
	useHybrid   *bool
	strategy    search.Strategy
	searchTime  time.Duration
	degraded    bool
	warnings    []string
	routingPath []string

	queryEmbedding []float32
	correctiveDone bool
	attachContext  string
	attachSources  []string
	followups      []string
	episodeID      int64
	started        time.Time
}

func newState(req *Request) *State {
	return &State{
		Query:             req.Query,
		ExtractedFilters:  req.Filters,
		AttachedDocuments: req.AttachedDocuments,
		userID:            req.UserID,
		sessionID:         req.SessionID,
		topK:              req.TopK,
		useHybrid:         req.UseHybrid,
		started:           time.Now(),
	}
}

// FinalResult is the payload of the terminal complete event.
type FinalResult struct {
	Response           string          `json:"response"`
	Results            []search.Result `json:"results"`
	Confidence         float64         `json:"confidence"`
	Steps              []Step          `json:"steps"`
	RoutingPath        []string        `json:"routing_path"`
	Intent             Intent          `json:"intent"`
	SearchTime         time.Duration   `json:"search_time"`
	TotalTime          time.Duration   `json:"total_time"`
	SuggestedFollowups []string        `json:"suggested_followups,omitempty"`
	EpisodeID          int64           `json:"episode_id,omitempty"`
	Degraded           bool            `json:"degraded,omitempty"`
	Warnings           []string        `json:"warnings,omitempty"`
}

func (s *State) finalResult() *FinalResult {
	return &FinalResult{
		Response:           s.Response,
		Results:            s.SearchResults,
		Confidence:         s.Confidence,
		Steps:              s.Steps,
		RoutingPath:        s.routingPath,
		Intent:             s.Intent,
		SearchTime:         s.searchTime,
		TotalTime:          time.Since(s.started),
		SuggestedFollowups: s.followups,
		EpisodeID:          s.episodeID,
		Degraded:           s.degraded,
		Warnings:           s.warnings,
	}
}

// Retriever is the retrieval capability port.
type Retriever interface {
	Retrieve(ctx context.Context, req *search.Request) (*search.Response, error)
}

// Memory is the three-tier memory capability port.
type Memory interface {
	LoadContext(ctx context.Context, userID, sessionID string, queryEmbedding []float32) *memory.Context
	Record(ctx context.Context, userID, sessionID string, interaction *memory.Interaction) (int64, error)
}

// Attacher builds a bounded context block from explicitly attached
// documents, bypassing open-set retrieval.
type Attacher interface {
	ContextBlock(ctx context.Context, attachmentIDs []string) (block string, sources []string, err error)
}
