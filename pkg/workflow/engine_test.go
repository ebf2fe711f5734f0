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
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumensearch/lumen/pkg/config"
	"github.com/lumensearch/lumen/pkg/faults"
	"github.com/lumensearch/lumen/pkg/llms"
	"github.com/lumensearch/lumen/pkg/search"
)

type mockLLM struct {
	generateFn   func(prompt string) (string, error)
	streamChunks []string
	streamBlock  bool
}

func (m *mockLLM) Generate(ctx context.Context, messages []llms.Message, opts llms.GenerateOptions) (string, error) {
	var b strings.Builder
	for _, msg := range messages {
		b.WriteString(msg.Content)
		b.WriteString("\n")
	}
	if m.streamBlock {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if m.generateFn == nil {
		return "", errors.New("no generate behavior scripted")
	}
	return m.generateFn(b.String())
}

func (m *mockLLM) GenerateStream(ctx context.Context, messages []llms.Message, opts llms.GenerateOptions) (<-chan llms.StreamChunk, error) {
	ch := make(chan llms.StreamChunk)
	go func() {
		defer close(ch)
		if m.streamBlock {
			<-ctx.Done()
			select {
			case ch <- llms.StreamChunk{Err: ctx.Err()}:
			default:
			}
			return
		}
		for _, text := range m.streamChunks {
			select {
			case ch <- llms.StreamChunk{Text: text}:
			case <-ctx.Done():
				return
			}
		}
		ch <- llms.StreamChunk{Done: true}
	}()
	return ch, nil
}

func (m *mockLLM) ModelName() string { return "mock" }
func (m *mockLLM) Close() error      { return nil }

type mockRetriever struct {
	mu    sync.Mutex
	calls int
	queue []*search.Response
	err   error
}

func (m *mockRetriever) Retrieve(ctx context.Context, req *search.Request) (*search.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	if len(m.queue) == 0 {
		return &search.Response{Strategy: search.StrategyHybrid}, nil
	}
	resp := m.queue[0]
	if len(m.queue) > 1 {
		m.queue = m.queue[1:]
	}
	return resp, nil
}

func (m *mockRetriever) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

type mockAttacher struct {
	block   string
	sources []string
	err     error
}

func (m *mockAttacher) ContextBlock(ctx context.Context, ids []string) (string, []string, error) {
	return m.block, m.sources, m.err
}

func searchResponse(scores map[string]float64) *search.Response {
	resp := &search.Response{Strategy: search.StrategyHybrid}
	for id, score := range scores {
		resp.Results = append(resp.Results, search.Result{
			ID:       id,
			Filename: id + ".txt",
			Score:    score,
			Summary:  "summary of " + id,
		})
	}
	// Highest first, the way the pipeline returns them.
	for i := 0; i < len(resp.Results); i++ {
		for j := i + 1; j < len(resp.Results); j++ {
			if resp.Results[j].Score > resp.Results[i].Score {
				resp.Results[i], resp.Results[j] = resp.Results[j], resp.Results[i]
			}
		}
	}
	return resp
}

func testEngine(t *testing.T, deps Deps) *Engine {
	t.Helper()
	cfg := &config.WorkflowConfig{}
	cfg.SetDefaults()
	return NewEngine(cfg, deps)
}

func collectEvents(t *testing.T, events <-chan Event) []Event {
	t.Helper()
	var out []Event
	timeout := time.After(10 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatalf("event stream did not close; got %d events", len(out))
		}
	}
}

func eventIndex(events []Event, typ EventType, stage string) int {
	for i, ev := range events {
		if ev.Type != typ {
			continue
		}
		if stage == "" {
			return i
		}
		if step, ok := ev.Data.(Step); ok && step.Stage == stage {
			return i
		}
	}
	return -1
}

func TestProcessRejectsInvalidRequests(t *testing.T) {
	e := testEngine(t, Deps{LLM: &mockLLM{}, Retriever: &mockRetriever{}})

	_, err := e.Process(context.Background(), &Request{Query: ""})
	assert.Equal(t, faults.KindInputInvalid, faults.KindOf(err))

	_, err = e.Process(context.Background(), &Request{Query: strings.Repeat("q", 1001)})
	assert.Equal(t, faults.KindInputInvalid, faults.KindOf(err))

	_, err = e.Process(context.Background(), &Request{Query: "ok", TopK: -1})
	assert.Equal(t, faults.KindInputInvalid, faults.KindOf(err))
}

func TestProcessEventOrdering(t *testing.T) {
	retriever := &mockRetriever{queue: []*search.Response{
		searchResponse(map[string]float64{"ml-paper": 1.0, "meeting-notes": 0.6}),
	}}
	llm := &mockLLM{
		streamChunks: []string{"Grounded ", "answer."},
		generateFn: func(prompt string) (string, error) {
			return `{"followups": ["What changed since?"]}`, nil
		},
	}
	e := testEngine(t, Deps{LLM: llm, Retriever: retriever})

	events, err := e.Process(context.Background(), &Request{Query: "my report file from the meeting"})
	require.NoError(t, err)
	got := collectEvents(t, events)

	classifyIdx := eventIndex(got, EventStep, "classify")
	retrieveIdx := eventIndex(got, EventStep, "retrieve")
	partialIdx := eventIndex(got, EventPartialResults, "")
	chunkIdx := eventIndex(got, EventAnswerChunk, "")
	confidenceIdx := eventIndex(got, EventConfidence, "")
	completeIdx := eventIndex(got, EventComplete, "")

	require.True(t, classifyIdx >= 0 && retrieveIdx >= 0 && partialIdx >= 0 &&
		chunkIdx >= 0 && confidenceIdx >= 0 && completeIdx >= 0,
		"missing event types: %+v", got)
	assert.Less(t, classifyIdx, retrieveIdx)
	assert.Less(t, retrieveIdx, partialIdx)
	assert.Less(t, partialIdx, chunkIdx)
	assert.Less(t, chunkIdx, confidenceIdx)
	assert.Less(t, confidenceIdx, completeIdx)
	assert.Equal(t, completeIdx, len(got)-1, "complete is terminal")

	final, ok := got[completeIdx].Data.(*FinalResult)
	require.True(t, ok)
	assert.Equal(t, "Grounded answer.", final.Response)
	assert.Equal(t, IntentDocumentSearch, final.Intent)
	assert.Contains(t, final.RoutingPath, "retrieve")
	assert.Equal(t, []string{"What changed since?"}, final.SuggestedFollowups)
	assert.Greater(t, final.Confidence, 0.0)
	assert.Equal(t, "ml-paper", final.Results[0].ID)
}

func TestProcessDirectAnswerPath(t *testing.T) {
	retriever := &mockRetriever{}
	llm := &mockLLM{
		streamChunks: []string{"A vector database stores embeddings."},
		generateFn: func(prompt string) (string, error) {
			return `{"followups": []}`, nil
		},
	}
	e := testEngine(t, Deps{LLM: llm, Retriever: retriever})

	events, err := e.Process(context.Background(), &Request{Query: "what is a vector database"})
	require.NoError(t, err)
	got := collectEvents(t, events)

	assert.Equal(t, -1, eventIndex(got, EventPartialResults, ""), "no retrieval on the direct path")
	assert.Equal(t, 0, retriever.callCount())

	completeIdx := eventIndex(got, EventComplete, "")
	require.GreaterOrEqual(t, completeIdx, 0)
	final := got[completeIdx].Data.(*FinalResult)
	assert.Equal(t, IntentGeneralKnowledge, final.Intent)
	assert.Contains(t, final.RoutingPath, "direct_answer")
	assert.NotContains(t, final.RoutingPath, "retrieve")
}

func TestProcessCancellation(t *testing.T) {
	// Classification falls through to a model call that never returns.
	llm := &mockLLM{streamBlock: true}
	e := testEngine(t, Deps{LLM: llm, Retriever: &mockRetriever{}})

	ctx, cancel := context.WithCancel(context.Background())
	events, err := e.Process(ctx, &Request{Query: "tell me about the cluster"})
	require.NoError(t, err)

	time.AfterFunc(200*time.Millisecond, cancel)
	start := time.Now()
	got := collectEvents(t, events)
	elapsed := time.Since(start)

	assert.Less(t, elapsed, time.Second+200*time.Millisecond,
		"terminal error must arrive within 1s of cancellation")

	require.NotEmpty(t, got)
	last := got[len(got)-1]
	require.Equal(t, EventError, last.Type)
	payload := last.Data.(ErrorPayload)
	assert.Equal(t, string(faults.KindCancelled), payload.Kind)
}

func TestProcessCorrectiveRetrieval(t *testing.T) {
	retriever := &mockRetriever{queue: []*search.Response{
		searchResponse(map[string]float64{"weak": 0.2}),
		searchResponse(map[string]float64{"strong": 0.9}),
	}}
	llm := &mockLLM{
		streamChunks: []string{"Answer about Acme."},
		generateFn: func(prompt string) (string, error) {
			if strings.Contains(prompt, "Classify the intent") {
				return `{"intent": "DOCUMENT_SEARCH", "confidence": 0.9}`, nil
			}
			return `{"followups": []}`, nil
		},
	}
	e := testEngine(t, Deps{LLM: llm, Retriever: retriever})

	events, err := e.Process(context.Background(), &Request{Query: "the Acme contract details"})
	require.NoError(t, err)
	got := collectEvents(t, events)

	assert.Equal(t, 2, retriever.callCount(), "one corrective pass")

	completeIdx := eventIndex(got, EventComplete, "")
	require.GreaterOrEqual(t, completeIdx, 0)
	final := got[completeIdx].Data.(*FinalResult)
	require.NotEmpty(t, final.Results)
	assert.Equal(t, "strong", final.Results[0].ID)

	corrective := false
	for _, step := range final.Steps {
		if step.Stage == "quality_check" && step.Action == "corrective_retrieval" {
			corrective = true
		}
	}
	assert.True(t, corrective)
}

func TestProcessAttachmentPath(t *testing.T) {
	retriever := &mockRetriever{}
	llm := &mockLLM{
		streamChunks: []string{"Per invoice.pdf, the total is 40."},
		generateFn: func(prompt string) (string, error) {
			return `{"followups": []}`, nil
		},
	}
	attacher := &mockAttacher{block: "[invoice.pdf]\nTotal: 40", sources: []string{"invoice.pdf"}}
	e := testEngine(t, Deps{LLM: llm, Retriever: retriever, Attacher: attacher})

	events, err := e.Process(context.Background(), &Request{
		Query:             "summarize my attached invoice",
		AttachedDocuments: []string{"doc-1"},
	})
	require.NoError(t, err)
	got := collectEvents(t, events)

	assert.Equal(t, 0, retriever.callCount(), "attachments bypass open-set retrieval")

	completeIdx := eventIndex(got, EventComplete, "")
	require.GreaterOrEqual(t, completeIdx, 0)
	final := got[completeIdx].Data.(*FinalResult)
	assert.Contains(t, final.RoutingPath, "document_attach")
	assert.NotContains(t, final.RoutingPath, "retrieve")
	assert.Contains(t, final.Response, "invoice.pdf")
}

func TestProcessDecomposesComplexQueries(t *testing.T) {
	retriever := &mockRetriever{queue: []*search.Response{
		searchResponse(map[string]float64{"q1-report": 0.9, "shared": 0.5}),
		searchResponse(map[string]float64{"risk-register": 0.8, "shared": 0.7}),
	}}
	llm := &mockLLM{
		streamChunks: []string{"Combined answer."},
		generateFn: func(prompt string) (string, error) {
			switch {
			case strings.Contains(prompt, "Classify the intent"):
				return `{"intent": "DOCUMENT_SEARCH", "confidence": 0.9}`, nil
			case strings.Contains(prompt, "Decompose"):
				return `{"sub_queries": [
					{"id": 1, "query": "Q1 revenue changes", "priority": 1},
					{"id": 2, "query": "project risks", "priority": 1}
				]}`, nil
			default:
				return `{"followups": []}`, nil
			}
		},
	}
	e := testEngine(t, Deps{LLM: llm, Retriever: retriever})

	events, err := e.Process(context.Background(), &Request{
		Query: "What changed in Q1 and how did it affect revenue? Also list the risks and mitigations",
	})
	require.NoError(t, err)
	got := collectEvents(t, events)

	assert.Equal(t, 2, retriever.callCount(), "both sub-queries executed")

	completeIdx := eventIndex(got, EventComplete, "")
	require.GreaterOrEqual(t, completeIdx, 0)
	final := got[completeIdx].Data.(*FinalResult)

	ids := make(map[string]bool)
	for _, r := range final.Results {
		ids[r.ID] = true
	}
	assert.True(t, ids["q1-report"] && ids["risk-register"], "merged results span sub-queries")
	assert.Len(t, final.Results, 3, "shared document deduplicated")
}

func TestProcessRetrievalFailureEndsWithError(t *testing.T) {
	retriever := &mockRetriever{err: faults.New(faults.KindInternal, "search", "Retrieve", "index corrupt", nil)}
	e := testEngine(t, Deps{LLM: &mockLLM{}, Retriever: retriever})

	events, err := e.Process(context.Background(), &Request{Query: "my report file"})
	require.NoError(t, err)
	got := collectEvents(t, events)

	require.NotEmpty(t, got)
	last := got[len(got)-1]
	require.Equal(t, EventError, last.Type)
	payload := last.Data.(ErrorPayload)
	assert.Equal(t, string(faults.KindInternal), payload.Kind)
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	cfg := &config.WorkflowConfig{BreakerThreshold: 2, BreakerCooldownMs: 60000}
	cfg.SetDefaults()
	b := newBreakerSet(cfg)

	boom := func() (interface{}, error) {
		return nil, faults.New(faults.KindInternal, "search", "Retrieve", "down", nil)
	}
	for i := 0; i < 2; i++ {
		_, err := b.exec(portSearch, boom)
		assert.Equal(t, faults.KindInternal, faults.KindOf(err))
	}

	_, err := b.exec(portSearch, boom)
	assert.Equal(t, faults.KindUnavailable, faults.KindOf(err), "breaker open")
}

func TestBreakerIgnoresCallerMistakes(t *testing.T) {
	cfg := &config.WorkflowConfig{BreakerThreshold: 2, BreakerCooldownMs: 60000}
	cfg.SetDefaults()
	b := newBreakerSet(cfg)

	invalid := func() (interface{}, error) {
		return nil, faults.New(faults.KindInputInvalid, "search", "Retrieve", "bad filter", nil)
	}
	for i := 0; i < 5; i++ {
		_, err := b.exec(portSearch, invalid)
		assert.Equal(t, faults.KindInputInvalid, faults.KindOf(err))
	}
}
