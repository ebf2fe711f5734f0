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

package attach

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumensearch/lumen/pkg/config"
	"github.com/lumensearch/lumen/pkg/databases"
	"github.com/lumensearch/lumen/pkg/faults"
	"github.com/lumensearch/lumen/pkg/llms"
	"github.com/lumensearch/lumen/pkg/memory"
)

type mockLLM struct {
	generateFn func(prompt string) (string, error)
	calls      atomic.Int64
}

func (m *mockLLM) Generate(ctx context.Context, messages []llms.Message, opts llms.GenerateOptions) (string, error) {
	m.calls.Add(1)
	var b strings.Builder
	for _, msg := range messages {
		b.WriteString(msg.Content)
		b.WriteString("\n")
	}
	if m.generateFn != nil {
		return m.generateFn(b.String())
	}
	return "ok", nil
}

func (m *mockLLM) GenerateStream(ctx context.Context, messages []llms.Message, opts llms.GenerateOptions) (<-chan llms.StreamChunk, error) {
	ch := make(chan llms.StreamChunk, 1)
	ch <- llms.StreamChunk{Done: true}
	close(ch)
	return ch, nil
}

func (m *mockLLM) ModelName() string { return "mock" }
func (m *mockLLM) Close() error      { return nil }

// stageLLM answers the analysis and insight prompts with valid JSON and
// everything else with a fixed completion.
func stageLLM(answer string) *mockLLM {
	return &mockLLM{generateFn: func(prompt string) (string, error) {
		switch {
		case strings.Contains(prompt, "Analyze the document"):
			return `{"document_type": "report", "key_concepts": ["budget", "headcount"], "structure": "three sections"}`, nil
		case strings.Contains(prompt, "Extract insights"):
			return `{"executive_summary": "Budget grew 10 percent.", "key_points": ["hiring freeze lifted"], "entities": ["Finance"], "action_items": ["approve Q3 plan"]}`, nil
		default:
			return answer, nil
		}
	}}
}

func testAttachConfig() *config.AttachConfig {
	cfg := &config.AttachConfig{}
	cfg.SetDefaults()
	return cfg
}

func seedStore(t *testing.T, docs map[string]string) databases.DatabaseProvider {
	t.Helper()
	db, err := databases.NewChromemProvider(&config.VectorConfig{
		Type: "chromem", PersistPath: t.TempDir(), Collection: "docs", Dim: 4,
	})
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, db.EnsureCollection(ctx, "docs", 4))
	for name, content := range docs {
		require.NoError(t, db.Upsert(ctx, "docs", "id-"+name, []float32{1, 0, 0, 0}, content, map[string]interface{}{
			"file_name":     name,
			"summary":       "stored summary of " + name,
			"document_type": "notes",
		}))
	}
	return db
}

func TestContextBlockCachesProcessedForms(t *testing.T) {
	db := seedStore(t, map[string]string{"report.txt": "annual budget report"})
	llm := stageLLM("ok")
	s := NewService(db, llm, testAttachConfig(), "docs")
	ctx := context.Background()

	block, sources, err := s.ContextBlock(ctx, []string{"id-report.txt"})
	require.NoError(t, err)
	assert.Equal(t, []string{"report.txt"}, sources)
	assert.Contains(t, block, "report.txt")
	assert.Contains(t, block, "Budget grew 10 percent.")
	assert.Contains(t, block, "hiring freeze lifted")
	assert.EqualValues(t, 2, llm.calls.Load(), "analysis + insights")

	// Second request is served from cache without model calls.
	_, _, err = s.ContextBlock(ctx, []string{"id-report.txt"})
	require.NoError(t, err)
	assert.EqualValues(t, 2, llm.calls.Load())
	assert.Equal(t, 1, s.cache.len())
}

func TestCacheExpiryTriggersReprocess(t *testing.T) {
	db := seedStore(t, map[string]string{"report.txt": "annual budget report"})
	llm := stageLLM("ok")
	s := NewService(db, llm, testAttachConfig(), "docs")
	ctx := context.Background()

	_, _, err := s.ContextBlock(ctx, []string{"id-report.txt"})
	require.NoError(t, err)
	require.EqualValues(t, 2, llm.calls.Load())

	// Advance the cache clock past the TTL.
	s.cache.now = func() time.Time {
		return time.Now().Add(time.Duration(s.cfg.CacheTTLSeconds+1) * time.Second)
	}

	_, _, err = s.ContextBlock(ctx, []string{"id-report.txt"})
	require.NoError(t, err)
	assert.EqualValues(t, 4, llm.calls.Load(), "stale entry reprocessed")
}

func TestExtractorVersionInvalidatesCache(t *testing.T) {
	db := seedStore(t, map[string]string{"report.txt": "annual budget report"})
	llm := stageLLM("ok")
	s := NewService(db, llm, testAttachConfig(), "docs")
	ctx := context.Background()

	_, _, err := s.ContextBlock(ctx, []string{"id-report.txt"})
	require.NoError(t, err)
	require.EqualValues(t, 2, llm.calls.Load())

	s.cfg.ExtractorVersion = "v2"
	_, _, err = s.ContextBlock(ctx, []string{"id-report.txt"})
	require.NoError(t, err)
	assert.EqualValues(t, 4, llm.calls.Load())
}

func TestContextBlockTokenBudget(t *testing.T) {
	db := seedStore(t, map[string]string{
		"a.txt": strings.Repeat("alpha content ", 50),
		"b.txt": strings.Repeat("beta content ", 50),
	})
	cfg := testAttachConfig()
	s := NewService(db, stageLLM("ok"), cfg, "docs")

	// A budget smaller than one capsule admits only a truncated first
	// document.
	cfg.MaxContextTokens = 20
	block, sources, err := s.ContextBlock(context.Background(), []string{"id-a.txt", "id-b.txt"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt"}, sources)
	assert.LessOrEqual(t, s.counter.count(block), cfg.MaxContextTokens+1)
}

func TestContextBlockSkipsMissingAttachments(t *testing.T) {
	db := seedStore(t, map[string]string{"real.txt": "the only indexed document"})
	s := NewService(db, stageLLM("ok"), testAttachConfig(), "docs")
	ctx := context.Background()

	_, sources, err := s.ContextBlock(ctx, []string{"id-missing", "id-real.txt"})
	require.NoError(t, err)
	assert.Equal(t, []string{"real.txt"}, sources)

	_, _, err = s.ContextBlock(ctx, []string{"id-missing"})
	assert.Equal(t, faults.KindNotFound, faults.KindOf(err))

	_, _, err = s.ContextBlock(ctx, nil)
	assert.Equal(t, faults.KindInputInvalid, faults.KindOf(err))
}

func TestAnswerCitesAndScores(t *testing.T) {
	db := seedStore(t, map[string]string{"report.txt": "the budget grew ten percent this year"})
	llm := stageLLM("According to report.txt, the budget grew ten percent.")
	s := NewService(db, llm, testAttachConfig(), "docs")

	history := []memory.Turn{{Role: "user", Content: "earlier question"}}
	res, err := s.Answer(context.Background(), "what happened to the budget", []string{"id-report.txt"}, history)
	require.NoError(t, err)

	assert.Contains(t, res.Answer, "report.txt")
	assert.Equal(t, []string{"report.txt"}, res.Sources)
	assert.Greater(t, res.Confidence, 0.5)
	require.Len(t, res.Steps, 3)
	assert.Contains(t, res.Steps[1], "report.txt")
}

func TestAnswerRejectsBadInput(t *testing.T) {
	db := seedStore(t, map[string]string{"report.txt": "content"})
	s := NewService(db, stageLLM("ok"), testAttachConfig(), "docs")

	_, err := s.Answer(context.Background(), "   ", []string{"id-report.txt"}, nil)
	assert.Equal(t, faults.KindInputInvalid, faults.KindOf(err))

	noModel := NewService(db, nil, testAttachConfig(), "docs")
	_, err = noModel.Answer(context.Background(), "question", []string{"id-report.txt"}, nil)
	assert.Equal(t, faults.KindUnavailable, faults.KindOf(err))
}

func TestDegradedFormWithoutModel(t *testing.T) {
	db := seedStore(t, map[string]string{"report.txt": "raw stored content"})
	s := NewService(db, nil, testAttachConfig(), "docs")

	block, sources, err := s.ContextBlock(context.Background(), []string{"id-report.txt"})
	require.NoError(t, err)
	assert.Equal(t, []string{"report.txt"}, sources)
	assert.Contains(t, block, "stored summary of report.txt")
	assert.Contains(t, block, "notes")
}
