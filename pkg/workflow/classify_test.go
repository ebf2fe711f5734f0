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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyRulesDeterministic(t *testing.T) {
	tests := []struct {
		query      string
		wantIntent Intent
		wantConf   float64
	}{
		{"compare doc A and doc B", IntentComparison, 0.85},
		{"find the photo from the offsite", IntentDocumentSearch, 0.95},
		{"summarize the quarterly report", IntentSummarization, 0.85},
		{"my tax documents from last year", IntentDocumentSearch, 0.85},
		{"what is kubernetes", IntentGeneralKnowledge, 0.85},
		{"what is my deductible", IntentDocumentSearch, 0.6},
		{"quarterly budget figures", IntentDocumentSearch, 0.6},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			intent, conf := classifyRules(tt.query)
			assert.Equal(t, tt.wantIntent, intent)
			assert.InDelta(t, tt.wantConf, conf, 1e-9)

			// Same query, same result on a second call.
			again, confAgain := classifyRules(tt.query)
			assert.Equal(t, intent, again)
			assert.Equal(t, conf, confAgain)
		})
	}
}

func TestClassifyRuleOrder(t *testing.T) {
	// The image rule fires even when a comparison term is present.
	intent, conf := classifyRules("compare the two screenshots")
	assert.Equal(t, IntentDocumentSearch, intent)
	assert.InDelta(t, 0.95, conf, 1e-9)
}

func TestExtractEntities(t *testing.T) {
	got := extractEntities("How does Acme Corporation relate to Zeta Labs")
	assert.Equal(t, []string{"Acme Corporation", "Zeta Labs"}, got)

	assert.Empty(t, extractEntities("what is a vector database"))

	// Duplicates collapse, first-appearance order kept.
	got = extractEntities("Acme versus Omega, then Acme again")
	assert.Equal(t, []string{"Acme", "Omega"}, got)
}

func TestClassifyLLMCall(t *testing.T) {
	m := &mockLLM{generateFn: func(prompt string) (string, error) {
		return `{"intent": "ANALYSIS", "confidence": 0.9}`, nil
	}}
	out, err := classifyLLMCall(context.Background(), m, "dig into the numbers")
	require.NoError(t, err)
	assert.Equal(t, "ANALYSIS", out.Intent)
	assert.InDelta(t, 0.9, out.Confidence, 1e-9)
}

func TestClassifyLLMCallRejectsBadConfidence(t *testing.T) {
	m := &mockLLM{generateFn: func(prompt string) (string, error) {
		return `{"intent": "ANALYSIS", "confidence": 1.7}`, nil
	}}
	_, err := classifyLLMCall(context.Background(), m, "q")
	require.Error(t, err)
}

func TestParseIntent(t *testing.T) {
	assert.Equal(t, IntentComparison, ParseIntent("COMPARISON"))
	assert.Equal(t, IntentDocumentSearch, ParseIntent("SOMETHING_ELSE"))
}

func TestComplexityScore(t *testing.T) {
	simple := complexityScore("kubernetes deployment notes")
	assert.Less(t, simple, complexityThreshold)

	complex := complexityScore("What changed in Q1 and how did it affect revenue? Also list the risks and mitigations")
	assert.GreaterOrEqual(t, complex, complexityThreshold)
}
