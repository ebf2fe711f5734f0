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
	"fmt"
	"regexp"
	"strings"

	"github.com/lumensearch/lumen/pkg/llms"
)

// Keyword rules run in a fixed order; the first hit wins. The rule
// confidence decides whether the LLM fallback is consulted.
var (
	imageTerms         = []string{"image", "photo", "picture", "screenshot", "diagram"}
	comparisonTerms    = []string{"compare", "comparison", "difference between", "versus", " vs ", " vs. "}
	summarizationTerms = []string{"summarize", "summarise", "summary of", "tl;dr", "overview of"}
	documentTerms      = []string{"document", "doc", "file", "report", "notes", "spreadsheet", "presentation"}

	possessivePattern = regexp.MustCompile(`\b(my|our)\b`)
	openerPattern     = regexp.MustCompile(`^\s*(what\s+is|what\s+are|how\s+does|how\s+do)\b`)
)

const llmFallbackThreshold = 0.8

// classifyRules is the deterministic first stage: same query, same
// (intent, confidence) on every call.
func classifyRules(query string) (Intent, float64) {
	q := strings.ToLower(query)

	if containsAny(q, imageTerms) {
		return IntentDocumentSearch, 0.95
	}
	if containsAny(q, comparisonTerms) {
		return IntentComparison, 0.85
	}
	if containsAny(q, summarizationTerms) {
		return IntentSummarization, 0.85
	}
	if containsAny(q, documentTerms) && possessivePattern.MatchString(q) {
		return IntentDocumentSearch, 0.85
	}
	if openerPattern.MatchString(q) && !possessivePattern.MatchString(q) {
		return IntentGeneralKnowledge, 0.85
	}
	return IntentDocumentSearch, 0.6
}

func containsAny(q string, terms []string) bool {
	for _, t := range terms {
		if strings.Contains(q, t) {
			return true
		}
	}
	return false
}

type llmClassification struct {
	Intent     string  `json:"intent" jsonschema:"required,enum=DOCUMENT_SEARCH,enum=GENERAL_KNOWLEDGE,enum=SYSTEM_META,enum=COMPARISON,enum=SUMMARIZATION,enum=ANALYSIS,enum=CLARIFICATION_NEEDED"`
	Confidence float64 `json:"confidence" jsonschema:"required"`
	Reason     string  `json:"reason,omitempty"`
}

const classifyPrompt = `Classify the intent of a search query against a personal document collection.
Intents: DOCUMENT_SEARCH (find documents), GENERAL_KNOWLEDGE (answerable without documents),
SYSTEM_META (about the system itself), COMPARISON, SUMMARIZATION, ANALYSIS,
CLARIFICATION_NEEDED (too ambiguous to act on).
Respond with JSON only.`

// classifyLLMCall refines a low-confidence rule result with a strict
// JSON classification. The caller decides whether a failure matters.
func classifyLLMCall(ctx context.Context, provider llms.LLMProvider, query string) (llmClassification, error) {
	var out llmClassification
	err := llms.GenerateJSON(ctx, provider,
		llms.SystemAndUser(classifyPrompt, fmt.Sprintf("Query: %s", query)),
		llms.GenerateOptions{Temperature: 0, MaxTokens: 200, JSONSchema: llms.SchemaFor(&llmClassification{})},
		&out,
	)
	if err != nil {
		return llmClassification{}, err
	}
	if out.Confidence <= 0 || out.Confidence > 1 {
		return llmClassification{}, fmt.Errorf("classification confidence %v out of range", out.Confidence)
	}
	return out, nil
}

var entityPattern = regexp.MustCompile(`\b[A-Z][A-Za-z0-9]*(?:[-_][A-Za-z0-9]+)*(?:\s+[A-Z][A-Za-z0-9]*)*\b`)

// Leading question words and rule keywords never count as entities.
var entityStopwords = map[string]bool{
	"what": true, "how": true, "why": true, "when": true, "where": true,
	"who": true, "which": true, "compare": true, "summarize": true,
	"find": true, "show": true, "list": true, "the": true, "a": true,
	"an": true, "my": true, "our": true, "is": true, "are": true,
	"does": true, "do": true, "tell": true, "me": true, "about": true,
}

// extractEntities pulls title-cased token runs out of the query.
// Deterministic: order of first appearance, deduplicated.
func extractEntities(query string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, m := range entityPattern.FindAllString(query, -1) {
		if entityStopwords[strings.ToLower(m)] {
			continue
		}
		key := strings.ToLower(m)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, m)
	}
	return out
}
