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

package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/lumensearch/lumen/pkg/llms"
)

// Summary is the structured description produced per document. When the
// model output cannot be parsed even after JSON salvage, a deterministic
// fallback is used and Partial is set so the document can be re-enriched
// later.
type Summary struct {
	Summary         string              `json:"summary" jsonschema:"required"`
	DetailedSummary string              `json:"detailed_summary,omitempty"`
	Keywords        []string            `json:"keywords" jsonschema:"required"`
	Entities        []SummaryEntity     `json:"entities"`
	Topics          []string            `json:"topics" jsonschema:"required"`
	DocumentType    string              `json:"document_type" jsonschema:"required"`
	Relationships   []SummaryRelation   `json:"relationships,omitempty"`
	Partial         bool                `json:"-"`
}

type SummaryEntity struct {
	Name string `json:"name" jsonschema:"required"`
	Type string `json:"type" jsonschema:"required,enum=PERSON,enum=ORGANIZATION,enum=LOCATION,enum=DATE,enum=CONCEPT,enum=PRODUCT"`
}

type SummaryRelation struct {
	Source string  `json:"source" jsonschema:"required"`
	Target string  `json:"target" jsonschema:"required"`
	Type   string  `json:"type" jsonschema:"required"`
	Weight float64 `json:"weight,omitempty"`
}

const summarizePrompt = `Analyze a document and produce structured metadata.
Rules:
- summary: 2-3 sentences.
- detailed_summary: one paragraph.
- keywords: 5 to 10 search terms.
- topics: 5 to 10 broader subjects.
- entities: named people, organizations, locations, dates, concepts, products.
- relationships: directed links between extracted entities (types like WORKS_AT, LOCATED_IN, CREATED_BY, RELATED_TO) with weight in [0,1].
- document_type: one of report, invoice, contract, notes, email, presentation, spreadsheet, article, manual, other.
Respond with JSON only.`

const fallbackSummaryChars = 500

// summarize asks the model for strict JSON; on failure it falls back to
// the first characters of the content and marks the result partial.
func (p *Pipeline) summarize(ctx context.Context, filename, content string) *Summary {
	if p.llm != nil {
		ctx, cancel := context.WithTimeout(ctx, time.Duration(p.cfg.SummaryTimeoutSeconds)*time.Second)
		defer cancel()

		p.acquireLLM()
		var out Summary
		err := llms.GenerateJSON(ctx, p.llm,
			llms.SystemAndUser(summarizePrompt,
				fmt.Sprintf("Filename: %s\n\nContent:\n%s", filename, content)),
			llms.GenerateOptions{
				Temperature: 0.3,
				MaxTokens:   1200,
				JSONSchema:  llms.SchemaFor(&Summary{}),
			},
			&out,
		)
		p.releaseLLM()
		if err == nil && out.Summary != "" {
			if out.DocumentType == "" {
				out.DocumentType = "other"
			}
			return &out
		}
		p.logger.Warn("summarization failed, using fallback", "file", filename, "error", err)
	}

	return fallbackSummary(content)
}

func fallbackSummary(content string) *Summary {
	runes := []rune(content)
	if len(runes) > fallbackSummaryChars {
		runes = runes[:fallbackSummaryChars]
	}
	return &Summary{
		Summary:      string(runes),
		DocumentType: "other",
		Partial:      true,
	}
}
