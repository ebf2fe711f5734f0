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

// Package attach answers queries against explicitly attached documents,
// bypassing open-set retrieval. Each attachment is processed once into a
// cached form (analysis plus insights) and rendered into a token-bounded
// context block the model is told to cite by filename.
package attach

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/lumensearch/lumen/pkg/config"
	"github.com/lumensearch/lumen/pkg/databases"
	"github.com/lumensearch/lumen/pkg/evaluation"
	"github.com/lumensearch/lumen/pkg/faults"
	"github.com/lumensearch/lumen/pkg/llms"
	"github.com/lumensearch/lumen/pkg/logger"
	"github.com/lumensearch/lumen/pkg/memory"
)

// ProcessedForm is the cached result of the per-attachment stages.
type ProcessedForm struct {
	DocID            string   `json:"doc_id"`
	Filename         string   `json:"filename"`
	DocumentType     string   `json:"document_type"`
	KeyConcepts      []string `json:"key_concepts,omitempty"`
	Structure        string   `json:"structure,omitempty"`
	ExecutiveSummary string   `json:"executive_summary"`
	KeyPoints        []string `json:"key_points,omitempty"`
	Entities         []string `json:"entities,omitempty"`
	ActionItems      []string `json:"action_items,omitempty"`
	Excerpt          string   `json:"excerpt,omitempty"`

	// Partial marks forms built without the model stages.
	Partial bool `json:"partial,omitempty"`
}

// Result is the outcome of an attachment-grounded answer.
type Result struct {
	Answer     string   `json:"answer"`
	Sources    []string `json:"sources"`
	Confidence float64  `json:"confidence"`
	Steps      []string `json:"steps"`
}

// Service implements the attachment sub-pipeline over the document index.
type Service struct {
	db         databases.DatabaseProvider
	llm        llms.LLMProvider
	cfg        *config.AttachConfig
	collection string
	cache      *formCache
	counter    *tokenCounter
	scorer     *evaluation.Scorer
	logger     *slog.Logger
}

func NewService(db databases.DatabaseProvider, llm llms.LLMProvider, cfg *config.AttachConfig, collection string) *Service {
	return &Service{
		db:         db,
		llm:        llm,
		cfg:        cfg,
		collection: collection,
		cache:      newFormCache(time.Duration(cfg.CacheTTLSeconds) * time.Second),
		counter:    newTokenCounter(cfg.TokenEncoding),
		scorer:     evaluation.NewScorer(),
		logger:     logger.GetLogger(),
	}
}

// analysis is the first model stage: what kind of document this is and
// how it is organized.
type analysis struct {
	DocumentType string   `json:"document_type" jsonschema:"required"`
	KeyConcepts  []string `json:"key_concepts" jsonschema:"required"`
	Structure    string   `json:"structure"`
}

// insightSet is the second model stage: what the document says.
type insightSet struct {
	ExecutiveSummary string   `json:"executive_summary" jsonschema:"required"`
	KeyPoints        []string `json:"key_points" jsonschema:"required"`
	Entities         []string `json:"entities"`
	ActionItems      []string `json:"action_items"`
}

const analysisPrompt = `Analyze the document below.
Return JSON with:
- document_type: one of report, contract, invoice, email, notes, presentation, spreadsheet, other
- key_concepts: up to 8 central concepts
- structure: one sentence describing how the document is organized

Document "%s":
%s`

const insightsPrompt = `Extract insights from the document below.
Return JSON with:
- executive_summary: 2-3 sentences
- key_points: up to 6 bullet points
- entities: named people, organizations, systems, products
- action_items: concrete follow-ups stated in the document, if any

Document "%s":
%s`

// maxStageChars bounds the document text handed to the model stages.
const maxStageChars = 8000

// form returns the processed form for one attachment, from cache when a
// fresh entry exists under the current extractor version.
func (s *Service) form(ctx context.Context, docID string) (*ProcessedForm, error) {
	if cached, ok := s.cache.get(docID, s.cfg.ExtractorVersion); ok {
		return cached, nil
	}

	doc, err := s.db.Get(ctx, s.collection, docID)
	if err != nil {
		return nil, err
	}

	filename, _ := doc.Metadata["file_name"].(string)
	if filename == "" {
		filename = docID
	}

	form := &ProcessedForm{
		DocID:    docID,
		Filename: filename,
		Excerpt:  clipRunes(doc.Content, maxStageChars),
	}
	s.process(ctx, form, doc)

	s.cache.put(docID, s.cfg.ExtractorVersion, form)
	return form, nil
}

// process runs the analysis and insight stages, degrading to the stored
// ingestion summary when no model is available or a stage fails.
func (s *Service) process(ctx context.Context, form *ProcessedForm, doc *databases.SearchResult) {
	if s.llm == nil {
		s.degrade(form, doc)
		return
	}

	var an analysis
	err := llms.GenerateJSON(ctx, s.llm,
		llms.UserText(fmt.Sprintf(analysisPrompt, form.Filename, form.Excerpt)),
		llms.GenerateOptions{Temperature: 0.2, MaxTokens: 600}, &an)
	if err != nil {
		s.logger.Warn("attachment analysis failed", "doc_id", form.DocID, "error", err)
		s.degrade(form, doc)
		return
	}
	form.DocumentType = an.DocumentType
	form.KeyConcepts = an.KeyConcepts
	form.Structure = an.Structure

	var in insightSet
	err = llms.GenerateJSON(ctx, s.llm,
		llms.UserText(fmt.Sprintf(insightsPrompt, form.Filename, form.Excerpt)),
		llms.GenerateOptions{Temperature: 0.2, MaxTokens: 900}, &in)
	if err != nil {
		s.logger.Warn("attachment insights failed", "doc_id", form.DocID, "error", err)
		s.degrade(form, doc)
		return
	}
	form.ExecutiveSummary = in.ExecutiveSummary
	form.KeyPoints = in.KeyPoints
	form.Entities = in.Entities
	form.ActionItems = in.ActionItems
}

// degrade fills the form from ingestion metadata only.
func (s *Service) degrade(form *ProcessedForm, doc *databases.SearchResult) {
	form.Partial = true
	if form.DocumentType == "" {
		form.DocumentType, _ = doc.Metadata["document_type"].(string)
	}
	if summary, _ := doc.Metadata["summary"].(string); summary != "" {
		form.ExecutiveSummary = summary
	} else {
		form.ExecutiveSummary = clipRunes(doc.Content, 500)
	}
}

// ContextBlock assembles capsules for the attachment IDs into one block
// bounded by the configured token budget. Sources are the filenames that
// made it into the block, in input order.
func (s *Service) ContextBlock(ctx context.Context, attachmentIDs []string) (string, []string, error) {
	if len(attachmentIDs) == 0 {
		return "", nil, faults.New(faults.KindInputInvalid, "attach", "ContextBlock", "no attachments given", nil)
	}

	var b strings.Builder
	var sources []string
	remaining := s.cfg.MaxContextTokens

	for _, id := range attachmentIDs {
		form, err := s.form(ctx, id)
		if err != nil {
			if faults.KindOf(err) == faults.KindNotFound {
				s.logger.Warn("attachment not indexed", "doc_id", id)
				continue
			}
			return "", nil, err
		}

		capsule := renderCapsule(form)
		cost := s.counter.count(capsule)
		if cost > remaining {
			capsule = s.counter.truncate(capsule, remaining)
			if strings.TrimSpace(capsule) == "" {
				break
			}
			cost = remaining
		}
		b.WriteString(capsule)
		b.WriteString("\n")
		sources = append(sources, form.Filename)
		remaining -= cost
		if remaining <= 0 {
			break
		}
	}

	if len(sources) == 0 {
		return "", nil, faults.New(faults.KindNotFound, "attach", "ContextBlock", "no attachment could be loaded", nil)
	}
	return b.String(), sources, nil
}

func renderCapsule(form *ProcessedForm) string {
	var b strings.Builder
	fmt.Fprintf(&b, "=== %s (%s) ===\n", form.Filename, orOther(form.DocumentType))
	fmt.Fprintf(&b, "Summary: %s\n", form.ExecutiveSummary)
	if len(form.KeyConcepts) > 0 {
		fmt.Fprintf(&b, "Key concepts: %s\n", strings.Join(form.KeyConcepts, ", "))
	}
	if form.Structure != "" {
		fmt.Fprintf(&b, "Structure: %s\n", form.Structure)
	}
	for _, point := range form.KeyPoints {
		fmt.Fprintf(&b, "- %s\n", point)
	}
	if len(form.Entities) > 0 {
		fmt.Fprintf(&b, "Entities: %s\n", strings.Join(form.Entities, ", "))
	}
	if len(form.ActionItems) > 0 {
		fmt.Fprintf(&b, "Action items: %s\n", strings.Join(form.ActionItems, "; "))
	}
	if form.Excerpt != "" {
		fmt.Fprintf(&b, "Excerpt:\n%s\n", form.Excerpt)
	}
	return b.String()
}

func orOther(documentType string) string {
	if documentType == "" {
		return "other"
	}
	return documentType
}

const answerSystemPrompt = `You answer questions using only the attached
documents provided below. Cite documents by filename when you use them.
If the documents do not contain the answer, say so.`

// Answer runs the full attachment-grounded QA path: load or build the
// processed forms, assemble the context block, and synthesize a cited
// answer.
func (s *Service) Answer(ctx context.Context, query string, attachmentIDs []string, history []memory.Turn) (*Result, error) {
	if s.llm == nil {
		return nil, faults.New(faults.KindUnavailable, "attach", "Answer", "no model configured", nil)
	}
	if strings.TrimSpace(query) == "" {
		return nil, faults.New(faults.KindInputInvalid, "attach", "Answer", "empty query", nil)
	}

	steps := []string{fmt.Sprintf("loading %d attachment(s)", len(attachmentIDs))}

	block, sources, err := s.ContextBlock(ctx, attachmentIDs)
	if err != nil {
		return nil, err
	}
	steps = append(steps, fmt.Sprintf("context built from %s", strings.Join(sources, ", ")))

	var b strings.Builder
	if len(history) > 0 {
		b.WriteString("Recent conversation:\n")
		start := len(history) - 6
		if start < 0 {
			start = 0
		}
		for _, turn := range history[start:] {
			fmt.Fprintf(&b, "%s: %s\n", turn.Role, turn.Content)
		}
		b.WriteString("\n")
	}
	b.WriteString("Attached documents:\n")
	b.WriteString(block)
	b.WriteString("\nQuestion: ")
	b.WriteString(query)

	answer, err := s.llm.Generate(ctx, llms.SystemAndUser(answerSystemPrompt, b.String()), llms.GenerateOptions{
		Temperature: 0.3,
	})
	if err != nil {
		return nil, err
	}
	steps = append(steps, "answer synthesized")

	confidence := s.scorer.Score(evaluation.Input{
		Answer:         answer,
		SourceCount:    len(sources),
		TopSourceScore: 1.0,
		CriticScore:    -1,
	})

	return &Result{
		Answer:     answer,
		Sources:    sources,
		Confidence: confidence,
		Steps:      steps,
	}, nil
}

func clipRunes(text string, max int) string {
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	return string(runes[:max])
}
