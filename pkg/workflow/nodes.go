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
	"strings"

	"github.com/lumensearch/lumen/pkg/evaluation"
	"github.com/lumensearch/lumen/pkg/faults"
	"github.com/lumensearch/lumen/pkg/llms"
	"github.com/lumensearch/lumen/pkg/memory"
	"github.com/lumensearch/lumen/pkg/search"
)

const defaultTopK = 5

func (s *State) effectiveTopK() int {
	if s.topK > 0 {
		return s.topK
	}
	return defaultTopK
}

func (s *State) effectiveUserID() string {
	if s.userID != "" {
		return s.userID
	}
	return "default"
}

func (s *State) warn(msg string) {
	s.degraded = true
	s.warnings = append(s.warnings, msg)
}

func (s *State) topScore() float64 {
	if len(s.SearchResults) == 0 {
		return 0
	}
	return s.SearchResults[0].Score
}

// loadContext embeds the query and pulls the three memory tiers.
// Memory failures degrade the request rather than failing it.
func (e *Engine) loadContext(ctx context.Context, st *State, em *emitter) (nodeName, error) {
	if e.embedder != nil {
		emb, err := e.embedder.Embed(ctx, st.Query)
		if err != nil {
			if faults.Terminal(err) {
				return "", err
			}
			st.warn("query embedding unavailable")
		} else {
			st.queryEmbedding = emb
		}
	}

	details := map[string]interface{}{}
	if e.memory != nil {
		mctx := e.memory.LoadContext(ctx, st.effectiveUserID(), st.sessionID, st.queryEmbedding)
		st.SessionContext = mctx
		st.UserPreferences = mctx.Preferences
		if mctx.Degraded {
			st.warn("memory tiers partially unavailable")
		}
		details["episodes"] = len(mctx.Episodes)
		if mctx.Session != nil {
			details["session_turns"] = len(mctx.Session.Turns)
		}
	}

	e.step(ctx, em, st, "load_context", "loaded", details)
	return nodeClassify, nil
}

// classify runs the rule stage and, below the confidence threshold,
// defers to the LLM. The rule result stands on any model failure.
func (e *Engine) classify(ctx context.Context, st *State, em *emitter) (nodeName, error) {
	intent, conf := classifyRules(st.Query)
	if conf < llmFallbackThreshold && e.llm != nil {
		out, err := e.breakers.exec(portLLM, func() (interface{}, error) {
			return classifyLLMCall(ctx, e.llm, st.Query)
		})
		if err == nil {
			c := out.(llmClassification)
			intent, conf = ParseIntent(c.Intent), c.Confidence
		} else if faults.KindOf(err) == faults.KindCancelled || faults.KindOf(err) == faults.KindTimeout {
			return "", err
		} else {
			st.warn("intent classifier degraded to rule result")
		}
	}

	st.Intent = intent
	st.ClassificationConfidence = conf
	st.ExtractedEntities = extractEntities(st.Query)

	e.step(ctx, em, st, "classify", "classified", map[string]interface{}{
		"intent":     string(intent),
		"confidence": conf,
		"entities":   st.ExtractedEntities,
	})

	switch {
	case len(st.AttachedDocuments) > 0:
		st.NextAction = nodeDocumentAttach
	case intent == IntentGeneralKnowledge || intent == IntentSystemMeta:
		st.NextAction = nodeDirectAnswer
	case intent == IntentClarification:
		st.NextAction = nodeClarify
	case intent == IntentSummarization || intent == IntentAnalysis || intent == IntentComparison:
		st.NextAction = nodeAnalyze
	default:
		st.NextAction = nodeRetrieve
	}
	return st.NextAction, nil
}

func (e *Engine) doRetrieve(ctx context.Context, req *search.Request) (*search.Response, error) {
	out, err := e.breakers.exec(portSearch, func() (interface{}, error) {
		return e.retriever.Retrieve(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	return out.(*search.Response), nil
}

// searchRequest applies learned user preferences on top of the query.
func (e *Engine) searchRequest(st *State, query string) *search.Request {
	req := &search.Request{
		Query:    query,
		Filters:  st.ExtractedFilters,
		TopK:     st.effectiveTopK(),
		Entities: st.ExtractedEntities,
	}
	prefs := st.UserPreferences
	if prefs.PreferredStrategy != "" {
		req.Strategy = search.Strategy(prefs.PreferredStrategy)
	}
	if st.useHybrid != nil && !*st.useHybrid {
		req.Strategy = search.StrategySemantic
	}
	if prefs.ShouldRerank != nil && !*prefs.ShouldRerank {
		req.DisableRerank = true
	}
	if prefs.VectorWeight > 0 || prefs.LexicalWeight > 0 {
		req.VectorWeight = prefs.VectorWeight
		req.LexicalWeight = prefs.LexicalWeight
	}
	return req
}

func (e *Engine) runRetrieval(ctx context.Context, st *State, em *emitter, stage string) error {
	var resp *search.Response
	var err error

	if complexityScore(st.Query) >= complexityThreshold && e.llm != nil {
		if subs, derr := e.decompose(ctx, st.Query); derr == nil {
			e.step(ctx, em, st, stage, "decomposed", map[string]interface{}{"sub_queries": len(subs)})
			resp, err = e.retrieveDecomposed(ctx, st, subs)
		}
	}
	if resp == nil && err == nil {
		resp, err = e.doRetrieve(ctx, e.searchRequest(st, st.Query))
	}
	if err != nil {
		return err
	}

	st.SearchResults = resp.Results
	st.strategy = resp.Strategy
	st.searchTime = resp.SearchTime
	if resp.Degraded {
		st.degraded = true
	}
	st.warnings = append(st.warnings, resp.Warnings...)

	e.step(ctx, em, st, stage, "retrieved", map[string]interface{}{
		"strategy": string(resp.Strategy),
		"results":  len(resp.Results),
		"degraded": resp.Degraded,
	})

	partial := make([]PartialResult, 0, len(resp.Results))
	for i, r := range resp.Results {
		if i >= defaultTopK {
			break
		}
		partial = append(partial, PartialResult{
			DocID:    r.ID,
			Filename: r.Filename,
			Score:    r.Score,
			Summary:  r.Summary,
		})
	}
	em.send(ctx, Event{Type: EventPartialResults, Data: partial})
	return nil
}

func (e *Engine) retrieve(ctx context.Context, st *State, em *emitter) (nodeName, error) {
	if err := e.runRetrieval(ctx, st, em, "retrieve"); err != nil {
		return "", err
	}
	return nodeExplain, nil
}

// analyzeOrSummarize retrieves with the same machinery; the intent
// shapes the synthesis prompt later.
func (e *Engine) analyzeOrSummarize(ctx context.Context, st *State, em *emitter) (nodeName, error) {
	if err := e.runRetrieval(ctx, st, em, "analyze_or_summarize"); err != nil {
		return "", err
	}
	return nodeSynthesize, nil
}

// explain surfaces the ranking rationale and the entity neighborhood.
func (e *Engine) explain(ctx context.Context, st *State, em *emitter) (nodeName, error) {
	if e.graph != nil && len(st.ExtractedEntities) > 0 {
		exp := e.graph.Expand(st.ExtractedEntities, 2)
		if len(exp.Nodes) > 0 {
			st.GraphContext = &exp
			em.send(ctx, Event{Type: EventGraph, Data: GraphPayload{Nodes: exp.Nodes, Links: exp.Links}})
		}
	}

	details := map[string]interface{}{
		"strategy":  string(st.strategy),
		"top_score": st.topScore(),
	}
	if st.GraphContext != nil {
		details["graph_entities"] = len(st.GraphContext.Expanded)
	}
	e.step(ctx, em, st, "explain", "ranked", details)
	return nodeQualityCheck, nil
}

const correctiveFloor = 0.5

// qualityCheck gates on two paths. Before synthesis it judges retrieval
// adequacy and allows one corrective pass with the extracted entities
// appended. After a direct answer it scores confidence and persists.
func (e *Engine) qualityCheck(ctx context.Context, st *State, em *emitter) (nodeName, error) {
	if st.Response != "" {
		st.Confidence = e.scorer.Score(evaluation.Input{
			Answer:      st.Response,
			CriticScore: -1,
		})
		em.send(ctx, Event{Type: EventConfidence, Data: st.Confidence})
		e.step(ctx, em, st, "quality_check", "scored", map[string]interface{}{"confidence": st.Confidence})
		return nodePersist, nil
	}

	if (len(st.SearchResults) == 0 || st.topScore() < correctiveFloor) &&
		!st.correctiveDone && len(st.ExtractedEntities) > 0 {
		st.correctiveDone = true
		corrective := st.Query + " " + strings.Join(st.ExtractedEntities, " ")
		resp, err := e.doRetrieve(ctx, e.searchRequest(st, corrective))
		if err != nil {
			st.warn("corrective retrieval failed")
		} else if len(resp.Results) > 0 && resp.Results[0].Score > st.topScore() {
			st.SearchResults = resp.Results
			st.strategy = resp.Strategy
		}
		e.step(ctx, em, st, "quality_check", "corrective_retrieval", map[string]interface{}{
			"top_score": st.topScore(),
		})
	} else {
		e.step(ctx, em, st, "quality_check", "passed", map[string]interface{}{
			"top_score": st.topScore(),
		})
	}
	return nodeSynthesize, nil
}

const synthesizeSystemPrompt = `You answer questions about the user's personal document collection.
Ground every claim in the provided document context and cite documents by filename.
If the context does not contain the answer, say so.`

var intentInstructions = map[Intent]string{
	IntentComparison:    "Compare the documents point by point, naming each document.",
	IntentSummarization: "Produce a concise summary of the relevant documents.",
	IntentAnalysis:      "Analyze the documents and call out notable patterns or gaps.",
}

// synthesize streams the grounded answer, scores confidence, and
// proposes follow-ups.
func (e *Engine) synthesize(ctx context.Context, st *State, em *emitter) (nodeName, error) {
	prompt := synthesizeSystemPrompt
	if extra, ok := intentInstructions[st.Intent]; ok {
		prompt += "\n" + extra
	}

	user := e.buildUserPrompt(st)
	if err := e.streamAnswer(ctx, st, em, prompt, user); err != nil {
		return "", err
	}

	sourceCount := len(st.SearchResults)
	top := st.topScore()
	if st.attachContext != "" {
		// Explicit attachments are user-chosen grounding.
		sourceCount = len(st.attachSources)
		top = 1.0
	}
	st.Confidence = e.scorer.Score(evaluation.Input{
		Answer:         st.Response,
		SourceCount:    sourceCount,
		TopSourceScore: top,
		CriticScore:    -1,
	})
	em.send(ctx, Event{Type: EventConfidence, Data: st.Confidence})
	e.step(ctx, em, st, "answer_synthesize", "answered", map[string]interface{}{"confidence": st.Confidence})

	st.followups = e.suggestFollowups(ctx, st)
	return nodePersist, nil
}

func (e *Engine) buildUserPrompt(st *State) string {
	var b strings.Builder

	if st.SessionContext != nil && st.SessionContext.Session != nil {
		turns := st.SessionContext.Session.Turns
		if len(turns) > 6 {
			turns = turns[len(turns)-6:]
		}
		if len(turns) > 0 {
			b.WriteString("Conversation so far:\n")
			for _, t := range turns {
				fmt.Fprintf(&b, "%s: %s\n", t.Role, t.Content)
			}
			b.WriteString("\n")
		}
	}

	if st.attachContext != "" {
		b.WriteString("Attached documents:\n")
		b.WriteString(st.attachContext)
		b.WriteString("\n\n")
	} else {
		b.WriteString("Document context:\n")
		for i, r := range st.SearchResults {
			if i >= defaultTopK {
				break
			}
			text := r.DetailedSummary
			if text == "" {
				text = r.Summary
			}
			if text == "" && len(r.Content) > 0 {
				text = r.Content
				if len(text) > 500 {
					text = text[:500]
				}
			}
			fmt.Fprintf(&b, "[%s] %s\n", r.Filename, text)
		}
		b.WriteString("\n")
	}

	if st.GraphContext != nil && len(st.GraphContext.Expanded) > 0 {
		names := make([]string, 0, len(st.GraphContext.Expanded))
		for _, ent := range st.GraphContext.Expanded {
			names = append(names, ent.Name)
		}
		fmt.Fprintf(&b, "Related entities: %s\n\n", strings.Join(names, ", "))
	}

	fmt.Fprintf(&b, "Question: %s", st.Query)
	return b.String()
}

// streamAnswer runs a streaming completion, forwarding chunks as
// events. A mid-stream failure keeps the partial answer and degrades.
func (e *Engine) streamAnswer(ctx context.Context, st *State, em *emitter, system, user string) error {
	out, err := e.breakers.exec(portLLM, func() (interface{}, error) {
		return e.llm.GenerateStream(ctx, llms.SystemAndUser(system, user), llms.GenerateOptions{})
	})
	if err != nil {
		return err
	}
	stream := out.(<-chan llms.StreamChunk)

	var b strings.Builder
	for chunk := range stream {
		if chunk.Err != nil {
			if b.Len() == 0 {
				return chunk.Err
			}
			st.warn("answer stream ended early")
			break
		}
		if chunk.Text != "" {
			b.WriteString(chunk.Text)
			em.send(ctx, Event{Type: EventAnswerChunk, Data: chunk.Text})
		}
		if chunk.Done {
			break
		}
	}
	if ctx.Err() != nil {
		return faults.New(kindFromContext(ctx), "workflow", "streamAnswer", "stream interrupted", ctx.Err())
	}
	if b.Len() == 0 {
		return faults.New(faults.KindInternal, "workflow", "streamAnswer", "model produced no answer", nil)
	}
	st.Response = b.String()
	return nil
}

type followupList struct {
	Followups []string `json:"followups" jsonschema:"required"`
}

// suggestFollowups is best-effort; any failure yields none.
func (e *Engine) suggestFollowups(ctx context.Context, st *State) []string {
	if e.llm == nil {
		return nil
	}
	var out followupList
	err := llms.GenerateJSON(ctx, e.llm,
		llms.SystemAndUser(
			"Suggest up to 3 short follow-up questions the user might ask next. Respond with JSON only.",
			fmt.Sprintf("Question: %s\nAnswer: %s", st.Query, st.Response),
		),
		llms.GenerateOptions{Temperature: 0.5, MaxTokens: 200, JSONSchema: llms.SchemaFor(&followupList{})},
		&out,
	)
	if err != nil {
		return nil
	}
	if len(out.Followups) > 3 {
		out.Followups = out.Followups[:3]
	}
	return out.Followups
}

const directAnswerPrompt = `Answer the question directly from general knowledge.
Be concise. If the question actually concerns the user's own documents, say that a document search would help.`

func (e *Engine) directAnswer(ctx context.Context, st *State, em *emitter) (nodeName, error) {
	if err := e.streamAnswer(ctx, st, em, directAnswerPrompt, st.Query); err != nil {
		return "", err
	}
	e.step(ctx, em, st, "direct_answer", "answered", nil)
	return nodeQualityCheck, nil
}

const clarifyFallback = "Could you clarify what you are looking for? A document name, a topic, or a time range would help."

// clarify asks the user a focusing question instead of guessing.
func (e *Engine) clarify(ctx context.Context, st *State, em *emitter) (nodeName, error) {
	question := clarifyFallback
	if e.llm != nil {
		reply, err := e.llm.Generate(ctx,
			llms.SystemAndUser(
				"The query is too ambiguous to search on. Ask one short clarifying question.",
				st.Query,
			),
			llms.GenerateOptions{Temperature: 0.3, MaxTokens: 100},
		)
		if err == nil && strings.TrimSpace(reply) != "" {
			question = strings.TrimSpace(reply)
		}
	}
	st.Response = question
	st.Confidence = 0.3
	em.send(ctx, Event{Type: EventAnswerChunk, Data: question})
	em.send(ctx, Event{Type: EventConfidence, Data: st.Confidence})
	e.step(ctx, em, st, "clarify", "asked", nil)
	return nodePersist, nil
}

// documentAttach swaps open-set retrieval for the attachment capsules.
func (e *Engine) documentAttach(ctx context.Context, st *State, em *emitter) (nodeName, error) {
	if e.attacher == nil {
		return "", faults.New(faults.KindUnavailable, "workflow", "document_attach",
			"attachment pipeline not configured", nil)
	}
	block, sources, err := e.attacher.ContextBlock(ctx, st.AttachedDocuments)
	if err != nil {
		return "", err
	}
	st.attachContext = block
	st.attachSources = sources
	e.step(ctx, em, st, "document_attach", "prepared", map[string]interface{}{
		"attachments": len(st.AttachedDocuments),
		"sources":     sources,
	})
	return nodeSynthesize, nil
}

// persist stores the interaction across the memory tiers, best-effort:
// a storage failure must not fail an already-produced answer.
func (e *Engine) persist(ctx context.Context, st *State, em *emitter) (nodeName, error) {
	defer e.step(ctx, em, st, "persist", "stored", nil)

	if e.memory == nil {
		return nodeEnd, nil
	}

	resultIDs := make([]string, 0, len(st.SearchResults))
	topics := make([]string, 0, len(st.ExtractedEntities))
	for _, r := range st.SearchResults {
		resultIDs = append(resultIDs, r.ID)
	}
	for _, ent := range st.ExtractedEntities {
		topics = append(topics, strings.ToLower(ent))
	}

	interaction := &memory.Interaction{
		Query:          st.Query,
		QueryEmbedding: st.queryEmbedding,
		Response:       st.Response,
		ResultIDs:      resultIDs,
		Confidence:     st.Confidence,
		Intent:         string(st.Intent),
		Strategy:       string(st.strategy),
		Reranked:       st.UserPreferences.ShouldRerank == nil || *st.UserPreferences.ShouldRerank,
		Topics:         topics,
		Success:        st.Err == nil && st.Confidence >= 0.5,
	}

	out, err := e.breakers.exec(portMemory, func() (interface{}, error) {
		return e.memory.Record(ctx, st.effectiveUserID(), st.sessionID, interaction)
	})
	if err != nil {
		e.logger.Warn("interaction persistence failed", "error", err)
		st.warn("interaction not persisted")
		return nodeEnd, nil
	}
	st.episodeID = out.(int64)
	return nodeEnd, nil
}
