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
	"log/slog"
	"time"

	"github.com/lumensearch/lumen/pkg/config"
	"github.com/lumensearch/lumen/pkg/embedders"
	"github.com/lumensearch/lumen/pkg/evaluation"
	"github.com/lumensearch/lumen/pkg/faults"
	"github.com/lumensearch/lumen/pkg/graph"
	"github.com/lumensearch/lumen/pkg/llms"
	"github.com/lumensearch/lumen/pkg/logger"
)

// Deps are the capability ports the engine drives. Graph, Memory,
// Embedder, and Attacher are optional; a nil port degrades the
// corresponding stage instead of failing the request.
type Deps struct {
	LLM       llms.LLMProvider
	Retriever Retriever
	Embedder  embedders.EmbedderProvider
	Memory    Memory
	Graph     *graph.Store
	Attacher  Attacher
}

// Engine drives the typed state machine from a classified intent to a
// streamed answer.
type Engine struct {
	cfg       *config.WorkflowConfig
	llm       llms.LLMProvider
	retriever Retriever
	embedder  embedders.EmbedderProvider
	memory    Memory
	graph     *graph.Store
	attacher  Attacher
	scorer    *evaluation.Scorer
	breakers  *breakerSet
	logger    *slog.Logger
}

func NewEngine(cfg *config.WorkflowConfig, deps Deps) *Engine {
	return &Engine{
		cfg:       cfg,
		llm:       deps.LLM,
		retriever: deps.Retriever,
		embedder:  deps.Embedder,
		memory:    deps.Memory,
		graph:     deps.Graph,
		attacher:  deps.Attacher,
		scorer:    evaluation.NewScorer(),
		breakers:  newBreakerSet(cfg),
		logger:    logger.GetLogger(),
	}
}

// Process validates the request and starts the state machine in a
// goroutine. The returned channel streams progress events and closes
// after the terminal complete or error event.
func (e *Engine) Process(ctx context.Context, req *Request) (<-chan Event, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	em := newEmitter(e.cfg.EventBuffer)
	go e.run(ctx, req, em)
	return em.events(), nil
}

func (e *Engine) run(ctx context.Context, req *Request, em *emitter) {
	defer em.close()

	ctx, cancel := context.WithTimeout(ctx, time.Duration(e.cfg.TimeoutMs)*time.Millisecond)
	defer cancel()

	st := newState(req)
	node := nodeLoadContext

	for node != nodeEnd {
		st.routingPath = append(st.routingPath, string(node))

		next, err := e.runNode(ctx, node, st, em)
		if err != nil {
			kind := faults.KindOf(err)
			if kind == faults.KindCancelled || kind == faults.KindTimeout {
				// Persisting against a dead context is pointless.
				st.Err = err
				break
			}
			e.logger.Warn("workflow node failed",
				"node", string(node), "kind", string(kind), "error", err)
			st.Err = err
			st.recordStep(string(node), "error", map[string]interface{}{
				"kind":    string(kind),
				"message": err.Error(),
			})
			if node == nodePersist {
				break
			}
			node = nodePersist
			continue
		}
		node = next
	}

	if st.Err != nil {
		payload := ErrorPayload{
			Kind:    string(faults.KindOf(st.Err)),
			Message: st.Err.Error(),
		}
		if faults.KindOf(st.Err) == faults.KindUnavailable {
			payload.RetryAfter = e.breakers.retryAfterSeconds()
		}
		em.sendFinal(Event{Type: EventError, Data: payload})
		return
	}
	em.sendFinal(Event{Type: EventComplete, Data: st.finalResult()})
}

// runNode wraps one node with a per-node timeout and the retry policy:
// retriable failures back off 1s, 2s, 4s up to the configured attempts.
func (e *Engine) runNode(ctx context.Context, node nodeName, st *State, em *emitter) (nodeName, error) {
	backoff := time.Second
	for attempt := 0; ; attempt++ {
		nodeCtx, cancel := context.WithTimeout(ctx, time.Duration(e.cfg.NodeTimeoutMs)*time.Millisecond)
		next, err := e.dispatch(nodeCtx, node, st, em)
		cancel()

		if err == nil {
			return next, nil
		}
		if ctx.Err() != nil {
			return "", faults.New(kindFromContext(ctx), "workflow", string(node), "request ended", ctx.Err())
		}

		// A node deadline with a live request context is transient.
		retriable := faults.Retriable(err) ||
			(nodeCtx.Err() == context.DeadlineExceeded && faults.KindOf(err) == faults.KindTimeout)
		if !retriable || attempt >= e.cfg.Retries {
			return "", err
		}

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return "", faults.New(kindFromContext(ctx), "workflow", string(node), "request ended", ctx.Err())
		}
		backoff *= 2
	}
}

func kindFromContext(ctx context.Context) faults.Kind {
	if ctx.Err() == context.DeadlineExceeded {
		return faults.KindTimeout
	}
	return faults.KindCancelled
}

func (e *Engine) dispatch(ctx context.Context, node nodeName, st *State, em *emitter) (nodeName, error) {
	switch node {
	case nodeLoadContext:
		return e.loadContext(ctx, st, em)
	case nodeClassify:
		return e.classify(ctx, st, em)
	case nodeRetrieve:
		return e.retrieve(ctx, st, em)
	case nodeExplain:
		return e.explain(ctx, st, em)
	case nodeQualityCheck:
		return e.qualityCheck(ctx, st, em)
	case nodeSynthesize:
		return e.synthesize(ctx, st, em)
	case nodeDirectAnswer:
		return e.directAnswer(ctx, st, em)
	case nodeClarify:
		return e.clarify(ctx, st, em)
	case nodeAnalyze:
		return e.analyzeOrSummarize(ctx, st, em)
	case nodeDocumentAttach:
		return e.documentAttach(ctx, st, em)
	case nodePersist:
		return e.persist(ctx, st, em)
	}
	return "", faults.New(faults.KindInternal, "workflow", "dispatch", "unknown node "+string(node), nil)
}

// recordStep appends to the audit trail without emitting.
func (s *State) recordStep(stage, action string, details map[string]interface{}) {
	s.Steps = append(s.Steps, Step{Stage: stage, Action: action, Details: details, TS: time.Now()})
}

// step records and streams one progress step.
func (e *Engine) step(ctx context.Context, em *emitter, st *State, stage, action string, details map[string]interface{}) {
	st.recordStep(stage, action, details)
	em.send(ctx, Event{Type: EventStep, Data: st.Steps[len(st.Steps)-1]})
}
