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

	"github.com/lumensearch/lumen/pkg/graph"
)

// EventType enumerates the streamed progress event kinds.
type EventType string

const (
	EventStep           EventType = "step"
	EventPartialResults EventType = "partial_results"
	EventAnswerChunk    EventType = "answer_chunk"
	EventConfidence     EventType = "confidence"
	EventGraph          EventType = "graph"
	EventError          EventType = "error"
	EventComplete       EventType = "complete"
)

// Event is one streamed progress item. Data holds the type-specific payload.
type Event struct {
	Type EventType   `json:"type"`
	Data interface{} `json:"data"`
}

// Step records one node action for the final audit trail.
type Step struct {
	Stage   string                 `json:"stage"`
	Action  string                 `json:"action"`
	Details map[string]interface{} `json:"details,omitempty"`
	TS      time.Time              `json:"ts"`
}

// PartialResult is the compact per-document shape streamed before the answer.
type PartialResult struct {
	DocID    string  `json:"doc_id"`
	Filename string  `json:"filename"`
	Score    float64 `json:"score"`
	Summary  string  `json:"summary,omitempty"`
}

// GraphPayload carries the expanded entity neighborhood for visualization.
type GraphPayload struct {
	Nodes []graph.Node `json:"nodes"`
	Links []graph.Link `json:"links"`
}

// ErrorPayload is the terminal failure shape.
type ErrorPayload struct {
	Kind       string `json:"kind"`
	Message    string `json:"message"`
	RetryAfter int    `json:"retry_after,omitempty"`
}

// emitter serializes events onto a bounded channel owned by one request.
// Only the driver goroutine sends; closing the channel is the terminal
// signal after a complete or error event.
type emitter struct {
	ch chan Event
}

func newEmitter(buffer int) *emitter {
	if buffer <= 0 {
		buffer = 64
	}
	return &emitter{ch: make(chan Event, buffer)}
}

func (e *emitter) events() <-chan Event { return e.ch }

// send blocks until the consumer drains or the request ends.
func (e *emitter) send(ctx context.Context, ev Event) bool {
	select {
	case e.ch <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// sendFinal delivers the terminal event even when the request context is
// already cancelled. It drops the event only if the consumer stopped
// draining a full buffer.
func (e *emitter) sendFinal(ev Event) {
	select {
	case e.ch <- ev:
	default:
	}
}

func (e *emitter) close() { close(e.ch) }
