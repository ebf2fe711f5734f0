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

// Package llms provides the LLM capability port and its providers.
package llms

import "context"

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of model input. Images carries raw bytes for
// vision-capable models (OCR, image description).
type Message struct {
	Role    Role
	Content string
	Images  [][]byte
}

// GenerateOptions tune a single call. A nil JSONSchema requests free text;
// a schema requests strict JSON constrained output.
type GenerateOptions struct {
	Temperature float64
	MaxTokens   int
	JSONSchema  map[string]any
}

// StreamChunk is one piece of a streamed generation.
type StreamChunk struct {
	Text string
	Err  error
	Done bool
}

// LLMProvider is the injected inference capability.
type LLMProvider interface {
	// Generate runs one blocking completion.
	Generate(ctx context.Context, messages []Message, opts GenerateOptions) (string, error)

	// GenerateStream runs a streaming completion. The channel closes after
	// a Done or Err chunk.
	GenerateStream(ctx context.Context, messages []Message, opts GenerateOptions) (<-chan StreamChunk, error)

	ModelName() string

	Close() error
}

// UserText is shorthand for a single user message.
func UserText(text string) []Message {
	return []Message{{Role: RoleUser, Content: text}}
}

// SystemAndUser is shorthand for the common two-message prompt shape.
func SystemAndUser(system, user string) []Message {
	return []Message{
		{Role: RoleSystem, Content: system},
		{Role: RoleUser, Content: user},
	}
}
