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

package llms

import (
	"fmt"

	"github.com/lumensearch/lumen/pkg/config"
)

// NewFromConfig builds the configured LLM provider, wrapped with the
// shared-endpoint concurrency limiter.
func NewFromConfig(cfg *config.LLMConfig) (LLMProvider, error) {
	var provider LLMProvider
	switch cfg.Type {
	case "ollama":
		provider = NewOllamaProvider(cfg)
	case "openai":
		provider = NewOpenAIProvider(cfg)
	default:
		return nil, fmt.Errorf("unknown llm type: %s", cfg.Type)
	}
	return NewLimited(provider, cfg.MaxConcurrent), nil
}
