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

package embedders

import (
	"fmt"

	"github.com/lumensearch/lumen/pkg/config"
)

// NewFromConfig builds the configured embedder provider.
func NewFromConfig(cfg *config.EmbedderConfig) (EmbedderProvider, error) {
	switch cfg.Type {
	case "ollama":
		return NewOllamaEmbedder(cfg), nil
	case "openai":
		return NewOpenAIEmbedder(cfg), nil
	default:
		return nil, fmt.Errorf("unknown embedder type: %s", cfg.Type)
	}
}
