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

package config

import "fmt"

// LLMConfig configures the injected LLM inference endpoint.
type LLMConfig struct {
	// Type is the provider type: "ollama" (default) or "openai".
	Type string `yaml:"type"`

	// Host is the provider base URL.
	Host string `yaml:"host"`

	// APIKey for hosted providers.
	APIKey string `yaml:"api_key,omitempty"`

	// UnifiedModel is the model used for all generation calls.
	UnifiedModel string `yaml:"unified_model"`

	// VisionModel handles image OCR/description; defaults to UnifiedModel.
	VisionModel string `yaml:"vision_model,omitempty"`

	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
	TimeoutMs   int     `yaml:"timeout_ms"`

	// MaxConcurrent bounds parallel calls to the shared endpoint.
	MaxConcurrent int `yaml:"max_concurrent"`
}

func (c *LLMConfig) SetDefaults() {
	if c.Type == "" {
		c.Type = "ollama"
	}
	if c.Host == "" {
		switch c.Type {
		case "ollama":
			c.Host = "http://localhost:11434"
		case "openai":
			c.Host = "https://api.openai.com/v1"
		}
	}
	if c.UnifiedModel == "" {
		c.UnifiedModel = "qwen2.5:7b"
	}
	if c.VisionModel == "" {
		c.VisionModel = c.UnifiedModel
	}
	if c.Temperature == 0 {
		c.Temperature = 0.3
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = 2048
	}
	if c.TimeoutMs == 0 {
		c.TimeoutMs = 60000
	}
	if c.MaxConcurrent == 0 {
		c.MaxConcurrent = 2
	}
}

func (c *LLMConfig) Validate() error {
	switch c.Type {
	case "ollama", "openai":
	default:
		return fmt.Errorf("invalid llm type %q (valid: ollama, openai)", c.Type)
	}
	if c.Type == "openai" && c.APIKey == "" {
		return fmt.Errorf("api_key is required for openai llm")
	}
	if c.MaxConcurrent < 1 {
		return fmt.Errorf("max_concurrent must be at least 1")
	}
	return nil
}

// EmbedderConfig configures the injected embedder.
type EmbedderConfig struct {
	// Type is the provider type: "ollama" (default) or "openai".
	Type string `yaml:"type"`

	Host   string `yaml:"host"`
	APIKey string `yaml:"api_key,omitempty"`
	Model  string `yaml:"model"`

	// Dimension must match vector.dim.
	Dimension int `yaml:"dimension"`

	TimeoutSeconds int `yaml:"timeout_seconds"`
	MaxRetries     int `yaml:"max_retries"`
}

func (c *EmbedderConfig) SetDefaults() {
	if c.Type == "" {
		c.Type = "ollama"
	}
	if c.Host == "" {
		switch c.Type {
		case "ollama":
			c.Host = "http://localhost:11434"
		case "openai":
			c.Host = "https://api.openai.com/v1"
		}
	}
	if c.Model == "" {
		c.Model = "nomic-embed-text"
	}
	if c.Dimension == 0 {
		c.Dimension = 768
	}
	if c.TimeoutSeconds == 0 {
		c.TimeoutSeconds = 30
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
}

func (c *EmbedderConfig) Validate() error {
	switch c.Type {
	case "ollama", "openai":
	default:
		return fmt.Errorf("invalid embedder type %q (valid: ollama, openai)", c.Type)
	}
	if c.Dimension <= 0 {
		return fmt.Errorf("dimension must be positive")
	}
	return nil
}

// RerankerConfig configures the cross-encoder scorer.
type RerankerConfig struct {
	Enabled *bool `yaml:"enabled,omitempty"`

	// Endpoint is the scorer's HTTP endpoint (text-embeddings-inference
	// compatible /rerank API).
	Endpoint string `yaml:"endpoint"`

	BatchSize int `yaml:"batch_size"`

	// DiversityWeight enables MMR diversification when > 0.
	DiversityWeight float64 `yaml:"diversity_weight"`

	// MaxCandidates bounds how many fused candidates are scored.
	MaxCandidates int `yaml:"max_candidates"`

	TimeoutSeconds int `yaml:"timeout_seconds"`
}

func (c *RerankerConfig) SetDefaults() {
	if c.Enabled == nil {
		enabled := true
		c.Enabled = &enabled
	}
	if c.Endpoint == "" {
		c.Endpoint = "http://localhost:8787"
	}
	if c.BatchSize == 0 {
		c.BatchSize = 32
	}
	if c.MaxCandidates == 0 {
		c.MaxCandidates = 50
	}
	if c.TimeoutSeconds == 0 {
		c.TimeoutSeconds = 10
	}
}

func (c *RerankerConfig) Validate() error {
	if c.BatchSize < 1 {
		return fmt.Errorf("batch_size must be at least 1")
	}
	if c.DiversityWeight < 0 || c.DiversityWeight > 1 {
		return fmt.Errorf("diversity_weight must be in [0,1]")
	}
	return nil
}

// IsEnabled reports whether reranking is on.
func (c *RerankerConfig) IsEnabled() bool {
	return c.Enabled != nil && *c.Enabled
}
