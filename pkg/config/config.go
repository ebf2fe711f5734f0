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

// Package config defines the closed set of recognized configuration options
// and the YAML loader that produces them.
//
// Every config struct follows the same convention: yaml tags, a SetDefaults
// method applying defaults in place, and a Validate method returning the
// first problem found. Load applies them in that order.
package config

import "fmt"

// Config is the process-wide configuration tree.
type Config struct {
	Logging    LoggingConfig    `yaml:"logging"`
	Vector     VectorConfig     `yaml:"vector"`
	Embedder   EmbedderConfig   `yaml:"embedder"`
	LLM        LLMConfig        `yaml:"llm"`
	Reranker   RerankerConfig   `yaml:"reranker"`
	Search     SearchConfig     `yaml:"search"`
	Memory     MemoryConfig     `yaml:"memory"`
	Relational RelationalConfig `yaml:"relational"`
	Ingest     IngestConfig     `yaml:"ingest"`
	Watcher    WatcherConfig    `yaml:"watcher"`
	Workflow   WorkflowConfig   `yaml:"workflow"`
	Attach     AttachConfig     `yaml:"attach"`
	Graph      GraphConfig      `yaml:"graph"`
	Server     ServerConfig     `yaml:"server"`
}

func (c *Config) SetDefaults() {
	c.Logging.SetDefaults()
	c.Vector.SetDefaults()
	c.Embedder.SetDefaults()
	c.LLM.SetDefaults()
	c.Reranker.SetDefaults()
	c.Search.SetDefaults()
	c.Memory.SetDefaults()
	c.Relational.SetDefaults()
	c.Ingest.SetDefaults()
	c.Watcher.SetDefaults()
	c.Workflow.SetDefaults()
	c.Attach.SetDefaults()
	c.Graph.SetDefaults()
	c.Server.SetDefaults()
}

func (c *Config) Validate() error {
	validators := []struct {
		name string
		fn   func() error
	}{
		{"vector", c.Vector.Validate},
		{"embedder", c.Embedder.Validate},
		{"llm", c.LLM.Validate},
		{"reranker", c.Reranker.Validate},
		{"search", c.Search.Validate},
		{"memory", c.Memory.Validate},
		{"relational", c.Relational.Validate},
		{"ingest", c.Ingest.Validate},
		{"workflow", c.Workflow.Validate},
	}
	for _, v := range validators {
		if err := v.fn(); err != nil {
			return fmt.Errorf("%s: %w", v.name, err)
		}
	}
	if c.Embedder.Dimension != c.Vector.Dim {
		return fmt.Errorf("embedder dimension %d does not match vector.dim %d", c.Embedder.Dimension, c.Vector.Dim)
	}
	return nil
}

// LoggingConfig controls slog output.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file,omitempty"`
}

func (c *LoggingConfig) SetDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Format == "" {
		c.Format = "simple"
	}
}

// ServerConfig configures the thin HTTP/SSE transport adapter.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

func (c *ServerConfig) SetDefaults() {
	if c.Host == "" {
		c.Host = "127.0.0.1"
	}
	if c.Port == 0 {
		c.Port = 8420
	}
}

// AttachConfig configures the document-attachment sub-pipeline.
type AttachConfig struct {
	// CacheTTLSeconds bounds how long a processed form is reused before
	// the attachment is re-analyzed (default 1800).
	CacheTTLSeconds int `yaml:"cache_ttl_seconds"`

	// MaxContextTokens caps the assembled context block (default 4000).
	MaxContextTokens int `yaml:"max_context_tokens"`

	// ExtractorVersion invalidates cached forms when the processing
	// stages change. Part of the cache key.
	ExtractorVersion string `yaml:"extractor_version"`

	// TokenEncoding names the tiktoken encoding used for budgeting.
	TokenEncoding string `yaml:"token_encoding"`
}

func (c *AttachConfig) SetDefaults() {
	if c.CacheTTLSeconds == 0 {
		c.CacheTTLSeconds = 1800
	}
	if c.MaxContextTokens == 0 {
		c.MaxContextTokens = 4000
	}
	if c.ExtractorVersion == "" {
		c.ExtractorVersion = "v1"
	}
	if c.TokenEncoding == "" {
		c.TokenEncoding = "cl100k_base"
	}
}

// GraphConfig configures the entity graph store.
type GraphConfig struct {
	// CheckpointPath is where the graph is persisted between runs.
	CheckpointPath string `yaml:"checkpoint_path"`

	// FuzzyThreshold is the minimum normalized similarity for entity
	// resolution (default 0.85).
	FuzzyThreshold float64 `yaml:"fuzzy_threshold"`

	// MaxHops bounds BFS expansion (default 2).
	MaxHops int `yaml:"max_hops"`
}

func (c *GraphConfig) SetDefaults() {
	if c.CheckpointPath == "" {
		c.CheckpointPath = ".lumen/graph.json"
	}
	if c.FuzzyThreshold == 0 {
		c.FuzzyThreshold = 0.85
	}
	if c.MaxHops == 0 {
		c.MaxHops = 2
	}
}
