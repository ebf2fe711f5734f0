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

// VectorConfig configures the vector/lexical store.
//
// Example YAML:
//
//	vector:
//	  type: chromem
//	  persist_path: .lumen/vectors
//	  dim: 768
type VectorConfig struct {
	// Type is the store type: "chromem" (embedded, default) or "qdrant".
	Type string `yaml:"type"`

	// Host and Port for external stores.
	Host string `yaml:"host,omitempty"`
	Port int    `yaml:"port,omitempty"`

	// APIKey for authenticated access.
	APIKey string `yaml:"api_key,omitempty"`

	// EnableTLS enables TLS connections.
	EnableTLS *bool `yaml:"enable_tls,omitempty"`

	// PersistPath for chromem file persistence.
	PersistPath string `yaml:"persist_path,omitempty"`

	// Collection is the index name (default "docs").
	Collection string `yaml:"collection"`

	// Dim is the embedding dimension. Must match the embedder output.
	Dim int `yaml:"dim"`

	// Index holds HNSW parameters for stores that expose them.
	Index HNSWConfig `yaml:"index"`
}

// HNSWConfig tunes the approximate nearest-neighbor index.
type HNSWConfig struct {
	M              int `yaml:"m"`
	EfConstruction int `yaml:"ef_construction"`
	EfSearch       int `yaml:"ef_search"`
}

func (c *VectorConfig) SetDefaults() {
	if c.Type == "" {
		c.Type = "chromem"
	}
	if c.Port == 0 && c.Type == "qdrant" {
		c.Port = 6334
	}
	if c.PersistPath == "" && c.Type == "chromem" {
		c.PersistPath = ".lumen/vectors"
	}
	if c.Collection == "" {
		c.Collection = "docs"
	}
	if c.Dim == 0 {
		c.Dim = 768
	}
	if c.Index.M == 0 {
		c.Index.M = 24
	}
	if c.Index.EfConstruction == 0 {
		c.Index.EfConstruction = 128
	}
	if c.Index.EfSearch == 0 {
		c.Index.EfSearch = 100
	}
}

func (c *VectorConfig) Validate() error {
	switch c.Type {
	case "chromem", "qdrant":
	default:
		return fmt.Errorf("invalid vector store type %q (valid: chromem, qdrant)", c.Type)
	}
	if c.Type == "qdrant" && c.Host == "" {
		return fmt.Errorf("host is required for qdrant vector store")
	}
	if c.Dim <= 0 {
		return fmt.Errorf("vector.dim must be positive")
	}
	return nil
}

// IsEmbedded returns true for the embedded chromem store.
func (c *VectorConfig) IsEmbedded() bool {
	return c.Type == "chromem"
}
