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

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "chromem", cfg.Vector.Type)
	assert.Equal(t, "docs", cfg.Vector.Collection)
	assert.Equal(t, 768, cfg.Vector.Dim)
	assert.Equal(t, 24, cfg.Vector.Index.M)
	assert.Equal(t, 128, cfg.Vector.Index.EfConstruction)
	assert.Equal(t, 100, cfg.Vector.Index.EfSearch)

	assert.Equal(t, 50, cfg.Search.RecallTopK)
	assert.Equal(t, 5, cfg.Search.RerankTopK)
	assert.Equal(t, 60, cfg.Search.RRFK)
	assert.InDelta(t, 0.7, cfg.Search.Hybrid.VectorWeight, 1e-9)
	assert.InDelta(t, 0.3, cfg.Search.Hybrid.BM25Weight, 1e-9)

	assert.Equal(t, 10, cfg.Memory.Session.WindowSize)
	assert.Equal(t, 3600, cfg.Memory.Session.TTLSeconds)
	assert.Equal(t, int64(100<<20), cfg.Ingest.MaxFileBytes)
	assert.Equal(t, 50000, cfg.Ingest.MaxContentChars)
	assert.Equal(t, 3000, cfg.Watcher.DebounceMs)
	assert.Equal(t, 60000, cfg.Workflow.TimeoutMs)
	assert.Equal(t, 20000, cfg.Workflow.NodeTimeoutMs)
	assert.Equal(t, 2, cfg.Workflow.Retries)
	assert.Equal(t, 5, cfg.Workflow.BreakerThreshold)

	require.NoError(t, cfg.Validate())
}

func TestValidateRejectsDimMismatch(t *testing.T) {
	cfg := Default()
	cfg.Embedder.Dimension = 384

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not match vector.dim")
}

func TestValidateRejectsBadHybridWeights(t *testing.T) {
	cfg := Default()
	cfg.Search.Hybrid.VectorWeight = 0.8
	cfg.Search.Hybrid.BM25Weight = 0.3

	require.Error(t, cfg.Validate())
}

func TestLoadWithEnvExpansion(t *testing.T) {
	t.Setenv("TEST_VECTOR_HOST", "qdrant.internal")

	dir := t.TempDir()
	path := filepath.Join(dir, "lumen.yaml")
	content := `
vector:
  type: qdrant
  host: ${TEST_VECTOR_HOST}
  port: 6334
search:
  rerank_top_k: 7
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "qdrant.internal", cfg.Vector.Host)
	assert.Equal(t, 7, cfg.Search.RerankTopK)
	// Unset options still fall back to defaults.
	assert.Equal(t, 50, cfg.Search.RecallTopK)
}

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "chromem", cfg.Vector.Type)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "lumen.yaml")
	require.NoError(t, os.WriteFile(path, []byte("searchh:\n  top_k: 3\n"), 0644))

	_, err := Load(path)
	require.Error(t, err)
}

func TestExpandEnvDefaultValue(t *testing.T) {
	out := ExpandEnv([]byte("host: ${DOES_NOT_EXIST_XYZ:-localhost}"))
	assert.Equal(t, "host: localhost", string(out))
}

func TestIngestAllowed(t *testing.T) {
	cfg := Default()
	assert.True(t, cfg.Ingest.Allowed(".PDF"))
	assert.True(t, cfg.Ingest.Allowed(".txt"))
	assert.False(t, cfg.Ingest.Allowed(".exe"))
}
