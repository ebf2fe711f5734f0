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

package graph

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumensearch/lumen/pkg/config"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	cfg := &config.GraphConfig{CheckpointPath: filepath.Join(t.TempDir(), "graph.json")}
	cfg.SetDefaults()
	s, err := NewStore(cfg)
	require.NoError(t, err)
	return s
}

func TestResolveOrCreateFuzzy(t *testing.T) {
	s := testStore(t)

	created := s.ResolveOrCreate("Acme Corporation", EntityOrganization)

	// One edit away, same type: resolves to the existing node.
	same := s.ResolveOrCreate("Acme Corporatio", EntityOrganization)
	assert.Equal(t, created.ID, same.ID)

	// Same name, different type: a distinct node.
	other := s.ResolveOrCreate("Acme Corporation", EntityProduct)
	assert.NotEqual(t, created.ID, other.ID)

	// Too far for fuzzy.
	far := s.ResolveOrCreate("Zenith Corporation", EntityOrganization)
	assert.NotEqual(t, created.ID, far.ID)
}

func TestIngestDocumentBuildsEdges(t *testing.T) {
	s := testStore(t)

	err := s.IngestDocument("doc-x", "report.pdf",
		[]ExtractedEntity{{Name: "Alice", Type: "PERSON"}, {Name: "Acme", Type: "ORGANIZATION"}},
		[]ExtractedRelation{{Source: "Alice", Target: "Acme", Type: "WORKS_AT", Weight: 0.8}})
	require.NoError(t, err)

	alice := s.Resolve("Alice")
	require.Len(t, alice, 1)
	assert.Equal(t, []string{"doc-x"}, alice[0].DocumentIDs)

	entities, relationships := s.Stats()
	// Alice, Acme, and the document node.
	assert.Equal(t, 3, entities)
	// Two MENTIONS, one CO_OCCURS, one WORKS_AT.
	assert.Equal(t, 4, relationships)
}

func TestEdgeReinforcementCapped(t *testing.T) {
	s := testStore(t)

	entities := []ExtractedEntity{{Name: "A", Type: "CONCEPT"}, {Name: "B", Type: "CONCEPT"}}
	rel := []ExtractedRelation{{Source: "A", Target: "B", Type: "RELATED_TO", Weight: 0.99}}

	for i := 0; i < 20; i++ {
		docID := "doc-" + string(rune('a'+i))
		require.NoError(t, s.IngestDocument(docID, docID+".txt", entities, rel))
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	for key, e := range s.edges {
		if key.typ == RelRelatedTo {
			assert.LessOrEqual(t, e.weight, 1.0)
			assert.Greater(t, e.weight, 0.99)
		}
	}
}

func TestExpandTwoHops(t *testing.T) {
	s := testStore(t)

	require.NoError(t, s.IngestDocument("doc-x", "x.txt",
		[]ExtractedEntity{{Name: "Acme", Type: "ORGANIZATION"}, {Name: "Zeta", Type: "ORGANIZATION"}}, nil))
	require.NoError(t, s.IngestDocument("doc-y", "y.txt",
		[]ExtractedEntity{{Name: "Zeta", Type: "ORGANIZATION"}, {Name: "Omega", Type: "ORGANIZATION"}}, nil))

	result := s.Expand([]string{"Acme"}, 2)

	require.Len(t, result.Original, 1)
	assert.Equal(t, "Acme", result.Original[0].Name)

	expandedNames := make([]string, len(result.Expanded))
	for i, e := range result.Expanded {
		expandedNames[i] = e.Name
	}
	assert.ElementsMatch(t, []string{"Zeta", "Omega"}, expandedNames)
	assert.ElementsMatch(t, []string{"doc-x", "doc-y"}, result.RelatedDocumentIDs)

	// Paths record the traversal: Acme -> Zeta, then Zeta -> Omega.
	require.Len(t, result.Paths, 2)
	for _, p := range result.Paths {
		assert.Equal(t, "Acme", p[0].Source)
	}

	// One hop stops at Zeta.
	oneHop := s.Expand([]string{"Acme"}, 1)
	require.Len(t, oneHop.Expanded, 1)
	assert.Equal(t, "Zeta", oneHop.Expanded[0].Name)
}

func TestExpandTerminatesOnCycle(t *testing.T) {
	s := testStore(t)

	require.NoError(t, s.IngestDocument("doc-1", "1.txt",
		[]ExtractedEntity{{Name: "A", Type: "CONCEPT"}, {Name: "B", Type: "CONCEPT"}}, nil))
	require.NoError(t, s.IngestDocument("doc-2", "2.txt",
		[]ExtractedEntity{{Name: "B", Type: "CONCEPT"}, {Name: "C", Type: "CONCEPT"}}, nil))
	require.NoError(t, s.IngestDocument("doc-3", "3.txt",
		[]ExtractedEntity{{Name: "C", Type: "CONCEPT"}, {Name: "A", Type: "CONCEPT"}}, nil))

	result := s.Expand([]string{"A"}, 10)
	assert.Len(t, result.Expanded, 2)
}

func TestRemoveDocument(t *testing.T) {
	s := testStore(t)

	require.NoError(t, s.IngestDocument("doc-x", "x.txt",
		[]ExtractedEntity{{Name: "OnlyHere", Type: "CONCEPT"}, {Name: "Shared", Type: "CONCEPT"}}, nil))
	require.NoError(t, s.IngestDocument("doc-y", "y.txt",
		[]ExtractedEntity{{Name: "Shared", Type: "CONCEPT"}}, nil))

	require.NoError(t, s.RemoveDocument("doc-x"))

	// OnlyHere had no remaining documents; its only surviving edge was
	// the CO_OCCURS witnessed solely by doc-x, which is gone too.
	assert.Empty(t, s.Resolve("OnlyHere"))

	shared := s.Resolve("Shared")
	require.Len(t, shared, 1)
	assert.Equal(t, []string{"doc-y"}, shared[0].DocumentIDs)
}

func TestCheckpointRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "graph.json")
	cfg := &config.GraphConfig{CheckpointPath: path}
	cfg.SetDefaults()

	s, err := NewStore(cfg)
	require.NoError(t, err)
	require.NoError(t, s.IngestDocument("doc-x", "x.txt",
		[]ExtractedEntity{{Name: "Acme", Type: "ORGANIZATION"}, {Name: "Zeta", Type: "ORGANIZATION"}}, nil))

	reloaded, err := NewStore(cfg)
	require.NoError(t, err)

	entities, relationships := reloaded.Stats()
	assert.Equal(t, 3, entities)
	assert.Equal(t, 3, relationships)

	result := reloaded.Expand([]string{"Acme"}, 2)
	require.Len(t, result.Expanded, 1)
	assert.Equal(t, "Zeta", result.Expanded[0].Name)

	// IDs continue from the checkpointed counter.
	fresh := reloaded.ResolveOrCreate("Newcomer", EntityPerson)
	assert.Greater(t, fresh.ID, result.Original[0].ID)
}
