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

// Package graph maintains the in-memory entity graph: nodes for
// entities and documents, weighted typed edges between them, and a
// bounded BFS expansion used by exploratory retrieval.
//
// The store is single-writer multi-reader. All entities and edges are
// owned by the store and addressed by integer ID; documents reference
// entities only through those IDs, so deletions walk indices rather
// than pointers.
package graph

import (
	"sort"
	"strings"
	"sync"

	"github.com/agext/levenshtein"

	"github.com/lumensearch/lumen/pkg/config"
)

type EntityType string

const (
	EntityPerson       EntityType = "PERSON"
	EntityOrganization EntityType = "ORGANIZATION"
	EntityLocation     EntityType = "LOCATION"
	EntityDate         EntityType = "DATE"
	EntityConcept      EntityType = "CONCEPT"
	EntityProduct      EntityType = "PRODUCT"
	EntityDocument     EntityType = "DOCUMENT"
)

// ParseEntityType maps loose extractor output onto the closed set,
// defaulting to CONCEPT.
func ParseEntityType(s string) EntityType {
	switch EntityType(strings.ToUpper(strings.TrimSpace(s))) {
	case EntityPerson, EntityOrganization, EntityLocation, EntityDate, EntityConcept, EntityProduct, EntityDocument:
		return EntityType(strings.ToUpper(strings.TrimSpace(s)))
	}
	return EntityConcept
}

type RelationType string

const (
	RelMentions  RelationType = "MENTIONS"
	RelCoOccurs  RelationType = "CO_OCCURS"
	RelWorksAt   RelationType = "WORKS_AT"
	RelLocatedIn RelationType = "LOCATED_IN"
	RelRelatedTo RelationType = "RELATED_TO"
	RelCreatedBy RelationType = "CREATED_BY"
)

func ParseRelationType(s string) RelationType {
	switch RelationType(strings.ToUpper(strings.TrimSpace(s))) {
	case RelMentions, RelCoOccurs, RelWorksAt, RelLocatedIn, RelCreatedBy:
		return RelationType(strings.ToUpper(strings.TrimSpace(s)))
	}
	return RelRelatedTo
}

// initial weight for edges not supplied by the extractor.
const defaultCoOccurWeight = 0.3

type Entity struct {
	ID          int64             `json:"id"`
	Name        string            `json:"name"`
	Type        EntityType        `json:"type"`
	DocumentIDs []string          `json:"document_ids,omitempty"`
	Properties  map[string]string `json:"properties,omitempty"`
}

type Relationship struct {
	SourceID    int64        `json:"source"`
	TargetID    int64        `json:"target"`
	Type        RelationType `json:"type"`
	Weight      float64      `json:"weight"`
	DocumentIDs []string     `json:"document_ids,omitempty"`
}

type edgeKey struct {
	src int64
	dst int64
	typ RelationType
}

type entityNode struct {
	id     int64
	name   string
	typ    EntityType
	docIDs map[string]struct{}
	props  map[string]string
}

type edge struct {
	key    edgeKey
	weight float64
	docIDs map[string]struct{}
}

// Store is the arena that owns all nodes and edges.
type Store struct {
	mu sync.RWMutex

	nextID    int64
	entities  map[int64]*entityNode
	nameIndex map[string][]int64
	docNodes  map[string]int64
	edges     map[edgeKey]*edge
	adjacency map[int64]map[edgeKey]struct{}

	checkpointPath string
	fuzzyThreshold float64
}

func NewStore(cfg *config.GraphConfig) (*Store, error) {
	s := &Store{
		nextID:         1,
		entities:       make(map[int64]*entityNode),
		nameIndex:      make(map[string][]int64),
		docNodes:       make(map[string]int64),
		edges:          make(map[edgeKey]*edge),
		adjacency:      make(map[int64]map[edgeKey]struct{}),
		checkpointPath: cfg.CheckpointPath,
		fuzzyThreshold: cfg.FuzzyThreshold,
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// ResolveOrCreate finds an entity by exact normalized name and type,
// then by fuzzy similarity against the name index, and creates a new
// node when neither matches.
func (s *Store) ResolveOrCreate(name string, typ EntityType) Entity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot(s.resolveOrCreateLocked(name, typ))
}

func (s *Store) resolveOrCreateLocked(name string, typ EntityType) *entityNode {
	key := normalizeName(name)

	for _, id := range s.nameIndex[key] {
		if s.entities[id].typ == typ {
			return s.entities[id]
		}
	}

	// Fuzzy pass over the index. Fine for graphs in the tens of
	// thousands of names this system targets.
	for indexed, ids := range s.nameIndex {
		if levenshtein.Similarity(key, indexed, nil) < s.fuzzyThreshold {
			continue
		}
		for _, id := range ids {
			if s.entities[id].typ == typ {
				return s.entities[id]
			}
		}
	}

	node := &entityNode{
		id:     s.nextID,
		name:   strings.TrimSpace(name),
		typ:    typ,
		docIDs: make(map[string]struct{}),
		props:  make(map[string]string),
	}
	s.nextID++
	s.entities[node.id] = node
	s.nameIndex[key] = append(s.nameIndex[key], node.id)
	return node
}

// Resolve returns all entities whose normalized name matches exactly.
// Ambiguity is allowed; downstream fusion filters.
func (s *Store) Resolve(name string) []Entity {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Entity
	for _, id := range s.nameIndex[normalizeName(name)] {
		if s.entities[id].typ != EntityDocument {
			out = append(out, s.snapshot(s.entities[id]))
		}
	}
	return out
}

// ExtractedEntity is one entity produced by document summarization.
type ExtractedEntity struct {
	Name string
	Type string
}

// ExtractedRelation is one relationship produced by summarization.
// Source and Target are entity names from the same document.
type ExtractedRelation struct {
	Source string
	Target string
	Type   string
	Weight float64
}

// IngestDocument applies a document's extraction output: resolves each
// entity, records the mention, links co-occurring entities, and applies
// extracted relationships. Re-ingesting the same document is idempotent
// except for edge-weight reinforcement.
func (s *Store) IngestDocument(docID, docName string, entities []ExtractedEntity, relations []ExtractedRelation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	docNode := s.documentNodeLocked(docID, docName)

	resolved := make(map[string]*entityNode, len(entities))
	var order []*entityNode
	for _, e := range entities {
		if strings.TrimSpace(e.Name) == "" {
			continue
		}
		node := s.resolveOrCreateLocked(e.Name, ParseEntityType(e.Type))
		node.docIDs[docID] = struct{}{}
		s.applyEdgeLocked(docNode.id, node.id, RelMentions, 1.0, docID)
		if _, seen := resolved[normalizeName(e.Name)]; !seen {
			resolved[normalizeName(e.Name)] = node
			order = append(order, node)
		}
	}

	// Entities appearing in the same document are related even when the
	// extractor names no explicit relationship.
	for i := 0; i < len(order); i++ {
		for j := i + 1; j < len(order); j++ {
			s.applyEdgeLocked(order[i].id, order[j].id, RelCoOccurs, defaultCoOccurWeight, docID)
		}
	}

	for _, r := range relations {
		src, ok := resolved[normalizeName(r.Source)]
		if !ok {
			continue
		}
		dst, ok := resolved[normalizeName(r.Target)]
		if !ok || src.id == dst.id {
			continue
		}
		weight := r.Weight
		if weight <= 0 || weight > 1 {
			weight = 0.5
		}
		s.applyEdgeLocked(src.id, dst.id, ParseRelationType(r.Type), weight, docID)
	}

	return s.checkpointLocked()
}

func (s *Store) documentNodeLocked(docID, docName string) *entityNode {
	if id, ok := s.docNodes[docID]; ok {
		node := s.entities[id]
		node.name = docName
		return node
	}
	node := &entityNode{
		id:     s.nextID,
		name:   docName,
		typ:    EntityDocument,
		docIDs: map[string]struct{}{docID: {}},
		props:  map[string]string{"doc_id": docID},
	}
	s.nextID++
	s.entities[node.id] = node
	s.docNodes[docID] = node.id
	return node
}

// applyEdgeLocked creates the edge or reinforces an existing one:
// w <- min(1.0, w*1.1). The witnessing document is recorded either way.
func (s *Store) applyEdgeLocked(src, dst int64, typ RelationType, initial float64, docID string) {
	key := edgeKey{src: src, dst: dst, typ: typ}
	if typ != RelMentions {
		// Undirected relation types share one edge per pair.
		if _, ok := s.edges[edgeKey{src: dst, dst: src, typ: typ}]; ok {
			key = edgeKey{src: dst, dst: src, typ: typ}
		}
	}

	e, ok := s.edges[key]
	if !ok {
		e = &edge{key: key, weight: initial, docIDs: make(map[string]struct{})}
		s.edges[key] = e
		s.addAdjacencyLocked(key)
	} else if _, witnessed := e.docIDs[docID]; !witnessed {
		e.weight = minFloat(1.0, e.weight*1.1)
	}
	e.docIDs[docID] = struct{}{}
}

func (s *Store) addAdjacencyLocked(key edgeKey) {
	for _, id := range []int64{key.src, key.dst} {
		if s.adjacency[id] == nil {
			s.adjacency[id] = make(map[edgeKey]struct{})
		}
		s.adjacency[id][key] = struct{}{}
	}
}

func (s *Store) removeEdgeLocked(key edgeKey) {
	delete(s.edges, key)
	delete(s.adjacency[key.src], key)
	delete(s.adjacency[key.dst], key)
}

// RemoveDocument unlinks a document: its node and MENTIONS edges go
// away, its witness marks are dropped, and entities left with no
// documents and no non-MENTIONS edges are removed.
func (s *Store) RemoveDocument(docID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var touched []int64
	for key, e := range s.edges {
		if _, ok := e.docIDs[docID]; !ok {
			continue
		}
		delete(e.docIDs, docID)
		if key.typ == RelMentions || len(e.docIDs) == 0 {
			s.removeEdgeLocked(key)
		}
		touched = append(touched, key.src, key.dst)
	}

	for _, node := range s.entities {
		delete(node.docIDs, docID)
	}

	if id, ok := s.docNodes[docID]; ok {
		s.removeEntityLocked(id)
		delete(s.docNodes, docID)
	}

	for _, id := range touched {
		node, ok := s.entities[id]
		if !ok || node.typ == EntityDocument {
			continue
		}
		if len(node.docIDs) == 0 && !s.hasNonMentionEdgeLocked(id) {
			s.removeEntityLocked(id)
		}
	}

	return s.checkpointLocked()
}

func (s *Store) hasNonMentionEdgeLocked(id int64) bool {
	for key := range s.adjacency[id] {
		if key.typ != RelMentions {
			return true
		}
	}
	return false
}

func (s *Store) removeEntityLocked(id int64) {
	node, ok := s.entities[id]
	if !ok {
		return
	}
	for key := range s.adjacency[id] {
		s.removeEdgeLocked(key)
	}
	delete(s.adjacency, id)
	delete(s.entities, id)

	key := normalizeName(node.name)
	ids := s.nameIndex[key]
	for i, candidate := range ids {
		if candidate == id {
			s.nameIndex[key] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	if len(s.nameIndex[key]) == 0 {
		delete(s.nameIndex, key)
	}
}

// RenameDocument updates the document node's display name after a move.
// The document ID is path-stable only for the original path, so callers
// re-derive it; this handles the node label.
func (s *Store) RenameDocument(docID, newName string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.docNodes[docID]; ok {
		s.entities[id].name = newName
	}
}

// Stats returns node and edge counts for health reporting.
func (s *Store) Stats() (entities, relationships int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entities), len(s.edges)
}

func (s *Store) snapshot(node *entityNode) Entity {
	docIDs := make([]string, 0, len(node.docIDs))
	for id := range node.docIDs {
		docIDs = append(docIDs, id)
	}
	sort.Strings(docIDs)

	var props map[string]string
	if len(node.props) > 0 {
		props = make(map[string]string, len(node.props))
		for k, v := range node.props {
			props[k] = v
		}
	}
	return Entity{ID: node.id, Name: node.name, Type: node.typ, DocumentIDs: docIDs, Properties: props}
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
