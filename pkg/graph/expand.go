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

import "sort"

// PathStep is one traversed edge, named for display.
type PathStep struct {
	Source string       `json:"source"`
	Type   RelationType `json:"type"`
	Target string       `json:"target"`
}

type Path []PathStep

// Node and Link are the wire shapes for graph events.
type Node struct {
	ID   int64      `json:"id"`
	Name string     `json:"name"`
	Type EntityType `json:"type"`
}

type Link struct {
	Source int64        `json:"source"`
	Target int64        `json:"target"`
	Type   RelationType `json:"type"`
}

// Expansion is the result of a bounded BFS from a set of entity names.
type Expansion struct {
	Original           []Entity
	Expanded           []Entity
	RelatedDocumentIDs []string
	Paths              []Path
	Nodes              []Node
	Links              []Link
}

// Expand resolves each name and walks outward up to maxHops, collecting
// related entities and the union of their witnessing documents.
// Document nodes are never traversed: entity-to-entity edges carry the
// relatedness signal, and routing through shared documents would
// collapse every co-mentioned pair to distance two.
func (s *Store) Expand(names []string, maxHops int) Expansion {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if maxHops <= 0 {
		maxHops = 2
	}

	var result Expansion
	docIDs := make(map[string]struct{})
	visited := make(map[int64]bool)

	type frontierItem struct {
		id   int64
		path Path
	}
	var frontier []frontierItem

	for _, name := range names {
		for _, id := range s.nameIndex[normalizeName(name)] {
			node := s.entities[id]
			if node.typ == EntityDocument || visited[id] {
				continue
			}
			visited[id] = true
			result.Original = append(result.Original, s.snapshot(node))
			collectDocs(docIDs, node)
			frontier = append(frontier, frontierItem{id: id})
		}
	}

	linkSeen := make(map[edgeKey]bool)
	for hop := 1; hop <= maxHops && len(frontier) > 0; hop++ {
		var next []frontierItem
		for _, item := range frontier {
			for key := range s.adjacency[item.id] {
				neighborID := key.src
				if neighborID == item.id {
					neighborID = key.dst
				}
				neighbor, ok := s.entities[neighborID]
				if !ok || neighbor.typ == EntityDocument {
					continue
				}
				if !linkSeen[key] {
					linkSeen[key] = true
					result.Links = append(result.Links, Link{Source: key.src, Target: key.dst, Type: key.typ})
				}
				if visited[neighborID] {
					continue
				}
				visited[neighborID] = true

				path := append(append(Path{}, item.path...), PathStep{
					Source: s.entities[item.id].name,
					Type:   key.typ,
					Target: neighbor.name,
				})
				result.Expanded = append(result.Expanded, s.snapshot(neighbor))
				result.Paths = append(result.Paths, path)
				collectDocs(docIDs, neighbor)
				next = append(next, frontierItem{id: neighborID, path: path})
			}
		}
		frontier = next
	}

	for id := range docIDs {
		result.RelatedDocumentIDs = append(result.RelatedDocumentIDs, id)
	}
	sort.Strings(result.RelatedDocumentIDs)

	for _, e := range result.Original {
		result.Nodes = append(result.Nodes, Node{ID: e.ID, Name: e.Name, Type: e.Type})
	}
	for _, e := range result.Expanded {
		result.Nodes = append(result.Nodes, Node{ID: e.ID, Name: e.Name, Type: e.Type})
	}
	return result
}

func collectDocs(into map[string]struct{}, node *entityNode) {
	for id := range node.docIDs {
		into[id] = struct{}{}
	}
}
