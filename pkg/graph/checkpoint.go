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
	"encoding/json"
	"os"
	"path/filepath"
	"sort"

	"github.com/lumensearch/lumen/pkg/faults"
)

type checkpointFile struct {
	NextID        int64          `json:"next_id"`
	Entities      []Entity       `json:"entities"`
	Relationships []Relationship `json:"relationships"`
}

// checkpointLocked writes the whole graph to disk: temp file in the
// same directory, then rename. Crash between the two leaves the
// previous checkpoint intact.
func (s *Store) checkpointLocked() error {
	file := checkpointFile{NextID: s.nextID}
	for _, node := range s.entities {
		file.Entities = append(file.Entities, s.snapshot(node))
	}
	sort.Slice(file.Entities, func(i, j int) bool { return file.Entities[i].ID < file.Entities[j].ID })

	for key, e := range s.edges {
		docIDs := make([]string, 0, len(e.docIDs))
		for id := range e.docIDs {
			docIDs = append(docIDs, id)
		}
		sort.Strings(docIDs)
		file.Relationships = append(file.Relationships, Relationship{
			SourceID:    key.src,
			TargetID:    key.dst,
			Type:        key.typ,
			Weight:      e.weight,
			DocumentIDs: docIDs,
		})
	}
	sort.Slice(file.Relationships, func(i, j int) bool {
		a, b := file.Relationships[i], file.Relationships[j]
		if a.SourceID != b.SourceID {
			return a.SourceID < b.SourceID
		}
		if a.TargetID != b.TargetID {
			return a.TargetID < b.TargetID
		}
		return a.Type < b.Type
	})

	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return faults.New(faults.KindInternal, "graph", "checkpoint", "failed to marshal graph", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.checkpointPath), 0o755); err != nil {
		return faults.New(faults.KindUnavailable, "graph", "checkpoint", "failed to create checkpoint dir", err)
	}
	tmp := s.checkpointPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return faults.New(faults.KindUnavailable, "graph", "checkpoint", "failed to write checkpoint", err)
	}
	if err := os.Rename(tmp, s.checkpointPath); err != nil {
		return faults.New(faults.KindUnavailable, "graph", "checkpoint", "failed to replace checkpoint", err)
	}
	return nil
}

// Checkpoint forces a write outside the usual mutation points.
func (s *Store) Checkpoint() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.checkpointLocked()
}

func (s *Store) load() error {
	data, err := os.ReadFile(s.checkpointPath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return faults.New(faults.KindUnavailable, "graph", "load", "failed to read checkpoint", err)
	}

	var file checkpointFile
	if err := json.Unmarshal(data, &file); err != nil {
		return faults.New(faults.KindInternal, "graph", "load", "checkpoint is corrupt", err)
	}

	s.nextID = file.NextID
	if s.nextID < 1 {
		s.nextID = 1
	}
	for _, e := range file.Entities {
		node := &entityNode{
			id:     e.ID,
			name:   e.Name,
			typ:    e.Type,
			docIDs: make(map[string]struct{}, len(e.DocumentIDs)),
			props:  make(map[string]string, len(e.Properties)),
		}
		for _, id := range e.DocumentIDs {
			node.docIDs[id] = struct{}{}
		}
		for k, v := range e.Properties {
			node.props[k] = v
		}
		s.entities[node.id] = node
		s.nameIndex[normalizeName(node.name)] = append(s.nameIndex[normalizeName(node.name)], node.id)
		if node.typ == EntityDocument {
			if docID, ok := node.props["doc_id"]; ok {
				s.docNodes[docID] = node.id
			}
		}
	}
	for _, r := range file.Relationships {
		if _, ok := s.entities[r.SourceID]; !ok {
			continue
		}
		if _, ok := s.entities[r.TargetID]; !ok {
			continue
		}
		key := edgeKey{src: r.SourceID, dst: r.TargetID, typ: r.Type}
		e := &edge{key: key, weight: r.Weight, docIDs: make(map[string]struct{}, len(r.DocumentIDs))}
		for _, id := range r.DocumentIDs {
			e.docIDs[id] = struct{}{}
		}
		s.edges[key] = e
		s.addAdjacencyLocked(key)
	}
	return nil
}
