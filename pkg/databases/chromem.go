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

package databases

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/philippgille/chromem-go"

	"github.com/lumensearch/lumen/pkg/config"
	"github.com/lumensearch/lumen/pkg/faults"
)

// docRecord is the sidecar entry kept alongside chromem's own storage.
// chromem metadata is string-typed and has no listing API, so Get, List
// and KeywordSearch are served from this map.
type docRecord struct {
	Content  string                 `json:"content"`
	Metadata map[string]interface{} `json:"metadata"`
}

type chromemProvider struct {
	config *config.VectorConfig
	db     *chromem.DB

	mu          sync.RWMutex
	collections map[string]*chromem.Collection
	docs        map[string]map[string]*docRecord
	lexical     map[string]*lexicalIndex
	sidecarPath string
}

// NewChromemProvider opens (or creates) the embedded store at the
// configured persist path.
func NewChromemProvider(cfg *config.VectorConfig) (DatabaseProvider, error) {
	db, err := chromem.NewPersistentDB(cfg.PersistPath, false)
	if err != nil {
		return nil, faults.New(faults.KindUnavailable, "chromem", "open",
			fmt.Sprintf("failed to open store at %s", cfg.PersistPath), err)
	}

	p := &chromemProvider{
		config:      cfg,
		db:          db,
		collections: make(map[string]*chromem.Collection),
		docs:        make(map[string]map[string]*docRecord),
		lexical:     make(map[string]*lexicalIndex),
		sidecarPath: filepath.Join(cfg.PersistPath, "documents.json"),
	}
	if err := p.loadSidecar(); err != nil {
		return nil, err
	}
	return p, nil
}

// precomputed rejects embedding requests: all vectors arrive via Upsert.
func precomputed(ctx context.Context, text string) ([]float32, error) {
	return nil, fmt.Errorf("embeddings are computed upstream")
}

func (p *chromemProvider) collection(name string) (*chromem.Collection, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.collectionLocked(name)
}

func (p *chromemProvider) collectionLocked(name string) (*chromem.Collection, error) {
	if c, ok := p.collections[name]; ok {
		return c, nil
	}
	c, err := p.db.GetOrCreateCollection(name, nil, precomputed)
	if err != nil {
		return nil, faults.New(faults.KindUnavailable, "chromem", "collection",
			fmt.Sprintf("failed to open collection %s", name), err)
	}
	p.collections[name] = c
	if p.docs[name] == nil {
		p.docs[name] = make(map[string]*docRecord)
	}
	if p.lexical[name] == nil {
		p.lexical[name] = newLexicalIndex()
	}
	return c, nil
}

func (p *chromemProvider) EnsureCollection(ctx context.Context, collection string, dim int) error {
	_, err := p.collection(collection)
	return err
}

func (p *chromemProvider) Upsert(ctx context.Context, collection, id string, vector []float32, content string, metadata map[string]interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	c, err := p.collectionLocked(collection)
	if err != nil {
		return err
	}

	doc := chromem.Document{
		ID:        id,
		Embedding: vector,
		Content:   content,
		Metadata:  stringMetadata(metadata),
	}
	if err := c.AddDocument(ctx, doc); err != nil {
		return faults.New(faults.KindUnavailable, "chromem", "Upsert",
			fmt.Sprintf("failed to store document %s", id), err)
	}

	p.docs[collection][id] = &docRecord{Content: content, Metadata: metadata}
	p.indexLexical(collection, id, content, metadata)
	return p.persistSidecarLocked()
}

func (p *chromemProvider) Search(ctx context.Context, collection string, vector []float32, topK int, filter map[string]interface{}) ([]SearchResult, error) {
	p.mu.RLock()
	c, ok := p.collections[collection]
	records := p.docs[collection]
	p.mu.RUnlock()
	if !ok {
		return nil, nil
	}

	count := c.Count()
	if count == 0 {
		return nil, nil
	}
	// Overfetch when a filter is active since filtering happens after
	// the vector query.
	limit := topK
	if len(filter) > 0 {
		limit = topK * 4
	}
	if limit > count {
		limit = count
	}

	hits, err := c.QueryEmbedding(ctx, vector, limit, nil, nil)
	if err != nil {
		return nil, faults.New(faults.KindUnavailable, "chromem", "Search", "vector query failed", err)
	}

	results := make([]SearchResult, 0, len(hits))
	for _, h := range hits {
		rec := records[h.ID]
		if rec == nil {
			continue
		}
		if !matchesFilter(rec.Metadata, filter) {
			continue
		}
		results = append(results, SearchResult{
			ID:       h.ID,
			Score:    h.Similarity,
			Content:  rec.Content,
			Vector:   h.Embedding,
			Metadata: rec.Metadata,
		})
		if len(results) == topK {
			break
		}
	}
	return results, nil
}

func (p *chromemProvider) KeywordSearch(ctx context.Context, collection, query string, topK int, filter map[string]interface{}) ([]SearchResult, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	ix := p.lexical[collection]
	records := p.docs[collection]
	if ix == nil {
		return nil, nil
	}

	// Overfetch: filtering happens after scoring.
	hits := ix.Score(query, topK*4)
	results := make([]SearchResult, 0, topK)
	for _, h := range hits {
		rec := records[h.ID]
		if rec == nil || !matchesFilter(rec.Metadata, filter) {
			continue
		}
		results = append(results, SearchResult{
			ID:       h.ID,
			Score:    float32(h.Score),
			Content:  rec.Content,
			Metadata: rec.Metadata,
		})
		if len(results) == topK {
			break
		}
	}
	return results, nil
}

func (p *chromemProvider) Get(ctx context.Context, collection, id string) (*SearchResult, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	rec := p.docs[collection][id]
	if rec == nil {
		return nil, faults.New(faults.KindNotFound, "chromem", "Get",
			fmt.Sprintf("document %s not found", id), nil)
	}
	return &SearchResult{ID: id, Content: rec.Content, Metadata: rec.Metadata}, nil
}

func (p *chromemProvider) List(ctx context.Context, collection string, filter map[string]interface{}) ([]SearchResult, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var results []SearchResult
	for id, rec := range p.docs[collection] {
		if !matchesFilter(rec.Metadata, filter) {
			continue
		}
		results = append(results, SearchResult{ID: id, Content: rec.Content, Metadata: rec.Metadata})
	}
	return results, nil
}

func (p *chromemProvider) Delete(ctx context.Context, collection, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	c, err := p.collectionLocked(collection)
	if err != nil {
		return err
	}
	if err := c.Delete(ctx, nil, nil, id); err != nil {
		return faults.New(faults.KindUnavailable, "chromem", "Delete",
			fmt.Sprintf("failed to delete document %s", id), err)
	}
	delete(p.docs[collection], id)
	p.lexical[collection].Remove(id)
	return p.persistSidecarLocked()
}

func (p *chromemProvider) DeleteByFilter(ctx context.Context, collection string, filter map[string]interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	c, err := p.collectionLocked(collection)
	if err != nil {
		return err
	}
	var ids []string
	for id, rec := range p.docs[collection] {
		if matchesFilter(rec.Metadata, filter) {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil
	}
	if err := c.Delete(ctx, nil, nil, ids...); err != nil {
		return faults.New(faults.KindUnavailable, "chromem", "DeleteByFilter", "failed to delete documents", err)
	}
	for _, id := range ids {
		delete(p.docs[collection], id)
		p.lexical[collection].Remove(id)
	}
	return p.persistSidecarLocked()
}

func (p *chromemProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.persistSidecarLocked()
}

func (p *chromemProvider) indexLexical(collection, id, content string, metadata map[string]interface{}) {
	summary, _ := metadata["summary"].(string)
	filename, _ := metadata["file_name"].(string)
	keywords := stringSlice(metadata["keywords"])
	p.lexical[collection].Add(id, summary, filename, keywords, content)
}

// persistSidecarLocked writes the sidecar atomically: temp file in the
// same directory, then rename.
func (p *chromemProvider) persistSidecarLocked() error {
	data, err := json.MarshalIndent(p.docs, "", "  ")
	if err != nil {
		return faults.New(faults.KindInternal, "chromem", "persist", "failed to marshal sidecar", err)
	}
	tmp := p.sidecarPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return faults.New(faults.KindUnavailable, "chromem", "persist", "failed to write sidecar", err)
	}
	if err := os.Rename(tmp, p.sidecarPath); err != nil {
		return faults.New(faults.KindUnavailable, "chromem", "persist", "failed to replace sidecar", err)
	}
	return nil
}

func (p *chromemProvider) loadSidecar() error {
	data, err := os.ReadFile(p.sidecarPath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return faults.New(faults.KindUnavailable, "chromem", "load", "failed to read sidecar", err)
	}
	if err := json.Unmarshal(data, &p.docs); err != nil {
		return faults.New(faults.KindInternal, "chromem", "load", "sidecar is corrupt", err)
	}
	for collection, records := range p.docs {
		p.lexical[collection] = newLexicalIndex()
		for id, rec := range records {
			p.indexLexical(collection, id, rec.Content, rec.Metadata)
		}
	}
	return nil
}

func stringMetadata(metadata map[string]interface{}) map[string]string {
	out := make(map[string]string, len(metadata))
	for k, v := range metadata {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out
}

func stringSlice(v interface{}) []string {
	switch s := v.(type) {
	case []string:
		return s
	case []interface{}:
		out := make([]string, 0, len(s))
		for _, item := range s {
			if str, ok := item.(string); ok {
				out = append(out, str)
			}
		}
		return out
	}
	return nil
}
