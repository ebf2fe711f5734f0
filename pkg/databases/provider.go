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

import "context"

// SearchResult is a single hit from the vector or lexical index.
type SearchResult struct {
	ID       string
	Score    float32
	Content  string
	Vector   []float32
	Metadata map[string]interface{}
}

// DatabaseProvider abstracts the document index. Two implementations exist:
// the embedded chromem store (default) and an external qdrant cluster.
//
// Filters are exact-match on metadata fields. An empty filter matches
// everything.
type DatabaseProvider interface {
	// EnsureCollection creates the collection if missing. Idempotent.
	EnsureCollection(ctx context.Context, collection string, dim int) error

	// Upsert inserts or replaces a document by ID.
	Upsert(ctx context.Context, collection, id string, vector []float32, content string, metadata map[string]interface{}) error

	// Search runs approximate nearest-neighbor search over embeddings.
	Search(ctx context.Context, collection string, vector []float32, topK int, filter map[string]interface{}) ([]SearchResult, error)

	// KeywordSearch runs lexical scoring over indexed text fields.
	KeywordSearch(ctx context.Context, collection, query string, topK int, filter map[string]interface{}) ([]SearchResult, error)

	// Get fetches a single document. Returns a NotFound fault if absent.
	Get(ctx context.Context, collection, id string) (*SearchResult, error)

	// List returns all documents matching the filter, without scores.
	List(ctx context.Context, collection string, filter map[string]interface{}) ([]SearchResult, error)

	Delete(ctx context.Context, collection, id string) error
	DeleteByFilter(ctx context.Context, collection string, filter map[string]interface{}) error

	Close() error
}

// matchesFilter reports whether metadata satisfies every filter clause.
// Values compare by string form so int/float config values match stored
// JSON numbers.
func matchesFilter(metadata map[string]interface{}, filter map[string]interface{}) bool {
	for key, want := range filter {
		got, ok := metadata[key]
		if !ok {
			return false
		}
		if !looseEqual(got, want) {
			return false
		}
	}
	return true
}

func looseEqual(a, b interface{}) bool {
	if a == b {
		return true
	}
	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		return as == bs
	}
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	return aok && bok && af == bf
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
