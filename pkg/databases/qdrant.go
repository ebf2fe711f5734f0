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
	"fmt"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"github.com/lumensearch/lumen/pkg/config"
	"github.com/lumensearch/lumen/pkg/faults"
)

// scrollPageSize bounds how many candidates a keyword search pulls from
// the server for client-side lexical scoring.
const scrollPageSize = 1000

type qdrantProvider struct {
	client *qdrant.Client
	config *config.VectorConfig
}

func NewQdrantProvider(cfg *config.VectorConfig) (DatabaseProvider, error) {
	useTLS := false
	if cfg.EnableTLS != nil {
		useTLS = *cfg.EnableTLS
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: useTLS,
	})
	if err != nil {
		return nil, faults.New(faults.KindUnavailable, "qdrant", "connect", "failed to create client", err)
	}

	return &qdrantProvider{client: client, config: cfg}, nil
}

// pointID maps a document ID to a deterministic UUID. Qdrant only
// accepts UUID or integer point IDs; the original ID travels in the
// payload under "doc_id".
func pointID(id string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(id)).String()
}

func (db *qdrantProvider) EnsureCollection(ctx context.Context, collection string, dim int) error {
	exists, err := db.client.CollectionExists(ctx, collection)
	if err != nil {
		return faults.New(faults.KindUnavailable, "qdrant", "EnsureCollection", "failed to check collection", err)
	}
	if exists {
		return nil
	}

	err = db.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(dim),
			Distance: qdrant.Distance_Cosine,
		}),
		HnswConfig: &qdrant.HnswConfigDiff{
			M:           qdrant.PtrOf(uint64(db.config.Index.M)),
			EfConstruct: qdrant.PtrOf(uint64(db.config.Index.EfConstruction)),
		},
	})
	if err != nil {
		return faults.New(faults.KindUnavailable, "qdrant", "EnsureCollection", "failed to create collection", err)
	}
	return nil
}

func (db *qdrantProvider) Upsert(ctx context.Context, collection, id string, vector []float32, content string, metadata map[string]interface{}) error {
	if err := db.EnsureCollection(ctx, collection, len(vector)); err != nil {
		return err
	}

	payload := make(map[string]*qdrant.Value, len(metadata)+2)
	for key, value := range metadata {
		val, err := qdrant.NewValue(value)
		if err != nil {
			return faults.New(faults.KindInputInvalid, "qdrant", "Upsert",
				fmt.Sprintf("metadata value for %s is not representable", key), err)
		}
		payload[key] = val
	}
	payload["doc_id"] = qdrant.NewValueString(id)
	payload["content"] = qdrant.NewValueString(content)

	_, err := db.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: collection,
		Points: []*qdrant.PointStruct{{
			Id:      qdrant.NewID(pointID(id)),
			Vectors: qdrant.NewVectors(vector...),
			Payload: payload,
		}},
	})
	if err != nil {
		return faults.New(faults.KindUnavailable, "qdrant", "Upsert",
			fmt.Sprintf("failed to upsert document %s", id), err)
	}
	return nil
}

func (db *qdrantProvider) Search(ctx context.Context, collection string, vector []float32, topK int, filter map[string]interface{}) ([]SearchResult, error) {
	request := &qdrant.SearchPoints{
		CollectionName: collection,
		Vector:         vector,
		Limit:          uint64(topK),
		WithPayload:    qdrant.NewWithPayload(true),
		WithVectors:    qdrant.NewWithVectors(true),
		Params: &qdrant.SearchParams{
			HnswEf: qdrant.PtrOf(uint64(db.config.Index.EfSearch)),
		},
	}
	if len(filter) > 0 {
		request.Filter = buildFilter(filter)
	}

	scored, err := db.client.GetPointsClient().Search(ctx, request)
	if err != nil {
		return nil, faults.New(faults.KindUnavailable, "qdrant", "Search", "vector query failed", err)
	}

	results := make([]SearchResult, 0, len(scored.Result))
	for _, point := range scored.Result {
		results = append(results, scoredResult(point))
	}
	return results, nil
}

func (db *qdrantProvider) KeywordSearch(ctx context.Context, collection, query string, topK int, filter map[string]interface{}) ([]SearchResult, error) {
	candidates, err := db.scroll(ctx, collection, filter, scrollPageSize)
	if err != nil {
		return nil, err
	}

	// Score the scrolled candidates with the same boosted lexical
	// scorer the embedded store uses.
	ix := newLexicalIndex()
	byID := make(map[string]SearchResult, len(candidates))
	for _, r := range candidates {
		summary, _ := r.Metadata["summary"].(string)
		filename, _ := r.Metadata["file_name"].(string)
		ix.Add(r.ID, summary, filename, stringSlice(r.Metadata["keywords"]), r.Content)
		byID[r.ID] = r
	}

	hits := ix.Score(query, topK)
	results := make([]SearchResult, 0, len(hits))
	for _, h := range hits {
		r := byID[h.ID]
		r.Score = float32(h.Score)
		results = append(results, r)
	}
	return results, nil
}

func (db *qdrantProvider) Get(ctx context.Context, collection, id string) (*SearchResult, error) {
	points, err := db.client.Get(ctx, &qdrant.GetPoints{
		CollectionName: collection,
		Ids:            []*qdrant.PointId{qdrant.NewID(pointID(id))},
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, faults.New(faults.KindUnavailable, "qdrant", "Get", "point fetch failed", err)
	}
	if len(points) == 0 {
		return nil, faults.New(faults.KindNotFound, "qdrant", "Get",
			fmt.Sprintf("document %s not found", id), nil)
	}
	result := retrievedResult(points[0])
	return &result, nil
}

func (db *qdrantProvider) List(ctx context.Context, collection string, filter map[string]interface{}) ([]SearchResult, error) {
	return db.scroll(ctx, collection, filter, scrollPageSize)
}

func (db *qdrantProvider) scroll(ctx context.Context, collection string, filter map[string]interface{}, limit uint32) ([]SearchResult, error) {
	request := &qdrant.ScrollPoints{
		CollectionName: collection,
		Limit:          qdrant.PtrOf(limit),
		WithPayload:    qdrant.NewWithPayload(true),
	}
	if len(filter) > 0 {
		request.Filter = buildFilter(filter)
	}

	points, err := db.client.Scroll(ctx, request)
	if err != nil {
		return nil, faults.New(faults.KindUnavailable, "qdrant", "List", "scroll failed", err)
	}
	results := make([]SearchResult, 0, len(points))
	for _, point := range points {
		results = append(results, retrievedResult(point))
	}
	return results, nil
}

func (db *qdrantProvider) Delete(ctx context.Context, collection, id string) error {
	_, err := db.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: collection,
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Points{
				Points: &qdrant.PointsIdsList{
					Ids: []*qdrant.PointId{qdrant.NewID(pointID(id))},
				},
			},
		},
	})
	if err != nil {
		return faults.New(faults.KindUnavailable, "qdrant", "Delete",
			fmt.Sprintf("failed to delete document %s", id), err)
	}
	return nil
}

func (db *qdrantProvider) DeleteByFilter(ctx context.Context, collection string, filter map[string]interface{}) error {
	_, err := db.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: collection,
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Filter{
				Filter: buildFilter(filter),
			},
		},
	})
	if err != nil {
		return faults.New(faults.KindUnavailable, "qdrant", "DeleteByFilter", "failed to delete documents", err)
	}
	return nil
}

func (db *qdrantProvider) Close() error {
	return db.client.Close()
}

func buildFilter(filter map[string]interface{}) *qdrant.Filter {
	conditions := make([]*qdrant.Condition, 0, len(filter))
	for key, value := range filter {
		switch v := value.(type) {
		case string:
			conditions = append(conditions, qdrant.NewMatchKeyword(key, v))
		case int:
			conditions = append(conditions, qdrant.NewMatchInt(key, int64(v)))
		case int64:
			conditions = append(conditions, qdrant.NewMatchInt(key, v))
		case bool:
			conditions = append(conditions, qdrant.NewMatchBool(key, v))
		}
	}
	return &qdrant.Filter{Must: conditions}
}

func scoredResult(point *qdrant.ScoredPoint) SearchResult {
	metadata := decodePayload(point.Payload)
	var vector []float32
	if point.Vectors != nil {
		if dense := point.Vectors.GetVector(); dense != nil {
			vector = dense.GetDense().GetData()
		}
	}
	return SearchResult{
		ID:       stringField(metadata, "doc_id"),
		Score:    point.Score,
		Content:  stringField(metadata, "content"),
		Vector:   vector,
		Metadata: metadata,
	}
}

func retrievedResult(point *qdrant.RetrievedPoint) SearchResult {
	metadata := decodePayload(point.Payload)
	return SearchResult{
		ID:       stringField(metadata, "doc_id"),
		Content:  stringField(metadata, "content"),
		Metadata: metadata,
	}
}

func decodePayload(payload map[string]*qdrant.Value) map[string]interface{} {
	metadata := make(map[string]interface{}, len(payload))
	for key, value := range payload {
		metadata[key] = decodeValue(value)
	}
	return metadata
}

func decodeValue(value *qdrant.Value) interface{} {
	switch v := value.Kind.(type) {
	case *qdrant.Value_StringValue:
		return v.StringValue
	case *qdrant.Value_IntegerValue:
		return v.IntegerValue
	case *qdrant.Value_DoubleValue:
		return v.DoubleValue
	case *qdrant.Value_BoolValue:
		return v.BoolValue
	case *qdrant.Value_ListValue:
		if v.ListValue == nil {
			return nil
		}
		list := make([]interface{}, len(v.ListValue.Values))
		for i, item := range v.ListValue.Values {
			list[i] = decodeValue(item)
		}
		return list
	default:
		return nil
	}
}

func stringField(metadata map[string]interface{}, key string) string {
	s, _ := metadata[key].(string)
	return s
}
