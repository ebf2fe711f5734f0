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

package embedders

import (
	"context"
	"math"
	"testing"

	"github.com/lumensearch/lumen/pkg/faults"
)

type staticEmbedder struct {
	vector []float32
}

func (s *staticEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	out := make([]float32, len(s.vector))
	copy(out, s.vector)
	return out, nil
}

func (s *staticEmbedder) Dimension() int    { return len(s.vector) }
func (s *staticEmbedder) ModelName() string { return "static" }
func (s *staticEmbedder) Close() error      { return nil }

func TestNormalize(t *testing.T) {
	v := Normalize([]float32{3, 4})
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if math.Abs(math.Sqrt(sum)-1.0) > 1e-4 {
		t.Errorf("norm = %f, want 1.0", math.Sqrt(sum))
	}
}

func TestNormalizeZeroVector(t *testing.T) {
	v := Normalize([]float32{0, 0, 0})
	for _, x := range v {
		if x != 0 {
			t.Error("zero vector must remain zero")
		}
	}
}

func TestCosine(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 0}, []float32{1, 0}, 1.0},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0.0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1.0},
		{"mismatched length", []float32{1}, []float32{1, 0}, 0.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Cosine(tt.a, tt.b); math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Cosine() = %f, want %f", got, tt.want)
			}
		})
	}
}

func TestEmbedNormalizedDimensionMismatch(t *testing.T) {
	provider := &staticEmbedder{vector: []float32{1, 2, 3}}

	_, err := EmbedNormalized(context.Background(), provider, "hello", 768)
	if faults.KindOf(err) != faults.KindInputInvalid {
		t.Fatalf("expected InputInvalid, got %v", err)
	}
}

func TestEmbedNormalizedUnitNorm(t *testing.T) {
	provider := &staticEmbedder{vector: []float32{2, 0, 0, 0}}

	v, err := EmbedNormalized(context.Background(), provider, "hello", 4)
	if err != nil {
		t.Fatal(err)
	}
	if v[0] != 1 {
		t.Errorf("expected normalized first component 1, got %f", v[0])
	}
}
