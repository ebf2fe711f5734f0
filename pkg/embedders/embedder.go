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

// Package embedders provides the embedding capability port and its providers.
package embedders

import (
	"context"
	"fmt"
	"math"

	"github.com/lumensearch/lumen/pkg/faults"
)

// EmbedderProvider is the injected embedding capability.
type EmbedderProvider interface {
	// Embed produces a raw embedding for the text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimension is the provider's output dimension.
	Dimension() int

	// ModelName identifies the configured model.
	ModelName() string

	Close() error
}

// Normalize scales the vector to unit L2 norm in place and returns it.
// Zero vectors are returned unchanged.
func Normalize(vector []float32) []float32 {
	var sum float64
	for _, v := range vector {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return vector
	}
	norm := float32(math.Sqrt(sum))
	for i := range vector {
		vector[i] /= norm
	}
	return vector
}

// Cosine computes cosine similarity between two vectors of equal length.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// EmbedNormalized embeds the text and returns a unit-normalized vector of
// exactly wantDim, failing fast on dimension mismatch.
func EmbedNormalized(ctx context.Context, provider EmbedderProvider, text string, wantDim int) ([]float32, error) {
	vector, err := provider.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	if len(vector) != wantDim {
		return nil, faults.New(faults.KindInputInvalid, "embedders", "EmbedNormalized",
			fmt.Sprintf("embedding dimension %d does not match configured %d", len(vector), wantDim), nil)
	}
	return Normalize(vector), nil
}
