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

package llms

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockProvider struct {
	response string
	err      error
	calls    int
}

func (m *mockProvider) Generate(ctx context.Context, messages []Message, opts GenerateOptions) (string, error) {
	m.calls++
	if m.err != nil {
		return "", m.err
	}
	return m.response, nil
}

func (m *mockProvider) GenerateStream(ctx context.Context, messages []Message, opts GenerateOptions) (<-chan StreamChunk, error) {
	ch := make(chan StreamChunk, 2)
	if m.err != nil {
		ch <- StreamChunk{Err: m.err}
	} else {
		ch <- StreamChunk{Text: m.response}
		ch <- StreamChunk{Done: true}
	}
	close(ch)
	return ch, nil
}

func (m *mockProvider) ModelName() string { return "mock" }
func (m *mockProvider) Close() error      { return nil }

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{"bare object", `{"a":1}`, `{"a":1}`, false},
		{"object in prose", `Sure! Here it is: {"a":1} Hope that helps.`, `{"a":1}`, false},
		{"array in fence", "```json\n[\"x\",\"y\"]\n```", `["x","y"]`, false},
		{"nested braces", `{"a":{"b":2}}`, `{"a":{"b":2}}`, false},
		{"brace inside string", `{"a":"}"}`, `{"a":"}"}`, false},
		{"no json", "nothing here", "", true},
		{"unbalanced", `{"a":1`, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractJSON(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestGenerateJSONFallsBackToExtraction(t *testing.T) {
	type answer struct {
		Intent     string  `json:"intent"`
		Confidence float64 `json:"confidence"`
	}

	provider := &mockProvider{response: `The classification is {"intent":"COMPARISON","confidence":0.85}.`}

	var out answer
	err := GenerateJSON(context.Background(), provider, UserText("classify"), GenerateOptions{}, &out)
	require.NoError(t, err)
	assert.Equal(t, "COMPARISON", out.Intent)
	assert.InDelta(t, 0.85, out.Confidence, 1e-9)
}

func TestGenerateJSONPropagatesProviderError(t *testing.T) {
	provider := &mockProvider{err: errors.New("down")}

	var out map[string]any
	err := GenerateJSON(context.Background(), provider, UserText("x"), GenerateOptions{}, &out)
	require.Error(t, err)
}

func TestSchemaFor(t *testing.T) {
	type subQuery struct {
		ID       int    `json:"id"`
		Query    string `json:"query"`
		Purpose  string `json:"purpose,omitempty"`
		Priority int    `json:"priority,omitempty"`
	}

	schema := SchemaFor(&subQuery{})
	require.NotNil(t, schema)
	assert.Equal(t, "object", schema["type"])
	props, ok := schema["properties"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, props, "query")
}
