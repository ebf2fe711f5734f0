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
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
	"github.com/lumensearch/lumen/pkg/faults"
)

// SchemaFor derives a strict JSON schema from a Go struct, inlined with no
// $ref indirection so it can be handed to constrained-decoding endpoints.
func SchemaFor(v any) map[string]any {
	reflector := &jsonschema.Reflector{
		DoNotReference:            true,
		AllowAdditionalProperties: false,
	}
	schema := reflector.Reflect(v)

	raw, err := json.Marshal(schema)
	if err != nil {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	delete(out, "$schema")
	delete(out, "$id")
	return out
}

// ExtractJSON pulls the first balanced JSON object or array out of free
// text, tolerating prose and markdown fences around it.
func ExtractJSON(s string) (string, error) {
	var opener, closer byte
	start := -1
	for i := 0; i < len(s); i++ {
		if s[i] == '{' || s[i] == '[' {
			start = i
			opener = s[i]
			if opener == '{' {
				closer = '}'
			} else {
				closer = ']'
			}
			break
		}
	}
	if start < 0 {
		return "", fmt.Errorf("no JSON value found")
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case opener:
			depth++
		case closer:
			depth--
			if depth == 0 {
				return s[start : i+1], nil
			}
		}
	}
	return "", fmt.Errorf("unbalanced JSON value")
}

// GenerateJSON calls the provider with a schema derived from out's type and
// decodes the response into out, falling back to brace-matching extraction
// when the model wraps the JSON in prose.
func GenerateJSON(ctx context.Context, provider LLMProvider, messages []Message, opts GenerateOptions, out any) error {
	if opts.JSONSchema == nil {
		opts.JSONSchema = SchemaFor(out)
	}

	response, err := provider.Generate(ctx, messages, opts)
	if err != nil {
		return err
	}

	if err := json.Unmarshal([]byte(response), out); err == nil {
		return nil
	}

	extracted, err := ExtractJSON(response)
	if err != nil {
		return faults.New(faults.KindRetriable, "llms", "GenerateJSON", "model returned no parseable JSON", err)
	}
	if err := json.Unmarshal([]byte(extracted), out); err != nil {
		return faults.New(faults.KindRetriable, "llms", "GenerateJSON", "model JSON did not match schema", err)
	}
	return nil
}
