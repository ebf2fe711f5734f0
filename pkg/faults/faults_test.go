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

package faults

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, Kind("")},
		{"tagged", New(KindNotFound, "store", "Get", "missing", nil), KindNotFound},
		{"wrapped tagged", fmt.Errorf("outer: %w", New(KindRetriable, "llm", "Generate", "transient", nil)), KindRetriable},
		{"context canceled", context.Canceled, KindCancelled},
		{"deadline", context.DeadlineExceeded, KindTimeout},
		{"unknown", errors.New("boom"), KindInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRetriable(t *testing.T) {
	if !Retriable(New(KindRetriable, "db", "Search", "timeout", nil)) {
		t.Error("retriable error should be retriable")
	}
	if !Retriable(New(KindUnavailable, "db", "Search", "down", nil)) {
		t.Error("unavailable error should be retriable")
	}
	if Retriable(New(KindInputInvalid, "api", "Search", "empty query", nil)) {
		t.Error("input errors must not be retried")
	}
	if Retriable(nil) {
		t.Error("nil is not retriable")
	}
}

func TestTerminal(t *testing.T) {
	for _, k := range []Kind{KindCancelled, KindTimeout, KindInputInvalid} {
		if !Terminal(New(k, "c", "o", "m", nil)) {
			t.Errorf("kind %s should be terminal", k)
		}
	}
	if Terminal(New(KindRetriable, "c", "o", "m", nil)) {
		t.Error("retriable is not terminal")
	}
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := New(KindUnavailable, "qdrant", "Search", "search failed", cause)
	if !errors.Is(err, cause) {
		t.Error("Unwrap chain should reach the cause")
	}
}
