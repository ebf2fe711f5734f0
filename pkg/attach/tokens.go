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

package attach

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// tokenCounter budgets context blocks with a real BPE encoding. When the
// encoding cannot be initialized it degrades to a chars/4 approximation
// rather than failing the attachment path.
type tokenCounter struct {
	encoding *tiktoken.Tiktoken
}

var (
	encodingCache = make(map[string]*tiktoken.Tiktoken)
	encodingMu    sync.Mutex
)

func newTokenCounter(name string) *tokenCounter {
	encodingMu.Lock()
	defer encodingMu.Unlock()

	if enc, ok := encodingCache[name]; ok {
		return &tokenCounter{encoding: enc}
	}
	enc, err := tiktoken.GetEncoding(name)
	if err != nil {
		return &tokenCounter{}
	}
	encodingCache[name] = enc
	return &tokenCounter{encoding: enc}
}

func (t *tokenCounter) count(text string) int {
	if t.encoding == nil {
		return (len(text) + 3) / 4
	}
	return len(t.encoding.Encode(text, nil, nil))
}

// truncate returns the longest prefix of text that fits maxTokens.
func (t *tokenCounter) truncate(text string, maxTokens int) string {
	if maxTokens <= 0 {
		return ""
	}
	if t.count(text) <= maxTokens {
		return text
	}
	if t.encoding == nil {
		limit := maxTokens * 4
		runes := []rune(text)
		if limit >= len(runes) {
			return text
		}
		return string(runes[:limit])
	}
	tokens := t.encoding.Encode(text, nil, nil)
	return t.encoding.Decode(tokens[:maxTokens])
}
