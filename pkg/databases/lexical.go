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
	"math"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/agext/levenshtein"
)

// Field boosts for lexical scoring. A hit in the summary counts three
// times a hit in the body.
const (
	boostSummary  = 3.0
	boostFilename = 2.0
	boostKeywords = 1.5
	boostContent  = 1.0

	fuzzyThreshold = 0.85
	fuzzyWeight    = 0.6
)

type lexicalField struct {
	boost  float64
	tokens map[string]int
}

type lexicalEntry struct {
	fields []lexicalField
	length float64
}

// lexicalIndex scores documents against a query by boosted term
// frequency with levenshtein fuzziness. It backs KeywordSearch for the
// embedded store and for stores without a server-side text index.
type lexicalIndex struct {
	mu      sync.RWMutex
	entries map[string]*lexicalEntry
}

func newLexicalIndex() *lexicalIndex {
	return &lexicalIndex{entries: make(map[string]*lexicalEntry)}
}

// Add indexes a document. Re-adding an ID replaces its entry.
func (ix *lexicalIndex) Add(id, summary, filename string, keywords []string, content string) {
	entry := &lexicalEntry{
		fields: []lexicalField{
			{boost: boostSummary, tokens: countTokens(tokenize(summary))},
			{boost: boostFilename, tokens: countTokens(tokenize(filename))},
			{boost: boostKeywords, tokens: countTokens(tokenizeAll(keywords))},
			{boost: boostContent, tokens: countTokens(tokenize(content))},
		},
	}
	total := 0
	for _, f := range entry.fields {
		for _, n := range f.tokens {
			total += n
		}
	}
	if total == 0 {
		total = 1
	}
	entry.length = math.Sqrt(float64(total))

	ix.mu.Lock()
	ix.entries[id] = entry
	ix.mu.Unlock()
}

func (ix *lexicalIndex) Remove(id string) {
	ix.mu.Lock()
	delete(ix.entries, id)
	ix.mu.Unlock()
}

type lexicalHit struct {
	ID    string
	Score float64
}

// Score ranks all indexed documents against the query and returns up to
// topK hits with positive scores, best first.
func (ix *lexicalIndex) Score(query string, topK int) []lexicalHit {
	queryTokens := tokenize(query)
	if len(queryTokens) == 0 {
		return nil
	}

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	hits := make([]lexicalHit, 0, len(ix.entries))
	for id, entry := range ix.entries {
		score := 0.0
		for _, qt := range queryTokens {
			for _, f := range entry.fields {
				if n, ok := f.tokens[qt]; ok {
					score += f.boost * float64(n)
					continue
				}
				score += f.boost * fuzzyWeight * bestFuzzy(qt, f.tokens)
			}
		}
		if score <= 0 {
			continue
		}
		hits = append(hits, lexicalHit{ID: id, Score: score / entry.length})
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID < hits[j].ID
	})
	if topK > 0 && len(hits) > topK {
		hits = hits[:topK]
	}
	return hits
}

// bestFuzzy returns the term frequency of the closest fuzzy match, or 0
// when nothing clears the similarity threshold. Short tokens are skipped
// since one edit on a 3-letter word changes its meaning.
func bestFuzzy(queryToken string, tokens map[string]int) float64 {
	if len(queryToken) < 4 {
		return 0
	}
	best := 0.0
	for token, n := range tokens {
		if len(token) < 4 {
			continue
		}
		if levenshtein.Similarity(queryToken, token, nil) >= fuzzyThreshold {
			if float64(n) > best {
				best = float64(n)
			}
		}
	}
	return best
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}

func tokenizeAll(texts []string) []string {
	var out []string
	for _, t := range texts {
		out = append(out, tokenize(t)...)
	}
	return out
}

func countTokens(tokens []string) map[string]int {
	counts := make(map[string]int, len(tokens))
	for _, t := range tokens {
		counts[t]++
	}
	return counts
}

