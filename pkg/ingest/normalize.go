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

package ingest

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Normalize applies NFKC, collapses control characters and runs of
// whitespace, and truncates to maxChars on a rune boundary. The
// truncation is deterministic: same input, same output.
func Normalize(text string, maxChars int) string {
	text = norm.NFKC.String(text)

	var b strings.Builder
	b.Grow(len(text))
	lastSpace := false
	for _, r := range text {
		if r == '\n' {
			b.WriteRune('\n')
			lastSpace = false
			continue
		}
		if unicode.IsControl(r) || unicode.IsSpace(r) {
			if !lastSpace {
				b.WriteRune(' ')
				lastSpace = true
			}
			continue
		}
		b.WriteRune(r)
		lastSpace = false
	}
	out := strings.TrimSpace(b.String())

	if maxChars > 0 {
		runes := []rune(out)
		if len(runes) > maxChars {
			out = string(runes[:maxChars])
		}
	}
	return out
}
