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
	"time"
)

type cacheKey struct {
	docID   string
	version string
}

type cacheEntry struct {
	form    *ProcessedForm
	expires time.Time
}

// formCache holds processed attachment forms keyed by document identity
// and extractor version, so a pipeline change invalidates old entries
// without a flush.
type formCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[cacheKey]cacheEntry
	now     func() time.Time
}

func newFormCache(ttl time.Duration) *formCache {
	return &formCache{
		ttl:     ttl,
		entries: make(map[cacheKey]cacheEntry),
		now:     time.Now,
	}
}

func (c *formCache) get(docID, version string) (*ProcessedForm, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := cacheKey{docID: docID, version: version}
	entry, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if c.now().After(entry.expires) {
		delete(c.entries, key)
		return nil, false
	}
	return entry.form, true
}

func (c *formCache) put(docID, version string, form *ProcessedForm) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[cacheKey{docID: docID, version: version}] = cacheEntry{
		form:    form,
		expires: c.now().Add(c.ttl),
	}
}

func (c *formCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
