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
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/lumensearch/lumen/pkg/config"
	"github.com/lumensearch/lumen/pkg/faults"
)

// Skip reasons reported for files that are discovered but not processed.
const (
	ReasonHidden      = "hidden"
	ReasonTooLarge    = "too_large"
	ReasonExtension   = "unsupported_extension"
	ReasonTooDeep     = "too_deep"
	ReasonUnchanged   = "unchanged"
	ReasonEmptyText   = "empty_text"
	ReasonQueuedRetry = "storage_unavailable_queued"
)

// Candidate is one discovered file, or a skip decision about it.
type Candidate struct {
	Path       string
	Size       int64
	SkipReason string
}

// Discover walks root and classifies every regular file against the
// allow-list, the size limit, and hidden-name filtering. Walk depth is
// bounded to survive symlink loops. Hidden directories are not entered.
func Discover(root string, cfg *config.IngestConfig) ([]Candidate, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, faults.New(faults.KindNotFound, "ingest", "Discover", "root not accessible", err)
	}
	if !info.IsDir() {
		c := classify(root, info.Size(), cfg)
		return []Candidate{c}, nil
	}

	rootDepth := strings.Count(filepath.Clean(root), string(filepath.Separator))
	var out []Candidate
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable entry, keep walking
		}
		depth := strings.Count(filepath.Clean(path), string(filepath.Separator)) - rootDepth
		if d.IsDir() {
			if path != root && hiddenName(d.Name()) {
				return filepath.SkipDir
			}
			if depth > cfg.MaxWalkDepth {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			return nil
		}
		if depth > cfg.MaxWalkDepth {
			out = append(out, Candidate{Path: path, Size: fi.Size(), SkipReason: ReasonTooDeep})
			return nil
		}
		out = append(out, classify(path, fi.Size(), cfg))
		return nil
	})
	if err != nil {
		return nil, faults.New(faults.KindInternal, "ingest", "Discover", "walk failed", err)
	}
	return out, nil
}

func classify(path string, size int64, cfg *config.IngestConfig) Candidate {
	c := Candidate{Path: path, Size: size}
	switch {
	case hiddenName(filepath.Base(path)):
		c.SkipReason = ReasonHidden
	case size > cfg.MaxFileBytes:
		c.SkipReason = ReasonTooLarge
	case !cfg.Allowed(filepath.Ext(path)):
		c.SkipReason = ReasonExtension
	}
	return c
}

func hiddenName(name string) bool {
	return strings.HasPrefix(name, ".") && name != "." && name != ".."
}
