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
	"fmt"

	"github.com/lumensearch/lumen/pkg/config"
)

// NewFromConfig builds the configured store.
func NewFromConfig(cfg *config.VectorConfig) (DatabaseProvider, error) {
	switch cfg.Type {
	case "chromem":
		return NewChromemProvider(cfg)
	case "qdrant":
		return NewQdrantProvider(cfg)
	default:
		return nil, fmt.Errorf("unknown vector store type: %s", cfg.Type)
	}
}
