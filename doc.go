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

// Package lumen is a local-first semantic document search engine.
//
// Given a query and optional attached documents, the engine runs a
// retrieval-augmented pipeline: intent classification routes the query
// through a typed workflow, hybrid vector+lexical retrieval with RRF
// fusion and cross-encoder reranking gathers evidence, an entity graph
// expands related context, and the answer streams back with thinking
// events alongside a confidence score. A parallel ingestion pipeline
// turns filesystem documents into searchable entries and keeps them
// fresh through a debounced filesystem watcher.
//
// Start the server:
//
//	lumen serve --config lumen.yaml
//
// Index a directory:
//
//	lumen index ~/Documents --watch
//
// Or embed the engine:
//
//	import (
//	    "github.com/lumensearch/lumen/pkg/config"
//	    "github.com/lumensearch/lumen/pkg/runtime"
//	)
package lumen
