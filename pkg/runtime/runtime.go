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

// Package runtime wires the configured providers into one process: the
// document index, model ports, memory tiers, entity graph, retrieval
// pipeline, workflow engine, and ingestion machinery.
package runtime

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/lumensearch/lumen/pkg/attach"
	"github.com/lumensearch/lumen/pkg/config"
	"github.com/lumensearch/lumen/pkg/databases"
	"github.com/lumensearch/lumen/pkg/embedders"
	"github.com/lumensearch/lumen/pkg/graph"
	"github.com/lumensearch/lumen/pkg/ingest"
	"github.com/lumensearch/lumen/pkg/llms"
	"github.com/lumensearch/lumen/pkg/logger"
	"github.com/lumensearch/lumen/pkg/memory"
	"github.com/lumensearch/lumen/pkg/observability"
	"github.com/lumensearch/lumen/pkg/reranker"
	"github.com/lumensearch/lumen/pkg/search"
	"github.com/lumensearch/lumen/pkg/workflow"
)

// Services is the assembled process. Construct with New, start
// background jobs with Start, and Close on shutdown.
type Services struct {
	Config *config.Config

	DB       databases.DatabaseProvider
	Embedder embedders.EmbedderProvider
	LLM      llms.LLMProvider
	Reranker reranker.Reranker
	Graph    *graph.Store

	Relational *memory.Relational
	Memory     *memory.Coordinator

	Search  *search.Pipeline
	Engine  *workflow.Engine
	Ingest  *ingest.Pipeline
	Watcher *ingest.Watcher
	Attach  *attach.Service

	Registry *prometheus.Registry
	Metrics  *observability.Metrics

	logger *slog.Logger
	cancel context.CancelFunc
}

// New builds every provider from cfg. A missing relational store
// degrades memory to nothing rather than failing startup; everything
// else is required.
func New(ctx context.Context, cfg *config.Config) (*Services, error) {
	log := logger.GetLogger()

	db, err := databases.NewFromConfig(&cfg.Vector)
	if err != nil {
		return nil, err
	}
	if err := db.EnsureCollection(ctx, cfg.Vector.Collection, cfg.Vector.Dim); err != nil {
		return nil, err
	}

	embedder, err := embedders.NewFromConfig(&cfg.Embedder)
	if err != nil {
		return nil, err
	}

	llm, err := llms.NewFromConfig(&cfg.LLM)
	if err != nil {
		return nil, err
	}

	graphStore, err := graph.NewStore(&cfg.Graph)
	if err != nil {
		return nil, err
	}

	var relational *memory.Relational
	var coordinator *memory.Coordinator
	relational, err = memory.NewRelational(&cfg.Relational)
	if err != nil {
		log.Warn("relational store unavailable, memory tiers disabled", "error", err)
		relational = nil
	} else {
		coordinator = memory.NewCoordinator(&cfg.Memory, relational)
	}

	rr := reranker.NewFromConfig(&cfg.Reranker)
	collection := cfg.Vector.Collection

	searchPipeline := search.NewPipeline(db, embedder, rr, graphStore, &cfg.Search, &cfg.Reranker, collection)
	attachService := attach.NewService(db, llm, &cfg.Attach, collection)

	deps := workflow.Deps{
		LLM:       llm,
		Retriever: searchPipeline,
		Embedder:  embedder,
		Graph:     graphStore,
		Attacher:  attachService,
	}
	if coordinator != nil {
		deps.Memory = coordinator
	}
	engine := workflow.NewEngine(&cfg.Workflow, deps)

	ingestPipeline, err := ingest.NewPipeline(db, embedder, llm, graphStore, &cfg.Ingest, collection)
	if err != nil {
		return nil, err
	}
	watcher := ingest.NewWatcher(ingestPipeline, &cfg.Watcher)

	registry := prometheus.NewRegistry()

	return &Services{
		Config:     cfg,
		DB:         db,
		Embedder:   embedder,
		LLM:        llm,
		Reranker:   rr,
		Graph:      graphStore,
		Relational: relational,
		Memory:     coordinator,
		Search:     searchPipeline,
		Engine:     engine,
		Ingest:     ingestPipeline,
		Watcher:    watcher,
		Attach:     attachService,
		Registry:   registry,
		Metrics:    observability.NewMetrics(registry),
		logger:     log,
	}, nil
}

// Start launches the background jobs: the durable-queue drain and the
// episodic decay pass.
func (s *Services) Start(ctx context.Context) {
	jobCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	interval := time.Duration(s.Config.Ingest.RetryIntervalSeconds) * time.Second
	s.Ingest.Queue().StartDrain(jobCtx, s.DB, interval)

	if s.Memory != nil {
		s.Memory.StartDecayJob(jobCtx, 0)
	}
}

// Close stops jobs and releases every provider. Best-effort: the first
// error is returned after everything has been attempted.
func (s *Services) Close() error {
	if s.cancel != nil {
		s.cancel()
	}
	s.Watcher.Disable()

	var first error
	keep := func(err error) {
		if err != nil && first == nil {
			first = err
		}
	}

	if err := s.Graph.Checkpoint(); err != nil {
		s.logger.Warn("graph checkpoint on shutdown failed", "error", err)
	}
	if s.Memory != nil {
		keep(s.Memory.Close())
	}
	if s.Relational != nil {
		keep(s.Relational.Close())
	}
	keep(s.LLM.Close())
	keep(s.Embedder.Close())
	keep(s.DB.Close())
	return first
}
