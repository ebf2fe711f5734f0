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

// Package server is the thin HTTP adapter over the engine: JSON for
// unary operations, SSE for the search and ingestion streams.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lumensearch/lumen/pkg/logger"
	"github.com/lumensearch/lumen/pkg/runtime"
)

type Server struct {
	services   *runtime.Services
	httpServer *http.Server
	logger     *slog.Logger
}

func New(services *runtime.Services) *Server {
	s := &Server{
		services: services,
		logger:   logger.GetLogger(),
	}
	addr := fmt.Sprintf("%s:%d", services.Config.Server.Host, services.Config.Server.Port)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler builds the route tree. Exposed for tests.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.services.Registry, promhttp.HandlerOpts{}))

	r.Route("/v1", func(r chi.Router) {
		r.Post("/search", s.handleSearch)
		r.Post("/index", s.handleIndexDirectory)
		r.Post("/index/file", s.handleIndexFile)

		r.Route("/documents", func(r chi.Router) {
			r.Get("/", s.handleListDocuments)
			r.Get("/{id}", s.handleGetDocument)
			r.Delete("/{id}", s.handleDeleteDocument)
		})

		r.Route("/sessions", func(r chi.Router) {
			r.Get("/{id}", s.handleGetSession)
			r.Delete("/{id}", s.handleClearSession)
		})

		r.Post("/feedback", s.handleFeedback)
		r.Post("/attachments/answer", s.handleAttachmentAnswer)

		r.Route("/watcher", func(r chi.Router) {
			r.Get("/status", s.handleWatcherStatus)
			r.Post("/enable", s.handleWatcherEnable)
			r.Post("/disable", s.handleWatcherDisable)
			r.Post("/paths", s.handleWatcherAddPath)
			r.Delete("/paths", s.handleWatcherRemovePath)
		})
	})
	return r
}

// Start blocks serving until the listener closes.
func (s *Server) Start() error {
	s.logger.Info("http server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("http request",
			"method", r.Method, "path", r.URL.Path, "duration", time.Since(started))
	})
}
