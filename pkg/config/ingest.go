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

package config

import (
	"fmt"
	"runtime"
	"strings"
)

// IngestConfig configures the ingestion pipeline.
type IngestConfig struct {
	// MaxFileBytes skips files larger than this (default 100 MiB).
	MaxFileBytes int64 `yaml:"max_file_bytes"`

	// MaxContentChars truncates extracted text deterministically (default 50000).
	MaxContentChars int `yaml:"max_content_chars"`

	// AllowedExtensions is the lowercased extension allow-list.
	AllowedExtensions []string `yaml:"allowed_extensions"`

	// Workers bounds per-stage parallelism.
	Workers WorkerConfig `yaml:"workers"`

	// MaxWalkDepth bounds directory recursion against symlink loops.
	MaxWalkDepth int `yaml:"max_walk_depth"`

	// OCRMinChars triggers the OCR fallback when extraction yields less.
	OCRMinChars int `yaml:"ocr_min_chars"`

	// QueueDir holds the durable retry queue for failed upserts.
	QueueDir string `yaml:"queue_dir"`

	// RetryIntervalSeconds between durable-queue drain attempts.
	RetryIntervalSeconds int `yaml:"retry_interval_seconds"`

	// SummaryTimeoutSeconds bounds each summarization LLM call.
	SummaryTimeoutSeconds int `yaml:"summary_timeout_seconds"`
}

// WorkerConfig bounds pipeline concurrency. Extraction is CPU-bound and
// defaults to the CPU count; LLM stages share a scarce endpoint and stay low.
type WorkerConfig struct {
	Extract int `yaml:"extract"`
	LLM     int `yaml:"llm"`
}

func (c *IngestConfig) SetDefaults() {
	if c.MaxFileBytes == 0 {
		c.MaxFileBytes = 100 << 20
	}
	if c.MaxContentChars == 0 {
		c.MaxContentChars = 50000
	}
	if len(c.AllowedExtensions) == 0 {
		c.AllowedExtensions = []string{
			".txt", ".md", ".pdf", ".docx", ".xlsx", ".csv",
			".png", ".jpg", ".jpeg", ".gif", ".webp",
		}
	}
	if c.Workers.Extract == 0 {
		c.Workers.Extract = runtime.NumCPU()
	}
	if c.Workers.LLM == 0 {
		c.Workers.LLM = 2
	}
	if c.MaxWalkDepth == 0 {
		c.MaxWalkDepth = 32
	}
	if c.OCRMinChars == 0 {
		c.OCRMinChars = 100
	}
	if c.QueueDir == "" {
		c.QueueDir = ".lumen/queue"
	}
	if c.RetryIntervalSeconds == 0 {
		c.RetryIntervalSeconds = 30
	}
	if c.SummaryTimeoutSeconds == 0 {
		c.SummaryTimeoutSeconds = 30
	}
}

func (c *IngestConfig) Validate() error {
	if c.MaxFileBytes < 1 {
		return fmt.Errorf("max_file_bytes must be positive")
	}
	if c.Workers.Extract < 1 || c.Workers.LLM < 1 {
		return fmt.Errorf("worker counts must be positive")
	}
	for _, ext := range c.AllowedExtensions {
		if !strings.HasPrefix(ext, ".") {
			return fmt.Errorf("extension %q must start with a dot", ext)
		}
	}
	return nil
}

// Allowed reports whether a lowercased extension is in the allow-list.
func (c *IngestConfig) Allowed(ext string) bool {
	ext = strings.ToLower(ext)
	for _, e := range c.AllowedExtensions {
		if e == ext {
			return true
		}
	}
	return false
}

// WatcherConfig configures the filesystem watcher.
type WatcherConfig struct {
	// DebounceMs collapses events for the same path within this window.
	DebounceMs int `yaml:"debounce_ms"`
}

func (c *WatcherConfig) SetDefaults() {
	if c.DebounceMs == 0 {
		c.DebounceMs = 3000
	}
}

// WorkflowConfig bounds the orchestrator.
type WorkflowConfig struct {
	// TimeoutMs is the end-to-end request deadline (default 60000).
	TimeoutMs int `yaml:"timeout_ms"`

	// NodeTimeoutMs is the per-node deadline (default 20000).
	NodeTimeoutMs int `yaml:"node_timeout_ms"`

	// Retries for retriable node failures (default 2; backoff 1s,2s,4s).
	Retries int `yaml:"retries"`

	// BreakerThreshold is consecutive failures before a port is disabled.
	BreakerThreshold int `yaml:"breaker_threshold"`

	// BreakerCooldownMs is the open-state window (default 60000).
	BreakerCooldownMs int `yaml:"breaker_cooldown_ms"`

	// MaxSubQueries bounds complex-query decomposition (default 5).
	MaxSubQueries int `yaml:"max_sub_queries"`

	// EventBuffer is the per-request event channel capacity (default 64).
	EventBuffer int `yaml:"event_buffer"`
}

func (c *WorkflowConfig) SetDefaults() {
	if c.TimeoutMs == 0 {
		c.TimeoutMs = 60000
	}
	if c.NodeTimeoutMs == 0 {
		c.NodeTimeoutMs = 20000
	}
	if c.Retries == 0 {
		c.Retries = 2
	}
	if c.BreakerThreshold == 0 {
		c.BreakerThreshold = 5
	}
	if c.BreakerCooldownMs == 0 {
		c.BreakerCooldownMs = 60000
	}
	if c.MaxSubQueries == 0 {
		c.MaxSubQueries = 5
	}
	if c.EventBuffer == 0 {
		c.EventBuffer = 64
	}
}

func (c *WorkflowConfig) Validate() error {
	if c.TimeoutMs < c.NodeTimeoutMs {
		return fmt.Errorf("workflow timeout_ms must be >= node_timeout_ms")
	}
	if c.Retries < 0 {
		return fmt.Errorf("retries cannot be negative")
	}
	return nil
}
