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

package embedders

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/lumensearch/lumen/pkg/config"
	"github.com/lumensearch/lumen/pkg/faults"
	"github.com/lumensearch/lumen/pkg/httpclient"
)

// Ollama's llama runner is unreliable under concurrent embedding requests,
// so all calls are serialized through one mutex.
var ollamaEmbedMu sync.Mutex

type OllamaEmbedder struct {
	config *config.EmbedderConfig
	client *httpclient.Client
}

type ollamaEmbedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbedResponse struct {
	Embedding []float32 `json:"embedding"`
}

func NewOllamaEmbedder(cfg *config.EmbedderConfig) *OllamaEmbedder {
	return &OllamaEmbedder{
		config: cfg,
		client: httpclient.New(
			httpclient.WithHTTPClient(&http.Client{
				Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
			}),
			httpclient.WithMaxRetries(cfg.MaxRetries),
			httpclient.WithBaseDelay(time.Second),
		),
	}
}

func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	ollamaEmbedMu.Lock()
	defer ollamaEmbedMu.Unlock()

	payload, err := json.Marshal(ollamaEmbedRequest{
		Model:  e.config.Model,
		Prompt: text,
	})
	if err != nil {
		return nil, faults.New(faults.KindInternal, "ollama-embedder", "Embed", "failed to marshal request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.config.Host+"/api/embeddings", bytes.NewReader(payload))
	if err != nil {
		return nil, faults.New(faults.KindInternal, "ollama-embedder", "Embed", "failed to build request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, faults.New(faults.KindUnavailable, "ollama-embedder", "Embed", "request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, faults.New(faults.KindRetriable, "ollama-embedder", "Embed",
			fmt.Sprintf("ollama returned status %d: %s", resp.StatusCode, string(body)), nil)
	}

	var response ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, faults.New(faults.KindRetriable, "ollama-embedder", "Embed", "failed to decode response", err)
	}
	if len(response.Embedding) == 0 {
		return nil, faults.New(faults.KindRetriable, "ollama-embedder", "Embed", "received empty embedding", nil)
	}

	return response.Embedding, nil
}

func (e *OllamaEmbedder) Dimension() int {
	return e.config.Dimension
}

func (e *OllamaEmbedder) ModelName() string {
	return e.config.Model
}

func (e *OllamaEmbedder) Close() error {
	return nil
}
