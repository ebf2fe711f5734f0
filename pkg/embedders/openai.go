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
	"time"

	"github.com/lumensearch/lumen/pkg/config"
	"github.com/lumensearch/lumen/pkg/faults"
	"github.com/lumensearch/lumen/pkg/httpclient"
)

type OpenAIEmbedder struct {
	config *config.EmbedderConfig
	client *httpclient.Client
}

type openAIEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type openAIEmbedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

func NewOpenAIEmbedder(cfg *config.EmbedderConfig) *OpenAIEmbedder {
	return &OpenAIEmbedder{
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

func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	payload, err := json.Marshal(openAIEmbedRequest{
		Model: e.config.Model,
		Input: []string{text},
	})
	if err != nil {
		return nil, faults.New(faults.KindInternal, "openai-embedder", "Embed", "failed to marshal request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.config.Host+"/embeddings", bytes.NewReader(payload))
	if err != nil {
		return nil, faults.New(faults.KindInternal, "openai-embedder", "Embed", "failed to build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.config.APIKey)

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, faults.New(faults.KindUnavailable, "openai-embedder", "Embed", "request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, faults.New(faults.KindRetriable, "openai-embedder", "Embed",
			fmt.Sprintf("openai returned status %d: %s", resp.StatusCode, string(body)), nil)
	}

	var response openAIEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, faults.New(faults.KindRetriable, "openai-embedder", "Embed", "failed to decode response", err)
	}
	if len(response.Data) == 0 || len(response.Data[0].Embedding) == 0 {
		return nil, faults.New(faults.KindRetriable, "openai-embedder", "Embed", "received empty embedding", nil)
	}

	return response.Data[0].Embedding, nil
}

func (e *OpenAIEmbedder) Dimension() int {
	return e.config.Dimension
}

func (e *OpenAIEmbedder) ModelName() string {
	return e.config.Model
}

func (e *OpenAIEmbedder) Close() error {
	return nil
}
