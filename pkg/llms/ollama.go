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

package llms

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/lumensearch/lumen/pkg/config"
	"github.com/lumensearch/lumen/pkg/faults"
	"github.com/lumensearch/lumen/pkg/httpclient"
)

type OllamaProvider struct {
	config *config.LLMConfig
	client *httpclient.Client
}

type ollamaChatMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

type ollamaChatRequest struct {
	Model    string              `json:"model"`
	Messages []ollamaChatMessage `json:"messages"`
	Stream   bool                `json:"stream"`
	Format   json.RawMessage     `json:"format,omitempty"`
	Options  map[string]any      `json:"options,omitempty"`
}

type ollamaChatResponse struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	Done bool `json:"done"`
}

func NewOllamaProvider(cfg *config.LLMConfig) *OllamaProvider {
	return &OllamaProvider{
		config: cfg,
		client: httpclient.New(
			httpclient.WithHTTPClient(&http.Client{
				Timeout: time.Duration(cfg.TimeoutMs) * time.Millisecond,
			}),
			httpclient.WithMaxRetries(2),
			httpclient.WithBaseDelay(time.Second),
		),
	}
}

func (p *OllamaProvider) buildRequest(messages []Message, opts GenerateOptions, stream bool) (*ollamaChatRequest, error) {
	chat := make([]ollamaChatMessage, 0, len(messages))
	model := p.config.UnifiedModel
	for _, m := range messages {
		cm := ollamaChatMessage{Role: string(m.Role), Content: m.Content}
		for _, img := range m.Images {
			cm.Images = append(cm.Images, base64.StdEncoding.EncodeToString(img))
			model = p.config.VisionModel
		}
		chat = append(chat, cm)
	}

	temperature := opts.Temperature
	if temperature == 0 {
		temperature = p.config.Temperature
	}
	maxTokens := opts.MaxTokens
	if maxTokens == 0 {
		maxTokens = p.config.MaxTokens
	}

	req := &ollamaChatRequest{
		Model:    model,
		Messages: chat,
		Stream:   stream,
		Options: map[string]any{
			"temperature": temperature,
			"num_predict": maxTokens,
		},
	}

	if opts.JSONSchema != nil {
		raw, err := json.Marshal(opts.JSONSchema)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal schema: %w", err)
		}
		req.Format = raw
	}
	return req, nil
}

func (p *OllamaProvider) post(ctx context.Context, request *ollamaChatRequest) (*http.Response, error) {
	payload, err := json.Marshal(request)
	if err != nil {
		return nil, faults.New(faults.KindInternal, "ollama", "post", "failed to marshal request", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.Host+"/api/chat", bytes.NewReader(payload))
	if err != nil {
		return nil, faults.New(faults.KindInternal, "ollama", "post", "failed to build request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, faults.New(faults.KindUnavailable, "ollama", "post", "request failed", err)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, faults.New(faults.KindRetriable, "ollama", "post",
			fmt.Sprintf("ollama returned status %d: %s", resp.StatusCode, string(body)), nil)
	}
	return resp, nil
}

func (p *OllamaProvider) Generate(ctx context.Context, messages []Message, opts GenerateOptions) (string, error) {
	request, err := p.buildRequest(messages, opts, false)
	if err != nil {
		return "", err
	}

	resp, err := p.post(ctx, request)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var response ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return "", faults.New(faults.KindRetriable, "ollama", "Generate", "failed to decode response", err)
	}
	return response.Message.Content, nil
}

func (p *OllamaProvider) GenerateStream(ctx context.Context, messages []Message, opts GenerateOptions) (<-chan StreamChunk, error) {
	request, err := p.buildRequest(messages, opts, true)
	if err != nil {
		return nil, err
	}

	resp, err := p.post(ctx, request)
	if err != nil {
		return nil, err
	}

	out := make(chan StreamChunk)
	go func() {
		defer close(out)
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			var chunk ollamaChatResponse
			if err := json.Unmarshal(scanner.Bytes(), &chunk); err != nil {
				continue
			}
			if chunk.Message.Content != "" {
				select {
				case out <- StreamChunk{Text: chunk.Message.Content}:
				case <-ctx.Done():
					return
				}
			}
			if chunk.Done {
				select {
				case out <- StreamChunk{Done: true}:
				case <-ctx.Done():
				}
				return
			}
		}
		if err := scanner.Err(); err != nil {
			select {
			case out <- StreamChunk{Err: faults.New(faults.KindRetriable, "ollama", "GenerateStream", "stream read failed", err)}:
			case <-ctx.Done():
			}
		}
	}()
	return out, nil
}

func (p *OllamaProvider) ModelName() string {
	return p.config.UnifiedModel
}

func (p *OllamaProvider) Close() error {
	return nil
}
