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
	"strings"
	"time"

	"github.com/lumensearch/lumen/pkg/config"
	"github.com/lumensearch/lumen/pkg/faults"
	"github.com/lumensearch/lumen/pkg/httpclient"
)

type OpenAIProvider struct {
	config *config.LLMConfig
	client *httpclient.Client
}

type openAIContentPart struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	ImageURL *struct {
		URL string `json:"url"`
	} `json:"image_url,omitempty"`
}

type openAIChatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type openAIChatRequest struct {
	Model          string              `json:"model"`
	Messages       []openAIChatMessage `json:"messages"`
	Temperature    float64             `json:"temperature"`
	MaxTokens      int                 `json:"max_tokens,omitempty"`
	Stream         bool                `json:"stream,omitempty"`
	ResponseFormat map[string]any      `json:"response_format,omitempty"`
}

type openAIChatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

func NewOpenAIProvider(cfg *config.LLMConfig) *OpenAIProvider {
	return &OpenAIProvider{
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

func (p *OpenAIProvider) buildRequest(messages []Message, opts GenerateOptions, stream bool) *openAIChatRequest {
	chat := make([]openAIChatMessage, 0, len(messages))
	model := p.config.UnifiedModel
	for _, m := range messages {
		if len(m.Images) == 0 {
			chat = append(chat, openAIChatMessage{Role: string(m.Role), Content: m.Content})
			continue
		}
		model = p.config.VisionModel
		parts := []openAIContentPart{{Type: "text", Text: m.Content}}
		for _, img := range m.Images {
			part := openAIContentPart{Type: "image_url"}
			part.ImageURL = &struct {
				URL string `json:"url"`
			}{URL: "data:image/png;base64," + base64.StdEncoding.EncodeToString(img)}
			parts = append(parts, part)
		}
		chat = append(chat, openAIChatMessage{Role: string(m.Role), Content: parts})
	}

	temperature := opts.Temperature
	if temperature == 0 {
		temperature = p.config.Temperature
	}
	maxTokens := opts.MaxTokens
	if maxTokens == 0 {
		maxTokens = p.config.MaxTokens
	}

	req := &openAIChatRequest{
		Model:       model,
		Messages:    chat,
		Temperature: temperature,
		MaxTokens:   maxTokens,
		Stream:      stream,
	}
	if opts.JSONSchema != nil {
		req.ResponseFormat = map[string]any{
			"type": "json_schema",
			"json_schema": map[string]any{
				"name":   "response",
				"strict": true,
				"schema": opts.JSONSchema,
			},
		}
	}
	return req
}

func (p *OpenAIProvider) post(ctx context.Context, request *openAIChatRequest) (*http.Response, error) {
	payload, err := json.Marshal(request)
	if err != nil {
		return nil, faults.New(faults.KindInternal, "openai", "post", "failed to marshal request", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.Host+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, faults.New(faults.KindInternal, "openai", "post", "failed to build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.config.APIKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, faults.New(faults.KindUnavailable, "openai", "post", "request failed", err)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, faults.New(faults.KindRetriable, "openai", "post",
			fmt.Sprintf("openai returned status %d: %s", resp.StatusCode, string(body)), nil)
	}
	return resp, nil
}

func (p *OpenAIProvider) Generate(ctx context.Context, messages []Message, opts GenerateOptions) (string, error) {
	resp, err := p.post(ctx, p.buildRequest(messages, opts, false))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var response openAIChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return "", faults.New(faults.KindRetriable, "openai", "Generate", "failed to decode response", err)
	}
	if len(response.Choices) == 0 {
		return "", faults.New(faults.KindRetriable, "openai", "Generate", "no choices in response", nil)
	}
	return response.Choices[0].Message.Content, nil
}

func (p *OpenAIProvider) GenerateStream(ctx context.Context, messages []Message, opts GenerateOptions) (<-chan StreamChunk, error) {
	resp, err := p.post(ctx, p.buildRequest(messages, opts, true))
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
			line := strings.TrimSpace(scanner.Text())
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			data := strings.TrimPrefix(line, "data: ")
			if data == "[DONE]" {
				select {
				case out <- StreamChunk{Done: true}:
				case <-ctx.Done():
				}
				return
			}
			var chunk openAIChatResponse
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				continue
			}
			if len(chunk.Choices) > 0 && chunk.Choices[0].Delta.Content != "" {
				select {
				case out <- StreamChunk{Text: chunk.Choices[0].Delta.Content}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (p *OpenAIProvider) ModelName() string {
	return p.config.UnifiedModel
}

func (p *OpenAIProvider) Close() error {
	return nil
}
