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
	"context"

	"github.com/lumensearch/lumen/pkg/faults"
)

// Limited serializes access to a shared LLM endpoint through a bounded
// semaphore. Overflow callers queue on the semaphore and are released in
// near-FIFO order; cancellation is honored while waiting.
type Limited struct {
	provider LLMProvider
	slots    chan struct{}
}

// NewLimited wraps a provider with a concurrency bound.
func NewLimited(provider LLMProvider, maxConcurrent int) *Limited {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &Limited{
		provider: provider,
		slots:    make(chan struct{}, maxConcurrent),
	}
}

func (l *Limited) acquire(ctx context.Context) error {
	select {
	case l.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return faults.New(faults.KindCancelled, "llms", "acquire", "cancelled while waiting for LLM slot", ctx.Err())
	}
}

func (l *Limited) release() {
	<-l.slots
}

func (l *Limited) Generate(ctx context.Context, messages []Message, opts GenerateOptions) (string, error) {
	if err := l.acquire(ctx); err != nil {
		return "", err
	}
	defer l.release()
	return l.provider.Generate(ctx, messages, opts)
}

func (l *Limited) GenerateStream(ctx context.Context, messages []Message, opts GenerateOptions) (<-chan StreamChunk, error) {
	if err := l.acquire(ctx); err != nil {
		return nil, err
	}

	inner, err := l.provider.GenerateStream(ctx, messages, opts)
	if err != nil {
		l.release()
		return nil, err
	}

	// Hold the slot until the inner stream drains.
	out := make(chan StreamChunk)
	go func() {
		defer close(out)
		defer l.release()
		for chunk := range inner {
			select {
			case out <- chunk:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (l *Limited) ModelName() string {
	return l.provider.ModelName()
}

func (l *Limited) Close() error {
	return l.provider.Close()
}
