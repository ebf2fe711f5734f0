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
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lumensearch/lumen/pkg/faults"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type slowProvider struct {
	delay      time.Duration
	inFlight   atomic.Int32
	maxGauge   atomic.Int32
	generation atomic.Int32
}

func (s *slowProvider) Generate(ctx context.Context, messages []Message, opts GenerateOptions) (string, error) {
	cur := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	for {
		max := s.maxGauge.Load()
		if cur <= max || s.maxGauge.CompareAndSwap(max, cur) {
			break
		}
	}
	select {
	case <-time.After(s.delay):
	case <-ctx.Done():
		return "", ctx.Err()
	}
	s.generation.Add(1)
	return "ok", nil
}

func (s *slowProvider) GenerateStream(ctx context.Context, messages []Message, opts GenerateOptions) (<-chan StreamChunk, error) {
	ch := make(chan StreamChunk, 1)
	ch <- StreamChunk{Done: true}
	close(ch)
	return ch, nil
}

func (s *slowProvider) ModelName() string { return "slow" }
func (s *slowProvider) Close() error      { return nil }

func TestLimitedBoundsConcurrency(t *testing.T) {
	inner := &slowProvider{delay: 20 * time.Millisecond}
	limited := NewLimited(inner, 2)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := limited.Generate(context.Background(), UserText("q"), GenerateOptions{})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, inner.maxGauge.Load(), int32(2))
	assert.Equal(t, int32(8), inner.generation.Load())
}

func TestLimitedHonorsCancellationWhileQueued(t *testing.T) {
	inner := &slowProvider{delay: 200 * time.Millisecond}
	limited := NewLimited(inner, 1)

	// Occupy the only slot.
	go limited.Generate(context.Background(), UserText("a"), GenerateOptions{}) //nolint:errcheck

	time.Sleep(10 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := limited.Generate(ctx, UserText("b"), GenerateOptions{})
	require.Error(t, err)
	assert.Equal(t, faults.KindCancelled, faults.KindOf(err))
}
