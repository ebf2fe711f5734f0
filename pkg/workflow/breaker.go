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

package workflow

import (
	"errors"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/lumensearch/lumen/pkg/config"
	"github.com/lumensearch/lumen/pkg/faults"
)

// Capability port names guarded by circuit breakers.
const (
	portLLM    = "llm"
	portSearch = "search"
	portMemory = "memory"
)

// breakerSet holds one circuit breaker per capability port. A port is
// disabled for the cooldown window after the configured number of
// consecutive failures.
type breakerSet struct {
	mu        sync.Mutex
	breakers  map[string]*gobreaker.CircuitBreaker
	threshold uint32
	cooldown  time.Duration
}

func newBreakerSet(cfg *config.WorkflowConfig) *breakerSet {
	return &breakerSet{
		breakers:  make(map[string]*gobreaker.CircuitBreaker),
		threshold: uint32(cfg.BreakerThreshold),
		cooldown:  time.Duration(cfg.BreakerCooldownMs) * time.Millisecond,
	}
}

func (b *breakerSet) breaker(port string) *gobreaker.CircuitBreaker {
	b.mu.Lock()
	defer b.mu.Unlock()
	if cb, ok := b.breakers[port]; ok {
		return cb
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    port,
		Timeout: b.cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= b.threshold
		},
		// Caller mistakes and cancellations are not port failures.
		IsSuccessful: func(err error) bool {
			return err == nil || faults.Terminal(err) || faults.KindOf(err) == faults.KindNotFound
		},
	})
	b.breakers[port] = cb
	return cb
}

// exec runs fn through the port's breaker. An open breaker surfaces as
// an unavailable fault carrying the cooldown as retry-after.
func (b *breakerSet) exec(port string, fn func() (interface{}, error)) (interface{}, error) {
	out, err := b.breaker(port).Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, faults.New(faults.KindUnavailable, "workflow", port,
			"capability port disabled by circuit breaker", err)
	}
	return out, err
}

// retryAfterSeconds reports the cooldown to advertise on breaker-open
// errors.
func (b *breakerSet) retryAfterSeconds() int {
	return int(b.cooldown / time.Second)
}
