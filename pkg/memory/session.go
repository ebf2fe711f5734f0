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

package memory

import (
	"context"
	"sync"
	"time"

	"github.com/lumensearch/lumen/pkg/config"
)

// SessionStore is the short-term tier. Writes are atomic per session
// and reset the sliding TTL.
type SessionStore interface {
	GetOrCreate(ctx context.Context, sessionID, userID string) (*Session, error)
	AppendTurn(ctx context.Context, sessionID, userID string, turn Turn) error
	SetLastResults(ctx context.Context, sessionID, intent string, resultIDs []string) error
	Delete(ctx context.Context, sessionID string) error
	Close() error
}

type sessionEntry struct {
	mu      sync.Mutex
	session Session
	expires time.Time
}

// InMemorySessionStore is the default backend and the degraded
// fallback when redis is configured but unreachable.
type InMemorySessionStore struct {
	config *config.SessionConfig

	mu       sync.Mutex
	sessions map[string]*sessionEntry
	stop     chan struct{}
	stopOnce sync.Once
}

func NewInMemorySessionStore(cfg *config.SessionConfig) *InMemorySessionStore {
	s := &InMemorySessionStore{
		config:   cfg,
		sessions: make(map[string]*sessionEntry),
		stop:     make(chan struct{}),
	}
	go s.janitor()
	return s
}

func (s *InMemorySessionStore) ttl() time.Duration {
	return time.Duration(s.config.TTLSeconds) * time.Second
}

func (s *InMemorySessionStore) entry(sessionID, userID string) *sessionEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.sessions[sessionID]
	if ok && time.Now().Before(e.expires) {
		return e
	}
	e = &sessionEntry{
		session: Session{ID: sessionID, UserID: userID, LastActivity: time.Now().UTC()},
		expires: time.Now().Add(s.ttl()),
	}
	s.sessions[sessionID] = e
	return e
}

func (s *InMemorySessionStore) GetOrCreate(ctx context.Context, sessionID, userID string) (*Session, error) {
	e := s.entry(sessionID, userID)
	e.mu.Lock()
	defer e.mu.Unlock()
	snapshot := cloneSession(&e.session)
	return snapshot, nil
}

func (s *InMemorySessionStore) AppendTurn(ctx context.Context, sessionID, userID string, turn Turn) error {
	e := s.entry(sessionID, userID)
	e.mu.Lock()
	defer e.mu.Unlock()

	e.session.Turns = append(e.session.Turns, turn)
	if len(e.session.Turns) > s.config.WindowSize {
		e.session.Turns = e.session.Turns[len(e.session.Turns)-s.config.WindowSize:]
	}
	e.session.LastActivity = time.Now().UTC()
	e.expires = time.Now().Add(s.ttl())
	return nil
}

func (s *InMemorySessionStore) SetLastResults(ctx context.Context, sessionID, intent string, resultIDs []string) error {
	e := s.entry(sessionID, "")
	e.mu.Lock()
	defer e.mu.Unlock()

	e.session.LastIntent = intent
	e.session.LastResults = append([]string(nil), resultIDs...)
	e.session.LastActivity = time.Now().UTC()
	e.expires = time.Now().Add(s.ttl())
	return nil
}

func (s *InMemorySessionStore) Delete(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
	return nil
}

func (s *InMemorySessionStore) Close() error {
	s.stopOnce.Do(func() { close(s.stop) })
	return nil
}

func (s *InMemorySessionStore) janitor() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			now := time.Now()
			s.mu.Lock()
			for id, e := range s.sessions {
				if now.After(e.expires) {
					delete(s.sessions, id)
				}
			}
			s.mu.Unlock()
		}
	}
}

func cloneSession(in *Session) *Session {
	out := *in
	out.Turns = append([]Turn(nil), in.Turns...)
	out.LastResults = append([]string(nil), in.LastResults...)
	return &out
}
