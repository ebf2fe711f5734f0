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
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/lumensearch/lumen/pkg/config"
	"github.com/lumensearch/lumen/pkg/faults"
	"github.com/lumensearch/lumen/pkg/logger"
)

const sessionKeyPrefix = "lumen:session:"

// RedisSessionStore keeps sessions in redis with a sliding TTL.
// Read-modify-write cycles serialize through a per-session lock, since
// this process is the only writer for its sessions.
type RedisSessionStore struct {
	config *config.SessionConfig
	client *redis.Client

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewRedisSessionStore(cfg *config.SessionConfig) (*RedisSessionStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, faults.New(faults.KindUnavailable, "session", "connect",
			fmt.Sprintf("redis at %s unreachable", cfg.RedisAddr), err)
	}
	return &RedisSessionStore{
		config: cfg,
		client: client,
		locks:  make(map[string]*sync.Mutex),
	}, nil
}

func (s *RedisSessionStore) lock(sessionID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[sessionID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[sessionID] = l
	}
	return l
}

func (s *RedisSessionStore) ttl() time.Duration {
	return time.Duration(s.config.TTLSeconds) * time.Second
}

func (s *RedisSessionStore) fetch(ctx context.Context, sessionID, userID string) (*Session, error) {
	data, err := s.client.Get(ctx, sessionKeyPrefix+sessionID).Bytes()
	if err == redis.Nil {
		return &Session{ID: sessionID, UserID: userID, LastActivity: time.Now().UTC()}, nil
	}
	if err != nil {
		return nil, faults.New(faults.KindUnavailable, "session", "get", "redis read failed", err)
	}
	var session Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, faults.New(faults.KindInternal, "session", "get", "stored session is corrupt", err)
	}
	return &session, nil
}

func (s *RedisSessionStore) save(ctx context.Context, session *Session) error {
	data, err := json.Marshal(session)
	if err != nil {
		return faults.New(faults.KindInternal, "session", "set", "failed to marshal session", err)
	}
	if err := s.client.Set(ctx, sessionKeyPrefix+session.ID, data, s.ttl()).Err(); err != nil {
		return faults.New(faults.KindUnavailable, "session", "set", "redis write failed", err)
	}
	return nil
}

func (s *RedisSessionStore) GetOrCreate(ctx context.Context, sessionID, userID string) (*Session, error) {
	l := s.lock(sessionID)
	l.Lock()
	defer l.Unlock()

	session, err := s.fetch(ctx, sessionID, userID)
	if err != nil {
		return nil, err
	}
	if err := s.save(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

func (s *RedisSessionStore) AppendTurn(ctx context.Context, sessionID, userID string, turn Turn) error {
	l := s.lock(sessionID)
	l.Lock()
	defer l.Unlock()

	session, err := s.fetch(ctx, sessionID, userID)
	if err != nil {
		return err
	}
	session.Turns = append(session.Turns, turn)
	if len(session.Turns) > s.config.WindowSize {
		session.Turns = session.Turns[len(session.Turns)-s.config.WindowSize:]
	}
	session.LastActivity = time.Now().UTC()
	return s.save(ctx, session)
}

func (s *RedisSessionStore) SetLastResults(ctx context.Context, sessionID, intent string, resultIDs []string) error {
	l := s.lock(sessionID)
	l.Lock()
	defer l.Unlock()

	session, err := s.fetch(ctx, sessionID, "")
	if err != nil {
		return err
	}
	session.LastIntent = intent
	session.LastResults = append([]string(nil), resultIDs...)
	session.LastActivity = time.Now().UTC()
	return s.save(ctx, session)
}

func (s *RedisSessionStore) Delete(ctx context.Context, sessionID string) error {
	if err := s.client.Del(ctx, sessionKeyPrefix+sessionID).Err(); err != nil {
		return faults.New(faults.KindUnavailable, "session", "delete", "redis delete failed", err)
	}
	s.mu.Lock()
	delete(s.locks, sessionID)
	s.mu.Unlock()
	return nil
}

func (s *RedisSessionStore) Close() error {
	return s.client.Close()
}

// NewSessionStore builds the configured backend. When redis is
// configured but unreachable the in-memory store is used instead and
// the degraded flag is set, matching the availability-over-features
// posture of the rest of the pipeline.
func NewSessionStore(cfg *config.SessionConfig) (SessionStore, bool) {
	if cfg.Backend == "redis" {
		store, err := NewRedisSessionStore(cfg)
		if err == nil {
			return store, false
		}
		logger.GetLogger().Warn("session backend unavailable, falling back to process-local store",
			"backend", "redis", "error", err)
		return NewInMemorySessionStore(cfg), true
	}
	return NewInMemorySessionStore(cfg), false
}
