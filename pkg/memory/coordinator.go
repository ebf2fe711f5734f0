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
	"time"

	"github.com/lumensearch/lumen/pkg/config"
	"github.com/lumensearch/lumen/pkg/logger"
)

// Coordinator composes the three tiers behind the load/record/feedback
// contract the orchestrator uses. Tier failures during context loading
// degrade the context instead of failing the query.
type Coordinator struct {
	sessions   SessionStore
	episodic   *EpisodicStore
	procedural *ProceduralStore
	history    *historyStore
	config     *config.MemoryConfig
	degraded   bool
}

func NewCoordinator(cfg *config.MemoryConfig, relational *Relational) *Coordinator {
	sessions, degraded := NewSessionStore(&cfg.Session)
	return &Coordinator{
		sessions:   sessions,
		episodic:   NewEpisodicStore(relational, &cfg.Episodic),
		procedural: NewProceduralStore(relational, &cfg.Procedural),
		history:    &historyStore{relational: relational},
		config:     cfg,
		degraded:   degraded,
	}
}

func (c *Coordinator) Degraded() bool {
	return c.degraded
}

// LoadContext gathers recent turns, similar past episodes, applicable
// procedural preferences, and topic interests for one query.
func (c *Coordinator) LoadContext(ctx context.Context, userID, sessionID string, queryEmbedding []float32) *Context {
	log := logger.GetLogger()
	loaded := &Context{Degraded: c.degraded}

	if sessionID != "" {
		session, err := c.sessions.GetOrCreate(ctx, sessionID, userID)
		if err != nil {
			log.Warn("session load failed, continuing without", "session_id", sessionID, "error", err)
			loaded.Degraded = true
		} else {
			loaded.Session = session
		}
	}

	if userID != "" {
		if len(queryEmbedding) > 0 {
			episodes, err := c.episodic.Similar(ctx, userID, queryEmbedding)
			if err != nil {
				log.Warn("episodic recall failed, continuing without", "user_id", userID, "error", err)
				loaded.Degraded = true
			} else {
				loaded.Episodes = episodes
			}
		}

		prefs, err := c.procedural.Preferences(ctx, userID)
		if err != nil {
			log.Warn("procedural load failed, continuing without", "user_id", userID, "error", err)
			loaded.Degraded = true
		} else {
			loaded.Preferences = prefs
		}

		topics, err := c.history.topTopics(ctx, userID, 10)
		if err != nil {
			log.Warn("topic load failed, continuing without", "user_id", userID, "error", err)
			loaded.Degraded = true
		} else {
			loaded.TopicInterests = topics
		}
	}
	return loaded
}

// Record persists one completed interaction across all tiers and
// returns the stored episode's id.
func (c *Coordinator) Record(ctx context.Context, userID, sessionID string, interaction *Interaction) (int64, error) {
	now := time.Now().UTC()

	if sessionID != "" {
		if err := c.sessions.AppendTurn(ctx, sessionID, userID, Turn{
			Role: "user", Content: interaction.Query, Intent: interaction.Intent, Timestamp: now,
		}); err != nil {
			return 0, err
		}
		if err := c.sessions.AppendTurn(ctx, sessionID, userID, Turn{
			Role: "assistant", Content: interaction.Response, ResultIDs: interaction.ResultIDs, Timestamp: now,
		}); err != nil {
			return 0, err
		}
		if err := c.sessions.SetLastResults(ctx, sessionID, interaction.Intent, interaction.ResultIDs); err != nil {
			return 0, err
		}
	}

	var episodeID int64
	if userID != "" {
		if err := c.history.ensureProfile(ctx, userID); err != nil {
			return 0, err
		}

		var err error
		episodeID, err = c.episodic.Add(ctx, &Episode{
			UserID:         userID,
			Query:          interaction.Query,
			QueryEmbedding: interaction.QueryEmbedding,
			Response:       interaction.Response,
			ResultIDs:      interaction.ResultIDs,
			Confidence:     interaction.Confidence,
			Strategy:       interaction.Strategy,
			Reranked:       interaction.Reranked,
			CreatedAt:      now,
		})
		if err != nil {
			return 0, err
		}

		if err := c.recordOutcomes(ctx, userID, interaction.Strategy, interaction.Reranked, interaction.Success); err != nil {
			return 0, err
		}
		if err := c.history.bumpTopics(ctx, userID, interaction.Topics); err != nil {
			return 0, err
		}
	}

	if err := c.history.recordSearch(ctx, userID, sessionID, interaction.Query, interaction.Intent,
		interaction.Strategy, len(interaction.ResultIDs), interaction.Confidence); err != nil {
		return 0, err
	}
	return episodeID, nil
}

func (c *Coordinator) recordOutcomes(ctx context.Context, userID, strategy string, reranked, success bool) error {
	successDelta, failureDelta := 0, 1
	if success {
		successDelta, failureDelta = 1, 0
	}
	if strategy != "" {
		if err := c.procedural.Record(ctx, userID, PatternStrategy, strategy, successDelta, failureDelta); err != nil {
			return err
		}
	}
	rerankKey := "false"
	if reranked {
		rerankKey = "true"
	}
	return c.procedural.Record(ctx, userID, PatternRerank, rerankKey, successDelta, failureDelta)
}

// ApplyFeedback stores the rating and reweights the patterns the
// episode exercised. Re-applying the same rating changes nothing.
func (c *Coordinator) ApplyFeedback(ctx context.Context, episodeID int64, rating int) error {
	episode, previous, changed, err := c.episodic.SetFeedback(ctx, episodeID, rating)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}

	oldSuccess, oldFailure := ratingDeltas(previous)
	newSuccess, newFailure := ratingDeltas(rating)
	successDelta := newSuccess - oldSuccess
	failureDelta := newFailure - oldFailure
	if successDelta == 0 && failureDelta == 0 {
		return nil
	}

	if episode.Strategy != "" {
		if err := c.procedural.Record(ctx, episode.UserID, PatternStrategy, episode.Strategy, successDelta, failureDelta); err != nil {
			return err
		}
	}
	rerankKey := "false"
	if episode.Reranked {
		rerankKey = "true"
	}
	return c.procedural.Record(ctx, episode.UserID, PatternRerank, rerankKey, successDelta, failureDelta)
}

func ratingDeltas(rating int) (success, failure int) {
	switch rating {
	case 1:
		return 1, 0
	case -1:
		return 0, 1
	default:
		return 0, 0
	}
}

// RecordAccess notes that a user opened a document.
func (c *Coordinator) RecordAccess(ctx context.Context, userID, docID string) error {
	return c.history.recordAccess(ctx, userID, docID)
}

// ArchiveSession snapshots a session into the conversation tables and
// removes it from the short-term store.
func (c *Coordinator) ArchiveSession(ctx context.Context, sessionID string) error {
	session, err := c.sessions.GetOrCreate(ctx, sessionID, "")
	if err != nil {
		return err
	}
	if err := c.history.archiveConversation(ctx, session); err != nil {
		return err
	}
	return c.sessions.Delete(ctx, sessionID)
}

// Session returns the current short-term window, creating an empty one
// for unknown ids.
func (c *Coordinator) Session(ctx context.Context, sessionID string) (*Session, error) {
	return c.sessions.GetOrCreate(ctx, sessionID, "")
}

// ClearSession drops the short-term window without archiving it.
func (c *Coordinator) ClearSession(ctx context.Context, sessionID string) error {
	return c.sessions.Delete(ctx, sessionID)
}

// StartDecayJob runs the daily decay/prune pass until ctx is done.
func (c *Coordinator) StartDecayJob(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				pruned, err := c.episodic.RunDecay(ctx)
				if err != nil {
					logger.GetLogger().Warn("episodic decay pass failed", "error", err)
					continue
				}
				logger.GetLogger().Debug("episodic decay pass complete", "pruned", pruned)
			}
		}
	}()
}

func (c *Coordinator) Close() error {
	return c.sessions.Close()
}
