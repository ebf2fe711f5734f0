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
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumensearch/lumen/pkg/config"
)

func testConfig() *config.MemoryConfig {
	cfg := &config.MemoryConfig{}
	cfg.SetDefaults()
	return cfg
}

func testRelational(t *testing.T) *Relational {
	t.Helper()
	cfg := &config.RelationalConfig{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "test.db")}
	cfg.SetDefaults()
	r, err := NewRelational(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r
}

func unit(dim, hot int) []float32 {
	v := make([]float32, dim)
	v[hot] = 1
	return v
}

func TestSessionWindowBound(t *testing.T) {
	cfg := testConfig()
	cfg.Session.WindowSize = 3
	store := NewInMemorySessionStore(&cfg.Session)
	defer store.Close()

	ctx := context.Background()
	for i := 0; i < 7; i++ {
		require.NoError(t, store.AppendTurn(ctx, "s1", "u1", Turn{Role: "user", Content: string(rune('a' + i))}))
	}

	session, err := store.GetOrCreate(ctx, "s1", "u1")
	require.NoError(t, err)
	require.Len(t, session.Turns, 3)
	assert.Equal(t, "e", session.Turns[0].Content)
	assert.Equal(t, "g", session.Turns[2].Content)
}

func TestSessionTTLExpiry(t *testing.T) {
	cfg := testConfig()
	cfg.Session.TTLSeconds = 1
	store := NewInMemorySessionStore(&cfg.Session)
	defer store.Close()

	ctx := context.Background()
	require.NoError(t, store.AppendTurn(ctx, "s1", "u1", Turn{Role: "user", Content: "hello"}))

	time.Sleep(1100 * time.Millisecond)

	// Expired entry is replaced by a fresh session on next access.
	session, err := store.GetOrCreate(ctx, "s1", "u1")
	require.NoError(t, err)
	assert.Empty(t, session.Turns)
}

func TestEpisodicAdjustedScoring(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	store := NewEpisodicStore(testRelational(t), &cfg.Episodic)

	add := func(hot int, feedback int) int64 {
		id, err := store.Add(ctx, &Episode{
			UserID:         "u1",
			Query:          "q",
			QueryEmbedding: unit(4, hot),
			Response:       "r",
			ResultIDs:      []string{"d1"},
			Confidence:     0.8,
			CreatedAt:      time.Now().UTC(),
		})
		require.NoError(t, err)
		if feedback != 0 {
			_, _, _, err := store.SetFeedback(ctx, id, feedback)
			require.NoError(t, err)
		}
		return id
	}

	liked := add(0, 1)
	disliked := add(0, -1)
	add(1, 0) // orthogonal, below min_score

	scored, err := store.Similar(ctx, "u1", unit(4, 0))
	require.NoError(t, err)
	require.Len(t, scored, 2, "orthogonal episode filtered by min_score")

	assert.Equal(t, liked, scored[0].ID, "positive feedback boosts rank")
	assert.Equal(t, disliked, scored[1].ID)
	assert.Greater(t, scored[0].AdjustedScore, 1.0, "1.2 feedback multiplier on near-fresh cosine 1")
	assert.Less(t, scored[1].AdjustedScore, 0.6, "0.5 multiplier on disliked episode")

	// Recalled episodes get their access counters bumped.
	again, err := store.Similar(ctx, "u1", unit(4, 0))
	require.NoError(t, err)
	assert.Equal(t, 1, again[0].AccessCount)
}

func TestFeedbackIdempotence(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	relational := testRelational(t)
	coordinator := NewCoordinator(cfg, relational)
	defer coordinator.Close()

	episodeID, err := coordinator.Record(ctx, "u1", "", &Interaction{
		Query:          "q",
		QueryEmbedding: unit(4, 0),
		Response:       "r",
		Strategy:       "HYBRID",
		Reranked:       true,
		Success:        true,
	})
	require.NoError(t, err)
	require.NotZero(t, episodeID)

	require.NoError(t, coordinator.ApplyFeedback(ctx, episodeID, 1))
	require.NoError(t, coordinator.ApplyFeedback(ctx, episodeID, 1))
	require.NoError(t, coordinator.ApplyFeedback(ctx, episodeID, 1))

	patterns, err := coordinator.procedural.Patterns(ctx, "u1")
	require.NoError(t, err)

	for _, p := range patterns {
		if p.PatternType == PatternStrategy && p.DataKey == "HYBRID" {
			// One from Record, one from the first feedback; repeats ignored.
			assert.Equal(t, 2, p.SuccessCount)
			assert.Equal(t, 0, p.FailureCount)
		}
	}
}

func TestFeedbackReversal(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	relational := testRelational(t)
	coordinator := NewCoordinator(cfg, relational)
	defer coordinator.Close()

	episodeID, err := coordinator.Record(ctx, "u1", "", &Interaction{
		Query: "q", QueryEmbedding: unit(4, 0), Response: "r", Strategy: "PRECISE", Success: true,
	})
	require.NoError(t, err)

	require.NoError(t, coordinator.ApplyFeedback(ctx, episodeID, 1))
	require.NoError(t, coordinator.ApplyFeedback(ctx, episodeID, -1))

	patterns, err := coordinator.procedural.Patterns(ctx, "u1")
	require.NoError(t, err)
	for _, p := range patterns {
		if p.PatternType == PatternStrategy && p.DataKey == "PRECISE" {
			// Record's success stands; feedback's success was reversed
			// and replaced with a failure.
			assert.Equal(t, 1, p.SuccessCount)
			assert.Equal(t, 1, p.FailureCount)
		}
	}
}

func TestProceduralGating(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	store := NewProceduralStore(testRelational(t), &cfg.Procedural)

	// Two samples: below the minimum sample size.
	require.NoError(t, store.Record(ctx, "u1", PatternStrategy, "SEMANTIC", 1, 0))
	require.NoError(t, store.Record(ctx, "u1", PatternStrategy, "SEMANTIC", 1, 0))

	prefs, err := store.Preferences(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, prefs.PreferredStrategy)

	// Third sample clears the gate.
	require.NoError(t, store.Record(ctx, "u1", PatternStrategy, "SEMANTIC", 1, 0))
	prefs, err = store.Preferences(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "SEMANTIC", prefs.PreferredStrategy)

	// Low confidence never applies regardless of sample count.
	for i := 0; i < 5; i++ {
		require.NoError(t, store.Record(ctx, "u1", PatternRerank, "true", 0, 1))
	}
	prefs, err = store.Preferences(ctx, "u1")
	require.NoError(t, err)
	assert.Nil(t, prefs.ShouldRerank)
}

func TestCoordinatorLoadContext(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	relational := testRelational(t)
	coordinator := NewCoordinator(cfg, relational)
	defer coordinator.Close()

	_, err := coordinator.Record(ctx, "u1", "s1", &Interaction{
		Query:          "what is kubernetes",
		QueryEmbedding: unit(4, 0),
		Response:       "an orchestrator",
		ResultIDs:      []string{"d1", "d2"},
		Confidence:     0.9,
		Intent:         "DOC_SEARCH",
		Strategy:       "HYBRID",
		Topics:         []string{"kubernetes", "infrastructure"},
		Success:        true,
	})
	require.NoError(t, err)

	loaded := coordinator.LoadContext(ctx, "u1", "s1", unit(4, 0))
	require.NotNil(t, loaded.Session)
	assert.Len(t, loaded.Session.Turns, 2)
	assert.Equal(t, []string{"d1", "d2"}, loaded.Session.LastResults)
	require.Len(t, loaded.Episodes, 1)
	assert.Equal(t, "what is kubernetes", loaded.Episodes[0].Query)
	assert.Len(t, loaded.TopicInterests, 2)
	assert.False(t, loaded.Degraded)
}

func TestWeightsKeyRoundTrip(t *testing.T) {
	key := WeightsKey(0.7, 0.3)
	vector, lexical, ok := parseWeightsKey(key)
	require.True(t, ok)
	assert.InDelta(t, 0.7, vector, 1e-9)
	assert.InDelta(t, 0.3, lexical, 1e-9)
}
