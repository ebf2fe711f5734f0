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
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/lumensearch/lumen/pkg/config"
	"github.com/lumensearch/lumen/pkg/embedders"
	"github.com/lumensearch/lumen/pkg/faults"
)

// EpisodicStore recalls past query+response exchanges by embedding
// similarity, discounted by age and feedback.
type EpisodicStore struct {
	relational *Relational
	config     *config.EpisodicConfig
}

func NewEpisodicStore(relational *Relational, cfg *config.EpisodicConfig) *EpisodicStore {
	return &EpisodicStore{relational: relational, config: cfg}
}

func (s *EpisodicStore) Add(ctx context.Context, episode *Episode) (int64, error) {
	embedding, err := json.Marshal(episode.QueryEmbedding)
	if err != nil {
		return 0, faults.New(faults.KindInternal, "episodic", "Add", "failed to marshal embedding", err)
	}
	resultIDs, err := json.Marshal(episode.ResultIDs)
	if err != nil {
		return 0, faults.New(faults.KindInternal, "episodic", "Add", "failed to marshal result ids", err)
	}

	createdAt := episode.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	query := s.relational.rebind(`INSERT INTO episodes
		(user_id, query, query_embedding, response, result_ids, confidence, feedback, strategy, reranked, created_at, access_count, decay_factor)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, 1.0)`)
	result, err := s.relational.db.ExecContext(ctx, query,
		episode.UserID, episode.Query, string(embedding), episode.Response, string(resultIDs),
		episode.Confidence, episode.Feedback, episode.Strategy, boolInt(episode.Reranked),
		createdAt.Format(time.RFC3339Nano))
	if err != nil {
		return 0, faults.New(faults.KindUnavailable, "episodic", "Add", "insert failed", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		// Postgres does not support LastInsertId; recover via max(id).
		row := s.relational.db.QueryRowContext(ctx, "SELECT MAX(id) FROM episodes")
		if scanErr := row.Scan(&id); scanErr != nil {
			return 0, faults.New(faults.KindUnavailable, "episodic", "Add", "failed to resolve episode id", scanErr)
		}
	}
	return id, nil
}

// Similar scores the user's most recent episodes against the query
// embedding: cosine x decay x feedback multiplier, keeping those above
// the recall floor. Returned episodes get their access counters bumped.
func (s *EpisodicStore) Similar(ctx context.Context, userID string, embedding []float32) ([]ScoredEpisode, error) {
	query := s.relational.rebind(`SELECT id, user_id, query, query_embedding, response, result_ids,
		confidence, feedback, strategy, reranked, created_at, access_count, decay_factor
		FROM episodes WHERE user_id = ? ORDER BY created_at DESC LIMIT ?`)
	rows, err := s.relational.db.QueryContext(ctx, query, userID, s.config.CandidateLimit)
	if err != nil {
		return nil, faults.New(faults.KindUnavailable, "episodic", "Similar", "query failed", err)
	}
	defer rows.Close()

	now := time.Now().UTC()
	var scored []ScoredEpisode
	for rows.Next() {
		episode, err := scanEpisode(rows)
		if err != nil {
			return nil, err
		}
		if len(episode.QueryEmbedding) != len(embedding) {
			continue
		}
		cosine := float64(embedders.Cosine(embedding, episode.QueryEmbedding))
		adjusted := cosine * s.decay(episode.CreatedAt, now) * feedbackMultiplier(episode.Feedback)
		if adjusted < s.config.MinScore {
			continue
		}
		scored = append(scored, ScoredEpisode{Episode: *episode, Similarity: cosine, AdjustedScore: adjusted})
	}
	if err := rows.Err(); err != nil {
		return nil, faults.New(faults.KindUnavailable, "episodic", "Similar", "row scan failed", err)
	}

	sort.Slice(scored, func(i, j int) bool { return scored[i].AdjustedScore > scored[j].AdjustedScore })
	if len(scored) > s.config.TopK {
		scored = scored[:s.config.TopK]
	}

	if len(scored) > 0 {
		if err := s.touchAccess(ctx, scored); err != nil {
			return nil, err
		}
	}
	return scored, nil
}

func (s *EpisodicStore) touchAccess(ctx context.Context, episodes []ScoredEpisode) error {
	placeholders := make([]string, len(episodes))
	args := make([]interface{}, len(episodes))
	for i, e := range episodes {
		placeholders[i] = "?"
		args[i] = e.ID
	}
	query := fmt.Sprintf("UPDATE episodes SET access_count = access_count + 1 WHERE id IN (%s)",
		strings.Join(placeholders, ", "))
	return s.relational.exec(ctx, query, args...)
}

// SetFeedback records a rating and reports whether it changed. Repeated
// identical ratings are no-ops so counters are never double-applied.
func (s *EpisodicStore) SetFeedback(ctx context.Context, episodeID int64, rating int) (episode *Episode, previous int, changed bool, err error) {
	tx, err := s.relational.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, 0, false, faults.New(faults.KindUnavailable, "episodic", "SetFeedback", "begin failed", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, s.relational.rebind(`SELECT id, user_id, query, query_embedding, response, result_ids,
		confidence, feedback, strategy, reranked, created_at, access_count, decay_factor
		FROM episodes WHERE id = ?`), episodeID)
	episode, err = scanEpisode(row)
	if err == sql.ErrNoRows {
		return nil, 0, false, faults.New(faults.KindNotFound, "episodic", "SetFeedback",
			fmt.Sprintf("episode %d not found", episodeID), nil)
	}
	if err != nil {
		return nil, 0, false, err
	}

	previous = episode.Feedback
	if previous == rating {
		return episode, previous, false, nil
	}

	if _, err := tx.ExecContext(ctx, s.relational.rebind("UPDATE episodes SET feedback = ? WHERE id = ?"), rating, episodeID); err != nil {
		return nil, 0, false, faults.New(faults.KindUnavailable, "episodic", "SetFeedback", "update failed", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, 0, false, faults.New(faults.KindUnavailable, "episodic", "SetFeedback", "commit failed", err)
	}
	episode.Feedback = rating
	return episode, previous, true, nil
}

// RunDecay refreshes decay factors and prunes low-value episodes,
// always preserving each user's most recent keep-floor entries.
func (s *EpisodicStore) RunDecay(ctx context.Context) (pruned int, err error) {
	rows, err := s.relational.db.QueryContext(ctx, "SELECT DISTINCT user_id FROM episodes")
	if err != nil {
		return 0, faults.New(faults.KindUnavailable, "episodic", "RunDecay", "user scan failed", err)
	}
	var users []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			rows.Close()
			return 0, faults.New(faults.KindUnavailable, "episodic", "RunDecay", "row scan failed", err)
		}
		users = append(users, u)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, faults.New(faults.KindUnavailable, "episodic", "RunDecay", "user scan failed", err)
	}

	now := time.Now().UTC()
	for _, user := range users {
		n, err := s.decayUser(ctx, user, now)
		if err != nil {
			return pruned, err
		}
		pruned += n
	}
	return pruned, nil
}

func (s *EpisodicStore) decayUser(ctx context.Context, userID string, now time.Time) (int, error) {
	query := s.relational.rebind(`SELECT id, created_at, feedback, access_count
		FROM episodes WHERE user_id = ? ORDER BY created_at DESC`)
	rows, err := s.relational.db.QueryContext(ctx, query, userID)
	if err != nil {
		return 0, faults.New(faults.KindUnavailable, "episodic", "RunDecay", "episode scan failed", err)
	}

	type candidate struct {
		id    int64
		decay float64
		prune bool
	}
	var candidates []candidate
	position := 0
	for rows.Next() {
		var id int64
		var createdAt string
		var feedback, accessCount int
		if err := rows.Scan(&id, &createdAt, &feedback, &accessCount); err != nil {
			rows.Close()
			return 0, faults.New(faults.KindUnavailable, "episodic", "RunDecay", "row scan failed", err)
		}
		created, _ := time.Parse(time.RFC3339Nano, createdAt)
		decay := s.decay(created, now)
		adjusted := decay * feedbackMultiplier(feedback)
		candidates = append(candidates, candidate{
			id:    id,
			decay: decay,
			prune: position >= s.config.KeepFloor && adjusted < s.config.PruneThreshold && accessCount < 2,
		})
		position++
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, faults.New(faults.KindUnavailable, "episodic", "RunDecay", "episode scan failed", err)
	}

	tx, err := s.relational.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, faults.New(faults.KindUnavailable, "episodic", "RunDecay", "begin failed", err)
	}
	defer tx.Rollback()

	pruned := 0
	for _, c := range candidates {
		if c.prune {
			if _, err := tx.ExecContext(ctx, s.relational.rebind("DELETE FROM episodes WHERE id = ?"), c.id); err != nil {
				return 0, faults.New(faults.KindUnavailable, "episodic", "RunDecay", "prune failed", err)
			}
			pruned++
			continue
		}
		if _, err := tx.ExecContext(ctx, s.relational.rebind("UPDATE episodes SET decay_factor = ? WHERE id = ?"), c.decay, c.id); err != nil {
			return 0, faults.New(faults.KindUnavailable, "episodic", "RunDecay", "decay update failed", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, faults.New(faults.KindUnavailable, "episodic", "RunDecay", "commit failed", err)
	}
	return pruned, nil
}

func (s *EpisodicStore) decay(created, now time.Time) float64 {
	days := now.Sub(created).Hours() / 24
	if days < 0 {
		days = 0
	}
	return 1 / (1 + days/float64(s.config.DecayHalfLifeDays))
}

func feedbackMultiplier(feedback int) float64 {
	switch feedback {
	case 1:
		return 1.2
	case -1:
		return 0.5
	default:
		return 1.0
	}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEpisode(row rowScanner) (*Episode, error) {
	var e Episode
	var embedding, resultIDs, createdAt string
	var reranked int
	err := row.Scan(&e.ID, &e.UserID, &e.Query, &embedding, &e.Response, &resultIDs,
		&e.Confidence, &e.Feedback, &e.Strategy, &reranked, &createdAt, &e.AccessCount, &e.DecayFactor)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, faults.New(faults.KindUnavailable, "episodic", "scan", "row scan failed", err)
	}
	if err := json.Unmarshal([]byte(embedding), &e.QueryEmbedding); err != nil {
		return nil, faults.New(faults.KindInternal, "episodic", "scan", "stored embedding is corrupt", err)
	}
	if err := json.Unmarshal([]byte(resultIDs), &e.ResultIDs); err != nil {
		return nil, faults.New(faults.KindInternal, "episodic", "scan", "stored result ids are corrupt", err)
	}
	e.Reranked = reranked != 0
	e.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return &e, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
