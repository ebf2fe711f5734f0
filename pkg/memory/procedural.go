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
	"strconv"
	"strings"
	"time"

	"github.com/lumensearch/lumen/pkg/config"
	"github.com/lumensearch/lumen/pkg/faults"
)

// ProceduralStore learns per-user preferences from observed outcomes:
// which strategy worked, whether reranking helped, which hybrid weights
// performed. A pattern is only applied once it has enough samples and
// enough confidence.
type ProceduralStore struct {
	relational *Relational
	config     *config.ProceduralConfig
}

func NewProceduralStore(relational *Relational, cfg *config.ProceduralConfig) *ProceduralStore {
	return &ProceduralStore{relational: relational, config: cfg}
}

// Record adjusts a pattern's counters. Deltas may be negative when a
// feedback change reverses an earlier observation; counters floor at 0.
func (s *ProceduralStore) Record(ctx context.Context, userID, patternType, dataKey string, successDelta, failureDelta int) error {
	tx, err := s.relational.db.BeginTx(ctx, nil)
	if err != nil {
		return faults.New(faults.KindUnavailable, "procedural", "Record", "begin failed", err)
	}
	defer tx.Rollback()

	var success, failure int
	row := tx.QueryRowContext(ctx, s.relational.rebind(
		`SELECT success_count, failure_count FROM procedural_patterns
		 WHERE user_id = ? AND pattern_type = ? AND data_key = ?`), userID, patternType, dataKey)
	err = row.Scan(&success, &failure)
	now := time.Now().UTC().Format(time.RFC3339Nano)

	switch err {
	case sql.ErrNoRows:
		success = clampCounter(successDelta)
		failure = clampCounter(failureDelta)
		_, err = tx.ExecContext(ctx, s.relational.rebind(
			`INSERT INTO procedural_patterns (user_id, pattern_type, data_key, success_count, failure_count, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?)`), userID, patternType, dataKey, success, failure, now)
	case nil:
		success = clampCounter(success + successDelta)
		failure = clampCounter(failure + failureDelta)
		_, err = tx.ExecContext(ctx, s.relational.rebind(
			`UPDATE procedural_patterns SET success_count = ?, failure_count = ?, updated_at = ?
			 WHERE user_id = ? AND pattern_type = ? AND data_key = ?`),
			success, failure, now, userID, patternType, dataKey)
	default:
		return faults.New(faults.KindUnavailable, "procedural", "Record", "lookup failed", err)
	}
	if err != nil {
		return faults.New(faults.KindUnavailable, "procedural", "Record", "counter update failed", err)
	}
	if err := tx.Commit(); err != nil {
		return faults.New(faults.KindUnavailable, "procedural", "Record", "commit failed", err)
	}
	return nil
}

// Patterns returns all of a user's learned patterns.
func (s *ProceduralStore) Patterns(ctx context.Context, userID string) ([]Pattern, error) {
	rows, err := s.relational.db.QueryContext(ctx, s.relational.rebind(
		`SELECT user_id, pattern_type, data_key, success_count, failure_count
		 FROM procedural_patterns WHERE user_id = ?`), userID)
	if err != nil {
		return nil, faults.New(faults.KindUnavailable, "procedural", "Patterns", "query failed", err)
	}
	defer rows.Close()

	var patterns []Pattern
	for rows.Next() {
		var p Pattern
		if err := rows.Scan(&p.UserID, &p.PatternType, &p.DataKey, &p.SuccessCount, &p.FailureCount); err != nil {
			return nil, faults.New(faults.KindUnavailable, "procedural", "Patterns", "row scan failed", err)
		}
		patterns = append(patterns, p)
	}
	return patterns, rows.Err()
}

// Preferences derives applicable preferences from a user's patterns.
// For each pattern type, the highest-confidence key that clears the
// gates wins.
func (s *ProceduralStore) Preferences(ctx context.Context, userID string) (Preferences, error) {
	patterns, err := s.Patterns(ctx, userID)
	if err != nil {
		return Preferences{}, err
	}

	best := make(map[string]Pattern)
	for _, p := range patterns {
		if p.Samples() < s.config.MinSamples || p.Confidence() < s.config.MinConfidence {
			continue
		}
		current, ok := best[p.PatternType]
		if !ok || p.Confidence() > current.Confidence() {
			best[p.PatternType] = p
		}
	}

	var prefs Preferences
	if p, ok := best[PatternStrategy]; ok {
		prefs.PreferredStrategy = p.DataKey
	}
	if p, ok := best[PatternRerank]; ok {
		v := p.DataKey == "true"
		prefs.ShouldRerank = &v
	}
	if p, ok := best[PatternWeights]; ok {
		if vector, lexical, ok := parseWeightsKey(p.DataKey); ok {
			prefs.VectorWeight = vector
			prefs.LexicalWeight = lexical
		}
	}
	return prefs, nil
}

// WeightsKey encodes hybrid weights as a pattern data key.
func WeightsKey(vector, lexical float64) string {
	return strconv.FormatFloat(vector, 'f', 2, 64) + ":" + strconv.FormatFloat(lexical, 'f', 2, 64)
}

func parseWeightsKey(key string) (vector, lexical float64, ok bool) {
	parts := strings.SplitN(key, ":", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	vector, err1 := strconv.ParseFloat(parts[0], 64)
	lexical, err2 := strconv.ParseFloat(parts[1], 64)
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	return vector, lexical, true
}

func clampCounter(n int) int {
	if n < 0 {
		return 0
	}
	return n
}
