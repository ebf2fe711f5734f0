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
	"time"

	"github.com/lumensearch/lumen/pkg/faults"
)

// historyStore persists usage signals: searches, document opens, and
// accumulated topic interest.
type historyStore struct {
	relational *Relational
}

func (s *historyStore) recordSearch(ctx context.Context, userID, sessionID, query, intent, strategy string, resultCount int, confidence float64) error {
	return s.relational.exec(ctx,
		`INSERT INTO search_history (user_id, session_id, query, intent, strategy, result_count, confidence, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		userID, sessionID, query, intent, strategy, resultCount, confidence,
		time.Now().UTC().Format(time.RFC3339Nano))
}

func (s *historyStore) recordAccess(ctx context.Context, userID, docID string) error {
	return s.relational.exec(ctx,
		`INSERT INTO document_access (user_id, doc_id, accessed_at) VALUES (?, ?, ?)`,
		userID, docID, time.Now().UTC().Format(time.RFC3339Nano))
}

// bumpTopics increments interest for each topic inside one transaction.
func (s *historyStore) bumpTopics(ctx context.Context, userID string, topics []string) error {
	if len(topics) == 0 {
		return nil
	}
	tx, err := s.relational.db.BeginTx(ctx, nil)
	if err != nil {
		return faults.New(faults.KindUnavailable, "history", "bumpTopics", "begin failed", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC().Format(time.RFC3339Nano)
	for _, topic := range topics {
		var score float64
		row := tx.QueryRowContext(ctx, s.relational.rebind(
			`SELECT score FROM topic_interest WHERE user_id = ? AND topic = ?`), userID, topic)
		err := row.Scan(&score)
		switch err {
		case sql.ErrNoRows:
			_, err = tx.ExecContext(ctx, s.relational.rebind(
				`INSERT INTO topic_interest (user_id, topic, score, updated_at) VALUES (?, ?, 1.0, ?)`),
				userID, topic, now)
		case nil:
			_, err = tx.ExecContext(ctx, s.relational.rebind(
				`UPDATE topic_interest SET score = ?, updated_at = ? WHERE user_id = ? AND topic = ?`),
				score+1.0, now, userID, topic)
		}
		if err != nil {
			return faults.New(faults.KindUnavailable, "history", "bumpTopics", "topic update failed", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return faults.New(faults.KindUnavailable, "history", "bumpTopics", "commit failed", err)
	}
	return nil
}

func (s *historyStore) topTopics(ctx context.Context, userID string, limit int) ([]TopicInterest, error) {
	rows, err := s.relational.db.QueryContext(ctx, s.relational.rebind(
		`SELECT topic, score FROM topic_interest WHERE user_id = ? ORDER BY score DESC LIMIT ?`), userID, limit)
	if err != nil {
		return nil, faults.New(faults.KindUnavailable, "history", "topTopics", "query failed", err)
	}
	defer rows.Close()

	var topics []TopicInterest
	for rows.Next() {
		var t TopicInterest
		if err := rows.Scan(&t.Topic, &t.Score); err != nil {
			return nil, faults.New(faults.KindUnavailable, "history", "topTopics", "row scan failed", err)
		}
		topics = append(topics, t)
	}
	return topics, rows.Err()
}

func (s *historyStore) ensureProfile(ctx context.Context, userID string) error {
	var existing string
	row := s.relational.db.QueryRowContext(ctx, s.relational.rebind(
		`SELECT user_id FROM user_profiles WHERE user_id = ?`), userID)
	err := row.Scan(&existing)
	if err == nil {
		return nil
	}
	if err != sql.ErrNoRows {
		return faults.New(faults.KindUnavailable, "history", "ensureProfile", "lookup failed", err)
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	return s.relational.exec(ctx,
		`INSERT INTO user_profiles (user_id, display_name, preferences, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		userID, "", "{}", now, now)
}

// archiveConversation snapshots a session's turns into the durable
// conversation tables. Used when a session expires or is deleted.
func (s *historyStore) archiveConversation(ctx context.Context, session *Session) error {
	if session == nil || len(session.Turns) == 0 {
		return nil
	}
	tx, err := s.relational.db.BeginTx(ctx, nil)
	if err != nil {
		return faults.New(faults.KindUnavailable, "history", "archive", "begin failed", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC().Format(time.RFC3339Nano)
	var existing string
	row := tx.QueryRowContext(ctx, s.relational.rebind(`SELECT id FROM conversations WHERE id = ?`), session.ID)
	if err := row.Scan(&existing); err == sql.ErrNoRows {
		if _, err := tx.ExecContext(ctx, s.relational.rebind(
			`INSERT INTO conversations (id, user_id, started_at, archived_at) VALUES (?, ?, ?, ?)`),
			session.ID, session.UserID, now, now); err != nil {
			return faults.New(faults.KindUnavailable, "history", "archive", "conversation insert failed", err)
		}
	} else if err != nil {
		return faults.New(faults.KindUnavailable, "history", "archive", "conversation lookup failed", err)
	} else {
		if _, err := tx.ExecContext(ctx, s.relational.rebind(
			`UPDATE conversations SET archived_at = ? WHERE id = ?`), now, session.ID); err != nil {
			return faults.New(faults.KindUnavailable, "history", "archive", "conversation update failed", err)
		}
		if _, err := tx.ExecContext(ctx, s.relational.rebind(
			`DELETE FROM messages WHERE conversation_id = ?`), session.ID); err != nil {
			return faults.New(faults.KindUnavailable, "history", "archive", "message reset failed", err)
		}
	}

	for _, turn := range session.Turns {
		if _, err := tx.ExecContext(ctx, s.relational.rebind(
			`INSERT INTO messages (conversation_id, role, content, created_at) VALUES (?, ?, ?, ?)`),
			session.ID, turn.Role, turn.Content, turn.Timestamp.UTC().Format(time.RFC3339Nano)); err != nil {
			return faults.New(faults.KindUnavailable, "history", "archive", "message insert failed", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return faults.New(faults.KindUnavailable, "history", "archive", "commit failed", err)
	}
	return nil
}
