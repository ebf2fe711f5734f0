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
	"fmt"
	"os"
	"path/filepath"
	"strings"

	// Drivers register themselves with database/sql.
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/lumensearch/lumen/pkg/config"
	"github.com/lumensearch/lumen/pkg/faults"
)

// Relational owns the persistent tables: episodes, procedural patterns,
// usage history, and conversation archives. All statements are
// parameterized; counter updates run in transactions.
type Relational struct {
	db     *sql.DB
	config *config.RelationalConfig
}

func NewRelational(cfg *config.RelationalConfig) (*Relational, error) {
	if cfg.Driver == "sqlite" {
		if dir := filepath.Dir(cfg.Path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, faults.New(faults.KindUnavailable, "relational", "open", "failed to create data dir", err)
			}
		}
	}

	db, err := sql.Open(cfg.DriverName(), cfg.ConnectionString())
	if err != nil {
		return nil, faults.New(faults.KindUnavailable, "relational", "open", "failed to open database", err)
	}
	db.SetMaxOpenConns(cfg.MaxConns)
	db.SetMaxIdleConns(cfg.MaxIdle)

	r := &Relational{db: db, config: cfg}
	if err := r.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return r, nil
}

func (r *Relational) Close() error {
	return r.db.Close()
}

// Ping reports store health.
func (r *Relational) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// rebind converts ?-placeholders to the driver's dialect.
func (r *Relational) rebind(query string) string {
	if r.config.Driver != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, ch := range query {
		if ch == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(ch)
	}
	return b.String()
}

func (r *Relational) exec(ctx context.Context, query string, args ...interface{}) error {
	_, err := r.db.ExecContext(ctx, r.rebind(query), args...)
	if err != nil {
		return faults.New(faults.KindUnavailable, "relational", "exec", "statement failed", err)
	}
	return nil
}

func (r *Relational) autoIncrementPK() string {
	switch r.config.Driver {
	case "postgres":
		return "BIGSERIAL PRIMARY KEY"
	case "mysql":
		return "BIGINT PRIMARY KEY AUTO_INCREMENT"
	default:
		return "INTEGER PRIMARY KEY AUTOINCREMENT"
	}
}

func (r *Relational) migrate() error {
	pk := r.autoIncrementPK()
	statements := []string{
		`CREATE TABLE IF NOT EXISTS user_profiles (
			user_id TEXT PRIMARY KEY,
			display_name TEXT,
			preferences TEXT,
			created_at TEXT,
			updated_at TEXT
		)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS episodes (
			id %s,
			user_id TEXT,
			query TEXT,
			query_embedding TEXT,
			response TEXT,
			result_ids TEXT,
			confidence REAL,
			feedback INTEGER DEFAULT 0,
			strategy TEXT,
			reranked INTEGER DEFAULT 0,
			created_at TEXT,
			access_count INTEGER DEFAULT 0,
			decay_factor REAL DEFAULT 1.0
		)`, pk),
		`CREATE TABLE IF NOT EXISTS procedural_patterns (
			user_id TEXT,
			pattern_type TEXT,
			data_key TEXT,
			success_count INTEGER DEFAULT 0,
			failure_count INTEGER DEFAULT 0,
			updated_at TEXT,
			PRIMARY KEY (user_id, pattern_type, data_key)
		)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS search_history (
			id %s,
			user_id TEXT,
			session_id TEXT,
			query TEXT,
			intent TEXT,
			strategy TEXT,
			result_count INTEGER,
			confidence REAL,
			created_at TEXT
		)`, pk),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS document_access (
			id %s,
			user_id TEXT,
			doc_id TEXT,
			accessed_at TEXT
		)`, pk),
		`CREATE TABLE IF NOT EXISTS topic_interest (
			user_id TEXT,
			topic TEXT,
			score REAL DEFAULT 0,
			updated_at TEXT,
			PRIMARY KEY (user_id, topic)
		)`,
		`CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			user_id TEXT,
			started_at TEXT,
			archived_at TEXT
		)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS messages (
			id %s,
			conversation_id TEXT,
			role TEXT,
			content TEXT,
			created_at TEXT
		)`, pk),
		`CREATE INDEX IF NOT EXISTS idx_episodes_user ON episodes (user_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_history_user ON search_history (user_id, created_at)`,
	}

	for _, stmt := range statements {
		if _, err := r.db.Exec(stmt); err != nil {
			return faults.New(faults.KindUnavailable, "relational", "migrate", "schema creation failed", err)
		}
	}
	return nil
}
