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

package config

import "fmt"

// MemoryConfig configures the three memory tiers.
type MemoryConfig struct {
	Session    SessionConfig    `yaml:"session"`
	Episodic   EpisodicConfig   `yaml:"episodic"`
	Procedural ProceduralConfig `yaml:"procedural"`
}

// SessionConfig is the short-term conversation tier policy.
type SessionConfig struct {
	// WindowSize is the sliding window of retained turns (default 10).
	WindowSize int `yaml:"window_size"`

	// TTLSeconds is the sliding session TTL (default 3600).
	TTLSeconds int `yaml:"ttl_seconds"`

	// Backend is "memory" (default) or "redis".
	Backend string `yaml:"backend"`

	// RedisAddr for the redis backend.
	RedisAddr     string `yaml:"redis_addr,omitempty"`
	RedisPassword string `yaml:"redis_password,omitempty"`
	RedisDB       int    `yaml:"redis_db,omitempty"`
}

// EpisodicConfig is the durable query+response tier policy.
type EpisodicConfig struct {
	// DecayHalfLifeDays drives the 1/(1+age/days) decay curve (default 365).
	DecayHalfLifeDays int `yaml:"decay_half_life_days"`

	// PruneThreshold removes episodes whose adjusted score falls below it.
	PruneThreshold float64 `yaml:"prune_threshold"`

	// MinScore is the recall floor (default 0.3).
	MinScore float64 `yaml:"min_score"`

	// TopK similar episodes loaded per query (default 5).
	TopK int `yaml:"top_k"`

	// KeepFloor preserves the most recent N episodes per user (default 100).
	KeepFloor int `yaml:"keep_floor"`

	// CandidateLimit bounds how many recent episodes are scored in memory.
	CandidateLimit int `yaml:"candidate_limit"`
}

// ProceduralConfig is the learned-preference tier policy.
type ProceduralConfig struct {
	// MinConfidence gates pattern application (default 0.6).
	MinConfidence float64 `yaml:"min_confidence"`

	// MinSamples is the minimum observation count (default 3).
	MinSamples int `yaml:"min_samples"`

	// PruneBelow removes patterns under this confidence once sampled enough.
	PruneBelow float64 `yaml:"prune_below"`
}

func (c *MemoryConfig) SetDefaults() {
	if c.Session.WindowSize == 0 {
		c.Session.WindowSize = 10
	}
	if c.Session.TTLSeconds == 0 {
		c.Session.TTLSeconds = 3600
	}
	if c.Session.Backend == "" {
		c.Session.Backend = "memory"
	}
	if c.Episodic.DecayHalfLifeDays == 0 {
		c.Episodic.DecayHalfLifeDays = 365
	}
	if c.Episodic.PruneThreshold == 0 {
		c.Episodic.PruneThreshold = 0.1
	}
	if c.Episodic.MinScore == 0 {
		c.Episodic.MinScore = 0.3
	}
	if c.Episodic.TopK == 0 {
		c.Episodic.TopK = 5
	}
	if c.Episodic.KeepFloor == 0 {
		c.Episodic.KeepFloor = 100
	}
	if c.Episodic.CandidateLimit == 0 {
		c.Episodic.CandidateLimit = 500
	}
	if c.Procedural.MinConfidence == 0 {
		c.Procedural.MinConfidence = 0.6
	}
	if c.Procedural.MinSamples == 0 {
		c.Procedural.MinSamples = 3
	}
	if c.Procedural.PruneBelow == 0 {
		c.Procedural.PruneBelow = 0.3
	}
}

func (c *MemoryConfig) Validate() error {
	switch c.Session.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("invalid session backend %q (valid: memory, redis)", c.Session.Backend)
	}
	if c.Session.Backend == "redis" && c.Session.RedisAddr == "" {
		return fmt.Errorf("redis_addr is required for redis session backend")
	}
	if c.Session.WindowSize < 1 {
		return fmt.Errorf("session window_size must be positive")
	}
	return nil
}

// RelationalConfig configures the persistent relational store that owns
// episodes, procedural patterns and usage history.
type RelationalConfig struct {
	// Driver is "sqlite" (default), "postgres", or "mysql".
	Driver string `yaml:"driver"`

	// Path is the database file for sqlite.
	Path string `yaml:"path,omitempty"`

	// DSN is the connection string for postgres/mysql.
	DSN string `yaml:"dsn,omitempty"`

	MaxConns int `yaml:"max_conns"`
	MaxIdle  int `yaml:"max_idle"`
}

func (c *RelationalConfig) SetDefaults() {
	if c.Driver == "" {
		c.Driver = "sqlite"
	}
	if c.Path == "" && c.Driver == "sqlite" {
		c.Path = ".lumen/lumen.db"
	}
	if c.MaxConns == 0 {
		c.MaxConns = 10
	}
	if c.MaxIdle == 0 {
		c.MaxIdle = 2
	}
}

func (c *RelationalConfig) Validate() error {
	switch c.Driver {
	case "sqlite", "postgres", "mysql":
	default:
		return fmt.Errorf("unsupported driver %q (valid: sqlite, postgres, mysql)", c.Driver)
	}
	if c.Driver != "sqlite" && c.DSN == "" {
		return fmt.Errorf("dsn is required for %s", c.Driver)
	}
	return nil
}

// DriverName maps the configured driver to its database/sql registration.
func (c *RelationalConfig) DriverName() string {
	if c.Driver == "sqlite" {
		return "sqlite3"
	}
	return c.Driver
}

// ConnectionString builds the DSN passed to sql.Open.
func (c *RelationalConfig) ConnectionString() string {
	if c.Driver == "sqlite" {
		return c.Path
	}
	return c.DSN
}
