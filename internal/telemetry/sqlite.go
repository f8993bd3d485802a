// This file implements the SQLite MetricsStore backend. Each agent's metrics
// are stored as one JSON row keyed by agent id, which keeps the schema stable
// while the metrics shape evolves.
package telemetry

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"agenttune/internal/types"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS agent_metrics (
	agent_id   TEXT PRIMARY KEY,
	data       TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);
`

// SQLStore persists the metrics table in a SQLite database.
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore opens (or creates) the metrics database under the data directory.
func NewSQLStore(dataDir string) (*SQLStore, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}

	dbPath := filepath.Join(dataDir, "metrics.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open metrics db: %w", err)
	}

	// Single writer; SQLite serializes for us but avoid lock contention noise.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create metrics schema: %w", err)
	}

	return &SQLStore{db: db}, nil
}

// Load reads all agent rows.
func (s *SQLStore) Load(ctx context.Context) (map[string]*types.AgentMetrics, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT agent_id, data FROM agent_metrics`)
	if err != nil {
		return nil, fmt.Errorf("failed to query metrics: %w", err)
	}
	defer rows.Close()

	table := make(map[string]*types.AgentMetrics)
	for rows.Next() {
		var id, data string
		if err := rows.Scan(&id, &data); err != nil {
			return nil, fmt.Errorf("failed to scan metrics row: %w", err)
		}
		var m types.AgentMetrics
		if err := json.Unmarshal([]byte(data), &m); err != nil {
			return nil, fmt.Errorf("corrupt metrics row for %q: %w", id, err)
		}
		table[id] = &m
	}
	return table, rows.Err()
}

// Put upserts one agent's metrics.
func (s *SQLStore) Put(ctx context.Context, m *types.AgentMetrics) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to marshal metrics: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO agent_metrics (agent_id, data, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(agent_id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		m.AgentID, string(data), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to upsert metrics for %q: %w", m.AgentID, err)
	}
	return nil
}

// Close closes the database.
func (s *SQLStore) Close() error { return s.db.Close() }
