// Package telemetry ingests per-agent runtime metrics and owns all mutable
// metric state. Every mutating call persists through a MetricsStore; a
// persist failure is logged and the in-memory state stays authoritative
// until the next successful write reconciles.
package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"agenttune/internal/types"
)

// MetricsStore is the durable storage port for the metrics table.
// Implementations must support concurrent readers with serialized writers
// per agent.
type MetricsStore interface {
	// Load reads the full metrics table. A missing table yields an empty map.
	Load(ctx context.Context) (map[string]*types.AgentMetrics, error)

	// Put durably persists one agent's metrics.
	Put(ctx context.Context, m *types.AgentMetrics) error

	// Close releases underlying resources.
	Close() error
}

// =============================================================================
// FILE STORE
// =============================================================================

// FileStore persists the metrics table as a single JSON document. Cardinality
// (agent count) is small and updates are infrequent relative to request
// volume, so whole-table writes are acceptable.
type FileStore struct {
	mu    sync.Mutex
	path  string
	table map[string]*types.AgentMetrics
}

// NewFileStore creates a file-backed store under the data directory.
func NewFileStore(dataDir string) (*FileStore, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}
	return &FileStore{
		path:  filepath.Join(dataDir, "metrics.json"),
		table: make(map[string]*types.AgentMetrics),
	}, nil
}

// Load reads the metrics table from disk.
func (s *FileStore) Load(ctx context.Context) (map[string]*types.AgentMetrics, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return map[string]*types.AgentMetrics{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read metrics table: %w", err)
	}

	table := make(map[string]*types.AgentMetrics)
	if err := json.Unmarshal(data, &table); err != nil {
		return nil, fmt.Errorf("failed to parse metrics table: %w", err)
	}

	s.table = make(map[string]*types.AgentMetrics, len(table))
	for id, m := range table {
		s.table[id] = m.Clone()
	}
	return table, nil
}

// Put updates one agent and rewrites the full table.
func (s *FileStore) Put(ctx context.Context, m *types.AgentMetrics) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.table[m.AgentID] = m.Clone()

	data, err := json.MarshalIndent(s.table, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal metrics table: %w", err)
	}

	// Write-then-rename so a crash mid-write never corrupts the table.
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write metrics table: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace metrics table: %w", err)
	}
	return nil
}

// Close is a no-op for the file store.
func (s *FileStore) Close() error { return nil }

// Path returns the table file path.
func (s *FileStore) Path() string { return s.path }
