// Package logging provides config-driven categorized file-based logging.
// This file implements the append-only audit log for feedback and mutation
// events. Unlike debug logging, the audit log is always on: it is the durable
// record consumers reconcile against, not a diagnostic aid.
package logging

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// AuditEventType defines the type of audit event
type AuditEventType string

const (
	AuditFeedbackReceived     AuditEventType = "feedback_received"
	AuditMetricsUpdated       AuditEventType = "metrics_updated"
	AuditMutationApplied      AuditEventType = "mutation_applied"
	AuditMutationReverted     AuditEventType = "mutation_reverted"
	AuditOptimizationRecorded AuditEventType = "optimization_recorded"
	AuditPersistError         AuditEventType = "persist_error"
)

// AuditEvent represents one structured audit log entry.
type AuditEvent struct {
	Timestamp int64                  `json:"ts"` // Unix milliseconds
	EventType AuditEventType         `json:"event"`
	AgentID   string                 `json:"agent_id"`
	Message   string                 `json:"msg,omitempty"`
	Score     float64                `json:"score,omitempty"`
	Success   bool                   `json:"success"`
	Error     string                 `json:"error,omitempty"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// AuditLog appends structured events to a JSONL file. Writes are serialized;
// a write failure is reported to the caller but never panics.
type AuditLog struct {
	mu   sync.Mutex
	path string
}

// NewAuditLog creates (or reopens) the audit log under the workspace data dir.
func NewAuditLog(workspacePath string) (*AuditLog, error) {
	dir := filepath.Join(workspacePath, ".agenttune", "audit")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create audit dir: %w", err)
	}
	return &AuditLog{path: filepath.Join(dir, "events.jsonl")}, nil
}

// Append writes one event to the log. The timestamp is filled in if zero.
func (a *AuditLog) Append(event AuditEvent) error {
	if event.Timestamp == 0 {
		event.Timestamp = time.Now().UnixMilli()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal audit event: %w", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	f, err := os.OpenFile(a.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open audit log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write audit event: %w", err)
	}
	return nil
}

// Path returns the audit log file path.
func (a *AuditLog) Path() string { return a.path }
