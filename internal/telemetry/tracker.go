// This file implements the Tracker, the single owner of mutable metric state.
// All series appends and scalar overwrites are serialized under the tracker
// lock; persistence happens on every mutation with a snapshot taken inside
// the critical section and written outside it.
package telemetry

import (
	"context"
	"sort"
	"sync"

	"agenttune/internal/logging"
	"agenttune/internal/types"
)

// Update carries one telemetry event's fields. Nil pointers mean "not
// reported this event": series fields append, scalar fields overwrite.
type Update struct {
	ResponseTimeMS *float64 `json:"response_time_ms,omitempty"`
	TokenUsage     *float64 `json:"token_usage,omitempty"`
	SuccessRate    *float64 `json:"success_rate,omitempty"`
	ErrorRate      *float64 `json:"error_rate,omitempty"`
}

// Tracker ingests telemetry and feedback for the monitored agent population.
type Tracker struct {
	mu     sync.RWMutex
	agents map[string]*types.AgentMetrics
	store  MetricsStore
	audit  *logging.AuditLog
}

// NewTracker creates a tracker backed by store, loading any persisted state.
// audit may be nil in tests.
func NewTracker(ctx context.Context, store MetricsStore, audit *logging.AuditLog) (*Tracker, error) {
	table, err := store.Load(ctx)
	if err != nil {
		return nil, err
	}
	return &Tracker{
		agents: table,
		store:  store,
		audit:  audit,
	}, nil
}

// RecordMetrics merges one telemetry event into the agent's metrics. Unknown
// agent ids are lazily created with optimistic defaults. Never fails: a
// persist error is logged and in-memory state stays authoritative.
func (t *Tracker) RecordMetrics(ctx context.Context, agentID string, u Update) {
	t.mu.Lock()
	m := t.getOrCreateLocked(agentID)

	if u.ResponseTimeMS != nil {
		m.ResponseTimes = appendBounded(m.ResponseTimes, *u.ResponseTimeMS, types.MaxSeriesLen)
	}
	if u.TokenUsage != nil {
		m.TokenUsage = appendBounded(m.TokenUsage, *u.TokenUsage, types.MaxSeriesLen)
	}
	if u.SuccessRate != nil {
		m.SuccessRate = *u.SuccessRate
	}
	if u.ErrorRate != nil {
		m.ErrorRate = *u.ErrorRate
	}

	snapshot := m.Clone()
	t.mu.Unlock()

	logging.TelemetryDebug("metrics recorded: agent=%s rt=%d samples tokens=%d samples",
		agentID, len(snapshot.ResponseTimes), len(snapshot.TokenUsage))
	t.persist(ctx, snapshot)
}

// RecordFeedback overwrites the agent's feedback score and appends a
// feedback event to the audit log.
func (t *Tracker) RecordFeedback(ctx context.Context, agentID string, score float64, comment string) {
	t.mu.Lock()
	m := t.getOrCreateLocked(agentID)
	m.UserFeedbackScore = score
	snapshot := m.Clone()
	t.mu.Unlock()

	logging.Telemetry("feedback recorded: agent=%s score=%.1f", agentID, score)

	if t.audit != nil {
		if err := t.audit.Append(logging.AuditEvent{
			EventType: logging.AuditFeedbackReceived,
			AgentID:   agentID,
			Score:     score,
			Message:   comment,
			Success:   true,
		}); err != nil {
			logging.Get(logging.CategoryTelemetry).Warn("audit append failed: %v", err)
		}
	}

	t.persist(ctx, snapshot)
}

// Get returns a snapshot of the agent's metrics. The bool reports whether
// the agent has ever recorded telemetry; when false the snapshot is the
// lazily-created default (not stored).
func (t *Tracker) Get(ctx context.Context, agentID string) (*types.AgentMetrics, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if m, ok := t.agents[agentID]; ok {
		return m.Clone(), true
	}
	return types.NewAgentMetrics(agentID), false
}

// AppendOptimization appends one optimization record to the agent's history,
// enforcing the FIFO bound, and advances LastOptimizedAt to the record's
// timestamp. Records land in completion order; consumers needing request
// order must sort explicitly.
func (t *Tracker) AppendOptimization(ctx context.Context, agentID string, rec types.OptimizationRecord) {
	t.mu.Lock()
	m := t.getOrCreateLocked(agentID)
	m.OptimizationHistory = append(m.OptimizationHistory, rec)
	if excess := len(m.OptimizationHistory) - types.MaxHistoryLen; excess > 0 {
		m.OptimizationHistory = m.OptimizationHistory[excess:]
	}
	ts := rec.Timestamp
	m.LastOptimizedAt = &ts
	snapshot := m.Clone()
	t.mu.Unlock()

	t.persist(ctx, snapshot)
}

// AgentIDs returns all known agent ids, sorted.
func (t *Tracker) AgentIDs(ctx context.Context) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	ids := make([]string, 0, len(t.agents))
	for id := range t.agents {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// All returns snapshots of every agent's metrics, sorted by agent id.
func (t *Tracker) All(ctx context.Context) []*types.AgentMetrics {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]*types.AgentMetrics, 0, len(t.agents))
	for _, m := range t.agents {
		out = append(out, m.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AgentID < out[j].AgentID })
	return out
}

// getOrCreateLocked must be called with t.mu held for writing.
func (t *Tracker) getOrCreateLocked(agentID string) *types.AgentMetrics {
	m, ok := t.agents[agentID]
	if !ok {
		m = types.NewAgentMetrics(agentID)
		t.agents[agentID] = m
		logging.TelemetryDebug("lazily initialized metrics for agent %s", agentID)
	}
	return m
}

// persist writes a snapshot through the store. Failures are logged only;
// the in-memory table remains authoritative for this process.
func (t *Tracker) persist(ctx context.Context, snapshot *types.AgentMetrics) {
	if err := t.store.Put(ctx, snapshot); err != nil {
		logging.Get(logging.CategoryTelemetry).Error("persist failed for agent %s: %v", snapshot.AgentID, err)
		if t.audit != nil {
			_ = t.audit.Append(logging.AuditEvent{
				EventType: logging.AuditPersistError,
				AgentID:   snapshot.AgentID,
				Error:     err.Error(),
			})
		}
	}
}

func appendBounded(series []float64, v float64, max int) []float64 {
	series = append(series, v)
	if len(series) > max {
		series = series[len(series)-max:]
	}
	return series
}

// Float64 is a convenience for building Update literals.
func Float64(v float64) *float64 { return &v }
