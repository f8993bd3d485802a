// Package ledger maintains the append-only, size-bounded history of applied
// optimizations per agent. The history both enforces the per-agent cooldown
// and feeds the audit/trend reports.
package ledger

import (
	"context"
	"fmt"
	"time"

	"agenttune/internal/logging"
	"agenttune/internal/telemetry"
	"agenttune/internal/types"
)

// estimatedGain is the optimistic multiplier used to synthesize the "after"
// metric. The after value is recorded at apply time and never re-measured:
// it is an approximation, not a guarantee. Preserved as observed behavior;
// a re-measurement window would be the stricter alternative.
const estimatedGain = 1.10

// Ledger records completed optimizations and answers cooldown queries.
type Ledger struct {
	tracker  *telemetry.Tracker
	audit    *logging.AuditLog
	cooldown time.Duration
	now      func() time.Time
}

// New creates a ledger over the tracker. audit may be nil in tests.
func New(tracker *telemetry.Tracker, audit *logging.AuditLog, cooldown time.Duration) *Ledger {
	return &Ledger{
		tracker:  tracker,
		audit:    audit,
		cooldown: cooldown,
		now:      time.Now,
	}
}

// SetClock overrides the ledger's clock. Test hook.
func (l *Ledger) SetClock(now func() time.Time) { l.now = now }

// Record appends one OptimizationRecord built from the applied changes and a
// synthesized before/after pair on successRate, advances lastOptimizedAt,
// and enforces the history bound (FIFO eviction). Records land in the order
// optimizations complete.
func (l *Ledger) Record(ctx context.Context, agentID string, changes []types.AppliedChange, before *types.AgentMetrics) types.OptimizationRecord {
	mutationType := types.MutationCode
	description := "automated optimization"
	if len(changes) > 0 {
		mutationType = changes[0].MutationType
		description = changes[0].Description
	}

	rec := types.OptimizationRecord{
		Timestamp:    l.now(),
		MutationType: mutationType,
		Description:  fmt.Sprintf("%s (%d changes)", description, len(changes)),
		Before:       types.MetricValue{Name: "successRate", Value: before.SuccessRate},
		After:        types.MetricValue{Name: "successRate", Value: clampRate(before.SuccessRate * estimatedGain)},
	}

	l.tracker.AppendOptimization(ctx, agentID, rec)
	logging.Ledger("recorded %s optimization for %s: successRate %.2f -> est. %.2f",
		mutationType, agentID, rec.Before.Value, rec.After.Value)

	if l.audit != nil {
		if err := l.audit.Append(logging.AuditEvent{
			EventType: logging.AuditOptimizationRecorded,
			AgentID:   agentID,
			Message:   rec.Description,
			Success:   true,
		}); err != nil {
			logging.Get(logging.CategoryLedger).Warn("audit append failed: %v", err)
		}
	}
	return rec
}

// CanOptimize reports whether the agent is clear of its cooldown: true if
// never optimized, or if the cooldown has fully elapsed.
func (l *Ledger) CanOptimize(ctx context.Context, agentID string) bool {
	m, exists := l.tracker.Get(ctx, agentID)
	if !exists || m.LastOptimizedAt == nil {
		return true
	}
	return l.now().Sub(*m.LastOptimizedAt) >= l.cooldown
}

// History returns the agent's optimization records, oldest first.
func (l *Ledger) History(ctx context.Context, agentID string) []types.OptimizationRecord {
	m, _ := l.tracker.Get(ctx, agentID)
	return m.OptimizationHistory
}

func clampRate(v float64) float64 {
	if v > 1.0 {
		return 1.0
	}
	if v < 0 {
		return 0
	}
	return v
}
