package ledger

import (
	"context"
	"fmt"
	"testing"
	"time"

	"agenttune/internal/telemetry"
	"agenttune/internal/types"
)

type memStore struct {
	table map[string]*types.AgentMetrics
}

func (s *memStore) Load(ctx context.Context) (map[string]*types.AgentMetrics, error) {
	if s.table == nil {
		s.table = make(map[string]*types.AgentMetrics)
	}
	return s.table, nil
}

func (s *memStore) Put(ctx context.Context, m *types.AgentMetrics) error {
	s.table[m.AgentID] = m.Clone()
	return nil
}

func (s *memStore) Close() error { return nil }

func newLedger(t *testing.T) (*Ledger, *telemetry.Tracker) {
	t.Helper()
	tr, err := telemetry.NewTracker(context.Background(), &memStore{table: map[string]*types.AgentMetrics{}}, nil)
	if err != nil {
		t.Fatalf("NewTracker: %v", err)
	}
	return New(tr, nil, 24*time.Hour), tr
}

func TestRecord_BuildsFromFirstChange(t *testing.T) {
	l, tr := newLedger(t)
	ctx := context.Background()

	tr.RecordMetrics(ctx, "A", telemetry.Update{SuccessRate: telemetry.Float64(0.8)})
	before, _ := tr.Get(ctx, "A")

	rec := l.Record(ctx, "A", []types.AppliedChange{
		{MutationType: types.MutationPrompt, Description: "tighten instructions"},
		{MutationType: types.MutationCode, Description: "second change"},
	}, before)

	if rec.MutationType != types.MutationPrompt {
		t.Errorf("MutationType = %s, want prompt (from first change)", rec.MutationType)
	}
	if rec.Before.Name != "successRate" || rec.Before.Value != 0.8 {
		t.Errorf("Before = %+v, want successRate 0.8", rec.Before)
	}
}

func TestRecord_EmptyChangesDefaultsToCode(t *testing.T) {
	l, tr := newLedger(t)
	ctx := context.Background()

	before, _ := tr.Get(ctx, "A")
	rec := l.Record(ctx, "A", nil, before)
	if rec.MutationType != types.MutationCode {
		t.Errorf("MutationType = %s, want code for empty changes", rec.MutationType)
	}
}

func TestRecord_AfterIsOptimisticTenPercent(t *testing.T) {
	l, tr := newLedger(t)
	ctx := context.Background()

	tr.RecordMetrics(ctx, "A", telemetry.Update{SuccessRate: telemetry.Float64(0.5)})
	before, _ := tr.Get(ctx, "A")

	rec := l.Record(ctx, "A", nil, before)
	if diff := rec.After.Value - 0.55; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("After = %v, want 0.55 (+10%% estimate)", rec.After.Value)
	}
}

func TestRecord_AfterClampedToOne(t *testing.T) {
	l, tr := newLedger(t)
	ctx := context.Background()

	tr.RecordMetrics(ctx, "A", telemetry.Update{SuccessRate: telemetry.Float64(0.99)})
	before, _ := tr.Get(ctx, "A")

	rec := l.Record(ctx, "A", nil, before)
	if rec.After.Value != 1.0 {
		t.Errorf("After = %v, want clamped to 1.0", rec.After.Value)
	}
}

func TestRecord_UpdatesLastOptimizedAt(t *testing.T) {
	l, tr := newLedger(t)
	ctx := context.Background()

	fixed := time.Date(2026, 8, 20, 9, 0, 0, 0, time.UTC)
	l.SetClock(func() time.Time { return fixed })

	before, _ := tr.Get(ctx, "A")
	l.Record(ctx, "A", nil, before)

	m, _ := tr.Get(ctx, "A")
	if m.LastOptimizedAt == nil || !m.LastOptimizedAt.Equal(fixed) {
		t.Errorf("LastOptimizedAt = %v, want %v", m.LastOptimizedAt, fixed)
	}
}

func TestHistory_BoundedFIFOAfterEleventhRecord(t *testing.T) {
	l, tr := newLedger(t)
	ctx := context.Background()

	before, _ := tr.Get(ctx, "A")
	for i := 0; i < types.MaxHistoryLen+1; i++ {
		l.Record(ctx, "A", []types.AppliedChange{
			{MutationType: types.MutationCode, Description: fmt.Sprintf("change-%d", i)},
		}, before)
	}

	history := l.History(ctx, "A")
	if len(history) != types.MaxHistoryLen {
		t.Fatalf("history len = %d, want %d", len(history), types.MaxHistoryLen)
	}
	if got := history[0].Description; got != "change-1 (1 changes)" {
		t.Errorf("oldest record = %q, want change-1 (oldest evicted first)", got)
	}
}

func TestCanOptimize(t *testing.T) {
	l, tr := newLedger(t)
	ctx := context.Background()

	if !l.CanOptimize(ctx, "never-optimized") {
		t.Error("never-optimized agent must be allowed")
	}

	before, _ := tr.Get(ctx, "A")
	l.Record(ctx, "A", nil, before)

	if l.CanOptimize(ctx, "A") {
		t.Error("freshly optimized agent must be in cooldown")
	}

	// Advance the clock past the cooldown.
	l.SetClock(func() time.Time { return time.Now().Add(25 * time.Hour) })
	if !l.CanOptimize(ctx, "A") {
		t.Error("agent must be allowed after cooldown elapses")
	}
}
