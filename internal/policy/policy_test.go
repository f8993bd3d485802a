package policy

import (
	"context"
	"testing"
	"time"

	"agenttune/internal/telemetry"
	"agenttune/internal/types"
)

// memStore is a minimal in-memory MetricsStore for policy tests.
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

func newEngine(t *testing.T) (*Engine, *telemetry.Tracker) {
	t.Helper()
	tr, err := telemetry.NewTracker(context.Background(), &memStore{table: map[string]*types.AgentMetrics{}}, nil)
	if err != nil {
		t.Fatalf("NewTracker: %v", err)
	}
	return NewEngine(tr, DefaultThresholds()), tr
}

func TestShouldOptimize_NoMetricsIsFalse(t *testing.T) {
	e, _ := newEngine(t)
	if should, _ := e.ShouldOptimize(context.Background(), "ghost"); should {
		t.Error("agent with no metrics must not optimize")
	}
}

func TestShouldOptimize_HighErrorRateNeverOptimized(t *testing.T) {
	// Spec scenario: errorRate=0.2, successRate=0.9, never optimized.
	e, tr := newEngine(t)
	ctx := context.Background()

	tr.RecordMetrics(ctx, "A", telemetry.Update{
		ErrorRate:   telemetry.Float64(0.2),
		SuccessRate: telemetry.Float64(0.9),
	})

	should, reasons := e.ShouldOptimize(ctx, "A")
	if !should {
		t.Fatalf("ShouldOptimize = false, want true (reasons=%v)", reasons)
	}

	goals := e.DetermineGoals(ctx, "A")
	if !goals.Has(types.GoalErrorHandling) {
		t.Errorf("goals = %v, want errorHandling included (errorRate > 0.1)", goals.Slice())
	}
}

func TestShouldOptimize_CooldownSuppressesAllTriggers(t *testing.T) {
	e, tr := newEngine(t)
	ctx := context.Background()

	// All thresholds exceeded.
	tr.RecordMetrics(ctx, "A", telemetry.Update{
		ErrorRate:   telemetry.Float64(0.5),
		SuccessRate: telemetry.Float64(0.1),
	})
	tr.RecordFeedback(ctx, "A", 1.0, "")

	// Optimized one hour ago; cooldown is 24h.
	tr.AppendOptimization(ctx, "A", types.OptimizationRecord{Timestamp: time.Now().Add(-time.Hour)})

	if should, _ := e.ShouldOptimize(ctx, "A"); should {
		t.Error("cooldown must suppress optimization even when all thresholds exceeded")
	}
}

func TestShouldOptimize_CooldownElapsedAllowsTriggers(t *testing.T) {
	e, tr := newEngine(t)
	ctx := context.Background()

	tr.RecordMetrics(ctx, "A", telemetry.Update{ErrorRate: telemetry.Float64(0.5)})
	tr.AppendOptimization(ctx, "A", types.OptimizationRecord{Timestamp: time.Now().Add(-25 * time.Hour)})

	if should, _ := e.ShouldOptimize(ctx, "A"); !should {
		t.Error("expected optimization once cooldown elapsed")
	}
}

func TestShouldOptimize_EachThresholdAlone(t *testing.T) {
	cases := []struct {
		name  string
		setup func(ctx context.Context, tr *telemetry.Tracker)
		want  bool
	}{
		{
			name: "error rate above threshold",
			setup: func(ctx context.Context, tr *telemetry.Tracker) {
				tr.RecordMetrics(ctx, "A", telemetry.Update{ErrorRate: telemetry.Float64(0.16)})
			},
			want: true,
		},
		{
			name: "error rate at threshold is not a trigger",
			setup: func(ctx context.Context, tr *telemetry.Tracker) {
				tr.RecordMetrics(ctx, "A", telemetry.Update{ErrorRate: telemetry.Float64(0.15)})
			},
			want: false,
		},
		{
			name: "success rate below threshold",
			setup: func(ctx context.Context, tr *telemetry.Tracker) {
				tr.RecordMetrics(ctx, "A", telemetry.Update{SuccessRate: telemetry.Float64(0.79)})
			},
			want: true,
		},
		{
			name: "low feedback score",
			setup: func(ctx context.Context, tr *telemetry.Tracker) {
				tr.RecordFeedback(ctx, "A", 3.4, "")
			},
			want: true,
		},
		{
			name: "rising response times",
			setup: func(ctx context.Context, tr *telemetry.Tracker) {
				for _, rt := range []float64{100, 150, 200, 250, 300} {
					tr.RecordMetrics(ctx, "A", telemetry.Update{ResponseTimeMS: telemetry.Float64(rt)})
				}
			},
			want: true,
		},
		{
			name: "healthy metrics",
			setup: func(ctx context.Context, tr *telemetry.Tracker) {
				tr.RecordMetrics(ctx, "A", telemetry.Update{
					SuccessRate: telemetry.Float64(0.95),
					ErrorRate:   telemetry.Float64(0.01),
				})
			},
			want: false,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e, tr := newEngine(t)
			ctx := context.Background()
			tc.setup(ctx, tr)
			if should, reasons := e.ShouldOptimize(ctx, "A"); should != tc.want {
				t.Errorf("ShouldOptimize = %v (reasons=%v), want %v", should, reasons, tc.want)
			}
		})
	}
}

func TestDetermineGoals_NoMetricsConservativeDefault(t *testing.T) {
	e, _ := newEngine(t)
	goals := e.DetermineGoals(context.Background(), "ghost")

	for _, g := range []types.ImprovementGoal{types.GoalPerformance, types.GoalErrorHandling, types.GoalReadability} {
		if !goals.Has(g) {
			t.Errorf("default goals missing %s", g)
		}
	}
}

func TestDetermineGoals_Accumulation(t *testing.T) {
	e, tr := newEngine(t)
	ctx := context.Background()

	// Rising token usage and low feedback.
	for _, tu := range []float64{100, 200, 300, 400, 500} {
		tr.RecordMetrics(ctx, "A", telemetry.Update{TokenUsage: telemetry.Float64(tu)})
	}
	tr.RecordFeedback(ctx, "A", 3.9, "")

	goals := e.DetermineGoals(ctx, "A")
	for _, g := range []types.ImprovementGoal{types.GoalTokenEfficiency, types.GoalUserExperience, types.GoalReadability} {
		if !goals.Has(g) {
			t.Errorf("goals = %v, missing %s", goals.Slice(), g)
		}
	}
	if goals.Has(types.GoalErrorHandling) {
		t.Errorf("errorHandling should not be set for errorRate 0")
	}
}

func TestDetermineGoals_EmptyAccumulationFallsBack(t *testing.T) {
	e, tr := newEngine(t)
	ctx := context.Background()

	// Healthy agent: nothing accumulates.
	tr.RecordMetrics(ctx, "A", telemetry.Update{
		SuccessRate: telemetry.Float64(0.99),
		ErrorRate:   telemetry.Float64(0.0),
	})

	goals := e.DetermineGoals(ctx, "A")
	if !goals.Has(types.GoalPerformance) || !goals.Has(types.GoalReadability) {
		t.Errorf("fallback goals = %v, want {performance, readability}", goals.Slice())
	}
	if len(goals) != 2 {
		t.Errorf("fallback goals = %v, want exactly 2", goals.Slice())
	}
}

func TestImmediateTrigger(t *testing.T) {
	e, _ := newEngine(t)

	if !e.IsImmediateTrigger(2.9) {
		t.Error("score 2.9 must be an immediate trigger")
	}
	if e.IsImmediateTrigger(3.0) {
		t.Error("score 3.0 must not be an immediate trigger")
	}

	goals := ImmediateGoals()
	for _, g := range []types.ImprovementGoal{types.GoalUserExperience, types.GoalErrorHandling, types.GoalReadability} {
		if !goals.Has(g) {
			t.Errorf("immediate goals missing %s", g)
		}
	}
	if len(goals) != 3 {
		t.Errorf("immediate goals = %v, want exactly 3", goals.Slice())
	}
}

func TestAnalyze(t *testing.T) {
	e, tr := newEngine(t)
	ctx := context.Background()

	for _, rt := range []float64{100, 150, 200, 250, 300} {
		tr.RecordMetrics(ctx, "A", telemetry.Update{ResponseTimeMS: telemetry.Float64(rt)})
	}

	a := e.Analyze(ctx, "A")
	if a.ResponseTimeTrend != types.TrendIncreasing {
		t.Errorf("ResponseTimeTrend = %s, want increasing", a.ResponseTimeTrend)
	}
	if a.AvgResponseTimeMS != 200 {
		t.Errorf("AvgResponseTimeMS = %v, want 200", a.AvgResponseTimeMS)
	}
	if !a.ShouldOptimize {
		t.Error("rising response times should flag optimization")
	}
	if len(a.Goals) == 0 {
		t.Error("flagged agent should carry goals")
	}
}
