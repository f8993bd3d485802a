// Package policy implements the optimization decision engine: it combines
// current metrics, trend classification, and a per-agent cooldown into a
// should-optimize verdict and a set of improvement goals.
package policy

import (
	"context"
	"fmt"
	"time"

	"agenttune/internal/logging"
	"agenttune/internal/telemetry"
	"agenttune/internal/trend"
	"agenttune/internal/types"
)

// Thresholds holds the tunable trigger constants. These are configuration,
// not derived values; tests pin them exactly.
type Thresholds struct {
	ErrorRate         float64       // optimize if exceeded
	SuccessRate       float64       // optimize if below
	Feedback          float64       // optimize if below
	ImmediateFeedback float64       // immediate trigger if below
	Cooldown          time.Duration // minimum gap between cycles per agent
}

// DefaultThresholds mirror the config defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{
		ErrorRate:         0.15,
		SuccessRate:       0.8,
		Feedback:          3.5,
		ImmediateFeedback: 3.0,
		Cooldown:          24 * time.Hour,
	}
}

// Engine evaluates agents against the optimization policy.
type Engine struct {
	tracker    *telemetry.Tracker
	thresholds Thresholds
	now        func() time.Time
}

// NewEngine creates a policy engine over the tracker.
func NewEngine(tracker *telemetry.Tracker, thresholds Thresholds) *Engine {
	return &Engine{
		tracker:    tracker,
		thresholds: thresholds,
		now:        time.Now,
	}
}

// SetClock overrides the engine's clock. Test hook.
func (e *Engine) SetClock(now func() time.Time) { e.now = now }

// ShouldOptimize reports whether agentID currently warrants an optimization
// cycle, with human-readable reasons for logging and reports.
func (e *Engine) ShouldOptimize(ctx context.Context, agentID string) (bool, []string) {
	m, exists := e.tracker.Get(ctx, agentID)
	if !exists {
		return false, nil
	}

	if !e.cooldownElapsed(m) {
		logging.PolicyDebug("agent %s in cooldown (last optimized %s)", agentID, m.LastOptimizedAt)
		return false, []string{"cooldown active"}
	}

	var reasons []string
	if m.ErrorRate > e.thresholds.ErrorRate {
		reasons = append(reasons, fmt.Sprintf("errorRate %.2f > %.2f", m.ErrorRate, e.thresholds.ErrorRate))
	}
	if m.SuccessRate < e.thresholds.SuccessRate {
		reasons = append(reasons, fmt.Sprintf("successRate %.2f < %.2f", m.SuccessRate, e.thresholds.SuccessRate))
	}
	if m.UserFeedbackScore < e.thresholds.Feedback {
		reasons = append(reasons, fmt.Sprintf("feedback %.1f < %.1f", m.UserFeedbackScore, e.thresholds.Feedback))
	}
	if trend.Classify(m.ResponseTimes) == types.TrendIncreasing {
		reasons = append(reasons, "response time trending up")
	}

	if len(reasons) > 0 {
		logging.Policy("agent %s should optimize: %v", agentID, reasons)
		return true, reasons
	}
	return false, nil
}

// DetermineGoals derives improvement goals from the agent's current metrics.
func (e *Engine) DetermineGoals(ctx context.Context, agentID string) types.GoalSet {
	m, exists := e.tracker.Get(ctx, agentID)
	if !exists {
		// Conservative default for agents we know nothing about.
		return types.NewGoalSet(types.GoalPerformance, types.GoalErrorHandling, types.GoalReadability)
	}

	goals := types.NewGoalSet()
	if m.ErrorRate > 0.1 {
		goals.Add(types.GoalErrorHandling)
	}
	if trend.Classify(m.ResponseTimes) == types.TrendIncreasing {
		goals.Add(types.GoalResponseTime, types.GoalPerformance)
	}
	if trend.Classify(m.TokenUsage) == types.TrendIncreasing {
		goals.Add(types.GoalTokenEfficiency)
	}
	if m.UserFeedbackScore < 4 {
		goals.Add(types.GoalUserExperience, types.GoalReadability)
	}

	if goals.Empty() {
		goals.Add(types.GoalPerformance, types.GoalReadability)
	}
	logging.PolicyDebug("goals for agent %s: %v", agentID, goals.Slice())
	return goals
}

// ImmediateGoals is the fixed goal set used when low feedback triggers an
// optimization directly, bypassing the periodic evaluation path.
func ImmediateGoals() types.GoalSet {
	return types.NewGoalSet(types.GoalUserExperience, types.GoalErrorHandling, types.GoalReadability)
}

// IsImmediateTrigger reports whether a feedback score warrants an immediate
// optimization request (cooldown permitting).
func (e *Engine) IsImmediateTrigger(score float64) bool {
	return score < e.thresholds.ImmediateFeedback
}

// CooldownElapsed reports whether the agent is clear of its cooldown.
// "Never optimized" counts as elapsed.
func (e *Engine) CooldownElapsed(ctx context.Context, agentID string) bool {
	m, exists := e.tracker.Get(ctx, agentID)
	if !exists {
		return true
	}
	return e.cooldownElapsed(m)
}

func (e *Engine) cooldownElapsed(m *types.AgentMetrics) bool {
	if m.LastOptimizedAt == nil {
		return true
	}
	return e.now().Sub(*m.LastOptimizedAt) >= e.thresholds.Cooldown
}

// Analyze builds a per-agent analysis summary for reports and the
// PERFORMANCE_ANALYSIS_COMPLETED payload.
func (e *Engine) Analyze(ctx context.Context, agentID string) types.AgentAnalysis {
	m, _ := e.tracker.Get(ctx, agentID)
	should, reasons := e.ShouldOptimize(ctx, agentID)

	a := types.AgentAnalysis{
		AgentID:           agentID,
		SuccessRate:       m.SuccessRate,
		ErrorRate:         m.ErrorRate,
		UserFeedbackScore: m.UserFeedbackScore,
		AvgResponseTimeMS: mean(m.ResponseTimes),
		AvgTokenUsage:     mean(m.TokenUsage),
		ResponseTimeTrend: trend.Classify(m.ResponseTimes),
		TokenUsageTrend:   trend.Classify(m.TokenUsage),
		ShouldOptimize:    should,
		Reasons:           reasons,
		LastOptimizedAt:   m.LastOptimizedAt,
		OptimizationCount: len(m.OptimizationHistory),
	}
	if should {
		a.Goals = e.DetermineGoals(ctx, agentID).Slice()
	}
	return a
}

func mean(series []float64) float64 {
	if len(series) == 0 {
		return 0
	}
	var sum float64
	for _, v := range series {
		sum += v
	}
	return sum / float64(len(series))
}
