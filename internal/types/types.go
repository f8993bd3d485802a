// Package types defines the shared data model for agenttune: per-agent
// telemetry, optimization records, mutation suggestions, and improvement goals.
// Keeping these here avoids import cycles between the policy, mutation, and
// storage layers.
package types

import (
	"sort"
	"time"
)

// =============================================================================
// TREND CLASSIFICATION
// =============================================================================

// Trend is a coarse classification of a metric's recent direction of change.
type Trend string

const (
	TrendIncreasing Trend = "increasing"
	TrendDecreasing Trend = "decreasing"
	TrendStable     Trend = "stable"
)

// =============================================================================
// MUTATION MODEL
// =============================================================================

// MutationType identifies what kind of artifact a mutation targets.
type MutationType string

const (
	MutationPrompt        MutationType = "prompt"
	MutationCode          MutationType = "code"
	MutationConfiguration MutationType = "configuration"
)

// Priority ranks how urgently a suggestion should be considered.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Suggestion is a candidate source mutation produced by a suggestion
// generator. A suggestion without both implementation fragments is inert
// and must be discarded by the applier.
type Suggestion struct {
	MutationType            MutationType `json:"mutation_type"`
	Description             string       `json:"description"`
	CurrentImplementation   string       `json:"current_implementation"`
	SuggestedImplementation string       `json:"suggested_implementation"`
	Confidence              float64      `json:"confidence"` // [0,1]
	Priority                Priority     `json:"priority"`
	ExpectedImprovement     string       `json:"expected_improvement,omitempty"`
}

// Inert reports whether the suggestion lacks the fragments needed to apply it.
func (s Suggestion) Inert() bool {
	return s.CurrentImplementation == "" || s.SuggestedImplementation == ""
}

// AppliedChange records one successful substitution made by the applier.
type AppliedChange struct {
	MutationType        MutationType `json:"mutation_type"`
	Description         string       `json:"description"`
	ExpectedImprovement string       `json:"expected_improvement,omitempty"`
}

// =============================================================================
// IMPROVEMENT GOALS
// =============================================================================

// ImprovementGoal names one axis an optimization cycle should improve.
type ImprovementGoal string

const (
	GoalPerformance     ImprovementGoal = "performance"
	GoalReadability     ImprovementGoal = "readability"
	GoalErrorHandling   ImprovementGoal = "errorHandling"
	GoalTokenEfficiency ImprovementGoal = "tokenEfficiency"
	GoalResponseTime    ImprovementGoal = "responseTime"
	GoalUserExperience  ImprovementGoal = "userExperience"
	GoalCodeQuality     ImprovementGoal = "codeQuality"
	GoalTestCoverage    ImprovementGoal = "testCoverage"
)

// GoalSet is an unordered set of improvement goals. Multiple goals may be
// active for one optimization cycle.
type GoalSet map[ImprovementGoal]bool

// NewGoalSet builds a set from the given goals.
func NewGoalSet(goals ...ImprovementGoal) GoalSet {
	gs := make(GoalSet, len(goals))
	for _, g := range goals {
		gs[g] = true
	}
	return gs
}

// Add inserts goals into the set.
func (gs GoalSet) Add(goals ...ImprovementGoal) {
	for _, g := range goals {
		gs[g] = true
	}
}

// Has reports membership.
func (gs GoalSet) Has(g ImprovementGoal) bool { return gs[g] }

// Empty reports whether no goals are active.
func (gs GoalSet) Empty() bool { return len(gs) == 0 }

// Slice returns the goals in deterministic (sorted) order, for prompts,
// logs, and stable test output.
func (gs GoalSet) Slice() []ImprovementGoal {
	out := make([]ImprovementGoal, 0, len(gs))
	for g := range gs {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// =============================================================================
// AGENT METRICS
// =============================================================================

// Series bounds. ResponseTimes and TokenUsage keep the most recent
// MaxSeriesLen samples; OptimizationHistory keeps the most recent
// MaxHistoryLen records. Oldest entries are evicted first.
const (
	MaxSeriesLen  = 100
	MaxHistoryLen = 10
)

// MetricValue is a named scalar snapshot used in optimization records.
type MetricValue struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

// OptimizationRecord is one entry in an agent's optimization history.
// The After value is an estimate recorded at apply time, not a re-measurement.
type OptimizationRecord struct {
	Timestamp    time.Time    `json:"timestamp"`
	MutationType MutationType `json:"mutation_type"`
	Description  string       `json:"description"`
	Before       MetricValue  `json:"before"`
	After        MetricValue  `json:"after"`
}

// AgentMetrics holds all mutable telemetry state for one monitored agent.
// Response times are milliseconds; token usage is tokens per request.
type AgentMetrics struct {
	AgentID             string               `json:"agent_id"`
	ResponseTimes       []float64            `json:"response_times"`
	TokenUsage          []float64            `json:"token_usage"`
	SuccessRate         float64              `json:"success_rate"`        // [0,1]
	ErrorRate           float64              `json:"error_rate"`          // [0,1]
	UserFeedbackScore   float64              `json:"user_feedback_score"` // [0,5]
	LastOptimizedAt     *time.Time           `json:"last_optimized_at,omitempty"`
	OptimizationHistory []OptimizationRecord `json:"optimization_history"`
}

// NewAgentMetrics returns the lazily-initialized default state for an agent
// that has never reported telemetry: optimistic rates and full feedback score.
func NewAgentMetrics(agentID string) *AgentMetrics {
	return &AgentMetrics{
		AgentID:             agentID,
		ResponseTimes:       []float64{},
		TokenUsage:          []float64{},
		SuccessRate:         1.0,
		ErrorRate:           0.0,
		UserFeedbackScore:   5.0,
		OptimizationHistory: []OptimizationRecord{},
	}
}

// Clone returns a deep copy so callers can hand out snapshots without
// exposing the store's internal state.
func (m *AgentMetrics) Clone() *AgentMetrics {
	if m == nil {
		return nil
	}
	cp := *m
	cp.ResponseTimes = append([]float64(nil), m.ResponseTimes...)
	cp.TokenUsage = append([]float64(nil), m.TokenUsage...)
	cp.OptimizationHistory = append([]OptimizationRecord(nil), m.OptimizationHistory...)
	if m.LastOptimizedAt != nil {
		t := *m.LastOptimizedAt
		cp.LastOptimizedAt = &t
	}
	return &cp
}

// =============================================================================
// ANALYSIS REPORTS
// =============================================================================

// AgentAnalysis summarizes one agent's current health for analysis consumers.
type AgentAnalysis struct {
	AgentID           string            `json:"agent_id"`
	SuccessRate       float64           `json:"success_rate"`
	ErrorRate         float64           `json:"error_rate"`
	UserFeedbackScore float64           `json:"user_feedback_score"`
	AvgResponseTimeMS float64           `json:"avg_response_time_ms"`
	AvgTokenUsage     float64           `json:"avg_token_usage"`
	ResponseTimeTrend Trend             `json:"response_time_trend"`
	TokenUsageTrend   Trend             `json:"token_usage_trend"`
	ShouldOptimize    bool              `json:"should_optimize"`
	Reasons           []string          `json:"reasons,omitempty"`
	Goals             []ImprovementGoal `json:"goals,omitempty"`
	LastOptimizedAt   *time.Time        `json:"last_optimized_at,omitempty"`
	OptimizationCount int               `json:"optimization_count"`
}

// AnalysisReport is the payload of a completed performance analysis.
type AnalysisReport struct {
	GeneratedAt time.Time       `json:"generated_at"`
	Agents      []AgentAnalysis `json:"agents"`
}
