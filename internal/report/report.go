// Package report renders audit reports over the telemetry and optimization
// state as Markdown. Reports are written under the workspace reports/
// directory; callers decide whether to render them for a terminal.
package report

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"agenttune/internal/ledger"
	"agenttune/internal/logging"
	"agenttune/internal/policy"
	"agenttune/internal/telemetry"
	"agenttune/internal/types"
)

// Writer generates and stores reports.
type Writer struct {
	tracker *telemetry.Tracker
	engine  *policy.Engine
	ledger  *ledger.Ledger
	dir     string
}

// New creates a report writer. dir is the workspace reports directory and is
// created if missing.
func New(tracker *telemetry.Tracker, engine *policy.Engine, ldg *ledger.Ledger, dir string) (*Writer, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create reports dir: %w", err)
	}
	return &Writer{tracker: tracker, engine: engine, ledger: ldg, dir: dir}, nil
}

// System renders a population-wide report covering every known agent.
func (w *Writer) System(ctx context.Context) (string, error) {
	ids := w.tracker.AgentIDs(ctx)

	var sb strings.Builder
	sb.WriteString("# Agent Performance Report\n\n")
	fmt.Fprintf(&sb, "Generated: %s\n\n", time.Now().Format(time.RFC3339))
	fmt.Fprintf(&sb, "Agents tracked: %d\n\n", len(ids))

	if len(ids) == 0 {
		sb.WriteString("No telemetry recorded yet.\n")
		return sb.String(), nil
	}

	sb.WriteString("| Agent | Success | Errors | Feedback | RT Trend | Tokens Trend | Optimize |\n")
	sb.WriteString("|-------|---------|--------|----------|----------|--------------|----------|\n")
	flagged := 0
	for _, id := range ids {
		a := w.engine.Analyze(ctx, id)
		mark := ""
		if a.ShouldOptimize {
			mark = "yes"
			flagged++
		}
		fmt.Fprintf(&sb, "| %s | %.2f | %.2f | %.1f | %s | %s | %s |\n",
			a.AgentID, a.SuccessRate, a.ErrorRate, a.UserFeedbackScore,
			a.ResponseTimeTrend, a.TokenUsageTrend, mark)
	}
	fmt.Fprintf(&sb, "\n%d of %d agents flagged for optimization.\n", flagged, len(ids))

	for _, id := range ids {
		a := w.engine.Analyze(ctx, id)
		if !a.ShouldOptimize {
			continue
		}
		fmt.Fprintf(&sb, "\n## %s\n\n", id)
		for _, reason := range a.Reasons {
			fmt.Fprintf(&sb, "- %s\n", reason)
		}
		fmt.Fprintf(&sb, "- suggested goals: %s\n", joinGoals(a.Goals))
	}

	return sb.String(), nil
}

// Agent renders a detailed single-agent report including its optimization
// history.
func (w *Writer) Agent(ctx context.Context, agentID string) (string, error) {
	m, exists := w.tracker.Get(ctx, agentID)
	if !exists {
		return "", fmt.Errorf("no telemetry for agent %s", agentID)
	}
	a := w.engine.Analyze(ctx, agentID)

	var sb strings.Builder
	fmt.Fprintf(&sb, "# Agent Report: %s\n\n", agentID)
	fmt.Fprintf(&sb, "Generated: %s\n\n", time.Now().Format(time.RFC3339))

	sb.WriteString("## Metrics\n\n")
	fmt.Fprintf(&sb, "- success rate: %.2f\n", m.SuccessRate)
	fmt.Fprintf(&sb, "- error rate: %.2f\n", m.ErrorRate)
	fmt.Fprintf(&sb, "- user feedback: %.1f/5\n", m.UserFeedbackScore)
	fmt.Fprintf(&sb, "- response time trend: %s (avg %.0f ms over %d samples)\n",
		a.ResponseTimeTrend, a.AvgResponseTimeMS, len(m.ResponseTimes))
	fmt.Fprintf(&sb, "- token usage trend: %s (avg %.0f over %d samples)\n",
		a.TokenUsageTrend, a.AvgTokenUsage, len(m.TokenUsage))
	if m.LastOptimizedAt != nil {
		fmt.Fprintf(&sb, "- last optimized: %s\n", m.LastOptimizedAt.Format(time.RFC3339))
	}

	sb.WriteString("\n## Status\n\n")
	if a.ShouldOptimize {
		sb.WriteString("Optimization recommended:\n\n")
		for _, reason := range a.Reasons {
			fmt.Fprintf(&sb, "- %s\n", reason)
		}
		fmt.Fprintf(&sb, "- suggested goals: %s\n", joinGoals(a.Goals))
	} else {
		sb.WriteString("Within thresholds, no optimization indicated.\n")
	}

	history := w.ledger.History(ctx, agentID)
	sb.WriteString("\n## Optimization History\n\n")
	if len(history) == 0 {
		sb.WriteString("None recorded.\n")
	} else {
		for i := len(history) - 1; i >= 0; i-- {
			rec := history[i]
			fmt.Fprintf(&sb, "- %s [%s] %s (success rate %.2f -> %.2f)\n",
				rec.Timestamp.Format("2006-01-02 15:04"), rec.MutationType,
				rec.Description, rec.Before.Value, rec.After.Value)
		}
	}

	return sb.String(), nil
}

// Save writes a report to the reports directory with a timestamped name and
// returns the path.
func (w *Writer) Save(name, markdown string) (string, error) {
	filename := fmt.Sprintf("%s-%s.md", name, time.Now().Format("20060102-150405"))
	path := filepath.Join(w.dir, filename)
	if err := os.WriteFile(path, []byte(markdown), 0644); err != nil {
		return "", fmt.Errorf("failed to write report: %w", err)
	}
	logging.Report("wrote report %s", path)
	return path, nil
}

func joinGoals(goals []types.ImprovementGoal) string {
	parts := make([]string, len(goals))
	for i, g := range goals {
		parts[i] = string(g)
	}
	return strings.Join(parts, ", ")
}
