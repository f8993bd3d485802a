package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"agenttune/internal/bus"
	"agenttune/internal/suggest"
	"agenttune/internal/telemetry"
	"agenttune/internal/types"
)

// simulateCmd exercises the full control loop against a synthetic agent,
// without needing an LLM API key: the generator is a scripted stand-in.
var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run a scripted end-to-end optimization cycle",
	Long: `Feeds a synthetic degraded agent through the whole loop: telemetry
ingestion, policy trigger, suggestion, mutation, backup, verification, and
ledger record. Useful for smoke-testing a workspace.`,
	RunE: runSimulate,
}

// scriptedGenerator replaces the LLM for simulation runs.
type scriptedGenerator struct{}

func (scriptedGenerator) Generate(ctx context.Context, req suggest.Request) ([]types.Suggestion, error) {
	return []types.Suggestion{{
		MutationType:            types.MutationCode,
		Description:             "replace sequential page fetches with a single batched call",
		CurrentImplementation:   "fetch pages one at a time",
		SuggestedImplementation: "fetch all pages in one batched request",
		Confidence:              0.9,
		Priority:                types.PriorityHigh,
		ExpectedImprovement:     "lower response time",
	}}, nil
}

func runSimulate(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	s, err := buildStack(ctx, false, scriptedGenerator{})
	if err != nil {
		return err
	}
	defer s.Close()
	s.optimizer.Start(ctx)

	const agentID = "simulated-agent"
	if err := s.safety.WriteArtifact(agentID, "fetch pages one at a time\n"); err != nil {
		return err
	}

	done := make(chan bus.Event, 1)
	failed := make(chan bus.Event, 1)
	s.router.Subscribe(bus.TopicImprovementCompleted, func(e bus.Event) {
		select {
		case done <- e:
		default:
		}
	})
	s.router.Subscribe(bus.TopicImprovementError, func(e bus.Event) {
		select {
		case failed <- e:
		default:
		}
	})

	fmt.Println("publishing degraded telemetry...")
	s.router.Publish(bus.TopicMetricsUpdated, bus.MetricsUpdated{
		AgentID:   agentID,
		ErrorRate: telemetry.Float64(0.4),
	})

	window, _ := s.cfg.VerificationWindow()
	select {
	case e := <-done:
		payload := e.Payload.(bus.ImprovementCompleted)
		fmt.Printf("cycle completed: %d change(s) applied\n", payload.AppliedChangeCount)
	case e := <-failed:
		payload := e.Payload.(bus.ImprovementError)
		return fmt.Errorf("cycle failed: %s", payload.Err)
	case <-time.After(window + 30*time.Second):
		return fmt.Errorf("timed out waiting for the cycle to finish")
	}

	mutated, err := s.safety.ReadArtifact(agentID)
	if err != nil {
		return err
	}
	fmt.Printf("artifact now:\n%s", mutated)
	fmt.Printf("backups: %d, ledger entries: %d\n",
		s.safety.BackupCount(agentID), len(s.ledger.History(ctx, agentID)))
	return nil
}
