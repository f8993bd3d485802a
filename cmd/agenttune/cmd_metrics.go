package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// metricsCmd dumps raw tracked metrics as JSON.
var metricsCmd = &cobra.Command{
	Use:   "metrics [agent-id]",
	Short: "Dump tracked metrics as JSON",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runMetrics,
}

func runMetrics(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	s, err := buildStack(ctx, false, nil)
	if err != nil {
		return err
	}
	defer s.Close()

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	if len(args) == 1 {
		m, exists := s.tracker.Get(ctx, args[0])
		if !exists {
			return fmt.Errorf("no telemetry for agent %s", args[0])
		}
		return enc.Encode(m)
	}
	return enc.Encode(s.tracker.All(ctx))
}
