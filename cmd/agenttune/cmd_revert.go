package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"agenttune/internal/safety"
)

// revertCmd manually rolls an agent back to its most recent backup.
var revertCmd = &cobra.Command{
	Use:   "revert <agent-id>",
	Short: "Restore an agent's implementation from its most recent backup",
	Long: `Restores the agent's implementation artifact from the newest backup
taken before a mutation. Automatic reverts happen when verification detects
a regression; this command covers the manual case.`,
	Args: cobra.ExactArgs(1),
	RunE: runRevert,
}

func runRevert(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	agentID := args[0]

	s, err := buildStack(ctx, false, nil)
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.safety.Revert(ctx, agentID); err != nil {
		if errors.Is(err, safety.ErrNoBackups) {
			return fmt.Errorf("agent %s has no backups to revert to", agentID)
		}
		return err
	}
	fmt.Printf("reverted %s to its most recent backup (%d backups retained)\n",
		agentID, s.safety.BackupCount(agentID))
	return nil
}
