package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"

	"agenttune/internal/report"
)

var reportSave bool

// reportCmd renders an audit report to the terminal.
var reportCmd = &cobra.Command{
	Use:   "report [agent-id]",
	Short: "Render a performance and optimization report",
	Long: `Renders a Markdown report over the recorded telemetry and optimization
history. Without arguments the report covers the whole population; with an
agent id it covers that agent in detail, including its optimization ledger.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runReport,
}

func init() {
	reportCmd.Flags().BoolVar(&reportSave, "save", false, "also write the report under the reports directory")
}

func runReport(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	s, err := buildStack(ctx, false, nil)
	if err != nil {
		return err
	}
	defer s.Close()

	reportsDir := filepath.Join(s.cfg.DataDir(workspace), "reports")
	w, err := report.New(s.tracker, s.engine, s.ledger, reportsDir)
	if err != nil {
		return err
	}

	var md string
	name := "system"
	if len(args) == 1 {
		name = args[0]
		md, err = w.Agent(ctx, args[0])
	} else {
		md, err = w.System(ctx)
	}
	if err != nil {
		return err
	}

	if reportSave {
		path, err := w.Save(name, md)
		if err != nil {
			return err
		}
		fmt.Printf("saved %s\n\n", path)
	}

	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		// Fall back to raw Markdown if the terminal renderer cannot start.
		fmt.Print(md)
		return nil
	}
	out, err := renderer.Render(md)
	if err != nil {
		fmt.Print(md)
		return nil
	}
	fmt.Print(out)
	return nil
}
