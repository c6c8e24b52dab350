package main

import (
	"context"
	"fmt"

	"github.com/csvmirror/csvmirror/internal/download"
	"github.com/csvmirror/csvmirror/internal/drive"
	"github.com/csvmirror/csvmirror/internal/gate"
	"github.com/csvmirror/csvmirror/internal/pipeline"
	"github.com/csvmirror/csvmirror/internal/source"
	"github.com/spf13/cobra"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Fetch the source database and export all tables to CSV",
		Long: `Fetch the source database and export all tables to CSV.

The run command will:
  1. Check the daily time window (Europe/Rome 15:00-02:00)
  2. Clean the output directory when configured
  3. Download the database by file id, or search the shared folder
  4. Export every table into one CSV file each
  5. Write manifest.json describing the exported files

Outside the time window the run is skipped with exit code 0. Use --force
to bypass the window; a manual scheduler dispatch bypasses it as well.`,
		Example: `  csvmirror run
  csvmirror run --force
  SRC_FOLDER_ID=1TAi... csvmirror run --workdir /var/lib/csvmirror`,
		RunE: runRun,
	}

	return cmd
}

func runRun(cmd *cobra.Command, args []string) error {
	if globalCfg == nil {
		return fmt.Errorf("config not loaded")
	}

	g := gate.New(globalCfg.ForceRun, globalCfg.EventName)
	decision, err := g.Check()
	if err != nil {
		return fmt.Errorf("time-window gate: %w", err)
	}
	if !decision.Proceed {
		// A denied window is a clean skip, not a failure.
		logger.Info("run skipped", "reason", decision.Reason)
		return nil
	}
	logger.Info("run admitted", "reason", decision.Reason)

	client := download.NewClient(logger)
	resolver := source.NewResolver(drive.NewClient(client, logger), logger)
	p := pipeline.New(globalCfg, resolver, logger)

	report, err := p.Run(context.Background())
	if err != nil {
		return err
	}

	printReport(report)
	return nil
}

func printReport(report *pipeline.Report) {
	fmt.Println("\n=== RUN SUMMARY ===")
	fmt.Printf("Database:  %s (%d bytes)\n", report.DatabasePath, report.DatabaseSize)
	fmt.Printf("Tables:    %d\n", report.TablesExported)
	fmt.Printf("Rows:      %d\n", report.TotalRows)
	fmt.Printf("Manifest:  %s\n", report.ManifestPath)
	fmt.Printf("Duration:  %s\n", report.Duration)
}
