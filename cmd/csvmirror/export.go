package main

import (
	"context"
	"fmt"

	"github.com/csvmirror/csvmirror/internal/pipeline"
	"github.com/spf13/cobra"
)

var exportDB string

func newExportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export tables from an already-local database file",
		Long: `Export tables from an already-local database file, skipping both the
time-window gate and the download step. Useful for re-running the CSV
export against a database fetched earlier, or for local inspection.`,
		Example: `  csvmirror export --db ./tmp_download/source.sqlite3
  csvmirror export --db ./data_raw.sqlite3 --workdir /tmp/mirror`,
		RunE: exportRun,
	}

	cmd.Flags().StringVar(&exportDB, "db", "", "path to the SQLite database file (required)")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func exportRun(cmd *cobra.Command, args []string) error {
	if globalCfg == nil {
		return fmt.Errorf("config not loaded")
	}

	p := pipeline.New(globalCfg, nil, logger)
	report, err := p.RunLocal(context.Background(), exportDB)
	if err != nil {
		return err
	}

	printReport(report)
	return nil
}
