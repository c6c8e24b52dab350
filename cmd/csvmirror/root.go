package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/csvmirror/csvmirror/internal/config"
	"github.com/spf13/cobra"
)

var (
	// Global flags
	cfgPath   string
	workDir   string
	logLevel  string
	logFormat string
	forceRun  bool

	globalCfg *config.Config
	logger    *slog.Logger
)

// NewRootCmd creates and returns the root command
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "csvmirror",
		Short: "Mirror a public SQLite database as CSV files",
		Long: `csvmirror downloads a publicly shared SQLite database from Google Drive
and exports every table into delimited text files, together with a
manifest.json describing the run. It is meant to refresh a public dataset
mirror from a scheduled job, restricted to a daily time window.`,
		Example: `  csvmirror run
  csvmirror run --force
  csvmirror export --db ./data_raw.sqlite3
  SRC_FILE_ID=1-FF8... csvmirror run --workdir /var/lib/csvmirror`,
		Version:       "0.1.0",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			setupLogging()

			if shouldSkipConfig(cmd.Name()) {
				return nil
			}

			if cfgPath == "" {
				cfgPath = config.FindConfigFile()
			}
			var err error
			globalCfg, err = config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			// Override with command-line flags if provided
			if workDir != "" {
				globalCfg.WorkDir = workDir
			}
			if forceRun {
				globalCfg.ForceRun = true
			}

			logger.Debug("config loaded", "path", cfgPath, "workdir", globalCfg.WorkDir)
			return nil
		},
	}

	// Add persistent flags
	cmd.PersistentFlags().StringVar(&cfgPath, "config", "", "path to config file (auto-discovered if not specified)")
	cmd.PersistentFlags().StringVar(&workDir, "workdir", "", "override working directory")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text or json)")
	cmd.PersistentFlags().BoolVar(&forceRun, "force", false, "bypass the time-window gate")

	// Add subcommands
	cmd.AddCommand(
		newRunCmd(),
		newExportCmd(),
	)

	return cmd
}

// setupLogging initializes the slog logger based on flags
func setupLogging() {
	var level slog.Level
	switch strings.ToLower(logLevel) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var handler slog.Handler
	if strings.ToLower(logFormat) == "json" {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}

	logger = slog.New(handler)
	slog.SetDefault(logger)
}

// shouldSkipConfig checks if a command should skip config loading
func shouldSkipConfig(cmdName string) bool {
	skipConfigCmds := map[string]bool{
		"help":    true,
		"version": true,
	}
	return skipConfigCmds[cmdName]
}
