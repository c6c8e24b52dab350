// Package pipeline runs the fetch-export-manifest sequence.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/csvmirror/csvmirror/internal/config"
	"github.com/csvmirror/csvmirror/internal/export"
	"github.com/csvmirror/csvmirror/internal/manifest"
)

// Resolver produces a local database path. Satisfied by source.Resolver.
type Resolver interface {
	Resolve(ctx context.Context, src config.SourceConfig, stagingDir string) (string, error)
}

// Report summarizes a completed run.
type Report struct {
	DatabasePath   string
	DatabaseSize   int64
	TablesExported int
	TotalRows      int64
	ManifestPath   string
	Duration       time.Duration
}

// Pipeline executes the export run: prepare output, fetch the database,
// export all tables, write the manifest. Strictly sequential.
type Pipeline struct {
	cfg      *config.Config
	resolver Resolver
	exporter *export.Exporter
	logger   *slog.Logger
}

// New assembles a pipeline from the run configuration.
func New(cfg *config.Config, resolver Resolver, logger *slog.Logger) *Pipeline {
	exporter := export.New(export.Options{
		Separator: cfg.SeparatorRune(),
		ChunkSize: cfg.Export.ChunkSize,
		Compress:  cfg.Export.Compress,
	}, logger)

	return &Pipeline{
		cfg:      cfg,
		resolver: resolver,
		exporter: exporter,
		logger:   logger,
	}
}

// Run executes the full pipeline, including the source fetch.
func (p *Pipeline) Run(ctx context.Context) (*Report, error) {
	if err := p.prepareOutput(); err != nil {
		return nil, err
	}

	dbPath, err := p.resolver.Resolve(ctx, p.cfg.Source, p.cfg.DownloadDir())
	if err != nil {
		return nil, fmt.Errorf("resolving source: %w", err)
	}

	return p.runFrom(ctx, dbPath, time.Now())
}

// RunLocal executes the pipeline against an already-local database file,
// skipping the fetch step.
func (p *Pipeline) RunLocal(ctx context.Context, dbPath string) (*Report, error) {
	if err := p.prepareOutput(); err != nil {
		return nil, err
	}
	return p.runFrom(ctx, dbPath, time.Now())
}

func (p *Pipeline) runFrom(ctx context.Context, dbPath string, startTime time.Time) (*Report, error) {
	var dbSize int64
	if fi, err := os.Stat(dbPath); err == nil {
		dbSize = fi.Size()
	}
	p.logger.Info("local database ready", "path", dbPath, "size", dbSize)

	results, err := p.exporter.ExportAll(ctx, dbPath, p.cfg.OutputDir())
	if err != nil {
		return nil, fmt.Errorf("exporting tables: %w", err)
	}

	m := manifest.Build(p.cfg, results, time.Now())
	manifestPath, err := m.Write(p.cfg.OutputDir())
	if err != nil {
		return nil, fmt.Errorf("writing manifest: %w", err)
	}
	p.logger.Info("manifest written", "path", manifestPath)

	var totalRows int64
	for _, r := range results {
		totalRows += r.Rows
	}

	report := &Report{
		DatabasePath:   dbPath,
		DatabaseSize:   dbSize,
		TablesExported: len(results),
		TotalRows:      totalRows,
		ManifestPath:   manifestPath,
		Duration:       time.Since(startTime),
	}
	p.logger.Info("run completed",
		"tables", report.TablesExported,
		"rows", report.TotalRows,
		"duration", report.Duration,
	)
	return report, nil
}

// prepareOutput creates the staging and output directories and, when
// configured, clears the previous run's output.
func (p *Pipeline) prepareOutput() error {
	for _, dir := range []string{p.cfg.DownloadDir(), p.cfg.OutputDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating directory %s: %w", dir, err)
		}
	}
	if p.cfg.Export.CleanOutput {
		cleanDir(p.cfg.OutputDir(), p.logger)
	}
	return nil
}

// cleanDir removes every entry directly inside dir. Deletion is best-effort:
// individual failures are logged and skipped, never fatal.
func cleanDir(dir string, logger *slog.Logger) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		logger.Warn("cannot read output directory for cleanup", "dir", dir, "error", err)
		return
	}
	removed := 0
	for _, entry := range entries {
		path := filepath.Join(dir, entry.Name())
		if err := os.RemoveAll(path); err != nil {
			logger.Warn("cannot remove stale output entry", "path", path, "error", err)
			continue
		}
		removed++
	}
	if removed > 0 {
		logger.Info("cleaned output directory", "dir", dir, "removed", removed)
	}
}
