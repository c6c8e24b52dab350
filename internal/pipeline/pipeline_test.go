package pipeline

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/csvmirror/csvmirror/internal/config"
	"github.com/csvmirror/csvmirror/internal/manifest"
	_ "modernc.org/sqlite"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// staticResolver returns a fixed local path without touching the network.
type staticResolver struct {
	path string
	err  error
}

func (r *staticResolver) Resolve(ctx context.Context, src config.SourceConfig, stagingDir string) (string, error) {
	return r.path, r.err
}

// newTestDB builds a database with two small tables.
func newTestDB(t *testing.T) string {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "data_raw.sqlite3")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	stmts := []string{
		`CREATE TABLE cities (id INTEGER, name TEXT)`,
		`INSERT INTO cities VALUES (1, 'Roma'), (2, 'Milano')`,
		`CREATE TABLE airports (code TEXT)`,
		`INSERT INTO airports VALUES ('FCO')`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			t.Fatal(err)
		}
	}
	return dbPath
}

func testConfig(t *testing.T) *config.Config {
	cfg := config.DefaultConfig()
	cfg.WorkDir = t.TempDir()
	return cfg
}

// TestRunProducesOutputsAndManifest runs the whole pipeline end to end
func TestRunProducesOutputsAndManifest(t *testing.T) {
	cfg := testConfig(t)
	p := New(cfg, &staticResolver{path: newTestDB(t)}, testLogger())

	report, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if report.TablesExported != 2 {
		t.Errorf("TablesExported = %d, want 2", report.TablesExported)
	}
	if report.TotalRows != 3 {
		t.Errorf("TotalRows = %d, want 3", report.TotalRows)
	}
	if report.DatabaseSize == 0 {
		t.Errorf("DatabaseSize = 0, want > 0")
	}

	outDir := cfg.OutputDir()
	for _, name := range []string{"airports.csv", "cities.csv", manifest.FileName} {
		if _, err := os.Stat(filepath.Join(outDir, name)); err != nil {
			t.Errorf("missing output %s: %v", name, err)
		}
	}

	data, err := os.ReadFile(filepath.Join(outDir, manifest.FileName))
	if err != nil {
		t.Fatal(err)
	}
	var m manifest.Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatal(err)
	}
	if len(m.Files) != 2 {
		t.Fatalf("manifest files = %d, want 2", len(m.Files))
	}
	// Catalog name order.
	if m.Files[0].Table != "airports" || m.Files[1].Table != "cities" {
		t.Errorf("manifest order = %s, %s", m.Files[0].Table, m.Files[1].Table)
	}
	if m.Files[1].Rows != 2 {
		t.Errorf("cities rows = %d, want 2", m.Files[1].Rows)
	}
}

// TestRunCleansPreviousOutput verifies stale files disappear when cleanup is on
func TestRunCleansPreviousOutput(t *testing.T) {
	cfg := testConfig(t)
	if err := os.MkdirAll(cfg.OutputDir(), 0o755); err != nil {
		t.Fatal(err)
	}
	stale := filepath.Join(cfg.OutputDir(), "stale_table.csv")
	if err := os.WriteFile(stale, []byte("old"), 0o644); err != nil {
		t.Fatal(err)
	}

	p := New(cfg, &staticResolver{path: newTestDB(t)}, testLogger())
	if _, err := p.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Errorf("stale output survived cleanup")
	}
}

// TestRunKeepsOutputWhenCleanDisabled verifies the preparer is a no-op when off
func TestRunKeepsOutputWhenCleanDisabled(t *testing.T) {
	cfg := testConfig(t)
	cfg.Export.CleanOutput = false
	if err := os.MkdirAll(cfg.OutputDir(), 0o755); err != nil {
		t.Fatal(err)
	}
	stale := filepath.Join(cfg.OutputDir(), "keep_me.txt")
	if err := os.WriteFile(stale, []byte("old"), 0o644); err != nil {
		t.Fatal(err)
	}

	p := New(cfg, &staticResolver{path: newTestDB(t)}, testLogger())
	if _, err := p.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	if _, err := os.Stat(stale); err != nil {
		t.Errorf("pre-existing file removed despite cleanup disabled: %v", err)
	}
}

// TestRunTwiceLeavesSingleRunOutput verifies cleanup idempotence
func TestRunTwiceLeavesSingleRunOutput(t *testing.T) {
	cfg := testConfig(t)
	p := New(cfg, &staticResolver{path: newTestDB(t)}, testLogger())

	for i := 0; i < 2; i++ {
		if _, err := p.Run(context.Background()); err != nil {
			t.Fatal(err)
		}
	}

	entries, err := os.ReadDir(cfg.OutputDir())
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 3 { // two CSVs + manifest
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Errorf("output entries = %v, want exactly 3", names)
	}
}

// TestRunResolverFailureIsFatal verifies fetch errors abort the run
func TestRunResolverFailureIsFatal(t *testing.T) {
	cfg := testConfig(t)
	p := New(cfg, &staticResolver{err: errors.New("download failed")}, testLogger())

	if _, err := p.Run(context.Background()); err == nil {
		t.Fatal("expected error from failing resolver")
	}
}

// TestRunLocalSkipsFetch exports a local file without a resolver round trip
func TestRunLocalSkipsFetch(t *testing.T) {
	cfg := testConfig(t)
	p := New(cfg, &staticResolver{err: errors.New("must not be called")}, testLogger())

	report, err := p.RunLocal(context.Background(), newTestDB(t))
	if err != nil {
		t.Fatalf("RunLocal() error = %v", err)
	}
	if report.TablesExported != 2 {
		t.Errorf("TablesExported = %d, want 2", report.TablesExported)
	}
}
