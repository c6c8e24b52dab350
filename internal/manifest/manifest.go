// Package manifest writes the run summary document.
package manifest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/csvmirror/csvmirror/internal/config"
	"github.com/csvmirror/csvmirror/internal/export"
)

// FileName is the fixed manifest file name inside the output directory.
const FileName = "manifest.json"

// Manifest summarizes one complete export run.
type Manifest struct {
	RunDateISO   string     `json:"run_date_iso"`
	Source       SourceInfo `json:"source"`
	CSVSeparator string     `json:"csv_separator"`
	Files        []FileInfo `json:"files"`
}

// SourceInfo snapshots the resolved source configuration.
type SourceInfo struct {
	FolderID       string `json:"folder_id"`
	FileID         string `json:"file_id"`
	TargetFilename string `json:"target_filename"`
}

// FileInfo is one exported table's entry.
type FileInfo struct {
	Table    string `json:"table"`
	Filename string `json:"filename"`
	Rows     int64  `json:"rows"`
	MD5      string `json:"md5"`
}

// Build assembles a manifest from the run configuration and the export
// results, preserving export order.
func Build(cfg *config.Config, results []export.Result, now time.Time) *Manifest {
	m := &Manifest{
		RunDateISO: now.UTC().Format(time.RFC3339),
		Source: SourceInfo{
			FolderID:       cfg.Source.FolderID,
			FileID:         cfg.Source.FileID,
			TargetFilename: cfg.Source.TargetFilename,
		},
		CSVSeparator: cfg.Export.Separator,
		Files:        make([]FileInfo, 0, len(results)),
	}
	for _, r := range results {
		m.Files = append(m.Files, FileInfo{
			Table:    r.Table,
			Filename: r.Filename,
			Rows:     r.Rows,
			MD5:      r.MD5,
		})
	}
	return m
}

// Write serializes the manifest into outDir. Non-ASCII table names are
// preserved as-is, not escaped.
func (m *Manifest) Write(outDir string) (string, error) {
	path := filepath.Join(outDir, FileName)

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("creating manifest: %w", err)
	}

	enc := json.NewEncoder(f)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	err = enc.Encode(m)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", fmt.Errorf("writing manifest: %w", err)
	}
	return path, nil
}
