// Package source resolves the remote database reference to a local file.
package source

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/csvmirror/csvmirror/internal/config"
)

// ErrNotFound is returned when the target file cannot be located in the
// shared folder.
var ErrNotFound = errors.New("source file not found")

// directFileName is the fixed staging name for a direct-id download.
const directFileName = "source.sqlite3"

// Fetcher downloads remote files and folders. Satisfied by drive.Client.
type Fetcher interface {
	FetchFile(ctx context.Context, fileID, dest string) error
	FetchFolder(ctx context.Context, folderID, destDir string) error
}

// Resolver turns a source configuration into a local database path.
type Resolver struct {
	fetcher Fetcher
	logger  *slog.Logger
}

// NewResolver creates a resolver using the given fetcher.
func NewResolver(fetcher Fetcher, logger *slog.Logger) *Resolver {
	return &Resolver{fetcher: fetcher, logger: logger}
}

// Resolve produces exactly one local file path pointing at the downloaded
// database, or fails.
//
// A configured direct file id is tried first; a missing or empty result
// falls through to downloading the whole shared folder and searching it for
// the target file name. Transport errors during the folder fetch are fatal.
func (r *Resolver) Resolve(ctx context.Context, src config.SourceConfig, stagingDir string) (string, error) {
	if err := os.MkdirAll(stagingDir, 0o755); err != nil {
		return "", fmt.Errorf("creating staging directory: %w", err)
	}

	if src.FileID != "" {
		dest := filepath.Join(stagingDir, directFileName)
		err := r.fetcher.FetchFile(ctx, src.FileID, dest)
		if err == nil {
			if fi, statErr := os.Stat(dest); statErr == nil && fi.Size() > 0 {
				r.logger.Info("downloaded database by file id", "path", dest, "size", fi.Size())
				return dest, nil
			}
			err = fmt.Errorf("direct download produced no data")
		}
		if src.FolderID == "" {
			return "", fmt.Errorf("direct file id download failed: %w", err)
		}
		r.logger.Warn("direct file id download failed, falling back to folder search", "error", err)
	}

	if err := r.fetcher.FetchFolder(ctx, src.FolderID, stagingDir); err != nil {
		return "", fmt.Errorf("downloading source folder: %w", err)
	}

	path, err := findNewest(stagingDir, src.TargetFilename)
	if err != nil {
		return "", err
	}
	r.logger.Info("selected database from folder", "path", path)
	return path, nil
}

// findNewest searches root recursively for regular files whose base name
// matches target and returns the most recently modified one. Candidates are
// collected in sorted path order so an mtime tie resolves to the
// lexicographically smaller path.
func findNewest(root, target string) (string, error) {
	var candidates []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && d.Name() == target {
			candidates = append(candidates, path)
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("searching staging directory: %w", err)
	}
	if len(candidates) == 0 {
		return "", fmt.Errorf("%w: %q not present in source folder", ErrNotFound, target)
	}

	sort.Strings(candidates)
	best := candidates[0]
	bestInfo, err := os.Stat(best)
	if err != nil {
		return "", fmt.Errorf("inspecting candidate %s: %w", best, err)
	}
	for _, c := range candidates[1:] {
		info, err := os.Stat(c)
		if err != nil {
			return "", fmt.Errorf("inspecting candidate %s: %w", c, err)
		}
		if info.ModTime().After(bestInfo.ModTime()) {
			best, bestInfo = c, info
		}
	}
	return best, nil
}
