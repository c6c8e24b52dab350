// Package safety validates file system paths built from remote input.
package safety

import (
	"fmt"
	"path/filepath"
	"strings"
)

// StagePath joins a remote entry name under the staging root and verifies
// the result stays inside it. Folder entries are named by whoever shared the
// folder; their names must never escape the staging directory.
func StagePath(root, name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("entry name is empty")
	}

	clean := filepath.Clean(filepath.FromSlash(name))
	if clean == "." {
		return "", fmt.Errorf("entry name resolves to current directory")
	}
	if filepath.IsAbs(clean) {
		return "", fmt.Errorf("absolute entry names are not allowed: %q", name)
	}
	if isParentRef(clean) {
		return "", fmt.Errorf("parent traversal is not allowed: %q", name)
	}
	return EnsureUnderRoot(root, filepath.Join(root, clean))
}

// EnsureUnderRoot verifies candidate resolves under root and returns
// an absolute normalized path.
func EnsureUnderRoot(root, candidate string) (string, error) {
	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolve root: %w", err)
	}
	candAbs, err := filepath.Abs(candidate)
	if err != nil {
		return "", fmt.Errorf("resolve candidate: %w", err)
	}

	rel, err := filepath.Rel(rootAbs, candAbs)
	if err != nil {
		return "", fmt.Errorf("compare paths: %w", err)
	}
	if isParentRef(rel) {
		return "", fmt.Errorf("path escapes root: %q", candidate)
	}
	return candAbs, nil
}

func isParentRef(p string) bool {
	return p == ".." || strings.HasPrefix(p, ".."+string(filepath.Separator))
}
