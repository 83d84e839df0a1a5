// Package repo provides the repository inspection tools offered to review
// sessions: reading files, listing directories, searching by pattern, and
// locating symbol declarations. All tools are read-only and sandboxed to the
// session's repository root.
package repo

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/averen/scry"
)

// Tools returns the full inspection tool set.
func Tools() []scry.Tool {
	return []scry.Tool{
		&ReadFileTool{},
		&ListFilesTool{},
		&SearchPatternTool{},
		&FindSymbolTool{},
	}
}

// resolvePath resolves a tool-supplied relative path against the session's
// repository root, rejecting absolute paths and traversal.
func resolvePath(tc *scry.ToolContext, path string) (string, error) {
	if tc == nil || tc.RepoRoot == "" {
		return "", fmt.Errorf("no repository root configured for this session")
	}
	if filepath.IsAbs(path) {
		return "", fmt.Errorf("absolute paths not allowed: %s", path)
	}
	cleaned := filepath.Clean(path)
	if cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal not allowed: %s", path)
	}
	resolved := filepath.Join(tc.RepoRoot, cleaned)
	root := filepath.Clean(tc.RepoRoot)
	if resolved != root && !strings.HasPrefix(resolved, root+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes repository: %s", path)
	}
	return resolved, nil
}

// skipDir reports whether a directory should be skipped during walks.
func skipDir(name string) bool {
	switch name {
	case ".git", "node_modules", "vendor", ".idea", ".vscode":
		return true
	}
	return strings.HasPrefix(name, ".") && name != "."
}

// isBinary reports whether data looks like binary content.
func isBinary(data []byte) bool {
	n := len(data)
	if n > 8000 {
		n = 8000
	}
	for _, b := range data[:n] {
		if b == 0 {
			return true
		}
	}
	return false
}

// relPath renders p relative to root for display, falling back to p.
func relPath(root, p string) string {
	if rel, err := filepath.Rel(root, p); err == nil {
		return rel
	}
	return p
}

// statSize returns the file size, or -1 when stat fails.
func statSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return -1
	}
	return info.Size()
}
