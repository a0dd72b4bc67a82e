// Package security guards which host paths may be bind-mounted into an agent container.
package security

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DeniedPaths can never be the source of a custom mount, nor contain one.
var DeniedPaths = []string{
	"~/.gnupg",
	"~/.netrc",
	"~/.docker/config.json",
	"~/.kube/config",
	"~/.aws/credentials",
}

// ExpandPath expands a leading ~ against home, resolves relative paths
// against base and follows symlinks when the path exists.
func ExpandPath(path, home, base string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("empty path")
	}

	path = expandTilde(path, home)
	if !filepath.IsAbs(path) {
		path = filepath.Join(base, path)
	}
	path = filepath.Clean(path)

	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		// The caller decides whether a missing path is an error.
		if os.IsNotExist(err) {
			return path, nil
		}
		return "", fmt.Errorf("failed to resolve path: %w", err)
	}
	return resolved, nil
}

// ValidateMountPath rejects path if it is a denied path, lies inside one or
// contains one.
func ValidateMountPath(path, home string) error {
	for _, denied := range DeniedPaths {
		target := expandTilde(denied, home)
		if pathMatches(path, target) {
			return fmt.Errorf("path is in denied list: %s", denied)
		}
		if pathMatches(target, path) {
			return fmt.Errorf("path contains denied path %s", denied)
		}
	}
	return nil
}

// pathMatches checks if path is equal to or a child of target
func pathMatches(path, target string) bool {
	if path == target {
		return true
	}
	rel, err := filepath.Rel(target, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func expandTilde(path, home string) string {
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(home, path[2:])
	}
	if path == "~" {
		return home
	}
	return path
}

// Exists reports whether path exists.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
