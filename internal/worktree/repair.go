package worktree

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jakenelson/agentbox/internal/log"
)

// Repair brings worktrees back under the current base directory after the
// main repository moved, which changes its hash. It moves each worktree
// git still lists under another hash directory, carries its registry
// entry over and lets git fix the links in both directions. It returns a
// line per action taken.
func (m *Manager) Repair(ctx context.Context) ([]string, error) {
	var messages []string
	root := filepath.Join(m.dataDir, "worktrees")
	base := m.BaseDir()

	err := m.store().withLock(ctx, func(reg *registry, save func() error) error {
		listed, err := m.gitWorktrees(ctx)
		if err != nil {
			return err
		}

		var repaired []string
		oldDirs := map[string]bool{}
		for _, wt := range listed {
			path := resolve(wt.Path)
			rel, err := filepath.Rel(root, path)
			if err != nil || strings.HasPrefix(rel, "..") {
				continue
			}
			parts := strings.Split(rel, string(filepath.Separator))
			if len(parts) != 2 {
				continue
			}
			oldHash, name := parts[0], parts[1]
			newPath := filepath.Join(base, name)
			if oldHash == filepath.Base(base) {
				repaired = append(repaired, newPath)
				continue
			}
			if _, err := os.Stat(path); err != nil {
				continue
			}
			if _, err := os.Stat(newPath); err == nil {
				return fmt.Errorf("cannot move worktree %s: %s already exists", name, newPath)
			}
			if err := os.Rename(path, newPath); err != nil {
				return fmt.Errorf("failed to move worktree %s: %w", name, err)
			}

			entry := Entry{Name: name, Path: newPath, Branch: wt.Branch, Created: m.now().UTC()}
			if old, ok := m.takeEntry(ctx, filepath.Join(root, oldHash), name); ok {
				entry.Created = old.Created
			}
			reg.put(entry)
			oldDirs[filepath.Join(root, oldHash)] = true
			repaired = append(repaired, newPath)
			messages = append(messages, fmt.Sprintf("Moved worktree %q from %s to %s", name, oldHash, filepath.Base(base)))
		}

		reg.Repo = m.repo.MainRoot
		if err := save(); err != nil {
			return err
		}

		out, err := m.git.Run(ctx, m.repo.MainRoot, append([]string{"worktree", "repair"}, repaired...)...)
		if err != nil {
			return fmt.Errorf("failed to repair worktrees: %w", err)
		}
		if s := strings.TrimSpace(out); s != "" {
			messages = append(messages, s)
		}

		for dir := range oldDirs {
			if removeIfUnused(dir) {
				messages = append(messages, fmt.Sprintf("Removed empty directory for old hash %s", filepath.Base(dir)))
			}
		}
		return nil
	})
	return messages, err
}

// takeEntry removes name from the registry in dir and returns it.
func (m *Manager) takeEntry(ctx context.Context, dir, name string) (Entry, bool) {
	var (
		entry Entry
		found bool
	)
	err := store{dir: dir}.withLock(ctx, func(reg *registry, save func() error) error {
		entry, found = reg.drop(name)
		if !found {
			return nil
		}
		return save()
	})
	if err != nil {
		log.Warn("failed to update old worktree registry", "dir", dir, "error", err)
	}
	return entry, found
}

// removeIfUnused deletes dir when it holds nothing but an empty registry.
func removeIfUnused(dir string) bool {
	items, err := os.ReadDir(dir)
	if err != nil {
		return false
	}
	for _, it := range items {
		if it.Name() != registryFile && it.Name() != lockFile {
			return false
		}
	}
	reg, err := store{dir: dir}.load()
	if err != nil || len(reg.Worktrees) > 0 {
		return false
	}
	if err := os.RemoveAll(dir); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("failed to remove old worktree directory", "dir", dir, "error", err)
		return false
	}
	return true
}
