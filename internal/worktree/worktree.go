// Package worktree manages git worktrees that agentbox sessions run in.
// Worktrees of a repository live together in one base directory under the
// agentbox data directory, next to a registry file recording each name,
// path and branch.
package worktree

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/jakenelson/agentbox/internal/log"
	"github.com/jakenelson/agentbox/internal/spec"
)

var (
	ErrNotFound    = errors.New("worktree not found")
	ErrExists      = errors.New("worktree already exists")
	ErrInvalidName = errors.New("invalid worktree name")
)

var validName = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// Manager adds, lists and removes the worktrees of one repository.
type Manager struct {
	git     Git
	repo    Repo
	dataDir string
	now     func() time.Time
}

// Open returns a Manager for the repository containing dir.
func Open(dir, dataDir string) (*Manager, error) {
	repo, err := Discover(dir)
	if err != nil {
		return nil, err
	}
	return newManager(repo, dataDir, cliGit{}), nil
}

func newManager(repo Repo, dataDir string, g Git) *Manager {
	if resolved, err := filepath.EvalSymlinks(dataDir); err == nil {
		dataDir = resolved
	}
	return &Manager{git: g, repo: repo, dataDir: dataDir, now: time.Now}
}

// Repo returns the repository the manager works on.
func (m *Manager) Repo() Repo { return m.repo }

// BaseDir returns the directory holding this repository's worktrees.
func (m *Manager) BaseDir() string {
	return BaseDir(m.dataDir, m.repo.MainRoot)
}

func (m *Manager) store() store {
	return store{dir: m.BaseDir()}
}

// Add creates worktree name checked out on a new branch, or on a branch
// named after the worktree when branch is empty. No registry entry is
// left behind when git fails, and the git worktree and its new branch are
// removed again when the registry cannot be written.
func (m *Manager) Add(ctx context.Context, name, branch string) (Entry, error) {
	if !validName.MatchString(name) {
		return Entry{}, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}

	var added Entry
	err := m.store().withLock(ctx, func(reg *registry, save func() error) error {
		if _, ok := reg.find(name); ok {
			return fmt.Errorf("%w: %s", ErrExists, name)
		}
		path := filepath.Join(m.BaseDir(), name)
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%w: %s", ErrExists, path)
		}

		// git creates a branch named after the worktree when none is given
		// and no such branch exists yet.
		created := branch
		args := []string{"worktree", "add"}
		if branch != "" {
			args = append(args, "-b", branch, path, "HEAD")
		} else {
			if _, err := m.git.Run(ctx, m.repo.MainRoot, "rev-parse", "--verify", "--quiet", "refs/heads/"+name); err != nil {
				created = name
			}
			args = append(args, path)
		}
		if _, err := m.git.Run(ctx, m.repo.MainRoot, args...); err != nil {
			return fmt.Errorf("failed to create worktree %s: %w", name, err)
		}

		added = Entry{Name: name, Path: path, Branch: branch, Created: m.now().UTC()}
		if wt, ok := m.gitWorktree(ctx, path); ok {
			added.Branch, added.Head, added.Detached = wt.Branch, wt.Head, wt.Detached
		}
		reg.Repo = m.repo.MainRoot
		reg.put(added)

		if err := save(); err != nil {
			if rerr := m.undoAdd(ctx, path, created); rerr != nil {
				return errors.Join(err, rerr)
			}
			return err
		}
		return nil
	})
	if err != nil {
		return Entry{}, err
	}
	log.Debug("added worktree", "name", name, "path", added.Path, "branch", added.Branch)
	return added, nil
}

// undoAdd removes a worktree Add created along with the branch it created
// for it, if any.
func (m *Manager) undoAdd(ctx context.Context, path, branch string) error {
	if _, err := m.git.Run(ctx, m.repo.MainRoot, "worktree", "remove", "--force", path); err != nil {
		return fmt.Errorf("rollback failed: %w", err)
	}
	if branch == "" {
		return nil
	}
	if _, err := m.git.Run(ctx, m.repo.MainRoot, "branch", "-D", branch); err != nil {
		return fmt.Errorf("rollback failed to delete branch %s: %w", branch, err)
	}
	return nil
}

// List returns the registered worktrees reconciled against git. Worktrees
// git reports under the base directory but the registry lacks are
// recorded; entries git no longer knows are marked Stale.
func (m *Manager) List(ctx context.Context) ([]Entry, error) {
	var entries []Entry
	err := m.store().withLock(ctx, func(reg *registry, save func() error) error {
		listed, err := m.gitWorktrees(ctx)
		if err != nil {
			return err
		}

		changed := false
		for _, wt := range listed {
			name, ok := m.nameOf(wt.Path)
			if !ok {
				continue
			}
			if _, known := reg.find(name); !known {
				log.Debug("recording unregistered worktree", "name", name)
				reg.put(Entry{Name: name, Path: wt.Path, Branch: wt.Branch, Created: m.now().UTC()})
				changed = true
			}
		}

		for _, e := range reg.Worktrees {
			wt, ok := find(listed, e.Path)
			if !ok {
				e.Stale = true
			} else {
				if wt.Branch != e.Branch && wt.Branch != "" {
					e.Branch = wt.Branch
					reg.put(e)
					changed = true
				}
				e.Head, e.Detached = wt.Head, wt.Detached
			}
			entries = append(entries, e)
		}

		if changed {
			reg.Repo = m.repo.MainRoot
			return save()
		}
		return nil
	})
	return entries, err
}

// Path returns the directory of worktree name.
func (m *Manager) Path(ctx context.Context, name string) (string, error) {
	entries, err := m.List(ctx)
	if err != nil {
		return "", err
	}
	for _, e := range entries {
		if e.Name != name {
			continue
		}
		if e.Stale {
			return "", fmt.Errorf("%w: %s is registered but git no longer tracks it; run worktree repair", ErrNotFound, name)
		}
		return e.Path, nil
	}
	return "", fmt.Errorf("%w: %s", ErrNotFound, name)
}

// Remove deletes worktree name. The registry entry is dropped first and
// restored when git refuses the removal.
func (m *Manager) Remove(ctx context.Context, name string, force bool) error {
	return m.store().withLock(ctx, func(reg *registry, save func() error) error {
		entry, ok := reg.drop(name)
		if !ok {
			path := filepath.Join(m.BaseDir(), name)
			if _, tracked := m.gitWorktree(ctx, path); !tracked {
				return fmt.Errorf("%w: %s", ErrNotFound, name)
			}
			entry = Entry{Name: name, Path: path}
		}
		if err := save(); err != nil {
			return err
		}

		if _, tracked := m.gitWorktree(ctx, entry.Path); !tracked {
			log.Warn("worktree was already gone, pruning", "name", name, "path", entry.Path)
			_, err := m.git.Run(ctx, m.repo.MainRoot, "worktree", "prune")
			return err
		}

		args := []string{"worktree", "remove"}
		if force {
			args = append(args, "--force")
		}
		args = append(args, entry.Path)
		if _, err := m.git.Run(ctx, m.repo.MainRoot, args...); err != nil {
			reg.put(entry)
			if serr := save(); serr != nil {
				log.Warn("failed to restore worktree registry entry", "name", name, "error", serr)
			}
			return fmt.Errorf("failed to remove worktree %s: %w", name, err)
		}
		log.Debug("removed worktree", "name", name)
		return nil
	})
}

// Mounts describes the worktree layout for a run in projectDir.
func (m *Manager) Mounts(projectDir string) *spec.WorktreeMounts {
	base := m.BaseDir()
	return &spec.WorktreeMounts{
		GitDir:  m.repo.GitDir,
		BaseDir: base,
		Session: within(resolve(projectDir), base),
	}
}

func (m *Manager) gitWorktrees(ctx context.Context) ([]gitWorktree, error) {
	out, err := m.git.Run(ctx, m.repo.MainRoot, "worktree", "list", "--porcelain")
	if err != nil {
		return nil, fmt.Errorf("failed to list worktrees: %w", err)
	}
	return parsePorcelain(out), nil
}

func (m *Manager) gitWorktree(ctx context.Context, path string) (gitWorktree, bool) {
	listed, err := m.gitWorktrees(ctx)
	if err != nil {
		log.Debug("cannot list worktrees", "error", err)
		return gitWorktree{}, false
	}
	return find(listed, path)
}

// nameOf returns the worktree name of path when it is directly inside the
// base directory.
func (m *Manager) nameOf(path string) (string, bool) {
	base := m.BaseDir()
	path = resolve(path)
	if filepath.Dir(path) != base {
		return "", false
	}
	return filepath.Base(path), true
}

func find(listed []gitWorktree, path string) (gitWorktree, bool) {
	path = resolve(path)
	for _, wt := range listed {
		if resolve(wt.Path) == path {
			return wt, true
		}
	}
	return gitWorktree{}, false
}

// resolve cleans path and evaluates symlinks when it exists.
func resolve(path string) string {
	if r, err := filepath.EvalSymlinks(path); err == nil {
		return r
	}
	return filepath.Clean(path)
}

func within(path, dir string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
