package worktree

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/gofrs/flock"
	"gopkg.in/yaml.v3"
)

const (
	registryFile = ".registry.yaml"
	lockFile     = ".registry.lock"
	lockRetry    = 50 * time.Millisecond
)

// Entry is one worktree known to the registry.
type Entry struct {
	Name    string    `yaml:"name"`
	Path    string    `yaml:"path"`
	Branch  string    `yaml:"branch,omitempty"`
	Created time.Time `yaml:"created"`

	Head     string `yaml:"-"`
	Detached bool   `yaml:"-"`
	// Stale is set when git no longer knows the worktree.
	Stale bool `yaml:"-"`
}

type registry struct {
	Repo      string  `yaml:"repo"`
	Worktrees []Entry `yaml:"worktrees"`
}

func (r *registry) find(name string) (int, bool) {
	i := slices.IndexFunc(r.Worktrees, func(e Entry) bool { return e.Name == name })
	return i, i >= 0
}

func (r *registry) put(e Entry) {
	if i, ok := r.find(e.Name); ok {
		r.Worktrees[i] = e
		return
	}
	r.Worktrees = append(r.Worktrees, e)
	slices.SortFunc(r.Worktrees, func(a, b Entry) int {
		switch {
		case a.Name < b.Name:
			return -1
		case a.Name > b.Name:
			return 1
		}
		return 0
	})
}

func (r *registry) drop(name string) (Entry, bool) {
	i, ok := r.find(name)
	if !ok {
		return Entry{}, false
	}
	e := r.Worktrees[i]
	r.Worktrees = slices.Delete(r.Worktrees, i, i+1)
	return e, true
}

// store is the registry file of one base directory.
type store struct {
	dir string
}

// withLock loads the registry under an exclusive lock, calls fn and
// releases the lock when fn returns. fn persists changes with save.
func (s store) withLock(ctx context.Context, fn func(reg *registry, save func() error) error) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", s.dir, err)
	}

	lock := flock.New(filepath.Join(s.dir, lockFile))
	locked, err := lock.TryLockContext(ctx, lockRetry)
	if err != nil {
		return fmt.Errorf("failed to lock worktree registry: %w", err)
	}
	if !locked {
		return fmt.Errorf("failed to lock worktree registry: %w", ctx.Err())
	}
	defer lock.Unlock()

	reg, err := s.load()
	if err != nil {
		return err
	}
	return fn(reg, func() error { return s.save(reg) })
}

func (s store) path() string {
	return filepath.Join(s.dir, registryFile)
}

func (s store) load() (*registry, error) {
	data, err := os.ReadFile(s.path())
	if errors.Is(err, os.ErrNotExist) {
		return &registry{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read worktree registry: %w", err)
	}
	var reg registry
	if err := yaml.Unmarshal(data, &reg); err != nil {
		return nil, fmt.Errorf("failed to parse worktree registry %s: %w", s.path(), err)
	}
	return &reg, nil
}

// save rewrites the registry through a temporary file and rename.
func (s store) save(reg *registry) error {
	data, err := yaml.Marshal(reg)
	if err != nil {
		return fmt.Errorf("failed to encode worktree registry: %w", err)
	}
	tmp, err := os.CreateTemp(s.dir, registryFile+".*")
	if err != nil {
		return fmt.Errorf("failed to write worktree registry: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write worktree registry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write worktree registry: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path()); err != nil {
		return fmt.Errorf("failed to write worktree registry: %w", err)
	}
	return nil
}
