package worktree

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gitEnv() []string {
	return append(os.Environ(),
		"GIT_AUTHOR_NAME=Test",
		"GIT_AUTHOR_EMAIL=test@test.com",
		"GIT_COMMITTER_NAME=Test",
		"GIT_COMMITTER_EMAIL=test@test.com",
	)
}

func runIn(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command(args[0], args[1:]...)
	cmd.Dir = dir
	cmd.Env = gitEnv()
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("command %v failed: %v\n%s", args, err, out)
	}
	return string(out)
}

func initTestRepo(t *testing.T) string {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	dir, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	dir = filepath.Join(dir, "app")
	require.NoError(t, os.Mkdir(dir, 0o755))

	runIn(t, dir, "git", "init")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("# test"), 0o644))
	runIn(t, dir, "git", "add", ".")
	runIn(t, dir, "git", "commit", "-m", "initial commit")
	return dir
}

func testManager(t *testing.T) (*Manager, string) {
	t.Helper()
	repo := initTestRepo(t)
	data, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)

	m, err := Open(repo, data)
	require.NoError(t, err)
	return m, repo
}

func TestDiscover(t *testing.T) {
	m, repo := testManager(t)
	assert.Equal(t, repo, m.Repo().Root)
	assert.Equal(t, repo, m.Repo().MainRoot)
	assert.Equal(t, filepath.Join(repo, ".git"), m.Repo().GitDir)

	sub := filepath.Join(repo, "pkg", "deep")
	require.NoError(t, os.MkdirAll(sub, 0o755))
	r, err := Discover(sub)
	require.NoError(t, err)
	assert.Equal(t, repo, r.Root)

	_, err = Discover(t.TempDir())
	assert.Error(t, err)
}

func TestDiscoverFromLinkedWorktree(t *testing.T) {
	m, repo := testManager(t)
	e, err := m.Add(context.Background(), "feature", "")
	require.NoError(t, err)

	r, err := Discover(e.Path)
	require.NoError(t, err)
	assert.Equal(t, e.Path, r.Root)
	assert.Equal(t, repo, r.MainRoot)
	assert.Equal(t, filepath.Join(repo, ".git"), r.GitDir)
}

func TestAddListRemove(t *testing.T) {
	m, _ := testManager(t)
	ctx := context.Background()

	e, err := m.Add(ctx, "feature", "feat/x")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(m.BaseDir(), "feature"), e.Path)
	assert.Equal(t, "feat/x", e.Branch)
	assert.DirExists(t, e.Path)
	assert.FileExists(t, filepath.Join(m.BaseDir(), registryFile))

	entries, err := m.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "feature", entries[0].Name)
	assert.Equal(t, "feat/x", entries[0].Branch)
	assert.False(t, entries[0].Stale)
	assert.NotEmpty(t, entries[0].Head)

	path, err := m.Path(ctx, "feature")
	require.NoError(t, err)
	assert.Equal(t, e.Path, path)

	require.NoError(t, m.Remove(ctx, "feature", false))
	assert.NoDirExists(t, e.Path)

	entries, err = m.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)

	_, err = m.Path(ctx, "feature")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAddDefaultsBranchToName(t *testing.T) {
	m, _ := testManager(t)
	e, err := m.Add(context.Background(), "bugfix", "")
	require.NoError(t, err)
	assert.Equal(t, "bugfix", e.Branch)
}

func TestAddRejectsDuplicatesAndBadNames(t *testing.T) {
	m, _ := testManager(t)
	ctx := context.Background()

	_, err := m.Add(ctx, "one", "")
	require.NoError(t, err)
	_, err = m.Add(ctx, "one", "other-branch")
	assert.ErrorIs(t, err, ErrExists)

	for _, name := range []string{"", ".hidden", "a/b", "../escape", "-flag"} {
		_, err := m.Add(ctx, name, "")
		assert.ErrorIs(t, err, ErrInvalidName, name)
	}
}

func TestAddGitFailureLeavesNoEntry(t *testing.T) {
	m, repo := testManager(t)
	ctx := context.Background()
	runIn(t, repo, "git", "branch", "taken")

	_, err := m.Add(ctx, "clash", "taken")
	require.Error(t, err)

	entries, err := m.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.NoDirExists(t, filepath.Join(m.BaseDir(), "clash"))
}

// breakRegistry lets git succeed, then makes the registry unwritable.
type breakRegistry struct {
	Git
	base string
}

func (b breakRegistry) Run(ctx context.Context, dir string, args ...string) (string, error) {
	out, err := b.Git.Run(ctx, dir, args...)
	if err == nil && len(args) > 1 && args[0] == "worktree" && args[1] == "add" {
		if err := os.MkdirAll(filepath.Join(b.base, registryFile, "blocker"), 0o755); err != nil {
			return "", err
		}
	}
	return out, err
}

func TestAddRegistryFailureRollsBack(t *testing.T) {
	tests := []struct {
		name   string
		branch string
		gone   string
	}{
		{"default branch", "", "doomed"},
		{"named branch", "feat/doomed", "feat/doomed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, repo := testManager(t)
			m.git = breakRegistry{Git: cliGit{}, base: m.BaseDir()}

			_, err := m.Add(context.Background(), "doomed", tt.branch)
			require.Error(t, err)
			assert.NoDirExists(t, filepath.Join(m.BaseDir(), "doomed"))

			out := runIn(t, repo, "git", "worktree", "list", "--porcelain")
			assert.NotContains(t, out, "doomed")
			branches := runIn(t, repo, "git", "branch", "--list", tt.gone)
			assert.Empty(t, strings.TrimSpace(branches), "branch %s left behind", tt.gone)
		})
	}
}

func TestAddRegistryFailureKeepsExistingBranch(t *testing.T) {
	m, repo := testManager(t)
	runIn(t, repo, "git", "branch", "doomed")
	m.git = breakRegistry{Git: cliGit{}, base: m.BaseDir()}

	_, err := m.Add(context.Background(), "doomed", "")
	require.Error(t, err)

	branches := runIn(t, repo, "git", "branch", "--list", "doomed")
	assert.Contains(t, branches, "doomed")
}

func TestAddConcurrent(t *testing.T) {
	repo := initTestRepo(t)
	data, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)

	names := []string{"one", "two", "three", "four", "five", "six"}
	errs := make([]error, len(names))
	var wg sync.WaitGroup
	for i, name := range names {
		i, name := i, name
		wg.Add(1)
		go func() {
			defer wg.Done()
			m, err := Open(repo, data)
			if err != nil {
				errs[i] = err
				return
			}
			_, errs[i] = m.Add(context.Background(), name, "")
		}()
	}
	wg.Wait()
	for i, err := range errs {
		require.NoError(t, err, names[i])
	}

	m, err := Open(repo, data)
	require.NoError(t, err)
	reg, err := m.store().load()
	require.NoError(t, err)
	var got []string
	for _, e := range reg.Worktrees {
		got = append(got, e.Name)
	}
	assert.ElementsMatch(t, names, got, "every concurrent add is recorded")
}

func TestRemoveFailureRestoresEntry(t *testing.T) {
	m, _ := testManager(t)
	ctx := context.Background()

	e, err := m.Add(ctx, "dirty", "")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(e.Path, "scratch.txt"), []byte("wip"), 0o644))

	err = m.Remove(ctx, "dirty", false)
	require.Error(t, err)

	entries, err := m.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "dirty", entries[0].Name)

	require.NoError(t, m.Remove(ctx, "dirty", true))
	assert.NoDirExists(t, e.Path)
}

func TestRemoveUnknown(t *testing.T) {
	m, _ := testManager(t)
	assert.ErrorIs(t, m.Remove(context.Background(), "ghost", false), ErrNotFound)
}

func TestListMarksStaleAndRemoveDropsIt(t *testing.T) {
	m, repo := testManager(t)
	ctx := context.Background()

	e, err := m.Add(ctx, "gone", "")
	require.NoError(t, err)
	require.NoError(t, os.RemoveAll(e.Path))
	runIn(t, repo, "git", "worktree", "prune")

	entries, err := m.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].Stale)

	_, err = m.Path(ctx, "gone")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, m.Remove(ctx, "gone", false))
	entries, err = m.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestListRecordsUnregisteredWorktrees(t *testing.T) {
	m, repo := testManager(t)
	ctx := context.Background()

	path := filepath.Join(m.BaseDir(), "manual")
	require.NoError(t, os.MkdirAll(m.BaseDir(), 0o755))
	runIn(t, repo, "git", "worktree", "add", path)

	entries, err := m.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "manual", entries[0].Name)

	data, err := os.ReadFile(filepath.Join(m.BaseDir(), registryFile))
	require.NoError(t, err)
	assert.Contains(t, string(data), "name: manual")
}

func TestMounts(t *testing.T) {
	m, repo := testManager(t)
	e, err := m.Add(context.Background(), "feature", "")
	require.NoError(t, err)

	wm := m.Mounts(e.Path)
	assert.True(t, wm.Session)
	assert.Equal(t, filepath.Join(repo, ".git"), wm.GitDir)
	assert.Equal(t, m.BaseDir(), wm.BaseDir)

	assert.False(t, m.Mounts(repo).Session)
}

func TestRepairAfterRepositoryMove(t *testing.T) {
	m, repo := testManager(t)
	ctx := context.Background()

	e, err := m.Add(ctx, "feature", "")
	require.NoError(t, err)
	oldBase := m.BaseDir()

	moved := filepath.Join(filepath.Dir(repo), "app-moved")
	require.NoError(t, os.Rename(repo, moved))

	m2, err := Open(moved, m.dataDir)
	require.NoError(t, err)
	require.NotEqual(t, oldBase, m2.BaseDir())

	messages, err := m2.Repair(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, messages)

	newPath := filepath.Join(m2.BaseDir(), "feature")
	assert.DirExists(t, newPath)
	assert.NoDirExists(t, e.Path)
	assert.NoDirExists(t, oldBase)

	out := runIn(t, moved, "git", "worktree", "list", "--porcelain")
	assert.Contains(t, out, newPath)

	path, err := m2.Path(ctx, "feature")
	require.NoError(t, err)
	assert.Equal(t, newPath, path)

	r, err := Discover(newPath)
	require.NoError(t, err)
	assert.Equal(t, moved, r.MainRoot)
}

func TestParsePorcelain(t *testing.T) {
	out := strings.Join([]string{
		"worktree /src/app",
		"HEAD 1111111111111111111111111111111111111111",
		"branch refs/heads/main",
		"",
		"worktree /data/worktrees/abc/feature",
		"HEAD 2222222222222222222222222222222222222222",
		"detached",
		"",
		"worktree /src/bare.git",
		"bare",
		"",
	}, "\n")

	got := parsePorcelain(out)
	require.Len(t, got, 3)
	assert.Equal(t, gitWorktree{Path: "/src/app", Head: "1111111111111111111111111111111111111111", Branch: "main"}, got[0])
	assert.True(t, got[1].Detached)
	assert.Empty(t, got[1].Branch)
	assert.True(t, got[2].Bare)
}

func TestBaseDir(t *testing.T) {
	a := BaseDir("/data", "/src/app")
	assert.Equal(t, filepath.Join("/data", "worktrees", Hash("/src/app")), a)
	assert.Len(t, Hash("/src/app"), 12)
	assert.NotEqual(t, a, BaseDir("/data", "/src/other"))
}
