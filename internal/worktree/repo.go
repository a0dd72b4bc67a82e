package worktree

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5"
)

// Repo locates a checkout and the main repository it belongs to.
type Repo struct {
	Root     string // top level of the checkout, possibly a linked worktree
	MainRoot string // top level of the main repository
	GitDir   string // MainRoot/.git
}

// Discover finds the repository containing dir. Symlinks are resolved so
// the same repository always hashes to the same base directory.
func Discover(dir string) (Repo, error) {
	r, err := git.PlainOpenWithOptions(dir, &git.PlainOpenOptions{
		DetectDotGit:          true,
		EnableDotGitCommonDir: true,
	})
	if err != nil {
		return Repo{}, fmt.Errorf("not a git repository: %s: %w", dir, err)
	}
	wt, err := r.Worktree()
	if err != nil {
		return Repo{}, fmt.Errorf("repository at %s has no working tree: %w", dir, err)
	}

	root, err := filepath.EvalSymlinks(wt.Filesystem.Root())
	if err != nil {
		return Repo{}, err
	}
	gitDir, err := commonDir(root)
	if err != nil {
		return Repo{}, err
	}
	return Repo{Root: root, MainRoot: filepath.Dir(gitDir), GitDir: gitDir}, nil
}

// commonDir returns the .git directory shared by every worktree of the
// repository checked out at root.
func commonDir(root string) (string, error) {
	dotGit := filepath.Join(root, ".git")
	fi, err := os.Stat(dotGit)
	if err != nil {
		return "", err
	}
	if fi.IsDir() {
		return dotGit, nil
	}

	// Linked worktree: .git is "gitdir: <main>/.git/worktrees/<id>".
	data, err := os.ReadFile(dotGit)
	if err != nil {
		return "", err
	}
	gitdir, ok := strings.CutPrefix(strings.TrimSpace(string(data)), "gitdir:")
	if !ok {
		return "", fmt.Errorf("malformed %s", dotGit)
	}
	gitdir = strings.TrimSpace(gitdir)
	if !filepath.IsAbs(gitdir) {
		gitdir = filepath.Join(root, gitdir)
	}

	common := filepath.Join(gitdir, "..", "..")
	if data, err := os.ReadFile(filepath.Join(gitdir, "commondir")); err == nil {
		common = strings.TrimSpace(string(data))
		if !filepath.IsAbs(common) {
			common = filepath.Join(gitdir, common)
		}
	}
	return filepath.EvalSymlinks(common)
}

// Hash names the base directory of a main repository.
func Hash(mainRoot string) string {
	sum := sha256.Sum256([]byte(mainRoot))
	return hex.EncodeToString(sum[:])[:12]
}

// BaseDir is where every worktree of the repository at mainRoot lives.
func BaseDir(dataDir, mainRoot string) string {
	return filepath.Join(dataDir, "worktrees", Hash(mainRoot))
}
