package spec

import (
	"fmt"
	"path"
	"strings"

	"github.com/go-git/go-git/v5/plumbing/transport"
)

// RepoName extracts the repository directory name from a clone URL.
//
//	https://github.com/user/repo.git -> repo
//	git@github.com:user/repo.git     -> repo
func RepoName(url string) (string, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return "", fmt.Errorf("empty repository URL")
	}

	ep, err := transport.NewEndpoint(url)
	if err != nil {
		return "", fmt.Errorf("invalid repository URL %q: %w", url, err)
	}

	p, _, _ := strings.Cut(ep.Path, "?")
	p, _, _ = strings.Cut(p, "#")
	name := path.Base(strings.TrimRight(p, "/"))
	name = strings.TrimSuffix(name, ".git")
	if name == "" || name == "." || name == "/" {
		return "", fmt.Errorf("could not extract repository name from URL %q", url)
	}
	return name, nil
}
