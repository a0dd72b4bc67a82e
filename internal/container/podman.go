package container

import (
	"context"
	"os/exec"

	"github.com/jakenelson/agentbox/internal/spec"
)

// lookPath is replaced in tests.
var lookPath = exec.LookPath

// Podman is the rootless-preferred backend.
type Podman struct {
	*cliBackend
}

// NewPodman returns a Podman backend that runs through exec.
func NewPodman(ex Executor) *Podman {
	return &Podman{&cliBackend{
		name:    BackendPodman,
		bin:     BackendPodman,
		exec:    ex,
		dialect: podmanDialect{},
	}}
}

// Available reports whether the podman binary is installed.
func (p *Podman) Available(ctx context.Context) bool {
	_, err := lookPath(p.bin)
	return err == nil
}

type podmanDialect struct{}

// identityArgs keeps the host UID inside the rootless user namespace so
// bind-mounted files keep their owner, and disables SELinux relabeling of
// host paths.
func (podmanDialect) identityArgs(s spec.ContainerSpec) []string {
	var args []string
	if _, ok := s.User(); ok {
		args = append(args, "--userns=keep-id")
	}
	return append(args, "--security-opt", "label=disable")
}

// groupArgs: individual host gids are not mapped in a rootless namespace;
// keep-groups carries the caller's supplementary groups instead.
func (podmanDialect) groupArgs(groups []int) []string {
	if len(groups) == 0 {
		return nil
	}
	return []string{"--group-add", "keep-groups"}
}
