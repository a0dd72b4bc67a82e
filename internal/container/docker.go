package container

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/docker/docker/client"

	"github.com/jakenelson/agentbox/internal/spec"
)

const pingTimeout = 3 * time.Second

// Docker is the fallback backend.
type Docker struct {
	*cliBackend
	ping func(ctx context.Context) error
}

// NewDocker returns a Docker backend that runs through exec.
func NewDocker(ex Executor) *Docker {
	return &Docker{
		cliBackend: &cliBackend{
			name:    BackendDocker,
			bin:     BackendDocker,
			exec:    ex,
			dialect: dockerDialect{},
		},
		ping: pingDaemon,
	}
}

// Available reports whether the docker CLI is installed and its daemon answers.
func (d *Docker) Available(ctx context.Context) bool {
	if _, err := lookPath(d.bin); err != nil {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	return d.ping(ctx) == nil
}

func pingDaemon(ctx context.Context) error {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return fmt.Errorf("failed to create Docker client: %w", err)
	}
	defer cli.Close()

	if _, err := cli.Ping(ctx); err != nil {
		return fmt.Errorf("failed to connect to Docker: %w", err)
	}
	return nil
}

type dockerDialect struct{}

// identityArgs: docker needs nothing beyond --user.
func (dockerDialect) identityArgs(spec.ContainerSpec) []string {
	return nil
}

func (dockerDialect) groupArgs(groups []int) []string {
	var args []string
	for _, g := range groups {
		args = append(args, "--group-add", strconv.Itoa(g))
	}
	return args
}
