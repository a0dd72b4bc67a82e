package container

import (
	"context"
	"errors"
	"fmt"

	"github.com/jakenelson/agentbox/internal/log"
)

// ErrNoRuntime is returned when neither backend is usable.
var ErrNoRuntime = errors.New("no container runtime found: install podman or docker")

// Backend is a Runtime that can report whether it is usable on this host.
type Backend interface {
	Runtime
	VolumeLister
	Available(ctx context.Context) bool
}

// Select picks a backend. An explicit preference wins and must be
// available; otherwise podman is tried before docker.
func Select(ctx context.Context, preference string, ex Executor) (Backend, error) {
	podman, docker := NewPodman(ex), NewDocker(ex)
	return selectFrom(ctx, preference, podman, docker)
}

func selectFrom(ctx context.Context, preference string, candidates ...Backend) (Backend, error) {
	if preference != "" {
		for _, c := range candidates {
			if c.Name() != preference {
				continue
			}
			if !c.Available(ctx) {
				return nil, &RuntimeError{
					Backend:   preference,
					Operation: "select",
					ExitCode:  -1,
					Err:       fmt.Errorf("configured runtime %q is not available", preference),
				}
			}
			return c, nil
		}
		return nil, fmt.Errorf("unknown runtime %q", preference)
	}

	for _, c := range candidates {
		if c.Available(ctx) {
			log.Debug("selected runtime", "backend", c.Name())
			return c, nil
		}
		log.Debug("runtime unavailable", "backend", c.Name())
	}
	return nil, ErrNoRuntime
}
