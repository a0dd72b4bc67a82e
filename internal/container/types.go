// Package container drives a container runtime binary (podman or docker)
// as a subprocess. Both backends accept the same ContainerSpec and differ
// only in the literal flags they pass.
package container

import (
	"context"
	"fmt"
	"strings"

	"github.com/jakenelson/agentbox/internal/spec"
)

// Backend names
const (
	BackendPodman = "podman"
	BackendDocker = "docker"
)

// Runtime is the capability set every backend implements. Calls block until
// the backend subprocess exits and never retry.
type Runtime interface {
	Name() string
	Pull(ctx context.Context, image string) error
	// Run executes s in the foreground and returns the container exit code.
	Run(ctx context.Context, s spec.ContainerSpec) (int, error)
	CreateVolume(ctx context.Context, name string, labels map[string]string) error
	RemoveVolume(ctx context.Context, name string) error
	VolumeExists(ctx context.Context, name string) (bool, error)
	// InspectImage returns the local image ID, or found=false when the
	// image is not present.
	InspectImage(ctx context.Context, image string) (digest string, found bool, err error)
}

// VolumeLister is implemented by backends that can enumerate volumes and
// the containers using them. The orphan sweep needs it.
type VolumeLister interface {
	ListVolumes(ctx context.Context, label string) ([]VolumeInfo, error)
	// InUse reports whether a running container mounts source (a volume
	// name or a host path).
	InUse(ctx context.Context, source string) (bool, error)
}

// VolumeInfo describes one volume.
type VolumeInfo struct {
	Name   string
	Labels map[string]string
}

// RuntimeError is a failed backend subprocess.
type RuntimeError struct {
	Backend   string
	Operation string
	ExitCode  int // -1 when the binary could not be started
	Stderr    string
	Err       error
}

func (e *RuntimeError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s failed", e.Backend, e.Operation)
	if e.ExitCode >= 0 {
		fmt.Fprintf(&b, " (exit code %d)", e.ExitCode)
	}
	if e.Stderr != "" {
		b.WriteString(": " + e.Stderr)
	} else if e.Err != nil {
		b.WriteString(": " + e.Err.Error())
	}
	return b.String()
}

func (e *RuntimeError) Unwrap() error {
	return e.Err
}
