// Package volume manages the named volumes agentbox mounts: persistent
// tool-data and cache volumes shared by every run, and ephemeral clone
// volumes that live for a single session.
package volume

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/containerd/errdefs"

	"github.com/jakenelson/agentbox/internal/container"
	"github.com/jakenelson/agentbox/internal/log"
)

// Labels carried by ephemeral volumes.
const (
	LabelEphemeral = "io.agentbox.ephemeral"
	LabelCreated   = "io.agentbox.created"
	LabelOwner     = "io.agentbox.owner"
)

// EphemeralPrefix starts every ephemeral volume name.
const EphemeralPrefix = "agentbox-clone-"

// releaseTimeout bounds volume removal after the session context is gone.
const releaseTimeout = 30 * time.Second

// Manager creates and removes volumes through a container runtime.
type Manager struct {
	rt       container.Runtime
	now      func() time.Time
	hostname string
	pid      int
	alive    func(pid int) bool
}

// NewManager returns a Manager for rt.
func NewManager(rt container.Runtime) *Manager {
	host, err := os.Hostname()
	if err != nil {
		host = "localhost"
	}
	return &Manager{
		rt:       rt,
		now:      time.Now,
		hostname: host,
		pid:      os.Getpid(),
		alive:    processAlive,
	}
}

// EnsurePersistent creates each named volume that does not exist yet.
// Calling it again for the same names does nothing.
func (m *Manager) EnsurePersistent(ctx context.Context, names ...string) error {
	for _, name := range names {
		exists, err := m.rt.VolumeExists(ctx, name)
		if err != nil {
			return fmt.Errorf("failed to check volume %s: %w", name, err)
		}
		if exists {
			continue
		}
		log.Debug("creating persistent volume", "volume", name)
		if err := m.rt.CreateVolume(ctx, name, nil); err != nil {
			return fmt.Errorf("failed to create volume %s: %w", name, err)
		}
	}
	return nil
}

// ResetPersistent removes the named volumes and returns the ones that
// existed. Missing volumes are not an error.
func (m *Manager) ResetPersistent(ctx context.Context, names ...string) ([]string, error) {
	var removed []string
	for _, name := range names {
		err := m.rt.RemoveVolume(ctx, name)
		switch {
		case err == nil:
			removed = append(removed, name)
		case errdefs.IsNotFound(err):
			log.Debug("volume already absent", "volume", name)
		default:
			return removed, fmt.Errorf("failed to remove volume %s: %w", name, err)
		}
	}
	return removed, nil
}

// owner identifies this process for the orphan sweep.
func (m *Manager) owner() string {
	return m.hostname + ":" + strconv.Itoa(m.pid)
}
