package volume

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/mount"
	"github.com/google/uuid"

	"github.com/jakenelson/agentbox/internal/log"
	"github.com/jakenelson/agentbox/internal/spec"
)

// State is the lifecycle position of an ephemeral volume.
type State int

const (
	Unallocated State = iota
	Created
	Populated
	Mounted
	Removed
)

func (s State) String() string {
	switch s {
	case Unallocated:
		return "unallocated"
	case Created:
		return "created"
	case Populated:
		return "populated"
	case Mounted:
		return "mounted"
	case Removed:
		return "removed"
	default:
		return "state(" + strconv.Itoa(int(s)) + ")"
	}
}

// Ephemeral is a clone volume owned by one session. It moves forward
// through Created, Populated and Mounted and always ends Removed.
type Ephemeral struct {
	m     *Manager
	name  string
	state State
}

// NewEphemeral names a clone volume without creating it, so specs that
// mount it can be built first.
func (m *Manager) NewEphemeral() *Ephemeral {
	return &Ephemeral{m: m, name: newEphemeralName()}
}

// Create makes the volume, labelled with its creation time and owner.
func (e *Ephemeral) Create(ctx context.Context) error {
	if e.state != Unallocated {
		return &LifecycleError{Volume: e.name, From: e.state, To: Created}
	}
	labels := map[string]string{
		LabelEphemeral: "true",
		LabelCreated:   strconv.FormatInt(e.m.now().Unix(), 10),
		LabelOwner:     e.m.owner(),
	}
	if err := e.m.rt.CreateVolume(ctx, e.name, labels); err != nil {
		return fmt.Errorf("failed to create clone volume: %w", err)
	}
	e.state = Created
	log.Debug("allocated clone volume", "volume", e.name)
	return nil
}

func newEphemeralName() string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return EphemeralPrefix + id[:12]
}

// Name returns the volume name.
func (e *Ephemeral) Name() string { return e.name }

// State returns the current lifecycle state.
func (e *Ephemeral) State() State { return e.state }

// PopulateError is a clone run that exited non-zero.
type PopulateError struct {
	Volume   string
	ExitCode int
}

func (e *PopulateError) Error() string {
	return fmt.Sprintf("clone into volume %s exited with code %d", e.Volume, e.ExitCode)
}

// Populate runs clone, which must mount the volume. Populate is attempted
// at most once. When the clone fails the volume is removed before the
// error is returned.
func (e *Ephemeral) Populate(ctx context.Context, clone spec.ContainerSpec) error {
	if e.state != Created {
		return &LifecycleError{Volume: e.name, From: e.state, To: Populated}
	}
	if !references(clone, e.name) {
		return &LifecycleError{Volume: e.name, From: e.state, To: Populated, Err: errNotMounted}
	}

	code, err := e.m.rt.Run(ctx, clone)
	if err == nil && code != 0 {
		err = &PopulateError{Volume: e.name, ExitCode: code}
	}
	if err != nil {
		if rerr := e.Release(ctx); rerr != nil {
			log.Warn("failed to remove clone volume", "volume", e.name, "error", rerr)
		}
		return err
	}

	e.state = Populated
	return nil
}

// Mount records that work mounts the populated volume.
func (e *Ephemeral) Mount(work spec.ContainerSpec) error {
	if e.state != Populated {
		return &LifecycleError{Volume: e.name, From: e.state, To: Mounted}
	}
	if !references(work, e.name) {
		return &LifecycleError{Volume: e.name, From: e.state, To: Mounted, Err: errNotMounted}
	}
	e.state = Mounted
	return nil
}

// Release removes the volume. It runs even after ctx is cancelled and may
// be called more than once; releasing an already removed volume is a no-op.
func (e *Ephemeral) Release(ctx context.Context) error {
	switch e.state {
	case Removed:
		log.Debug("clone volume already released", "volume", e.name)
		return nil
	case Unallocated:
		log.Warn("clone volume was never created", "error", &LifecycleError{Volume: e.name, From: e.state, To: Removed})
		return nil
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()

	err := e.m.rt.RemoveVolume(ctx, e.name)
	if err != nil && !errdefs.IsNotFound(err) {
		return fmt.Errorf("failed to remove clone volume %s: %w", e.name, err)
	}
	if err != nil {
		log.Warn("clone volume was already gone", "error", &LifecycleError{Volume: e.name, From: e.state, To: Removed, Err: err})
	}
	e.state = Removed
	log.Debug("released clone volume", "volume", e.name)
	return nil
}

func references(s spec.ContainerSpec, name string) bool {
	for _, m := range s.Mounts() {
		if m.Type == mount.TypeVolume && m.Source == name {
			return true
		}
	}
	return false
}
