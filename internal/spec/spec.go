// Package spec builds the backend-agnostic description of one container
// invocation from the effective configuration and the host platform.
package spec

import (
	"maps"
	"slices"
	"sort"
	"strconv"

	"github.com/docker/docker/api/types/mount"

	"github.com/jakenelson/agentbox/internal/config"
)

// Network is the container network mode.
type Network string

const (
	NetworkBridge Network = "bridge"
	NetworkNone   Network = "none"
)

// Mount is a single bind or named-volume mount.
type Mount struct {
	Type     mount.Type // mount.TypeBind or mount.TypeVolume
	Source   string     // host path or volume name
	Target   string     // absolute path in the container
	ReadOnly bool
}

// Bind returns a bind mount of source at target.
func Bind(source, target string, readOnly bool) Mount {
	return Mount{Type: mount.TypeBind, Source: source, Target: target, ReadOnly: readOnly}
}

// Volume returns a named-volume mount.
func Volume(name, target string) Mount {
	return Mount{Type: mount.TypeVolume, Source: name, Target: target}
}

// UserMapping is the host identity the container process runs as.
type UserMapping struct {
	UID int
	GID int
}

func (u UserMapping) String() string {
	return strconv.Itoa(u.UID) + ":" + strconv.Itoa(u.GID)
}

// Params holds every field of a ContainerSpec.
type Params struct {
	Image       string
	Command     []string
	WorkingDir  string
	Env         map[string]string
	Mounts      []Mount
	Resources   config.ResourceLimits
	Network     Network
	User        *UserMapping
	Groups      []int
	TTY         bool
	Interactive bool
}

// ContainerSpec is an immutable container invocation. Build a new one to
// change anything.
type ContainerSpec struct {
	p Params
}

// New copies p into a ContainerSpec.
func New(p Params) ContainerSpec {
	return ContainerSpec{p: clone(p)}
}

func clone(p Params) Params {
	p.Command = slices.Clone(p.Command)
	p.Env = maps.Clone(p.Env)
	p.Mounts = slices.Clone(p.Mounts)
	p.Groups = slices.Clone(p.Groups)
	if p.User != nil {
		u := *p.User
		p.User = &u
	}
	if p.Network == "" {
		p.Network = NetworkBridge
	}
	return p
}

// Params returns a copy of the spec's fields, for building a variant.
func (s ContainerSpec) Params() Params { return clone(s.p) }

func (s ContainerSpec) Image() string                    { return s.p.Image }
func (s ContainerSpec) Command() []string                { return slices.Clone(s.p.Command) }
func (s ContainerSpec) WorkingDir() string               { return s.p.WorkingDir }
func (s ContainerSpec) Mounts() []Mount                  { return slices.Clone(s.p.Mounts) }
func (s ContainerSpec) Resources() config.ResourceLimits { return s.p.Resources }
func (s ContainerSpec) Network() Network                 { return s.p.Network }
func (s ContainerSpec) Groups() []int                    { return slices.Clone(s.p.Groups) }
func (s ContainerSpec) TTY() bool                        { return s.p.TTY }
func (s ContainerSpec) Interactive() bool                { return s.p.Interactive }

// User returns the user mapping and whether one is set.
func (s ContainerSpec) User() (UserMapping, bool) {
	if s.p.User == nil {
		return UserMapping{}, false
	}
	return *s.p.User, true
}

// Env returns a copy of the environment mapping.
func (s ContainerSpec) Env() map[string]string {
	return maps.Clone(s.p.Env)
}

// EnvList returns the environment as sorted KEY=VALUE pairs.
func (s ContainerSpec) EnvList() []string {
	keys := make([]string, 0, len(s.p.Env))
	for k := range s.p.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+s.p.Env[k])
	}
	return out
}
