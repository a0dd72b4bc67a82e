// Package session runs one agentbox invocation: it builds the container
// specs from the resolved configuration, prepares the volumes they mount
// and hands them to the runtime.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/jakenelson/agentbox/internal/config"
	"github.com/jakenelson/agentbox/internal/container"
	"github.com/jakenelson/agentbox/internal/log"
	"github.com/jakenelson/agentbox/internal/platform"
	"github.com/jakenelson/agentbox/internal/spec"
	"github.com/jakenelson/agentbox/internal/volume"
)

// Session ties a resolved configuration and host platform to a runtime.
type Session struct {
	cfg     *config.Config
	plat    platform.Info
	rt      container.Runtime
	builder *spec.Builder
	volumes *volume.Manager
	out     io.Writer
}

// New creates a session. Progress lines go to stderr.
func New(cfg *config.Config, plat platform.Info, rt container.Runtime) *Session {
	return &Session{
		cfg:     cfg,
		plat:    plat,
		rt:      rt,
		builder: spec.NewBuilder(),
		volumes: volume.NewManager(rt),
		out:     os.Stderr,
	}
}

// Request describes what to run.
type Request struct {
	ProjectDir  string
	Command     []string
	TTY         bool
	Interactive bool
	Worktree    *spec.WorktreeMounts
	// Clone runs against a fresh clone instead of ProjectDir.
	Clone *Clone
}

// Clone names a repository to clone into an ephemeral volume.
type Clone struct {
	URL string
	Ref string
}

func (r Request) overrides() spec.Overrides {
	return spec.Overrides{
		ProjectDir:  r.ProjectDir,
		Command:     r.Command,
		TTY:         r.TTY,
		Interactive: r.Interactive,
		Worktree:    r.Worktree,
	}
}

// Run executes req in the foreground and returns the container exit code.
func (s *Session) Run(ctx context.Context, req Request) (int, error) {
	if req.Clone != nil {
		return s.runClone(ctx, req)
	}

	work, err := s.builder.BuildRunSpec(s.cfg, s.plat, req.overrides())
	if err != nil {
		return 1, err
	}
	if err := s.prepare(ctx); err != nil {
		return 1, err
	}
	fmt.Fprintf(s.out, "Launching %s in %s\n", s.cfg.Image, req.ProjectDir)
	return s.rt.Run(ctx, work)
}

// runClone clones into an ephemeral volume, runs the agent against it and
// removes the volume afterwards, whatever the outcome.
func (s *Session) runClone(ctx context.Context, req Request) (int, error) {
	vol := s.volumes.NewEphemeral()
	target := spec.CloneTarget{URL: req.Clone.URL, Ref: req.Clone.Ref, Volume: vol.Name()}

	cloneSpec, err := s.builder.BuildCloneSpec(s.cfg, s.plat, target)
	if err != nil {
		return 1, err
	}
	work, err := s.builder.BuildCloneWorkSpec(s.cfg, s.plat, target, req.overrides())
	if err != nil {
		return 1, err
	}
	if err := s.prepare(ctx); err != nil {
		return 1, err
	}

	if err := vol.Create(ctx); err != nil {
		return 1, err
	}
	defer func() {
		if vol.State() == volume.Removed {
			return
		}
		if err := vol.Release(ctx); err != nil {
			log.Warn("clone volume left behind, remove it with cleanup-clones", "volume", vol.Name(), "error", err)
		}
	}()

	if req.Clone.Ref != "" {
		fmt.Fprintf(s.out, "Cloning %s at %s\n", req.Clone.URL, req.Clone.Ref)
	} else {
		fmt.Fprintf(s.out, "Cloning %s\n", req.Clone.URL)
	}
	if err := vol.Populate(ctx, cloneSpec); err != nil {
		var perr *volume.PopulateError
		if errors.As(err, &perr) {
			return perr.ExitCode, err
		}
		return 1, err
	}
	if err := vol.Mount(work); err != nil {
		return 1, err
	}

	fmt.Fprintf(s.out, "Launching %s in %s\n", s.cfg.Image, work.WorkingDir())
	return s.rt.Run(ctx, work)
}

// prepare creates missing persistent volumes and refreshes the image when
// auto_pull_image is set. A failed pull only warns: a local image still runs.
func (s *Session) prepare(ctx context.Context) error {
	if err := s.volumes.EnsurePersistent(ctx, spec.PersistentVolumeNames()...); err != nil {
		return err
	}
	if !s.cfg.AutoPullImage {
		return nil
	}
	if _, err := s.PullImage(ctx); err != nil {
		log.Warn("image pull failed, using local image", "image", s.cfg.Image, "error", err)
	}
	return nil
}

// PullResult reports what a pull changed.
type PullResult struct {
	Image   string
	Digest  string
	Updated bool
}

// PullImage pulls the configured image, retrying once.
func (s *Session) PullImage(ctx context.Context) (PullResult, error) {
	image := s.cfg.Image
	before, _, err := s.rt.InspectImage(ctx, image)
	if err != nil {
		log.Debug("cannot inspect image before pull", "image", image, "error", err)
	}

	fmt.Fprintf(s.out, "Pulling %s\n", image)
	if err := s.rt.Pull(ctx, image); err != nil {
		if ctx.Err() != nil {
			return PullResult{}, err
		}
		log.Warn("image pull failed, retrying", "image", image, "error", err)
		if err := s.rt.Pull(ctx, image); err != nil {
			return PullResult{}, err
		}
	}

	after, found, err := s.rt.InspectImage(ctx, image)
	if err != nil {
		return PullResult{}, err
	}
	if !found {
		return PullResult{}, fmt.Errorf("image %s missing after pull", image)
	}
	return PullResult{Image: image, Digest: after, Updated: before != after}, nil
}

// UpgradeTools runs the tool manager's upgrade inside a container mounting
// projectDir and returns its exit code.
func (s *Session) UpgradeTools(ctx context.Context, projectDir string, tty bool) (int, error) {
	upgrade, err := s.builder.BuildRunSpec(s.cfg, s.plat, spec.Overrides{
		ProjectDir: projectDir,
		Command:    []string{"mise", "upgrade", "--yes"},
		TTY:        tty,
	})
	if err != nil {
		return 1, err
	}
	if err := s.volumes.EnsurePersistent(ctx, spec.PersistentVolumeNames()...); err != nil {
		return 1, err
	}
	fmt.Fprintln(s.out, "Upgrading tools")
	return s.rt.Run(ctx, upgrade)
}

// ResetVolumes removes the persistent volumes and returns the ones that
// existed.
func (s *Session) ResetVolumes(ctx context.Context) ([]string, error) {
	return s.volumes.ResetPersistent(ctx, spec.PersistentVolumeNames()...)
}

// CleanupClones sweeps orphaned clone volumes.
func (s *Session) CleanupClones(ctx context.Context, lister container.VolumeLister, opts volume.SweepOptions) volume.SweepResult {
	return s.volumes.Sweep(ctx, lister, opts)
}
