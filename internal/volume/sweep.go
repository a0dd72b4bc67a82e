package volume

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/containerd/errdefs"

	"github.com/jakenelson/agentbox/internal/container"
	"github.com/jakenelson/agentbox/internal/log"
)

// DefaultGrace is how old an ephemeral volume must be before the sweep
// considers it orphaned.
const DefaultGrace = time.Hour

// SweepOptions tune an orphan sweep.
type SweepOptions struct {
	Grace time.Duration
	// All ignores Grace. Volumes still in use are kept regardless.
	All bool
}

// SweepResult lists what a sweep did. Errors never abort the sweep.
type SweepResult struct {
	Removed []string
	Kept    []string
	Errors  []error
}

// Sweep removes ephemeral volumes left behind by sessions that never
// reached Release, typically after a hard kill.
func (m *Manager) Sweep(ctx context.Context, lister container.VolumeLister, opts SweepOptions) SweepResult {
	var res SweepResult

	vols, err := lister.ListVolumes(ctx, LabelEphemeral+"=true")
	if err != nil {
		res.Errors = append(res.Errors, err)
		return res
	}

	for _, v := range vols {
		if reason := m.keep(ctx, lister, v, opts); reason != "" {
			log.Debug("keeping clone volume", "volume", v.Name, "reason", reason)
			res.Kept = append(res.Kept, v.Name)
			continue
		}
		if err := m.rt.RemoveVolume(ctx, v.Name); err != nil && !errdefs.IsNotFound(err) {
			log.Warn("failed to remove orphaned clone volume", "volume", v.Name, "error", err)
			res.Errors = append(res.Errors, err)
			continue
		}
		res.Removed = append(res.Removed, v.Name)
	}
	return res
}

// keep returns why v must not be removed, or "".
func (m *Manager) keep(ctx context.Context, lister container.VolumeLister, v container.VolumeInfo, opts SweepOptions) string {
	if !opts.All {
		created, err := strconv.ParseInt(v.Labels[LabelCreated], 10, 64)
		if err != nil {
			return "no creation time"
		}
		if m.now().Sub(time.Unix(created, 0)) < opts.Grace {
			return "within grace period"
		}
	}

	if host, pid, ok := parseOwner(v.Labels[LabelOwner]); ok && host == m.hostname && m.alive(pid) {
		return "owner process alive"
	}

	used, err := lister.InUse(ctx, v.Name)
	if err != nil {
		return "in-use check failed: " + err.Error()
	}
	if used {
		return "mounted by a container"
	}
	return ""
}

func parseOwner(s string) (host string, pid int, ok bool) {
	i := strings.LastIndexByte(s, ':')
	if i <= 0 {
		return "", 0, false
	}
	pid, err := strconv.Atoi(s[i+1:])
	if err != nil || pid <= 0 {
		return "", 0, false
	}
	return s[:i], pid, true
}
