package container

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/containerd/errdefs"

	"github.com/jakenelson/agentbox/internal/log"
	"github.com/jakenelson/agentbox/internal/spec"
)

// dialect holds the flags that differ between backends.
type dialect interface {
	// identityArgs are emitted before --user.
	identityArgs(s spec.ContainerSpec) []string
	groupArgs(groups []int) []string
}

// cliBackend implements Runtime and VolumeLister on top of a docker-compatible CLI.
type cliBackend struct {
	name    string
	bin     string
	exec    Executor
	dialect dialect
}

func (b *cliBackend) Name() string { return b.name }

// call runs a captured subcommand and turns a non-zero exit into a RuntimeError.
func (b *cliBackend) call(ctx context.Context, op string, args ...string) (Result, error) {
	log.Debug("runtime call", "backend", b.name, "args", args)
	res, err := b.exec.Execute(ctx, b.bin, Invocation{Args: args})
	if err != nil {
		return res, &RuntimeError{Backend: b.name, Operation: op, ExitCode: -1, Err: err}
	}
	if res.ExitCode != 0 {
		return res, b.failure(op, res)
	}
	return res, nil
}

func (b *cliBackend) failure(op string, res Result) *RuntimeError {
	e := &RuntimeError{
		Backend:   b.name,
		Operation: op,
		ExitCode:  res.ExitCode,
		Stderr:    strings.TrimSpace(res.Stderr),
	}
	if isNotFound(res.Stderr) {
		e.Err = errdefs.ErrNotFound
	}
	return e
}

var notFoundMarkers = []string{
	"no such volume",
	"no such image",
	"no such object",
	"image not known",
	"volume not known",
}

func isNotFound(stderr string) bool {
	s := strings.ToLower(stderr)
	for _, m := range notFoundMarkers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}

func (b *cliBackend) Pull(ctx context.Context, image string) error {
	// Progress goes to the terminal.
	res, err := b.exec.Execute(ctx, b.bin, Invocation{Args: []string{"pull", image}, Attach: true})
	if err != nil {
		return &RuntimeError{Backend: b.name, Operation: "pull", ExitCode: -1, Err: err}
	}
	if res.ExitCode != 0 {
		return b.failure("pull", res)
	}
	return nil
}

func (b *cliBackend) Run(ctx context.Context, s spec.ContainerSpec) (int, error) {
	args := b.RunArgs(s)
	log.Debug("runtime run", "backend", b.name, "args", args)
	res, err := b.exec.Execute(ctx, b.bin, Invocation{Args: args, Attach: true})
	if err != nil {
		return -1, &RuntimeError{Backend: b.name, Operation: "run", ExitCode: -1, Err: err}
	}
	return res.ExitCode, nil
}

func (b *cliBackend) CreateVolume(ctx context.Context, name string, labels map[string]string) error {
	args := []string{"volume", "create"}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		args = append(args, "--label", k+"="+labels[k])
	}
	args = append(args, name)

	_, err := b.call(ctx, "volume create", args...)
	return err
}

func (b *cliBackend) RemoveVolume(ctx context.Context, name string) error {
	_, err := b.call(ctx, "volume rm", "volume", "rm", name)
	return err
}

func (b *cliBackend) VolumeExists(ctx context.Context, name string) (bool, error) {
	_, err := b.call(ctx, "volume inspect", "volume", "inspect", name)
	if err == nil {
		return true, nil
	}
	if errdefs.IsNotFound(err) {
		return false, nil
	}
	return false, err
}

func (b *cliBackend) InspectImage(ctx context.Context, image string) (string, bool, error) {
	res, err := b.call(ctx, "image inspect", "image", "inspect", "--format", "{{.Id}}", image)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return "", false, nil
		}
		return "", false, err
	}
	return strings.TrimSpace(res.Stdout), true, nil
}

func (b *cliBackend) ListVolumes(ctx context.Context, label string) ([]VolumeInfo, error) {
	res, err := b.call(ctx, "volume ls", "volume", "ls", "--filter", "label="+label, "--format", "{{.Name}}")
	if err != nil {
		return nil, err
	}

	var volumes []VolumeInfo
	for _, name := range strings.Fields(res.Stdout) {
		out, err := b.call(ctx, "volume inspect", "volume", "inspect", "--format", "{{json .Labels}}", name)
		if err != nil {
			// Removed between ls and inspect.
			if errdefs.IsNotFound(err) {
				continue
			}
			return nil, err
		}
		labels := map[string]string{}
		if raw := strings.TrimSpace(out.Stdout); raw != "" && raw != "null" {
			if err := json.Unmarshal([]byte(raw), &labels); err != nil {
				return nil, fmt.Errorf("failed to parse labels of volume %s: %w", name, err)
			}
		}
		volumes = append(volumes, VolumeInfo{Name: name, Labels: labels})
	}
	return volumes, nil
}

func (b *cliBackend) InUse(ctx context.Context, source string) (bool, error) {
	res, err := b.call(ctx, "ps", "ps", "--quiet", "--filter", "volume="+source)
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(res.Stdout) != "", nil
}

// RunArgs translates s into the backend's run arguments.
func (b *cliBackend) RunArgs(s spec.ContainerSpec) []string {
	args := []string{"run", "--rm"}
	if s.Interactive() {
		args = append(args, "-i")
	}
	if s.TTY() {
		args = append(args, "-t")
	}

	args = append(args, b.dialect.identityArgs(s)...)
	if u, ok := s.User(); ok {
		args = append(args, "--user", u.String())
	}
	args = append(args, b.dialect.groupArgs(s.Groups())...)

	if wd := s.WorkingDir(); wd != "" {
		args = append(args, "--workdir", wd)
	}
	if s.Network() == spec.NetworkNone {
		args = append(args, "--network", "none")
	}
	for _, kv := range s.EnvList() {
		args = append(args, "--env", kv)
	}
	for _, m := range s.Mounts() {
		args = append(args, "--mount", mountArg(m))
	}
	args = append(args, resourceArgs(s)...)

	args = append(args, s.Image())
	return append(args, s.Command()...)
}

func mountArg(m spec.Mount) string {
	fields := []string{
		"type=" + string(m.Type),
		"source=" + m.Source,
		"target=" + m.Target,
	}
	if m.ReadOnly {
		fields = append(fields, "readonly")
	}
	for i, f := range fields {
		// --mount is parsed as CSV.
		if strings.ContainsAny(f, `,"`) {
			fields[i] = `"` + strings.ReplaceAll(f, `"`, `""`) + `"`
		}
	}
	return strings.Join(fields, ",")
}

func resourceArgs(s spec.ContainerSpec) []string {
	r := s.Resources()
	var args []string
	if r.Memory != "" {
		swap := r.MemorySwap
		if swap == "" {
			// Same as memory: no swap on top of the memory limit.
			swap = r.Memory
		}
		args = append(args, "--memory", r.Memory, "--memory-swap", swap)
	}
	if r.CPUs > 0 {
		args = append(args, "--cpus", strconv.FormatFloat(r.CPUs, 'f', -1, 64))
	}
	if r.PidsLimit > 0 {
		args = append(args, "--pids-limit", strconv.Itoa(r.PidsLimit))
	}
	return args
}
