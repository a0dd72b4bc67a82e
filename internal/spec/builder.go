package spec

import (
	"fmt"
	"path"
	"path/filepath"

	"github.com/jakenelson/agentbox/internal/config"
	"github.com/jakenelson/agentbox/internal/log"
	"github.com/jakenelson/agentbox/internal/platform"
	"github.com/jakenelson/agentbox/internal/security"
)

// Container paths
const (
	SandboxHome    = "/home"
	CloneWorkspace = "/workspace"
	SSHAgentTarget = "/ssh-agent"
	ToolManifest   = SandboxHome + "/.config/mise/config.toml"
)

// PersistentVolume is a named volume shared by every run.
type PersistentVolume struct {
	Name   string
	Target string
}

// PersistentVolumes hold tool installs and caches across runs.
var PersistentVolumes = []PersistentVolume{
	{Name: "agentbox-data", Target: SandboxHome + "/.local/share/mise"},
	{Name: "agentbox-cache", Target: SandboxHome + "/.cache"},
	{Name: "agentbox-nix", Target: "/nix"},
}

// PersistentVolumeNames returns the names of PersistentVolumes.
func PersistentVolumeNames() []string {
	names := make([]string, 0, len(PersistentVolumes))
	for _, v := range PersistentVolumes {
		names = append(names, v.Name)
	}
	return names
}

// Overrides carries per-invocation inputs that do not come from config.
type Overrides struct {
	// ProjectDir is the absolute host directory mounted as the project.
	// Clone work specs only use it to resolve relative custom mounts.
	ProjectDir  string
	Command     []string
	TTY         bool
	Interactive bool
	Worktree    *WorktreeMounts
}

// WorktreeMounts describes the git worktree layout of the project.
type WorktreeMounts struct {
	GitDir  string // main repository .git directory
	BaseDir string // directory holding every worktree of the repository
	// Session is true when ProjectDir is itself a worktree under BaseDir.
	Session bool
}

// CloneTarget identifies what an ephemeral clone volume holds.
type CloneTarget struct {
	URL    string
	Ref    string
	Volume string
}

// Builder turns configuration and platform facts into ContainerSpecs.
type Builder struct {
	exists       func(string) bool
	toolManifest string
}

// NewBuilder returns a Builder that probes the real filesystem.
func NewBuilder() *Builder {
	return &Builder{
		exists:       security.Exists,
		toolManifest: config.ToolManifestPath(),
	}
}

// BuildRunSpec builds the spec for an interactive or agent run against a
// host project directory.
func (b *Builder) BuildRunSpec(cfg *config.Config, plat platform.Info, ov Overrides) (ContainerSpec, error) {
	if ov.ProjectDir == "" || !filepath.IsAbs(ov.ProjectDir) {
		return ContainerSpec{}, &SpecError{Mount: "project", Reason: fmt.Sprintf("project directory %q must be an absolute path", ov.ProjectDir)}
	}
	if !b.exists(ov.ProjectDir) {
		return ContainerSpec{}, &SpecError{Mount: ov.ProjectDir, Reason: "project directory does not exist"}
	}

	mounts := identityMounts(plat)
	mounts = append(mounts, b.projectMounts(cfg, ov)...)
	mounts = append(mounts, b.persistentMounts()...)

	features, groups, err := b.featureMounts(cfg, plat)
	if err != nil {
		return ContainerSpec{}, err
	}
	mounts = append(mounts, features...)

	custom, err := b.customMounts(cfg, plat.Home, ov.ProjectDir)
	if err != nil {
		return ContainerSpec{}, err
	}
	mounts = append(mounts, custom...)

	return New(Params{
		Image:       cfg.Image,
		Command:     ov.Command,
		WorkingDir:  ov.ProjectDir,
		Env:         b.environment(cfg, plat, ov.ProjectDir),
		Mounts:      mounts,
		Resources:   cfg.Resources,
		Network:     networkMode(cfg),
		User:        userMapping(plat),
		Groups:      groups,
		TTY:         ov.TTY,
		Interactive: ov.Interactive,
	}), nil
}

// BuildCloneSpec builds the spec that clones target.URL into the fresh
// volume target.Volume. It always has network access.
func (b *Builder) BuildCloneSpec(cfg *config.Config, plat platform.Info, target CloneTarget) (ContainerSpec, error) {
	repo, err := RepoName(target.URL)
	if err != nil {
		return ContainerSpec{}, &SpecError{Mount: "clone", Reason: err.Error()}
	}
	if target.Volume == "" {
		return ContainerSpec{}, &SpecError{Mount: "clone", Reason: "no volume to clone into"}
	}

	mounts := identityMounts(plat)
	mounts = append(mounts, Volume(target.Volume, CloneWorkspace))

	env := map[string]string{"HOME": SandboxHome}
	for k, v := range plat.Terminal {
		env[k] = v
	}
	if cfg.SSHAgent {
		if m, ok := sshAgentMount(plat); ok {
			mounts = append(mounts, m)
			addSSHEnv(env)
		}
	}

	command := []string{"git", "clone", "--depth", "1"}
	if target.Ref != "" {
		command = append(command, "--branch", target.Ref)
	}
	command = append(command, target.URL, path.Join(CloneWorkspace, repo))

	return New(Params{
		Image:      cfg.Image,
		Command:    command,
		WorkingDir: CloneWorkspace,
		Env:        env,
		Mounts:     mounts,
		Resources:  cfg.Resources,
		Network:    NetworkBridge,
		User:       userMapping(plat),
	}), nil
}

// BuildCloneWorkSpec builds the agent spec for a populated clone volume,
// mounted as the project root in place of a host directory.
func (b *Builder) BuildCloneWorkSpec(cfg *config.Config, plat platform.Info, target CloneTarget, ov Overrides) (ContainerSpec, error) {
	repo, err := RepoName(target.URL)
	if err != nil {
		return ContainerSpec{}, &SpecError{Mount: "clone", Reason: err.Error()}
	}
	workDir := path.Join(CloneWorkspace, repo)

	mounts := identityMounts(plat)
	mounts = append(mounts, Volume(target.Volume, CloneWorkspace))
	mounts = append(mounts, b.persistentMounts()...)

	features, groups, err := b.featureMounts(cfg, plat)
	if err != nil {
		return ContainerSpec{}, err
	}
	mounts = append(mounts, features...)

	custom, err := b.customMounts(cfg, plat.Home, ov.ProjectDir)
	if err != nil {
		return ContainerSpec{}, err
	}
	mounts = append(mounts, custom...)

	return New(Params{
		Image:       cfg.Image,
		Command:     ov.Command,
		WorkingDir:  workDir,
		Env:         b.environment(cfg, plat, workDir),
		Mounts:      mounts,
		Resources:   cfg.Resources,
		Network:     networkMode(cfg),
		User:        userMapping(plat),
		Groups:      groups,
		TTY:         ov.TTY,
		Interactive: ov.Interactive,
	}), nil
}

func networkMode(cfg *config.Config) Network {
	if cfg.NoNetwork {
		return NetworkNone
	}
	return NetworkBridge
}

func userMapping(plat platform.Info) *UserMapping {
	if !plat.UIDMapping {
		return nil
	}
	return &UserMapping{UID: plat.UID, GID: plat.GID}
}

func identityMounts(plat platform.Info) []Mount {
	if !plat.PasswdMount() {
		return nil
	}
	return []Mount{
		Bind("/etc/passwd", "/etc/passwd", true),
		Bind("/etc/group", "/etc/group", true),
	}
}

// projectMounts mounts the project at its host path so paths printed inside
// the container are valid on the host too.
func (b *Builder) projectMounts(cfg *config.Config, ov Overrides) []Mount {
	wt := ov.Worktree
	if wt != nil && wt.Session {
		return []Mount{
			// Shared objects, refs and worktree locks live here.
			Bind(wt.GitDir, wt.GitDir, false),
			Bind(wt.BaseDir, wt.BaseDir, cfg.ReadonlyProject),
		}
	}

	mounts := []Mount{Bind(ov.ProjectDir, ov.ProjectDir, cfg.ReadonlyProject)}
	// Without the worktree dirs git inside the container marks them prunable.
	if wt != nil && wt.BaseDir != "" && b.exists(wt.BaseDir) {
		mounts = append(mounts, Bind(wt.BaseDir, wt.BaseDir, cfg.ReadonlyProject))
	}
	return mounts
}

func (b *Builder) persistentMounts() []Mount {
	mounts := make([]Mount, 0, len(PersistentVolumes)+1)
	for _, v := range PersistentVolumes {
		mounts = append(mounts, Volume(v.Name, v.Target))
	}
	if b.toolManifest != "" && b.exists(b.toolManifest) {
		mounts = append(mounts, Bind(b.toolManifest, ToolManifest, true))
	} else {
		log.Debug("no tool manifest, using image defaults", "path", b.toolManifest)
	}
	return mounts
}
