package spec

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"github.com/jakenelson/agentbox/internal/config"
	"github.com/jakenelson/agentbox/internal/log"
	"github.com/jakenelson/agentbox/internal/platform"
	"github.com/jakenelson/agentbox/internal/security"
)

var (
	gitConfigPaths = []string{".gitconfig", ".config/git"}
	aiConfigPaths  = []string{
		".claude",
		".claude.json",
		".codex",
		".gemini",
		".config/opencode",
		".local/share/opencode",
	}
)

// featureMounts returns the mounts enabled by feature flags, in fixed order,
// plus any supplementary groups they need.
func (b *Builder) featureMounts(cfg *config.Config, plat platform.Info) ([]Mount, []int, error) {
	var mounts []Mount
	var groups []int

	if cfg.SSHAgent {
		if m, ok := sshAgentMount(plat); ok {
			mounts = append(mounts, m)
		} else {
			log.Warn("SSH agent socket not found, skipping ssh-agent mount")
		}
	}

	if cfg.GitConfig {
		mounts = append(mounts, b.homeMounts(plat.Home, gitConfigPaths, true)...)
	}

	if cfg.AIConfig {
		mounts = append(mounts, b.homeMounts(plat.Home, aiConfigPaths, false)...)
		// Read-only so the container cannot delete the host IDE lock files.
		ide := filepath.Join(plat.Home, ".claude", "ide")
		if b.exists(ide) {
			mounts = append(mounts, Bind(ide, SandboxHome+"/.claude/ide", true))
		}
	}

	if cfg.ContainerSocket {
		if plat.ContainerSocket == "" {
			return nil, nil, &SpecError{Mount: "container_socket", Reason: fmt.Sprintf("no container runtime socket found on %s", plat.OS)}
		}
		mounts = append(mounts, Bind(plat.ContainerSocket, plat.ContainerSocket, false))
		if plat.IsLinux() && plat.ContainerSocketGID >= 0 {
			groups = append(groups, plat.ContainerSocketGID)
		}
	}

	if cfg.Clipboard {
		switch {
		case !plat.IsLinux():
			log.Warn("clipboard is only supported on Linux hosts", "os", plat.OS)
		case plat.WaylandSocket != "":
			mounts = append(mounts, Bind(plat.WaylandSocket, plat.WaylandSocket, true))
		case plat.X11Socket != "":
			mounts = append(mounts, Bind(plat.X11Socket, plat.X11Socket, true))
		default:
			log.Warn("no display server detected, clipboard will not work inside the container")
		}
	}

	return mounts, groups, nil
}

func sshAgentMount(plat platform.Info) (Mount, bool) {
	if plat.SSHAgentSocket == "" {
		return Mount{}, false
	}
	return Bind(plat.SSHAgentSocket, SSHAgentTarget, false), true
}

// homeMounts mounts each existing home-relative path under SandboxHome.
func (b *Builder) homeMounts(home string, paths []string, readOnly bool) []Mount {
	var mounts []Mount
	for _, p := range paths {
		src := filepath.Join(home, p)
		if !b.exists(src) {
			continue
		}
		mounts = append(mounts, Bind(src, path.Join(SandboxHome, p), readOnly))
	}
	return mounts
}

func (b *Builder) customMounts(cfg *config.Config, home, projectDir string) ([]Mount, error) {
	mounts := make([]Mount, 0, len(cfg.Mounts))
	for _, raw := range cfg.Mounts {
		m, err := b.ParseMount(raw, home, projectDir)
		if err != nil {
			return nil, err
		}
		mounts = append(mounts, m)
	}
	return mounts, nil
}

// ParseMount parses "source[:target[:ro|rw]]". Relative sources, bare names
// included, are resolved against the project directory and must exist.
func (b *Builder) ParseMount(raw, home, projectDir string) (Mount, error) {
	parts := strings.Split(raw, ":")
	if len(parts) > 3 || parts[0] == "" {
		return Mount{}, &SpecError{Mount: raw, Reason: "expected source[:target[:ro|rw]]"}
	}

	src := parts[0]
	var target, mode string
	if len(parts) > 1 {
		target = parts[1]
	}
	if len(parts) > 2 {
		mode = parts[2]
	}

	var readOnly bool
	switch mode {
	case "", "rw":
	case "ro":
		readOnly = true
	default:
		return Mount{}, &SpecError{Mount: raw, Reason: fmt.Sprintf("unknown mode %q (want ro or rw)", mode)}
	}

	source, err := security.ExpandPath(src, home, projectDir)
	if err != nil {
		return Mount{}, &SpecError{Mount: raw, Reason: err.Error()}
	}
	if !b.exists(source) {
		return Mount{}, &SpecError{Mount: raw, Reason: fmt.Sprintf("source %s does not exist", source)}
	}
	if err := security.ValidateMountPath(source, home); err != nil {
		return Mount{}, &SpecError{Mount: raw, Reason: err.Error()}
	}

	if target == "" {
		target = filepath.ToSlash(source)
	}
	if !path.IsAbs(target) {
		return Mount{}, &SpecError{Mount: raw, Reason: fmt.Sprintf("target %q must be absolute", target)}
	}
	return Bind(source, target, readOnly), nil
}

// environment builds the container env. Custom entries are applied last so
// they win over forwarded keys.
func (b *Builder) environment(cfg *config.Config, plat platform.Info, projectPath string) map[string]string {
	env := map[string]string{
		"HOME":                      SandboxHome,
		"PROJECT_PATH":              projectPath,
		"AGENTBOX":                  "1",
		"npm_config_cache":          SandboxHome + "/.cache/npm",
		"MISE_DATA_DIR":             SandboxHome + "/.local/share/mise",
		"MISE_CACHE_DIR":            SandboxHome + "/.cache/mise",
		"MISE_TRUSTED_CONFIG_PATHS": projectPath,
		"MISE_YES":                  "1",
	}
	if cfg.AutoUpgradeTools {
		env["AGENTBOX_UPGRADE_TOOLS"] = "1"
	}

	for k, v := range plat.Terminal {
		env[k] = v
	}

	if cfg.ForwardAPIKeys {
		for k, v := range cfg.APIKeys {
			env[k] = v
		}
	}

	if cfg.SSHAgent && plat.SSHAgentSocket != "" {
		addSSHEnv(env)
	}

	if cfg.Clipboard && plat.IsLinux() && plat.HasDisplay() {
		for k, v := range plat.DisplayEnv {
			env[k] = v
		}
	}

	for k, v := range cfg.Env {
		env[k] = v
	}
	return env
}

func addSSHEnv(env map[string]string) {
	env["SSH_AUTH_SOCK"] = SSHAgentTarget
	// Sign with ssh-keygen through the agent instead of a host-only signer.
	env["GIT_CONFIG_COUNT"] = "1"
	env["GIT_CONFIG_KEY_0"] = "gpg.ssh.program"
	env["GIT_CONFIG_VALUE_0"] = "ssh-keygen"
}
