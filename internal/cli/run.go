package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/moby/term"
	"github.com/spf13/cobra"

	"github.com/jakenelson/agentbox/internal/config"
	"github.com/jakenelson/agentbox/internal/container"
	"github.com/jakenelson/agentbox/internal/log"
	"github.com/jakenelson/agentbox/internal/platform"
	"github.com/jakenelson/agentbox/internal/session"
	"github.com/jakenelson/agentbox/internal/worktree"
)

// overrideFlags maps command-line flags to configuration keys.
var overrideFlags = map[string]string{
	"runtime":          config.KeyRuntime,
	"image":            config.KeyImage,
	"ssh-agent":        config.KeySSHAgent,
	"git-config":       config.KeyGitConfig,
	"ai-config":        config.KeyAIConfig,
	"container-socket": config.KeyContainerSocket,
	"clipboard":        config.KeyClipboard,
	"no-network":       config.KeyNoNetwork,
	"readonly-project": config.KeyReadonlyProject,
	"pull":             config.KeyAutoPullImage,
	"memory":           config.KeyMemory,
	"memory-swap":      config.KeyMemorySwap,
	"cpus":             config.KeyCPUs,
	"pids-limit":       config.KeyPidsLimit,
	"mount":            config.KeyMounts,
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(shellCmd)
	addRunFlags(runCmd)
	addRunFlags(shellCmd)
}

var runCmd = &cobra.Command{
	Use:   "run [flags] [--] COMMAND [ARGS...]",
	Short: "Run a command in the sandbox",
	Long: `Run an arbitrary command in the sandbox. Flags after the command are
passed to it.

Examples:
  agentbox run npm test
  agentbox run --no-network -- make check
  agentbox run --memory 8g --cpus 4 cargo build`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return launch(cmd, args)
	},
}

var shellCmd = &cobra.Command{
	Use:   "shell",
	Short: "Start an interactive shell in the sandbox",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return launch(cmd, []string{"bash"})
	},
}

// addRunFlags registers the flags shared by every command that starts a
// session.
func addRunFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.SetInterspersed(false)

	f.StringP("worktree", "w", "", "run in the named worktree")
	f.String("clone", "", "clone this repository into a throwaway volume and run there")
	f.String("ref", "", "branch or tag to clone (with --clone)")
	cmd.MarkFlagsMutuallyExclusive("worktree", "clone")

	f.String("runtime", "", "container runtime: podman or docker (default: auto-detect)")
	f.String("image", "", "container image (default: "+config.DefaultImage+")")
	f.Bool("ssh-agent", false, "forward the SSH agent")
	f.Bool("git-config", false, "mount git config read-only")
	f.Bool("ai-config", false, "mount AI tool configs")
	f.Bool("container-socket", false, "mount the docker/podman socket")
	f.Bool("clipboard", false, "enable clipboard access for image pasting")
	f.Bool("no-network", false, "disable network access")
	f.Bool("readonly-project", false, "mount the project read-only")
	f.Bool("pull", false, "pull the image before starting")
	f.StringP("memory", "m", "", "memory limit (e.g. 8g)")
	f.String("memory-swap", "", "memory plus swap limit, -1 for unlimited")
	f.Float64("cpus", 0, "CPU limit (e.g. 2.0)")
	f.Int("pids-limit", 0, "maximum number of processes")
	f.StringArray("mount", nil, "custom mount source:target[:ro|:rw], replaces configured mounts")
}

// resolveConfig merges the config files of projectDir with AGENTBOX_*
// variables and the flags set on cmd.
func resolveConfig(cmd *cobra.Command, projectDir string) (*config.Config, error) {
	v := config.NewOverrides()
	for name, key := range overrideFlags {
		if f := cmd.Flags().Lookup(name); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return nil, err
			}
		}
	}
	overrides, err := config.LayerFromViper(v)
	if err != nil {
		return nil, err
	}
	return config.Resolve(config.GlobalConfigPath(), config.ProjectConfigPath(projectDir), environ(), overrides)
}

func environ() map[string]string {
	env := make(map[string]string)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			env[k] = v
		}
	}
	return env
}

// launch resolves everything a session needs from the command line and
// runs command in the foreground.
func launch(cmd *cobra.Command, command []string) error {
	ctx := cmd.Context()
	flags := cmd.Flags()
	worktreeName, _ := flags.GetString("worktree")
	cloneURL, _ := flags.GetString("clone")
	ref, _ := flags.GetString("ref")
	if ref != "" && cloneURL == "" {
		return errors.New("--ref requires --clone")
	}

	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get current directory: %w", err)
	}

	projectDir := cwd
	wt, err := worktree.Open(cwd, config.DataDir())
	if err != nil {
		log.Debug("not in a git repository", "dir", cwd, "error", err)
		wt = nil
	}
	if worktreeName != "" {
		if wt == nil {
			return fmt.Errorf("--worktree requires a git repository: %w", err)
		}
		if projectDir, err = wt.Path(ctx, worktreeName); err != nil {
			return fmt.Errorf("%w (see 'agentbox worktree list')", err)
		}
	}

	sess, backend, err := openSession(cmd, projectDir)
	if err != nil {
		return err
	}

	if worktreeName != "" {
		if used, err := backend.InUse(ctx, projectDir); err == nil && used {
			log.Warn("worktree may already be in use by another container", "worktree", worktreeName)
		}
	}

	req := session.Request{
		ProjectDir:  projectDir,
		Command:     command,
		TTY:         term.IsTerminal(os.Stdin.Fd()) && term.IsTerminal(os.Stdout.Fd()),
		Interactive: true,
	}
	if wt != nil {
		req.Worktree = wt.Mounts(projectDir)
	}
	if cloneURL != "" {
		req.Clone = &session.Clone{URL: cloneURL, Ref: ref}
	}

	return exitWith(sess.Run(ctx, req))
}

// openSession resolves the configuration for projectDir and selects the
// runtime it names.
func openSession(cmd *cobra.Command, projectDir string) (*session.Session, container.Backend, error) {
	cfg, backend, err := selectBackend(cmd, projectDir, container.NewRunner())
	if err != nil {
		return nil, nil, err
	}
	return session.New(cfg, platform.Detect(), backend), backend, nil
}

// selectBackend returns the runtime configured for projectDir.
func selectBackend(cmd *cobra.Command, projectDir string, ex container.Executor) (*config.Config, container.Backend, error) {
	cfg, err := resolveConfig(cmd, projectDir)
	if err != nil {
		return nil, nil, err
	}
	backend, err := container.Select(cmd.Context(), cfg.Runtime, ex)
	if err != nil {
		return nil, nil, err
	}
	return cfg, backend, nil
}
