package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jakenelson/agentbox/internal/container"
	"github.com/jakenelson/agentbox/internal/log"
)

var (
	verbose bool
	logJSON bool
)

var rootCmd = &cobra.Command{
	Use:   "agentbox",
	Short: "Run AI coding agents in a sandboxed container",
	Long: `Agentbox runs AI coding agents and shells inside a podman or docker
container. The project directory is mounted at its host path with your
UID, tools and caches live in persistent volumes, and network, mounts
and resource limits come from layered configuration.

Examples:
  agentbox claude                          # Run Claude Code in the current project
  agentbox shell --no-network              # Isolated shell
  agentbox codex --worktree feature        # Run Codex in a worktree
  agentbox claude --clone https://github.com/org/repo.git --ref v1.2.0
  agentbox run -- npm test                 # Run any command`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		log.Init(log.Options{Verbose: verbose, JSONFormat: logJSON})
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "log as JSON lines")
}

// exitError carries a process exit code out of a command. err is printed
// when set.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err != nil {
		return e.err.Error()
	}
	return fmt.Sprintf("exit status %d", e.code)
}

func (e *exitError) Unwrap() error { return e.err }

// exitWith returns nil for a clean exit and an exitError otherwise.
func exitWith(code int, err error) error {
	if code == 0 && err == nil {
		return nil
	}
	if code == 0 {
		code = 1
	}
	return &exitError{code: code, err: err}
}

// Execute runs the command line and returns the process exit code. SIGINT
// and SIGTERM cancel the command context, which stops the container.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := rootCmd.ExecuteContext(ctx)
	if err == nil {
		return 0
	}

	var ee *exitError
	if !errors.As(err, &ee) || ee.err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	return exitCode(err)
}

// exitCode maps a command error to a process exit code. A failed backend
// operation exits with the backend's own code.
func exitCode(err error) int {
	code := 1
	var ee *exitError
	if errors.As(err, &ee) {
		code = ee.code
	}
	var rerr *container.RuntimeError
	if code == 1 && errors.As(err, &rerr) && rerr.ExitCode > 0 {
		return rerr.ExitCode
	}
	return code
}
