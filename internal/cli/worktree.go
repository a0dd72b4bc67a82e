package cli

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/jakenelson/agentbox/internal/config"
	"github.com/jakenelson/agentbox/internal/container"
	"github.com/jakenelson/agentbox/internal/log"
	"github.com/jakenelson/agentbox/internal/worktree"
)

func init() {
	rootCmd.AddCommand(worktreeCmd)
	worktreeCmd.AddCommand(worktreeAddCmd)
	worktreeCmd.AddCommand(worktreeListCmd)
	worktreeCmd.AddCommand(worktreeRemoveCmd)
	worktreeCmd.AddCommand(worktreeRepairCmd)

	worktreeAddCmd.Flags().StringP("branch", "b", "", "create this branch for the worktree")
	worktreeRemoveCmd.Flags().BoolP("force", "f", false, "remove even with uncommitted changes or a running container")
}

var worktreeCmd = &cobra.Command{
	Use:     "worktree",
	Aliases: []string{"wt"},
	Short:   "Manage git worktrees for parallel sessions",
	Long: `Manage git worktrees of the current repository. Worktrees live under
the agentbox data directory, so each agent can work on its own branch
without touching the main checkout.

Examples:
  agentbox worktree add feature -b feature/login
  agentbox claude --worktree feature
  agentbox worktree remove feature`,
}

var worktreeAddCmd = &cobra.Command{
	Use:   "add NAME",
	Short: "Create a worktree",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := openWorktrees()
		if err != nil {
			return err
		}
		branch, _ := cmd.Flags().GetString("branch")
		e, err := m.Add(cmd.Context(), args[0], branch)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Created worktree %s at %s\n", e.Name, e.Path)
		return nil
	},
}

var worktreeListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List worktrees",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := openWorktrees()
		if err != nil {
			return err
		}
		entries, err := m.List(cmd.Context())
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No worktrees")
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tBRANCH\tPATH")
		for _, e := range entries {
			branch := e.Branch
			switch {
			case e.Stale:
				branch = "(missing)"
			case e.Detached:
				branch = "(detached)"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\n", e.Name, branch, e.Path)
		}
		return w.Flush()
	},
}

var worktreeRemoveCmd = &cobra.Command{
	Use:     "remove NAME",
	Aliases: []string{"rm"},
	Short:   "Remove a worktree",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		m, err := openWorktrees()
		if err != nil {
			return err
		}
		force, _ := cmd.Flags().GetBool("force")
		name := args[0]

		path, err := m.Path(ctx, name)
		if err != nil && !errors.Is(err, worktree.ErrNotFound) {
			return err
		}
		if path != "" && !force {
			_, backend, err := selectBackend(cmd, m.Repo().Root, container.NewRunner())
			if err != nil {
				log.Debug("cannot select runtime to check worktree use", "error", err)
			} else {
				used, err := backend.InUse(ctx, path)
				if err != nil {
					log.Debug("cannot check worktree use", "path", path, "error", err)
				} else if used {
					return fmt.Errorf("worktree %s is mounted by a running container (use --force to remove anyway)", name)
				}
			}
		}

		if err := m.Remove(ctx, name, force); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Removed worktree %s\n", name)
		return nil
	},
}

var worktreeRepairCmd = &cobra.Command{
	Use:   "repair",
	Short: "Reconnect worktrees after the repository moved",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := openWorktrees()
		if err != nil {
			return err
		}
		actions, err := m.Repair(cmd.Context())
		if err != nil {
			return err
		}
		if len(actions) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "Nothing to repair")
			return nil
		}
		for _, a := range actions {
			fmt.Fprintln(cmd.OutOrStdout(), a)
		}
		return nil
	},
}

func openWorktrees() (*worktree.Manager, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get current directory: %w", err)
	}
	m, err := worktree.Open(cwd, config.DataDir())
	if err != nil {
		return nil, fmt.Errorf("not in a git repository: %w", err)
	}
	return m, nil
}
