package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jakenelson/agentbox/internal/spec"
	"github.com/jakenelson/agentbox/internal/volume"
)

func init() {
	rootCmd.AddCommand(resetVolumesCmd)
	rootCmd.AddCommand(cleanupClonesCmd)

	resetVolumesCmd.Flags().BoolP("force", "f", false, "skip the confirmation prompt")
	resetVolumesCmd.Flags().String("runtime", "", "container runtime: podman or docker")
	cleanupClonesCmd.Flags().Duration("grace", volume.DefaultGrace, "only remove clone volumes older than this")
	cleanupClonesCmd.Flags().Bool("all", false, "ignore the grace period")
	cleanupClonesCmd.Flags().String("runtime", "", "container runtime: podman or docker")
}

var resetVolumesCmd = &cobra.Command{
	Use:   "reset-volumes",
	Short: "Delete the persistent tool and cache volumes",
	Long: `Delete the persistent volumes holding installed tools and caches
(` + strings.Join(spec.PersistentVolumeNames(), ", ") + `). They are
recreated empty on the next run.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")
		if !force && !confirm(bufio.NewReader(cmd.InOrStdin()), cmd.ErrOrStderr(), "Delete all persistent agentbox volumes?") {
			fmt.Fprintln(cmd.OutOrStdout(), "Cancelled")
			return nil
		}

		cwd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("failed to get current directory: %w", err)
		}
		sess, _, err := openSession(cmd, cwd)
		if err != nil {
			return err
		}
		removed, err := sess.ResetVolumes(cmd.Context())
		for _, name := range removed {
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", name)
		}
		if err != nil {
			return err
		}
		if len(removed) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No volumes to remove")
		}
		return nil
	},
}

var cleanupClonesCmd = &cobra.Command{
	Use:   "cleanup-clones",
	Short: "Remove clone volumes left behind by interrupted sessions",
	Long: `Remove ephemeral clone volumes whose session never cleaned up, for
example after the process was killed. Volumes younger than --grace, still
mounted by a container, or owned by a live agentbox process on this host
are kept.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		grace, _ := cmd.Flags().GetDuration("grace")
		all, _ := cmd.Flags().GetBool("all")

		cwd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("failed to get current directory: %w", err)
		}
		sess, backend, err := openSession(cmd, cwd)
		if err != nil {
			return err
		}

		res := sess.CleanupClones(cmd.Context(), backend, volume.SweepOptions{Grace: grace, All: all})
		out := cmd.OutOrStdout()
		for _, name := range res.Removed {
			fmt.Fprintf(out, "Removed %s\n", name)
		}
		fmt.Fprintf(out, "%d removed, %d kept\n", len(res.Removed), len(res.Kept))
		return errors.Join(res.Errors...)
	},
}

// confirm prompts for yes/no confirmation
func confirm(reader *bufio.Reader, w io.Writer, prompt string) bool {
	for {
		fmt.Fprintf(w, "%s [y/N]: ", prompt)
		input, err := reader.ReadString('\n')
		if err != nil && input == "" {
			return false
		}
		input = strings.ToLower(strings.TrimSpace(input))

		if input == "" || input == "n" || input == "no" {
			return false
		}
		if input == "y" || input == "yes" {
			return true
		}
		if err != nil {
			return false
		}

		fmt.Fprintln(w, "Please enter 'y' or 'n'.")
	}
}
