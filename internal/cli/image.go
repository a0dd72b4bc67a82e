package cli

import (
	"fmt"
	"os"

	"github.com/moby/term"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(pullImageCmd)
	rootCmd.AddCommand(upgradeToolsCmd)

	for _, c := range []*cobra.Command{pullImageCmd, upgradeToolsCmd} {
		c.Flags().String("runtime", "", "container runtime: podman or docker")
		c.Flags().String("image", "", "container image")
	}
}

var pullImageCmd = &cobra.Command{
	Use:   "pull-image",
	Short: "Pull the latest runtime image",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cwd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("failed to get current directory: %w", err)
		}
		sess, _, err := openSession(cmd, cwd)
		if err != nil {
			return err
		}
		res, err := sess.PullImage(cmd.Context())
		if err != nil {
			return err
		}
		if res.Updated {
			fmt.Fprintf(cmd.OutOrStdout(), "Updated %s to %s\n", res.Image, res.Digest)
		} else {
			fmt.Fprintf(cmd.OutOrStdout(), "%s is up to date\n", res.Image)
		}
		return nil
	},
}

var upgradeToolsCmd = &cobra.Command{
	Use:   "upgrade-tools",
	Short: "Upgrade the tools installed in the persistent volume",
	Long: `Run the tool manager's upgrade inside the sandbox. Tools are read from
~/.config/agentbox/mise.toml and the project's own tool files.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cwd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("failed to get current directory: %w", err)
		}
		sess, _, err := openSession(cmd, cwd)
		if err != nil {
			return err
		}
		return exitWith(sess.UpgradeTools(cmd.Context(), cwd, term.IsTerminal(os.Stdout.Fd())))
	},
}
