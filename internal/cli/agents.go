package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// agent is a coding agent with a shortcut command.
type agent struct {
	name  string
	title string
	// yolo auto-approves every tool call. The sandbox is what makes that
	// acceptable.
	yolo []string
}

var agents = []agent{
	{name: "claude", title: "Claude Code", yolo: []string{"--dangerously-skip-permissions"}},
	{name: "codex", title: "Codex", yolo: []string{"--dangerously-bypass-approvals-and-sandbox"}},
	{name: "gemini", title: "Gemini CLI", yolo: []string{"--yolo"}},
	{name: "opencode", title: "OpenCode"},
}

func init() {
	for _, a := range agents {
		rootCmd.AddCommand(agentCommand(a))
	}
}

func agentCommand(a agent) *cobra.Command {
	cmd := &cobra.Command{
		Use:   a.name + " [flags] [-- " + a.name + "-args...]",
		Short: fmt.Sprintf("Run %s in the sandbox with auto-approval", a.title),
		Long: fmt.Sprintf(`Run %s in the sandbox. Unless --no-yolo is given it starts in
auto-approve mode. Extra arguments are passed to %s.`, a.title, a.name),
		RunE: func(cmd *cobra.Command, args []string) error {
			noYolo, _ := cmd.Flags().GetBool("no-yolo")
			return launch(cmd, a.command(noYolo, args))
		},
	}
	addRunFlags(cmd)
	cmd.Flags().Bool("no-yolo", false, "disable auto-approve mode")
	return cmd
}

func (a agent) command(noYolo bool, args []string) []string {
	command := []string{a.name}
	if !noYolo {
		command = append(command, a.yolo...)
	}
	return append(command, args...)
}
