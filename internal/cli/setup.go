package cli

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/docker/go-units"
	"github.com/spf13/cobra"

	"github.com/jakenelson/agentbox/internal/config"
	"github.com/jakenelson/agentbox/internal/container"
)

func init() {
	rootCmd.AddCommand(setupCmd)
}

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Interactive setup wizard for the global configuration",
	Long: `Interactive setup wizard that writes ~/.config/agentbox/config.toml.

This command will:
- Detect which container runtimes are available
- Ask which host configuration to share with the sandbox
- Ask for network isolation and a memory limit
- Create or overwrite the global configuration file`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSetup(cmd, bufio.NewReader(cmd.InOrStdin()), cmd.OutOrStdout())
	},
}

// setupAnswers is what the wizard collected.
type setupAnswers struct {
	runtime   string
	sshAgent  bool
	gitConfig bool
	aiConfig  bool
	noNetwork bool
	memory    string
}

func runSetup(cmd *cobra.Command, reader *bufio.Reader, out io.Writer) error {
	fmt.Fprintln(out, "agentbox setup")
	fmt.Fprintln(out, "==============")

	fmt.Fprintln(out, "\nStep 1: Container runtime")
	fmt.Fprintln(out, "-------------------------")
	available := detectRuntimes(cmd)
	if len(available) == 0 {
		fmt.Fprintln(out, "No container runtime found. Install podman (recommended) or docker.")
	} else {
		fmt.Fprintf(out, "Found: %s\n", strings.Join(available, ", "))
	}

	var a setupAnswers
	a.runtime = selectRuntime(reader, out)

	fmt.Fprintln(out, "\nStep 2: Host configuration")
	fmt.Fprintln(out, "--------------------------")
	a.sshAgent = confirm(reader, out, "Forward the SSH agent?")
	a.gitConfig = confirm(reader, out, "Mount your git config (read-only)?")
	a.aiConfig = confirm(reader, out, "Mount AI tool configs (~/.claude, ~/.codex, ...)?")

	fmt.Fprintln(out, "\nStep 3: Isolation")
	fmt.Fprintln(out, "-----------------")
	a.noNetwork = confirm(reader, out, "Disable network access by default?")
	a.memory = configureMemory(reader, out)

	fmt.Fprintln(out, "\nStep 4: Creating configuration")
	fmt.Fprintln(out, "------------------------------")
	path := config.GlobalConfigPath()
	if _, err := os.Stat(path); err == nil {
		fmt.Fprintf(out, "Configuration file already exists at: %s\n", path)
		if !confirm(reader, out, "Do you want to overwrite it?") {
			fmt.Fprintln(out, "\nSetup cancelled. No changes were made.")
			return nil
		}
	}
	if err := writeConfigFile(path, generateConfig(a)); err != nil {
		return err
	}
	fmt.Fprintf(out, "\nConfiguration written to %s\n", path)
	fmt.Fprintf(out, "Add tools to %s and run 'agentbox upgrade-tools' to install them.\n", config.ToolManifestPath())
	return nil
}

func detectRuntimes(cmd *cobra.Command) []string {
	var found []string
	ex := container.NewRunner()
	for _, name := range []string{config.RuntimePodman, config.RuntimeDocker} {
		if _, err := container.Select(cmd.Context(), name, ex); err == nil {
			found = append(found, name)
		}
	}
	return found
}

// selectRuntime prompts for the runtime backend. Empty means auto-detect.
func selectRuntime(reader *bufio.Reader, out io.Writer) string {
	fmt.Fprintln(out, "\nSelect container runtime:")
	fmt.Fprintln(out, "  1) auto   - podman if available, else docker (recommended)")
	fmt.Fprintln(out, "  2) podman")
	fmt.Fprintln(out, "  3) docker")

	for {
		fmt.Fprint(out, "\nChoice [1-3] (default: auto): ")
		input, err := reader.ReadString('\n')
		input = strings.TrimSpace(input)
		if input == "" && err != nil {
			return ""
		}

		switch input {
		case "", "1":
			return ""
		case "2":
			return config.RuntimePodman
		case "3":
			return config.RuntimeDocker
		}
		if err != nil {
			return ""
		}
		fmt.Fprintln(out, "Invalid choice. Please enter 1, 2, or 3.")
	}
}

// configureMemory prompts for a memory limit. Empty means unlimited.
func configureMemory(reader *bufio.Reader, out io.Writer) string {
	fmt.Fprintln(out, "\nContainer memory limit:")
	fmt.Fprintln(out, "  Set the maximum memory for the container (e.g., 4g, 8g), or leave empty for none")

	for {
		fmt.Fprint(out, "Memory limit (default: none): ")
		input, err := reader.ReadString('\n')
		input = strings.TrimSpace(input)
		if input == "" {
			return ""
		}
		if _, perr := units.RAMInBytes(input); perr == nil {
			return input
		}
		if err != nil {
			return ""
		}
		fmt.Fprintln(out, "Invalid format. Use a size like '4g' or '512m'.")
	}
}

// generateConfig renders the wizard answers as a global config file.
func generateConfig(a setupAnswers) string {
	var b strings.Builder
	b.WriteString("# agentbox global configuration\n")
	b.WriteString("# Generated by 'agentbox setup'. Project settings in .agentbox.toml override these.\n\n")
	if a.runtime != "" {
		fmt.Fprintf(&b, "runtime = %q\n\n", a.runtime)
	} else {
		b.WriteString("# runtime = \"podman\"   # podman | docker, auto-detected when unset\n\n")
	}

	fmt.Fprintf(&b, "ssh_agent = %t\n", a.sshAgent)
	fmt.Fprintf(&b, "git_config = %t\n", a.gitConfig)
	fmt.Fprintf(&b, "ai_config = %t\n", a.aiConfig)
	fmt.Fprintf(&b, "no_network = %t\n", a.noNetwork)
	b.WriteString("forward_api_keys = true\n")

	b.WriteString("\n[resources]\n")
	if a.memory != "" {
		fmt.Fprintf(&b, "memory = %q\n", a.memory)
	} else {
		b.WriteString("# memory = \"8g\"\n")
	}
	return b.String()
}
