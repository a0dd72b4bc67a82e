package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jakenelson/agentbox/internal/config"
)

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configPathCmd)
	configCmd.AddCommand(configInitCmd)
	configInitCmd.Flags().Bool("force", false, "overwrite an existing file")
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show the effective configuration",
	Long: `Show the configuration agentbox would use in the current directory:
the global file, the project file and AGENTBOX_* environment variables
merged in that order. Forwarded API keys are listed by name only.

Examples:
  agentbox config
  agentbox config path
  agentbox config init`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cwd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("failed to get current directory: %w", err)
		}
		cfg, err := resolveConfig(cmd, cwd)
		if err != nil {
			return err
		}
		return printConfig(cmd.OutOrStdout(), cfg)
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show configuration file paths",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cwd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("failed to get current directory: %w", err)
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "global:  %s%s\n", config.GlobalConfigPath(), missing(config.GlobalConfigPath()))
		fmt.Fprintf(out, "project: %s%s\n", config.ProjectConfigPath(cwd), missing(config.ProjectConfigPath(cwd)))
		fmt.Fprintf(out, "tools:   %s%s\n", config.ToolManifestPath(), missing(config.ToolManifestPath()))
		return nil
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the default global configuration file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")
		path := config.GlobalConfigPath()
		if _, err := os.Stat(path); err == nil && !force {
			return fmt.Errorf("config file already exists at %s (use --force to overwrite)", path)
		}
		if err := writeConfigFile(path, defaultConfigTOML); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Created config file at %s\n", path)
		return nil
	},
}

// effectiveConfig is the printed form of a Config.
type effectiveConfig struct {
	config.Config `yaml:",inline"`
	Forwarded     []string `yaml:"forwarded_api_keys,omitempty"`
}

func printConfig(w io.Writer, cfg *config.Config) error {
	out := effectiveConfig{Config: *cfg}
	for name := range cfg.APIKeys {
		out.Forwarded = append(out.Forwarded, name)
	}
	slices.Sort(out.Forwarded)

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(out); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return enc.Close()
}

func missing(path string) string {
	if _, err := os.Stat(path); err != nil {
		return " (not found)"
	}
	return ""
}

func writeConfigFile(path, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

const defaultConfigTOML = `# agentbox global configuration
# Project settings in .agentbox.toml override these field by field.
# Every key can also be set with AGENTBOX_<KEY> (AGENTBOX_RESOURCES_MEMORY=8g).

# runtime = "podman"           # podman | docker, auto-detected when unset
# image = "` + config.DefaultImage + `"

# Feature mounts
ssh_agent = false
git_config = false
ai_config = false
container_socket = false
clipboard = false

# Isolation
no_network = false
readonly_project = false

# Updates
auto_pull_image = false
auto_upgrade_tools = false

# Forward ANTHROPIC_API_KEY, OPENAI_API_KEY and friends into the container
forward_api_keys = true

# source:target[:ro|:rw], replaced wholesale by project config
mounts = []

[resources]
# memory = "8g"
# memory_swap = "16g"           # -1 for unlimited
# cpus = 4.0
# pids_limit = 1024

[env]
# EDITOR = "vim"
`
