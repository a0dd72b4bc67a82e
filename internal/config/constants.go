package config

import (
	"os"
	"path/filepath"
)

// Runtime backends
const (
	RuntimePodman = "podman"
	RuntimeDocker = "docker"
)

// File and directory names
const (
	AppName           = "agentbox"
	GlobalConfigName  = "config.toml"
	ProjectConfigName = ".agentbox.toml"
	ToolManifestName  = "mise.toml"
)

// EnvPrefix prefixes every environment override (AGENTBOX_IMAGE, AGENTBOX_RUNTIME, ...).
const EnvPrefix = "AGENTBOX"

// DefaultImage is the runtime image used when neither config nor environment set one.
const DefaultImage = "ghcr.io/jakenelson/agentbox/runtime:latest"

// MemorySwapUnlimited disables the swap limit.
const MemorySwapUnlimited = "-1"

// APIKeys are forwarded into the container when forward_api_keys is enabled.
var APIKeys = []string{
	"ANTHROPIC_API_KEY",
	"OPENAI_API_KEY",
	"GEMINI_API_KEY",
	"GOOGLE_API_KEY",
	"GITHUB_TOKEN",
	"GH_TOKEN",
	"COPILOT_GITHUB_TOKEN",
	"OPENROUTER_API_KEY",
}

// ConfigDir returns the directory holding the global config file.
func ConfigDir() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, AppName)
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", AppName)
}

// DataDir returns the directory holding worktrees and other state.
func DataDir() string {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return filepath.Join(dir, AppName)
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "share", AppName)
}

// GlobalConfigPath returns the default global config file path.
func GlobalConfigPath() string {
	return filepath.Join(ConfigDir(), GlobalConfigName)
}

// ProjectConfigPath returns the project config path for a project directory.
func ProjectConfigPath(projectDir string) string {
	return filepath.Join(projectDir, ProjectConfigName)
}

// ToolManifestPath returns the user's tool manager manifest.
func ToolManifestPath() string {
	return filepath.Join(ConfigDir(), ToolManifestName)
}
