package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/jakenelson/agentbox/internal/config"
	"github.com/jakenelson/agentbox/internal/container"
)

func TestExitWith(t *testing.T) {
	assert.NoError(t, exitWith(0, nil))

	err := exitWith(3, nil)
	var ee *exitError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, 3, ee.code)
	assert.Nil(t, ee.err)
	assert.Equal(t, "exit status 3", err.Error())

	cause := errors.New("podman failed")
	err = exitWith(0, cause)
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, 1, ee.code, "an error without exit code still fails")
	assert.ErrorIs(t, err, cause)

	err = exitWith(125, cause)
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, 125, ee.code)
}

func TestExitCodeMirrorsRuntime(t *testing.T) {
	inspect := &container.RuntimeError{Backend: "docker", Operation: "volume inspect", ExitCode: 125}
	notStarted := &container.RuntimeError{Backend: "podman", Operation: "run", ExitCode: -1}

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"runtime failure", exitWith(1, fmt.Errorf("prepare: %w", inspect)), 125},
		{"bare runtime error", inspect, 125},
		{"runtime not started", exitWith(1, notStarted), 1},
		{"container exit code wins", exitWith(7, inspect), 7},
		{"plain error", errors.New("boom"), 1},
		{"exit without error", exitWith(3, nil), 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, exitCode(tt.err))
		})
	}
}

func TestAgentCommand(t *testing.T) {
	tests := []struct {
		agent  string
		noYolo bool
		args   []string
		want   []string
	}{
		{"claude", false, nil, []string{"claude", "--dangerously-skip-permissions"}},
		{"claude", true, []string{"--resume"}, []string{"claude", "--resume"}},
		{"codex", false, []string{"exec", "fix it"}, []string{"codex", "--dangerously-bypass-approvals-and-sandbox", "exec", "fix it"}},
		{"gemini", false, nil, []string{"gemini", "--yolo"}},
		{"opencode", false, nil, []string{"opencode"}},
	}

	for _, tt := range tests {
		t.Run(tt.agent, func(t *testing.T) {
			for _, a := range agents {
				if a.name == tt.agent {
					assert.Equal(t, tt.want, a.command(tt.noYolo, tt.args))
					return
				}
			}
			t.Fatalf("agent %s not registered", tt.agent)
		})
	}
}

func TestAgentsRegistered(t *testing.T) {
	for _, name := range []string{"claude", "codex", "gemini", "opencode", "run", "shell", "worktree", "config", "pull-image", "upgrade-tools", "reset-volumes", "cleanup-clones"} {
		cmd, _, err := rootCmd.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, cmd.Name())
	}
}

func testRunCommand(t *testing.T) *cobra.Command {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	cmd := &cobra.Command{Use: "run"}
	addRunFlags(cmd)
	return cmd
}

func TestResolveConfigPrecedence(t *testing.T) {
	cmd := testRunCommand(t)
	project := t.TempDir()
	require.NoError(t, os.WriteFile(config.ProjectConfigPath(project), []byte(`
ssh_agent = true

[resources]
cpus = 2.0
memory = "4g"
`), 0o644))

	require.NoError(t, cmd.Flags().Set("cpus", "4"))
	require.NoError(t, cmd.Flags().Set("no-network", "true"))
	t.Setenv("AGENTBOX_IMAGE", "example.com/agentbox:dev")

	cfg, err := resolveConfig(cmd, project)
	require.NoError(t, err)
	assert.Equal(t, 4.0, cfg.Resources.CPUs, "flag beats project file")
	assert.Equal(t, "4g", cfg.Resources.Memory, "project value kept when no flag")
	assert.True(t, cfg.SSHAgent)
	assert.True(t, cfg.NoNetwork)
	assert.Equal(t, "example.com/agentbox:dev", cfg.Image)
}

func TestResolveConfigUnsetFlagsKeepFiles(t *testing.T) {
	cmd := testRunCommand(t)
	project := t.TempDir()
	require.NoError(t, os.WriteFile(config.ProjectConfigPath(project), []byte("no_network = true\n"), 0o644))

	cfg, err := resolveConfig(cmd, project)
	require.NoError(t, err)
	assert.True(t, cfg.NoNetwork)
}

func TestResolveConfigInvalidFlag(t *testing.T) {
	cmd := testRunCommand(t)
	require.NoError(t, cmd.Flags().Set("memory", "lots"))

	_, err := resolveConfig(cmd, t.TempDir())
	var cerr *config.ConfigError
	assert.ErrorAs(t, err, &cerr)
}

func TestSelectBackendUsesConfiguredRuntime(t *testing.T) {
	cmd := &cobra.Command{Use: "remove"}
	cmd.SetContext(context.Background())
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("PATH", t.TempDir())
	project := t.TempDir()

	_, _, err := selectBackend(cmd, project, container.NewRunner())
	assert.ErrorIs(t, err, container.ErrNoRuntime)

	require.NoError(t, os.WriteFile(config.ProjectConfigPath(project), []byte(`runtime = "podman"`+"\n"), 0o644))
	_, _, err = selectBackend(cmd, project, container.NewRunner())
	var rerr *container.RuntimeError
	require.ErrorAs(t, err, &rerr, "the project runtime is honoured instead of auto-detection")
	assert.Equal(t, "podman", rerr.Backend)
	assert.Equal(t, "select", rerr.Operation)
}

func TestPrintConfigHidesKeyValues(t *testing.T) {
	cfg, err := config.Resolve("", "", map[string]string{"ANTHROPIC_API_KEY": "sk-secret"}, config.Layer{})
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, printConfig(&out, cfg))
	assert.NotContains(t, out.String(), "sk-secret")

	var printed map[string]any
	require.NoError(t, yaml.Unmarshal(out.Bytes(), &printed))
	assert.Equal(t, config.DefaultImage, printed["image"])
	assert.Equal(t, []any{"ANTHROPIC_API_KEY"}, printed["forwarded_api_keys"])
}

func TestConfigInitWritesLoadableFile(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	path := config.GlobalConfigPath()
	require.NoError(t, writeConfigFile(path, defaultConfigTOML))

	_, err := os.Stat(filepath.Dir(path))
	require.NoError(t, err)
	_, err = config.LoadLayer(path)
	assert.NoError(t, err)
}
