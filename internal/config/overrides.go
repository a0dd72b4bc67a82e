package config

import (
	"fmt"
	"strings"

	"github.com/spf13/cast"
	"github.com/spf13/viper"
)

// Keys understood by the override layer. Nested keys use dots; the matching
// environment variable replaces dots with underscores (AGENTBOX_RESOURCES_CPUS).
const (
	KeyRuntime          = "runtime"
	KeyImage            = "image"
	KeySSHAgent         = "ssh_agent"
	KeyGitConfig        = "git_config"
	KeyAIConfig         = "ai_config"
	KeyContainerSocket  = "container_socket"
	KeyClipboard        = "clipboard"
	KeyNoNetwork        = "no_network"
	KeyReadonlyProject  = "readonly_project"
	KeyAutoPullImage    = "auto_pull_image"
	KeyAutoUpgradeTools = "auto_upgrade_tools"
	KeyForwardAPIKeys   = "forward_api_keys"
	KeyMemory           = "resources.memory"
	KeyMemorySwap       = "resources.memory_swap"
	KeyCPUs             = "resources.cpus"
	KeyPidsLimit        = "resources.pids_limit"
	KeyMounts           = "mounts"
)

// NewOverrides returns a viper instance reading AGENTBOX_* environment
// variables. Callers bind command-line flags to it before LayerFromViper.
func NewOverrides() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	for _, key := range []string{
		KeyRuntime, KeyImage, KeySSHAgent, KeyGitConfig, KeyAIConfig, KeyContainerSocket,
		KeyClipboard, KeyNoNetwork, KeyReadonlyProject, KeyAutoPullImage, KeyAutoUpgradeTools,
		KeyForwardAPIKeys, KeyMemory, KeyMemorySwap, KeyCPUs, KeyPidsLimit,
	} {
		_ = v.BindEnv(key)
	}
	return v
}

// LayerFromViper turns every key explicitly set in v (changed flag or
// environment variable) into a Layer. A value that does not convert to the
// key's type is a ConfigError.
func LayerFromViper(v *viper.Viper) (Layer, error) {
	var l Layer
	var errs []error

	str := func(key string) *string {
		return read(v, key, cast.ToStringE, &errs)
	}
	boolean := func(key string) *bool {
		return read(v, key, cast.ToBoolE, &errs)
	}

	l.Runtime = str(KeyRuntime)
	l.Image = str(KeyImage)
	l.SSHAgent = boolean(KeySSHAgent)
	l.GitConfig = boolean(KeyGitConfig)
	l.AIConfig = boolean(KeyAIConfig)
	l.ContainerSocket = boolean(KeyContainerSocket)
	l.Clipboard = boolean(KeyClipboard)
	l.NoNetwork = boolean(KeyNoNetwork)
	l.ReadonlyProject = boolean(KeyReadonlyProject)
	l.AutoPullImage = boolean(KeyAutoPullImage)
	l.AutoUpgradeTools = boolean(KeyAutoUpgradeTools)
	l.ForwardAPIKeys = boolean(KeyForwardAPIKeys)

	var r ResourcesLayer
	r.Memory = str(KeyMemory)
	r.MemorySwap = str(KeyMemorySwap)
	r.CPUs = read(v, KeyCPUs, cast.ToFloat64E, &errs)
	r.PidsLimit = read(v, KeyPidsLimit, cast.ToIntE, &errs)
	if r != (ResourcesLayer{}) {
		l.Resources = &r
	}

	if v.IsSet(KeyMounts) {
		m := v.GetStringSlice(KeyMounts)
		l.Mounts = &m
	}

	if len(errs) > 0 {
		return Layer{}, errs[0]
	}
	return l, nil
}

// read converts key when it is set, recording a ConfigError when it cannot.
func read[T any](v *viper.Viper, key string, conv func(any) (T, error), errs *[]error) *T {
	if !v.IsSet(key) {
		return nil
	}
	raw := v.Get(key)
	val, err := conv(raw)
	if err != nil {
		*errs = append(*errs, &ConfigError{Field: key, Err: fmt.Errorf("invalid value %q", fmt.Sprint(raw))})
		return nil
	}
	return &val
}
