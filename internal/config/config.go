package config

import (
	"maps"
	"slices"
)

// Config is the effective configuration for one invocation. It is built once
// by Resolve and not modified afterwards.
type Config struct {
	Runtime string `yaml:"runtime,omitempty" validate:"omitempty,oneof=podman docker"`
	Image   string `yaml:"image" validate:"required"`

	// Feature mounts
	SSHAgent        bool `yaml:"ssh_agent"`
	GitConfig       bool `yaml:"git_config"`
	AIConfig        bool `yaml:"ai_config"`
	ContainerSocket bool `yaml:"container_socket"`
	Clipboard       bool `yaml:"clipboard"`

	// Isolation
	NoNetwork       bool `yaml:"no_network"`
	ReadonlyProject bool `yaml:"readonly_project"`

	// Auto-update
	AutoPullImage    bool `yaml:"auto_pull_image"`
	AutoUpgradeTools bool `yaml:"auto_upgrade_tools"`

	ForwardAPIKeys bool `yaml:"forward_api_keys"`

	Resources ResourceLimits `yaml:"resources"`

	// Mounts are "source:target[:ro|:rw]" strings.
	Mounts []string          `yaml:"mounts"`
	Env    map[string]string `yaml:"env"`

	// APIKeys holds the forwarded API keys captured from the process
	// environment. Never written out.
	APIKeys map[string]string `yaml:"-"`
}

// ResourceLimits caps the container. Zero values mean unlimited.
type ResourceLimits struct {
	Memory     string  `yaml:"memory,omitempty" toml:"memory"`
	MemorySwap string  `yaml:"memory_swap,omitempty" toml:"memory_swap"`
	CPUs       float64 `yaml:"cpus,omitempty" toml:"cpus" validate:"gte=0"`
	PidsLimit  int     `yaml:"pids_limit,omitempty" toml:"pids_limit" validate:"gte=0"`
}

// Layer is one configuration source. Nil fields are absent from the source
// and leave lower layers untouched.
type Layer struct {
	Runtime *string `toml:"runtime"`
	Image   *string `toml:"image"`

	SSHAgent        *bool `toml:"ssh_agent"`
	GitConfig       *bool `toml:"git_config"`
	AIConfig        *bool `toml:"ai_config"`
	ContainerSocket *bool `toml:"container_socket"`
	Clipboard       *bool `toml:"clipboard"`

	NoNetwork       *bool `toml:"no_network"`
	ReadonlyProject *bool `toml:"readonly_project"`

	AutoPullImage    *bool `toml:"auto_pull_image"`
	AutoUpgradeTools *bool `toml:"auto_upgrade_tools"`

	ForwardAPIKeys *bool `toml:"forward_api_keys"`

	Resources *ResourcesLayer `toml:"resources"`

	Mounts *[]string          `toml:"mounts"`
	Env    *map[string]string `toml:"env"`
}

// ResourcesLayer is the [resources] table of a Layer.
type ResourcesLayer struct {
	Memory     *string  `toml:"memory"`
	MemorySwap *string  `toml:"memory_swap"`
	CPUs       *float64 `toml:"cpus"`
	PidsLimit  *int     `toml:"pids_limit"`
}

// Merge folds layers from lowest to highest precedence. Every scalar is
// overridden independently; mounts and env are replaced wholesale.
func Merge(layers ...Layer) Layer {
	var out Layer
	for _, l := range layers {
		override(&out.Runtime, l.Runtime)
		override(&out.Image, l.Image)
		override(&out.SSHAgent, l.SSHAgent)
		override(&out.GitConfig, l.GitConfig)
		override(&out.AIConfig, l.AIConfig)
		override(&out.ContainerSocket, l.ContainerSocket)
		override(&out.Clipboard, l.Clipboard)
		override(&out.NoNetwork, l.NoNetwork)
		override(&out.ReadonlyProject, l.ReadonlyProject)
		override(&out.AutoPullImage, l.AutoPullImage)
		override(&out.AutoUpgradeTools, l.AutoUpgradeTools)
		override(&out.ForwardAPIKeys, l.ForwardAPIKeys)

		if l.Resources != nil {
			if out.Resources == nil {
				out.Resources = &ResourcesLayer{}
			}
			override(&out.Resources.Memory, l.Resources.Memory)
			override(&out.Resources.MemorySwap, l.Resources.MemorySwap)
			override(&out.Resources.CPUs, l.Resources.CPUs)
			override(&out.Resources.PidsLimit, l.Resources.PidsLimit)
		}

		if l.Mounts != nil {
			mounts := slices.Clone(*l.Mounts)
			if mounts == nil {
				mounts = []string{}
			}
			out.Mounts = &mounts
		}
		if l.Env != nil {
			env := maps.Clone(*l.Env)
			if env == nil {
				env = map[string]string{}
			}
			out.Env = &env
		}
	}
	return out
}

func override[T any](dst **T, src *T) {
	if src != nil {
		v := *src
		*dst = &v
	}
}

func defaultConfig() *Config {
	return &Config{
		Image:          DefaultImage,
		ForwardAPIKeys: true,
		Mounts:         []string{},
		Env:            map[string]string{},
		APIKeys:        map[string]string{},
	}
}

// apply returns the defaults overlaid with l.
func (l Layer) apply() *Config {
	cfg := defaultConfig()

	set(&cfg.Runtime, l.Runtime)
	set(&cfg.Image, l.Image)
	set(&cfg.SSHAgent, l.SSHAgent)
	set(&cfg.GitConfig, l.GitConfig)
	set(&cfg.AIConfig, l.AIConfig)
	set(&cfg.ContainerSocket, l.ContainerSocket)
	set(&cfg.Clipboard, l.Clipboard)
	set(&cfg.NoNetwork, l.NoNetwork)
	set(&cfg.ReadonlyProject, l.ReadonlyProject)
	set(&cfg.AutoPullImage, l.AutoPullImage)
	set(&cfg.AutoUpgradeTools, l.AutoUpgradeTools)
	set(&cfg.ForwardAPIKeys, l.ForwardAPIKeys)

	if r := l.Resources; r != nil {
		set(&cfg.Resources.Memory, r.Memory)
		set(&cfg.Resources.MemorySwap, r.MemorySwap)
		set(&cfg.Resources.CPUs, r.CPUs)
		set(&cfg.Resources.PidsLimit, r.PidsLimit)
	}

	if l.Mounts != nil {
		cfg.Mounts = slices.Clone(*l.Mounts)
	}
	if l.Env != nil {
		cfg.Env = maps.Clone(*l.Env)
	}
	return cfg
}

func set[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}
