package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/docker/go-units"
	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
)

var validate = validator.New()

// ConfigError reports a config file that cannot be parsed or a value that
// fails validation.
type ConfigError struct {
	Path  string // empty for errors in the merged result
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	var b strings.Builder
	b.WriteString("config error")
	if e.Path != "" {
		b.WriteString(" in " + e.Path)
	}
	if e.Field != "" {
		b.WriteString(": " + e.Field)
	}
	b.WriteString(": " + e.Err.Error())
	return b.String()
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// LoadLayer decodes a TOML config file. A missing file (or empty path) is an
// empty layer, not an error.
func LoadLayer(path string) (Layer, error) {
	var l Layer
	if path == "" {
		return l, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return l, nil
		}
		return l, &ConfigError{Path: path, Err: fmt.Errorf("failed to read config file: %w", err)}
	}

	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&l); err != nil {
		var strict *toml.StrictMissingError
		if errors.As(err, &strict) {
			return Layer{}, &ConfigError{Path: path, Err: fmt.Errorf("unknown keys:\n%s", strict.String())}
		}
		return Layer{}, &ConfigError{Path: path, Err: err}
	}
	return l, nil
}

// Resolve loads the global and project files, merges them with overrides on
// top, validates the result and captures forwarded API keys from env.
func Resolve(globalPath, projectPath string, env map[string]string, overrides Layer) (*Config, error) {
	global, err := LoadLayer(globalPath)
	if err != nil {
		return nil, err
	}
	project, err := LoadLayer(projectPath)
	if err != nil {
		return nil, err
	}

	cfg := Merge(global, project, overrides).apply()
	if err := Validate(cfg); err != nil {
		return nil, err
	}

	// Captured after merging so only forward_api_keys can suppress it.
	if cfg.ForwardAPIKeys {
		for _, key := range APIKeys {
			if v := env[key]; v != "" {
				cfg.APIKeys[key] = v
			}
		}
	}
	return cfg, nil
}

// Validate checks struct constraints and resource limit strings.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}

	r := cfg.Resources
	var memory int64
	if r.Memory != "" {
		m, err := units.RAMInBytes(r.Memory)
		if err != nil || m <= 0 {
			return &ConfigError{Field: "resources.memory", Err: fmt.Errorf("invalid memory limit %q", r.Memory)}
		}
		memory = m
	}

	if r.MemorySwap != "" && r.MemorySwap != MemorySwapUnlimited {
		swap, err := units.RAMInBytes(r.MemorySwap)
		if err != nil || swap <= 0 {
			return &ConfigError{Field: "resources.memory_swap", Err: fmt.Errorf("invalid memory limit %q", r.MemorySwap)}
		}
		if memory == 0 {
			return &ConfigError{Field: "resources.memory_swap", Err: errors.New("requires resources.memory to be set")}
		}
		// Equal is allowed and disables swap.
		if swap < memory {
			return &ConfigError{
				Field: "resources.memory_swap",
				Err:   fmt.Errorf("%s is less than memory %s", r.MemorySwap, r.Memory),
			}
		}
	}
	return nil
}

func formatValidationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return &ConfigError{Err: err}
	}

	e := verrs[0]
	var field string
	if e.StructNamespace() == "Config.Resources."+e.StructField() {
		field = "resources." + fieldKey(e.StructField())
	} else {
		field = fieldKey(e.StructField())
	}

	var msg string
	switch e.Tag() {
	case "oneof":
		msg = fmt.Sprintf("must be one of [%s], got %q", e.Param(), e.Value())
	case "gte":
		msg = fmt.Sprintf("must be >= %s, got %v", e.Param(), e.Value())
	case "required":
		msg = "is required"
	default:
		msg = fmt.Sprintf("failed %q validation", e.Tag())
	}
	return &ConfigError{Field: field, Err: errors.New(msg)}
}

// fieldKey maps a Go field name to its config key.
func fieldKey(name string) string {
	switch name {
	case "CPUs":
		return "cpus"
	case "PidsLimit":
		return "pids_limit"
	default:
		return strings.ToLower(name)
	}
}
