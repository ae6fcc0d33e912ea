// Package config holds the settings of one analysis, loaded from a YAML or
// JSON file and overridden by command-line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/shlex"
	"gopkg.in/yaml.v3"
)

// DefaultSection is applied before the selected section of a sectioned
// file.
const DefaultSection = "DEFAULT"

// Args is a list of command-line arguments. In a file it is written either
// as a sequence or as one shell-quoted string.
type Args []string

// UnmarshalYAML implements yaml.Unmarshaler.
func (a *Args) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		parts, err := shlex.Split(value.Value)
		if err != nil {
			return fmt.Errorf("line %d: %w", value.Line, err)
		}
		*a = parts
		return nil
	case yaml.SequenceNode:
		var parts []string
		if err := value.Decode(&parts); err != nil {
			return err
		}
		*a = parts
		return nil
	default:
		return fmt.Errorf("line %d: arguments must be a string or a list", value.Line)
	}
}

// ParseArgs splits a shell-quoted argument string.
func ParseArgs(s string) (Args, error) {
	parts, err := shlex.Split(s)
	if err != nil {
		return nil, err
	}
	return Args(parts), nil
}

// Config holds every setting of an analysis. The yaml keys match the JSON
// configuration files used with earlier releases.
type Config struct {
	// Profiler selects the backend: perf, gem5 or ssh.
	Profiler string `yaml:"profiler"`
	TestDir  string `yaml:"test_dir"`
	OutDir   string `yaml:"out_dir"`

	// Timeout is the per-test window in seconds.
	Timeout float64 `yaml:"timeout"`
	// MaxTestLaunches caps launches per test; -1 means unbounded.
	MaxTestLaunches int `yaml:"max_test_launches"`
	// CPU is the core tests pin themselves to.
	CPU int `yaml:"cpu"`

	Compiler     string `yaml:"compiler"`
	CompilerArgs Args   `yaml:"compiler_args,omitempty"`
	// PerfEvents names the perf event table compiled into tests.
	PerfEvents string `yaml:"perf_events"`

	Gem5Home      string `yaml:"gem5_home"`
	Gem5Bin       string `yaml:"gem5_bin_path"`
	TargetISA     string `yaml:"target_isa"`
	SimScript     string `yaml:"sim_script_path"`
	SimScriptArgs Args   `yaml:"sim_script_args,omitempty"`

	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	Username   string `yaml:"username"`
	PathToKey  string `yaml:"path_to_key"`
	Password   string `yaml:"password"`
	KnownHosts string `yaml:"known_hosts"`

	LogLevel string `yaml:"log_level"`
	// WorkspaceRoot is where scratch trees are created; the system temp
	// dir when empty.
	WorkspaceRoot string `yaml:"workspace_root"`
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() *Config {
	return &Config{
		Profiler:        "perf",
		TestDir:         "tests",
		OutDir:          "analyze",
		Timeout:         10,
		MaxTestLaunches: -1,
		CPU:             0,
		Compiler:        "gcc",
		PerfEvents:      "no_exclude",
		Gem5Home:        "./",
		Host:            "127.0.0.1",
		Port:            22,
		Username:        "root",
		LogLevel:        "WARNING",
	}
}

// Load reads a configuration file over the defaults. With a section, the
// file must be a mapping of sections: DEFAULT is applied first, then the
// named section.
func Load(path, section string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()

	if section == "" {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
		return cfg, nil
	}

	var sections map[string]yaml.Node
	if err := yaml.Unmarshal(data, &sections); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if def, ok := sections[DefaultSection]; ok {
		if err := def.Decode(cfg); err != nil {
			return nil, fmt.Errorf("failed to parse section %s: %w", DefaultSection, err)
		}
	}

	sel, ok := sections[section]
	if !ok {
		return nil, fmt.Errorf("config has no section %q", section)
	}
	if err := sel.Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse section %s: %w", section, err)
	}

	return cfg, nil
}

// Save writes the configuration as YAML.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to serialize config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Validate checks the settings every backend relies on. Backend specific
// checks happen when the analyzer is configured.
func (c *Config) Validate() error {
	var errs []error
	if c.Timeout <= 0 {
		errs = append(errs, errors.New("timeout must be > 0"))
	}
	if c.MaxTestLaunches < -1 {
		errs = append(errs, errors.New("max_test_launches must be -1 or >= 0"))
	}
	if c.CPU < 0 {
		errs = append(errs, errors.New("cpu must be >= 0"))
	}
	if strings.TrimSpace(c.Compiler) == "" {
		errs = append(errs, errors.New("compiler must be set"))
	}
	if c.Port < 0 || c.Port > 65535 {
		errs = append(errs, errors.New("port must be within 0-65535"))
	}
	return errors.Join(errs...)
}

// TimeoutDuration returns Timeout as a duration.
func (c *Config) TimeoutDuration() time.Duration {
	return time.Duration(c.Timeout * float64(time.Second))
}

// Clone returns a deep copy.
func (c *Config) Clone() *Config {
	out := *c
	out.CompilerArgs = append(Args(nil), c.CompilerArgs...)
	out.SimScriptArgs = append(Args(nil), c.SimScriptArgs...)
	return &out
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
