// Package config loads weave settings from a YAML or TOML file and the
// WEAVE_* environment.
package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"weave/internal/compose"
	"weave/internal/diag"
	"weave/internal/telemetry"
	"weave/internal/util"
)

const (
	DefaultRootPath     = "."
	DefaultMaxCallDepth = 256
	EnvPrefix           = "WEAVE_"
)

type Configuration struct {
	// build information, set by the binary
	Version   string `yaml:"-" toml:"-"`
	BuildDate string `yaml:"-" toml:"-"`
	Commit    string `yaml:"-" toml:"-"`

	Runtime RuntimeConfig           `yaml:"runtime" toml:"runtime"`
	Poet    PoetConfig              `yaml:"poet" toml:"poet"`
	Metrics telemetry.MetricsConfig `yaml:"metrics" toml:"metrics"`
	Tracing telemetry.TracingConfig `yaml:"tracing" toml:"tracing"`
	Store   StoreConfig             `yaml:"store" toml:"store"`
}

type RuntimeConfig struct {
	RootPath  string `yaml:"root" toml:"root"`
	WeaveHome string `yaml:"home" toml:"home"`
	// LibPath defaults to $home/lib.
	LibPath         string        `yaml:"lib_path" toml:"lib_path"`
	MaxCallDepth    int           `yaml:"max_call_depth" toml:"max_call_depth"`
	MaxParallel     int           `yaml:"max_parallel" toml:"max_parallel"`
	FailurePolicy   string        `yaml:"failure_policy" toml:"failure_policy"`
	NoOrchestration bool          `yaml:"no_orchestration" toml:"no_orchestration"`
	Timeout         util.Duration `yaml:"timeout" toml:"timeout"`
	DebugJSONAST    bool          `yaml:"debug_json_ast" toml:"debug_json_ast"`
}

type PoetConfig struct {
	// Presets is an extra preset catalogue layered over the built-in one.
	Presets string `yaml:"presets" toml:"presets"`
	// Learn keeps per-function latency and success statistics in memory.
	Learn bool `yaml:"learn" toml:"learn"`
}

type StoreConfig struct {
	// Path of the SQLite feedback database; empty disables it.
	Path string `yaml:"path" toml:"path"`
}

func Default() Configuration {
	return Configuration{
		Runtime: RuntimeConfig{
			RootPath:      DefaultRootPath,
			MaxCallDepth:  DefaultMaxCallDepth,
			MaxParallel:   compose.DefaultMaxParallel,
			FailurePolicy: compose.FailFast.String(),
		},
		Metrics: telemetry.MetricsConfig{Namespace: "weave", Addr: ":9090"},
		Tracing: telemetry.TracingConfig{Output: "stderr"},
	}
}

// Load reads path over the defaults, then applies the environment. An empty
// path skips the file.
func Load(path string) (Configuration, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.readFile(path); err != nil {
			return cfg, err
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func (c *Configuration) readFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return diag.Wrap(diag.ConfigError, err, "failed to read config: %v", err)
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(c); err != nil {
			return diag.Wrap(diag.ConfigError, err, "%s: %v", path, err)
		}
	case ".toml":
		md, err := toml.Decode(string(data), c)
		if err != nil {
			return diag.Wrap(diag.ConfigError, err, "%s: %v", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return diag.New(diag.ConfigError, "%s: unknown keys %v", path, undecoded)
		}
	default:
		return diag.New(diag.ConfigError, "%s: unsupported config format %q", path, ext)
	}
	return nil
}

// ApplyEnv overrides settings from WEAVE_* variables.
func (c *Configuration) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(EnvPrefix + key); ok {
			*dst = v
		}
	}
	num := func(key string, dst *int) error {
		v, ok := lookup(EnvPrefix + key)
		if !ok {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return diag.New(diag.ConfigError, "%s%s: %q is not a number", EnvPrefix, key, v)
		}
		*dst = n
		return nil
	}
	flag := func(key string, dst *bool) error {
		v, ok := lookup(EnvPrefix + key)
		if !ok {
			return nil
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return diag.New(diag.ConfigError, "%s%s: %q is not a bool", EnvPrefix, key, v)
		}
		*dst = b
		return nil
	}

	str("ROOT", &c.Runtime.RootPath)
	str("HOME", &c.Runtime.WeaveHome)
	str("LIB_PATH", &c.Runtime.LibPath)
	str("FAILURE_POLICY", &c.Runtime.FailurePolicy)
	str("PRESETS", &c.Poet.Presets)
	str("STORE", &c.Store.Path)
	if v, ok := lookup(EnvPrefix + "TIMEOUT"); ok {
		d, err := util.ParseDuration(v)
		if err != nil {
			return diag.Wrap(diag.ConfigError, err, "%sTIMEOUT: %v", EnvPrefix, err)
		}
		c.Runtime.Timeout = util.Duration(d)
	}
	if v, ok := lookup(EnvPrefix + "METRICS_ADDR"); ok {
		c.Metrics.Addr = v
		c.Metrics.Enabled = v != ""
	}
	if err := num("MAX_CALL_DEPTH", &c.Runtime.MaxCallDepth); err != nil {
		return err
	}
	if err := num("MAX_PARALLEL", &c.Runtime.MaxParallel); err != nil {
		return err
	}
	return flag("TRACE", &c.Tracing.Enabled)
}

func (c Configuration) Validate() error {
	if _, err := compose.ParsePolicy(c.Runtime.FailurePolicy); err != nil {
		return diag.Wrap(diag.ConfigError, err, "runtime.failure_policy: %v", err)
	}
	if c.Runtime.MaxCallDepth < 0 {
		return diag.New(diag.ConfigError, "runtime.max_call_depth must not be negative")
	}
	if c.Runtime.MaxParallel < 0 {
		return diag.New(diag.ConfigError, "runtime.max_parallel must not be negative")
	}
	if c.Runtime.Timeout < 0 {
		return diag.New(diag.ConfigError, "runtime.timeout must not be negative")
	}
	if r := c.Tracing.SamplingRate; r < 0 || r > 1 {
		return diag.New(diag.ConfigError, "tracing.sampling_rate must be within [0, 1], got %v", r)
	}
	return nil
}

// FailurePolicy is the parsed runtime.failure_policy.
func (c Configuration) FailurePolicy() compose.FailurePolicy {
	p, _ := compose.ParsePolicy(c.Runtime.FailurePolicy)
	return p
}

// LibPath is the fallback import directory.
func (c Configuration) LibPath() string {
	if c.Runtime.LibPath != "" {
		return c.Runtime.LibPath
	}
	if c.Runtime.WeaveHome != "" {
		return filepath.Join(c.Runtime.WeaveHome, "lib")
	}
	return ""
}
