package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"weave/internal/compose"
	"weave/internal/diag"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func env(vars map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := vars[key]
		return v, ok
	}
}

func TestDefaults(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, DefaultRootPath, cfg.Runtime.RootPath)
	assert.Equal(t, compose.DefaultMaxParallel, cfg.Runtime.MaxParallel)
	assert.Equal(t, compose.FailFast, cfg.FailurePolicy())
	assert.Empty(t, cfg.LibPath())
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "weave.yaml", `
runtime:
  root: scripts
  home: /opt/weave
  max_parallel: 2
  failure_policy: partial
  timeout: 1500ms
poet:
  presets: extra.yaml
metrics:
  enabled: true
  addr: ":9100"
tracing:
  enabled: true
  sampling_rate: 0.5
store:
  path: feedback.db
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "scripts", cfg.Runtime.RootPath)
	assert.Equal(t, 2, cfg.Runtime.MaxParallel)
	assert.Equal(t, DefaultMaxCallDepth, cfg.Runtime.MaxCallDepth)
	assert.Equal(t, compose.CollectPartial, cfg.FailurePolicy())
	assert.Equal(t, 1500*time.Millisecond, cfg.Runtime.Timeout.Std())
	assert.Equal(t, filepath.Join("/opt/weave", "lib"), cfg.LibPath())
	assert.Equal(t, "extra.yaml", cfg.Poet.Presets)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, ":9100", cfg.Metrics.Addr)
	assert.Equal(t, 0.5, cfg.Tracing.SamplingRate)
	assert.Equal(t, "feedback.db", cfg.Store.Path)
}

func TestLoadTOML(t *testing.T) {
	path := writeFile(t, "weave.toml", `
[runtime]
root = "scripts"
lib_path = "vendor/weave"
max_call_depth = 64
timeout = "2s"

[poet]
learn = true
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "scripts", cfg.Runtime.RootPath)
	assert.Equal(t, "vendor/weave", cfg.LibPath())
	assert.Equal(t, 64, cfg.Runtime.MaxCallDepth)
	assert.Equal(t, 2*time.Second, cfg.Runtime.Timeout.Std())
	assert.True(t, cfg.Poet.Learn)
}

func TestLoadRejects(t *testing.T) {
	testCases := []struct {
		name    string
		file    string
		content string
		msg     string
	}{
		{"unknown yaml key", "w.yaml", "runtime:\n  colour: red\n", "colour"},
		{"unknown toml key", "w.toml", "[runtime]\ncolour = \"red\"\n", "unknown keys"},
		{"bad policy", "w.yaml", "runtime:\n  failure_policy: sometimes\n", "unknown failure policy"},
		{"bad duration", "w.yaml", "runtime:\n  timeout: soon\n", "invalid duration"},
		{"bad sampling", "w.yaml", "tracing:\n  sampling_rate: 2\n", "sampling_rate"},
		{"unknown format", "w.json", "{}", "unsupported config format"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeFile(t, tc.file, tc.content))
			require.Error(t, err)
			assert.Equal(t, diag.ConfigError, diag.KindOf(err))
			assert.Contains(t, err.Error(), tc.msg)
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Equal(t, diag.ConfigError, diag.KindOf(err))
}

func TestEnvironmentOverrides(t *testing.T) {
	cfg := Default()
	err := cfg.ApplyEnv(env(map[string]string{
		"WEAVE_ROOT":           "/srv/scripts",
		"WEAVE_HOME":           "/opt/weave",
		"WEAVE_MAX_PARALLEL":   "3",
		"WEAVE_FAILURE_POLICY": "partial",
		"WEAVE_TIMEOUT":        "5",
		"WEAVE_METRICS_ADDR":   ":9200",
		"WEAVE_TRACE":          "true",
		"WEAVE_STORE":          "/tmp/fb.db",
	}))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "/srv/scripts", cfg.Runtime.RootPath)
	assert.Equal(t, filepath.Join("/opt/weave", "lib"), cfg.LibPath())
	assert.Equal(t, 3, cfg.Runtime.MaxParallel)
	assert.Equal(t, compose.CollectPartial, cfg.FailurePolicy())
	assert.Equal(t, 5*time.Second, cfg.Runtime.Timeout.Std())
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, ":9200", cfg.Metrics.Addr)
	assert.True(t, cfg.Tracing.Enabled)
	assert.Equal(t, "/tmp/fb.db", cfg.Store.Path)
}

func TestEnvironmentRejectsBadValues(t *testing.T) {
	for key, v := range map[string]string{
		"WEAVE_MAX_PARALLEL": "many",
		"WEAVE_TRACE":        "perhaps",
		"WEAVE_TIMEOUT":      "later",
	} {
		t.Run(key, func(t *testing.T) {
			cfg := Default()
			err := cfg.ApplyEnv(env(map[string]string{key: v}))
			require.Error(t, err)
			assert.Equal(t, diag.ConfigError, diag.KindOf(err))
		})
	}
}
