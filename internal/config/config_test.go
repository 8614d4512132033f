package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 0, cfg.Port)
	assert.Equal(t, 60053, cfg.IterativePort)
	assert.Equal(t, time.Second, cfg.RetryInterval.Std())
	assert.Equal(t, 6, cfg.MaxAttempts)
	assert.Equal(t, 100*time.Millisecond, cfg.PollInterval.Std())
}

func TestLoadOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "labdnsd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
port: 5300
iterative_port: 53
retry_interval: 500ms
trace_dir: /tmp/traces
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 5300, cfg.Port)
	assert.Equal(t, 53, cfg.IterativePort)
	assert.Equal(t, 500*time.Millisecond, cfg.RetryInterval.Std())
	assert.Equal(t, "/tmp/traces", cfg.TraceDir)
	// Untouched fields keep their defaults.
	assert.Equal(t, 6, cfg.MaxAttempts)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("retry_interval: [not, a, duration]"), 0o644))
	_, err = Load(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := DefaultConfig()
	valid.RootIP = "10.0.0.1"
	valid.ZoneFile = "zone.txt"
	require.NoError(t, valid.Validate())

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing root", func(c *Config) { c.RootIP = "" }},
		{"hostname root", func(c *Config) { c.RootIP = "root.example." }},
		{"ipv6 root", func(c *Config) { c.RootIP = "2001:db8::1" }},
		{"missing zone", func(c *Config) { c.ZoneFile = "" }},
		{"bad port", func(c *Config) { c.Port = 70000 }},
		{"bad iterative port", func(c *Config) { c.IterativePort = 0 }},
		{"zero retry", func(c *Config) { c.RetryInterval = 0 }},
		{"zero attempts", func(c *Config) { c.MaxAttempts = 0 }},
		{"slow poll", func(c *Config) { c.PollInterval = Duration(time.Second) }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := valid
			tc.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
