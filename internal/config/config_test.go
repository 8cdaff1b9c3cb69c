package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hospos/kernel/mem"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	k := cfg.KernelSettings()
	assert.Equal(t, mem.DefaultBase, k.Mem.Base)
	assert.Equal(t, mem.DefaultSize, k.Mem.Size)
	assert.Equal(t, 100, k.IPC.Capacity)
	assert.Equal(t, uint32(100), k.Sched.Quantum)
}

func TestLoadMissingFileKeepsDefaults(t *testing.T) {
	t.Setenv(EnvLogLevel, "")
	t.Setenv(EnvStorage, "")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	if diff := cmp.Diff(Default(), cfg); diff != "" {
		t.Fatalf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadOverlaysFile(t *testing.T) {
	t.Setenv(EnvLogLevel, "")
	t.Setenv(EnvStorage, "")

	path := filepath.Join(t.TempDir(), "hospos.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
kernel:
  quantum: 10
  queue_capacity: 8
logging:
  level: debug
host:
  ticks: 500
  storage_path: /tmp/hospos.db
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	assert.Equal(t, uint32(10), cfg.Kernel.Quantum)
	assert.Equal(t, 8, cfg.Kernel.QueueCapacity)
	assert.Equal(t, mem.DefaultSize, cfg.Kernel.MemSize, "unset fields keep defaults")
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "console", cfg.Logging.Encoding)
	assert.Equal(t, uint64(500), cfg.Host.Ticks)
	assert.Equal(t, "/tmp/hospos.db", cfg.Host.StoragePath)
}

func TestLoadBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("kernel: [1, 2"), 0o644))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv(EnvLogLevel, "WARN")
	t.Setenv(EnvStorage, "/var/lib/hospos/state.db")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, "/var/lib/hospos/state.db", cfg.Host.StoragePath)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"tiny memory", func(c *Config) { c.Kernel.MemSize = 10 }},
		{"zero base", func(c *Config) { c.Kernel.MemBase = 0 }},
		{"past 4GiB", func(c *Config) { c.Kernel.MemBase = 0xFFFF0000 }},
		{"one task", func(c *Config) { c.Kernel.MaxTasks = 1 }},
		{"too many tasks", func(c *Config) { c.Kernel.MaxTasks = 300 }},
		{"zero quantum", func(c *Config) { c.Kernel.Quantum = 0 }},
		{"queue", func(c *Config) { c.Kernel.QueueCapacity = 0 }},
		{"level", func(c *Config) { c.Logging.Level = "loud" }},
		{"encoding", func(c *Config) { c.Logging.Encoding = "xml" }},
		{"hz", func(c *Config) { c.Host.Hz = 0 }},
		{"budget", func(c *Config) { c.Host.StepBudget = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalid)
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	t.Setenv(EnvLogLevel, "")
	t.Setenv(EnvStorage, "")

	path := filepath.Join(t.TempDir(), "sub", "hospos.yaml")
	want := Default()
	want.Host.Ticks = 42
	require.NoError(t, want.Save(path))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}
