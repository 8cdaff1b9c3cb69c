// Package config loads the system configuration from YAML.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"hospos/kernel"
	"hospos/kernel/ipc"
	"hospos/kernel/mem"
	"hospos/kernel/sched"
)

// Environment overrides.
const (
	EnvLogLevel = "HOSPOS_LOG_LEVEL"
	EnvStorage  = "HOSPOS_STORAGE"
)

var ErrInvalid = errors.New("invalid configuration")

// Config holds all hospos configuration.
type Config struct {
	Kernel  KernelConfig  `yaml:"kernel"`
	Logging LoggingConfig `yaml:"logging"`
	Host    HostConfig    `yaml:"host"`
}

type KernelConfig struct {
	MemBase       uint32 `yaml:"mem_base"`
	MemSize       uint32 `yaml:"mem_size"`
	MaxTasks      int    `yaml:"max_tasks"`
	StackSize     uint32 `yaml:"stack_size"`
	Quantum       uint32 `yaml:"quantum"` // ticks
	QueueCapacity int    `yaml:"queue_capacity"`
	TickHz        uint32 `yaml:"tick_hz"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`    // debug, info, warn, error
	Encoding string `yaml:"encoding"` // console, json
}

type HostConfig struct {
	Headless bool `yaml:"headless"`
	// Loop runs the kernel's own dispatch loop instead of stepping it
	// from the host frame rate.
	Loop bool `yaml:"loop"`
	// Hz is the host step rate.
	Hz         int    `yaml:"hz"`
	Ticks      uint64 `yaml:"ticks"`
	StepBudget int    `yaml:"step_budget"`
	// StoragePath is the SQLite file for saved module state. Empty keeps
	// state in memory.
	StoragePath string `yaml:"storage_path"`
	RawTerm     bool   `yaml:"raw_term"`
	// CheckInEvery checks in a walk-in patient every that many kernel
	// ticks. Zero disables it.
	CheckInEvery uint32 `yaml:"check_in_every"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Kernel: KernelConfig{
			MemBase:       mem.DefaultBase,
			MemSize:       mem.DefaultSize,
			MaxTasks:      sched.DefaultMaxTasks,
			StackSize:     sched.DefaultStackSize,
			Quantum:       sched.DefaultQuantum,
			QueueCapacity: ipc.DefaultCapacity,
			TickHz:        kernel.DefaultTickHz,
		},
		Logging: LoggingConfig{
			Level:    "info",
			Encoding: "console",
		},
		Host: HostConfig{
			Headless:   true,
			Hz:         60,
			StepBudget: 8,
		},
	}
}

// Load reads path over the defaults. A missing file yields the defaults.
// Environment overrides are applied last.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}
	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save writes the configuration as YAML.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

func (c *Config) applyEnvOverrides() {
	if lvl := os.Getenv(EnvLogLevel); lvl != "" {
		c.Logging.Level = strings.ToLower(lvl)
	}
	if path := os.Getenv(EnvStorage); path != "" {
		c.Host.StoragePath = path
	}
}

var (
	validLevels    = []string{"debug", "info", "warn", "error"}
	validEncodings = []string{"console", "json"}
)

// Validate checks ranges. The error wraps ErrInvalid.
func (c *Config) Validate() error {
	k := c.Kernel
	if k.MemSize < 2*mem.Overhead {
		return fmt.Errorf("%w: kernel.mem_size %d is too small", ErrInvalid, k.MemSize)
	}
	if k.MemBase == 0 {
		return fmt.Errorf("%w: kernel.mem_base must not be zero", ErrInvalid)
	}
	if uint64(k.MemBase)+uint64(k.MemSize) > 1<<32 {
		return fmt.Errorf("%w: kernel memory %#x+%#x exceeds the address space", ErrInvalid, k.MemBase, k.MemSize)
	}
	if k.MaxTasks < 2 || k.MaxTasks > 256 {
		return fmt.Errorf("%w: kernel.max_tasks %d not in [2, 256]", ErrInvalid, k.MaxTasks)
	}
	if k.StackSize == 0 || k.Quantum == 0 || k.TickHz == 0 {
		return fmt.Errorf("%w: kernel.stack_size, quantum and tick_hz must be positive", ErrInvalid)
	}
	if k.QueueCapacity <= 0 {
		return fmt.Errorf("%w: kernel.queue_capacity %d", ErrInvalid, k.QueueCapacity)
	}
	if !contains(validLevels, c.Logging.Level) {
		return fmt.Errorf("%w: logging.level %q (valid: %v)", ErrInvalid, c.Logging.Level, validLevels)
	}
	if !contains(validEncodings, c.Logging.Encoding) {
		return fmt.Errorf("%w: logging.encoding %q (valid: %v)", ErrInvalid, c.Logging.Encoding, validEncodings)
	}
	if c.Host.Hz <= 0 {
		return fmt.Errorf("%w: host.hz %d", ErrInvalid, c.Host.Hz)
	}
	if c.Host.StepBudget <= 0 {
		return fmt.Errorf("%w: host.step_budget %d", ErrInvalid, c.Host.StepBudget)
	}
	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// KernelSettings converts the kernel section for kernel.New.
func (c *Config) KernelSettings() kernel.Config {
	k := c.Kernel
	return kernel.Config{
		Mem:    mem.Config{Base: k.MemBase, Size: k.MemSize},
		Sched:  sched.Config{MaxTasks: k.MaxTasks, StackSize: k.StackSize, Quantum: k.Quantum},
		IPC:    ipc.Config{Capacity: k.QueueCapacity},
		TickHz: k.TickHz,
	}
}
