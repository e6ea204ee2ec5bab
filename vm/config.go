// Package vm implements the register-free stack machine that executes
// registry.Function bytecode: the dispatch loop, call frames, operand
// stack, exception-table-driven unwinding, and the per-call-site inline
// caches for property and method dispatch.
package vm

import (
	"fmt"
	"io"
	"log"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/wudi/heyvm/heap"
)

// Config holds the VM's tunable knobs: where script output and engine
// diagnostics go, the cycle collector's roots-buffer threshold, and the
// call-depth guard against runaway recursion.
type Config struct {
	Stdout        io.Writer
	Stderr        io.Writer
	Logger        *log.Logger
	GCThreshold   int
	MaxCallDepth  int
	TimeLimitSecs int
}

// DefaultConfig returns a Config wired to the process's own stdout/stderr.
func DefaultConfig() *Config {
	return &Config{
		Stdout:       os.Stdout,
		Stderr:       os.Stderr,
		Logger:       log.New(os.Stderr, "heyvm: ", log.LstdFlags),
		GCThreshold:  heap.DefaultThreshold,
		MaxCallDepth: 4096,
	}
}

func (c *Config) logger() *log.Logger {
	if c != nil && c.Logger != nil {
		return c.Logger
	}
	return log.New(os.Stderr, "heyvm: ", log.LstdFlags)
}

// fileConfig is the YAML document LoadConfig reads. Only numeric tunables
// live in the file; writers and loggers stay programmatic.
type fileConfig struct {
	GCThreshold   int `yaml:"gc_threshold"`
	MaxCallDepth  int `yaml:"max_call_depth"`
	TimeLimitSecs int `yaml:"time_limit_secs"`
}

// LoadConfig reads a YAML tuning file over DefaultConfig. Zero or absent
// fields keep their defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("vm: reading config %s: %w", path, err)
	}
	return ParseConfig(data)
}

// ParseConfig applies a YAML tuning document over DefaultConfig.
func ParseConfig(data []byte) (*Config, error) {
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("vm: parsing config: %w", err)
	}
	cfg := DefaultConfig()
	if fc.GCThreshold > 0 {
		cfg.GCThreshold = fc.GCThreshold
	}
	if fc.MaxCallDepth > 0 {
		cfg.MaxCallDepth = fc.MaxCallDepth
	}
	if fc.TimeLimitSecs > 0 {
		cfg.TimeLimitSecs = fc.TimeLimitSecs
	}
	return cfg, nil
}
