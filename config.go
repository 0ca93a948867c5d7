package suiterunner

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Swind/go-suite-runner/core"
	"github.com/pelletier/go-toml/v2"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Config is the file form of a computer configuration.
type Config struct {
	Parallel           ParallelConfig `yaml:"parallel" toml:"parallel"`
	PoolCapacity       int            `yaml:"pool_capacity" toml:"pool_capacity"`
	RunTimeout         string         `yaml:"run_timeout" toml:"run_timeout"`
	InterruptOnTimeout bool           `yaml:"interrupt_on_timeout" toml:"interrupt_on_timeout"`
	LogLevel           string         `yaml:"log_level" toml:"log_level"`
	LogFormat          string         `yaml:"log_format" toml:"log_format"`
	MetricsAddr        string         `yaml:"metrics_addr" toml:"metrics_addr"`
	ResultsDB          string         `yaml:"results_db" toml:"results_db"`
}

// ParallelConfig holds per-level requests. Each value is "sequential",
// "unbounded" or an integer, written either as a string or a number.
type ParallelConfig struct {
	Suites  any `yaml:"suites" toml:"suites"`
	Classes any `yaml:"classes" toml:"classes"`
	Methods any `yaml:"methods" toml:"methods"`
}

// DefaultConfig runs everything sequentially.
func DefaultConfig() *Config {
	return &Config{
		Parallel: ParallelConfig{
			Suites:  "sequential",
			Classes: "sequential",
			Methods: "sequential",
		},
		LogLevel:  "info",
		LogFormat: "text",
	}
}

// LoadConfig reads a YAML (.yaml, .yml) or TOML (.toml) file over the
// defaults. A missing file yields the defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		err = toml.Unmarshal(data, cfg)
	case ".yaml", ".yml", "":
		err = yaml.Unmarshal(data, cfg)
	default:
		return nil, fmt.Errorf("unsupported config format %q", filepath.Ext(path))
	}
	if err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks every field that has a restricted form.
func (c *Config) Validate() error {
	if _, err := c.Requests(); err != nil {
		return err
	}
	if c.PoolCapacity < 0 {
		return fmt.Errorf("pool_capacity must not be negative, got %d", c.PoolCapacity)
	}
	if _, err := c.Timeout(); err != nil {
		return err
	}
	if _, err := c.NewLogger(); err != nil {
		return err
	}
	return nil
}

// Requests returns the parsed per-level requests.
func (c *Config) Requests() (map[Level]Parallelism, error) {
	raw := map[Level]any{
		core.LevelSuites:  c.Parallel.Suites,
		core.LevelClasses: c.Parallel.Classes,
		core.LevelMethods: c.Parallel.Methods,
	}
	out := make(map[Level]Parallelism, len(raw))
	for level, v := range raw {
		p, err := parallelismValue(v)
		if err != nil {
			return nil, fmt.Errorf("parallel.%s: %w", level, err)
		}
		out[level] = p
	}
	return out, nil
}

func parallelismValue(v any) (Parallelism, error) {
	switch x := v.(type) {
	case nil:
		return Sequential, nil
	case string:
		return ParseParallelism(x)
	case int:
		return ParseParallelism(fmt.Sprint(x))
	case int64:
		return ParseParallelism(fmt.Sprint(x))
	case uint64:
		return ParseParallelism(fmt.Sprint(x))
	default:
		return Sequential, fmt.Errorf("unsupported parallelism value %v (%T)", v, v)
	}
}

// Timeout returns the run timeout, 0 when unset.
func (c *Config) Timeout() (time.Duration, error) {
	if strings.TrimSpace(c.RunTimeout) == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.RunTimeout)
	if err != nil {
		return 0, fmt.Errorf("run_timeout: %w", err)
	}
	if d < 0 {
		return 0, fmt.Errorf("run_timeout must not be negative, got %s", d)
	}
	return d, nil
}

// NewBuilder returns a builder preloaded with c's parallelism settings.
func (c *Config) NewBuilder() (*ParallelComputerBuilder, error) {
	requests, err := c.Requests()
	if err != nil {
		return nil, err
	}
	b := NewParallelComputerBuilder()
	for _, level := range core.Levels {
		if err := b.Parallel(level, requests[level]); err != nil {
			return nil, err
		}
	}
	if c.PoolCapacity > 0 {
		if err := b.UseOnePool(c.PoolCapacity); err != nil {
			return nil, err
		}
	}
	return b, nil
}

// NewLogger returns a logrus logger with c's level and format ("text" or "json").
func (c *Config) NewLogger() (*logrus.Logger, error) {
	logger := logrus.New()

	level := c.LogLevel
	if level == "" {
		level = "info"
	}
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("log_level: %w", err)
	}
	logger.SetLevel(lvl)

	switch strings.ToLower(c.LogFormat) {
	case "", "text":
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	default:
		return nil, fmt.Errorf("log_format: unknown format %q", c.LogFormat)
	}
	return logger, nil
}
