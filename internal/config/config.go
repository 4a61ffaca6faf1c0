package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPHPConfig names the environment variable that overrides the php-config
// probe tool.
const EnvPHPConfig = "PHP_CONFIG"

// Config holds the complete phptest harness configuration.
type Config struct {
	PHP       PHPConfig       `yaml:"php"`
	Discovery DiscoveryConfig `yaml:"discovery"`
	FPM       FPMConfig       `yaml:"fpm"`
	Logging   LogConfig       `yaml:"logging"`
}

type PHPConfig struct {
	PHPConfig string `yaml:"php_config"` // probe tool, php-config by default
	Binary    string `yaml:"binary"`     // Optional: skip the probe and use this interpreter
}

type DiscoveryConfig struct {
	Cache string `yaml:"cache"` // Optional: msgpack snapshot of the discovered context
}

type FPMConfig struct {
	Name         string      `yaml:"name"` // manager binary prefix, php-fpm by default
	StartTimeout Duration    `yaml:"start_timeout"`
	StopTimeout  Duration    `yaml:"stop_timeout"`
	Watch        WatchConfig `yaml:"watch"`
}

// WatchConfig restarts php-fpm when the extension file changes.
type WatchConfig struct {
	Enabled  bool     `yaml:"enabled"`
	Interval Duration `yaml:"interval"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Duration is a time.Duration that supports YAML string unmarshaling.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Load reads config from a YAML file, applying defaults for missing values
// and the PHP_CONFIG environment override.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.ApplyEnv(os.LookupEnv)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// LoadOptional behaves like Load but falls back to defaults when the file
// does not exist.
func LoadOptional(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		cfg = Default()
		cfg.ApplyEnv(os.LookupEnv)
		return cfg, cfg.Validate()
	}
	return cfg, err
}

// ApplyEnv overrides the probe tool from PHP_CONFIG. An empty value is
// treated as unset.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvPHPConfig); ok && v != "" {
		c.PHP.PHPConfig = v
	}
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	if c.PHP.PHPConfig == "" && c.PHP.Binary == "" {
		return fmt.Errorf("php.php_config or php.binary is required")
	}
	if c.FPM.Name == "" {
		return fmt.Errorf("fpm.name is required")
	}
	if c.FPM.StartTimeout <= 0 {
		return fmt.Errorf("fpm.start_timeout must be > 0")
	}
	if c.FPM.StopTimeout <= 0 {
		return fmt.Errorf("fpm.stop_timeout must be > 0")
	}
	if c.FPM.Watch.Enabled && c.FPM.Watch.Interval <= 0 {
		return fmt.Errorf("fpm.watch.interval must be > 0 when watch is enabled")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be debug, info, warn or error, got %q", c.Logging.Level)
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be 'json' or 'text', got %q", c.Logging.Format)
	}
	return nil
}
