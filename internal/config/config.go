// Package config loads vibestyler's YAML configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all vibestyler configuration.
type Config struct {
	Storage    StorageConfig    `yaml:"storage"`
	Generator  GeneratorConfig  `yaml:"generator"`
	Browser    BrowserConfig    `yaml:"browser"`
	Reconciler ReconcilerConfig `yaml:"reconciler"`
	Logging    LoggingConfig    `yaml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// GeneratorConfig configures the Gemini generator.
type GeneratorConfig struct {
	Model      string `yaml:"model"`
	BaseURL    string `yaml:"base_url"`    // empty uses the SDK default
	APIVersion string `yaml:"api_version"` // e.g. v1beta
	APIKey     string `yaml:"api_key"`     // fallback when no key is stored
	// Timeout bounds one generation call ("" or "0" for none).
	Timeout     string `yaml:"timeout"`
	MinInterval string `yaml:"min_interval"`
}

// BrowserConfig configures the Chrome host.
type BrowserConfig struct {
	DebuggerURL       string   `yaml:"debugger_url"`
	Launch            []string `yaml:"launch"` // binary followed by flags
	Headless          bool     `yaml:"headless"`
	NavigationTimeout string   `yaml:"navigation_timeout"`
}

// ReconcilerConfig configures navigation reapply.
type ReconcilerConfig struct {
	SettleDelay string `yaml:"settle_delay"`
}

// MetricsConfig configures the Prometheus endpoint. An empty Addr disables it.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// DefaultDir returns the per-user vibestyler directory.
func DefaultDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "vibestyler")
	}
	return ".vibestyler"
}

// DefaultPath returns the default config file location.
func DefaultPath() string {
	return filepath.Join(DefaultDir(), "config.yaml")
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Storage: StorageConfig{
			Driver:      DriverSQLite,
			SQLitePath:  filepath.Join(DefaultDir(), "styles.db"),
			RedisAddr:   "localhost:6379",
			RedisPrefix: "vibestyler",
		},
		Generator: GeneratorConfig{
			Model:       "gemini-2.5-pro",
			APIVersion:  "v1beta",
			Timeout:     "0",
			MinInterval: "100ms",
		},
		Browser: BrowserConfig{
			Headless:          false,
			NavigationTimeout: "30s",
		},
		Reconciler: ReconcilerConfig{
			SettleDelay: "100ms",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load loads configuration from a YAML file. A missing file yields the
// defaults. Environment overrides are applied last.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.Generator.APIKey = key
	}
	if v := os.Getenv("VIBESTYLER_STORAGE_DRIVER"); v != "" {
		c.Storage.Driver = v
	}
	if v := os.Getenv("VIBESTYLER_SQLITE_PATH"); v != "" {
		c.Storage.SQLitePath = v
	}
	if v := os.Getenv("VIBESTYLER_REDIS_ADDR"); v != "" {
		c.Storage.RedisAddr = v
	}
	if v := os.Getenv("VIBESTYLER_DEBUGGER_URL"); v != "" {
		c.Browser.DebuggerURL = v
	}
	if v := os.Getenv("VIBESTYLER_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

// parseDuration accepts Go durations and bare integers (milliseconds).
// Empty is zero.
func parseDuration(field, s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	if ms, err := strconv.Atoi(s); err == nil {
		if ms < 0 {
			return 0, fmt.Errorf("invalid %s %q: negative", field, s)
		}
		return time.Duration(ms) * time.Millisecond, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", field, s, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("invalid %s %q: negative", field, s)
	}
	return d, nil
}

func mustDuration(field, s string, fallback time.Duration) time.Duration {
	d, err := parseDuration(field, s)
	if err != nil {
		return fallback
	}
	return d
}

// GetGeneratorTimeout returns the generation timeout; zero means none.
func (c *Config) GetGeneratorTimeout() time.Duration {
	return mustDuration("generator.timeout", c.Generator.Timeout, 0)
}

// GetGeneratorMinInterval returns the spacing between generator calls.
func (c *Config) GetGeneratorMinInterval() time.Duration {
	return mustDuration("generator.min_interval", c.Generator.MinInterval, 0)
}

// GetNavigationTimeout returns the browser navigation timeout.
func (c *Config) GetNavigationTimeout() time.Duration {
	d := mustDuration("browser.navigation_timeout", c.Browser.NavigationTimeout, 30*time.Second)
	if d == 0 {
		return 30 * time.Second
	}
	return d
}

// GetSettleDelay returns the reconciler's pause between install and inject.
func (c *Config) GetSettleDelay() time.Duration {
	return mustDuration("reconciler.settle_delay", c.Reconciler.SettleDelay, 100*time.Millisecond)
}

// Validate checks the configuration for errors. A missing API key is not an
// error here: it may be stored later and is reported per request.
func (c *Config) Validate() error {
	if err := c.Storage.validate(); err != nil {
		return err
	}
	if err := c.Logging.validate(); err != nil {
		return err
	}
	durations := []struct{ field, value string }{
		{"generator.timeout", c.Generator.Timeout},
		{"generator.min_interval", c.Generator.MinInterval},
		{"browser.navigation_timeout", c.Browser.NavigationTimeout},
		{"reconciler.settle_delay", c.Reconciler.SettleDelay},
	}
	for _, d := range durations {
		if _, err := parseDuration(d.field, d.value); err != nil {
			return err
		}
	}
	return nil
}
