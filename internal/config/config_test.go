package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"GEMINI_API_KEY",
		"VIBESTYLER_STORAGE_DRIVER",
		"VIBESTYLER_SQLITE_PATH",
		"VIBESTYLER_REDIS_ADDR",
		"VIBESTYLER_DEBUGGER_URL",
		"VIBESTYLER_LOG_LEVEL",
	} {
		t.Setenv(k, "")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, DriverSQLite, cfg.Storage.Driver)
	assert.Equal(t, "styles.db", filepath.Base(cfg.Storage.SQLitePath))
	assert.Equal(t, time.Duration(0), cfg.GetGeneratorTimeout())
	assert.Equal(t, 100*time.Millisecond, cfg.GetGeneratorMinInterval())
	assert.Equal(t, 30*time.Second, cfg.GetNavigationTimeout())
	assert.Equal(t, 100*time.Millisecond, cfg.GetSettleDelay())
	require.NoError(t, cfg.Validate())
}

func TestConfig_SaveLoad(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg := DefaultConfig()
	cfg.Storage.Driver = DriverRedis
	cfg.Storage.RedisAddr = "redis:6379"
	cfg.Storage.RedisDB = 2
	cfg.Generator.Timeout = "45s"
	cfg.Browser.Launch = []string{"/usr/bin/chromium", "--no-sandbox"}
	cfg.Logging.Categories = map[string]bool{"store": false}
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
	assert.Equal(t, 45*time.Second, loaded.GetGeneratorTimeout())
	assert.False(t, loaded.Logging.IsCategoryEnabled("store"))
	assert.True(t, loaded.Logging.IsCategoryEnabled("pipeline"))
}

func TestLoad_MissingFileGivesDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("storage:\n  driver: memory\nreconciler:\n  settle_delay: \"250\"\n"), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, DriverMemory, cfg.Storage.Driver)
	assert.Equal(t, 250*time.Millisecond, cfg.GetSettleDelay())
	assert.Equal(t, "v1beta", cfg.Generator.APIVersion)
}

func TestLoad_BadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("storage: [\n"), 0644))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("GEMINI_API_KEY", "env-key")
	t.Setenv("VIBESTYLER_STORAGE_DRIVER", "redis")
	t.Setenv("VIBESTYLER_REDIS_ADDR", "cache:6380")
	t.Setenv("VIBESTYLER_SQLITE_PATH", "/tmp/x.db")
	t.Setenv("VIBESTYLER_DEBUGGER_URL", "ws://127.0.0.1:9222/devtools/browser/abc")
	t.Setenv("VIBESTYLER_LOG_LEVEL", "debug")

	cfg := DefaultConfig()
	cfg.applyEnvOverrides()

	assert.Equal(t, "env-key", cfg.Generator.APIKey)
	assert.Equal(t, DriverRedis, cfg.Storage.Driver)
	assert.Equal(t, "cache:6380", cfg.Storage.RedisAddr)
	assert.Equal(t, "/tmp/x.db", cfg.Storage.SQLitePath)
	assert.Equal(t, "ws://127.0.0.1:9222/devtools/browser/abc", cfg.Browser.DebuggerURL)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestEnvOverrides_EmptyLeavesValues(t *testing.T) {
	clearEnv(t)
	cfg := DefaultConfig()
	cfg.Generator.APIKey = "from-file"
	cfg.applyEnvOverrides()
	assert.Equal(t, "from-file", cfg.Generator.APIKey)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"defaults", func(*Config) {}, true},
		{"memory", func(c *Config) { c.Storage.Driver = DriverMemory }, true},
		{"unknown driver", func(c *Config) { c.Storage.Driver = "etcd" }, false},
		{"sqlite without path", func(c *Config) { c.Storage.SQLitePath = "" }, false},
		{"redis without addr", func(c *Config) { c.Storage.Driver = DriverRedis; c.Storage.RedisAddr = "" }, false},
		{"negative redis db", func(c *Config) { c.Storage.Driver = DriverRedis; c.Storage.RedisDB = -1 }, false},
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }, false},
		{"bad format", func(c *Config) { c.Logging.Format = "xml" }, false},
		{"bad timeout", func(c *Config) { c.Generator.Timeout = "soon" }, false},
		{"negative interval", func(c *Config) { c.Generator.MinInterval = "-1s" }, false},
		{"negative millis", func(c *Config) { c.Reconciler.SettleDelay = "-5" }, false},
		{"bare millis", func(c *Config) { c.Browser.NavigationTimeout = "5000" }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestLoggingOptions(t *testing.T) {
	c := LoggingConfig{Level: "warn", Format: "console", File: "/tmp/v.log", Categories: map[string]bool{"agent": false}}
	opts := c.Options()
	assert.Equal(t, "warn", opts.Level)
	assert.Equal(t, "console", opts.Format)
	assert.Equal(t, []string{"/tmp/v.log"}, opts.OutputPaths)
	assert.Equal(t, map[string]bool{"agent": false}, opts.Categories)

	assert.Empty(t, LoggingConfig{}.Options().OutputPaths)
}
