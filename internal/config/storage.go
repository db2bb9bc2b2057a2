package config

import "fmt"

// Storage drivers.
const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
	DriverRedis  = "redis"
)

// StorageConfig selects and configures the kv backend.
type StorageConfig struct {
	Driver        string `yaml:"driver"` // memory, sqlite, redis
	SQLitePath    string `yaml:"sqlite_path"`
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	RedisPrefix   string `yaml:"redis_prefix"`
}

func (c StorageConfig) validate() error {
	switch c.Driver {
	case DriverMemory:
	case DriverSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("storage.sqlite_path is required for the sqlite driver")
		}
	case DriverRedis:
		if c.RedisAddr == "" {
			return fmt.Errorf("storage.redis_addr is required for the redis driver")
		}
		if c.RedisDB < 0 {
			return fmt.Errorf("invalid storage.redis_db: %d", c.RedisDB)
		}
	default:
		return fmt.Errorf("invalid storage driver: %s (valid: %s, %s, %s)", c.Driver, DriverMemory, DriverSQLite, DriverRedis)
	}
	return nil
}
