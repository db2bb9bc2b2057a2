package kv

import (
	"fmt"

	"go.uber.org/zap"
)

// Options selects and configures a backend for Open.
type Options struct {
	Driver     string // memory, sqlite, redis
	SQLitePath string
	Redis      RedisConfig
	Logger     *zap.Logger
}

// Open builds the Store named by opts.Driver.
func Open(opts Options) (Store, error) {
	switch opts.Driver {
	case "", "memory":
		return NewMemory(), nil
	case "sqlite":
		if opts.SQLitePath == "" {
			return nil, fmt.Errorf("sqlite driver requires a path")
		}
		return OpenSQLite(opts.SQLitePath, opts.Logger)
	case "redis":
		if opts.Redis.Addr == "" {
			return nil, fmt.Errorf("redis driver requires an address")
		}
		return NewRedis(opts.Redis), nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", opts.Driver)
	}
}
