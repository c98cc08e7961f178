package cache

import (
	"context"
	"fmt"

	"flashgate/internal/core"
)

// Options selects and configures a backend
type Options struct {
	Backend string // memory | redis | sqlite
	Redis   RedisOptions
	SQLite  struct{ Path string }
}

// New builds the configured store. An empty backend defaults to memory.
func New(ctx context.Context, opts Options) (core.IStore, error) {
	switch opts.Backend {
	case "", "memory":
		return NewMemoryStore(), nil
	case "redis":
		return NewRedisStore(ctx, opts.Redis)
	case "sqlite":
		return NewSQLiteStore(opts.SQLite.Path)
	}
	return nil, fmt.Errorf("unknown storage backend %q", opts.Backend)
}
