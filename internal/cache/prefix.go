package cache

import (
	"context"

	"flashgate/internal/core"
)

// prefixStore namespaces every key, so several gates can share one backend.
type prefixStore struct {
	inner  core.IStore
	prefix string
}

// Prefixed wraps store so all keys carry prefix. An empty prefix returns the
// store unchanged.
func Prefixed(store core.IStore, prefix string) core.IStore {
	if prefix == "" {
		return store
	}
	return &prefixStore{inner: store, prefix: prefix}
}

func (s *prefixStore) Get(ctx context.Context, key string) (string, bool, error) {
	return s.inner.Get(ctx, s.prefix+key)
}

func (s *prefixStore) Set(ctx context.Context, key, value string) error {
	return s.inner.Set(ctx, s.prefix+key, value)
}

func (s *prefixStore) Delete(ctx context.Context, key string) error {
	return s.inner.Delete(ctx, s.prefix+key)
}

func (s *prefixStore) Close() error {
	return s.inner.Close()
}
