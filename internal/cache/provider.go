package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrCacheMiss is returned by Get when key holds nothing usable.
var ErrCacheMiss = errors.New("cache miss")

// Provider stores opaque values for upstream lookups that are expensive to
// repeat. Implementations must be safe for concurrent use.
type Provider interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, key string) error
	Close() error
}

// GetJSON decodes the value at key into a T. An entry that no longer decodes
// is dropped and reported as ErrCacheMiss.
func GetJSON[T any](ctx context.Context, p Provider, key string) (T, error) {
	var out T
	data, err := p.Get(ctx, key)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(data, &out); err != nil {
		_ = p.Del(ctx, key)
		return out, ErrCacheMiss
	}
	return out, nil
}

// SetJSON encodes v and stores it at key for ttl.
func SetJSON(ctx context.Context, p Provider, key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode cache value %s: %w", key, err)
	}
	return p.Set(ctx, key, data, ttl)
}

// NoopProvider caches nothing. It backs the "none" cache backend.
type NoopProvider struct{}

func (NoopProvider) Get(context.Context, string) ([]byte, error) { return nil, ErrCacheMiss }

func (NoopProvider) Set(context.Context, string, []byte, time.Duration) error { return nil }

func (NoopProvider) Del(context.Context, string) error { return nil }

func (NoopProvider) Close() error { return nil }
