package cache

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// LRUProvider is an in-process Provider bounded by entry count. Entries
// expire after the provider-wide TTL; per-call TTLs longer than that are
// capped, shorter ones are honoured on read.
type LRUProvider struct {
	lru *expirable.LRU[string, lruEntry]
}

type lruEntry struct {
	value     []byte
	expiresAt time.Time
}

// NewLRUProvider creates a provider holding at most size entries for at most ttl.
func NewLRUProvider(size int, ttl time.Duration) *LRUProvider {
	if size <= 0 {
		size = 256
	}
	return &LRUProvider{lru: expirable.NewLRU[string, lruEntry](size, nil, ttl)}
}

// Get returns a copy of the cached bytes or ErrCacheMiss.
func (p *LRUProvider) Get(_ context.Context, key string) ([]byte, error) {
	e, ok := p.lru.Get(key)
	if !ok {
		return nil, ErrCacheMiss
	}
	if !e.expiresAt.IsZero() && time.Now().After(e.expiresAt) {
		p.lru.Remove(key)
		return nil, ErrCacheMiss
	}
	return append([]byte(nil), e.value...), nil
}

// Set stores a copy of value.
func (p *LRUProvider) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	e := lruEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expiresAt = time.Now().Add(ttl)
	}
	p.lru.Add(key, e)
	return nil
}

// Del removes key.
func (p *LRUProvider) Del(_ context.Context, key string) error {
	p.lru.Remove(key)
	return nil
}

// Close purges all entries.
func (p *LRUProvider) Close() error {
	p.lru.Purge()
	return nil
}

// Len reports the number of live entries.
func (p *LRUProvider) Len() int { return p.lru.Len() }
