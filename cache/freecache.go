package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/coocood/freecache"

	"github.com/infigaming-com/cloudpubsub-transport/errors"
)

type freeCache struct {
	cache *freecache.Cache
}

// NewFreeCache wraps an in-process freecache. Entries are lost on restart, so
// it only deduplicates redeliveries that reach the same replica.
func NewFreeCache(cache *freecache.Cache) Cache {
	return &freeCache{cache: cache}
}

// ttlSeconds maps expiry to freecache seconds; anything below a second but
// positive is rounded up so it still expires.
func ttlSeconds(expiry time.Duration) int {
	if expiry <= 0 {
		return 0
	}
	secs := int(expiry / time.Second)
	if expiry%time.Second != 0 {
		secs++
	}
	return secs
}

func (c *freeCache) Set(_ context.Context, key string, value string, expiry time.Duration) error {
	if err := c.cache.Set([]byte(key), []byte(value), ttlSeconds(expiry)); err != nil {
		return fmt.Errorf("failed to set key %s: %w", key, err)
	}
	return nil
}

func (c *freeCache) SetNX(_ context.Context, key string, value string, expiry time.Duration) (bool, error) {
	prev, err := c.cache.GetOrSet([]byte(key), []byte(value), ttlSeconds(expiry))
	if err != nil {
		return false, fmt.Errorf("failed to set key %s: %w", key, err)
	}
	return prev == nil, nil
}

func (c *freeCache) Get(_ context.Context, key string) (string, error) {
	data, err := c.cache.Get([]byte(key))
	if err != nil {
		if errors.Is(err, freecache.ErrNotFound) {
			return "", ErrKeyNotFound
		}
		return "", fmt.Errorf("failed to get key %s: %w", key, err)
	}
	return string(data), nil
}

func (c *freeCache) Delete(_ context.Context, key string) error {
	c.cache.Del([]byte(key))
	return nil
}

func (c *freeCache) Clear(context.Context) error {
	c.cache.Clear()
	return nil
}
