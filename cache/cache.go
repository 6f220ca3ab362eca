package cache

import (
	"context"
	"encoding/json"
	"time"
)

// Cache is the small key/value surface the dedupe store needs.
type Cache interface {
	Set(ctx context.Context, key string, value string, expiry time.Duration) error
	SetNX(ctx context.Context, key string, value string, expiry time.Duration) (bool, error)
	Get(ctx context.Context, key string) (string, error)
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error
}

// Typed stores JSON-encoded values of T in a Cache.
type Typed[T any] struct {
	Cache Cache
}

func (t Typed[T]) Get(ctx context.Context, key string) (T, error) {
	var value T
	raw, err := t.Cache.Get(ctx, key)
	if err != nil {
		return value, err
	}
	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		return value, codecError(ErrCodeJsonUnmarshal, "cache: unmarshal "+key, err)
	}
	return value, nil
}

func (t Typed[T]) Set(ctx context.Context, key string, value T, expiry time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return codecError(ErrCodeJsonMarshal, "cache: marshal "+key, err)
	}
	return t.Cache.Set(ctx, key, string(raw), expiry)
}

// SetNX reports whether value was stored; an existing key is left untouched.
func (t Typed[T]) SetNX(ctx context.Context, key string, value T, expiry time.Duration) (bool, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return false, codecError(ErrCodeJsonMarshal, "cache: marshal "+key, err)
	}
	return t.Cache.SetNX(ctx, key, string(raw), expiry)
}
