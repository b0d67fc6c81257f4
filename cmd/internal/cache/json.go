package cache

import (
	"context"
	"time"

	"github.com/goccy/go-json"
)

// GetJSON decodes a cached JSON value. Undecodable entries are treated as a
// miss and evicted.
func GetJSON[T any](ctx context.Context, t *Tier, key string) (T, bool) {
	var out T
	raw, ok := t.Get(ctx, key)
	if !ok {
		return out, false
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		t.log.Warn("cache.decode.fail", "key", t.key(key), "err", err)
		_ = t.Del(ctx, key)
		var zero T
		return zero, false
	}
	return out, true
}

// SetJSON encodes v and stores it with Set semantics.
func SetJSON[T any](ctx context.Context, t *Tier, key string, v T, ttl time.Duration) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return t.Set(ctx, key, raw, ttl)
}
