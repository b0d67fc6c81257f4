package cache

import (
	"context"
	"encoding/base64"
	"errors"
	"time"

	"github.com/goccy/go-json"
	"github.com/nats-io/nats.go/jetstream"
)

// envelope is the on-wire shared value. Expiry travels with the value so the
// bucket-level TTL only acts as an upper bound.
type envelope struct {
	Value     []byte `json:"v"`
	ExpiresAt int64  `json:"exp"` // unix millis
}

// KVStore is a SharedStore on a NATS JetStream key-value bucket.
type KVStore struct {
	kv jetstream.KeyValue
}

// NewKVStore wraps kv. The bucket should be created with History=1.
func NewKVStore(kv jetstream.KeyValue) (*KVStore, error) {
	if kv == nil {
		return nil, errors.New("cache: nil kv bucket")
	}
	return &KVStore{kv: kv}, nil
}

// KV keys are limited to [-/_=.a-zA-Z0-9]; cache keys are arbitrary strings.
func kvKey(k string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(k))
}

func (s *KVStore) Get(ctx context.Context, key string) ([]byte, time.Time, bool, error) {
	e, err := s.kv.Get(ctx, kvKey(key))
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, time.Time{}, false, nil
		}
		return nil, time.Time{}, false, err
	}

	var env envelope
	if err := json.Unmarshal(e.Value(), &env); err != nil {
		return nil, time.Time{}, false, nil
	}
	return env.Value, time.UnixMilli(env.ExpiresAt), true, nil
}

func (s *KVStore) Set(ctx context.Context, key string, value []byte, expiresAt time.Time) error {
	raw, err := json.Marshal(envelope{Value: value, ExpiresAt: expiresAt.UnixMilli()})
	if err != nil {
		return err
	}
	_, err = s.kv.Put(ctx, kvKey(key), raw)
	return err
}

func (s *KVStore) Del(ctx context.Context, key string) error {
	err := s.kv.Purge(ctx, kvKey(key))
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return nil
	}
	return err
}

func (s *KVStore) Flush(ctx context.Context) error {
	lister, err := s.kv.ListKeys(ctx)
	if err != nil {
		if errors.Is(err, jetstream.ErrNoKeysFound) {
			return nil
		}
		return err
	}

	var keys []string
	for k := range lister.Keys() {
		keys = append(keys, k)
	}
	_ = lister.Stop()

	for _, k := range keys {
		if err := s.kv.Purge(ctx, k); err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
			return err
		}
	}
	return nil
}
