package ratelimit

import (
	"context"
	"errors"

	"github.com/nats-io/nats.go/jetstream"
)

const defaultMaxCASAttempts = 16

// KVStore keeps bucket state in a NATS JetStream key-value bucket and applies
// updates with optimistic concurrency on the per-key revision.
type KVStore struct {
	kv          jetstream.KeyValue
	maxAttempts int
}

// NewKVStore wraps kv.
func NewKVStore(kv jetstream.KeyValue) (*KVStore, error) {
	if kv == nil {
		return nil, errors.New("ratelimit: nil kv bucket")
	}
	return &KVStore{kv: kv, maxAttempts: defaultMaxCASAttempts}, nil
}

func (s *KVStore) Get(ctx context.Context, key string) ([]byte, error) {
	e, err := s.kv.Get(ctx, key)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return e.Value(), nil
}

func (s *KVStore) Update(ctx context.Context, key string, fn UpdateFunc) ([]byte, error) {
	for attempt := 0; attempt < s.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		var (
			cur []byte
			rev uint64
		)
		e, err := s.kv.Get(ctx, key)
		switch {
		case err == nil:
			cur, rev = e.Value(), e.Revision()
		case errors.Is(err, jetstream.ErrKeyNotFound):
		default:
			return nil, err
		}

		next, err := fn(cur)
		if err != nil {
			return nil, err
		}

		if rev == 0 {
			_, err = s.kv.Create(ctx, key, next)
		} else {
			_, err = s.kv.Update(ctx, key, next, rev)
		}
		if err == nil {
			return next, nil
		}
		if !isRevisionConflict(err) {
			return nil, err
		}
	}
	return nil, ErrContention
}

func isRevisionConflict(err error) bool {
	if errors.Is(err, jetstream.ErrKeyExists) {
		return true
	}
	var apiErr *jetstream.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode == jetstream.JSErrCodeStreamWrongLastSequence
}
