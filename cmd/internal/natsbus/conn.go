package natsbus

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// Connect dials url and returns the connection plus a JetStream handle.
// Disconnects and reconnects are logged; the client reconnects forever.
func Connect(url, name string, log *slog.Logger) (*nats.Conn, jetstream.JetStream, error) {
	if log == nil {
		log = slog.Default()
	}

	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("nats.disconnected", "err", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info("nats.reconnected", "url", c.ConnectedUrlRedacted())
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("create JetStream context: %w", err)
	}
	return nc, js, nil
}

// BucketConfig describes a KV bucket.
type BucketConfig struct {
	Name   string
	TTL    time.Duration // 0 keeps entries until deleted
	Memory bool
}

// EnsureBucket creates the KV bucket or updates its configuration.
func EnsureBucket(ctx context.Context, js jetstream.JetStream, cfg BucketConfig) (jetstream.KeyValue, error) {
	storage := jetstream.FileStorage
	if cfg.Memory {
		storage = jetstream.MemoryStorage
	}

	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:  cfg.Name,
		TTL:     cfg.TTL,
		History: 1,
		Storage: storage,
	})
	if err != nil {
		return nil, fmt.Errorf("ensure kv bucket %q: %w", cfg.Name, err)
	}
	return kv, nil
}

// Ping reports whether the connection is currently usable.
func Ping(nc *nats.Conn) error {
	if nc == nil {
		return nats.ErrConnectionClosed
	}
	if !nc.IsConnected() {
		return nats.ErrConnectionClosed
	}
	return nil
}
