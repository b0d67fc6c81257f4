package app

import (
	"context"
	"fmt"
	"time"

	"fieldquest/cmd/internal/cache"
	"fieldquest/cmd/internal/natsbus"
	"fieldquest/cmd/internal/ratelimit"

	"github.com/nats-io/nats.go"
)

// bus holds the NATS side of the runtime. Every field is nil when NATS is
// disabled; the cache tier then runs local-only and the limiter counts
// in-process.
type bus struct {
	embedded *natsbus.EmbeddedServer
	nc       *nats.Conn

	cacheStore cache.SharedStore
	limitStore ratelimit.Store
}

func (b *bus) Ping() error { return natsbus.Ping(b.nc) }

// Close drains the client and stops the embedded server, if any.
func (b *bus) Close(ctx context.Context) {
	if b.nc != nil {
		_ = b.nc.Drain()
	}
	if b.embedded != nil {
		_ = b.embedded.Shutdown(ctx)
	}
}

func newBus(ctx context.Context, cfg NATSConfig, log Logger) (*bus, error) {
	if !cfg.Enabled {
		log.Warn("nats.disabled", "cache", "local_only", "ratelimit", "in_process")
		return &bus{limitStore: ratelimit.NewMemoryStore()}, nil
	}

	b := &bus{}
	url := cfg.URL
	if url == "" {
		srv, err := natsbus.StartEmbedded(natsbus.ServerConfig{
			Port:     -1,
			StoreDir: cfg.StoreDir,
			Quiet:    true,
		})
		if err != nil {
			return nil, err
		}
		b.embedded = srv
		url = srv.ClientURL()
		log.Info("nats.embedded.start", "url", url)
	}

	nc, js, err := natsbus.Connect(url, "fieldquest", log)
	if err != nil {
		b.Close(ctx)
		return nil, err
	}
	b.nc = nc

	setupCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	cacheKV, err := natsbus.EnsureBucket(setupCtx, js, natsbus.BucketConfig{
		Name: cfg.CacheBucket, TTL: cfg.CacheBucketTTL, Memory: cfg.Memory,
	})
	if err != nil {
		b.Close(ctx)
		return nil, err
	}
	limitKV, err := natsbus.EnsureBucket(setupCtx, js, natsbus.BucketConfig{
		Name: cfg.LimitBucket, TTL: cfg.LimitBucketTTL, Memory: cfg.Memory,
	})
	if err != nil {
		b.Close(ctx)
		return nil, err
	}

	if b.cacheStore, err = cache.NewKVStore(cacheKV); err != nil {
		b.Close(ctx)
		return nil, fmt.Errorf("cache store: %w", err)
	}
	if b.limitStore, err = ratelimit.NewKVStore(limitKV); err != nil {
		b.Close(ctx)
		return nil, fmt.Errorf("ratelimit store: %w", err)
	}

	log.Info("nats.ready", "url", nc.ConnectedUrlRedacted(), "cache_bucket", cfg.CacheBucket, "limit_bucket", cfg.LimitBucket)
	return b, nil
}
