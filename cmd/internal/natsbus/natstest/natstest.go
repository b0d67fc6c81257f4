// Package natstest starts a throwaway embedded JetStream server for tests.
package natstest

import (
	"context"
	"testing"
	"time"

	"fieldquest/cmd/internal/natsbus"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// Env is a running embedded server plus a connected client.
type Env struct {
	Server *natsbus.EmbeddedServer
	Conn   *nats.Conn
	JS     jetstream.JetStream
}

// Start boots a server on a random port; everything is torn down on cleanup.
func Start(t testing.TB) *Env {
	t.Helper()

	srv, err := natsbus.StartEmbedded(natsbus.ServerConfig{
		Name:     "fieldquest-test",
		Port:     -1,
		StoreDir: t.TempDir(),
		Quiet:    true,
	})
	if err != nil {
		t.Fatalf("start embedded nats: %v", err)
	}

	nc, js, err := natsbus.Connect(srv.ClientURL(), t.Name(), nil)
	if err != nil {
		t.Fatalf("connect nats: %v", err)
	}

	t.Cleanup(func() {
		nc.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})

	return &Env{Server: srv, Conn: nc, JS: js}
}

// Bucket creates a memory-backed KV bucket.
func (e *Env) Bucket(t testing.TB, name string, ttl time.Duration) jetstream.KeyValue {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	kv, err := natsbus.EnsureBucket(ctx, e.JS, natsbus.BucketConfig{Name: name, TTL: ttl, Memory: true})
	if err != nil {
		t.Fatalf("ensure bucket: %v", err)
	}
	return kv
}
