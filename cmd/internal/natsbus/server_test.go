package natsbus_test

import (
	"context"
	"testing"
	"time"

	"fieldquest/cmd/internal/natsbus"
	"fieldquest/cmd/internal/natsbus/natstest"
)

func TestEmbeddedServer_KVRoundTrip(t *testing.T) {
	env := natstest.Start(t)
	if !env.Server.Running() {
		t.Fatalf("server not running")
	}
	if err := natsbus.Ping(env.Conn); err != nil {
		t.Fatalf("Ping: %v", err)
	}

	kv := env.Bucket(t, "roundtrip", time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := kv.Put(ctx, "k", []byte("v")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	e, err := kv.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(e.Value()) != "v" {
		t.Fatalf("value=%q want v", e.Value())
	}
}

func TestPing_Nil(t *testing.T) {
	t.Parallel()

	if err := natsbus.Ping(nil); err == nil {
		t.Fatalf("expected error for nil connection")
	}
}
