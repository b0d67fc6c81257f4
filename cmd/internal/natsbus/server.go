// Package natsbus owns the NATS plumbing shared by the cache tier, the
// distributed rate limiter and the cross-instance event relay: an optional
// embedded JetStream server, the client connection and KV bucket setup.
package natsbus

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats-server/v2/server"
)

// ServerConfig configures the embedded JetStream server.
type ServerConfig struct {
	Name     string
	Host     string
	Port     int // -1 picks a random free port
	StoreDir string
	MaxMem   int64
	MaxStore int64
	Quiet    bool
}

// EmbeddedServer is an in-process NATS server with JetStream enabled, used in
// single-node deployments and tests.
type EmbeddedServer struct {
	ns        *server.Server
	clientURL string
}

// StartEmbedded creates and starts an embedded NATS server and waits until it
// accepts connections.
func StartEmbedded(cfg ServerConfig) (*EmbeddedServer, error) {
	name := cfg.Name
	if name == "" {
		name = "fieldquest"
	}
	host := cfg.Host
	if host == "" {
		host = "127.0.0.1"
	}

	opts := &server.Options{
		ServerName:         name,
		Host:               host,
		Port:               cfg.Port,
		JetStream:          true,
		StoreDir:           cfg.StoreDir,
		JetStreamMaxMemory: cfg.MaxMem,
		JetStreamMaxStore:  cfg.MaxStore,
		NoLog:              cfg.Quiet,
		NoSigs:             true,
		MaxPayload:         4 * 1024 * 1024,
	}

	ns, err := server.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("create NATS server: %w", err)
	}
	if !cfg.Quiet {
		ns.ConfigureLogger()
	}

	go ns.Start()

	if !ns.ReadyForConnections(15 * time.Second) {
		ns.Shutdown()
		return nil, errors.New("NATS server not ready within timeout")
	}

	return &EmbeddedServer{ns: ns, clientURL: ns.ClientURL()}, nil
}

// ClientURL returns the connection URL for clients.
func (s *EmbeddedServer) ClientURL() string { return s.clientURL }

// Running reports server health.
func (s *EmbeddedServer) Running() bool { return s.ns.Running() }

// Shutdown stops the server and waits for it to exit, or for ctx.
func (s *EmbeddedServer) Shutdown(ctx context.Context) error {
	s.ns.Shutdown()

	done := make(chan struct{})
	go func() {
		s.ns.WaitForShutdown()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
