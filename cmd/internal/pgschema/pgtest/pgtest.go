// Package pgtest provides PostgreSQL fixtures for integration tests.
//
// FQ_TEST_DATABASE_URL selects an existing server. Otherwise a disposable
// Postgres container is started with testcontainers (once per test binary).
// Outside CI, an unreachable database or a missing Docker daemon skips the
// test instead of failing it.
package pgtest

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"fieldquest/cmd/internal/pgschema"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	envURL        = "FQ_TEST_DATABASE_URL"
	postgresImage = "postgres:16-alpine"
)

var (
	containerOnce sync.Once
	containerURL  string
	containerErr  error
)

// Pool returns a pool connected to the test database.
func Pool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	dsn := strings.TrimSpace(os.Getenv(envURL))
	if dsn == "" {
		containerOnce.Do(func() { containerURL, containerErr = startContainer() })
		if containerErr != nil {
			if ShouldSkip(containerErr) {
				t.Skipf("integration test skipped: no %s and no container runtime: %v", envURL, containerErr)
			}
			t.Fatalf("start postgres container: %v", containerErr)
		}
		dsn = containerURL
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		if ShouldSkip(err) {
			t.Skipf("integration test skipped: Postgres unreachable: %v", err)
		}
		t.Fatalf("pgxpool.New: %v", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		if ShouldSkip(err) {
			t.Skipf("integration test skipped: Postgres unreachable: %v", err)
		}
		t.Fatalf("ping: %v", err)
	}

	t.Cleanup(pool.Close)
	return pool
}

// Schema creates a unique schema with all tables applied and drops it on cleanup.
func Schema(t *testing.T, pool *pgxpool.Pool) string {
	t.Helper()

	id := ulid.MustNew(ulid.Timestamp(time.Now().UTC()), rand.Reader).String()
	schema := "fq_it_" + strings.ToLower(id)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := pgschema.Apply(ctx, pool, schema); err != nil {
		t.Fatalf("apply schema: %v", err)
	}

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_, _ = pool.Exec(ctx, `DROP SCHEMA IF EXISTS `+pgx.Identifier{schema}.Sanitize()+` CASCADE`)
	})
	return schema
}

// ShouldSkip reports whether err means "no database available" on a
// developer machine. In CI nothing is skipped.
func ShouldSkip(err error) bool {
	if err == nil {
		return false
	}
	if os.Getenv("CI") != "" {
		return false
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, s := range []string{
		"connection refused",
		"context deadline exceeded",
		"timeout",
		"dial tcp",
		"no such host",
		"docker",
		"provider",
		"rootless",
	} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

func startContainer() (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	req := testcontainers.ContainerRequest{
		Image:        postgresImage,
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "fieldquest",
			"POSTGRES_PASSWORD": "fieldquest",
			"POSTGRES_DB":       "fieldquest",
		},
		WaitingFor: wait.ForAll(
			wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
			wait.ForListeningPort("5432/tcp"),
		).WithStartupTimeout(90 * time.Second),
	}

	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return "", fmt.Errorf("create postgres container: %w", err)
	}

	host, err := c.Host(ctx)
	if err != nil {
		_ = c.Terminate(ctx)
		return "", fmt.Errorf("get container host: %w", err)
	}
	port, err := c.MappedPort(ctx, "5432/tcp")
	if err != nil {
		_ = c.Terminate(ctx)
		return "", fmt.Errorf("get mapped port: %w", err)
	}

	return fmt.Sprintf("postgres://fieldquest:fieldquest@%s:%s/fieldquest?sslmode=disable", host, port.Port()), nil
}
