package app

import (
	"context"
	"fmt"
	"time"

	"fieldquest/cmd/internal/memstore"
	"fieldquest/cmd/internal/pgschema"
	"fieldquest/cmd/internal/progress"
	"fieldquest/cmd/internal/quest"
	"fieldquest/cmd/internal/share"

	"github.com/jackc/pgx/v5/pgxpool"
)

// NewDBPool builds a pgxpool and validates connectivity.
func NewDBPool(ctx context.Context, cfg DBConfig) (*pgxpool.Pool, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, err
	}
	if cfg.MaxConns > 0 {
		pcfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns >= 0 {
		pcfg.MinConns = cfg.MinConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, err
	}
	if err := PingDB(ctx, pool, 3*time.Second); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

// PingDB checks if we can acquire a connection within timeout.
func PingDB(parent context.Context, pool *pgxpool.Pool, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return err
	}
	conn.Release()
	return nil
}

// stores are the persistence boundaries of the three domain packages.
type stores struct {
	quests   quest.Store
	shares   share.Store
	progress progress.Store
	pool     *pgxpool.Pool // nil in memory mode
}

func (s stores) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// newStores picks Postgres when a database URL is configured and the
// in-memory stores otherwise.
func newStores(ctx context.Context, cfg DBConfig, log Logger) (stores, error) {
	if cfg.URL == "" {
		log.Warn("db.disabled.inmemory_store")
		db := memstore.New()
		return stores{quests: db.Quests(), shares: db.Shares(), progress: db.Progress()}, nil
	}

	pool, err := NewDBPool(ctx, cfg)
	if err != nil {
		return stores{}, fmt.Errorf("open database: %w", err)
	}
	if cfg.Migrate {
		if err := pgschema.Apply(ctx, pool, cfg.Schema); err != nil {
			pool.Close()
			return stores{}, fmt.Errorf("apply schema: %w", err)
		}
	}

	qs, err := quest.NewPostgresStore(pool, quest.WithSchema(cfg.Schema))
	if err != nil {
		pool.Close()
		return stores{}, err
	}
	ss, err := share.NewPostgresStore(pool, share.WithSchema(cfg.Schema))
	if err != nil {
		pool.Close()
		return stores{}, err
	}
	ps, err := progress.NewPostgresStore(pool, progress.WithSchema(cfg.Schema))
	if err != nil {
		pool.Close()
		return stores{}, err
	}

	log.Info("db.enabled.postgres_store", "schema", cfg.Schema, "migrated", cfg.Migrate)
	return stores{quests: qs, shares: ss, progress: ps, pool: pool}, nil
}
