package quest

import (
	"context"
	"errors"
	"strings"

	"fieldquest/cmd/internal/pgschema"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists quests and mappings in PostgreSQL. Cascades are
// enforced by foreign keys.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// StoreOption configures PostgresStore.
type StoreOption func(*PostgresStore) error

// WithSchema sets the DB schema used by the store (default: "fieldquest").
func WithSchema(schema string) StoreOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if !pgschema.ValidIdent(schema) {
			return ErrInvalidInput
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool, opts ...StoreOption) (*PostgresStore, error) {
	st := &PostgresStore{pool: pool, schema: pgschema.DefaultSchema}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, ErrInvalidInput
	}
	return st, nil
}

func (s *PostgresStore) CreateQuest(ctx context.Context, q Quest) (Quest, error) {
	if err := ctx.Err(); err != nil {
		return Quest{}, err
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO `+pgschema.Ident(s.schema, "quests")+` (id, owner_id, owner_name, title, private, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		q.ID, q.OwnerID, q.OwnerName, q.Title, q.Private, q.CreatedAt,
	)
	if err != nil {
		return Quest{}, err
	}
	return q, nil
}

func (s *PostgresStore) GetQuest(ctx context.Context, id string) (Quest, error) {
	if err := ctx.Err(); err != nil {
		return Quest{}, err
	}
	var q Quest
	err := s.pool.QueryRow(ctx,
		`SELECT id, owner_id, owner_name, title, private, created_at
		   FROM `+pgschema.Ident(s.schema, "quests")+`
		  WHERE id = $1`,
		id,
	).Scan(&q.ID, &q.OwnerID, &q.OwnerName, &q.Title, &q.Private, &q.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Quest{}, ErrNotFound
		}
		return Quest{}, err
	}
	return q, nil
}

func (s *PostgresStore) DeleteQuest(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM `+pgschema.Ident(s.schema, "quests")+` WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) AddMapping(ctx context.Context, m Mapping) (Mapping, error) {
	if err := ctx.Err(); err != nil {
		return Mapping{}, err
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO `+pgschema.Ident(s.schema, "mappings")+` (id, quest_id, taxon_id, label, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		m.ID, m.QuestID, m.TaxonID, m.Label, m.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			switch pgErr.Code {
			case "23505":
				return Mapping{}, ErrDuplicate
			case "23503":
				return Mapping{}, ErrNotFound
			}
		}
		return Mapping{}, err
	}
	return m, nil
}

func (s *PostgresStore) GetMapping(ctx context.Context, id string) (Mapping, error) {
	if err := ctx.Err(); err != nil {
		return Mapping{}, err
	}
	var m Mapping
	err := s.pool.QueryRow(ctx,
		`SELECT id, quest_id, taxon_id, label, created_at
		   FROM `+pgschema.Ident(s.schema, "mappings")+`
		  WHERE id = $1`,
		id,
	).Scan(&m.ID, &m.QuestID, &m.TaxonID, &m.Label, &m.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Mapping{}, ErrNotFound
		}
		return Mapping{}, err
	}
	return m, nil
}

func (s *PostgresStore) ListMappings(ctx context.Context, questID string) ([]Mapping, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, quest_id, taxon_id, label, created_at
		   FROM `+pgschema.Ident(s.schema, "mappings")+`
		  WHERE quest_id = $1
		  ORDER BY created_at ASC, id ASC`,
		questID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Mapping, 0, 16)
	for rows.Next() {
		var m Mapping
		if err := rows.Scan(&m.ID, &m.QuestID, &m.TaxonID, &m.Label, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *PostgresStore) RemoveMapping(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM `+pgschema.Ident(s.schema, "mappings")+` WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
