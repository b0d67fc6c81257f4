package share

import (
	"context"
	"errors"
	"strings"
	"time"

	"fieldquest/cmd/internal/pgschema"
	"fieldquest/cmd/internal/quest"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const shareColumns = `id, quest_id, kind, created_by, guest_name, created_at, expires_at, revoked_at, accessed_at`

// PostgresStore persists shares in PostgreSQL.
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

func (s *PostgresStore) table() string { return pgschema.Ident(s.schema, "shares") }

func scanShare(row pgx.Row) (Share, error) {
	var (
		out  Share
		kind string
	)
	err := row.Scan(
		&out.ID,
		&out.QuestID,
		&kind,
		&out.CreatedBy,
		&out.GuestName,
		&out.CreatedAt,
		&out.ExpiresAt,
		&out.RevokedAt,
		&out.AccessedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Share{}, ErrNotFound
		}
		return Share{}, err
	}
	out.Kind = Kind(kind)
	return out, nil
}

func (s *PostgresStore) Create(ctx context.Context, in CreateRecord) (Share, error) {
	if err := ctx.Err(); err != nil {
		return Share{}, err
	}
	if strings.TrimSpace(in.ID) == "" || strings.TrimSpace(in.QuestID) == "" {
		return Share{}, ErrInvalidInput
	}
	if in.Kind == KindGuest && (in.TokenHash == nil || len(*in.TokenHash) != 64) {
		return Share{}, ErrInvalidInput
	}

	sh, err := scanShare(s.pool.QueryRow(ctx,
		`INSERT INTO `+s.table()+` (id, quest_id, kind, token_hash, created_by, guest_name, created_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING `+shareColumns,
		in.ID, in.QuestID, string(in.Kind), in.TokenHash, in.CreatedBy, in.GuestName, in.CreatedAt, in.ExpiresAt,
	))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return Share{}, quest.ErrNotFound
		}
		return Share{}, err
	}
	return sh, nil
}

func (s *PostgresStore) EnsureOwnerShare(ctx context.Context, in CreateRecord) (Share, error) {
	if err := ctx.Err(); err != nil {
		return Share{}, err
	}
	if in.Kind != KindOwner || in.TokenHash != nil {
		return Share{}, ErrInvalidInput
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO `+s.table()+` (id, quest_id, kind, token_hash, created_by, created_at)
		 VALUES ($1, $2, 'owner', NULL, $3, $4)
		 ON CONFLICT (quest_id) WHERE kind = 'owner' DO NOTHING`,
		in.ID, in.QuestID, in.CreatedBy, in.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return Share{}, quest.ErrNotFound
		}
		return Share{}, err
	}

	return scanShare(s.pool.QueryRow(ctx,
		`SELECT `+shareColumns+` FROM `+s.table()+` WHERE quest_id = $1 AND kind = 'owner'`,
		in.QuestID,
	))
}

func (s *PostgresStore) Get(ctx context.Context, id string) (Share, error) {
	if err := ctx.Err(); err != nil {
		return Share{}, err
	}
	return scanShare(s.pool.QueryRow(ctx,
		`SELECT `+shareColumns+` FROM `+s.table()+` WHERE id = $1`, id,
	))
}

func (s *PostgresStore) GetByTokenHash(ctx context.Context, tokenHash string) (Share, error) {
	if err := ctx.Err(); err != nil {
		return Share{}, err
	}
	tokenHash = strings.TrimSpace(tokenHash)
	if tokenHash == "" {
		return Share{}, ErrNotFound
	}
	return scanShare(s.pool.QueryRow(ctx,
		`SELECT `+shareColumns+` FROM `+s.table()+` WHERE token_hash = $1`, tokenHash,
	))
}

func (s *PostgresStore) ListByQuest(ctx context.Context, questID string) ([]Share, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+shareColumns+` FROM `+s.table()+`
		  WHERE quest_id = $1
		  ORDER BY created_at ASC, id ASC`,
		questID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Share, 0, 8)
	for rows.Next() {
		sh, err := scanShare(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sh)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Revoke(ctx context.Context, id string, now time.Time) (Share, error) {
	if err := ctx.Err(); err != nil {
		return Share{}, err
	}
	return scanShare(s.pool.QueryRow(ctx,
		`UPDATE `+s.table()+`
		    SET revoked_at = COALESCE(revoked_at, $2)
		  WHERE id = $1
		RETURNING `+shareColumns,
		id, now,
	))
}

func (s *PostgresStore) MarkAccessed(ctx context.Context, id string, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `UPDATE `+s.table()+` SET accessed_at = $2 WHERE id = $1`, id, now)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
