package progress

import (
	"context"
	"errors"
	"strings"
	"time"

	"fieldquest/cmd/internal/pgschema"
	"fieldquest/cmd/internal/share"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists progress in PostgreSQL. The (share_id, mapping_id)
// unique constraint backs the upsert.
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

func (s *PostgresStore) Upsert(ctx context.Context, p Progress) (Progress, error) {
	if err := ctx.Err(); err != nil {
		return Progress{}, err
	}
	if p.ID == "" || p.ShareID == "" || p.MappingID == "" || p.ObservedAt.IsZero() {
		return Progress{}, ErrInvalidInput
	}

	var out Progress
	err := s.pool.QueryRow(ctx,
		`INSERT INTO `+pgschema.Ident(s.schema, "progress")+` AS p (id, share_id, mapping_id, observed_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (share_id, mapping_id)
		 DO UPDATE SET observed_at = GREATEST(p.observed_at, EXCLUDED.observed_at)
		 RETURNING id, share_id, mapping_id, observed_at`,
		p.ID, p.ShareID, p.MappingID, p.ObservedAt,
	).Scan(&out.ID, &out.ShareID, &out.MappingID, &out.ObservedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			switch pgErr.Code {
			case "23505":
				return Progress{}, ErrDuplicate
			case "23503":
				return Progress{}, ErrNotFound
			}
		}
		return Progress{}, err
	}
	return out, nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (Progress, error) {
	if err := ctx.Err(); err != nil {
		return Progress{}, err
	}
	var out Progress
	err := s.pool.QueryRow(ctx,
		`SELECT id, share_id, mapping_id, observed_at
		   FROM `+pgschema.Ident(s.schema, "progress")+`
		  WHERE id = $1`,
		id,
	).Scan(&out.ID, &out.ShareID, &out.MappingID, &out.ObservedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Progress{}, ErrNotFound
		}
		return Progress{}, err
	}
	return out, nil
}

func (s *PostgresStore) Delete(ctx context.Context, id string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM `+pgschema.Ident(s.schema, "progress")+` WHERE id = $1`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) DeleteByPair(ctx context.Context, shareID, mappingID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM `+pgschema.Ident(s.schema, "progress")+` WHERE share_id = $1 AND mapping_id = $2`,
		shareID, mappingID,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) SelectAggregates(ctx context.Context, questID string) ([]AggregateRow, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	mappings := pgschema.Ident(s.schema, "mappings")
	progress := pgschema.Ident(s.schema, "progress")
	shares := pgschema.Ident(s.schema, "shares")

	rows, err := s.pool.Query(ctx,
		`SELECT m.id, m.taxon_id, m.label,
		        (SELECT COUNT(DISTINCT p.share_id) FROM `+progress+` p WHERE p.mapping_id = m.id)::int,
		        last.observed_at, last.kind, last.guest_name
		   FROM `+mappings+` m
		   LEFT JOIN LATERAL (
		        SELECT p2.observed_at, s2.kind, s2.guest_name
		          FROM `+progress+` p2
		          JOIN `+shares+` s2 ON s2.id = p2.share_id
		         WHERE p2.mapping_id = m.id
		         ORDER BY p2.observed_at DESC, p2.id DESC
		         LIMIT 1
		   ) last ON true
		  WHERE m.quest_id = $1
		  ORDER BY m.created_at ASC, m.id ASC`,
		questID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]AggregateRow, 0, 16)
	for rows.Next() {
		var (
			r    AggregateRow
			kind *string
		)
		if err := rows.Scan(&r.MappingID, &r.TaxonID, &r.Label, &r.Count, &r.LastObservedAt, &kind, &r.LastGuestName); err != nil {
			return nil, err
		}
		if kind != nil {
			r.LastShareKind = share.Kind(*kind)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PostgresStore) SelectDetailed(ctx context.Context, questID string) ([]DetailedRow, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx,
		`SELECT p.id, p.share_id, p.mapping_id, p.observed_at, m.taxon_id, s.kind, s.guest_name
		   FROM `+pgschema.Ident(s.schema, "progress")+` p
		   JOIN `+pgschema.Ident(s.schema, "mappings")+` m ON m.id = p.mapping_id
		   JOIN `+pgschema.Ident(s.schema, "shares")+` s ON s.id = p.share_id
		  WHERE m.quest_id = $1
		  ORDER BY p.observed_at DESC, p.id DESC`,
		questID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]DetailedRow, 0, 32)
	for rows.Next() {
		var (
			r    DetailedRow
			kind string
		)
		if err := rows.Scan(&r.ID, &r.ShareID, &r.MappingID, &r.ObservedAt, &r.TaxonID, &kind, &r.GuestName); err != nil {
			return nil, err
		}
		r.ShareKind = share.Kind(kind)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PostgresStore) SelectShares(ctx context.Context, questID string) ([]ShareRow, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx,
		`SELECT s.id, s.kind, s.guest_name, s.created_at, s.accessed_at, s.revoked_at,
		        COUNT(p.id)::int, MAX(p.observed_at)
		   FROM `+pgschema.Ident(s.schema, "shares")+` s
		   LEFT JOIN `+pgschema.Ident(s.schema, "progress")+` p ON p.share_id = s.id
		  WHERE s.quest_id = $1
		  GROUP BY s.id
		  ORDER BY s.created_at ASC, s.id ASC`,
		questID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]ShareRow, 0, 8)
	for rows.Next() {
		var (
			r    ShareRow
			kind string
			last *time.Time
		)
		if err := rows.Scan(&r.ShareID, &kind, &r.GuestName, &r.InvitedAt, &r.AccessedAt, &r.RevokedAt, &r.Count, &last); err != nil {
			return nil, err
		}
		r.Kind = share.Kind(kind)
		r.LastProgressAt = last
		out = append(out, r)
	}
	return out, rows.Err()
}
