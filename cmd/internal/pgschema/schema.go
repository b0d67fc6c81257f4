// Package pgschema ships the minimal PostgreSQL schema used by the quest,
// share and progress stores, plus identifier helpers shared by those stores.
package pgschema

import (
	"context"
	_ "embed"
	"errors"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DefaultSchema is used when no schema is configured.
const DefaultSchema = "fieldquest"

//go:embed schema.sql
var schemaSQL string

// ErrInvalidSchema is returned for schema names that are not plain identifiers.
var ErrInvalidSchema = errors.New("pgschema: invalid schema name")

var identRe = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,62}$`)

// ValidIdent reports whether s is a safe lowercase Postgres identifier.
func ValidIdent(s string) bool {
	return identRe.MatchString(s)
}

// Ident returns the sanitized, schema-qualified table name.
func Ident(schema, table string) string {
	return pgx.Identifier{schema, table}.Sanitize()
}

// SQL returns the DDL for schema.
func SQL(schema string) (string, error) {
	schema = strings.TrimSpace(schema)
	if !ValidIdent(schema) {
		return "", ErrInvalidSchema
	}
	return strings.ReplaceAll(schemaSQL, "__SCHEMA__", pgx.Identifier{schema}.Sanitize()), nil
}

// Apply creates schema (if needed) and all tables. It is idempotent.
func Apply(ctx context.Context, pool *pgxpool.Pool, schema string) error {
	ddl, err := SQL(schema)
	if err != nil {
		return err
	}
	if pool == nil {
		return errors.New("pgschema: nil pool")
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `CREATE SCHEMA IF NOT EXISTS `+pgx.Identifier{schema}.Sanitize()); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, ddl); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
