// Package postgres implements the PostgreSQL backend on pgx v5, exposed to
// database/sql through pgx's stdlib adapter so every store can share the
// sqlx code path.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"

	"silver/internal/storage"
	pgddl "silver/internal/storage/postgres/ddl"
	"silver/pkg/records"
)

// Kind is the storage kind this package registers.
const Kind = "postgres"

// uniqueViolation is SQLSTATE unique_violation.
const uniqueViolation = "23505"

// Open parses dsn with pgx and returns a database/sql handle over it.
func Open(ctx context.Context, dsn string, maxOpen int) (*sql.DB, error) {
	cc, err := pgx.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse dsn: %w", err)
	}
	db := stdlib.OpenDB(*cc)
	if maxOpen > 0 {
		db.SetMaxOpenConns(maxOpen)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return db, nil
}

// Dialect is the PostgreSQL storage.Dialect.
type Dialect struct{}

var _ storage.Dialect = Dialect{}

func (Dialect) Name() string { return Kind }
func (Dialect) Quote(id string) string { return pgddl.QuoteIdent(id) }
func (Dialect) Qualify(schema, table string) string { return pgddl.QuoteFQN(schema, table) }
func (Dialect) MapType(t records.Type) string { return pgddl.MapType(t) }
func (Dialect) NormalizeType(live string) string { return pgddl.NormalizeType(live) }
func (Dialect) MaxParams() int { return 65535 }

func (Dialect) Meta() storage.MetaTypes {
	return storage.MetaTypes{
		Text:  "TEXT",
		Key:   "VARCHAR(255)",
		Int:   "BIGINT",
		Float: "DOUBLE PRECISION",
		Bool:  "BOOLEAN",
		Time:  "TIMESTAMPTZ",
		ID:    "BIGSERIAL PRIMARY KEY",
	}
}

func (d Dialect) CreateSchema(schema string) string {
	if schema == "" {
		return ""
	}
	return "CREATE SCHEMA IF NOT EXISTS " + d.Quote(schema)
}

func (Dialect) CreateTable(fqn string, defs []string) string {
	return pgddl.CreateTableSQL(fqn, defs)
}

func (Dialect) AddColumn(fqn, def string) string {
	return fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", fqn, def)
}

func (d Dialect) DropColumn(fqn, col string) string {
	return fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s", fqn, d.Quote(col))
}

func (d Dialect) AlterColumnType(fqn, col, typ string) (string, bool) {
	c := d.Quote(col)
	return fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s TYPE %s USING %s::%s", fqn, c, typ, c, typ), true
}

func (Dialect) DropTable(fqn string) string { return "DROP TABLE IF EXISTS " + fqn }

func (Dialect) Limit(query string, n int) string { return fmt.Sprintf("%s LIMIT %d", query, n) }

func (Dialect) IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func (Dialect) InsertID(ctx context.Context, ext sqlx.ExtContext, query string, args ...any) (int64, error) {
	var id int64
	err := ext.QueryRowxContext(ctx, ext.Rebind(query+" RETURNING id"), args...).Scan(&id)
	return id, err
}

const columnsSQL = `SELECT a.attname, format_type(a.atttypid, a.atttypmod), NOT a.attnotnull
FROM pg_catalog.pg_attribute a
JOIN pg_catalog.pg_class c ON c.oid = a.attrelid
JOIN pg_catalog.pg_namespace n ON n.oid = c.relnamespace
WHERE n.nspname = $1 AND c.relname = $2 AND a.attnum > 0 AND NOT a.attisdropped
ORDER BY a.attnum`

func (Dialect) Columns(ctx context.Context, q sqlx.QueryerContext, schema, table string) ([]storage.Column, error) {
	if schema == "" {
		schema = "public"
	}
	rows, err := q.QueryContext(ctx, columnsSQL, schema, table)
	if err != nil {
		return nil, fmt.Errorf("postgres: columns of %s.%s: %w", schema, table, err)
	}
	defer rows.Close()

	var out []storage.Column
	for rows.Next() {
		var c storage.Column
		if err := rows.Scan(&c.Name, &c.Type, &c.Nullable); err != nil {
			return nil, fmt.Errorf("postgres: columns of %s.%s: %w", schema, table, err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
