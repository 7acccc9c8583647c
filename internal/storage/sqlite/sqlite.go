// Package sqlite implements the SQLite backend on modernc.org/sqlite.
//
// SQLite has no schemas, so every qualified name collapses to the bare table
// name. The pool is limited to one connection: SQLite serializes writers
// anyway and a single connection keeps PRAGMAs and transactions consistent.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"silver/internal/storage"
	sqliteddl "silver/internal/storage/sqlite/ddl"
	"silver/pkg/records"
)

// Kind is the storage kind this package registers.
const Kind = "sqlite"

// Open opens a SQLite database at dsn, e.g. "file:silver.db" or a path.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("sqlite: DSN must not be empty")
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	db.SetMaxOpenConns(1)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: ping: %w", err)
	}
	for _, p := range []string{"PRAGMA busy_timeout = 5000", "PRAGMA foreign_keys = ON"} {
		if _, err := db.ExecContext(ctx, p); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite: %s: %w", p, err)
		}
	}
	return db, nil
}

// Dialect is the SQLite storage.Dialect.
type Dialect struct{}

var _ storage.Dialect = Dialect{}

func (Dialect) Name() string { return Kind }
func (Dialect) Quote(id string) string { return sqliteddl.QuoteIdent(id) }
func (Dialect) MaxParams() int { return 32766 }
func (Dialect) CreateSchema(string) string { return "" }

func (d Dialect) Qualify(_, table string) string { return d.Quote(table) }

func (Dialect) MapType(t records.Type) string { return sqliteddl.MapType(t) }
func (Dialect) NormalizeType(live string) string { return sqliteddl.NormalizeType(live) }

func (Dialect) Meta() storage.MetaTypes {
	return storage.MetaTypes{
		Text:  "TEXT",
		Key:   "TEXT",
		Int:   "INTEGER",
		Float: "REAL",
		Bool:  "BOOLEAN",
		Time:  "TIMESTAMP",
		ID:    "INTEGER PRIMARY KEY AUTOINCREMENT",
	}
}

func (Dialect) CreateTable(fqn string, defs []string) string {
	return sqliteddl.CreateTableSQL(fqn, defs)
}

func (Dialect) AddColumn(fqn, def string) string {
	return fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", fqn, def)
}

func (d Dialect) DropColumn(fqn, col string) string {
	return fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s", fqn, d.Quote(col))
}

// AlterColumnType is unsupported; callers recreate the table.
func (Dialect) AlterColumnType(string, string, string) (string, bool) { return "", false }

func (Dialect) DropTable(fqn string) string { return "DROP TABLE IF EXISTS " + fqn }

func (Dialect) Limit(query string, n int) string { return fmt.Sprintf("%s LIMIT %d", query, n) }

func (Dialect) IsUniqueViolation(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code() {
	case sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3.SQLITE_CONSTRAINT_UNIQUE:
		return true
	}
	return false
}

func (Dialect) InsertID(ctx context.Context, ext sqlx.ExtContext, query string, args ...any) (int64, error) {
	res, err := ext.ExecContext(ctx, ext.Rebind(query), args...)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (Dialect) Columns(ctx context.Context, q sqlx.QueryerContext, _, table string) ([]storage.Column, error) {
	rows, err := q.QueryContext(ctx, `SELECT name, type, "notnull" FROM pragma_table_info(?) ORDER BY cid`, table)
	if err != nil {
		return nil, fmt.Errorf("sqlite: columns of %s: %w", table, err)
	}
	defer rows.Close()

	var out []storage.Column
	for rows.Next() {
		var (
			c       storage.Column
			notNull int
		)
		if err := rows.Scan(&c.Name, &c.Type, &notNull); err != nil {
			return nil, fmt.Errorf("sqlite: columns of %s: %w", table, err)
		}
		c.Nullable = notNull == 0
		out = append(out, c)
	}
	return out, rows.Err()
}
