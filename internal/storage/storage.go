// Package storage contains the backend-agnostic database handle shared by
// every store in the engine.
//
// A backend package (sqlite, postgres, mysql, mssql) registers a Factory for
// its storage kind at init time. Callers open a *DB with Open and never
// import a backend directly; importing internal/storage/all enables them all.
//
// Metadata and target tables live in the same database. All SQL is written
// with '?' placeholders and rebound through sqlx for the active driver.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"silver/pkg/records"
)

// ErrNotFound is returned by stores when a keyed lookup matches no row.
var ErrNotFound = errors.New("not found")

// Config is the backend-independent connection description.
type Config struct {
	Kind         string
	DSN          string
	MaxOpenConns int
	// Schema holds metadata and target tables. Backends without schemas
	// (sqlite) ignore it.
	Schema string
}

// Column is one column of a live table as reported by the database.
type Column struct {
	Name     string
	Type     string
	Nullable bool
}

// MetaTypes are the column types used for the engine's own metadata tables.
type MetaTypes struct {
	Text  string // unbounded text
	Key   string // indexable short text
	Int   string
	Float string
	Bool  string
	Time  string
	ID    string // auto-increment integer primary key, including the constraint
}

// Dialect isolates every SQL difference between backends.
type Dialect interface {
	Name() string
	Quote(ident string) string
	// Qualify renders schema.table; backends without schemas drop schema.
	Qualify(schema, table string) string
	// MapType renders a declared type as the backend's canonical type name.
	// The result compares equal to NormalizeType of the live column.
	MapType(t records.Type) string
	NormalizeType(live string) string
	Meta() MetaTypes

	CreateSchema(schema string) string
	CreateTable(fqn string, defs []string) string
	AddColumn(fqn, def string) string
	DropColumn(fqn, col string) string
	// AlterColumnType returns false when the backend cannot change a
	// column's type in place.
	AlterColumnType(fqn, col, typ string) (string, bool)
	DropTable(fqn string) string
	Limit(query string, n int) string
	// MaxParams bounds the bind parameters of one statement.
	MaxParams() int

	// IsUniqueViolation reports whether err is a primary-key or unique
	// constraint failure.
	IsUniqueViolation(err error) bool

	InsertID(ctx context.Context, ext sqlx.ExtContext, query string, args ...any) (int64, error)
	Columns(ctx context.Context, q sqlx.QueryerContext, schema, table string) ([]Column, error)
}

// DB is an open database plus the dialect that speaks to it.
type DB struct {
	*sqlx.DB
	Dialect Dialect
	Schema  string
	Log     *zap.Logger
}

// Meta returns the qualified name of an engine metadata table.
func (db *DB) Meta(table string) string {
	return db.Dialect.Qualify(db.Schema, table)
}

// Target returns the qualified, quoted name of a Silver target table.
func (db *DB) Target(table string) string {
	return db.Dialect.Qualify(db.Schema, strings.ToUpper(table))
}

// InTx runs fn in a transaction, committing when fn returns nil.
func (db *DB) InTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage: begin: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage: commit: %w", err)
	}
	return nil
}

// Factory opens a DB for one storage kind.
type Factory func(ctx context.Context, cfg Config) (*DB, error)

var (
	mu        sync.RWMutex
	factories = map[string]Factory{}
)

// Register registers (or replaces) the Factory for kind. It is called from
// backend packages' init functions.
func Register(kind string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	factories[kind] = f
}

// ListKinds returns the registered storage kinds, sorted.
func ListKinds() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Open opens a DB for cfg.Kind.
func Open(ctx context.Context, cfg Config, log *zap.Logger) (*DB, error) {
	mu.RLock()
	f, ok := factories[cfg.Kind]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("storage: unknown kind %q (registered: %s)", cfg.Kind, strings.Join(ListKinds(), ", "))
	}
	db, err := f(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	db.Log = log.Named("storage")
	return db, nil
}

// Wrap builds a DB around an already-open *sql.DB. driverName selects the
// sqlx bind style.
func Wrap(sqldb *sql.DB, driverName string, d Dialect, schema string) *DB {
	return &DB{
		DB:      sqlx.NewDb(sqldb, driverName),
		Dialect: d,
		Schema:  schema,
		Log:     zap.NewNop(),
	}
}

// Arg converts v into a database/sql argument. JSON values are encoded as
// text; numbers bind through decimal.Decimal's driver.Valuer.
func Arg(v records.Value) any {
	if v.Kind() == records.KindJSON {
		b, err := v.MarshalJSON()
		if err != nil {
			return nil
		}
		return string(b)
	}
	return v.Native()
}

// NullString converts an empty string to SQL NULL.
func NullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
