// Package mssql implements the Microsoft SQL Server backend on go-mssqldb.
package mssql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	mssql "github.com/microsoft/go-mssqldb"
	"github.com/microsoft/go-mssqldb/msdsn"

	"silver/internal/storage"
	msddl "silver/internal/storage/mssql/ddl"
	"silver/pkg/records"
)

// Kind is the storage kind this package registers.
const Kind = "mssql"

// Error numbers for duplicate key and unique index violations.
const (
	errDuplicateKey   = 2627
	errDuplicateIndex = 2601
)

// Open validates dsn and opens a SQL Server connection pool.
func Open(ctx context.Context, dsn string, maxOpen int) (*sql.DB, error) {
	// Validate DSN early to fail fast on obvious mistakes.
	if _, err := msdsn.Parse(dsn); err != nil {
		return nil, fmt.Errorf("mssql: dsn: %w", err)
	}
	db, err := sql.Open("sqlserver", dsn)
	if err != nil {
		return nil, fmt.Errorf("mssql: open: %w", err)
	}
	if maxOpen > 0 {
		db.SetMaxOpenConns(maxOpen)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("mssql: ping: %w", err)
	}
	return db, nil
}

// Dialect is the SQL Server storage.Dialect.
type Dialect struct{}

var _ storage.Dialect = Dialect{}

func (Dialect) Name() string { return Kind }
func (Dialect) Quote(id string) string { return msddl.QuoteIdent(id) }
func (Dialect) Qualify(schema, table string) string { return msddl.QuoteFQN(schema, table) }
func (Dialect) MapType(t records.Type) string { return msddl.MapType(t) }
func (Dialect) NormalizeType(live string) string { return msddl.NormalizeType(live) }

// MaxParams stays below the 2100-parameter RPC limit.
func (Dialect) MaxParams() int { return 2000 }

func (Dialect) Meta() storage.MetaTypes {
	return storage.MetaTypes{
		Text:  "NVARCHAR(MAX)",
		Key:   "NVARCHAR(255)",
		Int:   "BIGINT",
		Float: "FLOAT",
		Bool:  "BIT",
		Time:  "DATETIME2",
		ID:    "BIGINT IDENTITY(1,1) PRIMARY KEY",
	}
}

func (d Dialect) CreateSchema(schema string) string {
	if schema == "" {
		return ""
	}
	lit := strings.ReplaceAll(schema, "'", "''")
	return fmt.Sprintf("IF SCHEMA_ID(N'%s') IS NULL EXEC(N'CREATE SCHEMA %s')", lit, strings.ReplaceAll(d.Quote(schema), "'", "''"))
}

func (Dialect) CreateTable(fqn string, defs []string) string {
	return msddl.CreateTableSQL(fqn, defs)
}

func (Dialect) AddColumn(fqn, def string) string {
	return fmt.Sprintf("ALTER TABLE %s ADD %s", fqn, def)
}

func (d Dialect) DropColumn(fqn, col string) string {
	return fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s", fqn, d.Quote(col))
}

func (d Dialect) AlterColumnType(fqn, col, typ string) (string, bool) {
	return fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s %s", fqn, d.Quote(col), typ), true
}

func (Dialect) DropTable(fqn string) string { return "DROP TABLE IF EXISTS " + fqn }

// Limit requires query to end in ORDER BY.
func (Dialect) Limit(query string, n int) string {
	return fmt.Sprintf("%s OFFSET 0 ROWS FETCH NEXT %d ROWS ONLY", query, n)
}

func (Dialect) IsUniqueViolation(err error) bool {
	var me mssql.Error
	if !errors.As(err, &me) {
		return false
	}
	return me.Number == errDuplicateKey || me.Number == errDuplicateIndex
}

// InsertID adds an OUTPUT clause in front of VALUES.
func (Dialect) InsertID(ctx context.Context, ext sqlx.ExtContext, query string, args ...any) (int64, error) {
	q := strings.Replace(query, " VALUES ", " OUTPUT INSERTED.id VALUES ", 1)
	var id int64
	err := ext.QueryRowxContext(ctx, ext.Rebind(q), args...).Scan(&id)
	return id, err
}

const columnsSQL = `SELECT COLUMN_NAME, DATA_TYPE, CHARACTER_MAXIMUM_LENGTH, NUMERIC_PRECISION, NUMERIC_SCALE, IS_NULLABLE
FROM INFORMATION_SCHEMA.COLUMNS
WHERE TABLE_SCHEMA = @p1 AND TABLE_NAME = @p2
ORDER BY ORDINAL_POSITION`

func (Dialect) Columns(ctx context.Context, q sqlx.QueryerContext, schema, table string) ([]storage.Column, error) {
	if schema == "" {
		schema = "dbo"
	}
	rows, err := q.QueryContext(ctx, columnsSQL, schema, table)
	if err != nil {
		return nil, fmt.Errorf("mssql: columns of %s.%s: %w", schema, table, err)
	}
	defer rows.Close()

	var out []storage.Column
	for rows.Next() {
		var (
			name, dataType, nullable string
			maxLen, prec, scale      sql.NullInt64
		)
		if err := rows.Scan(&name, &dataType, &maxLen, &prec, &scale, &nullable); err != nil {
			return nil, fmt.Errorf("mssql: columns of %s.%s: %w", schema, table, err)
		}
		out = append(out, storage.Column{
			Name:     name,
			Type:     msddl.LiveType(dataType, intPtr(maxLen), intPtr(prec), intPtr(scale)),
			Nullable: nullable == "YES",
		})
	}
	return out, rows.Err()
}

func intPtr(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}
