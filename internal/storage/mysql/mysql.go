// Package mysql implements the MySQL backend on go-sql-driver/mysql. The
// storage schema maps to a MySQL database.
package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"

	"silver/internal/storage"
	myddl "silver/internal/storage/mysql/ddl"
	"silver/pkg/records"
)

// Kind is the storage kind this package registers.
const Kind = "mysql"

// errDupEntry is ER_DUP_ENTRY.
const errDupEntry = 1062

// Open parses dsn, forces time parsing in UTC and opens a pool.
func Open(ctx context.Context, dsn string, maxOpen int) (*sql.DB, error) {
	mc, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("mysql: dsn: %w", err)
	}
	mc.ParseTime = true
	mc.Loc = time.UTC
	conn, err := mysql.NewConnector(mc)
	if err != nil {
		return nil, fmt.Errorf("mysql: connector: %w", err)
	}
	db := sql.OpenDB(conn)
	if maxOpen > 0 {
		db.SetMaxOpenConns(maxOpen)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("mysql: ping: %w", err)
	}
	return db, nil
}

// Dialect is the MySQL storage.Dialect.
type Dialect struct{}

var _ storage.Dialect = Dialect{}

func (Dialect) Name() string { return Kind }
func (Dialect) Quote(id string) string { return myddl.QuoteIdent(id) }
func (Dialect) Qualify(schema, table string) string { return myddl.QuoteFQN(schema, table) }
func (Dialect) MapType(t records.Type) string { return myddl.MapType(t) }
func (Dialect) NormalizeType(live string) string { return myddl.NormalizeType(live) }
func (Dialect) MaxParams() int { return 65535 }

func (Dialect) Meta() storage.MetaTypes {
	return storage.MetaTypes{
		Text:  "LONGTEXT",
		Key:   "VARCHAR(255)",
		Int:   "BIGINT",
		Float: "DOUBLE",
		Bool:  "BOOLEAN",
		Time:  "DATETIME(6)",
		ID:    "BIGINT AUTO_INCREMENT PRIMARY KEY",
	}
}

func (d Dialect) CreateSchema(schema string) string {
	if schema == "" {
		return ""
	}
	return "CREATE DATABASE IF NOT EXISTS " + d.Quote(schema)
}

func (Dialect) CreateTable(fqn string, defs []string) string {
	return myddl.CreateTableSQL(fqn, defs)
}

func (Dialect) AddColumn(fqn, def string) string {
	return fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", fqn, def)
}

func (d Dialect) DropColumn(fqn, col string) string {
	return fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s", fqn, d.Quote(col))
}

func (d Dialect) AlterColumnType(fqn, col, typ string) (string, bool) {
	return fmt.Sprintf("ALTER TABLE %s MODIFY COLUMN %s %s", fqn, d.Quote(col), typ), true
}

func (Dialect) DropTable(fqn string) string { return "DROP TABLE IF EXISTS " + fqn }

func (Dialect) Limit(query string, n int) string { return fmt.Sprintf("%s LIMIT %d", query, n) }

func (Dialect) IsUniqueViolation(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == errDupEntry
}

func (Dialect) InsertID(ctx context.Context, ext sqlx.ExtContext, query string, args ...any) (int64, error) {
	res, err := ext.ExecContext(ctx, ext.Rebind(query), args...)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

const columnsSQL = `SELECT COLUMN_NAME, COLUMN_TYPE, IS_NULLABLE = 'YES'
FROM INFORMATION_SCHEMA.COLUMNS
WHERE TABLE_SCHEMA = COALESCE(NULLIF(?, ''), DATABASE()) AND TABLE_NAME = ?
ORDER BY ORDINAL_POSITION`

func (Dialect) Columns(ctx context.Context, q sqlx.QueryerContext, schema, table string) ([]storage.Column, error) {
	rows, err := q.QueryContext(ctx, columnsSQL, schema, table)
	if err != nil {
		return nil, fmt.Errorf("mysql: columns of %s: %w", table, err)
	}
	defer rows.Close()

	var out []storage.Column
	for rows.Next() {
		var c storage.Column
		if err := rows.Scan(&c.Name, &c.Type, &c.Nullable); err != nil {
			return nil, fmt.Errorf("mysql: columns of %s: %w", table, err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
