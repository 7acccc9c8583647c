package schema

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"silver/internal/storage"
)

// Registry reads and writes target_schemas.
type Registry struct {
	db  *storage.DB
	log *zap.Logger
	now func() time.Time
}

// NewRegistry returns a Registry over db.
func NewRegistry(db *storage.DB, log *zap.Logger) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{
		db:  db,
		log: log.Named("schema"),
		now: func() time.Time { return time.Now().UTC() },
	}
}

const columnCols = `id, table_name, column_name, data_type, nullable, primary_key, default_value,
	description, ordinal, active, created_at, updated_at`

type createOptions struct {
	audit bool
}

// Option configures CreateTable.
type Option func(*createOptions)

// WithAuditColumns appends INGESTION_TIMESTAMP, CREATED_AT and UPDATED_AT,
// each defaulting to the current timestamp.
func WithAuditColumns() Option {
	return func(o *createOptions) { o.audit = true }
}

// CreateTable declares a new table. It fails with ErrTableExists when the
// table already has active columns and with ErrColumnExists when cols
// repeats a name. Nothing physical is created until Sync.
func (r *Registry) CreateTable(ctx context.Context, table string, cols []ColumnSpec, opts ...Option) (Table, error) {
	var o createOptions
	for _, fn := range opts {
		fn(&o)
	}
	table = strings.ToUpper(strings.TrimSpace(table))
	if !ValidIdent(table) {
		return Table{}, fmt.Errorf("schema: invalid table name %q", table)
	}
	if o.audit {
		cols = append(append([]ColumnSpec(nil), cols...), auditColumns...)
	}
	if len(cols) == 0 {
		return Table{}, fmt.Errorf("schema: table %s needs at least one column", table)
	}

	specs := make([]ColumnSpec, 0, len(cols))
	seen := make(map[string]bool, len(cols))
	for _, c := range cols {
		s, err := c.normalize()
		if err != nil {
			return Table{}, err
		}
		if seen[s.Name] {
			return Table{}, fmt.Errorf("%w: %s.%s", ErrColumnExists, table, s.Name)
		}
		seen[s.Name] = true
		specs = append(specs, s)
	}

	err := r.db.InTx(ctx, func(tx *sqlx.Tx) error {
		n, err := r.countActive(ctx, tx, table)
		if err != nil {
			return err
		}
		if n > 0 {
			return fmt.Errorf("%w: %s", ErrTableExists, table)
		}
		for i, s := range specs {
			if err := r.insert(ctx, tx, table, s, i+1); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return Table{}, err
	}
	r.log.Info("table declared", zap.String("table", table), zap.Int("columns", len(specs)))
	return r.Table(ctx, table)
}

// AddColumn declares one more column on an existing table.
func (r *Registry) AddColumn(ctx context.Context, table string, spec ColumnSpec) (Column, error) {
	table = strings.ToUpper(strings.TrimSpace(table))
	s, err := spec.normalize()
	if err != nil {
		return Column{}, err
	}
	err = r.db.InTx(ctx, func(tx *sqlx.Tx) error {
		cur, err := r.activeColumns(ctx, tx, table)
		if err != nil {
			return err
		}
		if len(cur) == 0 {
			return fmt.Errorf("schema: table %s: %w", table, ErrNotFound)
		}
		var ordinal int
		for _, c := range cur {
			if strings.EqualFold(c.Name, s.Name) {
				return fmt.Errorf("%w: %s.%s", ErrColumnExists, table, s.Name)
			}
			ordinal = max(ordinal, c.Ordinal)
		}
		return r.insert(ctx, tx, table, s, ordinal+1)
	})
	if err != nil {
		return Column{}, err
	}
	r.log.Info("column added", zap.String("table", table), zap.String("column", s.Name), zap.String("type", s.DataType))
	return r.column(ctx, table, s.Name)
}

// ColumnUpdate lists the fields UpdateColumn changes; nil fields are kept.
type ColumnUpdate struct {
	DataType    *string
	Nullable    *bool
	PrimaryKey  *bool
	Default     *string
	Description *string
}

// UpdateColumn edits an active column's declaration. A type change takes
// effect physically on the next forced Sync.
func (r *Registry) UpdateColumn(ctx context.Context, table, column string, u ColumnUpdate) (Column, error) {
	table = strings.ToUpper(strings.TrimSpace(table))
	cur, err := r.column(ctx, table, column)
	if err != nil {
		return Column{}, err
	}
	s := ColumnSpec{
		Name:        cur.Name,
		DataType:    cur.DataType,
		Nullable:    cur.Nullable,
		PrimaryKey:  cur.PrimaryKey,
		Default:     cur.Default.String,
		Description: cur.Description.String,
	}
	if u.DataType != nil {
		s.DataType = *u.DataType
	}
	if u.Nullable != nil {
		s.Nullable = *u.Nullable
	}
	if u.PrimaryKey != nil {
		s.PrimaryKey = *u.PrimaryKey
	}
	if u.Default != nil {
		s.Default = *u.Default
	}
	if u.Description != nil {
		s.Description = *u.Description
	}
	if s, err = s.normalize(); err != nil {
		return Column{}, err
	}

	q := r.db.Rebind(`UPDATE ` + r.db.Meta(storage.TableTargetSchemas) + `
		SET data_type = ?, nullable = ?, primary_key = ?, default_value = ?, description = ?, updated_at = ?
		WHERE id = ?`)
	if _, err := r.db.ExecContext(ctx, q, s.DataType, s.Nullable, s.PrimaryKey,
		storage.NullString(s.Default), storage.NullString(s.Description), r.now(), cur.ID); err != nil {
		return Column{}, fmt.Errorf("schema: update %s.%s: %w", table, cur.Name, err)
	}
	return r.column(ctx, table, cur.Name)
}

// DeactivateColumn soft-deletes a column. Mappings and rules that reference
// it keep resolving to the inactive entry.
func (r *Registry) DeactivateColumn(ctx context.Context, table, column string) error {
	table = strings.ToUpper(strings.TrimSpace(table))
	cur, err := r.column(ctx, table, column)
	if err != nil {
		return err
	}
	q := r.db.Rebind(`UPDATE ` + r.db.Meta(storage.TableTargetSchemas) + ` SET active = ?, updated_at = ? WHERE id = ?`)
	if _, err := r.db.ExecContext(ctx, q, false, r.now(), cur.ID); err != nil {
		return fmt.Errorf("schema: deactivate %s.%s: %w", table, cur.Name, err)
	}
	r.log.Info("column deactivated", zap.String("table", table), zap.String("column", cur.Name))
	return nil
}

// Table returns the active declaration of name.
func (r *Registry) Table(ctx context.Context, name string) (Table, error) {
	name = strings.ToUpper(strings.TrimSpace(name))
	cols, err := r.activeColumns(ctx, r.db, name)
	if err != nil {
		return Table{}, err
	}
	if len(cols) == 0 {
		return Table{}, fmt.Errorf("schema: table %s: %w", name, ErrNotFound)
	}
	return Table{Name: name, Columns: cols}, nil
}

// Tables lists every table with at least one active column.
func (r *Registry) Tables(ctx context.Context) ([]string, error) {
	var out []string
	q := r.db.Rebind(`SELECT DISTINCT table_name FROM ` + r.db.Meta(storage.TableTargetSchemas) +
		` WHERE active = ? ORDER BY table_name`)
	if err := r.db.SelectContext(ctx, &out, q, true); err != nil {
		return nil, fmt.Errorf("schema: list tables: %w", err)
	}
	return out, nil
}

// DropTable removes every entry of table, active or not, and drops the
// physical table. confirm must be true.
func (r *Registry) DropTable(ctx context.Context, table string, confirm bool) error {
	table = strings.ToUpper(strings.TrimSpace(table))
	if !confirm {
		return fmt.Errorf("%w: drop table %s", ErrConfirmationRequired, table)
	}
	if !ValidIdent(table) {
		return fmt.Errorf("schema: invalid table name %q", table)
	}
	if _, err := r.db.ExecContext(ctx, r.db.Dialect.DropTable(r.db.Target(table))); err != nil {
		return fmt.Errorf("schema: drop %s: %w", table, err)
	}
	q := r.db.Rebind(`DELETE FROM ` + r.db.Meta(storage.TableTargetSchemas) + ` WHERE table_name = ?`)
	res, err := r.db.ExecContext(ctx, q, table)
	if err != nil {
		return fmt.Errorf("schema: delete entries of %s: %w", table, err)
	}
	n, _ := res.RowsAffected()
	r.log.Warn("table dropped", zap.String("table", table), zap.Int64("entries", n))
	return nil
}

func (r *Registry) column(ctx context.Context, table, column string) (Column, error) {
	var c Column
	q := r.db.Rebind(`SELECT ` + columnCols + ` FROM ` + r.db.Meta(storage.TableTargetSchemas) +
		` WHERE table_name = ? AND column_name = ? AND active = ?`)
	err := r.db.GetContext(ctx, &c, q, table, strings.ToUpper(strings.TrimSpace(column)), true)
	if errors.Is(err, sql.ErrNoRows) {
		return Column{}, fmt.Errorf("schema: column %s.%s: %w", table, column, ErrNotFound)
	}
	if err != nil {
		return Column{}, fmt.Errorf("schema: get %s.%s: %w", table, column, err)
	}
	return c, nil
}

func (r *Registry) activeColumns(ctx context.Context, q sqlx.QueryerContext, table string) ([]Column, error) {
	var cols []Column
	stmt := r.db.Rebind(`SELECT ` + columnCols + ` FROM ` + r.db.Meta(storage.TableTargetSchemas) +
		` WHERE table_name = ? AND active = ? ORDER BY ordinal, id`)
	if err := sqlx.SelectContext(ctx, q, &cols, stmt, table, true); err != nil {
		return nil, fmt.Errorf("schema: columns of %s: %w", table, err)
	}
	return cols, nil
}

func (r *Registry) countActive(ctx context.Context, q sqlx.QueryerContext, table string) (int, error) {
	var n int
	stmt := r.db.Rebind(`SELECT COUNT(*) FROM ` + r.db.Meta(storage.TableTargetSchemas) +
		` WHERE table_name = ? AND active = ?`)
	if err := sqlx.GetContext(ctx, q, &n, stmt, table, true); err != nil {
		return 0, fmt.Errorf("schema: count %s: %w", table, err)
	}
	return n, nil
}

func (r *Registry) insert(ctx context.Context, ext sqlx.ExecerContext, table string, s ColumnSpec, ordinal int) error {
	now := r.now()
	q := r.db.Rebind(`INSERT INTO ` + r.db.Meta(storage.TableTargetSchemas) + `
		(table_name, column_name, data_type, nullable, primary_key, default_value, description,
		 ordinal, active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err := ext.ExecContext(ctx, q, table, s.Name, s.DataType, s.Nullable, s.PrimaryKey,
		storage.NullString(s.Default), storage.NullString(s.Description), ordinal, true, now, now)
	if err != nil {
		return fmt.Errorf("schema: insert %s.%s: %w", table, s.Name, err)
	}
	return nil
}
