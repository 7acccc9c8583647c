// Package schema is the target schema registry: the user-declared columns of
// every Silver table, stored in target_schemas, plus the sync operation that
// reconciles a physical table with its active declaration.
//
// Column entries are never hard-deleted while the table exists. Removing a
// column clears its active flag; the physical column stays until Sync runs
// with force.
package schema

import (
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"silver/internal/expr"
	"silver/internal/storage"
	"silver/pkg/records"
)

var (
	// ErrNotFound is returned when a table or column has no active entry.
	ErrNotFound = storage.ErrNotFound
	// ErrColumnExists reports a column name collision among active entries.
	ErrColumnExists = errors.New("schema: column already exists")
	// ErrTableExists reports a CreateTable for a table with active entries.
	ErrTableExists = errors.New("schema: table already exists")
	// ErrConfirmationRequired guards DropTable.
	ErrConfirmationRequired = errors.New("schema: destructive operation requires confirmation")
)

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,127}$`)

// ValidIdent reports whether s can be used unquoted as a table or column
// name on every backend.
func ValidIdent(s string) bool { return identRe.MatchString(s) }

// Column is one row of target_schemas.
type Column struct {
	ID          int64          `db:"id"`
	Table       string         `db:"table_name"`
	Name        string         `db:"column_name"`
	DataType    string         `db:"data_type"`
	Nullable    bool           `db:"nullable"`
	PrimaryKey  bool           `db:"primary_key"`
	Default     sql.NullString `db:"default_value"`
	Description sql.NullString `db:"description"`
	Ordinal     int            `db:"ordinal"`
	Active      bool           `db:"active"`
	CreatedAt   time.Time      `db:"created_at"`
	UpdatedAt   time.Time      `db:"updated_at"`
}

// Type parses the column's data type tag.
func (c Column) Type() (records.Type, error) { return records.ParseType(c.DataType) }

// Table is the active declaration of one target table, in ordinal order.
type Table struct {
	Name    string
	Columns []Column
}

// Column looks a column up case-insensitively.
func (t Table) Column(name string) (Column, bool) {
	for _, c := range t.Columns {
		if strings.EqualFold(c.Name, name) {
			return c, true
		}
	}
	return Column{}, false
}

// Names returns the column names in ordinal order.
func (t Table) Names() []string {
	out := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		out[i] = c.Name
	}
	return out
}

// Keys returns the primary-key column names. An empty result means writes
// to the table are pure appends.
func (t Table) Keys() []string {
	var out []string
	for _, c := range t.Columns {
		if c.PrimaryKey {
			out = append(out, c.Name)
		}
	}
	return out
}

// ColumnSpec is the input for declaring a column.
type ColumnSpec struct {
	Name        string
	DataType    string
	Nullable    bool
	PrimaryKey  bool
	Default     string // expression, evaluated per row when no mapping supplies a value
	Description string
}

// normalize validates s and returns it with the name upper-cased and the
// type in canonical form.
func (s ColumnSpec) normalize() (ColumnSpec, error) {
	s.Name = strings.ToUpper(strings.TrimSpace(s.Name))
	if !ValidIdent(s.Name) {
		return s, fmt.Errorf("schema: invalid column name %q", s.Name)
	}
	t, err := records.ParseType(s.DataType)
	if err != nil {
		return s, fmt.Errorf("schema: column %s: %w", s.Name, err)
	}
	s.DataType = t.String()
	s.Default = strings.TrimSpace(s.Default)
	if s.Default != "" {
		if _, err := expr.Parse(s.Default); err != nil {
			return s, fmt.Errorf("schema: column %s default: %w", s.Name, err)
		}
	}
	if s.PrimaryKey {
		s.Nullable = false
	}
	return s, nil
}

// auditColumns are appended by WithAuditColumns.
var auditColumns = []ColumnSpec{
	{Name: "INGESTION_TIMESTAMP", DataType: "TIMESTAMP_NTZ", Nullable: true, Default: "CURRENT_TIMESTAMP()", Description: "Time the row was written to Silver"},
	{Name: "CREATED_AT", DataType: "TIMESTAMP_NTZ", Nullable: true, Default: "CURRENT_TIMESTAMP()", Description: "Record creation time"},
	{Name: "UPDATED_AT", DataType: "TIMESTAMP_NTZ", Nullable: true, Default: "CURRENT_TIMESTAMP()", Description: "Record update time"},
}
