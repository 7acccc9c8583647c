// Package ddl defines a small, backend-agnostic model for SQL DDL: column
// definitions for CREATE TABLE and the column-set diff used to reconcile a
// live table with its declared schema.
//
// The package does not know any dialect. Callers pass the identifier quoting
// function and the backend's type normalizer; wrapping statements such as
// IF NOT EXISTS belong to the backend packages.
package ddl

import (
	"fmt"
	"strings"
)

// Definitions renders the column list of a CREATE TABLE statement.
//
// Each column is rendered as
//
//	<quoted name> <SQLType> [NOT NULL]
//
// Primary-key columns are always NOT NULL. When any column is flagged as
// key, a trailing PRIMARY KEY (<cols>) clause lists them in declared order.
func Definitions(t TableDef, quote func(string) string) ([]string, error) {
	fqn := strings.TrimSpace(t.FQN)
	if fqn == "" {
		return nil, fmt.Errorf("ddl: table FQN must not be empty")
	}
	if len(t.Columns) == 0 {
		return nil, fmt.Errorf("ddl: at least one column is required")
	}

	defs := make([]string, 0, len(t.Columns)+1)
	pks := make([]string, 0, len(t.Columns))
	for _, c := range t.Columns {
		def, err := Column(c, quote)
		if err != nil {
			return nil, fmt.Errorf("%w in table %s", err, fqn)
		}
		defs = append(defs, def)
		if c.PrimaryKey {
			pks = append(pks, quote(strings.TrimSpace(c.Name)))
		}
	}
	if len(pks) > 0 {
		defs = append(defs, fmt.Sprintf("PRIMARY KEY (%s)", strings.Join(pks, ", ")))
	}
	return defs, nil
}

// Column renders a single column definition.
func Column(c ColumnDef, quote func(string) string) (string, error) {
	name := strings.TrimSpace(c.Name)
	if name == "" {
		return "", fmt.Errorf("ddl: column with empty name")
	}
	typ := strings.TrimSpace(c.SQLType)
	if typ == "" {
		return "", fmt.Errorf("ddl: column %s missing SQLType", name)
	}
	var sb strings.Builder
	sb.WriteString(quote(name))
	sb.WriteByte(' ')
	sb.WriteString(typ)
	if !c.Nullable || c.PrimaryKey {
		sb.WriteString(" NOT NULL")
	}
	return sb.String(), nil
}
