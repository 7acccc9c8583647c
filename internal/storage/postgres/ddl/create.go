package ddl

import (
	"fmt"
	"strings"
)

// CreateTableSQL wraps column definitions in CREATE TABLE IF NOT EXISTS.
func CreateTableSQL(fqn string, defs []string) string {
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n  %s\n)", fqn, strings.Join(defs, ",\n  "))
}

// QuoteIdent quotes a single identifier segment for Postgres, e.g.:
//
//	QuoteIdent(`pcv`)        => `"pcv"`
//	QuoteIdent(`weird"name`) => `"weird""name"`
func QuoteIdent(id string) string {
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}

// QuoteFQN quotes schema and table; an empty schema yields the bare table.
func QuoteFQN(schema, table string) string {
	if schema == "" {
		return QuoteIdent(table)
	}
	return QuoteIdent(schema) + "." + QuoteIdent(table)
}
