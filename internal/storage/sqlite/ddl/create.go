package ddl

import (
	"fmt"
	"strings"
)

// CreateTableSQL wraps column definitions in CREATE TABLE IF NOT EXISTS.
func CreateTableSQL(fqn string, defs []string) string {
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n  %s\n)", fqn, strings.Join(defs, ",\n  "))
}

// QuoteIdent quotes a single identifier with double quotes.
func QuoteIdent(id string) string {
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}
