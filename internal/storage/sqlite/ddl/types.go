// Package ddl contains SQLite-specific helpers for generating DDL.
//
// SQLite keeps the declared type text verbatim in the schema, so MapType
// emits distinct names per logical type; that lets a later introspection tell
// a DATE column from a TIMESTAMP one. The names still select the intended
// affinity, and DATE/TIMESTAMP/DATETIME make the modernc driver return
// time.Time on read.
package ddl

import (
	"fmt"
	"strings"

	"silver/pkg/records"
)

// MapType maps a declared data type into a SQLite column type.
//
//	VARCHAR(n)     -> VARCHAR(n)      VARCHAR/STRING -> TEXT
//	NUMBER(p,s)    -> NUMERIC(p,s)    NUMBER         -> NUMERIC
//	INTEGER alias  -> INTEGER         FLOAT          -> REAL
//	BOOLEAN        -> BOOLEAN (0/1)   DATE           -> DATE
//	TIMESTAMP_NTZ  -> TIMESTAMP       TIMESTAMP_TZ   -> DATETIME
//	VARIANT        -> CLOB (JSON text)
func MapType(t records.Type) string {
	switch t.Base {
	case records.TypeVarchar:
		if t.Length > 0 {
			return fmt.Sprintf("VARCHAR(%d)", t.Length)
		}
		return "TEXT"
	case records.TypeNumber:
		if t.IsInteger() {
			return "INTEGER"
		}
		if t.Precision > 0 {
			return fmt.Sprintf("NUMERIC(%d,%d)", t.Precision, t.Scale)
		}
		return "NUMERIC"
	case records.TypeFloat:
		return "REAL"
	case records.TypeBoolean:
		return "BOOLEAN"
	case records.TypeDate:
		return "DATE"
	case records.TypeTimestamp:
		return "TIMESTAMP"
	case records.TypeTimestampTZ:
		return "DATETIME"
	case records.TypeVariant:
		return "CLOB"
	default:
		return "TEXT"
	}
}

// NormalizeType canonicalizes a declared type as reported by
// PRAGMA table_info for comparison with MapType output.
func NormalizeType(live string) string {
	return strings.ToUpper(strings.Join(strings.Fields(live), ""))
}
