// Package ddl contains Postgres-specific helpers for generating DDL.
package ddl

import (
	"fmt"
	"strings"

	"silver/pkg/records"
)

// MapType maps a declared data type into the Postgres type name exactly as
// format_type() reports it, so declared and live columns compare directly.
//
//	VARCHAR(n)    -> character varying(n)   VARCHAR      -> text
//	NUMBER(p,s)   -> numeric(p,s)           NUMBER       -> numeric
//	INTEGER alias -> bigint                 FLOAT        -> double precision
//	BOOLEAN       -> boolean                DATE         -> date
//	TIMESTAMP_NTZ -> timestamp without time zone
//	TIMESTAMP_TZ  -> timestamp with time zone
//	VARIANT       -> jsonb
func MapType(t records.Type) string {
	switch t.Base {
	case records.TypeVarchar:
		if t.Length > 0 {
			return fmt.Sprintf("character varying(%d)", t.Length)
		}
		return "text"
	case records.TypeNumber:
		if t.IsInteger() {
			return "bigint"
		}
		if t.Precision > 0 {
			return fmt.Sprintf("numeric(%d,%d)", t.Precision, t.Scale)
		}
		return "numeric"
	case records.TypeFloat:
		return "double precision"
	case records.TypeBoolean:
		return "boolean"
	case records.TypeDate:
		return "date"
	case records.TypeTimestamp:
		return "timestamp without time zone"
	case records.TypeTimestampTZ:
		return "timestamp with time zone"
	case records.TypeVariant:
		return "jsonb"
	default:
		return "text"
	}
}

// NormalizeType lower-cases and collapses whitespace; commas lose their
// trailing space.
func NormalizeType(live string) string {
	s := strings.ToLower(strings.Join(strings.Fields(live), " "))
	return strings.ReplaceAll(s, ", ", ",")
}
