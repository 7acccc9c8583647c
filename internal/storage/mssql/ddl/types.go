// Package ddl contains MSSQL-specific helpers for generating DDL.
//
// Type names are rendered in the lower-case form that the column
// introspection in the mssql package assembles from INFORMATION_SCHEMA, so
// declared and live columns compare directly.
package ddl

import (
	"fmt"
	"strings"

	"silver/pkg/records"
)

// MapType maps a declared data type into a SQL Server column type.
//
//	VARCHAR(n)    -> nvarchar(n)     VARCHAR       -> nvarchar(max)
//	NUMBER(p,s)   -> decimal(p,s)    NUMBER        -> decimal(38,10)
//	INTEGER alias -> bigint          FLOAT         -> float
//	BOOLEAN       -> bit             DATE          -> date
//	TIMESTAMP_NTZ -> datetime2       TIMESTAMP_TZ  -> datetimeoffset
//	VARIANT       -> nvarchar(max) holding JSON text
func MapType(t records.Type) string {
	switch t.Base {
	case records.TypeVarchar:
		if t.Length > 0 && t.Length <= 4000 {
			return fmt.Sprintf("nvarchar(%d)", t.Length)
		}
		return "nvarchar(max)"
	case records.TypeNumber:
		if t.IsInteger() {
			return "bigint"
		}
		if t.Precision > 0 {
			return fmt.Sprintf("decimal(%d,%d)", min(t.Precision, 38), t.Scale)
		}
		return "decimal(38,10)"
	case records.TypeFloat:
		return "float"
	case records.TypeBoolean:
		return "bit"
	case records.TypeDate:
		return "date"
	case records.TypeTimestamp:
		return "datetime2"
	case records.TypeTimestampTZ:
		return "datetimeoffset"
	default:
		return "nvarchar(max)"
	}
}

// NormalizeType lower-cases and strips whitespace.
func NormalizeType(live string) string {
	return strings.ToLower(strings.Join(strings.Fields(live), ""))
}

// LiveType assembles a type name from INFORMATION_SCHEMA.COLUMNS fields.
// maxLen is -1 for (max) columns; precision and scale apply to decimals.
func LiveType(dataType string, maxLen, precision, scale *int) string {
	dt := strings.ToLower(dataType)
	switch dt {
	case "nvarchar", "varchar", "nchar", "char", "varbinary":
		if maxLen == nil {
			return dt
		}
		if *maxLen < 0 {
			return dt + "(max)"
		}
		return fmt.Sprintf("%s(%d)", dt, *maxLen)
	case "decimal", "numeric":
		if precision == nil || scale == nil {
			return "decimal"
		}
		return fmt.Sprintf("decimal(%d,%d)", *precision, *scale)
	default:
		return dt
	}
}
