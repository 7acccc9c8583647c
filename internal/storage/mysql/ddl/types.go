// Package ddl contains MySQL-specific helpers for generating DDL.
package ddl

import (
	"fmt"
	"regexp"
	"strings"

	"silver/pkg/records"
)

// MapType maps a declared data type into the MySQL COLUMN_TYPE spelling.
//
//	VARCHAR(n)    -> varchar(n)      VARCHAR      -> longtext
//	NUMBER(p,s)   -> decimal(p,s)    NUMBER       -> decimal(65,30)
//	INTEGER alias -> bigint          FLOAT        -> double
//	BOOLEAN       -> tinyint(1)      DATE         -> date
//	TIMESTAMP_*   -> datetime(6)     VARIANT      -> json
func MapType(t records.Type) string {
	switch t.Base {
	case records.TypeVarchar:
		if t.Length > 0 {
			return fmt.Sprintf("varchar(%d)", t.Length)
		}
		return "longtext"
	case records.TypeNumber:
		if t.IsInteger() {
			return "bigint"
		}
		if t.Precision > 0 {
			return fmt.Sprintf("decimal(%d,%d)", min(t.Precision, 65), t.Scale)
		}
		return "decimal(65,30)"
	case records.TypeFloat:
		return "double"
	case records.TypeBoolean:
		return "tinyint(1)"
	case records.TypeDate:
		return "date"
	case records.TypeTimestamp, records.TypeTimestampTZ:
		return "datetime(6)"
	case records.TypeVariant:
		return "json"
	default:
		return "longtext"
	}
}

// displayWidth matches the integer display widths MySQL 5.7 reports, e.g.
// bigint(20). tinyint(1) is the boolean spelling and is kept.
var displayWidth = regexp.MustCompile(`^(smallint|mediumint|int|bigint)\(\d+\)`)

// NormalizeType lower-cases, strips whitespace and integer display widths.
func NormalizeType(live string) string {
	s := strings.ToLower(strings.Join(strings.Fields(live), ""))
	return displayWidth.ReplaceAllString(s, "$1")
}
