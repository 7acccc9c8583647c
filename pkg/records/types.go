package records

import (
	"fmt"
	"strconv"
	"strings"
)

// Base is the family of a declared column type.
type Base uint8

const (
	TypeUnknown Base = iota
	TypeVarchar
	TypeNumber
	TypeFloat
	TypeBoolean
	TypeDate
	TypeTimestamp
	TypeTimestampTZ
	TypeVariant
)

// Type is a parsed data type tag such as VARCHAR(100) or NUMBER(15,2).
//
// Name keeps the canonical keyword the tag was declared with (INTEGER,
// TIMESTAMP_NTZ, OBJECT, ...) so it can be rendered back unchanged.
type Type struct {
	Base      Base
	Name      string
	Length    int
	Precision int
	Scale     int
}

var typeNames = map[string]Base{
	"VARCHAR":       TypeVarchar,
	"CHAR":          TypeVarchar,
	"CHARACTER":     TypeVarchar,
	"STRING":        TypeVarchar,
	"TEXT":          TypeVarchar,
	"NUMBER":        TypeNumber,
	"DECIMAL":       TypeNumber,
	"NUMERIC":       TypeNumber,
	"INT":           TypeNumber,
	"INTEGER":       TypeNumber,
	"BIGINT":        TypeNumber,
	"SMALLINT":      TypeNumber,
	"FLOAT":         TypeFloat,
	"DOUBLE":        TypeFloat,
	"REAL":          TypeFloat,
	"BOOLEAN":       TypeBoolean,
	"BOOL":          TypeBoolean,
	"DATE":          TypeDate,
	"DATETIME":      TypeTimestamp,
	"TIMESTAMP":     TypeTimestamp,
	"TIMESTAMP_NTZ": TypeTimestamp,
	"TIMESTAMP_LTZ": TypeTimestampTZ,
	"TIMESTAMP_TZ":  TypeTimestampTZ,
	"VARIANT":       TypeVariant,
	"OBJECT":        TypeVariant,
	"ARRAY":         TypeVariant,
	"JSON":          TypeVariant,
}

// ParseType parses a type tag. Parameters are accepted only where they make
// sense: a length for character types, precision and scale for NUMBER.
func ParseType(s string) (Type, error) {
	src := strings.ToUpper(strings.TrimSpace(s))
	if src == "" {
		return Type{}, fmt.Errorf("records: empty data type")
	}
	name, params := src, ""
	if i := strings.IndexByte(src, '('); i >= 0 {
		if !strings.HasSuffix(src, ")") {
			return Type{}, fmt.Errorf("records: malformed data type %q", s)
		}
		name = strings.TrimSpace(src[:i])
		params = strings.TrimSpace(src[i+1 : len(src)-1])
	}
	base, ok := typeNames[name]
	if !ok {
		return Type{}, fmt.Errorf("records: unknown data type %q", s)
	}
	t := Type{Base: base, Name: name}
	switch name {
	case "INT", "INTEGER", "BIGINT", "SMALLINT":
		t.Precision, t.Scale = 38, 0
	}
	if params == "" {
		return t, nil
	}

	parts := strings.Split(params, ",")
	nums := make([]int, len(parts))
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || n < 0 {
			return Type{}, fmt.Errorf("records: bad parameter %q in data type %q", p, s)
		}
		nums[i] = n
	}
	switch base {
	case TypeVarchar:
		if len(nums) != 1 || nums[0] == 0 {
			return Type{}, fmt.Errorf("records: %s takes one positive length", name)
		}
		t.Length = nums[0]
	case TypeNumber:
		if len(nums) > 2 || nums[0] == 0 {
			return Type{}, fmt.Errorf("records: %s takes (precision[,scale])", name)
		}
		t.Precision = nums[0]
		if len(nums) == 2 {
			t.Scale = nums[1]
		}
		if t.Scale > t.Precision {
			return Type{}, fmt.Errorf("records: scale %d exceeds precision %d", t.Scale, t.Precision)
		}
	case TypeTimestamp, TypeTimestampTZ:
		// fractional-second precision; accepted and ignored
	default:
		return Type{}, fmt.Errorf("records: %s takes no parameters", name)
	}
	return t, nil
}

// MustParseType is ParseType for literals known to be valid.
func MustParseType(s string) Type {
	t, err := ParseType(s)
	if err != nil {
		panic(err)
	}
	return t
}

// String renders the tag in canonical form.
func (t Type) String() string {
	switch {
	case t.Base == TypeVarchar && t.Length > 0:
		return fmt.Sprintf("%s(%d)", t.Name, t.Length)
	case t.Base == TypeNumber && t.Precision > 0 && !t.IsInteger():
		return fmt.Sprintf("%s(%d,%d)", t.Name, t.Precision, t.Scale)
	case t.Name != "":
		return t.Name
	default:
		return "UNKNOWN"
	}
}

// IsInteger reports whether t is one of the integer aliases.
func (t Type) IsInteger() bool {
	switch t.Name {
	case "INT", "INTEGER", "BIGINT", "SMALLINT":
		return true
	}
	return false
}

// Equal compares two tags structurally.
func (t Type) Equal(o Type) bool {
	return t.String() == o.String()
}
