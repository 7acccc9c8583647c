package schema

import (
	"strconv"
	"strings"
	"time"
	"unicode"

	"silver/pkg/records"
)

// Infer proposes a column declaration for every field seen in samples. Its
// goal is to keep inference simple and predictable:
//
//   - Column names are the field names upper-cased, with every character
//     that is not a letter, digit or underscore replaced by '_'.
//   - A field's type is the narrowest tag that fits every non-null sample:
//     BOOLEAN, INTEGER, NUMBER(38,s), DATE, TIMESTAMP_NTZ, VARIANT, and
//     VARCHAR otherwise.
//   - Every column is nullable; inference never proposes keys or defaults.
//
// Columns are returned in first-seen field order.
func Infer(samples []*records.Record, layouts []string) []ColumnSpec {
	type acc struct {
		name  string
		kind  inferKind
		scale int32
		seen  bool
	}
	var order []string
	fields := map[string]*acc{}
	for _, r := range samples {
		if r == nil {
			continue
		}
		r.Each(func(name string, v records.Value) {
			col := columnName(name)
			if col == "" {
				return
			}
			a, ok := fields[col]
			if !ok {
				a = &acc{name: col}
				fields[col] = a
				order = append(order, col)
			}
			if v.IsNull() {
				return
			}
			k, scale := classify(v, layouts)
			if !a.seen {
				a.kind, a.scale, a.seen = k, scale, true
				return
			}
			a.kind = widen(a.kind, k)
			a.scale = max(a.scale, scale)
		})
	}

	out := make([]ColumnSpec, 0, len(order))
	for _, col := range order {
		a := fields[col]
		out = append(out, ColumnSpec{Name: col, DataType: a.kind.tag(a.scale), Nullable: true})
	}
	return out
}

type inferKind int

const (
	inferVarchar inferKind = iota
	inferBool
	inferInt
	inferNumber
	inferDate
	inferTimestamp
	inferVariant
)

func (k inferKind) tag(scale int32) string {
	switch k {
	case inferBool:
		return "BOOLEAN"
	case inferInt:
		return "INTEGER"
	case inferNumber:
		return "NUMBER(38," + strconv.Itoa(int(scale)) + ")"
	case inferDate:
		return "DATE"
	case inferTimestamp:
		return "TIMESTAMP_NTZ"
	case inferVariant:
		return "VARIANT"
	default:
		return "VARCHAR"
	}
}

// widen merges two observations of one field.
func widen(a, b inferKind) inferKind {
	switch {
	case a == b:
		return a
	case (a == inferInt && b == inferNumber) || (a == inferNumber && b == inferInt):
		return inferNumber
	case (a == inferDate && b == inferTimestamp) || (a == inferTimestamp && b == inferDate):
		return inferTimestamp
	default:
		return inferVarchar
	}
}

func classify(v records.Value, layouts []string) (inferKind, int32) {
	switch v.Kind() {
	case records.KindBool:
		return inferBool, 0
	case records.KindNumber:
		d := v.Decimal()
		if d.IsInteger() {
			return inferInt, 0
		}
		return inferNumber, min(-d.Exponent(), 18)
	case records.KindTime:
		if isMidnight(v.Time()) {
			return inferDate, 0
		}
		return inferTimestamp, 0
	case records.KindJSON:
		return inferVariant, 0
	}
	s := strings.TrimSpace(v.Str())
	if s == "" {
		return inferVarchar, 0
	}
	if t, err := records.ToTime(records.String(s), layouts); err == nil {
		if isMidnight(t) && len(s) <= len("2006-01-02") {
			return inferDate, 0
		}
		return inferTimestamp, 0
	}
	return inferVarchar, 0
}

func isMidnight(t time.Time) bool {
	h, m, s := t.Clock()
	return h == 0 && m == 0 && s == 0 && t.Nanosecond() == 0
}

func columnName(field string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(field) {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			b.WriteRune(unicode.ToUpper(r))
		default:
			b.WriteByte('_')
		}
	}
	s := b.String()
	if s == "" {
		return ""
	}
	if s[0] >= '0' && s[0] <= '9' {
		s = "_" + s
	}
	if len(s) > 128 {
		s = s[:128]
	}
	return s
}
