// Package records defines the row model shared by every Silver stage: a
// tagged Value (null, string, number, boolean, date/time or semi-structured
// JSON) and an ordered Record mapping column names to Values.
//
// Numbers are carried as exact decimals so NUMBER(p,s) columns never pass
// through binary floating point on their way from a raw JSON document to the
// target table.
package records

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// Kind tags the dynamic type of a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindString
	KindNumber
	KindBool
	KindTime
	KindJSON
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "boolean"
	case KindTime:
		return "time"
	case KindJSON:
		return "json"
	default:
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// Value is an immutable tagged scalar. The zero Value is SQL NULL.
type Value struct {
	kind Kind
	s    string
	n    decimal.Decimal
	b    bool
	t    time.Time
	j    any
}

// Null is the NULL value.
var Null = Value{}

func String(s string) Value { return Value{kind: KindString, s: s} }
func Number(d decimal.Decimal) Value { return Value{kind: KindNumber, n: d} }
func Int(i int64) Value { return Value{kind: KindNumber, n: decimal.NewFromInt(i)} }
func Float(f float64) Value { return Value{kind: KindNumber, n: decimal.NewFromFloat(f)} }
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }
func Time(t time.Time) Value { return Value{kind: KindTime, t: t} }
func JSON(v any) Value { return Value{kind: KindJSON, j: v} }
func (v Value) Kind() Kind { return v.kind }
func (v Value) IsNull() bool { return v.kind == KindNull }
func (v Value) Decimal() decimal.Decimal { return v.n }
func (v Value) Bool() bool { return v.b }
func (v Value) Time() time.Time { return v.t }
func (v Value) JSON() any { return v.j }

// Str returns the raw string payload; it is empty unless Kind is KindString.
func (v Value) Str() string { return v.s }

// Text renders any value as text. Dates without a clock component render as
// YYYY-MM-DD; other times use RFC 3339 with fractional seconds. NULL renders
// as the empty string, so callers that care must check IsNull first.
func (v Value) Text() string {
	switch v.kind {
	case KindString:
		return v.s
	case KindNumber:
		return v.n.String()
	case KindBool:
		if v.b {
			return "true"
		}
		return "false"
	case KindTime:
		return FormatTime(v.t)
	case KindJSON:
		b, err := json.Marshal(v.j)
		if err != nil {
			return fmt.Sprint(v.j)
		}
		return string(b)
	default:
		return ""
	}
}

// FormatTime renders t as a date when it has no clock component.
func FormatTime(t time.Time) string {
	if isDate(t) {
		return t.Format(time.DateOnly)
	}
	return t.Format(time.RFC3339Nano)
}

func isDate(t time.Time) bool {
	h, m, s := t.Clock()
	return h == 0 && m == 0 && s == 0 && t.Nanosecond() == 0 && t.Location() == time.UTC
}

// Native converts v to a plain Go value suitable for encoding/json or a
// database/sql argument. Numbers become decimal.Decimal (a driver.Valuer).
func (v Value) Native() any {
	switch v.kind {
	case KindString:
		return v.s
	case KindNumber:
		return v.n
	case KindBool:
		return v.b
	case KindTime:
		return v.t
	case KindJSON:
		return v.j
	default:
		return nil
	}
}

// Equal reports whether two values have the same kind and payload.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindString:
		return v.s == o.s
	case KindNumber:
		return v.n.Equal(o.n)
	case KindBool:
		return v.b == o.b
	case KindTime:
		return v.t.Equal(o.t)
	default:
		return v.Text() == o.Text()
	}
}

func (v Value) String() string {
	if v.kind == KindNull {
		return "NULL"
	}
	if v.kind == KindString {
		return strconv.Quote(v.s)
	}
	return v.Text()
}

// MarshalJSON encodes numbers as JSON numbers and times as strings.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNull:
		return []byte("null"), nil
	case KindNumber:
		return []byte(v.n.String()), nil
	case KindTime:
		return json.Marshal(FormatTime(v.t))
	default:
		return json.Marshal(v.Native())
	}
}

// FromAny wraps a decoded Go value. json.Number, float64 and the integer
// types become numbers; maps and slices become JSON values.
func FromAny(x any) Value {
	switch t := x.(type) {
	case nil:
		return Null
	case Value:
		return t
	case string:
		return String(t)
	case []byte:
		return String(string(t))
	case bool:
		return Bool(t)
	case json.Number:
		d, err := decimal.NewFromString(t.String())
		if err != nil {
			return String(t.String())
		}
		return Number(d)
	case decimal.Decimal:
		return Number(t)
	case float64:
		return Float(t)
	case float32:
		return Float(float64(t))
	case int:
		return Int(int64(t))
	case int32:
		return Int(int64(t))
	case int64:
		return Int(t)
	case time.Time:
		return Time(t)
	case map[string]any, []any:
		return JSON(t)
	default:
		return String(fmt.Sprint(t))
	}
}
