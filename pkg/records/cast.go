package records

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

// DefaultLayouts are tried in order when a string is cast to DATE or
// TIMESTAMP and no explicit layouts are configured.
var DefaultLayouts = []string{
	time.DateOnly,
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	time.DateTime,
	"2006-01-02 15:04:05.999999999",
	"2006/01/02",
	"01/02/2006",
	"02.01.2006",
	"20060102",
}

// CastError reports a value that cannot be represented in the target type.
type CastError struct {
	Value Value
	Type  Type
	Msg   string
}

func (e *CastError) Error() string {
	return fmt.Sprintf("cannot cast %s to %s: %s", e.Value, e.Type, e.Msg)
}

// Cast converts v to t. NULL stays NULL. layouts overrides DefaultLayouts
// for date and timestamp parsing when non-empty.
func Cast(v Value, t Type, layouts []string) (Value, error) {
	if v.IsNull() {
		return Null, nil
	}
	fail := func(msg string) (Value, error) {
		return Null, &CastError{Value: v, Type: t, Msg: msg}
	}
	switch t.Base {
	case TypeVarchar:
		s := v.Text()
		if t.Length > 0 && utf8.RuneCountInString(s) > t.Length {
			return fail(fmt.Sprintf("length %d exceeds %d", utf8.RuneCountInString(s), t.Length))
		}
		return String(s), nil

	case TypeNumber, TypeFloat:
		d, err := ToDecimal(v)
		if err != nil {
			return fail(err.Error())
		}
		if t.Base == TypeNumber && (t.Precision > 0 || t.IsInteger()) {
			d = d.Round(int32(t.Scale))
			if t.Precision > 0 {
				intDigits := len(d.Truncate(0).Abs().String())
				if d.Truncate(0).IsZero() {
					intDigits = 0
				}
				if intDigits > t.Precision-t.Scale {
					return fail(fmt.Sprintf("exceeds precision %d", t.Precision))
				}
			}
		}
		return Number(d), nil

	case TypeBoolean:
		b, err := ToBool(v)
		if err != nil {
			return fail(err.Error())
		}
		return Bool(b), nil

	case TypeDate:
		tm, err := ToTime(v, layouts)
		if err != nil {
			return fail(err.Error())
		}
		y, m, d := tm.Date()
		return Time(time.Date(y, m, d, 0, 0, 0, 0, time.UTC)), nil

	case TypeTimestamp:
		tm, err := ToTime(v, layouts)
		if err != nil {
			return fail(err.Error())
		}
		y, mo, d := tm.Date()
		h, mi, s := tm.Clock()
		return Time(time.Date(y, mo, d, h, mi, s, tm.Nanosecond(), time.UTC)), nil

	case TypeTimestampTZ:
		tm, err := ToTime(v, layouts)
		if err != nil {
			return fail(err.Error())
		}
		return Time(tm), nil

	case TypeVariant:
		if v.Kind() == KindString {
			s := strings.TrimSpace(v.Str())
			if strings.HasPrefix(s, "{") || strings.HasPrefix(s, "[") {
				var x any
				if err := json.Unmarshal([]byte(s), &x); err == nil {
					return JSON(x), nil
				}
			}
		}
		return v, nil

	default:
		return fail("unknown target type")
	}
}

// ToDecimal coerces strings, booleans and numbers to a decimal.
func ToDecimal(v Value) (decimal.Decimal, error) {
	switch v.Kind() {
	case KindNumber:
		return v.Decimal(), nil
	case KindBool:
		if v.Bool() {
			return decimal.NewFromInt(1), nil
		}
		return decimal.Zero, nil
	case KindString:
		s := strings.TrimSpace(v.Str())
		if s == "" {
			return decimal.Zero, fmt.Errorf("empty string is not a number")
		}
		d, err := decimal.NewFromString(s)
		if err != nil {
			return decimal.Zero, fmt.Errorf("%q is not a number", s)
		}
		return d, nil
	default:
		return decimal.Zero, fmt.Errorf("%s is not numeric", v.Kind())
	}
}

// ToBool resolves booleans from the common textual vocabularies.
func ToBool(v Value) (bool, error) {
	switch v.Kind() {
	case KindBool:
		return v.Bool(), nil
	case KindNumber:
		return !v.Decimal().IsZero(), nil
	case KindString:
		switch strings.ToLower(strings.TrimSpace(v.Str())) {
		case "1", "t", "true", "yes", "y", "on":
			return true, nil
		case "0", "f", "false", "no", "n", "off":
			return false, nil
		}
		return false, fmt.Errorf("%q is not a boolean", v.Str())
	default:
		return false, fmt.Errorf("%s is not boolean", v.Kind())
	}
}

// ToTime parses strings with the given layouts (DefaultLayouts when empty).
// Integral numbers are read as Unix seconds.
func ToTime(v Value, layouts []string) (time.Time, error) {
	switch v.Kind() {
	case KindTime:
		return v.Time(), nil
	case KindNumber:
		d := v.Decimal()
		if !d.Equal(d.Truncate(0)) {
			return time.Time{}, fmt.Errorf("%s is not a Unix timestamp", d)
		}
		return time.Unix(d.IntPart(), 0).UTC(), nil
	case KindString:
		s := strings.TrimSpace(v.Str())
		if len(layouts) == 0 {
			layouts = DefaultLayouts
		}
		for _, l := range layouts {
			if t, err := time.Parse(l, s); err == nil {
				return t, nil
			}
		}
		return time.Time{}, fmt.Errorf("%q matches no date layout", s)
	default:
		return time.Time{}, fmt.Errorf("%s is not a date", v.Kind())
	}
}
