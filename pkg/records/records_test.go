package records

import (
	"errors"
	"testing"
	"time"
)

func TestDecodeJSON_PreservesOrderAndPrecision(t *testing.T) {
	t.Parallel()

	r, err := DecodeJSON([]byte(`{"b": "x", "a": 12.50, "c": null, "d": {"k": 1}}`))
	if err != nil {
		t.Fatalf("DecodeJSON: %v", err)
	}
	got := r.Names()
	want := []string{"b", "a", "c", "d"}
	if len(got) != len(want) {
		t.Fatalf("names=%v want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("names[%d]=%q want %q", i, got[i], want[i])
		}
	}
	if v := r.Value("a"); v.Kind() != KindNumber || v.Decimal().String() != "12.5" {
		t.Errorf("a=%v (%s)", v, v.Kind())
	}
	if !r.Value("c").IsNull() {
		t.Errorf("c should be null")
	}
	if r.Value("d").Kind() != KindJSON {
		t.Errorf("d kind=%s", r.Value("d").Kind())
	}
}

func TestDecodeJSON_RejectsNonObject(t *testing.T) {
	t.Parallel()
	for _, in := range []string{`[1,2]`, `"x"`, `{"a":`, ``} {
		if _, err := DecodeJSON([]byte(in)); err == nil {
			t.Errorf("DecodeJSON(%q) expected error", in)
		}
	}
}

func TestRecord_CaseInsensitiveSet(t *testing.T) {
	t.Parallel()

	r := New(2)
	r.Set("Name", String("a"))
	r.Set("NAME", String("b"))
	if r.Len() != 1 {
		t.Fatalf("len=%d want 1", r.Len())
	}
	if r.Names()[0] != "Name" {
		t.Errorf("first spelling should be kept, got %q", r.Names()[0])
	}
	if got := r.Value("name").Str(); got != "b" {
		t.Errorf("value=%q want b", got)
	}

	c := r.Clone()
	c.Set("name", String("c"))
	if r.Value("name").Str() != "b" {
		t.Errorf("clone mutated original")
	}
}

func TestRecord_MarshalJSON(t *testing.T) {
	t.Parallel()

	r := New(3)
	r.Set("ID", String("7"))
	r.Set("AMT", Int(3))
	r.Set("D", Time(time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC)))
	b, err := r.MarshalJSON()
	if err != nil {
		t.Fatal(err)
	}
	want := `{"ID":"7","AMT":3,"D":"2024-01-05"}`
	if string(b) != want {
		t.Fatalf("got %s want %s", b, want)
	}
}

func TestParseType(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want string
		base Base
		err  bool
	}{
		{"varchar(100)", "VARCHAR(100)", TypeVarchar, false},
		{"NUMBER(15, 2)", "NUMBER(15,2)", TypeNumber, false},
		{"INTEGER", "INTEGER", TypeNumber, false},
		{"TIMESTAMP_NTZ", "TIMESTAMP_NTZ", TypeTimestamp, false},
		{"timestamp_tz(9)", "TIMESTAMP_TZ", TypeTimestampTZ, false},
		{"VARIANT", "VARIANT", TypeVariant, false},
		{"BOOLEAN", "BOOLEAN", TypeBoolean, false},
		{"NUMBER(2,5)", "", 0, true},
		{"VARCHAR(x)", "", 0, true},
		{"DATE(3)", "", 0, true},
		{"BLOB", "", 0, true},
		{"", "", 0, true},
	}
	for _, tc := range cases {
		got, err := ParseType(tc.in)
		if tc.err {
			if err == nil {
				t.Errorf("ParseType(%q) expected error, got %v", tc.in, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseType(%q): %v", tc.in, err)
			continue
		}
		if got.String() != tc.want || got.Base != tc.base {
			t.Errorf("ParseType(%q)=%s/%d want %s/%d", tc.in, got, got.Base, tc.want, tc.base)
		}
	}
}

/*
TestCast covers the conversions MAP relies on: text to date, rounding to
the declared scale, boolean vocabularies, length limits and NULL passthrough.
*/
func TestCast(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   Value
		typ  string
		want string
		err  bool
	}{
		{"date from iso", String("2024-01-05"), "DATE", "2024-01-05", false},
		{"date from timestamp", String("2024-01-05T10:11:12Z"), "DATE", "2024-01-05", false},
		{"number rounds to scale", String("12.345"), "NUMBER(10,2)", "12.35", false},
		{"integer rounds", String("7.6"), "INTEGER", "8", false},
		{"precision overflow", String("12345"), "NUMBER(4,2)", "", true},
		{"bool yes", String("Yes"), "BOOLEAN", "true", false},
		{"bool from number", Int(0), "BOOLEAN", "false", false},
		{"bool garbage", String("maybe"), "BOOLEAN", "", true},
		{"varchar from number", Int(42), "VARCHAR(5)", "42", false},
		{"varchar too long", String("abcdef"), "VARCHAR(5)", "", true},
		{"not a number", String("abc"), "FLOAT", "", true},
		{"not a date", String("yesterday"), "DATE", "", true},
	}
	for _, tc := range cases {
		got, err := Cast(tc.in, MustParseType(tc.typ), nil)
		if tc.err {
			var ce *CastError
			if !errors.As(err, &ce) {
				t.Errorf("%s: expected CastError, got %v (%v)", tc.name, err, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("%s: %v", tc.name, err)
			continue
		}
		if got.Text() != tc.want {
			t.Errorf("%s: got %q want %q", tc.name, got.Text(), tc.want)
		}
	}

	if v, err := Cast(Null, MustParseType("DATE"), nil); err != nil || !v.IsNull() {
		t.Errorf("NULL should pass through, got %v, %v", v, err)
	}
}

func TestCast_VariantParsesJSONText(t *testing.T) {
	t.Parallel()
	v, err := Cast(String(`{"a":1}`), MustParseType("VARIANT"), nil)
	if err != nil {
		t.Fatal(err)
	}
	if v.Kind() != KindJSON {
		t.Fatalf("kind=%s want json", v.Kind())
	}
}
