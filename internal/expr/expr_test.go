package expr

import (
	"errors"
	"testing"
	"time"

	"silver/pkg/records"
)

func row(kv ...any) *records.Record {
	r := records.New(len(kv) / 2)
	for i := 0; i+1 < len(kv); i += 2 {
		r.Set(kv[i].(string), records.FromAny(kv[i+1]))
	}
	return r
}

func evalText(t *testing.T, src string, r *records.Record) records.Value {
	t.Helper()
	e, err := Parse(src)
	if err != nil {
		t.Fatalf("Parse(%q): %v", src, err)
	}
	v, err := e.Eval(&Env{Row: r, Now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC), User: "tester"})
	if err != nil {
		t.Fatalf("Eval(%q): %v", src, err)
	}
	return v
}

func TestEval_Expressions(t *testing.T) {
	t.Parallel()

	r := row(
		"name", " bob ",
		"first", nil,
		"second", "b",
		"amount", 150,
		"qty", "3",
		"price", "2.50",
		"start", "2024-01-01",
		"end", "2024-03-15",
		"phone", "(555) 123-4567",
	)
	cases := []struct {
		src  string
		want string
	}{
		{"TRIM(UPPER(name))", "BOB"},
		{"upper(trim(name)) || '!'", "BOB!"},
		{"COALESCE(first, second, 'DEFAULT')", "b"},
		{"COALESCE(first, 'DEFAULT')", "DEFAULT"},
		{"qty * price", "7.5"},
		{"CASE WHEN amount > 100 THEN 'HIGH' ELSE 'LOW' END", "HIGH"},
		{"CASE qty WHEN 3 THEN 'three' END", "three"},
		{"DATEDIFF(day, start, \"end\")", "74"},
		{"DATEDIFF('month', start, \"end\")", "2"},
		{"REGEXP_REPLACE(phone, '[^0-9]', '')", "5551234567"},
		{"REGEXP_REPLACE('2024-01-05', '(\\d+)-(\\d+)-(\\d+)', '\\3/\\2/\\1')", "05/01/2024"},
		{"SUBSTR('abcdef', 2, 3)", "bcd"},
		{"INITCAP('hello wORLD')", "Hello World"},
		{"UNACCENT('Jiří Novák')", "Jiri Novak"},
		{"TO_DATE('05/01/2024', 'DD/MM/YYYY')", "2024-01-05"},
		{"DATEADD(day, 10, start)", "2024-01-11"},
		{"qty::INTEGER + 1", "4"},
		{"CAST(price AS NUMBER(5,1))", "2.5"},
		{"ROUND(10 / 3, 2)", "3.33"},
		{"IFF(amount >= 100, 'big', 'small')", "big"},
		{"CURRENT_DATE", "2025-03-01"},
		{"CURRENT_USER()", "tester"},
		{"LENGTH(second) + 1", "2"},
		{"-amount", "-150"},
	}
	for _, tc := range cases {
		if got := evalText(t, tc.src, r).Text(); got != tc.want {
			t.Errorf("%s = %q, want %q", tc.src, got, tc.want)
		}
	}
}

func TestEval_NullPropagation(t *testing.T) {
	t.Parallel()

	r := row("a", nil, "b", 1)
	for _, src := range []string{"a + 1", "UPPER(a)", "a = 1", "a || 'x'", "CONCAT(a, 'x')", "NOT (a = 1)"} {
		if v := evalText(t, src, r); !v.IsNull() {
			t.Errorf("%s = %v, want NULL", src, v)
		}
	}
	// three-valued logic
	if v := evalText(t, "a = 1 OR b = 1", r); v.Text() != "true" {
		t.Errorf("NULL OR TRUE = %v", v)
	}
	if v := evalText(t, "a = 1 AND b = 2", r); v.Text() != "false" {
		t.Errorf("NULL AND FALSE = %v", v)
	}
}

/*
TestParsePredicate_Partial checks that operator-led predicates are applied
to the subject column while full predicates are left alone.
*/
func TestParsePredicate_Partial(t *testing.T) {
	t.Parallel()

	cases := []struct {
		src  string
		val  any
		want bool
	}{
		{"IS NOT NULL", "7", true},
		{"IS NOT NULL", nil, false},
		{"IS NULL", nil, true},
		{">= 0", 5, true},
		{">= 0", -1, false},
		{"BETWEEN 0 AND 120", 121, false},
		{"BETWEEN 0 AND 120", "42", true},
		{"IN ('ACTIVE', 'INACTIVE')", "ACTIVE", true},
		{"NOT IN ('ACTIVE', 'INACTIVE')", "ACTIVE", false},
		{"RLIKE '^[0-9]{10}$'", "5551234567", true},
		{"RLIKE '[0-9]{10}'", "555-123", false},
		{"LIKE 'A%'", "Alpha", true},
		{"NOT LIKE 'A%'", "Beta", true},
		{"LENGTH(COL) = 3", "abc", true},
		{"COL <> 'x'", nil, false},
	}
	for _, tc := range cases {
		e, err := ParsePredicate(tc.src, "COL")
		if err != nil {
			t.Errorf("ParsePredicate(%q): %v", tc.src, err)
			continue
		}
		got, err := e.Test(&Env{Row: row("col", tc.val)})
		if err != nil {
			t.Errorf("%q: %v", tc.src, err)
			continue
		}
		if got != tc.want {
			t.Errorf("%q with %v = %v, want %v", tc.src, tc.val, got, tc.want)
		}
	}
}

func TestParseTransform_BareFunction(t *testing.T) {
	t.Parallel()

	r := row("NAME", "  Alice ", "D", "2024-02-03")
	cases := map[string]struct {
		col, src, want string
	}{
		"bare trim":   {"NAME", "TRIM", "Alice"},
		"bare upper":  {"NAME", "upper", "  ALICE "},
		"bare date":   {"D", "TO_DATE", "2024-02-03"},
		"full expr":   {"NAME", "LOWER(TRIM(NAME))", "alice"},
		"column copy": {"NAME", "D", "2024-02-03"},
	}
	for name, tc := range cases {
		e, err := ParseTransform(tc.src, tc.col)
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		v, err := e.Eval(&Env{Row: r})
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if v.Text() != tc.want {
			t.Errorf("%s: got %q want %q", name, v.Text(), tc.want)
		}
	}
}

func TestParse_Errors(t *testing.T) {
	t.Parallel()

	bad := []string{
		"",
		"UPPER(",
		"'unterminated",
		"a = ",
		"NOSUCHFN(a)",
		"UPPER(a, b)",
		"CASE END",
		"a RLIKE '('",
		"DATEDIFF(fortnight, a, b)",
		"a ! b",
		"x::BLOB",
		"1 2",
	}
	for _, src := range bad {
		_, err := Parse(src)
		var se *SyntaxError
		if !errors.As(err, &se) {
			t.Errorf("Parse(%q): want SyntaxError, got %v", src, err)
		}
	}
}

func TestEval_RuntimeErrors(t *testing.T) {
	t.Parallel()

	r := row("a", "abc", "z", 0)
	for _, src := range []string{"a + 1", "10 / z", "a::DATE", "TO_NUMBER(a)"} {
		e, err := Parse(src)
		if err != nil {
			t.Fatalf("Parse(%q): %v", src, err)
		}
		_, err = e.Eval(&Env{Row: r})
		var ee *EvalError
		if !errors.As(err, &ee) {
			t.Errorf("Eval(%q): want EvalError, got %v", src, err)
		}
	}
}

func TestEval_SubstrLargeLength(t *testing.T) {
	t.Parallel()
	r := row("a", "abc")
	cases := []struct {
		src  string
		want string
	}{
		{"SUBSTR(a, 2, 9223372036854775807)", "bc"},
		{"SUBSTR(a, -2, 9223372036854775807)", "bc"},
		{"SUBSTR(a, 1, 2)", "ab"},
		{"SUBSTR(a, 9223372036854775807, 1)", ""},
	}
	for _, tc := range cases {
		e, err := Parse(tc.src)
		if err != nil {
			t.Fatalf("Parse(%q): %v", tc.src, err)
		}
		v, err := e.Eval(&Env{Row: r})
		if err != nil {
			t.Fatalf("Eval(%q): %v", tc.src, err)
		}
		if got := v.Text(); got != tc.want {
			t.Errorf("Eval(%q) = %q, want %q", tc.src, got, tc.want)
		}
	}
}

func TestExpr_Idents(t *testing.T) {
	t.Parallel()
	e, err := Parse("COALESCE(a, b) || UPPER(a) || CURRENT_DATE")
	if err != nil {
		t.Fatal(err)
	}
	got := e.Idents()
	if len(got) != 2 || got[0] != "A" || got[1] != "B" {
		t.Fatalf("Idents=%v", got)
	}
}
