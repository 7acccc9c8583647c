package rules

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"silver/pkg/records"
)

func rule(id string, typ Type, column, logic string, prio int, action Action) Rule {
	return Rule{
		ID:           id,
		Type:         typ,
		TargetTable:  sql.NullString{String: "CUSTOMER", Valid: true},
		TargetColumn: sql.NullString{String: column, Valid: column != ""},
		Logic:        logic,
		Priority:     prio,
		Action:       action,
		Active:       true,
	}
}

func row(kv ...any) *records.Record {
	r := records.New(len(kv) / 2)
	for i := 0; i < len(kv); i += 2 {
		r.Set(kv[i].(string), records.FromAny(kv[i+1]))
	}
	return r
}

func mustCompile(t *testing.T, rs ...Rule) *Program {
	t.Helper()
	p, err := Compile(rs)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	return p
}

func TestApply_LowerPriorityRunsFirst(t *testing.T) {
	t.Parallel()
	p := mustCompile(t,
		rule("R1", DataQuality, "AMOUNT", "> 50", 10, ActionReject),
		rule("R2", BusinessLogic, "AMOUNT", "AMOUNT * 10", 5, ActionReject),
	)
	res, err := p.Apply(context.Background(), []*records.Record{row("AMOUNT", 7)}, Scope{Table: "CUSTOMER"})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if len(res.Accepted) != 1 || len(res.Rejected) != 0 {
		t.Fatalf("accepted=%d rejected=%+v", len(res.Accepted), res.Rejected)
	}
	if got := res.Accepted[0].Value("AMOUNT").Text(); got != "70" {
		t.Fatalf("AMOUNT = %s", got)
	}
	if res.Outcomes[0].RuleID != "R2" || res.Outcomes[1].RuleID != "R1" {
		t.Fatalf("order = %s, %s", res.Outcomes[0].RuleID, res.Outcomes[1].RuleID)
	}
}

func TestApply_DedupSeesFinalValues(t *testing.T) {
	t.Parallel()
	dedup := rule("D1", Deduplication, "", "NAME", 1, ActionQuarantine)
	p := mustCompile(t,
		dedup,
		rule("S1", Standardization, "NAME", "UPPER", 50, ActionLog),
		rule("S2", Standardization, "NAME", "TRIM", 60, ActionLog),
	)
	rows := []*records.Record{row("ID", "1", "NAME", "bob"), row("ID", "2", "NAME", " BOB "), row("ID", "3", "NAME", "amy")}
	res, err := p.Apply(context.Background(), rows, Scope{Table: "CUSTOMER"})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if len(res.Accepted) != 2 || len(res.Rejected) != 1 {
		t.Fatalf("accepted=%d rejected=%d", len(res.Accepted), len(res.Rejected))
	}
	rej := res.Rejected[0]
	if rej.RuleID != "D1" || rej.Index != 1 || rej.Action != ActionQuarantine || rej.Row.Value("NAME").Str() != "BOB" {
		t.Fatalf("rejection = %+v", rej)
	}
}

func TestApply_DedupStrategies(t *testing.T) {
	t.Parallel()
	rows := func() []*records.Record {
		return []*records.Record{
			row("K", "a", "V", 1), row("K", "b", "V", 2), row("K", "a", "V", 3),
			row("K", nil, "V", 4), row("K", nil, "V", 5),
		}
	}
	tests := []struct {
		strategy string
		kept     []string
	}{
		{KeepFirst, []string{"1", "2", "4", "5"}},
		{KeepLast, []string{"2", "3", "4", "5"}},
		{QuarantineAll, []string{"2", "4", "5"}},
	}
	for _, tc := range tests {
		t.Run(tc.strategy, func(t *testing.T) {
			r := rule("D", Deduplication, "", "k", 100, ActionReject)
			r.Parameters = sql.NullString{String: `{"strategy":"` + tc.strategy + `"}`, Valid: true}
			res, err := mustCompile(t, r).Apply(context.Background(), rows(), Scope{})
			if err != nil {
				t.Fatalf("Apply: %v", err)
			}
			var kept []string
			for _, a := range res.Accepted {
				kept = append(kept, a.Value("V").Text())
			}
			if len(kept) != len(tc.kept) {
				t.Fatalf("kept %v, want %v", kept, tc.kept)
			}
			for i := range kept {
				if kept[i] != tc.kept[i] {
					t.Fatalf("kept %v, want %v", kept, tc.kept)
				}
			}
		})
	}
}

func TestApply_Actions(t *testing.T) {
	t.Parallel()
	p := mustCompile(t,
		rule("LOGGED", DataQuality, "EMAIL", "LIKE '%@%'", 1, ActionLog),
		rule("NOTNULL", DataQuality, "ID", "IS NOT NULL", 2, ActionReject),
		rule("BADNUM", BusinessLogic, "AMOUNT", "TO_NUMBER(RAW_AMOUNT)", 3, ActionQuarantine),
	)
	rows := []*records.Record{
		row("ID", "1", "EMAIL", "nope", "RAW_AMOUNT", "12.5", "AMOUNT", nil),
		row("ID", nil, "EMAIL", "a@b", "RAW_AMOUNT", "1", "AMOUNT", nil),
		row("ID", "3", "EMAIL", "c@d", "RAW_AMOUNT", "abc", "AMOUNT", nil),
	}
	types := map[string]records.Type{"AMOUNT": records.MustParseType("NUMBER(10,2)")}
	res, err := p.Apply(context.Background(), rows, Scope{Table: "customer", Types: types})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if len(res.Accepted) != 1 || res.Accepted[0].Value("AMOUNT").Text() != "12.5" {
		t.Fatalf("accepted = %v", res.Accepted)
	}
	if len(res.Rejected) != 2 || res.Rejected[0].RuleID != "NOTNULL" || res.Rejected[1].RuleID != "BADNUM" {
		t.Fatalf("rejected = %+v", res.Rejected)
	}
	if res.Violations != 3 {
		t.Fatalf("violations = %d", res.Violations)
	}
	logged := res.Outcomes[0]
	if logged.Evaluated != 3 || logged.Failed != 1 || logged.Logged != 1 || logged.Passed != 2 {
		t.Fatalf("LOG outcome = %+v", logged)
	}
	bad := res.Outcomes[2]
	if bad.Evaluated != 2 || bad.Errored != 1 {
		t.Fatalf("BADNUM outcome = %+v", bad)
	}
}

func TestApply_ScopeAndRowLevelStandardization(t *testing.T) {
	t.Parallel()
	global := rule("TRIMALL", Standardization, "", "TRIM", 1, ActionLog)
	global.TargetTable = sql.NullString{}
	other := rule("OTHER", DataQuality, "ID", "IS NULL", 1, ActionReject)
	other.TargetTable = sql.NullString{String: "ORDERS", Valid: true}

	res, err := mustCompile(t, global, other).Apply(context.Background(),
		[]*records.Record{row("ID", " 7 ", "N", 3, "NAME", " x")}, Scope{Table: "CUSTOMER", Now: time.Now()})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if len(res.Outcomes) != 1 || len(res.Accepted) != 1 {
		t.Fatalf("outcomes = %+v", res.Outcomes)
	}
	got := res.Accepted[0]
	if got.Value("ID").Str() != "7" || got.Value("NAME").Str() != "x" || got.Value("N").Text() != "3" {
		t.Fatalf("row = %v %v %v", got.Value("ID"), got.Value("NAME"), got.Value("N"))
	}
}

func TestCompile_ConfigErrors(t *testing.T) {
	t.Parallel()
	withParams := func(r Rule, p string) Rule {
		r.Parameters = sql.NullString{String: p, Valid: true}
		return r
	}
	tests := []struct {
		name string
		rule Rule
	}{
		{"bad predicate", rule("A", DataQuality, "ID", "IS NOT", 1, ActionLog)},
		{"empty logic", rule("B", DataQuality, "ID", " ", 1, ActionLog)},
		{"table-level business logic", rule("C", BusinessLogic, "", "1 + 1", 1, ActionLog)},
		{"unknown type", rule("D", Type("MAGIC"), "ID", "UPPER", 1, ActionLog)},
		{"unknown action", rule("E", DataQuality, "ID", "IS NULL", 1, Action("EXPLODE"))},
		{"bad strategy", withParams(rule("F", Deduplication, "", "ID", 1, ActionLog), `{"strategy":"KEEP_ALL"}`)},
		{"bad params json", withParams(rule("G", Deduplication, "", "ID", 1, ActionLog), `{strategy`)},
		{"no dedup keys", rule("H", Deduplication, "", " , ", 1, ActionLog)},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Compile([]Rule{tc.rule})
			var ce *ConfigError
			if !errors.As(err, &ce) || ce.RuleID != tc.rule.ID {
				t.Fatalf("err = %v, want ConfigError for %s", err, tc.rule.ID)
			}
		})
	}
}

func TestCompile_TieBreak(t *testing.T) {
	t.Parallel()
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	a := rule("B_RULE", DataQuality, "ID", "IS NOT NULL", 5, ActionLog)
	a.CreatedAt = t0.Add(time.Minute)
	b := rule("A_RULE", DataQuality, "ID", "IS NOT NULL", 5, ActionLog)
	b.CreatedAt = t0.Add(time.Minute)
	c := rule("C_RULE", DataQuality, "ID", "IS NOT NULL", 5, ActionLog)
	c.CreatedAt = t0
	d := rule("D_RULE", Deduplication, "", "ID", 1, ActionLog)

	got := mustCompile(t, a, b, c, d).Rules()
	want := []string{"C_RULE", "A_RULE", "B_RULE", "D_RULE"}
	for i, r := range got {
		if r.ID != want[i] {
			t.Fatalf("order[%d] = %s, want %s", i, r.ID, want[i])
		}
	}
}

func TestApply_ExpressionFailureStaysOnItsRow(t *testing.T) {
	t.Parallel()
	p := mustCompile(t,
		rule("B1", BusinessLogic, "NAME", "SUBSTR(NAME, 2, 9223372036854775807)", 10, ActionReject),
		rule("B2", BusinessLogic, "RATIO", "10 / DIV", 20, ActionReject),
	)
	rows := []*records.Record{
		row("NAME", "ann", "DIV", 2),
		row("NAME", "bob", "DIV", 0),
	}
	res, err := p.Apply(context.Background(), rows, Scope{Table: "CUSTOMER"})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if len(res.Accepted) != 1 || len(res.Rejected) != 1 {
		t.Fatalf("accepted=%d rejected=%+v", len(res.Accepted), res.Rejected)
	}
	if got := res.Accepted[0].Value("NAME").Text(); got != "nn" {
		t.Fatalf("NAME = %q, want nn", got)
	}
	if rej := res.Rejected[0]; rej.Index != 1 || rej.RuleID != "B2" {
		t.Fatalf("rejection = %+v", rej)
	}
	if o := res.Outcomes[1]; o.RuleID != "B2" || o.Errored != 1 {
		t.Fatalf("B2 outcome = %+v", o)
	}
}
