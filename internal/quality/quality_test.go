package quality

import (
	"context"
	"errors"
	"testing"

	"silver/internal/rules"
	"silver/internal/storage/storagetest"
	"silver/pkg/records"
)

func rec(kv ...any) *records.Record {
	r := records.New(len(kv) / 2)
	for i := 0; i < len(kv); i += 2 {
		r.Set(kv[i].(string), records.FromAny(kv[i+1]))
	}
	return r
}

func TestRecorder_Measure(t *testing.T) {
	t.Parallel()
	r := NewRecorder(storagetest.Open(t), 0.75, nil)
	got := r.Measure(Input{
		BatchID: "b1",
		Table:   "customer",
		Read:    5,
		Accepted: []*records.Record{
			rec("ID", "1", "NAME", "a"),
			rec("ID", "2", "NAME", nil),
			rec("ID", "3", "NAME", "c"),
			rec("ID", "4", "NAME", nil),
		},
		Columns: []string{"ID", "NAME"},
		Outcomes: []rules.Outcome{
			{RuleID: "NN", Type: rules.DataQuality, Evaluated: 5, Passed: 4, Failed: 1},
			{RuleID: "UP", Type: rules.Standardization, Evaluated: 4, Passed: 4},
		},
	})
	want := []struct {
		typ, name string
		passed    bool
		value     float64
		count     int
	}{
		{"DATA_QUALITY", "NN", false, 0.8, 5},
		{"STANDARDIZATION", "UP", true, 1, 4},
		{TypeAcceptance, "CUSTOMER", false, 0.8, 5},
		{TypeCompleteness, "ID", true, 1, 4},
		{TypeCompleteness, "NAME", false, 0.5, 4},
	}
	if len(got) != len(want) {
		t.Fatalf("got %d metrics: %+v", len(got), got)
	}
	for i, w := range want {
		m := got[i]
		if m.Type != w.typ || m.Name != w.name || m.Passed != w.passed || m.Value != w.value || m.RecordCount != w.count {
			t.Errorf("[%d] = %+v, want %+v", i, m, w)
		}
		if m.BatchID.String != "b1" || m.Table != "CUSTOMER" {
			t.Errorf("[%d] provenance = %v %s", i, m.BatchID, m.Table)
		}
	}
	if !got[0].RuleID.Valid || got[2].RuleID.Valid {
		t.Errorf("rule ids = %v, %v", got[0].RuleID, got[2].RuleID)
	}
}

func TestRecorder_SaveAndList(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := storagetest.Open(t)
	r := NewRecorder(db, 0.95, nil)

	ms := r.Measure(Input{BatchID: "b1", Table: "T", Read: 2, Accepted: []*records.Record{rec("A", 1)}, Columns: []string{"A"}})
	if err := r.Save(ctx, db, ms); err != nil {
		t.Fatalf("Save: %v", err)
	}
	ms = r.Measure(Input{BatchID: "b2", Table: "U", Read: 0})
	if err := r.Save(ctx, db, ms); err != nil {
		t.Fatalf("Save: %v", err)
	}

	all, err := r.List(ctx, Filter{})
	if err != nil || len(all) != 3 {
		t.Fatalf("List = %d, %v", len(all), err)
	}
	failing, _ := r.List(ctx, Filter{Table: "t", Failing: true})
	if len(failing) != 1 || failing[0].Type != TypeAcceptance {
		t.Fatalf("failing = %+v", failing)
	}
	b2, _ := r.List(ctx, Filter{BatchID: "b2"})
	if len(b2) != 1 || !b2[0].Passed || b2[0].Value != 1 {
		t.Fatalf("empty batch = %+v", b2)
	}
}

func TestQuarantineStore(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := storagetest.Open(t)
	s := NewQuarantineStore(db, nil)

	n, err := s.Insert(ctx, db, "batch-1", "raw", "customer", []Entry{
		{Row: rec("ID", nil, "NAME", "BOB"), RuleID: "ID_NOT_NULL", Detail: "rule ID_NOT_NULL failed"},
		{Row: rec("ID", "9"), Detail: "unmapped required column: EMAIL"},
	})
	if err != nil || n != 2 {
		t.Fatalf("Insert = %d, %v", n, err)
	}

	list, err := s.List(ctx, QuarantineFilter{BatchID: "batch-1"})
	if err != nil || len(list) != 2 {
		t.Fatalf("List = %+v, %v", list, err)
	}
	first := list[0]
	if first.RecordData != `{"ID":null,"NAME":"BOB"}` || first.RuleID.String != "ID_NOT_NULL" || first.TargetTable != "CUSTOMER" {
		t.Fatalf("first = %+v", first)
	}
	if list[1].RuleID.Valid {
		t.Fatalf("mapping gap has rule id %v", list[1].RuleID)
	}

	if err := s.Resolve(ctx, first.ID, "ops"); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	open, _ := s.List(ctx, QuarantineFilter{Unresolved: true})
	if len(open) != 1 || open[0].ID != list[1].ID {
		t.Fatalf("unresolved = %+v", open)
	}
	got, _ := s.Get(ctx, first.ID)
	if !got.Resolved || got.ResolvedBy.String != "ops" || !got.ResolvedAt.Valid {
		t.Fatalf("resolved = %+v", got)
	}
	if err := s.Resolve(ctx, 999, "ops"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("resolve missing: %v", err)
	}
	if _, err := s.Get(ctx, 999); !errors.Is(err, ErrNotFound) {
		t.Fatalf("get missing: %v", err)
	}
}
