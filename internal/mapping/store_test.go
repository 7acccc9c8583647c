package mapping

import (
	"context"
	"errors"
	"testing"

	"silver/internal/schema"
	"silver/internal/storage"
	"silver/internal/storage/storagetest"
)

func newStore(t *testing.T) (*Store, *storage.DB) {
	t.Helper()
	db := storagetest.Open(t)
	reg := schema.NewRegistry(db, nil)
	_, err := reg.CreateTable(context.Background(), "CUSTOMER", []schema.ColumnSpec{
		{Name: "ID", DataType: "VARCHAR", PrimaryKey: true},
		{Name: "NAME", DataType: "VARCHAR", Nullable: true},
		{Name: "AMOUNT", DataType: "NUMBER(10,2)", Nullable: true},
	})
	if err != nil {
		t.Fatalf("CreateTable: %v", err)
	}
	return NewStore(db, reg, nil), db
}

func TestStore_CreateManual(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, _ := newStore(t)

	m, err := s.CreateManual(ctx, ManualInput{
		SourceTable: "raw_data_table", SourceField: "name", TargetTable: "customer", TargetColumn: "name",
		Transformation: "TRIM(UPPER(name))", By: "alice",
	})
	if err != nil {
		t.Fatalf("CreateManual: %v", err)
	}
	if m.Confidence != 1.0 || !m.Approved || m.Method != MethodManual {
		t.Fatalf("mapping = %+v", m)
	}
	if m.ApprovedBy.String != "alice" || !m.ApprovedAt.Valid {
		t.Fatalf("approval = %v %v", m.ApprovedBy, m.ApprovedAt)
	}
	if m.SourceTable != "RAW_DATA_TABLE" || m.TargetTable != "CUSTOMER" || m.TargetColumn != "NAME" {
		t.Fatalf("names = %s %s %s", m.SourceTable, m.TargetTable, m.TargetColumn)
	}

	if _, err := s.CreateManual(ctx, ManualInput{SourceTable: "R", SourceField: "x", TargetTable: "CUSTOMER", TargetColumn: "MISSING"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown column: %v", err)
	}
	if _, err := s.CreateManual(ctx, ManualInput{SourceTable: "R", SourceField: "x", TargetTable: "CUSTOMER", TargetColumn: "ID", Transformation: "UPPER(("}); err == nil {
		t.Fatal("bad transformation accepted")
	}
}

func TestStore_CandidatesAndDuplicates(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, _ := newStore(t)

	if _, err := s.InsertCandidates(ctx, "R", "CUSTOMER", "", []Candidate{{SourceField: "id", TargetColumn: "ID", Method: MethodManual}}); !errors.Is(err, ErrManualConfidence) {
		t.Fatalf("manual candidate: %v", err)
	}

	cands := []Candidate{
		{SourceField: "cust_id", TargetColumn: "ID", Confidence: 0.71, Method: MethodSimilarity},
		{SourceField: "cust_id", TargetColumn: "ID", Confidence: 0.9, Method: MethodSemantic, Rationale: "customer key"},
		{SourceField: "amt", TargetColumn: "AMOUNT", Confidence: 1.4, Method: MethodSimilarity},
	}
	n, err := s.InsertCandidates(ctx, "r", "customer", "tpa1", cands)
	if err != nil || n != 3 {
		t.Fatalf("InsertCandidates = %d, %v", n, err)
	}

	list, err := s.List(ctx, Filter{TargetTable: "CUSTOMER"})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("list = %+v", list)
	}
	for _, m := range list {
		if m.Approved {
			t.Errorf("candidate %d approved", m.ID)
		}
		if want := m.TargetColumn == "ID"; m.Duplicate != want {
			t.Errorf("%s duplicate = %v", m.TargetColumn, m.Duplicate)
		}
		if m.TargetColumn == "AMOUNT" && m.Confidence != 1 {
			t.Errorf("confidence not clamped: %v", m.Confidence)
		}
	}

	sem := MethodSemantic
	got, _ := s.List(ctx, Filter{Method: sem})
	if len(got) != 1 || got[0].Description.String != "customer key" || got[0].TPA.String != "tpa1" {
		t.Fatalf("semantic filter = %+v", got)
	}
}

func TestStore_ApprovalLifecycle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, _ := newStore(t)

	_, err := s.InsertCandidates(ctx, "R", "CUSTOMER", "", []Candidate{
		{SourceField: "cust_name", TargetColumn: "NAME", Confidence: 0.6, Method: MethodSimilarity},
		{SourceField: "full_name", TargetColumn: "NAME", Confidence: 0.9, Method: MethodSemantic},
	})
	if err != nil {
		t.Fatalf("InsertCandidates: %v", err)
	}
	manual, err := s.CreateManual(ctx, ManualInput{SourceTable: "R", SourceField: "nm", TargetTable: "CUSTOMER", TargetColumn: "NAME", By: "bob"})
	if err != nil {
		t.Fatalf("CreateManual: %v", err)
	}

	approved, _ := s.Approved(ctx, "R", "CUSTOMER")
	if len(approved) != 1 {
		t.Fatalf("only the manual mapping is approved, got %d", len(approved))
	}

	all, _ := s.List(ctx, Filter{})
	for _, m := range all {
		if !m.Approved {
			if err := s.Approve(ctx, m.ID, "carol"); err != nil {
				t.Fatalf("Approve: %v", err)
			}
		}
	}
	approved, _ = s.Approved(ctx, "R", "CUSTOMER")
	if len(approved) != 3 {
		t.Fatalf("approved = %d", len(approved))
	}
	if approved[0].ID != manual.ID || approved[1].SourceField != "full_name" || approved[2].SourceField != "cust_name" {
		t.Fatalf("precedence = %s %s %s", approved[0].SourceField, approved[1].SourceField, approved[2].SourceField)
	}

	if err := s.Unapprove(ctx, approved[1].ID); err != nil {
		t.Fatalf("Unapprove: %v", err)
	}
	m, _ := s.Get(ctx, approved[1].ID)
	if m.Approved || m.ApprovedBy.Valid || m.ApprovedAt.Valid {
		t.Fatalf("unapproved mapping = %+v", m)
	}

	if err := s.UpdateTransformation(ctx, m.ID, "UPPER(full_name)"); err != nil {
		t.Fatalf("UpdateTransformation: %v", err)
	}
	if err := s.Delete(ctx, m.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := s.Delete(ctx, m.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second delete: %v", err)
	}
	if err := s.Approve(ctx, 9999, "x"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("approve missing: %v", err)
	}
}

func TestStore_ManualConfidenceInvariant(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, _ := newStore(t)

	for _, f := range []string{"a", "b", "c"} {
		if _, err := s.CreateManual(ctx, ManualInput{SourceTable: "R", SourceField: f, TargetTable: "CUSTOMER", TargetColumn: "NAME"}); err != nil {
			t.Fatalf("CreateManual: %v", err)
		}
	}
	if _, err := s.insertManual(ctx, "R", "CUSTOMER", "", "dave", []Candidate{{SourceField: "d", TargetColumn: "ID", Confidence: 0.2, Method: MethodManual}}); err != nil {
		t.Fatalf("insertManual: %v", err)
	}
	list, _ := s.List(ctx, Filter{Method: MethodManual})
	if len(list) != 4 {
		t.Fatalf("manual mappings = %d", len(list))
	}
	for _, m := range list {
		if m.Confidence != 1.0 || !m.Approved {
			t.Errorf("manual mapping %d: confidence %v approved %v", m.ID, m.Confidence, m.Approved)
		}
	}
}
