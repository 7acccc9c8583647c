package mapping

import (
	"context"
	"errors"
	"strings"
	"testing"

	"silver/internal/config"
	"silver/internal/llm"
	"silver/internal/schema"
	"silver/internal/storage"
	"silver/internal/storage/storagetest"
)

type staticFields []string

func (f staticFields) SourceFields(context.Context, string) ([]string, error) { return f, nil }

func newService(t *testing.T, fields []string, client llm.Client) (*Service, *storage.DB) {
	t.Helper()
	db := storagetest.Open(t)
	reg := schema.NewRegistry(db, nil)
	_, err := reg.CreateTable(context.Background(), "CUSTOMER", []schema.ColumnSpec{
		{Name: "NAME", DataType: "VARCHAR", Nullable: true},
		{Name: "ID", DataType: "VARCHAR", PrimaryKey: true},
		{Name: "AMOUNT", DataType: "NUMBER(12,2)", Nullable: true},
	})
	if err != nil {
		t.Fatalf("CreateTable: %v", err)
	}
	return &Service{
		Store:     NewStore(db, reg, nil),
		Known:     NewKnownStore(db, nil),
		Templates: NewTemplateStore(db, nil),
		Registry:  reg,
		Fields:    staticFields(fields),
		LLM:       client,
		Config:    config.Mapping{TopN: 3, MinConfidence: 0.6, LLMConfidence: 0.85, DefaultModel: "m", DefaultPrompt: storage.DefaultPromptID},
	}, db
}

func TestService_GenerateSimilarity(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, _ := newService(t, []string{"cust_name", "cust_id", "amt"}, nil)

	out, err := s.Generate(ctx, Request{Method: MethodSimilarity, SourceTable: "RAW", TargetTable: "customer", TopN: 1})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if out.Inserted != 3 || !strings.HasPrefix(out.Message, "Successfully") {
		t.Fatalf("outcome = %+v", out)
	}
	list, _ := s.Store.List(ctx, Filter{SourceTable: "RAW"})
	for _, m := range list {
		if m.Approved || m.Method != MethodSimilarity {
			t.Errorf("mapping %+v", m)
		}
	}

	// Already mapped pairs are skipped on the next run.
	out, err = s.Generate(ctx, Request{Method: MethodSimilarity, SourceTable: "RAW", TargetTable: "CUSTOMER", TopN: 1})
	if err != nil {
		t.Fatalf("second Generate: %v", err)
	}
	for _, c := range out.Candidates {
		if (c.SourceField == "amt" && c.TargetColumn == "AMOUNT") || (c.SourceField == "cust_id" && c.TargetColumn == "ID") {
			t.Errorf("re-proposed %+v", c)
		}
	}
}

func TestService_GenerateMinConfidenceZeroKeepsAll(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, _ := newService(t, []string{"zzzz"}, nil)

	out, err := s.Generate(ctx, Request{Method: MethodSimilarity, SourceTable: "RAW", TargetTable: "CUSTOMER", TopN: 3})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if out.Inserted != 0 {
		t.Fatalf("configured minimum kept %d candidate(s): %+v", out.Inserted, out.Candidates)
	}

	zero := 0.0
	out, err = s.Generate(ctx, Request{Method: MethodSimilarity, SourceTable: "RAW", TargetTable: "CUSTOMER", TopN: 3, MinConfidence: &zero})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if out.Inserted != 3 {
		t.Fatalf("min confidence 0 inserted %d, want every column: %+v", out.Inserted, out.Candidates)
	}
}

func TestService_GenerateSemanticFailureInsertsNothing(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	responses := []string{"sorry, no idea", ""}
	var calls int
	client := llm.Func(func(context.Context, string, string) (string, error) {
		calls++
		if calls == 2 {
			return "", &llm.StatusError{Status: 500, Body: "boom"}
		}
		return responses[0], nil
	})
	s, db := newService(t, []string{"id", "name"}, client)

	out, err := s.Generate(ctx, Request{Method: MethodSemantic, SourceTable: "RAW", TargetTable: "CUSTOMER"})
	var pe *MappingParseError
	if !errors.As(err, &pe) || !strings.HasPrefix(out.Message, "Error:") || out.Inserted != 0 {
		t.Fatalf("parse failure: %+v %v", out, err)
	}
	_, err = s.Generate(ctx, Request{Method: MethodSemantic, SourceTable: "RAW", TargetTable: "CUSTOMER"})
	var se *llm.StatusError
	if !errors.As(err, &se) {
		t.Fatalf("status failure: %v", err)
	}
	if n := storagetest.Count(t, db, db.Meta(storage.TableFieldMappings)); n != 0 {
		t.Fatalf("%d mappings inserted", n)
	}
	if calls != 2 {
		t.Fatalf("calls = %d", calls)
	}
}

func TestService_GenerateSemantic(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	client := llm.Func(func(_ context.Context, model, prompt string) (string, error) {
		if model != "m" || !strings.Contains(prompt, "id, name") || !strings.Contains(prompt, "NAME, ID, AMOUNT") {
			t.Errorf("model=%q prompt=%q", model, prompt)
		}
		return "```json\n[{\"source_field\":\"id\",\"target_column\":\"ID\",\"confidence\":0.97},{\"source_field\":\"name\",\"target_column\":\"NAME\"}]\n```", nil
	})
	s, _ := newService(t, []string{"id", "name"}, client)

	out, err := s.Generate(ctx, Request{Method: MethodSemantic, SourceTable: "RAW", TargetTable: "CUSTOMER"})
	if err != nil || out.Inserted != 2 {
		t.Fatalf("Generate = %+v, %v", out, err)
	}
	list, _ := s.Store.List(ctx, Filter{Method: MethodSemantic})
	conf := map[string]float64{}
	for _, m := range list {
		conf[m.TargetColumn] = m.Confidence
	}
	if conf["ID"] != 0.97 || conf["NAME"] != 0.85 {
		t.Fatalf("confidences = %v", conf)
	}

	if err := s.Templates.SetActive(ctx, "DEFAULT_FIELD_MAPPING", true); err != nil {
		t.Fatalf("SetActive: %v", err)
	}
	if _, err := s.Generate(ctx, Request{Method: MethodSemantic, SourceTable: "RAW", TargetTable: "CUSTOMER", PromptID: "nope"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown prompt: %v", err)
	}
}

func TestService_GenerateManualAndErrors(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, _ := newService(t, []string{"id", "name"}, nil)

	out, err := s.Generate(ctx, Request{Method: MethodManual, SourceTable: "RAW", TargetTable: "CUSTOMER",
		Pairs: map[string]string{"id": "id", "name": "NAME", "ghost": "ID"}, By: "erin"})
	if err != nil || out.Inserted != 2 {
		t.Fatalf("manual = %+v, %v", out, err)
	}
	approved, _ := s.Store.Approved(ctx, "RAW", "CUSTOMER")
	if len(approved) != 2 || approved[0].Confidence != 1.0 || approved[0].ApprovedBy.String != "erin" {
		t.Fatalf("approved = %+v", approved)
	}

	if out, err := s.Generate(ctx, Request{Method: MethodSimilarity, SourceTable: "RAW", TargetTable: "MISSING"}); !errors.Is(err, schema.ErrNotFound) || !strings.HasPrefix(out.Message, "Error:") {
		t.Fatalf("missing target: %+v %v", out, err)
	}
	if _, err := s.Generate(ctx, Request{Method: "BOGUS", SourceTable: "RAW", TargetTable: "CUSTOMER"}); err == nil {
		t.Fatal("unknown method accepted")
	}
}
