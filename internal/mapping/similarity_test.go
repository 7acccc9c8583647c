package mapping

import (
	"context"
	"testing"

	"silver/internal/schema"
)

func table(name string, cols ...string) schema.Table {
	t := schema.Table{Name: name}
	for i, c := range cols {
		t.Columns = append(t.Columns, schema.Column{Table: name, Name: c, DataType: "VARCHAR", Nullable: true, Ordinal: i + 1, Active: true})
	}
	return t
}

func TestSimilarity_CustomerScenario(t *testing.T) {
	t.Parallel()
	g := Similarity{TopN: 1, MinConfidence: 0.6}
	got, err := g.Propose(context.Background(), []string{"cust_name", "cust_id", "amt"}, table("CUSTOMER", "NAME", "ID", "AMOUNT"))
	if err != nil {
		t.Fatalf("Propose: %v", err)
	}
	want := map[string]string{"cust_name": "NAME", "cust_id": "ID", "amt": "AMOUNT"}
	if len(got) != 3 {
		t.Fatalf("got %d candidates: %+v", len(got), got)
	}
	for _, c := range got {
		if want[c.SourceField] != c.TargetColumn {
			t.Errorf("%s -> %s, want %s", c.SourceField, c.TargetColumn, want[c.SourceField])
		}
		if c.Method != MethodSimilarity || c.Confidence < 0.6 || c.Confidence > 1 {
			t.Errorf("candidate %+v", c)
		}
	}
}

func TestScore(t *testing.T) {
	t.Parallel()
	tests := []struct {
		field, col string
		min, max   float64
	}{
		{"amt", "AMOUNT", 1, 1},
		{"NAME", "name", 1, 1},
		{"signupDate", "SIGNUP_DATE", 1, 1},
		{"Prénom", "PRENOM", 1, 1},
		{"cust_name", "NAME", 0.7, 0.8},
		{"cust_id", "ID", 0.7, 0.75},
		{"zip", "EMAIL", 0, 0.3},
		{"", "NAME", 0, 0},
	}
	for _, tc := range tests {
		got := Score(tc.field, tc.col)
		if got < tc.min || got > tc.max {
			t.Errorf("Score(%q, %q) = %v, want in [%v, %v]", tc.field, tc.col, got, tc.min, tc.max)
		}
	}
}

func TestSimilarity_KnownSkipAndTies(t *testing.T) {
	t.Parallel()
	target := table("T", "ZETA", "ALPHA", "BETA")

	g := Similarity{TopN: 3, MinConfidence: 0.9, Known: map[pairKey]bool{keyOf("xq", "beta"): true}}
	got, _ := g.Propose(context.Background(), []string{"xq"}, target)
	if len(got) != 1 || got[0].TargetColumn != "BETA" || got[0].Confidence != KnownBoost {
		t.Fatalf("known boost: %+v", got)
	}

	g = Similarity{TopN: 3, MinConfidence: 0, Skip: map[pairKey]bool{keyOf("xq", "ZETA"): true}}
	got, _ = g.Propose(context.Background(), []string{"xq"}, target)
	if len(got) != 2 {
		t.Fatalf("skip: %+v", got)
	}
	// Equal scores keep column order.
	if got[0].Confidence == got[1].Confidence && got[0].TargetColumn > got[1].TargetColumn {
		t.Fatalf("tie order: %+v", got)
	}
}

func TestLevenshtein(t *testing.T) {
	t.Parallel()
	tests := []struct {
		a, b string
		want int
	}{
		{"", "", 0},
		{"kitten", "sitting", 3},
		{"abc", "", 3},
		{"flaw", "lawn", 2},
	}
	for _, tc := range tests {
		if got := levenshtein([]rune(tc.a), []rune(tc.b)); got != tc.want {
			t.Errorf("levenshtein(%q, %q) = %d, want %d", tc.a, tc.b, got, tc.want)
		}
	}
}
