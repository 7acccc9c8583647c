package ddl

import (
	"testing"

	"silver/pkg/records"
)

// TestMapType verifies that every declared type maps to a distinct SQLite
// column type and round-trips through NormalizeType.
func TestMapType(t *testing.T) {
	t.Parallel()

	tests := []struct {
		tag  string
		want string
	}{
		{"VARCHAR(100)", "VARCHAR(100)"},
		{"STRING", "TEXT"},
		{"NUMBER(15,2)", "NUMERIC(15,2)"},
		{"NUMBER", "NUMERIC"},
		{"INTEGER", "INTEGER"},
		{"bigint", "INTEGER"},
		{"FLOAT", "REAL"},
		{"BOOLEAN", "BOOLEAN"},
		{"DATE", "DATE"},
		{"TIMESTAMP_NTZ", "TIMESTAMP"},
		{"TIMESTAMP_TZ(9)", "DATETIME"},
		{"VARIANT", "CLOB"},
	}
	for _, tt := range tests {
		t.Run(tt.tag, func(t *testing.T) {
			got := MapType(records.MustParseType(tt.tag))
			if got != tt.want {
				t.Fatalf("MapType(%q) = %q, want %q", tt.tag, got, tt.want)
			}
			if NormalizeType(" "+got+" ") != got {
				t.Fatalf("NormalizeType(%q) changed the canonical form", got)
			}
		})
	}
	if NormalizeType("numeric(15, 2)") != "NUMERIC(15,2)" {
		t.Fatalf("NormalizeType does not strip inner whitespace")
	}
}
