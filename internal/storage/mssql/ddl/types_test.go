package ddl

import (
	"strings"
	"testing"

	"silver/pkg/records"
)

// TestMapType verifies declared types against the SQL Server names that
// LiveType reassembles from INFORMATION_SCHEMA.
func TestMapType(t *testing.T) {
	t.Parallel()

	ip := func(n int) *int { return &n }
	tests := []struct {
		tag  string
		want string
		live string
	}{
		{"VARCHAR(50)", "nvarchar(50)", LiveType("nvarchar", ip(50), nil, nil)},
		{"STRING", "nvarchar(max)", LiveType("NVARCHAR", ip(-1), nil, nil)},
		{"NUMBER(15,2)", "decimal(15,2)", LiveType("decimal", nil, ip(15), ip(2))},
		{"NUMBER", "decimal(38,10)", LiveType("numeric", nil, ip(38), ip(10))},
		{"INTEGER", "bigint", LiveType("bigint", nil, ip(19), ip(0))},
		{"FLOAT", "float", LiveType("float", nil, ip(53), nil)},
		{"BOOLEAN", "bit", LiveType("bit", nil, nil, nil)},
		{"DATE", "date", LiveType("date", nil, nil, nil)},
		{"TIMESTAMP_NTZ", "datetime2", LiveType("datetime2", nil, nil, nil)},
		{"TIMESTAMP_TZ", "datetimeoffset", LiveType("datetimeoffset", nil, nil, nil)},
	}
	for _, tt := range tests {
		got := MapType(records.MustParseType(tt.tag))
		if got != tt.want {
			t.Errorf("MapType(%q) = %q, want %q", tt.tag, got, tt.want)
		}
		if NormalizeType(tt.live) != NormalizeType(got) {
			t.Errorf("%s: live %q does not match declared %q", tt.tag, tt.live, got)
		}
	}
}

func TestCreateTableSQL(t *testing.T) {
	t.Parallel()

	fqn := QuoteFQN("SILVER", "CUSTOMER")
	got := CreateTableSQL(fqn, []string{"[ID] nvarchar(10) NOT NULL", "PRIMARY KEY ([ID])"})
	for _, want := range []string{
		"IF OBJECT_ID(N'[SILVER].[CUSTOMER]', N'U') IS NULL",
		"CREATE TABLE [SILVER].[CUSTOMER] (",
		"[ID] nvarchar(10) NOT NULL,\n    PRIMARY KEY ([ID])",
		"END;",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("script missing %q:\n%s", want, got)
		}
	}
	if QuoteIdent("weird]id") != "[weird]]id]" {
		t.Errorf("QuoteIdent did not escape ]")
	}
}
