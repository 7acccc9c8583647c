package sqlite_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"silver/internal/storage"
	_ "silver/internal/storage/sqlite"
)

func openTemp(t *testing.T) *storage.DB {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "silver.db")
	db, err := storage.Open(context.Background(), storage.Config{Kind: "sqlite", DSN: dsn}, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestBootstrap_Idempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := openTemp(t)

	for i := 0; i < 2; i++ {
		if err := storage.Bootstrap(ctx, db); err != nil {
			t.Fatalf("bootstrap #%d: %v", i+1, err)
		}
	}
	var n int
	if err := db.GetContext(ctx, &n, "SELECT COUNT(*) FROM llm_prompt_templates"); err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("prompt templates = %d, want 1", n)
	}

	cols, err := db.Dialect.Columns(ctx, db, "", storage.TableRules)
	if err != nil {
		t.Fatal(err)
	}
	if len(cols) != 13 || cols[0].Name != "rule_id" || cols[0].Nullable {
		t.Fatalf("rule columns = %+v", cols)
	}
}

func TestInsertDeleteAndUniqueViolation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := openTemp(t)

	fqn := db.Target("customer")
	stmt := db.Dialect.CreateTable(fqn, []string{`"ID" VARCHAR(10) NOT NULL`, `"NAME" TEXT`, `PRIMARY KEY ("ID")`})
	if _, err := db.ExecContext(ctx, stmt); err != nil {
		t.Fatalf("create: %v", err)
	}

	rows := make([][]any, 1200)
	for i := range rows {
		rows[i] = []any{fmt.Sprintf("K%04d", i), "n"}
	}
	n, err := storage.InsertRows(ctx, db, db.Dialect, fqn, []string{"ID", "NAME"}, rows)
	if err != nil || n != 1200 {
		t.Fatalf("insert n=%d err=%v", n, err)
	}

	keys := make([][]any, 450)
	for i := range keys {
		keys[i] = []any{rows[i][0]}
	}
	del, err := storage.DeleteKeys(ctx, db, db.Dialect, fqn, []string{"ID"}, keys)
	if err != nil || del != 450 {
		t.Fatalf("delete n=%d err=%v", del, err)
	}

	_, err = storage.InsertRows(ctx, db, db.Dialect, fqn, []string{"ID", "NAME"}, [][]any{rows[500]})
	if err == nil || !db.Dialect.IsUniqueViolation(err) {
		t.Fatalf("want unique violation, got %v", err)
	}
	if db.Dialect.IsUniqueViolation(errors.New("boom")) {
		t.Fatal("plain error reported as unique violation")
	}

	if _, err := storage.InsertRows(ctx, db, db.Dialect, fqn, []string{"ID", "NAME"}, [][]any{{"x"}}); err == nil {
		t.Fatal("short row accepted")
	}
}

func TestInsertID(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := openTemp(t)
	if err := storage.Bootstrap(ctx, db); err != nil {
		t.Fatal(err)
	}
	q := "INSERT INTO " + db.Meta(storage.TableKnownMappings) +
		" (source_field, target_field, active, created_at) VALUES (?, ?, ?, CURRENT_TIMESTAMP)"
	a, err := db.Dialect.InsertID(ctx, db, q, "CUST", "CUSTOMER", true)
	if err != nil {
		t.Fatal(err)
	}
	b, err := db.Dialect.InsertID(ctx, db, q, "AMT", "AMOUNT", true)
	if err != nil {
		t.Fatal(err)
	}
	if a <= 0 || b != a+1 {
		t.Fatalf("ids %d, %d", a, b)
	}
}

func TestOpen_UnknownKind(t *testing.T) {
	t.Parallel()
	_, err := storage.Open(context.Background(), storage.Config{Kind: "nope"}, nil)
	if err == nil {
		t.Fatal("expected error")
	}
	found := false
	for _, k := range storage.ListKinds() {
		if k == "sqlite" {
			found = true
		}
	}
	if !found {
		t.Fatalf("sqlite not registered: %v", storage.ListKinds())
	}
}
