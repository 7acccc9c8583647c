// Package storagetest opens throwaway, bootstrapped SQLite databases for
// package tests.
package storagetest

import (
	"context"
	"path/filepath"
	"testing"

	"silver/internal/storage"
	_ "silver/internal/storage/sqlite"
)

// Open returns a bootstrapped database in t.TempDir. It is closed when the
// test ends.
func Open(t testing.TB) *storage.DB {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "silver.db")
	db, err := storage.Open(context.Background(), storage.Config{Kind: "sqlite", DSN: dsn}, nil)
	if err != nil {
		t.Fatalf("storagetest: open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := storage.Bootstrap(context.Background(), db); err != nil {
		t.Fatalf("storagetest: bootstrap: %v", err)
	}
	return db
}

// Count returns the number of rows in table (an already-qualified name).
func Count(t testing.TB, db *storage.DB, table string) int {
	t.Helper()
	var n int
	if err := db.GetContext(context.Background(), &n, "SELECT COUNT(*) FROM "+table); err != nil {
		t.Fatalf("storagetest: count %s: %v", table, err)
	}
	return n
}
