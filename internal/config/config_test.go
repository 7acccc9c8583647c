package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// -----------------------------------------------------------------------------
// Loading tests
// -----------------------------------------------------------------------------
//
// These tests validate that defaults, config files and environment overrides
// merge into the intended Config value. Files are written to t.TempDir() so
// the tests stay hermetic.

func TestDefault(t *testing.T) {
	t.Parallel()

	c := Default()
	if c.Storage.Kind != "sqlite" {
		t.Errorf("storage.kind=%q", c.Storage.Kind)
	}
	if c.Transform.BatchSize != 10000 {
		t.Errorf("batch_size=%d want 10000", c.Transform.BatchSize)
	}
	if c.Transform.StaleAfter != 2*time.Hour {
		t.Errorf("stale_after=%s want 2h", c.Transform.StaleAfter)
	}
	if c.Mapping.TopN != 3 || c.Mapping.MinConfidence != 0.6 {
		t.Errorf("mapping defaults = %+v", c.Mapping)
	}
	if c.Mapping.DefaultPrompt != "DEFAULT_FIELD_MAPPING" {
		t.Errorf("default prompt=%q", c.Mapping.DefaultPrompt)
	}
	if issues := Validate(c); HasErrors(issues) {
		t.Errorf("defaults should validate, got %+v", issues)
	}
}

func TestLoad_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "silver.yaml")
	const yml = `
storage:
  kind: postgres
  dsn: postgres://u@localhost/db
transform:
  batch_size: 500
  stale_after: 30m
mapping:
  top_n: 1
`
	if err := os.WriteFile(path, []byte(yml), 0o600); err != nil {
		t.Fatal(err)
	}
	envFile := filepath.Join(dir, ".env")
	if err := os.WriteFile(envFile, []byte("SILVER_MAPPING_MIN_CONFIDENCE=0.75\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("SILVER_TRANSFORM_BATCH_SIZE", "250")
	t.Cleanup(func() { os.Unsetenv("SILVER_MAPPING_MIN_CONFIDENCE") })

	c, err := Load(NewViper(), path, envFile)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Storage.Kind != "postgres" {
		t.Errorf("storage.kind=%q", c.Storage.Kind)
	}
	if c.Transform.BatchSize != 250 {
		t.Errorf("env should override file: batch_size=%d", c.Transform.BatchSize)
	}
	if c.Transform.StaleAfter != 30*time.Minute {
		t.Errorf("stale_after=%s", c.Transform.StaleAfter)
	}
	if c.Mapping.TopN != 1 {
		t.Errorf("top_n=%d", c.Mapping.TopN)
	}
	if c.Mapping.MinConfidence != 0.75 {
		t.Errorf(".env value not applied: min_confidence=%v", c.Mapping.MinConfidence)
	}
	if c.Bronze.Table != "RAW_DATA_TABLE" {
		t.Errorf("defaults lost: bronze.table=%q", c.Bronze.Table)
	}
}

func TestLoad_MissingEnvFileIsFine(t *testing.T) {
	t.Parallel()
	if _, err := Load(NewViper(), "", filepath.Join(t.TempDir(), "nope.env")); err != nil {
		t.Fatalf("missing .env should be ignored: %v", err)
	}
}

func TestLoad_MissingConfigFile(t *testing.T) {
	t.Parallel()
	if _, err := Load(NewViper(), filepath.Join(t.TempDir(), "nope.yaml"), ""); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestOptions(t *testing.T) {
	t.Parallel()

	o, err := ParseOptions(`{"strategy":"KEEP_LAST","threshold":0.9,"n":3,"keys":["a","b"],"flag":true}`)
	if err != nil {
		t.Fatal(err)
	}
	if o.String("strategy", "") != "KEEP_LAST" {
		t.Errorf("strategy=%q", o.String("strategy", ""))
	}
	if o.Float("threshold", 1) != 0.9 || o.Int("n", 0) != 3 || !o.Bool("flag", false) {
		t.Errorf("typed getters: %v", o)
	}
	if got := o.StringSlice("keys"); len(got) != 2 || got[1] != "b" {
		t.Errorf("keys=%v", got)
	}
	if o.String("missing", "def") != "def" {
		t.Errorf("default not returned")
	}

	empty, err := ParseOptions("")
	if err != nil || empty == nil || empty.JSON() != "{}" {
		t.Errorf("empty options: %v %v", empty, err)
	}
	if _, err := ParseOptions("{nope"); err == nil {
		t.Errorf("expected JSON error")
	}
}
