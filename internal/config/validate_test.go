package config

import (
	"strings"
	"testing"
)

// hasIssue reports whether issues contains an Issue with the given severity,
// path, and a Message containing msgSubstr.
func hasIssue(t *testing.T, issues []Issue, sev IssueSeverity, path, msgSubstr string) bool {
	t.Helper()
	for _, iss := range issues {
		if iss.Severity == sev && iss.Path == path && strings.Contains(iss.Message, msgSubstr) {
			return true
		}
	}
	return false
}

func TestValidate_Findings(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		mutate func(*Config)
		sev    IssueSeverity
		path   string
		msg    string
	}{
		{"empty kind", func(c *Config) { c.Storage.Kind = "" }, SeverityError, "storage.kind", "must not be empty"},
		{"unknown kind", func(c *Config) { c.Storage.Kind = "oracle" }, SeverityError, "storage.kind", "unknown storage kind"},
		{"empty dsn", func(c *Config) { c.Storage.DSN = " " }, SeverityError, "storage.dsn", "must not be empty"},
		{"zero batch", func(c *Config) { c.Transform.BatchSize = 0 }, SeverityError, "transform.batch_size", "must be positive"},
		{"no stale timeout", func(c *Config) { c.Transform.StaleAfter = 0 }, SeverityError, "transform.stale_after", "positive"},
		{"bad confidence", func(c *Config) { c.Mapping.MinConfidence = 1.5 }, SeverityError, "mapping.min_confidence", "[0,1]"},
		{"low llm band", func(c *Config) { c.Mapping.LLMConfidence = 0.5 }, SeverityWarning, "mapping.llm_confidence", "0.7-1.0"},
		{"bad endpoint", func(c *Config) { c.LLM.Endpoint = "not a url" }, SeverityError, "llm.endpoint", "invalid URL"},
		{"pushgateway url", func(c *Config) { c.Metrics.Backend = "pushgateway" }, SeverityError, "metrics.pushgateway_url", "required"},
		{"unknown metrics", func(c *Config) { c.Metrics.Backend = "graphite" }, SeverityError, "metrics.backend", "unknown backend"},
		{"empty bronze table", func(c *Config) { c.Bronze.Table = "" }, SeverityError, "bronze.table", "must not be empty"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			c := Default()
			tc.mutate(&c)
			issues := Validate(c)
			if !hasIssue(t, issues, tc.sev, tc.path, tc.msg) {
				t.Fatalf("expected %s at %s containing %q; got %+v", tc.sev, tc.path, tc.msg, issues)
			}
		})
	}
}

/*
TestValidate_NoEndpointIsOnlyWarning verifies that a deployment without an
LLM endpoint is still valid: only the semantic matcher becomes unavailable.
*/
func TestValidate_NoEndpointIsOnlyWarning(t *testing.T) {
	t.Parallel()
	issues := Validate(Default())
	if !hasIssue(t, issues, SeverityWarning, "llm.endpoint", "unavailable") {
		t.Fatalf("expected llm.endpoint warning, got %+v", issues)
	}
	if HasErrors(issues) {
		t.Fatalf("unexpected errors: %+v", issues)
	}
}

func TestIssue_Error(t *testing.T) {
	t.Parallel()
	got := Issue{SeverityError, "storage.kind", "bad"}.Error()
	if got != "error at storage.kind: bad" {
		t.Fatalf("Error()=%q", got)
	}
}
