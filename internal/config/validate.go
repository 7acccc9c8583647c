package config

import (
	"fmt"
	"net/url"
	"strings"
)

// IssueSeverity represents the severity of a configuration issue.
type IssueSeverity string

const (
	// SeverityError indicates a configuration error that should block execution.
	SeverityError IssueSeverity = "error"
	// SeverityWarning indicates a finding worth surfacing that does not block.
	SeverityWarning IssueSeverity = "warning"
)

// Issue describes a single validation/lint finding.
//
// Path is a dotted path into the config (e.g. "storage.kind",
// "transform.batch_size"). Message is human-readable.
type Issue struct {
	Severity IssueSeverity
	Path     string
	Message  string
}

// Error implements the error interface so an Issue can be treated as a single
// error in contexts that expect error.
func (i Issue) Error() string {
	return fmt.Sprintf("%s at %s: %s", i.Severity, i.Path, i.Message)
}

// HasErrors reports whether any issue is SeverityError.
func HasErrors(issues []Issue) bool {
	for _, i := range issues {
		if i.Severity == SeverityError {
			return true
		}
	}
	return false
}

// Validate performs static validation of c. It does not mutate c; callers
// decide whether warnings are fatal.
func Validate(c Config) []Issue {
	var issues []Issue
	issues = append(issues, validateStorage(c.Storage)...)
	issues = append(issues, validateBronze(c.Bronze)...)
	issues = append(issues, validateTransform(c.Transform)...)
	issues = append(issues, validateMapping(c.Mapping)...)
	issues = append(issues, validateLLM(c.LLM)...)
	issues = append(issues, validateMetrics(c.Metrics)...)

	if c.Quality.CompletenessThreshold < 0 || c.Quality.CompletenessThreshold > 1 {
		issues = append(issues, Issue{SeverityError, "quality.completeness_threshold", "must lie in [0,1]"})
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "json", "console":
	default:
		issues = append(issues, Issue{SeverityWarning, "log.format", fmt.Sprintf("unknown format %q; console is used", c.Log.Format)})
	}
	return issues
}

func validateStorage(s Storage) []Issue {
	var issues []Issue
	if strings.TrimSpace(s.Kind) == "" {
		return append(issues, Issue{SeverityError, "storage.kind", "storage.kind must not be empty"})
	}
	known := map[string]struct{}{
		"postgres": {},
		"mysql":    {},
		"mssql":    {},
		"sqlite":   {},
	}
	if _, ok := known[s.Kind]; !ok {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "storage.kind",
			Message:  fmt.Sprintf("unknown storage kind %q; want one of postgres, mysql, mssql, sqlite", s.Kind),
		})
	}
	if strings.TrimSpace(s.DSN) == "" {
		issues = append(issues, Issue{SeverityError, "storage.dsn", "storage.dsn must not be empty"})
	}
	if s.MaxOpenConns < 0 {
		issues = append(issues, Issue{SeverityError, "storage.max_open_conns", "must not be negative"})
	}
	return issues
}

func validateBronze(b Bronze) []Issue {
	var issues []Issue
	for path, v := range map[string]string{
		"bronze.table":        b.Table,
		"bronze.order_column": b.OrderColumn,
		"bronze.data_column":  b.DataColumn,
	} {
		if strings.TrimSpace(v) == "" {
			issues = append(issues, Issue{SeverityError, path, path + " must not be empty"})
		}
	}
	if b.SampleRows <= 0 {
		issues = append(issues, Issue{SeverityWarning, "bronze.sample_rows", "non-positive sample size; source field discovery will see no rows"})
	}
	return issues
}

func validateTransform(t Transform) []Issue {
	var issues []Issue
	if t.BatchSize <= 0 {
		issues = append(issues, Issue{SeverityError, "transform.batch_size", fmt.Sprintf("batch_size=%d; must be positive", t.BatchSize)})
	}
	if t.WriteChunkSize <= 0 {
		issues = append(issues, Issue{SeverityWarning, "transform.write_chunk_size", "non-positive chunk size; rows are written in a single chunk"})
	}
	if t.StaleAfter <= 0 {
		issues = append(issues, Issue{SeverityError, "transform.stale_after", "stale_after must be positive"})
	}
	if t.Parallelism < 0 {
		issues = append(issues, Issue{SeverityError, "transform.parallelism", "parallelism must not be negative"})
	}
	return issues
}

func validateMapping(m Mapping) []Issue {
	var issues []Issue
	if m.TopN <= 0 {
		issues = append(issues, Issue{SeverityError, "mapping.top_n", "top_n must be positive"})
	}
	if m.MinConfidence < 0 || m.MinConfidence > 1 {
		issues = append(issues, Issue{SeverityError, "mapping.min_confidence", "min_confidence must lie in [0,1]"})
	}
	if m.LLMConfidence < 0 || m.LLMConfidence > 1 {
		issues = append(issues, Issue{SeverityError, "mapping.llm_confidence", "llm_confidence must lie in [0,1]"})
	} else if m.LLMConfidence < 0.7 {
		issues = append(issues, Issue{SeverityWarning, "mapping.llm_confidence", "semantic mappings are usually scored in the 0.7-1.0 band"})
	}
	if strings.TrimSpace(m.DefaultPrompt) == "" {
		issues = append(issues, Issue{SeverityWarning, "mapping.default_prompt", "no default prompt template; --prompt is required for semantic mapping"})
	}
	return issues
}

func validateLLM(l LLM) []Issue {
	var issues []Issue
	if l.Endpoint == "" {
		return append(issues, Issue{SeverityWarning, "llm.endpoint", "no endpoint configured; semantic mapping is unavailable"})
	}
	if u, err := url.Parse(l.Endpoint); err != nil || u.Scheme == "" || u.Host == "" {
		issues = append(issues, Issue{SeverityError, "llm.endpoint", fmt.Sprintf("invalid URL %q", l.Endpoint)})
	}
	if l.Timeout <= 0 {
		issues = append(issues, Issue{SeverityWarning, "llm.timeout", "no timeout; a hung call blocks the generator indefinitely"})
	}
	return issues
}

func validateMetrics(m Metrics) []Issue {
	var issues []Issue
	switch m.Backend {
	case "", "none":
	case "pushgateway":
		if m.PushgatewayURL == "" {
			issues = append(issues, Issue{SeverityError, "metrics.pushgateway_url", "required for the pushgateway backend"})
		}
	case "datadog":
		if m.DatadogAddr == "" {
			issues = append(issues, Issue{SeverityError, "metrics.datadog_addr", "required for the datadog backend"})
		}
	default:
		issues = append(issues, Issue{SeverityError, "metrics.backend", fmt.Sprintf("unknown backend %q", m.Backend)})
	}
	return issues
}
