// Package mapping holds field mappings from Bronze source fields to Silver
// target columns, and the generators that propose them.
//
// A mapping is usable by the transformation engine only once approved.
// Generators append candidates and never remove earlier ones; duplicate
// (source field, target column) pairs are flagged when listed, never
// rejected on insert.
package mapping

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"silver/internal/schema"
	"silver/internal/storage"
)

// Method records how a mapping was produced.
type Method string

const (
	MethodManual     Method = "MANUAL"
	MethodSimilarity Method = "ML_PATTERN"
	MethodSemantic   Method = "LLM_SEMANTIC"
)

// ParseMethod accepts the stored names plus the short CLI aliases
// manual, ml and llm.
func ParseMethod(s string) (Method, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "MANUAL":
		return MethodManual, nil
	case "ML", "ML_PATTERN", "SIMILARITY":
		return MethodSimilarity, nil
	case "LLM", "LLM_SEMANTIC", "SEMANTIC":
		return MethodSemantic, nil
	}
	return "", fmt.Errorf("mapping: unknown method %q", s)
}

var (
	// ErrNotFound is returned for an unknown mapping id.
	ErrNotFound = storage.ErrNotFound
	// ErrManualConfidence guards the MANUAL confidence invariant.
	ErrManualConfidence = errors.New("mapping: MANUAL mappings have confidence 1.0 and are inserted through CreateManual")
)

// Mapping is one row of field_mappings.
type Mapping struct {
	ID             int64          `db:"id"`
	SourceTable    string         `db:"source_table"`
	SourceField    string         `db:"source_field"`
	TargetTable    string         `db:"target_table"`
	TargetColumn   string         `db:"target_column"`
	Method         Method         `db:"mapping_method"`
	Confidence     float64        `db:"confidence_score"`
	Approved       bool           `db:"approved"`
	ApprovedBy     sql.NullString `db:"approved_by"`
	ApprovedAt     sql.NullTime   `db:"approved_at"`
	Transformation sql.NullString `db:"transformation_logic"`
	Description    sql.NullString `db:"description"`
	TPA            sql.NullString `db:"tpa"`
	CreatedAt      time.Time      `db:"created_at"`
	UpdatedAt      time.Time      `db:"updated_at"`

	// Duplicate is set by Store.List when another mapping shares this one's
	// source table, source field, target table and target column.
	Duplicate bool `db:"-"`
}

// Candidate is a proposed mapping produced by a Generator.
type Candidate struct {
	SourceField  string
	TargetColumn string
	Confidence   float64
	Method       Method
	Rationale    string
}

// Generator proposes mappings from source fields onto a target table.
type Generator interface {
	Propose(ctx context.Context, sourceFields []string, target schema.Table) ([]Candidate, error)
}

// pairKey identifies a (source field, target column) pair case-insensitively.
type pairKey struct{ source, target string }

func keyOf(source, target string) pairKey {
	return pairKey{strings.ToUpper(strings.TrimSpace(source)), strings.ToUpper(strings.TrimSpace(target))}
}
