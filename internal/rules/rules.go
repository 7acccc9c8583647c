// Package rules stores transformation rules and evaluates them over mapped
// rows.
//
// Rules run in two tiers. Every DATA_QUALITY, BUSINESS_LOGIC and
// STANDARDIZATION rule runs first, by priority then creation time; every
// DEDUPLICATION rule runs afterwards in the same order, so dedup keys see
// final column values. A violation is handled by the rule's error action:
// LOG counts it and keeps the row, REJECT and QUARANTINE remove the row.
package rules

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"silver/internal/storage"
)

// Type is a rule kind.
type Type string

const (
	DataQuality     Type = "DATA_QUALITY"
	BusinessLogic   Type = "BUSINESS_LOGIC"
	Standardization Type = "STANDARDIZATION"
	Deduplication   Type = "DEDUPLICATION"
)

// ParseType accepts the stored names case-insensitively, plus the short
// aliases dq, bl, std and dedup.
func ParseType(s string) (Type, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DATA_QUALITY", "DQ":
		return DataQuality, nil
	case "BUSINESS_LOGIC", "BL":
		return BusinessLogic, nil
	case "STANDARDIZATION", "STD":
		return Standardization, nil
	case "DEDUPLICATION", "DEDUP":
		return Deduplication, nil
	}
	return "", fmt.Errorf("rules: unknown rule type %q", s)
}

// Action is what happens to a row that violates a rule.
type Action string

const (
	ActionLog        Action = "LOG"
	ActionReject     Action = "REJECT"
	ActionQuarantine Action = "QUARANTINE"
)

// ParseAction accepts LOG, REJECT and QUARANTINE case-insensitively.
func ParseAction(s string) (Action, error) {
	switch a := Action(strings.ToUpper(strings.TrimSpace(s))); a {
	case ActionLog, ActionReject, ActionQuarantine:
		return a, nil
	}
	return "", fmt.Errorf("rules: unknown error action %q", s)
}

// Removes reports whether the action drops the row from the accepted set.
func (a Action) Removes() bool { return a == ActionReject || a == ActionQuarantine }

// Dedup strategies, set through the rule's "strategy" parameter.
const (
	KeepFirst     = "KEEP_FIRST"
	KeepLast      = "KEEP_LAST"
	QuarantineAll = "QUARANTINE_ALL"
)

// Priority bounds.
const (
	MinPriority     = 1
	MaxPriority     = 1000
	DefaultPriority = 100
)

var (
	// ErrNotFound is returned for an unknown rule id.
	ErrNotFound = storage.ErrNotFound
	// ErrRuleExists reports a rule id collision.
	ErrRuleExists = errors.New("rules: rule id already exists")
)

// ConfigError reports a rule that cannot be compiled.
type ConfigError struct {
	RuleID string
	Err    error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("rules: rule %s: %v", e.RuleID, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// Rule is one row of transformation_rules. A NULL target table applies the
// rule to every table; a NULL target column makes it row-level.
type Rule struct {
	ID           string         `db:"rule_id"`
	Name         string         `db:"rule_name"`
	Type         Type           `db:"rule_type"`
	TargetTable  sql.NullString `db:"target_table"`
	TargetColumn sql.NullString `db:"target_column"`
	Logic        string         `db:"rule_logic"`
	Parameters   sql.NullString `db:"rule_parameters"`
	Priority     int            `db:"priority"`
	Action       Action         `db:"error_action"`
	Active       bool           `db:"active"`
	Description  sql.NullString `db:"description"`
	CreatedAt    time.Time      `db:"created_at"`
	UpdatedAt    time.Time      `db:"updated_at"`
}

// Column returns the target column, or "" for a row-level rule.
func (r Rule) Column() string { return strings.ToUpper(r.TargetColumn.String) }

// Scope returns "TABLE.COLUMN", "TABLE" or "*" for display.
func (r Rule) Scope() string {
	t := "*"
	if r.TargetTable.Valid {
		t = r.TargetTable.String
	}
	if c := r.Column(); c != "" {
		return t + "." + c
	}
	return t
}
