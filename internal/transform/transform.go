// Package transform is the transformation engine. One run moves a bounded
// window of Bronze rows past the (source, target) watermark through the
// approved mappings and the rules, writes the accepted rows to the target
// table and records the batch:
//
//	INIT -> READ -> MAP -> RULES -> WRITE -> WATERMARK -> DONE
//
// Any step can fail the batch. WRITE, the quarantine, the quality metrics,
// the watermark advance and the batch close commit in one transaction, so a
// FAILED batch leaves the watermark where it was and the window is read
// again by the next run.
package transform

import (
	"errors"
	"fmt"
	"time"
)

// Status of a batch.
type Status string

const (
	StatusRunning Status = "RUNNING"
	StatusSuccess Status = "SUCCESS"
	StatusFailed  Status = "FAILED"
)

// ErrRunInProgress is returned when another run holds the pair's lock.
var ErrRunInProgress = errors.New("transform: a run is already in progress for this pair")

// errDryRun rolls back the write transaction of a dry run.
var errDryRun = errors.New("transform: dry run")

// ConfigError reports a problem found before the run touched any state.
type ConfigError struct {
	Source, Target string
	Err            error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("transform: %s -> %s: configuration: %v", e.Source, e.Target, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// MappingGapError is a row-level failure of MAP: an unmapped required
// column, a failed cast or an undecodable source row. It never escapes a
// run; the row is rejected with the error text as its detail.
type MappingGapError struct {
	Column string
	Reason string
	Err    error
}

func (e *MappingGapError) Error() string {
	switch {
	case e.Column == "":
		return fmt.Sprintf("%s: %v", e.Reason, e.Err)
	case e.Err == nil:
		return e.Reason + ": " + e.Column
	default:
		return fmt.Sprintf("%s: %s: %v", e.Reason, e.Column, e.Err)
	}
}

func (e *MappingGapError) Unwrap() error { return e.Err }

// Reasons used by MappingGapError.
const (
	ReasonUnmapped      = "unmapped required column"
	ReasonRequiredNull  = "null value in required column"
	ReasonCast          = "cast failed"
	ReasonTransform     = "transformation failed"
	ReasonDefault       = "default failed"
	ReasonInvalidSource = "invalid source row"
)

// Request describes one run.
type Request struct {
	SourceTable string
	TargetTable string
	// SourceSchema overrides the configured Bronze schema.
	SourceSchema string
	// BatchSize overrides transform.batch_size when positive.
	BatchSize  int
	ApplyRules bool
	// AdvanceWatermark false is a dry run: rows, quarantine records and
	// metrics are written and rolled back, and the batch closes SUCCESS
	// with the counts it would have produced.
	AdvanceWatermark bool
}

// Pair names the request's (source, target) pair for logs and metrics.
func (r Request) Pair() string { return r.SourceTable + "->" + r.TargetTable }

// Result is the outcome of one run.
type Result struct {
	BatchID       string
	SourceTable   string
	TargetTable   string
	Status        Status
	Read          int
	Processed     int
	Rejected      int
	Quarantined   int
	RulesApplied  int
	WatermarkFrom string
	WatermarkTo   string
	Duration      time.Duration
	Message       string
}

func (r Result) String() string { return r.Message }

func (r *Result) succeed() {
	r.Status = StatusSuccess
	r.Message = fmt.Sprintf("Successfully processed batch %s from %s into %s: read %d, written %d, rejected %d, quarantined %d, rules %d",
		r.BatchID, r.SourceTable, r.TargetTable, r.Read, r.Processed, r.Rejected, r.Quarantined, r.RulesApplied)
}

func (r *Result) fail(err error) {
	r.Status = StatusFailed
	r.Message = "Error: " + err.Error()
}
