// Package quality records data quality measurements and the quarantine of
// rows rejected during a transformation batch.
package quality

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"silver/internal/rules"
	"silver/internal/storage"
	"silver/pkg/records"
)

// Metric types recorded besides the rule types.
const (
	TypeCompleteness = "COMPLETENESS"
	TypeAcceptance   = "ACCEPTANCE"
)

// Metric is one row of data_quality_metrics.
type Metric struct {
	ID          int64          `db:"id"`
	BatchID     sql.NullString `db:"batch_id"`
	Table       string         `db:"table_name"`
	RuleID      sql.NullString `db:"rule_id"`
	Type        string         `db:"metric_type"`
	Name        string         `db:"metric_name"`
	Passed      bool           `db:"passed"`
	Value       float64        `db:"metric_value"`
	RecordCount int            `db:"record_count"`
	MeasuredAt  time.Time      `db:"measured_at"`
}

// Input is what a batch hands to the recorder.
type Input struct {
	BatchID string
	Table   string
	Read    int
	// Accepted are the rows written to the target table.
	Accepted []*records.Record
	// Columns are the target columns measured for completeness.
	Columns  []string
	Outcomes []rules.Outcome
}

// Recorder derives and stores quality metrics.
type Recorder struct {
	db  *storage.DB
	log *zap.Logger
	now func() time.Time
	// Threshold is the minimum non-null ratio for a passing completeness
	// metric.
	Threshold float64
}

// NewRecorder returns a Recorder with the given completeness threshold.
func NewRecorder(db *storage.DB, threshold float64, log *zap.Logger) *Recorder {
	if log == nil {
		log = zap.NewNop()
	}
	return &Recorder{db: db, log: log.Named("quality"), now: func() time.Time { return time.Now().UTC() }, Threshold: threshold}
}

// Measure derives the metrics of one batch:
//
//   - one per rule outcome, valued at its pass ratio and passing when no
//     row failed;
//   - one ACCEPTANCE metric, the ratio of rows read that were written;
//   - one COMPLETENESS metric per column, the non-null ratio over the
//     written rows, passing at or above Threshold.
func (r *Recorder) Measure(in Input) []Metric {
	now := r.now()
	batch := storage.NullString(in.BatchID)
	table := strings.ToUpper(in.Table)
	var out []Metric
	for _, o := range in.Outcomes {
		out = append(out, Metric{
			BatchID:     batch,
			Table:       table,
			RuleID:      storage.NullString(o.RuleID),
			Type:        string(o.Type),
			Name:        o.RuleID,
			Passed:      o.Failed == 0,
			Value:       ratio(o.Evaluated-o.Failed, o.Evaluated),
			RecordCount: o.Evaluated,
			MeasuredAt:  now,
		})
	}
	out = append(out, Metric{
		BatchID:     batch,
		Table:       table,
		Type:        TypeAcceptance,
		Name:        table,
		Passed:      len(in.Accepted) == in.Read,
		Value:       ratio(len(in.Accepted), in.Read),
		RecordCount: in.Read,
		MeasuredAt:  now,
	})
	if len(in.Accepted) == 0 {
		return out
	}
	for _, col := range in.Columns {
		n := 0
		for _, row := range in.Accepted {
			if !row.Value(col).IsNull() {
				n++
			}
		}
		v := ratio(n, len(in.Accepted))
		out = append(out, Metric{
			BatchID:     batch,
			Table:       table,
			Type:        TypeCompleteness,
			Name:        col,
			Passed:      v >= r.Threshold,
			Value:       v,
			RecordCount: len(in.Accepted),
			MeasuredAt:  now,
		})
	}
	return out
}

func ratio(n, d int) float64 {
	if d == 0 {
		return 1
	}
	return math.Round(float64(n)/float64(d)*10000) / 10000
}

var metricCols = []string{"batch_id", "table_name", "rule_id", "metric_type", "metric_name",
	"passed", "metric_value", "record_count", "measured_at"}

// Save inserts metrics through ext, normally the batch's write transaction.
func (r *Recorder) Save(ctx context.Context, ext sqlx.ExtContext, metrics []Metric) error {
	rows := make([][]any, len(metrics))
	for i, m := range metrics {
		rows[i] = []any{m.BatchID, m.Table, m.RuleID, m.Type, m.Name, m.Passed, m.Value, m.RecordCount, m.MeasuredAt}
	}
	if _, err := storage.InsertRows(ctx, ext, r.db.Dialect, r.db.Meta(storage.TableQualityMetrics), metricCols, rows); err != nil {
		return fmt.Errorf("quality: save metrics: %w", err)
	}
	failed := 0
	for _, m := range metrics {
		if !m.Passed {
			failed++
		}
	}
	r.log.Debug("metrics saved", zap.Int("count", len(metrics)), zap.Int("failing", failed))
	return nil
}

// Filter narrows List. Zero fields match everything; Limit 0 means 100.
type Filter struct {
	Table   string
	BatchID string
	Type    string
	Failing bool
	Limit   int
}

// List returns metrics newest first.
func (r *Recorder) List(ctx context.Context, f Filter) ([]Metric, error) {
	var (
		where []string
		args  []any
	)
	if f.Table != "" {
		where = append(where, "table_name = ?")
		args = append(args, strings.ToUpper(f.Table))
	}
	if f.BatchID != "" {
		where = append(where, "batch_id = ?")
		args = append(args, f.BatchID)
	}
	if f.Type != "" {
		where = append(where, "metric_type = ?")
		args = append(args, strings.ToUpper(f.Type))
	}
	if f.Failing {
		where = append(where, "passed = ?")
		args = append(args, false)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	q := `SELECT id, batch_id, table_name, rule_id, metric_type, metric_name, passed, metric_value,
		record_count, measured_at FROM ` + r.db.Meta(storage.TableQualityMetrics)
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q = r.db.Dialect.Limit(q+` ORDER BY measured_at DESC, id DESC`, limit)
	var out []Metric
	if err := r.db.SelectContext(ctx, &out, r.db.Rebind(q), args...); err != nil {
		return nil, fmt.Errorf("quality: list metrics: %w", err)
	}
	return out, nil
}
