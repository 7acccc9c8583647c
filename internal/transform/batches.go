package transform

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"silver/internal/storage"
)

// Batch is one row of silver_processing_log.
type Batch struct {
	ID                 string         `db:"batch_id"`
	SourceTable        string         `db:"source_table"`
	TargetTable        string         `db:"target_table"`
	Status             Status         `db:"status"`
	RecordsRead        int            `db:"records_read"`
	RecordsProcessed   int            `db:"records_processed"`
	RecordsRejected    int            `db:"records_rejected"`
	RecordsQuarantined int            `db:"records_quarantined"`
	RulesApplied       int            `db:"rules_applied"`
	WatermarkFrom      sql.NullString `db:"watermark_from"`
	WatermarkTo        sql.NullString `db:"watermark_to"`
	StartTime          time.Time      `db:"start_time"`
	EndTime            sql.NullTime   `db:"end_time"`
	ErrorMessage       sql.NullString `db:"error_message"`
}

// Duration is the wall time of a closed batch, zero while running.
func (b Batch) Duration() time.Duration {
	if !b.EndTime.Valid {
		return 0
	}
	return b.EndTime.Time.Sub(b.StartTime)
}

const batchCols = `batch_id, source_table, target_table, status, records_read, records_processed,
	records_rejected, records_quarantined, rules_applied, watermark_from, watermark_to,
	start_time, end_time, error_message`

// BatchLog reads and writes silver_processing_log.
type BatchLog struct {
	db *storage.DB
}

// NewBatchLog returns a BatchLog over db.
func NewBatchLog(db *storage.DB) *BatchLog { return &BatchLog{db: db} }

func (l *BatchLog) open(ctx context.Context, b Batch) error {
	q := l.db.Rebind(`INSERT INTO ` + l.db.Meta(storage.TableBatches) + ` (` + batchCols + `)
		VALUES (?, ?, ?, ?, 0, 0, 0, 0, 0, ?, NULL, ?, NULL, NULL)`)
	if _, err := l.db.ExecContext(ctx, q, b.ID, b.SourceTable, b.TargetTable, StatusRunning,
		b.WatermarkFrom, b.StartTime); err != nil {
		return fmt.Errorf("transform: open batch %s: %w", b.ID, err)
	}
	return nil
}

// close writes the terminal state of a RUNNING batch. A batch that is
// already closed is left untouched.
func (l *BatchLog) close(ctx context.Context, ext sqlx.ExtContext, r Result, end time.Time) error {
	q := ext.Rebind(`UPDATE ` + l.db.Meta(storage.TableBatches) + `
		SET status = ?, records_read = ?, records_processed = ?, records_rejected = ?,
			records_quarantined = ?, rules_applied = ?, watermark_to = ?, end_time = ?, error_message = ?
		WHERE batch_id = ? AND status = ?`)
	var msg sql.NullString
	if r.Status == StatusFailed {
		msg = storage.NullString(strings.TrimPrefix(r.Message, "Error: "))
	}
	if _, err := ext.ExecContext(ctx, q, r.Status, r.Read, r.Processed, r.Rejected, r.Quarantined,
		r.RulesApplied, storage.NullString(r.WatermarkTo), end, msg, r.BatchID, StatusRunning); err != nil {
		return fmt.Errorf("transform: close batch %s: %w", r.BatchID, err)
	}
	return nil
}

// Get returns one batch.
func (l *BatchLog) Get(ctx context.Context, id string) (Batch, error) {
	var b Batch
	q := l.db.Rebind(`SELECT ` + batchCols + ` FROM ` + l.db.Meta(storage.TableBatches) + ` WHERE batch_id = ?`)
	if err := l.db.GetContext(ctx, &b, q, id); err != nil {
		if err == sql.ErrNoRows {
			return Batch{}, fmt.Errorf("transform: batch %s: %w", id, storage.ErrNotFound)
		}
		return Batch{}, fmt.Errorf("transform: batch %s: %w", id, err)
	}
	return b, nil
}

// BatchFilter narrows List. Zero fields match everything.
type BatchFilter struct {
	SourceTable string
	TargetTable string
	Status      Status
	Limit       int
}

// List returns batches, most recent first.
func (l *BatchLog) List(ctx context.Context, f BatchFilter) ([]Batch, error) {
	var (
		where []string
		args  []any
	)
	if f.SourceTable != "" {
		where = append(where, "source_table = ?")
		args = append(args, strings.ToUpper(f.SourceTable))
	}
	if f.TargetTable != "" {
		where = append(where, "target_table = ?")
		args = append(args, strings.ToUpper(f.TargetTable))
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, f.Status)
	}
	q := `SELECT ` + batchCols + ` FROM ` + l.db.Meta(storage.TableBatches)
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	q = l.db.Dialect.Limit(q+" ORDER BY start_time DESC, batch_id", limit)

	var out []Batch
	if err := l.db.SelectContext(ctx, &out, l.db.Rebind(q), args...); err != nil {
		return nil, fmt.Errorf("transform: list batches: %w", err)
	}
	return out, nil
}
