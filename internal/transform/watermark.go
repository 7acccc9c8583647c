package transform

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"silver/internal/storage"
)

// Watermark is one row of processing_watermarks: the last position a pair
// committed plus its run lock.
type Watermark struct {
	SourceTable  string         `db:"source_table"`
	TargetTable  string         `db:"target_table"`
	LastPosition sql.NullString `db:"last_position"`
	LastBatchID  sql.NullString `db:"last_batch_id"`
	LockedBy     sql.NullString `db:"locked_by"`
	LockedAt     sql.NullTime   `db:"locked_at"`
	UpdatedAt    time.Time      `db:"updated_at"`
}

const watermarkCols = `source_table, target_table, last_position, last_batch_id, locked_by, locked_at, updated_at`

// Watermark returns the pair's row. A pair that never ran has a zero
// Watermark and no error.
func (e *Engine) Watermark(ctx context.Context, source, target string) (Watermark, error) {
	source, target = upper(source), upper(target)
	var w Watermark
	q := e.db.Rebind(`SELECT ` + watermarkCols + ` FROM ` + e.db.Meta(storage.TableWatermarks) +
		` WHERE source_table = ? AND target_table = ?`)
	if err := e.db.GetContext(ctx, &w, q, source, target); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Watermark{SourceTable: source, TargetTable: target}, nil
		}
		return Watermark{}, fmt.Errorf("transform: watermark %s -> %s: %w", source, target, err)
	}
	return w, nil
}

// Watermarks lists every pair's row.
func (e *Engine) Watermarks(ctx context.Context) ([]Watermark, error) {
	var out []Watermark
	q := `SELECT ` + watermarkCols + ` FROM ` + e.db.Meta(storage.TableWatermarks) + ` ORDER BY source_table, target_table`
	if err := e.db.SelectContext(ctx, &out, q); err != nil {
		return nil, fmt.Errorf("transform: list watermarks: %w", err)
	}
	return out, nil
}

// ensureWatermark creates the pair's row when missing.
func (e *Engine) ensureWatermark(ctx context.Context, source, target string) error {
	q := e.db.Rebind(`INSERT INTO ` + e.db.Meta(storage.TableWatermarks) + ` (` + watermarkCols + `)
		VALUES (?, ?, NULL, NULL, NULL, NULL, ?)`)
	_, err := e.db.ExecContext(ctx, q, source, target, e.now())
	if err != nil && !e.db.Dialect.IsUniqueViolation(err) {
		return fmt.Errorf("transform: create watermark %s -> %s: %w", source, target, err)
	}
	return nil
}

// lock takes the pair's run lock for batchID with a compare-and-set on
// locked_by. A lock older than StaleAfter is taken over when
// AutoResetStale is set and its batch is closed FAILED; otherwise the run
// is refused with ErrRunInProgress.
func (e *Engine) lock(ctx context.Context, source, target, batchID string) error {
	if err := e.ensureWatermark(ctx, source, target); err != nil {
		return err
	}
	now := e.now()
	tbl := e.db.Meta(storage.TableWatermarks)
	q := e.db.Rebind(`UPDATE ` + tbl + ` SET locked_by = ?, locked_at = ?
		WHERE source_table = ? AND target_table = ? AND locked_by IS NULL`)
	res, err := e.db.ExecContext(ctx, q, batchID, now, source, target)
	if err != nil {
		return fmt.Errorf("transform: lock %s -> %s: %w", source, target, err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}

	w, err := e.Watermark(ctx, source, target)
	if err != nil {
		return err
	}
	holder := w.LockedBy.String
	if !w.LockedAt.Valid || now.Sub(w.LockedAt.Time) < e.cfg.StaleAfter {
		return fmt.Errorf("%w: %s -> %s is locked by batch %s", ErrRunInProgress, source, target, holder)
	}
	if !e.cfg.AutoResetStale {
		return fmt.Errorf("%w: %s -> %s is locked by stale batch %s since %s; reset the lock to continue",
			ErrRunInProgress, source, target, holder, w.LockedAt.Time.Format(time.RFC3339))
	}

	q = e.db.Rebind(`UPDATE ` + tbl + ` SET locked_by = ?, locked_at = ?
		WHERE source_table = ? AND target_table = ? AND locked_by = ?`)
	res, err = e.db.ExecContext(ctx, q, batchID, now, source, target, holder)
	if err != nil {
		return fmt.Errorf("transform: take over lock %s -> %s: %w", source, target, err)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return fmt.Errorf("%w: %s -> %s lock changed hands during takeover", ErrRunInProgress, source, target)
	}
	if err := e.failStale(ctx, holder, "stale RUNNING batch reset"); err != nil {
		return err
	}
	e.log.Warn("stale lock taken over",
		zap.String("source", source), zap.String("target", target),
		zap.String("stale_batch", holder), zap.String("batch", batchID))
	return nil
}

// unlock releases the lock if batchID still holds it.
func (e *Engine) unlock(ctx context.Context, source, target, batchID string) error {
	q := e.db.Rebind(`UPDATE ` + e.db.Meta(storage.TableWatermarks) + ` SET locked_by = NULL, locked_at = NULL
		WHERE source_table = ? AND target_table = ? AND locked_by = ?`)
	if _, err := e.db.ExecContext(ctx, q, source, target, batchID); err != nil {
		return fmt.Errorf("transform: unlock %s -> %s: %w", source, target, err)
	}
	return nil
}

// advance moves the watermark to position. Positions only grow; the
// caller passes the maximum position read in the window.
func (e *Engine) advance(ctx context.Context, tx *sqlx.Tx, source, target, position, batchID string) error {
	q := tx.Rebind(`UPDATE ` + e.db.Meta(storage.TableWatermarks) + `
		SET last_position = ?, last_batch_id = ?, updated_at = ?
		WHERE source_table = ? AND target_table = ?`)
	if _, err := tx.ExecContext(ctx, q, position, batchID, e.now(), source, target); err != nil {
		return fmt.Errorf("transform: advance watermark %s -> %s: %w", source, target, err)
	}
	return nil
}

// failStale closes a RUNNING batch left behind by a crashed run.
func (e *Engine) failStale(ctx context.Context, batchID, reason string) error {
	if batchID == "" {
		return nil
	}
	b, err := e.batches.Get(ctx, batchID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	r := Result{
		BatchID:       b.ID,
		Read:          b.RecordsRead,
		WatermarkFrom: b.WatermarkFrom.String,
	}
	r.fail(errors.New(reason))
	return e.batches.close(ctx, e.db, r, e.now())
}

// ResetLock clears the pair's lock regardless of its age and closes the
// batch that held it as FAILED. It returns the id of that batch, or "" when
// the pair was not locked.
func (e *Engine) ResetLock(ctx context.Context, source, target string) (string, error) {
	source, target = upper(source), upper(target)
	w, err := e.Watermark(ctx, source, target)
	if err != nil {
		return "", err
	}
	if !w.LockedBy.Valid {
		return "", nil
	}
	holder := w.LockedBy.String
	if err := e.unlock(ctx, source, target, holder); err != nil {
		return "", err
	}
	if err := e.failStale(ctx, holder, "lock reset manually"); err != nil {
		return "", err
	}
	e.log.Warn("lock reset", zap.String("source", source), zap.String("target", target), zap.String("batch", holder))
	return holder, nil
}
