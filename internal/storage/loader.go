package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// CopyFn abstracts a bulk insert. Implementations insert the provided rows
// (aligned to 'columns' order) and return the number of rows inserted.
type CopyFn func(ctx context.Context, columns []string, rows [][]any) (int64, error)

// LoadChunks splits rows into chunks of chunkSize and calls copyFn for each.
// It returns the total reported by copyFn and the first error encountered.
// A non-positive chunkSize writes everything in one call.
//
// Progress is logged at debug level on each successful chunk with running
// totals and rows/sec since the previous chunk.
func LoadChunks(
	ctx context.Context,
	log *zap.Logger,
	columns []string,
	rows [][]any,
	chunkSize int,
	copyFn CopyFn,
) (int64, error) {
	if copyFn == nil {
		return 0, fmt.Errorf("storage: copyFn must not be nil")
	}
	if log == nil {
		log = zap.NewNop()
	}
	if chunkSize <= 0 {
		chunkSize = len(rows)
	}

	var (
		total     int64
		chunks    int
		start     = time.Now()
		lastFlush = start
	)
	for lo := 0; lo < len(rows); lo += chunkSize {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		hi := min(lo+chunkSize, len(rows))
		n, err := copyFn(ctx, columns, rows[lo:hi])
		total += n
		if err != nil {
			log.Warn("chunk failed", zap.Int("chunk", chunks+1), zap.Int64("total", total), zap.Error(err))
			return total, err
		}

		chunks++
		now := time.Now()
		since := now.Sub(lastFlush)
		rps := float64(0)
		if since > 0 {
			rps = float64(n) / since.Seconds()
		}
		log.Debug("chunk written",
			zap.Int("chunk", chunks),
			zap.Int64("inserted", n),
			zap.Int64("total", total),
			zap.Float64("rps", rps),
			zap.Duration("elapsed", now.Sub(start).Truncate(time.Millisecond)),
		)
		lastFlush = now
	}
	return total, nil
}

// Statement size caps, below the row-constructor and expression-depth limits
// of every supported backend.
const (
	maxRowsPerInsert = 500
	maxKeysPerDelete = 200
)

// InsertRows inserts rows into fqn with multi-row INSERT statements, sized
// so no statement exceeds the dialect's bind parameter limit.
func InsertRows(ctx context.Context, ext sqlx.ExtContext, d Dialect, fqn string, columns []string, rows [][]any) (int64, error) {
	if len(columns) == 0 {
		return 0, fmt.Errorf("storage: insert %s: columns must not be empty", fqn)
	}
	if len(rows) == 0 {
		return 0, nil
	}
	quoted := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = d.Quote(c)
	}
	tuple := "(" + strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", ") + ")"
	per := max(1, min(d.MaxParams()/len(columns), maxRowsPerInsert))
	head := fmt.Sprintf("INSERT INTO %s (%s) VALUES ", fqn, strings.Join(quoted, ", "))

	var total int64
	for lo := 0; lo < len(rows); lo += per {
		hi := min(lo+per, len(rows))
		tuples := make([]string, 0, hi-lo)
		args := make([]any, 0, (hi-lo)*len(columns))
		for i, row := range rows[lo:hi] {
			if len(row) != len(columns) {
				return total, fmt.Errorf("storage: insert %s: row %d has %d values, want %d", fqn, lo+i, len(row), len(columns))
			}
			tuples = append(tuples, tuple)
			args = append(args, row...)
		}
		res, err := ext.ExecContext(ctx, ext.Rebind(head+strings.Join(tuples, ", ")), args...)
		if err != nil {
			return total, fmt.Errorf("storage: insert %s: %w", fqn, err)
		}
		if n, err := res.RowsAffected(); err == nil {
			total += n
		} else {
			total += int64(hi - lo)
		}
	}
	return total, nil
}

// DeleteKeys deletes every row of fqn whose key columns equal one of keys.
// It returns the number of rows deleted.
func DeleteKeys(ctx context.Context, ext sqlx.ExtContext, d Dialect, fqn string, keyCols []string, keys [][]any) (int64, error) {
	if len(keyCols) == 0 || len(keys) == 0 {
		return 0, nil
	}
	conds := make([]string, len(keyCols))
	for i, c := range keyCols {
		conds[i] = d.Quote(c) + " = ?"
	}
	cond := "(" + strings.Join(conds, " AND ") + ")"
	per := max(1, min(d.MaxParams()/len(keyCols), maxKeysPerDelete))

	var total int64
	for lo := 0; lo < len(keys); lo += per {
		hi := min(lo+per, len(keys))
		ors := make([]string, 0, hi-lo)
		args := make([]any, 0, (hi-lo)*len(keyCols))
		for _, k := range keys[lo:hi] {
			ors = append(ors, cond)
			args = append(args, k...)
		}
		q := fmt.Sprintf("DELETE FROM %s WHERE %s", fqn, strings.Join(ors, " OR "))
		res, err := ext.ExecContext(ctx, ext.Rebind(q), args...)
		if err != nil {
			return total, fmt.Errorf("storage: delete from %s: %w", fqn, err)
		}
		if n, err := res.RowsAffected(); err == nil {
			total += n
		}
	}
	return total, nil
}
