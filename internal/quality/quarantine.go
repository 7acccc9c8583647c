package quality

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"silver/internal/storage"
	"silver/pkg/records"
)

// ErrNotFound is returned for an unknown quarantine id.
var ErrNotFound = storage.ErrNotFound

// Quarantined is one row of quarantine_records.
type Quarantined struct {
	ID            int64          `db:"id"`
	BatchID       string         `db:"batch_id"`
	SourceTable   string         `db:"source_table"`
	TargetTable   string         `db:"target_table"`
	RecordData    string         `db:"record_data"`
	RuleID        sql.NullString `db:"rule_id"`
	ErrorDetail   string         `db:"error_detail"`
	QuarantinedAt time.Time      `db:"quarantined_at"`
	Resolved      bool           `db:"resolved"`
	ResolvedBy    sql.NullString `db:"resolved_by"`
	ResolvedAt    sql.NullTime   `db:"resolved_at"`
}

// Entry is a rejected row headed for quarantine. An empty RuleID means the
// row failed before rules ran.
type Entry struct {
	Row    *records.Record
	RuleID string
	Detail string
}

// QuarantineStore reads and writes quarantine_records.
type QuarantineStore struct {
	db  *storage.DB
	log *zap.Logger
	now func() time.Time
}

// NewQuarantineStore returns a QuarantineStore.
func NewQuarantineStore(db *storage.DB, log *zap.Logger) *QuarantineStore {
	if log == nil {
		log = zap.NewNop()
	}
	return &QuarantineStore{db: db, log: log.Named("quarantine"), now: func() time.Time { return time.Now().UTC() }}
}

const quarantineCols = `id, batch_id, source_table, target_table, record_data, rule_id, error_detail,
	quarantined_at, resolved, resolved_by, resolved_at`

var quarantineInsertCols = []string{"batch_id", "source_table", "target_table", "record_data", "rule_id",
	"error_detail", "quarantined_at", "resolved"}

// Insert stores entries through ext, normally the batch's write
// transaction. Rows are serialized as JSON objects.
func (s *QuarantineStore) Insert(ctx context.Context, ext sqlx.ExtContext, batchID, sourceTable, targetTable string, entries []Entry) (int, error) {
	if len(entries) == 0 {
		return 0, nil
	}
	now := s.now()
	rows := make([][]any, len(entries))
	for i, e := range entries {
		data, err := e.Row.MarshalJSON()
		if err != nil {
			return 0, fmt.Errorf("quality: encode quarantined row: %w", err)
		}
		rows[i] = []any{batchID, strings.ToUpper(sourceTable), strings.ToUpper(targetTable), string(data),
			storage.NullString(e.RuleID), e.Detail, now, false}
	}
	n, err := storage.InsertRows(ctx, ext, s.db.Dialect, s.db.Meta(storage.TableQuarantine), quarantineInsertCols, rows)
	if err != nil {
		return 0, fmt.Errorf("quality: quarantine: %w", err)
	}
	s.log.Debug("rows quarantined", zap.String("batch", batchID), zap.Int64("count", n))
	return len(entries), nil
}

// Get returns one quarantined row.
func (s *QuarantineStore) Get(ctx context.Context, id int64) (Quarantined, error) {
	var q Quarantined
	stmt := s.db.Rebind(`SELECT ` + quarantineCols + ` FROM ` + s.db.Meta(storage.TableQuarantine) + ` WHERE id = ?`)
	err := s.db.GetContext(ctx, &q, stmt, id)
	if errors.Is(err, sql.ErrNoRows) {
		return Quarantined{}, fmt.Errorf("quality: quarantine id %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return Quarantined{}, fmt.Errorf("quality: get quarantine %d: %w", id, err)
	}
	return q, nil
}

// QuarantineFilter narrows List. Limit 0 means 100.
type QuarantineFilter struct {
	BatchID     string
	TargetTable string
	RuleID      string
	Unresolved  bool
	Limit       int
}

// List returns quarantined rows, oldest first.
func (s *QuarantineStore) List(ctx context.Context, f QuarantineFilter) ([]Quarantined, error) {
	var (
		where []string
		args  []any
	)
	if f.BatchID != "" {
		where = append(where, "batch_id = ?")
		args = append(args, f.BatchID)
	}
	if f.TargetTable != "" {
		where = append(where, "target_table = ?")
		args = append(args, strings.ToUpper(f.TargetTable))
	}
	if f.RuleID != "" {
		where = append(where, "rule_id = ?")
		args = append(args, strings.ToUpper(f.RuleID))
	}
	if f.Unresolved {
		where = append(where, "resolved = ?")
		args = append(args, false)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	q := `SELECT ` + quarantineCols + ` FROM ` + s.db.Meta(storage.TableQuarantine)
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q = s.db.Dialect.Limit(q+` ORDER BY id`, limit)
	var out []Quarantined
	if err := s.db.SelectContext(ctx, &out, s.db.Rebind(q), args...); err != nil {
		return nil, fmt.Errorf("quality: list quarantine: %w", err)
	}
	return out, nil
}

// Resolve marks a quarantined row as remediated by by.
func (s *QuarantineStore) Resolve(ctx context.Context, id int64, by string) error {
	q := s.db.Rebind(`UPDATE ` + s.db.Meta(storage.TableQuarantine) +
		` SET resolved = ?, resolved_by = ?, resolved_at = ? WHERE id = ?`)
	res, err := s.db.ExecContext(ctx, q, true, storage.NullString(by), s.now(), id)
	if err != nil {
		return fmt.Errorf("quality: resolve %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("quality: quarantine id %d: %w", id, ErrNotFound)
	}
	s.log.Info("quarantine resolved", zap.Int64("id", id), zap.String("by", by))
	return nil
}
