// Package bronze reads the raw landing table the transformation engine
// consumes. Each raw row holds one JSON object in its data column and a
// monotonically increasing position in its order column.
//
// Ingesting files into Bronze is not this package's job; EnsureTable,
// Insert, Load and Seed exist so the engine can be exercised end to end.
package bronze

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"silver/internal/config"
	"silver/internal/storage"
	"silver/pkg/records"
)

// Ref names a Bronze table. Empty fields fall back to the configured
// schema and table.
type Ref struct {
	Schema string
	Table  string
}

// Row is one raw row: its position and its undecoded JSON document.
type Row struct {
	Position string
	Data     []byte
}

// Reader reads raw rows. It is safe for concurrent use.
type Reader struct {
	db  *storage.DB
	cfg config.Bronze
	log *zap.Logger
}

// NewReader returns a Reader over db.
func NewReader(db *storage.DB, cfg config.Bronze, log *zap.Logger) *Reader {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.OrderColumn == "" {
		cfg.OrderColumn = "RAW_ID"
	}
	if cfg.DataColumn == "" {
		cfg.DataColumn = "RAW_DATA"
	}
	if cfg.Table == "" {
		cfg.Table = "RAW_DATA_TABLE"
	}
	if cfg.SampleRows <= 0 {
		cfg.SampleRows = 1000
	}
	return &Reader{db: db, cfg: cfg, log: log.Named("bronze")}
}

func (r *Reader) resolve(ref Ref) Ref {
	if ref.Schema == "" {
		ref.Schema = r.cfg.Schema
	}
	if ref.Table == "" {
		ref.Table = r.cfg.Table
	}
	ref.Schema = strings.ToUpper(ref.Schema)
	ref.Table = strings.ToUpper(ref.Table)
	return ref
}

func (r *Reader) fqn(ref Ref) string {
	ref = r.resolve(ref)
	return r.db.Dialect.Qualify(ref.Schema, ref.Table)
}

// Read returns up to limit rows positioned strictly after after, in
// position order. An empty after reads from the beginning.
func (r *Reader) Read(ctx context.Context, ref Ref, after string, limit int) ([]Row, error) {
	d := r.db.Dialect
	q := fmt.Sprintf("SELECT %s, %s FROM %s", d.Quote(r.cfg.OrderColumn), d.Quote(r.cfg.DataColumn), r.fqn(ref))
	var args []any
	if after != "" {
		q += fmt.Sprintf(" WHERE %s > ?", d.Quote(r.cfg.OrderColumn))
		args = append(args, positionArg(after))
	}
	q += " ORDER BY " + d.Quote(r.cfg.OrderColumn)
	if limit > 0 {
		q = d.Limit(q, limit)
	}

	rows, err := r.db.QueryContext(ctx, r.db.Rebind(q), args...)
	if err != nil {
		return nil, fmt.Errorf("bronze: read %s: %w", r.fqn(ref), err)
	}
	defer rows.Close()
	var out []Row
	for rows.Next() {
		var (
			pos  any
			data sql.NullString
		)
		if err := rows.Scan(&pos, &data); err != nil {
			return nil, fmt.Errorf("bronze: scan: %w", err)
		}
		out = append(out, Row{Position: positionText(pos), Data: []byte(data.String)})
	}
	return out, rows.Err()
}

// positionArg binds integer positions as integers so they compare
// numerically on every backend.
func positionArg(s string) any {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	return s
}

func positionText(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case []byte:
		return string(t)
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	default:
		return fmt.Sprint(t)
	}
}

// ComparePositions orders two positions, numerically when both are
// integers.
func ComparePositions(a, b string) int {
	x, errA := strconv.ParseInt(a, 10, 64)
	y, errB := strconv.ParseInt(b, 10, 64)
	if errA == nil && errB == nil {
		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		}
		return 0
	}
	return strings.Compare(a, b)
}

// SourceFields returns the sorted union of JSON object keys over the most
// recent sample rows of sourceTable, in the configured schema.
func (r *Reader) SourceFields(ctx context.Context, sourceTable string) ([]string, error) {
	return r.Fields(ctx, Ref{Table: sourceTable})
}

// Fields is SourceFields for an explicit Ref.
func (r *Reader) Fields(ctx context.Context, ref Ref) ([]string, error) {
	d := r.db.Dialect
	q := d.Limit(fmt.Sprintf("SELECT %s FROM %s ORDER BY %s DESC",
		d.Quote(r.cfg.DataColumn), r.fqn(ref), d.Quote(r.cfg.OrderColumn)), r.cfg.SampleRows)
	var docs []sql.NullString
	if err := r.db.SelectContext(ctx, &docs, q); err != nil {
		return nil, fmt.Errorf("bronze: sample %s: %w", r.fqn(ref), err)
	}
	seen := map[string]bool{}
	var out []string
	for _, doc := range docs {
		rec, err := records.DecodeJSON([]byte(doc.String))
		if err != nil {
			continue
		}
		for _, n := range rec.Names() {
			if !seen[n] {
				seen[n] = true
				out = append(out, n)
			}
		}
	}
	sort.Strings(out)
	return out, nil
}

// EnsureTable creates the Bronze table when missing.
func (r *Reader) EnsureTable(ctx context.Context, ref Ref) error {
	ref = r.resolve(ref)
	d := r.db.Dialect
	if stmt := d.CreateSchema(ref.Schema); stmt != "" {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("bronze: create schema %s: %w", ref.Schema, err)
		}
	}
	m := d.Meta()
	defs := []string{
		d.Quote(r.cfg.OrderColumn) + " " + m.ID,
		d.Quote(r.cfg.DataColumn) + " " + m.Text + " NOT NULL",
		d.Quote("FILE_NAME") + " " + m.Key,
		d.Quote("TPA") + " " + m.Key,
		d.Quote("LOADED_AT") + " " + m.Time + " NOT NULL",
	}
	if _, err := r.db.ExecContext(ctx, d.CreateTable(r.fqn(ref), defs)); err != nil {
		return fmt.Errorf("bronze: create %s: %w", r.fqn(ref), err)
	}
	return nil
}

// Insert appends raw documents. Each doc is encoded as a JSON object.
func (r *Reader) Insert(ctx context.Context, ref Ref, fileName string, docs []map[string]any) (int, error) {
	return r.insert(ctx, ref, fileName, "", docs)
}

func (r *Reader) insert(ctx context.Context, ref Ref, fileName, tpa string, docs []map[string]any) (int, error) {
	now := time.Now().UTC()
	rows := make([][]any, 0, len(docs))
	for _, doc := range docs {
		b, err := json.Marshal(doc)
		if err != nil {
			return 0, fmt.Errorf("bronze: encode row: %w", err)
		}
		rows = append(rows, []any{string(b), storage.NullString(fileName), storage.NullString(tpa), now})
	}
	cols := []string{r.cfg.DataColumn, "FILE_NAME", "TPA", "LOADED_AT"}
	n, err := storage.InsertRows(ctx, r.db, r.db.Dialect, r.fqn(ref), cols, rows)
	if err != nil {
		return 0, fmt.Errorf("bronze: insert: %w", err)
	}
	r.log.Debug("raw rows inserted", zap.String("table", r.fqn(ref)), zap.Int64("rows", n))
	return len(rows), nil
}
