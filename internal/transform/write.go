package transform

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"silver/internal/storage"
	"silver/pkg/records"
)

// write stores rows in the target table through tx. With declared key
// columns each chunk deletes the rows it is about to insert, so replaying a
// window converges on the same table state; a key seen twice in one batch
// keeps its last row. Without keys rows are appended.
func (e *Engine) write(ctx context.Context, tx *sqlx.Tx, p *plan, table string, rows []*records.Record) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	cols := p.table.Names()
	fqn := e.db.Target(table)
	d := e.db.Dialect

	if len(p.keys) > 0 {
		rows = lastPerKey(p.keys, rows)
	}
	values := make([][]any, len(rows))
	for i, r := range rows {
		v := make([]any, len(cols))
		for j, c := range cols {
			v[j] = storage.Arg(r.Value(c))
		}
		values[i] = v
	}
	keyIdx := make([]int, len(p.keys))
	for i, k := range p.keys {
		for j, c := range cols {
			if strings.EqualFold(c, k) {
				keyIdx[i] = j
			}
		}
	}

	n, err := storage.LoadChunks(ctx, e.log, cols, values, e.cfg.WriteChunkSize,
		func(ctx context.Context, cols []string, chunk [][]any) (int64, error) {
			if len(keyIdx) > 0 {
				keys := make([][]any, len(chunk))
				for i, row := range chunk {
					k := make([]any, len(keyIdx))
					for j, idx := range keyIdx {
						k[j] = row[idx]
					}
					keys[i] = k
				}
				if _, err := storage.DeleteKeys(ctx, tx, d, fqn, p.keys, keys); err != nil {
					return 0, err
				}
			}
			return storage.InsertRows(ctx, tx, d, fqn, cols, chunk)
		})
	if err != nil {
		return 0, fmt.Errorf("transform: write %s: %w", table, err)
	}
	return int(n), nil
}

// lastPerKey drops every row whose key reappears later in rows.
func lastPerKey(keys []string, rows []*records.Record) []*records.Record {
	last := make(map[string]int, len(rows))
	for i, r := range rows {
		last[keyString(keys, r)] = i
	}
	if len(last) == len(rows) {
		return rows
	}
	out := make([]*records.Record, 0, len(last))
	for i, r := range rows {
		if last[keyString(keys, r)] == i {
			out = append(out, r)
		}
	}
	return out
}

func keyString(keys []string, r *records.Record) string {
	var b strings.Builder
	for _, k := range keys {
		v := r.Value(k)
		b.WriteString(v.Kind().String())
		b.WriteByte(0x1f)
		b.WriteString(v.Text())
		b.WriteByte(0x1e)
	}
	return b.String()
}
