package mapping

import (
	"context"
	"sort"
	"strings"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"silver/internal/schema"
	"silver/internal/storage"
)

// Manual turns explicit source-field to target-column pairs into MANUAL
// candidates. Pairs naming an unknown field or column are dropped.
type Manual struct {
	Pairs map[string]string
}

// Propose implements Generator.
func (g Manual) Propose(_ context.Context, sourceFields []string, target schema.Table) ([]Candidate, error) {
	known := make(map[string]string, len(sourceFields))
	for _, f := range sourceFields {
		known[strings.ToUpper(f)] = f
	}
	srcs := make([]string, 0, len(g.Pairs))
	for s := range g.Pairs {
		srcs = append(srcs, s)
	}
	sort.Strings(srcs)

	var out []Candidate
	for _, s := range srcs {
		field := s
		if len(sourceFields) > 0 {
			f, ok := known[strings.ToUpper(s)]
			if !ok {
				continue
			}
			field = f
		}
		col, ok := target.Column(g.Pairs[s])
		if !ok {
			continue
		}
		out = append(out, Candidate{SourceField: field, TargetColumn: col.Name, Confidence: 1, Method: MethodManual})
	}
	return out, nil
}

// insertManual stores MANUAL candidates approved by by, in one transaction.
func (s *Store) insertManual(ctx context.Context, sourceTable, targetTable, tpa, by string, cands []Candidate) (int, error) {
	if len(cands) == 0 {
		return 0, nil
	}
	sourceTable = strings.ToUpper(strings.TrimSpace(sourceTable))
	targetTable = strings.ToUpper(strings.TrimSpace(targetTable))
	now := s.now()
	q := s.db.Rebind(`INSERT INTO ` + s.db.Meta(storage.TableFieldMappings) + `
		(source_table, source_field, target_table, target_column, mapping_method, confidence_score,
		 approved, approved_by, approved_at, tpa, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	err := s.db.InTx(ctx, func(tx *sqlx.Tx) error {
		for _, c := range cands {
			if _, err := tx.ExecContext(ctx, q, sourceTable, c.SourceField, targetTable,
				strings.ToUpper(c.TargetColumn), string(MethodManual), 1.0, true,
				storage.NullString(by), now, storage.NullString(tpa), now, now); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	s.log.Info("manual mappings created", zap.Int("count", len(cands)), zap.String("by", by))
	return len(cands), nil
}
