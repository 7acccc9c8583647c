package mapping

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"silver/internal/expr"
	"silver/internal/schema"
	"silver/internal/storage"
)

// Store reads and writes field_mappings.
type Store struct {
	db       *storage.DB
	registry *schema.Registry
	log      *zap.Logger
	now      func() time.Time
}

// NewStore returns a Store. registry is used to check that mapped target
// columns are declared.
func NewStore(db *storage.DB, registry *schema.Registry, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{
		db:       db,
		registry: registry,
		log:      log.Named("mapping"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

const mappingCols = `id, source_table, source_field, target_table, target_column, mapping_method,
	confidence_score, approved, approved_by, approved_at, transformation_logic, description, tpa,
	created_at, updated_at`

// ManualInput describes a human-entered mapping.
type ManualInput struct {
	SourceTable    string
	SourceField    string
	TargetTable    string
	TargetColumn   string
	Transformation string
	Description    string
	TPA            string
	By             string
}

// CreateManual inserts an approved MANUAL mapping with confidence exactly
// 1.0, approved by in.By now.
func (s *Store) CreateManual(ctx context.Context, in ManualInput) (Mapping, error) {
	in.SourceTable = strings.ToUpper(strings.TrimSpace(in.SourceTable))
	in.TargetTable = strings.ToUpper(strings.TrimSpace(in.TargetTable))
	in.SourceField = strings.TrimSpace(in.SourceField)
	if in.SourceTable == "" || in.SourceField == "" {
		return Mapping{}, errors.New("mapping: source table and field are required")
	}
	col, err := s.targetColumn(ctx, in.TargetTable, in.TargetColumn)
	if err != nil {
		return Mapping{}, err
	}
	if err := checkTransformation(in.Transformation); err != nil {
		return Mapping{}, err
	}

	now := s.now()
	q := `INSERT INTO ` + s.db.Meta(storage.TableFieldMappings) + `
		(source_table, source_field, target_table, target_column, mapping_method, confidence_score,
		 approved, approved_by, approved_at, transformation_logic, description, tpa, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	id, err := s.db.Dialect.InsertID(ctx, s.db, q,
		in.SourceTable, in.SourceField, in.TargetTable, col, string(MethodManual), 1.0,
		true, storage.NullString(in.By), now, storage.NullString(strings.TrimSpace(in.Transformation)),
		storage.NullString(in.Description), storage.NullString(in.TPA), now, now)
	if err != nil {
		return Mapping{}, fmt.Errorf("mapping: insert manual %s -> %s.%s: %w", in.SourceField, in.TargetTable, col, err)
	}
	s.log.Info("manual mapping created",
		zap.Int64("id", id), zap.String("source_field", in.SourceField),
		zap.String("target", in.TargetTable+"."+col), zap.String("by", in.By))
	return s.Get(ctx, id)
}

// InsertCandidates inserts generator output as unapproved mappings in one
// transaction: either every candidate is stored or none is.
func (s *Store) InsertCandidates(ctx context.Context, sourceTable, targetTable, tpa string, cands []Candidate) (int, error) {
	sourceTable = strings.ToUpper(strings.TrimSpace(sourceTable))
	targetTable = strings.ToUpper(strings.TrimSpace(targetTable))
	for _, c := range cands {
		if c.Method == MethodManual {
			return 0, ErrManualConfidence
		}
		if c.Method != MethodSimilarity && c.Method != MethodSemantic {
			return 0, fmt.Errorf("mapping: candidate %s -> %s has unknown method %q", c.SourceField, c.TargetColumn, c.Method)
		}
	}
	if len(cands) == 0 {
		return 0, nil
	}

	now := s.now()
	q := s.db.Rebind(`INSERT INTO ` + s.db.Meta(storage.TableFieldMappings) + `
		(source_table, source_field, target_table, target_column, mapping_method, confidence_score,
		 approved, description, tpa, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	err := s.db.InTx(ctx, func(tx *sqlx.Tx) error {
		for _, c := range cands {
			conf := min(max(c.Confidence, 0), 1)
			if _, err := tx.ExecContext(ctx, q, sourceTable, c.SourceField, targetTable,
				strings.ToUpper(c.TargetColumn), string(c.Method), conf, false,
				storage.NullString(c.Rationale), storage.NullString(tpa), now, now); err != nil {
				return fmt.Errorf("mapping: insert candidate %s -> %s: %w", c.SourceField, c.TargetColumn, err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(cands), nil
}

// Get returns one mapping by id.
func (s *Store) Get(ctx context.Context, id int64) (Mapping, error) {
	var m Mapping
	q := s.db.Rebind(`SELECT ` + mappingCols + ` FROM ` + s.db.Meta(storage.TableFieldMappings) + ` WHERE id = ?`)
	err := s.db.GetContext(ctx, &m, q, id)
	if errors.Is(err, sql.ErrNoRows) {
		return Mapping{}, fmt.Errorf("mapping: id %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return Mapping{}, fmt.Errorf("mapping: get %d: %w", id, err)
	}
	return m, nil
}

// Filter narrows List. Zero fields match everything.
type Filter struct {
	SourceTable string
	TargetTable string
	TPA         string
	Method      Method
	Approved    *bool
}

// List returns the mappings matching f ordered by target table, target
// column and id, with Duplicate set on every pair that occurs more than once.
func (s *Store) List(ctx context.Context, f Filter) ([]Mapping, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, arg any) {
		where = append(where, cond)
		args = append(args, arg)
	}
	if f.SourceTable != "" {
		add("source_table = ?", strings.ToUpper(f.SourceTable))
	}
	if f.TargetTable != "" {
		add("target_table = ?", strings.ToUpper(f.TargetTable))
	}
	if f.TPA != "" {
		add("tpa = ?", f.TPA)
	}
	if f.Method != "" {
		add("mapping_method = ?", string(f.Method))
	}
	if f.Approved != nil {
		add("approved = ?", *f.Approved)
	}
	q := `SELECT ` + mappingCols + ` FROM ` + s.db.Meta(storage.TableFieldMappings)
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY target_table, target_column, id`

	var out []Mapping
	if err := s.db.SelectContext(ctx, &out, s.db.Rebind(q), args...); err != nil {
		return nil, fmt.Errorf("mapping: list: %w", err)
	}
	dups, err := s.duplicates(ctx)
	if err != nil {
		return nil, err
	}
	for i := range out {
		m := &out[i]
		m.Duplicate = dups[dupKey{m.SourceTable, strings.ToUpper(m.SourceField), m.TargetTable, m.TargetColumn}]
	}
	return out, nil
}

type dupKey struct{ sourceTable, sourceField, targetTable, targetColumn string }

func (s *Store) duplicates(ctx context.Context) (map[dupKey]bool, error) {
	rows, err := s.db.QueryxContext(ctx, `SELECT source_table, UPPER(source_field), target_table, target_column
		FROM `+s.db.Meta(storage.TableFieldMappings)+`
		GROUP BY source_table, UPPER(source_field), target_table, target_column
		HAVING COUNT(*) > 1`)
	if err != nil {
		return nil, fmt.Errorf("mapping: duplicates: %w", err)
	}
	defer rows.Close()
	out := map[dupKey]bool{}
	for rows.Next() {
		var k dupKey
		if err := rows.Scan(&k.sourceTable, &k.sourceField, &k.targetTable, &k.targetColumn); err != nil {
			return nil, fmt.Errorf("mapping: duplicates: %w", err)
		}
		out[k] = true
	}
	return out, rows.Err()
}

// Approved returns the approved mappings from sourceTable into targetTable
// in precedence order: MANUAL first, then by confidence descending, then id.
func (s *Store) Approved(ctx context.Context, sourceTable, targetTable string) ([]Mapping, error) {
	q := s.db.Rebind(`SELECT ` + mappingCols + ` FROM ` + s.db.Meta(storage.TableFieldMappings) + `
		WHERE source_table = ? AND target_table = ? AND approved = ?
		ORDER BY CASE WHEN mapping_method = 'MANUAL' THEN 0 ELSE 1 END, confidence_score DESC, id`)
	var out []Mapping
	if err := s.db.SelectContext(ctx, &out, q,
		strings.ToUpper(sourceTable), strings.ToUpper(targetTable), true); err != nil {
		return nil, fmt.Errorf("mapping: approved %s -> %s: %w", sourceTable, targetTable, err)
	}
	return out, nil
}

// Approve marks a mapping approved by by.
func (s *Store) Approve(ctx context.Context, id int64, by string) error {
	now := s.now()
	return s.update(ctx, id, "approve", `approved = ?, approved_by = ?, approved_at = ?, updated_at = ?`,
		true, storage.NullString(by), now, now)
}

// Unapprove returns a mapping to proposal state and clears the approval.
func (s *Store) Unapprove(ctx context.Context, id int64) error {
	m, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if m.Method == MethodManual {
		s.log.Warn("unapproving manual mapping", zap.Int64("id", id))
	}
	return s.update(ctx, id, "unapprove", `approved = ?, approved_by = NULL, approved_at = NULL, updated_at = ?`,
		false, s.now())
}

// UpdateTransformation sets or, with an empty logic, clears the mapping's
// transformation expression.
func (s *Store) UpdateTransformation(ctx context.Context, id int64, logic string) error {
	logic = strings.TrimSpace(logic)
	if err := checkTransformation(logic); err != nil {
		return err
	}
	return s.update(ctx, id, "set transformation", `transformation_logic = ?, updated_at = ?`,
		storage.NullString(logic), s.now())
}

// Delete removes a mapping.
func (s *Store) Delete(ctx context.Context, id int64) error {
	q := s.db.Rebind(`DELETE FROM ` + s.db.Meta(storage.TableFieldMappings) + ` WHERE id = ?`)
	res, err := s.db.ExecContext(ctx, q, id)
	if err != nil {
		return fmt.Errorf("mapping: delete %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("mapping: id %d: %w", id, ErrNotFound)
	}
	return nil
}

// Pairs returns every (source field, target column) pair already mapped
// from sourceTable into targetTable, approved or not.
func (s *Store) Pairs(ctx context.Context, sourceTable, targetTable string) (map[pairKey]bool, error) {
	q := s.db.Rebind(`SELECT source_field, target_column FROM ` + s.db.Meta(storage.TableFieldMappings) +
		` WHERE source_table = ? AND target_table = ?`)
	rows, err := s.db.QueryxContext(ctx, q, strings.ToUpper(sourceTable), strings.ToUpper(targetTable))
	if err != nil {
		return nil, fmt.Errorf("mapping: pairs: %w", err)
	}
	defer rows.Close()
	out := map[pairKey]bool{}
	for rows.Next() {
		var src, tgt string
		if err := rows.Scan(&src, &tgt); err != nil {
			return nil, fmt.Errorf("mapping: pairs: %w", err)
		}
		out[keyOf(src, tgt)] = true
	}
	return out, rows.Err()
}

func (s *Store) update(ctx context.Context, id int64, op, set string, args ...any) error {
	q := s.db.Rebind(`UPDATE ` + s.db.Meta(storage.TableFieldMappings) + ` SET ` + set + ` WHERE id = ?`)
	res, err := s.db.ExecContext(ctx, q, append(args, id)...)
	if err != nil {
		return fmt.Errorf("mapping: %s %d: %w", op, id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("mapping: id %d: %w", id, ErrNotFound)
	}
	return nil
}

// targetColumn resolves column against the registry and returns its
// declared spelling.
func (s *Store) targetColumn(ctx context.Context, table, column string) (string, error) {
	column = strings.ToUpper(strings.TrimSpace(column))
	if s.registry == nil {
		return column, nil
	}
	t, err := s.registry.Table(ctx, table)
	if err != nil {
		return "", fmt.Errorf("mapping: target table: %w", err)
	}
	c, ok := t.Column(column)
	if !ok {
		return "", fmt.Errorf("mapping: target column %s.%s: %w", table, column, ErrNotFound)
	}
	return c.Name, nil
}

func checkTransformation(logic string) error {
	if strings.TrimSpace(logic) == "" {
		return nil
	}
	if _, err := expr.Parse(logic); err != nil {
		return fmt.Errorf("mapping: transformation %q: %w", logic, err)
	}
	return nil
}
