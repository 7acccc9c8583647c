package rules

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"silver/internal/config"
	"silver/internal/storage"
)

// Store reads and writes transformation_rules.
type Store struct {
	db  *storage.DB
	log *zap.Logger
	now func() time.Time
}

// NewStore returns a Store.
func NewStore(db *storage.DB, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{db: db, log: log.Named("rules"), now: func() time.Time { return time.Now().UTC() }}
}

const ruleCols = `rule_id, rule_name, rule_type, target_table, target_column, rule_logic, rule_parameters,
	priority, error_action, active, description, created_at, updated_at`

// Input describes a new rule. Priority 0 means DefaultPriority.
type Input struct {
	ID           string
	Name         string
	Type         Type
	TargetTable  string
	TargetColumn string
	Logic        string
	Parameters   config.Options
	Priority     int
	Action       Action
	Description  string
}

// Create validates and compiles the rule, then stores it active.
func (s *Store) Create(ctx context.Context, in Input) (Rule, error) {
	r, err := in.rule()
	if err != nil {
		return Rule{}, err
	}
	if _, err := Compile([]Rule{r}); err != nil {
		return Rule{}, err
	}
	now := s.now()
	r.Active, r.CreatedAt, r.UpdatedAt = true, now, now

	q := s.db.Rebind(`INSERT INTO ` + s.db.Meta(storage.TableRules) + ` (` + ruleCols + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err = s.db.ExecContext(ctx, q, r.ID, r.Name, string(r.Type), r.TargetTable, r.TargetColumn, r.Logic,
		r.Parameters, r.Priority, string(r.Action), r.Active, r.Description, r.CreatedAt, r.UpdatedAt)
	if err != nil {
		if s.db.Dialect.IsUniqueViolation(err) {
			return Rule{}, fmt.Errorf("%w: %s", ErrRuleExists, r.ID)
		}
		return Rule{}, fmt.Errorf("rules: insert %s: %w", r.ID, err)
	}
	s.log.Info("rule created", zap.String("rule", r.ID), zap.String("type", string(r.Type)),
		zap.String("scope", r.Scope()), zap.Int("priority", r.Priority))
	return r, nil
}

func (in Input) rule() (Rule, error) {
	id := strings.ToUpper(strings.TrimSpace(in.ID))
	if id == "" {
		return Rule{}, errors.New("rules: rule id is required")
	}
	typ, err := ParseType(string(in.Type))
	if err != nil {
		return Rule{}, &ConfigError{RuleID: id, Err: err}
	}
	action := in.Action
	if action == "" {
		action = ActionLog
	}
	if action, err = ParseAction(string(action)); err != nil {
		return Rule{}, &ConfigError{RuleID: id, Err: err}
	}
	prio := in.Priority
	if prio == 0 {
		prio = DefaultPriority
	}
	if err := checkPriority(prio); err != nil {
		return Rule{}, &ConfigError{RuleID: id, Err: err}
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		name = id
	}
	r := Rule{
		ID:           id,
		Name:         name,
		Type:         typ,
		TargetTable:  storage.NullString(strings.ToUpper(strings.TrimSpace(in.TargetTable))),
		TargetColumn: storage.NullString(strings.ToUpper(strings.TrimSpace(in.TargetColumn))),
		Logic:        strings.TrimSpace(in.Logic),
		Priority:     prio,
		Action:       action,
		Description:  storage.NullString(in.Description),
	}
	if len(in.Parameters) > 0 {
		r.Parameters = storage.NullString(in.Parameters.JSON())
	}
	return r, nil
}

func checkPriority(p int) error {
	if p < MinPriority || p > MaxPriority {
		return fmt.Errorf("priority %d outside [%d, %d]", p, MinPriority, MaxPriority)
	}
	return nil
}

// Get returns one rule.
func (s *Store) Get(ctx context.Context, id string) (Rule, error) {
	var r Rule
	id = strings.ToUpper(strings.TrimSpace(id))
	q := s.db.Rebind(`SELECT ` + ruleCols + ` FROM ` + s.db.Meta(storage.TableRules) + ` WHERE rule_id = ?`)
	err := s.db.GetContext(ctx, &r, q, id)
	if errors.Is(err, sql.ErrNoRows) {
		return Rule{}, fmt.Errorf("rules: rule %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Rule{}, fmt.Errorf("rules: get %s: %w", id, err)
	}
	return r, nil
}

// Update lists the fields Store.Update changes; nil fields are kept.
type Update struct {
	Name         *string
	TargetTable  *string
	TargetColumn *string
	Logic        *string
	Parameters   *config.Options
	Priority     *int
	Action       *Action
	Description  *string
}

// Update edits a rule. The edited rule must still compile.
func (s *Store) Update(ctx context.Context, id string, u Update) (Rule, error) {
	r, err := s.Get(ctx, id)
	if err != nil {
		return Rule{}, err
	}
	if u.Name != nil {
		r.Name = strings.TrimSpace(*u.Name)
	}
	if u.TargetTable != nil {
		r.TargetTable = storage.NullString(strings.ToUpper(strings.TrimSpace(*u.TargetTable)))
	}
	if u.TargetColumn != nil {
		r.TargetColumn = storage.NullString(strings.ToUpper(strings.TrimSpace(*u.TargetColumn)))
	}
	if u.Logic != nil {
		r.Logic = strings.TrimSpace(*u.Logic)
	}
	if u.Parameters != nil {
		r.Parameters = sql.NullString{}
		if len(*u.Parameters) > 0 {
			r.Parameters = storage.NullString(u.Parameters.JSON())
		}
	}
	if u.Priority != nil {
		if err := checkPriority(*u.Priority); err != nil {
			return Rule{}, &ConfigError{RuleID: r.ID, Err: err}
		}
		r.Priority = *u.Priority
	}
	if u.Action != nil {
		a, err := ParseAction(string(*u.Action))
		if err != nil {
			return Rule{}, &ConfigError{RuleID: r.ID, Err: err}
		}
		r.Action = a
	}
	if u.Description != nil {
		r.Description = storage.NullString(*u.Description)
	}
	if _, err := Compile([]Rule{r}); err != nil {
		return Rule{}, err
	}
	r.UpdatedAt = s.now()

	q := s.db.Rebind(`UPDATE ` + s.db.Meta(storage.TableRules) + `
		SET rule_name = ?, target_table = ?, target_column = ?, rule_logic = ?, rule_parameters = ?,
		    priority = ?, error_action = ?, description = ?, updated_at = ?
		WHERE rule_id = ?`)
	if _, err := s.db.ExecContext(ctx, q, r.Name, r.TargetTable, r.TargetColumn, r.Logic, r.Parameters,
		r.Priority, string(r.Action), r.Description, r.UpdatedAt, r.ID); err != nil {
		return Rule{}, fmt.Errorf("rules: update %s: %w", r.ID, err)
	}
	return r, nil
}

// SetActive enables or disables a rule.
func (s *Store) SetActive(ctx context.Context, id string, active bool) error {
	id = strings.ToUpper(strings.TrimSpace(id))
	q := s.db.Rebind(`UPDATE ` + s.db.Meta(storage.TableRules) + ` SET active = ?, updated_at = ? WHERE rule_id = ?`)
	res, err := s.db.ExecContext(ctx, q, active, s.now(), id)
	if err != nil {
		return fmt.Errorf("rules: set active %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("rules: rule %s: %w", id, ErrNotFound)
	}
	s.log.Info("rule toggled", zap.String("rule", id), zap.Bool("active", active))
	return nil
}

// Delete removes a rule.
func (s *Store) Delete(ctx context.Context, id string) error {
	id = strings.ToUpper(strings.TrimSpace(id))
	q := s.db.Rebind(`DELETE FROM ` + s.db.Meta(storage.TableRules) + ` WHERE rule_id = ?`)
	res, err := s.db.ExecContext(ctx, q, id)
	if err != nil {
		return fmt.Errorf("rules: delete %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("rules: rule %s: %w", id, ErrNotFound)
	}
	return nil
}

// Filter narrows List. Zero fields match everything.
type Filter struct {
	Table      string
	Type       Type
	ActiveOnly bool
}

// List returns rules in evaluation order: priority, creation time, id.
func (s *Store) List(ctx context.Context, f Filter) ([]Rule, error) {
	var (
		where []string
		args  []any
	)
	if f.Table != "" {
		where = append(where, "target_table = ?")
		args = append(args, strings.ToUpper(f.Table))
	}
	if f.Type != "" {
		where = append(where, "rule_type = ?")
		args = append(args, string(f.Type))
	}
	if f.ActiveOnly {
		where = append(where, "active = ?")
		args = append(args, true)
	}
	q := `SELECT ` + ruleCols + ` FROM ` + s.db.Meta(storage.TableRules)
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY priority, created_at, rule_id`
	var out []Rule
	if err := s.db.SelectContext(ctx, &out, s.db.Rebind(q), args...); err != nil {
		return nil, fmt.Errorf("rules: list: %w", err)
	}
	return out, nil
}

// Applicable returns the active rules scoped to table or to every table,
// in evaluation order.
func (s *Store) Applicable(ctx context.Context, table string) ([]Rule, error) {
	q := s.db.Rebind(`SELECT ` + ruleCols + ` FROM ` + s.db.Meta(storage.TableRules) + `
		WHERE active = ? AND (target_table = ? OR target_table IS NULL)
		ORDER BY priority, created_at, rule_id`)
	var out []Rule
	if err := s.db.SelectContext(ctx, &out, q, true, strings.ToUpper(strings.TrimSpace(table))); err != nil {
		return nil, fmt.Errorf("rules: applicable to %s: %w", table, err)
	}
	return out, nil
}
