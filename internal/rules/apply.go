package rules

import (
	"context"
	"fmt"
	"strings"
	"time"

	"silver/internal/expr"
	"silver/pkg/records"
)

// Scope selects which compiled rules apply and carries evaluation context.
type Scope struct {
	// Table skips rules bound to a different table. Empty applies all.
	Table string
	// Column, when set, skips column-scoped rules on other columns.
	Column string
	// Types holds the declared column types; derived values are cast to
	// them before assignment.
	Types   map[string]records.Type
	Now     time.Time
	User    string
	Layouts []string
}

// Rejection is a row removed by a rule.
type Rejection struct {
	Row    *records.Record
	RuleID string
	Detail string
	Action Action
	// Index is the row's position in the input.
	Index int
}

// Outcome aggregates one rule's evaluation.
type Outcome struct {
	RuleID    string
	Type      Type
	Column    string
	Action    Action
	Evaluated int
	Passed    int
	Failed    int
	Logged    int
	Errored   int
}

// Result of Program.Apply. Accepted keeps input order.
type Result struct {
	Accepted   []*records.Record
	Rejected   []Rejection
	Outcomes   []Outcome
	Violations int
}

// Apply evaluates the program over rows. Rows are modified in place by
// BUSINESS_LOGIC and STANDARDIZATION rules. Once a row is removed no later
// rule sees it. Evaluation errors count as violations of the failing rule.
func (p *Program) Apply(ctx context.Context, rows []*records.Record, scope Scope) (Result, error) {
	scope.Table = strings.ToUpper(scope.Table)
	scope.Column = strings.ToUpper(scope.Column)

	a := &applier{
		scope:   scope,
		removed: make([]bool, len(rows)),
		rows:    rows,
	}
	var active []*step
	for _, st := range append(append([]*step(nil), p.steps...), p.dedups...) {
		if st.applies(scope) {
			active = append(active, st)
		}
	}
	a.outcomes = make([]Outcome, len(active))
	for i, st := range active {
		a.outcomes[i] = Outcome{RuleID: st.rule.ID, Type: st.rule.Type, Column: st.column, Action: st.rule.Action}
	}

	for i, row := range rows {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return Result{}, err
			}
		}
		for j, st := range active {
			if a.removed[i] {
				break
			}
			if st.rule.Type == Deduplication {
				continue
			}
			a.evalRow(j, st, i, row)
		}
	}
	for j, st := range active {
		if st.rule.Type == Deduplication {
			a.dedup(j, st)
		}
	}

	res := Result{Rejected: a.rejected, Outcomes: a.outcomes, Violations: a.violations}
	for i, row := range rows {
		if !a.removed[i] {
			res.Accepted = append(res.Accepted, row)
		}
	}
	return res, nil
}

func (st *step) applies(s Scope) bool {
	if st.rule.TargetTable.Valid && s.Table != "" && !strings.EqualFold(st.rule.TargetTable.String, s.Table) {
		return false
	}
	if s.Column != "" && st.column != "" && st.column != s.Column {
		return false
	}
	return true
}

type applier struct {
	scope      Scope
	rows       []*records.Record
	removed    []bool
	rejected   []Rejection
	outcomes   []Outcome
	violations int
	// perColumn caches row-level STANDARDIZATION expressions.
	perColumn map[string]*expr.Expr
}

func (a *applier) env(row *records.Record) *expr.Env {
	return &expr.Env{Row: row, Now: a.scope.Now, User: a.scope.User, Layouts: a.scope.Layouts}
}

func (a *applier) evalRow(j int, st *step, i int, row *records.Record) {
	o := &a.outcomes[j]
	o.Evaluated++
	var (
		detail string
		err    error
	)
	switch st.rule.Type {
	case DataQuality:
		var ok bool
		ok, err = st.expr.Test(a.env(row))
		if err == nil && !ok {
			detail = fmt.Sprintf("rule %s failed: %s", st.rule.ID, describe(st))
		}
	case BusinessLogic:
		err = a.assign(st.expr, st.column, row)
	case Standardization:
		if st.column != "" {
			if row.Has(st.column) {
				err = a.assign(st.expr, st.column, row)
			}
			break
		}
		err = a.standardizeAll(st, row)
	}
	if err != nil {
		o.Errored++
		detail = fmt.Sprintf("rule %s evaluation error: %v", st.rule.ID, err)
	}
	if detail == "" {
		o.Passed++
		return
	}
	a.violate(j, st, i, row, detail)
}

func (a *applier) violate(j int, st *step, i int, row *records.Record, detail string) {
	o := &a.outcomes[j]
	o.Failed++
	a.violations++
	if !st.rule.Action.Removes() {
		o.Logged++
		return
	}
	a.removed[i] = true
	a.rejected = append(a.rejected, Rejection{
		Row:    row.Clone(),
		RuleID: st.rule.ID,
		Detail: detail,
		Action: st.rule.Action,
		Index:  i,
	})
}

// assign evaluates e and stores the result in column, cast to its declared
// type when known.
func (a *applier) assign(e *expr.Expr, column string, row *records.Record) error {
	v, err := e.Eval(a.env(row))
	if err != nil {
		return err
	}
	if t, ok := a.scope.Types[strings.ToUpper(column)]; ok && !v.IsNull() {
		if v, err = records.Cast(v, t, a.scope.Layouts); err != nil {
			return fmt.Errorf("%s: %w", column, err)
		}
	}
	row.Set(column, v)
	return nil
}

// standardizeAll applies a row-level STANDARDIZATION rule to every
// string-valued column.
func (a *applier) standardizeAll(st *step, row *records.Record) error {
	var firstErr error
	for _, name := range row.Names() {
		if row.Value(name).Kind() != records.KindString {
			continue
		}
		k := st.rule.ID + "\x00" + name
		e, ok := a.perColumn[k]
		if !ok {
			var err error
			if e, err = expr.ParseTransform(st.rule.Logic, name); err != nil {
				return err
			}
			if a.perColumn == nil {
				a.perColumn = map[string]*expr.Expr{}
			}
			a.perColumn[k] = e
		}
		if err := a.assign(e, name, row); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func describe(st *step) string {
	if st.column != "" {
		return st.column + " " + st.rule.Logic
	}
	return st.rule.Logic
}
