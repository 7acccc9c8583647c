package rules

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"silver/internal/config"
	"silver/internal/expr"
)

// Program is a compiled, ordered rule set. It is immutable.
type Program struct {
	steps  []*step // non-dedup tier
	dedups []*step
}

type step struct {
	rule   Rule
	column string
	// expr is nil for row-level STANDARDIZATION, which compiles per column
	// at apply time, and for DEDUPLICATION.
	expr     *expr.Expr
	keys     []string
	strategy string
}

// Compile validates rules and orders them into the two evaluation tiers.
// Each tier runs by priority, then creation time, then rule id.
func Compile(rules []Rule) (*Program, error) {
	sorted := append([]Rule(nil), rules...)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})

	p := &Program{}
	for _, r := range sorted {
		st, err := compileRule(r)
		if err != nil {
			return nil, &ConfigError{RuleID: r.ID, Err: err}
		}
		if r.Type == Deduplication {
			p.dedups = append(p.dedups, st)
		} else {
			p.steps = append(p.steps, st)
		}
	}
	return p, nil
}

func compileRule(r Rule) (*step, error) {
	if _, err := ParseAction(string(r.Action)); err != nil {
		return nil, err
	}
	if strings.TrimSpace(r.Logic) == "" {
		return nil, errors.New("rule logic is empty")
	}
	st := &step{rule: r, column: r.Column()}
	var err error
	switch r.Type {
	case DataQuality:
		if st.column != "" {
			st.expr, err = expr.ParsePredicate(r.Logic, st.column)
		} else {
			st.expr, err = expr.Parse(r.Logic)
		}
	case BusinessLogic:
		if st.column == "" {
			return nil, errors.New("BUSINESS_LOGIC rules need a target column")
		}
		st.expr, err = expr.ParseTransform(r.Logic, st.column)
	case Standardization:
		if st.column != "" {
			st.expr, err = expr.ParseTransform(r.Logic, st.column)
		} else {
			// Checked here, compiled per column in Apply.
			_, err = expr.ParseTransform(r.Logic, "VALUE")
		}
	case Deduplication:
		err = st.compileDedup()
	default:
		return nil, fmt.Errorf("unknown rule type %q", r.Type)
	}
	if err != nil {
		return nil, err
	}
	return st, nil
}

func (st *step) compileDedup() error {
	params, err := config.ParseOptions(st.rule.Parameters.String)
	if err != nil {
		return fmt.Errorf("parameters: %w", err)
	}
	st.strategy = strings.ToUpper(params.String("strategy", KeepFirst))
	switch st.strategy {
	case KeepFirst, KeepLast, QuarantineAll:
	default:
		return fmt.Errorf("unknown dedup strategy %q", st.strategy)
	}
	for _, k := range strings.Split(st.rule.Logic, ",") {
		if k = strings.ToUpper(strings.TrimSpace(k)); k != "" {
			st.keys = append(st.keys, k)
		}
	}
	if len(st.keys) == 0 {
		return errors.New("dedup rule needs at least one key column")
	}
	return nil
}

// Rules returns the compiled rules in evaluation order.
func (p *Program) Rules() []Rule {
	out := make([]Rule, 0, len(p.steps)+len(p.dedups))
	for _, st := range p.steps {
		out = append(out, st.rule)
	}
	for _, st := range p.dedups {
		out = append(out, st.rule)
	}
	return out
}

// Len is the number of compiled rules.
func (p *Program) Len() int { return len(p.steps) + len(p.dedups) }
