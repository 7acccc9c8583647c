package transform

import (
	"fmt"
	"strings"
	"time"

	"silver/internal/expr"
	"silver/internal/mapping"
	"silver/internal/schema"
	"silver/pkg/records"
)

// source is one approved mapping compiled for MAP.
type source struct {
	id    int64
	field string
	logic *expr.Expr // nil casts the field directly
}

// target is one declared column and the mappings feeding it, in
// precedence order.
type target struct {
	name     string
	typ      records.Type
	nullable bool
	def      *expr.Expr
	sources  []source
}

// plan is the compiled MAP step of one run.
type plan struct {
	table   schema.Table
	columns []target
	keys    []string
	types   map[string]records.Type
	layouts []string
	now     time.Time
	user    string
}

// compilePlan resolves the declaration and the approved mappings into a
// plan. Every failure here is a configuration error.
func compilePlan(t schema.Table, maps []mapping.Mapping, layouts []string) (*plan, error) {
	if len(maps) == 0 {
		return nil, fmt.Errorf("no approved mappings into %s", t.Name)
	}
	p := &plan{
		table:   t,
		keys:    t.Keys(),
		types:   make(map[string]records.Type, len(t.Columns)),
		layouts: layouts,
	}
	index := make(map[string]int, len(t.Columns))
	for _, c := range t.Columns {
		typ, err := c.Type()
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", c.Name, err)
		}
		col := target{name: c.Name, typ: typ, nullable: c.Nullable}
		if d := strings.TrimSpace(c.Default.String); c.Default.Valid && d != "" {
			if col.def, err = expr.Parse(d); err != nil {
				return nil, fmt.Errorf("column %s default: %w", c.Name, err)
			}
		}
		index[strings.ToUpper(c.Name)] = len(p.columns)
		p.types[strings.ToUpper(c.Name)] = typ
		p.columns = append(p.columns, col)
	}

	for _, m := range maps {
		i, ok := index[strings.ToUpper(m.TargetColumn)]
		if !ok {
			// Mapping onto a deactivated column.
			continue
		}
		s := source{id: m.ID, field: m.SourceField}
		if logic := strings.TrimSpace(m.Transformation.String); m.Transformation.Valid && logic != "" {
			e, err := expr.ParseTransform(logic, m.SourceField)
			if err != nil {
				return nil, fmt.Errorf("mapping %d (%s -> %s): %w", m.ID, m.SourceField, m.TargetColumn, err)
			}
			s.logic = e
		}
		p.columns[i].sources = append(p.columns[i].sources, s)
	}
	return p, nil
}

func (p *plan) env(row *records.Record) *expr.Env {
	return &expr.Env{Row: row, Now: p.now, User: p.user, Layouts: p.layouts}
}

// mapRow projects one decoded source row onto the target columns. The
// first non-null value among a column's mappings wins; a column without
// one takes its default. An unmapped non-nullable column without a default
// is a MappingGapError; a mapped one that ends up null is checked after
// the rules ran.
func (p *plan) mapRow(src *records.Record) (*records.Record, error) {
	out := records.New(len(p.columns))
	srcEnv := p.env(src)
	for _, c := range p.columns {
		v := records.Null
		for _, s := range c.sources {
			var (
				raw records.Value
				err error
			)
			if s.logic != nil {
				if raw, err = s.logic.Eval(srcEnv); err != nil {
					return nil, &MappingGapError{Column: c.name, Reason: ReasonTransform, Err: err}
				}
			} else {
				raw = src.Value(s.field)
			}
			if raw.IsNull() {
				continue
			}
			if v, err = records.Cast(raw, c.typ, p.layouts); err != nil {
				return nil, &MappingGapError{Column: c.name, Reason: ReasonCast, Err: err}
			}
			break
		}

		if v.IsNull() && c.def != nil {
			d, err := c.def.Eval(p.env(out))
			if err != nil {
				return nil, &MappingGapError{Column: c.name, Reason: ReasonDefault, Err: err}
			}
			if !d.IsNull() {
				if v, err = records.Cast(d, c.typ, p.layouts); err != nil {
					return nil, &MappingGapError{Column: c.name, Reason: ReasonCast, Err: err}
				}
			}
		}
		if v.IsNull() && !c.nullable && len(c.sources) == 0 {
			return nil, &MappingGapError{Column: c.name, Reason: ReasonUnmapped}
		}
		out.Set(c.name, v)
	}
	return out, nil
}

// required returns the first non-nullable column of row holding NULL.
func (p *plan) required(row *records.Record) error {
	for _, c := range p.columns {
		if !c.nullable && row.Value(c.name).IsNull() {
			return &MappingGapError{Column: c.name, Reason: ReasonRequiredNull}
		}
	}
	return nil
}
