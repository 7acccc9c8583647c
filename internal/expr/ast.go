package expr

import (
	"fmt"
	"regexp"
	"strings"

	"silver/pkg/records"
)

type node interface {
	eval(env *Env) (records.Value, error)
	String() string
}

type literal struct{ v records.Value }

func (n *literal) eval(*Env) (records.Value, error) { return n.v, nil }
func (n *literal) String() string {
	if n.v.Kind() == records.KindString {
		return "'" + strings.ReplaceAll(n.v.Str(), "'", "''") + "'"
	}
	return n.v.String()
}

type ident struct{ name string }

func (n *ident) eval(env *Env) (records.Value, error) {
	if env.Row == nil {
		return records.Null, nil
	}
	return env.Row.Value(n.name), nil
}
func (n *ident) String() string { return n.name }

type unary struct {
	op string // "-" or "NOT"
	x  node
}

func (n *unary) eval(env *Env) (records.Value, error) {
	v, err := n.x.eval(env)
	if err != nil || v.IsNull() {
		return records.Null, err
	}
	if n.op == "NOT" {
		b, known, err := truth(v)
		if err != nil || !known {
			return records.Null, err
		}
		return records.Bool(!b), nil
	}
	d, err := records.ToDecimal(v)
	if err != nil {
		return records.Null, err
	}
	return records.Number(d.Neg()), nil
}
func (n *unary) String() string {
	if n.op == "NOT" {
		return "NOT " + n.x.String()
	}
	return n.op + n.x.String()
}

type binary struct {
	op   string
	l, r node
}

func (n *binary) String() string { return "(" + n.l.String() + " " + n.op + " " + n.r.String() + ")" }

func (n *binary) eval(env *Env) (records.Value, error) {
	switch n.op {
	case "AND", "OR":
		return n.logical(env)
	}
	l, err := n.l.eval(env)
	if err != nil {
		return records.Null, err
	}
	r, err := n.r.eval(env)
	if err != nil {
		return records.Null, err
	}
	if l.IsNull() || r.IsNull() {
		return records.Null, nil
	}
	switch n.op {
	case "||":
		return records.String(l.Text() + r.Text()), nil
	case "=", "!=", "<>", "<", "<=", ">", ">=":
		c, err := compare(l, r, env)
		if err != nil {
			return records.Null, err
		}
		return records.Bool(cmpHolds(n.op, c)), nil
	}
	a, err := records.ToDecimal(l)
	if err != nil {
		return records.Null, err
	}
	b, err := records.ToDecimal(r)
	if err != nil {
		return records.Null, err
	}
	switch n.op {
	case "+":
		return records.Number(a.Add(b)), nil
	case "-":
		return records.Number(a.Sub(b)), nil
	case "*":
		return records.Number(a.Mul(b)), nil
	case "/":
		if b.IsZero() {
			return records.Null, fmt.Errorf("division by zero")
		}
		return records.Number(a.Div(b)), nil
	case "%":
		if b.IsZero() {
			return records.Null, fmt.Errorf("division by zero")
		}
		return records.Number(a.Mod(b)), nil
	}
	return records.Null, fmt.Errorf("unknown operator %s", n.op)
}

// logical implements three-valued AND/OR with short-circuiting.
func (n *binary) logical(env *Env) (records.Value, error) {
	lv, err := n.l.eval(env)
	if err != nil {
		return records.Null, err
	}
	lb, lknown, err := truth(lv)
	if err != nil {
		return records.Null, err
	}
	if lknown && ((n.op == "AND" && !lb) || (n.op == "OR" && lb)) {
		return records.Bool(lb), nil
	}
	rv, err := n.r.eval(env)
	if err != nil {
		return records.Null, err
	}
	rb, rknown, err := truth(rv)
	if err != nil {
		return records.Null, err
	}
	if rknown && ((n.op == "AND" && !rb) || (n.op == "OR" && rb)) {
		return records.Bool(rb), nil
	}
	if !lknown || !rknown {
		return records.Null, nil
	}
	return records.Bool(rb), nil
}

type isNull struct {
	x   node
	not bool
}

func (n *isNull) eval(env *Env) (records.Value, error) {
	v, err := n.x.eval(env)
	if err != nil {
		return records.Null, err
	}
	return records.Bool(v.IsNull() != n.not), nil
}
func (n *isNull) String() string {
	if n.not {
		return n.x.String() + " IS NOT NULL"
	}
	return n.x.String() + " IS NULL"
}

type inList struct {
	x    node
	list []node
	not  bool
}

func (n *inList) eval(env *Env) (records.Value, error) {
	v, err := n.x.eval(env)
	if err != nil || v.IsNull() {
		return records.Null, err
	}
	sawNull := false
	for _, item := range n.list {
		iv, err := item.eval(env)
		if err != nil {
			return records.Null, err
		}
		if iv.IsNull() {
			sawNull = true
			continue
		}
		c, err := compare(v, iv, env)
		if err != nil {
			return records.Null, err
		}
		if c == 0 {
			return records.Bool(!n.not), nil
		}
	}
	if sawNull {
		return records.Null, nil
	}
	return records.Bool(n.not), nil
}
func (n *inList) String() string {
	parts := make([]string, len(n.list))
	for i, x := range n.list {
		parts[i] = x.String()
	}
	op := " IN ("
	if n.not {
		op = " NOT IN ("
	}
	return n.x.String() + op + strings.Join(parts, ", ") + ")"
}

type between struct {
	x, lo, hi node
	not       bool
}

func (n *between) eval(env *Env) (records.Value, error) {
	v, err := n.x.eval(env)
	if err != nil {
		return records.Null, err
	}
	lo, err := n.lo.eval(env)
	if err != nil {
		return records.Null, err
	}
	hi, err := n.hi.eval(env)
	if err != nil {
		return records.Null, err
	}
	if v.IsNull() || lo.IsNull() || hi.IsNull() {
		return records.Null, nil
	}
	c1, err := compare(v, lo, env)
	if err != nil {
		return records.Null, err
	}
	c2, err := compare(v, hi, env)
	if err != nil {
		return records.Null, err
	}
	in := c1 >= 0 && c2 <= 0
	return records.Bool(in != n.not), nil
}
func (n *between) String() string {
	op := " BETWEEN "
	if n.not {
		op = " NOT BETWEEN "
	}
	return n.x.String() + op + n.lo.String() + " AND " + n.hi.String()
}

// match covers LIKE, ILIKE and RLIKE/REGEXP. re is precompiled when the
// pattern is a literal.
type match struct {
	x, pat node
	op     string
	not    bool
	re     *regexp.Regexp
}

func (n *match) eval(env *Env) (records.Value, error) {
	v, err := n.x.eval(env)
	if err != nil || v.IsNull() {
		return records.Null, err
	}
	re := n.re
	if re == nil {
		p, err := n.pat.eval(env)
		if err != nil || p.IsNull() {
			return records.Null, err
		}
		if re, err = compilePattern(n.op, p.Text()); err != nil {
			return records.Null, err
		}
	}
	return records.Bool(re.MatchString(v.Text()) != n.not), nil
}
func (n *match) String() string {
	op := " " + n.op + " "
	if n.not {
		op = " NOT" + op
	}
	return n.x.String() + op + n.pat.String()
}

func compilePattern(op, pat string) (*regexp.Regexp, error) {
	switch op {
	case "RLIKE", "REGEXP":
		return regexp.Compile(`^(?:` + pat + `)$`)
	}
	var sb strings.Builder
	sb.WriteString("(?s)")
	if op == "ILIKE" {
		sb.WriteString("(?i)")
	}
	sb.WriteByte('^')
	for _, r := range pat {
		switch r {
		case '%':
			sb.WriteString(".*")
		case '_':
			sb.WriteByte('.')
		default:
			sb.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	sb.WriteByte('$')
	return regexp.Compile(sb.String())
}

type when struct{ cond, then node }

type caseExpr struct {
	operand node
	whens   []when
	els     node
}

func (n *caseExpr) eval(env *Env) (records.Value, error) {
	var op records.Value
	if n.operand != nil {
		v, err := n.operand.eval(env)
		if err != nil {
			return records.Null, err
		}
		op = v
	}
	for _, w := range n.whens {
		c, err := w.cond.eval(env)
		if err != nil {
			return records.Null, err
		}
		hit := false
		if n.operand != nil {
			if !op.IsNull() && !c.IsNull() {
				cmp, err := compare(op, c, env)
				if err != nil {
					return records.Null, err
				}
				hit = cmp == 0
			}
		} else {
			b, known, err := truth(c)
			if err != nil {
				return records.Null, err
			}
			hit = known && b
		}
		if hit {
			return w.then.eval(env)
		}
	}
	if n.els != nil {
		return n.els.eval(env)
	}
	return records.Null, nil
}
func (n *caseExpr) String() string {
	var sb strings.Builder
	sb.WriteString("CASE")
	if n.operand != nil {
		sb.WriteString(" " + n.operand.String())
	}
	for _, w := range n.whens {
		sb.WriteString(" WHEN " + w.cond.String() + " THEN " + w.then.String())
	}
	if n.els != nil {
		sb.WriteString(" ELSE " + n.els.String())
	}
	sb.WriteString(" END")
	return sb.String()
}

type cast struct {
	x   node
	typ records.Type
}

func (n *cast) eval(env *Env) (records.Value, error) {
	v, err := n.x.eval(env)
	if err != nil {
		return records.Null, err
	}
	return records.Cast(v, n.typ, env.Layouts)
}
func (n *cast) String() string { return n.x.String() + "::" + n.typ.String() }

type call struct {
	name string
	fn   *function
	args []node
}

func (n *call) eval(env *Env) (records.Value, error) {
	if n.fn.lazy != nil {
		return n.fn.lazy(env, n.args)
	}
	vals := make([]records.Value, len(n.args))
	for i, a := range n.args {
		v, err := a.eval(env)
		if err != nil {
			return records.Null, err
		}
		if v.IsNull() && n.fn.strict {
			return records.Null, nil
		}
		vals[i] = v
	}
	v, err := n.fn.call(env, vals)
	if err != nil {
		return records.Null, fmt.Errorf("%s: %w", n.name, err)
	}
	return v, nil
}
func (n *call) String() string {
	parts := make([]string, len(n.args))
	for i, a := range n.args {
		parts[i] = a.String()
	}
	return n.name + "(" + strings.Join(parts, ", ") + ")"
}

func walk(n node, fn func(node)) {
	if n == nil {
		return
	}
	fn(n)
	switch t := n.(type) {
	case *unary:
		walk(t.x, fn)
	case *binary:
		walk(t.l, fn)
		walk(t.r, fn)
	case *isNull:
		walk(t.x, fn)
	case *inList:
		walk(t.x, fn)
		for _, x := range t.list {
			walk(x, fn)
		}
	case *between:
		walk(t.x, fn)
		walk(t.lo, fn)
		walk(t.hi, fn)
	case *match:
		walk(t.x, fn)
		walk(t.pat, fn)
	case *caseExpr:
		walk(t.operand, fn)
		for _, w := range t.whens {
			walk(w.cond, fn)
			walk(w.then, fn)
		}
		walk(t.els, fn)
	case *cast:
		walk(t.x, fn)
	case *call:
		for _, a := range t.args {
			walk(a, fn)
		}
	}
}

// truth interprets v as a boolean. known is false for NULL.
func truth(v records.Value) (b, known bool, err error) {
	if v.IsNull() {
		return false, false, nil
	}
	b, err = records.ToBool(v)
	if err != nil {
		return false, false, err
	}
	return b, true, nil
}

// compare orders two non-null values, coercing strings towards the other
// operand's kind the way a SQL engine's implicit casts do.
func compare(a, b records.Value, env *Env) (int, error) {
	ka, kb := a.Kind(), b.Kind()
	switch {
	case ka == records.KindBool || kb == records.KindBool:
		return cmpBool(a, b)
	case ka == records.KindNumber || kb == records.KindNumber:
		x, err := records.ToDecimal(a)
		if err != nil {
			return 0, err
		}
		y, err := records.ToDecimal(b)
		if err != nil {
			return 0, err
		}
		return x.Cmp(y), nil
	case ka == records.KindTime || kb == records.KindTime:
		x, err := records.ToTime(a, env.Layouts)
		if err != nil {
			return 0, err
		}
		y, err := records.ToTime(b, env.Layouts)
		if err != nil {
			return 0, err
		}
		return x.Compare(y), nil
	default:
		return strings.Compare(a.Text(), b.Text()), nil
	}
}

func cmpBool(a, b records.Value) (int, error) {
	x, err := records.ToBool(a)
	if err != nil {
		return 0, err
	}
	y, err := records.ToBool(b)
	if err != nil {
		return 0, err
	}
	switch {
	case x == y:
		return 0, nil
	case !x:
		return -1, nil
	default:
		return 1, nil
	}
}

func cmpHolds(op string, c int) bool {
	switch op {
	case "=":
		return c == 0
	case "!=", "<>":
		return c != 0
	case "<":
		return c < 0
	case "<=":
		return c <= 0
	case ">":
		return c > 0
	default:
		return c >= 0
	}
}
