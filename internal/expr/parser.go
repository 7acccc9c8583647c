package expr

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"silver/pkg/records"
)

type parser struct {
	toks []token
	i    int
}

// reserved words that cannot start an operand.
var reserved = map[string]bool{
	"AND": true, "OR": true, "IS": true, "IN": true, "BETWEEN": true,
	"LIKE": true, "ILIKE": true, "RLIKE": true, "REGEXP": true,
	"WHEN": true, "THEN": true, "ELSE": true, "END": true, "AS": true,
}

// niladic functions that may be written without parentheses.
var niladic = map[string]bool{
	"CURRENT_DATE":      true,
	"CURRENT_TIMESTAMP": true,
	"CURRENT_USER":      true,
}

func parseTokens(src string, toks []token) (*Expr, error) {
	p := &parser{toks: toks}
	if p.peek().kind == tokEOF {
		return nil, &SyntaxError{Pos: 0, Msg: "empty expression"}
	}
	root, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.kind != tokEOF {
		return nil, p.errorf(t, "unexpected %q", t.text)
	}
	return &Expr{src: src, root: root}, nil
}

func (p *parser) peek() token { return p.toks[p.i] }

func (p *parser) peekAt(k int) token {
	if p.i+k >= len(p.toks) {
		return p.toks[len(p.toks)-1]
	}
	return p.toks[p.i+k]
}

func (p *parser) next() token {
	t := p.toks[p.i]
	if t.kind != tokEOF {
		p.i++
	}
	return t
}

func (p *parser) errorf(t token, format string, args ...any) error {
	return &SyntaxError{Pos: t.pos, Msg: fmt.Sprintf(format, args...)}
}

func (p *parser) expectSymbol(sym string) error {
	t := p.next()
	if !t.is(sym) {
		return p.errorf(t, "expected %q, found %q", sym, t.text)
	}
	return nil
}

func (p *parser) expectKeyword(kw string) error {
	t := p.next()
	if !t.keyword(kw) {
		return p.errorf(t, "expected %s, found %q", kw, t.text)
	}
	return nil
}

func (p *parser) parseExpr() (node, error) { return p.parseOr() }

func (p *parser) parseOr() (node, error) {
	l, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.peek().keyword("OR") {
		p.next()
		r, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		l = &binary{op: "OR", l: l, r: r}
	}
	return l, nil
}

func (p *parser) parseAnd() (node, error) {
	l, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.peek().keyword("AND") {
		p.next()
		r, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		l = &binary{op: "AND", l: l, r: r}
	}
	return l, nil
}

func (p *parser) parseNot() (node, error) {
	if p.peek().keyword("NOT") {
		p.next()
		x, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return &unary{op: "NOT", x: x}, nil
	}
	return p.parsePredicate()
}

func (p *parser) parsePredicate() (node, error) {
	left, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}

	negate := false
	if p.peek().keyword("NOT") {
		switch p.peekAt(1).upper() {
		case "IN", "BETWEEN", "LIKE", "ILIKE", "RLIKE", "REGEXP":
			p.next()
			negate = true
		}
	}

	t := p.peek()
	switch kw := t.upper(); {
	case kw == "IS" && !negate:
		p.next()
		not := false
		if p.peek().keyword("NOT") {
			p.next()
			not = true
		}
		if err := p.expectKeyword("NULL"); err != nil {
			return nil, err
		}
		return &isNull{x: left, not: not}, nil

	case kw == "IN":
		p.next()
		if err := p.expectSymbol("("); err != nil {
			return nil, err
		}
		var list []node
		for {
			item, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			list = append(list, item)
			if p.peek().is(",") {
				p.next()
				continue
			}
			break
		}
		if err := p.expectSymbol(")"); err != nil {
			return nil, err
		}
		return &inList{x: left, list: list, not: negate}, nil

	case kw == "BETWEEN":
		p.next()
		lo, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		if err := p.expectKeyword("AND"); err != nil {
			return nil, err
		}
		hi, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		return &between{x: left, lo: lo, hi: hi, not: negate}, nil

	case kw == "LIKE" || kw == "ILIKE" || kw == "RLIKE" || kw == "REGEXP":
		p.next()
		pat, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		m := &match{x: left, pat: pat, op: kw, not: negate}
		if lit, ok := pat.(*literal); ok && lit.v.Kind() == records.KindString {
			re, err := compilePattern(kw, lit.v.Str())
			if err != nil {
				return nil, p.errorf(t, "bad pattern: %v", err)
			}
			m.re = re
		}
		return m, nil
	}

	if t.kind == tokSymbol {
		switch t.text {
		case "=", "!=", "<>", "<", "<=", ">", ">=":
			p.next()
			r, err := p.parseAdditive()
			if err != nil {
				return nil, err
			}
			return &binary{op: t.text, l: left, r: r}, nil
		}
	}
	return left, nil
}

func (p *parser) parseAdditive() (node, error) {
	l, err := p.parseMultiplicative()
	if err != nil {
		return nil, err
	}
	for {
		t := p.peek()
		if !(t.is("+") || t.is("-") || t.is("||")) {
			return l, nil
		}
		p.next()
		r, err := p.parseMultiplicative()
		if err != nil {
			return nil, err
		}
		l = &binary{op: t.text, l: l, r: r}
	}
}

func (p *parser) parseMultiplicative() (node, error) {
	l, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		t := p.peek()
		if !(t.is("*") || t.is("/") || t.is("%")) {
			return l, nil
		}
		p.next()
		r, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		l = &binary{op: t.text, l: l, r: r}
	}
}

func (p *parser) parseUnary() (node, error) {
	t := p.peek()
	if t.is("-") || t.is("+") {
		p.next()
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		if t.text == "+" {
			return x, nil
		}
		return &unary{op: "-", x: x}, nil
	}
	return p.parsePostfix()
}

func (p *parser) parsePostfix() (node, error) {
	x, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for p.peek().is("::") {
		p.next()
		typ, err := p.parseType()
		if err != nil {
			return nil, err
		}
		x = &cast{x: x, typ: typ}
	}
	return x, nil
}

func (p *parser) parseType() (records.Type, error) {
	t := p.next()
	if t.kind != tokIdent {
		return records.Type{}, p.errorf(t, "expected type name, found %q", t.text)
	}
	src := t.text
	if p.peek().is("(") {
		p.next()
		var params []string
		for {
			n := p.next()
			if n.kind != tokNumber {
				return records.Type{}, p.errorf(n, "expected type parameter, found %q", n.text)
			}
			params = append(params, n.text)
			if p.peek().is(",") {
				p.next()
				continue
			}
			break
		}
		if err := p.expectSymbol(")"); err != nil {
			return records.Type{}, err
		}
		src += "(" + strings.Join(params, ",") + ")"
	}
	typ, err := records.ParseType(src)
	if err != nil {
		return records.Type{}, p.errorf(t, "%v", err)
	}
	return typ, nil
}

func (p *parser) parsePrimary() (node, error) {
	t := p.next()
	switch t.kind {
	case tokNumber:
		d, err := decimal.NewFromString(t.text)
		if err != nil {
			return nil, p.errorf(t, "bad number %q", t.text)
		}
		return &literal{v: records.Number(d)}, nil
	case tokString:
		return &literal{v: records.String(t.text)}, nil
	case tokQuoted:
		return &ident{name: t.text}, nil
	case tokSymbol:
		if t.text == "(" {
			x, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			if err := p.expectSymbol(")"); err != nil {
				return nil, err
			}
			return x, nil
		}
		return nil, p.errorf(t, "unexpected %q", t.text)
	case tokEOF:
		return nil, p.errorf(t, "unexpected end of expression")
	}

	kw := t.upper()
	switch kw {
	case "TRUE":
		return &literal{v: records.Bool(true)}, nil
	case "FALSE":
		return &literal{v: records.Bool(false)}, nil
	case "NULL":
		return &literal{v: records.Null}, nil
	case "CASE":
		return p.parseCase()
	case "CAST":
		return p.parseCast()
	}
	if reserved[kw] || kw == "NOT" {
		return nil, p.errorf(t, "unexpected keyword %s", kw)
	}

	if p.peek().is("(") {
		return p.parseCall(t)
	}
	if niladic[kw] {
		return &call{name: kw, fn: functions[kw]}, nil
	}
	return &ident{name: t.text}, nil
}

func (p *parser) parseCall(name token) (node, error) {
	kw := name.upper()
	fn, ok := functions[kw]
	if !ok {
		return nil, p.errorf(name, "unknown function %s", name.text)
	}
	p.next() // (
	var args []node
	if !p.peek().is(")") {
		for {
			a, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			args = append(args, a)
			if p.peek().is(",") {
				p.next()
				continue
			}
			break
		}
	}
	if err := p.expectSymbol(")"); err != nil {
		return nil, err
	}
	if len(args) < fn.min || (fn.max >= 0 && len(args) > fn.max) {
		return nil, p.errorf(name, "%s: wrong number of arguments (%d)", kw, len(args))
	}
	if fn.unitArg && len(args) > 0 {
		// DATEDIFF(day, a, b): the unit is a bare word, not a column.
		if id, ok := args[0].(*ident); ok {
			args[0] = &literal{v: records.String(id.name)}
		}
		if lit, ok := args[0].(*literal); ok {
			if _, err := parseUnit(lit.v.Text()); err != nil {
				return nil, p.errorf(name, "%s: %v", kw, err)
			}
		}
	}
	return &call{name: kw, fn: fn, args: args}, nil
}

func (p *parser) parseCase() (node, error) {
	c := &caseExpr{}
	if !p.peek().keyword("WHEN") {
		op, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		c.operand = op
	}
	for p.peek().keyword("WHEN") {
		p.next()
		cond, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if err := p.expectKeyword("THEN"); err != nil {
			return nil, err
		}
		then, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		c.whens = append(c.whens, when{cond: cond, then: then})
	}
	if len(c.whens) == 0 {
		return nil, p.errorf(p.peek(), "CASE requires at least one WHEN")
	}
	if p.peek().keyword("ELSE") {
		p.next()
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		c.els = e
	}
	if err := p.expectKeyword("END"); err != nil {
		return nil, err
	}
	return c, nil
}

func (p *parser) parseCast() (node, error) {
	if err := p.expectSymbol("("); err != nil {
		return nil, err
	}
	x, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if err := p.expectKeyword("AS"); err != nil {
		return nil, err
	}
	typ, err := p.parseType()
	if err != nil {
		return nil, err
	}
	if err := p.expectSymbol(")"); err != nil {
		return nil, err
	}
	return &cast{x: x, typ: typ}, nil
}
