// Package expr implements the restricted expression language used by mapping
// transformations and transformation rules.
//
// Expressions are parsed once into an AST and interpreted against a row; they
// are never turned into SQL. The language is a small SQL-flavoured subset:
//
//	TRIM(UPPER(name))
//	COALESCE(phone, mobile, 'UNKNOWN')
//	CASE WHEN amount > 100 THEN 'HIGH' ELSE 'LOW' END
//	DATEDIFF(day, start_date, end_date)
//	status IN ('ACTIVE', 'INACTIVE')
//	phone RLIKE '[0-9]{10}'
//	amount::NUMBER(10,2)
//
// Comparisons and predicates use SQL three-valued logic: anything compared
// with NULL is NULL, and a predicate holds only when it evaluates to TRUE.
package expr

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"silver/pkg/records"
)

// SyntaxError reports a parse failure at a rune offset of the source.
type SyntaxError struct {
	Pos int
	Msg string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("expr: syntax error at offset %d: %s", e.Pos, e.Msg)
}

// EvalError wraps a runtime failure with the expression that produced it.
type EvalError struct {
	Expr string
	Err  error
}

func (e *EvalError) Error() string { return fmt.Sprintf("expr: %s: %v", e.Expr, e.Err) }
func (e *EvalError) Unwrap() error { return e.Err }

// Env is the evaluation context: the row identifiers resolve against plus
// the values behind CURRENT_TIMESTAMP, CURRENT_USER and date parsing.
type Env struct {
	Row     *records.Record
	Now     time.Time
	User    string
	Layouts []string
}

func (e *Env) now() time.Time {
	if e == nil || e.Now.IsZero() {
		return time.Now().UTC()
	}
	return e.Now
}

// Expr is a compiled expression. It is immutable and safe for concurrent use.
type Expr struct {
	src  string
	root node
}

// Parse compiles a complete expression.
func Parse(src string) (*Expr, error) {
	toks, err := lex(src)
	if err != nil {
		return nil, err
	}
	return parseTokens(src, toks)
}

// ParsePredicate compiles a data-quality predicate for column subject. A
// predicate that starts with an operator ("IS NOT NULL", ">= 0",
// "BETWEEN 0 AND 120", "IN ('A','B')", "RLIKE '...'") is applied to subject;
// anything else is parsed as a full boolean expression.
func ParsePredicate(src, subject string) (*Expr, error) {
	toks, err := lex(src)
	if err != nil {
		return nil, err
	}
	if subject != "" && startsWithOperator(toks) {
		toks = append([]token{{kind: tokQuoted, text: subject}}, toks...)
	}
	return parseTokens(src, toks)
}

// ParseTransform compiles a standardization or derivation for column
// subject. A bare function name such as "UPPER" or "TO_DATE" is applied to
// subject; anything else is parsed as a full expression.
func ParseTransform(src, subject string) (*Expr, error) {
	toks, err := lex(src)
	if err != nil {
		return nil, err
	}
	if subject != "" && len(toks) == 2 && toks[0].kind == tokIdent {
		if fn, ok := functions[toks[0].upper()]; ok && fn.min <= 1 && (fn.max < 0 || fn.max >= 1) {
			return &Expr{src: src, root: &call{name: toks[0].upper(), fn: fn, args: []node{&ident{name: subject}}}}, nil
		}
	}
	return parseTokens(src, toks)
}

func startsWithOperator(toks []token) bool {
	if len(toks) == 0 {
		return false
	}
	t := toks[0]
	if t.kind == tokSymbol {
		switch t.text {
		case "=", "!=", "<>", "<", "<=", ">", ">=":
			return true
		}
		return false
	}
	switch t.upper() {
	case "IS", "IN", "BETWEEN", "LIKE", "ILIKE", "RLIKE", "REGEXP":
		return true
	case "NOT":
		if len(toks) > 1 {
			switch toks[1].upper() {
			case "IN", "BETWEEN", "LIKE", "ILIKE", "RLIKE", "REGEXP":
				return true
			}
		}
	}
	return false
}

// Eval evaluates the expression. Runtime failures, including a panic inside
// a function, are returned as *EvalError.
func (e *Expr) Eval(env *Env) (v records.Value, err error) {
	if env == nil {
		env = &Env{}
	}
	defer func() {
		if r := recover(); r != nil {
			v, err = records.Null, &EvalError{Expr: e.src, Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	v, err = e.root.eval(env)
	if err != nil {
		var ee *EvalError
		if errors.As(err, &ee) {
			return records.Null, err
		}
		return records.Null, &EvalError{Expr: e.src, Err: err}
	}
	return v, nil
}

// Test evaluates the expression as a predicate. NULL counts as false.
func (e *Expr) Test(env *Env) (bool, error) {
	v, err := e.Eval(env)
	if err != nil {
		return false, err
	}
	b, known, err := truth(v)
	if err != nil {
		return false, &EvalError{Expr: e.src, Err: err}
	}
	return known && b, nil
}

// Source returns the text the expression was compiled from.
func (e *Expr) Source() string { return e.src }

// String returns a normalized rendering of the AST.
func (e *Expr) String() string { return e.root.String() }

// Idents returns the distinct identifiers referenced, upper-cased.
func (e *Expr) Idents() []string {
	seen := map[string]bool{}
	var out []string
	walk(e.root, func(n node) {
		if id, ok := n.(*ident); ok {
			k := strings.ToUpper(id.name)
			if !seen[k] {
				seen[k] = true
				out = append(out, k)
			}
		}
	})
	return out
}
