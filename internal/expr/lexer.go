package expr

import (
	"fmt"
	"strings"
	"unicode"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokQuoted // "quoted identifier"
	tokNumber
	tokString
	tokSymbol
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

// upper returns the keyword form of an identifier token.
func (t token) upper() string {
	if t.kind != tokIdent {
		return ""
	}
	return strings.ToUpper(t.text)
}

func (t token) is(sym string) bool { return t.kind == tokSymbol && t.text == sym }

func (t token) keyword(kw string) bool { return t.upper() == kw }

var twoCharSymbols = []string{"<=", ">=", "<>", "!=", "||", "::"}

func lex(src string) ([]token, error) {
	var toks []token
	rs := []rune(src)
	i := 0
	for i < len(rs) {
		r := rs[i]
		switch {
		case unicode.IsSpace(r):
			i++

		case r == '\'':
			start := i
			i++
			var sb strings.Builder
			closed := false
			for i < len(rs) {
				if rs[i] == '\'' {
					if i+1 < len(rs) && rs[i+1] == '\'' {
						sb.WriteRune('\'')
						i += 2
						continue
					}
					i++
					closed = true
					break
				}
				sb.WriteRune(rs[i])
				i++
			}
			if !closed {
				return nil, &SyntaxError{Pos: start, Msg: "unterminated string literal"}
			}
			toks = append(toks, token{kind: tokString, text: sb.String(), pos: start})

		case r == '"':
			start := i
			i++
			j := i
			for j < len(rs) && rs[j] != '"' {
				j++
			}
			if j >= len(rs) {
				return nil, &SyntaxError{Pos: start, Msg: "unterminated quoted identifier"}
			}
			toks = append(toks, token{kind: tokQuoted, text: string(rs[i:j]), pos: start})
			i = j + 1

		case unicode.IsDigit(r) || (r == '.' && i+1 < len(rs) && unicode.IsDigit(rs[i+1])):
			start := i
			seenDot, seenExp := false, false
			for i < len(rs) {
				c := rs[i]
				if unicode.IsDigit(c) {
					i++
					continue
				}
				if c == '.' && !seenDot && !seenExp {
					seenDot = true
					i++
					continue
				}
				if (c == 'e' || c == 'E') && !seenExp && i+1 < len(rs) {
					n := rs[i+1]
					if unicode.IsDigit(n) || ((n == '+' || n == '-') && i+2 < len(rs) && unicode.IsDigit(rs[i+2])) {
						seenExp = true
						i += 2
						continue
					}
				}
				break
			}
			toks = append(toks, token{kind: tokNumber, text: string(rs[start:i]), pos: start})

		case r == '_' || unicode.IsLetter(r):
			start := i
			for i < len(rs) && (rs[i] == '_' || rs[i] == '$' || unicode.IsLetter(rs[i]) || unicode.IsDigit(rs[i])) {
				i++
			}
			toks = append(toks, token{kind: tokIdent, text: string(rs[start:i]), pos: start})

		default:
			if i+1 < len(rs) {
				two := string(rs[i : i+2])
				matched := false
				for _, s := range twoCharSymbols {
					if two == s {
						toks = append(toks, token{kind: tokSymbol, text: two, pos: i})
						i += 2
						matched = true
						break
					}
				}
				if matched {
					continue
				}
			}
			if strings.ContainsRune("()+-*/%=<>,", r) {
				toks = append(toks, token{kind: tokSymbol, text: string(r), pos: i})
				i++
				continue
			}
			return nil, &SyntaxError{Pos: i, Msg: fmt.Sprintf("unexpected character %q", r)}
		}
	}
	toks = append(toks, token{kind: tokEOF, pos: len(rs)})
	return toks, nil
}
