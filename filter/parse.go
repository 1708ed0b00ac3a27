package filter

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// ErrSyntax is returned by Parse for malformed filters.
var ErrSyntax = errors.New("tablestore: filter syntax error")

// SyntaxError locates a parse failure.
type SyntaxError struct {
	Pos int
	Msg string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("%s at offset %d: %s", ErrSyntax, e.Pos, e.Msg)
}

func (e *SyntaxError) Is(target error) bool {
	return target == ErrSyntax
}

// Parse parses a filter. An empty or blank filter yields a nil Expr, which
// matches everything.
func Parse(s string) (Expr, error) {
	toks, err := lex(s)
	if err != nil {
		return nil, err
	}
	if len(toks) == 1 {
		return nil, nil
	}
	p := &parser{toks: toks}
	e, err := p.or()
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.kind != tokEOF {
		return nil, &SyntaxError{Pos: t.pos, Msg: fmt.Sprintf("unexpected %q", t.text)}
	}
	return e, nil
}

// MustParse is like Parse but panics on error.
func MustParse(s string) Expr {
	e, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return e
}

type tokKind int

const (
	tokEOF tokKind = iota
	tokIdent
	tokString
	tokNumber
	tokLParen
	tokRParen
)

type token struct {
	kind tokKind
	text string
	pos  int
}

func lex(s string) ([]token, error) {
	var toks []token
	rs := []rune(s)
	for i := 0; i < len(rs); {
		r := rs[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case r == '(':
			toks = append(toks, token{kind: tokLParen, text: "(", pos: i})
			i++
		case r == ')':
			toks = append(toks, token{kind: tokRParen, text: ")", pos: i})
			i++
		case r == '\'':
			start := i
			var sb strings.Builder
			i++
			for {
				if i >= len(rs) {
					return nil, &SyntaxError{Pos: start, Msg: "unterminated string"}
				}
				if rs[i] == '\'' {
					if i+1 < len(rs) && rs[i+1] == '\'' {
						sb.WriteRune('\'')
						i += 2
						continue
					}
					i++
					break
				}
				sb.WriteRune(rs[i])
				i++
			}
			toks = append(toks, token{kind: tokString, text: sb.String(), pos: start})
		case r == '-' || unicode.IsDigit(r):
			start := i
			i++
			for i < len(rs) && (unicode.IsDigit(rs[i]) || rs[i] == '.') {
				i++
			}
			toks = append(toks, token{kind: tokNumber, text: string(rs[start:i]), pos: start})
		case r == '_' || unicode.IsLetter(r):
			start := i
			for i < len(rs) && (rs[i] == '_' || unicode.IsLetter(rs[i]) || unicode.IsDigit(rs[i])) {
				i++
			}
			toks = append(toks, token{kind: tokIdent, text: string(rs[start:i]), pos: start})
		default:
			return nil, &SyntaxError{Pos: i, Msg: fmt.Sprintf("unexpected character %q", r)}
		}
	}
	return append(toks, token{kind: tokEOF, pos: len(rs)}), nil
}

type parser struct {
	toks []token
	pos  int
}

func (p *parser) peek() token {
	return p.toks[p.pos]
}

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) keyword(word string) bool {
	t := p.peek()
	if t.kind == tokIdent && strings.EqualFold(t.text, word) {
		p.pos++
		return true
	}
	return false
}

func (p *parser) or() (Expr, error) {
	left, err := p.and()
	if err != nil {
		return nil, err
	}
	for p.keyword(string(ConjOr)) {
		right, err := p.and()
		if err != nil {
			return nil, err
		}
		left = &Logical{Conj: ConjOr, Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) and() (Expr, error) {
	left, err := p.primary()
	if err != nil {
		return nil, err
	}
	for p.keyword(string(ConjAnd)) {
		right, err := p.primary()
		if err != nil {
			return nil, err
		}
		left = &Logical{Conj: ConjAnd, Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) primary() (Expr, error) {
	t := p.next()
	switch t.kind {
	case tokLParen:
		e, err := p.or()
		if err != nil {
			return nil, err
		}
		if c := p.next(); c.kind != tokRParen {
			return nil, &SyntaxError{Pos: c.pos, Msg: "expected )"}
		}
		return e, nil
	case tokIdent:
		return p.comparison(t.text)
	case tokEOF:
		return nil, &SyntaxError{Pos: t.pos, Msg: "unexpected end of filter"}
	default:
		return nil, &SyntaxError{Pos: t.pos, Msg: fmt.Sprintf("expected property, got %q", t.text)}
	}
}

func (p *parser) comparison(property string) (Expr, error) {
	opTok := p.next()
	var op Op
	if opTok.kind == tokIdent {
		switch strings.ToLower(opTok.text) {
		case string(OpEq):
			op = OpEq
		case string(OpGe):
			op = OpGe
		case string(OpLe):
			op = OpLe
		}
	}
	if op == "" {
		return nil, &SyntaxError{Pos: opTok.pos, Msg: fmt.Sprintf("expected eq, ge or le after %s", property)}
	}

	lit := p.next()
	var value any
	switch lit.kind {
	case tokString:
		value = lit.text
	case tokNumber:
		v, err := number(lit.text)
		if err != nil {
			return nil, &SyntaxError{Pos: lit.pos, Msg: err.Error()}
		}
		value = v
	case tokIdent:
		switch strings.ToLower(lit.text) {
		case "true":
			value = true
		case "false":
			value = false
		default:
			return nil, &SyntaxError{Pos: lit.pos, Msg: fmt.Sprintf("expected literal, got %q", lit.text)}
		}
	default:
		return nil, &SyntaxError{Pos: lit.pos, Msg: "expected literal"}
	}
	return &Comparison{Property: property, Op: op, Value: value}, nil
}

func number(text string) (any, error) {
	if !strings.Contains(text, ".") {
		n, err := strconv.ParseInt(text, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid integer %q", text)
		}
		return n, nil
	}
	f, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid number %q", text)
	}
	return f, nil
}
