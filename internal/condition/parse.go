package condition

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

var ErrSyntax = errors.New("condition syntax error")

const maxDepth = 32

type tokKind int

const (
	tokEOF tokKind = iota
	tokLParen
	tokRParen
	tokLBrack
	tokRBrack
	tokComma
	tokAnd
	tokOr
	tokNot
	tokCmp
	tokString
	tokNumber
	tokIdent
	tokPattern
)

type token struct {
	kind tokKind
	text string
	pos  int
}

func lex(src string) ([]token, error) {
	var out []token
	i := 0
	for i < len(src) {
		c := src[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c == '(':
			out = append(out, token{tokLParen, "(", i})
			i++
		case c == ')':
			out = append(out, token{tokRParen, ")", i})
			i++
		case c == '[':
			out = append(out, token{tokLBrack, "[", i})
			i++
		case c == ']':
			out = append(out, token{tokRBrack, "]", i})
			i++
		case c == ',':
			out = append(out, token{tokComma, ",", i})
			i++
		case strings.HasPrefix(src[i:], "&&"):
			out = append(out, token{tokAnd, "&&", i})
			i += 2
		case strings.HasPrefix(src[i:], "||"):
			out = append(out, token{tokOr, "||", i})
			i += 2
		case strings.HasPrefix(src[i:], "=="), strings.HasPrefix(src[i:], "!="),
			strings.HasPrefix(src[i:], "<="), strings.HasPrefix(src[i:], ">="):
			out = append(out, token{tokCmp, src[i : i+2], i})
			i += 2
		case c == '<' || c == '>':
			out = append(out, token{tokCmp, string(c), i})
			i++
		case c == '!':
			out = append(out, token{tokNot, "!", i})
			i++
		case c == '"':
			end := i + 1
			for end < len(src) && src[end] != '"' {
				if src[end] == '\\' {
					end++
				}
				end++
			}
			if end >= len(src) {
				return nil, fmt.Errorf("%w: unterminated string at %d", ErrSyntax, i)
			}
			s, err := strconv.Unquote(src[i : end+1])
			if err != nil {
				return nil, fmt.Errorf("%w: bad string at %d", ErrSyntax, i)
			}
			out = append(out, token{tokString, s, i})
			i = end + 1
		case c == '/':
			var b strings.Builder
			end := i + 1
			for end < len(src) && src[end] != '/' {
				if src[end] == '\\' && end+1 < len(src) && src[end+1] == '/' {
					end++
				}
				b.WriteByte(src[end])
				end++
			}
			if end >= len(src) {
				return nil, fmt.Errorf("%w: unterminated pattern at %d", ErrSyntax, i)
			}
			out = append(out, token{tokPattern, b.String(), i})
			i = end + 1
		case c == '-' || (c >= '0' && c <= '9'):
			end := i + 1
			for end < len(src) && (src[end] == '.' || (src[end] >= '0' && src[end] <= '9')) {
				end++
			}
			if _, err := strconv.ParseFloat(src[i:end], 64); err != nil {
				return nil, fmt.Errorf("%w: bad number at %d", ErrSyntax, i)
			}
			out = append(out, token{tokNumber, src[i:end], i})
			i = end
		case unicode.IsLetter(rune(c)) || c == '_':
			end := i + 1
			for end < len(src) && (unicode.IsLetter(rune(src[end])) || unicode.IsDigit(rune(src[end])) || src[end] == '_') {
				end++
			}
			out = append(out, token{tokIdent, src[i:end], i})
			i = end
		default:
			return nil, fmt.Errorf("%w: unexpected %q at %d", ErrSyntax, c, i)
		}
	}
	return append(out, token{tokEOF, "", len(src)}), nil
}

type parser struct {
	toks  []token
	pos   int
	depth int
}

// Parse reads an expression in the form produced by Expr.String.
func Parse(src string) (Expr, error) {
	toks, err := lex(src)
	if err != nil {
		return Expr{}, err
	}
	p := &parser{toks: toks}
	e, err := p.or()
	if err != nil {
		return Expr{}, err
	}
	if t := p.peek(); t.kind != tokEOF {
		return Expr{}, fmt.Errorf("%w: trailing %q at %d", ErrSyntax, t.text, t.pos)
	}
	return e, nil
}

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) expect(k tokKind, what string) (token, error) {
	t := p.next()
	if t.kind != k {
		return t, fmt.Errorf("%w: expected %s at %d", ErrSyntax, what, t.pos)
	}
	return t, nil
}

func (p *parser) or() (Expr, error) {
	left, err := p.and()
	if err != nil {
		return Expr{}, err
	}
	args := []Expr{left}
	for p.peek().kind == tokOr {
		p.next()
		right, err := p.and()
		if err != nil {
			return Expr{}, err
		}
		args = append(args, right)
	}
	if len(args) == 1 {
		return left, nil
	}
	return Expr{Kind: KindOr, Args: args}, nil
}

func (p *parser) and() (Expr, error) {
	left, err := p.unary()
	if err != nil {
		return Expr{}, err
	}
	args := []Expr{left}
	for p.peek().kind == tokAnd {
		p.next()
		right, err := p.unary()
		if err != nil {
			return Expr{}, err
		}
		args = append(args, right)
	}
	if len(args) == 1 {
		return left, nil
	}
	return Expr{Kind: KindAnd, Args: args}, nil
}

func (p *parser) unary() (Expr, error) {
	p.depth++
	defer func() { p.depth-- }()
	if p.depth > maxDepth {
		return Expr{}, fmt.Errorf("%w: nesting too deep", ErrSyntax)
	}
	switch t := p.peek(); t.kind {
	case tokNot:
		p.next()
		inner, err := p.unary()
		if err != nil {
			return Expr{}, err
		}
		return Expr{Kind: KindNot, Args: []Expr{inner}}, nil
	case tokLParen:
		p.next()
		inner, err := p.or()
		if err != nil {
			return Expr{}, err
		}
		if _, err := p.expect(tokRParen, ")"); err != nil {
			return Expr{}, err
		}
		return inner, nil
	case tokIdent:
		switch t.text {
		case "true", "false":
			// constant folded into an empty and/or
			p.next()
			if t.text == "true" {
				return Expr{Kind: KindAnd}, nil
			}
			return Expr{Kind: KindOr}, nil
		case "exists", "active", "contains":
			return p.call()
		case "state":
			return p.compare()
		}
		return Expr{}, fmt.Errorf("%w: unknown name %q at %d", ErrSyntax, t.text, t.pos)
	}
	t := p.peek()
	return Expr{}, fmt.Errorf("%w: unexpected %q at %d", ErrSyntax, t.text, t.pos)
}

func (p *parser) ref() (string, error) {
	if _, err := p.expect(tokIdent, "state"); err != nil {
		return "", err
	}
	if _, err := p.expect(tokLBrack, "["); err != nil {
		return "", err
	}
	key, err := p.expect(tokString, "key string")
	if err != nil {
		return "", err
	}
	if _, err := p.expect(tokRBrack, "]"); err != nil {
		return "", err
	}
	return key.text, nil
}

func (p *parser) call() (Expr, error) {
	name := p.next().text
	if _, err := p.expect(tokLParen, "("); err != nil {
		return Expr{}, err
	}
	key, err := p.ref()
	if err != nil {
		return Expr{}, err
	}
	e := Expr{Kind: KindCompare, Key: key, Type: TypeString}
	switch name {
	case "exists":
		e.Op = OpExists
	case "active":
		e.Op = OpActive
	case "contains":
		e.Op = OpContains
		if _, err := p.expect(tokComma, ","); err != nil {
			return Expr{}, err
		}
		if e.Type, e.Value, err = p.literal(); err != nil {
			return Expr{}, err
		}
	}
	if _, err := p.expect(tokRParen, ")"); err != nil {
		return Expr{}, err
	}
	return e, nil
}

var symbolOps = map[string]Op{
	"==": OpEq, "!=": OpNeq, "<": OpLt, "<=": OpLte, ">": OpGt, ">=": OpGte,
}

func (p *parser) compare() (Expr, error) {
	key, err := p.ref()
	if err != nil {
		return Expr{}, err
	}
	opTok, err := p.expect(tokCmp, "comparison operator")
	if err != nil {
		return Expr{}, err
	}
	typ, val, err := p.literal()
	if err != nil {
		return Expr{}, err
	}
	return Expr{Kind: KindCompare, Key: key, Op: symbolOps[opTok.text], Type: typ, Value: val}, nil
}

func (p *parser) literal() (Type, string, error) {
	t := p.next()
	switch t.kind {
	case tokString:
		return TypeString, t.text, nil
	case tokNumber:
		return TypeNumber, t.text, nil
	case tokPattern:
		return TypePattern, t.text, nil
	case tokIdent:
		switch t.text {
		case "true", "false":
			return TypeBoolean, t.text, nil
		case "date":
			if _, err := p.expect(tokLParen, "("); err != nil {
				return "", "", err
			}
			s, err := p.expect(tokString, "date string")
			if err != nil {
				return "", "", err
			}
			if _, err := p.expect(tokRParen, ")"); err != nil {
				return "", "", err
			}
			return TypeDate, s.text, nil
		}
	}
	return "", "", fmt.Errorf("%w: expected literal at %d", ErrSyntax, t.pos)
}
