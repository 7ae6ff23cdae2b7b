package condition

import (
	"strconv"
	"strings"
)

var opSymbols = map[Op]string{
	OpEq:  "==",
	OpNeq: "!=",
	OpLt:  "<",
	OpLte: "<=",
	OpGt:  ">",
	OpGte: ">=",
}

// String renders the expression form carried in the payload, e.g.
//
//	state["visits"] >= 3 && !active(state["cta_highlights_global"])
//
// Parse reads the same grammar back.
func (e Expr) String() string {
	var b strings.Builder
	e.render(&b, false)
	return b.String()
}

func (e Expr) render(b *strings.Builder, nested bool) {
	switch e.Kind {
	case KindAnd, KindOr:
		sep := " && "
		if e.Kind == KindOr {
			sep = " || "
		}
		if len(e.Args) == 0 {
			// empty and is vacuously true, empty or is false
			b.WriteString(strconv.FormatBool(e.Kind == KindAnd))
			return
		}
		if nested && len(e.Args) > 1 {
			b.WriteByte('(')
		}
		for i, a := range e.Args {
			if i > 0 {
				b.WriteString(sep)
			}
			a.render(b, true)
		}
		if nested && len(e.Args) > 1 {
			b.WriteByte(')')
		}
	case KindNot:
		b.WriteByte('!')
		if len(e.Args) == 1 {
			inner := e.Args[0]
			wrap := inner.Kind == KindCompare && opSymbols[inner.Op] != ""
			if wrap {
				b.WriteByte('(')
			}
			inner.render(b, true)
			if wrap {
				b.WriteByte(')')
			}
			return
		}
		b.WriteString("false")
	default:
		e.renderCompare(b)
	}
}

func (e Expr) renderCompare(b *strings.Builder) {
	if !e.Op.unary() && normalizeType(e.Type) == TypeNumber {
		if _, ok := canonicalNumber(e.Value); !ok {
			// no number literal to compare against
			b.WriteString("false")
			return
		}
	}
	ref := "state[" + strconv.Quote(e.Key) + "]"
	switch e.Op {
	case OpExists:
		b.WriteString("exists(" + ref + ")")
	case OpNotExists:
		b.WriteString("!exists(" + ref + ")")
	case OpActive:
		b.WriteString("active(" + ref + ")")
	case OpContains:
		b.WriteString("contains(" + ref + ", " + renderLiteral(e.Type, e.Value) + ")")
	case OpNotContains:
		b.WriteString("!contains(" + ref + ", " + renderLiteral(e.Type, e.Value) + ")")
	default:
		sym := opSymbols[e.Op]
		if sym == "" {
			sym = "=="
		}
		b.WriteString(ref + " " + sym + " " + renderLiteral(e.Type, e.Value))
	}
}

func renderLiteral(t Type, v string) string {
	switch t {
	case TypeNumber:
		if n, ok := canonicalNumber(v); ok {
			return n
		}
	case TypeBoolean:
		if bv, err := strconv.ParseBool(v); err == nil {
			return strconv.FormatBool(bv)
		}
	case TypeDate:
		return "date(" + strconv.Quote(v) + ")"
	case TypePattern:
		return "/" + strings.ReplaceAll(v, "/", `\/`) + "/"
	}
	return strconv.Quote(v)
}
