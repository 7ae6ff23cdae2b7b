// Package condition holds the runtime condition language attached to CTAs.
//
// A condition is a small tagged-variant tree: comparisons over named client-state
// keys combined with and/or/not. The server compiles the stored rule rows into
// this tree, serializes it both as JSON and as an expression string, and the
// client interprets the tree (or parses the string) against its state store.
// Nothing is ever handed to a general-purpose evaluator.
package condition

import (
	"math"
	"strconv"
	"strings"
)

type Kind string

const (
	KindCompare Kind = "cmp"
	KindAnd     Kind = "and"
	KindOr      Kind = "or"
	KindNot     Kind = "not"
)

type Op string

const (
	OpEq          Op = "eq"
	OpNeq         Op = "neq"
	OpLt          Op = "lt"
	OpLte         Op = "lte"
	OpGt          Op = "gt"
	OpGte         Op = "gte"
	OpContains    Op = "contains"
	OpNotContains Op = "not_contains"
	OpExists      Op = "exists"
	OpNotExists   Op = "not_exists"
	OpActive      Op = "active"
)

// Type says how a stored string and the rule value are compared.
type Type string

const (
	TypeString  Type = "string"
	TypeNumber  Type = "number"
	TypeBoolean Type = "boolean"
	TypeDate    Type = "date"
	TypePattern Type = "pattern"
)

type Expr struct {
	Kind  Kind   `json:"kind"`
	Key   string `json:"key,omitempty"`
	Op    Op     `json:"op,omitempty"`
	Type  Type   `json:"type,omitempty"`
	Value string `json:"value,omitempty"`
	Args  []Expr `json:"args,omitempty"`
}

// Rule is one stored row of a CTA's runtime condition.
type Rule struct {
	Key   string `json:"key" yaml:"key"`
	Op    Op     `json:"op" yaml:"op"`
	Type  Type   `json:"type" yaml:"type"`
	Value string `json:"value" yaml:"value"`
}

// Join combines the rules of one CTA.
type Join string

const (
	JoinAll Join = "all"
	JoinAny Join = "any"
)

var knownOps = map[Op]bool{
	OpEq: true, OpNeq: true, OpLt: true, OpLte: true, OpGt: true, OpGte: true,
	OpContains: true, OpNotContains: true, OpExists: true, OpNotExists: true, OpActive: true,
}

// unary ops take no value.
func (o Op) unary() bool {
	return o == OpExists || o == OpNotExists || o == OpActive
}

// canonicalNumber formats v the way the expression lexer reads numbers back.
// NaN, infinities and anything ParseFloat rejects are not numbers.
func canonicalNumber(v string) (string, bool) {
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return "", false
	}
	return strconv.FormatFloat(f, 'f', -1, 64), true
}

func normalizeType(t Type) Type {
	switch Type(strings.ToLower(string(t))) {
	case TypeNumber:
		return TypeNumber
	case TypeBoolean:
		return TypeBoolean
	case TypeDate:
		return TypeDate
	case TypePattern:
		return TypePattern
	default:
		return TypeString
	}
}

// Compile turns stored rule rows into a condition tree. Rows with no key or an
// unknown operator are dropped rather than rejected: a mis-saved CTA degrades to
// fewer conditions. It returns nil when nothing usable is left.
func Compile(rules []Rule, join Join) *Expr {
	var args []Expr
	for _, r := range rules {
		key := strings.TrimSpace(r.Key)
		op := Op(strings.ToLower(strings.TrimSpace(string(r.Op))))
		if key == "" || !knownOps[op] {
			continue
		}
		e := Expr{Kind: KindCompare, Key: key, Op: op, Type: normalizeType(r.Type)}
		if !op.unary() {
			e.Value = r.Value
			if e.Type == TypeNumber {
				v, ok := canonicalNumber(r.Value)
				if !ok {
					continue
				}
				e.Value = v
			}
		}
		args = append(args, e)
	}
	switch len(args) {
	case 0:
		return nil
	case 1:
		return &args[0]
	}
	kind := KindAnd
	if join == JoinAny {
		kind = KindOr
	}
	return &Expr{Kind: kind, Args: args}
}
