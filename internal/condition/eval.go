package condition

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// State is the client-side view the conditions are evaluated against.
type State interface {
	Get(key string) (string, bool)
	IsActive(key string) bool
}

// MapState is a read-only State over a plain map, mostly for tests and previews.
type MapState map[string]string

func (m MapState) Get(key string) (string, bool) {
	v, ok := m[key]
	return v, ok
}

func (m MapState) IsActive(key string) bool {
	_, ok := m[key]
	return ok
}

// Eval interprets e against st. Values that cannot be converted to the
// comparison type make the comparison false.
func Eval(e Expr, st State) bool {
	switch e.Kind {
	case KindAnd:
		for _, a := range e.Args {
			if !Eval(a, st) {
				return false
			}
		}
		return true
	case KindOr:
		for _, a := range e.Args {
			if Eval(a, st) {
				return true
			}
		}
		return false
	case KindNot:
		if len(e.Args) != 1 {
			return false
		}
		return !Eval(e.Args[0], st)
	case KindCompare:
		return compare(e, st)
	}
	return false
}

func compare(e Expr, st State) bool {
	switch e.Op {
	case OpExists:
		_, ok := st.Get(e.Key)
		return ok
	case OpNotExists:
		_, ok := st.Get(e.Key)
		return !ok
	case OpActive:
		return st.IsActive(e.Key)
	}

	if normalizeType(e.Type) == TypeNumber {
		if _, ok := canonicalNumber(e.Value); !ok {
			return false
		}
	}

	got, ok := st.Get(e.Key)
	if !ok {
		// a missing key is unequal to, and does not contain, anything
		return e.Op == OpNeq || e.Op == OpNotContains
	}

	switch normalizeType(e.Type) {
	case TypeNumber:
		a, err1 := strconv.ParseFloat(strings.TrimSpace(got), 64)
		b, err2 := strconv.ParseFloat(strings.TrimSpace(e.Value), 64)
		if err1 != nil || err2 != nil {
			return false
		}
		return ordered(e.Op, cmpFloat(a, b))
	case TypeBoolean:
		a, err1 := strconv.ParseBool(strings.TrimSpace(got))
		b, err2 := strconv.ParseBool(strings.TrimSpace(e.Value))
		if err1 != nil || err2 != nil {
			return false
		}
		switch e.Op {
		case OpEq:
			return a == b
		case OpNeq:
			return a != b
		}
		return false
	case TypeDate:
		a, ok1 := parseDate(got)
		b, ok2 := parseDate(e.Value)
		if !ok1 || !ok2 {
			return false
		}
		return ordered(e.Op, a.Compare(b))
	case TypePattern:
		re, err := regexp.Compile(e.Value)
		if err != nil {
			return false
		}
		switch e.Op {
		case OpEq, OpContains:
			return re.MatchString(got)
		case OpNeq, OpNotContains:
			return !re.MatchString(got)
		}
		return false
	default:
		switch e.Op {
		case OpContains:
			return strings.Contains(got, e.Value)
		case OpNotContains:
			return !strings.Contains(got, e.Value)
		}
		return ordered(e.Op, strings.Compare(got, e.Value))
	}
}

func cmpFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func ordered(op Op, c int) bool {
	switch op {
	case OpEq:
		return c == 0
	case OpNeq:
		return c != 0
	case OpLt:
		return c < 0
	case OpLte:
		return c <= 0
	case OpGt:
		return c > 0
	case OpGte:
		return c >= 0
	}
	return false
}

// parseDate accepts RFC 3339, a plain date, or unix milliseconds.
func parseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, true
	}
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t, true
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.UnixMilli(ms), true
	}
	return time.Time{}, false
}
