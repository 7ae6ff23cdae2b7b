package autoinsert

import (
	"cta-engine/internal/condition"
	"cta-engine/internal/page"
	"cta-engine/internal/protocol"
)

// Selection is the candidate chosen for insertion.
type Selection struct {
	CTA         protocol.CTAPayload
	Index       int // position in the chain, 0-based
	ChainLength int
	Position    int // insertion index among the content elements
}

// Select returns the first candidate that is in scope, whose runtime
// condition holds and whose placement fits n content elements. ok is false
// when no candidate qualifies, which is a valid outcome.
func Select(ctas []protocol.CTAPayload, n int, st condition.State) (Selection, bool) {
	for i, c := range ctas {
		if c.ScopeMismatch || !eligible(c, st) {
			continue
		}
		pos := page.Position(n, c.Direction, c.Position, c.FallbackBehavior)
		if pos == page.Skip {
			continue
		}
		return Selection{CTA: c, Index: i, ChainLength: len(ctas), Position: pos}, true
	}
	return Selection{}, false
}

func eligible(c protocol.CTAPayload, st condition.State) bool {
	if c.RuntimeCondition != nil {
		return condition.Eval(*c.RuntimeCondition, st)
	}
	src := c.Expression()
	if src == "" {
		return true
	}
	e, err := condition.Parse(src)
	if err != nil {
		return false
	}
	return condition.Eval(e, st)
}
