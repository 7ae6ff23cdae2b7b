package cta

// MaxHops bounds the length of a resolved chain.
const MaxHops = 10

// Stop says why a walk ended.
type Stop string

const (
	StopTerminal    Stop = "terminal"
	StopCycle       Stop = "cycle"
	StopMaxHops     Stop = "max_hops"
	StopDangling    Stop = "dangling"
	StopMissingRoot Stop = "missing_root"
)

// Link is one hop of a chain. ScopeMatched is false for hops the matcher
// rejected; they stay in the chain as conditional candidates.
type Link struct {
	CTA          CTA
	ScopeMatched bool
}

// Chain is the fallback order for one request, root first.
type Chain struct {
	Links []Link
	Stop  Stop
}

func (c Chain) Len() int { return len(c.Links) }

func (c Chain) IDs() []int64 {
	out := make([]int64, len(c.Links))
	for i, l := range c.Links {
		out[i] = l.CTA.ID
	}
	return out
}

// Resolver walks next_fallback references over an immutable CTA table.
type Resolver struct {
	ctas  []CTA
	index map[int64]int
}

func NewResolver(ctas []CTA) *Resolver {
	r := &Resolver{ctas: ctas, index: make(map[int64]int, len(ctas))}
	for i, c := range ctas {
		if _, dup := r.index[c.ID]; !dup {
			r.index[c.ID] = i
		}
	}
	return r
}

// Lookup returns the record with the given id.
func (r *Resolver) Lookup(id int64) (CTA, bool) {
	i, ok := r.index[id]
	if !ok {
		return CTA{}, false
	}
	return r.ctas[i], true
}

// Resolve follows next_fallback from rootID. The walk is iterative and visits
// each id at most once, so it ends after at most MaxHops steps whatever the
// shape of the reference graph.
func (r *Resolver) Resolve(rootID int64, rc RequestContext) Chain {
	var chain Chain
	visited := make(map[int64]struct{}, MaxHops)

	next := rootID
	for {
		if len(chain.Links) >= MaxHops {
			chain.Stop = StopMaxHops
			return chain
		}
		if _, seen := visited[next]; seen {
			chain.Stop = StopCycle
			return chain
		}
		i, ok := r.index[next]
		if !ok {
			chain.Stop = StopDangling
			if len(chain.Links) == 0 {
				chain.Stop = StopMissingRoot
			}
			return chain
		}
		visited[next] = struct{}{}

		c := r.ctas[i]
		chain.Links = append(chain.Links, Link{CTA: c, ScopeMatched: Matches(c, rc)})

		if c.NextFallback == 0 {
			chain.Stop = StopTerminal
			return chain
		}
		next = c.NextFallback
	}
}
