package cta

import (
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
)

func TestMatches(t *testing.T) {
	base := CTA{ID: 1, Status: StatusActive}
	rc := RequestContext{DocumentType: "post", CategoryIDs: []int64{3, 4}}

	tests := []struct {
		name string
		cta  func(c CTA) CTA
		rc   func(rc RequestContext) RequestContext
		want bool
	}{
		{"active no scope", func(c CTA) CTA { return c }, nil, true},
		{"inactive", func(c CTA) CTA { c.Status = StatusInactive; return c }, nil, false},
		{"unknown status", func(c CTA) CTA { c.Status = ""; return c }, nil, false},
		{"opt out", func(c CTA) CTA { return c }, func(rc RequestContext) RequestContext { rc.OptOut = true; return rc }, false},
		{"type allowed", func(c CTA) CTA { c.Scope.DocumentTypes = []string{"page", " Post "}; return c }, nil, true},
		{"type denied", func(c CTA) CTA { c.Scope.DocumentTypes = []string{"page"}; return c }, nil, false},
		{"include hit", func(c CTA) CTA {
			c.Scope.CategoryMode, c.Scope.CategoryIDs = CategoryInclude, []int64{4, 9}
			return c
		}, nil, true},
		{"include miss", func(c CTA) CTA {
			c.Scope.CategoryMode, c.Scope.CategoryIDs = CategoryInclude, []int64{9}
			return c
		}, nil, false},
		{"include miss no doc categories", func(c CTA) CTA {
			c.Scope.CategoryMode, c.Scope.CategoryIDs = CategoryInclude, []int64{9}
			return c
		}, func(rc RequestContext) RequestContext { rc.CategoryIDs = nil; return rc }, false},
		{"exclude hit", func(c CTA) CTA {
			c.Scope.CategoryMode, c.Scope.CategoryIDs = CategoryExclude, []int64{3}
			return c
		}, nil, false},
		{"exclude miss", func(c CTA) CTA {
			c.Scope.CategoryMode, c.Scope.CategoryIDs = CategoryExclude, []int64{7}
			return c
		}, nil, true},
		{"garbage mode is permissive", func(c CTA) CTA {
			c.Scope.CategoryMode, c.Scope.CategoryIDs = "sometimes", []int64{7}
			return c
		}, nil, true},
		{"include with empty list is permissive", func(c CTA) CTA {
			c.Scope.CategoryMode = CategoryInclude
			return c
		}, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := rc
			if tt.rc != nil {
				r = tt.rc(rc)
			}
			assert.Equal(t, tt.want, Matches(tt.cta(base), r))
		})
	}
}

func active(id, next int64) CTA {
	return CTA{ID: id, Status: StatusActive, NextFallback: next}
}

func TestResolve(t *testing.T) {
	tests := []struct {
		name     string
		ctas     []CTA
		root     int64
		wantIDs  []int64
		wantStop Stop
	}{
		{"single terminal", []CTA{active(1, 0)}, 1, []int64{1}, StopTerminal},
		{"linear", []CTA{active(1, 2), active(2, 3), active(3, 0)}, 1, []int64{1, 2, 3}, StopTerminal},
		{"self loop", []CTA{active(1, 1)}, 1, []int64{1}, StopCycle},
		{"two cycle", []CTA{active(1, 2), active(2, 1)}, 1, []int64{1, 2}, StopCycle},
		{"cycle into middle", []CTA{active(1, 2), active(2, 3), active(3, 2)}, 1, []int64{1, 2, 3}, StopCycle},
		{"dangling", []CTA{active(1, 99)}, 1, []int64{1}, StopDangling},
		{"missing root", []CTA{active(1, 0)}, 5, []int64{}, StopMissingRoot},
		{
			name:     "long chain truncated",
			ctas:     []CTA{active(1, 2), active(2, 3), active(3, 4), active(4, 5), active(5, 6), active(6, 7), active(7, 8), active(8, 9), active(9, 10), active(10, 11), active(11, 12), active(12, 0)},
			root:     1,
			wantIDs:  []int64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10},
			wantStop: StopMaxHops,
		},
		{
			name:     "exactly max hops ends terminal",
			ctas:     []CTA{active(1, 2), active(2, 3), active(3, 4), active(4, 5), active(5, 6), active(6, 7), active(7, 8), active(8, 9), active(9, 10), active(10, 0)},
			root:     1,
			wantIDs:  []int64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10},
			wantStop: StopTerminal,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chain := NewResolver(tt.ctas).Resolve(tt.root, RequestContext{})
			if diff := cmp.Diff(tt.wantIDs, chain.IDs()); diff != "" {
				t.Errorf("chain ids mismatch (-want +got):\n%s", diff)
			}
			assert.Equal(t, tt.wantStop, chain.Stop)
		})
	}
}

func TestResolve_KeepsScopeMismatches(t *testing.T) {
	ctas := []CTA{
		active(1, 2),
		{ID: 2, Status: StatusActive, Scope: Scope{DocumentTypes: []string{"page"}}, NextFallback: 3},
		{ID: 3, Status: StatusInactive},
	}
	chain := NewResolver(ctas).Resolve(1, RequestContext{DocumentType: "post"})

	assert.Equal(t, []int64{1, 2, 3}, chain.IDs())
	assert.Equal(t, []bool{true, false, false}, []bool{
		chain.Links[0].ScopeMatched, chain.Links[1].ScopeMatched, chain.Links[2].ScopeMatched,
	})
}

// Random reference graphs, cyclic or not, never produce a chain over MaxHops
// or with a repeated id.
func TestResolve_RandomGraphsTerminate(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for round := 0; round < 500; round++ {
		n := 1 + rng.Intn(25)
		ctas := make([]CTA, n)
		for i := range ctas {
			next := int64(0)
			if rng.Intn(5) > 0 {
				next = int64(1 + rng.Intn(n+2)) // may dangle
			}
			ctas[i] = active(int64(i+1), next)
		}
		chain := NewResolver(ctas).Resolve(int64(1+rng.Intn(n)), RequestContext{})

		assert.LessOrEqual(t, chain.Len(), MaxHops)
		seen := map[int64]bool{}
		for _, id := range chain.IDs() {
			assert.False(t, seen[id], "duplicate id %d in round %d", id, round)
			seen[id] = true
		}
		if chain.Stop == StopTerminal {
			assert.Zero(t, chain.Links[chain.Len()-1].CTA.NextFallback)
		}
	}
}

func TestResolver_Lookup(t *testing.T) {
	r := NewResolver([]CTA{active(1, 0), {ID: 1, Name: "duplicate"}})
	c, ok := r.Lookup(1)
	assert.True(t, ok)
	assert.Empty(t, c.Name, "first record with an id wins")
	_, ok = r.Lookup(2)
	assert.False(t, ok)
}
