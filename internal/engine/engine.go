package engine

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/rs/zerolog/log"

	"cta-engine/internal/cache"
	"cta-engine/internal/condition"
	"cta-engine/internal/cta"
	"cta-engine/internal/observability"
	"cta-engine/internal/protocol"
	"cta-engine/internal/storage"
)

// Source is where CTA records and document context come from.
type Source interface {
	LoadCTAs(ctx context.Context) ([]storage.CTARow, error)
	Document(ctx context.Context, id int64) (storage.DocumentRow, error)
}

// Indexes over the auto-insert primaries for fast root narrowing
type indexes struct {
	CTAs []cta.CTA // backing array; indexes reference this

	Rank map[int]int // primary index -> order by (priority, id)

	IncType      map[string][]int
	AgnosticType []int

	IncCategory      map[int64][]int
	ExcCategory      map[int64][]int
	AgnosticCategory []int
}

type snapshot struct {
	idx      indexes
	resolver *cta.Resolver
}

type Options struct {
	ContentSelector string
	ForceAssetLoad  bool
}

// Engine resolves fallback chains against a read-only, lock-free snapshot of
// the CTA table.
type Engine struct {
	snap cache.Snapshot[snapshot]
	src  Source
	opts Options
}

func NewEngine(src Source, opts Options) *Engine { return &Engine{src: src, opts: opts} }

// BuildSnapshot loads all CTA records, normalizes them and swaps in new indexes.
func (e *Engine) BuildSnapshot(ctx context.Context) error {
	rows, err := e.src.LoadCTAs(ctx)
	if err != nil {
		return fmt.Errorf("load ctas: %w", err)
	}
	cs := make([]cta.CTA, 0, len(rows))
	for _, r := range rows {
		cs = append(cs, normalize(r))
	}
	e.snap.Store(snapshot{idx: buildIndexes(cs), resolver: cta.NewResolver(cs)})
	log.Info().Int("ctas", len(cs)).Msg("cta snapshot built")
	return nil
}

func normalize(r storage.CTARow) cta.CTA {
	c := cta.CTA{
		ID:                r.ID,
		Name:              r.Name,
		Content:           r.Content,
		Status:            cta.Status(strings.ToLower(strings.TrimSpace(r.Status))),
		AutoInsert:        r.AutoInsert,
		Priority:          r.Priority,
		HighlightTemplate: strings.TrimSpace(r.HighlightTemplate),
		Scope: cta.Scope{
			CategoryMode: cta.CategoryMode(strings.ToLower(strings.TrimSpace(r.CategoryMode))),
			CategoryIDs:  r.CategoryIDs,
		},
		Placement: cta.Placement{
			Direction: cta.Direction(strings.ToLower(strings.TrimSpace(r.Direction))),
			Offset:    r.Position,
		},
		Overflow:     cta.Overflow(strings.ToLower(strings.TrimSpace(r.FallbackBehavior))),
		Condition:    condition.Compile(r.Conditions, condition.Join(strings.ToLower(r.ConditionJoin))),
		NextFallback: r.NextFallback,
	}
	for _, t := range r.DocumentTypes {
		if t = strings.ToLower(strings.TrimSpace(t)); t != "" {
			c.Scope.DocumentTypes = append(c.Scope.DocumentTypes, t)
		}
	}
	if c.Overflow == "place-at-end" {
		c.Overflow = cta.OverflowEnd
	}
	return c
}

func buildIndexes(cs []cta.CTA) indexes {
	ix := indexes{
		CTAs:             cs,
		Rank:             map[int]int{},
		IncType:          map[string][]int{},
		AgnosticType:     []int{},
		IncCategory:      map[int64][]int{},
		ExcCategory:      map[int64][]int{},
		AgnosticCategory: []int{},
	}
	var primaries []int
	for i, c := range cs {
		if !c.AutoInsert {
			continue
		}
		primaries = append(primaries, i)

		if len(c.Scope.DocumentTypes) == 0 {
			ix.AgnosticType = append(ix.AgnosticType, i)
		}
		for _, t := range c.Scope.DocumentTypes {
			ix.IncType[t] = append(ix.IncType[t], i)
		}

		switch {
		case len(c.Scope.CategoryIDs) > 0 && c.Scope.CategoryMode == cta.CategoryInclude:
			for _, id := range c.Scope.CategoryIDs {
				ix.IncCategory[id] = append(ix.IncCategory[id], i)
			}
		case len(c.Scope.CategoryIDs) > 0 && c.Scope.CategoryMode == cta.CategoryExclude:
			ix.AgnosticCategory = append(ix.AgnosticCategory, i)
			for _, id := range c.Scope.CategoryIDs {
				ix.ExcCategory[id] = append(ix.ExcCategory[id], i)
			}
		default:
			ix.AgnosticCategory = append(ix.AgnosticCategory, i)
		}
	}
	slices.SortStableFunc(primaries, func(a, b int) int {
		if cs[a].Priority != cs[b].Priority {
			return cs[a].Priority - cs[b].Priority
		}
		switch {
		case cs[a].ID < cs[b].ID:
			return -1
		case cs[a].ID > cs[b].ID:
			return 1
		}
		return 0
	})
	for r, i := range primaries {
		ix.Rank[i] = r
	}
	return ix
}

// Root returns the first scope-matched primary for rc.
func (e *Engine) Root(rc cta.RequestContext) (cta.CTA, bool) {
	s, ok := e.snap.Load()
	if !ok {
		return cta.CTA{}, false
	}
	return s.root(rc)
}

func (s snapshot) root(rc cta.RequestContext) (cta.CTA, bool) {
	ix := s.idx
	docType := strings.ToLower(strings.TrimSpace(rc.DocumentType))

	cand := newSet(ix.IncType[docType], ix.AgnosticType)

	var incCat, excCat [][]int
	for _, id := range rc.CategoryIDs {
		incCat = append(incCat, ix.IncCategory[id])
		excCat = append(excCat, ix.ExcCategory[id])
	}
	cand = cand.intersect(newSet(append(incCat, ix.AgnosticCategory)...))
	for _, ex := range excCat {
		cand = cand.subtract(ex)
	}

	ordered := cand.list()
	slices.SortFunc(ordered, func(a, b int) int { return ix.Rank[a] - ix.Rank[b] })

	// final verification
	for _, i := range ordered {
		if c := ix.CTAs[i]; cta.Matches(c, rc) {
			return c, true
		}
	}
	return cta.CTA{}, false
}

// Resolve builds the fallback chain for rc. A pinned CTA that matches wins
// over the primary search.
func (e *Engine) Resolve(rc cta.RequestContext, pinned int64) (cta.Chain, bool) {
	s, ok := e.snap.Load()
	if !ok {
		return cta.Chain{}, false
	}
	return s.resolve(rc, pinned)
}

func (s snapshot) resolve(rc cta.RequestContext, pinned int64) (cta.Chain, bool) {
	var rootID int64
	if pinned != 0 {
		if c, ok := s.resolver.Lookup(pinned); ok && cta.Matches(c, rc) {
			rootID = c.ID
		}
	}
	if rootID == 0 {
		root, ok := s.root(rc)
		if !ok {
			return cta.Chain{}, false
		}
		rootID = root.ID
	}
	chain := s.resolver.Resolve(rootID, rc)

	observability.ChainLength.Observe(float64(chain.Len()))
	observability.ChainStops.WithLabelValues(string(chain.Stop)).Inc()
	if chain.Stop == cta.StopCycle || chain.Stop == cta.StopMaxHops || chain.Stop == cta.StopDangling {
		log.Warn().Int64("root", rootID).Ints64("chain", chain.IDs()).Str("stop", string(chain.Stop)).
			Msg("fallback chain cut short")
	}
	return chain, chain.Len() > 0
}

// Payload resolves the chain for a document and serializes it. Resolution and
// directive expansion read the same snapshot.
func (e *Engine) Payload(ctx context.Context, documentID int64) (protocol.Payload, bool, error) {
	doc, err := e.src.Document(ctx, documentID)
	if err != nil {
		return protocol.Payload{}, false, err
	}
	s, ok := e.snap.Load()
	if !ok {
		return protocol.Payload{}, false, nil
	}
	rc := cta.RequestContext{
		DocumentID:   doc.ID,
		DocumentType: doc.Type,
		CategoryIDs:  doc.CategoryIDs,
		OptOut:       doc.OptOut,
	}
	chain, ok := s.resolve(rc, doc.PinnedCTA)
	if !ok {
		return protocol.Payload{}, false, nil
	}

	ser := protocol.Serializer{Expander: protocol.DirectiveExpander{Table: s.resolver}}
	p := ser.Build(protocol.DocumentContext{
		DocumentID:      doc.ID,
		ContentSelector: e.opts.ContentSelector,
		LoadAssets:      e.opts.ForceAssetLoad || hasHighlight(chain),
	}, chain)
	return p, true, nil
}

func hasHighlight(chain cta.Chain) bool {
	for _, l := range chain.Links {
		if l.CTA.HighlightTemplate != "" {
			return true
		}
	}
	return false
}

type set map[int]struct{}

func newSet(slices ...[]int) set {
	s := set{}
	for _, sl := range slices {
		for _, v := range sl {
			s[v] = struct{}{}
		}
	}
	return s
}

func (s set) intersect(other set) set {
	res := set{}
	for k := range s {
		if _, ok := other[k]; ok {
			res[k] = struct{}{}
		}
	}
	return res
}

func (s set) subtract(sl []int) set {
	for _, v := range sl {
		delete(s, v)
	}
	return s
}

func (s set) list() []int {
	out := make([]int, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	return out
}
