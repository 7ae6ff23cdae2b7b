// Package autoinsert runs the client-side pass that places one CTA from the
// embedded fallback chain into the document content.
package autoinsert

import (
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"cta-engine/internal/condition"
	"cta-engine/internal/page"
	"cta-engine/internal/protocol"
)

const (
	EventInserted = "cta_auto_inserted"

	AttrAutoInsert  = "data-auto-insert"
	AttrCTAID       = "data-cta-id"
	AttrFallbackIdx = "data-fallback-index"
	AttrChainLength = "data-fallback-chain-length"

	WrapperClass = "cta-auto-inserted"
)

// Event is emitted once per successful insertion.
type Event struct {
	Name          string `json:"event"`
	DocumentID    int64  `json:"document_id"`
	CTAID         int64  `json:"cta_id"`
	FallbackIndex int    `json:"fallback_index"`
	ChainLength   int    `json:"chain_length"`
	Position      int    `json:"position"`
}

type Emitter interface {
	Emit(Event)
}

type EmitterFunc func(Event)

func (f EmitterFunc) Emit(e Event) { f(e) }

type Outcome string

const (
	OutcomeInserted    Outcome = "inserted"
	OutcomeDuplicate   Outcome = "already_inserted"
	OutcomeNoPayload   Outcome = "no_payload"
	OutcomeMalformed   Outcome = "malformed"
	OutcomeNoContainer Outcome = "no_container"
	OutcomeNoCandidate Outcome = "no_candidate"
)

type Result struct {
	Outcome   Outcome
	Selection Selection
	Node      *html.Node
}

func (r Result) Inserted() bool { return r.Outcome == OutcomeInserted }

type Runner struct {
	State   condition.State
	Emitter Emitter
	Log     zerolog.Logger
	// Selector overrides the payload's content selector when set.
	Selector string
}

// Run reads the payload embedded in doc and inserts at most one CTA. Every
// failure ends the pass without touching the document.
func (r Runner) Run(doc *html.Node) Result {
	if findInserted(doc) != nil {
		return Result{Outcome: OutcomeDuplicate}
	}
	raw, ok := protocol.Extract(doc)
	if !ok {
		return Result{Outcome: OutcomeNoPayload}
	}
	p, err := protocol.Decode(raw)
	if err != nil {
		r.Log.Debug().Err(err).Msg("auto-insert payload rejected")
		return Result{Outcome: OutcomeMalformed}
	}
	return r.Apply(doc, p)
}

// Apply runs the pass with an already decoded payload.
func (r Runner) Apply(doc *html.Node, p protocol.Payload) Result {
	if findInserted(doc) != nil {
		return Result{Outcome: OutcomeDuplicate}
	}
	selector := p.ContentSelector
	if r.Selector != "" {
		selector = r.Selector
	}
	container := page.FindContainer(doc, selector)
	if container == nil {
		r.Log.Debug().Str("selector", selector).Msg("no content container")
		return Result{Outcome: OutcomeNoContainer}
	}
	elems := page.ContentElements(container)

	st := r.State
	if st == nil {
		st = condition.MapState{}
	}
	sel, ok := Select(p.CTAs, len(elems), st)
	if !ok {
		return Result{Outcome: OutcomeNoCandidate}
	}

	node := wrap(container, sel)
	page.InsertAt(container, elems, sel.Position, node)

	if r.Emitter != nil {
		r.Emitter.Emit(Event{
			Name:          EventInserted,
			DocumentID:    p.DocumentID,
			CTAID:         sel.CTA.ID,
			FallbackIndex: sel.Index,
			ChainLength:   sel.ChainLength,
			Position:      sel.Position,
		})
	}
	r.Log.Debug().Int64("cta_id", sel.CTA.ID).Int("fallback_index", sel.Index).Msg("cta inserted")
	return Result{Outcome: OutcomeInserted, Selection: sel, Node: node}
}

func wrap(container *html.Node, sel Selection) *html.Node {
	w := &html.Node{
		Type:     html.ElementNode,
		Data:     "div",
		DataAtom: atom.Div,
		Attr: []html.Attribute{
			{Key: "class", Val: WrapperClass},
			{Key: AttrAutoInsert, Val: "true"},
			{Key: AttrCTAID, Val: strconv.FormatInt(sel.CTA.ID, 10)},
			{Key: AttrFallbackIdx, Val: strconv.Itoa(sel.Index)},
			{Key: AttrChainLength, Val: strconv.Itoa(sel.ChainLength)},
		},
	}
	if t := sel.CTA.HighlightTemplate; t != "" {
		w.Attr[0].Val += " cta-highlights-wrapper"
		w.Attr = append(w.Attr,
			html.Attribute{Key: "data-highlight", Val: "true"},
			html.Attribute{Key: "data-template", Val: t},
		)
	}

	nodes, err := html.ParseFragment(strings.NewReader(sel.CTA.Content), container)
	if err != nil {
		// the tokenizer only fails on reader errors; keep the content as text
		w.AppendChild(&html.Node{Type: html.TextNode, Data: sel.CTA.Content})
		return w
	}
	for _, n := range nodes {
		w.AppendChild(n)
	}
	return w
}

func findInserted(n *html.Node) *html.Node {
	if n.Type == html.ElementNode {
		for _, a := range n.Attr {
			if a.Key == AttrAutoInsert && a.Val == "true" {
				return n
			}
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if f := findInserted(c); f != nil {
			return f
		}
	}
	return nil
}
