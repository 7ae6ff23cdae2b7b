package protocol

import (
	"bytes"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"cta-engine/internal/cta"
)

// Expander resolves embed directives inside CTA content to final markup.
type Expander interface {
	Expand(content string) string
}

// Lookup finds a CTA record by id.
type Lookup interface {
	Lookup(id int64) (cta.CTA, bool)
}

const maxExpandDepth = 3

var directiveRe = regexp.MustCompile(`\[cta\s+id=["']?(\d+)["']?\s*\]`)

// DirectiveExpander expands [cta id="N"] directives from the CTA table.
// Unknown ids, self references and anything past maxExpandDepth expand to "".
type DirectiveExpander struct {
	Table Lookup
}

func (d DirectiveExpander) Expand(content string) string {
	return d.expand(content, 0, map[int64]bool{})
}

func (d DirectiveExpander) expand(content string, depth int, open map[int64]bool) string {
	return directiveRe.ReplaceAllStringFunc(content, func(m string) string {
		if depth >= maxExpandDepth || d.Table == nil {
			return ""
		}
		id, err := strconv.ParseInt(directiveRe.FindStringSubmatch(m)[1], 10, 64)
		if err != nil || open[id] {
			return ""
		}
		c, ok := d.Table.Lookup(id)
		if !ok || c.Status != cta.StatusActive {
			return ""
		}
		open[id] = true
		out := d.expand(c.Content, depth+1, open)
		delete(open, id)
		return out
	})
}

// DefaultContentSelector is used when the host configures no selector.
const DefaultContentSelector = ".entry-content"

// DocumentContext is the per-document placement information.
type DocumentContext struct {
	DocumentID      int64
	ContentSelector string
	LoadAssets      bool
}

type Serializer struct {
	Expander Expander
}

// Build turns a resolved chain into the payload. The chain order is kept as
// the fallback priority.
func (s Serializer) Build(doc DocumentContext, chain cta.Chain) Payload {
	selector := strings.TrimSpace(doc.ContentSelector)
	if selector == "" {
		selector = DefaultContentSelector
	}
	p := Payload{
		DocumentID:      doc.DocumentID,
		ContentSelector: selector,
		LoadAssets:      doc.LoadAssets,
		CTAs:            make([]CTAPayload, 0, chain.Len()),
	}
	for _, l := range chain.Links {
		p.CTAs = append(p.CTAs, s.candidate(l))
	}
	return p
}

func (s Serializer) candidate(l cta.Link) CTAPayload {
	c := l.CTA
	content := c.Content
	if s.Expander != nil {
		content = s.Expander.Expand(content)
	}
	out := CTAPayload{
		ID:                c.ID,
		Content:           content,
		Direction:         c.Placement.Direction,
		Position:          c.Placement.Offset,
		FallbackBehavior:  c.Overflow,
		ScopeMismatch:     !l.ScopeMatched,
		HighlightTemplate: c.HighlightTemplate,
	}
	if out.Direction != cta.Reverse {
		out.Direction = cta.Forward
	}
	if out.Position < 1 {
		out.Position = 1
	}
	if out.FallbackBehavior != cta.OverflowEnd {
		out.FallbackBehavior = cta.OverflowSkip
	}
	// the last CTA of a chain is the unconditional fallback
	if c.Condition != nil && c.NextFallback != 0 {
		expr := c.Condition.String()
		out.RuntimeCondition = c.Condition
		out.RuntimeConditionExpr = expr
		out.StorageConditionJS = expr
		out.HasStorageConditions = true
	}
	return out
}

// EmbedScript renders the payload as a JSON <script> element.
func EmbedScript(p Payload) (string, error) {
	b, err := Encode(p)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	// encoding/json escapes <, > and & so the content cannot close the element
	buf.WriteString(`<script type="application/json" id="` + ScriptID + `">`)
	buf.Write(b)
	buf.WriteString(`</script>`)
	return buf.String(), nil
}

// Extract finds the payload script in a parsed document and returns its raw JSON.
func Extract(doc *html.Node) ([]byte, bool) {
	var found *html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if found != nil {
			return
		}
		if n.Type == html.ElementNode && n.DataAtom == atom.Script && attr(n, "id") == ScriptID {
			found = n
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	if found == nil || found.FirstChild == nil {
		return nil, false
	}
	var b strings.Builder
	for c := found.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode {
			b.WriteString(c.Data)
		}
	}
	return []byte(b.String()), true
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}
