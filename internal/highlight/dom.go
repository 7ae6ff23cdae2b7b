package highlight

import (
	"strings"

	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

var (
	widgetSel    = cascadia.MustCompile(`.cta-highlights-wrapper[data-highlight="true"]`)
	bodySel      = cascadia.MustCompile(`body`)
	focusableSel = cascadia.MustCompile(`a[href], area[href], button:not([disabled]), ` +
		`input:not([disabled]):not([type="hidden"]), select:not([disabled]), ` +
		`textarea:not([disabled]), [tabindex]:not([tabindex="-1"])`)
)

// Document is the live page: the node tree plus the focused element.
type Document struct {
	Root    *html.Node
	Focused *html.Node
}

func NewDocument(root *html.Node) *Document {
	return &Document{Root: root}
}

func (d *Document) body() *html.Node {
	if b := bodySel.MatchFirst(d.Root); b != nil {
		return b
	}
	return d.Root
}

func focusables(n *html.Node) []*html.Node {
	var out []*html.Node
	for _, f := range focusableSel.MatchAll(n) {
		if f != n {
			out = append(out, f)
		}
	}
	return out
}

func getAttr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

func setAttr(n *html.Node, key, val string) {
	for i, a := range n.Attr {
		if a.Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

func removeAttr(n *html.Node, key string) {
	out := n.Attr[:0]
	for _, a := range n.Attr {
		if a.Key != key {
			out = append(out, a)
		}
	}
	n.Attr = out
}

func hasClass(n *html.Node, class string) bool {
	v, _ := getAttr(n, "class")
	for _, c := range strings.Fields(v) {
		if c == class {
			return true
		}
	}
	return false
}

func addClass(n *html.Node, class string) {
	if hasClass(n, class) {
		return
	}
	v, _ := getAttr(n, "class")
	setAttr(n, "class", strings.TrimSpace(v+" "+class))
}

func removeClass(n *html.Node, class string) {
	v, ok := getAttr(n, "class")
	if !ok {
		return
	}
	var keep []string
	for _, c := range strings.Fields(v) {
		if c != class {
			keep = append(keep, c)
		}
	}
	setAttr(n, "class", strings.Join(keep, " "))
}

func setText(n *html.Node, text string) {
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		n.RemoveChild(c)
		c = next
	}
	if text != "" {
		n.AppendChild(&html.Node{Type: html.TextNode, Data: text})
	}
}

func element(a atom.Atom, attrs ...string) *html.Node {
	n := &html.Node{Type: html.ElementNode, Data: a.String(), DataAtom: a}
	for i := 0; i+1 < len(attrs); i += 2 {
		n.Attr = append(n.Attr, html.Attribute{Key: attrs[i], Val: attrs[i+1]})
	}
	return n
}

func contains(root, n *html.Node) bool {
	for p := n; p != nil; p = p.Parent {
		if p == root {
			return true
		}
	}
	return false
}
