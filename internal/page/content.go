// Package page locates the content area of a rendered document and computes
// where an auto-inserted CTA goes.
package page

import (
	"strings"

	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// FallbackSelectors are tried in order when the configured locator finds nothing.
var FallbackSelectors = []string{
	".entry-content",
	".post-content",
	"article .content",
	"article",
	"main",
	".content",
	"#content",
}

type NodeKind int

const (
	KindOther NodeKind = iota
	KindElement
	KindText
	KindComment
)

func KindOf(n *html.Node) NodeKind {
	switch n.Type {
	case html.ElementNode:
		return KindElement
	case html.TextNode:
		return KindText
	case html.CommentNode:
		return KindComment
	}
	return KindOther
}

var skipped = map[atom.Atom]bool{
	atom.Script:   true,
	atom.Style:    true,
	atom.Noscript: true,
	atom.Template: true,
}

var media = map[atom.Atom]bool{
	atom.Img:     true,
	atom.Picture: true,
	atom.Video:   true,
	atom.Audio:   true,
	atom.Iframe:  true,
	atom.Svg:     true,
	atom.Canvas:  true,
	atom.Embed:   true,
	atom.Object:  true,
}

// FindContainer returns the first element matching selector, then the first
// match of FallbackSelectors. Selectors that do not compile are skipped.
func FindContainer(doc *html.Node, selector string) *html.Node {
	candidates := FallbackSelectors
	if s := strings.TrimSpace(selector); s != "" {
		candidates = append([]string{s}, FallbackSelectors...)
	}
	for _, s := range candidates {
		sel, err := cascadia.Compile(s)
		if err != nil {
			continue
		}
		if n := sel.MatchFirst(doc); n != nil {
			return n
		}
	}
	return nil
}

// ContentElements returns the addressable children of container: direct
// element children, minus scripts and styles, minus elements that render no
// text and hold no media.
func ContentElements(container *html.Node) []*html.Node {
	var out []*html.Node
	if container == nil {
		return out
	}
	for c := container.FirstChild; c != nil; c = c.NextSibling {
		if KindOf(c) != KindElement || skipped[c.DataAtom] {
			continue
		}
		if !hasText(c) && !hasMedia(c) {
			continue
		}
		out = append(out, c)
	}
	return out
}

func hasText(n *html.Node) bool {
	switch KindOf(n) {
	case KindText:
		return strings.TrimSpace(n.Data) != ""
	case KindElement:
		if skipped[n.DataAtom] {
			return false
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if hasText(c) {
				return true
			}
		}
	}
	return false
}

func hasMedia(n *html.Node) bool {
	if KindOf(n) != KindElement {
		return false
	}
	if media[n.DataAtom] {
		return true
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if hasMedia(c) {
			return true
		}
	}
	return false
}
