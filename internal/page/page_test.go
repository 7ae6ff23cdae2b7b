package page

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"

	"cta-engine/internal/cta"
)

func parse(t *testing.T, s string) *html.Node {
	t.Helper()
	doc, err := html.Parse(strings.NewReader(s))
	require.NoError(t, err)
	return doc
}

func attrOf(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func TestPosition(t *testing.T) {
	tests := []struct {
		name   string
		n      int
		dir    cta.Direction
		offset int
		policy cta.Overflow
		want   int
	}{
		{"forward 3 of 5", 5, cta.Forward, 3, cta.OverflowSkip, 3},
		{"reverse 2 of 5", 5, cta.Reverse, 2, cta.OverflowSkip, 3},
		{"forward to end", 5, cta.Forward, 5, cta.OverflowSkip, 5},
		{"reverse to start", 5, cta.Reverse, 5, cta.OverflowSkip, 0},
		{"overflow skip", 2, cta.Forward, 10, cta.OverflowSkip, Skip},
		{"overflow end", 2, cta.Forward, 10, cta.OverflowEnd, 2},
		{"reverse overflow skip", 2, cta.Reverse, 10, cta.OverflowSkip, Skip},
		{"reverse overflow end", 2, cta.Reverse, 10, cta.OverflowEnd, 2},
		{"empty content skip", 0, cta.Forward, 1, cta.OverflowSkip, Skip},
		{"empty content end", 0, cta.Forward, 1, cta.OverflowEnd, 0},
		{"zero offset", 5, cta.Forward, 0, cta.OverflowSkip, Skip},
		{"unknown direction counts forward", 5, "sideways", 1, cta.OverflowSkip, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Position(tt.n, tt.dir, tt.offset, tt.policy))
		})
	}
}

func TestFindContainer(t *testing.T) {
	doc := parse(t, `<html><body>
		<main id="m"><article class="post"><div class="entry-content" id="ec"><p>x</p></div></article></main>
		<div class="custom" id="cu"><p>y</p></div>
	</body></html>`)

	tests := []struct {
		name     string
		selector string
		wantID   string
	}{
		{"configured", ".custom", "cu"},
		{"fallback order", "", "ec"},
		{"configured missing falls back", ".nope", "ec"},
		{"invalid selector falls back", "div[[", "ec"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := FindContainer(doc, tt.selector)
			require.NotNil(t, n)
			assert.Equal(t, tt.wantID, attrOf(n, "id"))
		})
	}

	assert.Nil(t, FindContainer(parse(t, `<div><p>nothing here</p></div>`), ".x"))
}

func TestContentElements(t *testing.T) {
	doc := parse(t, `<div class="entry-content">
		<p id="a">One</p>
		<!-- comment -->
		<script>var x = 1;</script>
		<style>p{}</style>
		<p id="empty">   </p>
		<figure id="img"><img src="x.png"></figure>
		loose text
		<div id="nested"><span><b>deep</b></span></div>
		<div id="onlyscript"><script>alert(1)</script></div>
		<p id="svg"><svg></svg></p>
	</div>`)
	container := FindContainer(doc, ".entry-content")
	require.NotNil(t, container)

	var ids []string
	for _, n := range ContentElements(container) {
		ids = append(ids, attrOf(n, "id"))
	}
	assert.Equal(t, []string{"a", "img", "nested", "svg"}, ids)
	assert.Empty(t, ContentElements(nil))
}

func TestInsertAt(t *testing.T) {
	tests := []struct {
		name  string
		index int
		want  []string
	}{
		{"start", 0, []string{"new", "p1", "s", "p2", "p3"}},
		{"after first", 1, []string{"p1", "s", "new", "p2", "p3"}},
		{"end", 3, []string{"p1", "s", "p2", "p3", "tail", "new"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := parse(t, `<div id="c"><p id="p1">1</p><script id="s"></script><p id="p2">2</p><p id="p3">3</p><style id="tail"></style></div>`)
			container := FindContainer(doc, "#c")
			elems := ContentElements(container)
			require.Len(t, elems, 3)

			node := &html.Node{Type: html.ElementNode, Data: "div", Attr: []html.Attribute{{Key: "id", Val: "new"}}}
			InsertAt(container, elems, tt.index, node)

			var got []string
			for c := container.FirstChild; c != nil; c = c.NextSibling {
				got = append(got, attrOf(c, "id"))
			}
			if tt.name != "end" {
				got = got[:len(got)-1] // drop tail style
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindElement, KindOf(&html.Node{Type: html.ElementNode}))
	assert.Equal(t, KindText, KindOf(&html.Node{Type: html.TextNode}))
	assert.Equal(t, KindComment, KindOf(&html.Node{Type: html.CommentNode}))
	assert.Equal(t, KindOther, KindOf(&html.Node{Type: html.DoctypeNode}))
}
