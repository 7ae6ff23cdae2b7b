package page

import (
	"golang.org/x/net/html"

	"cta-engine/internal/cta"
)

// Skip means the candidate cannot be placed.
const Skip = -1

// Position maps a placement rule onto an insertion index in [0, n], where
// index i means "after the i-th content element". Out-of-range offsets give
// Skip or n depending on policy.
func Position(n int, dir cta.Direction, offset int, policy cta.Overflow) int {
	idx := offset
	if dir == cta.Reverse {
		idx = n - offset
	}
	if offset < 1 || idx < 0 || idx > n {
		if policy == cta.OverflowEnd {
			return n
		}
		return Skip
	}
	return idx
}

// InsertAt inserts node into container so that it follows the first index
// elements of elems; index len(elems) appends it as the last child. elems must
// be the ContentElements of container.
func InsertAt(container *html.Node, elems []*html.Node, index int, node *html.Node) {
	if index >= len(elems) {
		container.AppendChild(node)
		return
	}
	if index < 0 {
		index = 0
	}
	container.InsertBefore(node, elems[index])
}
