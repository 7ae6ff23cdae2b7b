package highlight

import (
	"context"
	"sync"

	"golang.org/x/net/html"
)

type EventKind int

const (
	EventEntered EventKind = iota
	EventKey
	EventClick
)

type Event struct {
	Kind   EventKind
	Widget *Widget
	Key    string
	Shift  bool
	Target *html.Node
}

// Run applies events to the machine one at a time until ctx is done or the
// channel is closed. All machine mutation after Scan should go through here.
func (m *Machine) Run(ctx context.Context, events <-chan Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			m.handle(ctx, ev)
		}
	}
}

func (m *Machine) handle(ctx context.Context, ev Event) {
	switch ev.Kind {
	case EventEntered:
		m.Entered(ctx, ev.Widget)
	case EventKey:
		m.KeyDown(ev.Key, ev.Shift)
	case EventClick:
		m.Click(ev.Target)
	}
}

// ChanWatcher forwards visibility of observed widgets as EventEntered on a
// channel consumed by Machine.Run.
type ChanWatcher struct {
	mu       sync.Mutex
	observed map[*Widget]bool
	events   chan<- Event
}

func NewChanWatcher(events chan<- Event) *ChanWatcher {
	return &ChanWatcher{observed: map[*Widget]bool{}, events: events}
}

func (c *ChanWatcher) Observe(w *Widget) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observed[w] = true
}

func (c *ChanWatcher) Unobserve(w *Widget) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.observed, w)
}

func (c *ChanWatcher) Observed(w *Widget) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.observed[w]
}

// Visible reports that w intersected the viewport. Unobserved widgets are
// ignored. It blocks until the event is queued or ctx is done.
func (c *ChanWatcher) Visible(ctx context.Context, w *Widget) bool {
	if !c.Observed(w) {
		return false
	}
	select {
	case c.events <- Event{Kind: EventEntered, Widget: w}:
		return true
	case <-ctx.Done():
		return false
	}
}
