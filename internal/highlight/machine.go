// Package highlight drives the attention overlay shown the first time a
// highlight-eligible CTA widget scrolls into view.
//
// Each widget moves idle -> observing -> activated -> dismissed and never back.
// Widgets whose cooldown is active at scan time stay idle and are never
// observed. At most one widget owns the shared overlay at a time.
package highlight

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"cta-engine/internal/cooldown"
)

type State int

const (
	Idle State = iota
	Observing
	Activated
	Dismissed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Observing:
		return "observing"
	case Activated:
		return "activated"
	case Dismissed:
		return "dismissed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

const (
	DefaultGlobalCooldown   = time.Hour
	DefaultTemplateCooldown = 24 * time.Hour
	DefaultOverlayColor     = "rgba(0, 0, 0, 0.7)"
	DefaultTemplate         = "default"

	classOverlay   = "cta-highlights-overlay"
	classClose     = "cta-highlights-close"
	classAnnouncer = "cta-highlights-announcer"
	classElevated  = "cta-highlights-elevated"
	classVisible   = "is-visible"
	classBodyOpen  = "cta-highlights-open"
)

// Cooldowns is the part of the state store the machine needs.
type Cooldowns interface {
	Set(ctx context.Context, key string, ttl time.Duration)
	IsActive(ctx context.Context, key string) bool
}

// Watcher reports visibility of observed widgets back through Machine.Entered.
type Watcher interface {
	Observe(w *Widget)
	Unobserve(w *Widget)
}

type Options struct {
	GlobalCooldown   time.Duration
	TemplateCooldown time.Duration
	OverlayColor     string
	// Duration only feeds the presentation; nothing is dismissed on a timer.
	Duration time.Duration
	Watcher  Watcher
	Log      zerolog.Logger
}

type Widget struct {
	Name      string
	Node      *html.Node
	state     State
	prevFocus *html.Node
}

func (w *Widget) State() State { return w.state }

// Key is the per-widget cooldown key.
func (w *Widget) Key() string { return cooldown.TemplateKey(w.Name) }

type Machine struct {
	doc     *Document
	store   Cooldowns
	opts    Options
	widgets []*Widget
	active  *Widget

	overlay   *html.Node
	closeBtn  *html.Node
	announcer *html.Node
}

func New(doc *Document, store Cooldowns, opts Options) *Machine {
	if opts.GlobalCooldown <= 0 {
		opts.GlobalCooldown = DefaultGlobalCooldown
	}
	if opts.TemplateCooldown <= 0 {
		opts.TemplateCooldown = DefaultTemplateCooldown
	}
	if opts.OverlayColor == "" {
		opts.OverlayColor = DefaultOverlayColor
	}
	return &Machine{doc: doc, store: store, opts: opts}
}

func (m *Machine) Widgets() []*Widget { return m.widgets }

// Active returns the widget owning the overlay, or nil.
func (m *Machine) Active() *Widget { return m.active }

// Scan registers highlight-eligible widgets not seen before and starts
// observing those without an active cooldown.
func (m *Machine) Scan(ctx context.Context) []*Widget {
	globalActive := m.store.IsActive(ctx, cooldown.GlobalKey)
	var added []*Widget
	for _, n := range widgetSel.MatchAll(m.doc.Root) {
		if m.find(n) != nil {
			continue
		}
		name, _ := getAttr(n, "data-template")
		if name == "" {
			name = DefaultTemplate
		}
		w := &Widget{Name: name, Node: n, state: Idle}
		m.widgets = append(m.widgets, w)
		added = append(added, w)

		if globalActive || m.store.IsActive(ctx, w.Key()) {
			m.opts.Log.Debug().Str("template", name).Msg("highlight cooling down")
			continue
		}
		w.state = Observing
		if m.opts.Watcher != nil {
			m.opts.Watcher.Observe(w)
		}
	}
	return added
}

func (m *Machine) find(n *html.Node) *Widget {
	for _, w := range m.widgets {
		if w.Node == n {
			return w
		}
	}
	return nil
}

// Entered handles a visibility callback. Only observing widgets react, so
// repeated callbacks are no-ops.
func (m *Machine) Entered(ctx context.Context, w *Widget) {
	if w == nil || w.state != Observing {
		return
	}
	if m.active != nil && m.active != w {
		m.dismiss(m.active)
	}
	m.ensureOverlay()

	addClass(m.overlay, classVisible)
	addClass(m.closeBtn, classVisible)
	addClass(m.doc.body(), classBodyOpen)
	addClass(w.Node, classElevated)
	setAttr(w.Node, "aria-modal", "true")
	setAttr(w.Node, "data-highlight-state", Activated.String())
	if m.opts.Duration > 0 {
		setAttr(w.Node, "data-highlight-duration", fmt.Sprintf("%d", m.opts.Duration.Milliseconds()))
	}

	w.prevFocus = m.doc.Focused
	if fs := focusables(w.Node); len(fs) > 0 {
		m.doc.Focused = fs[0]
	} else {
		setAttr(w.Node, "tabindex", "-1")
		m.doc.Focused = w.Node
	}
	setText(m.announcer, "Highlighted call to action. Press Escape to close.")

	m.store.Set(ctx, cooldown.GlobalKey, m.opts.GlobalCooldown)
	m.store.Set(ctx, w.Key(), m.opts.TemplateCooldown)

	if m.opts.Watcher != nil {
		m.opts.Watcher.Unobserve(w)
	}
	w.state = Activated
	m.active = w
	m.opts.Log.Debug().Str("template", w.Name).Msg("highlight activated")
}

// Dismiss closes the active highlight, if any.
func (m *Machine) Dismiss() {
	if m.active != nil {
		m.dismiss(m.active)
	}
}

func (m *Machine) dismiss(w *Widget) {
	removeClass(m.overlay, classVisible)
	removeClass(m.closeBtn, classVisible)
	removeClass(m.doc.body(), classBodyOpen)
	removeClass(w.Node, classElevated)
	removeAttr(w.Node, "aria-modal")
	setAttr(w.Node, "data-highlight-state", Dismissed.String())
	setText(m.announcer, "")

	if m.doc.Focused == nil || contains(w.Node, m.doc.Focused) || m.doc.Focused == m.closeBtn {
		m.doc.Focused = w.prevFocus
	}
	w.prevFocus = nil
	w.state = Dismissed
	if m.active == w {
		m.active = nil
	}
}

// KeyDown handles Escape and keeps Tab focus inside the active widget and its
// close button. It reports whether the key was consumed.
func (m *Machine) KeyDown(key string, shift bool) bool {
	if m.active == nil {
		return false
	}
	switch key {
	case "Escape", "Esc":
		m.Dismiss()
		return true
	case "Tab":
		ring := append(focusables(m.active.Node), m.closeBtn)
		cur := -1
		for i, n := range ring {
			if n == m.doc.Focused {
				cur = i
				break
			}
		}
		next := 0
		switch {
		case cur < 0 && shift:
			next = len(ring) - 1
		case cur < 0:
			next = 0
		case shift:
			next = (cur - 1 + len(ring)) % len(ring)
		default:
			next = (cur + 1) % len(ring)
		}
		m.doc.Focused = ring[next]
		return true
	}
	return false
}

// Click dismisses the active highlight when target is the overlay or the
// close control.
func (m *Machine) Click(target *html.Node) bool {
	if m.active == nil || target == nil {
		return false
	}
	if target == m.overlay || contains(m.closeBtn, target) {
		m.Dismiss()
		return true
	}
	return false
}

// Overlay returns the shared overlay and close control, nil before the first
// activation.
func (m *Machine) Overlay() (overlay, closeBtn *html.Node) {
	return m.overlay, m.closeBtn
}

func (m *Machine) ensureOverlay() {
	if m.overlay != nil {
		return
	}
	body := m.doc.body()
	m.overlay = element(atom.Div,
		"class", classOverlay,
		"aria-hidden", "true",
		"style", "background-color: "+m.opts.OverlayColor,
	)
	m.closeBtn = element(atom.Button,
		"type", "button",
		"class", classClose,
		"aria-label", "Close highlight",
	)
	m.closeBtn.AppendChild(&html.Node{Type: html.TextNode, Data: "×"})
	m.announcer = element(atom.Div,
		"class", classAnnouncer+" screen-reader-text",
		"role", "status",
		"aria-live", "polite",
	)
	body.AppendChild(m.overlay)
	body.AppendChild(m.closeBtn)
	body.AppendChild(m.announcer)
}
