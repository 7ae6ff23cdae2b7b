package highlight

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"golang.org/x/net/html"

	"cta-engine/internal/cooldown"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const pageHTML = `<html><body>
<a id="before" href="/x">before</a>
<div class="cta-highlights-wrapper" data-highlight="true" data-template="Newsletter" id="w1">
  <h3>Subscribe</h3><input type="hidden" name="t"><input id="email" type="email"><button id="go">Go</button>
</div>
<div class="cta-highlights-wrapper" data-highlight="true" data-template="sale" id="w2"><p>Sale</p></div>
<div class="cta-highlights-wrapper" id="plain"><p>not highlighted</p></div>
</body></html>`

type fixture struct {
	doc     *Document
	store   *cooldown.Store
	backend *cooldown.MemoryBackend
	now     time.Time
	watcher *recordingWatcher
	m       *Machine
}

type recordingWatcher struct {
	observed map[*Widget]bool
}

func (r *recordingWatcher) Observe(w *Widget)   { r.observed[w] = true }
func (r *recordingWatcher) Unobserve(w *Widget) { delete(r.observed, w) }

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root, err := html.Parse(strings.NewReader(pageHTML))
	require.NoError(t, err)

	f := &fixture{
		doc:     NewDocument(root),
		backend: cooldown.NewMemoryBackend(0),
		now:     time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC),
		watcher: &recordingWatcher{observed: map[*Widget]bool{}},
	}
	f.store = cooldown.New(f.backend, cooldown.NewCookieBackend())
	f.store.Now = func() time.Time { return f.now }
	f.m = New(f.doc, f.store, Options{
		GlobalCooldown:   30 * time.Minute,
		TemplateCooldown: 2 * time.Hour,
		OverlayColor:     "#123456",
		Watcher:          f.watcher,
	})
	return f
}

func (f *fixture) widget(t *testing.T, id string) *Widget {
	t.Helper()
	for _, w := range f.m.Widgets() {
		if v, _ := getAttr(w.Node, "id"); v == id {
			return w
		}
	}
	t.Fatalf("widget %s not registered", id)
	return nil
}

func (f *fixture) byID(id string) *html.Node {
	var found *html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if v, _ := getAttr(n, "id"); v == id && n.Type == html.ElementNode {
			found = n
		}
		for c := n.FirstChild; c != nil && found == nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(f.doc.Root)
	return found
}

func (f *fixture) record(t *testing.T, key string) cooldown.Record {
	t.Helper()
	raw, ok, err := f.backend.Get(context.Background(), key)
	require.NoError(t, err)
	require.True(t, ok, "no record for %s", key)
	var rec cooldown.Record
	require.NoError(t, json.Unmarshal([]byte(raw), &rec))
	return rec
}

func TestScan_ObservesWidgetsWithoutCooldown(t *testing.T) {
	f := newFixture(t)
	added := f.m.Scan(context.Background())

	require.Len(t, added, 2)
	for _, w := range added {
		assert.Equal(t, Observing, w.State())
		assert.True(t, f.watcher.observed[w])
	}
	assert.Equal(t, "Newsletter", added[0].Name)
	assert.Equal(t, "cta_highlights_template_newsletter", added[0].Key())

	assert.Empty(t, f.m.Scan(context.Background()), "rescan adds nothing")
}

func TestScan_CooldownKeepsIdle(t *testing.T) {
	ctx := context.Background()

	t.Run("global", func(t *testing.T) {
		f := newFixture(t)
		f.store.Set(ctx, cooldown.GlobalKey, time.Minute)
		for _, w := range f.m.Scan(ctx) {
			assert.Equal(t, Idle, w.State())
		}
		assert.Empty(t, f.watcher.observed)
	})

	t.Run("per widget", func(t *testing.T) {
		f := newFixture(t)
		f.store.Set(ctx, cooldown.TemplateKey("sale"), time.Minute)
		f.m.Scan(ctx)
		assert.Equal(t, Observing, f.widget(t, "w1").State())
		w2 := f.widget(t, "w2")
		assert.Equal(t, Idle, w2.State())
		assert.False(t, f.watcher.observed[w2])

		f.m.Entered(ctx, w2)
		assert.Equal(t, Idle, w2.State(), "idle widgets ignore visibility")
	})

	t.Run("expired cooldown does not block", func(t *testing.T) {
		f := newFixture(t)
		f.store.Set(ctx, cooldown.GlobalKey, time.Minute)
		f.now = f.now.Add(time.Hour)
		for _, w := range f.m.Scan(ctx) {
			assert.Equal(t, Observing, w.State())
		}
	})
}

func TestEntered_ActivatesAndWritesCooldowns(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.m.Scan(ctx)
	before := f.byID("before")
	f.doc.Focused = before

	w1 := f.widget(t, "w1")
	f.m.Entered(ctx, w1)

	assert.Equal(t, Activated, w1.State())
	assert.Same(t, w1, f.m.Active())
	assert.False(t, f.watcher.observed[w1])
	assert.True(t, hasClass(w1.Node, classElevated))
	v, _ := getAttr(w1.Node, "aria-modal")
	assert.Equal(t, "true", v)
	assert.Same(t, f.byID("email"), f.doc.Focused, "hidden input skipped")

	overlay, closeBtn := f.m.Overlay()
	require.NotNil(t, overlay)
	require.NotNil(t, closeBtn)
	assert.True(t, hasClass(overlay, classVisible))
	style, _ := getAttr(overlay, "style")
	assert.Contains(t, style, "#123456")
	assert.NotEmpty(t, textOf(f.m.announcer))

	global := f.record(t, cooldown.GlobalKey)
	assert.Equal(t, f.now.UnixMilli(), global.Timestamp)
	assert.Equal(t, f.now.Add(30*time.Minute).UnixMilli(), global.ExpiryTime)
	tmpl := f.record(t, "cta_highlights_template_newsletter")
	assert.Equal(t, f.now.Add(2*time.Hour).UnixMilli(), tmpl.ExpiryTime)

	f.m.Entered(ctx, w1)
	assert.Equal(t, Activated, w1.State(), "second callback is a no-op")
}

func TestDismiss_RestoresFocus(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name    string
		dismiss func(f *fixture) bool
	}{
		{"escape", func(f *fixture) bool { return f.m.KeyDown("Escape", false) }},
		{"overlay click", func(f *fixture) bool { o, _ := f.m.Overlay(); return f.m.Click(o) }},
		{"close button text click", func(f *fixture) bool { _, c := f.m.Overlay(); return f.m.Click(c.FirstChild) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.m.Scan(ctx)
			before := f.byID("before")
			f.doc.Focused = before
			w1 := f.widget(t, "w1")
			f.m.Entered(ctx, w1)

			assert.True(t, tt.dismiss(f))

			assert.Equal(t, Dismissed, w1.State())
			assert.Nil(t, f.m.Active())
			assert.False(t, hasClass(w1.Node, classElevated))
			overlay, _ := f.m.Overlay()
			assert.False(t, hasClass(overlay, classVisible))
			assert.Same(t, before, f.doc.Focused)

			f.m.Entered(ctx, w1)
			assert.Equal(t, Dismissed, w1.State(), "no way back")
		})
	}
}

func TestClick_ElsewhereIgnored(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.m.Scan(ctx)
	assert.False(t, f.m.Click(f.byID("before")), "nothing active")

	f.m.Entered(ctx, f.widget(t, "w1"))
	assert.False(t, f.m.Click(f.byID("go")))
	assert.NotNil(t, f.m.Active())
}

func TestSecondActivationSupersedesFirst(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.m.Scan(ctx)
	w1, w2 := f.widget(t, "w1"), f.widget(t, "w2")

	f.m.Entered(ctx, w1)
	f.m.Entered(ctx, w2)

	assert.Equal(t, Dismissed, w1.State())
	assert.Equal(t, Activated, w2.State())
	assert.Same(t, w2, f.m.Active())
	overlay, _ := f.m.Overlay()
	assert.True(t, hasClass(overlay, classVisible))

	var overlays int
	for c := f.doc.body().FirstChild; c != nil; c = c.NextSibling {
		if hasClass(c, classOverlay) {
			overlays++
		}
	}
	assert.Equal(t, 1, overlays, "overlay is shared")

	tabindex, _ := getAttr(w2.Node, "tabindex")
	assert.Equal(t, "-1", tabindex, "widget without focusables takes focus itself")
	assert.Same(t, w2.Node, f.doc.Focused)
}

func TestKeyDown_TabContainment(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.m.Scan(ctx)
	f.m.Entered(ctx, f.widget(t, "w1"))
	_, closeBtn := f.m.Overlay()

	email, goBtn := f.byID("email"), f.byID("go")
	require.Same(t, email, f.doc.Focused)

	assert.True(t, f.m.KeyDown("Tab", false))
	assert.Same(t, goBtn, f.doc.Focused)
	f.m.KeyDown("Tab", false)
	assert.Same(t, closeBtn, f.doc.Focused)
	f.m.KeyDown("Tab", false)
	assert.Same(t, email, f.doc.Focused, "wraps around")
	f.m.KeyDown("Tab", true)
	assert.Same(t, closeBtn, f.doc.Focused)

	f.doc.Focused = f.byID("before")
	f.m.KeyDown("Tab", false)
	assert.Same(t, email, f.doc.Focused, "focus pulled back inside")

	assert.False(t, f.m.KeyDown("Enter", false))
}

func TestRun_EventLoop(t *testing.T) {
	f := newFixture(t)
	events := make(chan Event)
	watcher := NewChanWatcher(events)
	f.m.opts.Watcher = watcher

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.m.Scan(ctx)

	done := make(chan struct{})
	go func() {
		defer close(done)
		f.m.Run(ctx, events)
	}()

	w1 := f.widget(t, "w1")
	assert.True(t, watcher.Visible(ctx, w1))
	events <- Event{Kind: EventKey, Key: "Escape"}
	// unobserved after activation
	assert.False(t, watcher.Visible(ctx, w1))
	close(events)
	<-done

	assert.Equal(t, Dismissed, w1.State())
	f.record(t, cooldown.GlobalKey)
}

func TestRun_StopsOnCancel(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		f.m.Run(ctx, make(chan Event))
	}()
	cancel()
	<-done
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "observing", Observing.String())
	assert.Equal(t, "State(9)", State(9).String())
}

func textOf(n *html.Node) string {
	var b strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode {
			b.WriteString(c.Data)
		}
	}
	return b.String()
}
