package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/html"

	"cta-engine/internal/autoinsert"
	"cta-engine/internal/cooldown"
	"cta-engine/internal/highlight"
	"cta-engine/internal/observability"
	"cta-engine/internal/protocol"
	"cta-engine/internal/storage"
)

// VisitorCookie carries the id that scopes a visitor's state in redis.
const VisitorCookie = "cta_vid"

const maxPreviewBytes = 2 << 20

// PayloadSource resolves the auto-insert payload of a document.
type PayloadSource interface {
	Payload(ctx context.Context, documentID int64) (protocol.Payload, bool, error)
}

// Hooks are the host overrides applied to every request.
type Hooks struct {
	ContentSelector  string
	GlobalCooldown   time.Duration
	TemplateCooldown time.Duration
	OverlayColor     string
}

type CTAHandler struct {
	Eng PayloadSource
	// Redis is the primary visitor state tier; nil leaves only cookies.
	Redis       *redis.Client
	RedisPrefix string
	Hooks       Hooks
}

func NewCTAHandler(eng PayloadSource, rdb *redis.Client, prefix string, hooks Hooks) *CTAHandler {
	return &CTAHandler{Eng: eng, Redis: rdb, RedisPrefix: prefix, Hooks: hooks}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// resolve maps the lookup result onto a status; ok is false when the
// response has already been written.
func (h *CTAHandler) resolve(w http.ResponseWriter, r *http.Request, id int64) (protocol.Payload, bool) {
	p, found, err := h.Eng.Payload(r.Context(), id)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, "document not found")
		return p, false
	case err != nil:
		observability.RequestErrors.WithLabelValues("payload").Inc()
		log.Error().Err(err).Int64("document_id", id).Msg("resolve payload")
		writeError(w, http.StatusInternalServerError, "internal error")
		return p, false
	case !found:
		w.WriteHeader(http.StatusNoContent)
		return p, false
	}
	return p, true
}

func documentID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid document id")
		return 0, false
	}
	return id, true
}

func (h *CTAHandler) Payload(w http.ResponseWriter, r *http.Request) {
	id, ok := documentID(w, r)
	if !ok {
		return
	}
	p, ok := h.resolve(w, r, id)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// Embed returns the <script> element a page template embeds.
func (h *CTAHandler) Embed(w http.ResponseWriter, r *http.Request) {
	id, ok := documentID(w, r)
	if !ok {
		return
	}
	p, ok := h.resolve(w, r, id)
	if !ok {
		return
	}
	snippet, err := protocol.EmbedScript(p)
	if err != nil {
		observability.RequestErrors.WithLabelValues("embed").Inc()
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(snippet))
}

type PreviewRequest struct {
	DocumentID int64  `json:"document_id"`
	HTML       string `json:"html"`
	// Activate simulates the first eligible highlight scrolling into view.
	Activate bool `json:"activate"`
}

type PreviewResponse struct {
	HTML          string   `json:"html"`
	Outcome       string   `json:"outcome"`
	Inserted      bool     `json:"inserted"`
	CTAID         int64    `json:"cta_id,omitempty"`
	FallbackIndex int      `json:"fallback_index"`
	Highlights    []string `json:"highlights"`
	Activated     string   `json:"activated,omitempty"`
}

// Preview runs the auto-insert pass over posted page HTML with the visitor's
// state, as a browser would.
func (h *CTAHandler) Preview(w http.ResponseWriter, r *http.Request) {
	var req PreviewRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxPreviewBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if req.DocumentID <= 0 {
		writeError(w, http.StatusBadRequest, "document_id is required")
		return
	}
	doc, err := html.Parse(strings.NewReader(req.HTML))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid html")
		return
	}

	ctx := r.Context()
	visitor := visitorID(w, r)
	cookies := cooldown.CookieBackendFromRequest(r)
	store := cooldown.New(nil, cookies)
	if h.Redis != nil {
		store.Primary = cooldown.NewRedisBackend(h.Redis, h.RedisPrefix, visitor)
	}
	store.Log = log.With().Str("visitor", visitor).Logger()
	store.OnFallback = func(op string) { observability.CooldownFallbacks.WithLabelValues(op).Inc() }

	resp := PreviewResponse{Outcome: string(autoinsert.OutcomeNoPayload), Highlights: []string{}}
	p, found, err := h.Eng.Payload(ctx, req.DocumentID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, "document not found")
		return
	case err != nil:
		observability.RequestErrors.WithLabelValues("payload").Inc()
		log.Error().Err(err).Int64("document_id", req.DocumentID).Msg("resolve payload")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	if found {
		runner := autoinsert.Runner{
			State:    store.State(ctx),
			Emitter:  autoinsert.EmitterFunc(recordEvent),
			Log:      log.Logger,
			Selector: h.Hooks.ContentSelector,
		}
		res := runner.Apply(doc, p)
		observability.Insertions.WithLabelValues(string(res.Outcome)).Inc()
		resp.Outcome = string(res.Outcome)
		resp.Inserted = res.Inserted()
		if res.Inserted() {
			resp.CTAID = res.Selection.CTA.ID
			resp.FallbackIndex = res.Selection.Index
		}
	} else {
		observability.Insertions.WithLabelValues(resp.Outcome).Inc()
	}

	m := highlight.New(highlight.NewDocument(doc), store, highlight.Options{
		GlobalCooldown:   h.Hooks.GlobalCooldown,
		TemplateCooldown: h.Hooks.TemplateCooldown,
		OverlayColor:     h.Hooks.OverlayColor,
		Log:              log.Logger,
	})
	var first *highlight.Widget
	for _, wd := range m.Scan(ctx) {
		if wd.State() != highlight.Observing {
			continue
		}
		resp.Highlights = append(resp.Highlights, wd.Name)
		if first == nil {
			first = wd
		}
	}
	if req.Activate && first != nil {
		m.Entered(ctx, first)
		resp.Activated = first.Name
	}

	var buf bytes.Buffer
	if err := html.Render(&buf, doc); err != nil {
		writeError(w, http.StatusInternalServerError, "render failed")
		return
	}
	resp.HTML = buf.String()

	cookies.WriteTo(w)
	writeJSON(w, http.StatusOK, resp)
}

// visitorID reads the visitor cookie or issues a new one.
func visitorID(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(VisitorCookie); err == nil {
		if id, err := uuid.Parse(c.Value); err == nil {
			return id.String()
		}
	}
	id := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     VisitorCookie,
		Value:    id,
		Path:     "/",
		MaxAge:   int((365 * 24 * time.Hour).Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return id
}

func recordEvent(e autoinsert.Event) {
	observability.EventsIngested.WithLabelValues(e.Name).Inc()
	log.Info().
		Str("event", e.Name).
		Int64("document_id", e.DocumentID).
		Int64("cta_id", e.CTAID).
		Int("fallback_index", e.FallbackIndex).
		Int("chain_length", e.ChainLength).
		Msg("cta event")
}

// Events ingests analytics events posted by the client pass.
func (h *CTAHandler) Events(w http.ResponseWriter, r *http.Request) {
	var e autoinsert.Event
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&e); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if e.Name != autoinsert.EventInserted {
		writeError(w, http.StatusBadRequest, "unknown event")
		return
	}
	if e.CTAID <= 0 || e.FallbackIndex < 0 || e.ChainLength <= e.FallbackIndex {
		writeError(w, http.StatusBadRequest, "invalid event fields")
		return
	}
	recordEvent(e)
	w.WriteHeader(http.StatusAccepted)
}
