package cooldown

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// MaxCookieBytes is the per-cookie size browsers reliably accept.
const MaxCookieBytes = 4096

const cookiePrefix = "cta_"

// CookieBackend is the fallback tier: values live in cookies read from the
// request and written back on the response.
type CookieBackend struct {
	mu      sync.Mutex
	values  map[string]string
	pending map[string]*http.Cookie
	Path    string
	Secure  bool
	now     func() time.Time
}

func NewCookieBackend() *CookieBackend {
	return &CookieBackend{
		values:  map[string]string{},
		pending: map[string]*http.Cookie{},
		Path:    "/",
		now:     time.Now,
	}
}

// CookieBackendFromRequest loads the cta_ cookies of r.
func CookieBackendFromRequest(r *http.Request) *CookieBackend {
	c := NewCookieBackend()
	for _, ck := range r.Cookies() {
		if !strings.HasPrefix(ck.Name, cookiePrefix) {
			continue
		}
		v, err := url.QueryUnescape(ck.Value)
		if err != nil {
			continue
		}
		c.values[ck.Name] = v
	}
	return c
}

// cookieName maps a state key onto a valid cookie token under the cta_ prefix.
func cookieName(key string) string {
	var b strings.Builder
	if !strings.HasPrefix(key, cookiePrefix) {
		b.WriteString(cookiePrefix)
	}
	for _, r := range key {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' || r == '-' || r == '.' {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

func (c *CookieBackend) Get(_ context.Context, key string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.values[cookieName(key)]
	return v, ok, nil
}

func (c *CookieBackend) Set(_ context.Context, key, value string, ttl time.Duration) error {
	name := cookieName(key)
	ck := &http.Cookie{
		Name:     name,
		Value:    url.QueryEscape(value),
		Path:     c.Path,
		Secure:   c.Secure,
		SameSite: http.SameSiteLaxMode,
	}
	if ttl > 0 {
		ck.MaxAge = int(ttl / time.Second)
		ck.Expires = c.now().Add(ttl)
	}
	if len(ck.String()) > MaxCookieBytes {
		return ErrQuotaExceeded
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[name] = value
	c.pending[name] = ck
	return nil
}

func (c *CookieBackend) Delete(_ context.Context, key string) error {
	name := cookieName(key)
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.values[name]; !ok {
		if _, queued := c.pending[name]; !queued {
			return nil
		}
	}
	delete(c.values, name)
	c.pending[name] = &http.Cookie{Name: name, Value: "", Path: c.Path, MaxAge: -1}
	return nil
}

// WriteTo emits the queued Set-Cookie headers.
func (c *CookieBackend) WriteTo(w http.ResponseWriter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ck := range c.pending {
		http.SetCookie(w, ck)
	}
	c.pending = map[string]*http.Cookie{}
}
