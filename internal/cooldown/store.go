// Package cooldown is the two-tier visitor state store behind highlight
// cooldowns and runtime conditions.
//
// Writes go to the primary tier and fall back to the cookie tier when the
// primary refuses them; reads prefer the primary tier. No method returns an
// error: when both tiers fail a cooldown reads as not active.
package cooldown

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"cta-engine/internal/condition"
)

var (
	ErrQuotaExceeded = errors.New("storage quota exceeded")
	ErrUnavailable   = errors.New("storage unavailable")
)

const (
	GlobalKey      = "cta_highlights_global"
	templatePrefix = "cta_highlights_template_"
)

// TemplateKey is the per-widget cooldown key for a template name.
func TemplateKey(name string) string {
	return templatePrefix + SanitizeName(name)
}

// SanitizeName lower-cases name and drops everything but [a-z0-9_-].
func SanitizeName(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' || r == '-' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Record is the stored value of a cooldown key. Times are unix milliseconds.
type Record struct {
	Timestamp  int64 `json:"timestamp"`
	ExpiryTime int64 `json:"expiryTime"`
}

// Backend is one storage tier.
type Backend interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

type Store struct {
	Primary  Backend
	Fallback Backend
	Now      func() time.Time
	Log      zerolog.Logger
	// OnFallback is called with the operation name whenever the primary tier
	// failed and the fallback tier was tried.
	OnFallback func(op string)
}

func New(primary, fallback Backend) *Store {
	return &Store{Primary: primary, Fallback: fallback, Now: time.Now, Log: zerolog.Nop()}
}

func (s *Store) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}

// Set starts a cooldown of ttl on key.
func (s *Store) Set(ctx context.Context, key string, ttl time.Duration) {
	now := s.now()
	rec := Record{Timestamp: now.UnixMilli(), ExpiryTime: now.Add(ttl).UnixMilli()}
	b, _ := json.Marshal(rec)
	s.Put(ctx, key, string(b), ttl)
}

// IsActive reports whether key holds an unexpired record. Expired or
// unreadable records are deleted.
func (s *Store) IsActive(ctx context.Context, key string) bool {
	raw, ok := s.Get(ctx, key)
	if !ok {
		return false
	}
	var rec Record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil || rec.ExpiryTime == 0 {
		s.Log.Debug().Str("key", key).Msg("dropping unreadable cooldown record")
		s.Remove(ctx, key)
		return false
	}
	if rec.ExpiryTime <= s.now().UnixMilli() {
		s.Remove(ctx, key)
		return false
	}
	return true
}

// Get returns the raw value of key from the first tier that has it.
func (s *Store) Get(ctx context.Context, key string) (string, bool) {
	for _, b := range s.tiers() {
		var (
			v  string
			ok bool
		)
		err := guard(func() error {
			var err error
			v, ok, err = b.Get(ctx, key)
			return err
		})
		if err != nil {
			s.Log.Debug().Err(err).Str("key", key).Msg("state read failed")
			continue
		}
		if ok {
			return v, true
		}
	}
	return "", false
}

// Put writes a raw value, falling back to the second tier on failure.
func (s *Store) Put(ctx context.Context, key, value string, ttl time.Duration) {
	for i, b := range s.tiers() {
		if i > 0 && s.OnFallback != nil {
			s.OnFallback("set")
		}
		err := guard(func() error { return b.Set(ctx, key, value, ttl) })
		if err == nil {
			return
		}
		s.Log.Debug().Err(err).Str("key", key).Int("tier", i).Msg("state write failed")
	}
}

// Remove deletes key from every tier.
func (s *Store) Remove(ctx context.Context, key string) {
	for _, b := range s.tiers() {
		if err := guard(func() error { return b.Delete(ctx, key) }); err != nil {
			s.Log.Debug().Err(err).Str("key", key).Msg("state delete failed")
		}
	}
}

func (s *Store) tiers() []Backend {
	out := make([]Backend, 0, 2)
	if s.Primary != nil {
		out = append(out, s.Primary)
	}
	if s.Fallback != nil {
		out = append(out, s.Fallback)
	}
	return out
}

// guard turns a panicking backend into an error.
func guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrUnavailable, r)
		}
	}()
	return fn()
}

// State binds the store to ctx for condition evaluation.
func (s *Store) State(ctx context.Context) condition.State {
	return state{ctx: ctx, s: s}
}

type state struct {
	ctx context.Context
	s   *Store
}

func (st state) Get(key string) (string, bool) { return st.s.Get(st.ctx, key) }
func (st state) IsActive(key string) bool      { return st.s.IsActive(st.ctx, key) }
