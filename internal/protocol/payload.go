// Package protocol is the JSON document the server embeds in a page for the
// client-side auto-insertion pass.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"cta-engine/internal/condition"
	"cta-engine/internal/cta"
)

var ErrMalformed = errors.New("malformed auto-insert payload")

// ScriptID is the id of the <script> element carrying the payload.
const ScriptID = "cta-auto-insert-data"

type Payload struct {
	DocumentID      int64        `json:"documentId"`
	ContentSelector string       `json:"contentSelector"`
	LoadAssets      bool         `json:"loadAssets,omitempty"`
	CTAs            []CTAPayload `json:"ctas"`
}

type CTAPayload struct {
	ID                   int64           `json:"id"`
	Content              string          `json:"content"`
	RuntimeCondition     *condition.Expr `json:"runtime_condition,omitempty"`
	RuntimeConditionExpr string          `json:"runtime_condition_expr,omitempty"`
	StorageConditionJS   string          `json:"storage_condition_js,omitempty"`
	HasStorageConditions bool            `json:"has_storage_conditions"`
	Direction            cta.Direction   `json:"insertion_direction"`
	Position             int             `json:"insertion_position"`
	FallbackBehavior     cta.Overflow    `json:"fallback_behavior"`
	ScopeMismatch        bool            `json:"scope_mismatch,omitempty"`
	HighlightTemplate    string          `json:"highlight_template,omitempty"`
}

// Expression returns the string form of the candidate's condition, preferring
// the current key over the legacy one.
func (c CTAPayload) Expression() string {
	if c.RuntimeConditionExpr != "" {
		return c.RuntimeConditionExpr
	}
	return c.StorageConditionJS
}

func Encode(p Payload) ([]byte, error) {
	if p.CTAs == nil {
		p.CTAs = []CTAPayload{}
	}
	b, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return b, nil
}

// wire accepts the older postId key next to documentId.
type wire struct {
	Payload
	PostID int64 `json:"postId"`
}

// Decode parses and validates a payload. Any structural problem yields
// ErrMalformed; callers abort the whole pass rather than insert partially.
func Decode(data []byte) (Payload, error) {
	var w wire
	if err := json.Unmarshal(data, &w); err != nil {
		return Payload{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	p := w.Payload
	if p.DocumentID == 0 {
		p.DocumentID = w.PostID
	}
	p.ContentSelector = strings.TrimSpace(p.ContentSelector)
	if p.ContentSelector == "" {
		return Payload{}, fmt.Errorf("%w: empty contentSelector", ErrMalformed)
	}
	if p.CTAs == nil {
		return Payload{}, fmt.Errorf("%w: missing ctas", ErrMalformed)
	}
	for i, c := range p.CTAs {
		if err := validateCTA(c); err != nil {
			return Payload{}, fmt.Errorf("%w: ctas[%d]: %v", ErrMalformed, i, err)
		}
	}
	return p, nil
}

func validateCTA(c CTAPayload) error {
	if c.ID <= 0 {
		return fmt.Errorf("id %d", c.ID)
	}
	switch c.Direction {
	case cta.Forward, cta.Reverse:
	default:
		return fmt.Errorf("insertion_direction %q", c.Direction)
	}
	if c.Position < 1 {
		return fmt.Errorf("insertion_position %d", c.Position)
	}
	switch c.FallbackBehavior {
	case cta.OverflowSkip, cta.OverflowEnd:
	default:
		return fmt.Errorf("fallback_behavior %q", c.FallbackBehavior)
	}
	return nil
}
