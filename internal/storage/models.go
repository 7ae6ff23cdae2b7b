package storage

import (
	"errors"

	"cta-engine/internal/condition"
)

var ErrNotFound = errors.New("not found")

// CTARow is a CTA record as stored, before normalization.
type CTARow struct {
	ID                int64            `yaml:"id"`
	Name              string           `yaml:"name"`
	Content           string           `yaml:"content"`
	Status            string           `yaml:"status"`
	AutoInsert        bool             `yaml:"auto_insert"`
	Priority          int              `yaml:"priority"`
	HighlightTemplate string           `yaml:"highlight_template"`
	DocumentTypes     []string         `yaml:"document_types"`
	CategoryMode      string           `yaml:"category_mode"`
	CategoryIDs       []int64          `yaml:"category_ids"`
	Direction         string           `yaml:"insertion_direction"`
	Position          int              `yaml:"insertion_position"`
	FallbackBehavior  string           `yaml:"fallback_behavior"`
	ConditionJoin     string           `yaml:"condition_join"`
	Conditions        []condition.Rule `yaml:"conditions"`
	NextFallback      int64            `yaml:"next_fallback"`
}

// DocumentRow is the per-document context the resolver needs.
type DocumentRow struct {
	ID          int64   `yaml:"id"`
	Type        string  `yaml:"type"`
	CategoryIDs []int64 `yaml:"category_ids"`
	OptOut      bool    `yaml:"cta_opt_out"`
	PinnedCTA   int64   `yaml:"pinned_cta"`
}
