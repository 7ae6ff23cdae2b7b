package cta

import "cta-engine/internal/condition"

type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

// Direction: "forward" counts from the first content element, "reverse" from the last.
type Direction string

const (
	Forward Direction = "forward"
	Reverse Direction = "reverse"
)

// Overflow is applied when the requested offset exceeds the content length.
type Overflow string

const (
	OverflowSkip Overflow = "skip"
	OverflowEnd  Overflow = "end"
)

type CategoryMode string

const (
	CategoryInclude CategoryMode = "include"
	CategoryExclude CategoryMode = "exclude"
)

type Scope struct {
	DocumentTypes []string     // empty = any type
	CategoryMode  CategoryMode // "" or unknown = no category restriction
	CategoryIDs   []int64
}

type Placement struct {
	Direction Direction
	Offset    int // 1-indexed
}

// CTA is one record of the CTA table.
type CTA struct {
	ID                int64
	Name              string
	Content           string // markup, may hold nested embed directives
	Status            Status
	AutoInsert        bool // primary candidate for auto-insertion
	Priority          int  // lower first among primaries
	HighlightTemplate string
	Scope             Scope
	Placement         Placement
	Overflow          Overflow
	Condition         *condition.Expr
	NextFallback      int64 // 0 = terminal
}

// RequestContext is what the matcher knows about the document being rendered.
type RequestContext struct {
	DocumentID   int64
	DocumentType string
	CategoryIDs  []int64
	OptOut       bool
}
