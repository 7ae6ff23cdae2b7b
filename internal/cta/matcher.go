package cta

import "strings"

// Matches reports whether c may be shown for rc. Missing or unrecognised scope
// data never restricts: a mis-saved CTA must not stop rendering.
func Matches(c CTA, rc RequestContext) bool {
	if c.Status != StatusActive {
		return false
	}
	if rc.OptOut {
		return false
	}
	if !matchesDocumentType(c.Scope.DocumentTypes, rc.DocumentType) {
		return false
	}
	return matchesCategories(c.Scope, rc.CategoryIDs)
}

func matchesDocumentType(allowed []string, docType string) bool {
	if len(allowed) == 0 {
		return true
	}
	docType = strings.ToLower(strings.TrimSpace(docType))
	for _, t := range allowed {
		if strings.ToLower(strings.TrimSpace(t)) == docType {
			return true
		}
	}
	return false
}

func matchesCategories(s Scope, ids []int64) bool {
	if len(s.CategoryIDs) == 0 {
		return true
	}
	hit := intersects(s.CategoryIDs, ids)
	switch s.CategoryMode {
	case CategoryInclude:
		return hit
	case CategoryExclude:
		return !hit
	}
	return true
}

func intersects(a, b []int64) bool {
	if len(a) == 0 || len(b) == 0 {
		return false
	}
	set := make(map[int64]struct{}, len(a))
	for _, v := range a {
		set[v] = struct{}{}
	}
	for _, v := range b {
		if _, ok := set[v]; ok {
			return true
		}
	}
	return false
}
