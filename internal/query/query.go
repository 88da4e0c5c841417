// Package query derives the store subscription for a set of list controls.
// Only the category filter and ordering reach the store; the search term is
// applied locally to each snapshot.
package query

import (
	"strings"

	"github.com/vbonduro/invtrack/internal/domain"
)

// Inputs are the three list controls a user can change.
type Inputs struct {
	Search   string
	Sort     domain.SortKey
	Category domain.Category
}

// Spec is the store-side part of a query: an optional equality filter on
// category and an ascending order.
type Spec struct {
	Category domain.Category
	OrderBy  domain.SortKey
}

// Build derives the Spec for in. Unknown sort keys fall back to name.
func Build(in Inputs) Spec {
	order := in.Sort
	if !order.Valid() {
		order = domain.SortByName
	}
	return Spec{Category: in.Category, OrderBy: order}
}

// Filtered reports whether the spec carries a category filter.
func (s Spec) Filtered() bool {
	return s.Category != ""
}

// MatchSearch reports whether name contains term, ignoring case. An empty
// term matches every name.
func MatchSearch(name, term string) bool {
	if term == "" {
		return true
	}
	return strings.Contains(strings.ToLower(name), strings.ToLower(term))
}

// FilterSearch returns the items whose name matches term, preserving order.
// The result never aliases items.
func FilterSearch(items []domain.Item, term string) []domain.Item {
	out := make([]domain.Item, 0, len(items))
	for _, it := range items {
		if MatchSearch(it.Name, term) {
			out = append(out, it)
		}
	}
	return out
}
