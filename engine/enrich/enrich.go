// Package enrich merges a match onto the original line item.
package enrich

import "github.com/WessleyAI/skumatch/engine/domain"

// Catalog resolves skus to entries; *catalog.Snapshot satisfies it.
type Catalog interface {
	Lookup(sku string) (domain.CatalogEntry, bool)
}

// Merge copies item verbatim and, when c names an entry in cat, attaches
// its catalog fields and confidence. Otherwise the match is nil.
func Merge(item domain.RFQLineItem, c *domain.MatchCandidate, cat Catalog) domain.EnrichedLineItem {
	out := domain.EnrichedLineItem{RFQLineItem: item, Status: domain.StatusNoMatch}
	if c == nil || cat == nil {
		return out
	}
	e, ok := cat.Lookup(c.SKU)
	if !ok {
		return out
	}
	out.Match = &domain.Match{
		SKU:          e.SKU,
		StandardName: e.StandardName,
		Category:     e.Category,
		Manufacturer: e.Manufacturer,
		Confidence:   c.Score,
		Band:         domain.BandFor(c.Score),
	}
	out.Status = domain.StatusMatched
	return out
}

// Failed marks item as failed with err's kind.
func Failed(item domain.RFQLineItem, err error) domain.EnrichedLineItem {
	return domain.EnrichedLineItem{
		RFQLineItem: item,
		Status:      domain.StatusFailed,
		Error:       &domain.ItemError{Kind: domain.KindOf(err), Message: err.Error()},
	}
}
