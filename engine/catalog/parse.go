package catalog

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/WessleyAI/skumatch/engine/domain"
)

var knownColumns = func() map[string]bool {
	m := make(map[string]bool, len(RequiredColumns))
	for _, c := range RequiredColumns {
		m[c] = true
	}
	return m
}()

// ParseEntries validates t against the fixed schema and returns entries in
// row order. The first violation rejects the whole table.
func ParseEntries(t Table) ([]domain.CatalogEntry, error) {
	col := make(map[string]int, len(t.Columns))
	for i, c := range t.Columns {
		c = strings.ToLower(strings.TrimSpace(c))
		if _, dup := col[c]; dup {
			return nil, domain.NewValidationError("columns", c, domain.ErrDuplicateColumn)
		}
		if !knownColumns[c] {
			return nil, domain.NewValidationError("columns", c, domain.ErrUnknownColumn)
		}
		col[c] = i
	}
	for _, c := range RequiredColumns {
		if _, ok := col[c]; !ok {
			return nil, domain.NewValidationError("columns", c, domain.ErrMissingColumn)
		}
	}
	if len(t.Rows) == 0 {
		return nil, domain.NewValidationError("rows", "", domain.ErrEmptyCatalog)
	}

	entries := make([]domain.CatalogEntry, 0, len(t.Rows))
	seen := make(map[string]int, len(t.Rows))
	for r, row := range t.Rows {
		if len(row) != len(t.Columns) {
			return nil, domain.NewValidationError(fmt.Sprintf("rows[%d]", r), fmt.Sprintf("%d cells", len(row)), domain.ErrRaggedRow)
		}
		cell := func(c string) string { return strings.TrimSpace(row[col[c]]) }

		e := domain.CatalogEntry{
			SKU:          cell("sku"),
			StandardName: cell("standard_name"),
			Category:     cell("category"),
			Manufacturer: cell("manufacturer"),
			Description:  cell("description"),
		}
		if e.SKU == "" {
			return nil, domain.NewValidationError(fmt.Sprintf("rows[%d].sku", r), "", domain.ErrEmptyField)
		}
		if e.StandardName == "" {
			return nil, domain.NewValidationError(fmt.Sprintf("rows[%d].standard_name", r), "", domain.ErrEmptyField)
		}
		if first, dup := seen[e.SKU]; dup {
			return nil, domain.NewValidationError(fmt.Sprintf("rows[%d].sku (first at rows[%d])", r, first), e.SKU, domain.ErrDuplicateSKU)
		}
		seen[e.SKU] = r

		price, err := parsePrice(cell("unit_price"))
		if err != nil {
			return nil, domain.NewValidationError(fmt.Sprintf("rows[%d].unit_price", r), cell("unit_price"), domain.ErrInvalidPrice)
		}
		e.UnitPrice = price
		entries = append(entries, e)
	}
	return entries, nil
}

// parsePrice accepts a plain decimal with an optional leading '$' and
// thousands separators. Negative prices are rejected.
func parsePrice(s string) (decimal.Decimal, error) {
	s = strings.ReplaceAll(strings.TrimPrefix(s, "$"), ",", "")
	if s == "" {
		return decimal.Decimal{}, fmt.Errorf("empty price")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, err
	}
	if d.IsNegative() {
		return decimal.Decimal{}, fmt.Errorf("negative price %s", s)
	}
	return d, nil
}

// CanonicalText is the embedding input for an entry: standard name,
// description, category and manufacturer joined by " | ", normalized.
func CanonicalText(e domain.CatalogEntry) string {
	return domain.NormalizeText(strings.Join([]string{e.StandardName, e.Description, e.Category, e.Manufacturer}, " | "))
}

// NameText is the second embedding input for an entry: its normalized
// standard name. Line items are normalized the same way, so a query equal to
// a standard name embeds to that entry's name vector.
func NameText(e domain.CatalogEntry) string {
	return domain.NormalizeText(e.StandardName)
}
