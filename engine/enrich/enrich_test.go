package enrich

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WessleyAI/skumatch/engine/domain"
)

type mapCatalog map[string]domain.CatalogEntry

func (m mapCatalog) Lookup(sku string) (domain.CatalogEntry, bool) {
	e, ok := m[sku]
	return e, ok
}

var cat = mapCatalog{
	"SKU001": {SKU: "SKU001", StandardName: "2 inch PVC pipe schedule 40", Category: "Plumbing", Manufacturer: "Charlotte Pipe"},
}

func TestMergeMatched(t *testing.T) {
	qty := decimal.RequireFromString("100")
	price := decimal.RequireFromString("3.995")
	item := domain.RFQLineItem{
		RFQID:     "RFQ-7",
		LineItem:  `2" PVC Pipe, Schedule 40`,
		Quantity:  &qty,
		Unit:      "ft",
		UnitPrice: &price,
		Date:      "2024-03-01",
	}

	out := Merge(item, &domain.MatchCandidate{SKU: "SKU001", Score: 0.84, Rank: 1}, cat)
	assert.Equal(t, item, out.RFQLineItem)
	assert.Equal(t, "3.995", out.UnitPrice.String(), "input price is not replaced by the catalog price")
	assert.Equal(t, domain.StatusMatched, out.Status)
	require.NotNil(t, out.Match)
	assert.Equal(t, "Charlotte Pipe", out.Match.Manufacturer)
	assert.Equal(t, 0.84, out.Match.Confidence)
	assert.Equal(t, domain.BandHigh, out.Match.Band)
	assert.Nil(t, out.Error)
}

func TestMergeKeepsAbsentFields(t *testing.T) {
	item := domain.RFQLineItem{LineItem: "pvc pipe"}
	out := Merge(item, &domain.MatchCandidate{SKU: "SKU001", Score: 0.6}, cat)
	assert.Nil(t, out.Quantity)
	assert.Nil(t, out.UnitPrice)
	assert.Empty(t, out.Unit)
	assert.Empty(t, out.Date)
	assert.Equal(t, domain.BandMedium, out.Match.Band)
}

func TestMergeNoMatch(t *testing.T) {
	item := domain.RFQLineItem{LineItem: "mystery"}

	for name, c := range map[string]*domain.MatchCandidate{
		"nil candidate": nil,
		"unknown sku":   {SKU: "SKU999", Score: 0.9},
	} {
		t.Run(name, func(t *testing.T) {
			out := Merge(item, c, cat)
			assert.Nil(t, out.Match)
			assert.Equal(t, domain.StatusNoMatch, out.Status)
			assert.Equal(t, item, out.RFQLineItem)
		})
	}
}

func TestFailed(t *testing.T) {
	item := domain.RFQLineItem{LineItem: "hex bolt"}
	out := Failed(item, &domain.EmbeddingError{Op: "query", Wrapped: errors.New("timeout")})
	assert.Equal(t, domain.StatusFailed, out.Status)
	assert.Nil(t, out.Match)
	require.NotNil(t, out.Error)
	assert.Equal(t, domain.KindEmbedding, out.Error.Kind)
	assert.Contains(t, out.Error.Message, "timeout")
}
