// Package domain defines the core skumatch types, the error taxonomy shared
// by every engine package, and the validation gate for RFQ batches.
package domain

import (
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"
)

// CatalogEntry is one validated catalog row. Vector embeds the canonical
// text and NameVector the standard name alone. Both are computed once at
// build time and never mutated.
type CatalogEntry struct {
	SKU          string          `json:"sku"`
	StandardName string          `json:"standard_name"`
	Category     string          `json:"category"`
	Manufacturer string          `json:"manufacturer"`
	Description  string          `json:"description"`
	UnitPrice    decimal.Decimal `json:"unit_price"`
	Vector       []float32       `json:"-"`
	NameVector   []float32       `json:"-"`
}

// RFQLineItem is one free-text line extracted from an RFQ document.
type RFQLineItem struct {
	RFQID     string           `json:"rfq_id"`
	LineItem  string           `json:"line_item"`
	Quantity  *decimal.Decimal `json:"quantity"`
	Unit      string           `json:"unit"`
	UnitPrice *decimal.Decimal `json:"unit_price"`
	Date      string           `json:"date"`
}

// MatchCandidate is one ranked search hit. Rank is 1-based.
type MatchCandidate struct {
	SKU   string  `json:"sku"`
	Score float64 `json:"score"`
	Rank  int     `json:"rank"`
}

// Band buckets a confidence score.
type Band string

const (
	BandHigh   Band = "high"
	BandMedium Band = "medium"
	BandLow    Band = "low"
)

// BandFor returns high for c >= 0.8, medium for [0.5, 0.8), low otherwise.
func BandFor(c float64) Band {
	switch {
	case c >= 0.8:
		return BandHigh
	case c >= 0.5:
		return BandMedium
	default:
		return BandLow
	}
}

// Match holds the catalog fields copied onto an enriched line item. A nil
// *Match means no match: the fields are all present or all absent.
type Match struct {
	SKU          string  `json:"matched_sku"`
	StandardName string  `json:"standard_name"`
	Category     string  `json:"category"`
	Manufacturer string  `json:"manufacturer"`
	Confidence   float64 `json:"match_confidence"`
	Band         Band    `json:"confidence_band"`
}

// ItemStatus is the per-item outcome of a batch.
type ItemStatus string

const (
	StatusMatched ItemStatus = "matched"
	StatusNoMatch ItemStatus = "no_match"
	StatusFailed  ItemStatus = "failed"
)

// ItemError describes why a single item failed.
type ItemError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

// EnrichedLineItem is an RFQLineItem plus its optional match.
type EnrichedLineItem struct {
	RFQLineItem
	Match  *Match
	Status ItemStatus
	Error  *ItemError
}

// enrichedWire is the flat JSON shape. Absent values render as null.
type enrichedWire struct {
	RFQID           string       `json:"rfq_id"`
	LineItem        string       `json:"line_item"`
	Quantity        *json.Number `json:"quantity"`
	Unit            *string      `json:"unit"`
	UnitPrice       *json.Number `json:"unit_price"`
	Date            *string      `json:"date"`
	MatchedSKU      *string      `json:"matched_sku"`
	StandardName    *string      `json:"standard_name"`
	Category        *string      `json:"category"`
	Manufacturer    *string      `json:"manufacturer"`
	MatchConfidence *float64     `json:"match_confidence"`
	ConfidenceBand  *Band        `json:"confidence_band"`
	Status          ItemStatus   `json:"status,omitempty"`
	Error           *ItemError   `json:"error,omitempty"`
}

func numberOrNil(d *decimal.Decimal) *json.Number {
	if d == nil {
		return nil
	}
	n := json.Number(d.String())
	return &n
}

func stringOrNil(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// MarshalJSON renders the flat export shape with explicit nulls.
func (e EnrichedLineItem) MarshalJSON() ([]byte, error) {
	w := enrichedWire{
		RFQID:     e.RFQID,
		LineItem:  e.LineItem,
		Quantity:  numberOrNil(e.Quantity),
		Unit:      stringOrNil(e.Unit),
		UnitPrice: numberOrNil(e.UnitPrice),
		Date:      stringOrNil(e.Date),
		Status:    e.Status,
		Error:     e.Error,
	}
	if m := e.Match; m != nil {
		band := m.Band
		conf := m.Confidence
		w.MatchedSKU = &m.SKU
		w.StandardName = &m.StandardName
		w.Category = &m.Category
		w.Manufacturer = &m.Manufacturer
		w.MatchConfidence = &conf
		w.ConfidenceBand = &band
	}
	return json.Marshal(w)
}

// UnmarshalJSON accepts the shape produced by MarshalJSON. A match is
// restored only when matched_sku is present.
func (e *EnrichedLineItem) UnmarshalJSON(data []byte) error {
	var w enrichedWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	out := EnrichedLineItem{
		RFQLineItem: RFQLineItem{RFQID: w.RFQID, LineItem: w.LineItem},
		Status:      w.Status,
		Error:       w.Error,
	}
	var err error
	if out.Quantity, err = decimalOrNil(w.Quantity); err != nil {
		return NewValidationError("quantity", string(*w.Quantity), err)
	}
	if out.UnitPrice, err = decimalOrNil(w.UnitPrice); err != nil {
		return NewValidationError("unit_price", string(*w.UnitPrice), err)
	}
	if w.Unit != nil {
		out.Unit = *w.Unit
	}
	if w.Date != nil {
		out.Date = *w.Date
	}
	if w.MatchedSKU != nil && strings.TrimSpace(*w.MatchedSKU) != "" {
		m := &Match{SKU: *w.MatchedSKU}
		if w.StandardName != nil {
			m.StandardName = *w.StandardName
		}
		if w.Category != nil {
			m.Category = *w.Category
		}
		if w.Manufacturer != nil {
			m.Manufacturer = *w.Manufacturer
		}
		if w.MatchConfidence != nil {
			m.Confidence = *w.MatchConfidence
		}
		m.Band = BandFor(m.Confidence)
		out.Match = m
	}
	*e = out
	return nil
}

func decimalOrNil(n *json.Number) (*decimal.Decimal, error) {
	if n == nil {
		return nil, nil
	}
	d, err := decimal.NewFromString(string(*n))
	if err != nil {
		return nil, err
	}
	return &d, nil
}
