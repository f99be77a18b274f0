// Package export renders enriched line items as CSV and reads plain line
// items back from CSV.
package export

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/WessleyAI/skumatch/engine/domain"
)

// Columns is the header row written by WriteCSV.
var Columns = []string{
	"rfq_id", "line_item", "quantity", "unit", "unit_price", "date",
	"matched_sku", "standard_name", "category", "manufacturer", "match_confidence",
}

// WriteCSV writes a header and one row per item. Absent values are empty cells.
func WriteCSV(w io.Writer, items []domain.EnrichedLineItem) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Columns); err != nil {
		return fmt.Errorf("export: write header: %w", err)
	}
	for i, it := range items {
		if err := cw.Write(row(it)); err != nil {
			return fmt.Errorf("export: write row %d: %w", i, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("export: flush: %w", err)
	}
	return nil
}

func row(it domain.EnrichedLineItem) []string {
	r := []string{
		it.RFQID, it.LineItem, decimalCell(it.Quantity), it.Unit, decimalCell(it.UnitPrice), it.Date,
		"", "", "", "", "",
	}
	if m := it.Match; m != nil {
		r[6] = m.SKU
		r[7] = m.StandardName
		r[8] = m.Category
		r[9] = m.Manufacturer
		r[10] = strconv.FormatFloat(m.Confidence, 'f', 4, 64)
	}
	return r
}

func decimalCell(d *decimal.Decimal) string {
	if d == nil {
		return ""
	}
	return d.String()
}

// ReadItemsCSV reads RFQ line items from a CSV with a header row. Only
// line_item is required; rfq_id, quantity, unit, unit_price and date are
// optional columns and other columns are ignored. Empty numeric cells stay
// nil.
func ReadItemsCSV(r io.Reader) ([]domain.RFQLineItem, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, domain.NewValidationError("line_items", "", domain.ErrEmptyLineItem)
	}
	if err != nil {
		return nil, domain.NewValidationError("csv header", err.Error(), domain.ErrMalformedCSV)
	}
	col := map[string]int{}
	for i, h := range header {
		col[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))] = i
	}
	if _, ok := col["line_item"]; !ok {
		return nil, domain.NewValidationError("line_item", "", domain.ErrMissingColumn)
	}
	cell := func(rec []string, name string) string {
		i, ok := col[name]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	var items []domain.RFQLineItem
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return items, nil
		}
		if err != nil {
			return nil, domain.NewValidationError(fmt.Sprintf("csv line %d", line), err.Error(), domain.ErrMalformedCSV)
		}
		it := domain.RFQLineItem{
			RFQID:    cell(rec, "rfq_id"),
			LineItem: cell(rec, "line_item"),
			Unit:     cell(rec, "unit"),
			Date:     cell(rec, "date"),
		}
		if it.Quantity, err = optionalDecimal(cell(rec, "quantity")); err != nil {
			return nil, domain.NewValidationError(fmt.Sprintf("line %d quantity", line), cell(rec, "quantity"), err)
		}
		if it.UnitPrice, err = optionalDecimal(cell(rec, "unit_price")); err != nil {
			return nil, domain.NewValidationError(fmt.Sprintf("line %d unit_price", line), cell(rec, "unit_price"), err)
		}
		items = append(items, it)
	}
}

func optionalDecimal(s string) (*decimal.Decimal, error) {
	s = strings.ReplaceAll(strings.TrimPrefix(s, "$"), ",", "")
	if s == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, domain.ErrInvalidNumber
	}
	return &d, nil
}
