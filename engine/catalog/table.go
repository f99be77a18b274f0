package catalog

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/WessleyAI/skumatch/engine/domain"
)

// RequiredColumns is the fixed catalog schema, in canonical order.
var RequiredColumns = []string{"sku", "standard_name", "category", "manufacturer", "description", "unit_price"}

// Table is an ordered tabular catalog before validation.
type Table struct {
	Columns []string
	Rows    [][]string
}

const bom = "\ufeff"

// ReadCSV parses a catalog CSV. The first record is the header. A leading
// byte-order mark is ignored and header names and cells are trimmed.
// Row widths are not checked here; building rejects ragged rows.
func ReadCSV(r io.Reader) (Table, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return Table{}, domain.NewValidationError("header", "", domain.ErrEmptyCatalog)
	}
	if err != nil {
		return Table{}, malformed(err)
	}

	t := Table{Columns: make([]string, len(header))}
	for i, h := range header {
		if i == 0 {
			h = strings.TrimPrefix(h, bom)
		}
		t.Columns[i] = strings.ToLower(strings.TrimSpace(h))
	}

	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Table{}, malformed(err)
		}
		for i := range rec {
			rec[i] = strings.TrimSpace(rec[i])
		}
		t.Rows = append(t.Rows, rec)
	}
	return t, nil
}

// malformed classifies parse errors as validation failures. Read errors
// from the underlying stream are returned wrapped as they are.
func malformed(err error) error {
	var pe *csv.ParseError
	if !errors.As(err, &pe) {
		return fmt.Errorf("catalog: read csv: %w", err)
	}
	return domain.NewValidationError(fmt.Sprintf("csv line %d", pe.Line), err.Error(), domain.ErrMalformedCSV)
}

// TableFromRecords builds a Table from JSON-style objects. Required columns
// that appear in any record come first in canonical order, then any other
// keys sorted. Missing keys become empty cells.
func TableFromRecords(recs []map[string]string) Table {
	present := map[string]bool{}
	for _, r := range recs {
		for k := range r {
			present[strings.ToLower(strings.TrimSpace(k))] = true
		}
	}

	var cols []string
	for _, c := range RequiredColumns {
		if present[c] {
			cols = append(cols, c)
			delete(present, c)
		}
	}
	extra := make([]string, 0, len(present))
	for c := range present {
		extra = append(extra, c)
	}
	sort.Strings(extra)
	cols = append(cols, extra...)

	t := Table{Columns: cols, Rows: make([][]string, len(recs))}
	for i, r := range recs {
		norm := make(map[string]string, len(r))
		for k, v := range r {
			norm[strings.ToLower(strings.TrimSpace(k))] = strings.TrimSpace(v)
		}
		row := make([]string, len(cols))
		for j, c := range cols {
			row[j] = norm[c]
		}
		t.Rows[i] = row
	}
	return t
}
