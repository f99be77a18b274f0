package domain

import (
	"fmt"
	"strings"
)

// NormalizeText trims, case-folds and collapses internal whitespace runs to a
// single space.
func NormalizeText(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// ValidateLineItems is the gate in front of a batch. It rejects the whole
// batch on the first item with empty text or with a non-empty rfq_id that
// differs from rfqID.
func ValidateLineItems(rfqID string, items []RFQLineItem) error {
	for i, it := range items {
		if strings.TrimSpace(it.LineItem) == "" {
			return NewValidationError(fmt.Sprintf("line_items[%d].line_item", i), "", ErrEmptyLineItem)
		}
		if it.RFQID != "" && rfqID != "" && it.RFQID != rfqID {
			return NewValidationError(fmt.Sprintf("line_items[%d].rfq_id", i), it.RFQID, ErrRFQMismatch)
		}
	}
	return nil
}
