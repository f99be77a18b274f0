package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateMatchRequest(t *testing.T) {
	tests := []struct {
		name  string
		doc   string
		valid bool
	}{
		{"minimal", `{"line_items":[{"line_item":"pvc pipe"}]}`, true},
		{"full", `{"rfq_id":"R1","line_items":[{"rfq_id":"R1","line_item":"pvc","quantity":100,"unit":"ft","unit_price":"3.50","date":null}]}`, true},
		{"empty list", `{"line_items":[]}`, true},
		{"missing line_items", `{"rfq_id":"R1"}`, false},
		{"missing text", `{"line_items":[{"quantity":1}]}`, false},
		{"text not string", `{"line_items":[{"line_item":42}]}`, false},
		{"quantity bool", `{"line_items":[{"line_item":"x","quantity":true}]}`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			violations, err := Validate(MatchRequest, []byte(tt.doc))
			require.NoError(t, err)
			if tt.valid {
				assert.Empty(t, violations)
			} else {
				assert.NotEmpty(t, violations)
			}
		})
	}
}

func TestValidateExportRequest(t *testing.T) {
	violations, err := Validate(ExportRequest, []byte(`{"line_items":[{"line_item":"x","matched_sku":null,"match_confidence":null}]}`))
	require.NoError(t, err)
	assert.Empty(t, violations)

	violations, err = Validate(ExportRequest, []byte(`{"line_items":[{"line_item":"x","match_confidence":1.5}]}`))
	require.NoError(t, err)
	assert.NotEmpty(t, violations)
}

func TestValidateErrors(t *testing.T) {
	_, err := Validate("nope", []byte(`{}`))
	assert.Error(t, err)

	_, err = Validate(MatchRequest, []byte(`{not json`))
	assert.Error(t, err)
}
