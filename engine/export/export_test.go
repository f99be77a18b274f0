package export

import (
	"bytes"
	"encoding/csv"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WessleyAI/skumatch/engine/domain"
)

func TestWriteCSV(t *testing.T) {
	qty := decimal.RequireFromString("100")
	items := []domain.EnrichedLineItem{
		{
			RFQLineItem: domain.RFQLineItem{RFQID: "RFQ-1", LineItem: `2" PVC Pipe, Schedule 40`, Quantity: &qty, Unit: "ft"},
			Match: &domain.Match{
				SKU: "SKU001", StandardName: "2 inch PVC pipe schedule 40",
				Category: "Plumbing", Manufacturer: "Charlotte Pipe", Confidence: 0.84312,
			},
			Status: domain.StatusMatched,
		},
		{
			RFQLineItem: domain.RFQLineItem{RFQID: "RFQ-1", LineItem: "mystery part"},
			Status:      domain.StatusNoMatch,
		},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, items))

	recs, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, Columns, recs[0])
	assert.Equal(t, []string{
		"RFQ-1", `2" PVC Pipe, Schedule 40`, "100", "ft", "", "",
		"SKU001", "2 inch PVC pipe schedule 40", "Plumbing", "Charlotte Pipe", "0.8431",
	}, recs[1])
	assert.Equal(t, []string{"RFQ-1", "mystery part", "", "", "", "", "", "", "", "", ""}, recs[2])
}

func TestWriteCSVEmpty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, nil))
	assert.Equal(t, strings.Join(Columns, ",")+"\n", buf.String())
}

func TestReadItemsCSV(t *testing.T) {
	in := "\ufeffRFQ_ID,Line_Item,Quantity,Unit,Unit_Price,Date,notes\n" +
		"RFQ-9,\"2\"\" PVC Pipe, Schedule 40\",100,ft,\"$1,200.50\",2024-03-01,rush\n" +
		"RFQ-9,hex bolt,,,,\n"

	items, err := ReadItemsCSV(strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, items, 2)

	assert.Equal(t, `2" PVC Pipe, Schedule 40`, items[0].LineItem)
	assert.Equal(t, "100", items[0].Quantity.String())
	assert.Equal(t, "1200.5", items[0].UnitPrice.String())
	assert.Equal(t, "2024-03-01", items[0].Date)

	assert.Equal(t, "hex bolt", items[1].LineItem)
	assert.Nil(t, items[1].Quantity)
	assert.Nil(t, items[1].UnitPrice)
	assert.Empty(t, items[1].Unit)
}

func TestReadItemsCSVErrors(t *testing.T) {
	_, err := ReadItemsCSV(strings.NewReader(""))
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))

	_, err = ReadItemsCSV(strings.NewReader("sku,qty\nA,1\n"))
	assert.ErrorIs(t, err, domain.ErrMissingColumn)

	_, err = ReadItemsCSV(strings.NewReader("line_item,quantity\npipe,lots\n"))
	assert.ErrorIs(t, err, domain.ErrInvalidNumber)
}
