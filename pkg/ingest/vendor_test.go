package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paperledger/paperledger/pkg/vision"
)

func vendorDoc(header map[string]any, items ...vision.Item) *vision.Document {
	return &vision.Document{Header: header, Items: items}
}

func TestBuildVendorRowsTaxMath(t *testing.T) {
	doc := vendorDoc(map[string]any{
		"invoice_number": "VB-77",
		"date":           "10-01-2025",
		"vendor_name":    "sharma auto spares",
	}, vision.Item{
		"part_number":    "bp-1010",
		"description":    "brake pads",
		"quantity":       float64(10),
		"rate":           float64(100),
		"taxable_amount": float64(1000),
		"discount_pct":   float64(10),
		"cgst_pct":       float64(9),
		"sgst_pct":       float64(9),
	})

	rows := buildVendorRows("garage", doc, "garage/purchases/k1.jpg", "abcdef1234567890")
	require.Len(t, rows, 1)
	r := rows[0]

	assert.Equal(t, "VB-77_0", r.RowID)
	assert.Equal(t, "Sharma Auto Spares", r.VendorName)
	assert.Equal(t, "BP-1010", r.PartNumber)
	require.NotNil(t, r.Date)
	assert.Equal(t, "2025-01-10", *r.Date)

	// 1000 × 0.9 = 900; 18% of 900 = 162; net 1062.
	assert.Equal(t, "900", r.DiscountedPrice.String())
	assert.Equal(t, "162", r.TaxedAmount.String())
	assert.Equal(t, "1062", r.NetBill.String())
	assert.True(t, r.AmountMismatch.IsZero())
	assert.False(t, r.Handwritten)
}

func TestBuildVendorRowsMismatchPrintedOnly(t *testing.T) {
	item := vision.Item{
		"description":    "filters",
		"quantity":       float64(5),
		"rate":           float64(100),
		"taxable_amount": float64(450),
	}

	printed := buildVendorRows("garage", vendorDoc(map[string]any{
		"invoice_number": "VB-1",
	}, item), "k", "abcdef1234567890")
	require.Len(t, printed, 1)
	assert.Equal(t, "50", printed[0].AmountMismatch.String())

	handwritten := buildVendorRows("garage", vendorDoc(map[string]any{
		"invoice_number": "VB-2",
		"handwritten":    true,
	}, item), "k", "abcdef1234567890")
	require.Len(t, handwritten, 1)
	assert.True(t, handwritten[0].Handwritten)
	assert.True(t, handwritten[0].AmountMismatch.IsZero())
}

func TestBuildVendorRowsHashPrefixWhenNoInvoiceNumber(t *testing.T) {
	rows := buildVendorRows("garage", vendorDoc(map[string]any{
		"handwritten": "yes",
	}, vision.Item{"description": "clips", "quantity": float64(1)}),
		"k", "abcdef1234567890abcdef")
	require.Len(t, rows, 1)
	assert.Equal(t, "INV_abcdef123456_0", rows[0].RowID)
	assert.True(t, rows[0].Handwritten)
}

func TestBuildVendorRowsRoundsFractionalQuantity(t *testing.T) {
	rows := buildVendorRows("garage", vendorDoc(map[string]any{
		"invoice_number": "VB-9",
	}, vision.Item{
		"description":    "coolant",
		"quantity":       2.5,
		"rate":           float64(100),
		"taxable_amount": float64(250),
	}), "k", "abcdef1234567890")

	require.Len(t, rows, 1)
	// 2.5 litres rounds to 3, never truncates to 2.
	assert.Equal(t, int64(3), rows[0].Quantity)
}

func TestIsHandwrittenVariants(t *testing.T) {
	assert.True(t, isHandwritten(map[string]any{"handwritten": true}))
	assert.True(t, isHandwritten(map[string]any{"handwritten": "TRUE"}))
	assert.True(t, isHandwritten(map[string]any{"handwritten": " yes "}))
	assert.True(t, isHandwritten(map[string]any{"invoice_type": "Handwritten"}))
	assert.False(t, isHandwritten(map[string]any{"handwritten": false}))
	assert.False(t, isHandwritten(map[string]any{}))
}

func TestBuildMappingRows(t *testing.T) {
	doc := &vision.Document{
		Header: map[string]any{},
		Items: []vision.Item{
			{
				"part_number":        "bp-1010",
				"internal_item_name": "brake pad set",
				"customer_items":     "pads, brake pads , ",
				"priority":           "Po",
				"stock_count":        "12",
				"reorder_point":      "5.0",
			},
			{"internal_item_name": "no part number, dropped"},
			{"part_number": "of-22", "stock_count": "O"},
		},
	}

	rows := buildMappingRows(doc)
	require.Len(t, rows, 2)

	first := rows[0]
	assert.Equal(t, "BP-1010", first.PartNumber)
	assert.Equal(t, "Brake Pad Set", first.InternalItemName)
	assert.Equal(t, []string{"pads", "brake pads"}, first.CustomerItems)
	require.NotNil(t, first.Priority)
	assert.Equal(t, "P0", *first.Priority)
	require.NotNil(t, first.PhysicalCount)
	assert.Equal(t, int64(12), *first.PhysicalCount)
	require.NotNil(t, first.ReorderPoint)
	assert.Equal(t, int64(5), *first.ReorderPoint)

	// The circle glyph means "not counted".
	assert.Nil(t, rows[1].PhysicalCount)
}
