package stock

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paperledger/paperledger/pkg/store"
)

func vendorLine(part string, qty int64, rate int64) store.StagingVendorLine {
	return store.StagingVendorLine{
		Tenant:     "garage",
		PartNumber: part,
		Quantity:   qty,
		Rate:       decimal.NewFromInt(rate),
	}
}

func sale(description string, qty int64) store.VerifiedInvoice {
	return store.VerifiedInvoice{
		Tenant:          "garage",
		ItemDescription: description,
		Quantity:        qty,
	}
}

func TestComputeLevelsInflowMinusOutflow(t *testing.T) {
	levels, keep := computeLevels("garage",
		[]store.StagingVendorLine{
			vendorLine("BP-1010", 10, 100),
			vendorLine("BP-1010", 5, 110),
			vendorLine("OF-22", 3, 50),
		},
		[]store.VerifiedInvoice{
			sale("BP-1010", 4),
			sale("bp-1010", 2),
		},
		nil, nil)

	require.Len(t, levels, 2)
	require.ElementsMatch(t, []string{"BP-1010", "OF-22"}, keep)

	byPart := indexLevels(levels)
	assert.Equal(t, int64(9), byPart["BP-1010"].CurrentStock)
	assert.Equal(t, int64(3), byPart["OF-22"].CurrentStock)
	// unit_value fills from the latest vendor rate.
	require.True(t, byPart["BP-1010"].UnitValue.Valid)
	assert.Equal(t, "110", byPart["BP-1010"].UnitValue.Decimal.String())
	assert.Equal(t, "990", byPart["BP-1010"].TotalValue.String())
}

func TestComputeLevelsAliasMatching(t *testing.T) {
	levels, _ := computeLevels("garage",
		[]store.StagingVendorLine{vendorLine("BP-1010", 10, 100)},
		[]store.VerifiedInvoice{
			sale("Brake Pad Set", 3),
			sale("pads", 1),
			sale("unknown widget", 5),
		},
		[]store.VendorMapping{{
			Tenant:            "garage",
			PartNumber:        "BP-1010",
			InternalItemName:  "Brake Pad Set",
			VendorDescription: "BRAKE PADS OEM",
			CustomerItems:     []string{"pads"},
		}},
		nil)

	byPart := indexLevels(levels)
	// 10 in, 4 matched out; the unknown sale moves nothing.
	assert.Equal(t, int64(6), byPart["BP-1010"].CurrentStock)
}

func TestComputeLevelsPreservesManualFields(t *testing.T) {
	p1 := "P1"
	reorder := int64(5)
	old := int64(12)
	unit := decimal.NullDecimal{Decimal: decimal.NewFromInt(75), Valid: true}

	levels, _ := computeLevels("garage",
		[]store.StagingVendorLine{vendorLine("BP-1010", 10, 100)},
		[]store.VerifiedInvoice{sale("BP-1010", 2)},
		nil,
		[]store.StockLevel{{
			Tenant:           "garage",
			PartNumber:       "BP-1010",
			InternalItemName: "Brake Pad Set",
			Priority:         &p1,
			ReorderPoint:     &reorder,
			ManualAdjustment: 3,
			OldStock:         &old,
			UnitValue:        unit,
			CustomerItems:    []string{"pads"},
		}})

	require.Len(t, levels, 1)
	lvl := levels[0]
	assert.Equal(t, "Brake Pad Set", lvl.InternalItemName)
	require.NotNil(t, lvl.Priority)
	assert.Equal(t, "P1", *lvl.Priority)
	assert.Equal(t, int64(3), lvl.ManualAdjustment)
	require.NotNil(t, lvl.OldStock)
	assert.Equal(t, int64(12), *lvl.OldStock)
	// An existing unit value is never overwritten by vendor rates.
	assert.Equal(t, "75", lvl.UnitValue.Decimal.String())

	assert.Equal(t, int64(8), lvl.CurrentStock)
	assert.Equal(t, int64(11), lvl.OnHand())
	// total_value = on_hand × unit_value.
	assert.Equal(t, "825", lvl.TotalValue.String())
}

func TestComputeLevelsDropsVanishedParts(t *testing.T) {
	_, keep := computeLevels("garage",
		[]store.StagingVendorLine{vendorLine("OF-22", 3, 50)},
		nil, nil,
		[]store.StockLevel{
			{Tenant: "garage", PartNumber: "OF-22"},
			{Tenant: "garage", PartNumber: "GONE-1"},
		})

	assert.Equal(t, []string{"OF-22"}, keep)
}

func TestComputeLevelsNegativeStockAllowed(t *testing.T) {
	levels, _ := computeLevels("garage",
		[]store.StagingVendorLine{vendorLine("BP-1010", 2, 100)},
		[]store.VerifiedInvoice{sale("BP-1010", 5)},
		nil, nil)

	require.Len(t, levels, 1)
	assert.Equal(t, int64(-3), levels[0].CurrentStock)
}

func indexLevels(levels []store.StockLevel) map[string]store.StockLevel {
	out := make(map[string]store.StockLevel, len(levels))
	for _, l := range levels {
		out[l.PartNumber] = l
	}
	return out
}
