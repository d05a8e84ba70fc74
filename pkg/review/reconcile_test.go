package review

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paperledger/paperledger/pkg/store"
)

func strPtr(s string) *string { return &s }

func stagingRow(rowID, receipt, blobKey string, date *string) store.StagingInvoice {
	return store.StagingInvoice{
		Tenant:          "garage",
		RowID:           rowID,
		ReceiptNumber:   receipt,
		Date:            date,
		CustomerName:    "Ravi Kumar",
		ItemDescription: "Engine Oil",
		Quantity:        1,
		Rate:            decimal.NewFromInt(100),
		Amount:          decimal.NewFromInt(100),
		BlobKey:         blobKey,
		ImageHash:       "hash-" + rowID,
	}
}

func header(receipt, blobKey, status string, date *string) store.VerificationHeader {
	return store.VerificationHeader{
		Tenant:        "garage",
		RowID:         receipt,
		ReceiptNumber: receipt,
		Date:          date,
		Status:        status,
		BlobKey:       blobKey,
	}
}

func line(rowID, receipt, blobKey, status string) store.VerificationLine {
	return store.VerificationLine{
		Tenant:          "garage",
		RowID:           rowID,
		ReceiptNumber:   receipt,
		ItemDescription: "Engine Oil",
		Quantity:        1,
		Rate:            decimal.NewFromInt(100),
		Amount:          decimal.NewFromInt(100),
		Status:          status,
		BlobKey:         blobKey,
		ImageHash:       "hash-" + rowID,
	}
}

func TestReconcileUnreferencedRowsPromote(t *testing.T) {
	snap := snapshot{
		Staging: []store.StagingInvoice{
			stagingRow("R1_0", "R1", "k1", strPtr("2025-03-15")),
		},
	}
	result := reconcile("garage", snap)

	require.Len(t, result.Verified, 1)
	assert.Equal(t, "R1_0", result.Verified[0].RowID)
	assert.Equal(t, "R1", result.Verified[0].ReceiptNumber)
	assert.Empty(t, result.PruneHeaders)
	assert.Empty(t, result.PruneLines)
}

func TestReconcileRepairsMissingLinks(t *testing.T) {
	snap := snapshot{
		Staging: []store.StagingInvoice{
			stagingRow("R1_0", "R1", "", strPtr("2025-03-15")),
		},
		Headers: []store.VerificationHeader{
			header("R1", "k-from-header", store.StatusDone, strPtr("2025-03-15")),
		},
		Lines: []store.VerificationLine{
			line("R1_0", "R1", "k-from-header", store.StatusDone),
		},
	}
	result := reconcile("garage", snap)

	require.Len(t, result.Staging, 1)
	assert.Equal(t, "k-from-header", result.Staging[0].BlobKey)
}

func TestReconcileAppliesDateCorrection(t *testing.T) {
	snap := snapshot{
		Staging: []store.StagingInvoice{
			stagingRow("R1_0", "R1", "k1", nil),
			stagingRow("R1_1", "R1", "k1", nil),
		},
		Headers: []store.VerificationHeader{
			header("R9", "k1", store.StatusDone, strPtr("2025-03-20")),
		},
	}
	result := reconcile("garage", snap)

	for _, row := range result.Staging {
		assert.Equal(t, "R9", row.ReceiptNumber)
		require.NotNil(t, row.Date)
		assert.Equal(t, "2025-03-20", *row.Date)
	}
}

func TestReconcileAppliesAmountCorrection(t *testing.T) {
	l := line("R1_0", "R1", "k1", store.StatusDone)
	l.Quantity = 3
	l.Rate = decimal.NewFromInt(150)
	l.Amount = decimal.NewFromInt(450)
	l.ItemDescription = "Engine Oil 5W30"

	snap := snapshot{
		Staging: []store.StagingInvoice{stagingRow("R1_0", "R1", "k1", strPtr("2025-03-15"))},
		Headers: []store.VerificationHeader{header("R1", "k1", store.StatusDone, strPtr("2025-03-15"))},
		Lines:   []store.VerificationLine{l},
	}
	result := reconcile("garage", snap)

	require.Len(t, result.Staging, 1)
	corrected := result.Staging[0]
	assert.Equal(t, int64(3), corrected.Quantity)
	assert.Equal(t, "150", corrected.Rate.String())
	assert.Equal(t, "450", corrected.Amount.String())
	assert.Equal(t, "Engine Oil 5W30", corrected.ItemDescription)

	require.Len(t, result.Verified, 1)
	assert.Equal(t, int64(3), result.Verified[0].Quantity)
}

func TestReconcileExcludesPendingReceipts(t *testing.T) {
	snap := snapshot{
		Staging: []store.StagingInvoice{
			stagingRow("R1_0", "R1", "k1", strPtr("2025-03-15")),
			stagingRow("R2_0", "R2", "k2", strPtr("2025-03-16")),
			stagingRow("R3_0", "R3", "k3", strPtr("2025-03-17")),
		},
		Headers: []store.VerificationHeader{
			header("R1", "k1", store.StatusPending, nil),
			header("R2", "k2", store.StatusDuplicateReceipt, strPtr("2025-03-16")),
			header("R3", "k3", store.StatusDone, strPtr("2025-03-17")),
		},
		Lines: []store.VerificationLine{
			line("R3_0", "R3", "k3", store.StatusDone),
		},
	}
	result := reconcile("garage", snap)

	require.Len(t, result.Verified, 1)
	assert.Equal(t, "R3_0", result.Verified[0].RowID)
}

func TestReconcileExcludesPendingLines(t *testing.T) {
	snap := snapshot{
		Staging: []store.StagingInvoice{
			stagingRow("R1_0", "R1", "k1", strPtr("2025-03-15")),
			stagingRow("R1_1", "R1", "k1", strPtr("2025-03-15")),
		},
		Headers: []store.VerificationHeader{
			header("R1", "k1", store.StatusDone, strPtr("2025-03-15")),
		},
		Lines: []store.VerificationLine{
			line("R1_0", "R1", "k1", store.StatusDone),
			line("R1_1", "R1", "k1", store.StatusPending),
		},
	}
	result := reconcile("garage", snap)

	// A pending line holds back its whole receipt.
	assert.Empty(t, result.Verified)
	// Done header stays because the receipt still has a pending amount.
	assert.Empty(t, result.PruneHeaders)
	// Amounts pruning only waits on pending dates rows; the header is
	// Done, so the finished line can go.
	assert.Equal(t, []string{"R1_0"}, result.PruneLines)
}

func TestReconcileOrphanSynthesis(t *testing.T) {
	snap := snapshot{
		Headers: []store.VerificationHeader{
			header("R1", "k1", store.StatusDone, strPtr("2025-03-15")),
		},
		Lines: []store.VerificationLine{
			line("R1_0", "R1", "k1", store.StatusDone),
		},
	}
	result := reconcile("garage", snap)

	require.Len(t, result.Verified, 1)
	orphan := result.Verified[0]
	assert.Equal(t, "R1_0", orphan.RowID)
	require.NotNil(t, orphan.Date)
	assert.Equal(t, "2025-03-15", *orphan.Date)
	assert.Equal(t, "k1", orphan.BlobKey)
}

func TestReconcileOrphanWithoutLinkSkipped(t *testing.T) {
	snap := snapshot{
		Lines: []store.VerificationLine{
			line("R1_0", "R1", "", store.StatusDone),
		},
	}
	result := reconcile("garage", snap)
	assert.Empty(t, result.Verified)
}

func TestReconcileDedupLastWins(t *testing.T) {
	// An orphan line sharing a staging row_id overwrites the
	// staging-derived record: later source wins.
	l := line("R1_0", "R1", "k1", store.StatusDone)
	l.Amount = decimal.NewFromInt(999)

	snap := snapshot{
		Staging: []store.StagingInvoice{stagingRow("R1_0", "R1", "k1", strPtr("2025-03-15"))},
		Lines:   []store.VerificationLine{l},
	}
	result := reconcile("garage", snap)

	require.Len(t, result.Verified, 1)
	// The line is Done so its correction already landed on the staging
	// row in S4; either path yields the corrected amount.
	assert.Equal(t, "999", result.Verified[0].Amount.String())
}

func TestReconcilePruneCrossTableDependency(t *testing.T) {
	snap := snapshot{
		Headers: []store.VerificationHeader{
			header("R1", "k1", store.StatusDone, strPtr("2025-03-15")),
			header("R2", "k2", store.StatusDone, strPtr("2025-03-16")),
			header("R3", "k3", store.StatusRejected, nil),
			header("R4", "k4", store.StatusDuplicateReceipt, nil),
		},
		Lines: []store.VerificationLine{
			line("R1_0", "R1", "k1", store.StatusPending),
			line("R2_0", "R2", "k2", store.StatusDone),
		},
	}
	result := reconcile("garage", snap)

	// R1's header waits for its pending amount; R3 rejected goes; R4
	// duplicate is retained.
	assert.ElementsMatch(t, []string{"R2", "R3"}, result.PruneHeaders)
	assert.Equal(t, []string{"R2_0"}, result.PruneLines)
}

func TestReconcilePrunesAlreadyVerifiedLines(t *testing.T) {
	snap := snapshot{
		Lines: []store.VerificationLine{line("R1_0", "R1", "k1", store.StatusAlreadyVerified)},
	}
	res := reconcile("garage", snap)

	// The verified table already holds the row; the review queue can let
	// go of it without promoting anything.
	assert.Equal(t, []string{"R1_0"}, res.PruneLines)
	assert.Empty(t, res.Verified)
}

func TestReconcileIdempotent(t *testing.T) {
	snap := snapshot{
		Staging: []store.StagingInvoice{
			stagingRow("R1_0", "R1", "k1", strPtr("2025-03-15")),
			stagingRow("R2_0", "R2", "", nil),
		},
		Headers: []store.VerificationHeader{
			header("R1", "k1", store.StatusDone, strPtr("2025-03-18")),
		},
		Lines: []store.VerificationLine{
			line("R1_0", "R1", "k1", store.StatusDone),
		},
	}

	first := reconcile("garage", snap)
	second := reconcile("garage", snapshot{
		Staging: first.Staging,
		Headers: snap.Headers,
		Lines:   snap.Lines,
	})
	assert.Equal(t, first.Staging, second.Staging)
	assert.Equal(t, first.Verified, second.Verified)
}
