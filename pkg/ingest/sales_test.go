package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paperledger/paperledger/pkg/store"
	"github.com/paperledger/paperledger/pkg/vision"
)

func salesDoc(receipt, date string, items ...vision.Item) *vision.Document {
	return &vision.Document{
		Header: map[string]any{
			"receipt_number": receipt,
			"date":           date,
			"customer_name":  "ravi kumar",
			"vehicle_number": "ka 01 ab 1234",
		},
		Items: items,
	}
}

func salesItem(desc string, qty, rate, amount float64) vision.Item {
	return vision.Item{"description": desc, "quantity": qty, "rate": rate, "amount": amount}
}

func receiptFor(t *testing.T, tenant string, doc *vision.Document, key, hash string) extractedReceipt {
	t.Helper()
	rows := buildSalesRows(tenant, doc, key, hash)
	require.NotEmpty(t, rows)
	return extractedReceipt{rows: rows}
}

func TestBuildSalesRowsNormalizes(t *testing.T) {
	doc := salesDoc("R-101", "15-Mar-2025",
		salesItem("brake pad set", 2, 450, 900),
		salesItem("engine oil 5w30", 1, 1200, 1200),
	)
	rows := buildSalesRows("garage", doc, "garage/sales/k1.jpg", "hash1")

	require.Len(t, rows, 2)
	assert.Equal(t, "R-101_0", rows[0].RowID)
	assert.Equal(t, "R-101_1", rows[1].RowID)
	assert.Equal(t, "Ravi Kumar", rows[0].CustomerName)
	assert.Equal(t, "KA01AB1234", rows[0].VehicleNumber)
	assert.Equal(t, "Brake Pad Set", rows[0].ItemDescription)
	require.NotNil(t, rows[0].Date)
	assert.Equal(t, "2025-03-15", *rows[0].Date)
	assert.Equal(t, int64(2), rows[0].Quantity)
}

func TestBuildSalesRowsRoundsFractionalQuantity(t *testing.T) {
	doc := salesDoc("R-101", "15-Mar-2025", salesItem("engine oil", 2.5, 400, 1000))
	rows := buildSalesRows("garage", doc, "k1", "h1")

	require.Len(t, rows, 1)
	assert.Equal(t, int64(3), rows[0].Quantity)
}

func TestVerificationRowsMarkAlreadyVerified(t *testing.T) {
	a := receiptFor(t, "garage", salesDoc("R-101", "15-Mar-2025",
		salesItem("oil", 1, 100, 100),
		salesItem("pads", 2, 450, 900)), "k1", "h1")

	_, lines := buildVerificationRows("garage", []extractedReceipt{a},
		map[string]bool{"R-101_0": true})
	require.Len(t, lines, 2)
	// The first row reached the verified table in an earlier run; a
	// force re-upload must not put it back into review.
	assert.Equal(t, store.StatusAlreadyVerified, lines[0].Status)
	assert.Equal(t, store.StatusDone, lines[1].Status)
}

func TestVerificationRowsCleanBatch(t *testing.T) {
	a := receiptFor(t, "garage", salesDoc("R-101", "15-Mar-2025", salesItem("oil", 1, 100, 100)), "k1", "h1")
	b := receiptFor(t, "garage", salesDoc("R-102", "16-Mar-2025", salesItem("pads", 2, 450, 900)), "k2", "h2")

	headers, lines := buildVerificationRows("garage", []extractedReceipt{a, b}, nil)
	require.Len(t, headers, 2)
	require.Len(t, lines, 2)

	// Consecutive dates (gap = 1) are the normal sequence.
	assert.Equal(t, "", headers[0].AuditFindings)
	assert.Equal(t, store.StatusDone, headers[0].Status)
	assert.Equal(t, "", headers[1].AuditFindings)

	assert.Equal(t, store.StatusDone, lines[0].Status)
	assert.True(t, lines[0].AmountMismatch.IsZero())
}

func TestVerificationRowsDateGap(t *testing.T) {
	a := receiptFor(t, "garage", salesDoc("R-101", "15-Mar-2025", salesItem("oil", 1, 100, 100)), "k1", "h1")
	b := receiptFor(t, "garage", salesDoc("R-102", "20-Mar-2025", salesItem("pads", 1, 100, 100)), "k2", "h2")

	headers, _ := buildVerificationRows("garage", []extractedReceipt{a, b}, nil)
	require.Len(t, headers, 2)
	assert.Equal(t, "Date Diff: 5", headers[1].AuditFindings)
	assert.Equal(t, store.StatusPending, headers[1].Status)
}

func TestVerificationRowsMissingDate(t *testing.T) {
	a := receiptFor(t, "garage", salesDoc("R-101", "not a date", salesItem("oil", 1, 100, 100)), "k1", "h1")

	headers, _ := buildVerificationRows("garage", []extractedReceipt{a}, nil)
	require.Len(t, headers, 1)
	assert.Equal(t, store.FindingMissingDate, headers[0].AuditFindings)
	assert.Equal(t, store.StatusPending, headers[0].Status)
}

func TestVerificationRowsDuplicateReceiptNumber(t *testing.T) {
	a := receiptFor(t, "garage", salesDoc("R-101", "15-Mar-2025", salesItem("oil", 1, 100, 100)), "k1", "h1")
	b := receiptFor(t, "garage", salesDoc("R-101", "15-Mar-2025", salesItem("pads", 1, 100, 100)), "k2", "h2")

	headers, lines := buildVerificationRows("garage", []extractedReceipt{a, b}, nil)
	// Same receipt number merges into one header carrying the finding.
	require.Len(t, headers, 1)
	assert.Contains(t, headers[0].AuditFindings, store.FindingDuplicateReceipt)
	assert.Equal(t, store.StatusDuplicateReceipt, headers[0].Status)
	assert.Len(t, lines, 2)
}

func TestVerificationRowsDuplicateLink(t *testing.T) {
	a := receiptFor(t, "garage", salesDoc("R-101", "15-Mar-2025", salesItem("oil", 1, 100, 100)), "shared", "h1")
	b := receiptFor(t, "garage", salesDoc("R-102", "16-Mar-2025", salesItem("pads", 1, 100, 100)), "shared", "h2")

	headers, _ := buildVerificationRows("garage", []extractedReceipt{a, b}, nil)
	require.Len(t, headers, 2)
	assert.Contains(t, headers[0].AuditFindings, store.FindingDuplicateReceiptLink)
	assert.Contains(t, headers[1].AuditFindings, store.FindingDuplicateReceiptLink)
}

func TestVerificationLineMismatch(t *testing.T) {
	a := receiptFor(t, "garage", salesDoc("R-101", "15-Mar-2025", salesItem("oil", 2, 100, 150)), "k1", "h1")

	_, lines := buildVerificationRows("garage", []extractedReceipt{a}, nil)
	require.Len(t, lines, 1)
	assert.Equal(t, "50", lines[0].AmountMismatch.String())
	assert.Equal(t, store.StatusPending, lines[0].Status)
}

func TestVerificationFindingsJoined(t *testing.T) {
	// Missing date plus a shared blob key stack with the separator.
	a := receiptFor(t, "garage", salesDoc("R-101", "", salesItem("oil", 1, 100, 100)), "shared", "h1")
	b := receiptFor(t, "garage", salesDoc("R-102", "16-Mar-2025", salesItem("pads", 1, 100, 100)), "shared", "h2")

	headers, _ := buildVerificationRows("garage", []extractedReceipt{a, b}, nil)
	require.Len(t, headers, 2)
	assert.Equal(t, "Missing Date | Duplicate Receipt Link", headers[0].AuditFindings)
}
