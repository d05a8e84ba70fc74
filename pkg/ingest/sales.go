package ingest

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/paperledger/paperledger/pkg/store"
	"github.com/paperledger/paperledger/pkg/vision"
)

// buildSalesRows flattens one extracted sales receipt into staging
// rows, one per line item, with text and numeric normalization applied.
func buildSalesRows(tenant string, doc *vision.Document, blobKey, imageHash string) []store.StagingInvoice {
	receipt := NormalizeNumericString(vision.Str(doc.Header, "receipt_number"))
	date := ParseDate(vision.Str(doc.Header, "date"))
	customer := TitleCase(vision.Str(doc.Header, "customer_name"))
	vehicle := NormalizeVehicle(vision.Str(doc.Header, "vehicle_number"))

	rows := make([]store.StagingInvoice, 0, len(doc.Items))
	for idx, item := range doc.Items {
		qty, _ := vision.Num(item, "quantity")
		rate, _ := vision.Num(item, "rate")
		amount, _ := vision.Num(item, "amount")

		rows = append(rows, store.StagingInvoice{
			Tenant:          tenant,
			RowID:           fmt.Sprintf("%s_%d", receipt, idx),
			ReceiptNumber:   receipt,
			Date:            date,
			CustomerName:    customer,
			VehicleNumber:   vehicle,
			ItemDescription: TitleCase(vision.Str(item, "description")),
			Quantity:        roundQuantity(qty),
			Rate:            decimal.NewFromFloat(rate),
			Amount:          decimal.NewFromFloat(amount),
			BlobKey:         blobKey,
			ImageHash:       imageHash,
		})
	}
	return rows
}

// extractedReceipt groups one receipt's staged rows with its review
// bounding box for verification-row emission.
type extractedReceipt struct {
	rows []store.StagingInvoice
	bbox *vision.Box
}

// buildVerificationRows derives the review tables for one processed
// batch: a header per receipt carrying audit findings, and a line per
// staged item. Line header_ids are filled in after header insertion.
type receiptGroup struct {
	receipt string
	date    *string
	blobKey string
	hash    string
	bbox    *vision.Box
	rows    []store.StagingInvoice
}

func buildVerificationRows(tenant string, receipts []extractedReceipt, finalized map[string]bool) ([]store.VerificationHeader, []store.VerificationLine) {
	groups := make(map[string]*receiptGroup)
	receiptCounts := make(map[string]int)
	linkCounts := make(map[string]int)
	var order []string

	for _, er := range receipts {
		if len(er.rows) == 0 {
			continue
		}
		first := er.rows[0]
		receiptCounts[first.ReceiptNumber]++
		linkCounts[first.BlobKey]++
		// One header per receipt number; a batch that extracted the
		// same number twice merges and gets flagged below.
		g, ok := groups[first.ReceiptNumber]
		if !ok {
			g = &receiptGroup{
				receipt: first.ReceiptNumber,
				date:    first.Date,
				blobKey: first.BlobKey,
				hash:    first.ImageHash,
				bbox:    er.bbox,
			}
			groups[first.ReceiptNumber] = g
			order = append(order, first.ReceiptNumber)
		}
		g.rows = append(g.rows, er.rows...)
	}

	sort.Slice(order, func(i, j int) bool {
		a, b := groups[order[i]], groups[order[j]]
		if a.receipt != b.receipt {
			return a.receipt < b.receipt
		}
		return derefDate(a.date) < derefDate(b.date)
	})

	headers := make([]store.VerificationHeader, 0, len(order))
	var lines []store.VerificationLine
	var prevDate *string

	for _, key := range order {
		g := groups[key]
		findings := auditFindings(g, prevDate, receiptCounts[g.receipt] > 1, linkCounts[g.blobKey] > 1)
		if g.date != nil {
			prevDate = g.date
		}

		headers = append(headers, store.VerificationHeader{
			Tenant:        tenant,
			RowID:         g.receipt,
			ReceiptNumber: g.receipt,
			Date:          g.date,
			AuditFindings: joinFindings(findings),
			Status:        headerStatus(findings),
			BlobKey:       g.blobKey,
			ImageHash:     g.hash,
			BBox:          marshalBox(g.bbox),
		})

		for _, row := range g.rows {
			mismatch := row.Rate.Mul(decimal.NewFromInt(row.Quantity)).Sub(row.Amount).Abs()
			status := store.StatusDone
			if !mismatch.IsZero() {
				status = store.StatusPending
			}
			// A force re-upload re-extracts rows that already reached the
			// verified table; those skip review rather than re-enter it.
			if finalized[row.RowID] {
				status = store.StatusAlreadyVerified
			}
			lines = append(lines, store.VerificationLine{
				Tenant:          tenant,
				RowID:           row.RowID,
				ReceiptNumber:   row.ReceiptNumber,
				ItemDescription: row.ItemDescription,
				Quantity:        row.Quantity,
				Rate:            row.Rate,
				Amount:          row.Amount,
				AmountMismatch:  mismatch,
				Status:          status,
				BlobKey:         row.BlobKey,
				ImageHash:       row.ImageHash,
			})
		}
	}
	return headers, lines
}

// auditFindings assembles the header's findings in display order.
func auditFindings(g *receiptGroup, prevDate *string, duplicateReceipt, duplicateLink bool) []string {
	var findings []string

	if gap, ok := dateGapDays(prevDate, g.date); ok && gap > 1 {
		findings = append(findings, fmt.Sprintf("Date Diff: %d", gap))
	}
	if g.date == nil {
		findings = append(findings, store.FindingMissingDate)
	}
	if duplicateReceipt {
		findings = append(findings, store.FindingDuplicateReceipt)
	}
	if duplicateLink {
		findings = append(findings, store.FindingDuplicateReceiptLink)
	}
	return findings
}

// dateGapDays returns the day gap between consecutive receipts. A gap
// of exactly one day is the normal sequence and never flagged.
func dateGapDays(prev, cur *string) (int, bool) {
	if prev == nil || cur == nil {
		return 0, false
	}
	p, err1 := time.Parse(ISODate, *prev)
	c, err2 := time.Parse(ISODate, *cur)
	if err1 != nil || err2 != nil {
		return 0, false
	}
	gap := int(c.Sub(p).Hours() / 24)
	if gap < 0 {
		gap = -gap
	}
	return gap, true
}

func headerStatus(findings []string) string {
	if len(findings) == 0 {
		return store.StatusDone
	}
	for _, f := range findings {
		if f == store.FindingDuplicateReceipt {
			return store.StatusDuplicateReceipt
		}
	}
	return store.StatusPending
}

func joinFindings(findings []string) string {
	out := ""
	for i, f := range findings {
		if i > 0 {
			out += " | "
		}
		out += f
	}
	return out
}

func marshalBox(b *vision.Box) json.RawMessage {
	if b == nil {
		return nil
	}
	raw, _ := json.Marshal(b)
	return raw
}

func derefDate(d *string) string {
	if d == nil {
		return ""
	}
	return *d
}
