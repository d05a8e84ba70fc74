package ingest

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/paperledger/paperledger/pkg/store"
	"github.com/paperledger/paperledger/pkg/vision"
)

var hundred = decimal.NewFromInt(100)

// buildVendorRows flattens one extracted vendor bill into staging
// lines with the tax arithmetic computed per line.
func buildVendorRows(tenant string, doc *vision.Document, blobKey, imageHash string) []store.StagingVendorLine {
	invoice := NormalizeNumericString(vision.Str(doc.Header, "invoice_number"))
	date := ParseDate(vision.Str(doc.Header, "date"))
	vendor := TitleCase(vision.Str(doc.Header, "vendor_name"))
	handwritten := isHandwritten(doc.Header)

	rowPrefix := invoice
	if rowPrefix == "" {
		// Handwritten bills often carry no number; the content hash
		// keeps row ids stable across reprocessing.
		rowPrefix = "INV_" + imageHash[:12]
	}

	rows := make([]store.StagingVendorLine, 0, len(doc.Items))
	for idx, item := range doc.Items {
		qty, _ := vision.Num(item, "quantity")
		rate := decimalField(item, "rate")
		taxable := decimalField(item, "taxable_amount")
		discPct := decimalField(item, "discount_pct")
		cgstPct := decimalField(item, "cgst_pct")
		sgstPct := decimalField(item, "sgst_pct")

		line := store.StagingVendorLine{
			Tenant:          tenant,
			RowID:           fmt.Sprintf("%s_%d", rowPrefix, idx),
			InvoiceNumber:   invoice,
			Date:            date,
			VendorName:      vendor,
			PartNumber:      strings.ToUpper(vision.Str(item, "part_number")),
			ItemDescription: TitleCase(vision.Str(item, "description")),
			BatchNumber:     vision.Str(item, "batch_number"),
			HSNCode:         vision.Str(item, "hsn_code"),
			Quantity:        roundQuantity(qty),
			Rate:            rate,
			TaxableAmount:   taxable,
			DiscountPct:     discPct,
			CGSTPct:         cgstPct,
			SGSTPct:         sgstPct,
			Handwritten:     handwritten,
			BlobKey:         blobKey,
			ImageHash:       imageHash,
		}
		RecomputeVendorLine(&line)
		rows = append(rows, line)
	}
	return rows
}

// RecomputeVendorLine rederives the tax arithmetic from the line's base
// fields. Called at extraction time and again after manual edits to
// quantity, rate, taxable amount or the percentages.
func RecomputeVendorLine(l *store.StagingVendorLine) {
	discounted := l.TaxableAmount.Mul(hundred.Sub(l.DiscountPct)).Div(hundred)
	taxed := l.CGSTPct.Add(l.SGSTPct).Mul(discounted).Div(hundred)
	net := discounted.Add(taxed)

	// Printed bills get the arithmetic check; handwritten ones go to a
	// human reviewer regardless, so a mismatch flag would only add noise.
	mismatch := decimal.Zero
	if !l.Handwritten {
		mismatch = l.Rate.Mul(decimal.NewFromInt(l.Quantity)).Sub(l.TaxableAmount).Abs()
	}

	l.DiscountedPrice = discounted.Round(2)
	l.TaxedAmount = taxed.Round(2)
	l.NetBill = net.Round(2)
	l.AmountMismatch = mismatch.Round(2)
}

func isHandwritten(header map[string]any) bool {
	switch v := header["handwritten"].(type) {
	case bool:
		return v
	case string:
		return strings.EqualFold(strings.TrimSpace(v), "true") || strings.EqualFold(strings.TrimSpace(v), "yes")
	}
	return strings.EqualFold(vision.Str(header, "invoice_type"), "handwritten")
}

func decimalField(item vision.Item, key string) decimal.Decimal {
	if v, ok := vision.Num(item, key); ok {
		return decimal.NewFromFloat(v)
	}
	return decimal.Zero
}
