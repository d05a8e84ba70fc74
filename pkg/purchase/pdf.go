package purchase

import (
	"bytes"
	"fmt"

	"github.com/go-pdf/fpdf"

	"github.com/paperledger/paperledger/pkg/store"
)

// Column widths of the item table in mm; A4 printable width is ~190.
var itemColWidths = []float64{8, 28, 50, 16, 18, 14, 26, 30}

var itemColHeads = []string{"#", "Part No", "Description", "Stock", "Reorder", "Qty", "Unit Price", "Line Total"}

// renderPDF lays out the order document: header block, item table,
// totals, terms and signature lines.
func renderPDF(po *store.PurchaseOrder) ([]byte, error) {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetAutoPageBreak(true, 20)
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 18)
	pdf.CellFormat(0, 10, "PURCHASE ORDER", "", 1, "C", false, 0, "")
	pdf.Ln(2)

	pdf.SetFont("Helvetica", "", 10)
	pdf.CellFormat(95, 6, "PO Number: "+po.PONumber, "", 0, "L", false, 0, "")
	pdf.CellFormat(95, 6, "Date: "+po.CreatedAt.Format("02-Jan-2006"), "", 1, "R", false, 0, "")
	pdf.CellFormat(95, 6, "From: "+po.Tenant, "", 0, "L", false, 0, "")
	supplier := po.SupplierName
	if supplier == "" {
		supplier = "-"
	}
	pdf.CellFormat(95, 6, "Supplier: "+supplier, "", 1, "R", false, 0, "")
	pdf.Ln(4)

	pdf.SetFont("Helvetica", "B", 9)
	pdf.SetFillColor(230, 230, 230)
	for i, head := range itemColHeads {
		pdf.CellFormat(itemColWidths[i], 7, head, "1", 0, "C", true, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Helvetica", "", 9)
	for i, item := range po.Items {
		reorder := "-"
		if item.ReorderPoint != nil {
			reorder = fmt.Sprintf("%d", *item.ReorderPoint)
		}
		cells := []string{
			fmt.Sprintf("%d", i+1),
			item.PartNumber,
			truncate(item.ItemDescription, 34),
			fmt.Sprintf("%d", item.CurrentStock),
			reorder,
			fmt.Sprintf("%d", item.Quantity),
			item.UnitValue.StringFixed(2),
			item.LineTotal.StringFixed(2),
		}
		for j, cell := range cells {
			align := "L"
			if j != 1 && j != 2 {
				align = "R"
			}
			pdf.CellFormat(itemColWidths[j], 6, cell, "1", 0, align, false, 0, "")
		}
		pdf.Ln(-1)
	}

	pdf.SetFont("Helvetica", "B", 9)
	labelWidth := 0.0
	for _, w := range itemColWidths[:len(itemColWidths)-1] {
		labelWidth += w
	}
	pdf.CellFormat(labelWidth, 7, "TOTAL", "1", 0, "R", false, 0, "")
	pdf.CellFormat(itemColWidths[len(itemColWidths)-1], 7, po.TotalCost.StringFixed(2), "1", 1, "R", false, 0, "")
	pdf.Ln(6)

	if po.Notes != "" {
		pdf.SetFont("Helvetica", "B", 10)
		pdf.CellFormat(0, 6, "Notes", "", 1, "L", false, 0, "")
		pdf.SetFont("Helvetica", "", 9)
		pdf.MultiCell(0, 5, po.Notes, "", "L", false)
		pdf.Ln(4)
	}

	pdf.SetFont("Helvetica", "B", 10)
	pdf.CellFormat(0, 6, "Terms & Conditions", "", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 9)
	pdf.MultiCell(0, 5,
		"1. Please confirm receipt of this order.\n"+
			"2. Quote the PO number on all invoices and delivery challans.\n"+
			"3. Goods must match the part numbers listed above.", "", "L", false)
	pdf.Ln(14)

	pdf.SetFont("Helvetica", "", 9)
	pdf.CellFormat(95, 6, "_______________________", "", 0, "L", false, 0, "")
	pdf.CellFormat(95, 6, "_______________________", "", 1, "R", false, 0, "")
	pdf.CellFormat(95, 6, "Prepared By", "", 0, "L", false, 0, "")
	pdf.CellFormat(95, 6, "Authorized Signature", "", 1, "R", false, 0, "")

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("purchase: rendering pdf: %w", err)
	}
	return buf.Bytes(), nil
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-3]) + "..."
}
