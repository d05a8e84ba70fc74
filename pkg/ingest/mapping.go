package ingest

import (
	"context"
	"errors"
	"strings"

	"github.com/paperledger/paperledger/pkg/stock"
	"github.com/paperledger/paperledger/pkg/store"
	"github.com/paperledger/paperledger/pkg/vision"
)

// mappingRow is one parsed line of a handwritten stock-mapping sheet.
type mappingRow struct {
	PartNumber        string
	InternalItemName  string
	VendorDescription string
	CustomerItems     []string
	Priority          *string
	PhysicalCount     *int64
	ReorderPoint      *int64
}

// buildMappingRows parses the extractor output of a mapping sheet with
// the tolerant token parsers. Rows without a part number are dropped.
func buildMappingRows(doc *vision.Document) []mappingRow {
	rows := make([]mappingRow, 0, len(doc.Items))
	for _, item := range doc.Items {
		part := strings.ToUpper(vision.Str(item, "part_number"))
		if part == "" {
			continue
		}
		rows = append(rows, mappingRow{
			PartNumber:        part,
			InternalItemName:  TitleCase(vision.Str(item, "internal_item_name")),
			VendorDescription: vision.Str(item, "vendor_description"),
			CustomerItems:     splitCustomerItems(vision.Str(item, "customer_items")),
			Priority:          stock.ParsePriority(vision.Str(item, "priority")),
			PhysicalCount:     stock.ParseStockToken(vision.Str(item, "stock_count")),
			ReorderPoint:      stock.ParseStockToken(vision.Str(item, "reorder_point")),
		})
	}
	return rows
}

// splitCustomerItems converts the sheet's free-text alias list into the
// canonical array representation at the schema boundary.
func splitCustomerItems(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return []string{}
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// applyMappingRows persists mapping entries and folds physical counts
// into the stock table's manual fields. The engine-owned columns stay
// untouched; when the sheet declares a physical count for a known part,
// the difference lands in manual_adjustment and the count in old_stock.
func (p *Pipeline) applyMappingRows(ctx context.Context, tenant string, rows []mappingRow) (int, error) {
	mappings := make([]store.VendorMapping, 0, len(rows))
	for _, r := range rows {
		mappings = append(mappings, store.VendorMapping{
			Tenant:            tenant,
			PartNumber:        r.PartNumber,
			VendorDescription: r.VendorDescription,
			InternalItemName:  r.InternalItemName,
			CustomerItems:     r.CustomerItems,
		})
	}
	if _, err := p.stocks.UpsertMappings(ctx, mappings); err != nil {
		return 0, err
	}

	applied := 0
	for _, r := range rows {
		level, err := p.stocks.Level(ctx, tenant, r.PartNumber)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return applied, err
		}

		if r.PhysicalCount != nil {
			adjustment := *r.PhysicalCount - level.CurrentStock
			level.ManualAdjustment = adjustment
			level.OldStock = r.PhysicalCount
		}
		if r.Priority != nil {
			level.Priority = r.Priority
		}
		if r.ReorderPoint != nil {
			level.ReorderPoint = r.ReorderPoint
		}
		if r.InternalItemName != "" {
			level.InternalItemName = r.InternalItemName
		}
		if len(r.CustomerItems) > 0 {
			level.CustomerItems = r.CustomerItems
		}

		if err := p.stocks.UpdateManualFields(ctx, level); err != nil {
			return applied, err
		}
		applied++
	}
	return applied, nil
}
