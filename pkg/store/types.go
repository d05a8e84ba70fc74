package store

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Task kinds. Mapping sheets and sync-finish run synchronously inside
// their HTTP requests and never get a task row.
const (
	TaskKindSales         = "sales"
	TaskKindPurchase      = "purchase"
	TaskKindRecalculation = "recalculation"
)

// Task statuses.
const (
	TaskQueued            = "queued"
	TaskUploading         = "uploading"
	TaskProcessing        = "processing"
	TaskDuplicateDetected = "duplicate_detected"
	TaskCompleted         = "completed"
	TaskFailed            = "failed"
)

// Review statuses. These are display strings surfaced directly in the
// review UI, so they keep their human spellings.
const (
	StatusPending          = "Pending"
	StatusDone             = "Done"
	StatusDuplicateReceipt = "Duplicate Receipt Number"
	StatusAlreadyVerified  = "Already Verified"
	StatusRejected         = "Rejected"
)

// Audit finding labels assembled into VerificationHeader.AuditFindings.
const (
	FindingMissingDate          = "Missing Date"
	FindingDuplicateReceipt     = "Duplicate Receipt Number"
	FindingDuplicateReceiptLink = "Duplicate Receipt Link"
)

// Task is one background job. Created before the owning worker starts;
// mutated only by that worker; retained after completion so a browser
// refresh can resume the progress view.
type Task struct {
	TaskID       string    `json:"task_id"`
	Tenant       string    `json:"tenant"`
	Kind         string    `json:"kind"`
	Status       string    `json:"status"`
	Total        int       `json:"total"`
	Processed    int       `json:"processed"`
	Failed       int       `json:"failed"`
	Duplicates   []string  `json:"duplicates,omitempty"`
	UploadedKeys []string  `json:"uploaded_keys,omitempty"`
	Errors       []string  `json:"errors,omitempty"`
	CurrentFile  string    `json:"current_file,omitempty"`
	Message      string    `json:"message,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// StagingInvoice is one flattened line item of an in-flight sales
// receipt. One image produces N rows.
type StagingInvoice struct {
	ID              int64           `json:"id"`
	Tenant          string          `json:"tenant"`
	RowID           string          `json:"row_id"`
	ReceiptNumber   string          `json:"receipt_number"`
	Date            *string         `json:"date"`
	CustomerName    string          `json:"customer_name"`
	VehicleNumber   string          `json:"vehicle_number"`
	ItemDescription string          `json:"item_description"`
	Quantity        int64           `json:"quantity"`
	Rate            decimal.Decimal `json:"rate"`
	Amount          decimal.Decimal `json:"amount"`
	BlobKey         string          `json:"blob_key"`
	ImageHash       string          `json:"image_hash"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// StagingVendorLine is one line of a vendor (purchase) bill.
type StagingVendorLine struct {
	ID                int64           `json:"id"`
	Tenant            string          `json:"tenant"`
	RowID             string          `json:"row_id"`
	InvoiceNumber     string          `json:"invoice_number"`
	Date              *string         `json:"date"`
	VendorName        string          `json:"vendor_name"`
	PartNumber        string          `json:"part_number"`
	ItemDescription   string          `json:"item_description"`
	BatchNumber       string          `json:"batch_number"`
	HSNCode           string          `json:"hsn_code"`
	Quantity          int64           `json:"quantity"`
	Rate              decimal.Decimal `json:"rate"`
	TaxableAmount     decimal.Decimal `json:"taxable_amount"`
	DiscountPct       decimal.Decimal `json:"discount_pct"`
	CGSTPct           decimal.Decimal `json:"cgst_pct"`
	SGSTPct           decimal.Decimal `json:"sgst_pct"`
	DiscountedPrice   decimal.Decimal `json:"discounted_price"`
	TaxedAmount       decimal.Decimal `json:"taxed_amount"`
	NetBill           decimal.Decimal `json:"net_bill"`
	AmountMismatch    decimal.Decimal `json:"amount_mismatch"`
	Handwritten       bool            `json:"handwritten"`
	ExcludedFromStock bool            `json:"excluded_from_stock"`
	BlobKey           string          `json:"blob_key"`
	ImageHash         string          `json:"image_hash"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// VerificationHeader is the per-receipt row of the dates review.
type VerificationHeader struct {
	ID            int64           `json:"id"`
	Tenant        string          `json:"tenant"`
	RowID         string          `json:"row_id"`
	ReceiptNumber string          `json:"receipt_number"`
	Date          *string         `json:"date"`
	AuditFindings string          `json:"audit_findings"`
	Status        string          `json:"status"`
	BlobKey       string          `json:"blob_key"`
	ImageHash     string          `json:"image_hash"`
	BBox          json.RawMessage `json:"bbox,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// VerificationLine is the per-line-item row of the amounts review.
// HeaderID, not ReceiptNumber, is the join key to the header so
// receipt-number edits propagate safely.
type VerificationLine struct {
	ID              int64           `json:"id"`
	Tenant          string          `json:"tenant"`
	RowID           string          `json:"row_id"`
	HeaderID        int64           `json:"header_id"`
	ReceiptNumber   string          `json:"receipt_number"`
	ItemDescription string          `json:"item_description"`
	Quantity        int64           `json:"quantity"`
	Rate            decimal.Decimal `json:"rate"`
	Amount          decimal.Decimal `json:"amount"`
	AmountMismatch  decimal.Decimal `json:"amount_mismatch"`
	Status          string          `json:"status"`
	BlobKey         string          `json:"blob_key"`
	ImageHash       string          `json:"image_hash"`
	BBox            json.RawMessage `json:"bbox,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// VerifiedInvoice is the terminal record surfaced to reports.
type VerifiedInvoice struct {
	ID              int64           `json:"id"`
	Tenant          string          `json:"tenant"`
	RowID           string          `json:"row_id"`
	ReceiptNumber   string          `json:"receipt_number"`
	Date            *string         `json:"date"`
	CustomerName    string          `json:"customer_name"`
	VehicleNumber   string          `json:"vehicle_number"`
	ItemDescription string          `json:"item_description"`
	Quantity        int64           `json:"quantity"`
	Rate            decimal.Decimal `json:"rate"`
	Amount          decimal.Decimal `json:"amount"`
	BlobKey         string          `json:"blob_key"`
	ImageHash       string          `json:"image_hash"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// StockLevel is the per-part inventory row. current_stock and
// total_value are owned by the stock engine while it holds the
// tenant's advisory lock; the manual fields are owned by the
// mapping-sheet flow and preserved across recalculations.
type StockLevel struct {
	Tenant           string              `json:"tenant"`
	PartNumber       string              `json:"part_number"`
	InternalItemName string              `json:"internal_item_name"`
	Priority         *string             `json:"priority"`
	ReorderPoint     *int64              `json:"reorder_point"`
	CurrentStock     int64               `json:"current_stock"`
	ManualAdjustment int64               `json:"manual_adjustment"`
	OldStock         *int64              `json:"old_stock"`
	UnitValue        decimal.NullDecimal `json:"unit_value"`
	TotalValue       decimal.Decimal     `json:"total_value"`
	CustomerItems    []string            `json:"customer_items,omitempty"`
	CreatedAt        time.Time           `json:"created_at"`
	UpdatedAt        time.Time           `json:"updated_at"`
}

// OnHand is the sellable quantity.
func (s *StockLevel) OnHand() int64 {
	return s.CurrentStock + s.ManualAdjustment
}

// VendorMapping maps vendor descriptions and customer-item aliases to
// a canonical part number.
type VendorMapping struct {
	Tenant            string    `json:"tenant"`
	PartNumber        string    `json:"part_number"`
	VendorDescription string    `json:"vendor_description"`
	InternalItemName  string    `json:"internal_item_name"`
	CustomerItems     []string  `json:"customer_items,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// DraftPOLine is one pending reorder in the draft basket.
type DraftPOLine struct {
	Tenant           string              `json:"tenant"`
	PartNumber       string              `json:"part_number"`
	InternalItemName string              `json:"internal_item_name"`
	Quantity         int64               `json:"quantity"`
	UnitValue        decimal.NullDecimal `json:"unit_value"`
	Priority         *string             `json:"priority"`
	CurrentStock     int64               `json:"current_stock"`
	ReorderPoint     *int64              `json:"reorder_point"`
	Notes            string              `json:"notes"`
	CreatedAt        time.Time           `json:"created_at"`
	UpdatedAt        time.Time           `json:"updated_at"`
}

// PurchaseOrder is a finalized, immutable order with a rendered
// document in blob storage.
type PurchaseOrder struct {
	ID           int64               `json:"id"`
	Tenant       string              `json:"tenant"`
	PONumber     string              `json:"po_number"`
	SupplierName string              `json:"supplier_name"`
	Notes        string              `json:"notes"`
	TotalCost    decimal.Decimal     `json:"total_cost"`
	PDFBlobKey   string              `json:"pdf_file_path"`
	Items        []PurchaseOrderItem `json:"items,omitempty"`
	CreatedAt    time.Time           `json:"created_at"`
}

// PurchaseOrderItem is one snapshotted line of a finalized order.
type PurchaseOrderItem struct {
	ID              int64           `json:"id"`
	POID            int64           `json:"po_id"`
	PartNumber      string          `json:"part_number"`
	ItemDescription string          `json:"item_description"`
	Quantity        int64           `json:"quantity"`
	UnitValue       decimal.Decimal `json:"unit_value"`
	LineTotal       decimal.Decimal `json:"line_total"`
	CurrentStock    int64           `json:"current_stock"`
	ReorderPoint    *int64          `json:"reorder_point"`
}

// marshalJSONList serializes a string slice for a JSON column,
// normalizing nil to an empty array so the column is never NULL.
func marshalJSONList(items []string) []byte {
	if items == nil {
		items = []string{}
	}
	b, _ := json.Marshal(items)
	return b
}

// unmarshalJSONList deserializes a JSON column into a string slice.
func unmarshalJSONList(raw []byte) []string {
	if len(raw) == 0 {
		return nil
	}
	var items []string
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil
	}
	return items
}
