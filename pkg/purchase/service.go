// Package purchase runs the reorder workflow: a per-tenant draft
// basket built from stock levels, finalized into an immutable numbered
// order with a rendered PDF.
package purchase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/paperledger/paperledger/pkg/blob"
	"github.com/paperledger/paperledger/pkg/store"
)

// ErrEmptyDraft is returned when finalize finds nothing in the basket.
var ErrEmptyDraft = errors.New("purchase: draft basket is empty")

// ErrUnknownPart is returned when a draft add names a part with no
// stock row.
var ErrUnknownPart = errors.New("purchase: part has no stock record")

// Service owns the draft basket and finalization.
type Service struct {
	repo   *store.PurchaseRepo
	stocks *store.StockRepo
	blobs  blob.Store
	logger *slog.Logger

	now func() time.Time
}

// NewService creates the service.
func NewService(repo *store.PurchaseRepo, stocks *store.StockRepo, blobs blob.Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:   repo,
		stocks: stocks,
		blobs:  blobs,
		logger: logger.With("component", "purchase"),
		now:    time.Now,
	}
}

// AddDraftItem puts a part in the basket. Quantity 0 means "use the
// default": max(1, reorder_point). The stock snapshot is clamped to
// zero; a negative on-hand becomes a backorder annotation instead,
// because the basket row stores a non-negative count.
func (s *Service) AddDraftItem(ctx context.Context, tenant, partNumber string, quantity int64, notes string) (*store.DraftPOLine, error) {
	partNumber = strings.ToUpper(strings.TrimSpace(partNumber))
	if partNumber == "" {
		return nil, fmt.Errorf("purchase: part number is required")
	}

	level, err := s.stocks.Level(ctx, tenant, partNumber)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPart, partNumber)
	}
	if err != nil {
		return nil, err
	}

	if quantity <= 0 {
		quantity = defaultReorderQty(level.ReorderPoint)
	}

	onHand := level.OnHand()
	if onHand < 0 {
		backorder := fmt.Sprintf("[Backorder: %d]", -onHand)
		if notes == "" {
			notes = backorder
		} else {
			notes = notes + " " + backorder
		}
		onHand = 0
	}

	line := &store.DraftPOLine{
		Tenant:           tenant,
		PartNumber:       partNumber,
		InternalItemName: level.InternalItemName,
		Quantity:         quantity,
		UnitValue:        level.UnitValue,
		Priority:         level.Priority,
		CurrentStock:     onHand,
		ReorderPoint:     level.ReorderPoint,
		Notes:            notes,
	}
	if err := s.repo.UpsertDraftLine(ctx, line); err != nil {
		return nil, err
	}
	return line, nil
}

// UpdateDraftItem changes the quantity or notes of a basket row.
func (s *Service) UpdateDraftItem(ctx context.Context, tenant, partNumber string, quantity int64, notes *string) (*store.DraftPOLine, error) {
	line, err := s.repo.DraftLine(ctx, tenant, strings.ToUpper(strings.TrimSpace(partNumber)))
	if err != nil {
		return nil, err
	}
	if quantity > 0 {
		line.Quantity = quantity
	}
	if notes != nil {
		line.Notes = *notes
	}
	if err := s.repo.UpsertDraftLine(ctx, line); err != nil {
		return nil, err
	}
	return line, nil
}

// RemoveDraftItem takes a part out of the basket.
func (s *Service) RemoveDraftItem(ctx context.Context, tenant, partNumber string) error {
	return s.repo.DeleteDraftLine(ctx, tenant, strings.ToUpper(strings.TrimSpace(partNumber)))
}

// DraftSummary is the basket view with its running total.
type DraftSummary struct {
	Items     []store.DraftPOLine `json:"items"`
	ItemCount int                 `json:"item_count"`
	TotalCost decimal.Decimal     `json:"total_cost"`
}

// Draft returns the basket and its cost summary.
func (s *Service) Draft(ctx context.Context, tenant string) (*DraftSummary, error) {
	lines, err := s.repo.DraftLines(ctx, tenant)
	if err != nil {
		return nil, err
	}
	summary := &DraftSummary{Items: lines, ItemCount: len(lines), TotalCost: decimal.Zero}
	for _, l := range lines {
		summary.TotalCost = summary.TotalCost.Add(lineTotal(l))
	}
	return summary, nil
}

// Finalize snapshots the basket into an immutable order, renders its
// PDF, stores it, clears the basket and returns the PDF bytes.
func (s *Service) Finalize(ctx context.Context, tenant, supplierName, notes string) (*store.PurchaseOrder, []byte, error) {
	lines, err := s.repo.DraftLines(ctx, tenant)
	if err != nil {
		return nil, nil, err
	}
	if len(lines) == 0 {
		return nil, nil, ErrEmptyDraft
	}

	now := s.now().UTC()
	poNumber, err := s.nextPONumber(ctx, tenant, now)
	if err != nil {
		return nil, nil, err
	}

	po := &store.PurchaseOrder{
		Tenant:       tenant,
		PONumber:     poNumber,
		SupplierName: supplierName,
		Notes:        notes,
		TotalCost:    decimal.Zero,
		CreatedAt:    now,
	}
	for _, l := range lines {
		total := lineTotal(l)
		po.TotalCost = po.TotalCost.Add(total)
		po.Items = append(po.Items, store.PurchaseOrderItem{
			PartNumber:      l.PartNumber,
			ItemDescription: l.InternalItemName,
			Quantity:        l.Quantity,
			UnitValue:       unitValueOrZero(l),
			LineTotal:       total,
			CurrentStock:    l.CurrentStock,
			ReorderPoint:    l.ReorderPoint,
		})
	}

	if err := s.repo.CreateOrder(ctx, po); err != nil {
		return nil, nil, err
	}

	pdf, err := renderPDF(po)
	if err != nil {
		return nil, nil, err
	}

	key := fmt.Sprintf("%s/purchase_orders/%s.pdf", tenant, poNumber)
	if err := s.blobs.Put(ctx, key, pdf, "application/pdf"); err != nil {
		return nil, nil, fmt.Errorf("purchase: storing pdf: %w", err)
	}
	if err := s.repo.SetPDFKey(ctx, tenant, po.ID, key); err != nil {
		return nil, nil, err
	}
	po.PDFBlobKey = key

	if err := s.repo.ClearDraft(ctx, tenant); err != nil {
		return nil, nil, err
	}

	s.logger.Info("purchase order finalized", "tenant", tenant,
		"po_number", poNumber, "items", len(po.Items), "total", po.TotalCost)
	return po, pdf, nil
}

// Orders returns the tenant's finalized orders, newest first.
func (s *Service) Orders(ctx context.Context, tenant string) ([]store.PurchaseOrder, error) {
	return s.repo.Orders(ctx, tenant)
}

// Order returns one finalized order with its items.
func (s *Service) Order(ctx context.Context, tenant string, id int64) (*store.PurchaseOrder, error) {
	return s.repo.Order(ctx, tenant, id)
}

// nextPONumber builds {first-2-of-tenant upper}{YYYYMMDD}{NNN},
// incrementing against existing numbers of the same day prefix.
func (s *Service) nextPONumber(ctx context.Context, tenant string, now time.Time) (string, error) {
	prefix := tenantPrefix(tenant) + now.Format("20060102")
	existing, err := s.repo.NumbersWithPrefix(ctx, tenant, prefix)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("%s%03d", prefix, nextSequence(prefix, existing)), nil
}

// nextSequence returns one past the highest numeric suffix among the
// day's existing order numbers. Numbers that do not parse are skipped.
func nextSequence(prefix string, existing []string) int {
	next := 1
	for _, number := range existing {
		suffix := strings.TrimPrefix(number, prefix)
		if n, err := strconv.Atoi(suffix); err == nil && n >= next {
			next = n + 1
		}
	}
	return next
}

func tenantPrefix(tenant string) string {
	cleaned := strings.ToUpper(strings.TrimSpace(tenant))
	if len(cleaned) < 2 {
		return (cleaned + "XX")[:2]
	}
	return cleaned[:2]
}

func defaultReorderQty(reorderPoint *int64) int64 {
	if reorderPoint != nil && *reorderPoint > 1 {
		return *reorderPoint
	}
	return 1
}

func lineTotal(l store.DraftPOLine) decimal.Decimal {
	return unitValueOrZero(l).Mul(decimal.NewFromInt(l.Quantity))
}

func unitValueOrZero(l store.DraftPOLine) decimal.Decimal {
	if l.UnitValue.Valid {
		return l.UnitValue.Decimal
	}
	return decimal.Zero
}
