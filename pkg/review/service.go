package review

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/gowebpki/jcs"
	"github.com/shopspring/decimal"

	"github.com/paperledger/paperledger/pkg/progress"
	"github.com/paperledger/paperledger/pkg/store"
)

// Service runs review edits and the sync-finish reconciliation.
type Service struct {
	staging  *store.StagingRepo
	reviews  *store.ReviewRepo
	verified *store.VerifiedRepo
	logger   *slog.Logger
}

// NewService creates the service.
func NewService(staging *store.StagingRepo, reviews *store.ReviewRepo, verified *store.VerifiedRepo, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		staging:  staging,
		reviews:  reviews,
		verified: verified,
		logger:   logger.With("component", "review"),
	}
}

// Headers returns the tenant's dates-review rows.
func (s *Service) Headers(ctx context.Context, tenant string) ([]store.VerificationHeader, error) {
	return s.reviews.HeadersAll(ctx, tenant)
}

// Lines returns the tenant's amounts-review rows.
func (s *Service) Lines(ctx context.Context, tenant string) ([]store.VerificationLine, error) {
	return s.reviews.LinesAll(ctx, tenant)
}

// EditHeader applies a reviewer's header edit. The receipt number
// propagates to the header's lines; the count of touched lines is
// returned for the UI.
func (s *Service) EditHeader(ctx context.Context, h *store.VerificationHeader) (int64, error) {
	return s.reviews.UpdateHeader(ctx, h)
}

// EditLine applies a reviewer's line edit, recomputing the mismatch
// from the corrected figures.
func (s *Service) EditLine(ctx context.Context, l *store.VerificationLine) error {
	l.AmountMismatch = l.Rate.Mul(decimal.NewFromInt(l.Quantity)).Sub(l.Amount).Abs()
	if l.Status == "" {
		if l.AmountMismatch.IsZero() {
			l.Status = store.StatusDone
		} else {
			l.Status = store.StatusPending
		}
	}
	return s.reviews.UpdateLine(ctx, l)
}

// EditVerified rewrites one terminal row.
func (s *Service) EditVerified(ctx context.Context, inv *store.VerifiedInvoice) error {
	return s.verified.Update(ctx, inv)
}

// DeleteReceipt removes a receipt from staging and both review tables.
// Verified rows survive: a duplicate-upload-then-delete cycle must not
// erase finalized history.
func (s *Service) DeleteReceipt(ctx context.Context, tenant, receiptNumber string) error {
	if _, err := s.staging.DeleteSalesByReceipt(ctx, tenant, receiptNumber); err != nil {
		return err
	}
	return s.reviews.DeleteByReceipt(ctx, tenant, receiptNumber)
}

// DeleteLine removes one row everywhere it appears, keyed by row_id.
func (s *Service) DeleteLine(ctx context.Context, tenant, rowID string) error {
	if err := s.staging.DeleteSalesByRowID(ctx, tenant, rowID); err != nil {
		return err
	}
	if err := s.reviews.DeleteLineByRowID(ctx, tenant, rowID); err != nil {
		return err
	}
	if err := s.reviews.DeleteHeaderByRowID(ctx, tenant, rowID); err != nil {
		return err
	}
	return s.verified.DeleteByRowID(ctx, tenant, rowID)
}

// SyncFinish runs the reconciliation for one tenant and returns how
// many verified rows the rebuilt set holds. emit receives the
// intermediate progress events; the caller owns the terminal event.
func (s *Service) SyncFinish(ctx context.Context, tenant string, emit func(progress.Event)) (int, error) {
	if emit == nil {
		emit = func(progress.Event) {}
	}

	emit(progress.Event{Stage: progress.StageReading, Percentage: 5, Message: "Reading invoice data..."})
	snap, err := s.load(ctx, tenant)
	if err != nil {
		return 0, err
	}

	emit(progress.Event{Stage: progress.StageBuildingVerified, Percentage: 40, Message: "Applying corrections..."})
	result := reconcile(tenant, snap)

	emit(progress.Event{Stage: progress.StageSavingInvoices, Percentage: 60, Message: "Saving corrected invoices..."})
	if _, err := s.upsertChangedStaging(ctx, result.Staging, snap.Staging); err != nil {
		return 0, err
	}

	emit(progress.Event{Stage: progress.StageSavingVerified, Percentage: 80, Message: "Saving verified records..."})
	changed, err := s.upsertChanged(ctx, tenant, result.Verified)
	if err != nil {
		return 0, err
	}

	emit(progress.Event{Stage: progress.StageCleanup, Percentage: 95, Message: "Cleaning up review queues..."})
	if err := s.reviews.DeleteHeadersByRowIDs(ctx, tenant, result.PruneHeaders); err != nil {
		return 0, err
	}
	if err := s.reviews.DeleteLinesByRowIDs(ctx, tenant, result.PruneLines); err != nil {
		return 0, err
	}

	s.logger.Info("sync finished", "tenant", tenant,
		"verified", len(result.Verified), "changed", changed,
		"pruned_headers", len(result.PruneHeaders), "pruned_lines", len(result.PruneLines))
	return len(result.Verified), nil
}

func (s *Service) load(ctx context.Context, tenant string) (snapshot, error) {
	staging, err := s.staging.SalesAll(ctx, tenant)
	if err != nil {
		return snapshot{}, err
	}
	headers, err := s.reviews.HeadersAll(ctx, tenant)
	if err != nil {
		return snapshot{}, err
	}
	lines, err := s.reviews.LinesAll(ctx, tenant)
	if err != nil {
		return snapshot{}, err
	}
	return snapshot{Staging: staging, Headers: headers, Lines: lines}, nil
}

// upsertChangedStaging writes only the staging rows the reconciliation
// actually corrected, compared against the loaded snapshot by
// fingerprint. A no-edit re-run leaves updated_at untouched.
func (s *Service) upsertChangedStaging(ctx context.Context, target, current []store.StagingInvoice) (int, error) {
	fingerprints := make(map[string]string, len(current))
	for _, row := range current {
		fp, err := stagingFingerprint(&row)
		if err != nil {
			return 0, err
		}
		fingerprints[row.RowID] = fp
	}

	var changed []store.StagingInvoice
	for _, row := range target {
		fp, err := stagingFingerprint(&row)
		if err != nil {
			return 0, err
		}
		if fingerprints[row.RowID] != fp {
			changed = append(changed, row)
		}
	}
	if len(changed) == 0 {
		return 0, nil
	}
	return s.staging.UpsertSales(ctx, changed)
}

// upsertChanged writes only the verified rows whose content differs
// from what is stored, compared by canonical JSON fingerprint. A
// re-run with no edits touches nothing, not even updated_at.
func (s *Service) upsertChanged(ctx context.Context, tenant string, target []store.VerifiedInvoice) (int, error) {
	existing, err := s.verified.All(ctx, tenant)
	if err != nil {
		return 0, err
	}
	current := make(map[string]string, len(existing))
	for _, inv := range existing {
		fp, err := verifiedFingerprint(&inv)
		if err != nil {
			return 0, err
		}
		current[inv.RowID] = fp
	}

	var changed []store.VerifiedInvoice
	for _, inv := range target {
		fp, err := verifiedFingerprint(&inv)
		if err != nil {
			return 0, err
		}
		if current[inv.RowID] != fp {
			changed = append(changed, inv)
		}
	}
	if len(changed) == 0 {
		return 0, nil
	}
	return s.verified.Upsert(ctx, changed)
}

// stagingFingerprint canonicalizes a staging row's content fields.
func stagingFingerprint(row *store.StagingInvoice) (string, error) {
	raw, err := json.Marshal(map[string]any{
		"row_id":           row.RowID,
		"receipt_number":   row.ReceiptNumber,
		"date":             row.Date,
		"customer_name":    row.CustomerName,
		"vehicle_number":   row.VehicleNumber,
		"item_description": row.ItemDescription,
		"quantity":         row.Quantity,
		"rate":             row.Rate,
		"amount":           row.Amount,
		"blob_key":         row.BlobKey,
		"image_hash":       row.ImageHash,
	})
	if err != nil {
		return "", fmt.Errorf("review: marshaling staging row: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("review: canonicalizing staging row: %w", err)
	}
	return string(canonical), nil
}

// verifiedFingerprint canonicalizes the row's content fields so
// equality is insensitive to JSON key order and number formatting.
func verifiedFingerprint(inv *store.VerifiedInvoice) (string, error) {
	raw, err := json.Marshal(map[string]any{
		"row_id":           inv.RowID,
		"receipt_number":   inv.ReceiptNumber,
		"date":             inv.Date,
		"customer_name":    inv.CustomerName,
		"vehicle_number":   inv.VehicleNumber,
		"item_description": inv.ItemDescription,
		"quantity":         inv.Quantity,
		"rate":             inv.Rate,
		"amount":           inv.Amount,
		"blob_key":         inv.BlobKey,
		"image_hash":       inv.ImageHash,
	})
	if err != nil {
		return "", fmt.Errorf("review: marshaling verified row: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("review: canonicalizing verified row: %w", err)
	}
	return string(canonical), nil
}
