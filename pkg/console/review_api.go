package console

import (
	"errors"
	"net/http"

	"github.com/paperledger/paperledger/pkg/api"
	"github.com/paperledger/paperledger/pkg/auth"
	"github.com/paperledger/paperledger/pkg/progress"
	"github.com/paperledger/paperledger/pkg/store"
)

type recordsResponse struct {
	Records any `json:"records"`
	Total   int `json:"total"`
}

func (s *Server) handleReviewDates(w http.ResponseWriter, r *http.Request) {
	tenant, ok := tenantOf(w, r)
	if !ok {
		return
	}
	headers, err := s.reviews.Headers(r.Context(), tenant)
	if err != nil {
		api.WriteInternal(w, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, recordsResponse{Records: headers, Total: len(headers)})
}

func (s *Server) handleReviewAmounts(w http.ResponseWriter, r *http.Request) {
	tenant, ok := tenantOf(w, r)
	if !ok {
		return
	}
	lines, err := s.reviews.Lines(r.Context(), tenant)
	if err != nil {
		api.WriteInternal(w, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, recordsResponse{Records: lines, Total: len(lines)})
}

func (s *Server) handleReviewDateUpdate(w http.ResponseWriter, r *http.Request) {
	tenant, ok := tenantOf(w, r)
	if !ok {
		return
	}

	var header store.VerificationHeader
	if !api.DecodeJSON(w, r, &header) {
		return
	}
	if header.RowID == "" {
		api.WriteBadRequest(w, "row_id is required")
		return
	}
	header.Tenant = tenant

	updated, err := s.reviews.EditHeader(r.Context(), &header)
	if errors.Is(err, store.ErrNotFound) {
		api.WriteNotFound(w, "header not found")
		return
	}
	if err != nil {
		api.WriteInternal(w, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, map[string]int64{"line_items_updated": updated})
}

func (s *Server) handleReviewAmountUpdate(w http.ResponseWriter, r *http.Request) {
	tenant, ok := tenantOf(w, r)
	if !ok {
		return
	}

	var line store.VerificationLine
	if !api.DecodeJSON(w, r, &line) {
		return
	}
	if line.RowID == "" {
		api.WriteBadRequest(w, "row_id is required")
		return
	}
	line.Tenant = tenant

	err := s.reviews.EditLine(r.Context(), &line)
	if errors.Is(err, store.ErrNotFound) {
		api.WriteNotFound(w, "line not found")
		return
	}
	if err != nil {
		api.WriteInternal(w, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReviewVerifiedUpdate(w http.ResponseWriter, r *http.Request) {
	tenant, ok := tenantOf(w, r)
	if !ok {
		return
	}

	var inv store.VerifiedInvoice
	if !api.DecodeJSON(w, r, &inv) {
		return
	}
	if inv.RowID == "" {
		api.WriteBadRequest(w, "row_id is required")
		return
	}
	inv.Tenant = tenant

	err := s.reviews.EditVerified(r.Context(), &inv)
	if errors.Is(err, store.ErrNotFound) {
		api.WriteNotFound(w, "verified row not found")
		return
	}
	if err != nil {
		api.WriteInternal(w, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReviewDeleteReceipt(w http.ResponseWriter, r *http.Request) {
	tenant, ok := tenantOf(w, r)
	if !ok {
		return
	}
	receipt := r.PathValue("receipt_number")
	if receipt == "" {
		api.WriteBadRequest(w, "receipt number is required")
		return
	}
	if err := s.reviews.DeleteReceipt(r.Context(), tenant, receipt); err != nil {
		api.WriteInternal(w, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReviewDeleteLine(w http.ResponseWriter, r *http.Request) {
	tenant, ok := tenantOf(w, r)
	if !ok {
		return
	}
	rowID := r.PathValue("row_id")
	if rowID == "" {
		api.WriteBadRequest(w, "row id is required")
		return
	}
	if err := s.reviews.DeleteLine(r.Context(), tenant, rowID); err != nil {
		api.WriteInternal(w, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSyncFinish(w http.ResponseWriter, r *http.Request) {
	tenant, ok := tenantOf(w, r)
	if !ok {
		return
	}

	synced, err := s.reviews.SyncFinish(r.Context(), tenant, func(progress.Event) {})
	if err != nil {
		api.WriteInternal(w, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, map[string]int{"records_synced": synced})
}

// handleSyncFinishStream runs the finalization while streaming its
// progress events. The terminal complete/error event is always the last
// thing on the wire.
func (s *Server) handleSyncFinishStream(w http.ResponseWriter, r *http.Request) {
	principal, err := auth.PrincipalFromRequest(s.issuer, r)
	if err != nil {
		api.WriteUnauthorized(w, "")
		return
	}
	tenant := principal.GetTenantID()

	emitter := progress.NewEmitter(0)
	go func() {
		defer emitter.Close()
		synced, err := s.reviews.SyncFinish(r.Context(), tenant, emitter.Emit)
		if err != nil {
			s.logger.Error("sync finish failed", "tenant", tenant, "error", err)
			emitter.Emit(progress.Failure(err))
			return
		}
		emitter.Emit(progress.Complete(synced))
	}()

	if err := progress.ServeSSE(w, r, emitter); err != nil {
		s.logger.Warn("sync finish stream aborted", "tenant", tenant, "error", err)
	}
}
