package console

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/paperledger/paperledger/pkg/api"
	"github.com/paperledger/paperledger/pkg/purchase"
	"github.com/paperledger/paperledger/pkg/store"
)

func (s *Server) handleOrders(w http.ResponseWriter, r *http.Request) {
	tenant, ok := tenantOf(w, r)
	if !ok {
		return
	}
	orders, err := s.purchases.Orders(r.Context(), tenant)
	if err != nil {
		api.WriteInternal(w, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, recordsResponse{Records: orders, Total: len(orders)})
}

func (s *Server) handleOrder(w http.ResponseWriter, r *http.Request) {
	tenant, ok := tenantOf(w, r)
	if !ok {
		return
	}
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		api.WriteBadRequest(w, "order id must be numeric")
		return
	}

	order, err := s.purchases.Order(r.Context(), tenant, id)
	if errors.Is(err, store.ErrNotFound) {
		api.WriteNotFound(w, "purchase order not found")
		return
	}
	if err != nil {
		api.WriteInternal(w, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, order)
}

func (s *Server) handleDraftItems(w http.ResponseWriter, r *http.Request) {
	tenant, ok := tenantOf(w, r)
	if !ok {
		return
	}
	draft, err := s.purchases.Draft(r.Context(), tenant)
	if err != nil {
		api.WriteInternal(w, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, draft)
}

type draftItemRequest struct {
	PartNumber string  `json:"part_number"`
	Quantity   int64   `json:"quantity"`
	Notes      *string `json:"notes"`
}

func (s *Server) handleDraftAdd(w http.ResponseWriter, r *http.Request) {
	tenant, ok := tenantOf(w, r)
	if !ok {
		return
	}

	var req draftItemRequest
	if !api.DecodeJSON(w, r, &req) {
		return
	}
	if req.PartNumber == "" {
		api.WriteBadRequest(w, "part_number is required")
		return
	}

	notes := ""
	if req.Notes != nil {
		notes = *req.Notes
	}
	line, err := s.purchases.AddDraftItem(r.Context(), tenant, req.PartNumber, req.Quantity, notes)
	if errors.Is(err, purchase.ErrUnknownPart) {
		api.WriteBadRequest(w, fmt.Sprintf("part %q has no stock record", req.PartNumber))
		return
	}
	if err != nil {
		api.WriteInternal(w, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, line)
}

func (s *Server) handleDraftUpdate(w http.ResponseWriter, r *http.Request) {
	tenant, ok := tenantOf(w, r)
	if !ok {
		return
	}
	part := r.PathValue("part")

	var req draftItemRequest
	if !api.DecodeJSON(w, r, &req) {
		return
	}

	line, err := s.purchases.UpdateDraftItem(r.Context(), tenant, part, req.Quantity, req.Notes)
	if errors.Is(err, store.ErrNotFound) {
		api.WriteNotFound(w, "draft item not found")
		return
	}
	if err != nil {
		api.WriteInternal(w, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, line)
}

func (s *Server) handleDraftRemove(w http.ResponseWriter, r *http.Request) {
	tenant, ok := tenantOf(w, r)
	if !ok {
		return
	}
	if err := s.purchases.RemoveDraftItem(r.Context(), tenant, r.PathValue("part")); err != nil {
		api.WriteInternal(w, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type draftProceedRequest struct {
	SupplierName string `json:"supplier_name"`
	Notes        string `json:"notes"`
}

// handleDraftProceed finalizes the basket and returns the rendered
// document directly; the order metadata travels in response headers.
func (s *Server) handleDraftProceed(w http.ResponseWriter, r *http.Request) {
	tenant, ok := tenantOf(w, r)
	if !ok {
		return
	}

	var req draftProceedRequest
	if !api.DecodeJSON(w, r, &req) {
		return
	}
	if req.SupplierName == "" {
		api.WriteBadRequest(w, "supplier_name is required")
		return
	}

	po, pdf, err := s.purchases.Finalize(r.Context(), tenant, req.SupplierName, req.Notes)
	if errors.Is(err, purchase.ErrEmptyDraft) {
		api.WriteBadRequest(w, "draft basket is empty")
		return
	}
	if err != nil {
		api.WriteInternal(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", po.PONumber+".pdf"))
	w.Header().Set("X-PO-Number", po.PONumber)
	w.Header().Set("X-Total-Cost", po.TotalCost.StringFixed(2))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(pdf)
}
