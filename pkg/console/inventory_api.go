package console

import (
	"errors"
	"net/http"

	"github.com/paperledger/paperledger/pkg/api"
	"github.com/paperledger/paperledger/pkg/ingest"
	"github.com/paperledger/paperledger/pkg/store"
)

func (s *Server) handleInventoryLines(w http.ResponseWriter, r *http.Request) {
	tenant, ok := tenantOf(w, r)
	if !ok {
		return
	}
	lines, err := s.vendors.VendorAll(r.Context(), tenant, true)
	if err != nil {
		api.WriteInternal(w, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, recordsResponse{Records: lines, Total: len(lines)})
}

func (s *Server) handleInventoryLineUpdate(w http.ResponseWriter, r *http.Request) {
	tenant, ok := tenantOf(w, r)
	if !ok {
		return
	}

	var line store.StagingVendorLine
	if !api.DecodeJSON(w, r, &line) {
		return
	}
	if line.RowID == "" {
		api.WriteBadRequest(w, "row_id is required")
		return
	}
	line.Tenant = tenant
	ingest.RecomputeVendorLine(&line)

	err := s.vendors.UpdateVendorLine(r.Context(), &line)
	if errors.Is(err, store.ErrNotFound) {
		api.WriteNotFound(w, "vendor line not found")
		return
	}
	if err != nil {
		api.WriteInternal(w, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, line)
}

// handleInventoryLineExclude flips the line's stock-exclusion flag and
// queues a rebuild so levels reflect the change without a manual
// recalculate.
func (s *Server) handleInventoryLineExclude(w http.ResponseWriter, r *http.Request) {
	tenant, ok := tenantOf(w, r)
	if !ok {
		return
	}
	rowID := r.PathValue("row_id")

	excluded, err := s.vendors.ToggleVendorExcluded(r.Context(), tenant, rowID)
	if errors.Is(err, store.ErrNotFound) {
		api.WriteNotFound(w, "vendor line not found")
		return
	}
	if err != nil {
		api.WriteInternal(w, err)
		return
	}

	s.stock.Enqueue(tenant)
	api.WriteJSON(w, http.StatusOK, map[string]any{
		"row_id":              rowID,
		"excluded_from_stock": excluded,
	})
}
