package console

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/paperledger/paperledger/pkg/api"
	"github.com/paperledger/paperledger/pkg/store"
)

func (s *Server) handleStockLevels(w http.ResponseWriter, r *http.Request) {
	tenant, ok := tenantOf(w, r)
	if !ok {
		return
	}
	levels, err := s.stocks.Levels(r.Context(), tenant)
	if err != nil {
		api.WriteInternal(w, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, recordsResponse{Records: levels, Total: len(levels)})
}

// handleStockLevelUpdate edits the manual fields of one part. The
// computed columns (current_stock, total_value) are owned by the stock
// engine and cannot be set here.
func (s *Server) handleStockLevelUpdate(w http.ResponseWriter, r *http.Request) {
	tenant, ok := tenantOf(w, r)
	if !ok {
		return
	}

	var level store.StockLevel
	if !api.DecodeJSON(w, r, &level) {
		return
	}
	if level.PartNumber == "" {
		api.WriteBadRequest(w, "part_number is required")
		return
	}
	level.Tenant = tenant

	err := s.stocks.UpdateManualFields(r.Context(), &level)
	if errors.Is(err, store.ErrNotFound) {
		api.WriteNotFound(w, "part not found")
		return
	}
	if err != nil {
		api.WriteInternal(w, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStockRecalculate(w http.ResponseWriter, r *http.Request) {
	tenant, ok := tenantOf(w, r)
	if !ok {
		return
	}
	task, err := s.stock.EnqueueTask(r.Context(), tenant)
	if err != nil {
		api.WriteInternal(w, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, processResponse{TaskID: task.TaskID, Status: task.Status})
}

func (s *Server) handleStockRecalcStatus(w http.ResponseWriter, r *http.Request) {
	tenant, ok := tenantOf(w, r)
	if !ok {
		return
	}
	s.writeTask(w, r, tenant, r.PathValue("task_id"))
}

func (s *Server) handleMappingsGet(w http.ResponseWriter, r *http.Request) {
	tenant, ok := tenantOf(w, r)
	if !ok {
		return
	}
	mappings, err := s.stocks.Mappings(r.Context(), tenant)
	if err != nil {
		api.WriteInternal(w, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, recordsResponse{Records: mappings, Total: len(mappings)})
}

func (s *Server) handleMappingsPut(w http.ResponseWriter, r *http.Request) {
	tenant, ok := tenantOf(w, r)
	if !ok {
		return
	}

	var mappings []store.VendorMapping
	if !api.DecodeJSON(w, r, &mappings) {
		return
	}
	for i := range mappings {
		if mappings[i].PartNumber == "" {
			api.WriteBadRequest(w, "every mapping needs a part_number")
			return
		}
		mappings[i].Tenant = tenant
	}

	n, err := s.stocks.UpsertMappings(r.Context(), mappings)
	if err != nil {
		api.WriteInternal(w, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, map[string]int{"mappings_saved": n})
}

// handleMappingSheetUpload extracts a scanned mapping sheet and applies
// its rows synchronously. Sheets are single images, so no task record
// is involved.
func (s *Server) handleMappingSheetUpload(w http.ResponseWriter, r *http.Request) {
	tenant, ok := tenantOf(w, r)
	if !ok {
		return
	}

	files, err := readMultipartFiles(r)
	if err != nil {
		api.WriteBadRequest(w, err.Error())
		return
	}

	total := 0
	for _, f := range files {
		n, err := s.pipeline.ProcessMappingSheet(r.Context(), tenant, f)
		if err != nil {
			api.WriteInternal(w, err)
			return
		}
		total += n
	}

	s.stock.Enqueue(tenant)
	api.WriteJSON(w, http.StatusOK, map[string]any{
		"extracted_rows": total,
		"message":        fmt.Sprintf("Extracted %d mapping rows from %d sheet(s)", total, len(files)),
	})
}
