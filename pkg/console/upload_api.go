package console

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/paperledger/paperledger/pkg/api"
	"github.com/paperledger/paperledger/pkg/auth"
	"github.com/paperledger/paperledger/pkg/blob"
	"github.com/paperledger/paperledger/pkg/ingest"
	"github.com/paperledger/paperledger/pkg/store"
	"github.com/paperledger/paperledger/pkg/vision"
)

// taskStreamInterval is how often the SSE task stream polls the task
// row for a fresh snapshot.
const taskStreamInterval = 500 * time.Millisecond

type uploadResponse struct {
	UploadedFiles []string              `json:"uploaded_files"`
	Results       []ingest.UploadResult `json:"results"`
}

type processRequest struct {
	FileKeys    []string `json:"file_keys"`
	ForceUpload bool     `json:"force_upload"`
}

type processResponse struct {
	TaskID string `json:"task_id"`
	Status string `json:"status"`
}

// readMultipartFiles drains the request's multipart files into memory.
func readMultipartFiles(r *http.Request) ([]ingest.UploadFile, error) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		return nil, fmt.Errorf("parsing multipart form: %w", err)
	}
	if r.MultipartForm == nil || len(r.MultipartForm.File) == 0 {
		return nil, errors.New("no files in request")
	}

	var files []ingest.UploadFile
	for _, headers := range r.MultipartForm.File {
		for _, fh := range headers {
			f, err := fh.Open()
			if err != nil {
				return nil, fmt.Errorf("opening %s: %w", fh.Filename, err)
			}
			data, err := io.ReadAll(f)
			_ = f.Close()
			if err != nil {
				return nil, fmt.Errorf("reading %s: %w", fh.Filename, err)
			}
			files = append(files, ingest.UploadFile{
				Name:        fh.Filename,
				ContentType: fh.Header.Get("Content-Type"),
				Data:        data,
			})
		}
	}
	return files, nil
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request, ing Ingestor, category string) {
	tenant, ok := tenantOf(w, r)
	if !ok {
		return
	}

	files, err := readMultipartFiles(r)
	if err != nil {
		api.WriteBadRequest(w, err.Error())
		return
	}

	results, err := ing.UploadBatch(r.Context(), tenant, category, files)
	if err != nil {
		api.WriteInternal(w, err)
		return
	}

	resp := uploadResponse{Results: results, UploadedFiles: []string{}}
	for _, res := range results {
		if res.Key != "" {
			resp.UploadedFiles = append(resp.UploadedFiles, res.Key)
		}
	}
	api.WriteJSON(w, http.StatusOK, resp)
}

func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request, ing Ingestor, kind string) {
	tenant, ok := tenantOf(w, r)
	if !ok {
		return
	}

	var req processRequest
	if !api.DecodeJSON(w, r, &req) {
		return
	}
	if len(req.FileKeys) == 0 {
		api.WriteBadRequest(w, "file_keys must not be empty")
		return
	}

	task, err := ing.StartProcessing(r.Context(), tenant, kind, req.FileKeys, req.ForceUpload)
	if err != nil {
		api.WriteInternal(w, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, processResponse{TaskID: task.TaskID, Status: task.Status})
}

func (s *Server) handleSalesUpload(w http.ResponseWriter, r *http.Request) {
	s.handleUpload(w, r, s.pipeline, blob.CategorySales)
}

func (s *Server) handleSalesProcess(w http.ResponseWriter, r *http.Request) {
	s.handleProcess(w, r, s.pipeline, vision.KindSales)
}

func (s *Server) handleInventoryUpload(w http.ResponseWriter, r *http.Request) {
	s.handleUpload(w, r, s.inventory, blob.CategoryPurchase)
}

func (s *Server) handleInventoryProcess(w http.ResponseWriter, r *http.Request) {
	s.handleProcess(w, r, s.inventory, vision.KindVendor)
}

func (s *Server) writeTask(w http.ResponseWriter, r *http.Request, tenant, taskID string) {
	task, err := s.tasks.Get(r.Context(), tenant, taskID)
	if errors.Is(err, store.ErrNotFound) {
		api.WriteNotFound(w, "task not found")
		return
	}
	if err != nil {
		api.WriteInternal(w, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, task)
}

func (s *Server) handleSalesTaskStatus(w http.ResponseWriter, r *http.Request) {
	tenant, ok := tenantOf(w, r)
	if !ok {
		return
	}
	s.writeTask(w, r, tenant, r.PathValue("task_id"))
}

func (s *Server) handleRecentTask(w http.ResponseWriter, r *http.Request, kind string) {
	tenant, ok := tenantOf(w, r)
	if !ok {
		return
	}
	task, err := s.tasks.Recent(r.Context(), tenant, kind)
	if errors.Is(err, store.ErrNotFound) {
		api.WriteNotFound(w, "no recent task")
		return
	}
	if err != nil {
		api.WriteInternal(w, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, task)
}

func (s *Server) handleSalesRecentTask(w http.ResponseWriter, r *http.Request) {
	s.handleRecentTask(w, r, store.TaskKindSales)
}

func (s *Server) handleInventoryRecentTask(w http.ResponseWriter, r *http.Request) {
	s.handleRecentTask(w, r, store.TaskKindPurchase)
}

func taskTerminal(status string) bool {
	switch status {
	case store.TaskCompleted, store.TaskFailed, store.TaskDuplicateDetected:
		return true
	}
	return false
}

// handleTaskStream pushes task snapshots over SSE until the task
// reaches a terminal status. EventSource clients cannot set headers, so
// the token arrives via query or cookie and is validated here.
func (s *Server) handleTaskStream(w http.ResponseWriter, r *http.Request) {
	principal, err := auth.PrincipalFromRequest(s.issuer, r)
	if err != nil {
		api.WriteUnauthorized(w, "")
		return
	}
	tenant := principal.GetTenantID()
	taskID := r.PathValue("task_id")

	flusher, ok := w.(http.Flusher)
	if !ok {
		api.WriteInternal(w, errors.New("response writer does not support streaming"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ticker := time.NewTicker(taskStreamInterval)
	defer ticker.Stop()

	for {
		task, err := s.tasks.Get(r.Context(), tenant, taskID)
		if err != nil {
			return
		}
		payload, err := json.Marshal(task)
		if err != nil {
			return
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
			return
		}
		flusher.Flush()

		if taskTerminal(task.Status) {
			return
		}
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}
	}
}
