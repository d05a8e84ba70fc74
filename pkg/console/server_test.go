package console

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paperledger/paperledger/pkg/auth"
	"github.com/paperledger/paperledger/pkg/dashboard"
	"github.com/paperledger/paperledger/pkg/ingest"
	"github.com/paperledger/paperledger/pkg/metering"
	"github.com/paperledger/paperledger/pkg/progress"
	"github.com/paperledger/paperledger/pkg/purchase"
	"github.com/paperledger/paperledger/pkg/store"
)

type fakeIngestor struct {
	uploads  []ingest.UploadResult
	task     *store.Task
	lastKeys []string
	rows     int
}

func (f *fakeIngestor) UploadBatch(_ context.Context, _, _ string, _ []ingest.UploadFile) ([]ingest.UploadResult, error) {
	return f.uploads, nil
}

func (f *fakeIngestor) StartProcessing(_ context.Context, _, _ string, keys []string, _ bool) (*store.Task, error) {
	f.lastKeys = keys
	return f.task, nil
}

func (f *fakeIngestor) ProcessMappingSheet(_ context.Context, _ string, _ ingest.UploadFile) (int, error) {
	return f.rows, nil
}

type fakeTasks struct {
	tasks map[string]*store.Task
}

func (f *fakeTasks) Get(_ context.Context, _, taskID string) (*store.Task, error) {
	if t, ok := f.tasks[taskID]; ok {
		return t, nil
	}
	return nil, store.ErrNotFound
}

func (f *fakeTasks) Recent(_ context.Context, _, kind string) (*store.Task, error) {
	for _, t := range f.tasks {
		if t.Kind == kind {
			return t, nil
		}
	}
	return nil, store.ErrNotFound
}

type fakeReviewer struct {
	headers []store.VerificationHeader
	lines   []store.VerificationLine
	synced  int
}

func (f *fakeReviewer) Headers(_ context.Context, _ string) ([]store.VerificationHeader, error) {
	return f.headers, nil
}

func (f *fakeReviewer) Lines(_ context.Context, _ string) ([]store.VerificationLine, error) {
	return f.lines, nil
}

func (f *fakeReviewer) EditHeader(_ context.Context, _ *store.VerificationHeader) (int64, error) {
	return 3, nil
}

func (f *fakeReviewer) EditLine(_ context.Context, _ *store.VerificationLine) error    { return nil }
func (f *fakeReviewer) EditVerified(_ context.Context, _ *store.VerifiedInvoice) error { return nil }
func (f *fakeReviewer) DeleteReceipt(_ context.Context, _, _ string) error             { return nil }
func (f *fakeReviewer) DeleteLine(_ context.Context, _, _ string) error                { return nil }

func (f *fakeReviewer) SyncFinish(_ context.Context, _ string, emit func(progress.Event)) (int, error) {
	emit(progress.Event{Stage: progress.StageReading, Percentage: 5, Message: "Reading invoice data..."})
	emit(progress.Event{Stage: progress.StageCleanup, Percentage: 95, Message: "Cleaning up..."})
	return f.synced, nil
}

type fakeEngine struct {
	enqueued []string
	task     *store.Task
}

func (f *fakeEngine) EnqueueTask(_ context.Context, tenant string) (*store.Task, error) {
	f.enqueued = append(f.enqueued, tenant)
	return f.task, nil
}

func (f *fakeEngine) Enqueue(tenant string) {
	f.enqueued = append(f.enqueued, tenant)
}

type fakeInventory struct {
	lines    []store.StagingVendorLine
	updated  *store.StagingVendorLine
	excluded bool
}

func (f *fakeInventory) VendorAll(_ context.Context, _ string, _ bool) ([]store.StagingVendorLine, error) {
	return f.lines, nil
}

func (f *fakeInventory) VendorLineByRowID(_ context.Context, _, rowID string) (*store.StagingVendorLine, error) {
	for i := range f.lines {
		if f.lines[i].RowID == rowID {
			return &f.lines[i], nil
		}
	}
	return nil, store.ErrNotFound
}

func (f *fakeInventory) UpdateVendorLine(_ context.Context, l *store.StagingVendorLine) error {
	f.updated = l
	return nil
}

func (f *fakeInventory) ToggleVendorExcluded(_ context.Context, _, rowID string) (bool, error) {
	for _, l := range f.lines {
		if l.RowID == rowID {
			f.excluded = !f.excluded
			return f.excluded, nil
		}
	}
	return false, store.ErrNotFound
}

type fakeStocks struct {
	levels   []store.StockLevel
	mappings []store.VendorMapping
}

func (f *fakeStocks) Levels(_ context.Context, _ string) ([]store.StockLevel, error) {
	return f.levels, nil
}

func (f *fakeStocks) UpdateManualFields(_ context.Context, _ *store.StockLevel) error { return nil }

func (f *fakeStocks) Mappings(_ context.Context, _ string) ([]store.VendorMapping, error) {
	return f.mappings, nil
}

func (f *fakeStocks) UpsertMappings(_ context.Context, mappings []store.VendorMapping) (int, error) {
	f.mappings = mappings
	return len(mappings), nil
}

type fakePurchaser struct {
	po  *store.PurchaseOrder
	pdf []byte
}

func (f *fakePurchaser) Draft(_ context.Context, _ string) (*purchase.DraftSummary, error) {
	return &purchase.DraftSummary{TotalCost: decimal.Zero}, nil
}

func (f *fakePurchaser) AddDraftItem(_ context.Context, tenant, part string, qty int64, _ string) (*store.DraftPOLine, error) {
	if part == "MISSING" {
		return nil, purchase.ErrUnknownPart
	}
	return &store.DraftPOLine{Tenant: tenant, PartNumber: part, Quantity: qty}, nil
}

func (f *fakePurchaser) UpdateDraftItem(_ context.Context, tenant, part string, qty int64, _ *string) (*store.DraftPOLine, error) {
	return &store.DraftPOLine{Tenant: tenant, PartNumber: part, Quantity: qty}, nil
}

func (f *fakePurchaser) RemoveDraftItem(_ context.Context, _, _ string) error { return nil }

func (f *fakePurchaser) Finalize(_ context.Context, _, supplier, _ string) (*store.PurchaseOrder, []byte, error) {
	if supplier == "empty" {
		return nil, nil, purchase.ErrEmptyDraft
	}
	return f.po, f.pdf, nil
}

func (f *fakePurchaser) Orders(_ context.Context, _ string) ([]store.PurchaseOrder, error) {
	return []store.PurchaseOrder{*f.po}, nil
}

func (f *fakePurchaser) Order(_ context.Context, _ string, id int64) (*store.PurchaseOrder, error) {
	if id != f.po.ID {
		return nil, store.ErrNotFound
	}
	return f.po, nil
}

type fakeDash struct{}

func (fakeDash) Summarize(_ context.Context, _ string) (*dashboard.Summary, error) {
	return &dashboard.Summary{VerifiedInvoices: 7, Revenue: decimal.NewFromInt(4200)}, nil
}

func (fakeDash) Timeseries(_ context.Context, _ string, days int) ([]dashboard.DayPoint, error) {
	if days == 0 {
		days = 30
	}
	return make([]dashboard.DayPoint, days), nil
}

func (fakeDash) Alerts(_ context.Context, _ string) ([]dashboard.Alert, error) {
	return []dashboard.Alert{{RuleID: "low_stock", PartNumber: "BP-1010"}}, nil
}

func (fakeDash) Usage(_ context.Context, _, _ string) (*metering.Usage, error) {
	return &metering.Usage{}, nil
}

type fakePinger struct{ err error }

func (f fakePinger) PingContext(context.Context) error { return f.err }

type testEnv struct {
	server    *Server
	handler   http.Handler
	token     string
	pipeline  *fakeIngestor
	reviews   *fakeReviewer
	engine    *fakeEngine
	inventory *fakeInventory
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	hash, err := auth.HashPassword("hunter2")
	require.NoError(t, err)
	users, err := auth.LoadDirectory(fmt.Sprintf(
		`[{"username":"asha","password_hash":%q,"tenant_id":"garage","roles":["admin"]}]`, hash))
	require.NoError(t, err)

	issuer, err := auth.NewIssuer("test-secret", 60)
	require.NoError(t, err)
	token, _, err := issuer.Issue(&auth.User{Username: "asha", TenantID: "garage"})
	require.NoError(t, err)

	pipeline := &fakeIngestor{
		uploads: []ingest.UploadResult{{Name: "a.jpg", Key: "garage/sales/20250315_100000_a.jpg"}},
		task:    &store.Task{TaskID: "t-1", Tenant: "garage", Kind: store.TaskKindSales, Status: store.TaskQueued},
		rows:    12,
	}
	reviews := &fakeReviewer{
		headers: []store.VerificationHeader{{RowID: "R1", ReceiptNumber: "R1", Status: store.StatusPending}},
		lines:   []store.VerificationLine{{RowID: "R1_0", Status: store.StatusDone}},
		synced:  2,
	}
	engine := &fakeEngine{
		task: &store.Task{TaskID: "recalc-1", Tenant: "garage", Kind: store.TaskKindRecalculation, Status: store.TaskQueued},
	}
	inventory := &fakeInventory{
		lines: []store.StagingVendorLine{{RowID: "INV1_0", InvoiceNumber: "INV1"}},
	}

	srv := NewServer(Options{
		Users:    users,
		Issuer:   issuer,
		Pipeline: pipeline,
		Reviews:  reviews,
		Tasks: &fakeTasks{tasks: map[string]*store.Task{
			"t-1": pipeline.task,
		}},
		Stock:     engine,
		Vendors:   inventory,
		Stocks:    &fakeStocks{levels: []store.StockLevel{{PartNumber: "BP-1010"}}},
		Purchases: &fakePurchaser{
			po:  &store.PurchaseOrder{ID: 9, PONumber: "GA20250315001", TotalCost: decimal.NewFromInt(1250)},
			pdf: []byte("%PDF-1.4 fake"),
		},
		Dashboard: fakeDash{},
		DB:        fakePinger{},
	})

	return &testEnv{
		server:    srv,
		handler:   srv.Routes(),
		token:     token,
		pipeline:  pipeline,
		reviews:   reviews,
		engine:    engine,
		inventory: inventory,
	}
}

func (e *testEnv) request(method, path string, body any) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Authorization", "Bearer "+e.token)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func TestLogin(t *testing.T) {
	env := newTestEnv(t)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/auth/login",
		strings.NewReader(`{"username":"asha","password":"hunter2"}`))
	env.handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp loginResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.AccessToken)
	assert.Equal(t, "bearer", resp.TokenType)
	assert.Equal(t, "garage", resp.User.TenantID)
}

func TestLoginBadPassword(t *testing.T) {
	env := newTestEnv(t)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/auth/login",
		strings.NewReader(`{"username":"asha","password":"wrong"}`))
	env.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequestsWithoutTokenRejected(t *testing.T) {
	env := newTestEnv(t)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/review/dates", nil)
	env.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
}

func TestMe(t *testing.T) {
	env := newTestEnv(t)

	rec := env.request(http.MethodGet, "/api/auth/me", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var user auth.User
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &user))
	assert.Equal(t, "asha", user.Username)
	assert.Equal(t, "garage", user.TenantID)
}

func TestHealthIsPublic(t *testing.T) {
	env := newTestEnv(t)

	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestProcessFilesValidation(t *testing.T) {
	env := newTestEnv(t)

	rec := env.request(http.MethodPost, "/api/upload/process-files",
		map[string]any{"file_keys": []string{}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestProcessFilesStartsTask(t *testing.T) {
	env := newTestEnv(t)

	rec := env.request(http.MethodPost, "/api/upload/process-files",
		map[string]any{"file_keys": []string{"k1", "k2"}, "force_upload": true})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp processResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "t-1", resp.TaskID)
	assert.Equal(t, store.TaskQueued, resp.Status)
	assert.Equal(t, []string{"k1", "k2"}, env.pipeline.lastKeys)
}

func TestTaskStatusNotFound(t *testing.T) {
	env := newTestEnv(t)

	rec := env.request(http.MethodGet, "/api/upload/process/status/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestReviewDates(t *testing.T) {
	env := newTestEnv(t)

	rec := env.request(http.MethodGet, "/api/review/dates", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Records []store.VerificationHeader `json:"records"`
		Total   int                        `json:"total"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Total)
	assert.Equal(t, "R1", resp.Records[0].ReceiptNumber)
}

func TestReviewDateUpdate(t *testing.T) {
	env := newTestEnv(t)

	rec := env.request(http.MethodPut, "/api/review/dates/update",
		map[string]any{"row_id": "R1", "receipt_number": "R1", "status": "Done"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"line_items_updated":3}`, rec.Body.String())
}

func TestReviewDateUpdateRequiresRowID(t *testing.T) {
	env := newTestEnv(t)

	rec := env.request(http.MethodPut, "/api/review/dates/update",
		map[string]any{"receipt_number": "R1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSyncFinish(t *testing.T) {
	env := newTestEnv(t)

	rec := env.request(http.MethodPost, "/api/review/sync-finish", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"records_synced":2}`, rec.Body.String())
}

func TestSyncFinishStream(t *testing.T) {
	env := newTestEnv(t)

	// EventSource clients pass the token in the query string.
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/review/sync-finish/stream?token="+env.token, nil)
	env.handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	body := rec.Body.String()
	assert.Contains(t, body, `"stage":"reading"`)
	assert.Contains(t, body, `"stage":"complete"`)
	assert.Contains(t, body, `"records_synced":2`)
}

func TestSyncFinishStreamRejectsMissingToken(t *testing.T) {
	env := newTestEnv(t)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/review/sync-finish/stream", nil)
	env.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestInventoryExcludeToggleEnqueuesRecalc(t *testing.T) {
	env := newTestEnv(t)

	rec := env.request(http.MethodPost, "/api/inventory/lines/INV1_0/exclude", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, true, resp["excluded_from_stock"])
	assert.Equal(t, []string{"garage"}, env.engine.enqueued)
}

func TestInventoryExcludeUnknownRow(t *testing.T) {
	env := newTestEnv(t)

	rec := env.request(http.MethodPost, "/api/inventory/lines/nope/exclude", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Empty(t, env.engine.enqueued)
}

func TestInventoryLineUpdateRecomputesTotals(t *testing.T) {
	env := newTestEnv(t)

	rec := env.request(http.MethodPut, "/api/inventory/lines/update", map[string]any{
		"row_id":         "INV1_0",
		"quantity":       10,
		"rate":           "100",
		"taxable_amount": "1000",
		"discount_pct":   "10",
		"cgst_pct":       "9",
		"sgst_pct":       "9",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	require.NotNil(t, env.inventory.updated)
	assert.Equal(t, "900", env.inventory.updated.DiscountedPrice.String())
	assert.Equal(t, "1062", env.inventory.updated.NetBill.String())
	assert.True(t, env.inventory.updated.AmountMismatch.IsZero())
}

func TestStockRecalculate(t *testing.T) {
	env := newTestEnv(t)

	rec := env.request(http.MethodPost, "/api/stock/recalculate", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp processResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "recalc-1", resp.TaskID)
	assert.Equal(t, []string{"garage"}, env.engine.enqueued)
}

func TestDraftProceedReturnsPDF(t *testing.T) {
	env := newTestEnv(t)

	rec := env.request(http.MethodPost, "/api/purchase-orders/draft/proceed",
		map[string]any{"supplier_name": "Sharma Auto Spares"})
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	assert.Equal(t, "GA20250315001", rec.Header().Get("X-PO-Number"))
	assert.Equal(t, "1250.00", rec.Header().Get("X-Total-Cost"))
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("%PDF")))
}

func TestDraftProceedEmptyBasket(t *testing.T) {
	env := newTestEnv(t)

	rec := env.request(http.MethodPost, "/api/purchase-orders/draft/proceed",
		map[string]any{"supplier_name": "empty"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDraftAddUnknownPart(t *testing.T) {
	env := newTestEnv(t)

	rec := env.request(http.MethodPost, "/api/purchase-orders/draft/items",
		map[string]any{"part_number": "MISSING", "quantity": 5})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDashboardSummary(t *testing.T) {
	env := newTestEnv(t)

	rec := env.request(http.MethodGet, "/api/dashboard/summary", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var summary dashboard.Summary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	assert.Equal(t, int64(7), summary.VerifiedInvoices)
}

func TestDashboardTimeseriesValidation(t *testing.T) {
	env := newTestEnv(t)

	rec := env.request(http.MethodGet, "/api/dashboard/timeseries?days=0", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.request(http.MethodGet, "/api/dashboard/timeseries?days=7", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReadiness(t *testing.T) {
	env := newTestEnv(t)

	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readiness", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
