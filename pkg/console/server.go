// Package console is the HTTP surface: auth, uploads, reviews, stock,
// purchase orders and the dashboard, all tenant-scoped by the JWT
// middleware. Handlers translate between wire shapes and the domain
// services; no business logic lives here.
package console

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/paperledger/paperledger/pkg/api"
	"github.com/paperledger/paperledger/pkg/auth"
	"github.com/paperledger/paperledger/pkg/dashboard"
	"github.com/paperledger/paperledger/pkg/ingest"
	"github.com/paperledger/paperledger/pkg/metering"
	"github.com/paperledger/paperledger/pkg/progress"
	"github.com/paperledger/paperledger/pkg/purchase"
	"github.com/paperledger/paperledger/pkg/store"
)

// maxUploadBytes caps one multipart request. Scanned invoice batches
// run tens of images at a few MB each.
const maxUploadBytes = 256 << 20

// Ingestor runs uploads and extraction batches.
type Ingestor interface {
	UploadBatch(ctx context.Context, tenant, category string, files []ingest.UploadFile) ([]ingest.UploadResult, error)
	StartProcessing(ctx context.Context, tenant, kind string, keys []string, force bool) (*store.Task, error)
	ProcessMappingSheet(ctx context.Context, tenant string, f ingest.UploadFile) (int, error)
}

// Reviewer edits and finalizes the human verification tables.
type Reviewer interface {
	Headers(ctx context.Context, tenant string) ([]store.VerificationHeader, error)
	Lines(ctx context.Context, tenant string) ([]store.VerificationLine, error)
	EditHeader(ctx context.Context, h *store.VerificationHeader) (int64, error)
	EditLine(ctx context.Context, l *store.VerificationLine) error
	EditVerified(ctx context.Context, inv *store.VerifiedInvoice) error
	DeleteReceipt(ctx context.Context, tenant, receiptNumber string) error
	DeleteLine(ctx context.Context, tenant, rowID string) error
	SyncFinish(ctx context.Context, tenant string, emit func(progress.Event)) (int, error)
}

// TaskSource resolves task rows for status polling and resume.
type TaskSource interface {
	Get(ctx context.Context, tenant, taskID string) (*store.Task, error)
	Recent(ctx context.Context, tenant, kind string) (*store.Task, error)
}

// StockEngine triggers inventory rebuilds.
type StockEngine interface {
	EnqueueTask(ctx context.Context, tenant string) (*store.Task, error)
	Enqueue(tenant string)
}

// InventoryStore reads and edits staged vendor lines.
type InventoryStore interface {
	VendorAll(ctx context.Context, tenant string, includeExcluded bool) ([]store.StagingVendorLine, error)
	VendorLineByRowID(ctx context.Context, tenant, rowID string) (*store.StagingVendorLine, error)
	UpdateVendorLine(ctx context.Context, l *store.StagingVendorLine) error
	ToggleVendorExcluded(ctx context.Context, tenant, rowID string) (bool, error)
}

// StockStore reads levels and maintains the manual fields and mappings.
type StockStore interface {
	Levels(ctx context.Context, tenant string) ([]store.StockLevel, error)
	UpdateManualFields(ctx context.Context, s *store.StockLevel) error
	Mappings(ctx context.Context, tenant string) ([]store.VendorMapping, error)
	UpsertMappings(ctx context.Context, mappings []store.VendorMapping) (int, error)
}

// Purchaser manages the draft basket and finalized orders.
type Purchaser interface {
	Draft(ctx context.Context, tenant string) (*purchase.DraftSummary, error)
	AddDraftItem(ctx context.Context, tenant, partNumber string, quantity int64, notes string) (*store.DraftPOLine, error)
	UpdateDraftItem(ctx context.Context, tenant, partNumber string, quantity int64, notes *string) (*store.DraftPOLine, error)
	RemoveDraftItem(ctx context.Context, tenant, partNumber string) error
	Finalize(ctx context.Context, tenant, supplierName, notes string) (*store.PurchaseOrder, []byte, error)
	Orders(ctx context.Context, tenant string) ([]store.PurchaseOrder, error)
	Order(ctx context.Context, tenant string, id int64) (*store.PurchaseOrder, error)
}

// Dashboarder computes the read-only aggregate views.
type Dashboarder interface {
	Summarize(ctx context.Context, tenant string) (*dashboard.Summary, error)
	Timeseries(ctx context.Context, tenant string, days int) ([]dashboard.DayPoint, error)
	Alerts(ctx context.Context, tenant string) ([]dashboard.Alert, error)
	Usage(ctx context.Context, tenant, period string) (*metering.Usage, error)
}

// Pinger is the readiness probe against the database.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Server wires the handlers to their services.
type Server struct {
	users     *auth.Directory
	issuer    *auth.Issuer
	pipeline  Ingestor
	inventory Ingestor
	reviews   Reviewer
	tasks     TaskSource
	stock     StockEngine
	vendors   InventoryStore
	stocks    StockStore
	purchases Purchaser
	dash      Dashboarder
	db        Pinger
	logger    *slog.Logger

	corsOrigins []string
	limiter     *api.GlobalRateLimiter
}

// Options carries the server's dependencies. Pipeline handles sales
// uploads; Inventory handles vendor bills (they may be the same
// implementation behind different worker pools).
type Options struct {
	Users     *auth.Directory
	Issuer    *auth.Issuer
	Pipeline  Ingestor
	Inventory Ingestor
	Reviews   Reviewer
	Tasks     TaskSource
	Stock     StockEngine
	Vendors   InventoryStore
	Stocks    StockStore
	Purchases Purchaser
	Dashboard Dashboarder
	DB        Pinger
	Logger    *slog.Logger

	CORSOrigins []string
	RateRPS     float64
	RateBurst   int
}

// NewServer creates the server.
func NewServer(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Inventory == nil {
		opts.Inventory = opts.Pipeline
	}
	if opts.RateRPS <= 0 {
		opts.RateRPS = 50
	}
	if opts.RateBurst <= 0 {
		opts.RateBurst = 100
	}
	return &Server{
		users:       opts.Users,
		issuer:      opts.Issuer,
		pipeline:    opts.Pipeline,
		inventory:   opts.Inventory,
		reviews:     opts.Reviews,
		tasks:       opts.Tasks,
		stock:       opts.Stock,
		vendors:     opts.Vendors,
		stocks:      opts.Stocks,
		purchases:   opts.Purchases,
		dash:        opts.Dashboard,
		db:          opts.DB,
		logger:      opts.Logger.With("component", "console"),
		corsOrigins: opts.CORSOrigins,
		limiter:     api.NewGlobalRateLimiter(opts.RateRPS, opts.RateBurst),
	}
}

// Routes builds the full handler: routing table plus the middleware
// chain (request id, access log, panic recovery, CORS, rate limiting,
// JWT auth).
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /readiness", s.handleReadiness)

	mux.HandleFunc("POST /api/auth/login", s.handleLogin)
	mux.HandleFunc("GET /api/auth/me", s.handleMe)

	mux.HandleFunc("POST /api/upload/files", s.handleSalesUpload)
	mux.HandleFunc("POST /api/upload/process-files", s.handleSalesProcess)
	mux.HandleFunc("GET /api/upload/process/status/{task_id}", s.handleSalesTaskStatus)
	mux.HandleFunc("GET /api/upload/process/stream/{task_id}", s.handleTaskStream)
	mux.HandleFunc("GET /api/upload/recent-task", s.handleSalesRecentTask)

	mux.HandleFunc("POST /api/inventory/upload", s.handleInventoryUpload)
	mux.HandleFunc("POST /api/inventory/process", s.handleInventoryProcess)
	mux.HandleFunc("GET /api/inventory/recent-task", s.handleInventoryRecentTask)
	mux.HandleFunc("GET /api/inventory/lines", s.handleInventoryLines)
	mux.HandleFunc("PUT /api/inventory/lines/update", s.handleInventoryLineUpdate)
	mux.HandleFunc("POST /api/inventory/lines/{row_id}/exclude", s.handleInventoryLineExclude)

	mux.HandleFunc("GET /api/review/dates", s.handleReviewDates)
	mux.HandleFunc("PUT /api/review/dates/update", s.handleReviewDateUpdate)
	mux.HandleFunc("GET /api/review/amounts", s.handleReviewAmounts)
	mux.HandleFunc("PUT /api/review/amounts/update", s.handleReviewAmountUpdate)
	mux.HandleFunc("PUT /api/review/verified/update", s.handleReviewVerifiedUpdate)
	mux.HandleFunc("DELETE /api/review/receipt/{receipt_number}", s.handleReviewDeleteReceipt)
	mux.HandleFunc("DELETE /api/review/line/{row_id}", s.handleReviewDeleteLine)
	mux.HandleFunc("POST /api/review/sync-finish", s.handleSyncFinish)
	mux.HandleFunc("GET /api/review/sync-finish/stream", s.handleSyncFinishStream)

	mux.HandleFunc("POST /api/stock/mapping-sheets/upload", s.handleMappingSheetUpload)
	mux.HandleFunc("GET /api/stock/levels", s.handleStockLevels)
	mux.HandleFunc("PUT /api/stock/levels/update", s.handleStockLevelUpdate)
	mux.HandleFunc("POST /api/stock/recalculate", s.handleStockRecalculate)
	mux.HandleFunc("GET /api/stock/recalculate/status/{task_id}", s.handleStockRecalcStatus)
	mux.HandleFunc("GET /api/stock/mappings", s.handleMappingsGet)
	mux.HandleFunc("PUT /api/stock/mappings", s.handleMappingsPut)

	mux.HandleFunc("GET /api/purchase-orders", s.handleOrders)
	mux.HandleFunc("GET /api/purchase-orders/{id}", s.handleOrder)
	mux.HandleFunc("GET /api/purchase-orders/draft/items", s.handleDraftItems)
	mux.HandleFunc("POST /api/purchase-orders/draft/items", s.handleDraftAdd)
	mux.HandleFunc("PUT /api/purchase-orders/draft/items/{part}", s.handleDraftUpdate)
	mux.HandleFunc("DELETE /api/purchase-orders/draft/items/{part}", s.handleDraftRemove)
	mux.HandleFunc("POST /api/purchase-orders/draft/proceed", s.handleDraftProceed)

	mux.HandleFunc("GET /api/dashboard/summary", s.handleDashboardSummary)
	mux.HandleFunc("GET /api/dashboard/timeseries", s.handleDashboardTimeseries)
	mux.HandleFunc("GET /api/dashboard/alerts", s.handleDashboardAlerts)
	mux.HandleFunc("GET /api/dashboard/usage", s.handleDashboardUsage)

	return api.Chain(mux,
		api.RequestID,
		api.AccessLog(s.logger),
		api.Recover,
		api.CORS(s.corsOrigins),
		s.limiter.Middleware,
		auth.NewMiddleware(s.issuer),
	)
}

// ListenAndServe runs the server until ctx is canceled, then drains
// in-flight requests.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	api.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	if err := s.db.PingContext(ctx); err != nil {
		api.WriteError(w, http.StatusServiceUnavailable, "Not Ready", "database unreachable")
		return
	}
	api.WriteJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// tenantOf resolves the caller's tenant. The auth middleware guarantees
// a principal on every non-public route; a missing one is a 401, not a
// panic.
func tenantOf(w http.ResponseWriter, r *http.Request) (string, bool) {
	tenant, err := auth.GetTenantID(r.Context())
	if err != nil {
		api.WriteUnauthorized(w, "")
		return "", false
	}
	return tenant, true
}
