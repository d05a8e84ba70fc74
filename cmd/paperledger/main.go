// Command paperledger runs the invoice processing service and its
// operational subcommands.
//
//	paperledger serve    run the HTTP server (default)
//	paperledger migrate  apply database migrations and exit
//	paperledger doctor   check configuration and connectivity
//	paperledger recalc   rebuild stock levels for one tenant
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/paperledger/paperledger/pkg/auth"
	"github.com/paperledger/paperledger/pkg/blob"
	"github.com/paperledger/paperledger/pkg/config"
	"github.com/paperledger/paperledger/pkg/console"
	"github.com/paperledger/paperledger/pkg/dashboard"
	"github.com/paperledger/paperledger/pkg/imaging"
	"github.com/paperledger/paperledger/pkg/ingest"
	"github.com/paperledger/paperledger/pkg/metering"
	"github.com/paperledger/paperledger/pkg/observability"
	"github.com/paperledger/paperledger/pkg/purchase"
	"github.com/paperledger/paperledger/pkg/review"
	"github.com/paperledger/paperledger/pkg/stock"
	"github.com/paperledger/paperledger/pkg/store"
	"github.com/paperledger/paperledger/pkg/tasks"
	"github.com/paperledger/paperledger/pkg/tenantcfg"
	"github.com/paperledger/paperledger/pkg/vision"
)

func main() {
	os.Exit(run(os.Args, os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	cmd := "serve"
	if len(args) > 1 {
		cmd = args[1]
	}

	var err error
	switch cmd {
	case "serve":
		err = runServe()
	case "migrate":
		err = runMigrate(stdout)
	case "doctor":
		err = runDoctor(stdout)
	case "recalc":
		err = runRecalc(args[2:], stdout)
	default:
		fmt.Fprintf(stderr, "unknown command %q (want serve, migrate, doctor or recalc)\n", cmd)
		return 2
	}
	if err != nil {
		fmt.Fprintln(stderr, "error:", err)
		return 1
	}
	return 0
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

func overlayPath() string {
	if p := os.Getenv("CONFIG_OVERLAY"); p != "" {
		return p
	}
	return "paperledger.yaml"
}

// loadUsers resolves USERS_CONFIG_JSON, which is either inline JSON or
// an @/path/to/file reference.
func loadUsers(raw string) (*auth.Directory, error) {
	if strings.HasPrefix(raw, "@") {
		data, err := os.ReadFile(strings.TrimPrefix(raw, "@"))
		if err != nil {
			return nil, fmt.Errorf("reading users file: %w", err)
		}
		raw = string(data)
	}
	return auth.LoadDirectory(raw)
}

func newRateGate(cfg *config.Config, logger *slog.Logger) (vision.RateGate, error) {
	if cfg.RedisURL == "" {
		return vision.NewLocalGate(cfg.Extraction.RequestsPerMin), nil
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parsing REDIS_URL: %w", err)
	}
	logger.Info("extraction rate gate backed by redis", "addr", opts.Addr)
	return vision.NewRedisGate(redis.NewClient(opts), "extraction", cfg.Extraction.RequestsPerMin), nil
}

func runServe() error {
	cfg := config.Load()
	optCfg, err := config.ApplyOverlay(cfg, overlayPath())
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.OTLPEndpoint != "" {
		provider, err := observability.New(ctx, &observability.Config{
			ServiceName:  "paperledger",
			Environment:  os.Getenv("ENVIRONMENT"),
			OTLPEndpoint: cfg.OTLPEndpoint,
			SampleRate:   1.0,
			Enabled:      true,
			Insecure:     os.Getenv("OTEL_EXPORTER_OTLP_INSECURE") == "true",
		})
		if err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = provider.Shutdown(shutdownCtx)
		}()
	}

	db, err := store.Open(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()
	if err := db.Migrate(ctx); err != nil {
		return err
	}

	blobs, err := blob.New(ctx, cfg.Blob)
	if err != nil {
		return err
	}

	users, err := loadUsers(cfg.UsersConfig)
	if err != nil {
		return err
	}
	issuer, err := auth.NewIssuer(cfg.JWTSecret, cfg.JWTExpireMinutes)
	if err != nil {
		return err
	}

	tenants, err := tenantcfg.NewLoader(cfg.TenantConfigDir, logger)
	if err != nil {
		return err
	}

	gate, err := newRateGate(cfg, logger)
	if err != nil {
		return err
	}
	extractor := vision.NewExtractor(
		vision.NewGeminiClient(cfg.Extraction.APIKey),
		gate,
		vision.Options{
			PrimaryModel:    cfg.Extraction.PrimaryModel,
			FallbackModel:   cfg.Extraction.FallbackModel,
			PrimaryTimeout:  cfg.Extraction.PrimaryTimeout,
			FallbackTimeout: cfg.Extraction.FallbackTimeout,
			USDRate:         cfg.Extraction.USDToINR,
		},
		logger,
	)

	imagingOpts := imaging.Options{}
	if optCfg != nil {
		imagingOpts = imaging.Options{
			MaxDimension: optCfg.MaxDimension,
			TargetKB:     optCfg.TargetKB,
			StartQuality: optCfg.Quality,
			MinQuality:   optCfg.MinQuality,
		}
	}
	optimizer := imaging.NewOptimizer(imagingOpts, logger)

	staging := store.NewStagingRepo(db)
	reviewRepo := store.NewReviewRepo(db)
	verified := store.NewVerifiedRepo(db)
	stocks := store.NewStockRepo(db)
	purchases := store.NewPurchaseRepo(db)
	registry := tasks.NewRegistry(store.NewTaskRepo(db), logger)
	meter := metering.NewStoreMeter(db)

	engine := stock.NewEngine(db, staging, verified, stocks, registry,
		tasks.NewPool(cfg.Workers.Stock), logger)

	newPipeline := func(pool *tasks.Pool) *ingest.Pipeline {
		return ingest.New(ingest.Options{
			Blobs:          blobs,
			Optimizer:      optimizer,
			Extractor:      extractor,
			Tenants:        tenants,
			Registry:       registry,
			Staging:        staging,
			Reviews:        reviewRepo,
			Verified:       verified,
			Stocks:         stocks,
			Meter:          meter,
			UploadPool:     pool,
			ProcessWorkers: cfg.Workers.Process,
			Recalc:         engine.Enqueue,
			Logger:         logger,
		})
	}
	salesPipeline := newPipeline(tasks.NewPool(cfg.Workers.Upload))
	inventoryPipeline := newPipeline(tasks.NewPool(cfg.Workers.Inventory))

	reviews := review.NewService(staging, reviewRepo, verified, logger)
	purchasing := purchase.NewService(purchases, stocks, blobs, logger)
	dash, err := dashboard.NewService(verified, reviewRepo, stocks, meter, tenants, logger)
	if err != nil {
		return err
	}

	server := console.NewServer(console.Options{
		Users:       users,
		Issuer:      issuer,
		Pipeline:    salesPipeline,
		Inventory:   inventoryPipeline,
		Reviews:     reviews,
		Tasks:       registry,
		Stock:       engine,
		Vendors:     staging,
		Stocks:      stocks,
		Purchases:   purchasing,
		Dashboard:   dash,
		DB:          db.SQL,
		Logger:      logger,
		CORSOrigins: cfg.CORSOrigins,
	})

	return server.ListenAndServe(ctx, ":"+cfg.Port)
}

func runMigrate(stdout io.Writer) error {
	cfg := config.Load()
	if cfg.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	logger := newLogger(cfg.LogLevel)

	ctx := context.Background()
	db, err := store.Open(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	if err := db.Migrate(ctx); err != nil {
		return err
	}
	version, err := db.MigrationVersion(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "migrations applied, version %d\n", version)
	return nil
}

func runDoctor(stdout io.Writer) error {
	cfg := config.Load()
	if _, err := config.ApplyOverlay(cfg, overlayPath()); err != nil {
		return err
	}

	ok := true
	check := func(name string, err error) {
		if err != nil {
			ok = false
			fmt.Fprintf(stdout, "FAIL %-16s %v\n", name, err)
			return
		}
		fmt.Fprintf(stdout, "ok   %s\n", name)
	}

	check("config", cfg.Validate())

	if cfg.UsersConfig == "" {
		check("users", fmt.Errorf("USERS_CONFIG_JSON is empty"))
	} else {
		_, err := loadUsers(cfg.UsersConfig)
		check("users", err)
	}

	_, statErr := os.Stat(cfg.TenantConfigDir)
	check("tenant configs", statErr)

	if cfg.DatabaseURL != "" {
		ctx := context.Background()
		db, err := store.Open(ctx, cfg.DatabaseURL, slog.Default())
		check("database", err)
		if err == nil {
			version, verr := db.MigrationVersion(ctx)
			check("migrations", verr)
			if verr == nil {
				fmt.Fprintf(stdout, "     migration version %d\n", version)
			}
			_ = db.Close()
		}
	}

	if !ok {
		return fmt.Errorf("doctor found problems")
	}
	return nil
}

func runRecalc(args []string, stdout io.Writer) error {
	if len(args) < 1 || args[0] == "" {
		return fmt.Errorf("usage: paperledger recalc <tenant>")
	}
	tenant := args[0]

	cfg := config.Load()
	if cfg.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	logger := newLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	engine := stock.NewEngine(db,
		store.NewStagingRepo(db),
		store.NewVerifiedRepo(db),
		store.NewStockRepo(db),
		tasks.NewRegistry(store.NewTaskRepo(db), logger),
		tasks.NewPool(1),
		logger,
	)
	if err := engine.Recalculate(ctx, tenant); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "stock levels rebuilt for %s\n", tenant)
	return nil
}
