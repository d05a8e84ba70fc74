// Package ingest orchestrates the invoice flow per kind: optimize and
// upload, dedup-scan by content hash, extract, normalize, and persist
// staging plus verification rows.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/paperledger/paperledger/pkg/blob"
	"github.com/paperledger/paperledger/pkg/imaging"
	"github.com/paperledger/paperledger/pkg/metering"
	"github.com/paperledger/paperledger/pkg/store"
	"github.com/paperledger/paperledger/pkg/tasks"
	"github.com/paperledger/paperledger/pkg/tenantcfg"
	"github.com/paperledger/paperledger/pkg/vision"
)

const (
	// defaultProcessWorkers bounds per-batch extraction concurrency.
	defaultProcessWorkers = 25
	// batchTimeout caps one processing run end to end.
	batchTimeout = 2 * time.Hour
)

// Extractor is the model surface the pipeline calls per image.
type Extractor interface {
	Extract(ctx context.Context, kind, systemPrompt string, image []byte) (*vision.Result, error)
}

// Pipeline wires the ingestion flow. One instance serves all tenants.
type Pipeline struct {
	blobs     blob.Store
	optimizer *imaging.Optimizer
	extractor Extractor
	tenants   *tenantcfg.Loader
	registry  *tasks.Registry
	staging   *store.StagingRepo
	reviews   *store.ReviewRepo
	verified  *store.VerifiedRepo
	stocks    *store.StockRepo
	meter     metering.Meter

	uploadPool     *tasks.Pool
	processWorkers int

	// recalc enqueues a stock rebuild after a vendor batch lands.
	recalc func(tenant string)

	logger *slog.Logger
}

// Options assembles a Pipeline.
type Options struct {
	Blobs          blob.Store
	Optimizer      *imaging.Optimizer
	Extractor      Extractor
	Tenants        *tenantcfg.Loader
	Registry       *tasks.Registry
	Staging        *store.StagingRepo
	Reviews        *store.ReviewRepo
	Verified       *store.VerifiedRepo
	Stocks         *store.StockRepo
	Meter          metering.Meter
	UploadPool     *tasks.Pool
	ProcessWorkers int
	Recalc         func(tenant string)
	Logger         *slog.Logger
}

// New creates the pipeline.
func New(opts Options) *Pipeline {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.ProcessWorkers <= 0 {
		opts.ProcessWorkers = defaultProcessWorkers
	}
	if opts.Meter == nil {
		opts.Meter = metering.Nop{}
	}
	if opts.Recalc == nil {
		opts.Recalc = func(string) {}
	}
	return &Pipeline{
		blobs:          opts.Blobs,
		optimizer:      opts.Optimizer,
		extractor:      opts.Extractor,
		tenants:        opts.Tenants,
		registry:       opts.Registry,
		staging:        opts.Staging,
		reviews:        opts.Reviews,
		verified:       opts.Verified,
		stocks:         opts.Stocks,
		meter:          opts.Meter,
		uploadPool:     opts.UploadPool,
		processWorkers: opts.ProcessWorkers,
		recalc:         opts.Recalc,
		logger:         opts.Logger.With("component", "ingest"),
	}
}

// UploadFile is one raw upload from the browser.
type UploadFile struct {
	Name        string
	ContentType string
	Data        []byte
}

// UploadResult reports one file's upload outcome.
type UploadResult struct {
	Name  string `json:"name"`
	Key   string `json:"key,omitempty"`
	URL   string `json:"url,omitempty"`
	Error string `json:"error,omitempty"`
}

// UploadBatch optimizes and stores a batch of files. The batch runs
// sequentially inside one pool slot so peak memory stays bounded and a
// partial failure never interleaves with another request's files. The
// call blocks until every file is stored or failed; the caller gets the
// stored keys either way.
func (p *Pipeline) UploadBatch(ctx context.Context, tenant, category string, files []UploadFile) ([]UploadResult, error) {
	results := make([]UploadResult, 0, len(files))
	err := p.uploadPool.Run(ctx, func(ctx context.Context) error {
		for _, f := range files {
			results = append(results, p.uploadOne(ctx, tenant, category, f))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ingest: upload batch: %w", err)
	}
	return results, nil
}

func (p *Pipeline) uploadOne(ctx context.Context, tenant, category string, f UploadFile) UploadResult {
	res := UploadResult{Name: f.Name}

	opt, err := p.optimizer.Optimize(f.Data, f.ContentType)
	if err != nil {
		p.logger.Warn("upload rejected", "tenant", tenant, "file", f.Name, "error", err)
		res.Error = err.Error()
		return res
	}

	key := blob.ObjectKey(tenant, category, f.Name, time.Now().UTC())
	if err := p.blobs.Put(ctx, key, opt.Bytes, "image/jpeg"); err != nil {
		p.logger.Error("upload store failed", "tenant", tenant, "file", f.Name, "error", err)
		res.Error = err.Error()
		return res
	}

	p.logger.Info("file uploaded", "tenant", tenant, "key", key,
		"original_kb", opt.Meta.OriginalSizeKB, "stored_kb", opt.Meta.OptimizedSizeKB)
	res.Key = key
	res.URL = p.blobs.PublicURL(key)
	return res
}

// StartProcessing creates the task row and launches the batch worker.
// The task row exists before this returns so the status endpoint can
// immediately resolve the id.
func (p *Pipeline) StartProcessing(ctx context.Context, tenant, kind string, keys []string, force bool) (*store.Task, error) {
	taskKind := store.TaskKindSales
	if kind == vision.KindVendor {
		taskKind = store.TaskKindPurchase
	}

	task, err := p.registry.Begin(ctx, tenant, taskKind)
	if err != nil {
		return nil, err
	}
	if err := p.registry.Repo().SetTotal(ctx, tenant, task.TaskID, len(keys)); err != nil {
		return nil, err
	}

	p.registry.Launch(task, batchTimeout, func(ctx context.Context) error {
		return p.processBatch(ctx, task, kind, keys, force)
	})
	return task, nil
}

// processBatch is the task worker: dedup gate, then parallel per-key
// extraction, then batch verification-row emission.
func (p *Pipeline) processBatch(ctx context.Context, task *store.Task, kind string, keys []string, force bool) error {
	repo := p.registry.Repo()
	tenant := task.Tenant

	// The stored keys land on the task row first so a refreshed browser
	// can resume or retry the same batch. The dedup gate still reads the
	// uploads back, so the task stays in uploading until it clears.
	if err := repo.SetStatus(ctx, tenant, task.TaskID, store.TaskUploading, ""); err != nil {
		return err
	}
	if err := repo.SetUploadedKeys(ctx, tenant, task.TaskID, keys); err != nil {
		return err
	}

	cfg, err := p.tenants.Load(tenant, false)
	if err != nil {
		return err
	}

	if !force {
		duplicates, err := p.scanDuplicates(ctx, tenant, kind, keys)
		if err != nil {
			return err
		}
		if len(duplicates) > 0 {
			p.logger.Info("duplicate uploads detected",
				"tenant", tenant, "task_id", task.TaskID, "count", len(duplicates))
			return repo.SetDuplicates(ctx, tenant, task.TaskID, duplicates)
		}
	}

	if err := repo.SetStatus(ctx, tenant, task.TaskID, store.TaskProcessing, ""); err != nil {
		return err
	}

	var mu sync.Mutex
	var receipts []extractedReceipt
	processed := 0

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.processWorkers)
	for _, key := range keys {
		key := key
		g.Go(func() error {
			rec, err := p.processOne(gctx, tenant, cfg, task, kind, key, force)
			if err != nil {
				p.logger.Error("file processing failed",
					"tenant", tenant, "task_id", task.TaskID, "key", key, "error", err)
				return repo.IncrementFailed(gctx, tenant, task.TaskID, fmt.Sprintf("%s: %v", key, err))
			}
			mu.Lock()
			if rec != nil {
				receipts = append(receipts, *rec)
			}
			processed++
			mu.Unlock()
			return repo.IncrementProcessed(gctx, tenant, task.TaskID)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if kind == vision.KindSales && len(receipts) > 0 {
		if err := p.emitVerificationRows(ctx, tenant, receipts); err != nil {
			return err
		}
	}

	if err := repo.SetStatus(ctx, tenant, task.TaskID, store.TaskCompleted, ""); err != nil {
		return err
	}

	if kind == vision.KindVendor && processed > 0 {
		p.recalc(tenant)
	}
	return nil
}

// scanDuplicates hashes every key concurrently and reports the ones
// already present in the tenant's tables. All-or-nothing: a batch with
// any duplicate is stopped whole so review queues stay coherent.
func (p *Pipeline) scanDuplicates(ctx context.Context, tenant, kind string, keys []string) ([]string, error) {
	var mu sync.Mutex
	var duplicates []string

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.processWorkers)
	for _, key := range keys {
		key := key
		g.Go(func() error {
			data, err := blob.GetEventual(gctx, p.blobs, key)
			if err != nil {
				return fmt.Errorf("ingest: fetching %s for dedup: %w", key, err)
			}
			hash := imaging.HashBytes(data)

			var exists bool
			if kind == vision.KindVendor {
				exists, err = p.staging.VendorHashExists(gctx, tenant, hash)
			} else {
				exists, err = p.staging.SalesHashExists(gctx, tenant, hash)
			}
			if err != nil {
				return err
			}
			if exists {
				mu.Lock()
				duplicates = append(duplicates, key)
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	sort.Strings(duplicates)
	return duplicates, nil
}

// processOne runs one stored image through extraction and persists its
// staging rows. Sales images additionally return their receipt grouping
// for the batch's verification-row emission.
func (p *Pipeline) processOne(ctx context.Context, tenant string, cfg *tenantcfg.Config, task *store.Task, kind, key string, force bool) (*extractedReceipt, error) {
	repo := p.registry.Repo()
	_ = repo.SetCurrentFile(ctx, tenant, task.TaskID, key)

	data, err := blob.GetEventual(ctx, p.blobs, key)
	if err != nil {
		return nil, fmt.Errorf("fetching image: %w", err)
	}
	hash := imaging.HashBytes(data)

	if force {
		if kind == vision.KindVendor {
			err = p.staging.DeleteVendorByHash(ctx, tenant, hash)
		} else {
			err = p.staging.DeleteSalesByHash(ctx, tenant, hash)
		}
		if err != nil {
			return nil, err
		}
	}

	result, err := p.extractor.Extract(ctx, kind, cfg.Prompt(kind), data)
	if err != nil {
		return nil, err
	}
	p.recordUsage(ctx, tenant, task.TaskID, kind, result)

	if kind == vision.KindVendor {
		rows := buildVendorRows(tenant, result.Doc, key, hash)
		if _, err := p.staging.UpsertVendor(ctx, rows); err != nil {
			return nil, err
		}
		return nil, nil
	}

	rows := buildSalesRows(tenant, result.Doc, key, hash)
	if _, err := p.staging.UpsertSales(ctx, rows); err != nil {
		return nil, err
	}
	return &extractedReceipt{rows: rows, bbox: result.ReviewBox()}, nil
}

// emitVerificationRows writes the batch's review headers, reads back
// their ids and writes the lines joined by header_id. Lines whose
// row_id is already in the verified table, as happens on a force
// re-upload, are marked Already Verified instead of re-entering review.
func (p *Pipeline) emitVerificationRows(ctx context.Context, tenant string, receipts []extractedReceipt) error {
	finalized, err := p.verified.RowIDs(ctx, tenant)
	if err != nil {
		return err
	}
	headers, lines := buildVerificationRows(tenant, receipts, finalized)

	ids, err := p.reviews.UpsertHeaders(ctx, headers)
	if err != nil {
		return err
	}
	for i := range lines {
		lines[i].HeaderID = ids[lines[i].ReceiptNumber]
	}
	_, err = p.reviews.UpsertLines(ctx, lines)
	return err
}

// recordUsage meters one extraction. Metering failures are logged and
// swallowed; billing visibility never blocks the pipeline.
func (p *Pipeline) recordUsage(ctx context.Context, tenant, taskID, kind string, result *vision.Result) {
	err := p.meter.Record(ctx, metering.Event{
		Tenant:           tenant,
		TaskID:           taskID,
		Kind:             kind,
		Model:            result.ModelUsed,
		PromptTokens:     result.PromptTokens,
		CompletionTokens: result.CompletionTokens,
		Cost:             result.Cost,
		Currency:         "INR",
		Timestamp:        time.Now().UTC(),
	})
	if err != nil {
		p.logger.Warn("usage metering failed", "tenant", tenant, "task_id", taskID, "error", err)
	}
}

// ProcessMappingSheet runs synchronously: mapping sheets are single
// images and the caller wants the applied-count back in the response.
func (p *Pipeline) ProcessMappingSheet(ctx context.Context, tenant string, f UploadFile) (int, error) {
	cfg, err := p.tenants.Load(tenant, false)
	if err != nil {
		return 0, err
	}

	opt, err := p.optimizer.Optimize(f.Data, f.ContentType)
	if err != nil {
		return 0, fmt.Errorf("ingest: optimizing mapping sheet: %w", err)
	}

	key := blob.MappingObjectKey(tenant, imaging.HashBytes(f.Data), "jpg", time.Now().UTC())
	if err := p.blobs.Put(ctx, key, opt.Bytes, "image/jpeg"); err != nil {
		return 0, fmt.Errorf("ingest: storing mapping sheet: %w", err)
	}

	result, err := p.extractor.Extract(ctx, vision.KindMapping, cfg.Prompt(vision.KindMapping), opt.Bytes)
	if err != nil {
		return 0, err
	}
	p.recordUsage(ctx, tenant, "", vision.KindMapping, result)

	rows := buildMappingRows(result.Doc)
	applied, err := p.applyMappingRows(ctx, tenant, rows)
	if err != nil {
		return applied, err
	}
	p.logger.Info("mapping sheet applied", "tenant", tenant, "rows", len(rows), "applied", applied)
	return applied, nil
}
