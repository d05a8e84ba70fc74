package ingest

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paperledger/paperledger/pkg/blob"
	"github.com/paperledger/paperledger/pkg/store"
	"github.com/paperledger/paperledger/pkg/tasks"
	"github.com/paperledger/paperledger/pkg/tenantcfg"
	"github.com/paperledger/paperledger/pkg/vision"
)

type memBlobs struct {
	mu    sync.Mutex
	data  map[string][]byte
	onGet func(key string)
}

func newMemBlobs() *memBlobs { return &memBlobs{data: map[string][]byte{}} }

func (m *memBlobs) Put(_ context.Context, key string, data []byte, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = data
	return nil
}

func (m *memBlobs) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.onGet != nil {
		m.onGet(key)
	}
	d, ok := m.data[key]
	if !ok {
		return nil, blob.ErrNotFound
	}
	return d, nil
}

func (m *memBlobs) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *memBlobs) List(_ context.Context, prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var keys []string
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func (m *memBlobs) PublicURL(key string) string { return "mem://" + key }

// fixedExtractor returns the same result for every image.
type fixedExtractor struct {
	result *vision.Result
}

func (f *fixedExtractor) Extract(context.Context, string, string, []byte) (*vision.Result, error) {
	r := *f.result
	return &r, nil
}

func tenantDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "templates"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "tenants"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "templates", "automotive.json"), []byte(`{
		"schema_version": "1.0.0",
		"industry": "automotive",
		"gemini": {"sales_prompt": "sales", "vendor_prompt": "vendor", "mapping_prompt": "mapping"}
	}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tenants", "garage.json"), []byte(`{
		"tenant": "garage", "industry": "automotive", "bucket": "b"
	}`), 0o644))
	return dir
}

func newTestPipeline(t *testing.T, blobs *memBlobs, ex Extractor) (*Pipeline, *store.DB) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	db, err := store.Open(context.Background(), ":memory:", logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.Migrate(context.Background()))

	tenants, err := tenantcfg.NewLoader(tenantDir(t), logger)
	require.NoError(t, err)

	p := New(Options{
		Blobs:      blobs,
		Extractor:  ex,
		Tenants:    tenants,
		Registry:   tasks.NewRegistry(store.NewTaskRepo(db), logger),
		Staging:    store.NewStagingRepo(db),
		Reviews:    store.NewReviewRepo(db),
		Verified:   store.NewVerifiedRepo(db),
		Stocks:     store.NewStockRepo(db),
		UploadPool: tasks.NewPool(1),
		Logger:     logger,
	})
	return p, db
}

func TestProcessBatchRecordsUploadedKeys(t *testing.T) {
	blobs := newMemBlobs()
	ctx := context.Background()
	require.NoError(t, blobs.Put(ctx, "garage/sales/r1.jpg", []byte("img"), "image/jpeg"))

	result := &vision.Result{
		Kind:      vision.KindSales,
		ModelUsed: "gemini-2.0-flash",
		Doc: &vision.Document{
			Header: map[string]any{"receipt_number": "R-101", "date": "15-Mar-2025"},
			Items: []vision.Item{
				{"description": "oil", "quantity": float64(1), "rate": float64(100), "amount": float64(100)},
			},
		},
		ReceiptBox: &vision.Box{X0: 0, Y0: 0, X1: 0.1, Y1: 0.05},
	}
	p, db := newTestPipeline(t, blobs, &fixedExtractor{result: result})
	repo := store.NewTaskRepo(db)

	task, err := p.registry.Begin(ctx, "garage", store.TaskKindSales)
	require.NoError(t, err)

	var firstStatus string
	blobs.onGet = func(string) {
		if firstStatus != "" {
			return
		}
		if got, err := repo.Get(ctx, "garage", task.TaskID); err == nil {
			firstStatus = got.Status
		}
	}

	keys := []string{"garage/sales/r1.jpg"}
	require.NoError(t, p.processBatch(ctx, task, vision.KindSales, keys, false))

	got, err := repo.Get(ctx, "garage", task.TaskID)
	require.NoError(t, err)
	assert.Equal(t, store.TaskCompleted, got.Status)
	assert.Equal(t, keys, got.UploadedKeys)
	// The dedup gate read the uploads back while the task was still in
	// its uploading phase.
	assert.Equal(t, store.TaskUploading, firstStatus)

	// The receipt box alone is still persisted as the crop hint when no
	// combined box exists.
	headers, err := store.NewReviewRepo(db).HeadersAll(ctx, "garage")
	require.NoError(t, err)
	require.Len(t, headers, 1)
	assert.NotEmpty(t, headers[0].BBox)
}
