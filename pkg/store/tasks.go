package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("store: not found")

// TaskRepo persists background tasks. A task row is created before the
// owning worker starts and mutated only by that worker; progress
// counters are incremented with atomic SQL updates because worker
// goroutines of one task run concurrently.
type TaskRepo struct {
	db *DB
}

// NewTaskRepo creates the repository.
func NewTaskRepo(db *DB) *TaskRepo {
	return &TaskRepo{db: db}
}

const taskColumns = `task_id, tenant, kind, status, total, processed, failed,
	duplicates, uploaded_keys, errors, current_file, message, created_at, updated_at`

// Create inserts a new task. A missing TaskID is generated.
func (r *TaskRepo) Create(ctx context.Context, task *Task) error {
	if task.TaskID == "" {
		task.TaskID = uuid.NewString()
	}
	if task.Status == "" {
		task.Status = TaskQueued
	}
	now := time.Now().UTC()
	task.CreatedAt = now
	task.UpdatedAt = now

	_, err := r.db.exec(ctx, `
		INSERT INTO tasks (task_id, tenant, kind, status, total, processed, failed,
			duplicates, uploaded_keys, errors, current_file, message, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`, task.TaskID, task.Tenant, task.Kind, task.Status, task.Total, task.Processed, task.Failed,
		marshalJSONList(task.Duplicates), marshalJSONList(task.UploadedKeys), marshalJSONList(task.Errors),
		task.CurrentFile, task.Message, task.CreatedAt, task.UpdatedAt)
	if err != nil {
		return fmt.Errorf("store: creating task: %w", err)
	}
	return nil
}

// Get fetches one task scoped to its tenant.
func (r *TaskRepo) Get(ctx context.Context, tenant, taskID string) (*Task, error) {
	row := r.db.queryRow(ctx, `
		SELECT `+taskColumns+`
		FROM tasks
		WHERE tenant = $1 AND task_id = $2
	`, tenant, taskID)
	return scanTask(row)
}

// Recent returns the most recently created task for (tenant, kind), so
// a reloaded browser can resume its progress view.
func (r *TaskRepo) Recent(ctx context.Context, tenant, kind string) (*Task, error) {
	row := r.db.queryRow(ctx, `
		SELECT `+taskColumns+`
		FROM tasks
		WHERE tenant = $1 AND kind = $2
		ORDER BY created_at DESC
		LIMIT 1
	`, tenant, kind)
	return scanTask(row)
}

// SetStatus updates status and message.
func (r *TaskRepo) SetStatus(ctx context.Context, tenant, taskID, status, message string) error {
	_, err := r.db.exec(ctx, `
		UPDATE tasks SET status = $1, message = $2, updated_at = $3
		WHERE tenant = $4 AND task_id = $5
	`, status, message, time.Now().UTC(), tenant, taskID)
	if err != nil {
		return fmt.Errorf("store: updating task status: %w", err)
	}
	return nil
}

// SetTotal records how many files the task will process.
func (r *TaskRepo) SetTotal(ctx context.Context, tenant, taskID string, total int) error {
	_, err := r.db.exec(ctx, `
		UPDATE tasks SET total = $1, updated_at = $2
		WHERE tenant = $3 AND task_id = $4
	`, total, time.Now().UTC(), tenant, taskID)
	if err != nil {
		return fmt.Errorf("store: updating task total: %w", err)
	}
	return nil
}

// SetCurrentFile records the file a worker is on, for the progress view.
func (r *TaskRepo) SetCurrentFile(ctx context.Context, tenant, taskID, file string) error {
	_, err := r.db.exec(ctx, `
		UPDATE tasks SET current_file = $1, updated_at = $2
		WHERE tenant = $3 AND task_id = $4
	`, file, time.Now().UTC(), tenant, taskID)
	if err != nil {
		return fmt.Errorf("store: updating task current file: %w", err)
	}
	return nil
}

// IncrementProcessed bumps the processed counter atomically.
func (r *TaskRepo) IncrementProcessed(ctx context.Context, tenant, taskID string) error {
	_, err := r.db.exec(ctx, `
		UPDATE tasks SET processed = processed + 1, updated_at = $1
		WHERE tenant = $2 AND task_id = $3
	`, time.Now().UTC(), tenant, taskID)
	if err != nil {
		return fmt.Errorf("store: incrementing processed: %w", err)
	}
	return nil
}

// IncrementFailed bumps the failed counter and appends one error
// message, both atomically in the database.
func (r *TaskRepo) IncrementFailed(ctx context.Context, tenant, taskID, errMsg string) error {
	var err error
	if r.db.Driver == DriverPostgres {
		_, err = r.db.SQL.ExecContext(ctx, `
			UPDATE tasks SET failed = failed + 1, errors = errors || $1::jsonb, updated_at = $2
			WHERE tenant = $3 AND task_id = $4
		`, marshalJSONList([]string{errMsg}), time.Now().UTC(), tenant, taskID)
	} else {
		_, err = r.db.SQL.ExecContext(ctx, `
			UPDATE tasks SET failed = failed + 1, errors = json_insert(errors, '$[#]', ?), updated_at = ?
			WHERE tenant = ? AND task_id = ?
		`, errMsg, time.Now().UTC(), tenant, taskID)
	}
	if err != nil {
		return fmt.Errorf("store: incrementing failed: %w", err)
	}
	return nil
}

// SetDuplicates records the detected duplicates and flips the task to
// duplicate_detected.
func (r *TaskRepo) SetDuplicates(ctx context.Context, tenant, taskID string, duplicates []string) error {
	_, err := r.db.exec(ctx, `
		UPDATE tasks SET status = $1, duplicates = $2, updated_at = $3
		WHERE tenant = $4 AND task_id = $5
	`, TaskDuplicateDetected, marshalJSONList(duplicates), time.Now().UTC(), tenant, taskID)
	if err != nil {
		return fmt.Errorf("store: recording duplicates: %w", err)
	}
	return nil
}

// SetUploadedKeys stores the blob keys produced by the upload phase.
func (r *TaskRepo) SetUploadedKeys(ctx context.Context, tenant, taskID string, keys []string) error {
	_, err := r.db.exec(ctx, `
		UPDATE tasks SET uploaded_keys = $1, updated_at = $2
		WHERE tenant = $3 AND task_id = $4
	`, marshalJSONList(keys), time.Now().UTC(), tenant, taskID)
	if err != nil {
		return fmt.Errorf("store: recording uploaded keys: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*Task, error) {
	var t Task
	var duplicates, uploadedKeys, errs []byte
	err := row.Scan(&t.TaskID, &t.Tenant, &t.Kind, &t.Status, &t.Total, &t.Processed, &t.Failed,
		&duplicates, &uploadedKeys, &errs, &t.CurrentFile, &t.Message, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: scanning task: %w", err)
	}
	t.Duplicates = unmarshalJSONList(duplicates)
	t.UploadedKeys = unmarshalJSONList(uploadedKeys)
	t.Errors = unmarshalJSONList(errs)
	return &t, nil
}
