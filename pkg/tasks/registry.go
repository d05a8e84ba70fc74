// Package tasks runs long-lived jobs against the durable task table.
// Every pipeline call creates its task row before returning, so status
// polling and resume-on-refresh always have a record to read.
package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/paperledger/paperledger/pkg/store"
)

// Registry creates task rows and launches their owning workers.
type Registry struct {
	repo   *store.TaskRepo
	logger *slog.Logger
}

// NewRegistry creates the registry.
func NewRegistry(repo *store.TaskRepo, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		repo:   repo,
		logger: logger.With("component", "tasks"),
	}
}

// Repo exposes the underlying repository for workers that mutate their
// own task row.
func (r *Registry) Repo() *store.TaskRepo { return r.repo }

// Begin creates a queued task row and returns it.
func (r *Registry) Begin(ctx context.Context, tenant, kind string) (*store.Task, error) {
	task := &store.Task{Tenant: tenant, Kind: kind, Status: store.TaskQueued}
	if err := r.repo.Create(ctx, task); err != nil {
		return nil, err
	}
	return task, nil
}

// Get fetches a task row.
func (r *Registry) Get(ctx context.Context, tenant, taskID string) (*store.Task, error) {
	return r.repo.Get(ctx, tenant, taskID)
}

// Recent returns the newest task for (tenant, kind).
func (r *Registry) Recent(ctx context.Context, tenant, kind string) (*store.Task, error) {
	return r.repo.Recent(ctx, tenant, kind)
}

// Launch runs worker in a background goroutine detached from the HTTP
// request. A worker error or panic is captured on the task row; nothing
// propagates to the caller after launch.
func (r *Registry) Launch(task *store.Task, timeout time.Duration, worker func(ctx context.Context) error) {
	go func() {
		ctx := context.Background()
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}

		defer func() {
			if rec := recover(); rec != nil {
				r.logger.Error("task worker panicked",
					"task_id", task.TaskID, "kind", task.Kind, "panic", rec,
					"stack", string(debug.Stack()))
				r.fail(task, fmt.Sprintf("internal error: %v", rec))
			}
		}()

		if err := worker(ctx); err != nil {
			r.logger.Error("task worker failed",
				"task_id", task.TaskID, "tenant", task.Tenant, "kind", task.Kind, "error", err)
			r.fail(task, err.Error())
		}
	}()
}

func (r *Registry) fail(task *store.Task, message string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := r.repo.SetStatus(ctx, task.Tenant, task.TaskID, store.TaskFailed, message); err != nil {
		r.logger.Error("recording task failure", "task_id", task.TaskID, "error", err)
	}
}
