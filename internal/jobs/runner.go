// Package jobs dispatches migrations off the request path and exposes
// status/result polling for them.
package jobs

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/example/tablestore/internal/migration"
)

// State describes where a job is in its lifecycle.
type State string

const (
	StatePending   State = "pending"
	StateRunning   State = "running"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
)

// ErrJobNotFound is returned when polling an unknown job id.
var ErrJobNotFound = errors.New("jobs: job not found")

// Job is a snapshot of one submitted migration.
type Job struct {
	ID      string
	State   State
	Request migration.Request
	Result  migration.Result
	Err     string
}

// Runner executes migrations on background goroutines. Jobs are retained in
// memory until the process exits; this facility exists so the triggering
// request can return immediately, not as a durable queue.
type Runner struct {
	orch   *migration.Orchestrator
	logger *slog.Logger

	mu   sync.Mutex
	jobs map[string]*Job
	wg   sync.WaitGroup

	baseCtx context.Context
	cancel  context.CancelFunc
}

// NewRunner creates a job runner bound to the orchestrator.
func NewRunner(orch *migration.Orchestrator, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		orch:    orch,
		logger:  logger,
		jobs:    make(map[string]*Job),
		baseCtx: ctx,
		cancel:  cancel,
	}
}

// Submit enqueues a migration and returns its job id immediately.
func (r *Runner) Submit(req migration.Request) string {
	id := uuid.NewString()

	r.mu.Lock()
	r.jobs[id] = &Job{ID: id, State: StatePending, Request: req}
	r.mu.Unlock()

	r.wg.Add(1)
	go r.run(id, req)

	return id
}

func (r *Runner) run(id string, req migration.Request) {
	defer r.wg.Done()

	r.setState(id, func(j *Job) { j.State = StateRunning })
	r.logger.Info("migration job started", "job_id", id, "table_id", req.TableID)

	result, err := r.orch.MigrateTable(r.baseCtx, req)

	r.setState(id, func(j *Job) {
		j.Result = result
		if err != nil {
			j.State = StateFailed
			j.Err = err.Error()
			return
		}
		j.State = StateSucceeded
	})

	if err != nil {
		r.logger.Error("migration job failed", "job_id", id, "error", err)
		return
	}
	r.logger.Info("migration job finished", "job_id", id, "final_name", result.ShadowTableName)
}

func (r *Runner) setState(id string, mutate func(*Job)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if job, ok := r.jobs[id]; ok {
		mutate(job)
	}
}

// Get returns a snapshot of the job's current status.
func (r *Runner) Get(id string) (Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok {
		return Job{}, ErrJobNotFound
	}
	return *job, nil
}

// Wait blocks until all submitted jobs have finished.
func (r *Runner) Wait() {
	r.wg.Wait()
}

// Close cancels in-flight jobs and waits for them to wind down.
func (r *Runner) Close() {
	r.cancel()
	r.wg.Wait()
}
