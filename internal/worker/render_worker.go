package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/phitk/render/internal/service"
)

// busyDelay is how long a task waits before retrying a busy renderer.
const busyDelay = 5 * time.Second

// Executor runs one queued job by id.
type Executor interface {
	Execute(ctx context.Context, id uint32) error
	Fail(ctx context.Context, id uint32, err error) error
}

// RenderWorker processes render tasks delivered by asynq
type RenderWorker struct {
	queue  Executor
	logger *slog.Logger

	// attempts reports how often the task was retried and its retry limit.
	attempts func(ctx context.Context) (retried, limit int)
}

// NewRenderWorker creates a new render worker
func NewRenderWorker(queue Executor, logger *slog.Logger) *RenderWorker {
	if logger == nil {
		logger = slog.Default()
	}
	return &RenderWorker{queue: queue, logger: logger, attempts: taskAttempts}
}

func taskAttempts(ctx context.Context) (int, int) {
	retried, _ := asynq.GetRetryCount(ctx)
	limit, _ := asynq.GetMaxRetry(ctx)
	return retried, limit
}

// ProcessTask handles render task processing
func (w *RenderWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	id, err := service.ParseRenderTask(t)
	if err != nil {
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}

	w.logger.Info("render task received", "job_id", id)

	err = w.queue.Execute(ctx, id)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, service.ErrNotQueued), errors.Is(err, service.ErrJobNotFound):
		// Canceled before it reached us, or evicted.
		w.logger.Info("render task skipped", "job_id", id, "reason", err)
		return nil
	case errors.Is(err, service.ErrBusy):
		retried, limit := w.attempts(ctx)
		if retried < limit {
			w.logger.Info("renderer busy, retrying", "job_id", id, "retry", retried+1, "max", limit)
			return err
		}
		// Out of retries: asynq would archive the task and leave the job
		// queued forever.
		cause := fmt.Errorf("renderer busy after %d attempts", retried+1)
		if ferr := w.queue.Fail(ctx, id, cause); ferr != nil {
			w.logger.Warn("failed to fail busy job", "job_id", id, "error", ferr)
		}
		return fmt.Errorf("%w: %v", asynq.SkipRetry, cause)
	default:
		// The job already records the failure; a render is never retried.
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}
}

// RetryDelay spaces out busy retries. Other errors keep asynq's backoff,
// though the worker marks them SkipRetry.
func RetryDelay(n int, err error, t *asynq.Task) time.Duration {
	if errors.Is(err, service.ErrBusy) {
		return busyDelay
	}
	return asynq.DefaultRetryDelayFunc(n, err, t)
}

// Register installs the worker's handlers on mux.
func (w *RenderWorker) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(service.TaskTypeRender, w.ProcessTask)
}
