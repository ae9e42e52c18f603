package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

const (
	TaskTypeRender = "render:process"
	QueueRender    = "render"

	// BusyRetries bounds how often a task is redelivered while another job
	// holds the renderer.
	BusyRetries = 20
)

// AsynqDispatcher enqueues jobs on redis for an asynq server to execute.
// The server must run with concurrency 1.
type AsynqDispatcher struct {
	client    *asynq.Client
	retention time.Duration
}

func NewAsynqDispatcher(client *asynq.Client, retention time.Duration) *AsynqDispatcher {
	return &AsynqDispatcher{client: client, retention: retention}
}

// Dispatch enqueues the job. The worker only lets asynq retry a task that
// found the renderer busy; a failed render stays failed.
func (d *AsynqDispatcher) Dispatch(ctx context.Context, id uint32) error {
	task, err := NewRenderTask(id)
	if err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}

	opts := []asynq.Option{
		asynq.Queue(QueueRender),
		asynq.MaxRetry(BusyRetries),
		asynq.TaskID(fmt.Sprintf("render-%d-%s", id, uuid.NewString())),
	}
	if d.retention > 0 {
		opts = append(opts, asynq.Retention(d.retention))
	}
	if _, err := d.client.EnqueueContext(ctx, task, opts...); err != nil {
		return fmt.Errorf("failed to enqueue task: %w", err)
	}
	return nil
}

type renderTaskPayload struct {
	JobID uint32 `json:"jobId"`
}

func NewRenderTask(id uint32) (*asynq.Task, error) {
	data, err := json.Marshal(renderTaskPayload{JobID: id})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeRender, data), nil
}

// ParseRenderTask extracts the job id from a render task.
func ParseRenderTask(t *asynq.Task) (uint32, error) {
	var p renderTaskPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return 0, fmt.Errorf("failed to unmarshal task payload: %w", err)
	}
	if p.JobID == 0 {
		return 0, fmt.Errorf("task payload has no job id")
	}
	return p.JobID, nil
}
