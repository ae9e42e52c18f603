package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/phitk/render/internal/ffmpeg"
	"github.com/phitk/render/internal/ipc"
	"github.com/phitk/render/internal/model"
	"github.com/phitk/render/internal/preset"
	"github.com/phitk/render/internal/store"
)

var (
	ErrJobNotFound = store.ErrJobNotFound
	ErrBusy        = errors.New("another job is running")
	ErrNotQueued   = errors.New("job is not queued")
)

// ValidationError wraps a rejected submission.
type ValidationError struct {
	Err error
}

func (e *ValidationError) Error() string { return "invalid render params: " + e.Err.Error() }
func (e *ValidationError) Unwrap() error { return e.Err }

// Runner executes one job in a worker.
type Runner interface {
	Run(ctx context.Context, params model.RenderParams, output string, onEvent func(ipc.Event)) (ipc.Result, error)
}

// Dispatcher hands a queued job id to whatever executes it.
type Dispatcher interface {
	Dispatch(ctx context.Context, id uint32) error
}

// Observer is told about job changes. Calls are made without the queue lock
// held and receive a private copy.
type Observer interface {
	JobUpdated(job *model.Job)
	JobFinished(job *model.Job)
}

// Publisher makes a finished output available elsewhere.
type Publisher interface {
	Publish(ctx context.Context, job *model.Job) (string, error)
	Unpublish(ctx context.Context, job *model.Job) error
}

// Options configures a TaskQueue.
type Options struct {
	OutputDir string
	// History is the number of finished jobs kept; older ones are dropped.
	History   int
	Store     store.JobStore
	Runner    Runner
	Presets   *preset.Store
	Publisher Publisher
	Validator *validator.Validate
	Logger    *slog.Logger
}

// TaskQueue owns every render job. Jobs run one at a time in submission
// order.
type TaskQueue struct {
	opts   Options
	logger *slog.Logger

	// saveMu orders writes to the job store.
	saveMu sync.Mutex

	mu         sync.Mutex
	jobs       map[uint32]*model.Job
	order      []uint32
	pending    []uint32
	nextID     uint32
	running    uint32
	cancelRun  context.CancelFunc
	renderAt   time.Time
	observers  []Observer
	dispatcher Dispatcher

	wake chan struct{}
}

// NewTaskQueue creates an empty queue. Jobs are executed by Run unless a
// dispatcher is set.
func NewTaskQueue(opts Options) *TaskQueue {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Store == nil {
		opts.Store = store.NewMemoryStore()
	}
	if opts.Validator == nil {
		opts.Validator = validator.New()
	}
	if opts.History <= 0 {
		opts.History = 50
	}
	return &TaskQueue{
		opts:   opts,
		logger: opts.Logger,
		jobs:   make(map[uint32]*model.Job),
		nextID: 1,
		wake:   make(chan struct{}, 1),
	}
}

// SetDispatcher routes queued jobs to d instead of the local Run loop.
func (q *TaskQueue) SetDispatcher(d Dispatcher) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.dispatcher = d
}

// Subscribe registers an observer.
func (q *TaskQueue) Subscribe(o Observer) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.observers = append(q.observers, o)
}

// Restore reloads persisted jobs. Jobs that were queued or running when the
// previous process stopped are marked failed.
func (q *TaskQueue) Restore(ctx context.Context) error {
	jobs, err := q.opts.Store.List(ctx)
	if err != nil {
		return fmt.Errorf("restore jobs: %w", err)
	}

	q.mu.Lock()
	var interrupted []*model.Job
	for _, job := range jobs {
		if !job.Status.Terminal() {
			msg := "interrupted by restart"
			now := time.Now()
			job.Status = model.JobStatusFailed
			job.Error = &msg
			job.CompletedAt = &now
			interrupted = append(interrupted, job.Clone())
		}
		q.jobs[job.ID] = job
		q.order = append(q.order, job.ID)
		if job.ID >= q.nextID {
			q.nextID = job.ID + 1
		}
	}
	q.mu.Unlock()

	for _, job := range interrupted {
		q.persist(ctx, job.ID)
	}
	q.logger.Info("jobs restored", "count", len(jobs), "interrupted", len(interrupted))
	return nil
}

// Submit validates params and queues a job. It never waits for execution.
func (q *TaskQueue) Submit(ctx context.Context, params model.RenderParams) (model.TaskView, error) {
	if err := q.validate(params); err != nil {
		return model.TaskView{}, err
	}

	q.mu.Lock()
	id := q.nextID
	q.nextID++
	now := time.Now()
	name := model.JobName(params.Info, params.Path)
	job := &model.Job{
		ID:        id,
		Name:      name,
		Path:      params.Path,
		Output:    q.outputPath(id, name, params.Config.OutputContainer()),
		Info:      params.Info,
		Settings:  params.Config.Clone(),
		Status:    model.JobStatusQueued,
		CreatedAt: now,
	}
	q.jobs[id] = job
	q.order = append(q.order, id)
	dispatcher := q.dispatcher
	if dispatcher == nil {
		q.pending = append(q.pending, id)
	}
	snapshot := job.Clone()
	q.mu.Unlock()

	q.persist(ctx, id)
	q.notify(snapshot, false)
	q.logger.Info("job submitted", "job_id", id, "name", name, "path", params.Path)

	if dispatcher != nil {
		if err := dispatcher.Dispatch(ctx, id); err != nil {
			q.finish(ctx, id, fmt.Errorf("dispatch: %w", err), 0)
			return model.TaskView{}, fmt.Errorf("failed to enqueue job: %w", err)
		}
	} else {
		select {
		case q.wake <- struct{}{}:
		default:
		}
	}
	return snapshot.View(), nil
}

// Batch submits one job per item, taking settings from the named preset.
// Every item is checked before any job is queued.
func (q *TaskQueue) Batch(ctx context.Context, items []model.BatchItem) ([]model.TaskView, error) {
	params := make([]model.RenderParams, 0, len(items))
	for i, item := range items {
		settings := model.DefaultRenderSettings()
		if q.opts.Presets != nil {
			s, err := q.opts.Presets.Get(item.Preset)
			if err != nil {
				return nil, &ValidationError{Err: fmt.Errorf("item %d: %w", i, err)}
			}
			settings = s
		} else if item.Preset != "" && item.Preset != preset.DefaultName {
			return nil, &ValidationError{Err: fmt.Errorf("item %d: %w: %s", i, preset.ErrNotFound, item.Preset)}
		}
		p := model.RenderParams{Path: item.Path, Config: settings}
		if err := q.validate(p); err != nil {
			return nil, err
		}
		params = append(params, p)
	}

	views := make([]model.TaskView, 0, len(params))
	for _, p := range params {
		v, err := q.Submit(ctx, p)
		if err != nil {
			return views, err
		}
		views = append(views, v)
	}
	return views, nil
}

func (q *TaskQueue) validate(params model.RenderParams) error {
	if err := q.opts.Validator.Struct(&params); err != nil {
		return &ValidationError{Err: err}
	}
	spec := ffmpeg.AudioSpec{
		Format:     params.Config.AudioFormat,
		BitDepth:   params.Config.AudioBitDepth,
		SampleRate: params.Config.TargetAudio,
	}
	if err := spec.Validate(); err != nil {
		return &ValidationError{Err: err}
	}
	if _, err := ffmpeg.ContainerFormat(params.Config.OutputContainer()); err != nil {
		return &ValidationError{Err: err}
	}
	if _, err := os.Stat(params.Path); err != nil {
		return &ValidationError{Err: fmt.Errorf("chart not found: %s", params.Path)}
	}
	return nil
}

var unsafeName = regexp.MustCompile(`[^\p{L}\p{N}._-]+`)

func (q *TaskQueue) outputPath(id uint32, name, container string) string {
	base := strings.Trim(unsafeName.ReplaceAllString(name, "_"), "_.")
	if base == "" {
		base = "render"
	}
	return filepath.Join(q.opts.OutputDir, fmt.Sprintf("%s-%d.%s", base, id, container))
}

// List returns every job in submission order.
func (q *TaskQueue) List() []model.TaskView {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]model.TaskView, 0, len(q.order))
	for _, id := range q.order {
		out = append(out, q.jobs[id].View())
	}
	return out
}

// Get returns one job's view.
func (q *TaskQueue) Get(id uint32) (model.TaskView, error) {
	job, err := q.Job(id)
	if err != nil {
		return model.TaskView{}, err
	}
	return job.View(), nil
}

// Job returns a copy of the full job record.
func (q *TaskQueue) Job(id uint32) (*model.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	return job.Clone(), nil
}

// Cancel stops a job. A queued job is canceled without ever starting; a
// running job has its worker killed. Finished jobs are left as they are.
func (q *TaskQueue) Cancel(ctx context.Context, id uint32) (model.TaskView, error) {
	q.mu.Lock()
	job, ok := q.jobs[id]
	if !ok {
		q.mu.Unlock()
		return model.TaskView{}, ErrJobNotFound
	}

	var snapshot *model.Job
	switch job.Status {
	case model.JobStatusQueued:
		now := time.Now()
		job.Status = model.JobStatusCanceled
		job.CompletedAt = &now
		q.removePending(id)
		snapshot = job.Clone()
	case model.JobStatusRunning:
		if !job.CancelRequested {
			job.CancelRequested = true
			if q.cancelRun != nil {
				q.cancelRun()
			}
			snapshot = job.Clone()
		}
	}
	view := job.View()
	q.mu.Unlock()

	if snapshot != nil {
		q.logger.Info("job cancel requested", "job_id", id, "status", snapshot.Status)
		q.persist(ctx, id)
		if snapshot.Status.Terminal() {
			q.notify(snapshot, true)
		}
	}
	return view, nil
}

func (q *TaskQueue) removePending(id uint32) {
	for i, p := range q.pending {
		if p == id {
			q.pending = append(q.pending[:i], q.pending[i+1:]...)
			return
		}
	}
}

// Run executes queued jobs in order until ctx is done.
func (q *TaskQueue) Run(ctx context.Context) {
	for {
		id, ok := q.nextPending()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-q.wake:
				continue
			}
		}
		if err := q.Execute(ctx, id); err != nil && !errors.Is(err, ErrNotQueued) {
			q.logger.Warn("job failed", "job_id", id, "error", err)
		}
		if ctx.Err() != nil {
			return
		}
	}
}

func (q *TaskQueue) nextPending() (uint32, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return 0, false
	}
	id := q.pending[0]
	q.pending = q.pending[1:]
	return id, true
}

// Execute runs one queued job to completion. Only one job may execute at a
// time. A canceled job returns nil; a failed one returns its error.
func (q *TaskQueue) Execute(ctx context.Context, id uint32) error {
	q.mu.Lock()
	job, ok := q.jobs[id]
	if !ok {
		q.mu.Unlock()
		return ErrJobNotFound
	}
	if job.Status != model.JobStatusQueued {
		q.mu.Unlock()
		return ErrNotQueued
	}
	if q.running != 0 {
		q.mu.Unlock()
		return ErrBusy
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	now := time.Now()
	job.Status = model.JobStatusRunning
	job.Stage = model.StageLoading
	job.StartedAt = &now
	q.running = id
	q.cancelRun = cancel
	params := model.RenderParams{Path: job.Path, Info: job.Info, Config: job.Settings.Clone()}
	output := job.Output
	snapshot := job.Clone()
	q.mu.Unlock()

	q.persist(ctx, id)
	q.notify(snapshot, false)
	q.logger.Info("job started", "job_id", id, "output", output)

	if err := os.MkdirAll(filepath.Dir(output), 0o755); err != nil {
		return q.finish(ctx, id, fmt.Errorf("create output dir: %w", err), 0)
	}

	res, err := q.opts.Runner.Run(runCtx, params, output, func(e ipc.Event) { q.apply(id, e) })
	return q.finish(ctx, id, err, res.Elapsed)
}

// Fail marks a job that never started as failed with err.
func (q *TaskQueue) Fail(ctx context.Context, id uint32, err error) error {
	q.mu.Lock()
	job, ok := q.jobs[id]
	if !ok {
		q.mu.Unlock()
		return ErrJobNotFound
	}
	if job.Status != model.JobStatusQueued {
		q.mu.Unlock()
		return ErrNotQueued
	}
	q.removePending(id)
	q.mu.Unlock()

	q.finish(ctx, id, err, 0)
	return nil
}

// apply folds one worker event into the job.
func (q *TaskQueue) apply(id uint32, e ipc.Event) {
	q.mu.Lock()
	job, ok := q.jobs[id]
	if !ok {
		q.mu.Unlock()
		return
	}
	switch e.Kind {
	case ipc.KindStartMixing:
		job.Stage = model.StageMixing
	case ipc.KindStartRender:
		job.Stage = model.StageRendering
		job.TotalFrames = e.Total
		q.renderAt = time.Now()
	case ipc.KindFrame:
		job.Frame++
		if elapsed := time.Since(q.renderAt).Seconds(); elapsed > 0 {
			job.FPS = float64(job.Frame) / elapsed
			if job.FPS > 0 && job.TotalFrames >= job.Frame {
				job.Estimate = float64(job.TotalFrames-job.Frame) / job.FPS
			}
		}
	case ipc.KindDone:
		job.Duration = e.Elapsed
	}
	snapshot := job.Clone()
	q.mu.Unlock()

	if e.Kind != ipc.KindFrame {
		q.persist(context.Background(), id)
	}
	q.notify(snapshot, false)
}

func (q *TaskQueue) finish(ctx context.Context, id uint32, runErr error, elapsed float64) error {
	q.mu.Lock()
	job, ok := q.jobs[id]
	if !ok {
		q.mu.Unlock()
		return runErr
	}
	if q.running == id {
		q.running = 0
		q.cancelRun = nil
	}

	now := time.Now()
	job.CompletedAt = &now
	job.Estimate = 0
	var result error
	switch {
	case job.CancelRequested:
		job.Status = model.JobStatusCanceled
	case runErr != nil:
		msg := runErr.Error()
		job.Status = model.JobStatusFailed
		job.Error = &msg
		result = runErr
	default:
		job.Status = model.JobStatusSucceeded
		if elapsed > 0 {
			job.Duration = elapsed
		}
	}
	snapshot := job.Clone()
	q.mu.Unlock()

	if snapshot.Status == model.JobStatusSucceeded && q.opts.Publisher != nil {
		url, err := q.opts.Publisher.Publish(ctx, snapshot)
		if err != nil {
			q.logger.Warn("publish failed", "job_id", id, "error", err)
		} else {
			q.mu.Lock()
			job.OutputURL = url
			snapshot = job.Clone()
			q.mu.Unlock()
		}
	}

	q.persist(ctx, id)
	q.notify(snapshot, true)
	q.logger.Info("job finished", "job_id", id, "status", snapshot.Status, "duration", snapshot.Duration)
	q.evict(ctx)
	return result
}

// evict drops the oldest finished jobs beyond the history limit.
func (q *TaskQueue) evict(ctx context.Context) {
	q.mu.Lock()
	finished := 0
	for _, id := range q.order {
		if q.jobs[id].Status.Terminal() {
			finished++
		}
	}
	var dropped []*model.Job
	kept := q.order[:0]
	for _, id := range q.order {
		job := q.jobs[id]
		if finished > q.opts.History && job.Status.Terminal() {
			finished--
			delete(q.jobs, id)
			dropped = append(dropped, job)
			continue
		}
		kept = append(kept, id)
	}
	q.order = kept
	q.mu.Unlock()

	for _, job := range dropped {
		q.saveMu.Lock()
		err := q.opts.Store.Delete(ctx, job.ID)
		q.saveMu.Unlock()
		if err != nil {
			q.logger.Warn("failed to delete job", "job_id", job.ID, "error", err)
		}
		if job.OutputURL != "" && q.opts.Publisher != nil {
			if err := q.opts.Publisher.Unpublish(ctx, job); err != nil {
				q.logger.Warn("failed to unpublish job", "job_id", job.ID, "error", err)
			}
		}
	}
}

// persist saves the job's current state. Saves are serialized and each reads
// the job under mu, so the store always ends on the latest state no matter
// which caller's save lands last. Evicted jobs are not written back.
func (q *TaskQueue) persist(ctx context.Context, id uint32) {
	q.saveMu.Lock()
	defer q.saveMu.Unlock()

	q.mu.Lock()
	job, ok := q.jobs[id]
	if !ok {
		q.mu.Unlock()
		return
	}
	snapshot := job.Clone()
	q.mu.Unlock()

	if err := q.opts.Store.Save(context.WithoutCancel(ctx), snapshot); err != nil {
		q.logger.Warn("failed to persist job", "job_id", id, "error", err)
	}
}

func (q *TaskQueue) notify(job *model.Job, finished bool) {
	q.mu.Lock()
	observers := append([]Observer(nil), q.observers...)
	q.mu.Unlock()
	for _, o := range observers {
		if finished {
			o.JobFinished(job)
		} else {
			o.JobUpdated(job)
		}
	}
}
