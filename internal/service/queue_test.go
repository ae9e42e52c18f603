package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/phitk/render/internal/ipc"
	"github.com/phitk/render/internal/model"
	"github.com/phitk/render/internal/preset"
	"github.com/phitk/render/internal/store"
)

type runFunc func(ctx context.Context, params model.RenderParams, onEvent func(ipc.Event)) (ipc.Result, error)

type fakeRunner struct {
	mu        sync.Mutex
	paths     []string
	active    int
	maxActive int
	fn        runFunc
}

func (f *fakeRunner) Run(ctx context.Context, params model.RenderParams, _ string, onEvent func(ipc.Event)) (ipc.Result, error) {
	f.mu.Lock()
	f.paths = append(f.paths, params.Path)
	f.active++
	if f.active > f.maxActive {
		f.maxActive = f.active
	}
	fn := f.fn
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.active--
		f.mu.Unlock()
	}()

	if fn != nil {
		return fn(ctx, params, onEvent)
	}
	return succeed(ctx, params, onEvent)
}

func (f *fakeRunner) peak() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxActive
}

func (f *fakeRunner) started() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.paths...)
}

func succeed(_ context.Context, _ model.RenderParams, onEvent func(ipc.Event)) (ipc.Result, error) {
	onEvent(ipc.StartMixing())
	onEvent(ipc.StartRender(3))
	for i := 0; i < 3; i++ {
		onEvent(ipc.Frame())
	}
	onEvent(ipc.Done(0.5))
	return ipc.Result{Total: 3, Frames: 3, Elapsed: 0.5}, nil
}

type recorder struct {
	mu       sync.Mutex
	finished []model.JobStatus
}

func (r *recorder) JobUpdated(*model.Job) {}

func (r *recorder) JobFinished(job *model.Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finished = append(r.finished, job.Status)
}

func newQueue(t *testing.T, runner *fakeRunner) *TaskQueue {
	t.Helper()
	return NewTaskQueue(Options{
		OutputDir: t.TempDir(),
		History:   50,
		Store:     store.NewMemoryStore(),
		Runner:    runner,
	})
}

func chartPath(t *testing.T, name string) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	return dir
}

func params(path string) model.RenderParams {
	return model.RenderParams{Path: path, Config: model.DefaultRenderSettings()}
}

func startLoop(t *testing.T, q *TaskQueue) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		q.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func waitStatus(t *testing.T, q *TaskQueue, id uint32, want model.JobStatus) *model.Job {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, err := q.Job(id)
		if err == nil && job.Status == want {
			return job
		}
		time.Sleep(5 * time.Millisecond)
	}
	job, _ := q.Job(id)
	t.Fatalf("job %d did not reach %s, last %+v", id, want, job)
	return nil
}

func TestSubmit_ReturnsImmediately(t *testing.T) {
	q := newQueue(t, &fakeRunner{})
	view, err := q.Submit(context.Background(), params(chartPath(t, "song")))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if view.ID != 1 || view.Status.Type != model.TaskStatusPending {
		t.Errorf("unexpected view %+v", view)
	}
	if filepath.Ext(view.Output) != ".mov" {
		t.Errorf("expected .mov output, got %s", view.Output)
	}
}

func TestSubmit_Validation(t *testing.T) {
	q := newQueue(t, &fakeRunner{})
	good := chartPath(t, "song")

	bad := []model.RenderParams{
		{Path: "", Config: model.DefaultRenderSettings()},
		params(filepath.Join(good, "missing")),
	}
	mp3 := params(good)
	mp3.Config.AudioFormat = "mp3"
	mp3.Config.AudioBitDepth = 24
	bad = append(bad, mp3)
	fps := params(good)
	fps.Config.FPS = 0
	bad = append(bad, fps)

	for i, p := range bad {
		_, err := q.Submit(context.Background(), p)
		var verr *ValidationError
		if !errors.As(err, &verr) {
			t.Errorf("case %d: expected ValidationError, got %v", i, err)
		}
	}
	if len(q.List()) != 0 {
		t.Error("rejected submissions must not create jobs")
	}
}

func TestSubmit_CopiesSettings(t *testing.T) {
	q := newQueue(t, &fakeRunner{})
	p := params(chartPath(t, "song"))
	avatar := "me.png"
	p.Config.PlayerAvatar = &avatar

	view, _ := q.Submit(context.Background(), p)
	avatar = "changed.png"
	p.Config.FPS = 1

	job, _ := q.Job(view.ID)
	if *job.Settings.PlayerAvatar != "me.png" || job.Settings.FPS != 60 {
		t.Errorf("job settings alias caller state: %+v", job.Settings)
	}
}

func TestRun_FIFOOneAtATime(t *testing.T) {
	runner := &fakeRunner{}
	runner.fn = func(ctx context.Context, p model.RenderParams, onEvent func(ipc.Event)) (ipc.Result, error) {
		time.Sleep(10 * time.Millisecond)
		return succeed(ctx, p, onEvent)
	}
	q := newQueue(t, runner)

	var ids []uint32
	var paths []string
	for _, name := range []string{"a", "b", "c"} {
		p := chartPath(t, name)
		v, err := q.Submit(context.Background(), params(p))
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, v.ID)
		paths = append(paths, p)
	}
	startLoop(t, q)

	for _, id := range ids {
		job := waitStatus(t, q, id, model.JobStatusSucceeded)
		if job.Frame != 3 || job.TotalFrames != 3 || job.Duration != 0.5 {
			t.Errorf("job %d progress not tracked: %+v", id, job)
		}
	}

	got := runner.started()
	for i := range paths {
		if got[i] != paths[i] {
			t.Fatalf("jobs ran out of order: %v", got)
		}
	}
	if n := runner.peak(); n != 1 {
		t.Errorf("expected at most one running job, saw %d", n)
	}
}

func TestCancel_QueuedNeverStarts(t *testing.T) {
	release := make(chan struct{})
	runner := &fakeRunner{}
	runner.fn = func(ctx context.Context, p model.RenderParams, onEvent func(ipc.Event)) (ipc.Result, error) {
		<-release
		return succeed(ctx, p, onEvent)
	}
	q := newQueue(t, runner)
	rec := &recorder{}
	q.Subscribe(rec)

	first, _ := q.Submit(context.Background(), params(chartPath(t, "first")))
	secondPath := chartPath(t, "second")
	second, _ := q.Submit(context.Background(), params(secondPath))
	startLoop(t, q)
	waitStatus(t, q, first.ID, model.JobStatusRunning)

	view, err := q.Cancel(context.Background(), second.ID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if view.Status.Type != model.TaskStatusCanceled {
		t.Errorf("expected canceled view, got %s", view.Status.Type)
	}

	close(release)
	waitStatus(t, q, first.ID, model.JobStatusSucceeded)

	for _, p := range runner.started() {
		if p == secondPath {
			t.Fatal("canceled job was started")
		}
	}
	job, _ := q.Job(second.ID)
	if job.Status != model.JobStatusCanceled || job.StartedAt != nil {
		t.Errorf("unexpected canceled job %+v", job)
	}
}

func TestCancel_RunningIsCanceledNotFailed(t *testing.T) {
	runner := &fakeRunner{}
	runner.fn = func(ctx context.Context, _ model.RenderParams, onEvent func(ipc.Event)) (ipc.Result, error) {
		onEvent(ipc.StartMixing())
		<-ctx.Done()
		return ipc.Result{}, ctx.Err()
	}
	q := newQueue(t, runner)
	v, _ := q.Submit(context.Background(), params(chartPath(t, "song")))
	startLoop(t, q)

	deadline := time.Now().Add(5 * time.Second)
	for {
		job, _ := q.Job(v.ID)
		if job.Stage == model.StageMixing {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("job never reached mixing")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if _, err := q.Cancel(context.Background(), v.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	job := waitStatus(t, q, v.ID, model.JobStatusCanceled)
	if job.Error != nil {
		t.Errorf("canceled job should carry no error, got %q", *job.Error)
	}
}

// gatedStore holds the first save of a running job with a pending cancel
// until release is closed.
type gatedStore struct {
	*store.MemoryStore
	once    sync.Once
	reached chan struct{}
	release chan struct{}
}

func (s *gatedStore) Save(ctx context.Context, job *model.Job) error {
	if job.Status == model.JobStatusRunning && job.CancelRequested {
		gate := false
		s.once.Do(func() { gate = true })
		if gate {
			close(s.reached)
			<-s.release
		}
	}
	return s.MemoryStore.Save(ctx, job)
}

func TestCancel_SlowSaveKeepsCanceledState(t *testing.T) {
	gs := &gatedStore{
		MemoryStore: store.NewMemoryStore(),
		reached:     make(chan struct{}),
		release:     make(chan struct{}),
	}
	runner := &fakeRunner{}
	runner.fn = func(ctx context.Context, _ model.RenderParams, onEvent func(ipc.Event)) (ipc.Result, error) {
		onEvent(ipc.StartMixing())
		<-ctx.Done()
		return ipc.Result{}, ctx.Err()
	}
	q := NewTaskQueue(Options{OutputDir: t.TempDir(), History: 50, Store: gs, Runner: runner})
	v, _ := q.Submit(context.Background(), params(chartPath(t, "song")))
	startLoop(t, q)

	deadline := time.Now().Add(5 * time.Second)
	for {
		job, _ := q.Job(v.ID)
		if job.Stage == model.StageMixing {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("job never reached mixing")
		}
		time.Sleep(5 * time.Millisecond)
	}

	canceled := make(chan struct{})
	go func() {
		defer close(canceled)
		if _, err := q.Cancel(context.Background(), v.ID); err != nil {
			t.Errorf("cancel: %v", err)
		}
	}()

	// The cancel's save is stuck while the run winds down to Canceled.
	<-gs.reached
	waitStatus(t, q, v.ID, model.JobStatusCanceled)
	close(gs.release)
	<-canceled

	deadline = time.Now().Add(5 * time.Second)
	for {
		stored, err := gs.Get(context.Background(), v.ID)
		if err == nil && stored.Status == model.JobStatusCanceled {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("stored job did not end canceled, last %+v (err %v)", stored, err)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRun_FailureDoesNotStopQueue(t *testing.T) {
	runner := &fakeRunner{}
	broken := chartPath(t, "broken")
	runner.fn = func(ctx context.Context, p model.RenderParams, onEvent func(ipc.Event)) (ipc.Result, error) {
		if p.Path == broken {
			return ipc.Result{}, errors.New("worker exited with status 1")
		}
		return succeed(ctx, p, onEvent)
	}
	q := newQueue(t, runner)
	bad, _ := q.Submit(context.Background(), params(broken))
	good, _ := q.Submit(context.Background(), params(chartPath(t, "fine")))
	startLoop(t, q)

	job := waitStatus(t, q, bad.ID, model.JobStatusFailed)
	if job.Error == nil || *job.Error != "worker exited with status 1" {
		t.Errorf("unexpected error %v", job.Error)
	}
	waitStatus(t, q, good.ID, model.JobStatusSucceeded)

	view, _ := q.Get(bad.ID)
	if view.Status.Type != model.TaskStatusFailed || view.Status.Error == "" {
		t.Errorf("unexpected failed view %+v", view.Status)
	}
}

func TestCancel_Idempotent(t *testing.T) {
	q := newQueue(t, &fakeRunner{})
	v, _ := q.Submit(context.Background(), params(chartPath(t, "song")))
	startLoop(t, q)
	waitStatus(t, q, v.ID, model.JobStatusSucceeded)

	for i := 0; i < 2; i++ {
		view, err := q.Cancel(context.Background(), v.ID)
		if err != nil {
			t.Fatalf("cancel: %v", err)
		}
		if view.Status.Type != model.TaskStatusDone {
			t.Errorf("finished job changed by cancel: %s", view.Status.Type)
		}
	}
	if _, err := q.Cancel(context.Background(), 999); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("expected ErrJobNotFound, got %v", err)
	}
}

func TestHistoryIsBounded(t *testing.T) {
	runner := &fakeRunner{}
	q := NewTaskQueue(Options{OutputDir: t.TempDir(), History: 2, Runner: runner})
	var last uint32
	for _, name := range []string{"a", "b", "c", "d"} {
		v, _ := q.Submit(context.Background(), params(chartPath(t, name)))
		last = v.ID
	}
	startLoop(t, q)
	waitStatus(t, q, last, model.JobStatusSucceeded)

	var list []model.TaskView
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if list = q.List(); len(list) == 2 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if len(list) != 2 || list[0].ID != 3 || list[1].ID != 4 {
		t.Errorf("expected jobs 3 and 4 retained, got %+v", list)
	}
	if _, err := q.Get(1); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("evicted job still visible: %v", err)
	}
}

func TestBatch_UsesPresets(t *testing.T) {
	presets, err := preset.Open(filepath.Join(t.TempDir(), "presets.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	fast := model.DefaultRenderSettings()
	fast.FPS = 30
	if err := presets.Add("fast", fast); err != nil {
		t.Fatal(err)
	}

	q := NewTaskQueue(Options{OutputDir: t.TempDir(), Runner: &fakeRunner{}, Presets: presets})
	views, err := q.Batch(context.Background(), []model.BatchItem{
		{Path: chartPath(t, "a"), Preset: "fast"},
		{Path: chartPath(t, "b")},
	})
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	if len(views) != 2 {
		t.Fatalf("expected 2 jobs, got %d", len(views))
	}
	a, _ := q.Job(views[0].ID)
	b, _ := q.Job(views[1].ID)
	if a.Settings.FPS != 30 || b.Settings.FPS != 60 {
		t.Errorf("unexpected fps %d, %d", a.Settings.FPS, b.Settings.FPS)
	}

	_, err = q.Batch(context.Background(), []model.BatchItem{
		{Path: chartPath(t, "c")},
		{Path: chartPath(t, "d"), Preset: "missing"},
	})
	if !errors.Is(err, preset.ErrNotFound) {
		t.Fatalf("expected preset.ErrNotFound, got %v", err)
	}
	if len(q.List()) != 2 {
		t.Error("a rejected batch must not queue any job")
	}
}

func TestRestore_MarksInterruptedJobsFailed(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()
	_ = st.Save(ctx, &model.Job{ID: 4, Status: model.JobStatusSucceeded})
	_ = st.Save(ctx, &model.Job{ID: 7, Status: model.JobStatusRunning})

	q := NewTaskQueue(Options{OutputDir: t.TempDir(), Store: st, Runner: &fakeRunner{}})
	if err := q.Restore(ctx); err != nil {
		t.Fatal(err)
	}

	job, _ := q.Job(7)
	if job.Status != model.JobStatusFailed {
		t.Errorf("expected interrupted job failed, got %s", job.Status)
	}
	persisted, _ := st.Get(ctx, 7)
	if persisted.Status != model.JobStatusFailed {
		t.Error("restored state should be persisted")
	}

	v, err := q.Submit(ctx, params(chartPath(t, "next")))
	if err != nil {
		t.Fatal(err)
	}
	if v.ID != 8 {
		t.Errorf("expected ids to continue at 8, got %d", v.ID)
	}
}

type fakeDispatcher struct {
	ids []uint32
	err error
}

func (d *fakeDispatcher) Dispatch(_ context.Context, id uint32) error {
	d.ids = append(d.ids, id)
	return d.err
}

func TestDispatcher_ExecuteRunsJob(t *testing.T) {
	q := newQueue(t, &fakeRunner{})
	d := &fakeDispatcher{}
	q.SetDispatcher(d)

	v, err := q.Submit(context.Background(), params(chartPath(t, "song")))
	if err != nil {
		t.Fatal(err)
	}
	if len(d.ids) != 1 || d.ids[0] != v.ID {
		t.Fatalf("job not dispatched: %v", d.ids)
	}

	if err := q.Execute(context.Background(), v.ID); err != nil {
		t.Fatalf("execute: %v", err)
	}
	job, _ := q.Job(v.ID)
	if job.Status != model.JobStatusSucceeded {
		t.Errorf("expected succeeded, got %s", job.Status)
	}
	if err := q.Execute(context.Background(), v.ID); !errors.Is(err, ErrNotQueued) {
		t.Errorf("second execute: expected ErrNotQueued, got %v", err)
	}
}

func TestDispatcher_FailureFailsJob(t *testing.T) {
	q := newQueue(t, &fakeRunner{})
	q.SetDispatcher(&fakeDispatcher{err: errors.New("redis down")})

	if _, err := q.Submit(context.Background(), params(chartPath(t, "song"))); err == nil {
		t.Fatal("expected enqueue error")
	}
	job, _ := q.Job(1)
	if job.Status != model.JobStatusFailed {
		t.Errorf("expected failed, got %s", job.Status)
	}
}

func TestObserversSeeTerminalStates(t *testing.T) {
	q := newQueue(t, &fakeRunner{})
	rec := &recorder{}
	q.Subscribe(rec)
	v, _ := q.Submit(context.Background(), params(chartPath(t, "song")))
	startLoop(t, q)
	waitStatus(t, q, v.ID, model.JobStatusSucceeded)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		rec.mu.Lock()
		n := len(rec.finished)
		rec.mu.Unlock()
		if n > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.finished) != 1 || rec.finished[0] != model.JobStatusSucceeded {
		t.Errorf("unexpected finished notifications %v", rec.finished)
	}
}

func TestFail_QueuedJobOnly(t *testing.T) {
	q := newQueue(t, &fakeRunner{})
	q.SetDispatcher(&fakeDispatcher{})
	v, err := q.Submit(context.Background(), params(chartPath(t, "song")))
	if err != nil {
		t.Fatal(err)
	}

	if err := q.Fail(context.Background(), v.ID, errors.New("renderer busy")); err != nil {
		t.Fatalf("fail: %v", err)
	}
	job, _ := q.Job(v.ID)
	if job.Status != model.JobStatusFailed || job.Error == nil || *job.Error != "renderer busy" {
		t.Errorf("unexpected job %+v", job)
	}

	if err := q.Fail(context.Background(), v.ID, errors.New("again")); !errors.Is(err, ErrNotQueued) {
		t.Errorf("second fail: expected ErrNotQueued, got %v", err)
	}
	if err := q.Fail(context.Background(), 99, errors.New("x")); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("unknown job: expected ErrJobNotFound, got %v", err)
	}
}
