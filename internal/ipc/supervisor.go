package ipc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"

	"github.com/phitk/render/internal/ffmpeg"
	"github.com/phitk/render/internal/model"
)

// ErrNoDone is a worker that exited cleanly without reporting Done.
var ErrNoDone = errors.New("worker exited without reporting done")

// WorkerError is a failed worker process with the end of its stderr.
type WorkerError struct {
	Err  error
	Tail string
}

func (e *WorkerError) Error() string {
	if e.Tail == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%v: %s", e.Err, e.Tail)
}

func (e *WorkerError) Unwrap() error { return e.Err }

// Supervisor spawns render workers.
type Supervisor struct {
	Exe    string
	Args   []string
	Env    []string
	Logger *slog.Logger
	// Stderr receives a copy of the worker's stderr when set.
	Stderr io.Writer
}

// Result summarises a successful worker run.
type Result struct {
	Total   uint64
	Frames  uint64
	Elapsed float64
}

// Run executes one job in a fresh worker. Every event is passed to onEvent
// as it arrives. Canceling ctx kills the worker; the returned error then
// wraps ctx.Err().
func (s *Supervisor) Run(ctx context.Context, params model.RenderParams, output string, onEvent func(Event)) (Result, error) {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}

	cmd := exec.CommandContext(ctx, s.Exe, s.Args...)
	cmd.Env = s.Env
	tail := ffmpeg.NewTailBuffer(16 * 1024)
	if s.Stderr != nil {
		cmd.Stderr = io.MultiWriter(tail, s.Stderr)
	} else {
		cmd.Stderr = tail
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return Result{}, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return Result{}, err
	}
	if err := cmd.Start(); err != nil {
		return Result{}, fmt.Errorf("start worker: %w", err)
	}
	logger.Debug("worker started", "pid", cmd.Process.Pid, "output", output)

	writeErr := WriteJob(stdin, params, output)
	_ = stdin.Close()

	var res Result
	reader := NewReader(stdout)
	var streamErr error
	for {
		e, err := reader.Next()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				streamErr = err
				_ = cmd.Process.Kill()
				_, _ = io.Copy(io.Discard, stdout)
			}
			break
		}
		switch e.Kind {
		case KindStartRender:
			res.Total = e.Total
		case KindFrame:
			res.Frames++
		case KindDone:
			res.Elapsed = e.Elapsed
		}
		if onEvent != nil {
			onEvent(e)
		}
	}

	waitErr := cmd.Wait()

	switch {
	case ctx.Err() != nil:
		return res, fmt.Errorf("worker canceled: %w", ctx.Err())
	case streamErr != nil:
		return res, &WorkerError{Err: fmt.Errorf("protocol: %w", streamErr), Tail: tail.Tail(20)}
	case waitErr != nil:
		return res, &WorkerError{Err: waitErr, Tail: tail.Tail(20)}
	case writeErr != nil:
		return res, &WorkerError{Err: fmt.Errorf("write request: %w", writeErr), Tail: tail.Tail(20)}
	case !reader.Done():
		return res, &WorkerError{Err: ErrNoDone, Tail: tail.Tail(20)}
	}
	return res, nil
}
