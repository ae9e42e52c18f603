// Package ffmpeg drives the external ffmpeg binary: locating it, streaming
// raw audio and video into it and decoding audio out of it.
package ffmpeg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
)

const tailLines = 20

// Process is a running ffmpeg reading from a stdin pipe.
type Process struct {
	stage  string
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stderr *TailBuffer

	closeOnce sync.Once
	closeErr  error
}

// Start launches bin with args. Stdout goes to stdout when non-nil and is
// discarded otherwise. The process is killed when ctx is canceled.
func Start(ctx context.Context, stage, bin string, args []string, stdout io.Writer) (*Process, error) {
	cmd := exec.CommandContext(ctx, bin, args...)
	hideWindow(cmd)

	stderr := NewTailBuffer(DefaultTailSize)
	cmd.Stderr = stderr
	cmd.Stdout = stdout

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg %s: stdin pipe: %w", stage, err)
	}

	slog.Debug("starting ffmpeg", "stage", stage, "command", bin+" "+strings.Join(args, " "))
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("ffmpeg %s: start: %w", stage, err)
	}

	return &Process{stage: stage, cmd: cmd, stdin: stdin, stderr: stderr}, nil
}

// Write streams p to ffmpeg's stdin. A write after ffmpeg exited reports the
// process failure rather than a bare broken pipe.
func (p *Process) Write(b []byte) (int, error) {
	n, err := p.stdin.Write(b)
	if err != nil {
		if waitErr := p.Close(); waitErr != nil {
			return n, waitErr
		}
		return n, fmt.Errorf("ffmpeg %s: write: %w", p.stage, err)
	}
	return n, nil
}

// Close ends the input stream and waits for ffmpeg to exit.
func (p *Process) Close() error {
	p.closeOnce.Do(func() {
		_ = p.stdin.Close()
		if err := p.cmd.Wait(); err != nil {
			p.closeErr = &ExitError{Stage: p.stage, Err: err, Tail: p.stderr.Tail(tailLines)}
		}
	})
	return p.closeErr
}

// Stderr returns the retained stderr output.
func (p *Process) Stderr() string {
	return p.stderr.String()
}

// Output runs bin to completion and returns its combined output.
func Output(ctx context.Context, bin string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, bin, args...)
	hideWindow(cmd)

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = errors.Join(err, ctxErr)
		}
		tail := NewTailBuffer(4096)
		_, _ = tail.Write(out.Bytes())
		return out.Bytes(), &ExitError{Stage: "run", Err: err, Tail: tail.Tail(tailLines)}
	}
	return out.Bytes(), nil
}
