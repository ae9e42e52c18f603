package ipc

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/phitk/render/internal/model"
)

// maxLine bounds one protocol line; request lines carry full settings.
const maxLine = 4 << 20

// WriteJob writes the request: the params line, then the output path line.
func WriteJob(w io.Writer, params model.RenderParams, output string) error {
	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)
	if err := enc.Encode(params); err != nil {
		return fmt.Errorf("encode params: %w", err)
	}
	if err := enc.Encode(output); err != nil {
		return fmt.Errorf("encode output path: %w", err)
	}
	return bw.Flush()
}

// ReadJob reads the two request lines written by WriteJob.
func ReadJob(r io.Reader) (model.RenderParams, string, error) {
	var params model.RenderParams
	var output string

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLine)

	if !sc.Scan() {
		return params, "", fmt.Errorf("read params: %w", scanErr(sc))
	}
	if err := json.Unmarshal(sc.Bytes(), &params); err != nil {
		return params, "", fmt.Errorf("decode params: %w", err)
	}
	if !sc.Scan() {
		return params, "", fmt.Errorf("read output path: %w", scanErr(sc))
	}
	if err := json.Unmarshal(sc.Bytes(), &output); err != nil {
		return params, "", fmt.Errorf("decode output path: %w", err)
	}
	return params, output, nil
}

func scanErr(sc *bufio.Scanner) error {
	if err := sc.Err(); err != nil {
		return err
	}
	return io.ErrUnexpectedEOF
}

// Emitter writes worker events, one per line, refusing out-of-order ones.
type Emitter struct {
	mu  sync.Mutex
	w   *bufio.Writer
	seq sequence
}

// NewEmitter returns an Emitter writing to w.
func NewEmitter(w io.Writer) *Emitter {
	return &Emitter{w: bufio.NewWriter(w)}
}

// Emit writes e and flushes it so the orchestrator sees progress live.
func (em *Emitter) Emit(e Event) error {
	em.mu.Lock()
	defer em.mu.Unlock()

	if err := em.seq.advance(e); err != nil {
		return err
	}
	line, err := json.Marshal(e)
	if err != nil {
		return err
	}
	if _, err := em.w.Write(append(line, '\n')); err != nil {
		return err
	}
	return em.w.Flush()
}

func (em *Emitter) StartMixing() error { return em.Emit(StartMixing()) }
func (em *Emitter) StartRender(total uint64) error { return em.Emit(StartRender(total)) }
func (em *Emitter) Frame() error { return em.Emit(Frame()) }
func (em *Emitter) Done(elapsed float64) error { return em.Emit(Done(elapsed)) }

// Reader decodes and validates a worker's event stream.
type Reader struct {
	sc  *bufio.Scanner
	seq sequence
}

// NewReader returns a Reader over r.
func NewReader(r io.Reader) *Reader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 4096), maxLine)
	return &Reader{sc: sc}
}

// Next returns the next event, or io.EOF when the stream ends.
func (r *Reader) Next() (Event, error) {
	for r.sc.Scan() {
		line := r.sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var e Event
		if err := json.Unmarshal(line, &e); err != nil {
			return Event{}, err
		}
		if err := r.seq.advance(e); err != nil {
			return Event{}, err
		}
		return e, nil
	}
	if err := r.sc.Err(); err != nil {
		return Event{}, err
	}
	return Event{}, io.EOF
}

// Done reports whether the terminal Done event has been read.
func (r *Reader) Done() bool { return r.seq.last == KindDone }

// Frames is the number of Frame events read so far.
func (r *Reader) Frames() uint64 { return r.seq.frames }

// IsProtocolError reports whether err is a malformed or misordered event.
func IsProtocolError(err error) bool {
	return errors.Is(err, ErrOrder) || errors.Is(err, ErrUnknownEvent)
}
