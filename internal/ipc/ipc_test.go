package ipc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/phitk/render/internal/model"
)

// The test binary doubles as a render worker when FAKE_WORKER is set.
func TestMain(m *testing.M) {
	if mode := os.Getenv("FAKE_WORKER"); mode != "" {
		os.Exit(fakeWorker(mode))
	}
	os.Exit(m.Run())
}

func fakeWorker(mode string) int {
	em := NewEmitter(os.Stdout)
	switch mode {
	case "ok":
		params, output, err := ReadJob(os.Stdin)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		if out := os.Getenv("FAKE_WORKER_OUT"); out != "" {
			_ = os.WriteFile(out, []byte(params.Path+"|"+output+"|"+params.Config.AudioFormat), 0o644)
		}
		_ = em.StartMixing()
		_ = em.StartRender(3)
		for i := 0; i < 3; i++ {
			_ = em.Frame()
		}
		_ = em.Done(1.5)
		return 0
	case "crash":
		_ = em.StartMixing()
		fmt.Fprintln(os.Stderr, "mixer: click clip is 44100 Hz, mixing at 96000 Hz")
		return 1
	case "nodone":
		_ = em.StartMixing()
		_ = em.StartRender(1)
		_ = em.Frame()
		return 0
	case "garbage":
		fmt.Println(`"Frame"`)
		return 0
	case "hang":
		_ = em.StartMixing()
		time.Sleep(time.Minute)
		return 0
	}
	return 2
}

func supervisor(t *testing.T, mode string) *Supervisor {
	t.Helper()
	t.Setenv("FAKE_WORKER", mode)
	return &Supervisor{Exe: os.Args[0]}
}

func TestEvent_JSON(t *testing.T) {
	tests := []struct {
		event Event
		want  string
	}{
		{StartMixing(), `"StartMixing"`},
		{StartRender(600), `{"StartRender":600}`},
		{Frame(), `"Frame"`},
		{Done(12.5), `{"Done":12.5}`},
	}
	for _, tt := range tests {
		got, err := json.Marshal(tt.event)
		if err != nil {
			t.Fatalf("marshal %s: %v", tt.event.Kind, err)
		}
		if string(got) != tt.want {
			t.Errorf("marshal %s = %s, want %s", tt.event.Kind, got, tt.want)
		}
		var back Event
		if err := json.Unmarshal(got, &back); err != nil {
			t.Fatalf("unmarshal %s: %v", got, err)
		}
		if back != tt.event {
			t.Errorf("unmarshal %s = %+v, want %+v", got, back, tt.event)
		}
	}
}

func TestEvent_UnknownVariant(t *testing.T) {
	for _, in := range []string{`"Paused"`, `{"Progress":3}`, `42`, `{"Done":1,"Frame":2}`} {
		var e Event
		if err := json.Unmarshal([]byte(in), &e); !errors.Is(err, ErrUnknownEvent) {
			t.Errorf("unmarshal %s: expected ErrUnknownEvent, got %v", in, err)
		}
	}
}

func TestEmitter_Order(t *testing.T) {
	var buf bytes.Buffer
	em := NewEmitter(&buf)

	if err := em.Frame(); !errors.Is(err, ErrOrder) {
		t.Fatalf("Frame before StartRender: expected ErrOrder, got %v", err)
	}
	if err := em.StartMixing(); err != nil {
		t.Fatal(err)
	}
	if err := em.StartRender(2); err != nil {
		t.Fatal(err)
	}
	if err := em.Frame(); err != nil {
		t.Fatal(err)
	}
	if err := em.Done(1); !errors.Is(err, ErrOrder) {
		t.Fatalf("Done before all frames: expected ErrOrder, got %v", err)
	}
	if err := em.Frame(); err != nil {
		t.Fatal(err)
	}
	if err := em.Frame(); !errors.Is(err, ErrOrder) {
		t.Fatalf("extra Frame: expected ErrOrder, got %v", err)
	}
	if err := em.Done(1); err != nil {
		t.Fatal(err)
	}
	if err := em.Done(1); !errors.Is(err, ErrOrder) {
		t.Fatalf("second Done: expected ErrOrder, got %v", err)
	}

	want := "\"StartMixing\"\n{\"StartRender\":2}\n\"Frame\"\n\"Frame\"\n{\"Done\":1}\n"
	if buf.String() != want {
		t.Errorf("stream = %q, want %q", buf.String(), want)
	}
}

func TestEmitter_ZeroFrames(t *testing.T) {
	em := NewEmitter(io.Discard)
	if err := em.StartMixing(); err != nil {
		t.Fatal(err)
	}
	if err := em.StartRender(0); err != nil {
		t.Fatal(err)
	}
	if err := em.Done(0); err != nil {
		t.Fatalf("Done after zero frames: %v", err)
	}
}

func TestReader(t *testing.T) {
	var buf bytes.Buffer
	em := NewEmitter(&buf)
	_ = em.StartMixing()
	_ = em.StartRender(600)
	for i := 0; i < 600; i++ {
		_ = em.Frame()
	}
	_ = em.Done(3)

	r := NewReader(&buf)
	count := 0
	for {
		e, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		if e.Kind == KindFrame {
			count++
		}
	}
	if count != 600 || r.Frames() != 600 || !r.Done() {
		t.Errorf("frames=%d reader.Frames=%d done=%v", count, r.Frames(), r.Done())
	}
}

func TestReader_RejectsMisordered(t *testing.T) {
	r := NewReader(strings.NewReader("\"StartMixing\"\n\"Frame\"\n"))
	if _, err := r.Next(); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Next(); !IsProtocolError(err) {
		t.Fatalf("expected protocol error, got %v", err)
	}
}

func TestJobRoundTrip(t *testing.T) {
	params := model.RenderParams{Path: "/charts/a", Config: model.DefaultRenderSettings()}
	var buf bytes.Buffer
	if err := WriteJob(&buf, params, "/out/a.mov"); err != nil {
		t.Fatal(err)
	}
	if n := strings.Count(buf.String(), "\n"); n != 2 {
		t.Fatalf("expected two lines, got %d", n)
	}
	got, output, err := ReadJob(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if got.Path != params.Path || output != "/out/a.mov" || got.Config.FPS != params.Config.FPS {
		t.Errorf("round trip mismatch: %+v %q", got, output)
	}
}

func TestReadJob_Truncated(t *testing.T) {
	if _, _, err := ReadJob(strings.NewReader(`{"path":"x"}` + "\n")); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("expected ErrUnexpectedEOF, got %v", err)
	}
}

func TestSupervisor_Success(t *testing.T) {
	s := supervisor(t, "ok")
	record := filepath.Join(t.TempDir(), "record")
	t.Setenv("FAKE_WORKER_OUT", record)

	params := model.RenderParams{Path: "/charts/song", Config: model.DefaultRenderSettings()}
	params.Config.AudioFormat = "flac"

	var kinds []EventKind
	res, err := s.Run(context.Background(), params, "/out/song.mov", func(e Event) { kinds = append(kinds, e.Kind) })
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Total != 3 || res.Frames != 3 || res.Elapsed != 1.5 {
		t.Errorf("unexpected result %+v", res)
	}
	if len(kinds) != 6 || kinds[0] != KindStartMixing || kinds[5] != KindDone {
		t.Errorf("unexpected events %v", kinds)
	}

	data, _ := os.ReadFile(record)
	if string(data) != "/charts/song|/out/song.mov|flac" {
		t.Errorf("worker received %q", data)
	}
}

func TestSupervisor_Crash(t *testing.T) {
	s := supervisor(t, "crash")
	_, err := s.Run(context.Background(), model.RenderParams{Path: "x"}, "o", nil)
	var werr *WorkerError
	if !errors.As(err, &werr) {
		t.Fatalf("expected WorkerError, got %v", err)
	}
	if !strings.Contains(werr.Tail, "44100 Hz") {
		t.Errorf("tail should carry the diagnostic: %q", werr.Tail)
	}
}

func TestSupervisor_NoDone(t *testing.T) {
	s := supervisor(t, "nodone")
	_, err := s.Run(context.Background(), model.RenderParams{Path: "x"}, "o", nil)
	if !errors.Is(err, ErrNoDone) {
		t.Fatalf("expected ErrNoDone, got %v", err)
	}
}

func TestSupervisor_ProtocolViolation(t *testing.T) {
	s := supervisor(t, "garbage")
	_, err := s.Run(context.Background(), model.RenderParams{Path: "x"}, "o", nil)
	if !IsProtocolError(err) {
		t.Fatalf("expected protocol error, got %v", err)
	}
}

func TestSupervisor_Cancel(t *testing.T) {
	s := supervisor(t, "hang")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	start := time.Now()
	_, err := s.Run(ctx, model.RenderParams{Path: "x"}, "o", func(e Event) {
		if e.Kind == KindStartMixing {
			cancel()
		}
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if time.Since(start) > 30*time.Second {
		t.Error("worker was not killed promptly")
	}
}
