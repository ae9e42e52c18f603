package websocket

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/phitk/render/internal/model"
)

func startHub(t *testing.T) *Hub {
	t.Helper()
	h := NewHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)
	t.Cleanup(cancel)
	return h
}

func subscribe(h *Hub, jobID uint32) *Client {
	c := &Client{JobID: jobID, Send: make(chan []byte, 16)}
	h.Register(c)
	return c
}

func receive(t *testing.T, c *Client) map[string]any {
	t.Helper()
	select {
	case data := <-c.Send:
		var m map[string]any
		if err := json.Unmarshal(data, &m); err != nil {
			t.Fatalf("bad message %s: %v", data, err)
		}
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
		return nil
	}
}

func expectNone(t *testing.T, c *Client) {
	t.Helper()
	select {
	case data := <-c.Send:
		t.Fatalf("unexpected message %s", data)
	case <-time.After(50 * time.Millisecond):
	}
}

func runningJob(id uint32, frame uint64) *model.Job {
	return &model.Job{
		ID:          id,
		Status:      model.JobStatusRunning,
		Stage:       model.StageRendering,
		Frame:       frame,
		TotalFrames: 100,
	}
}

func TestJobUpdated_RoutesByJob(t *testing.T) {
	h := startHub(t)
	one := subscribe(h, 1)
	two := subscribe(h, 2)
	all := subscribe(h, AllJobs)

	h.JobUpdated(runningJob(1, 10))

	m := receive(t, one)
	if m["type"] != model.WSMessageTypeProgress || m["jobId"] != float64(1) || m["frame"] != float64(10) {
		t.Errorf("unexpected progress message %v", m)
	}
	status := m["status"].(map[string]any)
	if status["type"] != model.TaskStatusRendering {
		t.Errorf("unexpected status %v", status)
	}
	receive(t, all)
	expectNone(t, two)
}

func TestJobUpdated_ThrottlesFrames(t *testing.T) {
	h := startHub(t)
	h.SetProgressRate(0.001)
	c := subscribe(h, 7)

	for i := uint64(1); i <= 20; i++ {
		h.JobUpdated(runningJob(7, i))
	}
	receive(t, c)
	expectNone(t, c)

	// A stage change is never throttled.
	job := runningJob(7, 0)
	job.Stage = model.StageMixing
	h.JobUpdated(job)
	m := receive(t, c)
	if m["status"].(map[string]any)["type"] != model.TaskStatusMixing {
		t.Errorf("expected mixing status, got %v", m)
	}
}

func TestJobFinished(t *testing.T) {
	h := startHub(t)
	c := subscribe(h, 3)

	msg := "encoder exploded"
	h.JobFinished(&model.Job{ID: 3, Status: model.JobStatusFailed, Error: &msg})
	m := receive(t, c)
	errBody := m["error"].(map[string]any)
	if m["type"] != model.WSMessageTypeError || errBody["code"] != CodeRenderFailed || errBody["message"] != msg {
		t.Errorf("unexpected error message %v", m)
	}

	h.JobFinished(&model.Job{ID: 3, Status: model.JobStatusCanceled})
	m = receive(t, c)
	if m["error"].(map[string]any)["code"] != CodeCanceled {
		t.Errorf("unexpected cancel message %v", m)
	}

	h.JobFinished(&model.Job{ID: 3, Status: model.JobStatusSucceeded, Output: "out.mov", Duration: 2})
	m = receive(t, c)
	result := m["result"].(map[string]any)
	if m["type"] != model.WSMessageTypeComplete || result["output"] != "out.mov" {
		t.Errorf("unexpected complete message %v", m)
	}
}

func TestUnregisterClosesSend(t *testing.T) {
	h := startHub(t)
	c := subscribe(h, 5)
	h.Unregister(c)

	select {
	case _, ok := <-c.Send:
		if ok {
			t.Error("expected closed channel")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("send channel not closed")
	}
}
