package model

import (
	"path/filepath"
	"strings"
	"time"
)

// RenderParams is what a client submits and what the worker reads as its
// first request line.
type RenderParams struct {
	Path   string         `json:"path" validate:"required"`
	Info   ChartInfo      `json:"info"`
	Config RenderSettings `json:"config"`
}

// Job is the orchestrator's record of one render request.
type Job struct {
	ID          uint32         `json:"id"`
	Name        string         `json:"name"`
	Path        string         `json:"path"`
	Output      string         `json:"output"`
	Info        ChartInfo      `json:"info"`
	Settings    RenderSettings `json:"settings"`
	Status      JobStatus      `json:"status"`
	Stage       Stage          `json:"stage,omitempty"`
	Frame       uint64         `json:"frame"`
	TotalFrames uint64         `json:"totalFrames"`
	FPS         float64        `json:"fps"`
	Estimate    float64        `json:"estimate"`
	Duration    float64        `json:"duration"`
	Error       *string        `json:"error,omitempty"`
	OutputURL   string         `json:"outputUrl,omitempty"`
	CreatedAt   time.Time      `json:"createdAt"`
	StartedAt   *time.Time     `json:"startedAt,omitempty"`
	CompletedAt *time.Time     `json:"completedAt,omitempty"`

	// CancelRequested is set when a cancel arrives while the job is running, so
	// that the worker's exit is recorded as canceled rather than failed.
	CancelRequested bool `json:"cancelRequested,omitempty"`
}

// JobName derives a display name from the chart info or, failing that, the path.
func JobName(info ChartInfo, path string) string {
	if name := strings.TrimSpace(info.Name); name != "" {
		return name
	}
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Progress returns the fraction of frames written, 0 until rendering starts.
func (j *Job) Progress() float64 {
	if j.TotalFrames == 0 {
		return 0
	}
	return float64(j.Frame) / float64(j.TotalFrames)
}

// TaskStatus is the tagged status shown to clients.
type TaskStatus struct {
	Type     string   `json:"type"`
	Progress *float64 `json:"progress,omitempty"`
	FPS      *float64 `json:"fps,omitempty"`
	Estimate *float64 `json:"estimate,omitempty"`
	Duration *float64 `json:"duration,omitempty"`
	Output   string   `json:"output,omitempty"`
	Error    string   `json:"error,omitempty"`
}

// TaskView is the immutable snapshot returned by list and status queries.
type TaskView struct {
	ID          uint32     `json:"id"`
	Name        string     `json:"name"`
	Output      string     `json:"output"`
	OutputURL   string     `json:"outputUrl,omitempty"`
	Path        string     `json:"path"`
	Status      TaskStatus `json:"status"`
	CreatedAt   time.Time  `json:"createdAt"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// View builds a TaskView snapshot of the job.
func (j *Job) View() TaskView {
	v := TaskView{
		ID:          j.ID,
		Name:        j.Name,
		Output:      j.Output,
		OutputURL:   j.OutputURL,
		Path:        j.Path,
		CreatedAt:   j.CreatedAt,
		StartedAt:   j.StartedAt,
		CompletedAt: j.CompletedAt,
	}

	switch j.Status {
	case JobStatusQueued:
		v.Status.Type = TaskStatusPending
	case JobStatusRunning:
		switch j.Stage {
		case StageMixing:
			v.Status.Type = TaskStatusMixing
		case StageRendering:
			progress, fps, estimate := j.Progress(), j.FPS, j.Estimate
			v.Status = TaskStatus{
				Type:     TaskStatusRendering,
				Progress: &progress,
				FPS:      &fps,
				Estimate: &estimate,
			}
		default:
			v.Status.Type = TaskStatusLoading
		}
	case JobStatusSucceeded:
		duration := j.Duration
		v.Status = TaskStatus{Type: TaskStatusDone, Duration: &duration, Output: j.Output}
	case JobStatusCanceled:
		v.Status.Type = TaskStatusCanceled
	case JobStatusFailed:
		v.Status.Type = TaskStatusFailed
		if j.Error != nil {
			v.Status.Error = *j.Error
		}
	}

	return v
}

// Clone returns a copy safe to hand outside the orchestrator's lock.
func (j *Job) Clone() *Job {
	out := *j
	out.Settings = j.Settings.Clone()
	if j.Error != nil {
		e := *j.Error
		out.Error = &e
	}
	if j.Info.Tip != nil {
		t := *j.Info.Tip
		out.Info.Tip = &t
	}
	return &out
}

// BatchItem pairs a chart path with a preset name.
type BatchItem struct {
	Path   string `json:"path" validate:"required"`
	Preset string `json:"preset"`
}

// BatchRequest is the body of a batch submission.
type BatchRequest struct {
	Items []BatchItem `json:"items" validate:"required,min=1,dive"`
}

// BatchResponse lists the jobs created by a batch submission.
type BatchResponse struct {
	Tasks []TaskView `json:"tasks"`
}

// CancelResponse is returned by the cancel endpoint.
type CancelResponse struct {
	Success bool     `json:"success"`
	Task    TaskView `json:"task"`
}
