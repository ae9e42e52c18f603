package model

// Job status
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCanceled  JobStatus = "canceled"
)

// Terminal reports whether no further transition is possible.
func (s JobStatus) Terminal() bool {
	return s == JobStatusSucceeded || s == JobStatusFailed || s == JobStatusCanceled
}

// Stage is the sub-state of a running job, driven by worker events.
type Stage string

const (
	StageLoading   Stage = "loading"
	StageMixing    Stage = "mixing"
	StageRendering Stage = "rendering"
)

// Bitrate control modes
type BitrateControl string

const (
	BitrateControlCRF BitrateControl = "CRF"
	BitrateControlCBR BitrateControl = "CBR"
)

// Video codec families
const (
	CodecH264 = "h264"
	CodecHEVC = "hevc"
	CodecAV1  = "av1"
)

// Output containers
const (
	ContainerMOV = "mov"
	ContainerMP4 = "mp4"
	ContainerMKV = "mkv"
)

// Task view status types, as shown to clients
const (
	TaskStatusPending   = "pending"
	TaskStatusLoading   = "loading"
	TaskStatusMixing    = "mixing"
	TaskStatusRendering = "rendering"
	TaskStatusDone      = "done"
	TaskStatusCanceled  = "canceled"
	TaskStatusFailed    = "failed"
)
