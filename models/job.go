package models

import "time"

// JobStatus is the lifecycle state of one image sync run over one input file.
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// IsTerminal reports whether the job has finished and its artifact is gone.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// Two-state text shown by the legacy status page.
const (
	ProgressInProgress = "in progress"
	ProgressCompleted  = "completed"
)

// Job is one accepted input file and everything known about its run.
type Job struct {
	ID              string      `json:"id"`
	Filename        string      `json:"filename"`
	SubmittedBy     string      `json:"submitted_by,omitempty"`
	ArtifactKey     string      `json:"artifact_key"`
	Status          JobStatus   `json:"status"`
	Error           string      `json:"error,omitempty"`
	CancelRequested bool        `json:"cancel_requested,omitempty"`
	TotalSKUs       int         `json:"total_skus"`
	DoneSKUs        int         `json:"done_skus"`
	CreatedAt       time.Time   `json:"created_at"`
	StartedAt       *time.Time  `json:"started_at,omitempty"`
	CompletedAt     *time.Time  `json:"completed_at,omitempty"`
	HeartbeatAt     *time.Time  `json:"heartbeat_at,omitempty"`
	Summary         *JobSummary `json:"summary,omitempty"`
}

// ProgressText collapses the status into "in progress" or "completed".
func (j *Job) ProgressText() string {
	if j.Status.IsTerminal() {
		return ProgressCompleted
	}
	return ProgressInProgress
}

// LeaseHeld reports whether a running job's worker heartbeat is younger
// than ttl at now.
func (j *Job) LeaseHeld(now time.Time, ttl time.Duration) bool {
	if j.Status != JobStatusRunning || j.HeartbeatAt == nil {
		return false
	}
	return now.Sub(*j.HeartbeatAt) < ttl
}

// Clone returns a copy that shares no mutable state with j.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	c := *j
	if j.StartedAt != nil {
		t := *j.StartedAt
		c.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	if j.HeartbeatAt != nil {
		t := *j.HeartbeatAt
		c.HeartbeatAt = &t
	}
	if j.Summary != nil {
		c.Summary = j.Summary.Clone()
	}
	return &c
}
