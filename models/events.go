package models

import "time"

// JobFinishedEvent is published to SNS when a job reaches a terminal state.
type JobFinishedEvent struct {
	EventType      string    `json:"event_type"`
	JobID          string    `json:"job_id"`
	Filename       string    `json:"filename"`
	Status         JobStatus `json:"status"`
	TotalRows      int       `json:"total_rows"`
	Processed      int       `json:"processed"`
	Skipped        int       `json:"skipped"`
	Failed         int       `json:"failed"`
	ImagesUploaded int       `json:"images_uploaded"`
	Error          string    `json:"error,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// NewJobFinishedEvent builds the event payload from a finished job.
func NewJobFinishedEvent(job *Job) JobFinishedEvent {
	ev := JobFinishedEvent{
		EventType: "image_sync_job_finished",
		JobID:     job.ID,
		Filename:  job.Filename,
		Status:    job.Status,
		Error:     job.Error,
		Timestamp: time.Now().UTC(),
	}
	if s := job.Summary; s != nil {
		ev.TotalRows = s.TotalRows
		ev.Processed = s.Processed
		ev.Skipped = s.Skipped
		ev.Failed = s.Failed
		ev.ImagesUploaded = s.ImagesUploaded
	}
	return ev
}
