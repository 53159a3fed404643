package model

import "time"

// JobStatus is the state of a background processing job.
type JobStatus string

const (
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
)

// FileResult is the per-file outcome inside a batch job.
type FileResult struct {
	Filename    string `json:"filename"`
	FileHash    string `json:"file_hash,omitempty"`
	Success     bool   `json:"success"`
	Duplicate   bool   `json:"duplicate,omitempty"`
	StudentID   uint   `json:"student_id,omitempty"`
	ScoresCount int    `json:"scores_count,omitempty"`
	Error       string `json:"error,omitempty"`
	NeedsReview bool   `json:"needs_review,omitempty"`
}

// ProcessingJob tracks a batch upload processed in the background. It lives
// in the job store (Redis when configured), not in Postgres.
type ProcessingJob struct {
	JobID    string    `json:"job_id"`
	Status   JobStatus `json:"status"`
	Progress int       `json:"progress"` // 0-100

	Total     int          `json:"total"`
	Completed int          `json:"completed"`
	Failed    int          `json:"failed"`
	Results   []FileResult `json:"results,omitempty"`

	Error string `json:"error,omitempty"`

	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// Redis key patterns for processing jobs.
const (
	// RedisKeyJobState stores the full job state as JSON.
	// Usage: fmt.Sprintf(RedisKeyJobState, jobID)
	RedisKeyJobState = "job:state:%s"
)
