package database

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// JobStatus represents the status of a job
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// JobType represents where a job came from
type JobType string

const (
	JobTypeExtraction JobType = "extraction" // uploaded through the API
	JobTypeIngestion  JobType = "ingestion"  // picked up from the ingress folder
)

// Job tracks the extraction of one document
type Job struct {
	ID          ulid.ULID  `json:"id"`
	Type        JobType    `json:"type"`
	Status      JobStatus  `json:"status"`
	SourcePath  string     `json:"sourcePath"`
	Progress    int        `json:"progress"`         // 0-100
	CurrentStep string     `json:"currentStep"`      // Human-readable current step
	TotalSteps  int        `json:"totalSteps"`       // Pages in the document
	Message     string     `json:"message"`          // Status message
	Error       string     `json:"error,omitempty"`  // Error message if failed
	Result      string     `json:"result,omitempty"` // JSON encoded JobSummary
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// JobSummary is stored as the result of a completed job
type JobSummary struct {
	PagesTotal     int    `json:"pagesTotal"`
	PagesSucceeded int    `json:"pagesSucceeded"`
	PagesFailed    int    `json:"pagesFailed"`
	OutputPath     string `json:"outputPath,omitempty"`
}

// IsFinished reports whether the job reached a terminal status
func (j *Job) IsFinished() bool {
	switch j.Status {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}
