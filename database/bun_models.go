package database

import (
	"time"

	"github.com/drummonds/pdfextract/result"
	"github.com/oklog/ulid/v2"
	"github.com/uptrace/bun"
)

// BunJob represents the jobs table for Bun ORM
type BunJob struct {
	bun.BaseModel `bun:"table:jobs,alias:j"`

	ID          string     `bun:"id,pk"` // ULID as string
	Type        string     `bun:"type,notnull"`
	Status      string     `bun:"status,default:'pending'"`
	SourcePath  string     `bun:"source_path,default:''"`
	Progress    int        `bun:"progress,default:0"`
	CurrentStep string     `bun:"current_step,default:''"`
	TotalSteps  int        `bun:"total_steps,default:0"`
	Message     string     `bun:"message,default:''"`
	Error       string     `bun:"error,nullzero"`
	Result      string     `bun:"result,nullzero"`
	CreatedAt   time.Time  `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt   time.Time  `bun:"updated_at,notnull,default:current_timestamp"`
	StartedAt   *time.Time `bun:"started_at,nullzero"`
	CompletedAt *time.Time `bun:"completed_at,nullzero"`
}

// ToJob converts BunJob to Job
func (bj *BunJob) ToJob() (*Job, error) {
	parsedULID, err := ulid.Parse(bj.ID)
	if err != nil {
		return nil, err
	}

	return &Job{
		ID:          parsedULID,
		Type:        JobType(bj.Type),
		Status:      JobStatus(bj.Status),
		SourcePath:  bj.SourcePath,
		Progress:    bj.Progress,
		CurrentStep: bj.CurrentStep,
		TotalSteps:  bj.TotalSteps,
		Message:     bj.Message,
		Error:       bj.Error,
		Result:      bj.Result,
		CreatedAt:   bj.CreatedAt,
		UpdatedAt:   bj.UpdatedAt,
		StartedAt:   bj.StartedAt,
		CompletedAt: bj.CompletedAt,
	}, nil
}

// FromJob converts Job to BunJob
func FromJob(job *Job) *BunJob {
	return &BunJob{
		ID:          job.ID.String(),
		Type:        string(job.Type),
		Status:      string(job.Status),
		SourcePath:  job.SourcePath,
		Progress:    job.Progress,
		CurrentStep: job.CurrentStep,
		TotalSteps:  job.TotalSteps,
		Message:     job.Message,
		Error:       job.Error,
		Result:      job.Result,
		CreatedAt:   job.CreatedAt,
		UpdatedAt:   job.UpdatedAt,
		StartedAt:   job.StartedAt,
		CompletedAt: job.CompletedAt,
	}
}

// BunPageRecord represents the page_records table for Bun ORM
type BunPageRecord struct {
	bun.BaseModel `bun:"table:page_records,alias:pr"`

	ID        int64     `bun:"id,pk,autoincrement"`
	JobID     string    `bun:"job_id,notnull"`
	Page      int       `bun:"page,notnull"`
	Text      string    `bun:"text,notnull,default:''"`
	Status    string    `bun:"status,notnull"`
	Error     string    `bun:"error,nullzero"`
	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp"`
}

// ToPageRecord converts BunPageRecord to result.PageRecord
func (bpr *BunPageRecord) ToPageRecord() result.PageRecord {
	return result.PageRecord{
		Page:   bpr.Page,
		Text:   bpr.Text,
		Status: result.Status(bpr.Status),
		Error:  bpr.Error,
	}
}

// FromPageRecord converts a page record of a job to BunPageRecord
func FromPageRecord(jobID ulid.ULID, record result.PageRecord) *BunPageRecord {
	return &BunPageRecord{
		JobID:     jobID.String(),
		Page:      record.Page,
		Text:      record.Text,
		Status:    string(record.Status),
		Error:     record.Error,
		CreatedAt: time.Now(),
	}
}
