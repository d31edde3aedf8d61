package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/drummonds/pdfextract/database"
	"github.com/drummonds/pdfextract/result"
	"github.com/oklog/ulid/v2"
)

// ErrQueueFull is returned by Submit when the worker cannot take more documents
var ErrQueueFull = errors.New("extraction queue is full")

// Task is one document waiting for extraction
type Task struct {
	JobID  ulid.ULID
	Path   string
	Source database.JobType
}

// Worker owns the pipeline and processes queued documents one at a time, so the engine
// only ever sees a single caller.
type Worker struct {
	pipeline    *Pipeline
	db          database.Repository
	resultsPath string
	logger      *slog.Logger
	queue       chan Task
	onDone      func(Task, error)
}

// NewWorker creates a worker with a queue of queueSize pending tasks
func NewWorker(pipeline *Pipeline, db database.Repository, resultsPath string, queueSize int, logger *slog.Logger) *Worker {
	if queueSize < 1 {
		queueSize = 1
	}
	return &Worker{
		pipeline:    pipeline,
		db:          db,
		resultsPath: resultsPath,
		logger:      logger,
		queue:       make(chan Task, queueSize),
	}
}

// OnDone registers a callback run after every task; set it before Run
func (w *Worker) OnDone(fn func(Task, error)) {
	w.onDone = fn
}

// Submit queues a task without blocking
func (w *Worker) Submit(task Task) error {
	select {
	case w.queue <- task:
		w.logger.Debug("Queued document", "jobID", task.JobID, "path", task.Path)
		return nil
	default:
		return ErrQueueFull
	}
}

// QueueLength is the number of tasks waiting
func (w *Worker) QueueLength() int {
	return len(w.queue)
}

// Run processes tasks until the context is cancelled
func (w *Worker) Run(ctx context.Context) {
	w.logger.Info("Extraction worker started")
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Extraction worker stopped")
			return
		case task := <-w.queue:
			w.process(ctx, task)
		}
	}
}

func (w *Worker) process(ctx context.Context, task Task) {
	var err error
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("Panic recovered in extraction job", "panic", r, "jobID", task.JobID)
			err = fmt.Errorf("panic: %v", r)
			w.db.UpdateJobError(task.JobID, fmt.Sprintf("Panic: %v", r))
		}
		if w.onDone != nil {
			w.onDone(task, err)
		}
	}()

	err = w.extract(ctx, task)
	if err != nil {
		w.logger.Error("Extraction job failed", "jobID", task.JobID, "path", task.Path, "error", err)
		if dbErr := w.db.UpdateJobError(task.JobID, err.Error()); dbErr != nil {
			w.logger.Error("Failed to update job error", "jobID", task.JobID, "error", dbErr)
		}
	}
}

func (w *Worker) extract(ctx context.Context, task Task) error {
	if err := w.db.UpdateJobStatus(task.JobID, database.JobStatusRunning, "Extracting text"); err != nil {
		w.logger.Error("Failed to update job status", "error", err)
	}

	var records []result.PageRecord
	switch ClassifyInput(task.Path) {
	case InputPDF:
		total, err := w.pipeline.Rasterizer.PageCount(task.Path)
		if err == nil {
			w.db.UpdateJobTotalSteps(task.JobID, total)
		}
		records, err = w.pipeline.ProcessPDFWithProgress(ctx, task.Path, func(done int) {
			progress := 0
			if total > 0 {
				progress = min(done*100/total, 99)
			}
			if err := w.db.UpdateJobProgress(task.JobID, progress, fmt.Sprintf("Page %d of %d", done, total)); err != nil {
				w.logger.Error("Failed to update job progress", "error", err)
			}
		})
		if err != nil {
			return err
		}
	case InputImage:
		w.db.UpdateJobTotalSteps(task.JobID, 1)
		text, err := w.pipeline.ProcessImage(ctx, task.Path)
		if err != nil {
			return err
		}
		records = []result.PageRecord{result.Success(1, text)}
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedInput, filepath.Ext(task.Path))
	}

	if err := w.db.SavePageRecords(task.JobID, records); err != nil {
		return fmt.Errorf("failed to store page records: %w", err)
	}

	outputPath := ""
	if w.resultsPath != "" {
		outputPath = filepath.Join(w.resultsPath, task.JobID.String()+".json")
		if err := result.Save(records, outputPath); err != nil {
			return err
		}
	}

	succeeded, failed := result.Summary(records)
	summary, err := json.Marshal(database.JobSummary{
		PagesTotal:     len(records),
		PagesSucceeded: succeeded,
		PagesFailed:    failed,
		OutputPath:     outputPath,
	})
	if err != nil {
		return err
	}
	if err := w.db.CompleteJob(task.JobID, string(summary)); err != nil {
		return fmt.Errorf("failed to complete job: %w", err)
	}
	w.logger.Info("Extraction job completed", "jobID", task.JobID, "pages", len(records), "failed", failed)
	return nil
}
