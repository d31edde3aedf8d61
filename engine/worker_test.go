package engine

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/drummonds/pdfextract/config"
	"github.com/drummonds/pdfextract/database"
	"github.com/drummonds/pdfextract/result"
)

// runWorker starts the worker and returns a channel receiving every finished task
func runWorker(t *testing.T, worker *Worker) <-chan error {
	t.Helper()
	done := make(chan error, 16)
	worker.OnDone(func(task Task, err error) { done <- err })
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go worker.Run(ctx)
	return done
}

func waitDone(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(10 * time.Second):
		t.Fatal("Timed out waiting for the worker")
		return nil
	}
}

func TestWorker_ProcessesPDF(t *testing.T) {
	dir := t.TempDir()
	db := newTestRepository(t)
	pdfPath := writeTestPDF(t, dir, "three.pdf", 3)
	resultsPath := filepath.Join(dir, "results")

	rasterizer, _ := newFakeRasterizer(nil, nil, nil)
	pipeline := NewPipeline(rasterizer, &stubExtractor{text: "X", failCalls: map[int]bool{3: true}}, nil, testLogger())
	worker := NewWorker(pipeline, db, resultsPath, 4, testLogger())
	done := runWorker(t, worker)

	job, err := db.CreateJob(database.JobTypeExtraction, pdfPath, "Queued")
	if err != nil {
		t.Fatalf("Failed to create job: %v", err)
	}
	if err := worker.Submit(Task{JobID: job.ID, Path: pdfPath, Source: database.JobTypeExtraction}); err != nil {
		t.Fatalf("Failed to submit task: %v", err)
	}
	if err := waitDone(t, done); err != nil {
		t.Fatalf("Task failed: %v", err)
	}

	finished, err := db.GetJob(job.ID)
	if err != nil {
		t.Fatalf("Failed to get job: %v", err)
	}
	if finished.Status != database.JobStatusCompleted {
		t.Fatalf("Expected completed job, got %s (%s)", finished.Status, finished.Error)
	}
	if finished.TotalSteps != 3 {
		t.Errorf("Expected 3 total steps from the page count, got %d", finished.TotalSteps)
	}

	var summary database.JobSummary
	if err := json.Unmarshal([]byte(finished.Result), &summary); err != nil {
		t.Fatalf("Failed to decode job summary: %v", err)
	}
	if summary.PagesTotal != 3 || summary.PagesSucceeded != 2 || summary.PagesFailed != 1 {
		t.Errorf("Unexpected summary: %+v", summary)
	}

	records, err := db.GetPageRecords(job.ID)
	if err != nil {
		t.Fatalf("Failed to get page records: %v", err)
	}
	if len(records) != 3 || records[2].Status != result.StatusError {
		t.Errorf("Unexpected stored records: %+v", records)
	}

	data, err := os.ReadFile(filepath.Join(resultsPath, job.ID.String()+".json"))
	if err != nil {
		t.Fatalf("Expected results file: %v", err)
	}
	var saved []result.PageRecord
	if err := json.Unmarshal(data, &saved); err != nil {
		t.Fatalf("Failed to decode results file: %v", err)
	}
	if len(saved) != 3 {
		t.Errorf("Expected 3 saved records, got %d", len(saved))
	}
}

func TestWorker_ProcessesImage(t *testing.T) {
	dir := t.TempDir()
	db := newTestRepository(t)
	imagePath := filepath.Join(dir, "scan.png")
	if err := os.WriteFile(imagePath, pngBytes(t), 0644); err != nil {
		t.Fatalf("Failed to write image: %v", err)
	}

	rasterizer, _ := newFakeRasterizer()
	pipeline := NewPipeline(rasterizer, &stubExtractor{text: "hello"}, nil, testLogger())
	worker := NewWorker(pipeline, db, "", 4, testLogger())
	done := runWorker(t, worker)

	job, err := db.CreateJob(database.JobTypeExtraction, imagePath, "Queued")
	if err != nil {
		t.Fatalf("Failed to create job: %v", err)
	}
	if err := worker.Submit(Task{JobID: job.ID, Path: imagePath, Source: database.JobTypeExtraction}); err != nil {
		t.Fatalf("Failed to submit task: %v", err)
	}
	if err := waitDone(t, done); err != nil {
		t.Fatalf("Task failed: %v", err)
	}

	records, err := db.GetPageRecords(job.ID)
	if err != nil {
		t.Fatalf("Failed to get page records: %v", err)
	}
	if len(records) != 1 || records[0].Text != "hello" || records[0].Page != 1 {
		t.Errorf("Unexpected image records: %+v", records)
	}
}

func TestWorker_DocumentFailure(t *testing.T) {
	db := newTestRepository(t)
	openErr := errors.New("cannot open broken document")
	rasterizer := NewRasterizer(&fakeRenderer{openErr: openErr}, config.Default(), testLogger())
	pipeline := NewPipeline(rasterizer, &stubExtractor{text: "X"}, nil, testLogger())
	worker := NewWorker(pipeline, db, t.TempDir(), 4, testLogger())
	done := runWorker(t, worker)

	job, err := db.CreateJob(database.JobTypeExtraction, "/missing/broken.pdf", "Queued")
	if err != nil {
		t.Fatalf("Failed to create job: %v", err)
	}
	if err := worker.Submit(Task{JobID: job.ID, Path: "/missing/broken.pdf", Source: database.JobTypeExtraction}); err != nil {
		t.Fatalf("Failed to submit task: %v", err)
	}
	if err := waitDone(t, done); !errors.Is(err, openErr) {
		t.Errorf("Expected open error passed to OnDone, got %v", err)
	}

	failed, err := db.GetJob(job.ID)
	if err != nil {
		t.Fatalf("Failed to get job: %v", err)
	}
	if failed.Status != database.JobStatusFailed || failed.Error == "" {
		t.Errorf("Expected failed job with error, got %+v", failed)
	}
}

func TestWorker_QueueFull(t *testing.T) {
	rasterizer, _ := newFakeRasterizer()
	pipeline := NewPipeline(rasterizer, &stubExtractor{}, nil, testLogger())
	worker := NewWorker(pipeline, nil, "", 1, testLogger())

	if err := worker.Submit(Task{Path: "a.pdf"}); err != nil {
		t.Fatalf("First submit should fit: %v", err)
	}
	if err := worker.Submit(Task{Path: "b.pdf"}); !errors.Is(err, ErrQueueFull) {
		t.Errorf("Expected ErrQueueFull, got %v", err)
	}
	if worker.QueueLength() != 1 {
		t.Errorf("Expected queue length 1, got %d", worker.QueueLength())
	}
}
