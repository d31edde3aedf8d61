package engine

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/drummonds/pdfextract/config"
	"github.com/drummonds/pdfextract/database"
	"github.com/robfig/cron/v3"
)

// jobRetention is how long finished jobs and their page records are kept
const jobRetention = 30 * 24 * time.Hour

// Ingress watches the ingress folder and queues new documents for extraction
type Ingress struct {
	serverConfig config.ServerConfig
	db           database.Repository
	worker       *Worker
	logger       *slog.Logger

	mu       sync.Mutex
	inFlight map[string]bool // queued, running, or failed and left in place
}

// NewIngress creates the ingress scanner
func NewIngress(serverConfig config.ServerConfig, db database.Repository, worker *Worker, logger *slog.Logger) *Ingress {
	return &Ingress{
		serverConfig: serverConfig,
		db:           db,
		worker:       worker,
		logger:       logger,
		inFlight:     make(map[string]bool),
	}
}

// Scan queues every supported file in the ingress folder that is not already known.
// It returns the number of documents queued.
func (in *Ingress) Scan() int {
	// Add panic recovery to prevent entire application crash
	defer func() {
		if r := recover(); r != nil {
			in.logger.Error("Panic recovered in ingress job", "panic", r)
		}
	}()

	in.logger.Info("Starting Ingress Job on folder", "path", in.serverConfig.IngressPath)
	var candidates []string
	err := filepath.Walk(in.serverConfig.IngressPath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			in.logger.Warn("Unable to get information for file, won't process", "filePath", path, "error", err)
			return nil
		}
		if info.IsDir() {
			return nil
		}
		candidates = append(candidates, path)
		return nil
	})
	if err != nil {
		in.logger.Error("Error reading files in from ingress", "error", err)
	}

	queued := 0
	for _, filePath := range candidates {
		if ClassifyInput(filePath) == InputUnsupported {
			in.logger.Debug("Skipping unsupported file", "filePath", filePath)
			continue
		}
		if !in.claim(filePath) {
			continue
		}

		job, err := in.db.CreateJob(database.JobTypeIngestion, filePath, "Queued from ingress folder")
		if err != nil {
			in.logger.Error("Failed to create ingestion job", "filePath", filePath, "error", err)
			in.release(filePath)
			continue
		}
		if err := in.worker.Submit(Task{JobID: job.ID, Path: filePath, Source: database.JobTypeIngestion}); err != nil {
			// left for the next scan
			in.logger.Warn("Unable to queue document", "filePath", filePath, "error", err)
			in.db.UpdateJobStatus(job.ID, database.JobStatusCancelled, err.Error())
			in.release(filePath)
			if errors.Is(err, ErrQueueFull) {
				break
			}
			continue
		}
		queued++
	}
	in.logger.Info("Ingress scan finished", "queued", queued)
	return queued
}

// Done cleans up after an ingested document. Successful documents are deleted or moved;
// anything left in place is not picked up again until restart.
func (in *Ingress) Done(task Task, taskErr error) {
	if task.Source != database.JobTypeIngestion {
		return
	}
	if taskErr != nil {
		in.logger.Warn("Leaving failed document in ingress", "filePath", task.Path, "error", taskErr)
		return
	}
	if !in.serverConfig.IngressDelete && in.serverConfig.IngressMoveFolder == "" {
		in.logger.Info("Leaving processed document in ingress", "filePath", task.Path)
		return
	}
	if err := in.cleanup(task.Path); err != nil {
		in.logger.Error("Failed to clean up ingress file", "filePath", task.Path, "error", err)
		return
	}
	in.release(task.Path)
	deleteEmptyIngressFolders(in.serverConfig.IngressPath, in.logger)
}

func (in *Ingress) claim(path string) bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.inFlight[path] {
		return false
	}
	in.inFlight[path] = true
	return true
}

func (in *Ingress) release(path string) {
	in.mu.Lock()
	defer in.mu.Unlock()
	delete(in.inFlight, path)
}

// cleanup deletes the ingested file or moves it to the move folder
func (in *Ingress) cleanup(fileName string) error {
	if in.serverConfig.IngressDelete {
		return os.Remove(fileName)
	}
	if err := os.MkdirAll(in.serverConfig.IngressMoveFolder, os.ModePerm); err != nil {
		return err
	}
	newFile := filepath.Join(in.serverConfig.IngressMoveFolder, filepath.Base(fileName))
	return os.Rename(fileName, newFile)
}

func deleteEmptyIngressFolders(path string, logger *slog.Logger) {
	err := filepath.Walk(path, func(currentFile string, info os.FileInfo, err error) error {
		if err != nil || !info.IsDir() || currentFile == path {
			return nil
		}
		f, err := os.Open(currentFile)
		if err != nil {
			return nil
		}
		_, err = f.Readdirnames(1)
		f.Close()
		if err == io.EOF {
			logger.Debug("Removing Empty Folder", "currentFile", currentFile)
			os.RemoveAll(currentFile)
			return filepath.SkipDir
		}
		return nil
	})
	if err != nil {
		logger.Error("Error cleaning ingress folder", "path", path, "error", err)
	}
}

// InitializeSchedules starts the ingress scan and the job cleanup. The returned cron must be stopped on shutdown.
func (serverHandler *ServerHandler) InitializeSchedules() *cron.Cron {
	logger := serverHandler.Logger
	interval := serverHandler.ServerConfig.IngressInterval
	if interval < 1 {
		interval = 1
	}

	// Run ingress job immediately at startup in a goroutine
	logger.Info("Running ingress job at startup")
	go serverHandler.Ingress.Scan()

	c := cron.New()
	var ingressJob cron.Job
	ingressJob = cron.FuncJob(func() { serverHandler.Ingress.Scan() })
	ingressJob = cron.NewChain(cron.SkipIfStillRunning(cron.DefaultLogger)).Then(ingressJob) //ensure we don't kick off another if old one is still running
	if _, err := c.AddJob(fmt.Sprintf("@every %dm", interval), ingressJob); err != nil {
		logger.Error("Failed to schedule ingress job", "error", err)
	}
	logger.Info("Adding Ingress Job scheduler", "interval_minutes", interval)

	_, err := c.AddFunc("@daily", func() {
		count, err := serverHandler.DB.DeleteOldJobs(jobRetention)
		if err != nil {
			logger.Error("Failed to delete old jobs", "error", err)
			return
		}
		logger.Info("Deleted old jobs", "count", count)
	})
	if err != nil {
		logger.Error("Failed to schedule job cleanup", "error", err)
	}

	c.Start()
	return c
}
