package engine

import (
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"

	"github.com/drummonds/pdfextract/config"
	"github.com/drummonds/pdfextract/database"
	"github.com/labstack/echo/v4"
	"github.com/oklog/ulid/v2"
)

// ServerHandler will inject the variables needed into routes
type ServerHandler struct {
	DB           database.Repository
	Echo         *echo.Echo
	ServerConfig config.ServerConfig
	Config       config.Config
	Worker       *Worker
	Ingress      *Ingress
	Logger       *slog.Logger
}

// AddRoutes registers the API under /api
func (serverHandler *ServerHandler) AddRoutes() {
	api := serverHandler.Echo.Group("/api")
	api.GET("/health", serverHandler.Health)
	api.POST("/extract", serverHandler.ExtractDocument)
	api.POST("/ingest", serverHandler.RunIngestNow)
	api.GET("/jobs", serverHandler.GetRecentJobs)
	api.GET("/jobs/active", serverHandler.GetActiveJobs)
	api.GET("/jobs/:id", serverHandler.GetJob)
	api.GET("/jobs/:id/records", serverHandler.GetJobRecords)
}

// JobFinished is the worker callback; it removes uploads and hands ingress files back to Ingress
func (serverHandler *ServerHandler) JobFinished(task Task, err error) {
	switch task.Source {
	case database.JobTypeIngestion:
		if serverHandler.Ingress != nil {
			serverHandler.Ingress.Done(task, err)
		}
	case database.JobTypeExtraction:
		if rmErr := os.Remove(task.Path); rmErr != nil {
			serverHandler.Logger.Warn("Unable to remove upload", "path", task.Path, "error", rmErr)
		}
	}
}

// Health reports the served model and queue depth
// @Summary Health check
// @Description Report the configured model and the number of queued documents
// @Tags Admin
// @Produce json
// @Success 200 {object} map[string]interface{} "Service status"
// @Router /health [get]
func (serverHandler *ServerHandler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status": "ok",
		"model":  serverHandler.Config.ModelPath,
		"queued": serverHandler.Worker.QueueLength(),
	})
}

// ExtractDocument accepts an uploaded PDF or image and queues it for extraction
// @Summary Extract a document
// @Description Upload a PDF or image; text is extracted in the background
// @Tags Extraction
// @Accept multipart/form-data
// @Produce json
// @Param file formData file true "PDF or image file"
// @Success 202 {object} map[string]interface{} "Job created with jobId"
// @Failure 400 {object} map[string]interface{} "Missing or unsupported file"
// @Failure 503 {object} map[string]interface{} "Extraction queue is full"
// @Router /extract [post]
func (serverHandler *ServerHandler) ExtractDocument(c echo.Context) error {
	logger := serverHandler.Logger
	fileHeader, err := c.FormFile("file")
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error": "Missing file",
		})
	}
	name := filepath.Base(fileHeader.Filename)
	if ClassifyInput(name) == InputUnsupported {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error":     "Unsupported file type: " + filepath.Ext(name),
			"supported": append(append([]string{}, PDFExtensions...), ImageExtensions...),
		})
	}

	uploadDir := filepath.Join(serverHandler.ServerConfig.ResultsPath, "uploads")
	if err := os.MkdirAll(uploadDir, os.ModePerm); err != nil {
		logger.Error("Unable to create upload folder", "path", uploadDir, "error", err)
		return err
	}
	path := filepath.Join(uploadDir, ulid.Make().String()+"-"+name)
	if err := saveUpload(fileHeader, path); err != nil {
		logger.Error("Unable to write uploaded file", "path", path, "error", err)
		return err
	}

	job, err := serverHandler.DB.CreateJob(database.JobTypeExtraction, path, "Queued for extraction")
	if err != nil {
		logger.Error("Failed to create extraction job", "error", err)
		os.Remove(path)
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{
			"error": "Failed to create job",
		})
	}

	if err := serverHandler.Worker.Submit(Task{JobID: job.ID, Path: path, Source: database.JobTypeExtraction}); err != nil {
		os.Remove(path)
		serverHandler.DB.UpdateJobStatus(job.ID, database.JobStatusCancelled, err.Error())
		if errors.Is(err, ErrQueueFull) {
			return c.JSON(http.StatusServiceUnavailable, map[string]interface{}{
				"error": err.Error(),
				"jobId": job.ID.String(),
			})
		}
		return err
	}

	logger.Info("Document queued for extraction", "jobID", job.ID, "file", name)
	return c.JSON(http.StatusAccepted, map[string]interface{}{
		"message": "Extraction queued",
		"jobId":   job.ID.String(),
	})
}

func saveUpload(fileHeader *multipart.FileHeader, path string) error {
	src, err := fileHeader.Open()
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return err
	}
	return dst.Close()
}

// RunIngestNow triggers an ingress scan manually
// @Summary Trigger document ingestion
// @Description Scan the ingress folder now instead of waiting for the schedule
// @Tags Admin
// @Produce json
// @Success 200 {object} map[string]interface{} "Number of documents queued"
// @Router /ingest [post]
func (serverHandler *ServerHandler) RunIngestNow(c echo.Context) error {
	serverHandler.Logger.Info("Manual ingestion triggered via API")
	queued := serverHandler.Ingress.Scan()
	return c.JSON(http.StatusOK, map[string]interface{}{
		"message": "Ingestion scan finished",
		"queued":  queued,
	})
}
