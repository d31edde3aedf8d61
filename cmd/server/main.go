package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/drummonds/pdfextract/config"
	"github.com/drummonds/pdfextract/database"
	"github.com/drummonds/pdfextract/engine"
	"github.com/drummonds/pdfextract/engine/pdfrenderer"
)

// @title pdfextract API
// @version 1.0
// @description Document text extraction service. PDFs and images are rasterized and read by a vision language OCR model.

// @contact.name API Support
// @contact.url https://github.com/drummonds/pdfextract

// @license.name MIT
// @license.url https://opensource.org/licenses/MIT

// @host localhost:8080
// @BasePath /api
// @schemes http https

// @tag.name Extraction
// @tag.description Document upload and extraction

// @tag.name Jobs
// @tag.description Extraction job tracking

// @tag.name Admin
// @tag.description Administrative operations (ingestion, health)

func main() {
	port := flag.String("port", "", "Port to run the server on (overrides SERVER_PORT)")
	flag.Parse()

	fmt.Println("\n" + strings.Repeat("=", 50))
	fmt.Println("pdfextract Extraction Server")
	fmt.Println(strings.Repeat("=", 50))
	fmt.Println("• All endpoints under /api/*")
	fmt.Println("• One document extracted at a time")
	fmt.Println(strings.Repeat("=", 50) + "\n")

	serverConfig, logger := config.SetupServer()
	if *port != "" {
		serverConfig.ListenAddrPort = *port
	}

	cfg := config.Default()
	if serverConfig.ConfigFile != "" {
		var err error
		cfg, err = config.Load(serverConfig.ConfigFile)
		if err != nil {
			logger.Error("Failed to load model config", "path", serverConfig.ConfigFile, "error", err)
			os.Exit(1)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	renderer, err := pdfrenderer.NewRenderer(serverConfig.Inference.Renderer)
	if err != nil {
		logger.Error("Failed to create PDF renderer", "renderer", serverConfig.Inference.Renderer, "error", err)
		os.Exit(1)
	}
	defer renderer.Close()

	ocr, err := engine.NewEngine(ctx, cfg, serverConfig.Inference, logger)
	if err != nil {
		logger.Error("Failed to initialize OCR engine", "error", err)
		os.Exit(1)
	}

	if serverConfig.DatabaseType == "ephemeral" {
		fmt.Println("EPHEMERAL DATABASE MODE")
		fmt.Println("• Database will be destroyed on exit")
		fmt.Println()
	}
	logger.Info("Setting up database", "type", serverConfig.DatabaseType)
	db, err := database.NewRepository(serverConfig, logger)
	if err != nil {
		logger.Error("Failed to set up database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	pipeline := engine.NewPipeline(engine.NewRasterizer(renderer, cfg, logger), ocr, nil, logger)
	worker := engine.NewWorker(pipeline, db, serverConfig.ResultsPath, serverConfig.QueueSize, logger)

	e := echo.New()
	e.HideBanner = true
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
		}
		if code == http.StatusNotFound {
			c.JSON(http.StatusNotFound, map[string]string{
				"error":   "Not Found",
				"message": "The requested API endpoint does not exist",
				"path":    c.Request().URL.Path,
			})
			return
		}
		e.DefaultHTTPErrorHandler(err, c)
	}

	serverHandler := &engine.ServerHandler{
		DB:           db,
		Echo:         e,
		ServerConfig: serverConfig,
		Config:       cfg,
		Worker:       worker,
		Logger:       logger,
	}
	serverHandler.Ingress = engine.NewIngress(serverConfig, db, worker, logger)
	worker.OnDone(serverHandler.JobFinished)

	if err := serverHandler.StartupChecks(); err != nil {
		logger.Error("Startup checks failed", "error", err)
		os.Exit(1)
	}

	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
	}))
	e.Use(middleware.LoggerWithConfig(middleware.LoggerConfig{
		Format: "method=${method}, uri=${uri}, status=${status}, latency=${latency_human}\n",
	}))
	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit("200M"))
	serverHandler.AddRoutes()

	go worker.Run(ctx)
	scheduler := serverHandler.InitializeSchedules()

	addr := fmt.Sprintf("%s:%s", serverConfig.ListenAddrIP, serverConfig.ListenAddrPort)
	go func() {
		logger.Info("Starting Extraction Server", "address", addr)
		fmt.Printf("\nServer running on %s\n", addr)
		fmt.Printf("Health check: http://%s/api/health\n\n", addr)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server failed to start", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")
	<-scheduler.Stop().Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown failed", "error", err)
	}
}
