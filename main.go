package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/andyc1997/kyc-agent/backend/config"
	"github.com/andyc1997/kyc-agent/backend/handler"
	"github.com/andyc1997/kyc-agent/backend/middleware"
	"github.com/andyc1997/kyc-agent/backend/pkg/logger"
	"github.com/andyc1997/kyc-agent/backend/service"
	"github.com/gin-gonic/gin"
)

func main() {
	// Load configuration
	cfg, err := config.Load("config.yaml")
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Initialize logger
	logger.Init(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	})

	slog.Info("configuration loaded successfully")

	// Initialize services
	minioSvc, err := service.NewMinioService(&cfg.Minio)
	if err != nil {
		slog.Error("failed to initialize MINIO service", "error", err)
		os.Exit(1)
	}

	// Ensure all working buckets exist
	buckets := []string{
		cfg.CaseTable.Bucket,
		cfg.Extraction.InputBucket,
		cfg.Extraction.OutputBucket,
		cfg.Imagery.ImageBucket,
		cfg.Search.OutputBucket,
		cfg.Transcribe.AudioBucket,
		cfg.Transcribe.OutputBucket,
		cfg.Report.OutputBucket,
	}
	seen := make(map[string]bool)
	for _, bucket := range buckets {
		if bucket == "" || seen[bucket] {
			continue
		}
		seen[bucket] = true
		if err := minioSvc.EnsureBucket(context.Background(), bucket); err != nil {
			slog.Error("failed to ensure MINIO bucket", "bucket", bucket, "error", err)
			os.Exit(1)
		}
	}

	// Initialize case store and seed the table on first run
	caseStore := service.NewCaseStore(minioSvc, &cfg.CaseTable)
	if err := caseStore.Init(context.Background()); err != nil {
		slog.Error("failed to initialize case table", "error", err)
		os.Exit(1)
	}

	textModelSvc := service.NewTextModelService(&cfg.TextModel)

	orchestrator := service.NewOrchestrator(caseStore,
		service.NewExtractionService(&cfg.Extraction, minioSvc, textModelSvc),
		service.NewImageryService(&cfg.Imagery, minioSvc),
		service.NewWebIntelService(&cfg.Search, minioSvc, textModelSvc),
		service.NewTranscriptionService(&cfg.Transcribe, minioSvc, textModelSvc),
	)

	consolidator := service.NewConsolidator(minioSvc)
	reportSvc := service.NewReportService(&cfg.Report, minioSvc, textModelSvc)

	// Initialize handlers
	authHandler := handler.NewAuthHandler(cfg)
	caseHandler := handler.NewCaseHandler(caseStore)
	stageHandler := handler.NewStageHandler(orchestrator)
	reportHandler := handler.NewReportHandler(caseStore, consolidator, reportSvc)

	// Setup Gin router
	gin.SetMode(gin.ReleaseMode)
	router := gin.New() // Use New() instead of Default() to avoid default middleware

	// Add custom middleware
	router.Use(middleware.RequestID())                 // Request ID for tracing
	router.Use(middleware.Recovery())                  // Panic recovery
	router.Use(middleware.RequestLogger())             // Access logging
	router.Use(corsMiddleware())                       // CORS
	router.Use(middleware.RateLimit(100, time.Minute)) // Rate limiting: 100 requests per minute

	// Health check endpoint
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"timestamp": time.Now().Format(time.RFC3339),
		})
	})

	// Public routes
	api := router.Group("/api")
	{
		api.POST("/auth/login", authHandler.Login)
	}

	// Protected routes
	protected := api.Group("/")
	protected.Use(middleware.AuthMiddleware(&cfg.Auth))
	{
		protected.GET("/auth/me", authHandler.GetCurrentUser)
		protected.POST("/cases", caseHandler.Create)
		protected.GET("/cases", caseHandler.List)
		protected.GET("/cases/:key", caseHandler.Get)
		protected.POST("/cases/:key/stages/:stage", stageHandler.Run)
		protected.POST("/cases/:key/report", reportHandler.Generate)
	}

	// Create server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		slog.Info("server starting", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("failed to start server", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("server exited gracefully")
}

// corsMiddleware handles CORS headers
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With, X-Request-ID")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")
		c.Writer.Header().Set("Access-Control-Expose-Headers", "X-Request-ID")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
