package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"record-import-pipeline/internal/cache"
	"record-import-pipeline/internal/config"
	"record-import-pipeline/internal/handler"
	"record-import-pipeline/internal/infrastructure/database"
	"record-import-pipeline/internal/infrastructure/redisconn"
	"record-import-pipeline/internal/logger"
	"record-import-pipeline/internal/metrics"
	"record-import-pipeline/internal/middleware"
	"record-import-pipeline/internal/queue"
	"record-import-pipeline/internal/repository"
	"record-import-pipeline/internal/service"
	"record-import-pipeline/internal/upload"
	"record-import-pipeline/internal/validator"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load configuration",
			slog.String("error", err.Error()))
	}
	logger.Configure(cfg.LogLevel)

	dbConfig := database.PoolConfig{
		Host:              cfg.DBHost,
		Port:              cfg.DBPort,
		User:              cfg.DBUser,
		Password:          cfg.DBPassword,
		Database:          cfg.DBName,
		SSLMode:           cfg.DBSSLMode,
		MaxConns:          cfg.DBMaxConns,
		MinConns:          cfg.DBMinConns,
		MaxConnLifetime:   cfg.DBMaxConnLifetime,
		MaxConnIdleTime:   cfg.DBMaxConnIdleTime,
		HealthCheckPeriod: cfg.DBHealthCheckPeriod,
		ConnectTimeout:    cfg.DBConnectTimeout,
	}

	if cfg.MigrationsDir != "" {
		if err := database.Migrate(dbConfig, cfg.MigrationsDir); err != nil {
			logger.Fatal("Failed to apply migrations",
				slog.String("error", err.Error()))
		}
	}

	// Connect to database
	pool, err := database.NewPostgres(context.Background(), dbConfig)
	if err != nil {
		logger.Fatal("Failed to connect to database",
			slog.String("error", err.Error()))
	}
	defer pool.Close()

	// Start database pool metrics collector
	poolStatsCollector := metrics.NewPoolStatsCollector(pool)
	poolStatsCollector.Start(15 * time.Second)
	defer poolStatsCollector.Stop()

	// Connect to redis (work queue and record cache)
	redisClient, err := redisconn.New(context.Background(), redisconn.Config{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err != nil {
		logger.Fatal("Failed to connect to redis",
			slog.String("error", err.Error()))
	}
	defer redisClient.Close()

	// Initialize repositories
	jobRepo := repository.NewPostgresJobRepository(pool)
	jobErrorRepo := repository.NewPostgresJobErrorRepository(pool)
	fieldRepo := repository.NewPostgresFieldRepository(pool)
	optionRepo := repository.NewPostgresOptionRepository(pool)
	recordRepo := repository.NewPostgresRecordRepository(pool)

	// Initialize the upload area
	uploads, err := upload.NewFSStore(cfg.UploadDir)
	if err != nil {
		logger.Fatal("Failed to create upload area",
			slog.String("error", err.Error()))
	}

	// Initialize services
	workQueue := queue.NewRedisQueue(redisClient, cfg.QueueAuthToken)
	recordCache := cache.NewRecordCache(redisClient, 0)
	importService := service.NewImportService(
		jobRepo,
		jobErrorRepo,
		fieldRepo,
		optionRepo,
		recordRepo,
		uploads,
		workQueue,
		recordCache,
		validator.NewValidator(),
	)

	// Initialize handlers
	importHandler := handler.NewImportHandler(importService)
	uploadHandler := handler.NewUploadHandler(uploads)
	maintenanceHandler := handler.NewMaintenanceHandler(importService)
	healthHandler := handler.NewHealthHandler(pool, redisClient)

	// Setup Gin router
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.Metrics())
	router.Use(gin.Logger())

	// Health and metrics endpoints
	router.GET("/health", healthHandler.Health)
	router.GET("/ready", healthHandler.Ready)
	router.GET("/live", healthHandler.Live)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API v1 routes
	v1 := router.Group("/api/v1")
	{
		uploadsGroup := v1.Group("/uploads")
		{
			uploadsGroup.POST("/sources", uploadHandler.CreateSource)
			uploadsGroup.POST("/assets", uploadHandler.CreateAsset)
			uploadsGroup.GET("/assets/:name", uploadHandler.GetAsset)
		}

		imports := v1.Group("/imports")
		{
			imports.POST("/validate", importHandler.CreateValidation)
			imports.POST("/xml", importHandler.CreateXMLImport)
			imports.POST("/:id/commit", importHandler.CreateCommit)
		}

		v1.GET("/records/:id", importHandler.GetRecordSnapshot)

		jobs := v1.Group("/jobs")
		{
			jobs.GET("/:id", importHandler.GetJob)
			jobs.GET("/:id/report", importHandler.GetJobReport)
		}

		maintenance := v1.Group("/maintenance")
		{
			maintenance.POST("/rebuild", maintenanceHandler.CreateRebuild)
			maintenance.POST("/rewarm", maintenanceHandler.CreateRewarm)
		}
	}

	// Create HTTP server
	srv := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	// Start server in goroutine
	go func() {
		logger.Info("Starting server",
			slog.String("port", cfg.ServerPort))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server",
				slog.String("error", err.Error()))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server")

	// Shutdown HTTP server
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Server shutdown error",
			slog.String("error", err.Error()))
	}

	logger.Info("Server exited")
}
