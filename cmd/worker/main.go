package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"record-import-pipeline/internal/cache"
	"record-import-pipeline/internal/config"
	"record-import-pipeline/internal/infrastructure/database"
	"record-import-pipeline/internal/infrastructure/redisconn"
	"record-import-pipeline/internal/logger"
	"record-import-pipeline/internal/metrics"
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

	// Connect to database
	pool, err := database.NewPostgres(context.Background(), database.PoolConfig{
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
	})
	if err != nil {
		logger.Fatal("Failed to connect to database",
			slog.String("error", err.Error()))
	}
	defer pool.Close()

	// Connect to redis
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

	// Initialize the upload area
	uploads, err := upload.NewFSStore(cfg.UploadDir)
	if err != nil {
		logger.Fatal("Failed to create upload area",
			slog.String("error", err.Error()))
	}

	// Initialize the import service the handlers run against
	workQueue := queue.NewRedisQueue(redisClient, cfg.QueueAuthToken)
	importService := service.NewImportService(
		repository.NewPostgresJobRepository(pool),
		repository.NewPostgresJobErrorRepository(pool),
		repository.NewPostgresFieldRepository(pool),
		repository.NewPostgresOptionRepository(pool),
		repository.NewPostgresRecordRepository(pool),
		uploads,
		workQueue,
		cache.NewRecordCache(redisClient, 0),
		validator.NewValidator(),
	)

	// Register one handler per channel
	worker := queue.NewWorker(workQueue, cfg.QueueAuthToken, cfg.WorkerPoolSize)
	worker.Handle(queue.ChannelValidate, importService.HandleValidateItem)
	worker.Handle(queue.ChannelCommit, importService.HandleCommitItem)
	worker.Handle(queue.ChannelXML, importService.HandleXMLItem)
	worker.Handle(queue.ChannelRebuild, importService.HandleRebuildItem)
	worker.Handle(queue.ChannelRewarm, importService.HandleRewarmItem)
	for _, channel := range queue.AllChannels {
		worker.SetRateLimit(channel, cfg.QueueRateLimit, cfg.QueueRateBurst)
	}

	// Periodically report queue depths
	depthCtx, stopDepth := context.WithCancel(context.Background())
	go reportQueueDepth(depthCtx, workQueue)

	// Scheduled cache rewarms
	scheduler := cron.New()
	if cfg.RewarmSchedule != "" && len(cfg.RewarmSchemas) > 0 {
		_, err := scheduler.AddFunc(cfg.RewarmSchedule, func() {
			for _, schemaID := range cfg.RewarmSchemas {
				if _, err := importService.DispatchRewarm(context.Background(), schemaID, "scheduler"); err != nil {
					logger.Error("Scheduled rewarm failed",
						slog.String("schema", schemaID),
						slog.String("error", err.Error()))
				}
			}
		})
		if err != nil {
			logger.Fatal("Invalid rewarm schedule",
				slog.String("schedule", cfg.RewarmSchedule),
				slog.String("error", err.Error()))
		}
		scheduler.Start()
	}

	// Run the pool until interrupted
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		logger.Info("Shutting down worker")
		cancel()
	}()

	worker.Run(ctx)

	stopDepth()
	cronCtx := scheduler.Stop()
	<-cronCtx.Done()
	logger.Info("Worker exited")
}

func reportQueueDepth(ctx context.Context, q queue.Queue) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, channel := range queue.AllChannels {
				depth, err := q.Depth(ctx, channel)
				if err != nil {
					continue
				}
				metrics.QueueDepth.WithLabelValues(channel).Set(float64(depth))
			}
		}
	}
}
