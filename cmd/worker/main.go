package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"musicbox/internal/config"
	"musicbox/internal/database"
	"musicbox/internal/jobs"
	"musicbox/internal/logging"
	"musicbox/internal/services"
	"musicbox/internal/storage"
)

// WorkerServer processes blob deletes and scheduled catalog maintenance
type WorkerServer struct {
	srv       *asynq.Server
	scheduler *asynq.Scheduler
	mux       *asynq.ServeMux
	dbManager *database.DatabaseManager
	cfg       *config.AppConfig
	logger    zerolog.Logger
}

// NewWorkerServer creates a new worker server
func NewWorkerServer(ctx context.Context) (*WorkerServer, error) {
	_ = godotenv.Load()

	loader := config.NewConfigLoader()
	if path := os.Getenv(config.EnvPrefix + "_CONFIG"); path != "" {
		loader.SetConfigFile(path)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if !cfg.Redis.Enabled {
		return nil, fmt.Errorf("worker requires redis.enabled")
	}

	logging.InitGlobalLogger(logging.LogLevel(cfg.Logging.Level), cfg.Logging.Format)
	logger := logging.WithModule("worker")

	dbManager, err := database.NewDatabaseManager(cfg.Database.WithPoolDefaults(), logging.WithModule("database"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	blobs, err := storage.NewFromConfig(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to open blob store: %w", err)
	}

	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}

	srv := asynq.NewServer(redisOpt, asynq.Config{
		Queues: map[string]int{
			jobs.QueueMaintenance: 6,
			"default":             1,
		},
		Concurrency: max(cfg.Jobs.Concurrency, 1),
		Logger:      asynqLogger{logger},
	})

	mux := asynq.NewServeMux()
	jobs.NewHandlers(services.NewRepository(dbManager.GetGormDB()), blobs, logger).Register(mux)

	scheduler := asynq.NewScheduler(redisOpt, &asynq.SchedulerOpts{Logger: asynqLogger{logger}})
	if _, err := scheduler.Register(cfg.Jobs.PruneSchedule, jobs.NewCatalogPruneTask(), asynq.Queue(jobs.QueueMaintenance)); err != nil {
		return nil, fmt.Errorf("invalid prune schedule %q: %w", cfg.Jobs.PruneSchedule, err)
	}

	return &WorkerServer{
		srv:       srv,
		scheduler: scheduler,
		mux:       mux,
		dbManager: dbManager,
		cfg:       cfg,
		logger:    logger,
	}, nil
}

// Start starts the scheduler and the task server
func (w *WorkerServer) Start() error {
	w.logger.Info().
		Str("redis", w.cfg.Redis.Addr).
		Int("concurrency", w.cfg.Jobs.Concurrency).
		Str("prune", w.cfg.Jobs.PruneSchedule).
		Msg("Starting worker server")

	if err := w.scheduler.Start(); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	if err := w.srv.Start(w.mux); err != nil {
		return fmt.Errorf("failed to start worker server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the worker server
func (w *WorkerServer) Shutdown() {
	w.logger.Info().Msg("Shutting down worker server")
	w.scheduler.Shutdown()
	w.srv.Shutdown()
	if err := w.dbManager.Close(); err != nil {
		w.logger.Warn().Err(err).Msg("Failed to close database")
	}
}

// asynqLogger routes asynq's own logging through zerolog.
type asynqLogger struct {
	l zerolog.Logger
}

func (a asynqLogger) Debug(args ...interface{}) { a.l.Debug().Msg(fmt.Sprint(args...)) }
func (a asynqLogger) Info(args ...interface{})  { a.l.Info().Msg(fmt.Sprint(args...)) }
func (a asynqLogger) Warn(args ...interface{})  { a.l.Warn().Msg(fmt.Sprint(args...)) }
func (a asynqLogger) Error(args ...interface{}) { a.l.Error().Msg(fmt.Sprint(args...)) }
func (a asynqLogger) Fatal(args ...interface{}) { a.l.Fatal().Msg(fmt.Sprint(args...)) }

// Main entry point for the worker service
func main() {
	worker, err := NewWorkerServer(context.Background())
	if err != nil {
		logging.Fatal("Failed to create worker server", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	if err := worker.Start(); err != nil {
		logging.Fatal("Worker server error", err)
	}

	<-sigCh
	logging.Info("Received shutdown signal")
	worker.Shutdown()
}
