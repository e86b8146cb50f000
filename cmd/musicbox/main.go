package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"musicbox/internal/catalog"
	"musicbox/internal/config"
	"musicbox/internal/database"
	"musicbox/internal/events"
	"musicbox/internal/handlers"
	"musicbox/internal/health"
	"musicbox/internal/jobs"
	"musicbox/internal/logging"
	"musicbox/internal/media"
	"musicbox/internal/metrics"
	"musicbox/internal/middleware"
	"musicbox/internal/services"
	"musicbox/internal/storage"
	"musicbox/internal/tracing"
)

// APIServer represents the catalog API server
type APIServer struct {
	app       *fiber.App
	cfg       *config.AppConfig
	logger    *logging.Logger
	dbManager *database.DatabaseManager
	repo      *services.Repository
	blobs     storage.BlobStore
	catalog   *catalog.Service
	tracer    *tracing.Tracer
	meters    *sdkmetric.MeterProvider
	redis     *redis.Client
	queue     *asynq.Client
	sweeper   *jobs.Sweeper
}

// NewAPIServer wires the catalog and its supporting services.
func NewAPIServer(ctx context.Context, cfg *config.AppConfig, dbManager *database.DatabaseManager, logger *logging.Logger) (*APIServer, error) {
	db := dbManager.GetGormDB()

	blobs, err := storage.NewFromConfig(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to open blob store: %w", err)
	}

	tracer, err := tracing.NewTracer(ctx, cfg.Tracing)
	if err != nil {
		return nil, fmt.Errorf("failed to start tracing: %w", err)
	}

	meters, err := metrics.NewMeterProvider(prometheus.DefaultRegisterer)
	if err != nil {
		return nil, err
	}

	server := &APIServer{
		cfg:       cfg,
		logger:    logger,
		dbManager: dbManager,
		repo:      services.NewRepository(db),
		blobs:     blobs,
		tracer:    tracer,
		meters:    meters,
	}

	var (
		reaper    catalog.BlobReaper
		publisher events.Publisher = events.NopPublisher{}
	)
	if cfg.Redis.Enabled {
		server.redis = redis.NewClient(&redis.Options{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			DialTimeout:  cfg.Redis.Timeout,
			ReadTimeout:  cfg.Redis.Timeout,
			WriteTimeout: cfg.Redis.Timeout,
		})
		server.queue = asynq.NewClient(asynq.RedisClientOpt{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		reaper = jobs.NewAsynqReaper(server.queue, cfg.Jobs.MaxAttempts)
		publisher = events.NewRedisPublisher(server.redis, cfg.Redis.Channel)
	} else {
		// Without a worker, failed deletes land in the ledger and the
		// in-process sweeper retries them.
		reaper = jobs.NewLedgerReaper(server.repo)
		server.sweeper = jobs.NewSweeper(server.repo, blobs, cfg.Jobs, logging.WithModule("sweeper"))
	}

	server.catalog = catalog.New(server.repo, blobs,
		catalog.WithReservedPlaylist(cfg.Catalog.ReservedPlaylist),
		catalog.WithUploadPolicy(media.PolicyFromConfig(cfg.Upload)),
		catalog.WithReaper(reaper),
		catalog.WithPublisher(publisher),
		catalog.WithLogger(logging.WithModule("catalog")),
		catalog.WithTracer(tracer.Tracer()),
		catalog.WithMeter(meters.Meter("musicbox/catalog")),
	)

	bodyLimit, bulkLimit := handlers.UploadBodyLimits(cfg.Upload.MaxBytes)
	server.app = fiber.New(fiber.Config{
		AppName:      "Musicbox",
		ServerHeader: "Musicbox",
		// Bodies past BodyLimit are streamed and NewBodyLimit decides per route.
		BodyLimit:         int(bodyLimit),
		StreamRequestBody: true,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
		ErrorHandler:      handlers.ErrorHandler,
	})

	server.app.Use(requestid.New(requestid.Config{ContextKey: logging.RequestIDLocal}))
	server.app.Use(recover.New())
	server.app.Use(helmet.New(helmet.Config{CrossOriginResourcePolicy: "cross-origin"}))
	server.app.Use(cors.New(cors.Config{
		AllowOrigins:     strings.Join(cfg.CORS.AllowOrigins, ","),
		AllowMethods:     strings.Join(cfg.CORS.AllowMethods, ","),
		AllowHeaders:     strings.Join(cfg.CORS.AllowHeaders, ","),
		AllowCredentials: cfg.CORS.AllowCredentials,
	}))
	server.app.Use(logger.FiberLoggerMiddleware())
	server.app.Use(middleware.MetricsMiddleware())
	server.app.Use(tracer.FiberMiddleware())
	if cfg.RateLimit.Enabled {
		server.app.Use(middleware.NewRateLimiter(cfg.RateLimit))
	}
	server.app.Use(middleware.NewBodyLimit(bodyLimit, map[string]int64{handlers.BulkUploadPath: bulkLimit}))

	server.setupRoutes()

	return server, nil
}

// setupRoutes configures the API routes
func (s *APIServer) setupRoutes() {
	var uploadGuard fiber.Handler
	if s.cfg.RateLimit.Enabled {
		uploadGuard = middleware.NewUploadLimiter(s.cfg.RateLimit.UploadPerMinute, s.cfg.RateLimit.UploadBurst).Handler()
	}

	health.NewChecker(s.dbManager, s.redis, s.blobs.Name()).RegisterHealthRoutes(s.app)
	s.app.Get("/metrics", handlers.MetricsHandler())

	handlers.NewCatalogHandler(s.catalog, media.PolicyFromConfig(s.cfg.Upload)).RegisterRoutes(s.app, uploadGuard)
	handlers.NewMediaHandler(s.blobs).RegisterRoutes(s.app)

	if dir := s.cfg.Server.StaticDir; dir != "" {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			s.app.Static("/", dir)
		}
	}
}

// Start starts the API server
func (s *APIServer) Start() error {
	if s.sweeper != nil {
		if err := s.sweeper.Start(); err != nil {
			return err
		}
	}
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	log := s.logger.Zerolog()
	log.Info().
		Str("addr", addr).
		Str("storage", s.blobs.Name()).
		Str("reserved_playlist", s.catalog.ReservedPlaylist()).
		Msg("Starting API server")
	return s.app.Listen(addr)
}

// Shutdown gracefully shuts down the server
func (s *APIServer) Shutdown(ctx context.Context) error {
	log := s.logger.Zerolog()
	err := s.app.ShutdownWithContext(ctx)

	if s.sweeper != nil {
		select {
		case <-s.sweeper.Stop().Done():
		case <-ctx.Done():
		}
	}
	if s.queue != nil {
		_ = s.queue.Close()
	}
	if s.redis != nil {
		_ = s.redis.Close()
	}
	if terr := s.tracer.Shutdown(ctx); terr != nil {
		log.Warn().Err(terr).Msg("Failed to flush traces")
	}
	if merr := s.meters.Shutdown(ctx); merr != nil {
		log.Warn().Err(merr).Msg("Failed to stop meter provider")
	}
	if cerr := s.dbManager.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

// Main entry point for the API service
func main() {
	_ = godotenv.Load()

	loader := config.NewConfigLoader()
	if path := os.Getenv(config.EnvPrefix + "_CONFIG"); path != "" {
		loader.SetConfigFile(path)
	}
	cfg, err := loader.Load()
	if err != nil {
		logging.Fatal("Failed to load config", err)
	}

	logger := logging.InitGlobalLogger(logging.LogLevel(cfg.Logging.Level), cfg.Logging.Format)

	dbManager, err := database.NewDatabaseManager(cfg.Database.WithPoolDefaults(), logging.WithModule("database"))
	if err != nil {
		logging.Fatal("Failed to connect to database", err)
	}

	if err := database.NewMigrationManager(dbManager.GetGormDB(), logging.WithModule("migrations")).Migrate(); err != nil {
		logging.Fatal("Failed to run migrations", err)
	}

	ctx := context.Background()
	server, err := NewAPIServer(ctx, cfg, dbManager, logger)
	if err != nil {
		logging.Fatal("Failed to create server", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := server.Start(); err != nil {
			logging.Fatal("Server failed to start", err)
		}
	}()

	<-sigCh
	logging.Info("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logging.Fatal("Shutdown failed", err)
	}
}
