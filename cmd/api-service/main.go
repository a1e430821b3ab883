package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuongbtq/ai-recruiter/internal/api/handler"
	"github.com/cuongbtq/ai-recruiter/internal/api/router"
	"github.com/cuongbtq/ai-recruiter/internal/blob"
	"github.com/cuongbtq/ai-recruiter/internal/config"
	"github.com/cuongbtq/ai-recruiter/internal/notify"
	"github.com/cuongbtq/ai-recruiter/internal/orchestrator"
	"github.com/cuongbtq/ai-recruiter/internal/pipeline"
	"github.com/cuongbtq/ai-recruiter/internal/storage"
	"github.com/cuongbtq/ai-recruiter/internal/stream"
	"github.com/cuongbtq/ai-recruiter/internal/worker"
	"github.com/cuongbtq/ai-recruiter/shared/database"
	"github.com/cuongbtq/ai-recruiter/shared/logger"
	"github.com/cuongbtq/ai-recruiter/shared/rabbitmq"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	// Parse command-line flags
	defaultConfigPath := os.Getenv("API_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/api-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	appLogger.Info("Starting API service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize job store
	store, dbClient, err := initStore(ctx, &cfg.Database, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize job store: %w", err)
	}
	if dbClient != nil {
		defer dbClient.Close()
	}

	// Initialize blob store
	blobs, err := blob.NewFileStore(cfg.Storage.UploadDir, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize blob store: %w", err)
	}

	// Initialize evaluation pipeline and worker pool
	evaluator, err := pipeline.NewCommandPipeline(pipeline.CommandConfig{
		Command: cfg.Pipeline.Command,
		Args:    cfg.Pipeline.Args,
		WorkDir: cfg.Pipeline.WorkingDir,
		Env:     cfg.Pipeline.Env,
	}, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize pipeline: %w", err)
	}

	hostname, _ := os.Hostname()
	pool := worker.NewWorker(&worker.Config{
		Logger:      appLogger.Logger,
		Pipeline:    evaluator,
		Blobs:       blobs,
		Concurrency: cfg.Worker.Concurrency,
		JobTimeout:  cfg.Worker.JobTimeout,
		WorkerID:    fmt.Sprintf("%s-%d", hostname, os.Getpid()),
	})

	// Initialize lifecycle notifications
	var notifier orchestrator.Notifier
	if cfg.RabbitMQ.Enabled {
		rabbitClient, err := initRabbitMQ(&cfg.RabbitMQ, appLogger.Logger)
		if err != nil {
			return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
		}
		defer rabbitClient.Close()
		notifier = notify.NewRabbitNotifier(rabbitClient, appLogger.Logger)
		appLogger.Info("RabbitMQ connection established")
	}

	// Initialize orchestrator
	hub := stream.NewHub(appLogger.Logger, cfg.Stream.GracePeriod)
	orch, err := orchestrator.New(&orchestrator.Config{
		Logger:         appLogger.Logger,
		Store:          store,
		Hub:            hub,
		Dispatcher:     pool,
		Notifier:       notifier,
		PersistRetries: cfg.Orchestrator.PersistRetries,
		PersistBackoff: cfg.Orchestrator.PersistBackoff,
		PersistTimeout: cfg.Orchestrator.PersistTimeout,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize orchestrator: %w", err)
	}

	recovered, err := orch.Recover(ctx)
	if err != nil {
		return fmt.Errorf("failed to recover unfinished jobs: %w", err)
	}
	if recovered > 0 {
		appLogger.Warn("Marked jobs from a previous run as interrupted", slog.Int("count", recovered))
	}

	if err := orch.Start(context.WithoutCancel(ctx)); err != nil {
		return fmt.Errorf("failed to start orchestrator: %w", err)
	}

	// Initialize router
	deps := &handler.Dependencies{
		Logger:            appLogger.Logger,
		Jobs:              orch,
		Blobs:             blobs,
		Pool:              pool,
		ServiceName:       cfg.App.Name,
		MaxUploadSize:     cfg.Storage.MaxUploadSize,
		HeartbeatInterval: cfg.Stream.HeartbeatInterval,
	}
	if dbClient != nil {
		deps.Database = dbClient
	}
	r := initRouter(cfg.App.Environment, deps)

	// Create HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	appLogger.Info("Starting HTTP server",
		slog.String("address", addr),
		slog.Int("worker_concurrency", cfg.Worker.Concurrency),
		slog.String("database_driver", cfg.Database.Driver),
	)

	serverErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		appLogger.Info("Shutting down server...")
	case err := <-serverErr:
		appLogger.Error("Server failed", slog.Any("error", err))
		shutdownJobs(orch, hub, cfg.Worker.ShutdownTimeout)
		return err
	}

	// Finish or fail every job first so open streams see their terminal event
	shutdownJobs(orch, hub, cfg.Worker.ShutdownTimeout)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("Server forced to shutdown",
			slog.Any("error", err),
		)
		return err
	}

	appLogger.Info("Server shutdown complete")
	return nil
}

func shutdownJobs(orch *orchestrator.Orchestrator, hub *stream.Hub, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	orch.Shutdown(ctx)
	hub.Close()
}

// initLogger initializes and configures the application logger
func initLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	loggerCfg := &logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
	}

	return logger.New(loggerCfg)
}

// initStore opens the configured job store. The database client is nil for
// the in-memory driver.
func initStore(ctx context.Context, cfg *config.DatabaseConfig, logger *slog.Logger) (storage.Store, *database.Client, error) {
	if cfg.Driver == config.DriverMemory {
		logger.Warn("Using in-memory job store; jobs are lost on restart")
		return storage.NewMemoryStore(), nil, nil
	}

	dbClient, err := database.NewClient(&database.Config{
		Driver:          cfg.Driver,
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		SSLMode:         cfg.SSLMode,
		Path:            cfg.Path,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
	}, logger)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStorage(dbClient.GetDB(), logger)
	if err := store.EnsureSchema(ctx); err != nil {
		dbClient.Close()
		return nil, nil, err
	}

	logger.Info("Database connection established")
	return store, dbClient, nil
}

// initRabbitMQ initializes the RabbitMQ client
func initRabbitMQ(cfg *config.RabbitMQConfig, logger *slog.Logger) (*rabbitmq.Client, error) {
	rabbitConfig := &rabbitmq.Config{
		Host:               cfg.Host,
		Port:               cfg.Port,
		User:               cfg.User,
		Password:           cfg.Password,
		VHost:              cfg.VHost,
		ExchangeName:       cfg.Exchange.Name,
		ExchangeType:       cfg.Exchange.Type,
		ExchangeDurable:    cfg.Exchange.Durable,
		ExchangeAutoDelete: cfg.Exchange.AutoDelete,
		QueueName:          cfg.Queue.Name,
		QueueDurable:       cfg.Queue.Durable,
		QueueAutoDelete:    cfg.Queue.AutoDelete,
		QueueExclusive:     cfg.Queue.Exclusive,
		RoutingKey:         cfg.RoutingKey,
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval,
		Heartbeat:          cfg.Connection.Heartbeat,
		ConnectionTimeout:  cfg.Connection.ConnectionTimeout,
		PublishRetries:     cfg.Publish.RetryAttempts,
		PublishRetryDelay:  cfg.Publish.RetryInterval,
		PublishBackoffMult: cfg.Publish.BackoffMultiplier,
	}

	return rabbitmq.NewClient(rabbitConfig, logger)
}

// initRouter initializes the Gin router with all routes and middleware
func initRouter(environment string, deps *handler.Dependencies) *gin.Engine {
	// Set Gin mode based on environment
	if environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	return router.SetupRouter(deps)
}
