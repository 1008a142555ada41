package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/htquang/jobcore/internal/config"
	"github.com/htquang/jobcore/internal/deadletter"
	"github.com/htquang/jobcore/internal/monitor"
	"github.com/htquang/jobcore/internal/ratelimit"
	"github.com/htquang/jobcore/internal/registry"
	"github.com/htquang/jobcore/internal/retry"
	"github.com/htquang/jobcore/internal/task"
	"github.com/htquang/jobcore/internal/worker"
	"github.com/htquang/jobcore/shared/logger"
	"github.com/htquang/jobcore/shared/postgresql"
	"github.com/htquang/jobcore/shared/rabbitmq"
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
	defaultConfigPath := os.Getenv("WORKER_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/worker-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateWorkerConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	appLogger.Info("Starting worker service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	// Build the job type registry from the configured catalog
	defs, err := cfg.Definitions()
	if err != nil {
		return fmt.Errorf("invalid job type catalog: %w", err)
	}
	reg, err := registry.New(defs...)
	if err != nil {
		return fmt.Errorf("failed to build job type registry: %w", err)
	}

	// Initialize PostgreSQL client
	dbClient, err := initPostgreSQL(&cfg.Database, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer dbClient.Close()

	appLogger.Info("Database connection established")

	// Initialize RabbitMQ client and declare the queue topology
	rabbitClient, err := initRabbitMQ(&cfg.RabbitMQ, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
	}
	defer rabbitClient.Close()

	if err := rabbitClient.DeclareTopology(defs); err != nil {
		return fmt.Errorf("failed to declare topology: %w", err)
	}

	appLogger.Info("RabbitMQ connection established",
		slog.Int("job_types", len(defs)),
	)

	// Register task handlers. Simulated handlers stand in until real
	// executors are registered per job type.
	handlers := task.NewRegistry()
	for _, def := range defs {
		h := &task.SimulatedHandler{WorkDuration: 2 * time.Second, Logger: appLogger.Logger}
		if err := handlers.Register(def.Type, h); err != nil {
			return fmt.Errorf("failed to register handler: %w", err)
		}
	}

	// Assemble the processing pipeline
	mon := monitor.New()
	coordinator := retry.New(reg, rabbitClient, appLogger.Logger)
	pool := worker.New(
		worker.Config{
			Concurrency:    cfg.Worker.Concurrency,
			Prefetch:       cfg.Worker.PrefetchCount,
			RateLimitDefer: cfg.Worker.RateLimitDefer,
		},
		rabbitClient,
		reg,
		handlers,
		ratelimit.New(defs...),
		coordinator,
		rabbitClient,
		mon,
		appLogger.Logger,
	)

	// Dead-letter consumer
	dlHandler := deadletter.NewHandler(
		deadletter.NewStore(dbClient.GetDB()),
		reg, handlers, appLogger.Logger,
	)
	deadDeliveries, err := rabbitClient.Consume(rabbitmq.DeadQueue, "dead-letter-consumer")
	if err != nil {
		return fmt.Errorf("failed to consume dead queue: %w", err)
	}

	// Queue depth sampling for the ops endpoint
	poller := monitor.NewDepthPoller(rabbitClient, mon, appLogger.Logger,
		append(pool.Queues(), rabbitmq.DeadQueue), cfg.Worker.DepthPoll)

	// Start subsystems
	group, ctx := errgroup.WithContext(context.Background())

	if err := pool.Start(); err != nil {
		return fmt.Errorf("failed to start worker pool: %w", err)
	}
	dlHandler.Start(deadDeliveries)
	poller.Start()

	// Ops HTTP listener: health and a monitoring snapshot
	opsServer := newOpsServer(cfg.Worker.OpsPort, mon, rabbitClient)
	group.Go(func() error {
		if err := opsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("ops server failed: %w", err)
		}
		return nil
	})

	// Surface unexpected broker connection loss
	group.Go(func() error {
		select {
		case amqpErr, ok := <-rabbitClient.NotifyClose():
			if ok && amqpErr != nil {
				return fmt.Errorf("broker connection lost: %w", amqpErr)
			}
			return nil
		case <-ctx.Done():
			return nil
		}
	})

	appLogger.Info("Worker service started successfully",
		slog.Int("concurrency", cfg.Worker.Concurrency),
		slog.Int("ops_port", cfg.Worker.OpsPort),
	)

	// Wait for interrupt signal or subsystem failure
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() { errChan <- group.Wait() }()

	var runErr error
	select {
	case sig := <-quit:
		appLogger.Info("Received signal, shutting down gracefully",
			slog.String("signal", sig.String()),
		)
	case runErr = <-errChan:
		if runErr != nil {
			appLogger.Error("Subsystem error",
				slog.Any("error", runErr),
			)
		}
	}

	// Drain the pool within the shutdown budget
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Worker.ShutdownTimeout)
	defer shutdownCancel()

	done := make(chan struct{})
	go func() {
		pool.Stop()
		dlHandler.Stop()
		poller.Stop()
		close(done)
	}()

	select {
	case <-done:
		appLogger.Info("Worker stopped gracefully")
	case <-shutdownCtx.Done():
		appLogger.Warn("Worker shutdown timeout exceeded, forcing exit")
	}

	if err := opsServer.Shutdown(shutdownCtx); err != nil {
		appLogger.Warn("Ops server shutdown failed",
			slog.Any("error", err),
		)
	}

	appLogger.Info("Worker service shutdown complete")
	return runErr
}

// newOpsServer serves worker health and the in-memory monitoring
// snapshot on a dedicated port.
func newOpsServer(port int, mon *monitor.Monitor, rabbitClient *rabbitmq.Client) *http.Server {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/health", func(c *gin.Context) {
		if !rabbitClient.IsConnected() {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unhealthy",
				"broker": "disconnected",
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "jobcore-worker",
		})
	})

	r.GET("/stats", func(c *gin.Context) {
		c.JSON(http.StatusOK, mon.Snapshot())
	})

	return &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: r,
	}
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

// initPostgreSQL initializes the PostgreSQL database client
func initPostgreSQL(cfg *config.DatabaseConfig, logger *slog.Logger) (*postgresql.Client, error) {
	dbConfig := &postgresql.Config{
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		SSLMode:         cfg.SSLMode,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
	}

	return postgresql.NewClient(dbConfig, logger)
}

// initRabbitMQ initializes the RabbitMQ client
func initRabbitMQ(cfg *config.RabbitMQConfig, logger *slog.Logger) (*rabbitmq.Client, error) {
	rabbitConfig := &rabbitmq.Config{
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		VHost:           cfg.VHost,
		Exchange:        cfg.Exchange,
		RetryAttempts:   cfg.Connection.RetryAttempts,
		RetryInterval:   cfg.Connection.RetryInterval,
		Heartbeat:       cfg.Connection.Heartbeat,
		ConfirmTimeout:  cfg.Connection.ConfirmTimeout,
		DefaultQueueTTL: cfg.Topology.DefaultQueueTTL,
		TTLSafetyFactor: cfg.Topology.TTLSafetyFactor,
		WaitBuckets:     cfg.Topology.WaitBuckets,
	}

	return rabbitmq.NewClient(rabbitConfig, logger)
}
