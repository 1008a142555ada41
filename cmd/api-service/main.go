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

	"github.com/htquang/jobcore/internal/api/handler"
	"github.com/htquang/jobcore/internal/api/router"
	"github.com/htquang/jobcore/internal/config"
	"github.com/htquang/jobcore/internal/deadletter"
	"github.com/htquang/jobcore/internal/monitor"
	"github.com/htquang/jobcore/internal/registry"
	"github.com/htquang/jobcore/internal/submit"
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

	if err := cfg.ValidateAPIConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	appLogger.Info("Starting API service",
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

	// Queue depth sampling for the stats endpoint
	mon := monitor.New()
	poller := monitor.NewDepthPoller(rabbitClient, mon, appLogger.Logger,
		monitoredQueues(reg), 15*time.Second)
	poller.Start()
	defer poller.Stop()

	// Initialize router
	r := initRouter(cfg.App.Environment, &handler.Dependencies{
		Logger:      appLogger.Logger,
		Submitter:   submit.New(reg, rabbitClient, appLogger.Logger),
		DeadLetters: deadletter.NewStore(dbClient.GetDB()),
		Monitor:     mon,
		DB:          dbClient,
		Broker:      rabbitClient,
	})

	// Create HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in goroutine
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Error("Server failed to start",
				slog.Any("error", err),
			)
			os.Exit(1)
		}
	}()

	appLogger.Info("API service is running",
		slog.String("address", addr),
	)

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		appLogger.Error("Server forced to shutdown",
			slog.Any("error", err),
		)
		return err
	}

	appLogger.Info("Server shutdown complete")
	return nil
}

// monitoredQueues lists every work queue plus the dead queue.
func monitoredQueues(reg *registry.Registry) []string {
	queues := []string{"jobs.high", "jobs.normal", "jobs.low", rabbitmq.DeadQueue}
	for _, def := range reg.Definitions() {
		if def.DedicatedQueue {
			queues = append(queues, def.QueueName(def.DefaultPriority))
		}
	}
	return queues
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

// initRouter initializes the Gin router with all routes and middleware
func initRouter(environment string, deps *handler.Dependencies) *gin.Engine {
	if environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	return router.SetupRouter(deps)
}
