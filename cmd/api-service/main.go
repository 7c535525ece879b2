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

	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/cuongbtq/transcriptomics-atlas/internal/api/handler"
	"github.com/cuongbtq/transcriptomics-atlas/internal/api/router"
	"github.com/cuongbtq/transcriptomics-atlas/internal/config"
	"github.com/cuongbtq/transcriptomics-atlas/internal/ledger"
	"github.com/cuongbtq/transcriptomics-atlas/shared/awsclient"
	"github.com/cuongbtq/transcriptomics-atlas/shared/logger"
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
	defer appLogger.Close()

	appLogger.Info("Starting API service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	startCtx, startCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer startCancel()

	// Open the run ledger
	handle, err := initLedger(startCtx, cfg, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to open ledger: %w", err)
	}
	defer handle.Close()

	appLogger.Info("Ledger connection established",
		slog.String("backend", cfg.Ledger.Backend),
	)

	// Initialize router
	r := initRouter(cfg.App.Environment, appLogger.Logger, handle)

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
		slog.Duration("read_timeout", cfg.Server.ReadTimeout),
		slog.Duration("write_timeout", cfg.Server.WriteTimeout),
	)

	// Start server in goroutine
	errChan := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
	case err := <-errChan:
		appLogger.Error("Server failed to start",
			slog.Any("error", err),
		)
		return err
	}

	appLogger.Info("Shutting down server...")

	// Graceful shutdown with timeout
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

// initLedger opens the configured ledger backend. An AWS session is only built for DynamoDB.
func initLedger(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*ledger.Handle, error) {
	var sess *session.Session
	if cfg.Ledger.Backend == config.LedgerBackendDynamoDB {
		awsClient, err := awsclient.NewClient(ctx, &awsclient.Config{
			Region:              cfg.AWS.Region,
			Endpoint:            cfg.AWS.Endpoint,
			UseInstanceMetadata: cfg.AWS.UseInstanceMetadata,
			MaxRetries:          cfg.AWS.MaxRetries,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize aws client: %w", err)
		}
		sess = awsClient.Session
	}

	return ledger.Open(ctx, cfg.Ledger, sess, logger)
}

// initRouter initializes the Gin router with all routes and middleware
func initRouter(environment string, logger *slog.Logger, handle *ledger.Handle) *gin.Engine {
	// Set Gin mode based on environment
	if environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	// Initialize handler dependencies
	handlerDeps := &handler.Dependencies{
		Logger: logger,
		Ledger: handle.Ledger,
		Health: handle.Health,
	}

	// Setup router
	return router.SetupRouter(handlerDeps)
}
