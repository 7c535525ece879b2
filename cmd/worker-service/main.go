package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/sqs"
	"github.com/aws/aws-sdk-go/service/ssm"
	"github.com/joho/godotenv"

	"github.com/cuongbtq/transcriptomics-atlas/internal/config"
	"github.com/cuongbtq/transcriptomics-atlas/internal/ledger"
	"github.com/cuongbtq/transcriptomics-atlas/internal/params"
	"github.com/cuongbtq/transcriptomics-atlas/internal/worker"
	"github.com/cuongbtq/transcriptomics-atlas/internal/worker/command"
	"github.com/cuongbtq/transcriptomics-atlas/internal/worker/source"
	"github.com/cuongbtq/transcriptomics-atlas/internal/worker/store"
	"github.com/cuongbtq/transcriptomics-atlas/shared/awsclient"
	"github.com/cuongbtq/transcriptomics-atlas/shared/logger"
	"github.com/cuongbtq/transcriptomics-atlas/shared/rabbitmq"
)

// commandWaitDelay bounds how long a killed tool may hold its output pipes open
const commandWaitDelay = 10 * time.Second

type closableSource interface {
	worker.JobSource
	Close() error
}

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

	// Bootstrap logger, replaced once the CloudWatch sink is available
	appLogger, err := initLogger(&cfg.Logging, nil)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	awsClient, err := awsclient.NewClient(ctx, &awsclient.Config{
		Region:              cfg.AWS.Region,
		Endpoint:            cfg.AWS.Endpoint,
		UseInstanceMetadata: cfg.AWS.UseInstanceMetadata,
		MaxRetries:          cfg.AWS.MaxRetries,
	}, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize aws client: %w", err)
	}

	if cfg.Logging.Output == config.LogOutputCloudWatch {
		stream := cfg.Logging.CloudWatch.LogStream
		if stream == "" {
			stream = awsClient.InstanceID
		}
		sink, err := logger.NewCloudWatchWriter(ctx,
			cloudwatchlogs.New(awsClient.Session),
			cfg.Logging.CloudWatch.LogGroup,
			stream,
			cfg.Logging.CloudWatch.SendInterval,
		)
		if err != nil {
			return fmt.Errorf("failed to initialize cloudwatch logging: %w", err)
		}
		defer sink.Close()

		appLogger.Close()
		appLogger, err = initLogger(&cfg.Logging, sink)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
	}
	defer appLogger.Close()

	appLogger.Info("Starting worker service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
		slog.String("region", awsClient.Region),
		slog.String("instance_id", awsClient.InstanceID),
	)

	// Resolve queue and bucket names
	var resolver params.Resolver
	if cfg.Parameters.Source == config.ParameterSourceStatic {
		resolver = params.StaticResolver{
			cfg.Parameters.QueueNameKey:  cfg.Parameters.QueueName,
			cfg.Parameters.BucketNameKey: cfg.Parameters.BucketName,
		}
	} else {
		resolver = params.NewSSMResolver(ssm.New(awsClient.Session), cfg.Parameters.WithDecryption, appLogger.Logger)
	}

	resolved, err := params.ResolveAll(ctx, resolver, cfg.Parameters.QueueNameKey, cfg.Parameters.BucketNameKey)
	if err != nil {
		return err
	}

	appLogger.Info("Resolved parameters",
		slog.String("queue", resolved.QueueName),
		slog.String("bucket", resolved.BucketName),
	)

	jobSource, err := initSource(ctx, cfg, awsClient, resolved.QueueName, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize job source: %w", err)
	}
	defer jobSource.Close()

	resultStore := store.NewS3Store(s3.New(awsClient.Session), store.Config{
		Bucket:        resolved.BucketName,
		CheckTimeout:  cfg.Storage.CheckTimeout,
		UploadTimeout: cfg.Storage.UploadTimeout,
	}, appLogger.Logger)

	var recorder ledger.Recorder = ledger.Nop{}
	if cfg.Ledger.Backend != config.LedgerBackendNone {
		handle, err := ledger.Open(ctx, cfg.Ledger, awsClient.Session, appLogger.Logger)
		if err != nil {
			return fmt.Errorf("failed to open ledger: %w", err)
		}
		defer handle.Close()
		recorder = handle.Ledger
	}

	processor := worker.NewProcessor(&worker.ProcessorConfig{
		Logger:        appLogger.Logger,
		Store:         resultStore,
		Runner:        command.NewExecRunner(commandWaitDelay, appLogger.Logger),
		Recorder:      recorder,
		Pipeline:      cfg.Pipeline,
		KeyPrefix:     cfg.Storage.KeyPrefix,
		ExecutionMode: cfg.Worker.ExecutionMode,
		InstanceID:    awsClient.InstanceID,
	})

	workerInstance := worker.NewWorker(&worker.Config{
		Logger:         appLogger.Logger,
		Source:         jobSource,
		Processor:      processor,
		MaxMessages:    cfg.Worker.MaxMessages,
		ReceiveBackoff: cfg.Worker.ReceiveBackoff,
		WorkerID:       awsClient.InstanceID,
	})

	// Start worker in a goroutine
	errChan := make(chan error, 1)
	go func() {
		errChan <- workerInstance.Start(ctx)
	}()

	appLogger.Info("Worker service started successfully")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		appLogger.Info("Received signal, shutting down gracefully",
			slog.String("signal", sig.String()),
		)
	case err := <-errChan:
		if err != nil {
			appLogger.Error("Worker error",
				slog.Any("error", err),
			)
		}
		return err
	}

	// Cancel context to stop worker
	cancel()

	// Give worker time to shutdown gracefully
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Worker.ShutdownTimeout)
	defer shutdownCancel()

	done := make(chan struct{})
	go func() {
		workerInstance.Stop()
		close(done)
	}()

	select {
	case <-done:
		appLogger.Info("Worker stopped gracefully")
	case <-shutdownCtx.Done():
		appLogger.Warn("Worker shutdown timeout exceeded, forcing exit")
	}

	appLogger.Info("Worker service shutdown complete")
	return nil
}

// initLogger initializes and configures the application logger
func initLogger(cfg *config.LoggingConfig, sink *logger.CloudWatchWriter) (*logger.Logger, error) {
	loggerCfg := &logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
	}
	if sink != nil {
		loggerCfg.Sink = sink
	}

	return logger.New(loggerCfg)
}

// initSource connects the configured queue backend
func initSource(ctx context.Context, cfg *config.Config, awsClient *awsclient.Client, queueName string, logger *slog.Logger) (closableSource, error) {
	if cfg.Queue.Backend == config.QueueBackendRabbitMQ {
		rmq := cfg.Queue.RabbitMQ
		client, err := rabbitmq.NewClient(ctx, &rabbitmq.Config{
			Host:              rmq.Host,
			Port:              rmq.Port,
			User:              rmq.User,
			Password:          rmq.Password,
			VHost:             rmq.VHost,
			QueueName:         queueName,
			QueueDurable:      rmq.Queue.Durable,
			QueueAutoDelete:   rmq.Queue.AutoDelete,
			QueueExclusive:    rmq.Queue.Exclusive,
			RetryAttempts:     rmq.Connection.RetryAttempts,
			RetryInterval:     rmq.Connection.RetryInterval,
			Heartbeat:         rmq.Connection.Heartbeat,
			ConnectionTimeout: rmq.Connection.ConnectionTimeout,
		}, logger)
		if err != nil {
			return nil, err
		}

		return source.NewRabbitMQSource(client, source.RabbitMQConfig{
			QueueName:    queueName,
			WaitTime:     cfg.Queue.WaitTime,
			PollInterval: rmq.PollInterval,
		}, logger), nil
	}

	sqsSource, err := source.NewSQSSource(ctx, sqs.New(awsClient.Session), source.SQSConfig{
		QueueName:         queueName,
		WaitTime:          cfg.Queue.WaitTime,
		VisibilityTimeout: cfg.Queue.VisibilityTimeout,
	}, logger)
	if err != nil {
		return nil, err
	}
	return sqsSource, nil
}
