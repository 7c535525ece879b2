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

	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/joho/godotenv"

	"github.com/cuongbtq/transcriptomics-atlas/internal/config"
	"github.com/cuongbtq/transcriptomics-atlas/internal/ledger"
	"github.com/cuongbtq/transcriptomics-atlas/internal/report"
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

	defaultConfigPath := os.Getenv("METADATA_DUMP_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/metadata-dump/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	output := flag.String("output", "", "Override the CSV output path")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if *output != "" {
		cfg.Dump.Output = *output
	}

	if err := cfg.ValidateDumpConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := logger.New(&logger.Config{
		Level:        cfg.Logging.Level,
		Format:       cfg.Logging.Format,
		Output:       cfg.Logging.Output,
		EnableSource: cfg.Logging.EnableCaller,
		TimeFormat:   time.RFC3339,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var sess *session.Session
	if cfg.Ledger.Backend == config.LedgerBackendDynamoDB {
		awsClient, err := awsclient.NewClient(ctx, &awsclient.Config{
			Region:              cfg.AWS.Region,
			Endpoint:            cfg.AWS.Endpoint,
			UseInstanceMetadata: cfg.AWS.UseInstanceMetadata,
			MaxRetries:          cfg.AWS.MaxRetries,
		}, appLogger.Logger)
		if err != nil {
			return fmt.Errorf("failed to initialize aws client: %w", err)
		}
		sess = awsClient.Session
	}

	handle, err := ledger.Open(ctx, cfg.Ledger, sess, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to open ledger: %w", err)
	}
	defer handle.Close()

	appLogger.Info("Dumping metadata table",
		slog.String("backend", cfg.Ledger.Backend),
		slog.String("output", cfg.Dump.Output),
	)

	if _, err := report.NewDumper(handle.Ledger, cfg.Dump.PageSize, appLogger.Logger).Dump(ctx, cfg.Dump.Output); err != nil {
		return fmt.Errorf("failed to dump metadata table: %w", err)
	}

	return nil
}
