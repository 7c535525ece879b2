package ledger

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/dynamodb"

	"github.com/cuongbtq/transcriptomics-atlas/internal/config"
	"github.com/cuongbtq/transcriptomics-atlas/shared/postgresql"
)

// HealthChecker reports whether the backing store is reachable
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Handle is an opened ledger and the resources behind it
type Handle struct {
	Ledger Ledger
	Health HealthChecker
	close  func() error
}

// Close releases the backing connection
func (h *Handle) Close() error {
	if h.close == nil {
		return nil
	}
	return h.close()
}

// Open connects the configured backend. sess is only used by the dynamodb backend.
func Open(ctx context.Context, cfg config.LedgerConfig, sess *session.Session, logger *slog.Logger) (*Handle, error) {
	switch cfg.Backend {
	case config.LedgerBackendDynamoDB:
		if sess == nil {
			return nil, fmt.Errorf("dynamodb ledger requires an AWS session")
		}
		logger.Info("Using DynamoDB ledger",
			slog.String("table", cfg.DynamoDB.Table),
		)
		return &Handle{Ledger: NewDynamoDBLedger(dynamodb.New(sess), cfg.DynamoDB.Table, logger)}, nil

	case config.LedgerBackendPostgres:
		db := cfg.Database
		pg, err := postgresql.NewClient(ctx, &postgresql.Config{
			Host:            db.Host,
			Port:            db.Port,
			User:            db.User,
			Password:        db.Password,
			Database:        db.Database,
			SSLMode:         db.SSLMode,
			MaxOpenConns:    db.MaxOpenConns,
			MaxIdleConns:    db.MaxIdleConns,
			ConnMaxLifetime: db.ConnMaxLifetime,
			ConnMaxIdleTime: db.ConnMaxIdleTime,
		}, logger)
		if err != nil {
			return nil, err
		}

		l := NewPostgresLedger(pg.GetDB(), logger)
		if err := l.EnsureSchema(ctx); err != nil {
			pg.Close()
			return nil, err
		}
		return &Handle{Ledger: l, Health: pg, close: pg.Close}, nil

	default:
		return nil, fmt.Errorf("ledger backend %q cannot be opened", cfg.Backend)
	}
}
