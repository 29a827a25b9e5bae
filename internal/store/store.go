// Package store selects and opens the user repository named by the configured DSN.
package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/sirupsen/logrus"

	"interview-auth/internal/config"
	"interview-auth/internal/repository"
	"interview-auth/internal/repository/postgres"
	"interview-auth/internal/repository/s3store"
	"interview-auth/internal/repository/sqlite"
)

// Backend names a storage implementation.
type Backend string

const (
	BackendSQLite   Backend = "sqlite"
	BackendPostgres Backend = "postgres"
	BackendS3       Backend = "s3"
)

// BackendFor picks the backend from the DSN scheme. Anything without a known
// scheme is treated as a sqlite file path.
func BackendFor(dsn string) Backend {
	lower := strings.ToLower(strings.TrimSpace(dsn))
	switch {
	case strings.HasPrefix(lower, "postgres://"), strings.HasPrefix(lower, "postgresql://"):
		return BackendPostgres
	case strings.HasPrefix(lower, "s3://"):
		return BackendS3
	default:
		return BackendSQLite
	}
}

// Open connects to the configured store. The caller runs Init and owns Close.
func Open(ctx context.Context, cfg config.Config, logger logrus.FieldLogger) (repository.UserRepository, error) {
	dsn := strings.TrimSpace(cfg.Database.DSN)
	if dsn == "" {
		return nil, fmt.Errorf("database dsn is required")
	}

	switch BackendFor(dsn) {
	case BackendPostgres:
		db, err := postgres.Open(ctx, dsn, logger)
		if err != nil {
			return nil, err
		}
		logger.Info("using postgres user store")
		return postgres.NewUserRepository(db), nil

	case BackendS3:
		bucket, prefix, err := s3store.ParseDSN(dsn)
		if err != nil {
			return nil, err
		}
		client, err := newS3Client(ctx, cfg)
		if err != nil {
			return nil, err
		}
		logger.Infof("using s3 bucket %s/%s (region %s)", bucket, prefix, cfg.Storage.Region)
		return s3store.NewUserRepository(client, bucket, prefix), nil

	default:
		db, err := sqlite.Open(dsn)
		if err != nil {
			return nil, err
		}
		logger.Infof("using sqlite user store at %s", strings.TrimPrefix(dsn, "sqlite://"))
		return sqlite.NewUserRepository(db), nil
	}
}

func newS3Client(ctx context.Context, cfg config.Config) (*s3.Client, error) {
	loadOpts := []func(*awscfg.LoadOptions) error{
		awscfg.WithRegion(cfg.Storage.Region),
	}
	if cfg.AWS.Profile != "" {
		loadOpts = append(loadOpts, awscfg.WithSharedConfigProfile(cfg.AWS.Profile))
	}

	awsCfg, err := awscfg.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Storage.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Storage.Endpoint)
			o.UsePathStyle = true
		}
	}), nil
}
