// Package backend opens the storage backend named in the configuration and
// hands out one store.Store per resource schema.
package backend

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/conduit-lang/weave/internal/config"
	"github.com/conduit-lang/weave/internal/orm/schema"
	"github.com/conduit-lang/weave/internal/orm/store"
	"github.com/conduit-lang/weave/internal/orm/store/dynamostore"
	"github.com/conduit-lang/weave/internal/orm/store/memory"
	"github.com/conduit-lang/weave/internal/orm/store/redisstore"
	"github.com/conduit-lang/weave/internal/orm/store/sqlstore"
)

// Backend is an open connection to one storage system
type Backend struct {
	cfg    config.StoreConfig
	logger *zap.Logger

	db     *sqlx.DB
	redis  *redis.Client
	dynamo *dynamodb.Client
}

// Open connects to the backend described by cfg. Nothing is dialed for the
// memory backend.
func Open(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (*Backend, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &Backend{cfg: cfg, logger: logger}

	switch cfg.Backend {
	case config.BackendMemory, "":
	case config.BackendSQLite:
		db, err := sqlx.Open("sqlite3", cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		if cfg.URL == ":memory:" || strings.Contains(cfg.URL, "mode=memory") {
			// each connection would get its own database
			db.SetMaxOpenConns(1)
		}
		b.db = db
	case config.BackendPostgres:
		db, err := sqlx.Open("pgx", cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		b.db = db
	case config.BackendRedis:
		b.redis = redis.NewClient(&redis.Options{Addr: cfg.URL})
	case config.BackendDynamoDB:
		var opts []func(*awsconfig.LoadOptions) error
		if cfg.Region != "" {
			opts = append(opts, awsconfig.WithRegion(cfg.Region))
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		b.dynamo = dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
			if cfg.URL != "" {
				o.BaseEndpoint = aws.String(cfg.URL)
			}
		})
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}

	logger.Debug("store backend opened", zap.String("backend", b.Name()))
	return b, nil
}

// Name returns the configured backend name
func (b *Backend) Name() string {
	if b.cfg.Backend == "" {
		return config.BackendMemory
	}
	return b.cfg.Backend
}

// For returns a store serving s. SQL tables are created when missing.
func (b *Backend) For(ctx context.Context, s *schema.ResourceSchema) (store.Store, error) {
	switch {
	case b.db != nil:
		st := sqlstore.New(b.db, s,
			sqlstore.WithTable(b.cfg.TablePrefix+s.TableName),
			sqlstore.WithLogger(b.logger))
		if err := st.EnsureTable(ctx); err != nil {
			return nil, fmt.Errorf("ensure table for %s: %w", s.Name, err)
		}
		return st, nil
	case b.redis != nil:
		return redisstore.New(b.redis, s,
			redisstore.WithPrefix(b.cfg.Prefix),
			redisstore.WithLogger(b.logger)), nil
	case b.dynamo != nil:
		return dynamostore.New(b.dynamo, s,
			dynamostore.WithTablePrefix(b.cfg.TablePrefix),
			dynamostore.WithLogger(b.logger)), nil
	default:
		return memory.New(s, memory.WithLogger(b.logger)), nil
	}
}

// Ping checks that the backend is reachable
func (b *Backend) Ping(ctx context.Context) error {
	switch {
	case b.db != nil:
		return b.db.PingContext(ctx)
	case b.redis != nil:
		return b.redis.Ping(ctx).Err()
	case b.dynamo != nil:
		_, err := b.dynamo.ListTables(ctx, &dynamodb.ListTablesInput{Limit: aws.Int32(1)})
		return err
	}
	return nil
}

// Close releases connections held by the backend
func (b *Backend) Close() error {
	switch {
	case b.db != nil:
		return b.db.Close()
	case b.redis != nil:
		return b.redis.Close()
	}
	return nil
}
