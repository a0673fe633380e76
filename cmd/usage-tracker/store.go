package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/vnmchuo/usage-tracker/config"
	"github.com/vnmchuo/usage-tracker/internal/billing"
	"github.com/vnmchuo/usage-tracker/internal/kv"
	"github.com/vnmchuo/usage-tracker/internal/org"
)

type migrator interface {
	Migrate(ctx context.Context) error
}

// tables holds the usage and organization tables of the configured backend.
type tables struct {
	usage kv.Table
	orgs  kv.Table
	close func()
}

func openTables(ctx context.Context, cfg *config.Config, rdb *redis.Client, logger *zap.Logger) (*tables, error) {
	usageSchema := billing.UsageSchema(cfg.UsageTable)
	orgSchema := org.OrgSchema(cfg.OrgTable)
	t := &tables{close: func() {}}

	switch cfg.StoreBackend {
	case config.BackendMemory:
		logger.Warn("using in-memory store, data is lost on restart")
		t.usage = kv.NewMemoryTable(usageSchema)
		t.orgs = kv.NewMemoryTable(orgSchema)

	case config.BackendRedis:
		t.usage = kv.NewRedisTable(rdb, usageSchema)
		t.orgs = kv.NewRedisTable(rdb, orgSchema)

	case config.BackendPostgres:
		pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("failed to connect postgres: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("failed to ping postgres: %w", err)
		}
		logger.Info("PostgreSQL connected")
		t.usage = kv.NewPostgresTable(pool, usageSchema)
		t.orgs = kv.NewPostgresTable(pool, orgSchema)
		t.close = pool.Close

	case config.BackendSQLite:
		db, err := kv.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		logger.Info("SQLite opened", zap.String("path", cfg.SQLitePath))
		t.usage = kv.NewSQLiteTable(db, usageSchema)
		t.orgs = kv.NewSQLiteTable(db, orgSchema)
		t.close = func() { _ = db.Close() }

	case config.BackendDynamoDB:
		client, err := kv.NewDynamoClient(ctx, cfg.DynamoDBRegion, cfg.DynamoDBEndpoint)
		if err != nil {
			return nil, err
		}
		t.usage = kv.NewDynamoTable(client, usageSchema)
		t.orgs = kv.NewDynamoTable(client, orgSchema)

	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}

	for _, table := range []kv.Table{t.usage, t.orgs} {
		if m, ok := table.(migrator); ok {
			if err := m.Migrate(ctx); err != nil {
				t.close()
				return nil, fmt.Errorf("failed to migrate %s: %w", table.Schema().Name, err)
			}
		}
	}

	if cfg.StoreBreaker {
		t.usage = kv.NewBreakerTable(t.usage)
		t.orgs = kv.NewBreakerTable(t.orgs)
	}
	return t, nil
}
