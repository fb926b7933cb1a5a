package factory

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/mikey/tool-scanner/internal/adapters/redisstore"
	"github.com/mikey/tool-scanner/internal/adapters/store/memory"
	"github.com/mikey/tool-scanner/internal/adapters/store/sqlstore"
	"github.com/mikey/tool-scanner/internal/config"
	"github.com/mikey/tool-scanner/internal/core"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// StoreFactory creates persistence, quota and locking backends based on configuration
type StoreFactory struct {
	cfg    *config.Config
	logger *zap.Logger

	redisOnce sync.Once
	redis     *redis.Client
	redisErr  error
}

// NewStoreFactory creates a new store factory
func NewStoreFactory(cfg *config.Config, logger *zap.Logger) *StoreFactory {
	return &StoreFactory{
		cfg:    cfg,
		logger: logger,
	}
}

// CreateStore opens the store selected by store.type
func (f *StoreFactory) CreateStore() (core.Store, error) {
	storeCfg := f.cfg.GetStore()

	switch storeCfg.Type {
	case "memory":
		return memory.NewStore(f.logger, storeCfg.Retention, storeCfg.CleanupFrequency), nil
	case "sqlite":
		path := storeCfg.DSN
		if path == "" {
			path = storeCfg.SQLitePath
		}
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create SQLite directory: %w", err)
		}
		return f.openSQL("sqlite", path, storeCfg)
	case "mysql", "postgres":
		if storeCfg.DSN == "" {
			return nil, fmt.Errorf("store.dsn is required for %s", storeCfg.Type)
		}
		return f.openSQL(storeCfg.Type, storeCfg.DSN, storeCfg)
	default:
		return nil, fmt.Errorf("unsupported store type: %s", storeCfg.Type)
	}
}

func (f *StoreFactory) openSQL(dialect, dsn string, storeCfg config.StoreConfig) (core.Store, error) {
	store, err := sqlstore.Open(context.Background(), sqlstore.Options{
		Dialect:     dialect,
		DSN:         dsn,
		Retention:   storeCfg.Retention,
		CleanupFreq: storeCfg.CleanupFrequency,
		MaxConns:    storeCfg.MaxConns,
	}, f.logger)
	if err != nil {
		return nil, err
	}
	return store, nil
}

// CreateQuotaRepository returns the quota counters selected by quota.backend
func (f *StoreFactory) CreateQuotaRepository(store core.Store) (core.QuotaRepository, error) {
	switch backend := f.cfg.GetQuota().Backend; backend {
	case "", "store":
		return store, nil
	case "redis":
		client, err := f.redisClient()
		if err != nil {
			return nil, err
		}
		redisCfg := f.cfg.GetRedis()
		f.logger.Info("Using Redis quota counters")
		return redisstore.NewQuotaStore(client, redisCfg.KeyPrefix, redisCfg.QuotaTTL, f.logger), nil
	default:
		return nil, fmt.Errorf("unsupported quota backend: %s", backend)
	}
}

// CreateVendorLocker returns a Redis lease lock when redis.url is set, otherwise an in-process lock
func (f *StoreFactory) CreateVendorLocker() (core.VendorLocker, error) {
	if f.cfg.GetRedis().URL == "" {
		return core.NewKeyedMutex(), nil
	}
	client, err := f.redisClient()
	if err != nil {
		return nil, err
	}
	redisCfg := f.cfg.GetRedis()
	f.logger.Info("Using Redis vendor locks")
	return redisstore.NewVendorLocker(client, redisCfg.KeyPrefix, redisCfg.LockTTL, f.logger), nil
}

func (f *StoreFactory) redisClient() (*redis.Client, error) {
	f.redisOnce.Do(func() {
		url := f.cfg.GetRedis().URL
		if url == "" {
			f.redisErr = fmt.Errorf("redis.url is not configured")
			return
		}
		f.redis, f.redisErr = redisstore.NewClient(context.Background(), url)
	})
	return f.redis, f.redisErr
}

// Close releases the shared Redis client
func (f *StoreFactory) Close() error {
	if f.redis != nil {
		return f.redis.Close()
	}
	return nil
}
