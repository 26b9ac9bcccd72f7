package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-redis/redis/v8"

	"github.com/Dominik5397/Team-Task-Manager/pkg/analytics"
	"github.com/Dominik5397/Team-Task-Manager/pkg/audit"
	"github.com/Dominik5397/Team-Task-Manager/pkg/config"
	"github.com/Dominik5397/Team-Task-Manager/pkg/observability"
	"github.com/Dominik5397/Team-Task-Manager/pkg/retention"
)

// Storage is an opened audit store and the counts that go with it
type Storage struct {
	Store  audit.Store
	Counts analytics.Counts

	// DB is nil for memory storage
	DB *sql.DB
	// Observer feeds in-memory counts; nil when counts come from the database
	Observer audit.SnapshotObserver
}

// Close releases the database pool, if any
func (s *Storage) Close() error {
	if s.DB == nil {
		return nil
	}
	return s.DB.Close()
}

// OpenStorage opens the store selected by cfg.Type. PostgreSQL storage reads
// live counts from the tasks and users tables of the same database; memory
// storage derives them from recorded snapshots.
func OpenStorage(ctx context.Context, cfg config.StorageConfig, metrics *observability.Metrics) (*Storage, error) {
	switch cfg.Type {
	case "memory":
		counts := analytics.NewSnapshotCounts()
		return &Storage{
			Store:    audit.NewMemoryStore(),
			Counts:   counts,
			Observer: counts,
		}, nil

	case "postgres":
		db, err := audit.OpenPostgres(ctx, audit.PoolConfig{
			URL:         cfg.PostgresURL,
			MaxConns:    cfg.MaxConns,
			MinConns:    cfg.MinConns,
			Timeout:     cfg.Timeout,
			MaxLifetime: cfg.MaxLifetime,
			MaxIdleTime: cfg.MaxIdleTime,
		})
		if err != nil {
			return nil, err
		}
		store, err := audit.NewDBStore(db)
		if err != nil {
			db.Close()
			return nil, err
		}
		return &Storage{
			Store:  store.WithMetrics(metrics),
			Counts: analytics.NewSQLCounts(db),
			DB:     db,
		}, nil

	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.Type)
	}
}

// OpenStatsCache creates the cache selected by cfg.Type. The returned client
// is non-nil only for the redis cache and must be closed by the caller.
// Type "none" returns a nil cache.
func OpenStatsCache(ctx context.Context, cfg config.StatsCacheConfig) (audit.StatsCache, *redis.Client, error) {
	switch cfg.Type {
	case "none":
		return nil, nil, nil

	case "lru":
		return audit.NewLRUStatsCache(cfg.Size, cfg.TTL), nil, nil

	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.RedisAddr, err)
		}
		return audit.NewRedisStatsCache(client, "", cfg.TTL), client, nil

	default:
		return nil, nil, fmt.Errorf("unknown stats cache type: %s", cfg.Type)
	}
}

// NewService wires the audit service over storage
func NewService(storage *Storage, cache audit.StatsCache, logger *observability.Logger, metrics *observability.Metrics, instruments *observability.OTelInstruments) *audit.Service {
	opts := []audit.Option{
		audit.WithLogger(logger),
		audit.WithMetrics(metrics),
		audit.WithInstruments(instruments),
	}
	if cache != nil {
		opts = append(opts, audit.WithStatsCache(cache))
	}
	if storage.Observer != nil {
		opts = append(opts, audit.WithSnapshotObserver(storage.Observer))
	}
	return audit.NewService(storage.Store, opts...)
}

// NewRetentionManager creates the purge manager, archiving to S3 when enabled
func NewRetentionManager(ctx context.Context, cfg config.RetentionConfig, service *audit.Service, logger *observability.Logger, metrics *observability.Metrics) (*retention.Manager, error) {
	opts := []retention.Option{
		retention.WithLogger(logger),
		retention.WithMetrics(metrics),
		retention.WithChunkSize(cfg.ArchiveChunkSize),
	}

	if cfg.ArchiveEnabled {
		archiver, err := retention.NewS3Archiver(ctx, retention.S3Config{
			Bucket:       cfg.ArchiveBucket,
			Prefix:       cfg.ArchivePrefix,
			Region:       cfg.ArchiveRegion,
			Endpoint:     cfg.ArchiveEndpoint,
			AccessKey:    cfg.ArchiveAccessKey,
			SecretKey:    cfg.ArchiveSecretKey,
			UsePathStyle: cfg.ArchiveUsePathStyle,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create archiver: %w", err)
		}
		opts = append(opts, retention.WithArchiver(archiver))
		logger.WithFields(map[string]any{
			"bucket": cfg.ArchiveBucket,
			"prefix": cfg.ArchivePrefix,
		}).Info("Archiving purged entries to S3")
	}

	return retention.NewManager(service, opts...), nil
}

// ErrMemoryStorage is returned by components that need a store shared
// between processes
var ErrMemoryStorage = errors.New("memory storage cannot be shared between processes")
