package persistence

import (
	"arbitrage-bot-go/internal/models"
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Stores bundles the repositories selected by the storage configuration.
type Stores struct {
	OrderLog OrderLogRepository
	Pending  PendingRepository
}

// Close closes every distinct repository.
func (s *Stores) Close() error {
	var firstErr error
	if err := s.OrderLog.Close(); err != nil {
		firstErr = err
	}
	if c, ok := s.Pending.(OrderLogRepository); ok && c == s.OrderLog {
		return firstErr
	}
	if err := s.Pending.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// Open builds the repositories for cfg. The pending set always lives in
// badger when a badger path is configured, otherwise in memory.
func Open(ctx context.Context, cfg models.StorageConfig, logger *zap.Logger) (*Stores, error) {
	var pending PendingRepository
	var badgerRepo *BadgerRepository
	if cfg.BadgerPath != "" {
		repo, err := NewBadgerRepository(cfg.BadgerPath)
		if err != nil {
			return nil, fmt.Errorf("open badger at %s: %w", cfg.BadgerPath, err)
		}
		badgerRepo, pending = repo, repo
	} else {
		pending = NewMemoryRepository()
	}

	switch cfg.Driver {
	case "memory", "":
		if mem, ok := pending.(*MemoryRepository); ok {
			return &Stores{OrderLog: mem, Pending: mem}, nil
		}
		return &Stores{OrderLog: NewMemoryRepository(), Pending: pending}, nil
	case "badger":
		if badgerRepo == nil {
			return nil, fmt.Errorf("storage driver badger requires badger_path")
		}
		return &Stores{OrderLog: badgerRepo, Pending: badgerRepo}, nil
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.PostgresURL)
		if err != nil {
			_ = pending.Close()
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		var log OrderLogRepository = NewPostgresRepository(pool)
		logger.Info("Connected to PostgreSQL order log")
		if cfg.RedisURL != "" {
			opt, err := redis.ParseURL(cfg.RedisURL)
			if err != nil {
				pool.Close()
				_ = pending.Close()
				return nil, fmt.Errorf("invalid redis url: %w", err)
			}
			log = NewCachedRepository(log, redis.NewClient(opt), cfg.CacheTTL)
			logger.Info("Redis order log cache enabled", zap.Duration("ttl", cfg.CacheTTL))
		}
		return &Stores{OrderLog: log, Pending: pending}, nil
	default:
		_ = pending.Close()
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}
