// Package persistence selects and assembles the storage backend: PostgreSQL
// or the in-memory store, optionally fronted by Redis for the stage cache
// and the per-student lock.
package persistence

import (
	"context"
	"fmt"
	"log/slog"

	goredis "github.com/redis/go-redis/v9"

	"github.com/tap-lms/journey-hub/config"
	"github.com/tap-lms/journey-hub/internal/domain/engagement"
	"github.com/tap-lms/journey-hub/internal/domain/journey"
	"github.com/tap-lms/journey-hub/internal/domain/student"
	"github.com/tap-lms/journey-hub/internal/infrastructure/persistence/memory"
	"github.com/tap-lms/journey-hub/internal/infrastructure/persistence/postgres"
	"github.com/tap-lms/journey-hub/internal/infrastructure/persistence/redis"
	"github.com/tap-lms/journey-hub/pkg/keylock"
)

// Backend holds the repositories the application is wired with.
type Backend struct {
	Driver string

	Students        student.Repository
	Stages          redis.StageStore
	Progress        journey.ProgressRepository
	Journeys        journey.JourneyRepository
	Transitions     journey.TransitionRepository
	InteractionLogs journey.InteractionLogRepository
	Engagement      engagement.EngagementRepository
	Learning        engagement.LearningRepository

	// Locker serializes events per student.
	Locker journey.Locker

	// Checks are named connectivity probes for the health endpoint.
	Checks map[string]func(context.Context) error

	// Postgres is set for the postgres driver (migrations).
	Postgres *postgres.Connection

	closers []func()
}

// Open connects the configured store and, when enabled, Redis.
func Open(ctx context.Context, cfg *config.Config, log *slog.Logger) (*Backend, error) {
	if log == nil {
		log = slog.Default()
	}

	b := &Backend{
		Driver: cfg.Store.Driver,
		Locker: keylock.New(),
		Checks: make(map[string]func(context.Context) error),
	}

	switch cfg.Store.Driver {
	case config.StoreMemory:
		b.useMemory(memory.NewStore())
	case config.StorePostgres:
		conn, err := postgres.NewConnection(ctx, PostgresConfig(cfg.Database))
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, conn.Close)
		b.usePostgres(conn)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}

	if cfg.Redis.Enabled {
		client, err := redis.NewClient(ctx, RedisConfig(cfg.Redis))
		if err != nil {
			b.Close()
			return nil, err
		}
		b.closers = append(b.closers, func() { _ = client.Close() })
		b.useRedis(client, cfg.Journey, log)
	}

	log.Info("storage ready", "driver", b.Driver, "redis", cfg.Redis.Enabled)
	return b, nil
}

func (b *Backend) useMemory(s *memory.Store) {
	b.Students = s.Students()
	b.Stages = s.Stages()
	b.Progress = s.Progress()
	b.Journeys = s.Journeys()
	b.Transitions = s.Transitions()
	b.InteractionLogs = s.InteractionLogs()
	b.Engagement = s.Engagement()
	b.Learning = s.Learning()
	b.Checks["store"] = s.Ping
}

func (b *Backend) usePostgres(conn *postgres.Connection) {
	s := postgres.NewStore(conn)
	b.Postgres = conn
	b.Students = s.Students()
	b.Stages = s.Stages()
	b.Progress = s.Progress()
	b.Journeys = s.Journeys()
	b.Transitions = s.Transitions()
	b.InteractionLogs = s.InteractionLogs()
	b.Engagement = s.Engagement()
	b.Learning = s.Learning()
	b.Checks["store"] = s.Ping
}

func (b *Backend) useRedis(client *goredis.Client, jc config.JourneyConfig, log *slog.Logger) {
	b.Stages = redis.NewStageCache(b.Stages, redis.NewCache(client), jc.StageCacheTTL, log)
	b.Locker = redis.NewLocker(client, jc.LockTTL, jc.LockWait, log)
	b.Checks["redis"] = func(ctx context.Context) error { return client.Ping(ctx).Err() }
}

// Close releases connections in reverse order of opening.
func (b *Backend) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
	b.closers = nil
}

// PostgresConfig maps application settings to the connection config.
func PostgresConfig(c config.DatabaseConfig) postgres.Config {
	pc := postgres.DefaultConfig()
	pc.URL = c.URL
	pc.Host = c.Host
	pc.Port = c.Port
	pc.Database = c.Name
	pc.User = c.User
	pc.Password = c.Password
	pc.SSLMode = c.SSLMode
	pc.MaxConns = int32(c.MaxConns)
	pc.MinConns = int32(c.MinConns)
	pc.MaxConnLifetime = c.ConnMaxLifetime
	pc.MaxConnIdleTime = c.ConnMaxIdleTime
	pc.ConnectTimeout = c.ConnectTimeout
	return pc
}

// RedisConfig maps application settings to the client config.
func RedisConfig(c config.RedisConfig) redis.Config {
	rc := redis.DefaultConfig()
	rc.Host = c.Host
	rc.Port = c.Port
	rc.Password = c.Password
	rc.DB = c.DB
	rc.PoolSize = c.PoolSize
	rc.MinIdleConns = c.MinIdleConns
	rc.DialTimeout = c.DialTimeout
	rc.ReadTimeout = c.ReadTimeout
	rc.WriteTimeout = c.WriteTimeout
	return rc
}
