package persistence

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tap-lms/journey-hub/config"
	"github.com/tap-lms/journey-hub/internal/domain/journey"
	"github.com/tap-lms/journey-hub/pkg/keylock"
)

func TestOpen_Memory(t *testing.T) {
	ctx := context.Background()
	cfg := &config.Config{Store: config.StoreConfig{Driver: config.StoreMemory}}

	b, err := Open(ctx, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	defer b.Close()

	assert.IsType(t, &keylock.Locker{}, b.Locker)
	assert.Nil(t, b.Postgres)
	require.Contains(t, b.Checks, "store")
	assert.NoError(t, b.Checks["store"](ctx))

	require.NoError(t, b.Stages.UpsertOnboardingStage(ctx, &journey.OnboardingStage{StageName: "S1", Active: true}))
	_, err = b.Stages.GetOnboardingStage(ctx, "S1")
	assert.NoError(t, err)
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), &config.Config{Store: config.StoreConfig{Driver: "sqlite"}}, nil)
	assert.Error(t, err)
}

func TestConfigMapping(t *testing.T) {
	pc := PostgresConfig(config.DatabaseConfig{
		URL: "postgres://u:p@db:5432/j", MaxConns: 20, MinConns: 1, ConnectTimeout: time.Second,
	})
	assert.Equal(t, "postgres://u:p@db:5432/j", pc.DSN())
	assert.Equal(t, int32(20), pc.MaxConns)
	assert.Equal(t, time.Second, pc.ConnectTimeout)

	rc := RedisConfig(config.RedisConfig{Host: "cache", Port: 6380, DB: 2})
	assert.Equal(t, "cache:6380", rc.Addr())
	assert.Equal(t, 2, rc.DB)
	assert.Equal(t, 3, rc.MaxRetries, "unmapped fields keep defaults")
}
