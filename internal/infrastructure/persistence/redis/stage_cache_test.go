package redis

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tap-lms/journey-hub/internal/domain/journey"
	"github.com/tap-lms/journey-hub/internal/infrastructure/persistence/memory"
	"github.com/tap-lms/journey-hub/pkg/circuitbreaker"
)

type countingStages struct {
	StageStore
	onboardingLoads atomic.Int32
}

func (c *countingStages) GetOnboardingStage(ctx context.Context, name string) (*journey.OnboardingStage, error) {
	c.onboardingLoads.Add(1)
	return c.StageStore.GetOnboardingStage(ctx, name)
}

func newStageCache(t *testing.T) (*StageCache, *countingStages, *fakeRedis) {
	t.Helper()
	origin := &countingStages{StageStore: memory.NewStore().Stages()}
	require.NoError(t, origin.UpsertOnboardingStage(context.Background(), &journey.OnboardingStage{
		StageName: "welcome", Active: true, Order: 1,
		StageFlows: []journey.StageFlow{{TriggerStatus: "completed", NextStage: "profile", FlowID: "f-1"}},
	}))
	require.NoError(t, origin.UpsertLearningStage(context.Background(), &journey.LearningStage{
		Key: "L1", Course: "math", Active: true, IsInitial: true,
	}))

	rdb := newFakeRedis()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewStageCache(origin, NewCache(rdb), 0, log), origin, rdb
}

func TestStageCache_ReadThrough(t *testing.T) {
	ctx := context.Background()
	cache, origin, rdb := newStageCache(t)

	first, err := cache.GetOnboardingStage(ctx, "welcome")
	require.NoError(t, err)
	second, err := cache.GetOnboardingStage(ctx, "welcome")
	require.NoError(t, err)

	assert.Equal(t, int32(1), origin.onboardingLoads.Load())
	assert.True(t, rdb.has(StageKey("OnboardingStage", "welcome")))
	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("cached stage differs (-first +second):\n%s", diff)
	}

	list, err := cache.ListLearningStages(ctx, "math")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "L1", list[0].Key)
}

func TestStageCache_NotFoundIsNotCached(t *testing.T) {
	ctx := context.Background()
	cache, origin, rdb := newStageCache(t)

	_, err := cache.GetOnboardingStage(ctx, "missing")
	assert.ErrorIs(t, err, journey.ErrStageNotFound)
	_, err = cache.GetOnboardingStage(ctx, "missing")
	assert.ErrorIs(t, err, journey.ErrStageNotFound)

	assert.Equal(t, int32(2), origin.onboardingLoads.Load())
	assert.False(t, rdb.has(StageKey("OnboardingStage", "missing")))
}

func TestStageCache_UpsertInvalidates(t *testing.T) {
	ctx := context.Background()
	cache, _, rdb := newStageCache(t)

	_, err := cache.GetLearningStage(ctx, "L1")
	require.NoError(t, err)
	_, err = cache.ListLearningStages(ctx, "math")
	require.NoError(t, err)

	require.NoError(t, cache.UpsertLearningStage(ctx, &journey.LearningStage{Key: "L1", Course: "math", Title: "Fractions"}))
	assert.False(t, rdb.has(StageKey("LearningStage", "L1")))
	assert.False(t, rdb.has(StageKey("course", "math")))

	got, err := cache.GetLearningStage(ctx, "L1")
	require.NoError(t, err)
	assert.Equal(t, "Fractions", got.Title)
}

func TestStageCache_RedisDownFallsBackToOrigin(t *testing.T) {
	ctx := context.Background()
	cache, origin, rdb := newStageCache(t)
	rdb.failOn = errors.New("connection refused")

	got, err := cache.GetOnboardingStage(ctx, "welcome")
	require.NoError(t, err)
	assert.Equal(t, "profile", got.StageFlows[0].NextStage)
	assert.Equal(t, int32(1), origin.onboardingLoads.Load())
}

func TestStageCache_BreakerSkipsRedisWhenOpen(t *testing.T) {
	ctx := context.Background()
	cache, origin, rdb := newStageCache(t)
	rdb.failOn = errors.New("connection refused")

	for i := 0; i < 4; i++ {
		_, err := cache.GetOnboardingStage(ctx, "welcome")
		require.NoError(t, err)
	}

	assert.Equal(t, circuitbreaker.StateOpen, cache.Breaker().State())
	assert.Equal(t, 2, rdb.getCount(), "reads after the breaker opens must not reach redis")
	assert.Equal(t, int32(4), origin.onboardingLoads.Load())
	assert.Positive(t, cache.Breaker().Counts().Rejected)
}

func TestStageCache_MissDoesNotTripBreaker(t *testing.T) {
	ctx := context.Background()
	cache, _, _ := newStageCache(t)

	for i := 0; i < 5; i++ {
		_, err := cache.GetOnboardingStage(ctx, "missing")
		assert.ErrorIs(t, err, journey.ErrStageNotFound)
	}
	assert.Equal(t, circuitbreaker.StateClosed, cache.Breaker().State())
}

func TestStageCache_ConcurrentReads(t *testing.T) {
	ctx := context.Background()
	cache, _, rdb := newStageCache(t)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			st, err := cache.GetOnboardingStage(ctx, "welcome")
			if assert.NoError(t, err) {
				assert.Equal(t, "welcome", st.StageName)
			}
		}()
	}
	wg.Wait()
	assert.GreaterOrEqual(t, rdb.getCount(), 8)
}
