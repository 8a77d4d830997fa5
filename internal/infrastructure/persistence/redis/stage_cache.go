package redis

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/tap-lms/journey-hub/internal/domain/journey"
	"github.com/tap-lms/journey-hub/pkg/circuitbreaker"
)

// ══════════════════════════════════════════════════════════════════════════════
// STAGE CACHE
// ══════════════════════════════════════════════════════════════════════════════

// StageStore is the origin behind the cache.
type StageStore interface {
	journey.StageRepository
	journey.StageCatalogWriter
}

// StageCache is a read-through cache in front of the stage catalog.
// Concurrent misses for the same key share one origin load. Redis failures
// degrade to reading the origin directly, and after repeated failures the
// breaker skips Redis entirely. Not-found results are not cached.
type StageCache struct {
	origin  StageStore
	cache   *Cache
	ttl     time.Duration
	group   singleflight.Group
	breaker *circuitbreaker.CircuitBreaker
	logger  *slog.Logger
}

// NewStageCache wraps origin with a Redis cache.
func NewStageCache(origin StageStore, cache *Cache, ttl time.Duration, logger *slog.Logger) *StageCache {
	if ttl <= 0 {
		ttl = TTLStageCache
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "stage_cache")
	isMiss := func(err error) bool { return errors.Is(err, ErrCacheMiss) }
	return &StageCache{
		origin: origin,
		cache:  cache,
		ttl:    ttl,
		breaker: circuitbreaker.RedisBreaker(isMiss, func(name string, from, to circuitbreaker.State) {
			logger.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		}),
		logger: logger,
	}
}

// Breaker exposes the breaker guarding Redis round trips.
func (c *StageCache) Breaker() *circuitbreaker.CircuitBreaker { return c.breaker }

// do runs a Redis call through the breaker.
func (c *StageCache) do(ctx context.Context, fn func(context.Context) error) error {
	return c.breaker.Execute(ctx, fn)
}

// GetOnboardingStage implements journey.StageRepository.
func (c *StageCache) GetOnboardingStage(ctx context.Context, stageName string) (*journey.OnboardingStage, error) {
	key := StageKey(string(journey.StageTypeOnboarding), stageName)
	return readThrough(ctx, c, key, func(ctx context.Context) (*journey.OnboardingStage, error) {
		return c.origin.GetOnboardingStage(ctx, stageName)
	})
}

// GetLearningStage implements journey.StageRepository.
func (c *StageCache) GetLearningStage(ctx context.Context, key string) (*journey.LearningStage, error) {
	cacheKey := StageKey(string(journey.StageTypeLearning), key)
	return readThrough(ctx, c, cacheKey, func(ctx context.Context) (*journey.LearningStage, error) {
		return c.origin.GetLearningStage(ctx, key)
	})
}

// ListLearningStages implements journey.StageRepository.
func (c *StageCache) ListLearningStages(ctx context.Context, course string) ([]*journey.LearningStage, error) {
	key := StageKey("course", course)
	list, err := readThrough(ctx, c, key, func(ctx context.Context) (*[]*journey.LearningStage, error) {
		stages, err := c.origin.ListLearningStages(ctx, course)
		if err != nil {
			return nil, err
		}
		return &stages, nil
	})
	if err != nil {
		return nil, err
	}
	return *list, nil
}

// ListOnboardingStages is not cached; it only serves catalog listings.
func (c *StageCache) ListOnboardingStages(ctx context.Context) ([]*journey.OnboardingStage, error) {
	return c.origin.ListOnboardingStages(ctx)
}

// UpsertOnboardingStage writes to the origin and drops the cached entry.
func (c *StageCache) UpsertOnboardingStage(ctx context.Context, s *journey.OnboardingStage) error {
	if err := c.origin.UpsertOnboardingStage(ctx, s); err != nil {
		return err
	}
	c.invalidate(ctx, StageKey(string(journey.StageTypeOnboarding), s.StageName))
	return nil
}

// UpsertLearningStage writes to the origin and drops the stage and its course listing.
func (c *StageCache) UpsertLearningStage(ctx context.Context, s *journey.LearningStage) error {
	if err := c.origin.UpsertLearningStage(ctx, s); err != nil {
		return err
	}
	c.invalidate(ctx, StageKey(string(journey.StageTypeLearning), s.Key), StageKey("course", s.Course))
	return nil
}

func (c *StageCache) invalidate(ctx context.Context, keys ...string) {
	err := c.do(ctx, func(ctx context.Context) error { return c.cache.Delete(ctx, keys...) })
	if err != nil {
		// An open breaker leaves stale entries to expire on their TTL.
		c.logger.Warn("stage cache invalidation failed", "keys", keys, "error", err)
	}
}

func readThrough[T any](ctx context.Context, c *StageCache, key string, load func(context.Context) (*T, error)) (*T, error) {
	var cached T
	err := c.do(ctx, func(ctx context.Context) error { return c.cache.Get(ctx, key, &cached) })
	switch {
	case err == nil:
		return &cached, nil
	case errors.Is(err, ErrCacheMiss), circuitbreaker.IsRejected(err):
	default:
		c.logger.Warn("stage cache read failed", "key", key, "error", err)
	}

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		loaded, err := load(ctx)
		if err != nil {
			return nil, err
		}
		err = c.do(ctx, func(ctx context.Context) error { return c.cache.Set(ctx, key, loaded, c.ttl) })
		if err != nil && !circuitbreaker.IsRejected(err) {
			c.logger.Warn("stage cache write failed", "key", key, "error", err)
		}
		return loaded, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*T), nil
}

var _ StageStore = (*StageCache)(nil)
