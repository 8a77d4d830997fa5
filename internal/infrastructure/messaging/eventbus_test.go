package messaging

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tap-lms/journey-hub/internal/application/eventhandler"
	"github.com/tap-lms/journey-hub/internal/domain/shared"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestInMemoryEventBus_DeliversToStats(t *testing.T) {
	bus := NewInMemoryEventBus(InMemoryEventBusConfig{AsyncMode: true, WorkerPoolSize: 2, Logger: quietLogger()})
	stats := eventhandler.NewJourneyStatsHandler(quietLogger())
	require.NoError(t, stats.Register(bus))

	completedAt := time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)
	events := []shared.Event{
		shared.NewStageAssignedEvent("STU-1", "OnboardingStage", "S1", "", "assigned"),
		shared.NewStageProgressedEvent("STU-1", "OnboardingStage", "S1", "S2", ""),
		shared.NewJourneyCompletedEvent("STU-1", "S2", completedAt, 2),
	}
	for _, e := range events {
		require.NoError(t, bus.Publish(e))
	}

	require.NoError(t, bus.Close(context.Background()))

	snap := stats.Snapshot()
	assert.Equal(t, 1, snap.StagesAssigned)
	assert.Equal(t, 1, snap.StageProgressions)
	assert.Equal(t, 1, snap.JourneysCompleted)
	assert.Equal(t, 2, snap.LearningBootstraps)
	assert.Equal(t, map[string]int{"S1": 1, "S2": 1}, snap.ArrivalsByStage)
	require.NotNil(t, snap.LastCompletionAt)
	assert.True(t, completedAt.Equal(*snap.LastCompletionAt))

	m := bus.Metrics()
	assert.Equal(t, int64(3), m.Published)
	assert.Equal(t, int64(3), m.HandlerExecutions)
	assert.Zero(t, m.HandlerFailures)
}

func TestInMemoryEventBus_SyncFailuresAndPanics(t *testing.T) {
	bus := NewInMemoryEventBus(InMemoryEventBusConfig{Logger: quietLogger()})

	var seen atomic.Int32
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error {
		seen.Add(1)
		return errors.New("boom")
	}))
	require.NoError(t, bus.Subscribe(shared.EventStageAssigned, func(shared.Event) error {
		panic("handler exploded")
	}))

	err := bus.Publish(shared.NewStageAssignedEvent("STU-2", "LearningStage", "L1", "math", "assigned"))
	require.NoError(t, err)

	assert.Equal(t, int32(1), seen.Load())
	assert.Equal(t, int64(2), bus.Metrics().HandlerFailures)
}

func TestInMemoryEventBus_Closed(t *testing.T) {
	bus := NewInMemoryEventBus(DefaultInMemoryEventBusConfig())
	require.NoError(t, bus.Close(context.Background()))
	require.NoError(t, bus.Close(context.Background()))

	err := bus.Publish(shared.NewStageProgressedEvent("STU-3", "OnboardingStage", "a", "b", ""))
	assert.ErrorIs(t, err, ErrEventBusClosed)
	assert.ErrorIs(t, bus.Subscribe(shared.EventStageAssigned, func(shared.Event) error { return nil }), ErrEventBusClosed)
	assert.Error(t, bus.Publish(nil))
}

func TestInMemoryEventBus_CloseDrainsQueuedHandlers(t *testing.T) {
	bus := NewInMemoryEventBus(InMemoryEventBusConfig{AsyncMode: true, WorkerPoolSize: 1, Logger: quietLogger()})

	var delivered atomic.Int32
	require.NoError(t, bus.Subscribe(shared.EventStageProgressed, func(shared.Event) error {
		delivered.Add(1)
		return nil
	}))

	for i := 0; i < 100; i++ {
		require.NoError(t, bus.Publish(shared.NewStageProgressedEvent("STU-4", "OnboardingStage", "S1", "S2", "")))
	}
	require.NoError(t, bus.Close(context.Background()))

	assert.Equal(t, int32(100), delivered.Load())
	assert.Zero(t, bus.Metrics().Dropped)
}

func TestInMemoryEventBus_CloseDropsQueueWhenContextEnds(t *testing.T) {
	bus := NewInMemoryEventBus(InMemoryEventBusConfig{AsyncMode: true, WorkerPoolSize: 1, Logger: quietLogger()})

	started := make(chan struct{}, 3)
	release := make(chan struct{})
	require.NoError(t, bus.Subscribe(shared.EventStageAssigned, func(shared.Event) error {
		started <- struct{}{}
		<-release
		return nil
	}))

	for i := 0; i < 3; i++ {
		require.NoError(t, bus.Publish(shared.NewStageAssignedEvent("STU-5", "OnboardingStage", "S1", "", "assigned")))
	}
	<-started

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, bus.Close(ctx), context.Canceled)

	require.Eventually(t, func() bool { return bus.Metrics().Dropped == 2 }, time.Second, time.Millisecond)
	close(release)
	require.Eventually(t, func() bool { return bus.Metrics().HandlerExecutions == 1 }, time.Second, time.Millisecond)
}
