package engine

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tap-lms/journey-hub/internal/domain/engagement"
	"github.com/tap-lms/journey-hub/internal/domain/journey"
	"github.com/tap-lms/journey-hub/internal/domain/shared"
	"github.com/tap-lms/journey-hub/internal/domain/student"
	"github.com/tap-lms/journey-hub/internal/infrastructure/persistence/memory"
	"github.com/tap-lms/journey-hub/pkg/logger"
	"github.com/tap-lms/journey-hub/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// FIXTURES
// ══════════════════════════════════════════════════════════════════════════════

type recordingPublisher struct {
	mu     sync.Mutex
	events []shared.Event
}

func (p *recordingPublisher) Publish(e shared.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) count(t shared.EventType) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.events {
		if e.EventType() == t {
			n++
		}
	}
	return n
}

type fixture struct {
	store     *memory.Store
	clock     *timeutil.FixedClock
	publisher *recordingPublisher
	engine    *Engine
	student   *student.Student
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store := memory.NewStore()
	clock := timeutil.NewFixedClock(time.Date(2024, 3, 10, 9, 0, 0, 0, timeutil.IST))
	pub := &recordingPublisher{}

	f := &fixture{
		store:     store,
		clock:     clock,
		publisher: pub,
		student: &student.Student{
			ID:       "STU-1",
			GlificID: "g-1",
			Phone:    "919999000001",
			Name:     "Asha",
			Enrollments: []student.Enrollment{
				{Course: "math-l1", Batch: "B1"},
				{Course: "science-l1", Batch: "B1"},
				{Course: "art-l1"},
			},
		},
	}
	require.NoError(t, store.Students().Create(context.Background(), f.student))

	f.engine = New(Deps{
		Stages:      store.Stages(),
		Progress:    store.Progress(),
		Journeys:    store.Journeys(),
		Transitions: store.Transitions(),
		Engagement:  store.Engagement(),
		Learning:    store.Learning(),
		Publisher:   pub,
		Clock:       clock,
		Logger:      logger.New(logger.Options{Output: io.Discard}),
	})
	return f
}

func (f *fixture) onboarding(t *testing.T, name string, final bool, flows ...journey.StageFlow) *journey.OnboardingStage {
	t.Helper()
	st := &journey.OnboardingStage{Name: "OS-" + name, StageName: name, IsFinalStage: final, Active: true, StageFlows: flows}
	require.NoError(t, f.store.Stages().UpsertOnboardingStage(context.Background(), st))
	return st
}

func (f *fixture) learning(t *testing.T, key, course string, order int, initial bool, flows ...journey.StageFlow) *journey.LearningStage {
	t.Helper()
	st := &journey.LearningStage{Key: key, Course: course, Order: order, IsInitial: initial, Active: true, StageFlows: flows}
	require.NoError(t, f.store.Stages().UpsertLearningStage(context.Background(), st))
	return st
}

func (f *fixture) handle(t *testing.T, stage journey.Stage, event journey.EventType, info journey.ProgressInfo, course string) *Outcome {
	t.Helper()
	out, err := f.engine.HandleEvent(context.Background(), f.student, stage, event, info, course)
	require.NoError(t, err)
	return out
}

func (f *fixture) transitions(t *testing.T) []*journey.TransitionRecord {
	t.Helper()
	recs, err := f.store.Transitions().ListByStudent(context.Background(), f.student.ID, shared.DefaultPagination())
	require.NoError(t, err)
	return recs
}

func flow(trigger, next string) journey.StageFlow {
	return journey.StageFlow{TriggerStatus: trigger, NextStage: next, FlowID: "flow-" + trigger}
}

func score(v float64) journey.ProgressInfo {
	return journey.ProgressInfo{AssessmentResults: map[string]any{"score": v}}
}

// ══════════════════════════════════════════════════════════════════════════════
// STAGE PROGRESSION
// ══════════════════════════════════════════════════════════════════════════════

func TestHandleEvent_ProgressesToNextStage(t *testing.T) {
	f := newFixture(t)
	welcome := f.onboarding(t, "welcome", false, flow("completed", "profile"))
	f.onboarding(t, "profile", false)
	ctx := context.Background()

	out := f.handle(t, welcome, journey.EventFlowCompleted, journey.ProgressInfo{}, "")

	assert.Equal(t, ActionNewStageAssigned, out.Action)
	assert.Equal(t, journey.StatusCompleted, out.Status)
	assert.Equal(t, "assigned → completed", out.StatusChange())
	assert.NotNil(t, out.Progress.CompletedAt)

	tr := out.Transition
	assert.True(t, tr.Processed)
	assert.Equal(t, TransitionStageProgression, tr.Type)
	assert.Equal(t, "welcome", tr.FromStage)
	assert.Equal(t, "profile", tr.ToStage)
	assert.True(t, tr.NextStageCreated)
	assert.True(t, tr.HistoryRecorded)
	require.NotNil(t, tr.Flow)
	assert.Equal(t, "flow-completed", tr.Flow.FlowID)

	next, err := f.store.Progress().Find(ctx, journey.ProgressKey{StudentID: "STU-1", StageType: journey.StageTypeOnboarding, Stage: "profile"})
	require.NoError(t, err)
	assert.Equal(t, journey.StatusAssigned, next.Status)

	j, err := f.store.Journeys().GetByStudent(ctx, "STU-1")
	require.NoError(t, err)
	assert.Equal(t, "profile", j.CurrentStage)
	assert.Equal(t, journey.JourneyInProgress, j.Status)

	recs := f.transitions(t)
	require.Len(t, recs, 1)
	assert.Equal(t, "welcome", recs[0].FromStage)
	assert.Equal(t, "profile", recs[0].ToStage)
	assert.True(t, recs[0].Success)

	assert.Equal(t, 1, f.publisher.count(shared.EventStageProgressed))
	assert.Equal(t, 1, f.publisher.count(shared.EventStageAssigned))
}

func TestHandleEvent_ReplayIsIdempotent(t *testing.T) {
	f := newFixture(t)
	welcome := f.onboarding(t, "welcome", false, flow("completed", "profile"))
	f.onboarding(t, "profile", false)

	f.handle(t, welcome, journey.EventFlowCompleted, journey.ProgressInfo{}, "")
	f.clock.Advance(time.Hour)
	out := f.handle(t, welcome, journey.EventFlowCompleted, journey.ProgressInfo{}, "")

	assert.Equal(t, ActionExistingStageUpdated, out.Action)
	assert.Equal(t, TransitionStageProgression, out.Transition.Type)
	assert.False(t, out.Transition.NextStageCreated)
	assert.False(t, out.Transition.HistoryRecorded)

	assert.Equal(t, 2, f.store.Progress().Count())
	assert.Len(t, f.transitions(t), 1)
	assert.Equal(t, 1, f.publisher.count(shared.EventStageProgressed))
}

func TestHandleEvent_ReplayDoesNotMovePointerBack(t *testing.T) {
	f := newFixture(t)
	welcome := f.onboarding(t, "welcome", false, flow("completed", "profile"))
	profile := f.onboarding(t, "profile", false, flow("completed", "quiz"))
	f.onboarding(t, "quiz", false)
	ctx := context.Background()

	f.handle(t, welcome, journey.EventFlowCompleted, journey.ProgressInfo{}, "")
	f.handle(t, profile, journey.EventFlowCompleted, journey.ProgressInfo{}, "")
	f.handle(t, welcome, journey.EventFlowCompleted, journey.ProgressInfo{}, "")

	j, err := f.store.Journeys().GetByStudent(ctx, "STU-1")
	require.NoError(t, err)
	assert.Equal(t, "quiz", j.CurrentStage)
	assert.Len(t, f.transitions(t), 2)
}

func TestHandleEvent_LearningProgressionKeepsCourseContext(t *testing.T) {
	f := newFixture(t)
	l1 := f.learning(t, "LS-1", "math-l1", 1, true, flow("completed", "LS-2"))
	f.learning(t, "LS-2", "math-l1", 2, false)
	ctx := context.Background()

	out := f.handle(t, l1, journey.EventAssessmentPassed, score(80), "math-l1")

	assert.Equal(t, TransitionStageProgression, out.Transition.Type)
	assert.Equal(t, "math-l1", out.Transition.CourseContext)
	assert.Equal(t, journey.MasteryProficient, out.Progress.MasteryLevel)

	next, err := f.store.Progress().Find(ctx, journey.ProgressKey{
		StudentID: "STU-1", StageType: journey.StageTypeLearning, Stage: "LS-2", CourseContext: "math-l1",
	})
	require.NoError(t, err)
	assert.Equal(t, journey.StatusAssigned, next.Status)

	_, err = f.store.Journeys().GetByStudent(ctx, "STU-1")
	assert.ErrorIs(t, err, journey.ErrJourneyNotFound)
	assert.Len(t, f.transitions(t), 1)
}

// ══════════════════════════════════════════════════════════════════════════════
// FLOW SELECTION OUTCOMES
// ══════════════════════════════════════════════════════════════════════════════

func TestHandleEvent_FlowOutcomes(t *testing.T) {
	tests := []struct {
		name       string
		flows      []journey.StageFlow
		final      bool
		event      journey.EventType
		wantType   TransitionType
		wantReason string
		wantError  string
		wantTo     string
	}{
		{
			name:       "no flows configured",
			event:      journey.EventFlowCompleted,
			wantType:   TransitionNone,
			wantReason: ReasonNoFlows,
		},
		{
			name:       "no applicable flow",
			flows:      []journey.StageFlow{flow("completed", "next")},
			event:      journey.EventMessageReceived,
			wantType:   TransitionNone,
			wantReason: ReasonNoApplicable,
		},
		{
			name:       "terminal stage that is not final",
			flows:      []journey.StageFlow{flow("completed", "")},
			event:      journey.EventFlowCompleted,
			wantType:   TransitionNone,
			wantReason: ReasonTerminalStage,
		},
		{
			name:      "next stage missing",
			flows:     []journey.StageFlow{flow("completed", "ghost")},
			event:     journey.EventFlowCompleted,
			wantType:  TransitionError,
			wantError: "Next stage 'ghost' not found",
		},
		{
			name:     "default flow",
			flows:    []journey.StageFlow{flow(journey.TriggerDefault, "next")},
			event:    journey.EventMessageReceived,
			wantType: TransitionStageProgression,
			wantTo:   "next",
		},
		{
			name:     "exact status beats default",
			flows:    []journey.StageFlow{flow(journey.TriggerDefault, "other"), flow("completed", "next")},
			event:    journey.EventFlowCompleted,
			wantType: TransitionStageProgression,
			wantTo:   "next",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			stage := f.onboarding(t, "current", tt.final, tt.flows...)
			f.onboarding(t, "next", false)
			f.onboarding(t, "other", false)

			out := f.handle(t, stage, tt.event, journey.ProgressInfo{}, "")

			assert.Equal(t, tt.wantType, out.Transition.Type)
			assert.Equal(t, tt.wantReason, out.Transition.Reason)
			assert.Equal(t, tt.wantError, out.Transition.Error)
			assert.Equal(t, tt.wantTo, out.Transition.ToStage)
		})
	}
}

func TestHandleEvent_NoApplicableFlowListsTriggers(t *testing.T) {
	f := newFixture(t)
	stage := f.onboarding(t, "welcome", false, flow("completed", "a"), flow("failed", "b"))

	out := f.handle(t, stage, journey.EventMessageReceived, journey.ProgressInfo{}, "")

	assert.Equal(t, "in_progress", out.Transition.CurrentStatus)
	assert.Equal(t, []string{"completed", "failed"}, out.Transition.AvailableFlows)
	assert.False(t, out.Transition.Processed)
}

// ══════════════════════════════════════════════════════════════════════════════
// JOURNEY COMPLETION
// ══════════════════════════════════════════════════════════════════════════════

func TestHandleEvent_FinalStageCompletesJourney(t *testing.T) {
	f := newFixture(t)
	final := f.onboarding(t, "graduation", true, flow("completed", ""))
	f.learning(t, "M-0", "math-l1", 1, false)
	f.learning(t, "M-1", "math-l1", 2, true)
	ctx := context.Background()

	out := f.handle(t, final, journey.EventFlowCompleted, journey.ProgressInfo{}, "")

	tr := out.Transition
	assert.Equal(t, TransitionJourneyCompletion, tr.Type)
	require.NotNil(t, tr.Completion)
	assert.True(t, tr.Completion.JourneyCompleted)
	assert.True(t, tr.Completion.FirstCompletion)
	assert.Equal(t, "graduation", tr.Completion.FinalStage)

	init := tr.Completion.LearningInitialized
	assert.True(t, init.CoursesFound)
	assert.Equal(t, 2, init.TotalCourses)
	assert.Equal(t, 1, init.InitializedStages)
	assert.Equal(t, []string{"science-l1"}, init.SkippedCourses)
	require.Len(t, init.StagesDetails, 1)
	assert.Equal(t, "math-l1", init.StagesDetails[0].Course)
	assert.Equal(t, "M-1", init.StagesDetails[0].InitialStage)

	p, err := f.store.Progress().Find(ctx, journey.ProgressKey{
		StudentID: "STU-1", StageType: journey.StageTypeLearning, Stage: "M-1", CourseContext: "math-l1",
	})
	require.NoError(t, err)
	assert.Equal(t, journey.StatusAssigned, p.Status)

	j, err := f.store.Journeys().GetByStudent(ctx, "STU-1")
	require.NoError(t, err)
	assert.Equal(t, journey.JourneyCompleted, j.Status)
	assert.Equal(t, "graduation", j.CurrentStage)
	require.NotNil(t, j.CompletedAt)
	assert.Equal(t, f.clock.Now(), *j.CompletedAt)

	assert.Equal(t, 1, f.publisher.count(shared.EventJourneyComplete))
}

func TestHandleEvent_CompletionTimestampIsStable(t *testing.T) {
	f := newFixture(t)
	final := f.onboarding(t, "graduation", true, flow("completed", ""))
	f.learning(t, "M-1", "math-l1", 1, true)
	ctx := context.Background()

	first := f.handle(t, final, journey.EventFlowCompleted, journey.ProgressInfo{}, "")
	stamped := first.Transition.Completion.CompletedAt
	progressStamp := *first.Progress.CompletedAt

	f.clock.Advance(48 * time.Hour)
	again := f.handle(t, final, journey.EventFlowCompleted, journey.ProgressInfo{}, "")

	assert.False(t, again.Transition.Completion.FirstCompletion)
	assert.Equal(t, stamped, again.Transition.Completion.CompletedAt)
	assert.Equal(t, progressStamp, *again.Progress.CompletedAt)
	assert.Equal(t, 0, again.Transition.Completion.LearningInitialized.InitializedStages)

	j, err := f.store.Journeys().GetByStudent(ctx, "STU-1")
	require.NoError(t, err)
	assert.Equal(t, stamped, *j.CompletedAt)

	// graduation progress and the math initial stage
	assert.Equal(t, 2, f.store.Progress().Count())
	assert.Equal(t, 1, f.publisher.count(shared.EventJourneyComplete))
}

func TestHandleEvent_CompletionWithoutEnrollments(t *testing.T) {
	f := newFixture(t)
	f.student.Enrollments = nil
	final := f.onboarding(t, "graduation", true, flow("completed", ""))

	out := f.handle(t, final, journey.EventFlowCompleted, journey.ProgressInfo{}, "")

	init := out.Transition.Completion.LearningInitialized
	assert.False(t, init.CoursesFound)
	assert.Equal(t, 0, init.InitializedStages)
	assert.NotEmpty(t, init.Message)
}

// ══════════════════════════════════════════════════════════════════════════════
// AGGREGATES
// ══════════════════════════════════════════════════════════════════════════════

func TestHandleEvent_UpdatesAggregates(t *testing.T) {
	f := newFixture(t)
	quiz := f.learning(t, "Q-1", "math-l1", 1, true)
	ctx := context.Background()

	out := f.handle(t, quiz, journey.EventAssessmentSubmitted, score(50), "math-l1")
	assert.Equal(t, UpdateApplied, out.StateUpdates.Engagement.Result)
	assert.Equal(t, UpdateApplied, out.StateUpdates.Learning.Result)

	f.handle(t, quiz, journey.EventAssessmentPassed, score(100), "math-l1")

	ls, err := f.store.Learning().Get(ctx, "STU-1")
	require.NoError(t, err)
	assert.Equal(t, 65.0, ls.KnowledgeMap["math-l1"])

	out = f.handle(t, quiz, journey.EventMessageReceived, journey.ProgressInfo{}, "math-l1")
	assert.Equal(t, UpdateSkipped, out.StateUpdates.Learning.Result)
}

func TestHandleEvent_OnboardingScoreSkipsKnowledgeMap(t *testing.T) {
	f := newFixture(t)
	stage := f.onboarding(t, "S1", false)

	out := f.handle(t, stage, journey.EventFlowCompleted, score(40), "")

	assert.Equal(t, UpdateApplied, out.StateUpdates.Engagement.Result)
	assert.Equal(t, UpdateSkipped, out.StateUpdates.Learning.Result)
	assert.Equal(t, "not a learning stage", out.StateUpdates.Learning.Reason)

	_, err := f.store.Learning().Get(context.Background(), "STU-1")
	assert.True(t, shared.IsNotFound(err), "no learning state is written: %v", err)
}

func TestHandleEvent_StreakFollowsCalendarDays(t *testing.T) {
	f := newFixture(t)
	stage := f.onboarding(t, "welcome", false)
	ctx := context.Background()

	send := func() *engagement.EngagementState {
		f.handle(t, stage, journey.EventMessageReceived, journey.ProgressInfo{}, "")
		st, err := f.store.Engagement().Get(ctx, "STU-1")
		require.NoError(t, err)
		return st
	}

	assert.Equal(t, 1, send().CurrentStreak)
	assert.Equal(t, 1, send().CurrentStreak)

	f.clock.Advance(24 * time.Hour)
	assert.Equal(t, 2, send().CurrentStreak)

	f.clock.Advance(72 * time.Hour)
	st := send()
	assert.Equal(t, 1, st.CurrentStreak)
	assert.InDelta(t, 0.4, st.SessionFrequency, 1e-9)
}

type failingEngagement struct{}

func (failingEngagement) Get(context.Context, string) (*engagement.EngagementState, error) {
	return nil, shared.ErrStorage
}

func (failingEngagement) Save(context.Context, *engagement.EngagementState) error {
	return shared.ErrStorage
}

func TestHandleEvent_AggregateFailureDoesNotAbort(t *testing.T) {
	f := newFixture(t)
	f.engine.aggregator.engagement = failingEngagement{}
	welcome := f.onboarding(t, "welcome", false, flow("completed", "profile"))
	f.onboarding(t, "profile", false)

	out := f.handle(t, welcome, journey.EventAssessmentPassed, score(92), "")

	assert.Equal(t, UpdateFailed, out.StateUpdates.Engagement.Result)
	assert.NotEmpty(t, out.StateUpdates.Engagement.Reason)
	assert.Equal(t, UpdateSkipped, out.StateUpdates.Learning.Result)
	assert.True(t, out.StateUpdates.Failed())
	assert.Equal(t, TransitionStageProgression, out.Transition.Type)
	assert.Equal(t, journey.MasteryAdvanced, out.Progress.MasteryLevel)
}

// ══════════════════════════════════════════════════════════════════════════════
// FAILURES AND CONCURRENCY
// ══════════════════════════════════════════════════════════════════════════════

type brokenProgress struct {
	journey.ProgressRepository
}

func (brokenProgress) Find(context.Context, journey.ProgressKey) (*journey.StageProgress, error) {
	return nil, shared.ErrStorage
}

func TestHandleEvent_StoreFailureIsSystemError(t *testing.T) {
	f := newFixture(t)
	f.engine.progress.repo = brokenProgress{f.store.Progress()}
	stage := f.onboarding(t, "welcome", false)

	_, err := f.engine.HandleEvent(context.Background(), f.student, stage, journey.EventFlowStarted, journey.ProgressInfo{}, "")
	assert.ErrorIs(t, err, shared.ErrStorage)
}

type refusingLocker struct{}

func (refusingLocker) Lock(context.Context, string) (func(), error) {
	return nil, errors.New("busy")
}

func TestHandleEvent_LockFailure(t *testing.T) {
	f := newFixture(t)
	f.engine.locker = refusingLocker{}
	stage := f.onboarding(t, "welcome", false)

	_, err := f.engine.HandleEvent(context.Background(), f.student, stage, journey.EventFlowStarted, journey.ProgressInfo{}, "")
	assert.ErrorIs(t, err, shared.ErrLockNotAcquired)
	assert.Equal(t, 0, f.store.Progress().Count())
}

func TestHandleEvent_ConcurrentDuplicatesKeepOneRecordPerKey(t *testing.T) {
	defer goleak.VerifyNone(t)

	f := newFixture(t)
	welcome := f.onboarding(t, "welcome", false, flow("completed", "profile"))
	f.onboarding(t, "profile", false)

	const workers = 16
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.engine.HandleEvent(context.Background(), f.student, welcome, journey.EventFlowCompleted, journey.ProgressInfo{}, "")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, 2, f.store.Progress().Count())
	assert.Len(t, f.transitions(t), 1)
	assert.Equal(t, 1, f.publisher.count(shared.EventStageAssigned))
}
