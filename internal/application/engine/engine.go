package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tap-lms/journey-hub/internal/domain/engagement"
	"github.com/tap-lms/journey-hub/internal/domain/journey"
	"github.com/tap-lms/journey-hub/internal/domain/shared"
	"github.com/tap-lms/journey-hub/internal/domain/student"
	"github.com/tap-lms/journey-hub/pkg/keylock"
	"github.com/tap-lms/journey-hub/pkg/logger"
	"github.com/tap-lms/journey-hub/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// OUTCOME
// ══════════════════════════════════════════════════════════════════════════════

// Action describes what happened to the progress record of the event's stage.
type Action string

const (
	ActionExistingStageUpdated Action = "existing_stage_updated"
	ActionNewStageAssigned     Action = "new_stage_assigned"
)

// Outcome is the structured result of handling one event.
type Outcome struct {
	Action    Action
	Progress  *journey.StageProgress
	OldStatus journey.Status
	Status    journey.Status

	Transition   TransitionInfo
	StateUpdates StateUpdates
}

// StatusChange renders the status transition of the event's stage, e.g. "assigned → completed".
func (o *Outcome) StatusChange() string {
	return fmt.Sprintf("%s → %s", o.OldStatus, o.Status)
}

// ══════════════════════════════════════════════════════════════════════════════
// ENGINE
// ══════════════════════════════════════════════════════════════════════════════

// Deps groups the collaborators of the engine.
type Deps struct {
	Stages      journey.StageRepository
	Progress    journey.ProgressRepository
	Journeys    journey.JourneyRepository
	Transitions journey.TransitionRepository
	Engagement  engagement.EngagementRepository
	Learning    engagement.LearningRepository
	Locker      journey.Locker
	Publisher   shared.EventPublisher
	Clock       timeutil.Clock
	NewID       IDGenerator
	Logger      *logger.Logger
}

// Engine applies inbound events to a student's journey.
// Events for the same student are serialized by the Locker.
type Engine struct {
	resolver   *StageResolver
	progress   *ProgressAccessor
	journeys   *JourneyTracker
	evaluator  *TransitionEvaluator
	aggregator *StateAggregator
	locker     journey.Locker
	publisher  shared.EventPublisher
	log        *logger.Logger
}

// New wires an Engine from its dependencies.
func New(d Deps) *Engine {
	if d.Clock == nil {
		d.Clock = timeutil.NewSystemClock(nil)
	}
	if d.Logger == nil {
		d.Logger = logger.Default()
	}
	if d.Publisher == nil {
		d.Publisher = shared.NoopPublisher{}
	}
	if d.Locker == nil {
		d.Locker = keylock.New()
	}
	if d.NewID == nil {
		d.NewID = uuid.NewString
	}

	resolver := NewStageResolver(d.Stages)
	progress := NewProgressAccessor(d.Progress, d.Clock, d.NewID)
	journeys := NewJourneyTracker(d.Journeys, d.Clock, d.NewID)

	return &Engine{
		resolver:   resolver,
		progress:   progress,
		journeys:   journeys,
		evaluator:  NewTransitionEvaluator(resolver, progress, journeys, d.Transitions, d.Publisher, d.Clock, d.NewID, d.Logger),
		aggregator: NewStateAggregator(d.Engagement, d.Learning, d.Clock, d.Logger),
		locker:     d.Locker,
		publisher:  d.Publisher,
		log:        d.Logger.With(logger.Component("engine")),
	}
}

// Resolver exposes the stage resolver used by the engine.
func (e *Engine) Resolver() *StageResolver {
	return e.resolver
}

// HandleEvent classifies the event, updates the stage's progress record,
// evaluates the stage flows and updates the auxiliary aggregates.
//
// Business outcomes are reported in the Outcome. A returned error always means
// a system failure: the store or the lock could not serve the request.
func (e *Engine) HandleEvent(ctx context.Context, st *student.Student, stage journey.Stage, event journey.EventType, info journey.ProgressInfo, course string) (*Outcome, error) {
	start := time.Now()
	status := journey.Classify(event)

	log := e.log.With(
		logger.StudentID(st.ID),
		logger.StageID(stage.ID()),
		logger.StageType(stage.Type().String()),
		logger.EventType(event.String()),
	)

	unlock, err := e.locker.Lock(ctx, st.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", shared.ErrJourneyLockContended, err)
	}
	defer unlock()

	p, isNew, err := e.progress.FindOrCreate(ctx, st.ID, stage, course)
	if err != nil {
		return nil, fmt.Errorf("load progress: %w", err)
	}

	old, created, err := e.progress.Apply(ctx, p, isNew, status, info)
	if err != nil {
		return nil, fmt.Errorf("save progress: %w", err)
	}

	action := ActionExistingStageUpdated
	if created {
		action = ActionNewStageAssigned
		if stage.Type() == journey.StageTypeOnboarding {
			if err := e.journeys.Assign(ctx, st.ID, stage.ID()); err != nil {
				return nil, fmt.Errorf("update journey: %w", err)
			}
		}
		e.publish(shared.NewStageAssignedEvent(st.ID, stage.Type().String(), stage.ID(), p.CourseContext, p.Status.String()))
	}

	transition, err := e.evaluator.Evaluate(ctx, st, stage, status, course)
	if err != nil {
		return nil, fmt.Errorf("evaluate transition: %w", err)
	}

	updates := e.aggregator.Update(ctx, st.ID, event, stage.Type(), info, course)

	log.Info("event handled",
		logger.String("action", string(action)),
		logger.String("status", status.String()),
		logger.String("transition", string(transition.Type)),
		logger.Latency(time.Since(start)),
	)

	return &Outcome{
		Action:       action,
		Progress:     p,
		OldStatus:    old,
		Status:       p.Status,
		Transition:   transition,
		StateUpdates: updates,
	}, nil
}

func (e *Engine) publish(event shared.Event) {
	if err := e.publisher.Publish(event); err != nil {
		e.log.Warn("failed to publish event",
			logger.String("event_type", string(event.EventType())),
			logger.Err(err),
		)
	}
}
