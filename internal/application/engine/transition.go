package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/tap-lms/journey-hub/internal/domain/journey"
	"github.com/tap-lms/journey-hub/internal/domain/shared"
	"github.com/tap-lms/journey-hub/internal/domain/student"
	"github.com/tap-lms/journey-hub/pkg/logger"
	"github.com/tap-lms/journey-hub/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// TRANSITION RESULT
// ══════════════════════════════════════════════════════════════════════════════

// TransitionType classifies the outcome of flow evaluation.
type TransitionType string

const (
	TransitionNone              TransitionType = "none"
	TransitionJourneyCompletion TransitionType = "journey_completion"
	TransitionStageProgression  TransitionType = "stage_progression"
	TransitionError             TransitionType = "error"
)

// Reasons reported when no transition happens.
const (
	ReasonNoFlows       = "No stage flows configured"
	ReasonNoApplicable  = "No applicable stage flow found for current status"
	ReasonTerminalStage = "Terminal stage - no next stage configured"
)

// FlowConfiguration echoes the rule that was executed.
type FlowConfiguration struct {
	StudentStatus string `json:"student_status"`
	FlowID        string `json:"glific_flow_id,omitempty"`
	FlowType      string `json:"flow_type,omitempty"`
	Description   string `json:"description,omitempty"`
}

func flowConfiguration(f journey.StageFlow) *FlowConfiguration {
	return &FlowConfiguration{
		StudentStatus: f.TriggerStatus,
		FlowID:        f.FlowID,
		FlowType:      f.FlowType,
		Description:   f.Description,
	}
}

// InitializedStage describes a learning progress record created on journey completion.
type InitializedStage struct {
	Course       string `json:"course"`
	InitialStage string `json:"initial_stage"`
	ProgressID   string `json:"progress_id"`
}

// LearningInitialization summarizes the learning bootstrap after onboarding.
type LearningInitialization struct {
	CoursesFound      bool               `json:"courses_found"`
	TotalCourses      int                `json:"total_courses"`
	InitializedStages int                `json:"initialized_stages"`
	StagesDetails     []InitializedStage `json:"stages_details,omitempty"`
	SkippedCourses    []string           `json:"skipped_courses,omitempty"`
	Message           string             `json:"message,omitempty"`
}

// CompletionDetails describes a journey completion.
type CompletionDetails struct {
	JourneyCompleted     bool                   `json:"journey_completed"`
	FirstCompletion      bool                   `json:"first_completion"`
	CompletedAt          time.Time              `json:"completion_timestamp"`
	FinalStage           string                 `json:"final_stage"`
	OnboardingProgressID string                 `json:"onboarding_progress_id,omitempty"`
	LearningInitialized  LearningInitialization `json:"learning_stages_initialized"`
}

// TransitionInfo is the structured result of flow evaluation.
type TransitionInfo struct {
	Processed bool           `json:"transitions_processed"`
	Type      TransitionType `json:"transition_type"`
	Reason    string         `json:"reason,omitempty"`
	Error     string         `json:"error,omitempty"`

	Stage     string            `json:"stage,omitempty"`
	FromStage string            `json:"from_stage,omitempty"`
	ToStage   string            `json:"to_stage,omitempty"`
	StageType journey.StageType `json:"stage_type,omitempty"`

	TriggeredBy    string   `json:"triggered_by,omitempty"`
	CurrentStatus  string   `json:"current_status,omitempty"`
	AvailableFlows []string `json:"available_flows,omitempty"`

	// NextStageCreated is false when the next stage already had progress.
	NextStageCreated bool `json:"next_stage_created,omitempty"`

	// HistoryRecorded reports whether a TransitionRecord was appended.
	HistoryRecorded bool `json:"history_recorded,omitempty"`

	Flow          *FlowConfiguration `json:"flow_configuration,omitempty"`
	Completion    *CompletionDetails `json:"completion_details,omitempty"`
	CourseContext string             `json:"course_context,omitempty"`
}

// ══════════════════════════════════════════════════════════════════════════════
// TRANSITION EVALUATOR
// ══════════════════════════════════════════════════════════════════════════════

// TransitionEvaluator decides on and executes the transition for a stage's current status.
// Business outcomes are returned in TransitionInfo; store failures are returned as errors.
type TransitionEvaluator struct {
	resolver    *StageResolver
	progress    *ProgressAccessor
	journeys    *JourneyTracker
	transitions journey.TransitionRepository
	publisher   shared.EventPublisher
	clock       timeutil.Clock
	newID       IDGenerator
	log         *logger.Logger
}

// NewTransitionEvaluator creates a TransitionEvaluator.
func NewTransitionEvaluator(
	resolver *StageResolver,
	progress *ProgressAccessor,
	journeys *JourneyTracker,
	transitions journey.TransitionRepository,
	publisher shared.EventPublisher,
	clock timeutil.Clock,
	newID IDGenerator,
	log *logger.Logger,
) *TransitionEvaluator {
	if publisher == nil {
		publisher = shared.NoopPublisher{}
	}
	return &TransitionEvaluator{
		resolver:    resolver,
		progress:    progress,
		journeys:    journeys,
		transitions: transitions,
		publisher:   publisher,
		clock:       clock,
		newID:       newID,
		log:         log.With(logger.Component("transition_evaluator")),
	}
}

// Evaluate selects at most one flow rule for status and executes it.
func (e *TransitionEvaluator) Evaluate(ctx context.Context, st *student.Student, stage journey.Stage, status journey.Status, course string) (TransitionInfo, error) {
	flows := stage.Flows()
	if len(flows) == 0 {
		return TransitionInfo{Type: TransitionNone, Reason: ReasonNoFlows}, nil
	}

	flow, ok := journey.SelectFlow(flows, status)
	if !ok {
		return TransitionInfo{
			Type:           TransitionNone,
			Reason:         ReasonNoApplicable,
			CurrentStatus:  status.String(),
			AvailableFlows: journey.TriggerStatuses(flows),
		}, nil
	}

	if flow.IsTerminal() {
		if stage.IsFinal() {
			return e.completeJourney(ctx, st, stage, flow, course)
		}
		return TransitionInfo{
			Type:   TransitionNone,
			Reason: ReasonTerminalStage,
			Flow:   flowConfiguration(flow),
		}, nil
	}

	return e.progressTo(ctx, st, stage, flow, course)
}

func (e *TransitionEvaluator) progressTo(ctx context.Context, st *student.Student, from journey.Stage, flow journey.StageFlow, course string) (TransitionInfo, error) {
	next, err := e.resolver.Resolve(ctx, flow.NextStage, from.Type())
	if err != nil {
		if shared.IsNotFound(err) {
			return TransitionInfo{
				Type:  TransitionError,
				Error: fmt.Sprintf("Next stage '%s' not found", flow.NextStage),
				Flow:  flowConfiguration(flow),
			}, nil
		}
		return TransitionInfo{}, err
	}

	progress, created, err := e.progress.EnsureAssigned(ctx, st.ID, next, course)
	if err != nil {
		return TransitionInfo{}, err
	}

	// A transition is realized when the next stage is new to the student or the
	// onboarding pointer still sits on the source stage. Replays of an old event
	// neither move the pointer back nor duplicate history.
	realized := created
	if from.Type() == journey.StageTypeOnboarding {
		moved, err := e.journeys.Advance(ctx, st.ID, from.ID(), next.ID(), created)
		if err != nil {
			return TransitionInfo{}, err
		}
		realized = realized || moved
	}

	if realized {
		rec := journey.NewTransitionRecord(e.newID(), st.ID, from, next, course, e.clock.Now())
		if err := e.transitions.Append(ctx, rec); err != nil {
			return TransitionInfo{}, err
		}
		e.publish(shared.NewStageProgressedEvent(st.ID, from.Type().String(), from.ID(), next.ID(), course))
	}

	e.log.Info("stage progression",
		logger.StudentID(st.ID),
		logger.String("from_stage", from.ID()),
		logger.String("to_stage", next.ID()),
		logger.String("progress_id", progress.ID),
		logger.Bool("realized", realized),
	)

	return TransitionInfo{
		Processed:        true,
		Type:             TransitionStageProgression,
		FromStage:        from.ID(),
		ToStage:          next.ID(),
		StageType:        from.Type(),
		TriggeredBy:      "stageflow_configuration",
		NextStageCreated: created,
		HistoryRecorded:  realized,
		Flow:             flowConfiguration(flow),
		CourseContext:    course,
	}, nil
}

func (e *TransitionEvaluator) completeJourney(ctx context.Context, st *student.Student, final journey.Stage, flow journey.StageFlow, course string) (TransitionInfo, error) {
	j, first, err := e.journeys.Complete(ctx, st.ID, final.ID())
	if err != nil {
		return TransitionInfo{}, err
	}

	init, err := e.initializeLearning(ctx, st)
	if err != nil {
		return TransitionInfo{}, err
	}

	if first {
		e.publish(shared.NewJourneyCompletedEvent(st.ID, final.ID(), *j.CompletedAt, init.InitializedStages))
	}

	e.log.Info("onboarding journey completed",
		logger.StudentID(st.ID),
		logger.StageID(final.ID()),
		logger.Bool("first_completion", first),
		logger.Int("learning_stages_initialized", init.InitializedStages),
	)

	return TransitionInfo{
		Processed:   true,
		Type:        TransitionJourneyCompletion,
		Stage:       final.ID(),
		StageType:   final.Type(),
		TriggeredBy: "final_stage_completion",
		Flow:        flowConfiguration(flow),
		Completion: &CompletionDetails{
			JourneyCompleted:     true,
			FirstCompletion:      first,
			CompletedAt:          *j.CompletedAt,
			FinalStage:           final.ID(),
			OnboardingProgressID: j.ID,
			LearningInitialized:  init,
		},
		CourseContext: course,
	}, nil
}

// initializeLearning creates one assigned progress record at the initial stage
// of every course the student is enrolled in. Existing records are left alone.
func (e *TransitionEvaluator) initializeLearning(ctx context.Context, st *student.Student) (LearningInitialization, error) {
	courses := st.ActiveCourses()
	if len(courses) == 0 {
		return LearningInitialization{Message: "No enrolled courses found"}, nil
	}

	out := LearningInitialization{CoursesFound: true, TotalCourses: len(courses)}
	for _, course := range courses {
		initial, ok, err := e.resolver.InitialLearningStage(ctx, course)
		if err != nil {
			return out, err
		}
		if !ok {
			out.SkippedCourses = append(out.SkippedCourses, course)
			continue
		}

		p, created, err := e.progress.EnsureAssigned(ctx, st.ID, initial, course)
		if err != nil {
			return out, err
		}
		if !created {
			continue
		}

		out.InitializedStages++
		out.StagesDetails = append(out.StagesDetails, InitializedStage{
			Course:       course,
			InitialStage: initial.ID(),
			ProgressID:   p.ID,
		})
		e.publish(shared.NewStageAssignedEvent(st.ID, initial.Type().String(), initial.ID(), course, p.Status.String()))
	}
	return out, nil
}

func (e *TransitionEvaluator) publish(event shared.Event) {
	if err := e.publisher.Publish(event); err != nil {
		e.log.Warn("failed to publish event",
			logger.String("event_type", string(event.EventType())),
			logger.Err(err),
		)
	}
}
