package command

import (
	"context"
	"fmt"

	"github.com/tap-lms/journey-hub/internal/application/engine"
	"github.com/tap-lms/journey-hub/internal/domain/journey"
	"github.com/tap-lms/journey-hub/internal/domain/shared"
	"github.com/tap-lms/journey-hub/internal/domain/student"
	"github.com/tap-lms/journey-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// UPDATE STUDENT STAGE COMMAND
// Administrative override: drives the engine for a student identified by ID,
// bypassing the contact lookup. No interaction is logged.
// ══════════════════════════════════════════════════════════════════════════════

// DefaultAdminEvent is the event applied when the caller names none.
const DefaultAdminEvent = journey.EventManualAssignment

// UpdateStudentStageCommand contains the data for a manual stage update.
type UpdateStudentStageCommand struct {
	// StudentID is the student's primary key or messaging contact ID.
	StudentID string `json:"student_id" validate:"notblank"`

	// StageName identifies the stage. Onboarding stages are tried first.
	StageName string `json:"stage_name" validate:"notblank"`

	// EventType defaults to manual_assignment.
	EventType string `json:"event_type,omitempty"`

	CourseContext string `json:"course_context,omitempty"`

	// StageType restricts the lookup to one namespace when a name exists in both.
	StageType string `json:"stage_type,omitempty" validate:"omitempty,oneof=OnboardingStage LearningStage"`
}

var updateStudentStageMessages = []fieldMessage{
	{"student_id", "Missing required field: student_id"},
	{"stage_name", "Missing required field: stage_name"},
	{"stage_type", "stage_type must be OnboardingStage or LearningStage"},
}

// Validate validates the command.
func (c UpdateStudentStageCommand) Validate() error {
	return validateCommand(c, "UpdateStudentStage", updateStudentStageMessages)
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// UpdateStudentStageHandler handles the UpdateStudentStageCommand.
type UpdateStudentStageHandler struct {
	finder *student.Finder
	engine *engine.Engine
	log    *logger.Logger
}

// NewUpdateStudentStageHandler creates a new UpdateStudentStageHandler.
func NewUpdateStudentStageHandler(finder *student.Finder, eng *engine.Engine, log *logger.Logger) *UpdateStudentStageHandler {
	return &UpdateStudentStageHandler{
		finder: finder,
		engine: eng,
		log:    log.With(logger.Operation("update_student_stage")),
	}
}

// Handle executes the command. Like TrackInteractionHandler it reports
// failures in the result rather than as errors.
func (h *UpdateStudentStageHandler) Handle(ctx context.Context, cmd UpdateStudentStageCommand) *StageResult {
	if err := cmd.Validate(); err != nil {
		return failure(ErrorKindValidation, validationMessage(err))
	}
	if cmd.EventType == "" {
		cmd.EventType = string(DefaultAdminEvent)
	}

	match, err := h.finder.FindByID(ctx, cmd.StudentID)
	if err != nil {
		if shared.IsNotFound(err) {
			return failure(ErrorKindNotFound, "Student not found")
		}
		h.log.Error("student lookup failed", logger.Err(err))
		return failure(ErrorKindSystem, err.Error())
	}
	st := match.Student

	var stage journey.Stage
	if cmd.StageType != "" {
		stage, err = h.engine.Resolver().Resolve(ctx, cmd.StageName, journey.StageType(cmd.StageType))
	} else {
		stage, err = h.engine.Resolver().ResolveAny(ctx, cmd.StageName)
	}
	if err != nil {
		if shared.IsNotFound(err) {
			return failure(ErrorKindNotFound, fmt.Sprintf("Stage '%s' not found", cmd.StageName))
		}
		h.log.Error("stage lookup failed", logger.StageID(cmd.StageName), logger.Err(err))
		return failure(ErrorKindSystem, err.Error())
	}

	out, err := h.engine.HandleEvent(ctx, st, stage, journey.EventType(cmd.EventType), journey.ProgressInfo{}, cmd.CourseContext)
	if err != nil {
		h.log.Error("event handling failed",
			logger.StudentID(st.ID),
			logger.StageID(stage.ID()),
			logger.Err(err),
		)
		return failure(ErrorKindSystem, err.Error())
	}

	h.log.Info("student stage updated",
		logger.StudentID(st.ID),
		logger.StageID(stage.ID()),
		logger.EventType(cmd.EventType),
	)
	return stageResult(st.ID, stage, cmd.CourseContext, out)
}
