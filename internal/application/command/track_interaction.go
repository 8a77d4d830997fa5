package command

import (
	"context"
	"fmt"

	"github.com/tap-lms/journey-hub/internal/application/engine"
	"github.com/tap-lms/journey-hub/internal/domain/journey"
	"github.com/tap-lms/journey-hub/internal/domain/shared"
	"github.com/tap-lms/journey-hub/internal/domain/student"
	"github.com/tap-lms/journey-hub/pkg/logger"
	"github.com/tap-lms/journey-hub/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// TRACK INTERACTION COMMAND
// Inbound event from the messaging platform: identifies the student by contact,
// records the interaction and drives the stage engine.
// ══════════════════════════════════════════════════════════════════════════════

// ContactInput identifies the student on the messaging platform.
type ContactInput struct {
	ID    string `json:"id" validate:"required_without=Phone"`
	Phone string `json:"phone" validate:"required_without=ID"`
	Name  string `json:"name"`
}

// ContentInput carries the message that triggered the event, if any.
type ContentInput struct {
	Message *journey.Message `json:"message,omitempty"`
}

// TrackInteractionCommand contains the inbound event.
type TrackInteractionCommand struct {
	EventType     string               `json:"event_type" validate:"notblank"`
	Contact       ContactInput         `json:"contact"`
	StageID       string               `json:"stage_id" validate:"notblank"`
	StageType     string               `json:"stage_type" validate:"notblank"`
	CourseContext string               `json:"course_context,omitempty"`
	Content       ContentInput         `json:"content"`
	Progress      journey.ProgressInfo `json:"progress"`
}

var trackInteractionMessages = []fieldMessage{
	{"event_type", "Missing required field: event_type"},
	{"contact", "Contact ID or phone number is required"},
	{"stage_id", "Both stage_id and stage_type are required"},
	{"stage_type", "Both stage_id and stage_type are required"},
}

// Validate validates the command.
func (c TrackInteractionCommand) Validate() error {
	return validateCommand(c, "TrackInteraction", trackInteractionMessages)
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// TrackInteractionHandler handles the TrackInteractionCommand.
type TrackInteractionHandler struct {
	finder *student.Finder
	engine *engine.Engine
	logs   journey.InteractionLogRepository
	clock  timeutil.Clock
	newID  engine.IDGenerator
	log    *logger.Logger
}

// NewTrackInteractionHandler creates a new TrackInteractionHandler.
func NewTrackInteractionHandler(
	finder *student.Finder,
	eng *engine.Engine,
	logs journey.InteractionLogRepository,
	clock timeutil.Clock,
	newID engine.IDGenerator,
	log *logger.Logger,
) *TrackInteractionHandler {
	return &TrackInteractionHandler{
		finder: finder,
		engine: eng,
		logs:   logs,
		clock:  clock,
		newID:  newID,
		log:    log.With(logger.Operation("track_interaction")),
	}
}

// Handle executes the command. It never returns an error: failures are
// described by the result's Success and ErrorKind.
func (h *TrackInteractionHandler) Handle(ctx context.Context, cmd TrackInteractionCommand) *StageResult {
	if err := cmd.Validate(); err != nil {
		return failure(ErrorKindValidation, validationMessage(err))
	}

	match, err := h.finder.FindByContact(ctx, student.Contact{
		ID:    student.GlificID(cmd.Contact.ID),
		Phone: shared.Phone(cmd.Contact.Phone),
		Name:  cmd.Contact.Name,
	})
	if err != nil {
		if shared.IsNotFound(err) {
			return failure(ErrorKindNotFound, "Student not found")
		}
		h.log.Error("student lookup failed", logger.Err(err))
		return failure(ErrorKindSystem, err.Error())
	}
	if match.IsAmbiguous() {
		h.log.Warn("duplicate contact id, using first match",
			logger.String("glific_id", cmd.Contact.ID),
			logger.Int("candidates", match.Candidates),
			logger.StudentID(match.Student.ID),
		)
	}
	st := match.Student

	stage, err := h.engine.Resolver().Resolve(ctx, cmd.StageID, journey.StageType(cmd.StageType))
	if err != nil {
		if shared.IsNotFound(err) || shared.IsValidation(err) {
			return failure(ErrorKindNotFound, fmt.Sprintf("Stage '%s' of type '%s' not found", cmd.StageID, cmd.StageType))
		}
		h.log.Error("stage lookup failed", logger.StageID(cmd.StageID), logger.Err(err))
		return failure(ErrorKindSystem, err.Error())
	}

	event := journey.EventType(cmd.EventType)
	logID := h.recordInteraction(ctx, st.ID, event, stage, cmd)

	out, err := h.engine.HandleEvent(ctx, st, stage, event, cmd.Progress, cmd.CourseContext)
	if err != nil {
		h.log.Error("event handling failed",
			logger.StudentID(st.ID),
			logger.StageID(stage.ID()),
			logger.Err(err),
		)
		return failure(ErrorKindSystem, err.Error())
	}

	res := stageResult(st.ID, stage, cmd.CourseContext, out)
	res.Data.InteractionLogID = logID
	res.Data.MatchStrategy = string(match.Strategy)
	return res
}

// recordInteraction appends the audit record. The log is best-effort:
// a failure is logged and the event is still processed.
func (h *TrackInteractionHandler) recordInteraction(ctx context.Context, studentID string, event journey.EventType, stage journey.Stage, cmd TrackInteractionCommand) string {
	var msg journey.Message
	if cmd.Content.Message != nil {
		msg = *cmd.Content.Message
	}

	entry := journey.NewInteractionLog(h.newID(), studentID, event, stage, cmd.CourseContext, msg, cmd.Progress, h.clock.Now())
	if err := h.logs.Append(ctx, entry); err != nil {
		h.log.Warn("failed to record interaction", logger.StudentID(studentID), logger.Err(err))
		return ""
	}
	return entry.ID
}
