// Package command contains write operations (CQRS - Commands).
package command

import (
	"github.com/tap-lms/journey-hub/internal/application/engine"
	"github.com/tap-lms/journey-hub/internal/domain/journey"
)

// ══════════════════════════════════════════════════════════════════════════════
// RESULT
// Shared by every command that drives the engine. The JSON shape is the one
// the messaging integration already consumes.
// ══════════════════════════════════════════════════════════════════════════════

// ErrorKind separates business outcomes from system failures.
type ErrorKind string

const (
	ErrorKindValidation ErrorKind = "validation"
	ErrorKindNotFound   ErrorKind = "not_found"
	ErrorKindSystem     ErrorKind = "system"
)

// StageProgressView is the progress record summary returned to callers.
type StageProgressView struct {
	ID           string               `json:"id"`
	Status       journey.Status       `json:"status"`
	Updated      bool                 `json:"updated"`
	MasteryLevel journey.MasteryLevel `json:"mastery_level,omitempty"`
}

// StageData is the detailed part of a StageResult.
type StageData struct {
	StudentID        string                `json:"student_id"`
	StageProgress    StageProgressView     `json:"stage_progress"`
	StateUpdates     engine.StateUpdates   `json:"state_updates"`
	Transitions      engine.TransitionInfo `json:"transitions"`
	InteractionLogID string                `json:"interaction_log_id,omitempty"`
	MatchStrategy    string                `json:"match_strategy,omitempty"`
}

// StageResult is the outcome of a command handled by the engine.
// Failures never surface as Go errors: Success is false and ErrorKind says why.
type StageResult struct {
	Success bool `json:"success"`

	Action        engine.Action     `json:"action,omitempty"`
	Stage         string            `json:"stage,omitempty"`
	StageType     journey.StageType `json:"stage_type,omitempty"`
	StatusChange  string            `json:"status_change,omitempty"`
	Status        journey.Status    `json:"status,omitempty"`
	CourseContext string            `json:"course_context,omitempty"`
	Data          *StageData        `json:"data,omitempty"`

	Error     string    `json:"error,omitempty"`
	ErrorKind ErrorKind `json:"error_kind,omitempty"`
}

func failure(kind ErrorKind, msg string) *StageResult {
	return &StageResult{Success: false, Error: msg, ErrorKind: kind}
}

func stageResult(studentID string, stage journey.Stage, course string, out *engine.Outcome) *StageResult {
	res := &StageResult{
		Success:       true,
		Action:        out.Action,
		Stage:         stage.ID(),
		StageType:     stage.Type(),
		CourseContext: course,
		Data: &StageData{
			StudentID: studentID,
			StageProgress: StageProgressView{
				ID:           out.Progress.ID,
				Status:       out.Status,
				Updated:      true,
				MasteryLevel: out.Progress.MasteryLevel,
			},
			StateUpdates: out.StateUpdates,
			Transitions:  out.Transition,
		},
	}
	if out.Action == engine.ActionExistingStageUpdated {
		res.StatusChange = out.StatusChange()
	} else {
		res.Status = out.Status
	}
	return res
}
