package postgres

import (
	"context"
	"encoding/json"

	"github.com/tap-lms/journey-hub/internal/domain/journey"
	"github.com/tap-lms/journey-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// ONBOARDING JOURNEY REPOSITORY
// ══════════════════════════════════════════════════════════════════════════════

// JourneyRepository implements journey.JourneyRepository. One row per student.
type JourneyRepository struct {
	conn *Connection
}

// NewJourneyRepository creates a new JourneyRepository.
func NewJourneyRepository(conn *Connection) *JourneyRepository {
	return &JourneyRepository{conn: conn}
}

// GetByStudent returns the student's onboarding journey.
func (r *JourneyRepository) GetByStudent(ctx context.Context, studentID string) (*journey.OnboardingJourney, error) {
	var (
		j      journey.OnboardingJourney
		status string
	)
	err := r.conn.QueryRow(ctx, `
		SELECT id, student_id, current_stage, status, started_at, last_activity_at, completed_at
		FROM onboarding_journeys
		WHERE student_id = $1
	`, studentID).Scan(&j.ID, &j.StudentID, &j.CurrentStage, &status, &j.StartedAt, &j.LastActivityAt, &j.CompletedAt)
	if err != nil {
		if IsNoRows(err) {
			return nil, journey.ErrJourneyNotFound
		}
		return nil, storageError("journey", "FindJourney", err)
	}
	j.Status = journey.JourneyStatus(status)
	return &j, nil
}

// Save upserts the journey keyed by student.
func (r *JourneyRepository) Save(ctx context.Context, j *journey.OnboardingJourney) error {
	_, err := r.conn.Exec(ctx, `
		INSERT INTO onboarding_journeys (id, student_id, current_stage, status, started_at, last_activity_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (student_id) DO UPDATE SET
			current_stage = EXCLUDED.current_stage,
			status = EXCLUDED.status,
			last_activity_at = EXCLUDED.last_activity_at,
			completed_at = EXCLUDED.completed_at
	`, j.ID, j.StudentID, j.CurrentStage, string(j.Status), j.StartedAt, j.LastActivityAt, j.CompletedAt)
	if err != nil {
		return storageError("journey", "SaveJourney", err)
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// APPEND-ONLY LOGS
// ══════════════════════════════════════════════════════════════════════════════

// TransitionRepository implements journey.TransitionRepository.
type TransitionRepository struct {
	conn *Connection
}

// NewTransitionRepository creates a new TransitionRepository.
func NewTransitionRepository(conn *Connection) *TransitionRepository {
	return &TransitionRepository{conn: conn}
}

// Append inserts a transition record.
func (r *TransitionRepository) Append(ctx context.Context, rec *journey.TransitionRecord) error {
	_, err := r.conn.Exec(ctx, `
		INSERT INTO transition_history (
			id, student_id, from_stage_type, from_stage, to_stage_type, to_stage,
			course_context, occurred_at, success
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		rec.ID,
		rec.StudentID,
		string(rec.FromStageType),
		rec.FromStage,
		string(rec.ToStageType),
		rec.ToStage,
		rec.CourseContext,
		rec.OccurredAt,
		rec.Success,
	)
	if err != nil {
		return storageError("journey", "AppendTransition", err)
	}
	return nil
}

// ListByStudent returns a page of the student's transitions, newest first.
func (r *TransitionRepository) ListByStudent(ctx context.Context, studentID string, page shared.Pagination) ([]*journey.TransitionRecord, error) {
	rows, err := r.conn.Query(ctx, `
		SELECT id, student_id, from_stage_type, from_stage, to_stage_type, to_stage,
			   course_context, occurred_at, success
		FROM transition_history
		WHERE student_id = $1
		ORDER BY seq DESC
		LIMIT $2 OFFSET $3
	`, studentID, page.Limit(), page.Offset())
	if err != nil {
		return nil, storageError("journey", "ListTransitions", err)
	}
	defer rows.Close()

	var out []*journey.TransitionRecord
	for rows.Next() {
		var (
			rec        journey.TransitionRecord
			fromT, toT string
		)
		if err := rows.Scan(&rec.ID, &rec.StudentID, &fromT, &rec.FromStage, &toT, &rec.ToStage,
			&rec.CourseContext, &rec.OccurredAt, &rec.Success); err != nil {
			return nil, storageError("journey", "ListTransitions", err)
		}
		rec.FromStageType = journey.StageType(fromT)
		rec.ToStageType = journey.StageType(toT)
		out = append(out, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, storageError("journey", "ListTransitions", err)
	}
	return out, nil
}

// InteractionLogRepository implements journey.InteractionLogRepository.
type InteractionLogRepository struct {
	conn *Connection
}

// NewInteractionLogRepository creates a new InteractionLogRepository.
func NewInteractionLogRepository(conn *Connection) *InteractionLogRepository {
	return &InteractionLogRepository{conn: conn}
}

// Append inserts an interaction log entry.
func (r *InteractionLogRepository) Append(ctx context.Context, l *journey.InteractionLog) error {
	progress, err := json.Marshal(l.Progress)
	if err != nil {
		return storageError("journey", "AppendInteraction", err)
	}

	_, err = r.conn.Exec(ctx, `
		INSERT INTO interaction_logs (
			id, student_id, occurred_at, event_type, interaction_type, stage_type, stage,
			course_context, content, message_id, message_type, system_action, agency, progress
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`,
		l.ID,
		l.StudentID,
		l.OccurredAt,
		string(l.EventType),
		string(l.InteractionType),
		string(l.StageType),
		l.Stage,
		l.CourseContext,
		l.Content,
		l.MessageID,
		l.MessageType,
		l.SystemAction,
		string(l.Agency),
		progress,
	)
	if err != nil {
		return storageError("journey", "AppendInteraction", err)
	}
	return nil
}

var (
	_ journey.JourneyRepository        = (*JourneyRepository)(nil)
	_ journey.TransitionRepository     = (*TransitionRepository)(nil)
	_ journey.InteractionLogRepository = (*InteractionLogRepository)(nil)
)
