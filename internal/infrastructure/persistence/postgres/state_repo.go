package postgres

import (
	"context"
	"encoding/json"
	"time"

	"github.com/tap-lms/journey-hub/internal/domain/engagement"
	"github.com/tap-lms/journey-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// AUXILIARY AGGREGATES
// ══════════════════════════════════════════════════════════════════════════════

// EngagementRepository implements engagement.EngagementRepository.
type EngagementRepository struct {
	conn *Connection
}

// NewEngagementRepository creates a new EngagementRepository.
func NewEngagementRepository(conn *Connection) *EngagementRepository {
	return &EngagementRepository{conn: conn}
}

// Get returns the engagement state of a student.
func (r *EngagementRepository) Get(ctx context.Context, studentID string) (*engagement.EngagementState, error) {
	var (
		s    engagement.EngagementState
		last *time.Time
	)
	err := r.conn.QueryRow(ctx, `
		SELECT student_id, session_frequency, current_streak, completion_rate, last_activity_date, updated_at
		FROM engagement_states
		WHERE student_id = $1
	`, studentID).Scan(&s.StudentID, &s.SessionFrequency, &s.CurrentStreak, &s.CompletionRate, &last, &s.UpdatedAt)
	if err != nil {
		if IsNoRows(err) {
			return nil, engagement.ErrEngagementStateNotFound
		}
		return nil, storageError("engagement", "FindEngagement", err)
	}
	s.LastActivityDate = dateFrom(last)
	return &s, nil
}

// Save upserts the engagement state.
func (r *EngagementRepository) Save(ctx context.Context, s *engagement.EngagementState) error {
	_, err := r.conn.Exec(ctx, `
		INSERT INTO engagement_states (student_id, session_frequency, current_streak, completion_rate, last_activity_date, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (student_id) DO UPDATE SET
			session_frequency = EXCLUDED.session_frequency,
			current_streak = EXCLUDED.current_streak,
			completion_rate = EXCLUDED.completion_rate,
			last_activity_date = EXCLUDED.last_activity_date,
			updated_at = EXCLUDED.updated_at
	`, s.StudentID, s.SessionFrequency, s.CurrentStreak, s.CompletionRate, dateArg(s.LastActivityDate), s.UpdatedAt)
	if err != nil {
		return storageError("engagement", "SaveEngagement", err)
	}
	return nil
}

// LearningRepository implements engagement.LearningRepository.
type LearningRepository struct {
	conn *Connection
}

// NewLearningRepository creates a new LearningRepository.
func NewLearningRepository(conn *Connection) *LearningRepository {
	return &LearningRepository{conn: conn}
}

// Get returns the learning state of a student.
func (r *LearningRepository) Get(ctx context.Context, studentID string) (*engagement.LearningState, error) {
	var (
		s    engagement.LearningState
		raw  []byte
		last *time.Time
	)
	err := r.conn.QueryRow(ctx, `
		SELECT student_id, knowledge_map, last_assessment_date, updated_at
		FROM learning_states
		WHERE student_id = $1
	`, studentID).Scan(&s.StudentID, &raw, &last, &s.UpdatedAt)
	if err != nil {
		if IsNoRows(err) {
			return nil, engagement.ErrLearningStateNotFound
		}
		return nil, storageError("engagement", "FindLearning", err)
	}

	s.KnowledgeMap = make(map[string]float64)
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &s.KnowledgeMap); err != nil {
			return nil, storageError("engagement", "FindLearning", err)
		}
	}
	s.LastAssessmentDate = dateFrom(last)
	return &s, nil
}

// Save upserts the learning state.
func (r *LearningRepository) Save(ctx context.Context, s *engagement.LearningState) error {
	raw, err := json.Marshal(s.KnowledgeMap)
	if err != nil {
		return storageError("engagement", "SaveLearning", err)
	}

	_, err = r.conn.Exec(ctx, `
		INSERT INTO learning_states (student_id, knowledge_map, last_assessment_date, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (student_id) DO UPDATE SET
			knowledge_map = EXCLUDED.knowledge_map,
			last_assessment_date = EXCLUDED.last_assessment_date,
			updated_at = EXCLUDED.updated_at
	`, s.StudentID, raw, dateArg(s.LastAssessmentDate), s.UpdatedAt)
	if err != nil {
		return storageError("engagement", "SaveLearning", err)
	}
	return nil
}

// dateArg maps the zero Date to SQL NULL.
func dateArg(d shared.Date) *time.Time {
	if d.IsZero() {
		return nil
	}
	t := d.Time()
	return &t
}

func dateFrom(t *time.Time) shared.Date {
	if t == nil {
		return shared.Date{}
	}
	return shared.DateOf(t.UTC())
}

var (
	_ engagement.EngagementRepository = (*EngagementRepository)(nil)
	_ engagement.LearningRepository   = (*LearningRepository)(nil)
)
