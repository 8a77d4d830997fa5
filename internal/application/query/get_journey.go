// Package query contains read operations (CQRS - Queries).
package query

import (
	"context"
	"errors"
	"time"

	"github.com/tap-lms/journey-hub/internal/domain/engagement"
	"github.com/tap-lms/journey-hub/internal/domain/journey"
	"github.com/tap-lms/journey-hub/internal/domain/shared"
	"github.com/tap-lms/journey-hub/internal/domain/student"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET JOURNEY QUERY
// Сводка пути студента: текущий этап онбординга, прогресс по всем этапам,
// вспомогательные агрегаты и, по запросу, история переходов.
// ══════════════════════════════════════════════════════════════════════════════

// GetJourneyQuery содержит параметры запроса сводки.
type GetJourneyQuery struct {
	// StudentID - первичный ключ студента или его Glific ID.
	StudentID string

	// IncludeHistory - включить историю переходов.
	IncludeHistory bool

	// Page, PageSize - страница истории переходов.
	Page     int
	PageSize int
}

// Validate проверяет корректность параметров запроса.
func (q *GetJourneyQuery) Validate() error {
	if q.StudentID == "" {
		return errors.New("student_id must be provided")
	}
	if q.Page < 0 || q.PageSize < 0 {
		return errors.New("page and page_size cannot be negative")
	}
	return nil
}

// JourneySummaryDTO - сводка пути студента.
type JourneySummaryDTO struct {
	// ─────────────────────────────────────────────────────────────────────────
	// Идентификация
	// ─────────────────────────────────────────────────────────────────────────

	StudentID string   `json:"student_id"`
	Name      string   `json:"name"`
	Courses   []string `json:"courses"`

	// ─────────────────────────────────────────────────────────────────────────
	// Состояние
	// ─────────────────────────────────────────────────────────────────────────

	// Onboarding - nil, если онбординг ещё не начат.
	Onboarding *OnboardingDTO `json:"onboarding,omitempty"`

	// Stages - записи прогресса в порядке начала.
	Stages []StageProgressDTO `json:"stages"`

	Engagement *EngagementDTO `json:"engagement,omitempty"`
	Knowledge  *KnowledgeDTO  `json:"knowledge,omitempty"`

	// History - переходы, новые первыми. Заполняется при IncludeHistory.
	History []TransitionDTO `json:"history,omitempty"`
}

// OnboardingDTO - запись онбординга.
type OnboardingDTO struct {
	CurrentStage   string     `json:"current_stage"`
	Status         string     `json:"status"`
	StartedAt      time.Time  `json:"started_at"`
	LastActivityAt time.Time  `json:"last_activity_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

// StageProgressDTO - прогресс по одному этапу.
type StageProgressDTO struct {
	ID                   string     `json:"id"`
	StageType            string     `json:"stage_type"`
	Stage                string     `json:"stage"`
	CourseContext        string     `json:"course_context,omitempty"`
	Status               string     `json:"status"`
	StartedAt            time.Time  `json:"started_at"`
	LastActivityAt       time.Time  `json:"last_activity_at"`
	CompletedAt          *time.Time `json:"completed_at,omitempty"`
	CompletionPercentage *float64   `json:"completion_percentage,omitempty"`
	Score                *float64   `json:"score,omitempty"`
	MasteryLevel         string     `json:"mastery_level,omitempty"`
}

// EngagementDTO - агрегат вовлечённости.
type EngagementDTO struct {
	SessionFrequency float64 `json:"session_frequency"`
	CurrentStreak    int     `json:"current_streak"`
	CompletionRate   float64 `json:"completion_rate"`
	LastActivityDate string  `json:"last_activity_date,omitempty"`
}

// KnowledgeDTO - учебный агрегат.
type KnowledgeDTO struct {
	KnowledgeMap       map[string]float64 `json:"knowledge_map"`
	LastAssessmentDate string             `json:"last_assessment_date,omitempty"`
}

// TransitionDTO - запись истории переходов.
type TransitionDTO struct {
	FromStageType string    `json:"from_stage_type"`
	FromStage     string    `json:"from_stage"`
	ToStageType   string    `json:"to_stage_type"`
	ToStage       string    `json:"to_stage"`
	CourseContext string    `json:"course_context,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// GetJourneyHandler обрабатывает запрос сводки.
type GetJourneyHandler struct {
	finder      *student.Finder
	progress    journey.ProgressRepository
	journeys    journey.JourneyRepository
	transitions journey.TransitionRepository
	engagement  engagement.EngagementRepository
	learning    engagement.LearningRepository
}

// NewGetJourneyHandler создаёт обработчик.
func NewGetJourneyHandler(
	finder *student.Finder,
	progress journey.ProgressRepository,
	journeys journey.JourneyRepository,
	transitions journey.TransitionRepository,
	eng engagement.EngagementRepository,
	learn engagement.LearningRepository,
) *GetJourneyHandler {
	return &GetJourneyHandler{
		finder:      finder,
		progress:    progress,
		journeys:    journeys,
		transitions: transitions,
		engagement:  eng,
		learning:    learn,
	}
}

// Handle выполняет запрос. Возвращает student.ErrStudentNotFound, если студента нет.
func (h *GetJourneyHandler) Handle(ctx context.Context, q GetJourneyQuery) (*JourneySummaryDTO, error) {
	if err := q.Validate(); err != nil {
		return nil, shared.WrapError("journey", "GetJourney", shared.ErrInvalidInput, err.Error(), nil)
	}

	match, err := h.finder.FindByID(ctx, q.StudentID)
	if err != nil {
		return nil, err
	}
	st := match.Student

	dto := &JourneySummaryDTO{
		StudentID: st.ID,
		Name:      st.Name,
		Courses:   st.ActiveCourses(),
	}

	if err := h.loadOnboarding(ctx, dto); err != nil {
		return nil, err
	}
	if err := h.loadStages(ctx, dto); err != nil {
		return nil, err
	}
	if err := h.loadAggregates(ctx, dto); err != nil {
		return nil, err
	}

	if q.IncludeHistory {
		page := shared.Pagination{Page: q.Page, PageSize: q.PageSize}
		recs, err := h.transitions.ListByStudent(ctx, st.ID, page)
		if err != nil {
			return nil, err
		}
		dto.History = make([]TransitionDTO, 0, len(recs))
		for _, r := range recs {
			dto.History = append(dto.History, TransitionDTO{
				FromStageType: r.FromStageType.String(),
				FromStage:     r.FromStage,
				ToStageType:   r.ToStageType.String(),
				ToStage:       r.ToStage,
				CourseContext: r.CourseContext,
				OccurredAt:    r.OccurredAt,
			})
		}
	}

	return dto, nil
}

func (h *GetJourneyHandler) loadOnboarding(ctx context.Context, dto *JourneySummaryDTO) error {
	j, err := h.journeys.GetByStudent(ctx, dto.StudentID)
	if err != nil {
		if shared.IsNotFound(err) {
			return nil
		}
		return err
	}
	dto.Onboarding = &OnboardingDTO{
		CurrentStage:   j.CurrentStage,
		Status:         string(j.Status),
		StartedAt:      j.StartedAt,
		LastActivityAt: j.LastActivityAt,
		CompletedAt:    j.CompletedAt,
	}
	return nil
}

func (h *GetJourneyHandler) loadStages(ctx context.Context, dto *JourneySummaryDTO) error {
	records, err := h.progress.ListByStudent(ctx, dto.StudentID)
	if err != nil {
		return err
	}
	dto.Stages = make([]StageProgressDTO, 0, len(records))
	for _, p := range records {
		item := StageProgressDTO{
			ID:                   p.ID,
			StageType:            p.StageType.String(),
			Stage:                p.Stage,
			CourseContext:        p.CourseContext,
			Status:               p.Status.String(),
			StartedAt:            p.StartedAt,
			LastActivityAt:       p.LastActivityAt,
			CompletedAt:          p.CompletedAt,
			CompletionPercentage: p.Metrics.CompletionPercentage,
			MasteryLevel:         string(p.MasteryLevel),
		}
		if score, ok := p.Metrics.Score(); ok {
			item.Score = &score
		}
		dto.Stages = append(dto.Stages, item)
	}
	return nil
}

func (h *GetJourneyHandler) loadAggregates(ctx context.Context, dto *JourneySummaryDTO) error {
	es, err := h.engagement.Get(ctx, dto.StudentID)
	switch {
	case err == nil:
		dto.Engagement = &EngagementDTO{
			SessionFrequency: es.SessionFrequency,
			CurrentStreak:    es.CurrentStreak,
			CompletionRate:   es.CompletionRate,
			LastActivityDate: es.LastActivityDate.String(),
		}
	case !shared.IsNotFound(err):
		return err
	}

	ls, err := h.learning.Get(ctx, dto.StudentID)
	switch {
	case err == nil:
		dto.Knowledge = &KnowledgeDTO{
			KnowledgeMap:       ls.KnowledgeMap,
			LastAssessmentDate: ls.LastAssessmentDate.String(),
		}
	case !shared.IsNotFound(err):
		return err
	}
	return nil
}
