package journey

import (
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// ONBOARDING JOURNEY
// ══════════════════════════════════════════════════════════════════════════════

// JourneyStatus - общий статус онбординга студента.
type JourneyStatus string

const (
	JourneyNotStarted JourneyStatus = "not_started"
	JourneyInProgress JourneyStatus = "in_progress"
	JourneyCompleted  JourneyStatus = "completed"
)

// IsValid проверяет корректность статуса.
func (s JourneyStatus) IsValid() bool {
	return s == JourneyNotStarted || s == JourneyInProgress || s == JourneyCompleted
}

// OnboardingJourney - единственная на студента запись о ходе онбординга.
type OnboardingJourney struct {
	ID        string
	StudentID string

	// CurrentStage - StageName текущего этапа онбординга.
	CurrentStage string

	Status         JourneyStatus
	StartedAt      time.Time
	LastActivityAt time.Time

	// CompletedAt выставляется один раз, при достижении финального этапа.
	CompletedAt *time.Time
}

// NewOnboardingJourney создаёт запись онбординга на указанном этапе в статусе in_progress.
func NewOnboardingJourney(id, studentID, stage string, now time.Time) *OnboardingJourney {
	return &OnboardingJourney{
		ID:             id,
		StudentID:      studentID,
		CurrentStage:   stage,
		Status:         JourneyInProgress,
		StartedAt:      now,
		LastActivityAt: now,
	}
}

// MoveTo переводит указатель текущего этапа. Статус не меняется,
// кроме not_started, который становится in_progress.
func (j *OnboardingJourney) MoveTo(stage string, now time.Time) {
	j.CurrentStage = stage
	j.LastActivityAt = now
	if j.Status == JourneyNotStarted {
		j.Status = JourneyInProgress
	}
	if j.StartedAt.IsZero() {
		j.StartedAt = now
	}
}

// Complete завершает онбординг на финальном этапе.
// Возвращает false, если онбординг уже был завершён: CompletedAt не сдвигается.
func (j *OnboardingJourney) Complete(finalStage string, now time.Time) bool {
	j.CurrentStage = finalStage
	j.LastActivityAt = now
	if j.Status == JourneyCompleted && j.CompletedAt != nil {
		return false
	}
	j.Status = JourneyCompleted
	completed := now
	j.CompletedAt = &completed
	if j.StartedAt.IsZero() {
		j.StartedAt = now
	}
	return true
}

// IsCompleted возвращает true, если онбординг завершён.
func (j *OnboardingJourney) IsCompleted() bool {
	return j.Status == JourneyCompleted
}
