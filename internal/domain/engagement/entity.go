// Package engagement содержит вспомогательные агрегаты студента:
// вовлечённость (серии дней, частота сессий, доля завершений) и
// учебное состояние (карта знаний по предметам).
// Агрегаты обновляются как побочный эффект событий журнала.
package engagement

import (
	"context"
	"time"

	"github.com/tap-lms/journey-hub/internal/domain/journey"
	"github.com/tap-lms/journey-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONSTANTS
// ══════════════════════════════════════════════════════════════════════════════

const (
	// SessionFrequencyStep - прирост частоты сессий за одно сообщение.
	SessionFrequencyStep = 0.1

	// KnowledgeDecay - вес старого значения в карте знаний.
	KnowledgeDecay = 0.7

	// KnowledgeWeight - вес нового балла в карте знаний.
	KnowledgeWeight = 0.3

	// GeneralSubject - ключ карты знаний для событий без контекста курса.
	GeneralSubject = "general"
)

var (
	// ErrEngagementStateNotFound - агрегат вовлечённости не найден.
	ErrEngagementStateNotFound = shared.ErrEngagementStateNotFound

	// ErrLearningStateNotFound - учебный агрегат не найден.
	ErrLearningStateNotFound = shared.ErrLearningStateNotFound
)

// ══════════════════════════════════════════════════════════════════════════════
// PURE UPDATE RULES
// ══════════════════════════════════════════════════════════════════════════════

// NextStreak пересчитывает серию дней по разнице календарных дней
// с предыдущей активностью: 1 день - +1, больше - сброс в 1, тот же день - без изменений.
// Без предыдущей активности серия равна 1.
func NextStreak(current int, previous, today shared.Date) int {
	if previous.IsZero() {
		return 1
	}
	diff := today.DaysSince(previous)
	switch {
	case diff == 1:
		return current + 1
	case diff > 1:
		return 1
	default:
		return current
	}
}

// NextCompletionRate сглаживает долю завершений: (old*9 + 10) / 10, не больше 100.
// Неподвижная точка формулы 10: значения выше 10 убывают к ней.
func NextCompletionRate(old float64) float64 {
	next := shared.Percentage(float64(old*9)+10) / 10
	return next.Clamp().Float64()
}

// NextKnowledgeScore - экспоненциальное скользящее среднее: old*0.7 + score*0.3.
// Явные преобразования запрещают компилятору сливать умножение и сложение.
func NextKnowledgeScore(old, score float64) float64 {
	return float64(old*KnowledgeDecay) + float64(score*KnowledgeWeight)
}

// SubjectKey возвращает ключ карты знаний для контекста курса.
func SubjectKey(course string) string {
	if course == "" {
		return GeneralSubject
	}
	return course
}

// ══════════════════════════════════════════════════════════════════════════════
// ENGAGEMENT STATE
// ══════════════════════════════════════════════════════════════════════════════

// EngagementState - агрегат вовлечённости студента.
type EngagementState struct {
	StudentID        string
	SessionFrequency float64
	CurrentStreak    int
	CompletionRate   float64
	LastActivityDate shared.Date
	UpdatedAt        time.Time
}

// NewEngagementState создаёт пустой агрегат.
func NewEngagementState(studentID string) *EngagementState {
	return &EngagementState{StudentID: studentID}
}

// RecordEvent применяет событие к агрегату. Любое событие обновляет
// дату последней активности; серия считается от предыдущей даты.
func (s *EngagementState) RecordEvent(event journey.EventType, today shared.Date, now time.Time) {
	previous := s.LastActivityDate

	switch event {
	case journey.EventMessageReceived:
		s.SessionFrequency += SessionFrequencyStep
		s.CurrentStreak = NextStreak(s.CurrentStreak, previous, today)
	case journey.EventFlowCompleted:
		s.CompletionRate = NextCompletionRate(s.CompletionRate)
	}

	s.LastActivityDate = today
	s.UpdatedAt = now
}

// ══════════════════════════════════════════════════════════════════════════════
// LEARNING STATE
// ══════════════════════════════════════════════════════════════════════════════

// LearningState - учебный агрегат: баллы знаний по предметам.
type LearningState struct {
	StudentID          string
	KnowledgeMap       map[string]float64
	LastAssessmentDate shared.Date
	UpdatedAt          time.Time
}

// NewLearningState создаёт пустой агрегат.
func NewLearningState(studentID string) *LearningState {
	return &LearningState{StudentID: studentID, KnowledgeMap: make(map[string]float64)}
}

// RecordScore обновляет балл предмета. Первый балл сохраняется как есть.
func (s *LearningState) RecordScore(subject string, score float64, today shared.Date, now time.Time) float64 {
	if s.KnowledgeMap == nil {
		s.KnowledgeMap = make(map[string]float64)
	}
	next := score
	if old, ok := s.KnowledgeMap[subject]; ok {
		next = NextKnowledgeScore(old, score)
	}
	s.KnowledgeMap[subject] = next
	s.LastAssessmentDate = today
	s.UpdatedAt = now
	return next
}

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY INTERFACES
// ══════════════════════════════════════════════════════════════════════════════

// EngagementRepository - хранилище агрегатов вовлечённости.
type EngagementRepository interface {
	// Get возвращает агрегат студента.
	// Возвращает ErrEngagementStateNotFound, если его нет.
	Get(ctx context.Context, studentID string) (*EngagementState, error)

	// Save создаёт или обновляет агрегат.
	Save(ctx context.Context, state *EngagementState) error
}

// LearningRepository - хранилище учебных агрегатов.
type LearningRepository interface {
	// Get возвращает агрегат студента.
	// Возвращает ErrLearningStateNotFound, если его нет.
	Get(ctx context.Context, studentID string) (*LearningState, error)

	// Save создаёт или обновляет агрегат.
	Save(ctx context.Context, state *LearningState) error
}
