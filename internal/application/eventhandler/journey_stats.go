// Package eventhandler содержит обработчики доменных событий.
package eventhandler

import (
	"log/slog"
	"sync"
	"time"

	"github.com/tap-lms/journey-hub/internal/domain/shared"
)

// ═══════════════════════════════════════════════════════════════════════════
// JOURNEY STATS HANDLER
// Подписчик на события пути студента.
//
// Ключевые функции:
// 1. Структурированный лог каждого перехода и завершения онбординга
// 2. Счётчики для эндпоинта статистики (назначения, переходы, завершения)
//
// Счётчики живут в памяти процесса и сбрасываются при перезапуске.
// ═══════════════════════════════════════════════════════════════════════════

// JourneyStats - снимок счётчиков.
type JourneyStats struct {
	StagesAssigned     int            `json:"stages_assigned"`
	StageProgressions  int            `json:"stage_progressions"`
	JourneysCompleted  int            `json:"journeys_completed"`
	LearningBootstraps int            `json:"learning_stages_initialized"`
	ArrivalsByStage    map[string]int `json:"arrivals_by_stage"`
	LastCompletionAt   *time.Time     `json:"last_completion_at,omitempty"`
}

// JourneyStatsHandler обрабатывает события этапов и онбординга.
type JourneyStatsHandler struct {
	mu    sync.Mutex
	stats JourneyStats

	logger *slog.Logger
}

// NewJourneyStatsHandler создаёт обработчик.
func NewJourneyStatsHandler(logger *slog.Logger) *JourneyStatsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &JourneyStatsHandler{
		stats:  JourneyStats{ArrivalsByStage: make(map[string]int)},
		logger: logger.With("handler", "journey_stats"),
	}
}

// EventTypes возвращает типы событий, на которые нужно подписать обработчик.
func (h *JourneyStatsHandler) EventTypes() []shared.EventType {
	return []shared.EventType{
		shared.EventStageAssigned,
		shared.EventStageProgressed,
		shared.EventJourneyComplete,
	}
}

// Register подписывает обработчик на все его события.
func (h *JourneyStatsHandler) Register(sub shared.EventSubscriber) error {
	for _, t := range h.EventTypes() {
		if err := sub.Subscribe(t, h.Handle); err != nil {
			return err
		}
	}
	return nil
}

// Handle обрабатывает событие.
// Реализует интерфейс shared.EventHandler.
func (h *JourneyStatsHandler) Handle(event shared.Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	switch e := event.(type) {
	case *shared.StageAssignedEvent:
		h.stats.StagesAssigned++
		h.stats.ArrivalsByStage[e.Stage]++

	case *shared.StageProgressedEvent:
		h.stats.StageProgressions++
		h.stats.ArrivalsByStage[e.ToStage]++
		h.logger.Info("student progressed",
			"student_id", e.AggregateID(),
			"stage_type", e.StageType,
			"from_stage", e.FromStage,
			"to_stage", e.ToStage,
			"course_context", e.CourseContext,
		)

	case *shared.JourneyCompletedEvent:
		h.stats.JourneysCompleted++
		h.stats.LearningBootstraps += e.LearningInitialized
		at := e.CompletedAt
		h.stats.LastCompletionAt = &at
		h.logger.Info("onboarding completed",
			"student_id", e.AggregateID(),
			"final_stage", e.FinalStage,
			"learning_initialized", e.LearningInitialized,
		)

	default:
		h.logger.Warn("received unexpected event", "event_type", event.EventType())
	}
	return nil
}

// Snapshot возвращает копию счётчиков.
func (h *JourneyStatsHandler) Snapshot() JourneyStats {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := h.stats
	out.ArrivalsByStage = make(map[string]int, len(h.stats.ArrivalsByStage))
	for k, v := range h.stats.ArrivalsByStage {
		out.ArrivalsByStage[k] = v
	}
	if h.stats.LastCompletionAt != nil {
		at := *h.stats.LastCompletionAt
		out.LastCompletionAt = &at
	}
	return out
}
