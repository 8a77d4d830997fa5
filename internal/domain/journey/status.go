// Package journey содержит доменную модель журнала студента:
// этапы онбординга и обучения, правила переходов между ними и прогресс.
// Это ядро бизнес-логики - здесь нет внешних зависимостей.
package journey

// ══════════════════════════════════════════════════════════════════════════════
// PROGRESS STATUS
// ══════════════════════════════════════════════════════════════════════════════

// Status - каноническое состояние прогресса студента на этапе.
type Status string

const (
	StatusAssigned   Status = "assigned"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusIncomplete Status = "incomplete"
	StatusFailed     Status = "failed"
	StatusSkipped    Status = "skipped"
	StatusInLoop     Status = "in_loop"
)

// TriggerDefault - статус-триггер правила, срабатывающего при отсутствии точного совпадения.
const TriggerDefault = "default"

// IsValid проверяет, что статус входит в каноническое множество.
func (s Status) IsValid() bool {
	switch s {
	case StatusAssigned, StatusInProgress, StatusCompleted, StatusIncomplete,
		StatusFailed, StatusSkipped, StatusInLoop:
		return true
	default:
		return false
	}
}

// String возвращает строковое представление.
func (s Status) String() string {
	return string(s)
}

// ══════════════════════════════════════════════════════════════════════════════
// EVENT CLASSIFIER
// ══════════════════════════════════════════════════════════════════════════════

// EventType - тип входящего события от мессенджера, системы оценивания или администратора.
type EventType string

const (
	// Flow-события
	EventFlowStarted       EventType = "flow_started"
	EventMessageReceived   EventType = "message_received"
	EventFlowStepCompleted EventType = "flow_step_completed"
	EventFlowCompleted     EventType = "flow_completed"
	EventFlowExpired       EventType = "flow_expired"
	EventFlowLoop          EventType = "flow_loop"
	EventStageFailed       EventType = "stage_failed"
	EventStageSkipped      EventType = "stage_skipped"

	// События оценивания
	EventAssessmentStarted   EventType = "assessment_started"
	EventAssessmentSubmitted EventType = "assessment_submitted"
	EventAssessmentPassed    EventType = "assessment_passed"
	EventAssessmentFailed    EventType = "assessment_failed"

	// Ручные и внешние события
	EventManualAssignment EventType = "manual_assignment"
	EventManualCompletion EventType = "manual_completion"
	EventExternalUpdate   EventType = "external_update"
	EventDirectStageEvent EventType = "direct_stage_event"
	EventStageAssigned    EventType = "stage_assigned"
	EventStageCompleted   EventType = "stage_completed"

	// Административные события
	EventTeacherOverride     EventType = "teacher_override"
	EventSystemReset         EventType = "system_reset"
	EventRemediationAssigned EventType = "remediation_assigned"

	// Только для журнала взаимодействий
	EventContentDelivered   EventType = "content_delivered"
	EventLearningChoiceMade EventType = "learning_choice_made"
)

var eventStatuses = map[EventType]Status{
	EventFlowStarted:       StatusAssigned,
	EventMessageReceived:   StatusInProgress,
	EventFlowStepCompleted: StatusInProgress,
	EventFlowCompleted:     StatusCompleted,
	EventFlowExpired:       StatusIncomplete,
	EventFlowLoop:          StatusInLoop,
	EventStageFailed:       StatusFailed,
	EventStageSkipped:      StatusSkipped,

	EventAssessmentStarted:   StatusInProgress,
	EventAssessmentSubmitted: StatusInProgress,
	EventAssessmentPassed:    StatusCompleted,
	EventAssessmentFailed:    StatusIncomplete,

	EventManualAssignment: StatusAssigned,
	EventManualCompletion: StatusCompleted,
	EventExternalUpdate:   StatusAssigned,
	EventDirectStageEvent: StatusAssigned,
	EventStageAssigned:    StatusAssigned,
	EventStageCompleted:   StatusCompleted,

	EventTeacherOverride:     StatusAssigned,
	EventSystemReset:         StatusAssigned,
	EventRemediationAssigned: StatusAssigned,
}

// Classify выводит статус прогресса из типа события.
// Функция чистая и тотальная: неизвестные события дают StatusAssigned.
func Classify(event EventType) Status {
	if s, ok := eventStatuses[event]; ok {
		return s
	}
	return StatusAssigned
}

// IsKnown возвращает true, если тип события входит в словарь классификатора.
func (e EventType) IsKnown() bool {
	_, ok := eventStatuses[e]
	return ok
}

// IsAssessmentResult возвращает true для событий, несущих результат оценивания.
func (e EventType) IsAssessmentResult() bool {
	switch e {
	case EventAssessmentSubmitted, EventAssessmentPassed, EventAssessmentFailed, EventFlowCompleted:
		return true
	default:
		return false
	}
}

// String возвращает строковое представление.
func (e EventType) String() string {
	return string(e)
}
