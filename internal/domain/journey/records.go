package journey

import (
	"fmt"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// TRANSITION HISTORY
// ══════════════════════════════════════════════════════════════════════════════

// TransitionRecord - запись журнала переходов. Только добавление.
type TransitionRecord struct {
	ID            string
	StudentID     string
	FromStageType StageType
	FromStage     string
	ToStageType   StageType
	ToStage       string
	CourseContext string
	OccurredAt    time.Time
	Success       bool
}

// NewTransitionRecord фиксирует успешный переход между этапами.
func NewTransitionRecord(id, studentID string, from, to Stage, course string, now time.Time) *TransitionRecord {
	return &TransitionRecord{
		ID:            id,
		StudentID:     studentID,
		FromStageType: from.Type(),
		FromStage:     from.ID(),
		ToStageType:   to.Type(),
		ToStage:       to.ID(),
		CourseContext: course,
		OccurredAt:    now,
		Success:       true,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// INTERACTION LOG
// ══════════════════════════════════════════════════════════════════════════════

// InteractionType - категория взаимодействия для аудита.
type InteractionType string

const (
	InteractionMessage     InteractionType = "message"
	InteractionQuiz        InteractionType = "quiz"
	InteractionHelpRequest InteractionType = "help_request"
)

// AgencyIndicator - инициатор взаимодействия: сам студент или система.
type AgencyIndicator string

const (
	AgencySelfDetermined AgencyIndicator = "Self-Determined"
	AgencyDirected       AgencyIndicator = "Directed"
)

// Message - входящее сообщение мессенджера, прикреплённое к событию.
type Message struct {
	ID   string `json:"id,omitempty"`
	Type string `json:"type,omitempty"`
	Body string `json:"body,omitempty"`
}

// InteractionLog - запись аудита одного отслеженного взаимодействия.
type InteractionLog struct {
	ID              string
	StudentID       string
	OccurredAt      time.Time
	EventType       EventType
	InteractionType InteractionType
	StageType       StageType
	Stage           string
	CourseContext   string
	Content         string
	MessageID       string
	MessageType     string
	SystemAction    string
	Agency          AgencyIndicator
	Progress        ProgressInfo
}

// InteractionTypeOf возвращает категорию взаимодействия для типа события.
func InteractionTypeOf(event EventType) InteractionType {
	switch event {
	case EventAssessmentSubmitted:
		return InteractionQuiz
	case EventLearningChoiceMade:
		return InteractionHelpRequest
	default:
		return InteractionMessage
	}
}

// AgencyOf определяет, инициировал ли взаимодействие сам студент.
func AgencyOf(event EventType) AgencyIndicator {
	if event == EventMessageReceived || event == EventLearningChoiceMade {
		return AgencySelfDetermined
	}
	return AgencyDirected
}

// SystemAction формирует человекочитаемое описание действия системы.
func SystemAction(event EventType, stage Stage, course string, info ProgressInfo) string {
	stageType, id := stage.Type(), stage.ID()
	switch event {
	case EventFlowCompleted:
		if course != "" {
			return fmt.Sprintf("Completed %s: %s in %s", stageType, id, course)
		}
		return fmt.Sprintf("Completed %s: %s", stageType, id)
	case EventFlowExpired:
		exit := info.ExitType
		if exit == "" {
			exit = "unknown"
		}
		return fmt.Sprintf("%s %s expired: %s", stageType, id, exit)
	case EventAssessmentSubmitted:
		return fmt.Sprintf("Assessment submitted for %s: %s", stageType, id)
	default:
		return fmt.Sprintf("Interaction with %s: %s", stageType, id)
	}
}

// NewInteractionLog собирает запись аудита для события.
func NewInteractionLog(id, studentID string, event EventType, stage Stage, course string, msg Message, info ProgressInfo, now time.Time) *InteractionLog {
	msgType := msg.Type
	if msgType == "" {
		msgType = "text"
	}
	return &InteractionLog{
		ID:              id,
		StudentID:       studentID,
		OccurredAt:      now,
		EventType:       event,
		InteractionType: InteractionTypeOf(event),
		StageType:       stage.Type(),
		Stage:           stage.ID(),
		CourseContext:   course,
		Content:         msg.Body,
		MessageID:       msg.ID,
		MessageType:     msgType,
		SystemAction:    SystemAction(event, stage, course, info),
		Agency:          AgencyOf(event),
		Progress:        info,
	}
}
