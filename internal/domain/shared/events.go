// Package shared contains common domain types, errors, and events
// that are used across all domain packages.
package shared

import (
	"time"
)

// EventType represents the type of domain event.
type EventType string

// Domain event types emitted by the journey engine.
const (
	// Journey events
	EventStageAssigned   EventType = "journey.stage_assigned"
	EventStageProgressed EventType = "journey.stage_progressed"
	EventJourneyComplete EventType = "journey.completed"
)

// Event is the base interface for all domain events.
type Event interface {
	// EventType returns the type of the event.
	EventType() EventType

	// OccurredAt returns when the event occurred.
	OccurredAt() time.Time

	// AggregateID returns the ID of the aggregate that produced this event.
	AggregateID() string

	// Payload returns the event data as a map for serialization.
	Payload() map[string]interface{}
}

// BaseEvent provides common event functionality.
type BaseEvent struct {
	Type          EventType `json:"type"`
	Timestamp     time.Time `json:"timestamp"`
	AggregateId   string    `json:"aggregate_id"`
	Version       int       `json:"version"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

// EventType implements Event interface.
func (e BaseEvent) EventType() EventType {
	return e.Type
}

// OccurredAt implements Event interface.
func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

// AggregateID implements Event interface.
func (e BaseEvent) AggregateID() string {
	return e.AggregateId
}

// NewBaseEvent creates a new base event.
func NewBaseEvent(eventType EventType, aggregateID string) BaseEvent {
	return BaseEvent{
		Type:        eventType,
		Timestamp:   time.Now().UTC(),
		AggregateId: aggregateID,
		Version:     1,
	}
}

// WithCorrelationID sets the correlation ID for tracing.
func (e BaseEvent) WithCorrelationID(id string) BaseEvent {
	e.CorrelationID = id
	return e
}

// ═══════════════════════════════════════════════════════════════════════════
// Journey Events
// ═══════════════════════════════════════════════════════════════════════════

// StageAssignedEvent is emitted when a student gets a new progress record.
type StageAssignedEvent struct {
	BaseEvent
	StageType     string `json:"stage_type"`
	Stage         string `json:"stage"`
	CourseContext string `json:"course_context,omitempty"`
	Status        string `json:"status"`
}

// NewStageAssignedEvent creates a new StageAssignedEvent.
func NewStageAssignedEvent(studentID, stageType, stage, course, status string) *StageAssignedEvent {
	return &StageAssignedEvent{
		BaseEvent:     NewBaseEvent(EventStageAssigned, studentID),
		StageType:     stageType,
		Stage:         stage,
		CourseContext: course,
		Status:        status,
	}
}

// Payload implements Event interface.
func (e *StageAssignedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"student_id":     e.AggregateId,
		"stage_type":     e.StageType,
		"stage":          e.Stage,
		"course_context": e.CourseContext,
		"status":         e.Status,
	}
}

// StageProgressedEvent is emitted when a flow rule moves a student to the next stage.
type StageProgressedEvent struct {
	BaseEvent
	StageType     string `json:"stage_type"`
	FromStage     string `json:"from_stage"`
	ToStage       string `json:"to_stage"`
	CourseContext string `json:"course_context,omitempty"`
}

// NewStageProgressedEvent creates a new StageProgressedEvent.
func NewStageProgressedEvent(studentID, stageType, from, to, course string) *StageProgressedEvent {
	return &StageProgressedEvent{
		BaseEvent:     NewBaseEvent(EventStageProgressed, studentID),
		StageType:     stageType,
		FromStage:     from,
		ToStage:       to,
		CourseContext: course,
	}
}

// Payload implements Event interface.
func (e *StageProgressedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"student_id":     e.AggregateId,
		"stage_type":     e.StageType,
		"from_stage":     e.FromStage,
		"to_stage":       e.ToStage,
		"course_context": e.CourseContext,
	}
}

// JourneyCompletedEvent is emitted once a student finishes onboarding.
type JourneyCompletedEvent struct {
	BaseEvent
	FinalStage          string    `json:"final_stage"`
	CompletedAt         time.Time `json:"completed_at"`
	LearningInitialized int       `json:"learning_initialized"`
}

// NewJourneyCompletedEvent creates a new JourneyCompletedEvent.
func NewJourneyCompletedEvent(studentID, finalStage string, completedAt time.Time, initialized int) *JourneyCompletedEvent {
	return &JourneyCompletedEvent{
		BaseEvent:           NewBaseEvent(EventJourneyComplete, studentID),
		FinalStage:          finalStage,
		CompletedAt:         completedAt,
		LearningInitialized: initialized,
	}
}

// Payload implements Event interface.
func (e *JourneyCompletedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"student_id":           e.AggregateId,
		"final_stage":          e.FinalStage,
		"completed_at":         e.CompletedAt,
		"learning_initialized": e.LearningInitialized,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Event Bus Interfaces
// ═══════════════════════════════════════════════════════════════════════════

// EventHandler is a function that handles an event.
type EventHandler func(event Event) error

// EventPublisher defines the interface for publishing events.
type EventPublisher interface {
	// Publish sends an event to subscribers.
	Publish(event Event) error
}

// EventSubscriber defines the interface for subscribing to events.
type EventSubscriber interface {
	// Subscribe registers a handler for a specific event type.
	Subscribe(eventType EventType, handler EventHandler) error

	// SubscribeAll registers a handler for all events.
	SubscribeAll(handler EventHandler) error
}

// EventBus combines publishing and subscribing.
type EventBus interface {
	EventPublisher
	EventSubscriber
}

// NoopPublisher discards every event.
type NoopPublisher struct{}

// Publish implements EventPublisher.
func (NoopPublisher) Publish(Event) error { return nil }
