package postgres

import "context"

// Store groups the repositories that share one connection pool.
type Store struct {
	conn *Connection
}

// NewStore creates a Store on top of an open connection.
func NewStore(conn *Connection) *Store {
	return &Store{conn: conn}
}

// Ping checks the underlying connection.
func (s *Store) Ping(ctx context.Context) error { return s.conn.Ping(ctx) }

// Students returns the student repository.
func (s *Store) Students() *StudentRepository { return NewStudentRepository(s.conn) }

// Stages returns the stage catalog repository.
func (s *Store) Stages() *StageRepository { return NewStageRepository(s.conn) }

// Progress returns the stage progress repository.
func (s *Store) Progress() *ProgressRepository { return NewProgressRepository(s.conn) }

// Journeys returns the onboarding journey repository.
func (s *Store) Journeys() *JourneyRepository { return NewJourneyRepository(s.conn) }

// Transitions returns the transition history repository.
func (s *Store) Transitions() *TransitionRepository { return NewTransitionRepository(s.conn) }

// InteractionLogs returns the interaction log repository.
func (s *Store) InteractionLogs() *InteractionLogRepository {
	return NewInteractionLogRepository(s.conn)
}

// Engagement returns the engagement state repository.
func (s *Store) Engagement() *EngagementRepository { return NewEngagementRepository(s.conn) }

// Learning returns the learning state repository.
func (s *Store) Learning() *LearningRepository { return NewLearningRepository(s.conn) }
