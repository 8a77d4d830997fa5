package engine

import (
	"context"
	"time"

	"github.com/tap-lms/journey-hub/internal/domain/engagement"
	"github.com/tap-lms/journey-hub/internal/domain/journey"
	"github.com/tap-lms/journey-hub/internal/domain/shared"
	"github.com/tap-lms/journey-hub/pkg/logger"
	"github.com/tap-lms/journey-hub/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// STATE UPDATES
// ══════════════════════════════════════════════════════════════════════════════

// UpdateResult is the outcome of one auxiliary aggregate update.
type UpdateResult string

const (
	UpdateApplied UpdateResult = "updated"
	UpdateSkipped UpdateResult = "skipped"
	UpdateFailed  UpdateResult = "failed"
)

// SubUpdate reports how one aggregate was handled.
type SubUpdate struct {
	Result UpdateResult `json:"result"`
	Reason string       `json:"reason,omitempty"`
}

// StateUpdates collects the per-aggregate outcomes of an event.
type StateUpdates struct {
	Engagement SubUpdate `json:"engagement"`
	Learning   SubUpdate `json:"learning"`
}

// Failed reports whether any aggregate update failed.
func (u StateUpdates) Failed() bool {
	return u.Engagement.Result == UpdateFailed || u.Learning.Result == UpdateFailed
}

// ══════════════════════════════════════════════════════════════════════════════
// STATE AGGREGATOR
// ══════════════════════════════════════════════════════════════════════════════

// StateAggregator updates the engagement and learning aggregates as a side effect
// of an event. Failures are logged and reported, never returned.
type StateAggregator struct {
	engagement engagement.EngagementRepository
	learning   engagement.LearningRepository
	clock      timeutil.Clock
	log        *logger.Logger
}

// NewStateAggregator creates a StateAggregator.
func NewStateAggregator(eng engagement.EngagementRepository, learn engagement.LearningRepository, clock timeutil.Clock, log *logger.Logger) *StateAggregator {
	return &StateAggregator{
		engagement: eng,
		learning:   learn,
		clock:      clock,
		log:        log.With(logger.Component("state_aggregator")),
	}
}

// Update applies the event to both aggregates. Only learning stages feed the
// knowledge map.
func (a *StateAggregator) Update(ctx context.Context, studentID string, event journey.EventType, stageType journey.StageType, info journey.ProgressInfo, course string) StateUpdates {
	now := a.clock.Now()
	today := shared.DateOf(now.In(a.clock.Location()))

	return StateUpdates{
		Engagement: a.updateEngagement(ctx, studentID, event, today, now),
		Learning:   a.updateLearning(ctx, studentID, event, stageType, info, course, today, now),
	}
}

func (a *StateAggregator) updateEngagement(ctx context.Context, studentID string, event journey.EventType, today shared.Date, now time.Time) SubUpdate {
	st, err := a.engagement.Get(ctx, studentID)
	if err != nil {
		if !shared.IsNotFound(err) {
			return a.fail("engagement", studentID, err)
		}
		st = engagement.NewEngagementState(studentID)
	}

	st.RecordEvent(event, today, now)

	if err := a.engagement.Save(ctx, st); err != nil {
		return a.fail("engagement", studentID, err)
	}
	return SubUpdate{Result: UpdateApplied}
}

func (a *StateAggregator) updateLearning(ctx context.Context, studentID string, event journey.EventType, stageType journey.StageType, info journey.ProgressInfo, course string, today shared.Date, now time.Time) SubUpdate {
	if !event.IsAssessmentResult() {
		return SubUpdate{Result: UpdateSkipped, Reason: "not an assessment result"}
	}
	if stageType != journey.StageTypeLearning {
		return SubUpdate{Result: UpdateSkipped, Reason: "not a learning stage"}
	}
	score, ok := info.Score()
	if !ok {
		return SubUpdate{Result: UpdateSkipped, Reason: "no assessment score"}
	}

	st, err := a.learning.Get(ctx, studentID)
	if err != nil {
		if !shared.IsNotFound(err) {
			return a.fail("learning", studentID, err)
		}
		st = engagement.NewLearningState(studentID)
	}

	st.RecordScore(engagement.SubjectKey(course), score, today, now)

	if err := a.learning.Save(ctx, st); err != nil {
		return a.fail("learning", studentID, err)
	}
	return SubUpdate{Result: UpdateApplied}
}

func (a *StateAggregator) fail(aggregate, studentID string, err error) SubUpdate {
	a.log.Warn("aggregate update failed",
		logger.StudentID(studentID),
		logger.String("aggregate", aggregate),
		logger.Err(err),
	)
	return SubUpdate{Result: UpdateFailed, Reason: err.Error()}
}
