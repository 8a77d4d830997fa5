package engine

import (
	"context"

	"github.com/tap-lms/journey-hub/internal/domain/journey"
	"github.com/tap-lms/journey-hub/internal/domain/shared"
	"github.com/tap-lms/journey-hub/pkg/timeutil"
)

// JourneyTracker maintains the per-student onboarding journey record.
// A missing record is created on first use.
type JourneyTracker struct {
	repo  journey.JourneyRepository
	clock timeutil.Clock
	newID IDGenerator
}

// NewJourneyTracker creates a JourneyTracker.
func NewJourneyTracker(repo journey.JourneyRepository, clock timeutil.Clock, newID IDGenerator) *JourneyTracker {
	return &JourneyTracker{repo: repo, clock: clock, newID: newID}
}

// Assign points the journey at a newly assigned onboarding stage.
// A completed journey is left untouched.
func (t *JourneyTracker) Assign(ctx context.Context, studentID, stage string) error {
	now := t.clock.Now()

	j, err := t.load(ctx, studentID)
	if err != nil {
		return err
	}
	if j == nil {
		return t.repo.Save(ctx, journey.NewOnboardingJourney(t.newID(), studentID, stage, now))
	}
	if j.IsCompleted() || j.CurrentStage == stage {
		return nil
	}
	j.MoveTo(stage, now)
	return t.repo.Save(ctx, j)
}

// Advance moves the pointer from one stage to the next. The pointer moves when
// force is set, when there is no record yet, or when it still sits on from.
// It reports whether the pointer moved.
func (t *JourneyTracker) Advance(ctx context.Context, studentID, from, to string, force bool) (bool, error) {
	now := t.clock.Now()

	j, err := t.load(ctx, studentID)
	if err != nil {
		return false, err
	}
	if j == nil {
		return true, t.repo.Save(ctx, journey.NewOnboardingJourney(t.newID(), studentID, to, now))
	}
	if !force && j.CurrentStage != from {
		return false, nil
	}
	if j.CurrentStage == to {
		return false, nil
	}
	j.MoveTo(to, now)
	return true, t.repo.Save(ctx, j)
}

// Complete marks the journey completed at the final stage. first is false when
// the journey had already been completed; its CompletedAt is then preserved.
func (t *JourneyTracker) Complete(ctx context.Context, studentID, finalStage string) (*journey.OnboardingJourney, bool, error) {
	now := t.clock.Now()

	j, err := t.load(ctx, studentID)
	if err != nil {
		return nil, false, err
	}
	if j == nil {
		j = journey.NewOnboardingJourney(t.newID(), studentID, finalStage, now)
	}

	first := j.Complete(finalStage, now)
	if err := t.repo.Save(ctx, j); err != nil {
		return nil, false, err
	}
	return j, first, nil
}

// Get returns the journey record, or nil when the student has none.
func (t *JourneyTracker) Get(ctx context.Context, studentID string) (*journey.OnboardingJourney, error) {
	return t.load(ctx, studentID)
}

func (t *JourneyTracker) load(ctx context.Context, studentID string) (*journey.OnboardingJourney, error) {
	j, err := t.repo.GetByStudent(ctx, studentID)
	if err != nil {
		if shared.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return j, nil
}
