// Package engine implements the stage-transition engine: it applies an inbound
// event to a student's progress, evaluates the configured stage flows and
// updates the auxiliary engagement and learning aggregates.
package engine

import (
	"context"
	"fmt"

	"github.com/tap-lms/journey-hub/internal/domain/journey"
	"github.com/tap-lms/journey-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// STAGE RESOLVER
// The only place that dispatches on stage type. Everything downstream works
// through the journey.Stage interface.
// ══════════════════════════════════════════════════════════════════════════════

// StageResolver looks up stage definitions in the catalog.
type StageResolver struct {
	stages journey.StageRepository
}

// NewStageResolver creates a StageResolver.
func NewStageResolver(stages journey.StageRepository) *StageResolver {
	return &StageResolver{stages: stages}
}

// Resolve finds a stage by identifier within the given type's namespace.
// A missing stage yields journey.ErrStageNotFound; callers treat it as a normal outcome.
func (r *StageResolver) Resolve(ctx context.Context, id string, stageType journey.StageType) (journey.Stage, error) {
	switch stageType {
	case journey.StageTypeOnboarding:
		st, err := r.stages.GetOnboardingStage(ctx, id)
		if err != nil {
			return nil, err
		}
		return st, nil
	case journey.StageTypeLearning:
		st, err := r.stages.GetLearningStage(ctx, id)
		if err != nil {
			return nil, err
		}
		return st, nil
	default:
		return nil, shared.WrapError("journey", "ResolveStage", shared.ErrInvalidInput,
			fmt.Sprintf("unknown stage type %q", stageType), nil)
	}
}

// ResolveAny tries the onboarding namespace first, then learning.
// The ordering is the tie-break when an identifier exists in both.
func (r *StageResolver) ResolveAny(ctx context.Context, id string) (journey.Stage, error) {
	for _, t := range []journey.StageType{journey.StageTypeOnboarding, journey.StageTypeLearning} {
		st, err := r.Resolve(ctx, id, t)
		if err == nil {
			return st, nil
		}
		if !shared.IsNotFound(err) {
			return nil, err
		}
	}
	return nil, journey.ErrStageNotFound
}

// InitialLearningStage returns the stage a course starts at.
func (r *StageResolver) InitialLearningStage(ctx context.Context, course string) (*journey.LearningStage, bool, error) {
	stages, err := r.stages.ListLearningStages(ctx, course)
	if err != nil {
		return nil, false, err
	}
	st, ok := journey.InitialLearningStage(stages)
	return st, ok, nil
}
