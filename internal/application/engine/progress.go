package engine

import (
	"context"
	"errors"

	"github.com/tap-lms/journey-hub/internal/domain/journey"
	"github.com/tap-lms/journey-hub/internal/domain/shared"
	"github.com/tap-lms/journey-hub/pkg/timeutil"
)

// IDGenerator returns a new unique record identifier.
type IDGenerator func() string

// ══════════════════════════════════════════════════════════════════════════════
// PROGRESS ACCESSOR
// ══════════════════════════════════════════════════════════════════════════════

// ProgressAccessor finds, creates and updates stage progress records.
// It relies on the store's unique progress key: a lost create race is
// resolved by re-reading the record that won.
type ProgressAccessor struct {
	repo  journey.ProgressRepository
	clock timeutil.Clock
	newID IDGenerator
}

// NewProgressAccessor creates a ProgressAccessor.
func NewProgressAccessor(repo journey.ProgressRepository, clock timeutil.Clock, newID IDGenerator) *ProgressAccessor {
	return &ProgressAccessor{repo: repo, clock: clock, newID: newID}
}

// FindOrCreate returns the existing record for (student, stage, course) or a new,
// not yet persisted one in status assigned. isNew reports which.
func (a *ProgressAccessor) FindOrCreate(ctx context.Context, studentID string, stage journey.Stage, course string) (*journey.StageProgress, bool, error) {
	key := journey.NewProgressKey(studentID, stage, course)

	p, err := a.repo.Find(ctx, key)
	if err == nil {
		return p, false, nil
	}
	if !shared.IsNotFound(err) {
		return nil, false, err
	}

	p, err = journey.NewStageProgress(a.newID(), key, a.clock.Now())
	if err != nil {
		return nil, false, err
	}
	return p, true, nil
}

// Apply sets the event status on the record and persists it.
// It returns the status the record had before and whether the record was created.
func (a *ProgressAccessor) Apply(ctx context.Context, p *journey.StageProgress, isNew bool, status journey.Status, info journey.ProgressInfo) (journey.Status, bool, error) {
	now := a.clock.Now()
	old := p.Apply(status, info, now)

	if !isNew {
		return old, false, a.repo.Update(ctx, p)
	}

	err := a.repo.Create(ctx, p)
	if err == nil {
		return old, true, nil
	}
	if !errors.Is(err, journey.ErrProgressExists) {
		return old, false, err
	}

	winner, err := a.repo.Find(ctx, p.ProgressKey)
	if err != nil {
		return old, false, err
	}
	*p = *winner
	old = p.Apply(status, info, now)
	return old, false, a.repo.Update(ctx, p)
}

// EnsureAssigned is the create-only path: it creates an assigned record unless
// one already exists. Existing records are returned untouched.
func (a *ProgressAccessor) EnsureAssigned(ctx context.Context, studentID string, stage journey.Stage, course string) (*journey.StageProgress, bool, error) {
	p, isNew, err := a.FindOrCreate(ctx, studentID, stage, course)
	if err != nil || !isNew {
		return p, false, err
	}

	err = a.repo.Create(ctx, p)
	if err == nil {
		return p, true, nil
	}
	if !errors.Is(err, journey.ErrProgressExists) {
		return nil, false, err
	}

	existing, err := a.repo.Find(ctx, p.ProgressKey)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}
