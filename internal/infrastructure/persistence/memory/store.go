// Package memory implements every journey repository in process memory.
// It backs STORE_DRIVER=memory and the application tests. Records are copied
// on the way in and out so callers never share state with the store.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/tap-lms/journey-hub/internal/domain/engagement"
	"github.com/tap-lms/journey-hub/internal/domain/journey"
	"github.com/tap-lms/journey-hub/internal/domain/shared"
	"github.com/tap-lms/journey-hub/internal/domain/student"
)

// Store holds all entities behind a single mutex.
type Store struct {
	mu sync.RWMutex

	students    []*student.Student
	onboarding  map[string]*journey.OnboardingStage // by StageName
	learning    map[string]*journey.LearningStage   // by Key
	progress    map[journey.ProgressKey]*journey.StageProgress
	journeys    map[string]*journey.OnboardingJourney // by StudentID
	transitions []*journey.TransitionRecord
	logs        []*journey.InteractionLog
	engagement  map[string]*engagement.EngagementState
	learningSt  map[string]*engagement.LearningState
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		onboarding: make(map[string]*journey.OnboardingStage),
		learning:   make(map[string]*journey.LearningStage),
		progress:   make(map[journey.ProgressKey]*journey.StageProgress),
		journeys:   make(map[string]*journey.OnboardingJourney),
		engagement: make(map[string]*engagement.EngagementState),
		learningSt: make(map[string]*engagement.LearningState),
	}
}

// Ping always succeeds; it lets the store act as a health dependency.
func (s *Store) Ping(context.Context) error { return nil }

// Students returns the student repository view.
func (s *Store) Students() *StudentRepository { return &StudentRepository{s} }

// Stages returns the stage catalog view.
func (s *Store) Stages() *StageRepository { return &StageRepository{s} }

// Progress returns the stage progress view.
func (s *Store) Progress() *ProgressRepository { return &ProgressRepository{s} }

// Journeys returns the onboarding journey view.
func (s *Store) Journeys() *JourneyRepository { return &JourneyRepository{s} }

// Transitions returns the transition history view.
func (s *Store) Transitions() *TransitionRepository { return &TransitionRepository{s} }

// InteractionLogs returns the interaction log view.
func (s *Store) InteractionLogs() *InteractionLogRepository { return &InteractionLogRepository{s} }

// Engagement returns the engagement state view.
func (s *Store) Engagement() *EngagementRepository { return &EngagementRepository{s} }

// Learning returns the learning state view.
func (s *Store) Learning() *LearningRepository { return &LearningRepository{s} }

// ══════════════════════════════════════════════════════════════════════════════
// STUDENTS
// ══════════════════════════════════════════════════════════════════════════════

// StudentRepository implements student.Repository.
type StudentRepository struct{ s *Store }

// Create implements student.Repository.
func (r *StudentRepository) Create(_ context.Context, st *student.Student) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, existing := range r.s.students {
		if existing.ID == st.ID {
			return shared.NewDomainError("student", "Create", shared.ErrAlreadyExists, "student already exists")
		}
	}
	r.s.students = append(r.s.students, copyStudent(st))
	return nil
}

// GetByID implements student.Repository.
func (r *StudentRepository) GetByID(_ context.Context, id string) (*student.Student, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	for _, st := range r.s.students {
		if st.ID == id {
			return copyStudent(st), nil
		}
	}
	return nil, student.ErrStudentNotFound
}

// Find implements student.Repository.
func (r *StudentRepository) Find(_ context.Context, f student.Filter) ([]*student.Student, error) {
	if f.IsEmpty() {
		return nil, shared.NewDomainError("student", "Find", shared.ErrInvalidInput, "empty filter")
	}

	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var out []*student.Student
	for _, st := range r.s.students {
		if f.GlificID != "" && st.GlificID != f.GlificID {
			continue
		}
		if f.Phone != "" && st.Phone.String() != f.Phone {
			continue
		}
		if f.Name != "" && st.Name != f.Name {
			continue
		}
		out = append(out, copyStudent(st))
	}
	return out, nil
}

func copyStudent(st *student.Student) *student.Student {
	c := *st
	c.Enrollments = append([]student.Enrollment(nil), st.Enrollments...)
	return &c
}

// ══════════════════════════════════════════════════════════════════════════════
// STAGES
// ══════════════════════════════════════════════════════════════════════════════

// StageRepository implements journey.StageRepository and journey.StageCatalogWriter.
type StageRepository struct{ s *Store }

// GetOnboardingStage implements journey.StageRepository.
func (r *StageRepository) GetOnboardingStage(_ context.Context, stageName string) (*journey.OnboardingStage, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	st, ok := r.s.onboarding[stageName]
	if !ok || !st.Active {
		return nil, journey.ErrStageNotFound
	}
	return copyOnboarding(st), nil
}

// GetLearningStage implements journey.StageRepository.
func (r *StageRepository) GetLearningStage(_ context.Context, key string) (*journey.LearningStage, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	st, ok := r.s.learning[key]
	if !ok {
		return nil, journey.ErrStageNotFound
	}
	return copyLearning(st), nil
}

// ListLearningStages implements journey.StageRepository.
func (r *StageRepository) ListLearningStages(_ context.Context, course string) ([]*journey.LearningStage, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var out []*journey.LearningStage
	for _, st := range r.s.learning {
		if st.Course == course {
			out = append(out, copyLearning(st))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Order != out[j].Order {
			return out[i].Order < out[j].Order
		}
		return out[i].Key < out[j].Key
	})
	return out, nil
}

// ListOnboardingStages implements journey.StageRepository.
func (r *StageRepository) ListOnboardingStages(_ context.Context) ([]*journey.OnboardingStage, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	out := make([]*journey.OnboardingStage, 0, len(r.s.onboarding))
	for _, st := range r.s.onboarding {
		out = append(out, copyOnboarding(st))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Order != out[j].Order {
			return out[i].Order < out[j].Order
		}
		return out[i].StageName < out[j].StageName
	})
	return out, nil
}

// UpsertOnboardingStage implements journey.StageCatalogWriter.
func (r *StageRepository) UpsertOnboardingStage(_ context.Context, st *journey.OnboardingStage) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.onboarding[st.StageName] = copyOnboarding(st)
	return nil
}

// UpsertLearningStage implements journey.StageCatalogWriter.
func (r *StageRepository) UpsertLearningStage(_ context.Context, st *journey.LearningStage) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.learning[st.Key] = copyLearning(st)
	return nil
}

func copyOnboarding(st *journey.OnboardingStage) *journey.OnboardingStage {
	c := *st
	c.StageFlows = append([]journey.StageFlow(nil), st.StageFlows...)
	return &c
}

func copyLearning(st *journey.LearningStage) *journey.LearningStage {
	c := *st
	c.StageFlows = append([]journey.StageFlow(nil), st.StageFlows...)
	return &c
}

// ══════════════════════════════════════════════════════════════════════════════
// STAGE PROGRESS
// ══════════════════════════════════════════════════════════════════════════════

// ProgressRepository implements journey.ProgressRepository.
type ProgressRepository struct{ s *Store }

// Find implements journey.ProgressRepository.
func (r *ProgressRepository) Find(_ context.Context, key journey.ProgressKey) (*journey.StageProgress, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	p, ok := r.s.progress[key]
	if !ok {
		return nil, journey.ErrProgressNotFound
	}
	return copyProgress(p), nil
}

// Create implements journey.ProgressRepository.
func (r *ProgressRepository) Create(_ context.Context, p *journey.StageProgress) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.progress[p.ProgressKey]; ok {
		return journey.ErrProgressExists
	}
	p.Version = 1
	r.s.progress[p.ProgressKey] = copyProgress(p)
	return nil
}

// Update implements journey.ProgressRepository.
func (r *ProgressRepository) Update(_ context.Context, p *journey.StageProgress) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	current, ok := r.s.progress[p.ProgressKey]
	if !ok || current.ID != p.ID {
		return journey.ErrProgressNotFound
	}
	if current.Version != p.Version {
		return shared.WrapError("journey", "UpdateProgress", shared.ErrConcurrentModification,
			"stage progress changed since it was read", nil)
	}
	p.Version++
	r.s.progress[p.ProgressKey] = copyProgress(p)
	return nil
}

// ListByStudent implements journey.ProgressRepository.
func (r *ProgressRepository) ListByStudent(_ context.Context, studentID string) ([]*journey.StageProgress, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var out []*journey.StageProgress
	for key, p := range r.s.progress {
		if key.StudentID == studentID {
			out = append(out, copyProgress(p))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.Before(out[j].StartedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Count returns the total number of progress records. Used by tests.
func (r *ProgressRepository) Count() int {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return len(r.s.progress)
}

func copyProgress(p *journey.StageProgress) *journey.StageProgress {
	c := *p
	if p.CompletedAt != nil {
		t := *p.CompletedAt
		c.CompletedAt = &t
	}
	if p.Metrics.CompletionPercentage != nil {
		v := *p.Metrics.CompletionPercentage
		c.Metrics.CompletionPercentage = &v
	}
	if p.Metrics.AssessmentResults != nil {
		c.Metrics.AssessmentResults = make(map[string]any, len(p.Metrics.AssessmentResults))
		for k, v := range p.Metrics.AssessmentResults {
			c.Metrics.AssessmentResults[k] = v
		}
	}
	return &c
}

// ══════════════════════════════════════════════════════════════════════════════
// ONBOARDING JOURNEYS
// ══════════════════════════════════════════════════════════════════════════════

// JourneyRepository implements journey.JourneyRepository.
type JourneyRepository struct{ s *Store }

// GetByStudent implements journey.JourneyRepository.
func (r *JourneyRepository) GetByStudent(_ context.Context, studentID string) (*journey.OnboardingJourney, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	j, ok := r.s.journeys[studentID]
	if !ok {
		return nil, journey.ErrJourneyNotFound
	}
	return copyJourney(j), nil
}

// Save implements journey.JourneyRepository.
func (r *JourneyRepository) Save(_ context.Context, j *journey.OnboardingJourney) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.journeys[j.StudentID] = copyJourney(j)
	return nil
}

func copyJourney(j *journey.OnboardingJourney) *journey.OnboardingJourney {
	c := *j
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

// ══════════════════════════════════════════════════════════════════════════════
// APPEND-ONLY LOGS
// ══════════════════════════════════════════════════════════════════════════════

// TransitionRepository implements journey.TransitionRepository.
type TransitionRepository struct{ s *Store }

// Append implements journey.TransitionRepository.
func (r *TransitionRepository) Append(_ context.Context, rec *journey.TransitionRecord) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c := *rec
	r.s.transitions = append(r.s.transitions, &c)
	return nil
}

// ListByStudent implements journey.TransitionRepository.
func (r *TransitionRepository) ListByStudent(_ context.Context, studentID string, page shared.Pagination) ([]*journey.TransitionRecord, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var all []*journey.TransitionRecord
	for i := len(r.s.transitions) - 1; i >= 0; i-- {
		if rec := r.s.transitions[i]; rec.StudentID == studentID {
			c := *rec
			all = append(all, &c)
		}
	}

	start := page.Offset()
	if start >= len(all) {
		return nil, nil
	}
	end := start + page.Limit()
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], nil
}

// InteractionLogRepository implements journey.InteractionLogRepository.
type InteractionLogRepository struct{ s *Store }

// Append implements journey.InteractionLogRepository.
func (r *InteractionLogRepository) Append(_ context.Context, log *journey.InteractionLog) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c := *log
	r.s.logs = append(r.s.logs, &c)
	return nil
}

// Count returns the number of stored interaction logs. Used by tests.
func (r *InteractionLogRepository) Count() int {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return len(r.s.logs)
}

// ══════════════════════════════════════════════════════════════════════════════
// AUXILIARY AGGREGATES
// ══════════════════════════════════════════════════════════════════════════════

// EngagementRepository implements engagement.EngagementRepository.
type EngagementRepository struct{ s *Store }

// Get implements engagement.EngagementRepository.
func (r *EngagementRepository) Get(_ context.Context, studentID string) (*engagement.EngagementState, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	st, ok := r.s.engagement[studentID]
	if !ok {
		return nil, engagement.ErrEngagementStateNotFound
	}
	c := *st
	return &c, nil
}

// Save implements engagement.EngagementRepository.
func (r *EngagementRepository) Save(_ context.Context, st *engagement.EngagementState) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c := *st
	r.s.engagement[st.StudentID] = &c
	return nil
}

// LearningRepository implements engagement.LearningRepository.
type LearningRepository struct{ s *Store }

// Get implements engagement.LearningRepository.
func (r *LearningRepository) Get(_ context.Context, studentID string) (*engagement.LearningState, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	st, ok := r.s.learningSt[studentID]
	if !ok {
		return nil, engagement.ErrLearningStateNotFound
	}
	return copyLearningState(st), nil
}

// Save implements engagement.LearningRepository.
func (r *LearningRepository) Save(_ context.Context, st *engagement.LearningState) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.learningSt[st.StudentID] = copyLearningState(st)
	return nil
}

func copyLearningState(st *engagement.LearningState) *engagement.LearningState {
	c := *st
	c.KnowledgeMap = make(map[string]float64, len(st.KnowledgeMap))
	for k, v := range st.KnowledgeMap {
		c.KnowledgeMap[k] = v
	}
	return &c
}

// compile-time interface checks
var (
	_ student.Repository               = (*StudentRepository)(nil)
	_ journey.StageRepository          = (*StageRepository)(nil)
	_ journey.StageCatalogWriter       = (*StageRepository)(nil)
	_ journey.ProgressRepository       = (*ProgressRepository)(nil)
	_ journey.JourneyRepository        = (*JourneyRepository)(nil)
	_ journey.TransitionRepository     = (*TransitionRepository)(nil)
	_ journey.InteractionLogRepository = (*InteractionLogRepository)(nil)
	_ engagement.EngagementRepository  = (*EngagementRepository)(nil)
	_ engagement.LearningRepository    = (*LearningRepository)(nil)
)
