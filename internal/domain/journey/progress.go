package journey

import (
	"encoding/json"
	"errors"
	"strconv"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// PROGRESS INFO (входные данные события)
// ══════════════════════════════════════════════════════════════════════════════

// ProgressInfo - данные о прогрессе из входящего события.
type ProgressInfo struct {
	// Step - шаг внутри flow (число или строка).
	Step any `json:"step,omitempty"`

	// CompletionPercentage - процент прохождения этапа.
	CompletionPercentage *float64 `json:"completion_percentage,omitempty"`

	// AssessmentResults - результаты оценивания, включая поле "score".
	AssessmentResults map[string]any `json:"assessment_results,omitempty"`

	// ExitType - причина выхода из flow (для flow_expired).
	ExitType string `json:"exit_type,omitempty"`
}

// IsEmpty возвращает true, если событие не несёт метрик.
func (p ProgressInfo) IsEmpty() bool {
	return p.CompletionPercentage == nil && len(p.AssessmentResults) == 0
}

// Score извлекает числовое поле score из результатов оценивания.
func (p ProgressInfo) Score() (float64, bool) {
	if p.AssessmentResults == nil {
		return 0, false
	}
	return toFloat(p.AssessmentResults["score"])
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// MASTERY
// ══════════════════════════════════════════════════════════════════════════════

// MasteryLevel - уровень освоения, выводимый из балла оценивания.
type MasteryLevel string

const (
	MasteryAdvanced   MasteryLevel = "Advanced"
	MasteryProficient MasteryLevel = "Proficient"
	MasteryBasic      MasteryLevel = "Basic"
	MasteryStruggling MasteryLevel = "Struggling"
)

// MasteryFromScore: >=90 Advanced, >=75 Proficient, >=50 Basic, иначе Struggling.
func MasteryFromScore(score float64) MasteryLevel {
	switch {
	case score >= 90:
		return MasteryAdvanced
	case score >= 75:
		return MasteryProficient
	case score >= 50:
		return MasteryBasic
	default:
		return MasteryStruggling
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// STAGE PROGRESS
// ══════════════════════════════════════════════════════════════════════════════

// ProgressKey - уникальный ключ записи прогресса.
// CourseContext заполняется только для учебных этапов.
type ProgressKey struct {
	StudentID     string
	StageType     StageType
	Stage         string
	CourseContext string
}

// NewProgressKey строит ключ, отбрасывая контекст курса для этапов онбординга.
func NewProgressKey(studentID string, stage Stage, course string) ProgressKey {
	key := ProgressKey{
		StudentID: studentID,
		StageType: stage.Type(),
		Stage:     stage.ID(),
	}
	if stage.Type() == StageTypeLearning {
		key.CourseContext = course
	}
	return key
}

// PerformanceMetrics - накопленные метрики прогресса на этапе.
type PerformanceMetrics struct {
	CompletionPercentage *float64      `json:"completion_percentage,omitempty"`
	AssessmentResults    map[string]any `json:"assessment_results,omitempty"`
}

// Score возвращает последний балл оценивания, если он есть.
func (m PerformanceMetrics) Score() (float64, bool) {
	if m.AssessmentResults == nil {
		return 0, false
	}
	return toFloat(m.AssessmentResults["score"])
}

// StageProgress - изменяемая запись попытки студента пройти один этап.
// Не удаляется: новые этапы получают новые записи.
type StageProgress struct {
	ID string
	ProgressKey

	Status         Status
	StartedAt      time.Time
	LastActivityAt time.Time

	// CompletedAt выставляется при первом завершении и больше не меняется.
	CompletedAt *time.Time

	Metrics      PerformanceMetrics
	MasteryLevel MasteryLevel

	// Version - счётчик изменений для оптимистичной блокировки.
	Version int
}

// ErrInvalidProgressKey - ключ прогресса заполнен не полностью.
var ErrInvalidProgressKey = errors.New("progress key requires student, stage type and stage")

// NewStageProgress создаёт запись в статусе assigned.
func NewStageProgress(id string, key ProgressKey, now time.Time) (*StageProgress, error) {
	if id == "" || key.StudentID == "" || key.Stage == "" || !key.StageType.IsValid() {
		return nil, ErrInvalidProgressKey
	}
	return &StageProgress{
		ID:             id,
		ProgressKey:    key,
		Status:         StatusAssigned,
		StartedAt:      now,
		LastActivityAt: now,
	}, nil
}

// Apply применяет статус события и возвращает предыдущий статус.
// Повторное завершение не сдвигает CompletedAt.
func (p *StageProgress) Apply(status Status, info ProgressInfo, now time.Time) Status {
	old := p.Status
	p.Status = status
	p.LastActivityAt = now

	if status == StatusCompleted && p.CompletedAt == nil {
		completed := now
		p.CompletedAt = &completed
	}

	p.mergeMetrics(info)
	return old
}

func (p *StageProgress) mergeMetrics(info ProgressInfo) {
	if info.IsEmpty() {
		return
	}
	if info.CompletionPercentage != nil {
		v := *info.CompletionPercentage
		p.Metrics.CompletionPercentage = &v
	}
	if len(info.AssessmentResults) > 0 {
		p.Metrics.AssessmentResults = info.AssessmentResults
		if score, ok := info.Score(); ok {
			p.MasteryLevel = MasteryFromScore(score)
		}
	}
}

// IsCompleted возвращает true, если этап хотя бы раз был завершён.
func (p *StageProgress) IsCompleted() bool {
	return p.CompletedAt != nil
}
