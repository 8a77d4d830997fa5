package journey

import (
	"sort"
)

// ══════════════════════════════════════════════════════════════════════════════
// STAGE TYPES
// ══════════════════════════════════════════════════════════════════════════════

// StageType - вариант этапа. Значения совпадают с внешним API.
type StageType string

const (
	StageTypeOnboarding StageType = "OnboardingStage"
	StageTypeLearning   StageType = "LearningStage"
)

// IsValid проверяет, что тип этапа известен.
func (t StageType) IsValid() bool {
	return t == StageTypeOnboarding || t == StageTypeLearning
}

// String возвращает строковое представление.
func (t StageType) String() string {
	return string(t)
}

// ══════════════════════════════════════════════════════════════════════════════
// STAGE FLOW
// ══════════════════════════════════════════════════════════════════════════════

// StageFlow - правило перехода: при статусе TriggerStatus перейти на NextStage.
// Пустой NextStage означает конец пути.
type StageFlow struct {
	// TriggerStatus - статус прогресса или "default".
	TriggerStatus string

	// NextStage - идентификатор следующего этапа того же типа.
	NextStage string

	// FlowID - идентификатор flow во внешнем мессенджере.
	FlowID string

	// FlowType - тип flow (например, "onboarding", "quiz").
	FlowType string

	// Description - описание правила.
	Description string
}

// IsTerminal возвращает true, если правило не ведёт к следующему этапу.
func (f StageFlow) IsTerminal() bool {
	return f.NextStage == ""
}

// SelectFlow выбирает правило для текущего статуса: точное совпадение
// важнее правила "default". Возвращает false, если ни одно не подошло.
// Выполняется не более одного правила на событие.
func SelectFlow(flows []StageFlow, status Status) (StageFlow, bool) {
	for _, f := range flows {
		if f.TriggerStatus == string(status) {
			return f, true
		}
	}
	for _, f := range flows {
		if f.TriggerStatus == TriggerDefault {
			return f, true
		}
	}
	return StageFlow{}, false
}

// TriggerStatuses возвращает статусы-триггеры всех правил в порядке конфигурации.
func TriggerStatuses(flows []StageFlow) []string {
	out := make([]string, 0, len(flows))
	for _, f := range flows {
		out = append(out, f.TriggerStatus)
	}
	return out
}

// ══════════════════════════════════════════════════════════════════════════════
// STAGE VARIANTS
// ══════════════════════════════════════════════════════════════════════════════

// Stage - этап журнала. Вызывающий код не ветвится по имени типа:
// всё нужное доступно через этот интерфейс.
type Stage interface {
	// ID возвращает идентификатор этапа в его пространстве имён.
	ID() string

	// Type возвращает вариант этапа.
	Type() StageType

	// Flows возвращает правила перехода.
	Flows() []StageFlow

	// IsFinal возвращает true, если завершение этапа завершает онбординг.
	IsFinal() bool
}

// OnboardingStage - этап онбординга, идентифицируемый по StageName.
type OnboardingStage struct {
	// Name - первичный ключ записи.
	Name string

	// StageName - человекочитаемый идентификатор, используемый во внешнем API.
	StageName string

	// Description - описание этапа.
	Description string

	// Order - порядок этапа в онбординге (для отображения).
	Order int

	// IsFinalStage - завершение этапа завершает весь онбординг.
	IsFinalStage bool

	// Active - неактивные этапы не находятся резолвером.
	Active bool

	// StageFlows - правила перехода.
	StageFlows []StageFlow
}

// ID implements Stage.
func (s *OnboardingStage) ID() string { return s.StageName }

// Type implements Stage.
func (s *OnboardingStage) Type() StageType { return StageTypeOnboarding }

// Flows implements Stage.
func (s *OnboardingStage) Flows() []StageFlow { return s.StageFlows }

// IsFinal implements Stage.
func (s *OnboardingStage) IsFinal() bool { return s.IsFinalStage }

// LearningStage - учебный этап курса, идентифицируемый по первичному ключу.
type LearningStage struct {
	// Key - первичный ключ.
	Key string

	// Title - название этапа.
	Title string

	// Course - курс (уровень курса), к которому относится этап.
	Course string

	// IsInitial - этап-кандидат на стартовый для курса.
	IsInitial bool

	// Order - порядок внутри курса.
	Order int

	// Active - неактивные этапы не выбираются стартовыми.
	Active bool

	// StageFlows - правила перехода.
	StageFlows []StageFlow
}

// ID implements Stage.
func (s *LearningStage) ID() string { return s.Key }

// Type implements Stage.
func (s *LearningStage) Type() StageType { return StageTypeLearning }

// Flows implements Stage.
func (s *LearningStage) Flows() []StageFlow { return s.StageFlows }

// IsFinal implements Stage. Учебные этапы никогда не завершают онбординг.
func (s *LearningStage) IsFinal() bool { return false }

// InitialLearningStage выбирает стартовый этап курса среди активных:
// наименьший Order среди IsInitial, иначе наименьший Order вообще.
// Равные Order разрешаются по ключу.
func InitialLearningStage(stages []*LearningStage) (*LearningStage, bool) {
	active := make([]*LearningStage, 0, len(stages))
	for _, s := range stages {
		if s != nil && s.Active {
			active = append(active, s)
		}
	}
	if len(active) == 0 {
		return nil, false
	}

	sort.SliceStable(active, func(i, j int) bool {
		if active[i].Order != active[j].Order {
			return active[i].Order < active[j].Order
		}
		return active[i].Key < active[j].Key
	})

	for _, s := range active {
		if s.IsInitial {
			return s, true
		}
	}
	return active[0], true
}
