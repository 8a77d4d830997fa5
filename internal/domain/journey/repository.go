package journey

import (
	"context"

	"github.com/tap-lms/journey-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// DOMAIN ERRORS
// ══════════════════════════════════════════════════════════════════════════════

var (
	// ErrStageNotFound - этап не найден. Это ожидаемый исход, а не сбой.
	ErrStageNotFound = shared.ErrStageNotFound

	// ErrProgressNotFound - записи прогресса для ключа нет.
	ErrProgressNotFound = shared.ErrProgressNotFound

	// ErrProgressExists - запись прогресса для ключа уже создана.
	ErrProgressExists = shared.ErrProgressExists

	// ErrJourneyNotFound - у студента нет записи онбординга.
	ErrJourneyNotFound = shared.ErrJourneyNotFound
)

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY INTERFACES
// Эти интерфейсы определяют контракт для работы с хранилищем данных.
// Реализации находятся в infrastructure/persistence.
// ══════════════════════════════════════════════════════════════════════════════

// StageRepository - чтение каталога этапов.
type StageRepository interface {
	// GetOnboardingStage ищет активный этап онбординга по StageName.
	// Возвращает ErrStageNotFound, если этапа нет.
	GetOnboardingStage(ctx context.Context, stageName string) (*OnboardingStage, error)

	// GetLearningStage ищет учебный этап по первичному ключу.
	// Возвращает ErrStageNotFound, если этапа нет.
	GetLearningStage(ctx context.Context, key string) (*LearningStage, error)

	// ListLearningStages возвращает все учебные этапы курса.
	ListLearningStages(ctx context.Context, course string) ([]*LearningStage, error)

	// ListOnboardingStages возвращает все этапы онбординга по порядку.
	ListOnboardingStages(ctx context.Context) ([]*OnboardingStage, error)
}

// StageCatalogWriter - загрузка каталога этапов из конфигурации.
type StageCatalogWriter interface {
	// UpsertOnboardingStage создаёт или заменяет этап вместе с правилами.
	UpsertOnboardingStage(ctx context.Context, stage *OnboardingStage) error

	// UpsertLearningStage создаёт или заменяет этап вместе с правилами.
	UpsertLearningStage(ctx context.Context, stage *LearningStage) error
}

// ProgressRepository - хранилище записей прогресса.
// Хранилище обеспечивает уникальность ProgressKey.
type ProgressRepository interface {
	// Find возвращает запись по ключу.
	// Возвращает ErrProgressNotFound, если записи нет.
	Find(ctx context.Context, key ProgressKey) (*StageProgress, error)

	// Create сохраняет новую запись.
	// Возвращает ErrProgressExists, если запись с таким ключом уже есть.
	Create(ctx context.Context, progress *StageProgress) error

	// Update сохраняет изменения существующей записи и увеличивает Version.
	// Возвращает shared.ErrConcurrentModification, если запись изменилась.
	Update(ctx context.Context, progress *StageProgress) error

	// ListByStudent возвращает записи студента в порядке начала.
	ListByStudent(ctx context.Context, studentID string) ([]*StageProgress, error)
}

// JourneyRepository - хранилище записей онбординга (одна на студента).
type JourneyRepository interface {
	// GetByStudent возвращает онбординг студента.
	// Возвращает ErrJourneyNotFound, если записи нет.
	GetByStudent(ctx context.Context, studentID string) (*OnboardingJourney, error)

	// Save создаёт или обновляет запись онбординга студента.
	Save(ctx context.Context, journey *OnboardingJourney) error
}

// TransitionRepository - журнал переходов. Только добавление.
type TransitionRepository interface {
	// Append добавляет запись о переходе.
	Append(ctx context.Context, record *TransitionRecord) error

	// ListByStudent возвращает переходы студента, новые первыми.
	ListByStudent(ctx context.Context, studentID string, page shared.Pagination) ([]*TransitionRecord, error)
}

// InteractionLogRepository - журнал взаимодействий. Только добавление.
type InteractionLogRepository interface {
	// Append добавляет запись аудита.
	Append(ctx context.Context, log *InteractionLog) error
}

// ══════════════════════════════════════════════════════════════════════════════
// CONCURRENCY
// ══════════════════════════════════════════════════════════════════════════════

// Locker сериализует обработку событий одного студента.
type Locker interface {
	// Lock блокирует ключ до вызова unlock или отмены контекста.
	// Возвращает shared.ErrLockNotAcquired, если ключ не удалось захватить вовремя.
	Lock(ctx context.Context, key string) (unlock func(), err error)
}
