package student

import (
	"context"
	"strings"

	"github.com/tap-lms/journey-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY INTERFACES
// Эти интерфейсы определяют контракт для работы с хранилищем данных.
// Реализации находятся в infrastructure/persistence.
// ══════════════════════════════════════════════════════════════════════════════

// Filter - критерии поиска студентов. Пустые поля не участвуют в фильтре.
type Filter struct {
	GlificID GlificID
	Phone    string
	Name     string
}

// IsEmpty возвращает true, если фильтр не содержит ни одного критерия.
func (f Filter) IsEmpty() bool {
	return f.GlificID == "" && f.Phone == "" && f.Name == ""
}

// Repository определяет операции хранилища студентов.
type Repository interface {
	// Create сохраняет нового студента вместе с зачислениями.
	Create(ctx context.Context, student *Student) error

	// GetByID возвращает студента по первичному ключу.
	// Возвращает ErrStudentNotFound, если студент не найден.
	GetByID(ctx context.Context, id string) (*Student, error)

	// Find возвращает студентов, совпадающих по всем заданным полям фильтра,
	// в порядке создания.
	Find(ctx context.Context, filter Filter) ([]*Student, error)
}

// ══════════════════════════════════════════════════════════════════════════════
// LOOKUP
// ══════════════════════════════════════════════════════════════════════════════

// MatchStrategy - какая комбинация полей контакта нашла студента.
type MatchStrategy string

const (
	MatchGlificPhoneName MatchStrategy = "glific_phone_name"
	MatchGlificPhone     MatchStrategy = "glific_phone"
	MatchGlific          MatchStrategy = "glific"
	MatchPhoneName       MatchStrategy = "phone_name"
	MatchPrimaryKey      MatchStrategy = "primary_key"
)

// Match - результат поиска студента.
type Match struct {
	Student  *Student
	Strategy MatchStrategy

	// Candidates - сколько студентов подошло под стратегию.
	// Больше одного означает дубликат Glific ID; берётся первый.
	Candidates int
}

// IsAmbiguous возвращает true, если под стратегию подошло несколько студентов.
func (m *Match) IsAmbiguous() bool {
	return m != nil && m.Candidates > 1
}

// Finder ищет студентов по контактным данным с убыванием точности.
type Finder struct {
	repo Repository
}

// NewFinder создаёт Finder.
func NewFinder(repo Repository) *Finder {
	return &Finder{repo: repo}
}

// FindByContact ищет студента по контакту в порядке:
// Glific ID + телефон + имя, Glific ID + телефон, Glific ID, телефон + имя.
// Поиск только по телефону не выполняется.
// Возвращает ErrStudentNotFound, если ни одна стратегия не сработала.
func (f *Finder) FindByContact(ctx context.Context, c Contact) (*Match, error) {
	id := c.ID
	phone := strings.TrimSpace(c.Phone.String())
	name := strings.TrimSpace(c.Name)

	attempts := []struct {
		ok       bool
		filter   Filter
		strategy MatchStrategy
	}{
		{!id.IsEmpty() && phone != "" && name != "", Filter{GlificID: id, Phone: phone, Name: name}, MatchGlificPhoneName},
		{!id.IsEmpty() && phone != "", Filter{GlificID: id, Phone: phone}, MatchGlificPhone},
		{!id.IsEmpty(), Filter{GlificID: id}, MatchGlific},
		{phone != "" && name != "", Filter{Phone: phone, Name: name}, MatchPhoneName},
	}

	for _, a := range attempts {
		if !a.ok {
			continue
		}
		found, err := f.repo.Find(ctx, a.filter)
		if err != nil {
			return nil, err
		}
		if len(found) > 0 {
			return &Match{Student: found[0], Strategy: a.strategy, Candidates: len(found)}, nil
		}
	}

	return nil, ErrStudentNotFound
}

// FindByID ищет студента по первичному ключу, затем по Glific ID.
func (f *Finder) FindByID(ctx context.Context, id string) (*Match, error) {
	s, err := f.repo.GetByID(ctx, id)
	if err == nil {
		return &Match{Student: s, Strategy: MatchPrimaryKey, Candidates: 1}, nil
	}
	if !shared.IsNotFound(err) {
		return nil, err
	}

	found, err := f.repo.Find(ctx, Filter{GlificID: GlificID(id)})
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, ErrStudentNotFound
	}
	return &Match{Student: found[0], Strategy: MatchGlific, Candidates: len(found)}, nil
}
