// Package student содержит доменную модель студента TAP LMS.
// Ядро журнала только читает идентичность и зачисления студента.
package student

import (
	"errors"
	"strings"
	"time"

	"github.com/tap-lms/journey-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// VALUE OBJECTS
// ══════════════════════════════════════════════════════════════════════════════

// GlificID - идентификатор контакта в мессенджер-платформе Glific.
// Ожидается уникальным, но дубликаты допускаются.
type GlificID string

// IsEmpty возвращает true, если идентификатор не задан.
func (g GlificID) IsEmpty() bool {
	return strings.TrimSpace(string(g)) == ""
}

// String возвращает строковое представление.
func (g GlificID) String() string {
	return string(g)
}

// Contact - контактные данные из входящего события.
// Телефон сам по себе не уникален, уникальна пара (телефон, имя).
type Contact struct {
	ID    GlificID     `json:"id,omitempty"`
	Phone shared.Phone `json:"phone,omitempty"`
	Name  string       `json:"name,omitempty"`
}

// HasIdentifier возвращает true, если контакт позволяет найти студента.
// Одного телефона недостаточно.
func (c Contact) HasIdentifier() bool {
	if !c.ID.IsEmpty() {
		return true
	}
	return !c.Phone.IsEmpty() && strings.TrimSpace(c.Name) != ""
}

// Enrollment - зачисление студента на курс в рамках батча.
type Enrollment struct {
	Course string
	Batch  string
}

// IsActive возвращает true, если зачисление пригодно для учебного журнала:
// у него есть и курс, и батч.
func (e Enrollment) IsActive() bool {
	return e.Course != "" && e.Batch != ""
}

// ══════════════════════════════════════════════════════════════════════════════
// MAIN ENTITY: STUDENT
// ══════════════════════════════════════════════════════════════════════════════

// Student - студент, проходящий онбординг и учебные этапы.
type Student struct {
	// ID - первичный ключ студента.
	ID string

	// GlificID - идентификатор контакта во внешнем мессенджере.
	GlificID GlificID

	// Phone - номер телефона.
	Phone shared.Phone

	// Name - отображаемое имя.
	Name string

	// Enrollments - зачисления на курсы.
	Enrollments []Enrollment

	// CreatedAt - время создания записи.
	CreatedAt time.Time
}

// ActiveCourses возвращает курсы из зачислений с курсом и батчем, без повторов,
// в порядке зачисления.
func (s *Student) ActiveCourses() []string {
	seen := make(map[string]struct{}, len(s.Enrollments))
	courses := make([]string, 0, len(s.Enrollments))
	for _, e := range s.Enrollments {
		if !e.IsActive() {
			continue
		}
		if _, ok := seen[e.Course]; ok {
			continue
		}
		seen[e.Course] = struct{}{}
		courses = append(courses, e.Course)
	}
	return courses
}

// ══════════════════════════════════════════════════════════════════════════════
// DOMAIN ERRORS
// ══════════════════════════════════════════════════════════════════════════════

var (
	// ErrStudentNotFound - студент не найден.
	ErrStudentNotFound = shared.ErrStudentNotFound

	// ErrInvalidName - невалидное имя.
	ErrInvalidName = errors.New("invalid student name: must be 1-140 chars")

	// ErrMissingIdentity - у студента нет ни Glific ID, ни телефона.
	ErrMissingIdentity = errors.New("student needs a glific id or a phone number")
)

// ══════════════════════════════════════════════════════════════════════════════
// FACTORY & VALIDATION
// ══════════════════════════════════════════════════════════════════════════════

// NewStudentParams содержит параметры для создания нового студента.
type NewStudentParams struct {
	ID          string
	GlificID    GlificID
	Phone       shared.Phone
	Name        string
	Enrollments []Enrollment
}

// NewStudent создаёт студента с валидацией полей.
func NewStudent(params NewStudentParams) (*Student, error) {
	if params.ID == "" {
		return nil, errors.New("student id is required")
	}

	name := strings.TrimSpace(params.Name)
	if len(name) == 0 || len(name) > 140 {
		return nil, ErrInvalidName
	}

	if params.GlificID.IsEmpty() && params.Phone.IsEmpty() {
		return nil, ErrMissingIdentity
	}

	return &Student{
		ID:          params.ID,
		GlificID:    params.GlificID,
		Phone:       params.Phone,
		Name:        name,
		Enrollments: append([]Enrollment(nil), params.Enrollments...),
		CreatedAt:   time.Now().UTC(),
	}, nil
}
