package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/tap-lms/journey-hub/internal/domain/shared"
	"github.com/tap-lms/journey-hub/internal/domain/student"
)

// ══════════════════════════════════════════════════════════════════════════════
// STUDENT REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// StudentRepository implements student.Repository for PostgreSQL.
type StudentRepository struct {
	conn *Connection
}

// NewStudentRepository creates a new StudentRepository.
func NewStudentRepository(conn *Connection) *StudentRepository {
	return &StudentRepository{conn: conn}
}

const studentColumns = `id, glific_id, phone, name, created_at`

// Create inserts the student and its enrollments in one transaction.
func (r *StudentRepository) Create(ctx context.Context, s *student.Student) error {
	err := r.conn.WithTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO students (id, glific_id, phone, name, created_at)
			VALUES ($1, $2, $3, $4, $5)
		`, s.ID, string(s.GlificID), s.Phone.String(), s.Name, s.CreatedAt)
		if err != nil {
			return err
		}

		for i, e := range s.Enrollments {
			_, err := tx.Exec(ctx, `
				INSERT INTO student_enrollments (student_id, position, course, batch)
				VALUES ($1, $2, $3, $4)
			`, s.ID, i, e.Course, e.Batch)
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if IsUniqueViolation(err) {
			return shared.NewDomainError("student", "Create", shared.ErrAlreadyExists, "student already exists")
		}
		return storageError("student", "Create", err)
	}
	return nil
}

// GetByID returns a student by primary key.
func (r *StudentRepository) GetByID(ctx context.Context, id string) (*student.Student, error) {
	found, err := r.query(ctx, "GetByID", `WHERE id = $1`, id)
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, student.ErrStudentNotFound
	}
	return found[0], nil
}

// Find returns students matching every non-empty filter field, oldest first.
func (r *StudentRepository) Find(ctx context.Context, f student.Filter) ([]*student.Student, error) {
	if f.IsEmpty() {
		return nil, shared.NewDomainError("student", "Find", shared.ErrInvalidInput, "empty filter")
	}

	var (
		conds []string
		args  []any
	)
	add := func(column, value string) {
		args = append(args, value)
		conds = append(conds, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if f.GlificID != "" {
		add("glific_id", string(f.GlificID))
	}
	if f.Phone != "" {
		add("phone", f.Phone)
	}
	if f.Name != "" {
		add("name", f.Name)
	}

	return r.query(ctx, "Find", "WHERE "+strings.Join(conds, " AND "), args...)
}

func (r *StudentRepository) query(ctx context.Context, op, where string, args ...any) ([]*student.Student, error) {
	rows, err := r.conn.Query(ctx,
		`SELECT `+studentColumns+` FROM students `+where+` ORDER BY created_at, id`, args...)
	if err != nil {
		return nil, storageError("student", op, err)
	}
	defer rows.Close()

	var (
		out  []*student.Student
		ids  []string
		byID = make(map[string]*student.Student)
	)
	for rows.Next() {
		var (
			s      student.Student
			glific string
			phone  string
		)
		if err := rows.Scan(&s.ID, &glific, &phone, &s.Name, &s.CreatedAt); err != nil {
			return nil, storageError("student", op, err)
		}
		s.GlificID = student.GlificID(glific)
		s.Phone = shared.Phone(phone)
		out = append(out, &s)
		ids = append(ids, s.ID)
		byID[s.ID] = &s
	}
	if err := rows.Err(); err != nil {
		return nil, storageError("student", op, err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	if err := r.loadEnrollments(ctx, ids, byID); err != nil {
		return nil, storageError("student", op, err)
	}
	return out, nil
}

func (r *StudentRepository) loadEnrollments(ctx context.Context, ids []string, byID map[string]*student.Student) error {
	rows, err := r.conn.Query(ctx, `
		SELECT student_id, course, batch
		FROM student_enrollments
		WHERE student_id = ANY($1)
		ORDER BY student_id, position
	`, ids)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		var e student.Enrollment
		if err := rows.Scan(&id, &e.Course, &e.Batch); err != nil {
			return err
		}
		if s, ok := byID[id]; ok {
			s.Enrollments = append(s.Enrollments, e)
		}
	}
	return rows.Err()
}

var _ student.Repository = (*StudentRepository)(nil)
