package postgres

import (
	"context"
	"encoding/json"

	"github.com/tap-lms/journey-hub/internal/domain/journey"
	"github.com/tap-lms/journey-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// STAGE PROGRESS REPOSITORY
// ══════════════════════════════════════════════════════════════════════════════

// ProgressRepository implements journey.ProgressRepository.
// Uniqueness of the progress key is enforced by uq_stage_progress_key.
type ProgressRepository struct {
	conn *Connection
}

// NewProgressRepository creates a new ProgressRepository.
func NewProgressRepository(conn *Connection) *ProgressRepository {
	return &ProgressRepository{conn: conn}
}

const progressColumns = `
	id, student_id, stage_type, stage, course_context, status,
	started_at, last_activity_at, completed_at, metrics, mastery_level, version
`

// Find returns the record for a progress key.
func (r *ProgressRepository) Find(ctx context.Context, key journey.ProgressKey) (*journey.StageProgress, error) {
	row := r.conn.QueryRow(ctx, `
		SELECT `+progressColumns+`
		FROM stage_progress
		WHERE student_id = $1 AND stage_type = $2 AND stage = $3 AND course_context = $4
	`, key.StudentID, string(key.StageType), key.Stage, key.CourseContext)

	p, err := scanProgress(row)
	if err != nil {
		if IsNoRows(err) {
			return nil, journey.ErrProgressNotFound
		}
		return nil, storageError("journey", "FindProgress", err)
	}
	return p, nil
}

// Create inserts a new record. A concurrent insert of the same key loses and
// gets journey.ErrProgressExists.
func (r *ProgressRepository) Create(ctx context.Context, p *journey.StageProgress) error {
	metrics, err := json.Marshal(p.Metrics)
	if err != nil {
		return storageError("journey", "CreateProgress", err)
	}

	tag, err := r.conn.Exec(ctx, `
		INSERT INTO stage_progress (
			id, student_id, stage_type, stage, course_context, status,
			started_at, last_activity_at, completed_at, metrics, mastery_level, version
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, 1)
		ON CONFLICT (student_id, stage_type, stage, course_context) DO NOTHING
	`,
		p.ID,
		p.StudentID,
		string(p.StageType),
		p.Stage,
		p.CourseContext,
		string(p.Status),
		p.StartedAt,
		p.LastActivityAt,
		p.CompletedAt,
		metrics,
		string(p.MasteryLevel),
	)
	if err != nil {
		return storageError("journey", "CreateProgress", err)
	}
	if tag.RowsAffected() == 0 {
		return journey.ErrProgressExists
	}
	p.Version = 1
	return nil
}

// Update saves the record if nobody changed it since it was read.
func (r *ProgressRepository) Update(ctx context.Context, p *journey.StageProgress) error {
	metrics, err := json.Marshal(p.Metrics)
	if err != nil {
		return storageError("journey", "UpdateProgress", err)
	}

	tag, err := r.conn.Exec(ctx, `
		UPDATE stage_progress SET
			status = $1,
			last_activity_at = $2,
			completed_at = $3,
			metrics = $4,
			mastery_level = $5,
			version = version + 1
		WHERE id = $6 AND version = $7
	`,
		string(p.Status),
		p.LastActivityAt,
		p.CompletedAt,
		metrics,
		string(p.MasteryLevel),
		p.ID,
		p.Version,
	)
	if err != nil {
		return storageError("journey", "UpdateProgress", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := r.conn.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM stage_progress WHERE id = $1)`, p.ID,
		).Scan(&exists); err != nil {
			return storageError("journey", "UpdateProgress", err)
		}
		if !exists {
			return journey.ErrProgressNotFound
		}
		return shared.WrapError("journey", "UpdateProgress", shared.ErrConcurrentModification,
			"stage progress changed since it was read", nil)
	}
	p.Version++
	return nil
}

// ListByStudent returns a student's records in start order.
func (r *ProgressRepository) ListByStudent(ctx context.Context, studentID string) ([]*journey.StageProgress, error) {
	rows, err := r.conn.Query(ctx, `
		SELECT `+progressColumns+`
		FROM stage_progress
		WHERE student_id = $1
		ORDER BY started_at, id
	`, studentID)
	if err != nil {
		return nil, storageError("journey", "ListProgress", err)
	}
	defer rows.Close()

	var out []*journey.StageProgress
	for rows.Next() {
		p, err := scanProgress(rows)
		if err != nil {
			return nil, storageError("journey", "ListProgress", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, storageError("journey", "ListProgress", err)
	}
	return out, nil
}

// scanner is implemented by pgx.Row and pgx.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanProgress(row scanner) (*journey.StageProgress, error) {
	var (
		p                          journey.StageProgress
		stageType, status, mastery string
		metrics                    []byte
	)
	err := row.Scan(
		&p.ID,
		&p.StudentID,
		&stageType,
		&p.Stage,
		&p.CourseContext,
		&status,
		&p.StartedAt,
		&p.LastActivityAt,
		&p.CompletedAt,
		&metrics,
		&mastery,
		&p.Version,
	)
	if err != nil {
		return nil, err
	}

	p.StageType = journey.StageType(stageType)
	p.Status = journey.Status(status)
	p.MasteryLevel = journey.MasteryLevel(mastery)
	if len(metrics) > 0 {
		if err := json.Unmarshal(metrics, &p.Metrics); err != nil {
			return nil, err
		}
	}
	return &p, nil
}

var _ journey.ProgressRepository = (*ProgressRepository)(nil)
