package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION SUPPORT
// ══════════════════════════════════════════════════════════════════════════════

// Migration represents a database migration.
type Migration struct {
	Version   int
	Name      string
	UpSQL     string
	DownSQL   string
	AppliedAt time.Time
	IsApplied bool
}

// Migrator handles database migrations.
type Migrator struct {
	conn       *Connection
	migrations []Migration
	tableName  string
}

// NewMigrator creates a new migrator with embedded migrations.
func NewMigrator(conn *Connection) *Migrator {
	return &Migrator{
		conn:       conn,
		migrations: GetMigrations(),
		tableName:  "schema_migrations",
	}
}

// EnsureMigrationTable creates the migration tracking table if it doesn't exist.
func (m *Migrator) EnsureMigrationTable(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		)
	`, m.tableName)

	if _, err := m.conn.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}
	return nil
}

func (m *Migrator) applied(ctx context.Context) (map[int]time.Time, error) {
	query := fmt.Sprintf("SELECT version, applied_at FROM %s ORDER BY version", m.tableName)

	rows, err := m.conn.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query applied migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[int]time.Time)
	for rows.Next() {
		var version int
		var appliedAt time.Time
		if err := rows.Scan(&version, &appliedAt); err != nil {
			return nil, fmt.Errorf("failed to scan migration row: %w", err)
		}
		applied[version] = appliedAt
	}
	return applied, rows.Err()
}

// Migrate applies all pending migrations and returns how many ran.
func (m *Migrator) Migrate(ctx context.Context) (int, error) {
	if err := m.EnsureMigrationTable(ctx); err != nil {
		return 0, err
	}

	applied, err := m.applied(ctx)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, mig := range m.migrations {
		if _, ok := applied[mig.Version]; ok {
			continue
		}
		if mig.UpSQL == "" {
			return count, fmt.Errorf("%w: missing up SQL for migration %d", ErrMigrationFailed, mig.Version)
		}

		err := m.conn.WithTx(ctx, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, mig.UpSQL); err != nil {
				return fmt.Errorf("failed to execute migration %d: %w", mig.Version, err)
			}
			insert := fmt.Sprintf("INSERT INTO %s (version, name) VALUES ($1, $2)", m.tableName)
			_, err := tx.Exec(ctx, insert, mig.Version, mig.Name)
			return err
		})
		if err != nil {
			return count, fmt.Errorf("%w: version %d: %v", ErrMigrationFailed, mig.Version, err)
		}
		count++
	}
	return count, nil
}

// Rollback rolls back the last applied migration.
// Returns the rolled back version, or 0 if nothing was applied.
func (m *Migrator) Rollback(ctx context.Context) (int, error) {
	if err := m.EnsureMigrationTable(ctx); err != nil {
		return 0, err
	}

	applied, err := m.applied(ctx)
	if err != nil {
		return 0, err
	}

	var last int
	for v := range applied {
		if v > last {
			last = v
		}
	}
	if last == 0 {
		return 0, nil
	}

	var migration *Migration
	for i := range m.migrations {
		if m.migrations[i].Version == last {
			migration = &m.migrations[i]
			break
		}
	}
	if migration == nil || migration.DownSQL == "" {
		return 0, fmt.Errorf("%w: missing down SQL for migration %d", ErrMigrationFailed, last)
	}

	err = m.conn.WithTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, migration.DownSQL); err != nil {
			return fmt.Errorf("failed to rollback migration %d: %w", last, err)
		}
		_, err := tx.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE version = $1", m.tableName), last)
		return err
	})
	if err != nil {
		return 0, err
	}
	return last, nil
}

// Status returns every known migration with its applied state.
func (m *Migrator) Status(ctx context.Context) ([]Migration, error) {
	if err := m.EnsureMigrationTable(ctx); err != nil {
		return nil, err
	}

	applied, err := m.applied(ctx)
	if err != nil {
		return nil, err
	}

	result := make([]Migration, len(m.migrations))
	copy(result, m.migrations)
	for i := range result {
		if at, ok := applied[result[i].Version]; ok {
			result[i].IsApplied = true
			result[i].AppliedAt = at
		}
	}
	return result, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// EMBEDDED MIGRATIONS
// ══════════════════════════════════════════════════════════════════════════════

// GetMigrations returns all embedded migrations in version order.
func GetMigrations() []Migration {
	return []Migration{
		{Version: 1, Name: "create_students", UpSQL: migration001Up, DownSQL: migration001Down},
		{Version: 2, Name: "create_stage_catalog", UpSQL: migration002Up, DownSQL: migration002Down},
		{Version: 3, Name: "create_journey_state", UpSQL: migration003Up, DownSQL: migration003Down},
		{Version: 4, Name: "create_aggregates_and_logs", UpSQL: migration004Up, DownSQL: migration004Down},
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 001: STUDENTS
// ══════════════════════════════════════════════════════════════════════════════

const migration001Up = `
CREATE TABLE IF NOT EXISTS students (
    id VARCHAR(140) PRIMARY KEY,
    glific_id VARCHAR(140) NOT NULL DEFAULT '',
    phone VARCHAR(32) NOT NULL DEFAULT '',
    name VARCHAR(140) NOT NULL,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);

-- glific_id is not unique: duplicates exist upstream and lookup takes the oldest.
CREATE INDEX IF NOT EXISTS idx_students_glific_id ON students(glific_id) WHERE glific_id != '';
CREATE INDEX IF NOT EXISTS idx_students_phone_name ON students(phone, name) WHERE phone != '';

CREATE TABLE IF NOT EXISTS student_enrollments (
    student_id VARCHAR(140) NOT NULL REFERENCES students(id) ON DELETE CASCADE,
    position INTEGER NOT NULL,
    course VARCHAR(140) NOT NULL DEFAULT '',
    batch VARCHAR(140) NOT NULL DEFAULT '',
    PRIMARY KEY (student_id, position)
);
`

const migration001Down = `
DROP TABLE IF EXISTS student_enrollments;
DROP TABLE IF EXISTS students;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 002: STAGE CATALOG
// ══════════════════════════════════════════════════════════════════════════════

const migration002Up = `
CREATE TABLE IF NOT EXISTS onboarding_stages (
    stage_name VARCHAR(140) PRIMARY KEY,
    name VARCHAR(140) NOT NULL DEFAULT '',
    description TEXT NOT NULL DEFAULT '',
    stage_order INTEGER NOT NULL DEFAULT 0,
    is_final_stage BOOLEAN NOT NULL DEFAULT FALSE,
    is_active BOOLEAN NOT NULL DEFAULT TRUE
);

CREATE TABLE IF NOT EXISTS learning_stages (
    key VARCHAR(140) PRIMARY KEY,
    title VARCHAR(140) NOT NULL DEFAULT '',
    course VARCHAR(140) NOT NULL,
    is_initial BOOLEAN NOT NULL DEFAULT FALSE,
    stage_order INTEGER NOT NULL DEFAULT 0,
    is_active BOOLEAN NOT NULL DEFAULT TRUE
);

CREATE INDEX IF NOT EXISTS idx_learning_stages_course ON learning_stages(course, stage_order);

CREATE TABLE IF NOT EXISTS stage_flows (
    stage_type VARCHAR(20) NOT NULL,
    stage_id VARCHAR(140) NOT NULL,
    position INTEGER NOT NULL,
    trigger_status VARCHAR(40) NOT NULL DEFAULT '',
    next_stage VARCHAR(140) NOT NULL DEFAULT '',
    flow_id VARCHAR(140) NOT NULL DEFAULT '',
    flow_type VARCHAR(40) NOT NULL DEFAULT '',
    description TEXT NOT NULL DEFAULT '',
    PRIMARY KEY (stage_type, stage_id, position),
    CONSTRAINT valid_flow_stage_type CHECK (stage_type IN ('OnboardingStage', 'LearningStage'))
);
`

const migration002Down = `
DROP TABLE IF EXISTS stage_flows;
DROP TABLE IF EXISTS learning_stages;
DROP TABLE IF EXISTS onboarding_stages;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 003: JOURNEY STATE
// ══════════════════════════════════════════════════════════════════════════════

const migration003Up = `
CREATE TABLE IF NOT EXISTS stage_progress (
    id VARCHAR(64) PRIMARY KEY,
    student_id VARCHAR(140) NOT NULL,
    stage_type VARCHAR(20) NOT NULL,
    stage VARCHAR(140) NOT NULL,
    course_context VARCHAR(140) NOT NULL DEFAULT '',
    status VARCHAR(20) NOT NULL,
    started_at TIMESTAMP WITH TIME ZONE NOT NULL,
    last_activity_at TIMESTAMP WITH TIME ZONE NOT NULL,
    completed_at TIMESTAMP WITH TIME ZONE,
    metrics JSONB NOT NULL DEFAULT '{}'::jsonb,
    mastery_level VARCHAR(20) NOT NULL DEFAULT '',
    version INTEGER NOT NULL DEFAULT 1,

    CONSTRAINT valid_progress_stage_type CHECK (stage_type IN ('OnboardingStage', 'LearningStage')),
    CONSTRAINT valid_progress_status CHECK (status IN ('assigned', 'in_progress', 'completed', 'incomplete', 'failed', 'skipped', 'in_loop'))
);

-- At most one progress record per student, stage and course.
CREATE UNIQUE INDEX IF NOT EXISTS uq_stage_progress_key
    ON stage_progress(student_id, stage_type, stage, course_context);
CREATE INDEX IF NOT EXISTS idx_stage_progress_student ON stage_progress(student_id, started_at);

CREATE TABLE IF NOT EXISTS onboarding_journeys (
    student_id VARCHAR(140) PRIMARY KEY,
    id VARCHAR(64) NOT NULL UNIQUE,
    current_stage VARCHAR(140) NOT NULL DEFAULT '',
    status VARCHAR(20) NOT NULL,
    started_at TIMESTAMP WITH TIME ZONE NOT NULL,
    last_activity_at TIMESTAMP WITH TIME ZONE NOT NULL,
    completed_at TIMESTAMP WITH TIME ZONE,

    CONSTRAINT valid_journey_status CHECK (status IN ('not_started', 'in_progress', 'completed'))
);
`

const migration003Down = `
DROP TABLE IF EXISTS onboarding_journeys;
DROP TABLE IF EXISTS stage_progress;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 004: AGGREGATES AND APPEND-ONLY LOGS
// ══════════════════════════════════════════════════════════════════════════════

const migration004Up = `
CREATE TABLE IF NOT EXISTS engagement_states (
    student_id VARCHAR(140) PRIMARY KEY,
    session_frequency DOUBLE PRECISION NOT NULL DEFAULT 0,
    current_streak INTEGER NOT NULL DEFAULT 0,
    completion_rate DOUBLE PRECISION NOT NULL DEFAULT 0,
    last_activity_date DATE,
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS learning_states (
    student_id VARCHAR(140) PRIMARY KEY,
    knowledge_map JSONB NOT NULL DEFAULT '{}'::jsonb,
    last_assessment_date DATE,
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS transition_history (
    seq BIGSERIAL PRIMARY KEY,
    id VARCHAR(64) NOT NULL UNIQUE,
    student_id VARCHAR(140) NOT NULL,
    from_stage_type VARCHAR(20) NOT NULL,
    from_stage VARCHAR(140) NOT NULL,
    to_stage_type VARCHAR(20) NOT NULL,
    to_stage VARCHAR(140) NOT NULL,
    course_context VARCHAR(140) NOT NULL DEFAULT '',
    occurred_at TIMESTAMP WITH TIME ZONE NOT NULL,
    success BOOLEAN NOT NULL DEFAULT TRUE
);

CREATE INDEX IF NOT EXISTS idx_transition_history_student ON transition_history(student_id, seq DESC);

CREATE TABLE IF NOT EXISTS interaction_logs (
    seq BIGSERIAL PRIMARY KEY,
    id VARCHAR(64) NOT NULL UNIQUE,
    student_id VARCHAR(140) NOT NULL,
    occurred_at TIMESTAMP WITH TIME ZONE NOT NULL,
    event_type VARCHAR(40) NOT NULL,
    interaction_type VARCHAR(40) NOT NULL,
    stage_type VARCHAR(20) NOT NULL,
    stage VARCHAR(140) NOT NULL,
    course_context VARCHAR(140) NOT NULL DEFAULT '',
    content TEXT NOT NULL DEFAULT '',
    message_id VARCHAR(140) NOT NULL DEFAULT '',
    message_type VARCHAR(40) NOT NULL DEFAULT '',
    system_action TEXT NOT NULL DEFAULT '',
    agency VARCHAR(40) NOT NULL DEFAULT '',
    progress JSONB NOT NULL DEFAULT '{}'::jsonb
);

CREATE INDEX IF NOT EXISTS idx_interaction_logs_student ON interaction_logs(student_id, occurred_at DESC);
`

const migration004Down = `
DROP TABLE IF EXISTS interaction_logs;
DROP TABLE IF EXISTS transition_history;
DROP TABLE IF EXISTS learning_states;
DROP TABLE IF EXISTS engagement_states;
`
