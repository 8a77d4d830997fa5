package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/tap-lms/journey-hub/internal/domain/journey"
)

// ══════════════════════════════════════════════════════════════════════════════
// STAGE CATALOG REPOSITORY
// ══════════════════════════════════════════════════════════════════════════════

// StageRepository implements journey.StageRepository and journey.StageCatalogWriter.
// Flow rules live in stage_flows and keep their configured order.
type StageRepository struct {
	conn *Connection
}

// NewStageRepository creates a new StageRepository.
func NewStageRepository(conn *Connection) *StageRepository {
	return &StageRepository{conn: conn}
}

// GetOnboardingStage returns an active onboarding stage by StageName.
func (r *StageRepository) GetOnboardingStage(ctx context.Context, stageName string) (*journey.OnboardingStage, error) {
	stages, err := r.onboarding(ctx, "GetOnboardingStage", `WHERE stage_name = $1 AND is_active`, stageName)
	if err != nil {
		return nil, err
	}
	if len(stages) == 0 {
		return nil, journey.ErrStageNotFound
	}
	return stages[0], nil
}

// GetLearningStage returns a learning stage by primary key, active or not.
func (r *StageRepository) GetLearningStage(ctx context.Context, key string) (*journey.LearningStage, error) {
	stages, err := r.learning(ctx, "GetLearningStage", `WHERE key = $1`, key)
	if err != nil {
		return nil, err
	}
	if len(stages) == 0 {
		return nil, journey.ErrStageNotFound
	}
	return stages[0], nil
}

// ListLearningStages returns every learning stage of a course in order.
func (r *StageRepository) ListLearningStages(ctx context.Context, course string) ([]*journey.LearningStage, error) {
	return r.learning(ctx, "ListLearningStages", `WHERE course = $1`, course)
}

// ListOnboardingStages returns every onboarding stage in order.
func (r *StageRepository) ListOnboardingStages(ctx context.Context) ([]*journey.OnboardingStage, error) {
	return r.onboarding(ctx, "ListOnboardingStages", "")
}

func (r *StageRepository) onboarding(ctx context.Context, op, where string, args ...any) ([]*journey.OnboardingStage, error) {
	rows, err := r.conn.Query(ctx, `
		SELECT stage_name, name, description, stage_order, is_final_stage, is_active
		FROM onboarding_stages `+where+`
		ORDER BY stage_order, stage_name
	`, args...)
	if err != nil {
		return nil, storageError("journey", op, err)
	}
	defer rows.Close()

	var out []*journey.OnboardingStage
	for rows.Next() {
		var s journey.OnboardingStage
		if err := rows.Scan(&s.StageName, &s.Name, &s.Description, &s.Order, &s.IsFinalStage, &s.Active); err != nil {
			return nil, storageError("journey", op, err)
		}
		out = append(out, &s)
	}
	if err := rows.Err(); err != nil {
		return nil, storageError("journey", op, err)
	}

	for _, s := range out {
		if s.StageFlows, err = r.flows(ctx, journey.StageTypeOnboarding, s.StageName); err != nil {
			return nil, storageError("journey", op, err)
		}
	}
	return out, nil
}

func (r *StageRepository) learning(ctx context.Context, op, where string, args ...any) ([]*journey.LearningStage, error) {
	rows, err := r.conn.Query(ctx, `
		SELECT key, title, course, is_initial, stage_order, is_active
		FROM learning_stages `+where+`
		ORDER BY stage_order, key
	`, args...)
	if err != nil {
		return nil, storageError("journey", op, err)
	}
	defer rows.Close()

	var out []*journey.LearningStage
	for rows.Next() {
		var s journey.LearningStage
		if err := rows.Scan(&s.Key, &s.Title, &s.Course, &s.IsInitial, &s.Order, &s.Active); err != nil {
			return nil, storageError("journey", op, err)
		}
		out = append(out, &s)
	}
	if err := rows.Err(); err != nil {
		return nil, storageError("journey", op, err)
	}

	for _, s := range out {
		if s.StageFlows, err = r.flows(ctx, journey.StageTypeLearning, s.Key); err != nil {
			return nil, storageError("journey", op, err)
		}
	}
	return out, nil
}

func (r *StageRepository) flows(ctx context.Context, stageType journey.StageType, stageID string) ([]journey.StageFlow, error) {
	rows, err := r.conn.Query(ctx, `
		SELECT trigger_status, next_stage, flow_id, flow_type, description
		FROM stage_flows
		WHERE stage_type = $1 AND stage_id = $2
		ORDER BY position
	`, string(stageType), stageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []journey.StageFlow
	for rows.Next() {
		var f journey.StageFlow
		if err := rows.Scan(&f.TriggerStatus, &f.NextStage, &f.FlowID, &f.FlowType, &f.Description); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// UpsertOnboardingStage replaces the stage row and its flow rules.
func (r *StageRepository) UpsertOnboardingStage(ctx context.Context, s *journey.OnboardingStage) error {
	err := r.conn.WithTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO onboarding_stages (stage_name, name, description, stage_order, is_final_stage, is_active)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (stage_name) DO UPDATE SET
				name = EXCLUDED.name,
				description = EXCLUDED.description,
				stage_order = EXCLUDED.stage_order,
				is_final_stage = EXCLUDED.is_final_stage,
				is_active = EXCLUDED.is_active
		`, s.StageName, s.Name, s.Description, s.Order, s.IsFinalStage, s.Active)
		if err != nil {
			return err
		}
		return replaceFlows(ctx, tx, journey.StageTypeOnboarding, s.StageName, s.StageFlows)
	})
	if err != nil {
		return storageError("journey", "UpsertOnboardingStage", err)
	}
	return nil
}

// UpsertLearningStage replaces the stage row and its flow rules.
func (r *StageRepository) UpsertLearningStage(ctx context.Context, s *journey.LearningStage) error {
	err := r.conn.WithTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO learning_stages (key, title, course, is_initial, stage_order, is_active)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (key) DO UPDATE SET
				title = EXCLUDED.title,
				course = EXCLUDED.course,
				is_initial = EXCLUDED.is_initial,
				stage_order = EXCLUDED.stage_order,
				is_active = EXCLUDED.is_active
		`, s.Key, s.Title, s.Course, s.IsInitial, s.Order, s.Active)
		if err != nil {
			return err
		}
		return replaceFlows(ctx, tx, journey.StageTypeLearning, s.Key, s.StageFlows)
	})
	if err != nil {
		return storageError("journey", "UpsertLearningStage", err)
	}
	return nil
}

func replaceFlows(ctx context.Context, tx pgx.Tx, stageType journey.StageType, stageID string, flows []journey.StageFlow) error {
	if _, err := tx.Exec(ctx,
		`DELETE FROM stage_flows WHERE stage_type = $1 AND stage_id = $2`,
		string(stageType), stageID,
	); err != nil {
		return err
	}

	batch := &pgx.Batch{}
	for i, f := range flows {
		batch.Queue(`
			INSERT INTO stage_flows (stage_type, stage_id, position, trigger_status, next_stage, flow_id, flow_type, description)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, string(stageType), stageID, i, f.TriggerStatus, f.NextStage, f.FlowID, f.FlowType, f.Description)
	}
	if batch.Len() == 0 {
		return nil
	}
	return tx.SendBatch(ctx, batch).Close()
}

var (
	_ journey.StageRepository    = (*StageRepository)(nil)
	_ journey.StageCatalogWriter = (*StageRepository)(nil)
)
