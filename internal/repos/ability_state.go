package repos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/edifylabs/edify-backend/internal/core"
	"github.com/edifylabs/edify-backend/internal/logger"
	"github.com/edifylabs/edify-backend/internal/types"
)

type AbilityStateRepo interface {
	Get(ctx context.Context, tx *gorm.DB, studentID uuid.UUID, competency string) (*types.AbilityState, error)
	ListForStudent(ctx context.Context, tx *gorm.DB, studentID uuid.UUID) ([]*types.AbilityState, error)
	Create(ctx context.Context, tx *gorm.DB, row *types.AbilityState) error
	// Save persists a modified state only when the stored version still
	// matches row.Version; on success row.Version is advanced. A lost race
	// returns core.ErrConcurrencyConflict.
	Save(ctx context.Context, tx *gorm.DB, row *types.AbilityState) error
}

type abilityStateRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewAbilityStateRepo(db *gorm.DB, baseLog *logger.Logger) AbilityStateRepo {
	return &abilityStateRepo{
		db:  db,
		log: baseLog.With("repo", "AbilityStateRepo"),
	}
}

func (r *abilityStateRepo) Get(ctx context.Context, tx *gorm.DB, studentID uuid.UUID, competency string) (*types.AbilityState, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if studentID == uuid.Nil {
		return nil, nil
	}
	var row types.AbilityState
	err := transaction.WithContext(ctx).
		Where("student_id = ? AND competency = ?", studentID, competency).
		Limit(1).
		Find(&row).Error
	if err != nil {
		return nil, core.NewStorageError("load ability state", err)
	}
	if row.ID == uuid.Nil {
		return nil, nil
	}
	return &row, nil
}

func (r *abilityStateRepo) ListForStudent(ctx context.Context, tx *gorm.DB, studentID uuid.UUID) ([]*types.AbilityState, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var rows []*types.AbilityState
	err := transaction.WithContext(ctx).
		Where("student_id = ?", studentID).
		Order("competency asc").
		Find(&rows).Error
	if err != nil {
		return nil, core.NewStorageError("list ability states", err)
	}
	return rows, nil
}

func (r *abilityStateRepo) Create(ctx context.Context, tx *gorm.DB, row *types.AbilityState) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if row.ID == uuid.Nil {
		row.ID = uuid.New()
	}
	now := time.Now().UTC()
	row.CreatedAt = now
	row.UpdatedAt = now
	if err := transaction.WithContext(ctx).Create(row).Error; err != nil {
		return core.NewStorageError("create ability state", err)
	}
	return nil
}

func (r *abilityStateRepo) Save(ctx context.Context, tx *gorm.DB, row *types.AbilityState) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	expected := row.Version
	row.Version = expected + 1
	row.UpdatedAt = time.Now().UTC()

	res := transaction.WithContext(ctx).
		Model(&types.AbilityState{}).
		Where("id = ? AND version = ?", row.ID, expected).
		Updates(map[string]interface{}{
			"estimate":            row.Estimate,
			"uncertainty":         row.Uncertainty,
			"process_noise":       row.ProcessNoise,
			"measurement_noise":   row.MeasurementNoise,
			"convergence_status":  row.ConvergenceStatus,
			"update_count":        row.UpdateCount,
			"stable_windows":      row.StableWindows,
			"measurements":        row.Measurements,
			"convergence_history": row.ConvergenceHistory,
			"version":             row.Version,
			"last_measured_at":    row.LastMeasuredAt,
			"updated_at":          row.UpdatedAt,
		})
	if res.Error != nil {
		row.Version = expected
		return core.NewStorageError("save ability state", res.Error)
	}
	if res.RowsAffected == 0 {
		row.Version = expected
		r.log.Warn("Optimistic write lost the race", "student_id", row.StudentID, "competency", row.Competency)
		return core.ErrConcurrencyConflict
	}
	return nil
}
