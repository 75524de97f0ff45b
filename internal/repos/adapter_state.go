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

type AdapterStateRepo interface {
	Get(ctx context.Context, tx *gorm.DB, scopeType string, scopeID *uuid.UUID) (*types.AdapterState, error)
	Create(ctx context.Context, tx *gorm.DB, row *types.AdapterState) error
	Save(ctx context.Context, tx *gorm.DB, row *types.AdapterState) error
}

type adapterStateRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewAdapterStateRepo(db *gorm.DB, baseLog *logger.Logger) AdapterStateRepo {
	return &adapterStateRepo{
		db:  db,
		log: baseLog.With("repo", "AdapterStateRepo"),
	}
}

func (r *adapterStateRepo) Get(ctx context.Context, tx *gorm.DB, scopeType string, scopeID *uuid.UUID) (*types.AdapterState, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	q := transaction.WithContext(ctx).Where("scope_type = ?", scopeType)
	if scopeID == nil {
		q = q.Where("scope_id IS NULL")
	} else {
		q = q.Where("scope_id = ?", *scopeID)
	}
	var row types.AdapterState
	if err := q.Limit(1).Find(&row).Error; err != nil {
		return nil, core.NewStorageError("load adapter state", err)
	}
	if row.ID == uuid.Nil {
		return nil, nil
	}
	return &row, nil
}

func (r *adapterStateRepo) Create(ctx context.Context, tx *gorm.DB, row *types.AdapterState) error {
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
		return core.NewStorageError("create adapter state", err)
	}
	return nil
}

func (r *adapterStateRepo) Save(ctx context.Context, tx *gorm.DB, row *types.AdapterState) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	expected := row.Version
	row.Version = expected + 1
	row.UpdatedAt = time.Now().UTC()

	res := transaction.WithContext(ctx).
		Model(&types.AdapterState{}).
		Where("id = ? AND version = ?", row.ID, expected).
		Updates(map[string]interface{}{
			"answer_weight":             row.AnswerWeight,
			"reasoning_weight":          row.ReasoningWeight,
			"formula_importance":        row.FormulaImportance,
			"calculation_importance":    row.CalculationImportance,
			"explanation_importance":    row.ExplanationImportance,
			"units_importance":          row.UnitsImportance,
			"difficulty_increment_rate": row.DifficultyIncrementRate,
			"difficulty_decrement_rate": row.DifficultyDecrementRate,
			"difficulty_threshold":      row.DifficultyThreshold,
			"target_accuracy":           row.TargetAccuracy,
			"window_size":               row.WindowSize,
			"learning_rate":             row.LearningRate,
			"adaptation_rate":           row.AdaptationRate,
			"average_error":             row.AverageError,
			"accuracy":                  row.Accuracy,
			"biases":                    row.Biases,
			"update_history":            row.UpdateHistory,
			"version":                   row.Version,
			"last_updated_at":           row.LastUpdatedAt,
			"updated_at":                row.UpdatedAt,
		})
	if res.Error != nil {
		row.Version = expected
		return core.NewStorageError("save adapter state", res.Error)
	}
	if res.RowsAffected == 0 {
		row.Version = expected
		r.log.Warn("Optimistic write lost the race", "scope_type", row.ScopeType)
		return core.ErrConcurrencyConflict
	}
	return nil
}
