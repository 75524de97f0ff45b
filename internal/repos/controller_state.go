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

type ControllerStateRepo interface {
	Get(ctx context.Context, tx *gorm.DB, controller, scopeType string, scopeID *uuid.UUID) (*types.ControllerState, error)
	ListForScope(ctx context.Context, tx *gorm.DB, scopeType string, scopeID *uuid.UUID) ([]*types.ControllerState, error)
	Create(ctx context.Context, tx *gorm.DB, row *types.ControllerState) error
	Save(ctx context.Context, tx *gorm.DB, row *types.ControllerState) error
}

type controllerStateRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewControllerStateRepo(db *gorm.DB, baseLog *logger.Logger) ControllerStateRepo {
	return &controllerStateRepo{
		db:  db,
		log: baseLog.With("repo", "ControllerStateRepo"),
	}
}

func scopeFilter(q *gorm.DB, scopeType string, scopeID *uuid.UUID) *gorm.DB {
	q = q.Where("scope_type = ?", scopeType)
	if scopeID == nil {
		return q.Where("scope_id IS NULL")
	}
	return q.Where("scope_id = ?", *scopeID)
}

func (r *controllerStateRepo) Get(ctx context.Context, tx *gorm.DB, controller, scopeType string, scopeID *uuid.UUID) (*types.ControllerState, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var row types.ControllerState
	q := scopeFilter(transaction.WithContext(ctx).Where("controller = ?", controller), scopeType, scopeID)
	if err := q.Limit(1).Find(&row).Error; err != nil {
		return nil, core.NewStorageError("load controller state", err)
	}
	if row.ID == uuid.Nil {
		return nil, nil
	}
	return &row, nil
}

func (r *controllerStateRepo) ListForScope(ctx context.Context, tx *gorm.DB, scopeType string, scopeID *uuid.UUID) ([]*types.ControllerState, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var rows []*types.ControllerState
	q := scopeFilter(transaction.WithContext(ctx), scopeType, scopeID)
	if err := q.Order("controller asc").Find(&rows).Error; err != nil {
		return nil, core.NewStorageError("list controller states", err)
	}
	return rows, nil
}

func (r *controllerStateRepo) Create(ctx context.Context, tx *gorm.DB, row *types.ControllerState) error {
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
		return core.NewStorageError("create controller state", err)
	}
	return nil
}

func (r *controllerStateRepo) Save(ctx context.Context, tx *gorm.DB, row *types.ControllerState) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	expected := row.Version
	row.Version = expected + 1
	row.UpdatedAt = time.Now().UTC()

	res := transaction.WithContext(ctx).
		Model(&types.ControllerState{}).
		Where("id = ? AND version = ?", row.ID, expected).
		Updates(map[string]interface{}{
			"state":           row.State,
			"history":         row.History,
			"version":         row.Version,
			"last_updated_at": row.LastUpdatedAt,
			"updated_at":      row.UpdatedAt,
		})
	if res.Error != nil {
		row.Version = expected
		return core.NewStorageError("save controller state", res.Error)
	}
	if res.RowsAffected == 0 {
		row.Version = expected
		r.log.Warn("Optimistic write lost the race", "controller", row.Controller, "scope_type", row.ScopeType)
		return core.ErrConcurrencyConflict
	}
	return nil
}
