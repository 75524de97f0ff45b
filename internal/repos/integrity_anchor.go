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

type IntegrityAnchorRepo interface {
	Create(ctx context.Context, tx *gorm.DB, row *types.IntegrityAnchor) error
	GetLatest(ctx context.Context, tx *gorm.DB, studentID uuid.UUID) (*types.IntegrityAnchor, error)
	List(ctx context.Context, tx *gorm.DB, studentID uuid.UUID, limit int) ([]*types.IntegrityAnchor, error)
}

type integrityAnchorRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewIntegrityAnchorRepo(db *gorm.DB, baseLog *logger.Logger) IntegrityAnchorRepo {
	return &integrityAnchorRepo{
		db:  db,
		log: baseLog.With("repo", "IntegrityAnchorRepo"),
	}
}

func (r *integrityAnchorRepo) Create(ctx context.Context, tx *gorm.DB, row *types.IntegrityAnchor) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if row.ID == uuid.Nil {
		row.ID = uuid.New()
	}
	row.CreatedAt = time.Now().UTC()
	if err := transaction.WithContext(ctx).Create(row).Error; err != nil {
		return core.NewStorageError("create integrity anchor", err)
	}
	return nil
}

func (r *integrityAnchorRepo) GetLatest(ctx context.Context, tx *gorm.DB, studentID uuid.UUID) (*types.IntegrityAnchor, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var row types.IntegrityAnchor
	err := transaction.WithContext(ctx).
		Where("student_id = ?", studentID).
		Order("to_block_index desc").
		Limit(1).
		Find(&row).Error
	if err != nil {
		return nil, core.NewStorageError("load latest anchor", err)
	}
	if row.ID == uuid.Nil {
		return nil, nil
	}
	return &row, nil
}

func (r *integrityAnchorRepo) List(ctx context.Context, tx *gorm.DB, studentID uuid.UUID, limit int) ([]*types.IntegrityAnchor, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	q := transaction.WithContext(ctx).
		Where("student_id = ?", studentID).
		Order("to_block_index desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []*types.IntegrityAnchor
	if err := q.Find(&rows).Error; err != nil {
		return nil, core.NewStorageError("list integrity anchors", err)
	}
	return rows, nil
}
