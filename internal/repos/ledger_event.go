package repos

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/edifylabs/edify-backend/internal/core"
	"github.com/edifylabs/edify-backend/internal/logger"
	"github.com/edifylabs/edify-backend/internal/types"
)

type LedgerEventRepo interface {
	// Append persists a sealed event. A block-index collision (two writers
	// racing for the chain tail) surfaces as core.ErrConcurrencyConflict so
	// the caller can re-resolve the tail and retry.
	Append(ctx context.Context, tx *gorm.DB, row *types.LedgerEvent) error
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.LedgerEvent, error)
	GetLatest(ctx context.Context, tx *gorm.DB, studentID uuid.UUID) (*types.LedgerEvent, error)
	ListAsc(ctx context.Context, tx *gorm.DB, studentID uuid.UUID, limit, offset int) ([]*types.LedgerEvent, error)
	ListLastN(ctx context.Context, tx *gorm.DB, studentID uuid.UUID, n int) ([]*types.LedgerEvent, error)
	ListDesc(ctx context.Context, tx *gorm.DB, studentID uuid.UUID, limit int) ([]*types.LedgerEvent, error)
	ListActiveStudents(ctx context.Context, tx *gorm.DB, since time.Time) ([]uuid.UUID, error)
	// MarkCorrected flips Status to corrected. Status is the only column a
	// ledger event ever changes after append, and the flip only applies to
	// rows not already corrected; losing that race returns
	// core.ErrConcurrencyConflict.
	MarkCorrected(ctx context.Context, tx *gorm.DB, id uuid.UUID) error
}

type ledgerEventRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewLedgerEventRepo(db *gorm.DB, baseLog *logger.Logger) LedgerEventRepo {
	return &ledgerEventRepo{
		db:  db,
		log: baseLog.With("repo", "LedgerEventRepo"),
	}
}

func (r *ledgerEventRepo) Append(ctx context.Context, tx *gorm.DB, row *types.LedgerEvent) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	row.CreatedAt = time.Now().UTC()
	if err := transaction.WithContext(ctx).Create(row).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			r.log.Warn("Ledger append lost the tail race", "student_id", row.StudentID, "block_index", row.BlockIndex)
			return core.ErrConcurrencyConflict
		}
		return core.NewStorageError("append ledger event", err)
	}
	return nil
}

func (r *ledgerEventRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.LedgerEvent, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var row types.LedgerEvent
	err := transaction.WithContext(ctx).Where("id = ?", id).Limit(1).Find(&row).Error
	if err != nil {
		return nil, core.NewStorageError("load ledger event", err)
	}
	if row.ID == uuid.Nil {
		return nil, nil
	}
	return &row, nil
}

func (r *ledgerEventRepo) GetLatest(ctx context.Context, tx *gorm.DB, studentID uuid.UUID) (*types.LedgerEvent, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var row types.LedgerEvent
	err := transaction.WithContext(ctx).
		Where("student_id = ?", studentID).
		Order("block_index desc").
		Limit(1).
		Find(&row).Error
	if err != nil {
		return nil, core.NewStorageError("load chain tail", err)
	}
	if row.ID == uuid.Nil {
		return nil, nil
	}
	return &row, nil
}

func (r *ledgerEventRepo) ListAsc(ctx context.Context, tx *gorm.DB, studentID uuid.UUID, limit, offset int) ([]*types.LedgerEvent, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	q := transaction.WithContext(ctx).
		Where("student_id = ?", studentID).
		Order("block_index asc").
		Offset(offset)
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []*types.LedgerEvent
	if err := q.Find(&rows).Error; err != nil {
		return nil, core.NewStorageError("list ledger events", err)
	}
	return rows, nil
}

func (r *ledgerEventRepo) ListLastN(ctx context.Context, tx *gorm.DB, studentID uuid.UUID, n int) ([]*types.LedgerEvent, error) {
	rows, err := r.ListDesc(ctx, tx, studentID, n)
	if err != nil {
		return nil, err
	}
	// Reverse back into chain order.
	for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
		rows[i], rows[j] = rows[j], rows[i]
	}
	return rows, nil
}

func (r *ledgerEventRepo) ListDesc(ctx context.Context, tx *gorm.DB, studentID uuid.UUID, limit int) ([]*types.LedgerEvent, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	q := transaction.WithContext(ctx).
		Where("student_id = ?", studentID).
		Order("block_index desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []*types.LedgerEvent
	if err := q.Find(&rows).Error; err != nil {
		return nil, core.NewStorageError("list ledger events", err)
	}
	return rows, nil
}

func (r *ledgerEventRepo) ListActiveStudents(ctx context.Context, tx *gorm.DB, since time.Time) ([]uuid.UUID, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var ids []uuid.UUID
	err := transaction.WithContext(ctx).
		Model(&types.LedgerEvent{}).
		Where("created_at >= ?", since).
		Distinct("student_id").
		Pluck("student_id", &ids).Error
	if err != nil {
		return nil, core.NewStorageError("list active students", err)
	}
	return ids, nil
}

func (r *ledgerEventRepo) MarkCorrected(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	res := transaction.WithContext(ctx).
		Model(&types.LedgerEvent{}).
		Where("id = ? AND status <> ?", id, types.EventStatusCorrected).
		Update("status", types.EventStatusCorrected)
	if res.Error != nil {
		return core.NewStorageError("mark event corrected", res.Error)
	}
	if res.RowsAffected == 0 {
		// Distinguish a missing row from one another writer already corrected.
		row, err := r.GetByID(ctx, transaction, id)
		if err != nil {
			return err
		}
		if row == nil {
			return core.NewNotFoundError("ledger event", id.String())
		}
		r.log.Warn("Event already marked corrected", "student_id", row.StudentID, "event_id", id)
		return core.ErrConcurrencyConflict
	}
	return nil
}
