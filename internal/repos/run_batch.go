package repos

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/daybrief-backend/internal/logger"
	"github.com/yungbote/daybrief-backend/internal/types"
)

type RunBatchRepo interface {
	Create(ctx context.Context, tx *gorm.DB, rows []*types.RunBatch) ([]*types.RunBatch, error)
	// ListByRunID returns a run's batches in canonical order
	// (created_at asc, id asc). The id tie-break keeps the order total even
	// when creation timestamps collide.
	ListByRunID(ctx context.Context, tx *gorm.DB, runID uuid.UUID) ([]*types.RunBatch, error)
}

type runBatchRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewRunBatchRepo(db *gorm.DB, baseLog *logger.Logger) RunBatchRepo {
	return &runBatchRepo{db: db, log: baseLog.With("repo", "RunBatchRepo")}
}

func (r *runBatchRepo) Create(ctx context.Context, tx *gorm.DB, rows []*types.RunBatch) ([]*types.RunBatch, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(rows) == 0 {
		return []*types.RunBatch{}, nil
	}
	if err := transaction.WithContext(ctx).Create(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *runBatchRepo) ListByRunID(ctx context.Context, tx *gorm.DB, runID uuid.UUID) ([]*types.RunBatch, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.RunBatch
	if err := transaction.WithContext(ctx).
		Where("run_id = ?", runID).
		Order("created_at ASC, id ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
