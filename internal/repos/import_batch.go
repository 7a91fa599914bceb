package repos

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/daybrief-backend/internal/logger"
	"github.com/yungbote/daybrief-backend/internal/types"
)

type ImportBatchRepo interface {
	Create(ctx context.Context, tx *gorm.DB, batches []*types.ImportBatch) ([]*types.ImportBatch, error)
	GetByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*types.ImportBatch, error)
}

type importBatchRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewImportBatchRepo(db *gorm.DB, baseLog *logger.Logger) ImportBatchRepo {
	return &importBatchRepo{db: db, log: baseLog.With("repo", "ImportBatchRepo")}
}

func (r *importBatchRepo) Create(ctx context.Context, tx *gorm.DB, batches []*types.ImportBatch) ([]*types.ImportBatch, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(batches) == 0 {
		return []*types.ImportBatch{}, nil
	}
	if err := transaction.WithContext(ctx).Create(&batches).Error; err != nil {
		return nil, err
	}
	return batches, nil
}

func (r *importBatchRepo) GetByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*types.ImportBatch, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.ImportBatch
	if len(ids) == 0 {
		return out, nil
	}
	if err := transaction.WithContext(ctx).
		Where("id IN ?", ids).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
