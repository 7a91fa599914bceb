package repos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/daybrief-backend/internal/logger"
	"github.com/yungbote/daybrief-backend/internal/types"
)

type ClassifyRunRepo interface {
	Create(ctx context.Context, tx *gorm.DB, runs []*types.ClassifyRun) ([]*types.ClassifyRun, error)
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.ClassifyRun, error)
	UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error
}

type classifyRunRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewClassifyRunRepo(db *gorm.DB, baseLog *logger.Logger) ClassifyRunRepo {
	return &classifyRunRepo{db: db, log: baseLog.With("repo", "ClassifyRunRepo")}
}

func (r *classifyRunRepo) Create(ctx context.Context, tx *gorm.DB, runs []*types.ClassifyRun) ([]*types.ClassifyRun, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(runs) == 0 {
		return []*types.ClassifyRun{}, nil
	}
	if err := transaction.WithContext(ctx).Create(&runs).Error; err != nil {
		return nil, err
	}
	return runs, nil
}

func (r *classifyRunRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.ClassifyRun, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil, nil
	}
	var run types.ClassifyRun
	err := transaction.WithContext(ctx).
		Where("id = ?", id).
		Limit(1).
		Find(&run).Error
	if err != nil {
		return nil, err
	}
	if run.ID == uuid.Nil {
		return nil, nil
	}
	return &run, nil
}

func (r *classifyRunRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}
	return transaction.WithContext(ctx).
		Model(&types.ClassifyRun{}).
		Where("id = ?", id).
		Updates(updates).Error
}
