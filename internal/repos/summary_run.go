package repos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/daybrief-backend/internal/logger"
	"github.com/yungbote/daybrief-backend/internal/types"
)

type SummaryRunRepo interface {
	Create(ctx context.Context, tx *gorm.DB, runs []*types.SummaryRun) ([]*types.SummaryRun, error)
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.SummaryRun, error)
	UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error
}

type summaryRunRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewSummaryRunRepo(db *gorm.DB, baseLog *logger.Logger) SummaryRunRepo {
	return &summaryRunRepo{db: db, log: baseLog.With("repo", "SummaryRunRepo")}
}

func (r *summaryRunRepo) Create(ctx context.Context, tx *gorm.DB, runs []*types.SummaryRun) ([]*types.SummaryRun, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(runs) == 0 {
		return []*types.SummaryRun{}, nil
	}
	if err := transaction.WithContext(ctx).Create(&runs).Error; err != nil {
		return nil, err
	}
	return runs, nil
}

func (r *summaryRunRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.SummaryRun, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil, nil
	}
	var run types.SummaryRun
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

func (r *summaryRunRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
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
		Model(&types.SummaryRun{}).
		Where("id = ?", id).
		Updates(updates).Error
}
