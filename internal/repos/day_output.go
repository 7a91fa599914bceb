package repos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/yungbote/daybrief-backend/internal/logger"
	"github.com/yungbote/daybrief-backend/internal/types"
)

type DayOutputRepo interface {
	GetByJobAndStage(ctx context.Context, tx *gorm.DB, jobID uuid.UUID, stage string) (*types.DayOutput, error)
	ListByJobIDs(ctx context.Context, tx *gorm.DB, jobIDs []uuid.UUID) ([]*types.DayOutput, error)
	// Upsert writes the output for (job, stage), replacing any prior row.
	Upsert(ctx context.Context, tx *gorm.DB, out *types.DayOutput) error
	DeleteByJobAndStage(ctx context.Context, tx *gorm.DB, jobID uuid.UUID, stage string) error
}

type dayOutputRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewDayOutputRepo(db *gorm.DB, baseLog *logger.Logger) DayOutputRepo {
	return &dayOutputRepo{db: db, log: baseLog.With("repo", "DayOutputRepo")}
}

func (r *dayOutputRepo) GetByJobAndStage(ctx context.Context, tx *gorm.DB, jobID uuid.UUID, stage string) (*types.DayOutput, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out types.DayOutput
	err := transaction.WithContext(ctx).
		Where("job_id = ? AND stage = ?", jobID, stage).
		Limit(1).
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	if out.ID == uuid.Nil {
		return nil, nil
	}
	return &out, nil
}

func (r *dayOutputRepo) ListByJobIDs(ctx context.Context, tx *gorm.DB, jobIDs []uuid.UUID) ([]*types.DayOutput, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.DayOutput
	if len(jobIDs) == 0 {
		return out, nil
	}
	if err := transaction.WithContext(ctx).
		Where("job_id IN ?", jobIDs).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *dayOutputRepo) Upsert(ctx context.Context, tx *gorm.DB, out *types.DayOutput) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if out == nil {
		return nil
	}
	now := time.Now()
	if out.CreatedAt.IsZero() {
		out.CreatedAt = now
	}
	out.UpdatedAt = now
	return transaction.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "job_id"}, {Name: "stage"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"text", "content_hash", "context_hash", "model_id", "label_spec_version", "updated_at",
			}),
		}).
		Create(out).Error
}

func (r *dayOutputRepo) DeleteByJobAndStage(ctx context.Context, tx *gorm.DB, jobID uuid.UUID, stage string) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).
		Where("job_id = ? AND stage = ?", jobID, stage).
		Delete(&types.DayOutput{}).Error
}
