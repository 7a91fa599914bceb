package repos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/daybrief-backend/internal/logger"
	"github.com/yungbote/daybrief-backend/internal/runstatus"
	"github.com/yungbote/daybrief-backend/internal/types"
)

type DayJobRepo interface {
	Create(ctx context.Context, tx *gorm.DB, jobs []*types.DayJob) ([]*types.DayJob, error)
	ListByRunID(ctx context.Context, tx *gorm.DB, runID uuid.UUID) ([]*types.DayJob, error)
	GetByRunAndDay(ctx context.Context, tx *gorm.DB, runID uuid.UUID, dayDate string) (*types.DayJob, error)
	// NextQueued returns the single next eligible job in deterministic
	// ascending day order, or nil when the run has none left.
	NextQueued(ctx context.Context, tx *gorm.DB, runID uuid.UUID) (*types.DayJob, error)
	UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error
	// Requeue moves every job of the run currently in one of the given
	// statuses back to QUEUED, bumping the attempt counter and clearing the
	// error payload. Accumulated usage is deliberately left untouched.
	Requeue(ctx context.Context, tx *gorm.DB, runID uuid.UUID, from []types.JobStatus) (int64, error)
	CancelActive(ctx context.Context, tx *gorm.DB, runID uuid.UUID) (int64, error)
	CountsByStatus(ctx context.Context, tx *gorm.DB, runID uuid.UUID) (runstatus.Counts, error)
}

type dayJobRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewDayJobRepo(db *gorm.DB, baseLog *logger.Logger) DayJobRepo {
	return &dayJobRepo{db: db, log: baseLog.With("repo", "DayJobRepo")}
}

func (r *dayJobRepo) Create(ctx context.Context, tx *gorm.DB, jobs []*types.DayJob) ([]*types.DayJob, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(jobs) == 0 {
		return []*types.DayJob{}, nil
	}
	if err := transaction.WithContext(ctx).Create(&jobs).Error; err != nil {
		return nil, err
	}
	return jobs, nil
}

func (r *dayJobRepo) ListByRunID(ctx context.Context, tx *gorm.DB, runID uuid.UUID) ([]*types.DayJob, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.DayJob
	if err := transaction.WithContext(ctx).
		Where("run_id = ?", runID).
		Order("day_date ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *dayJobRepo) GetByRunAndDay(ctx context.Context, tx *gorm.DB, runID uuid.UUID, dayDate string) (*types.DayJob, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var job types.DayJob
	err := transaction.WithContext(ctx).
		Where("run_id = ? AND day_date = ?", runID, dayDate).
		Limit(1).
		Find(&job).Error
	if err != nil {
		return nil, err
	}
	if job.ID == uuid.Nil {
		return nil, nil
	}
	return &job, nil
}

func (r *dayJobRepo) NextQueued(ctx context.Context, tx *gorm.DB, runID uuid.UUID) (*types.DayJob, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var job types.DayJob
	err := transaction.WithContext(ctx).
		Where("run_id = ? AND status = ?", runID, types.JobStatusQueued).
		Order("day_date ASC").
		Limit(1).
		Find(&job).Error
	if err != nil {
		return nil, err
	}
	if job.ID == uuid.Nil {
		return nil, nil
	}
	return &job, nil
}

func (r *dayJobRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
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
		Model(&types.DayJob{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *dayJobRepo) Requeue(ctx context.Context, tx *gorm.DB, runID uuid.UUID, from []types.JobStatus) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(from) == 0 {
		return 0, nil
	}
	res := transaction.WithContext(ctx).
		Model(&types.DayJob{}).
		Where("run_id = ? AND status IN ?", runID, from).
		Updates(map[string]interface{}{
			"status":        types.JobStatusQueued,
			"attempts":      gorm.Expr("attempts + 1"),
			"error_code":    "",
			"error_message": "",
			"updated_at":    time.Now(),
		})
	return res.RowsAffected, res.Error
}

func (r *dayJobRepo) CancelActive(ctx context.Context, tx *gorm.DB, runID uuid.UUID) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	res := transaction.WithContext(ctx).
		Model(&types.DayJob{}).
		Where("run_id = ? AND status IN ?", runID, []types.JobStatus{
			types.JobStatusQueued,
			types.JobStatusRunning,
			types.JobStatusFailed,
		}).
		Updates(map[string]interface{}{
			"status":     types.JobStatusCancelled,
			"updated_at": time.Now(),
		})
	return res.RowsAffected, res.Error
}

func (r *dayJobRepo) CountsByStatus(ctx context.Context, tx *gorm.DB, runID uuid.UUID) (runstatus.Counts, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var rows []struct {
		Status types.JobStatus
		N      int
	}
	err := transaction.WithContext(ctx).
		Model(&types.DayJob{}).
		Select("status, COUNT(*) AS n").
		Where("run_id = ?", runID).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return runstatus.Counts{}, err
	}
	var c runstatus.Counts
	for _, row := range rows {
		switch row.Status {
		case types.JobStatusQueued:
			c.Queued = row.N
		case types.JobStatusRunning:
			c.Running = row.N
		case types.JobStatusSucceeded:
			c.Succeeded = row.N
		case types.JobStatusFailed:
			c.Failed = row.N
		case types.JobStatusCancelled:
			c.Cancelled = row.N
		}
	}
	return c, nil
}
