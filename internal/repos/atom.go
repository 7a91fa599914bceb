package repos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/daybrief-backend/internal/logger"
	"github.com/yungbote/daybrief-backend/internal/types"
)

// AtomRepo is read-only for the tick engine: atoms are written by the
// import pipeline. Create exists for seeding and tests.
type AtomRepo interface {
	Create(ctx context.Context, tx *gorm.DB, atoms []*types.Atom) ([]*types.Atom, error)
	// ListWindow returns a batch's atoms with timestamps in [from, to),
	// ordered by timestamp then id for stable pagination-free reads.
	ListWindow(ctx context.Context, tx *gorm.DB, batchID uuid.UUID, from, to time.Time) ([]*types.Atom, error)
	// ListEligible returns a batch's user-role atoms ordered by timestamp
	// then id. Classification processes exactly this set.
	ListEligible(ctx context.Context, tx *gorm.DB, batchID uuid.UUID) ([]*types.Atom, error)
	// TimeBounds reports the earliest and latest atom timestamps across the
	// given batches; found is false when the batches hold no atoms.
	TimeBounds(ctx context.Context, tx *gorm.DB, batchIDs []uuid.UUID) (min, max time.Time, found bool, err error)
}

type atomRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewAtomRepo(db *gorm.DB, baseLog *logger.Logger) AtomRepo {
	return &atomRepo{db: db, log: baseLog.With("repo", "AtomRepo")}
}

func (r *atomRepo) Create(ctx context.Context, tx *gorm.DB, atoms []*types.Atom) ([]*types.Atom, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(atoms) == 0 {
		return []*types.Atom{}, nil
	}
	if err := transaction.WithContext(ctx).Create(&atoms).Error; err != nil {
		return nil, err
	}
	return atoms, nil
}

func (r *atomRepo) ListWindow(ctx context.Context, tx *gorm.DB, batchID uuid.UUID, from, to time.Time) ([]*types.Atom, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.Atom
	if err := transaction.WithContext(ctx).
		Where("batch_id = ? AND timestamp >= ? AND timestamp < ?", batchID, from, to).
		Order("timestamp ASC, id ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *atomRepo) ListEligible(ctx context.Context, tx *gorm.DB, batchID uuid.UUID) ([]*types.Atom, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.Atom
	if err := transaction.WithContext(ctx).
		Where("batch_id = ? AND role = ?", batchID, types.AtomRoleUser).
		Order("timestamp ASC, id ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *atomRepo) TimeBounds(ctx context.Context, tx *gorm.DB, batchIDs []uuid.UUID) (time.Time, time.Time, bool, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(batchIDs) == 0 {
		return time.Time{}, time.Time{}, false, nil
	}
	var first, last []*types.Atom
	if err := transaction.WithContext(ctx).
		Where("batch_id IN ?", batchIDs).
		Order("timestamp ASC, id ASC").
		Limit(1).
		Find(&first).Error; err != nil {
		return time.Time{}, time.Time{}, false, err
	}
	if len(first) == 0 {
		return time.Time{}, time.Time{}, false, nil
	}
	if err := transaction.WithContext(ctx).
		Where("batch_id IN ?", batchIDs).
		Order("timestamp DESC, id DESC").
		Limit(1).
		Find(&last).Error; err != nil {
		return time.Time{}, time.Time{}, false, err
	}
	return first[0].Timestamp, last[0].Timestamp, true, nil
}
