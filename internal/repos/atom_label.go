package repos

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/daybrief-backend/internal/logger"
	"github.com/yungbote/daybrief-backend/internal/types"
)

type AtomLabelRepo interface {
	Create(ctx context.Context, tx *gorm.DB, labels []*types.AtomLabel) ([]*types.AtomLabel, error)
	// MapByAtomIDs returns the label for each atom under one
	// (model, prompt version) pair, keyed by atom id.
	MapByAtomIDs(ctx context.Context, tx *gorm.DB, atomIDs []uuid.UUID, model, promptVersionID string) (map[uuid.UUID]*types.AtomLabel, error)
}

type atomLabelRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewAtomLabelRepo(db *gorm.DB, baseLog *logger.Logger) AtomLabelRepo {
	return &atomLabelRepo{db: db, log: baseLog.With("repo", "AtomLabelRepo")}
}

func (r *atomLabelRepo) Create(ctx context.Context, tx *gorm.DB, labels []*types.AtomLabel) ([]*types.AtomLabel, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(labels) == 0 {
		return []*types.AtomLabel{}, nil
	}
	if err := transaction.WithContext(ctx).Create(&labels).Error; err != nil {
		return nil, err
	}
	return labels, nil
}

func (r *atomLabelRepo) MapByAtomIDs(ctx context.Context, tx *gorm.DB, atomIDs []uuid.UUID, model, promptVersionID string) (map[uuid.UUID]*types.AtomLabel, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	out := make(map[uuid.UUID]*types.AtomLabel, len(atomIDs))
	if len(atomIDs) == 0 {
		return out, nil
	}
	var rows []*types.AtomLabel
	if err := transaction.WithContext(ctx).
		Where("atom_id IN ? AND model = ? AND prompt_version_id = ?", atomIDs, model, promptVersionID).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	for _, l := range rows {
		out[l.AtomID] = l
	}
	return out, nil
}
