package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/daybrief-backend/internal/bundle"
	"github.com/yungbote/daybrief-backend/internal/repos"
	"github.com/yungbote/daybrief-backend/internal/types"
)

const dayLayout = "2006-01-02"

// assembleDayBundle rebuilds one day's bundle from the run's frozen config.
// It reads only atom/label rows and never mutates anything, so both the tick
// path and the read-only preview path share it. The config's batch order and
// timezone are authoritative; upstream batch rows are not re-read.
func assembleDayBundle(
	ctx context.Context,
	tx *gorm.DB,
	cfg types.RunConfig,
	dayDate string,
	atomRepo repos.AtomRepo,
	labelRepo repos.AtomLabelRepo,
) (bundle.Bundle, error) {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return bundle.Bundle{}, fmt.Errorf("load run timezone %q: %w", cfg.Timezone, err)
	}
	dayStart, err := time.ParseInLocation(dayLayout, dayDate, loc)
	if err != nil {
		return bundle.Bundle{}, fmt.Errorf("parse day date %q: %w", dayDate, err)
	}
	dayEnd := dayStart.AddDate(0, 0, 1)

	refs := make([]bundle.BatchRef, 0, len(cfg.BatchIDs))
	var atoms []bundle.Atom
	var atomIDs []uuid.UUID
	for _, batchID := range cfg.BatchIDs {
		refs = append(refs, bundle.BatchRef{ID: batchID, Location: loc})
		rows, err := atomRepo.ListWindow(ctx, tx, batchID, dayStart.UTC(), dayEnd.UTC())
		if err != nil {
			return bundle.Bundle{}, fmt.Errorf("list atoms for batch %s: %w", batchID, err)
		}
		for _, a := range rows {
			atoms = append(atoms, bundle.Atom{
				ID:        a.ID,
				BatchID:   a.BatchID,
				Source:    a.Source,
				Role:      a.Role,
				Timestamp: a.Timestamp,
				Text:      a.Text,
			})
			atomIDs = append(atomIDs, a.ID)
		}
	}

	labels, err := labelRepo.MapByAtomIDs(ctx, tx, atomIDs, cfg.LabelSpec.Model, cfg.LabelSpec.PromptVersionID)
	if err != nil {
		return bundle.Bundle{}, fmt.Errorf("load atom labels: %w", err)
	}
	for i := range atoms {
		if l, ok := labels[atoms[i].ID]; ok {
			atoms[i].Category = l.Category
		}
	}

	return bundle.Build(bundle.Input{
		DayDate:   dayDate,
		Batches:   refs,
		Atoms:     atoms,
		Sources:   cfg.Sources,
		LabelSpec: cfg.LabelSpec,
		Filter:    cfg.FilterProfile,
		ModelID:   cfg.ModelID,
		Timezone:  cfg.Timezone,
	}), nil
}
