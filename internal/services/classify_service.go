package services

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/daybrief-backend/internal/apierr"
	"github.com/yungbote/daybrief-backend/internal/logger"
	"github.com/yungbote/daybrief-backend/internal/repos"
	"github.com/yungbote/daybrief-backend/internal/types"
)

// classifyFlushEvery bounds how stale a concurrent status read can be:
// progress counters are persisted after this many processed atoms.
const classifyFlushEvery = 10

type StartClassifyInput struct {
	BatchID         uuid.UUID
	Model           string
	PromptVersionID string
	Mode            string // stub | real
	Categories      []string
}

type ClassifyService interface {
	// Start processes every eligible atom of the batch once, synchronously
	// within the calling request, persisting progress incrementally.
	Start(ctx context.Context, in StartClassifyInput) (*types.ClassifyRun, error)
	// Get is read-only; polling it never mutates the run.
	Get(ctx context.Context, id uuid.UUID) (*types.ClassifyRun, error)
}

type classifyService struct {
	db         *gorm.DB
	log        *logger.Logger
	classifier Classifier
	runRepo    repos.ClassifyRunRepo
	batchRepo  repos.ImportBatchRepo
	atomRepo   repos.AtomRepo
	labelRepo  repos.AtomLabelRepo
}

func NewClassifyService(
	db *gorm.DB,
	baseLog *logger.Logger,
	classifier Classifier,
	runRepo repos.ClassifyRunRepo,
	batchRepo repos.ImportBatchRepo,
	atomRepo repos.AtomRepo,
	labelRepo repos.AtomLabelRepo,
) ClassifyService {
	return &classifyService{
		db:         db,
		log:        baseLog.With("service", "ClassifyService"),
		classifier: classifier,
		runRepo:    runRepo,
		batchRepo:  batchRepo,
		atomRepo:   atomRepo,
		labelRepo:  labelRepo,
	}
}

// stubCategory derives a deterministic category from the atom's stable id.
// Same atom, same category, every time, on every machine.
func stubCategory(atomID uuid.UUID, categories []string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(atomID.String()))
	return categories[h.Sum32()%uint32(len(categories))]
}

// matchCategory resolves raw classifier output against the category list.
// An exact match is canonical; a case-insensitive match is an alias; no
// match means malformed output.
func matchCategory(raw string, categories []string) (canonical string, aliased, ok bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false, false
	}
	for _, c := range categories {
		if c == raw {
			return c, false, true
		}
	}
	for _, c := range categories {
		if strings.EqualFold(c, raw) {
			return c, true, true
		}
	}
	return "", false, false
}

func (s *classifyService) Start(ctx context.Context, in StartClassifyInput) (*types.ClassifyRun, error) {
	if in.Model == "" || in.PromptVersionID == "" {
		return nil, apierr.New(http.StatusBadRequest, "label_spec_required", fmt.Errorf("model and prompt_version_id are required"))
	}
	if in.Mode != types.ClassifyModeStub && in.Mode != types.ClassifyModeReal {
		return nil, apierr.New(http.StatusBadRequest, "mode_invalid", fmt.Errorf("mode must be stub or real"))
	}
	if len(in.Categories) == 0 {
		return nil, apierr.New(http.StatusBadRequest, "categories_required", fmt.Errorf("a non-empty category list is required"))
	}
	batches, err := s.batchRepo.GetByIDs(ctx, nil, []uuid.UUID{in.BatchID})
	if err != nil {
		return nil, err
	}
	if len(batches) == 0 {
		return nil, apierr.New(http.StatusNotFound, "batch_not_found", fmt.Errorf("batch %s does not exist", in.BatchID))
	}

	atoms, err := s.atomRepo.ListEligible(ctx, nil, in.BatchID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	run := &types.ClassifyRun{
		ID:              uuid.New(),
		BatchID:         in.BatchID,
		Model:           in.Model,
		PromptVersionID: in.PromptVersionID,
		Mode:            in.Mode,
		Status:          types.ClassifyRunStatusRunning,
		TotalAtoms:      len(atoms),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if len(atoms) == 0 {
		run.Status = types.ClassifyRunStatusSucceeded
	}
	if _, err := s.runRepo.Create(ctx, nil, []*types.ClassifyRun{run}); err != nil {
		return nil, fmt.Errorf("create classify run: %w", err)
	}
	if len(atoms) == 0 {
		return run, nil
	}

	atomIDs := make([]uuid.UUID, len(atoms))
	for i, a := range atoms {
		atomIDs[i] = a.ID
	}
	existing, err := s.labelRepo.MapByAtomIDs(ctx, nil, atomIDs, in.Model, in.PromptVersionID)
	if err != nil {
		return nil, err
	}

	log := s.log.With("classify_run_id", run.ID, "batch_id", in.BatchID, "mode", in.Mode)

	var tokensIn, tokensOut int
	var costUSD float64
	sinceFlush := 0

	flush := func(final bool) error {
		updates := map[string]interface{}{
			"processed_atoms":         run.ProcessedAtoms,
			"labeled":                 run.Labeled,
			"newly_labeled":           run.NewlyLabeled,
			"skipped_already_labeled": run.SkippedAlreadyLabeled,
			"skipped_bad_output":      run.SkippedBadOutput,
			"aliased_count":           run.AliasedCount,
		}
		if in.Mode == types.ClassifyModeReal {
			updates["tokens_in"] = tokensIn
			updates["tokens_out"] = tokensOut
			updates["cost_usd"] = costUSD
		}
		if final {
			updates["status"] = run.Status
		}
		sinceFlush = 0
		return s.runRepo.UpdateFields(ctx, nil, run.ID, updates)
	}

	for _, atom := range atoms {
		if _, already := existing[atom.ID]; already {
			run.SkippedAlreadyLabeled++
			run.Labeled++
			run.ProcessedAtoms++
			sinceFlush++
			if sinceFlush >= classifyFlushEvery {
				if err := flush(false); err != nil {
					return nil, err
				}
			}
			continue
		}

		var category string
		var aliased bool
		if in.Mode == types.ClassifyModeStub {
			category = stubCategory(atom.ID, in.Categories)
		} else {
			res, callErr := s.classifier.Classify(ctx, atom.Text, in.Categories, in.PromptVersionID)
			if callErr != nil {
				// A raised collaborator error aborts the remaining batch.
				// Counters already persisted stay where they were; labels
				// written so far are not rolled back.
				collab := asClassifyCollabError(callErr)
				updates := map[string]interface{}{
					"status":        types.ClassifyRunStatusFailed,
					"error_code":    collab.Code,
					"error_message": collab.Message,
				}
				if in.Mode == types.ClassifyModeReal {
					updates["tokens_in"] = tokensIn + collab.TokensIn
					updates["tokens_out"] = tokensOut + collab.TokensOut
					updates["cost_usd"] = costUSD + collab.CostUSD
				}
				if uErr := s.runRepo.UpdateFields(ctx, nil, run.ID, updates); uErr != nil {
					return nil, uErr
				}
				log.Warn("Classify run aborted", "error_code", collab.Code)
				out, gErr := s.runRepo.GetByID(ctx, nil, run.ID)
				if gErr != nil {
					return nil, gErr
				}
				return out, nil
			}
			tokensIn += res.TokensIn
			tokensOut += res.TokensOut
			costUSD += res.CostUSD

			var ok bool
			category, aliased, ok = matchCategory(res.Category, in.Categories)
			if !ok {
				// Malformed output skips the atom without aborting the batch.
				run.SkippedBadOutput++
				run.ProcessedAtoms++
				sinceFlush++
				if sinceFlush >= classifyFlushEvery {
					if err := flush(false); err != nil {
						return nil, err
					}
				}
				continue
			}
			if aliased {
				run.AliasedCount++
			}
		}

		if _, err := s.labelRepo.Create(ctx, nil, []*types.AtomLabel{{
			ID:              uuid.New(),
			AtomID:          atom.ID,
			Model:           in.Model,
			PromptVersionID: in.PromptVersionID,
			Category:        category,
			Aliased:         aliased,
			CreatedAt:       time.Now(),
		}}); err != nil {
			return nil, fmt.Errorf("create atom label: %w", err)
		}
		run.NewlyLabeled++
		run.Labeled++
		run.ProcessedAtoms++
		sinceFlush++
		if sinceFlush >= classifyFlushEvery {
			if err := flush(false); err != nil {
				return nil, err
			}
		}
	}

	run.Status = types.ClassifyRunStatusSucceeded
	if err := flush(true); err != nil {
		return nil, err
	}
	log.Info("Classify run finished",
		"processed", run.ProcessedAtoms,
		"newly_labeled", run.NewlyLabeled,
		"skipped_already_labeled", run.SkippedAlreadyLabeled,
		"skipped_bad_output", run.SkippedBadOutput,
	)
	return s.runRepo.GetByID(ctx, nil, run.ID)
}

func (s *classifyService) Get(ctx context.Context, id uuid.UUID) (*types.ClassifyRun, error) {
	run, err := s.runRepo.GetByID(ctx, nil, id)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, apierr.New(http.StatusNotFound, "classify_run_not_found", fmt.Errorf("classify run %s does not exist", id))
	}
	return run, nil
}

func asClassifyCollabError(err error) *CollabError {
	var collab *CollabError
	if errors.As(err, &collab) {
		return collab
	}
	return &CollabError{Code: "classifier_error", Message: "classifier failed"}
}
