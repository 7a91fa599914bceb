package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/daybrief-backend/internal/apierr"
	"github.com/yungbote/daybrief-backend/internal/locks"
	"github.com/yungbote/daybrief-backend/internal/logger"
	"github.com/yungbote/daybrief-backend/internal/repos"
	"github.com/yungbote/daybrief-backend/internal/runstatus"
	"github.com/yungbote/daybrief-backend/internal/types"
)

// TickResult is the progress snapshot every tick returns. Busy means
// another tick held the run's lock: a normal no-op outcome, never an error.
type TickResult struct {
	Busy      bool             `json:"busy"`
	Processed int              `json:"processed"`
	RunStatus types.RunStatus  `json:"run_status"`
	Counts    runstatus.Counts `json:"counts"`
	Jobs      []*types.DayJob  `json:"jobs"`
}

type TickService interface {
	// Tick progresses the single next eligible day job of the run, if any.
	// All server-side progress is driven by these inbound calls; there are
	// no background workers.
	Tick(ctx context.Context, runID uuid.UUID) (*TickResult, error)
}

type tickService struct {
	db         *gorm.DB
	log        *logger.Logger
	lockMgr    locks.Manager
	summarizer Summarizer
	runRepo    repos.SummaryRunRepo
	jobRepo    repos.DayJobRepo
	outRepo    repos.DayOutputRepo
	atomRepo   repos.AtomRepo
	labelRepo  repos.AtomLabelRepo
}

func NewTickService(
	db *gorm.DB,
	baseLog *logger.Logger,
	lockMgr locks.Manager,
	summarizer Summarizer,
	runRepo repos.SummaryRunRepo,
	jobRepo repos.DayJobRepo,
	outRepo repos.DayOutputRepo,
	atomRepo repos.AtomRepo,
	labelRepo repos.AtomLabelRepo,
) TickService {
	return &tickService{
		db:         db,
		log:        baseLog.With("service", "TickService"),
		lockMgr:    lockMgr,
		summarizer: summarizer,
		runRepo:    runRepo,
		jobRepo:    jobRepo,
		outRepo:    outRepo,
		atomRepo:   atomRepo,
		labelRepo:  labelRepo,
	}
}

func (s *tickService) snapshot(ctx context.Context, runID uuid.UUID, busy bool, processed int) (*TickResult, error) {
	run, err := s.runRepo.GetByID(ctx, nil, runID)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, apierr.New(http.StatusNotFound, "run_not_found", fmt.Errorf("run %s does not exist", runID))
	}
	jobs, err := s.jobRepo.ListByRunID(ctx, nil, runID)
	if err != nil {
		return nil, err
	}
	return &TickResult{
		Busy:      busy,
		Processed: processed,
		RunStatus: run.Status,
		Counts:    runstatus.FromJobs(jobs),
		Jobs:      jobs,
	}, nil
}

func (s *tickService) Tick(ctx context.Context, runID uuid.UUID) (*TickResult, error) {
	handle, ok, err := s.lockMgr.TryAcquire(ctx, locks.RunKey(runID))
	if err != nil {
		return nil, err
	}
	if !ok {
		// Someone else is progressing this run; report current progress
		// unchanged.
		return s.snapshot(ctx, runID, true, 0)
	}
	defer handle.Release(ctx)

	// Claim phase: pick the next queued day and mark it RUNNING in its own
	// transaction, so the claim is visible while the model call runs. A
	// crash from here until the outcome commit leaves the job RUNNING,
	// recoverable via resume — never auto-resumed.
	var run *types.SummaryRun
	var job *types.DayJob
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		run, err = s.runRepo.GetByID(ctx, tx, runID)
		if err != nil {
			return err
		}
		if run == nil {
			return apierr.New(http.StatusNotFound, "run_not_found", fmt.Errorf("run %s does not exist", runID))
		}
		if run.Status.Terminal() {
			return nil
		}
		job, err = s.jobRepo.NextQueued(ctx, tx, runID)
		if err != nil {
			return err
		}
		if job == nil {
			return nil
		}
		return s.jobRepo.UpdateFields(ctx, tx, job.ID, map[string]interface{}{
			"status": types.JobStatusRunning,
		})
	})
	if err != nil {
		return nil, err
	}
	if job == nil {
		return s.snapshot(ctx, runID, false, 0)
	}

	cfg, err := decodeRunConfig(run)
	if err != nil {
		return nil, err
	}

	// The bundle is rebuilt from scratch on every tick rather than trusting
	// any cached hash, so upstream label or atom changes are picked up on
	// retry. Only a prior successful output is reusable, and only while its
	// recorded context hash equals the freshly computed one.
	b, err := assembleDayBundle(ctx, nil, cfg, job.DayDate, s.atomRepo, s.labelRepo)
	if err != nil {
		return nil, err
	}

	log := s.log.With("run_id", runID, "day_date", job.DayDate, "attempt", job.Attempts)

	if b.AtomCount == 0 {
		// An empty day is a valid, non-erroring outcome: succeed with no
		// output row.
		err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := s.outRepo.DeleteByJobAndStage(ctx, tx, job.ID, types.OutputStageSummary); err != nil {
				return err
			}
			if err := s.jobRepo.UpdateFields(ctx, tx, job.ID, map[string]interface{}{
				"status":        types.JobStatusSucceeded,
				"error_code":    "",
				"error_message": "",
			}); err != nil {
				return err
			}
			_, _, err := recomputeRunStatus(ctx, tx, s.runRepo, s.jobRepo, runID)
			return err
		})
		if err != nil {
			return nil, err
		}
		log.Info("Tick succeeded on empty day")
		return s.snapshot(ctx, runID, false, 1)
	}

	existing, err := s.outRepo.GetByJobAndStage(ctx, nil, job.ID, types.OutputStageSummary)
	if err != nil {
		return nil, err
	}
	if existing != nil && existing.ContextHash == b.ContextHash {
		// Idempotent skip: identical context, prior work stands.
		err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := s.jobRepo.UpdateFields(ctx, tx, job.ID, map[string]interface{}{
				"status":        types.JobStatusSucceeded,
				"error_code":    "",
				"error_message": "",
			}); err != nil {
				return err
			}
			_, _, err := recomputeRunStatus(ctx, tx, s.runRepo, s.jobRepo, runID)
			return err
		})
		if err != nil {
			return nil, err
		}
		log.Info("Tick reused prior output", "context_hash", b.ContextHash)
		return s.snapshot(ctx, runID, false, 1)
	}

	res, callErr := s.summarizer.Summarize(ctx, b.Text, SummaryContext{
		DayDate:      job.DayDate,
		ModelID:      cfg.ModelID,
		LabelSpecKey: cfg.LabelSpec.Key(),
		FilterKey:    cfg.FilterProfile.Key(),
		Timezone:     cfg.Timezone,
		TokenBudget:  cfg.TokenBudget,
	})

	// Outcome phase: the job's terminal state, its output, and the run
	// status recomputation commit atomically.
	if callErr != nil {
		collab := asCollabError(callErr)
		err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := s.jobRepo.UpdateFields(ctx, tx, job.ID, map[string]interface{}{
				"status":        types.JobStatusFailed,
				"error_code":    collab.Code,
				"error_message": collab.Message,
				"tokens_in":     gorm.Expr("tokens_in + ?", collab.TokensIn),
				"tokens_out":    gorm.Expr("tokens_out + ?", collab.TokensOut),
				"cost_usd":      gorm.Expr("cost_usd + ?", collab.CostUSD),
			}); err != nil {
				return err
			}
			_, _, err := recomputeRunStatus(ctx, tx, s.runRepo, s.jobRepo, runID)
			return err
		})
		if err != nil {
			return nil, err
		}
		log.Warn("Tick failed", "error_code", collab.Code)
		return s.snapshot(ctx, runID, false, 1)
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.outRepo.Upsert(ctx, tx, &types.DayOutput{
			ID:               uuid.New(),
			JobID:            job.ID,
			Stage:            types.OutputStageSummary,
			Text:             res.Text,
			ContentHash:      b.ContentHash,
			ContextHash:      b.ContextHash,
			ModelID:          cfg.ModelID,
			LabelSpecVersion: cfg.LabelSpec.PromptVersionID,
		}); err != nil {
			return err
		}
		if err := s.jobRepo.UpdateFields(ctx, tx, job.ID, map[string]interface{}{
			"status":        types.JobStatusSucceeded,
			"error_code":    "",
			"error_message": "",
			"tokens_in":     gorm.Expr("tokens_in + ?", res.TokensIn),
			"tokens_out":    gorm.Expr("tokens_out + ?", res.TokensOut),
			"cost_usd":      gorm.Expr("cost_usd + ?", res.CostUSD),
		}); err != nil {
			return err
		}
		_, _, err := recomputeRunStatus(ctx, tx, s.runRepo, s.jobRepo, runID)
		return err
	})
	if err != nil {
		return nil, err
	}
	log.Info("Tick succeeded", "atoms", b.AtomCount, "tokens_in", res.TokensIn, "tokens_out", res.TokensOut)
	return s.snapshot(ctx, runID, false, 1)
}

// asCollabError coerces any summarizer failure into the structured payload
// recorded on the job. Unknown errors get a generic code; their text is not
// persisted, since arbitrary error strings can quote prompt content.
func asCollabError(err error) *CollabError {
	var collab *CollabError
	if errors.As(err, &collab) {
		return collab
	}
	return &CollabError{Code: "summarizer_error", Message: "summarizer failed"}
}
