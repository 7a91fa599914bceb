package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/yungbote/daybrief-backend/internal/apierr"
	"github.com/yungbote/daybrief-backend/internal/bundle"
	"github.com/yungbote/daybrief-backend/internal/locks"
	"github.com/yungbote/daybrief-backend/internal/logger"
	"github.com/yungbote/daybrief-backend/internal/repos"
	"github.com/yungbote/daybrief-backend/internal/runstatus"
	"github.com/yungbote/daybrief-backend/internal/types"
)

type CreateRunInput struct {
	BatchID       *uuid.UUID
	BatchIDs      []uuid.UUID
	ModelID       string
	LabelSpec     types.LabelSpec
	FilterProfile types.FilterProfile
	TokenBudget   int
	Sources       []string
}

type RunDetail struct {
	Run       *types.SummaryRun `json:"run"`
	Config    types.RunConfig   `json:"config"`
	Jobs      []*types.DayJob   `json:"jobs"`
	Counts    runstatus.Counts  `json:"counts"`
	TokensIn  int               `json:"tokens_in"`
	TokensOut int               `json:"tokens_out"`
	CostUSD   float64           `json:"cost_usd"`
}

type RunService interface {
	Create(ctx context.Context, in CreateRunInput) (*RunDetail, error)
	Get(ctx context.Context, runID uuid.UUID) (*RunDetail, error)
	Preview(ctx context.Context, runID uuid.UUID, dayDate string) (*bundle.Bundle, error)
	Resume(ctx context.Context, runID uuid.UUID) (*RunDetail, error)
	Reset(ctx context.Context, runID uuid.UUID, dayDate string) (*RunDetail, error)
	Cancel(ctx context.Context, runID uuid.UUID) (*RunDetail, error)
}

type runService struct {
	db        *gorm.DB
	log       *logger.Logger
	lockMgr   locks.Manager
	runRepo   repos.SummaryRunRepo
	runBatch  repos.RunBatchRepo
	jobRepo   repos.DayJobRepo
	outRepo   repos.DayOutputRepo
	batchRepo repos.ImportBatchRepo
	atomRepo  repos.AtomRepo
	labelRepo repos.AtomLabelRepo
}

func NewRunService(
	db *gorm.DB,
	baseLog *logger.Logger,
	lockMgr locks.Manager,
	runRepo repos.SummaryRunRepo,
	runBatch repos.RunBatchRepo,
	jobRepo repos.DayJobRepo,
	outRepo repos.DayOutputRepo,
	batchRepo repos.ImportBatchRepo,
	atomRepo repos.AtomRepo,
	labelRepo repos.AtomLabelRepo,
) RunService {
	return &runService{
		db:        db,
		log:       baseLog.With("service", "RunService"),
		lockMgr:   lockMgr,
		runRepo:   runRepo,
		runBatch:  runBatch,
		jobRepo:   jobRepo,
		outRepo:   outRepo,
		batchRepo: batchRepo,
		atomRepo:  atomRepo,
		labelRepo: labelRepo,
	}
}

func (s *runService) resolveBatchIDs(in CreateRunInput) ([]uuid.UUID, error) {
	if in.BatchID != nil && len(in.BatchIDs) > 0 {
		return nil, apierr.New(http.StatusBadRequest, "batch_id_conflict", fmt.Errorf("batch_id and batch_ids are mutually exclusive"))
	}
	if in.BatchID != nil {
		return []uuid.UUID{*in.BatchID}, nil
	}
	if len(in.BatchIDs) == 0 {
		return nil, apierr.New(http.StatusBadRequest, "batch_ids_required", fmt.Errorf("either batch_id or a non-empty batch_ids is required"))
	}
	seen := make(map[uuid.UUID]struct{}, len(in.BatchIDs))
	for _, id := range in.BatchIDs {
		if _, dup := seen[id]; dup {
			return nil, apierr.New(http.StatusBadRequest, "batch_ids_duplicate", fmt.Errorf("batch id %s appears more than once", id))
		}
		seen[id] = struct{}{}
	}
	return in.BatchIDs, nil
}

func (s *runService) Create(ctx context.Context, in CreateRunInput) (*RunDetail, error) {
	batchIDs, err := s.resolveBatchIDs(in)
	if err != nil {
		return nil, err
	}
	if in.ModelID == "" {
		return nil, apierr.New(http.StatusBadRequest, "model_id_required", fmt.Errorf("model_id is required"))
	}
	if in.LabelSpec.Model == "" || in.LabelSpec.PromptVersionID == "" {
		return nil, apierr.New(http.StatusBadRequest, "label_spec_required", fmt.Errorf("label_spec model and prompt_version_id are required"))
	}
	switch in.FilterProfile.Mode {
	case types.FilterModeInclude, types.FilterModeExclude:
	default:
		return nil, apierr.New(http.StatusBadRequest, "filter_mode_invalid", fmt.Errorf("filter mode must be INCLUDE or EXCLUDE"))
	}

	batches, err := s.batchRepo.GetByIDs(ctx, nil, batchIDs)
	if err != nil {
		return nil, err
	}
	if len(batches) != len(batchIDs) {
		return nil, apierr.New(http.StatusNotFound, "batch_not_found", fmt.Errorf("one or more batches do not exist"))
	}

	// All contributing batches must share one timezone; a mixed-timezone run
	// would have ambiguous day boundaries.
	tz := batches[0].Timezone
	mismatched := false
	for _, b := range batches {
		if b.Timezone != tz {
			mismatched = true
			break
		}
	}
	if mismatched {
		parts := make([]string, 0, len(batches))
		for _, b := range batches {
			parts = append(parts, fmt.Sprintf("%s=%s", b.ID, b.Timezone))
		}
		return nil, apierr.New(http.StatusConflict, "timezone_mismatch",
			fmt.Errorf("batches have mixed timezones: %s", strings.Join(parts, ", ")))
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, apierr.New(http.StatusConflict, "timezone_invalid", fmt.Errorf("batch timezone %q is not a valid IANA name", tz))
	}

	// Canonical batch order: (created_at asc, id asc). The uuid tie-break is
	// purely a determinism device, not a semantic ordering.
	sort.SliceStable(batches, func(i, j int) bool {
		if !batches[i].CreatedAt.Equal(batches[j].CreatedAt) {
			return batches[i].CreatedAt.Before(batches[j].CreatedAt)
		}
		return batches[i].ID.String() < batches[j].ID.String()
	})
	canonical := make([]uuid.UUID, len(batches))
	for i, b := range batches {
		canonical[i] = b.ID
	}

	cfg := types.RunConfig{
		ModelID:       in.ModelID,
		LabelSpec:     in.LabelSpec,
		FilterProfile: in.FilterProfile,
		Timezone:      tz,
		TokenBudget:   in.TokenBudget,
		Sources:       in.Sources,
		BatchIDs:      canonical,
	}
	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("marshal run config: %w", err)
	}

	minTS, maxTS, found, err := s.atomRepo.TimeBounds(ctx, nil, canonical)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	run := &types.SummaryRun{
		ID:        uuid.New(),
		Status:    types.RunStatusQueued,
		Config:    datatypes.JSON(cfgJSON),
		CreatedAt: now,
		UpdatedAt: now,
	}

	var jobs []*types.DayJob
	if found {
		startDay := minTS.In(loc).Format(dayLayout)
		endDay := maxTS.In(loc).Format(dayLayout)
		run.StartDate = startDay
		run.EndDate = endDay
		cursor, _ := time.ParseInLocation(dayLayout, startDay, loc)
		last, _ := time.ParseInLocation(dayLayout, endDay, loc)
		for !cursor.After(last) {
			jobs = append(jobs, &types.DayJob{
				ID:        uuid.New(),
				RunID:     run.ID,
				DayDate:   cursor.Format(dayLayout),
				Status:    types.JobStatusQueued,
				Attempts:  1,
				CreatedAt: now,
				UpdatedAt: now,
			})
			cursor = cursor.AddDate(0, 0, 1)
		}
	}

	runBatches := make([]*types.RunBatch, len(canonical))
	for i, id := range canonical {
		runBatches[i] = &types.RunBatch{
			ID:        uuid.New(),
			RunID:     run.ID,
			BatchID:   id,
			CreatedAt: now,
		}
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.runRepo.Create(ctx, tx, []*types.SummaryRun{run}); err != nil {
			return err
		}
		if _, err := s.runBatch.Create(ctx, tx, runBatches); err != nil {
			return err
		}
		if _, err := s.jobRepo.Create(ctx, tx, jobs); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}
	s.log.Info("Run created", "run_id", run.ID, "batches", len(canonical), "days", len(jobs))
	return s.detail(ctx, nil, run)
}

func (s *runService) loadRun(ctx context.Context, tx *gorm.DB, runID uuid.UUID) (*types.SummaryRun, error) {
	run, err := s.runRepo.GetByID(ctx, tx, runID)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, apierr.New(http.StatusNotFound, "run_not_found", fmt.Errorf("run %s does not exist", runID))
	}
	return run, nil
}

func decodeRunConfig(run *types.SummaryRun) (types.RunConfig, error) {
	var cfg types.RunConfig
	if err := json.Unmarshal(run.Config, &cfg); err != nil {
		return cfg, fmt.Errorf("decode run config: %w", err)
	}
	return cfg, nil
}

func (s *runService) detail(ctx context.Context, tx *gorm.DB, run *types.SummaryRun) (*RunDetail, error) {
	cfg, err := decodeRunConfig(run)
	if err != nil {
		return nil, err
	}
	jobs, err := s.jobRepo.ListByRunID(ctx, tx, run.ID)
	if err != nil {
		return nil, err
	}
	d := &RunDetail{
		Run:    run,
		Config: cfg,
		Jobs:   jobs,
		Counts: runstatus.FromJobs(jobs),
	}
	// Partial spend from failed attempts stays in the totals.
	for _, j := range jobs {
		d.TokensIn += j.TokensIn
		d.TokensOut += j.TokensOut
		d.CostUSD += j.CostUSD
	}
	return d, nil
}

func (s *runService) Get(ctx context.Context, runID uuid.UUID) (*RunDetail, error) {
	run, err := s.loadRun(ctx, nil, runID)
	if err != nil {
		return nil, err
	}
	return s.detail(ctx, nil, run)
}

// Preview rebuilds a day's bundle read-only. Repeated calls mutate nothing.
func (s *runService) Preview(ctx context.Context, runID uuid.UUID, dayDate string) (*bundle.Bundle, error) {
	run, err := s.loadRun(ctx, nil, runID)
	if err != nil {
		return nil, err
	}
	job, err := s.jobRepo.GetByRunAndDay(ctx, nil, runID, dayDate)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, apierr.New(http.StatusNotFound, "job_not_found", fmt.Errorf("run %s has no job for day %s", runID, dayDate))
	}
	cfg, err := decodeRunConfig(run)
	if err != nil {
		return nil, err
	}
	b, err := assembleDayBundle(ctx, nil, cfg, dayDate, s.atomRepo, s.labelRepo)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// Resume requeues every FAILED job of a non-cancelled run, plus any job a
// crashed process left RUNNING. Attempts increment, error payloads clear,
// accumulated usage stays.
func (s *runService) Resume(ctx context.Context, runID uuid.UUID) (*RunDetail, error) {
	handle, ok, err := s.lockMgr.TryAcquire(ctx, locks.RunKey(runID))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apierr.New(http.StatusConflict, "run_busy", fmt.Errorf("a tick for run %s is in flight", runID))
	}
	defer handle.Release(ctx)

	var run *types.SummaryRun
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		run, err = s.loadRun(ctx, tx, runID)
		if err != nil {
			return err
		}
		if run.Status == types.RunStatusCancelled {
			return apierr.New(http.StatusConflict, "run_cancelled", fmt.Errorf("cannot resume a cancelled run"))
		}
		n, err := s.jobRepo.Requeue(ctx, tx, runID, []types.JobStatus{types.JobStatusFailed, types.JobStatusRunning})
		if err != nil {
			return err
		}
		s.log.Info("Run resumed", "run_id", runID, "requeued", n)
		_, status, err := recomputeRunStatus(ctx, tx, s.runRepo, s.jobRepo, runID)
		if err != nil {
			return err
		}
		run.Status = status
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.detail(ctx, nil, run)
}

// Reset requeues exactly one job. A cancelled run or a cancelled job is a
// precondition failure; a job already queued is a no-op.
func (s *runService) Reset(ctx context.Context, runID uuid.UUID, dayDate string) (*RunDetail, error) {
	handle, ok, err := s.lockMgr.TryAcquire(ctx, locks.RunKey(runID))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apierr.New(http.StatusConflict, "run_busy", fmt.Errorf("a tick for run %s is in flight", runID))
	}
	defer handle.Release(ctx)

	var run *types.SummaryRun
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		run, err = s.loadRun(ctx, tx, runID)
		if err != nil {
			return err
		}
		if run.Status == types.RunStatusCancelled {
			return apierr.New(http.StatusConflict, "run_cancelled", fmt.Errorf("cannot reset a job on a cancelled run"))
		}
		job, err := s.jobRepo.GetByRunAndDay(ctx, tx, runID, dayDate)
		if err != nil {
			return err
		}
		if job == nil {
			return apierr.New(http.StatusNotFound, "job_not_found", fmt.Errorf("run %s has no job for day %s", runID, dayDate))
		}
		switch job.Status {
		case types.JobStatusCancelled:
			return apierr.New(http.StatusConflict, "job_cancelled", fmt.Errorf("cannot reset a cancelled job"))
		case types.JobStatusQueued:
			return nil
		}
		if err := s.jobRepo.UpdateFields(ctx, tx, job.ID, map[string]interface{}{
			"status":        types.JobStatusQueued,
			"attempts":      gorm.Expr("attempts + 1"),
			"error_code":    "",
			"error_message": "",
		}); err != nil {
			return err
		}
		_, status, err := recomputeRunStatus(ctx, tx, s.runRepo, s.jobRepo, runID)
		if err != nil {
			return err
		}
		run.Status = status
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.detail(ctx, nil, run)
}

// Cancel marks the run and all its non-terminal jobs CANCELLED. The run
// status is written directly here: the aggregator never produces CANCELLED,
// and recomputation skips cancelled runs from then on.
func (s *runService) Cancel(ctx context.Context, runID uuid.UUID) (*RunDetail, error) {
	handle, ok, err := s.lockMgr.TryAcquire(ctx, locks.RunKey(runID))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apierr.New(http.StatusConflict, "run_busy", fmt.Errorf("a tick for run %s is in flight", runID))
	}
	defer handle.Release(ctx)

	var run *types.SummaryRun
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		run, err = s.loadRun(ctx, tx, runID)
		if err != nil {
			return err
		}
		switch run.Status {
		case types.RunStatusCancelled:
			return nil
		case types.RunStatusCompleted:
			return apierr.New(http.StatusConflict, "run_completed", fmt.Errorf("cannot cancel a completed run"))
		}
		if _, err := s.jobRepo.CancelActive(ctx, tx, runID); err != nil {
			return err
		}
		if err := s.runRepo.UpdateFields(ctx, tx, runID, map[string]interface{}{
			"status": types.RunStatusCancelled,
		}); err != nil {
			return err
		}
		run.Status = types.RunStatusCancelled
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.detail(ctx, nil, run)
}

// recomputeRunStatus re-derives the run's status from stored job counts and
// persists it. The status column is a cache of this derivation, never an
// independent source of truth. Cancelled runs keep their status.
func recomputeRunStatus(
	ctx context.Context,
	tx *gorm.DB,
	runRepo repos.SummaryRunRepo,
	jobRepo repos.DayJobRepo,
	runID uuid.UUID,
) (runstatus.Counts, types.RunStatus, error) {
	counts, err := jobRepo.CountsByStatus(ctx, tx, runID)
	if err != nil {
		return counts, "", err
	}
	status := runstatus.Aggregate(counts)
	run, err := runRepo.GetByID(ctx, tx, runID)
	if err != nil {
		return counts, "", err
	}
	if run != nil && run.Status == types.RunStatusCancelled {
		return counts, types.RunStatusCancelled, nil
	}
	if err := runRepo.UpdateFields(ctx, tx, runID, map[string]interface{}{
		"status": status,
	}); err != nil {
		return counts, "", err
	}
	return counts, status, nil
}
