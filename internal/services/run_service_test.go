package services

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/daybrief-backend/internal/apierr"
	"github.com/yungbote/daybrief-backend/internal/types"
)

func defaultCreateInput(batchIDs ...uuid.UUID) CreateRunInput {
	return CreateRunInput{
		BatchIDs: batchIDs,
		ModelID:  "gpt-test",
		LabelSpec: types.LabelSpec{
			Model:           "labeler",
			PromptVersionID: "v1",
			Categories:      []string{"work", "personal"},
		},
		FilterProfile: types.FilterProfile{Mode: types.FilterModeExclude},
		TokenBudget:   4000,
	}
}

func wantAPIError(tb testing.TB, err error, status int, code string) {
	tb.Helper()
	var ae *apierr.Error
	if !errors.As(err, &ae) {
		tb.Fatalf("expected apierr, got %v", err)
	}
	if ae.Status != status || ae.Code != code {
		tb.Fatalf("got status=%d code=%s, want status=%d code=%s", ae.Status, ae.Code, status, code)
	}
}

func TestCreateRunValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	batch := seedBatch(t, env.db, "a", "UTC", time.Now())

	cases := []struct {
		name   string
		mutate func(*CreateRunInput)
		status int
		code   string
	}{
		{
			name: "batch id and batch ids conflict",
			mutate: func(in *CreateRunInput) {
				id := batch.ID
				in.BatchID = &id
			},
			status: http.StatusBadRequest,
			code:   "batch_id_conflict",
		},
		{
			name:   "no batches",
			mutate: func(in *CreateRunInput) { in.BatchIDs = nil },
			status: http.StatusBadRequest,
			code:   "batch_ids_required",
		},
		{
			name:   "duplicate batches",
			mutate: func(in *CreateRunInput) { in.BatchIDs = []uuid.UUID{batch.ID, batch.ID} },
			status: http.StatusBadRequest,
			code:   "batch_ids_duplicate",
		},
		{
			name:   "missing model",
			mutate: func(in *CreateRunInput) { in.ModelID = "" },
			status: http.StatusBadRequest,
			code:   "model_id_required",
		},
		{
			name:   "missing label spec",
			mutate: func(in *CreateRunInput) { in.LabelSpec.PromptVersionID = "" },
			status: http.StatusBadRequest,
			code:   "label_spec_required",
		},
		{
			name:   "bad filter mode",
			mutate: func(in *CreateRunInput) { in.FilterProfile.Mode = "SOMETIMES" },
			status: http.StatusBadRequest,
			code:   "filter_mode_invalid",
		},
		{
			name:   "unknown batch",
			mutate: func(in *CreateRunInput) { in.BatchIDs = []uuid.UUID{uuid.New()} },
			status: http.StatusNotFound,
			code:   "batch_not_found",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := defaultCreateInput(batch.ID)
			tc.mutate(&in)
			_, err := env.runs.Create(ctx, in)
			wantAPIError(t, err, tc.status, tc.code)
		})
	}
}

func TestCreateRunTimezoneMismatch(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := seedBatch(t, env.db, "a", "America/New_York", time.Now())
	b := seedBatch(t, env.db, "b", "Europe/Berlin", time.Now())

	_, err := env.runs.Create(ctx, defaultCreateInput(a.ID, b.ID))
	wantAPIError(t, err, http.StatusConflict, "timezone_mismatch")
}

func TestCreateRunCanonicalBatchOrder(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	base := utcTime(t, "2026-03-01T00:00:00Z")
	newer := seedBatch(t, env.db, "newer", "UTC", base.Add(2*time.Hour))
	older := seedBatch(t, env.db, "older", "UTC", base)
	seedAtom(t, env.db, older.ID, types.AtomRoleUser, "chat", "hi", utcTime(t, "2026-03-10T10:00:00Z"))

	// Request order is newest first; the frozen config must not keep it.
	detail, err := env.runs.Create(ctx, defaultCreateInput(newer.ID, older.ID))
	if err != nil {
		t.Fatalf("create run: %v", err)
	}
	got := detail.Config.BatchIDs
	if len(got) != 2 || got[0] != older.ID || got[1] != newer.ID {
		t.Fatalf("canonical order = %v, want [%s %s]", got, older.ID, newer.ID)
	}
}

func TestCreateRunSpansLocalDays(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	batch := seedBatch(t, env.db, "a", "UTC", time.Now())
	seedAtom(t, env.db, batch.ID, types.AtomRoleUser, "chat", "first", utcTime(t, "2026-03-10T08:00:00Z"))
	seedAtom(t, env.db, batch.ID, types.AtomRoleUser, "chat", "last", utcTime(t, "2026-03-12T21:00:00Z"))

	detail, err := env.runs.Create(ctx, defaultCreateInput(batch.ID))
	if err != nil {
		t.Fatalf("create run: %v", err)
	}
	if detail.Run.Status != types.RunStatusQueued {
		t.Fatalf("run status = %s, want QUEUED", detail.Run.Status)
	}
	if len(detail.Jobs) != 3 {
		t.Fatalf("expected 3 day jobs, got %d", len(detail.Jobs))
	}
	wantDays := []string{"2026-03-10", "2026-03-11", "2026-03-12"}
	for i, job := range detail.Jobs {
		if job.DayDate != wantDays[i] {
			t.Fatalf("job %d day = %s, want %s", i, job.DayDate, wantDays[i])
		}
		if job.Status != types.JobStatusQueued {
			t.Fatalf("job %s status = %s, want QUEUED", job.DayDate, job.Status)
		}
	}
}

func TestCreateRunNoAtomsNoJobs(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	batch := seedBatch(t, env.db, "empty", "UTC", time.Now())

	detail, err := env.runs.Create(ctx, defaultCreateInput(batch.ID))
	if err != nil {
		t.Fatalf("create run: %v", err)
	}
	if len(detail.Jobs) != 0 {
		t.Fatalf("expected no jobs, got %d", len(detail.Jobs))
	}
	if detail.Run.Status != types.RunStatusQueued {
		t.Fatalf("run status = %s, want QUEUED", detail.Run.Status)
	}
}

func TestPreviewIsReadOnly(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	batch := seedBatch(t, env.db, "a", "UTC", time.Now())
	seedAtom(t, env.db, batch.ID, types.AtomRoleUser, "chat", "hello there", utcTime(t, "2026-03-10T10:30:00Z"))

	detail, err := env.runs.Create(ctx, defaultCreateInput(batch.ID))
	if err != nil {
		t.Fatalf("create run: %v", err)
	}

	first, err := env.runs.Preview(ctx, detail.Run.ID, "2026-03-10")
	if err != nil {
		t.Fatalf("preview: %v", err)
	}
	if first.AtomCount != 1 {
		t.Fatalf("atom count = %d, want 1", first.AtomCount)
	}
	if first.Text != "[10:30] hello there" {
		t.Fatalf("bundle text = %q", first.Text)
	}
	second, err := env.runs.Preview(ctx, detail.Run.ID, "2026-03-10")
	if err != nil {
		t.Fatalf("second preview: %v", err)
	}
	if second.ContextHash != first.ContextHash || second.ContentHash != first.ContentHash {
		t.Fatal("preview is not stable across calls")
	}

	after, err := env.runs.Get(ctx, detail.Run.ID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if after.Jobs[0].Status != types.JobStatusQueued {
		t.Fatalf("preview mutated job status to %s", after.Jobs[0].Status)
	}

	_, err = env.runs.Preview(ctx, detail.Run.ID, "2026-04-01")
	wantAPIError(t, err, http.StatusNotFound, "job_not_found")
}

func TestResumeRequeuesFailedAndRunning(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	batch := seedBatch(t, env.db, "a", "UTC", time.Now())
	seedAtom(t, env.db, batch.ID, types.AtomRoleUser, "chat", "one", utcTime(t, "2026-03-10T10:00:00Z"))
	seedAtom(t, env.db, batch.ID, types.AtomRoleUser, "chat", "two", utcTime(t, "2026-03-11T10:00:00Z"))
	seedAtom(t, env.db, batch.ID, types.AtomRoleUser, "chat", "three", utcTime(t, "2026-03-12T10:00:00Z"))

	detail, err := env.runs.Create(ctx, defaultCreateInput(batch.ID))
	if err != nil {
		t.Fatalf("create run: %v", err)
	}

	// Day one succeeds, days two and three fail.
	env.summarizer.failures = map[string]*CollabError{
		"2026-03-11": {Code: "llm_http_500", Message: "upstream failure"},
		"2026-03-12": {Code: "llm_timeout", Message: "deadline exceeded"},
	}
	for i := 0; i < 3; i++ {
		if _, err := env.tick.Tick(ctx, detail.Run.ID); err != nil {
			t.Fatalf("tick %d: %v", i+1, err)
		}
	}
	before, err := env.runs.Get(ctx, detail.Run.ID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if before.Run.Status != types.RunStatusFailed {
		t.Fatalf("run status = %s, want FAILED", before.Run.Status)
	}

	env.summarizer.failures = nil
	resumed, err := env.runs.Resume(ctx, detail.Run.ID)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if resumed.Counts.Queued != 2 || resumed.Counts.Succeeded != 1 {
		t.Fatalf("counts after resume = %+v", resumed.Counts)
	}
	for _, job := range resumed.Jobs {
		if job.DayDate == "2026-03-10" {
			if job.Status != types.JobStatusSucceeded || job.Attempts != 1 {
				t.Fatalf("succeeded job touched: %+v", job)
			}
			continue
		}
		if job.Status != types.JobStatusQueued {
			t.Fatalf("job %s status = %s, want QUEUED", job.DayDate, job.Status)
		}
		if job.Attempts != 2 {
			t.Fatalf("job %s attempts = %d, want 2", job.DayDate, job.Attempts)
		}
		if job.ErrorCode != "" || job.ErrorMessage != "" {
			t.Fatalf("job %s error payload not cleared", job.DayDate)
		}
	}

	for i := 0; i < 2; i++ {
		if _, err := env.tick.Tick(ctx, detail.Run.ID); err != nil {
			t.Fatalf("post-resume tick %d: %v", i+1, err)
		}
	}
	final, err := env.runs.Get(ctx, detail.Run.ID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if final.Run.Status != types.RunStatusCompleted {
		t.Fatalf("run status = %s, want COMPLETED", final.Run.Status)
	}
}

func TestResetSingleJob(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	batch := seedBatch(t, env.db, "a", "UTC", time.Now())
	seedAtom(t, env.db, batch.ID, types.AtomRoleUser, "chat", "one", utcTime(t, "2026-03-10T10:00:00Z"))
	seedAtom(t, env.db, batch.ID, types.AtomRoleUser, "chat", "two", utcTime(t, "2026-03-11T10:00:00Z"))

	detail, err := env.runs.Create(ctx, defaultCreateInput(batch.ID))
	if err != nil {
		t.Fatalf("create run: %v", err)
	}
	for i := 0; i < 2; i++ {
		if _, err := env.tick.Tick(ctx, detail.Run.ID); err != nil {
			t.Fatalf("tick %d: %v", i+1, err)
		}
	}

	_, err = env.runs.Reset(ctx, detail.Run.ID, "2026-04-01")
	wantAPIError(t, err, http.StatusNotFound, "job_not_found")

	after, err := env.runs.Reset(ctx, detail.Run.ID, "2026-03-11")
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	if after.Counts.Queued != 1 || after.Counts.Succeeded != 1 {
		t.Fatalf("counts after reset = %+v", after.Counts)
	}
	if after.Run.Status != types.RunStatusRunning {
		t.Fatalf("run status = %s, want RUNNING", after.Run.Status)
	}

	// Resetting an already queued job changes nothing further.
	again, err := env.runs.Reset(ctx, detail.Run.ID, "2026-03-11")
	if err != nil {
		t.Fatalf("second reset: %v", err)
	}
	for _, job := range again.Jobs {
		if job.DayDate == "2026-03-11" && job.Attempts != 2 {
			t.Fatalf("queued job attempts = %d, want 2", job.Attempts)
		}
	}
}

func TestCancelRun(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	batch := seedBatch(t, env.db, "a", "UTC", time.Now())
	seedAtom(t, env.db, batch.ID, types.AtomRoleUser, "chat", "one", utcTime(t, "2026-03-10T10:00:00Z"))
	seedAtom(t, env.db, batch.ID, types.AtomRoleUser, "chat", "two", utcTime(t, "2026-03-11T10:00:00Z"))

	detail, err := env.runs.Create(ctx, defaultCreateInput(batch.ID))
	if err != nil {
		t.Fatalf("create run: %v", err)
	}
	if _, err := env.tick.Tick(ctx, detail.Run.ID); err != nil {
		t.Fatalf("tick: %v", err)
	}

	cancelled, err := env.runs.Cancel(ctx, detail.Run.ID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Run.Status != types.RunStatusCancelled {
		t.Fatalf("run status = %s, want CANCELLED", cancelled.Run.Status)
	}
	if cancelled.Counts.Cancelled != 1 || cancelled.Counts.Succeeded != 1 {
		t.Fatalf("counts after cancel = %+v", cancelled.Counts)
	}

	// Cancel again is a no-op; resume and reset refuse.
	if _, err := env.runs.Cancel(ctx, detail.Run.ID); err != nil {
		t.Fatalf("second cancel: %v", err)
	}
	_, err = env.runs.Resume(ctx, detail.Run.ID)
	wantAPIError(t, err, http.StatusConflict, "run_cancelled")
	_, err = env.runs.Reset(ctx, detail.Run.ID, "2026-03-11")
	wantAPIError(t, err, http.StatusConflict, "run_cancelled")

	// Cancelled status survives later recomputation paths.
	snap, err := env.tick.Tick(ctx, detail.Run.ID)
	if err != nil {
		t.Fatalf("tick after cancel: %v", err)
	}
	if snap.RunStatus != types.RunStatusCancelled {
		t.Fatalf("tick run status = %s, want CANCELLED", snap.RunStatus)
	}
	if snap.Processed != 0 {
		t.Fatalf("tick processed %d jobs on a cancelled run", snap.Processed)
	}
}

func TestCancelCompletedRunRefused(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	batch := seedBatch(t, env.db, "a", "UTC", time.Now())
	seedAtom(t, env.db, batch.ID, types.AtomRoleUser, "chat", "one", utcTime(t, "2026-03-10T10:00:00Z"))

	detail, err := env.runs.Create(ctx, defaultCreateInput(batch.ID))
	if err != nil {
		t.Fatalf("create run: %v", err)
	}
	if _, err := env.tick.Tick(ctx, detail.Run.ID); err != nil {
		t.Fatalf("tick: %v", err)
	}
	_, err = env.runs.Cancel(ctx, detail.Run.ID)
	wantAPIError(t, err, http.StatusConflict, "run_completed")
}
