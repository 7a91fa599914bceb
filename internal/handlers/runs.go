package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yungbote/daybrief-backend/internal/services"
	"github.com/yungbote/daybrief-backend/internal/types"
)

type RunsHandler struct {
	runs services.RunService
	tick services.TickService
}

func NewRunsHandler(runs services.RunService, tick services.TickService) *RunsHandler {
	return &RunsHandler{runs: runs, tick: tick}
}

type createRunRequest struct {
	BatchID       *uuid.UUID          `json:"batch_id,omitempty"`
	BatchIDs      []uuid.UUID         `json:"batch_ids,omitempty"`
	ModelID       string              `json:"model_id"`
	LabelSpec     types.LabelSpec     `json:"label_spec"`
	FilterProfile types.FilterProfile `json:"filter_profile"`
	TokenBudget   int                 `json:"token_budget"`
	Sources       []string            `json:"sources,omitempty"`
}

// POST /api/runs
func (h *RunsHandler) CreateRun(c *gin.Context) {
	var req createRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request_body", err)
		return
	}
	detail, err := h.runs.Create(c.Request.Context(), services.CreateRunInput{
		BatchID:       req.BatchID,
		BatchIDs:      req.BatchIDs,
		ModelID:       req.ModelID,
		LabelSpec:     req.LabelSpec,
		FilterProfile: req.FilterProfile,
		TokenBudget:   req.TokenBudget,
		Sources:       req.Sources,
	})
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, detail)
}

// GET /api/runs/:id
func (h *RunsHandler) GetRun(c *gin.Context) {
	runID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_run_id", err)
		return
	}
	detail, err := h.runs.Get(c.Request.Context(), runID)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, detail)
}

// POST /api/runs/:id/tick
func (h *RunsHandler) TickRun(c *gin.Context) {
	runID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_run_id", err)
		return
	}
	result, err := h.tick.Tick(c.Request.Context(), runID)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, result)
}

// GET /api/runs/:id/days/:date/preview
func (h *RunsHandler) PreviewDay(c *gin.Context) {
	runID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_run_id", err)
		return
	}
	b, err := h.runs.Preview(c.Request.Context(), runID, c.Param("date"))
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, b)
}

// POST /api/runs/:id/resume
func (h *RunsHandler) ResumeRun(c *gin.Context) {
	runID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_run_id", err)
		return
	}
	detail, err := h.runs.Resume(c.Request.Context(), runID)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, detail)
}

type resetRunRequest struct {
	DayDate string `json:"day_date"`
}

// POST /api/runs/:id/reset
func (h *RunsHandler) ResetJob(c *gin.Context) {
	runID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_run_id", err)
		return
	}
	var req resetRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request_body", err)
		return
	}
	if req.DayDate == "" {
		RespondError(c, http.StatusBadRequest, "day_date_required", nil)
		return
	}
	detail, err := h.runs.Reset(c.Request.Context(), runID, req.DayDate)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, detail)
}

// POST /api/runs/:id/cancel
func (h *RunsHandler) CancelRun(c *gin.Context) {
	runID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_run_id", err)
		return
	}
	detail, err := h.runs.Cancel(c.Request.Context(), runID)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, detail)
}
