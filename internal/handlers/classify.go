package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yungbote/daybrief-backend/internal/services"
	"github.com/yungbote/daybrief-backend/internal/types"
)

type ClassifyHandler struct {
	classify services.ClassifyService
}

func NewClassifyHandler(classify services.ClassifyService) *ClassifyHandler {
	return &ClassifyHandler{classify: classify}
}

type startClassifyRequest struct {
	BatchID         uuid.UUID `json:"batch_id"`
	Model           string    `json:"model"`
	PromptVersionID string    `json:"prompt_version_id"`
	Mode            string    `json:"mode"`
	Categories      []string  `json:"categories"`
}

type classifyProgress struct {
	ProcessedAtoms int `json:"processed_atoms"`
	TotalAtoms     int `json:"total_atoms"`
}

type classifyWarnings struct {
	SkippedBadOutput int `json:"skipped_bad_output"`
	AliasedCount     int `json:"aliased_count"`
}

type classifyUsage struct {
	TokensIn  *int     `json:"tokens_in"`
	TokensOut *int     `json:"tokens_out"`
	CostUSD   *float64 `json:"cost_usd"`
}

type classifyError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// classifyStatusResponse keeps progress and warnings as two disjoint
// top-level objects; they are never merged.
type classifyStatusResponse struct {
	ID                    uuid.UUID               `json:"id"`
	Status                types.ClassifyRunStatus `json:"status"`
	Mode                  string                  `json:"mode"`
	Labeled               int                     `json:"labeled"`
	NewlyLabeled          int                     `json:"newly_labeled"`
	SkippedAlreadyLabeled int                     `json:"skipped_already_labeled"`
	Progress              classifyProgress        `json:"progress"`
	Warnings              classifyWarnings        `json:"warnings"`
	Usage                 classifyUsage           `json:"usage"`
	Error                 *classifyError          `json:"error,omitempty"`
}

func toClassifyStatus(run *types.ClassifyRun) classifyStatusResponse {
	resp := classifyStatusResponse{
		ID:                    run.ID,
		Status:                run.Status,
		Mode:                  run.Mode,
		Labeled:               run.Labeled,
		NewlyLabeled:          run.NewlyLabeled,
		SkippedAlreadyLabeled: run.SkippedAlreadyLabeled,
		Progress: classifyProgress{
			ProcessedAtoms: run.ProcessedAtoms,
			TotalAtoms:     run.TotalAtoms,
		},
		Warnings: classifyWarnings{
			SkippedBadOutput: run.SkippedBadOutput,
			AliasedCount:     run.AliasedCount,
		},
		Usage: classifyUsage{
			TokensIn:  run.TokensIn,
			TokensOut: run.TokensOut,
			CostUSD:   run.CostUSD,
		},
	}
	if run.ErrorCode != "" {
		resp.Error = &classifyError{Code: run.ErrorCode, Message: run.ErrorMessage}
	}
	return resp
}

// POST /api/classify
func (h *ClassifyHandler) StartClassify(c *gin.Context) {
	var req startClassifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request_body", err)
		return
	}
	if req.BatchID == uuid.Nil {
		RespondError(c, http.StatusBadRequest, "batch_id_required", nil)
		return
	}
	run, err := h.classify.Start(c.Request.Context(), services.StartClassifyInput{
		BatchID:         req.BatchID,
		Model:           req.Model,
		PromptVersionID: req.PromptVersionID,
		Mode:            req.Mode,
		Categories:      req.Categories,
	})
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, toClassifyStatus(run))
}

// GET /api/classify/:id
func (h *ClassifyHandler) GetClassify(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_classify_run_id", err)
		return
	}
	run, err := h.classify.Get(c.Request.Context(), id)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, toClassifyStatus(run))
}
