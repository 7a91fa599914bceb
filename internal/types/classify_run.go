package types

import (
	"time"

	"github.com/google/uuid"
)

const (
	ClassifyModeStub = "stub"
	ClassifyModeReal = "real"
)

// ClassifyRun tracks one batch classification invocation. Progress counters
// are persisted incrementally so a concurrent status read reflects partial
// completion. Token/cost fields stay null until real-mode execution spends
// anything.
type ClassifyRun struct {
	ID                    uuid.UUID         `gorm:"type:uuid;primaryKey" json:"id"`
	BatchID               uuid.UUID         `gorm:"type:uuid;not null;index" json:"batch_id"`
	Model                 string            `gorm:"column:model;not null" json:"model"`
	PromptVersionID       string            `gorm:"column:prompt_version_id;not null" json:"prompt_version_id"`
	Mode                  string            `gorm:"column:mode;not null" json:"mode"` // stub | real
	Status                ClassifyRunStatus `gorm:"column:status;not null;index" json:"status"`
	ProcessedAtoms        int               `gorm:"column:processed_atoms;not null;default:0" json:"processed_atoms"`
	TotalAtoms            int               `gorm:"column:total_atoms;not null;default:0" json:"total_atoms"`
	Labeled               int               `gorm:"column:labeled;not null;default:0" json:"labeled"`
	NewlyLabeled          int               `gorm:"column:newly_labeled;not null;default:0" json:"newly_labeled"`
	SkippedAlreadyLabeled int               `gorm:"column:skipped_already_labeled;not null;default:0" json:"skipped_already_labeled"`
	SkippedBadOutput      int               `gorm:"column:skipped_bad_output;not null;default:0" json:"skipped_bad_output"`
	AliasedCount          int               `gorm:"column:aliased_count;not null;default:0" json:"aliased_count"`
	TokensIn              *int              `gorm:"column:tokens_in" json:"tokens_in,omitempty"`
	TokensOut             *int              `gorm:"column:tokens_out" json:"tokens_out,omitempty"`
	CostUSD               *float64          `gorm:"column:cost_usd" json:"cost_usd,omitempty"`
	ErrorCode             string            `gorm:"column:error_code" json:"error_code,omitempty"`
	ErrorMessage          string            `gorm:"column:error_message" json:"error_message,omitempty"`
	CreatedAt             time.Time         `gorm:"not null;index" json:"created_at"`
	UpdatedAt             time.Time         `gorm:"not null" json:"updated_at"`
}

func (ClassifyRun) TableName() string { return "classify_run" }
