package types

import (
	"time"

	"github.com/google/uuid"
)

// DayJob is one calendar day's unit of work within a summary run. One row
// per day in the run's date range, created together with the run. Usage
// fields accumulate across attempts; a requeue never zeroes them, so the
// spend ledger stays accurate through retries.
type DayJob struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	RunID        uuid.UUID `gorm:"type:uuid;not null;index:idx_day_job_run_day" json:"run_id"`
	DayDate      string    `gorm:"column:day_date;not null;index:idx_day_job_run_day" json:"day_date"` // YYYY-MM-DD
	Status       JobStatus `gorm:"column:status;not null;index" json:"status"`
	Attempts     int       `gorm:"column:attempts;not null;default:1" json:"attempts"`
	TokensIn     int       `gorm:"column:tokens_in;not null;default:0" json:"tokens_in"`
	TokensOut    int       `gorm:"column:tokens_out;not null;default:0" json:"tokens_out"`
	CostUSD      float64   `gorm:"column:cost_usd;not null;default:0" json:"cost_usd"`
	ErrorCode    string    `gorm:"column:error_code" json:"error_code,omitempty"`
	ErrorMessage string    `gorm:"column:error_message" json:"error_message,omitempty"`
	CreatedAt    time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt    time.Time `gorm:"not null" json:"updated_at"`
}

func (DayJob) TableName() string { return "day_job" }

const OutputStageSummary = "summary"

// DayOutput is the persisted product of a successful tick for one job and
// stage. The recorded context hash is what a later tick compares against a
// freshly built bundle to decide whether prior work is reusable.
type DayOutput struct {
	ID               uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	JobID            uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_day_output_job_stage" json:"job_id"`
	Stage            string    `gorm:"column:stage;not null;uniqueIndex:idx_day_output_job_stage" json:"stage"`
	Text             string    `gorm:"column:text;not null" json:"text"`
	ContentHash      string    `gorm:"column:content_hash;not null" json:"content_hash"`
	ContextHash      string    `gorm:"column:context_hash;not null;index" json:"context_hash"`
	ModelID          string    `gorm:"column:model_id;not null" json:"model_id"`
	LabelSpecVersion string    `gorm:"column:label_spec_version;not null" json:"label_spec_version"`
	CreatedAt        time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt        time.Time `gorm:"not null" json:"updated_at"`
}

func (DayOutput) TableName() string { return "day_output" }
