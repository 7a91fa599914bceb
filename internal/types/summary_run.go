package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type SummaryRun struct {
	ID        uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	Status    RunStatus      `gorm:"column:status;not null;index" json:"status"`
	Config    datatypes.JSON `gorm:"type:jsonb;column:config;not null" json:"config"` // frozen RunConfig snapshot
	StartDate string         `gorm:"column:start_date;not null" json:"start_date"`    // YYYY-MM-DD, inclusive
	EndDate   string         `gorm:"column:end_date;not null" json:"end_date"`        // YYYY-MM-DD, inclusive
	CreatedAt time.Time      `gorm:"not null;index" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null" json:"updated_at"`
}

func (SummaryRun) TableName() string { return "summary_run" }

type RunBatch struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	RunID     uuid.UUID `gorm:"type:uuid;not null;index" json:"run_id"`
	BatchID   uuid.UUID `gorm:"type:uuid;not null;index" json:"batch_id"`
	CreatedAt time.Time `gorm:"not null;index" json:"created_at"`
}

func (RunBatch) TableName() string { return "run_batch" }
