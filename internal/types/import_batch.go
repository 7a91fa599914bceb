package types

import (
	"time"

	"github.com/google/uuid"
)

type ImportBatch struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Name      string    `gorm:"column:name;not null" json:"name"`
	Timezone  string    `gorm:"column:timezone;not null" json:"timezone"` // IANA name, e.g. "America/New_York"
	CreatedAt time.Time `gorm:"not null;index" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

func (ImportBatch) TableName() string { return "import_batch" }
